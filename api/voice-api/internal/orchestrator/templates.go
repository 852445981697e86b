// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_orchestrator

// Fallback template identifiers. Played when a model stage cannot
// produce a response in time.
const (
	TemplateGreeting     = "GREETING"
	TemplateErrorGeneric = "ERROR_GENERIC"
	TemplateErrorSTT     = "ERROR_STT"
	TemplateGoodbye      = "GOODBYE"
)

var defaultTemplates = map[string]string{
	TemplateGreeting:     "Hello, thanks for calling. How can I help you today?",
	TemplateErrorGeneric: "Sorry, I'm having a little trouble right now. Could you say that again?",
	TemplateErrorSTT:     "Sorry, I didn't catch that. Could you repeat it?",
	TemplateGoodbye:      "Thanks for calling. Goodbye.",
}

// template resolves an identifier against overrides, falling back to
// the built-in texts. An override set to the empty string disables the
// prompt.
func (s *CallSession) template(id string) string {
	if s.cfg.Templates != nil {
		if text, ok := s.cfg.Templates[id]; ok {
			return text
		}
	}
	return defaultTemplates[id]
}
