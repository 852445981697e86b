// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package bus

// Topic names a message stream on the bus. Topic strings are part of
// the wire contract with the workers; renaming one is a breaking
// change.
type Topic string

const (
	TopicSTTRequest Topic = "stt.request"
	TopicSTTPartial Topic = "stt.partial"
	TopicSTTResult  Topic = "stt.result"

	TopicLLMRequest  Topic = "llm.request"
	TopicLLMPartial  Topic = "llm.response.partial"
	TopicLLMResponse Topic = "llm.response"
	TopicLLMError    Topic = "llm.error"
	TopicLLMCancel   Topic = "llm.cancel"

	TopicTTSRequest Topic = "tts.request"
	TopicTTSReady   Topic = "tts.ready"
	TopicTTSFailed  Topic = "tts.failed"
	TopicTTSCancel  Topic = "tts.cancel"

	TopicBargeIn Topic = "call.barge_in"

	TopicPlayAudio          Topic = "call.control.play_audio"
	TopicStopAudio          Topic = "call.control.stop_audio"
	TopicEndConversation    Topic = "call.control.end_conversation"
	TopicGenerateResponse   Topic = "call.control.generate_response"
	TopicUpdateInstructions Topic = "call.control.update_instructions"

	TopicHealthSTT        Topic = "health.stt"
	TopicHealthLLM        Topic = "health.llm"
	TopicHealthTTS        Topic = "health.tts"
	TopicHealthController Topic = "health.controller"
)

// Priority reports whether delivery of this topic may block the
// publisher instead of dropping when a subscriber inbox is full.
// Control-plane and barge-in messages must not be lost; telemetry and
// partials may be shed under load.
func (t Topic) Priority() bool {
	switch t {
	case TopicBargeIn,
		TopicPlayAudio,
		TopicStopAudio,
		TopicEndConversation,
		TopicGenerateResponse,
		TopicUpdateInstructions,
		TopicLLMCancel,
		TopicTTSCancel:
		return true
	}
	return false
}
