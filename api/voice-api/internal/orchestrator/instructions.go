// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_orchestrator

import (
	"time"

	"github.com/voxbridgeai/pkg/bus"

	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
)

// Instructions is the per-call configuration bound when a call starts.
// Zero fields inherit the node defaults, so an empty object is a valid
// call with stock behavior. The object is immutable for the call
// lifetime except through an update_instructions control event, which
// patches the mutable subset: prompt, language, voice, the three
// timers, transfer target and metadata. Recording and transcription
// bind at call start.
type Instructions struct {
	SystemPrompt       string            `json:"system_prompt,omitempty"`
	Language           string            `json:"language,omitempty"`
	Voice              string            `json:"voice,omitempty"`
	MaxDurationSec     int               `json:"max_duration_sec,omitempty"`
	SilenceTimeoutSec  int               `json:"silence_timeout_sec,omitempty"`
	ResponseTimeoutSec int               `json:"response_timeout_sec,omitempty"`
	Recording          *bool             `json:"recording,omitempty"`
	Transcription      *bool             `json:"transcription,omitempty"`
	TransferTarget     string            `json:"transfer_target,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// RecordingEnabled resolves the optional flag against the node default.
func (i Instructions) RecordingEnabled(nodeDefault bool) bool {
	if i.Recording == nil {
		return nodeDefault
	}
	return *i.Recording
}

// TranscriptionEnabled reports whether the transcript may be persisted
// beyond the call. Transcripts persist unless explicitly disabled.
func (i Instructions) TranscriptionEnabled() bool {
	return i.Transcription == nil || *i.Transcription
}

// Timeouts overlays the instruction timers onto base.
func (i Instructions) Timeouts(base internal_callfsm.Config) internal_callfsm.Config {
	if i.MaxDurationSec > 0 {
		base.MaxDuration = time.Duration(i.MaxDurationSec) * time.Second
	}
	if i.SilenceTimeoutSec > 0 {
		base.SilenceTimeout = time.Duration(i.SilenceTimeoutSec) * time.Second
	}
	if i.ResponseTimeoutSec > 0 {
		base.ResponseTimeout = time.Duration(i.ResponseTimeoutSec) * time.Second
	}
	return base
}

// merge overlays the patch's set fields and returns the result; the
// receiver is unchanged. Metadata merges key-wise rather than being
// replaced, so updates can annotate a call without clobbering earlier
// annotations.
func (i Instructions) merge(p bus.UpdateInstructions) Instructions {
	if p.SystemPrompt != "" {
		i.SystemPrompt = p.SystemPrompt
	}
	if p.Language != "" {
		i.Language = p.Language
	}
	if p.Voice != "" {
		i.Voice = p.Voice
	}
	if p.MaxDurationSec > 0 {
		i.MaxDurationSec = p.MaxDurationSec
	}
	if p.SilenceTimeoutSec > 0 {
		i.SilenceTimeoutSec = p.SilenceTimeoutSec
	}
	if p.ResponseTimeoutSec > 0 {
		i.ResponseTimeoutSec = p.ResponseTimeoutSec
	}
	if p.TransferTarget != "" {
		i.TransferTarget = p.TransferTarget
	}
	if len(p.Metadata) > 0 {
		merged := make(map[string]string, len(i.Metadata)+len(p.Metadata))
		for k, v := range i.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		i.Metadata = merged
	}
	return i
}

// clone deep-copies the metadata map so callers cannot mutate session
// state through the returned value.
func (i Instructions) clone() Instructions {
	if len(i.Metadata) > 0 {
		m := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			m[k] = v
		}
		i.Metadata = m
	}
	return i
}
