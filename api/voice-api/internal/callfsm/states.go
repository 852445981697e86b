// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_callfsm

// State is the canonical call state.
type State string

const (
	StateRinging      State = "RINGING"
	StateConnected    State = "CONNECTED"
	StateListening    State = "LISTENING"
	StateProcessing   State = "PROCESSING"
	StateSpeaking     State = "SPEAKING"
	StateBargingIn    State = "BARGING_IN"
	StateTransferring State = "TRANSFERRING"
	StateEnded        State = "ENDED"
	StateTimeout      State = "TIMEOUT"
	StateError        State = "ERROR"
)

// Terminal reports whether the state ends the call.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateTimeout, StateError:
		return true
	}
	return false
}

// EventType triggers transitions.
type EventType string

const (
	EventAnswered         EventType = "answered"           // switch answer
	EventMediaBound       EventType = "media_bound"        // first media bound
	EventUtterance        EventType = "utterance"          // pipeline emitted an utterance
	EventTTSReady         EventType = "tts_ready"          // artifact received
	EventBargeIn          EventType = "barge_in"           // debounced speech while speaking
	EventPlaybackComplete EventType = "playback_complete"  // switch finished playing
	EventCancelComplete   EventType = "cancel_complete"    // in-flight work cancelled
	EventTurnAborted      EventType = "turn_aborted"       // empty LLM response or cancellation
	EventTransfer         EventType = "transfer"           // agent-initiated transfer
	EventTransferComplete EventType = "transfer_complete"  // switch confirmed the redirect
	EventHangup           EventType = "hangup"             // user or agent hangup
	EventTimeout          EventType = "timeout"            // silence or max-duration
	EventError            EventType = "error"              // fatal component failure

	// Internal timer events.
	eventMaxDurationTimer EventType = "max_duration_timer"
	eventSilenceTimer     EventType = "silence_timer"
	eventResponseTimer    EventType = "response_timer"
)

// transitions is the authoritative table. Hangup, timeout, error and
// transfer apply from any non-terminal state and are handled apart.
var transitions = map[State]map[EventType]State{
	StateRinging: {
		EventAnswered: StateConnected,
	},
	StateConnected: {
		EventMediaBound: StateListening,
	},
	StateListening: {
		EventUtterance: StateProcessing,
	},
	StateProcessing: {
		EventTTSReady:    StateSpeaking,
		EventTurnAborted: StateListening,
	},
	StateSpeaking: {
		EventBargeIn:          StateBargingIn,
		EventPlaybackComplete: StateListening,
	},
	StateBargingIn: {
		EventCancelComplete: StateListening,
	},
	StateTransferring: {
		EventTransferComplete: StateEnded,
	},
}

// target resolves an event against the current state; ok is false for
// invalid transitions.
func target(from State, ev EventType) (State, bool) {
	if from.Terminal() {
		return from, false
	}
	switch ev {
	case EventHangup:
		return StateEnded, true
	case EventTimeout, eventMaxDurationTimer, eventSilenceTimer:
		return StateTimeout, true
	case EventError:
		return StateError, true
	case EventTransfer:
		return StateTransferring, true
	}
	if m, ok := transitions[from]; ok {
		if to, ok := m[ev]; ok {
			return to, true
		}
	}
	return from, false
}
