// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope. Consumers reject
// envelopes from a newer schema instead of misreading them.
const SchemaVersion = 1

// Envelope is the unit of exchange on the bus. Payload holds one of
// the typed payload structs below; over a networked transport it is
// encoded as JSON and decoded through the topic registry.
type Envelope struct {
	Topic          Topic       `json:"topic"`
	SchemaVersion  int         `json:"schema_version"`
	CallID         string      `json:"call_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	CorrelationID  string      `json:"correlation_id"`
	CreatedAt      time.Time   `json:"created_at"`
	Payload        interface{} `json:"payload"`
}

// NewEnvelope stamps schema version, creation time and, when absent, a
// fresh correlation ID.
func NewEnvelope(topic Topic, callID string, payload interface{}) Envelope {
	return Envelope{
		Topic:         topic,
		SchemaVersion: SchemaVersion,
		CallID:        callID,
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Payload:       payload,
	}
}

// WithConversation returns a copy carrying the conversation ID.
func (e Envelope) WithConversation(conversationID string) Envelope {
	e.ConversationID = conversationID
	return e
}

// WithCorrelation returns a copy carrying an explicit correlation ID,
// used when a response must reference the request that caused it.
func (e Envelope) WithCorrelation(correlationID string) Envelope {
	e.CorrelationID = correlationID
	return e
}

// ===== Payloads =====

// Message is one conversation turn handed to the LLM.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type STTRequest struct {
	Audio      []byte  `json:"audio"` // s16le PCM
	SampleRate int     `json:"sample_rate"`
	DurationMs int     `json:"duration_ms"`
	Confidence float64 `json:"confidence"` // VAD confidence of the utterance
	Forced     bool    `json:"forced"`     // assembled by overflow, not silence
	Language   string  `json:"language,omitempty"`
}

type STTResult struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
	LatencyMs  int64   `json:"latency_ms"`
}

type LLMRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type LLMResponse struct {
	Text      string `json:"text"`
	Model     string `json:"model"`
	Partial   bool   `json:"partial"`
	LatencyMs int64  `json:"latency_ms"`
}

type LLMError struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// Cancel aborts in-flight work for a call; when CorrelationID on the
// envelope is set only that request is cancelled.
type Cancel struct {
	Reason string `json:"reason"`
}

type TTSRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Encoding   string `json:"encoding,omitempty"`    // target artifact encoding
	SampleRate int    `json:"sample_rate,omitempty"` // target artifact rate; zero keeps the backend's native rate
}

// Artifact describes synthesized audio persisted by the TTS worker.
// Handle is a filesystem path (or object key) resolvable by the
// voice service; the audio itself never crosses the bus.
type Artifact struct {
	ArtifactID string    `json:"artifact_id"`
	Handle     string    `json:"handle"`
	DurationMs int       `json:"duration_ms"`
	ByteLength int       `json:"byte_length"`
	SampleRate int       `json:"sample_rate"`
	Encoding   string    `json:"encoding"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	CallID     string    `json:"call_id"`
}

type TTSReady struct {
	Artifact  Artifact `json:"artifact"`
	LatencyMs int64    `json:"latency_ms"`
}

type TTSFailed struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

type BargeIn struct {
	Confidence float64 `json:"confidence"`
	SpeechMs   int     `json:"speech_ms"` // debounced speech run length
}

type PlayAudio struct {
	ArtifactID string `json:"artifact_id"`
	Handle     string `json:"handle"`
}

type StopAudio struct {
	Reason string `json:"reason"`
}

type EndConversation struct {
	Reason string `json:"reason"`
}

// GenerateResponse asks the orchestrator to produce a model response
// without user audio, e.g. the opening greeting.
type GenerateResponse struct {
	Hint string `json:"hint,omitempty"`
}

// UpdateInstructions patches the mutable per-call instructions. Zero
// fields keep their current values; metadata entries are merged.
type UpdateInstructions struct {
	SystemPrompt       string            `json:"system_prompt,omitempty"`
	Language           string            `json:"language,omitempty"`
	Voice              string            `json:"voice,omitempty"`
	MaxDurationSec     int               `json:"max_duration_sec,omitempty"`
	SilenceTimeoutSec  int               `json:"silence_timeout_sec,omitempty"`
	ResponseTimeoutSec int               `json:"response_timeout_sec,omitempty"`
	TransferTarget     string            `json:"transfer_target,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type Health struct {
	Status       string  `json:"status"` // ok | degraded | down
	UptimeSec    int64   `json:"uptime_sec"`
	QueueDepth   int     `json:"queue_depth"`
	ErrorRate    float64 `json:"error_rate"`
	LatencyP50Ms int64   `json:"latency_p50_ms"`
	LatencyP95Ms int64   `json:"latency_p95_ms"`
}

// ===== Wire codec =====

// payloadFactories maps topics to fresh payload values for decoding
// networked envelopes back into their typed form.
var payloadFactories = map[Topic]func() interface{}{
	TopicSTTRequest:         func() interface{} { return &STTRequest{} },
	TopicSTTPartial:         func() interface{} { return &STTResult{} },
	TopicSTTResult:          func() interface{} { return &STTResult{} },
	TopicLLMRequest:         func() interface{} { return &LLMRequest{} },
	TopicLLMPartial:         func() interface{} { return &LLMResponse{} },
	TopicLLMResponse:        func() interface{} { return &LLMResponse{} },
	TopicLLMError:           func() interface{} { return &LLMError{} },
	TopicLLMCancel:          func() interface{} { return &Cancel{} },
	TopicTTSRequest:         func() interface{} { return &TTSRequest{} },
	TopicTTSReady:           func() interface{} { return &TTSReady{} },
	TopicTTSFailed:          func() interface{} { return &TTSFailed{} },
	TopicTTSCancel:          func() interface{} { return &Cancel{} },
	TopicBargeIn:            func() interface{} { return &BargeIn{} },
	TopicPlayAudio:          func() interface{} { return &PlayAudio{} },
	TopicStopAudio:          func() interface{} { return &StopAudio{} },
	TopicEndConversation:    func() interface{} { return &EndConversation{} },
	TopicGenerateResponse:   func() interface{} { return &GenerateResponse{} },
	TopicUpdateInstructions: func() interface{} { return &UpdateInstructions{} },
	TopicHealthSTT:          func() interface{} { return &Health{} },
	TopicHealthLLM:          func() interface{} { return &Health{} },
	TopicHealthTTS:          func() interface{} { return &Health{} },
	TopicHealthController:   func() interface{} { return &Health{} },
}

type wireEnvelope struct {
	Topic          Topic           `json:"topic"`
	SchemaVersion  int             `json:"schema_version"`
	CallID         string          `json:"call_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Payload        json.RawMessage `json:"payload"`
}

// MarshalWire serializes an envelope for a networked transport.
func MarshalWire(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalWire decodes a networked envelope, resolving the payload
// type from the topic registry. Envelopes with an unknown topic or a
// newer schema are rejected.
func UnmarshalWire(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("bus: decode envelope: %w", err)
	}
	if w.SchemaVersion > SchemaVersion {
		return Envelope{}, fmt.Errorf("bus: envelope schema %d newer than supported %d", w.SchemaVersion, SchemaVersion)
	}
	factory, ok := payloadFactories[w.Topic]
	if !ok {
		return Envelope{}, fmt.Errorf("bus: unknown topic %q", w.Topic)
	}
	payload := factory()
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, payload); err != nil {
			return Envelope{}, fmt.Errorf("bus: decode %s payload: %w", w.Topic, err)
		}
	}
	return Envelope{
		Topic:          w.Topic,
		SchemaVersion:  w.SchemaVersion,
		CallID:         w.CallID,
		ConversationID: w.ConversationID,
		CorrelationID:  w.CorrelationID,
		CreatedAt:      w.CreatedAt,
		Payload:        payload,
	}, nil
}
