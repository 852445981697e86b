// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_pipeline "github.com/voxbridgeai/api/voice-api/internal/audio/pipeline"
	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
	internal_switchctl "github.com/voxbridgeai/api/voice-api/internal/switchctl"
	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

// charCounter keeps token budgets deterministic in tests.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

type fakeSwitch struct {
	mu        sync.Mutex
	played    []string
	said      []string
	stopped   []string
	hangups   []string
	playbacks int
}

func (f *fakeSwitch) PlayArtifact(ctx context.Context, channelID, handle string) (*internal_switchctl.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, handle)
	f.playbacks++
	return &internal_switchctl.Playback{ID: "pb-test"}, nil
}

func (f *fakeSwitch) SayLetters(ctx context.Context, channelID, text string) (*internal_switchctl.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, text)
	return &internal_switchctl.Playback{ID: "pb-say"}, nil
}

func (f *fakeSwitch) StopPlayback(ctx context.Context, playbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, playbackID)
	return nil
}

func (f *fakeSwitch) Hangup(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, channelID)
	return nil
}

func (f *fakeSwitch) stoppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

type fakeMedia struct {
	mu      sync.Mutex
	pcm     []byte
	cleared int
}

func (f *fakeMedia) EnqueuePCM(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcm = append(f.pcm, pcm...)
}

func (f *fakeMedia) ClearPlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.pcm = nil
}

type fixture struct {
	bus     *bus.Bus
	session *CallSession
	machine *internal_callfsm.Machine
	swtch   *fakeSwitch
	media   *fakeMedia
	ended   chan string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := commons.NewNopLogger()
	b := bus.New(bus.NewInprocTransport(), logger)
	t.Cleanup(func() { b.Close() })

	machine := internal_callfsm.New("call-t1", internal_callfsm.Config{}, logger)
	swtch := &fakeSwitch{}
	media := &fakeMedia{}
	ended := make(chan string, 1)

	session := NewCallSession(SessionParams{
		CallID:      "call-t1",
		ChannelUUID: "chan-t1",
		Config:      cfg,
		Bus:         b,
		Machine:     machine,
		Media:       media,
		Switch:      swtch,
		Counter:     charCounter{},
		OnEnd:       func(reason string) { ended <- reason },
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, session.Start(ctx))
	go machine.Run(ctx)

	return &fixture{bus: b, session: session, machine: machine, swtch: swtch, media: media, ended: ended}
}

func (f *fixture) waitState(t *testing.T, want internal_callfsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.machine.State() == want },
		2*time.Second, 5*time.Millisecond, "expected %s, at %s", want, f.machine.State())
}

func (f *fixture) toListening(t *testing.T) {
	t.Helper()
	f.machine.Dispatch(internal_callfsm.EventAnswered)
	f.machine.Dispatch(internal_callfsm.EventMediaBound)
	f.waitState(t, internal_callfsm.StateListening)
}

// echoWorker wires canned worker behavior onto the bus.
func echoWorker(t *testing.T, b *bus.Bus, transcript, response, artifactPath string) {
	t.Helper()
	ctx := context.Background()

	unsub, err := b.Subscribe(bus.TopicSTTRequest, "stt-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicSTTResult, env.CallID, &bus.STTResult{
			Transcript: transcript,
			Confidence: 0.9,
			Final:      true,
		}).WithCorrelation(env.CorrelationID)
		require.NoError(t, b.Publish(ctx, reply))
	})
	require.NoError(t, err)
	t.Cleanup(unsub)

	unsub, err = b.Subscribe(bus.TopicLLMRequest, "llm-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicLLMResponse, env.CallID, &bus.LLMResponse{
			Text:  response,
			Model: "test-model",
		}).WithCorrelation(env.CorrelationID)
		require.NoError(t, b.Publish(ctx, reply))
	})
	require.NoError(t, err)
	t.Cleanup(unsub)

	unsub, err = b.Subscribe(bus.TopicTTSRequest, "tts-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicTTSReady, env.CallID, &bus.TTSReady{
			Artifact: bus.Artifact{
				ArtifactID: "art-1",
				Handle:     artifactPath,
				DurationMs: 40, // 640 bytes of s16le at 8 kHz
				SampleRate: 8000,
				Encoding:   "s16le",
				CallID:     env.CallID,
			},
		}).WithCorrelation(env.CorrelationID)
		require.NoError(t, b.Publish(ctx, reply))
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "art-1.s16le")
	require.NoError(t, os.WriteFile(path, make([]byte, 640), 0o644))
	return path
}

func testUtterance() internal_type.Utterance {
	return internal_type.Utterance{
		CallID:     "call-t1",
		StartTime:  time.Now(),
		Duration:   600 * time.Millisecond,
		Audio:      make([]byte, 9600),
		SampleRate: 8000,
		Confidence: 0.85,
	}
}

// ===== Turn loop =====

// noGreeting silences the opening prompt so turn assertions see only
// the audio the test drives.
var noGreeting = map[string]string{TemplateGreeting: ""}

func TestFullTurnReachesSpeaking(t *testing.T) {
	f := newFixture(t, Config{Templates: noGreeting})
	artifact := writeArtifact(t)
	echoWorker(t, f.bus, "what are your hours", "We are open nine to five.", artifact)
	f.toListening(t)

	f.session.handleUtterance(testUtterance())
	f.waitState(t, internal_callfsm.StateSpeaking)

	// The transcript carries both turns.
	msgs := f.session.History().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "what are your hours", msgs[0].Content)
	assert.Equal(t, "We are open nine to five.", msgs[1].Content)

	// Audio went out both paths.
	assert.Eventually(t, func() bool {
		f.media.mu.Lock()
		defer f.media.mu.Unlock()
		return len(f.media.pcm) == 640
	}, time.Second, 10*time.Millisecond)
	f.swtch.mu.Lock()
	assert.Equal(t, []string{artifact}, f.swtch.played)
	f.swtch.mu.Unlock()

	f.machine.Dispatch(internal_callfsm.EventPlaybackComplete)
	f.waitState(t, internal_callfsm.StateListening)
}

func TestUtteranceOutsideListeningIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	f.session.handleUtterance(testUtterance()) // still RINGING
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, internal_callfsm.StateRinging, f.machine.State())
}

func TestStaleTranscriptionIsDiscarded(t *testing.T) {
	f := newFixture(t, Config{})
	var llmRequests sync.Map
	unsub, err := f.bus.Subscribe(bus.TopicLLMRequest, "llm-spy", func(_ context.Context, env bus.Envelope) {
		llmRequests.Store(env.CorrelationID, true)
	})
	require.NoError(t, err)
	defer unsub()
	f.toListening(t)

	// A result with a correlation nobody asked for.
	stale := bus.NewEnvelope(bus.TopicSTTResult, "call-t1", &bus.STTResult{
		Transcript: "ghost words",
		Final:      true,
	})
	require.NoError(t, f.bus.Publish(context.Background(), stale))

	time.Sleep(100 * time.Millisecond)
	count := 0
	llmRequests.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count, "stale transcription must not start a model request")
	assert.Zero(t, f.session.History().Len())
}

func TestEmptyTranscriptAbortsTurn(t *testing.T) {
	f := newFixture(t, Config{})
	artifact := writeArtifact(t)
	echoWorker(t, f.bus, "", "unused", artifact)
	f.toListening(t)

	f.session.handleUtterance(testUtterance())
	// PROCESSING then straight back to LISTENING.
	f.waitState(t, internal_callfsm.StateListening)
	assert.Zero(t, f.session.History().Len())
}

func TestEmptyTranscriptSpeaksFallbackWhenEnabled(t *testing.T) {
	f := newFixture(t, Config{FallbackEnabled: true, Templates: noGreeting})
	artifact := writeArtifact(t)

	var spoken []string
	var mu sync.Mutex
	unsub, err := f.bus.Subscribe(bus.TopicTTSRequest, "tts-spy", func(_ context.Context, env bus.Envelope) {
		req := env.Payload.(*bus.TTSRequest)
		mu.Lock()
		spoken = append(spoken, req.Text)
		mu.Unlock()
		reply := bus.NewEnvelope(bus.TopicTTSReady, env.CallID, &bus.TTSReady{
			Artifact: bus.Artifact{ArtifactID: "art-f", Handle: artifact},
		}).WithCorrelation(env.CorrelationID)
		f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer unsub()

	sttUnsub, err := f.bus.Subscribe(bus.TopicSTTRequest, "stt-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicSTTResult, env.CallID, &bus.STTResult{Final: true}).
			WithCorrelation(env.CorrelationID)
		f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer sttUnsub()

	f.toListening(t)
	f.session.handleUtterance(testUtterance())
	f.waitState(t, internal_callfsm.StateSpeaking)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, spoken)
	assert.Contains(t, spoken[len(spoken)-1], "didn't catch")
}

func TestEmptyModelResponseAbortsTurn(t *testing.T) {
	f := newFixture(t, Config{})
	artifact := writeArtifact(t)
	echoWorker(t, f.bus, "hello", "", artifact)
	f.toListening(t)

	f.session.handleUtterance(testUtterance())
	f.waitState(t, internal_callfsm.StateListening)
}

// ===== Barge-in =====

func driveToSpeaking(t *testing.T, f *fixture) {
	t.Helper()
	artifact := writeArtifact(t)
	echoWorker(t, f.bus, "hello", "a long response", artifact)
	f.toListening(t)
	f.session.handleUtterance(testUtterance())
	f.waitState(t, internal_callfsm.StateSpeaking)
}

func TestBargeInInterruptsPlayback(t *testing.T) {
	f := newFixture(t, Config{})

	var cancels sync.Map
	for _, topic := range []bus.Topic{bus.TopicLLMCancel, bus.TopicTTSCancel, bus.TopicBargeIn} {
		topic := topic
		unsub, err := f.bus.Subscribe(topic, "spy", func(_ context.Context, env bus.Envelope) {
			cancels.Store(env.Topic, true)
		})
		require.NoError(t, err)
		defer unsub()
	}

	driveToSpeaking(t, f)

	// 200 ms of confident speech, 20 ms apart.
	base := time.Now()
	for i := 0; i <= 10; i++ {
		f.session.handleSpeech(internal_pipeline.SpeechEvent{
			IsSpeech:   true,
			Confidence: 0.9,
			At:         base.Add(time.Duration(i) * 20 * time.Millisecond),
		})
	}

	f.waitState(t, internal_callfsm.StateListening) // BARGING_IN resolves fast

	assert.Eventually(t, func() bool {
		_, barge := cancels.Load(bus.TopicBargeIn)
		_, llm := cancels.Load(bus.TopicLLMCancel)
		_, tts := cancels.Load(bus.TopicTTSCancel)
		return barge && llm && tts
	}, time.Second, 10*time.Millisecond, "barge-in must broadcast and cancel in-flight work")

	f.media.mu.Lock()
	assert.Positive(t, f.media.cleared, "egress queue must be flushed")
	f.media.mu.Unlock()
	assert.Positive(t, f.swtch.stoppedCount(), "switch playback must be stopped")
}

func TestShortSpeechBlipDoesNotBargeIn(t *testing.T) {
	f := newFixture(t, Config{})
	driveToSpeaking(t, f)

	// 100 ms runs broken by silence never reach the 150 ms debounce.
	base := time.Now()
	for cycle := 0; cycle < 3; cycle++ {
		start := base.Add(time.Duration(cycle) * 200 * time.Millisecond)
		for i := 0; i <= 5; i++ {
			f.session.handleSpeech(internal_pipeline.SpeechEvent{
				IsSpeech:   true,
				Confidence: 0.9,
				At:         start.Add(time.Duration(i) * 20 * time.Millisecond),
			})
		}
		f.session.handleSpeech(internal_pipeline.SpeechEvent{At: start.Add(120 * time.Millisecond)})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, internal_callfsm.StateSpeaking, f.machine.State())
}

func TestLowConfidenceSpeechDoesNotBargeIn(t *testing.T) {
	f := newFixture(t, Config{BargeInConfidence: 0.8})
	driveToSpeaking(t, f)

	base := time.Now()
	for i := 0; i <= 20; i++ {
		f.session.handleSpeech(internal_pipeline.SpeechEvent{
			IsSpeech:   true,
			Confidence: 0.5,
			At:         base.Add(time.Duration(i) * 20 * time.Millisecond),
		})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, internal_callfsm.StateSpeaking, f.machine.State())
}

func TestDisabledBargeInIgnoresSpeech(t *testing.T) {
	f := newFixture(t, Config{DisableBargeIn: true})
	driveToSpeaking(t, f)

	// Half a second of confident speech, far past any debounce.
	base := time.Now()
	for i := 0; i <= 25; i++ {
		f.session.handleSpeech(internal_pipeline.SpeechEvent{
			IsSpeech:   true,
			Confidence: 0.95,
			At:         base.Add(time.Duration(i) * 20 * time.Millisecond),
		})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, internal_callfsm.StateSpeaking, f.machine.State())
}

// ===== Fallbacks and teardown =====

func TestModelErrorSpeaksFallback(t *testing.T) {
	f := newFixture(t, Config{FallbackEnabled: true, Templates: noGreeting})

	spoken := make(chan string, 4)
	unsub, err := f.bus.Subscribe(bus.TopicTTSRequest, "tts-spy", func(_ context.Context, env bus.Envelope) {
		spoken <- env.Payload.(*bus.TTSRequest).Text
	})
	require.NoError(t, err)
	defer unsub()
	f.toListening(t)

	errEnv := bus.NewEnvelope(bus.TopicLLMError, "call-t1", &bus.LLMError{Reason: "provider down"})
	require.NoError(t, f.bus.Publish(context.Background(), errEnv))

	select {
	case text := <-spoken:
		assert.Contains(t, text, "trouble")
	case <-time.After(time.Second):
		t.Fatal("fallback speech never requested")
	}
}

func TestModelErrorWithoutFallbackEndsCall(t *testing.T) {
	f := newFixture(t, Config{})
	f.toListening(t)

	errEnv := bus.NewEnvelope(bus.TopicLLMError, "call-t1", &bus.LLMError{Reason: "provider down"})
	require.NoError(t, f.bus.Publish(context.Background(), errEnv))
	f.waitState(t, internal_callfsm.StateError)
}

func TestTTSFailureFallsBackToSayLetters(t *testing.T) {
	f := newFixture(t, Config{})
	f.toListening(t)

	f.session.speak("hello caller")
	f.session.mu.Lock()
	corr := f.session.ttsCorr
	f.session.mu.Unlock()

	failed := bus.NewEnvelope(bus.TopicTTSFailed, "call-t1", &bus.TTSFailed{Reason: "synth down"}).
		WithCorrelation(corr)
	require.NoError(t, f.bus.Publish(context.Background(), failed))

	assert.Eventually(t, func() bool {
		f.swtch.mu.Lock()
		defer f.swtch.mu.Unlock()
		return len(f.swtch.said) == 1 && strings.Contains(f.swtch.said[0], "hello caller")
	}, time.Second, 10*time.Millisecond)
}

func TestHangupTearsDownOnce(t *testing.T) {
	f := newFixture(t, Config{})

	endEvents := make(chan bus.Envelope, 2)
	unsub, err := f.bus.Subscribe(bus.TopicEndConversation, "spy", func(_ context.Context, env bus.Envelope) {
		endEvents <- env
	})
	require.NoError(t, err)
	defer unsub()

	f.toListening(t)
	f.machine.Dispatch(internal_callfsm.EventHangup)
	f.waitState(t, internal_callfsm.StateEnded)

	select {
	case reason := <-f.ended:
		assert.Equal(t, "hangup", reason)
	case <-time.After(time.Second):
		t.Fatal("OnEnd never invoked")
	}

	select {
	case <-endEvents:
	case <-time.After(time.Second):
		t.Fatal("end_conversation never published")
	}

	assert.Eventually(t, func() bool {
		f.swtch.mu.Lock()
		defer f.swtch.mu.Unlock()
		return len(f.swtch.hangups) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGreetingPlaysWithoutStateChange(t *testing.T) {
	f := newFixture(t, Config{})
	artifact := writeArtifact(t)

	unsub, err := f.bus.Subscribe(bus.TopicTTSRequest, "tts-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicTTSReady, env.CallID, &bus.TTSReady{
			Artifact: bus.Artifact{ArtifactID: "art-g", Handle: artifact},
		}).WithCorrelation(env.CorrelationID)
		f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer unsub()

	f.toListening(t)

	// The greeting artifact plays while the call stays in LISTENING.
	assert.Eventually(t, func() bool {
		f.swtch.mu.Lock()
		defer f.swtch.mu.Unlock()
		return f.swtch.playbacks == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, internal_callfsm.StateListening, f.machine.State())
}

func TestTurnWithoutSwitchCompletesPlayback(t *testing.T) {
	logger := commons.NewNopLogger()
	b := bus.New(bus.NewInprocTransport(), logger)
	t.Cleanup(func() { b.Close() })

	machine := internal_callfsm.New("call-t1", internal_callfsm.Config{}, logger)
	media := &fakeMedia{}
	session := NewCallSession(SessionParams{
		CallID:  "call-t1",
		Config:  Config{Templates: noGreeting},
		Bus:     b,
		Machine: machine,
		Media:   media,
		Counter: charCounter{},
		Logger:  logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, session.Start(ctx))
	go machine.Run(ctx)

	artifact := writeArtifact(t)
	echoWorker(t, b, "hello", "short answer", artifact)

	machine.Dispatch(internal_callfsm.EventAnswered)
	machine.Dispatch(internal_callfsm.EventMediaBound)
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateListening },
		2*time.Second, 5*time.Millisecond)

	session.handleUtterance(testUtterance())
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateSpeaking },
		2*time.Second, 5*time.Millisecond)

	// Without a switch leg there is no playback webhook; the turn must
	// still come back to LISTENING once the artifact duration elapses.
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateListening },
		2*time.Second, 5*time.Millisecond)

	media.mu.Lock()
	assert.Equal(t, 640, len(media.pcm), "artifact audio still reaches the egress queue")
	media.mu.Unlock()
}

// ===== Instructions =====

func TestInstructionsOverrideConfigAtStart(t *testing.T) {
	logger := commons.NewNopLogger()
	b := bus.New(bus.NewInprocTransport(), logger)
	defer b.Close()

	machine := internal_callfsm.New("call-i1", internal_callfsm.Config{}, logger)
	session := NewCallSession(SessionParams{
		CallID:       "call-i1",
		Config:       Config{SystemPrompt: "node default", Voice: "alloy"},
		Instructions: Instructions{SystemPrompt: "caller supplied", Voice: "verse"},
		Bus:          b,
		Machine:      machine,
		Counter:      charCounter{},
		Logger:       logger,
	})

	msgs := session.History().Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "caller supplied", msgs[0].Content)
	assert.Equal(t, "verse", session.Instructions().Voice)
}

func TestUpdateInstructionsAppliesToNextTurn(t *testing.T) {
	f := newFixture(t, Config{Templates: noGreeting, Voice: "alloy"})
	artifact := writeArtifact(t)

	voices := make(chan string, 4)
	unsub, err := f.bus.Subscribe(bus.TopicTTSRequest, "tts-worker", func(_ context.Context, env bus.Envelope) {
		voices <- env.Payload.(*bus.TTSRequest).Voice
		reply := bus.NewEnvelope(bus.TopicTTSReady, env.CallID, &bus.TTSReady{
			Artifact: bus.Artifact{ArtifactID: "art-v", Handle: artifact},
		}).WithCorrelation(env.CorrelationID)
		f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer unsub()

	sttUnsub, err := f.bus.Subscribe(bus.TopicSTTRequest, "stt-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicSTTResult, env.CallID, &bus.STTResult{
			Transcript: "hello",
			Final:      true,
		}).WithCorrelation(env.CorrelationID)
		f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer sttUnsub()

	llmUnsub, err := f.bus.Subscribe(bus.TopicLLMRequest, "llm-worker", func(_ context.Context, env bus.Envelope) {
		reply := bus.NewEnvelope(bus.TopicLLMResponse, env.CallID, &bus.LLMResponse{
			Text:  "aye aye",
			Model: "test-model",
		}).WithCorrelation(env.CorrelationID)
		f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer llmUnsub()

	f.toListening(t)
	f.session.UpdateInstructions(bus.UpdateInstructions{
		Voice:        "verse",
		SystemPrompt: "talk like a pirate",
		Metadata:     map[string]string{"team": "support"},
	})

	f.session.handleUtterance(testUtterance())
	f.waitState(t, internal_callfsm.StateSpeaking)

	select {
	case voice := <-voices:
		assert.Equal(t, "verse", voice)
	case <-time.After(time.Second):
		t.Fatal("no synthesis request observed")
	}

	msgs := f.session.History().Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "system", msgs[0].Role, "prompt update must pin a system message")
	assert.Equal(t, "talk like a pirate", msgs[0].Content)
	assert.Equal(t, "support", f.session.Instructions().Metadata["team"])
}

func TestInstructionsMergeAndClone(t *testing.T) {
	f := newFixture(t, Config{})
	f.session.UpdateInstructions(bus.UpdateInstructions{Metadata: map[string]string{"team": "support", "tier": "gold"}})
	f.session.UpdateInstructions(bus.UpdateInstructions{Voice: "verse", Metadata: map[string]string{"tier": "platinum"}})

	instr := f.session.Instructions()
	assert.Equal(t, "verse", instr.Voice)
	assert.Equal(t, map[string]string{"team": "support", "tier": "platinum"}, instr.Metadata)

	instr.Metadata["tier"] = "scratched"
	assert.Equal(t, "platinum", f.session.Instructions().Metadata["tier"], "accessor hands out a copy")
}

// ===== Manager =====

func TestOrchestratorRoutesControlCommands(t *testing.T) {
	logger := commons.NewNopLogger()
	b := bus.New(bus.NewInprocTransport(), logger)
	defer b.Close()

	o := New(b, logger)
	require.NoError(t, o.Start())
	defer o.Close()

	machine := internal_callfsm.New("call-m1", internal_callfsm.Config{}, logger)
	session := NewCallSession(SessionParams{
		CallID:  "call-m1",
		Config:  Config{},
		Bus:     b,
		Machine: machine,
		Counter: charCounter{},
		Logger:  logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, session.Start(ctx))
	go machine.Run(ctx)
	require.NoError(t, o.Add(session))

	m, ok := o.Machine("call-m1")
	require.True(t, ok)
	assert.Same(t, machine, m)
	assert.Equal(t, 1, o.ActiveCalls())

	assert.Error(t, o.Add(session), "duplicate session must be rejected")

	end := bus.NewEnvelope(bus.TopicEndConversation, "call-m1", &bus.EndConversation{Reason: "api"})
	require.NoError(t, b.Publish(ctx, end))
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateEnded },
		2*time.Second, 5*time.Millisecond)

	o.Remove("call-m1")
	assert.Zero(t, o.ActiveCalls())
	_, ok = o.Machine("call-m1")
	assert.False(t, ok)
}

func TestOrchestratorRoutesInstructionUpdates(t *testing.T) {
	logger := commons.NewNopLogger()
	b := bus.New(bus.NewInprocTransport(), logger)
	defer b.Close()

	o := New(b, logger)
	require.NoError(t, o.Start())
	defer o.Close()

	machine := internal_callfsm.New("call-m2", internal_callfsm.Config{}, logger)
	session := NewCallSession(SessionParams{
		CallID:  "call-m2",
		Config:  Config{},
		Bus:     b,
		Machine: machine,
		Counter: charCounter{},
		Logger:  logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, session.Start(ctx))
	go machine.Run(ctx)
	require.NoError(t, o.Add(session))

	patch := bus.NewEnvelope(bus.TopicUpdateInstructions, "call-m2", &bus.UpdateInstructions{Voice: "sage"})
	require.NoError(t, b.Publish(ctx, patch))

	require.Eventually(t, func() bool { return session.Instructions().Voice == "sage" },
		2*time.Second, 5*time.Millisecond)
}
