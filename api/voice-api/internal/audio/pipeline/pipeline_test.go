// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/commons"

	internal_vad "github.com/voxbridgeai/api/voice-api/internal/audio/vad"
	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
)

// markerVAD flags a frame as speech when its first byte is non-zero,
// making assembly tests deterministic.
type markerVAD struct{}

func (markerVAD) Name() string { return "marker" }
func (markerVAD) Process(pcm []byte) (internal_vad.Decision, error) {
	if len(pcm) > 0 && pcm[0] != 0 {
		return internal_vad.Decision{IsSpeech: true, Confidence: 0.8}, nil
	}
	return internal_vad.Decision{IsSpeech: false, Confidence: 0.1}, nil
}
func (markerVAD) Reset()       {}
func (markerVAD) Close() error { return nil }

const frameBytes = 320 // 20 ms narrowband

func speechFrame() []byte {
	f := make([]byte, frameBytes)
	f[0] = 1
	return f
}

func silenceFrame() []byte {
	return make([]byte, frameBytes)
}

func startPipeline(t *testing.T, cfg Config) (*Pipeline, context.CancelFunc) {
	t.Helper()
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.Narrowband
	}
	cfg.CallID = "call-test"
	p := New(cfg, markerVAD{}, nil, nil, commons.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(cancel)
	return p, cancel
}

func collectUtterance(t *testing.T, p *Pipeline) internal_type.Utterance {
	t.Helper()
	select {
	case u := <-p.Utterances():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance emitted")
		return internal_type.Utterance{}
	}
}

func TestUtteranceAssembly(t *testing.T) {
	p, _ := startPipeline(t, Config{MinUtteranceMs: 100})

	// 20 speech frames (400 ms) then enough silence to close.
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Push(speechFrame()))
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Push(silenceFrame()))
	}

	u := collectUtterance(t, p)
	assert.False(t, u.Forced)
	assert.Equal(t, "call-test", u.CallID)
	assert.Equal(t, 8000, u.SampleRate)
	// Trailing silence is trimmed: only the 20 speech frames remain.
	assert.Equal(t, 20*frameBytes, len(u.Audio))
	assert.Equal(t, 400*time.Millisecond, u.Duration)
	assert.InDelta(t, 0.8, u.Confidence, 0.01)
	assert.Zero(t, len(u.Audio)%frameBytes, "utterance must be whole frames")
}

func TestShortBurstIsDiscarded(t *testing.T) {
	p, _ := startPipeline(t, Config{MinUtteranceMs: 300})

	// 5 speech frames = 100 ms of speech: below the minimum.
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Push(speechFrame()))
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Push(silenceFrame()))
	}

	select {
	case u := <-p.Utterances():
		t.Fatalf("unexpected utterance of %d bytes", len(u.Audio))
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHysteresisIgnoresIsolatedSpeechFrames(t *testing.T) {
	p, _ := startPipeline(t, Config{MinUtteranceMs: 100})

	// Isolated single speech frames never reach the 3-frame open
	// threshold.
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Push(speechFrame()))
		require.NoError(t, p.Push(silenceFrame()))
		require.NoError(t, p.Push(silenceFrame()))
	}

	select {
	case <-p.Utterances():
		t.Fatal("glitch frames must not open an utterance")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMaxDurationForcesEmit(t *testing.T) {
	p, _ := startPipeline(t, Config{MinUtteranceMs: 100, MaxUtteranceMs: 400})

	// Continuous speech far past the cap.
	for i := 0; i < 60; i++ {
		require.NoError(t, p.Push(speechFrame()))
	}

	u := collectUtterance(t, p)
	assert.True(t, u.Forced)
	assert.Equal(t, 400*time.Millisecond, u.Duration)

	// Speech continues: a second forced utterance follows.
	u2 := collectUtterance(t, p)
	assert.True(t, u2.Forced)
}

func TestMemoryBoundForcesEmit(t *testing.T) {
	p, _ := startPipeline(t, Config{
		MinUtteranceMs:    20,
		MaxUtteranceBytes: 10 * frameBytes,
	})

	for i := 0; i < 30; i++ {
		require.NoError(t, p.Push(speechFrame()))
	}

	u := collectUtterance(t, p)
	assert.True(t, u.Forced)
	assert.LessOrEqual(t, len(u.Audio), 10*frameBytes)
}

func TestFramingNeverPartial(t *testing.T) {
	p, _ := startPipeline(t, Config{MinUtteranceMs: 100})

	// Speech audio delivered in awkward 100-byte chunks; frames must
	// still be cut at exactly 320 bytes.
	total := 0
	for total < 30*frameBytes {
		// Mark every chunk so every reassembled frame starts non-zero.
		buf := make([]byte, 100)
		for i := range buf {
			buf[i] = 1
		}
		require.NoError(t, p.Push(buf))
		total += len(buf)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Push(silenceFrame()))
	}

	u := collectUtterance(t, p)
	assert.Zero(t, len(u.Audio)%frameBytes)
}

func TestSilenceFlushClosesStarvedUtterance(t *testing.T) {
	p, _ := startPipeline(t, Config{MinUtteranceMs: 100, SilenceFlushMs: 150})

	// Open an utterance, then stop pushing entirely: no silence frames
	// ever arrive to satisfy the close hysteresis.
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Push(speechFrame()))
	}

	u := collectUtterance(t, p)
	assert.False(t, u.Forced)
	assert.Equal(t, 10*frameBytes, len(u.Audio))

	// The pipeline is idle again afterwards.
	select {
	case extra := <-p.Utterances():
		t.Fatalf("unexpected second utterance of %d bytes", len(extra.Audio))
	case <-time.After(400 * time.Millisecond):
	}
}

func TestFlushOnShutdownEmitsActiveUtterance(t *testing.T) {
	p, cancel := startPipeline(t, Config{MinUtteranceMs: 100})

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Push(speechFrame()))
	}
	// Give the Run goroutine time to drain the input queue.
	assert.Eventually(t, func() bool { return len(p.in) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	u := collectUtterance(t, p)
	assert.Equal(t, 20*frameBytes, len(u.Audio))
}

func TestSpeechEventsAreEmitted(t *testing.T) {
	p, _ := startPipeline(t, Config{})
	require.NoError(t, p.Push(speechFrame()))

	select {
	case ev := <-p.Speech():
		assert.True(t, ev.IsSpeech)
		assert.InDelta(t, 0.8, ev.Confidence, 0.01)
	case <-time.After(time.Second):
		t.Fatal("no speech event")
	}
}

func TestPushAfterCloseFails(t *testing.T) {
	p, cancel := startPipeline(t, Config{})
	cancel()
	assert.Eventually(t, func() bool {
		return p.Push(speechFrame()) == ErrPipelineClosed
	}, time.Second, 5*time.Millisecond)
}
