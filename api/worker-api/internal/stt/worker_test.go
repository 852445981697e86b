// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_worker "github.com/voxbridgeai/api/worker-api/internal/worker"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

// ===== Deepgram backend =====

func TestDeepgramParsesTranscript(t *testing.T) {
	var gotAuth, gotEncoding, gotRate string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.URL.Query().Get("encoding")
		gotRate = r.URL.Query().Get("sample_rate")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"book a table for two","confidence":0.97}]}]}}`))
	}))
	defer server.Close()

	dg := NewDeepgram(DeepgramConfig{BaseURL: server.URL, APIKey: "dg-key"}, commons.NewNopLogger())
	result, err := dg.Transcribe(context.Background(), &bus.STTRequest{
		Audio:      make([]byte, 320),
		SampleRate: 8000,
	})
	require.NoError(t, err)

	assert.Equal(t, "Token dg-key", gotAuth)
	assert.Equal(t, "linear16", gotEncoding)
	assert.Equal(t, "8000", gotRate)
	assert.Equal(t, "book a table for two", result.Transcript)
	assert.InDelta(t, 0.97, result.Confidence, 0.001)
	assert.True(t, result.Final)
}

func TestDeepgramEmptyChannels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer server.Close()

	dg := NewDeepgram(DeepgramConfig{BaseURL: server.URL}, commons.NewNopLogger())
	result, err := dg.Transcribe(context.Background(), &bus.STTRequest{Audio: make([]byte, 320), SampleRate: 8000})
	require.NoError(t, err)
	assert.Empty(t, result.Transcript)
	assert.True(t, result.Final)
}

func TestDeepgramSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	dg := NewDeepgram(DeepgramConfig{BaseURL: server.URL}, commons.NewNopLogger())
	_, err := dg.Transcribe(context.Background(), &bus.STTRequest{Audio: make([]byte, 320), SampleRate: 8000})
	assert.Error(t, err)
}

// ===== Worker =====

type stubTranscriber struct {
	result *bus.STTResult
	err    error
	delay  time.Duration
}

func (s *stubTranscriber) Transcribe(ctx context.Context, _ *bus.STTRequest) (*bus.STTResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func newWorkerFixture(t *testing.T, backend Transcriber, timeout time.Duration) (*bus.Bus, chan bus.Envelope) {
	t.Helper()
	b := bus.New(bus.NewInprocTransport(), commons.NewNopLogger())
	t.Cleanup(func() { b.Close() })

	rt := internal_worker.NewRuntime("stt", bus.TopicHealthSTT, b, commons.NewNopLogger())
	w := NewWorker(b, rt, backend, timeout)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)

	results := make(chan bus.Envelope, 4)
	unsub, err := b.Subscribe(bus.TopicSTTResult, "test", func(_ context.Context, env bus.Envelope) {
		results <- env
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
	return b, results
}

func waitResult(t *testing.T, results chan bus.Envelope) bus.Envelope {
	t.Helper()
	select {
	case env := <-results:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no stt.result published")
		return bus.Envelope{}
	}
}

func TestWorkerAnswersOnRequestCorrelation(t *testing.T) {
	backend := &stubTranscriber{result: &bus.STTResult{Transcript: "hello", Confidence: 0.9, Final: true}}
	b, results := newWorkerFixture(t, backend, 0)

	req := bus.NewEnvelope(bus.TopicSTTRequest, "call-1", &bus.STTRequest{Audio: make([]byte, 320), SampleRate: 8000})
	require.NoError(t, b.Publish(context.Background(), req))

	env := waitResult(t, results)
	assert.Equal(t, "call-1", env.CallID)
	assert.Equal(t, req.CorrelationID, env.CorrelationID)

	result, ok := env.Payload.(*bus.STTResult)
	require.True(t, ok)
	assert.Equal(t, "hello", result.Transcript)
}

func TestWorkerBackendErrorYieldsEmptyFinal(t *testing.T) {
	backend := &stubTranscriber{err: errors.New("backend down")}
	b, results := newWorkerFixture(t, backend, 0)

	req := bus.NewEnvelope(bus.TopicSTTRequest, "call-2", &bus.STTRequest{Audio: make([]byte, 320), SampleRate: 8000})
	require.NoError(t, b.Publish(context.Background(), req))

	env := waitResult(t, results)
	result, ok := env.Payload.(*bus.STTResult)
	require.True(t, ok)
	assert.Empty(t, result.Transcript)
	assert.True(t, result.Final, "failures still produce a final result")
}

func TestWorkerTimeoutYieldsEmptyFinal(t *testing.T) {
	backend := &stubTranscriber{delay: time.Second, result: &bus.STTResult{Transcript: "too late"}}
	b, results := newWorkerFixture(t, backend, 50*time.Millisecond)

	req := bus.NewEnvelope(bus.TopicSTTRequest, "call-3", &bus.STTRequest{Audio: make([]byte, 320), SampleRate: 8000})
	require.NoError(t, b.Publish(context.Background(), req))

	env := waitResult(t, results)
	result, ok := env.Payload.(*bus.STTResult)
	require.True(t, ok)
	assert.Empty(t, result.Transcript)
	assert.True(t, result.Final)
}
