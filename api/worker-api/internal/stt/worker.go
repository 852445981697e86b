// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_stt

import (
	"context"
	"time"

	internal_worker "github.com/voxbridgeai/api/worker-api/internal/worker"
	"github.com/voxbridgeai/pkg/bus"
)

// DefaultTimeout bounds one transcription. The caller is waiting on
// the phone, so a late transcript is a useless transcript.
const DefaultTimeout = 15 * time.Second

// Worker consumes stt.request and answers with stt.result on the same
// correlation ID. A backend failure or timeout yields an empty final
// result rather than a retry: the orchestrator owns the fallback.
type Worker struct {
	bus     *bus.Bus
	rt      *internal_worker.Runtime
	backend Transcriber
	timeout time.Duration
	unsub   func()
}

// NewWorker wires the transcription worker.
func NewWorker(b *bus.Bus, rt *internal_worker.Runtime, backend Transcriber, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Worker{bus: b, rt: rt, backend: backend, timeout: timeout}
}

// Start subscribes to the request topic.
func (w *Worker) Start() error {
	unsub, err := w.bus.Subscribe(bus.TopicSTTRequest, "stt-worker", w.onRequest)
	if err != nil {
		return err
	}
	w.unsub = unsub
	return nil
}

// Close removes the subscription.
func (w *Worker) Close() {
	if w.unsub != nil {
		w.unsub()
	}
}

func (w *Worker) onRequest(ctx context.Context, env bus.Envelope) {
	req, ok := env.Payload.(*bus.STTRequest)
	if !ok {
		w.rt.Logger().Warnw("unexpected payload", "topic", string(env.Topic))
		return
	}
	// Transcriptions for different calls must not serialize behind
	// each other; the runtime bounds the fan-out.
	go w.transcribe(ctx, env, req)
}

func (w *Worker) transcribe(ctx context.Context, env bus.Envelope, req *bus.STTRequest) {
	started := time.Now()
	var result *bus.STTResult

	err := w.rt.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		var err error
		result, err = w.backend.Transcribe(callCtx, req)
		return err
	})
	if err != nil {
		w.rt.Logger().Warnw("transcription failed",
			"call_id", env.CallID, "duration_ms", req.DurationMs, "error", err)
		result = &bus.STTResult{Final: true, LatencyMs: time.Since(started).Milliseconds()}
	}

	reply := bus.NewEnvelope(bus.TopicSTTResult, env.CallID, result).
		WithCorrelation(env.CorrelationID)
	if err := w.bus.Publish(ctx, reply); err != nil {
		w.rt.Logger().Errorw("result publish failed", "call_id", env.CallID, "error", err)
	}
}
