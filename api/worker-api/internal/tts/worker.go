// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_tts

import (
	"context"
	"errors"
	"sync"
	"time"

	internal_artifact "github.com/voxbridgeai/api/worker-api/internal/artifact"
	internal_worker "github.com/voxbridgeai/api/worker-api/internal/worker"
	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/audio/resampler"
	"github.com/voxbridgeai/pkg/bus"
)

// DefaultTimeout bounds one synthesis.
const DefaultTimeout = 20 * time.Second

// Worker consumes tts.request and answers tts.ready or tts.failed on
// the request correlation. tts.cancel aborts synthesis; a finished
// call expires its artifacts early via end_conversation.
type Worker struct {
	bus       *bus.Bus
	rt        *internal_worker.Runtime
	backend   Synthesizer
	store     *internal_artifact.Store
	resampler resampler.Resampler
	timeout   time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // by correlation ID
	byCall   map[string]map[string]struct{}

	unsubs []func()
}

// NewWorker wires the synthesis worker.
func NewWorker(b *bus.Bus, rt *internal_worker.Runtime, backend Synthesizer, store *internal_artifact.Store, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Worker{
		bus:       b,
		rt:        rt,
		backend:   backend,
		store:     store,
		resampler: resampler.GetResampler(rt.Logger()),
		timeout:   timeout,
		inflight:  make(map[string]context.CancelFunc),
		byCall:    make(map[string]map[string]struct{}),
	}
}

// Start subscribes to request, cancel and end-of-call topics.
func (w *Worker) Start() error {
	for topic, h := range map[bus.Topic]bus.Handler{
		bus.TopicTTSRequest:      w.onRequest,
		bus.TopicTTSCancel:       w.onCancel,
		bus.TopicEndConversation: w.onEndConversation,
	} {
		unsub, err := w.bus.Subscribe(topic, "tts-worker", h)
		if err != nil {
			w.Close()
			return err
		}
		w.unsubs = append(w.unsubs, unsub)
	}
	return nil
}

// Close removes subscriptions and aborts in-flight synthesis.
func (w *Worker) Close() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil

	w.mu.Lock()
	for _, cancel := range w.inflight {
		cancel()
	}
	w.mu.Unlock()
}

func (w *Worker) onRequest(ctx context.Context, env bus.Envelope) {
	req, ok := env.Payload.(*bus.TTSRequest)
	if !ok {
		w.rt.Logger().Warnw("unexpected payload", "topic", string(env.Topic))
		return
	}
	go w.synthesize(env, req)
}

func (w *Worker) onCancel(_ context.Context, env bus.Envelope) {
	w.mu.Lock()
	var cancels []context.CancelFunc
	if cancel, ok := w.inflight[env.CorrelationID]; ok {
		cancels = append(cancels, cancel)
	} else {
		for corr := range w.byCall[env.CallID] {
			if cancel, ok := w.inflight[corr]; ok {
				cancels = append(cancels, cancel)
			}
		}
	}
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (w *Worker) onEndConversation(_ context.Context, env bus.Envelope) {
	w.store.ExpireCall(env.CallID)
}

func (w *Worker) register(callID, corr string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[corr] = cancel
	if w.byCall[callID] == nil {
		w.byCall[callID] = make(map[string]struct{})
	}
	w.byCall[callID][corr] = struct{}{}
}

func (w *Worker) unregister(callID, corr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, corr)
	if set := w.byCall[callID]; set != nil {
		delete(set, corr)
		if len(set) == 0 {
			delete(w.byCall, callID)
		}
	}
}

func (w *Worker) synthesize(env bus.Envelope, req *bus.TTSRequest) {
	started := time.Now()

	reqCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	w.register(env.CallID, env.CorrelationID, cancel)
	defer w.unregister(env.CallID, env.CorrelationID)

	var art bus.Artifact
	err := w.rt.Do(reqCtx, func(ctx context.Context) error {
		pcm, sampleRate, err := w.backend.Synthesize(ctx, req.Text, req.Voice)
		if err != nil {
			return err
		}
		// Backends return their native rate; convert when the
		// request names a different one.
		if req.SampleRate > 0 && req.SampleRate != sampleRate {
			from := audio.Config{SampleRate: sampleRate, Channels: 1, Format: audio.FormatS16LE}
			to := audio.Config{SampleRate: req.SampleRate, Channels: 1, Format: audio.FormatS16LE}
			if pcm, err = w.resampler.Resample(pcm, from, to); err != nil {
				return err
			}
			sampleRate = req.SampleRate
		}
		art, err = w.store.Put(env.CallID, pcm, sampleRate, req.Encoding)
		return err
	})

	if errors.Is(err, context.Canceled) {
		return
	}

	publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer publishCancel()

	if err != nil {
		w.rt.Logger().Warnw("synthesis failed", "call_id", env.CallID, "error", err)
		fail := bus.NewEnvelope(bus.TopicTTSFailed, env.CallID, &bus.TTSFailed{
			Reason:    err.Error(),
			Retryable: !errors.Is(err, context.DeadlineExceeded),
		}).WithCorrelation(env.CorrelationID)
		if err := w.bus.Publish(publishCtx, fail); err != nil {
			w.rt.Logger().Errorw("failure publish failed", "call_id", env.CallID, "error", err)
		}
		return
	}

	ready := bus.NewEnvelope(bus.TopicTTSReady, env.CallID, &bus.TTSReady{
		Artifact:  art,
		LatencyMs: time.Since(started).Milliseconds(),
	}).WithCorrelation(env.CorrelationID)
	if err := w.bus.Publish(publishCtx, ready); err != nil {
		w.rt.Logger().Errorw("ready publish failed", "call_id", env.CallID, "error", err)
	}
}
