// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_llm

import (
	"context"
	"errors"
	"sync"
	"time"

	internal_worker "github.com/voxbridgeai/api/worker-api/internal/worker"
	"github.com/voxbridgeai/pkg/bus"
)

// DefaultTimeout bounds one completion including fallback.
const DefaultTimeout = 30 * time.Second

// Defaults fill generation parameters that a request leaves unset, so
// an uncapped request can never reach a backend.
type Defaults struct {
	MaxTokens   int
	Temperature float64
}

// Worker consumes llm.request, streams llm.response.partial and
// finishes with llm.response or llm.error on the request correlation.
// llm.cancel aborts in-flight work by correlation, or by call when the
// correlation is unknown.
type Worker struct {
	bus      *bus.Bus
	rt       *internal_worker.Runtime
	primary  Chat
	fallback Chat // optional
	defaults Defaults
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // by correlation ID
	byCall   map[string]map[string]struct{}

	unsubs []func()
}

// NewWorker wires the completion worker. fallback may be nil.
func NewWorker(b *bus.Bus, rt *internal_worker.Runtime, primary, fallback Chat, defaults Defaults, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Worker{
		bus:      b,
		rt:       rt,
		primary:  primary,
		fallback: fallback,
		defaults: defaults,
		timeout:  timeout,
		inflight: make(map[string]context.CancelFunc),
		byCall:   make(map[string]map[string]struct{}),
	}
}

// Start subscribes to the request and cancel topics.
func (w *Worker) Start() error {
	for topic, h := range map[bus.Topic]bus.Handler{
		bus.TopicLLMRequest: w.onRequest,
		bus.TopicLLMCancel:  w.onCancel,
	} {
		unsub, err := w.bus.Subscribe(topic, "llm-worker", h)
		if err != nil {
			w.Close()
			return err
		}
		w.unsubs = append(w.unsubs, unsub)
	}
	return nil
}

// Close removes subscriptions and aborts in-flight completions.
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
	req, ok := env.Payload.(*bus.LLMRequest)
	if !ok {
		w.rt.Logger().Warnw("unexpected payload", "topic", string(env.Topic))
		return
	}
	go w.complete(env, req)
}

func (w *Worker) onCancel(_ context.Context, env bus.Envelope) {
	w.mu.Lock()
	var cancels []context.CancelFunc
	if cancel, ok := w.inflight[env.CorrelationID]; ok {
		cancels = append(cancels, cancel)
	} else {
		// Correlation unknown to us: the cancel targets the whole call.
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
	if len(cancels) > 0 {
		w.rt.Logger().Debugw("completion cancelled", "call_id", env.CallID, "count", len(cancels))
	}
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

func (w *Worker) complete(env bus.Envelope, req *bus.LLMRequest) {
	// Other subscribers may hold the same payload; fill on a copy.
	filled := *req
	if filled.MaxTokens <= 0 {
		filled.MaxTokens = w.defaults.MaxTokens
	}
	if filled.Temperature <= 0 {
		filled.Temperature = w.defaults.Temperature
	}
	req = &filled

	reqCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	w.register(env.CallID, env.CorrelationID, cancel)
	defer w.unregister(env.CallID, env.CorrelationID)

	var resp *bus.LLMResponse
	err := w.rt.Do(reqCtx, func(ctx context.Context) error {
		onDelta := func(delta string) {
			partial := bus.NewEnvelope(bus.TopicLLMPartial, env.CallID, &bus.LLMResponse{
				Text:    delta,
				Model:   w.primary.Model(),
				Partial: true,
			}).WithCorrelation(env.CorrelationID)
			// Partials are telemetry; a shed partial is not an error.
			_ = w.bus.Publish(ctx, partial)
		}

		var err error
		resp, err = w.primary.Complete(ctx, req, onDelta)
		if err == nil || w.fallback == nil || ctx.Err() != nil {
			return err
		}

		w.rt.Logger().Warnw("primary model failed, trying fallback",
			"call_id", env.CallID, "primary", w.primary.Model(), "error", err)
		resp, err = w.fallback.Complete(ctx, req, nil)
		return err
	})

	if errors.Is(err, context.Canceled) {
		// Cancelled mid-turn; nobody is waiting for this answer.
		return
	}

	publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer publishCancel()

	if err != nil {
		fail := bus.NewEnvelope(bus.TopicLLMError, env.CallID, &bus.LLMError{
			Reason:    err.Error(),
			Retryable: !errors.Is(err, context.DeadlineExceeded),
		}).WithCorrelation(env.CorrelationID)
		if err := w.bus.Publish(publishCtx, fail); err != nil {
			w.rt.Logger().Errorw("error publish failed", "call_id", env.CallID, "error", err)
		}
		return
	}

	final := bus.NewEnvelope(bus.TopicLLMResponse, env.CallID, resp).
		WithCorrelation(env.CorrelationID)
	if err := w.bus.Publish(publishCtx, final); err != nil {
		w.rt.Logger().Errorw("response publish failed", "call_id", env.CallID, "error", err)
	}
}
