// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_worker is the shared runtime for the model-service
// workers: bounded parallelism, backend latency tracking and periodic
// health publication.
package internal_worker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

// DefaultConcurrency bounds simultaneous backend calls per worker.
const DefaultConcurrency = 4

// DefaultHealthInterval is how often a worker reports on its health
// topic.
const DefaultHealthInterval = 10 * time.Second

const ringSize = 128

// latencyRing keeps the last ringSize backend latencies for percentile
// estimation. Cheap enough to lock on every observation.
type latencyRing struct {
	mu      sync.Mutex
	samples [ringSize]time.Duration
	next    int
	filled  int
}

func (r *latencyRing) observe(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = d
	r.next = (r.next + 1) % ringSize
	if r.filled < ringSize {
		r.filled++
	}
}

// percentile returns the p-th percentile (0 < p <= 1) of the retained
// samples, zero when empty.
func (r *latencyRing) percentile(p float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filled == 0 {
		return 0
	}
	sorted := make([]time.Duration, r.filled)
	copy(sorted, r.samples[:r.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(r.filled)*p) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Runtime is embedded by each worker. Do runs one backend call under
// the concurrency bound; RunHealth reports until the context ends.
type Runtime struct {
	name        string
	healthTopic bus.Topic
	bus         *bus.Bus
	logger      commons.Logger

	sem      *semaphore.Weighted
	ring     *latencyRing
	started  time.Time
	queued   atomic.Int64
	total    atomic.Uint64
	failures atomic.Uint64

	healthInterval time.Duration
}

// RuntimeOption tunes a Runtime.
type RuntimeOption func(*Runtime)

// WithConcurrency overrides the backend parallelism bound.
func WithConcurrency(n int64) RuntimeOption {
	return func(r *Runtime) { r.sem = semaphore.NewWeighted(n) }
}

// WithHealthInterval overrides the reporting period.
func WithHealthInterval(d time.Duration) RuntimeOption {
	return func(r *Runtime) { r.healthInterval = d }
}

// NewRuntime builds a worker runtime reporting on healthTopic.
func NewRuntime(name string, healthTopic bus.Topic, b *bus.Bus, logger commons.Logger, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		name:           name,
		healthTopic:    healthTopic,
		bus:            b,
		logger:         logger.With("worker", name),
		sem:            semaphore.NewWeighted(DefaultConcurrency),
		ring:           &latencyRing{},
		started:        time.Now(),
		healthInterval: DefaultHealthInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Logger returns the worker-scoped logger.
func (r *Runtime) Logger() commons.Logger { return r.logger }

// Do runs fn under the concurrency bound, recording latency and
// outcome. Requests queued behind the semaphore count toward
// queue_depth. Returns fn's error, or the context error if the slot
// never freed.
func (r *Runtime) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	r.queued.Add(1)
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.queued.Add(-1)
		return err
	}
	r.queued.Add(-1)
	defer r.sem.Release(1)

	start := time.Now()
	err := fn(ctx)
	r.ring.observe(time.Since(start))
	r.total.Add(1)
	if err != nil {
		r.failures.Add(1)
	}
	return err
}

// Snapshot renders the current health payload.
func (r *Runtime) Snapshot() *bus.Health {
	total := r.total.Load()
	failures := r.failures.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(failures) / float64(total)
	}

	status := "ok"
	switch {
	case rate >= 0.5 && total >= 4:
		status = "down"
	case rate >= 0.1 && total >= 4:
		status = "degraded"
	}

	return &bus.Health{
		Status:       status,
		UptimeSec:    int64(time.Since(r.started).Seconds()),
		QueueDepth:   int(r.queued.Load()),
		ErrorRate:    rate,
		LatencyP50Ms: r.ring.percentile(0.50).Milliseconds(),
		LatencyP95Ms: r.ring.percentile(0.95).Milliseconds(),
	}
}

// RunHealth publishes health snapshots until ctx is done.
func (r *Runtime) RunHealth(ctx context.Context) {
	ticker := time.NewTicker(r.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env := bus.NewEnvelope(r.healthTopic, r.name, r.Snapshot())
			if err := r.bus.Publish(ctx, env); err != nil {
				r.logger.Debugw("health publish failed", "error", err)
			}
		}
	}
}
