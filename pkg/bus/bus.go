// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package bus is the typed publish/subscribe fabric between the voice
// service and the model workers. Delivery is ordered per subscription,
// at-least-once across networked transports; consumers deduplicate on
// correlation ID where repeats matter.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/commons"
)

var (
	ErrBusClosed      = errors.New("bus: closed")
	ErrPublishTimeout = errors.New("bus: publish retries exhausted")
)

// Handler consumes envelopes for one subscription. Handlers run on the
// subscription's consumer goroutine, so per-topic ordering holds as
// long as the handler does not spawn unordered work.
type Handler func(ctx context.Context, env Envelope)

// Transport moves envelopes between processes. Delivery calls happen
// from transport-owned goroutines and may block per the inbox policy.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(topic Topic, name string, deliver func(Envelope)) (func(), error)
	Close() error
}

// Bus wraps a Transport with bounded subscriber inboxes, publish
// retries and priority semantics.
type Bus struct {
	transport Transport
	logger    commons.Logger

	inboxSize       int
	retryWindow     time.Duration
	retryBackoff    []time.Duration
	priorityTimeout time.Duration

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// Option tunes bus behavior.
type Option func(*Bus)

// WithInboxSize bounds each subscriber inbox (default 256).
func WithInboxSize(n int) Option {
	return func(b *Bus) { b.inboxSize = n }
}

// WithRetryWindow bounds how long Publish keeps retrying transient
// transport failures (default 5s, backoff 1s then 2s).
func WithRetryWindow(d time.Duration) Option {
	return func(b *Bus) { b.retryWindow = d }
}

// New builds a bus over the given transport.
func New(transport Transport, logger commons.Logger, opts ...Option) *Bus {
	b := &Bus{
		transport:       transport,
		logger:          logger,
		inboxSize:       256,
		retryWindow:     5 * time.Second,
		retryBackoff:    []time.Duration{time.Second, 2 * time.Second},
		priorityTimeout: 5 * time.Second,
		subs:            make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscription struct {
	topic  Topic
	name   string
	inbox  chan Envelope
	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}
}

// Subscribe registers a named consumer for a topic. Each subscription
// gets its own bounded inbox and a single consumer goroutine, which
// preserves delivery order per topic. The returned function removes
// the subscription and waits for the consumer to drain.
func (b *Bus) Subscribe(topic Topic, name string, h Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		topic:  topic,
		name:   name,
		inbox:  make(chan Envelope, b.inboxSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsub, err := b.transport.Subscribe(topic, name, func(env Envelope) {
		b.deliver(sub, env)
	})
	if err != nil {
		cancel()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: subscribe %s/%s: %w", topic, name, err)
	}
	sub.unsub = unsub

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-sub.inbox:
				b.invoke(ctx, sub, h, env)
			}
		}
	}()

	return func() {
		sub.unsub()
		cancel()
		<-sub.done
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}, nil
}

// invoke isolates handler panics so one bad consumer cannot take the
// subscription goroutine down.
func (b *Bus) invoke(ctx context.Context, sub *subscription, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("bus handler panic",
				"topic", sub.topic, "subscriber", sub.name, "call_id", env.CallID, "panic", r)
		}
	}()
	h(ctx, env)
}

// deliver applies the inbox policy: priority topics block the
// delivering goroutine (bounded), everything else sheds the oldest
// queued envelope.
func (b *Bus) deliver(sub *subscription, env Envelope) {
	if env.Topic.Priority() {
		select {
		case sub.inbox <- env:
		case <-time.After(b.priorityTimeout):
			b.logger.Errorw("priority envelope dropped after blocking",
				"topic", env.Topic, "subscriber", sub.name, "call_id", env.CallID)
		}
		return
	}
	select {
	case sub.inbox <- env:
	default:
		select {
		case dropped := <-sub.inbox:
			b.logger.Warnw("subscriber inbox full, dropping oldest",
				"topic", dropped.Topic, "subscriber", sub.name, "call_id", dropped.CallID)
		default:
		}
		select {
		case sub.inbox <- env:
		default:
			b.logger.Warnw("subscriber inbox still full, dropping envelope",
				"topic", env.Topic, "subscriber", sub.name, "call_id", env.CallID)
		}
	}
}

// Publish sends an envelope, retrying transient transport failures
// with 1s/2s backoff inside a 5 s window.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.mu.Unlock()

	if env.SchemaVersion == 0 {
		env.SchemaVersion = SchemaVersion
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	deadline := time.Now().Add(b.retryWindow)
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = b.transport.Publish(ctx, env)
		if lastErr == nil {
			return nil
		}
		if attempt >= len(b.retryBackoff) || time.Now().After(deadline) {
			break
		}
		b.logger.Warnw("publish failed, retrying",
			"topic", env.Topic, "call_id", env.CallID, "attempt", attempt+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryBackoff[attempt]):
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPublishTimeout, env.Topic, lastErr)
}

// Close tears down all subscriptions and the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.unsub == nil {
			// Subscribe is still registering with the transport;
			// its consumer goroutine never started.
			s.cancel()
			continue
		}
		s.unsub()
		s.cancel()
		<-s.done
	}
	return b.transport.Close()
}

// Deduper suppresses replays keyed on (topic, correlation ID) inside a
// sliding window. At-least-once transports may redeliver; handlers for
// side-effecting topics consult Seen before acting.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = time.Minute
	}
	return &Deduper{window: window, seen: make(map[string]time.Time)}
}

// Seen records the envelope and reports whether it was already
// processed inside the window.
func (d *Deduper) Seen(env Envelope) bool {
	key := string(env.Topic) + "|" + env.CorrelationID
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[key] = now
	if len(d.seen) > 4096 {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	return false
}
