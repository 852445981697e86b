// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/pkg/commons"
)

const redisChannelPrefix = "voxbus:"

// RedisTransport carries envelopes over Redis pub/sub, one channel per
// topic, JSON on the wire. This is the transport between the voice
// service and worker processes.
type RedisTransport struct {
	client *redis.Client
	logger commons.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	closed  bool
}

func NewRedisTransport(client *redis.Client, logger commons.Logger) *RedisTransport {
	return &RedisTransport{client: client, logger: logger}
}

func (t *RedisTransport) Publish(ctx context.Context, env Envelope) error {
	data, err := MarshalWire(env)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", env.Topic, err)
	}
	if err := t.client.Publish(ctx, redisChannelPrefix+string(env.Topic), data).Err(); err != nil {
		return fmt.Errorf("bus: redis publish %s: %w", env.Topic, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(topic Topic, name string, deliver func(Envelope)) (func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrBusClosed
	}
	ps := t.client.Subscribe(context.Background(), redisChannelPrefix+string(topic))
	t.pubsubs = append(t.pubsubs, ps)
	t.mu.Unlock()

	// Force the subscription onto the wire before returning so a
	// publish immediately after Subscribe is not lost.
	if _, err := ps.Receive(context.Background()); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: redis subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range ps.Channel() {
			env, err := UnmarshalWire([]byte(msg.Payload))
			if err != nil {
				t.logger.Warnw("discarding undecodable envelope",
					"topic", topic, "subscriber", name, "error", err)
				continue
			}
			deliver(env)
		}
	}()

	return func() {
		_ = ps.Close()
	}, nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, ps := range t.pubsubs {
		_ = ps.Close()
	}
	t.pubsubs = nil
	return nil
}
