// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

const (
	keyPrefix  = "conversation:"
	DefaultTTL = time.Hour
)

var ErrNotFound = errors.New("conversation: not found")

type persistedHistory struct {
	CallID    string        `json:"call_id"`
	Messages  []bus.Message `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store persists transcripts to Redis so a restarted controller can
// resume mid-call context.
type Store struct {
	client  *redis.Client
	logger  commons.Logger
	ttl     time.Duration
	counter TokenCounter
}

// StoreOption tunes a Store.
type StoreOption func(*Store)

// WithTTL overrides the transcript lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewStore(client *redis.Client, counter TokenCounter, logger commons.Logger, opts ...StoreOption) *Store {
	s := &Store{
		client:  client,
		logger:  logger,
		ttl:     DefaultTTL,
		counter: counter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(callID string) string { return keyPrefix + callID }

// Save writes the transcript with a sliding TTL.
func (s *Store) Save(ctx context.Context, h *History) error {
	raw, err := json.Marshal(h.snapshot())
	if err != nil {
		return fmt.Errorf("conversation: marshal %s: %w", h.CallID(), err)
	}
	if err := s.client.Set(ctx, s.key(h.CallID()), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: save %s: %w", h.CallID(), err)
	}
	return nil
}

// Load rebuilds a History from Redis.
func (s *Store) Load(ctx context.Context, callID string) (*History, error) {
	raw, err := s.client.Get(ctx, s.key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: load %s: %w", callID, err)
	}
	var p persistedHistory
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("conversation: decode %s: %w", callID, err)
	}
	h := &History{counter: s.counter}
	h.restore(p)
	return h, nil
}

// Delete drops the transcript once the call ends.
func (s *Store) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, s.key(callID)).Err(); err != nil {
		return fmt.Errorf("conversation: delete %s: %w", callID, err)
	}
	return nil
}
