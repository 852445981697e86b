// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_artifact persists synthesized audio on disk and
// expires it. Only artifact handles cross the bus, never the audio.
package internal_artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

// DefaultTTL is how long an artifact outlives its creation. Playback
// normally happens within a second or two; the slack covers replays
// after a barge-in.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is how often the janitor scans for expired
// artifacts.
const DefaultSweepInterval = 30 * time.Second

var ErrEmptyAudio = errors.New("artifact: empty audio")

// Store writes artifacts under a base directory and deletes them when
// their TTL lapses or their call ends.
type Store struct {
	dir    string
	ttl    time.Duration
	logger commons.Logger

	mu     sync.Mutex
	byID   map[string]bus.Artifact
	byCall map[string][]string

	clock func() time.Time
}

// StoreOption tunes a Store.
type StoreOption func(*Store)

// WithTTL overrides the artifact lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore builds a store rooted at dir, creating it if needed.
func NewStore(dir string, logger commons.Logger, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create dir %q: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		ttl:    DefaultTTL,
		logger: logger,
		byID:   make(map[string]bus.Artifact),
		byCall: make(map[string][]string),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put persists audio as a new artifact for callID and returns its
// descriptor. The handle is the absolute file path.
func (s *Store) Put(callID string, audio []byte, sampleRate int, encoding string) (bus.Artifact, error) {
	if len(audio) == 0 {
		return bus.Artifact{}, ErrEmptyAudio
	}
	if encoding == "" {
		encoding = "s16le"
	}

	id := uuid.NewString()
	handle := filepath.Join(s.dir, id+"."+encoding)
	if err := os.WriteFile(handle, audio, 0o644); err != nil {
		return bus.Artifact{}, fmt.Errorf("artifact: write %q: %w", handle, err)
	}

	now := s.clock()
	art := bus.Artifact{
		ArtifactID: id,
		Handle:     handle,
		DurationMs: len(audio) / 2 * 1000 / sampleRate,
		ByteLength: len(audio),
		SampleRate: sampleRate,
		Encoding:   encoding,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		CallID:     callID,
	}

	s.mu.Lock()
	s.byID[id] = art
	s.byCall[callID] = append(s.byCall[callID], id)
	s.mu.Unlock()
	return art, nil
}

// Get returns a live artifact descriptor.
func (s *Store) Get(artifactID string) (bus.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.byID[artifactID]
	return art, ok
}

// Count reports the number of live artifacts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// ExpireCall removes every artifact belonging to a finished call.
func (s *Store) ExpireCall(callID string) {
	s.mu.Lock()
	ids := s.byCall[callID]
	delete(s.byCall, callID)
	arts := make([]bus.Artifact, 0, len(ids))
	for _, id := range ids {
		if art, ok := s.byID[id]; ok {
			arts = append(arts, art)
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()

	for _, art := range arts {
		s.remove(art)
	}
	if len(arts) > 0 {
		s.logger.Debugw("call artifacts expired", "call_id", callID, "count", len(arts))
	}
}

// Sweep removes artifacts past their TTL and returns how many went.
func (s *Store) Sweep() int {
	now := s.clock()

	s.mu.Lock()
	var expired []bus.Artifact
	for id, art := range s.byID {
		if now.After(art.ExpiresAt) {
			expired = append(expired, art)
			delete(s.byID, id)
		}
	}
	for _, art := range expired {
		ids := s.byCall[art.CallID]
		for i, id := range ids {
			if id == art.ArtifactID {
				s.byCall[art.CallID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(s.byCall[art.CallID]) == 0 {
			delete(s.byCall, art.CallID)
		}
	}
	s.mu.Unlock()

	for _, art := range expired {
		s.remove(art)
	}
	return len(expired)
}

// RunJanitor sweeps on an interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debugw("artifacts swept", "count", n)
			}
		}
	}
}

func (s *Store) remove(art bus.Artifact) {
	if err := os.Remove(art.Handle); err != nil && !os.IsNotExist(err) {
		s.logger.Warnw("artifact delete failed", "handle", art.Handle, "error", err)
	}
}
