// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_rtp

import (
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/audio/codec"
)

// ChannelRecord captures the media binding of one call.
type ChannelRecord struct {
	CallID     string
	LocalPort  int
	RemoteAddr string
	Codec      codec.Codec
	SSRC       uint32 // egress SSRC; ingress SSRCs are learned
	CreatedAt  time.Time
}

// CorrelationManager maps learned ingress SSRCs to calls and calls to
// their channel records. Read-heavy (one lookup per packet), so a
// RWMutex.
type CorrelationManager struct {
	mu       sync.RWMutex
	bySSRC   map[uint32]string
	byCallID map[string]*ChannelRecord
}

func NewCorrelationManager() *CorrelationManager {
	return &CorrelationManager{
		bySSRC:   make(map[uint32]string),
		byCallID: make(map[string]*ChannelRecord),
	}
}

// Register adds a call's channel record.
func (m *CorrelationManager) Register(rec *ChannelRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCallID[rec.CallID] = rec
}

// BindSSRC associates a learned ingress SSRC with a call. Rebinding
// the same SSRC to another call overwrites (switch reinvites reuse
// SSRCs).
func (m *CorrelationManager) BindSSRC(ssrc uint32, callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySSRC[ssrc] = callID
}

// CallBySSRC resolves a learned SSRC to its call.
func (m *CorrelationManager) CallBySSRC(ssrc uint32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	callID, ok := m.bySSRC[ssrc]
	return callID, ok
}

// Record returns the channel record for a call.
func (m *CorrelationManager) Record(callID string) (*ChannelRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byCallID[callID]
	return rec, ok
}

// Unregister removes the call and any SSRCs bound to it.
func (m *CorrelationManager) Unregister(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byCallID, callID)
	for ssrc, id := range m.bySSRC {
		if id == callID {
			delete(m.bySSRC, ssrc)
		}
	}
}

// Count reports registered calls.
func (m *CorrelationManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byCallID)
}
