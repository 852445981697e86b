// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_rtp is the media engine: per-call UDP sessions with
// decoded ingress and paced egress, a leased port pool and SSRC/call
// correlation.
package internal_rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/audio/codec"
	"github.com/voxbridgeai/pkg/commons"
)

type Engine struct {
	logger     commons.Logger
	pool       *PortPool
	correlator *CorrelationManager

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session *Session
	port    int
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewEngine(pool *PortPool, correlator *CorrelationManager, logger commons.Logger) *Engine {
	return &Engine{
		logger:     logger,
		pool:       pool,
		correlator: correlator,
		sessions:   make(map[string]*sessionEntry),
	}
}

// StartSession leases a port and brings up the call's RTP endpoint.
func (e *Engine) StartSession(callID string, mediaCodec codec.Codec, remote *net.UDPAddr, ingress IngressFunc, tap EgressTapFunc) (*Session, error) {
	e.mu.Lock()
	if _, exists := e.sessions[callID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("rtp: session already exists for call %s", callID)
	}
	e.mu.Unlock()

	port, err := e.pool.Lease(callID)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(SessionConfig{
		CallID:    callID,
		LocalPort: port,
		Remote:    remote,
		Codec:     mediaCodec,
		Ingress:   ingress,
		Tap:       tap,
		// Learned ingress SSRCs bind to the call on their first packet;
		// BindSSRC is idempotent, so rebinds on SSRC reuse are safe.
		OnNewStream: func(ssrc uint32) {
			e.correlator.BindSSRC(ssrc, callID)
		},
	}, e.logger)
	if err != nil {
		e.pool.Release(port)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &sessionEntry{session: session, port: port, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.sessions[callID] = entry
	e.mu.Unlock()

	rec := &ChannelRecord{
		CallID:    callID,
		LocalPort: port,
		Codec:     mediaCodec,
		SSRC:      session.SSRC(),
		CreatedAt: time.Now(),
	}
	if remote != nil {
		rec.RemoteAddr = remote.String()
	}
	e.correlator.Register(rec)
	e.correlator.BindSSRC(session.SSRC(), callID)

	go func() {
		defer close(entry.done)
		session.Run(ctx)
	}()

	e.logger.Infow("rtp session started",
		"call_id", callID, "port", port, "codec", string(mediaCodec), "ssrc", session.SSRC())
	return session, nil
}

// Session returns a running session.
func (e *Engine) Session(callID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.sessions[callID]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// StopSession tears the session down and returns its port to the pool.
// The port is released before return, well inside the 1 s guarantee
// after a call reaches a terminal state.
func (e *Engine) StopSession(callID string) {
	e.mu.Lock()
	entry, ok := e.sessions[callID]
	if ok {
		delete(e.sessions, callID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	entry.cancel()
	_ = entry.session.Close()
	select {
	case <-entry.done:
	case <-time.After(time.Second):
		e.logger.Errorw("rtp session did not stop in time", "call_id", callID)
	}
	e.pool.Release(entry.port)
	e.correlator.Unregister(callID)

	snaps, malformed, rejected := entry.session.Stats()
	for _, snap := range snaps {
		e.logger.Infow("rtp stream closed",
			"call_id", callID, "ssrc", snap.SSRC,
			"delivered", snap.Delivered, "lost", snap.Lost,
			"out_of_order", snap.OutOfOrder, "duplicates", snap.Duplicates,
			"talk_spurts", snap.TalkSpurts)
	}
	e.logger.Infow("rtp session stopped",
		"call_id", callID, "malformed", malformed, "rejected_payload_types", rejected)
}

// StopAll tears down every session, used on service shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	callIDs := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		callIDs = append(callIDs, id)
	}
	e.mu.Unlock()
	for _, id := range callIDs {
		e.StopSession(id)
	}
}

// ActiveSessions reports running session count.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
