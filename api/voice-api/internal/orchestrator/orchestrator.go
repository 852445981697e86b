// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"

	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
)

// Orchestrator tracks the live call sessions and routes control-plane
// commands to them.
type Orchestrator struct {
	bus    *bus.Bus
	logger commons.Logger

	mu       sync.RWMutex
	sessions map[string]*CallSession

	unsubs []func()
}

func New(b *bus.Bus, logger commons.Logger) *Orchestrator {
	return &Orchestrator{
		bus:      b,
		logger:   logger,
		sessions: make(map[string]*CallSession),
	}
}

// Start subscribes to the control topics other services use to steer
// live calls.
func (o *Orchestrator) Start() error {
	subs := []struct {
		topic   bus.Topic
		handler bus.Handler
	}{
		{bus.TopicStopAudio, o.onStopAudio},
		{bus.TopicEndConversation, o.onEndConversation},
		{bus.TopicGenerateResponse, o.onGenerateResponse},
		{bus.TopicUpdateInstructions, o.onUpdateInstructions},
	}
	for _, sub := range subs {
		unsub, err := o.bus.Subscribe(sub.topic, "controller", sub.handler)
		if err != nil {
			o.Close()
			return err
		}
		o.unsubs = append(o.unsubs, unsub)
	}
	return nil
}

// Add registers a started session. Duplicate call IDs are an error;
// the engine must tear the old session down first.
func (o *Orchestrator) Add(s *CallSession) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.sessions[s.callID]; exists {
		return fmt.Errorf("orchestrator: session %s already active", s.callID)
	}
	o.sessions[s.callID] = s
	return nil
}

// Remove drops a session after teardown.
func (o *Orchestrator) Remove(callID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, callID)
}

// Session resolves a live session.
func (o *Orchestrator) Session(callID string) (*CallSession, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[callID]
	return s, ok
}

// Machine resolves a live call's state machine; the switch webhook
// router depends on this.
func (o *Orchestrator) Machine(callID string) (*internal_callfsm.Machine, bool) {
	s, ok := o.Session(callID)
	if !ok {
		return nil, false
	}
	return s.machine, true
}

// ActiveCalls reports the number of live sessions.
func (o *Orchestrator) ActiveCalls() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

func (o *Orchestrator) onStopAudio(ctx context.Context, env bus.Envelope) {
	s, ok := o.Session(env.CallID)
	if !ok {
		return
	}
	payload, _ := env.Payload.(*bus.StopAudio)
	reason := "control"
	if payload != nil && payload.Reason != "" {
		reason = payload.Reason
	}
	s.stopAudio(reason)
}

func (o *Orchestrator) onEndConversation(ctx context.Context, env bus.Envelope) {
	s, ok := o.Session(env.CallID)
	if !ok {
		return
	}
	// Route through the FSM so teardown runs exactly once via the
	// terminal transition.
	s.machine.Dispatch(internal_callfsm.EventHangup)
}

func (o *Orchestrator) onGenerateResponse(ctx context.Context, env bus.Envelope) {
	s, ok := o.Session(env.CallID)
	if !ok {
		return
	}
	payload, _ := env.Payload.(*bus.GenerateResponse)
	hint := ""
	if payload != nil {
		hint = payload.Hint
	}
	if hint == "" {
		hint = s.template(TemplateErrorGeneric)
	}
	s.speak(hint)
}

func (o *Orchestrator) onUpdateInstructions(ctx context.Context, env bus.Envelope) {
	s, ok := o.Session(env.CallID)
	if !ok {
		return
	}
	payload, ok := env.Payload.(*bus.UpdateInstructions)
	if !ok {
		o.logger.Warnw("unexpected payload", "topic", string(env.Topic), "call_id", env.CallID)
		return
	}
	s.UpdateInstructions(*payload)
}

// Close drops the control subscriptions and every live session.
func (o *Orchestrator) Close() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil

	o.mu.Lock()
	sessions := make([]*CallSession, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.sessions = make(map[string]*CallSession)
	o.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
