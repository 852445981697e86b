// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_callfsm serializes all state transitions of one
// call. Events go through an unbounded FIFO consumed by a single
// goroutine, so call state needs no locking anywhere else: whoever
// wants to mutate state posts an event, whoever wants to react
// registers a transition handler.
package internal_callfsm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/commons"
)

var ErrInvalidTransition = errors.New("callfsm: invalid transition")

// Event is one unit of FSM input.
type Event struct {
	Type    EventType
	At      time.Time
	Payload interface{}
}

// Transition describes a completed state change.
type Transition struct {
	CallID string
	From   State
	To     State
	Event  Event
}

// TransitionHandler fires after the canonical state update. Handlers
// run on the FSM goroutine; panics are isolated.
type TransitionHandler func(tr Transition)

// Config carries the three per-call timers.
type Config struct {
	MaxDuration     time.Duration // default 30 min
	SilenceTimeout  time.Duration // default 30 s, LISTENING/PROCESSING only
	ResponseTimeout time.Duration // default 30 s from entering PROCESSING
}

func (c *Config) applyDefaults() {
	if c.MaxDuration == 0 {
		c.MaxDuration = 30 * time.Minute
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = 30 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 30 * time.Second
	}
}

type Machine struct {
	logger commons.Logger
	callID string
	cfg    Config

	mu          sync.Mutex
	state       State
	queue       []Event
	signal      chan struct{}
	handlers    []TransitionHandler
	rejected    uint64
	mediaBound  bool
	connectedAt time.Time

	// onResponseTimeout lets the orchestrator take the fallback path
	// instead of killing the call; returning false means untreated and
	// the FSM goes to TIMEOUT.
	onResponseTimeout func() bool

	maxTimer      *time.Timer
	silenceTimer  *time.Timer
	responseTimer *time.Timer

	done chan struct{}
}

func New(callID string, cfg Config, logger commons.Logger) *Machine {
	cfg.applyDefaults()
	return &Machine{
		logger: logger,
		callID: callID,
		cfg:    cfg,
		state:  StateRinging,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// OnTransition registers a handler; call before Run.
func (m *Machine) OnTransition(h TransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// SetResponseTimeoutHandler installs the fallback hook; call before Run.
func (m *Machine) SetResponseTimeoutHandler(h func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResponseTimeout = h
}

// State reads the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Timeouts returns the live timer configuration.
func (m *Machine) Timeouts() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateTimeouts replaces the per-call timers mid-call. Armed timers
// are re-armed: silence and response restart with the new duration;
// max duration stays relative to the moment the call connected, so
// shortening it below the elapsed time ends the call immediately.
func (m *Machine) UpdateTimeouts(cfg Config) {
	cfg.applyDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	if m.maxTimer != nil {
		m.maxTimer.Reset(cfg.MaxDuration - time.Since(m.connectedAt))
	}
	if m.silenceTimer != nil {
		m.silenceTimer.Reset(cfg.SilenceTimeout)
	}
	if m.responseTimer != nil {
		m.responseTimer.Reset(cfg.ResponseTimeout)
	}
}

// Done closes when a terminal state is reached.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Rejected reports how many invalid transitions were attempted.
func (m *Machine) Rejected() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected
}

// Dispatch enqueues an event. Never blocks; the FIFO is unbounded by
// design so producers (RTP loop, bus handlers, webhooks) cannot stall
// on the FSM.
func (m *Machine) Dispatch(evType EventType) {
	m.DispatchEvent(Event{Type: evType, At: time.Now()})
}

func (m *Machine) DispatchEvent(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// NoteSpeech resets the silence timer; the orchestrator calls it on
// speech frames so an attentive caller is never timed out.
func (m *Machine) NoteSpeech() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.silenceTimer != nil {
		m.silenceTimer.Reset(m.cfg.SilenceTimeout)
	}
}

// NoteMediaBound marks the caller's media path live. Only the first
// call has effect, so the RTP ingress can report every packet. Early
// media can land before the switch answer webhook; in that case the
// event is held and replayed once the call reaches CONNECTED.
func (m *Machine) NoteMediaBound() {
	m.mu.Lock()
	if m.mediaBound {
		m.mu.Unlock()
		return
	}
	m.mediaBound = true
	ringing := m.state == StateRinging
	m.mu.Unlock()
	if !ringing {
		m.Dispatch(EventMediaBound)
	}
}

// Run consumes the FIFO until a terminal state is reached or the
// context ends. It owns every state mutation.
func (m *Machine) Run(ctx context.Context) {
	defer m.stopTimers()
	for {
		ev, ok := m.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.signal:
				continue
			}
		}
		if m.step(ev) {
			return
		}
	}
}

func (m *Machine) pop() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Event{}, false
	}
	ev := m.queue[0]
	m.queue = m.queue[1:]
	return ev, true
}

// step applies one event; returns true when the call reached a
// terminal state.
func (m *Machine) step(ev Event) bool {
	// The response timer has bespoke semantics: consult the fallback
	// hook before condemning the call.
	if ev.Type == eventResponseTimer {
		m.mu.Lock()
		inProcessing := m.state == StateProcessing
		hook := m.onResponseTimeout
		m.mu.Unlock()
		if !inProcessing {
			return false // stale timer
		}
		if hook != nil && hook() {
			m.logger.Warnw("response timeout handled by fallback", "call_id", m.callID)
			return false
		}
		ev = Event{Type: EventTimeout, At: ev.At}
	}

	m.mu.Lock()
	from := m.state
	to, ok := target(from, ev.Type)
	if !ok {
		m.rejected++
		m.mu.Unlock()
		m.logger.Warnw("rejected transition",
			"call_id", m.callID, "state", string(from), "event", string(ev.Type), "error", ErrInvalidTransition)
		return false
	}
	if ev.Type == eventSilenceTimer && from != StateListening && from != StateProcessing {
		// Stale silence timer that fired while transitioning away.
		m.mu.Unlock()
		return false
	}
	m.state = to
	if to == StateConnected && m.mediaBound {
		// Media landed during RINGING; replay the held event.
		m.queue = append(m.queue, Event{Type: EventMediaBound, At: time.Now()})
	}
	handlers := make([]TransitionHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.adjustTimers(from, to)

	tr := Transition{CallID: m.callID, From: from, To: to, Event: ev}
	m.logger.Infow("call transition",
		"call_id", m.callID, "from", string(from), "to", string(to), "event", string(ev.Type))
	for _, h := range handlers {
		m.fire(h, tr)
	}

	if to.Terminal() {
		close(m.done)
		return true
	}
	return false
}

func (m *Machine) fire(h TransitionHandler, tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("transition handler panic",
				"call_id", m.callID, "to", string(tr.To), "panic", r)
		}
	}()
	h(tr)
}

// adjustTimers starts and stops the three timers around transitions.
func (m *Machine) adjustTimers(from, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if from == StateRinging && to == StateConnected {
		m.connectedAt = time.Now()
		m.maxTimer = time.AfterFunc(m.cfg.MaxDuration, func() {
			m.DispatchEvent(Event{Type: eventMaxDurationTimer})
		})
	}

	silenceActive := to == StateListening || to == StateProcessing
	if silenceActive && m.silenceTimer == nil {
		m.silenceTimer = time.AfterFunc(m.cfg.SilenceTimeout, func() {
			m.DispatchEvent(Event{Type: eventSilenceTimer})
		})
	} else if silenceActive {
		// Keep running across LISTENING<->PROCESSING: continuous
		// non-speech accumulates across both.
	} else if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}

	if to == StateProcessing {
		m.responseTimer = time.AfterFunc(m.cfg.ResponseTimeout, func() {
			m.DispatchEvent(Event{Type: eventResponseTimer})
		})
	} else if m.responseTimer != nil {
		m.responseTimer.Stop()
		m.responseTimer = nil
	}
}

func (m *Machine) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range []*time.Timer{m.maxTimer, m.silenceTimer, m.responseTimer} {
		if t != nil {
			t.Stop()
		}
	}
}
