// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package bus

import (
	"context"
	"sync"
)

// InprocTransport fans envelopes out to in-process subscribers. It is
// the transport used in tests and in single-binary deployments where
// the workers run inside the voice service.
type InprocTransport struct {
	mu     sync.RWMutex
	subs   map[Topic][]*inprocSub
	closed bool
}

type inprocSub struct {
	name    string
	deliver func(Envelope)
}

func NewInprocTransport() *InprocTransport {
	return &InprocTransport{subs: make(map[Topic][]*inprocSub)}
}

func (t *InprocTransport) Publish(_ context.Context, env Envelope) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*inprocSub, len(t.subs[env.Topic]))
	copy(subs, t.subs[env.Topic])
	t.mu.RUnlock()

	for _, s := range subs {
		s.deliver(env)
	}
	return nil
}

func (t *InprocTransport) Subscribe(topic Topic, name string, deliver func(Envelope)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrBusClosed
	}
	sub := &inprocSub{name: name, deliver: deliver}
	t.subs[topic] = append(t.subs[topic], sub)
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		list := t.subs[topic]
		for i, s := range list {
			if s == sub {
				t.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}, nil
}

func (t *InprocTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[Topic][]*inprocSub)
	return nil
}
