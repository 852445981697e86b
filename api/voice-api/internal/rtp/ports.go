// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_rtp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxbridgeai/pkg/commons"
)

var ErrNoPortsAvailable = errors.New("rtp: no ports available")

// PortPool leases even UDP ports from [low, high] for RTP sessions
// (odd ports stay free for RTCP by convention). Process-global state
// behind a mutex; lease and release are O(range) worst case which is
// irrelevant at telephony port-range sizes.
type PortPool struct {
	logger commons.Logger

	mu    sync.Mutex
	low   int
	high  int
	next  int
	inUse map[int]string // port -> call_id
}

func NewPortPool(low, high int, logger commons.Logger) (*PortPool, error) {
	if low%2 != 0 {
		low++
	}
	if low <= 0 || high <= low {
		return nil, fmt.Errorf("rtp: invalid port range [%d, %d]", low, high)
	}
	return &PortPool{
		logger: logger,
		low:    low,
		high:   high,
		next:   low,
		inUse:  make(map[int]string),
	}, nil
}

// Lease reserves an even port for the call.
func (p *PortPool) Lease(callID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := (p.high - p.low) / 2
	for i := 0; i <= total; i++ {
		port := p.next
		p.next += 2
		if p.next > p.high {
			p.next = p.low
		}
		if _, taken := p.inUse[port]; !taken {
			p.inUse[port] = callID
			p.logger.Debugw("leased rtp port", "port", port, "call_id", callID)
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: range [%d, %d] exhausted", ErrNoPortsAvailable, p.low, p.high)
}

// Release returns a port to the pool. Releasing an unleased port is a
// no-op.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if callID, ok := p.inUse[port]; ok {
		delete(p.inUse, port)
		p.logger.Debugw("released rtp port", "port", port, "call_id", callID)
	}
}

// InUse reports the number of leased ports.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
