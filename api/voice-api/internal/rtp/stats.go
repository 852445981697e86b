// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_rtp

import (
	"sync"
	"time"
)

// reorderWindow is how far behind the highest sequence a packet may
// arrive and still be accepted as late rather than discarded.
const reorderWindow = 64

// StreamStats tracks one ingress SSRC. The accounting invariant is
//
//	delivered + lost = maxSeq - firstSeq + 1  (mod 2^16, extended)
//
// where delivered counts accepted unique packets and lost is derived,
// never counted directly.
type StreamStats struct {
	mu sync.Mutex

	ssrc        uint32
	initialized bool

	firstExt uint32 // extended first sequence
	maxExt   uint32 // extended highest sequence

	firstAt time.Time
	lastAt  time.Time

	delivered  uint64
	bytes      uint64 // accepted payload bytes
	duplicates uint64
	outOfOrder uint64
	discarded  uint64 // behind the reorder window

	lastTimestamp uint32
	talkSpurts    uint64

	// Recent-seen ring for duplicate detection inside the window.
	seen map[uint32]struct{}
}

func NewStreamStats(ssrc uint32) *StreamStats {
	return &StreamStats{ssrc: ssrc, seen: make(map[uint32]struct{})}
}

// Record accounts one packet. It reports whether the packet should be
// processed (false for duplicates and packets older than the reorder
// window).
func (s *StreamStats) Record(seq uint16, timestamp uint32, marker bool, size int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.initialized {
		s.initialized = true
		s.firstExt = uint32(seq)
		s.maxExt = uint32(seq)
		s.firstAt = now
		s.lastAt = now
		s.delivered = 1
		s.bytes = uint64(size)
		s.lastTimestamp = timestamp
		s.talkSpurts = 1
		s.seen[uint32(seq)] = struct{}{}
		return true
	}

	ext := s.extend(seq)

	switch {
	case ext > s.maxExt:
		s.maxExt = ext
	case s.maxExt-ext > reorderWindow:
		s.discarded++
		return false
	default:
		if _, dup := s.seen[ext]; dup {
			s.duplicates++
			return false
		}
		s.outOfOrder++
	}

	s.seen[ext] = struct{}{}
	if len(s.seen) > 4*reorderWindow {
		for k := range s.seen {
			if s.maxExt-k > 2*reorderWindow {
				delete(s.seen, k)
			}
		}
	}
	s.delivered++
	s.bytes += uint64(size)
	s.lastAt = now

	// A marker bit or a timestamp jump past eight packet strides starts
	// a new talk spurt (the sender suppressed silence).
	if marker || timestamp-s.lastTimestamp > 8*160 {
		s.talkSpurts++
	}
	s.lastTimestamp = timestamp
	return true
}

// extend maps a 16-bit sequence onto the extended space, detecting
// wraparound in either direction near the edges.
func (s *StreamStats) extend(seq uint16) uint32 {
	maxSeq := uint16(s.maxExt)
	delta := seq - maxSeq // wraps naturally in uint16
	if delta < 0x8000 {
		// Forward move; extended arithmetic absorbs 16-bit wraps.
		return s.maxExt + uint32(delta)
	}
	// Backward move (late packet), possibly from before a wrap.
	back := uint32(maxSeq - seq)
	return s.maxExt - back
}

// Snapshot returns the current counters.
type StatsSnapshot struct {
	SSRC          uint32
	Delivered     uint64
	Bytes         uint64
	Lost          uint64
	Expected      uint64
	Duplicates    uint64
	OutOfOrder    uint64
	Discarded     uint64
	TalkSpurts    uint64
	FirstPacketAt time.Time
	LastPacketAt  time.Time
}

func (s *StreamStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		SSRC:          s.ssrc,
		Delivered:     s.delivered,
		Bytes:         s.bytes,
		Duplicates:    s.duplicates,
		OutOfOrder:    s.outOfOrder,
		Discarded:     s.discarded,
		TalkSpurts:    s.talkSpurts,
		FirstPacketAt: s.firstAt,
		LastPacketAt:  s.lastAt,
	}
	if s.initialized {
		snap.Expected = uint64(s.maxExt-s.firstExt) + 1
		if snap.Expected > snap.Delivered {
			snap.Lost = snap.Expected - snap.Delivered
		}
	}
	return snap
}
