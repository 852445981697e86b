// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCleanSequence(t *testing.T) {
	s := NewStreamStats(0x1234)
	for seq := uint16(100); seq < 200; seq++ {
		require.True(t, s.Record(seq, uint32(seq)*160, false, 160))
	}
	snap := s.Snapshot()
	assert.Equal(t, uint64(100), snap.Delivered)
	assert.Equal(t, uint64(100), snap.Expected)
	assert.Equal(t, uint64(100*160), snap.Bytes)
	assert.Zero(t, snap.Lost)
	assert.Zero(t, snap.OutOfOrder)
	// The accounting invariant: delivered + lost == expected.
	assert.Equal(t, snap.Expected, snap.Delivered+snap.Lost)
	assert.False(t, snap.FirstPacketAt.IsZero())
	assert.False(t, snap.LastPacketAt.Before(snap.FirstPacketAt))
}

func TestStatsLossAccounting(t *testing.T) {
	s := NewStreamStats(1)
	// Deliver 0..9, skip 10..19, deliver 20..29.
	for seq := uint16(0); seq < 10; seq++ {
		s.Record(seq, uint32(seq)*160, false, 160)
	}
	for seq := uint16(20); seq < 30; seq++ {
		s.Record(seq, uint32(seq)*160, false, 160)
	}
	snap := s.Snapshot()
	assert.Equal(t, uint64(20), snap.Delivered)
	assert.Equal(t, uint64(30), snap.Expected)
	assert.Equal(t, uint64(10), snap.Lost)
	assert.Equal(t, snap.Expected, snap.Delivered+snap.Lost)
}

func TestStatsOutOfOrderWithinWindow(t *testing.T) {
	s := NewStreamStats(1)
	s.Record(0, 0, false, 160)
	s.Record(1, 160, false, 160)
	s.Record(3, 480, false, 160)
	// Late packet 2 arrives inside the window: accepted, fills the gap.
	require.True(t, s.Record(2, 320, false, 160))

	snap := s.Snapshot()
	assert.Equal(t, uint64(4), snap.Delivered)
	assert.Equal(t, uint64(4), snap.Expected)
	assert.Zero(t, snap.Lost)
	assert.Equal(t, uint64(1), snap.OutOfOrder)
}

func TestStatsDuplicatesRejected(t *testing.T) {
	s := NewStreamStats(1)
	s.Record(5, 800, false, 160)
	s.Record(6, 960, false, 160)
	assert.False(t, s.Record(6, 960, false, 160), "duplicate must be rejected")

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Delivered)
	assert.Equal(t, uint64(1), snap.Duplicates)
}

func TestStatsAncientPacketDiscarded(t *testing.T) {
	s := NewStreamStats(1)
	s.Record(0, 0, false, 160)
	for seq := uint16(1); seq <= 200; seq++ {
		s.Record(seq, uint32(seq)*160, false, 160)
	}
	assert.False(t, s.Record(10, 1600, false, 160), "behind the reorder window")
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Discarded)
}

func TestStatsSequenceWraparound(t *testing.T) {
	s := NewStreamStats(1)
	// Cross the 16-bit boundary: 65530..65535 then 0..9.
	for seq := uint16(65530); seq != 10; seq++ {
		require.True(t, s.Record(seq, 0, false, 160), "seq %d", seq)
	}
	snap := s.Snapshot()
	assert.Equal(t, uint64(16), snap.Delivered)
	assert.Equal(t, uint64(16), snap.Expected)
	assert.Zero(t, snap.Lost)
	assert.Equal(t, snap.Expected, snap.Delivered+snap.Lost)
}

func TestStatsTalkSpurts(t *testing.T) {
	s := NewStreamStats(1)
	s.Record(0, 0, false, 160)
	s.Record(1, 160, false, 160)
	// Marker starts a new spurt.
	s.Record(2, 320, true, 160)
	// Large timestamp jump (silence suppressed) starts another.
	s.Record(3, 320+80000, false, 160)
	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.TalkSpurts)
}
