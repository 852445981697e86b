// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_recorder captures both sides of a call onto a
// shared timeline and renders one WAV per track.
package internal_recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/commons"

	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
)

// chunk is a recorded fragment placed at a byte position relative to
// Start().
type chunk struct {
	byteOffset int
	data       []byte
	track      int
}

const (
	trackCaller = 0
	trackAgent  = 1
)

type Recorder struct {
	logger commons.Logger
	cfg    audio.Config

	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []chunk
	// Per-track cursor: the byte position just past the last written
	// byte. Caller audio arrives at real-time rate, so wall-clock
	// placement is correct. Agent (TTS) audio arrives in bursts faster
	// than real time, so after the first chunk of a segment the cursor
	// paces placement at the playback rate — wall-clock placement for
	// every chunk leaves tiny gaps or overlaps between burst chunks.
	cursor [2]int

	// clock is injectable for tests.
	clock func() time.Time
}

func New(cfg audio.Config, logger commons.Logger) *Recorder {
	return &Recorder{
		logger: logger,
		cfg:    cfg,
		clock:  time.Now,
	}
}

// Start anchors the shared timeline. Both tracks place audio relative
// to this moment.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

// Record places PCM on the track matching its source.
func (r *Recorder) Record(source internal_type.FrameSource, pcm []byte) {
	switch source {
	case internal_type.SourceCaller:
		r.push(pcm, trackCaller)
	case internal_type.SourceAgent:
		r.push(pcm, trackAgent)
	}
}

// durationBytes converts a wall-clock duration to a sample-aligned
// byte count.
func (r *Recorder) durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(r.cfg.BytesPerMs()) * 1000)
	align := 2 * r.cfg.Channels
	return (raw / align) * align
}

func (r *Recorder) push(pcm []byte, track int) {
	if len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wallOffset := 0
	if r.started {
		wallOffset = r.durationBytes(r.clock().Sub(r.startTime))
	}

	var offset int
	switch track {
	case trackCaller:
		offset = wallOffset
		if r.cursor[track] > offset {
			offset = r.cursor[track]
		}
	case trackAgent:
		if r.cursor[track] > wallOffset {
			// Burst continuation: pace from the cursor.
			offset = r.cursor[track]
		} else {
			// New segment: anchor at wall-clock.
			offset = wallOffset
		}
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	r.chunks = append(r.chunks, chunk{byteOffset: offset, data: buf, track: track})
	r.cursor[track] = offset + len(buf)
}

// Persist renders one WAV per track. Both span the full session with
// silence in the gaps.
func (r *Recorder) Persist() (callerWAV, agentWAV []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return nil, nil, fmt.Errorf("recorder: no audio recorded")
	}

	totalLen := 0
	if r.started {
		totalLen = r.durationBytes(r.clock().Sub(r.startTime))
	}
	for _, c := range r.chunks {
		if end := c.byteOffset + len(c.data); end > totalLen {
			totalLen = end
		}
	}

	callerPCM := make([]byte, totalLen)
	agentPCM := make([]byte, totalLen)
	for _, c := range r.chunks {
		if c.track == trackCaller {
			copy(callerPCM[c.byteOffset:], c.data)
		} else {
			copy(agentPCM[c.byteOffset:], c.data)
		}
	}

	r.logger.Debugw("recording persisted",
		"total_ms", r.cfg.DurationMs(callerPCM), "chunks", len(r.chunks))

	return audio.EncodeWAV(callerPCM, r.cfg), audio.EncodeWAV(agentPCM, r.cfg), nil
}
