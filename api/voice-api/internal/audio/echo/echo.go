// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_echo removes the agent's own played audio from the
// caller stream with an NLMS adaptive filter. The reference is the
// audio handed to the switch for playback; echo paths through a
// handset or speakerphone come back delayed and attenuated, which a
// 256-tap filter covers up to 32 ms of spread at 8 kHz.
package internal_echo

import (
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

const (
	DefaultTaps = 256

	// Reference backlog cap. If playback reporting stalls longer than
	// this, stale reference is useless anyway.
	DefaultReferenceMs = 200

	stepSize = 0.5
	epsilon  = 1e-6
)

// Canceller is per-call, single-goroutine state.
type Canceller struct {
	logger     commons.Logger
	sampleRate int
	taps       int

	weights []float64
	delay   []float64 // reference delay line, newest at index 0

	refQueue []float64
	maxRef   int
}

func NewCanceller(sampleRate, taps, referenceMs int, logger commons.Logger) *Canceller {
	if taps <= 0 {
		taps = DefaultTaps
	}
	if referenceMs <= 0 {
		referenceMs = DefaultReferenceMs
	}
	return &Canceller{
		logger:     logger,
		sampleRate: sampleRate,
		taps:       taps,
		weights:    make([]float64, taps),
		delay:      make([]float64, taps),
		maxRef:     sampleRate * referenceMs / 1000,
	}
}

// AddReference feeds audio that is being played toward the caller.
// Called from the egress path; samples queue until the matching mic
// audio arrives.
func (c *Canceller) AddReference(pcm []byte) {
	ref := utils.PCMBytesToFloat32(pcm)
	for _, v := range ref {
		c.refQueue = append(c.refQueue, float64(v))
	}
	if len(c.refQueue) > c.maxRef {
		drop := len(c.refQueue) - c.maxRef
		c.refQueue = c.refQueue[drop:]
	}
}

// Process cancels echo from one frame of caller audio. The reference
// queue advances in lockstep, one sample per mic sample; when no
// reference is queued (nothing playing) the frame passes through with
// zero reference, which leaves it untouched once the filter has
// converged toward the echo path.
func (c *Canceller) Process(pcm []byte) []byte {
	mic := utils.PCMBytesToFloat32(pcm)
	out := make([]float32, len(mic))

	for i, d := range mic {
		var x float64
		if len(c.refQueue) > 0 {
			x = c.refQueue[0]
			c.refQueue = c.refQueue[1:]
		}

		copy(c.delay[1:], c.delay[:c.taps-1])
		c.delay[0] = x

		var estimate, power float64
		for k := 0; k < c.taps; k++ {
			estimate += c.weights[k] * c.delay[k]
			power += c.delay[k] * c.delay[k]
		}

		err := float64(d) - estimate

		norm := stepSize / (epsilon + power)
		for k := 0; k < c.taps; k++ {
			c.weights[k] += norm * err * c.delay[k]
		}

		out[i] = float32(err)
	}
	return utils.Float32ToPCMBytes(out)
}

// Reset drops filter state between talk sessions.
func (c *Canceller) Reset() {
	for i := range c.weights {
		c.weights[i] = 0
	}
	for i := range c.delay {
		c.delay[i] = 0
	}
	c.refQueue = c.refQueue[:0]
}
