// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_denoise implements streaming spectral-subtraction
// noise suppression. The noise magnitude profile seeds from the
// leading frames of a call (assumed silence before the caller speaks)
// and keeps adapting on low-energy bins afterwards.
package internal_denoise

import (
	"math"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// Mode selects suppression strength.
type Mode string

const (
	ModeOff        Mode = "off"
	ModeGentle     Mode = "gentle"
	ModeModerate   Mode = "moderate"
	ModeAggressive Mode = "aggressive"
)

const (
	fftSize = 256
	hopSize = fftSize / 2

	// Windows of leading audio averaged into the initial noise profile
	// (16 hops = ~256 ms at 8 kHz).
	noiseSeedWindows = 16

	// EMA rate for continuous profile adaptation on noise-like bins.
	noiseAdapt = 0.05
)

// Suppressor is a streaming processor: Process returns as many output
// samples as it was given, delayed by one hop (16 ms at 8 kHz) for the
// overlap-add reconstruction. Not safe for concurrent use.
type Suppressor struct {
	logger commons.Logger
	mode   Mode
	alpha  float64 // oversubtraction factor
	beta   float64 // spectral floor

	window  []float64
	inBuf   []float64
	overlap []float64
	ready   []float64
	noise   []float64
	seeded  int
}

func NewSuppressor(mode Mode, logger commons.Logger) *Suppressor {
	s := &Suppressor{
		logger:  logger,
		mode:    mode,
		window:  make([]float64, fftSize),
		overlap: make([]float64, hopSize),
		noise:   make([]float64, fftSize/2+1),
	}
	switch mode {
	case ModeGentle:
		s.alpha, s.beta = 1.0, 0.12
	case ModeModerate:
		s.alpha, s.beta = 2.0, 0.06
	case ModeAggressive:
		s.alpha, s.beta = 3.0, 0.02
	}
	for i := range s.window {
		// Hann; with 50% overlap the analysis-synthesis pair sums to a
		// constant, so sqrt-Hann on both sides reconstructs exactly.
		s.window[i] = math.Sqrt(0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/float64(fftSize))))
	}
	return s
}

func (s *Suppressor) Mode() Mode { return s.mode }

// Process pushes a frame through the suppressor. Output length equals
// input length; the first hop of a call comes back as silence while
// the overlap-add pipeline fills.
func (s *Suppressor) Process(pcm []byte) []byte {
	if s.mode == ModeOff || s.mode == "" {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	in := utils.PCMBytesToFloat32(pcm)
	for _, v := range in {
		s.inBuf = append(s.inBuf, float64(v))
	}

	for len(s.inBuf) >= fftSize {
		s.processWindow(s.inBuf[:fftSize])
		s.inBuf = s.inBuf[hopSize:]
	}

	n := len(in)
	out := make([]float32, n)
	if len(s.ready) >= n {
		for i := 0; i < n; i++ {
			out[i] = float32(s.ready[i])
		}
		s.ready = s.ready[n:]
	} else {
		// Not enough processed audio yet: left-pad with silence.
		pad := n - len(s.ready)
		for i, v := range s.ready {
			out[pad+i] = float32(v)
		}
		s.ready = s.ready[:0]
	}
	return utils.Float32ToPCMBytes(out)
}

func (s *Suppressor) processWindow(frame []float64) {
	re := make([]float64, fftSize)
	im := make([]float64, fftSize)
	for i := 0; i < fftSize; i++ {
		re[i] = frame[i] * s.window[i]
	}
	fft(re, im, false)

	half := fftSize/2 + 1
	for k := 0; k < half; k++ {
		mag := math.Hypot(re[k], im[k])

		if s.seeded < noiseSeedWindows {
			s.noise[k] += mag / float64(noiseSeedWindows)
		} else if mag < 2.0*s.noise[k] {
			s.noise[k] += noiseAdapt * (mag - s.noise[k])
		}

		cleaned := mag - s.alpha*s.noise[k]
		floor := s.beta * mag
		if cleaned < floor {
			cleaned = floor
		}
		gain := 0.0
		if mag > 1e-12 {
			gain = cleaned / mag
		}
		re[k] *= gain
		im[k] *= gain
		// Mirror the conjugate bin.
		if k > 0 && k < fftSize/2 {
			re[fftSize-k] *= gain
			im[fftSize-k] *= gain
		}
	}
	if s.seeded < noiseSeedWindows {
		s.seeded++
	}

	fft(re, im, true)
	for i := 0; i < fftSize; i++ {
		re[i] *= s.window[i]
	}

	// Overlap-add: with 50% overlap exactly two windows cover every
	// sample, so the first hop is complete and the second hop carries
	// over to the next window.
	for i := 0; i < hopSize; i++ {
		s.ready = append(s.ready, s.overlap[i]+re[i])
	}
	for i := 0; i < hopSize; i++ {
		s.overlap[i] = re[hopSize+i]
	}
}

// Reset clears all streaming state including the noise profile.
func (s *Suppressor) Reset() {
	s.inBuf = s.inBuf[:0]
	s.ready = s.ready[:0]
	for i := range s.overlap {
		s.overlap[i] = 0
	}
	for i := range s.noise {
		s.noise[i] = 0
	}
	s.seeded = 0
}
