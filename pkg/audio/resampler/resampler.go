// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package resampler converts PCM between sample rates with a
// band-limited polyphase FIR (Kaiser-windowed sinc). Naive sample
// duplication or decimation is never used: imaging/aliasing products
// must stay at least 40 dB below the carrier across 8k/16k conversions.
package resampler

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

var ErrUnsupportedConversion = errors.New("resampler: unsupported conversion")

// Resampler converts s16le PCM between two stream configurations.
type Resampler interface {
	Resample(pcm []byte, from, to audio.Config) ([]byte, error)
}

type firResampler struct {
	logger commons.Logger

	mu      sync.Mutex
	filters map[filterKey]*polyphaseFilter
}

type filterKey struct {
	l int
	m int
}

type polyphaseFilter struct {
	l            int
	m            int
	tapsPerPhase int
	// coefficients in polyphase order: coeffs[phase][tap]
	phases [][]float64
}

// GetResampler returns the shared band-limited resampler. Filter banks
// are designed lazily per rate pair and cached.
func GetResampler(logger commons.Logger) Resampler {
	return &firResampler{
		logger:  logger,
		filters: make(map[filterKey]*polyphaseFilter),
	}
}

func (r *firResampler) Resample(pcm []byte, from, to audio.Config) ([]byte, error) {
	if from.Channels != 1 || to.Channels != 1 {
		return nil, fmt.Errorf("%w: only mono streams are resampled (%s -> %s)", ErrUnsupportedConversion, from, to)
	}
	if from.SampleRate <= 0 || to.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: non-positive rate (%s -> %s)", ErrUnsupportedConversion, from, to)
	}
	if from.SampleRate == to.SampleRate {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm length %d", ErrUnsupportedConversion, len(pcm))
	}

	g := gcd(from.SampleRate, to.SampleRate)
	f := r.filter(to.SampleRate/g, from.SampleRate/g)

	in := utils.PCMBytesToFloat32(pcm)
	out := f.apply(in)
	return utils.Float32ToPCMBytes(out), nil
}

func (r *firResampler) filter(l, m int) *polyphaseFilter {
	key := filterKey{l: l, m: m}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.filters[key]; ok {
		return f
	}
	f := designPolyphase(l, m)
	r.filters[key] = f
	if r.logger != nil {
		r.logger.Debugw("designed resampler filter bank",
			"interpolation", l, "decimation", m, "taps_per_phase", f.tapsPerPhase)
	}
	return f
}

// tapsPerPhase of 24 with a beta-10 Kaiser window gives ~90 dB
// stopband, comfortably past the 40 dB spur requirement.
const tapsPerPhase = 24

func designPolyphase(l, m int) *polyphaseFilter {
	n := tapsPerPhase * l
	// Cut off below the narrower of the two Nyquist bands, with a
	// small transition margin.
	cutoff := 0.45
	if m > l {
		cutoff = 0.45 * float64(l) / float64(m)
	}
	center := float64(n-1) / 2.0
	beta := 10.0
	denom := besselI0(beta)

	h := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) - center
		x := 2.0*float64(i)/float64(n-1) - 1.0
		window := besselI0(beta*math.Sqrt(1.0-x*x)) / denom
		h[i] = float64(l) * 2.0 * cutoff * sinc(2.0*cutoff*t/float64(l)) * window
	}

	phases := make([][]float64, l)
	for p := 0; p < l; p++ {
		phases[p] = make([]float64, tapsPerPhase)
		for k := 0; k < tapsPerPhase; k++ {
			idx := k*l + p
			if idx < n {
				phases[p][k] = h[idx]
			}
		}
	}
	return &polyphaseFilter{l: l, m: m, tapsPerPhase: tapsPerPhase, phases: phases}
}

func (f *polyphaseFilter) apply(in []float32) []float32 {
	outLen := len(in) * f.l / f.m
	out := make([]float32, outLen)
	// Group delay in input samples; shifting the read index by it keeps
	// the output time-aligned with the input.
	delay := (f.tapsPerPhase - 1) / 2
	for n := 0; n < outLen; n++ {
		num := n * f.m
		phase := num % f.l
		base := num/f.l + delay
		var acc float64
		taps := f.phases[phase]
		for k := 0; k < f.tapsPerPhase; k++ {
			idx := base - k
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += taps[k] * float64(in[idx])
		}
		out[n] = float32(acc)
	}
	return out
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1.0
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// besselI0 is the zeroth-order modified Bessel function, series form,
// used by the Kaiser window.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2.0
	for k := 1; k < 32; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < 1e-12*sum {
			break
		}
	}
	return sum
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
