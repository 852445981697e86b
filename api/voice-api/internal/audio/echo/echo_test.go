// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_echo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

func power(pcm []byte) float64 {
	samples := utils.PCMBytesToInt16(pcm)
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

func TestCancellerAchievesERLE(t *testing.T) {
	// Far-end white noise played to the caller comes back delayed by
	// 5 ms and attenuated 6 dB. After convergence the canceller must
	// strip at least 10 dB of it.
	rng := rand.New(rand.NewSource(42))
	c := NewCanceller(8000, DefaultTaps, 0, commons.NewNopLogger())

	const delaySamples = 40
	const attenuation = 0.5
	const frame = 160
	const frames = 100 // 2 s

	far := make([]float64, frames*frame+delaySamples)
	for i := range far {
		far[i] = (rng.Float64()*2 - 1) * 0.3
	}

	var erleSum float64
	var erleCount int
	for f := 0; f < frames; f++ {
		refSamples := make([]int16, frame)
		micSamples := make([]int16, frame)
		for i := 0; i < frame; i++ {
			idx := f*frame + i
			refSamples[i] = int16(far[idx+delaySamples] * 32767)
			micSamples[i] = int16(attenuation * far[idx] * 32767)
		}
		// Reference is the audio as queued for playback (later in the
		// far signal); mic hears it delaySamples later.
		c.AddReference(utils.Int16ToPCMBytes(refSamples))
		mic := utils.Int16ToPCMBytes(micSamples)
		out := c.Process(mic)

		if f >= 50 { // measure after convergence
			in := power(mic)
			res := power(out)
			if res > 0 {
				erleSum += 10 * math.Log10(in/res)
				erleCount++
			}
		}
	}
	require.Positive(t, erleCount)
	erle := erleSum / float64(erleCount)
	assert.GreaterOrEqual(t, erle, 10.0, "mean ERLE after convergence (dB)")
}

func TestNearEndSpeechPassesWithoutReference(t *testing.T) {
	c := NewCanceller(8000, DefaultTaps, 0, commons.NewNopLogger())
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = int16(6000 * math.Sin(2*math.Pi*300*float64(i)/8000.0))
	}
	in := utils.Int16ToPCMBytes(samples)
	out := c.Process(in)
	// Zero reference means zero estimate: output equals input.
	assert.Equal(t, in, out)
}

func TestReferenceBacklogIsBounded(t *testing.T) {
	c := NewCanceller(8000, DefaultTaps, 200, commons.NewNopLogger())
	// Push 1 s of reference without any mic audio; only 200 ms may be
	// retained.
	c.AddReference(make([]byte, 16000))
	assert.LessOrEqual(t, len(c.refQueue), 1600)
}

func TestResetClearsState(t *testing.T) {
	c := NewCanceller(8000, 64, 0, commons.NewNopLogger())
	c.AddReference(make([]byte, 320))
	c.Process(make([]byte, 320))
	c.Reset()
	assert.Empty(t, c.refQueue)
	for _, w := range c.weights {
		assert.Zero(t, w)
	}
}
