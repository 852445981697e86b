// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_vad

import (
	"math"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

const (
	// Noise floor adaptation: slow rise so short speech bursts do not
	// poison the floor, fast decay toward quieter ambience.
	floorRise  = 0.02
	floorDecay = 0.15

	// Absolute RMS below which a frame is never speech, regardless of
	// how quiet the measured floor is.
	minSpeechRMS = 120.0

	defaultEnergyRatio = 2.5
)

// energyEngine is an adaptive-threshold RMS detector. The noise floor
// tracks non-speech frames; a frame is speech when its RMS exceeds the
// floor by a configurable ratio.
type energyEngine struct {
	logger     commons.Logger
	ratio      float64
	noiseFloor float64
	primed     bool
}

func newEnergyEngine(cfg Config, logger commons.Logger) *energyEngine {
	ratio := cfg.Threshold
	if ratio <= 0 {
		ratio = defaultEnergyRatio
	}
	return &energyEngine{logger: logger, ratio: ratio}
}

func (e *energyEngine) Name() string { return "energy" }

func (e *energyEngine) Process(pcm []byte) (Decision, error) {
	samples := utils.PCMBytesToInt16(pcm)
	if len(samples) == 0 {
		return Decision{}, nil
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	if !e.primed {
		e.noiseFloor = rms
		e.primed = true
	}

	threshold := e.noiseFloor * e.ratio
	if threshold < minSpeechRMS {
		threshold = minSpeechRMS
	}
	isSpeech := rms > threshold

	// Adapt the floor on non-speech frames only; during speech the
	// floor would otherwise climb into the voice band.
	if !isSpeech {
		if rms > e.noiseFloor {
			e.noiseFloor += floorRise * (rms - e.noiseFloor)
		} else {
			e.noiseFloor += floorDecay * (rms - e.noiseFloor)
		}
	}

	confidence := 0.0
	if threshold > 0 {
		confidence = (rms - threshold) / threshold
		confidence = 0.5 + confidence/2.0
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}
	}
	return Decision{IsSpeech: isSpeech, Confidence: confidence}, nil
}

func (e *energyEngine) Reset() {
	e.noiseFloor = 0
	e.primed = false
}

func (e *energyEngine) Close() error { return nil }
