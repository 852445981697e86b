// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_vad provides frame-level voice activity detection.
// Engines return a per-frame decision only; hysteresis and utterance
// assembly belong to the pipeline.
package internal_vad

import (
	"errors"
	"fmt"

	"github.com/voxbridgeai/pkg/commons"
)

var ErrUnknownEngine = errors.New("vad: unknown engine")

// Decision is the per-frame verdict.
type Decision struct {
	IsSpeech   bool
	Confidence float64
}

// Engine scores one frame of s16le PCM at a time. Engines keep
// per-call state and are not safe for concurrent use.
type Engine interface {
	Name() string
	Process(pcm []byte) (Decision, error)
	Reset()
	Close() error
}

// Config selects and tunes an engine.
type Config struct {
	Engine     string  // "energy" (default) or "silero"
	SampleRate int
	Threshold  float64 // engine-specific sensitivity
	ModelPath  string  // silero only
}

// GetEngine builds the configured engine, defaulting to the energy
// detector when no engine is named.
func GetEngine(cfg Config, logger commons.Logger) (Engine, error) {
	switch cfg.Engine {
	case "", "energy":
		return newEnergyEngine(cfg, logger), nil
	case "silero":
		return newSileroEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}
