// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// sileroEngine scores frames with the Silero ONNX model. The detector
// wants fixed windows (512 samples at 16 kHz, 256 at 8 kHz), so frames
// accumulate in a small buffer and the last window's verdict carries
// until the next window completes.
type sileroEngine struct {
	logger   commons.Logger
	detector *speech.Detector
	window   int
	buf      []float32
	last     Decision
}

func newSileroEngine(cfg Config, logger commons.Logger) (*sileroEngine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("vad: silero engine requires a model path")
	}
	window := 512
	if cfg.SampleRate == 8000 {
		window = 256
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:   cfg.ModelPath,
		SampleRate:  cfg.SampleRate,
		WindowSize:  window,
		Threshold:   float32(threshold),
		SpeechPadMs: 30,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: create silero detector: %w", err)
	}
	return &sileroEngine{logger: logger, detector: detector, window: window}, nil
}

func (s *sileroEngine) Name() string { return "silero" }

func (s *sileroEngine) Process(pcm []byte) (Decision, error) {
	s.buf = append(s.buf, utils.PCMBytesToFloat32(pcm)...)
	for len(s.buf) >= s.window {
		chunk := s.buf[:s.window]
		segments, err := s.detector.Detect(chunk)
		if err != nil {
			return s.last, fmt.Errorf("vad: silero detect: %w", err)
		}
		if len(segments) > 0 {
			s.last = Decision{IsSpeech: true, Confidence: 0.9}
		} else {
			s.last = Decision{IsSpeech: false, Confidence: 0.1}
		}
		s.buf = s.buf[s.window:]
	}
	return s.last, nil
}

func (s *sileroEngine) Reset() {
	s.buf = s.buf[:0]
	s.last = Decision{}
	if err := s.detector.Reset(); err != nil {
		s.logger.Warnw("silero detector reset failed", "error", err)
	}
}

func (s *sileroEngine) Close() error {
	return s.detector.Destroy()
}
