// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_type

import (
	"context"
	"time"
)

// FrameSource identifies where a frame entered the system.
type FrameSource string

const (
	SourceCaller FrameSource = "caller"
	SourceAgent  FrameSource = "agent"
)

// Frame is one fixed-duration slice of s16le PCM moving through the
// conditioning pipeline. Frames are never partial: the framer holds
// residual bytes until a full frame accumulates.
type Frame struct {
	Data       []byte
	Timestamp  time.Time
	DurationMs int
	SampleRate int
	Channels   int
	BitDepth   int
	Source     FrameSource

	// Set by the VAD stage.
	IsSpeech   bool
	Confidence float64
}

// Clone returns a deep copy; stages that buffer frames must not alias
// pipeline-owned data.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// Utterance is a contiguous run of speech assembled by the pipeline,
// ready for transcription.
type Utterance struct {
	CallID     string
	StartTime  time.Time
	Duration   time.Duration
	Audio      []byte // s16le PCM at SampleRate
	SampleRate int
	Confidence float64
	// Forced marks utterances cut by the max-duration or memory bound
	// rather than trailing silence.
	Forced bool
}

// Stage is one conditioning step. Stages run on the pipeline goroutine
// for a single call, so implementations need no internal locking but
// must not block.
type Stage interface {
	Name() string
	Process(ctx context.Context, frame Frame) (Frame, error)
}
