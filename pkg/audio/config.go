// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package audio

import "fmt"

// Format identifies the sample encoding of a PCM buffer.
type Format string

const (
	FormatS16LE Format = "s16le"
)

// Config describes a linear PCM stream. All audio inside the platform
// is s16le; Config carries the rate/channel shape a buffer is in.
type Config struct {
	SampleRate int
	Channels   int
	Format     Format
}

// Telephony-standard shapes.
var (
	Narrowband = Config{SampleRate: 8000, Channels: 1, Format: FormatS16LE}
	Wideband   = Config{SampleRate: 16000, Channels: 1, Format: FormatS16LE}
)

func (c Config) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", c.SampleRate, c.Channels, string(c.Format))
}

// BytesPerMs returns the byte length of one millisecond of audio in
// this configuration.
func (c Config) BytesPerMs() int {
	return c.SampleRate * c.Channels * 2 / 1000
}

// FrameBytes returns the byte length of a frame of the given duration.
func (c Config) FrameBytes(durationMs int) int {
	return c.BytesPerMs() * durationMs
}

// SamplesPerFrame returns the per-channel sample count of a frame of
// the given duration.
func (c Config) SamplesPerFrame(durationMs int) int {
	return c.SampleRate * durationMs / 1000
}

// DurationMs returns the playback duration of a PCM buffer in this
// configuration, rounded down to whole milliseconds.
func (c Config) DurationMs(pcm []byte) int {
	bpm := c.BytesPerMs()
	if bpm == 0 {
		return 0
	}
	return len(pcm) / bpm
}
