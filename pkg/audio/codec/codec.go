// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package codec converts between RTP payload encodings and the
// platform-internal s16le PCM representation. G.711 comes from
// github.com/zaf/g711; G.722 is implemented in g722.go because its
// decoder is stateful and no maintained Go module covers it.
package codec

import (
	"errors"
	"fmt"

	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/audio/resampler"
)

// Codec names the wire encoding of an RTP media stream.
type Codec string

const (
	PCMU Codec = "pcmu" // G.711 mu-law, static payload type 0
	PCMA Codec = "pcma" // G.711 A-law, static payload type 8
	G722 Codec = "g722" // G.722 wideband, static payload type 9
	L16  Codec = "l16"  // uncompressed s16le passthrough
)

var (
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")
	ErrMalformedPayload = errors.New("codec: malformed payload")
)

// FromPayloadType maps a static RTP payload type to a codec.
func FromPayloadType(pt uint8) (Codec, error) {
	switch pt {
	case 0:
		return PCMU, nil
	case 8:
		return PCMA, nil
	case 9:
		return G722, nil
	default:
		return "", fmt.Errorf("%w: payload type %d", ErrUnsupportedCodec, pt)
	}
}

// PayloadType returns the static RTP payload type for the codec. L16
// has no static assignment and reports the conventional dynamic 96.
func (c Codec) PayloadType() uint8 {
	switch c {
	case PCMU:
		return 0
	case PCMA:
		return 8
	case G722:
		return 9
	default:
		return 96
	}
}

// SampleRate returns the audio sampling rate of the decoded PCM. Note
// that G.722 audio is 16 kHz even though its RTP clock runs at 8 kHz.
func (c Codec) SampleRate() int {
	if c == G722 {
		return 16000
	}
	return 8000
}

// RTPClockRate returns the RTP timestamp clock rate. G.722 carries the
// historical 8 kHz clock despite its 16 kHz audio.
func (c Codec) RTPClockRate() int {
	return 8000
}

// PCMConfig returns the PCM shape produced by Decode.
func (c Codec) PCMConfig() audio.Config {
	if c == G722 {
		return audio.Wideband
	}
	return audio.Narrowband
}

// PayloadBytesPer20ms returns the expected wire payload size for one
// 20 ms frame.
func (c Codec) PayloadBytesPer20ms() int {
	switch c {
	case PCMU, PCMA:
		return 160
	case G722:
		return 160 // 16 kHz audio at 4 bits/sample average, 64 kbit/s
	case L16:
		return 320
	default:
		return 0
	}
}

// Decoder turns wire payloads into s16le PCM. Implementations may be
// stateful (G.722) and are not safe for concurrent use.
type Decoder interface {
	Codec() Codec
	Decode(payload []byte) ([]byte, error)
}

// Encoder turns s16le PCM into wire payloads. Same statefulness caveat
// as Decoder.
type Encoder interface {
	Codec() Codec
	Encode(pcm []byte) ([]byte, error)
}

// NewDecoder returns a fresh decoder for the codec.
func NewDecoder(c Codec) (Decoder, error) {
	switch c {
	case PCMU:
		return &ulawCodec{}, nil
	case PCMA:
		return &alawCodec{}, nil
	case G722:
		return newG722Codec(), nil
	case L16:
		return &l16Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
	}
}

// NewEncoder returns a fresh encoder for the codec.
func NewEncoder(c Codec) (Encoder, error) {
	switch c {
	case PCMU:
		return &ulawCodec{}, nil
	case PCMA:
		return &alawCodec{}, nil
	case G722:
		return newG722Codec(), nil
	case L16:
		return &l16Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
	}
}

// Shared filter bank for cross-rate transcodes. Design happens lazily
// inside the resampler, so the zero-logger instance is cheap.
var xrate = resampler.GetResampler(nil)

// Transcode re-encodes a payload from one codec to another, resampling
// in between when the two run at different rates. The input must be
// whole 20 ms frames: 160 bytes (or a multiple) for mu-law at 8 kHz.
func Transcode(from, to Codec, payload []byte) ([]byte, error) {
	frame := from.PayloadBytesPer20ms()
	if frame == 0 || len(payload) == 0 || len(payload)%frame != 0 {
		return nil, fmt.Errorf("%w: %s payload of %d bytes is not whole 20 ms frames",
			ErrMalformedPayload, from, len(payload))
	}
	if from == to {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	dec, err := NewDecoder(from)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(to)
	if err != nil {
		return nil, err
	}
	pcm, err := dec.Decode(payload)
	if err != nil {
		return nil, err
	}
	if from.SampleRate() != to.SampleRate() {
		pcm, err = xrate.Resample(pcm, from.PCMConfig(), to.PCMConfig())
		if err != nil {
			return nil, err
		}
	}
	return enc.Encode(pcm)
}

// l16Codec passes s16le through untouched, validating even length.
type l16Codec struct{}

func (l *l16Codec) Codec() Codec { return L16 }

func (l *l16Codec) Decode(payload []byte) ([]byte, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd l16 payload length %d", ErrMalformedPayload, len(payload))
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (l *l16Codec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm length %d", ErrMalformedPayload, len(pcm))
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}
