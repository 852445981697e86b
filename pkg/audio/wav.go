// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavPCMFormat = 1

var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV wraps s16le PCM in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, cfg Config) []byte {
	var buf bytes.Buffer
	byteRate := cfg.SampleRate * cfg.Channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(cfg.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(cfg.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(cfg.Channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV extracts s16le PCM and its configuration from a RIFF/WAVE
// container. Only uncompressed 16-bit PCM is accepted.
func DecodeWAV(data []byte) ([]byte, Config, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Config{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var cfg Config
	cfg.Format = FormatS16LE
	pos := 12
	var pcm []byte
	haveFmt := false
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			return nil, Config{}, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, chunkID)
		}
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, Config{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != wavPCMFormat || bits != 16 {
				return nil, Config{}, fmt.Errorf("%w: unsupported format %d/%d-bit", ErrInvalidWAV, format, bits)
			}
			cfg.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			cfg.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			pcm = make([]byte, chunkLen)
			copy(pcm, data[body:body+chunkLen])
		}
		// Chunks are word aligned.
		pos = body + chunkLen + chunkLen%2
	}
	if !haveFmt || pcm == nil {
		return nil, Config{}, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidWAV)
	}
	return pcm, cfg, nil
}
