// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package utils

import "encoding/binary"

// AverageFloat32 returns the arithmetic mean, 0 for an empty slice.
func AverageFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

// PCMBytesToInt16 reinterprets little-endian 16-bit PCM bytes as
// samples. A trailing odd byte is dropped.
func PCMBytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// Int16ToPCMBytes serializes samples as little-endian 16-bit PCM.
func Int16ToPCMBytes(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

// PCMBytesToFloat32 converts little-endian 16-bit PCM to normalized
// [-1, 1] float samples.
func PCMBytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768.0
	}
	return samples
}

// Float32ToPCMBytes converts normalized float samples back to
// little-endian 16-bit PCM, clamping to the int16 range.
func Float32ToPCMBytes(samples []float32) []byte {
	data := make([]byte, 2*len(samples))
	for i, f := range samples {
		v := f * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(v)))
	}
	return data
}
