// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/commons"
)

func newTestRecorder() *Recorder {
	r := New(audio.Narrowband, commons.NewNopLogger())
	now := time.Now()
	// Frozen clock: offsets come from the paced cursors only.
	r.clock = func() time.Time { return now }
	return r
}

func fill(val byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = val
	}
	return buf
}

func wavPCM(wav []byte) []byte { return wav[44:] }

func TestRecordPlacesTracks(t *testing.T) {
	rec := newTestRecorder()
	rec.Start()
	rec.Record(internal_type.SourceCaller, fill(0x01, 320))
	rec.Record(internal_type.SourceAgent, fill(0x02, 640))

	require.Len(t, rec.chunks, 2)
	assert.Equal(t, trackCaller, rec.chunks[0].track)
	assert.Equal(t, trackAgent, rec.chunks[1].track)
}

func TestRecordEmptyIsIgnored(t *testing.T) {
	rec := newTestRecorder()
	rec.Start()
	rec.Record(internal_type.SourceCaller, nil)
	rec.Record(internal_type.SourceAgent, []byte{})
	assert.Empty(t, rec.chunks)
}

func TestRecordCopiesData(t *testing.T) {
	rec := newTestRecorder()
	rec.Start()
	data := fill(0xFF, 100)
	rec.Record(internal_type.SourceCaller, data)
	data[0] = 0x00
	assert.Equal(t, byte(0xFF), rec.chunks[0].data[0])
}

func TestAgentBurstsArePaced(t *testing.T) {
	rec := newTestRecorder()
	rec.Start()
	// Five chunks arrive instantly; pacing places them back to back.
	for i := 0; i < 5; i++ {
		rec.Record(internal_type.SourceAgent, fill(byte(i+1), 320))
	}

	require.Len(t, rec.chunks, 5)
	for i, c := range rec.chunks {
		assert.Equal(t, i*320, c.byteOffset, "chunk %d must be contiguous", i)
		assert.Equal(t, byte(i+1), c.data[0])
	}
}

func TestPersistEmptyFails(t *testing.T) {
	rec := newTestRecorder()
	_, _, err := rec.Persist()
	assert.Error(t, err)
}

func TestPersistRendersBothTracks(t *testing.T) {
	rec := newTestRecorder()
	rec.Start()
	rec.Record(internal_type.SourceCaller, fill(0x11, 3200))
	rec.Record(internal_type.SourceAgent, fill(0x22, 6400))

	callerWAV, agentWAV, err := rec.Persist()
	require.NoError(t, err)

	for name, wav := range map[string][]byte{"caller": callerWAV, "agent": agentWAV} {
		require.GreaterOrEqual(t, len(wav), 44, "%s WAV too short", name)
		assert.Equal(t, "RIFF", string(wav[0:4]), name)
		assert.Equal(t, "WAVE", string(wav[8:12]), name)
	}
	assert.Equal(t, len(wavPCM(callerWAV)), len(wavPCM(agentWAV)), "tracks must share one timeline")
}

func TestPersistFillsGapsWithSilence(t *testing.T) {
	rec := newTestRecorder()
	rec.Start()
	rec.Record(internal_type.SourceCaller, fill(0x11, 100))
	rec.Record(internal_type.SourceAgent, fill(0x22, 200))

	callerWAV, agentWAV, err := rec.Persist()
	require.NoError(t, err)
	callerPCM := wavPCM(callerWAV)
	agentPCM := wavPCM(agentWAV)

	// Frozen clock: both tracks anchor at offset 0.
	assert.Equal(t, byte(0x11), callerPCM[0])
	assert.Equal(t, byte(0x00), callerPCM[150], "caller track is silent past its audio")
	assert.Equal(t, byte(0x22), agentPCM[0])
	assert.Equal(t, byte(0x22), agentPCM[199])
}
