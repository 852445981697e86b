// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/api/voice-api/config"
	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
	internal_orchestrator "github.com/voxbridgeai/api/voice-api/internal/orchestrator"
	internal_rtp "github.com/voxbridgeai/api/voice-api/internal/rtp"
	internal_switchctl "github.com/voxbridgeai/api/voice-api/internal/switchctl"
	"github.com/voxbridgeai/pkg/audio/codec"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(text) }

type fakeSwitch struct {
	mu          sync.Mutex
	redirects   []string
	snoops      []string
	hangups     []string
	redirectErr error
}

func (f *fakeSwitch) PlayArtifact(ctx context.Context, channelID, handle string) (*internal_switchctl.Playback, error) {
	return &internal_switchctl.Playback{ID: "pb-1"}, nil
}

func (f *fakeSwitch) SayLetters(ctx context.Context, channelID, text string) (*internal_switchctl.Playback, error) {
	return &internal_switchctl.Playback{ID: "pb-2"}, nil
}

func (f *fakeSwitch) StopPlayback(ctx context.Context, playbackID string) error { return nil }

func (f *fakeSwitch) Hangup(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, channelID)
	return nil
}

func (f *fakeSwitch) Snoop(ctx context.Context, channelID, app string) (*internal_switchctl.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snoops = append(f.snoops, channelID+":"+app)
	return &internal_switchctl.Channel{ID: "snoop-1"}, nil
}

func (f *fakeSwitch) Redirect(ctx context.Context, channelID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redirectErr != nil {
		return f.redirectErr
	}
	f.redirects = append(f.redirects, channelID+":"+endpoint)
	return nil
}

func newServiceFixture(t *testing.T) (*Service, *internal_orchestrator.Orchestrator, *fakeSwitch, *bus.Bus) {
	t.Helper()
	logger := commons.NewNopLogger()
	b := bus.New(bus.NewInprocTransport(), logger)
	t.Cleanup(func() { b.Close() })

	pool, err := internal_rtp.NewPortPool(41000, 41010, logger)
	require.NoError(t, err)
	engine := internal_rtp.NewEngine(pool, internal_rtp.NewCorrelationManager(), logger)

	orch := internal_orchestrator.New(b, logger)
	swtch := &fakeSwitch{}
	svc := New(Params{
		Config:       &config.VoiceConfig{},
		Bus:          b,
		RTP:          engine,
		Orchestrator: orch,
		Switch:       swtch,
		Logger:       logger,
	})
	return svc, orch, swtch, b
}

func addSession(t *testing.T, orch *internal_orchestrator.Orchestrator, b *bus.Bus, swtch *fakeSwitch, callID, channelUUID string) (*internal_callfsm.Machine, chan string) {
	t.Helper()
	return addInstructedSession(t, orch, b, swtch, callID, channelUUID, internal_orchestrator.Instructions{})
}

func addInstructedSession(t *testing.T, orch *internal_orchestrator.Orchestrator, b *bus.Bus, swtch *fakeSwitch, callID, channelUUID string, instr internal_orchestrator.Instructions) (*internal_callfsm.Machine, chan string) {
	t.Helper()
	logger := commons.NewNopLogger()
	machine := internal_callfsm.New(callID, internal_callfsm.Config{}, logger)
	ended := make(chan string, 1)

	session := internal_orchestrator.NewCallSession(internal_orchestrator.SessionParams{
		CallID:       callID,
		ChannelUUID:  channelUUID,
		Config:       internal_orchestrator.Config{},
		Instructions: instr,
		Bus:          b,
		Machine:      machine,
		Switch:       swtch,
		Counter:      wordCounter{},
		OnEnd:        func(reason string) { ended <- reason },
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, session.Start(ctx))
	go machine.Run(ctx)
	require.NoError(t, orch.Add(session))
	return machine, ended
}

func TestParseCodec(t *testing.T) {
	cases := []struct {
		name string
		want codec.Codec
	}{
		{"", codec.PCMU},
		{"pcmu", codec.PCMU},
		{"ULAW", codec.PCMU},
		{"pcma", codec.PCMA},
		{"alaw", codec.PCMA},
		{"g722", codec.G722},
		{"L16", codec.L16},
		{"slin", codec.L16},
	}
	for _, tc := range cases {
		got, err := ParseCodec(tc.name)
		require.NoError(t, err, "codec %q", tc.name)
		assert.Equal(t, tc.want, got, "codec %q", tc.name)
	}

	_, err := ParseCodec("opus")
	assert.ErrorIs(t, err, codec.ErrUnsupportedCodec)
}

func TestTransferUnknownCall(t *testing.T) {
	svc, _, _, _ := newServiceFixture(t)
	err := svc.TransferCall(context.Background(), "nope", "PJSIP/desk")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestTransferRedirectsAndEndsCall(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	machine, ended := addSession(t, orch, b, swtch, "call-tr", "chan-9")

	require.NoError(t, svc.TransferCall(context.Background(), "call-tr", "PJSIP/agent-desk"))

	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateEnded },
		2*time.Second, 5*time.Millisecond)
	select {
	case reason := <-ended:
		assert.Equal(t, "transfer_complete", reason)
	case <-time.After(time.Second):
		t.Fatal("session never tore down")
	}

	swtch.mu.Lock()
	defer swtch.mu.Unlock()
	require.Len(t, swtch.redirects, 1)
	assert.Equal(t, "chan-9:PJSIP/agent-desk", swtch.redirects[0])
}

func TestTransferWithoutChannelFails(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	addSession(t, orch, b, swtch, "call-nc", "")

	err := svc.TransferCall(context.Background(), "call-nc", "PJSIP/desk")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCallNotFound)
}

func TestTransferFallsBackToInstructedTarget(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	machine, _ := addInstructedSession(t, orch, b, swtch, "call-ft", "chan-7",
		internal_orchestrator.Instructions{TransferTarget: "PJSIP/fallback-desk"})

	require.NoError(t, svc.TransferCall(context.Background(), "call-ft", ""))
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateEnded },
		2*time.Second, 5*time.Millisecond)

	swtch.mu.Lock()
	defer swtch.mu.Unlock()
	require.Len(t, swtch.redirects, 1)
	assert.Equal(t, "chan-7:PJSIP/fallback-desk", swtch.redirects[0])
}

func TestTransferWithoutTargetFails(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	addSession(t, orch, b, swtch, "call-nt", "chan-8")

	err := svc.TransferCall(context.Background(), "call-nt", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCallNotFound)
}

func TestTransferRedirectFailureErrorsCall(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	swtch.redirectErr = errors.New("switch down")
	machine, _ := addSession(t, orch, b, swtch, "call-rf", "chan-1")

	err := svc.TransferCall(context.Background(), "call-rf", "PJSIP/desk")
	require.Error(t, err)
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateError },
		2*time.Second, 5*time.Millisecond)
}

func TestEndCall(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	machine, _ := addSession(t, orch, b, swtch, "call-e", "chan-2")

	assert.False(t, svc.EndCall("missing"))
	assert.True(t, svc.EndCall("call-e"))
	require.Eventually(t, func() bool { return machine.State() == internal_callfsm.StateEnded },
		2*time.Second, 5*time.Millisecond)
}

func TestCallStatusReportsStateAndTurns(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	addSession(t, orch, b, swtch, "call-s", "chan-3")

	status, ok := svc.CallStatus("call-s")
	require.True(t, ok)
	assert.Equal(t, "call-s", status.CallID)
	assert.Equal(t, string(internal_callfsm.StateRinging), status.State)
	assert.Zero(t, status.Turns)

	_, ok = svc.CallStatus("missing")
	assert.False(t, ok)
}

func TestUpdateInstructions(t *testing.T) {
	svc, orch, swtch, b := newServiceFixture(t)
	addSession(t, orch, b, swtch, "call-ui", "chan-4")

	assert.ErrorIs(t, svc.UpdateInstructions("missing", bus.UpdateInstructions{}), ErrCallNotFound)

	patch := bus.UpdateInstructions{Voice: "verse", Metadata: map[string]string{"queue": "vip"}}
	require.NoError(t, svc.UpdateInstructions("call-ui", patch))

	status, ok := svc.CallStatus("call-ui")
	require.True(t, ok)
	assert.Equal(t, "vip", status.Metadata["queue"])
}
