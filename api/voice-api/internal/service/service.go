// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_service composes the per-call machinery: media
// session, conditioning pipeline, state machine and orchestration.
package internal_service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridgeai/api/voice-api/config"
	internal_denoise "github.com/voxbridgeai/api/voice-api/internal/audio/denoise"
	internal_echo "github.com/voxbridgeai/api/voice-api/internal/audio/echo"
	internal_pipeline "github.com/voxbridgeai/api/voice-api/internal/audio/pipeline"
	internal_vad "github.com/voxbridgeai/api/voice-api/internal/audio/vad"
	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
	internal_callstore "github.com/voxbridgeai/api/voice-api/internal/callstore"
	internal_conversation "github.com/voxbridgeai/api/voice-api/internal/conversation"
	internal_orchestrator "github.com/voxbridgeai/api/voice-api/internal/orchestrator"
	internal_recorder "github.com/voxbridgeai/api/voice-api/internal/recorder"
	internal_rtp "github.com/voxbridgeai/api/voice-api/internal/rtp"
	internal_switchctl "github.com/voxbridgeai/api/voice-api/internal/switchctl"
	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/audio/codec"
	"github.com/voxbridgeai/pkg/audio/resampler"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

// ErrCallNotFound reports an operation against a call that is not live
// on this node.
var ErrCallNotFound = errors.New("service: call not found")

// SwitchClient is the switch surface the service drives. Sessions see
// only the narrower control slice.
type SwitchClient interface {
	internal_orchestrator.SwitchControl
	Snoop(ctx context.Context, channelID, app string) (*internal_switchctl.Channel, error)
	Redirect(ctx context.Context, channelID, endpoint string) error
}

// Service owns everything a running voice node needs.
type Service struct {
	cfg    *config.VoiceConfig
	logger commons.Logger

	bus       *bus.Bus
	rtp       *internal_rtp.Engine
	orch      *internal_orchestrator.Orchestrator
	calls     internal_callstore.Store
	convStore *internal_conversation.Store
	swtch     SwitchClient
	counter   internal_conversation.TokenCounter
	xrate     resampler.Resampler

	// RecordingsDir enables two-track call recording when set.
	recordingsDir string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

type Params struct {
	Config        *config.VoiceConfig
	Bus           *bus.Bus
	RTP           *internal_rtp.Engine
	Orchestrator  *internal_orchestrator.Orchestrator
	Calls         internal_callstore.Store // optional
	Conversations *internal_conversation.Store
	Switch        SwitchClient // optional
	RecordingsDir string
	Logger        commons.Logger
}

func New(p Params) *Service {
	return &Service{
		cfg:           p.Config,
		logger:        p.Logger,
		bus:           p.Bus,
		rtp:           p.RTP,
		orch:          p.Orchestrator,
		calls:         p.Calls,
		convStore:     p.Conversations,
		swtch:         p.Switch,
		counter:       internal_conversation.NewTokenCounter(p.Logger),
		xrate:         resampler.GetResampler(p.Logger),
		recordingsDir: p.RecordingsDir,
		active:        make(map[string]context.CancelFunc),
	}
}

// StartCallParams describes one new call.
type StartCallParams struct {
	CallID       string // generated when empty
	Codec        string // pcmu | pcma | g722 | l16
	RemoteAddr   string // caller media endpoint, latched from RTP when empty
	ChannelUUID  string
	Direction    string
	CallerNumber string
	CalleeNumber string

	// AutoAnswer drives the call to LISTENING immediately; otherwise
	// the switch answer webhook does it.
	AutoAnswer bool

	// SnoopMedia originates a snoop channel on the switch so the
	// caller's audio is forked to this node without dialplan changes.
	SnoopMedia bool

	// Instructions carries per-call overrides; zero fields inherit the
	// node config.
	Instructions internal_orchestrator.Instructions
}

// ParseCodec maps a config name onto a media codec.
func ParseCodec(name string) (codec.Codec, error) {
	switch strings.ToLower(name) {
	case "", "pcmu", "ulaw":
		return codec.PCMU, nil
	case "pcma", "alaw":
		return codec.PCMA, nil
	case "g722":
		return codec.G722, nil
	case "l16", "slin":
		return codec.L16, nil
	default:
		return "", fmt.Errorf("%w: %q", codec.ErrUnsupportedCodec, name)
	}
}

// StartCall brings up the full per-call stack and returns the call ID
// and the leased RTP port.
func (s *Service) StartCall(ctx context.Context, p StartCallParams) (string, int, error) {
	if p.CallID == "" {
		p.CallID = uuid.NewString()
	}
	mediaCodec, err := ParseCodec(p.Codec)
	if err != nil {
		return "", 0, err
	}

	var remote *net.UDPAddr
	if p.RemoteAddr != "" {
		remote, err = net.ResolveUDPAddr("udp", p.RemoteAddr)
		if err != nil {
			return "", 0, fmt.Errorf("service: remote addr %q: %w", p.RemoteAddr, err)
		}
	}

	audioCfg := audio.Narrowband
	if mediaCodec.SampleRate() == 16000 {
		audioCfg = audio.Wideband
	}

	vadEngine, err := internal_vad.GetEngine(internal_vad.Config{
		Engine:     s.cfg.VAD.Engine,
		SampleRate: audioCfg.SampleRate,
		Threshold:  s.cfg.VAD.ConfidenceThreshold,
		ModelPath:  s.cfg.VAD.ModelPath,
	}, s.logger)
	if err != nil {
		return "", 0, err
	}

	var suppressor *internal_denoise.Suppressor
	if mode := internal_denoise.Mode(s.cfg.Noise.Mode); mode != internal_denoise.ModeOff && s.cfg.Noise.Mode != "" {
		suppressor = internal_denoise.NewSuppressor(mode, s.logger)
	}
	var canceller *internal_echo.Canceller
	if s.cfg.Echo.Enabled {
		canceller = internal_echo.NewCanceller(audioCfg.SampleRate, internal_echo.DefaultTaps, s.cfg.Echo.ReferenceMs, s.logger)
	}

	pipeline := internal_pipeline.New(internal_pipeline.Config{
		CallID:            p.CallID,
		Audio:             audioCfg,
		FrameMs:           s.cfg.Pipeline.FrameMs,
		HysteresisIn:      s.cfg.VAD.KIn,
		HysteresisOut:     s.cfg.VAD.KOut,
		MinUtteranceMs:    s.cfg.Pipeline.MinUtteranceMs,
		MaxUtteranceMs:    s.cfg.Pipeline.MaxUtteranceMs,
		MaxUtteranceBytes: s.cfg.Pipeline.MaxUtteranceBytes,
		SilenceFlushMs:    s.cfg.Pipeline.SilenceTimeoutMs,
	}, vadEngine, suppressor, canceller, s.logger)

	var rec *internal_recorder.Recorder
	if s.recordingsDir != "" && p.Instructions.RecordingEnabled(true) {
		rec = internal_recorder.New(audioCfg, s.logger)
	}

	machine := internal_callfsm.New(p.CallID, p.Instructions.Timeouts(internal_callfsm.Config{
		MaxDuration:     time.Duration(s.cfg.StateMachine.MaxDurationSec) * time.Second,
		SilenceTimeout:  time.Duration(s.cfg.StateMachine.SilenceTimeoutSec) * time.Second,
		ResponseTimeout: time.Duration(s.cfg.StateMachine.ResponseTimeoutSec) * time.Second,
	}), s.logger)

	ingress := func(pcm []byte) {
		machine.NoteMediaBound()
		if err := pipeline.Push(pcm); err != nil {
			return
		}
		if rec != nil {
			rec.Record(internal_type.SourceCaller, pcm)
		}
	}
	tap := func(pcm []byte) {
		pipeline.AddReference(pcm)
		if rec != nil {
			rec.Record(internal_type.SourceAgent, pcm)
		}
	}

	rtpSession, err := s.rtp.StartSession(p.CallID, mediaCodec, remote, ingress, tap)
	if err != nil {
		return "", 0, err
	}

	session := internal_orchestrator.NewCallSession(internal_orchestrator.SessionParams{
		CallID:       p.CallID,
		ChannelUUID:  p.ChannelUUID,
		Instructions: p.Instructions,
		Config: internal_orchestrator.Config{
			SystemPrompt:      s.cfg.Conversation.SystemPrompt,
			MaxHistoryTokens:  s.cfg.Conversation.MaxTokens,
			Language:          s.cfg.Conversation.Language,
			Voice:             s.cfg.TTS.Voice,
			TTSSampleRate:     s.cfg.TTS.SampleRate,
			LLMMaxTokens:      s.cfg.LLM.MaxTokens,
			LLMTemperature:    s.cfg.LLM.Temperature,
			DisableBargeIn:    !s.cfg.BargeIn.Enabled,
			BargeInDebounce:   time.Duration(s.cfg.BargeIn.DebounceMs) * time.Millisecond,
			BargeInConfidence: s.cfg.BargeIn.ConfidenceThreshold,
			FallbackEnabled:   s.cfg.Fallback.Enabled,
		},
		Bus:         s.bus,
		Machine:     machine,
		Store:       s.convStore,
		Media:       rtpSession,
		MediaConfig: audioCfg,
		Resampler:   s.xrate,
		Switch:      s.swtch,
		Counter:     s.counter,
		OnEnd:       func(reason string) { s.finishCall(p.CallID, machine, rec, reason) },
		Logger:      s.logger,
	})

	callCtx, cancel := context.WithCancel(ctx)
	if err := session.Start(callCtx); err != nil {
		cancel()
		s.rtp.StopSession(p.CallID)
		return "", 0, err
	}
	if err := s.orch.Add(session); err != nil {
		cancel()
		session.Close()
		s.rtp.StopSession(p.CallID)
		return "", 0, err
	}

	if s.calls != nil {
		record := &internal_callstore.CallRecord{
			CallID:       p.CallID,
			Direction:    p.Direction,
			CallerNumber: p.CallerNumber,
			CalleeNumber: p.CalleeNumber,
			Codec:        string(mediaCodec),
			LocalPort:    rtpSession.LocalPort(),
			ChannelUUID:  p.ChannelUUID,
			Status:       internal_callstore.StatusClaimed,
		}
		if _, err := s.calls.Save(ctx, record); err != nil {
			s.logger.Warnw("call record save failed", "call_id", p.CallID, "error", err)
		}
	}

	s.mu.Lock()
	s.active[p.CallID] = cancel
	s.mu.Unlock()

	go machine.Run(callCtx)
	go pipeline.Run(callCtx)
	go session.ConsumePipeline(pipeline)
	if rec != nil {
		rec.Start()
	}

	if p.SnoopMedia && s.swtch != nil && p.ChannelUUID != "" {
		snoopCtx, snoopCancel := context.WithTimeout(ctx, 5*time.Second)
		snoop, err := s.swtch.Snoop(snoopCtx, p.ChannelUUID, s.cfg.Name)
		snoopCancel()
		if err != nil {
			// Media may still arrive through a dialplan fork.
			s.logger.Warnw("media snoop failed", "call_id", p.CallID, "channel_uuid", p.ChannelUUID, "error", err)
		} else {
			s.logger.Infow("media snoop originated", "call_id", p.CallID, "snoop_channel", snoop.ID)
		}
	}

	if p.AutoAnswer {
		machine.Dispatch(internal_callfsm.EventAnswered)
		machine.NoteMediaBound()
	}

	s.logger.Infow("call started",
		"call_id", p.CallID, "codec", string(mediaCodec), "rtp_port", rtpSession.LocalPort())
	return p.CallID, rtpSession.LocalPort(), nil
}

// finishCall releases per-call resources after the orchestrator's
// teardown. Runs once per call.
func (s *Service) finishCall(callID string, machine *internal_callfsm.Machine, rec *internal_recorder.Recorder, reason string) {
	s.rtp.StopSession(callID)
	s.orch.Remove(callID)

	s.mu.Lock()
	if cancel, ok := s.active[callID]; ok {
		cancel()
		delete(s.active, callID)
	}
	s.mu.Unlock()

	if rec != nil {
		s.persistRecording(callID, rec)
	}

	if s.calls != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status := internal_callstore.StatusCompleted
		if machine.State() == internal_callfsm.StateError {
			status = internal_callstore.StatusFailed
		}
		if err := s.calls.Finish(ctx, callID, status, string(machine.State()), reason); err != nil {
			s.logger.Warnw("call record finish failed", "call_id", callID, "error", err)
		}
	}
}

func (s *Service) persistRecording(callID string, rec *internal_recorder.Recorder) {
	callerWAV, agentWAV, err := rec.Persist()
	if err != nil {
		s.logger.Debugw("no recording to persist", "call_id", callID)
		return
	}
	for suffix, data := range map[string][]byte{"caller": callerWAV, "agent": agentWAV} {
		path := filepath.Join(s.recordingsDir, fmt.Sprintf("%s-%s.wav", callID, suffix))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			s.logger.Warnw("recording write failed", "path", path, "error", err)
		}
	}
}

// EndCall requests teardown through the state machine.
func (s *Service) EndCall(callID string) bool {
	machine, ok := s.orch.Machine(callID)
	if !ok {
		return false
	}
	machine.Dispatch(internal_callfsm.EventHangup)
	return true
}

// UpdateInstructions patches a live call's instructions. The session
// serializes the application against its own turn handling.
func (s *Service) UpdateInstructions(callID string, patch bus.UpdateInstructions) error {
	session, ok := s.orch.Session(callID)
	if !ok || session.Machine().State().Terminal() {
		return ErrCallNotFound
	}
	session.UpdateInstructions(patch)
	return nil
}

// TransferCall redirects the caller's channel to another endpoint and
// winds the call down through TRANSFERRING. The agent leg ends; the
// switch owns the channel from here. An empty endpoint falls back to
// the call's instructed transfer target.
func (s *Service) TransferCall(ctx context.Context, callID, endpoint string) error {
	session, ok := s.orch.Session(callID)
	if !ok {
		return ErrCallNotFound
	}
	machine := session.Machine()
	if machine.State().Terminal() {
		return ErrCallNotFound
	}
	if endpoint == "" {
		endpoint = session.Instructions().TransferTarget
	}
	if endpoint == "" {
		return fmt.Errorf("service: call %s has no transfer target", callID)
	}
	if s.swtch == nil || session.ChannelUUID() == "" {
		return fmt.Errorf("service: call %s has no switch channel to transfer", callID)
	}

	machine.Dispatch(internal_callfsm.EventTransfer)
	if err := s.swtch.Redirect(ctx, session.ChannelUUID(), endpoint); err != nil {
		machine.Dispatch(internal_callfsm.EventError)
		return fmt.Errorf("service: transfer %s: %w", callID, err)
	}
	machine.Dispatch(internal_callfsm.EventTransferComplete)
	return nil
}

// Machine implements the webhook router's resolver.
func (s *Service) Machine(callID string) (*internal_callfsm.Machine, bool) {
	return s.orch.Machine(callID)
}

// CallStatus is the externally visible state of one call.
type CallStatus struct {
	CallID    string            `json:"call_id"`
	State     string            `json:"state"`
	LocalPort int               `json:"rtp_port"`
	Turns     int               `json:"turns"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Streams   []StreamStatus    `json:"streams,omitempty"`
}

// StreamStatus reports one ingress stream's accounting.
type StreamStatus struct {
	SSRC       uint32 `json:"ssrc"`
	Delivered  uint64 `json:"delivered_packets"`
	Lost       uint64 `json:"lost_packets"`
	Bytes      uint64 `json:"bytes"`
	OutOfOrder uint64 `json:"out_of_order"`
}

func (s *Service) CallStatus(callID string) (*CallStatus, bool) {
	session, ok := s.orch.Session(callID)
	if !ok {
		return nil, false
	}
	status := &CallStatus{
		CallID:   callID,
		State:    string(session.Machine().State()),
		Turns:    session.History().Len(),
		Metadata: session.Instructions().Metadata,
	}
	if rtpSession, ok := s.rtp.Session(callID); ok {
		status.LocalPort = rtpSession.LocalPort()
		snaps, _, _ := rtpSession.Stats()
		for _, snap := range snaps {
			status.Streams = append(status.Streams, StreamStatus{
				SSRC:       snap.SSRC,
				Delivered:  snap.Delivered,
				Lost:       snap.Lost,
				Bytes:      snap.Bytes,
				OutOfOrder: snap.OutOfOrder,
			})
		}
	}
	return status, true
}

// ActiveCalls reports live call count for health reporting.
func (s *Service) ActiveCalls() int { return s.orch.ActiveCalls() }

// Close ends every call and releases the media engine.
func (s *Service) Close() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for _, cancel := range s.active {
		cancels = append(cancels, cancel)
	}
	s.active = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.orch.Close()
	s.rtp.StopAll()
}
