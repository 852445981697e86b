// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_orchestrator drives one conversation turn loop per
// call: utterances go to transcription, transcripts to the language
// model, responses to synthesis, artifacts to playback. The call state
// machine arbitrates; the orchestrator only posts events and reacts to
// transitions.
package internal_orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/audio/resampler"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"

	internal_pipeline "github.com/voxbridgeai/api/voice-api/internal/audio/pipeline"
	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
	internal_conversation "github.com/voxbridgeai/api/voice-api/internal/conversation"
	internal_switchctl "github.com/voxbridgeai/api/voice-api/internal/switchctl"
	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
)

// SwitchControl is the slice of the switch client the session needs.
type SwitchControl interface {
	PlayArtifact(ctx context.Context, channelID, handle string) (*internal_switchctl.Playback, error)
	SayLetters(ctx context.Context, channelID, text string) (*internal_switchctl.Playback, error)
	StopPlayback(ctx context.Context, playbackID string) error
	Hangup(ctx context.Context, channelID string) error
}

// MediaSession is the egress side of the RTP session.
type MediaSession interface {
	EnqueuePCM(pcm []byte)
	ClearPlayback()
}

// Config tunes per-call behavior. Zero values take the defaults noted
// per field.
type Config struct {
	SystemPrompt     string
	MaxHistoryTokens int // conversation budget, default 4096

	Voice         string
	Encoding      string // artifact encoding, default s16le
	TTSSampleRate int    // target artifact rate; zero keeps the backend's native rate
	Language      string

	LLMMaxTokens   int
	LLMTemperature float64

	DisableBargeIn    bool          // zero keeps interruption on
	BargeInDebounce   time.Duration // default 150 ms
	BargeInConfidence float64       // default 0.6

	FallbackEnabled bool
	CancelTimeout   time.Duration // stop/cancel client bound, default 2 s

	Templates map[string]string
}

func (c *Config) applyDefaults() {
	if c.MaxHistoryTokens == 0 {
		c.MaxHistoryTokens = internal_conversation.DefaultMaxTokens
	}
	if c.Encoding == "" {
		c.Encoding = "s16le"
	}
	if c.BargeInDebounce == 0 {
		c.BargeInDebounce = 150 * time.Millisecond
	}
	if c.BargeInConfidence == 0 {
		c.BargeInConfidence = 0.6
	}
	if c.CancelTimeout == 0 {
		c.CancelTimeout = 2 * time.Second
	}
}

// CallSession owns the turn state of one call. All result handlers
// check the live correlation ID, so stale or duplicate worker output
// is discarded instead of spoken.
type CallSession struct {
	callID      string
	channelUUID string
	cfg         Config

	bus       *bus.Bus
	machine   *internal_callfsm.Machine
	history   *internal_conversation.History
	store     *internal_conversation.Store
	media     MediaSession
	mediaCfg  audio.Config
	resampler resampler.Resampler
	swtch     SwitchControl
	logger    commons.Logger
	dedupe    *bus.Deduper

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu           sync.Mutex
	instr        Instructions // per-call overrides; cfg supplies the defaults
	sttCorr      string
	llmCorr      string
	ttsCorr      string
	greetingCorr string
	playbackID   string
	playTimer    *time.Timer // switch-less playback completion
	turnText     string
	greeted      bool
	speechSince  time.Time
	bargeFired   bool
	ended        bool

	// onEnd runs once after teardown; the engine uses it to stop the
	// RTP session and release the port.
	onEnd func(reason string)
}

type SessionParams struct {
	CallID       string
	ChannelUUID  string
	Config       Config
	Instructions Instructions // caller-supplied overrides, zero is fine
	Bus          *bus.Bus
	Machine      *internal_callfsm.Machine
	Store        *internal_conversation.Store
	Media        MediaSession
	MediaConfig  audio.Config // egress PCM format; zero disables resampling
	Resampler    resampler.Resampler
	Switch       SwitchControl
	Counter      internal_conversation.TokenCounter
	OnEnd        func(reason string)
	Logger       commons.Logger
}

func NewCallSession(p SessionParams) *CallSession {
	p.Config.applyDefaults()
	counter := p.Counter
	if counter == nil {
		counter = internal_conversation.NewTokenCounter(p.Logger)
	}
	prompt := p.Instructions.SystemPrompt
	if prompt == "" {
		prompt = p.Config.SystemPrompt
	}
	s := &CallSession{
		callID:      p.CallID,
		channelUUID: p.ChannelUUID,
		cfg:         p.Config,
		instr:       p.Instructions.clone(),
		bus:         p.Bus,
		machine:     p.Machine,
		history:     internal_conversation.NewHistory(p.CallID, prompt, p.Config.MaxHistoryTokens, counter),
		store:       p.Store,
		media:       p.Media,
		mediaCfg:    p.MediaConfig,
		resampler:   p.Resampler,
		swtch:       p.Switch,
		logger:      p.Logger.With("call_id", p.CallID),
		dedupe:      bus.NewDeduper(time.Minute),
		onEnd:       p.OnEnd,
	}
	return s
}

// Start subscribes to worker topics and installs FSM hooks. The
// session lives until the machine reaches a terminal state or ctx
// ends.
func (s *CallSession) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	subs := []struct {
		topic   bus.Topic
		handler bus.Handler
	}{
		{bus.TopicSTTResult, s.onSTTResult},
		{bus.TopicLLMResponse, s.onLLMResponse},
		{bus.TopicLLMError, s.onLLMError},
		{bus.TopicTTSReady, s.onTTSReady},
		{bus.TopicTTSFailed, s.onTTSFailed},
	}
	for _, sub := range subs {
		unsub, err := s.bus.Subscribe(sub.topic, "orchestrator/"+s.callID, sub.handler)
		if err != nil {
			s.Close()
			return err
		}
		s.unsubs = append(s.unsubs, unsub)
	}

	s.machine.OnTransition(s.onTransition)
	s.machine.SetResponseTimeoutHandler(s.onResponseTimeout)
	return nil
}

// ConsumePipeline feeds utterances and speech activity from the audio
// pipeline into the turn loop. Runs on its own goroutine.
func (s *CallSession) ConsumePipeline(p *internal_pipeline.Pipeline) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.machine.Done():
			return
		case utt, ok := <-p.Utterances():
			if !ok {
				return
			}
			s.handleUtterance(utt)
		case ev, ok := <-p.Speech():
			if !ok {
				return
			}
			s.handleSpeech(ev)
		}
	}
}

// handleUtterance starts a turn: ship audio to transcription and move
// the call to PROCESSING.
func (s *CallSession) handleUtterance(utt internal_type.Utterance) {
	if s.machine.State() != internal_callfsm.StateListening {
		s.logger.Debugw("utterance outside LISTENING dropped", "state", string(s.machine.State()))
		return
	}

	env := bus.NewEnvelope(bus.TopicSTTRequest, s.callID, &bus.STTRequest{
		Audio:      utt.Audio,
		SampleRate: utt.SampleRate,
		DurationMs: int(utt.Duration / time.Millisecond),
		Confidence: utt.Confidence,
		Forced:     utt.Forced,
		Language:   s.language(),
	})
	s.mu.Lock()
	s.sttCorr = env.CorrelationID
	s.mu.Unlock()

	if err := s.bus.Publish(s.ctx, env); err != nil {
		s.logger.Errorw("stt request publish failed", "error", err)
		return
	}
	s.machine.Dispatch(internal_callfsm.EventUtterance)
}

// handleSpeech resets the silence clock and tracks barge-in while the
// agent is speaking: a debounced run of confident speech interrupts
// playback.
func (s *CallSession) handleSpeech(ev internal_pipeline.SpeechEvent) {
	if ev.IsSpeech {
		s.machine.NoteSpeech()
	}

	if s.cfg.DisableBargeIn || s.machine.State() != internal_callfsm.StateSpeaking {
		s.mu.Lock()
		s.speechSince = time.Time{}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ev.IsSpeech || ev.Confidence < s.cfg.BargeInConfidence {
		s.speechSince = time.Time{}
		return
	}
	if s.speechSince.IsZero() {
		s.speechSince = ev.At
		return
	}
	run := ev.At.Sub(s.speechSince)
	if run >= s.cfg.BargeInDebounce && !s.bargeFired {
		s.bargeFired = true
		go s.triggerBargeIn(ev.Confidence, int(run/time.Millisecond))
	}
}

func (s *CallSession) triggerBargeIn(confidence float64, speechMs int) {
	s.logger.Infow("barge-in detected", "confidence", confidence, "speech_ms", speechMs)
	env := bus.NewEnvelope(bus.TopicBargeIn, s.callID, &bus.BargeIn{
		Confidence: confidence,
		SpeechMs:   speechMs,
	})
	if err := s.bus.Publish(s.ctx, env); err != nil {
		s.logger.Errorw("barge-in publish failed", "error", err)
	}
	s.machine.Dispatch(internal_callfsm.EventBargeIn)
}

// onTransition reacts to canonical state changes. Handlers run on the
// FSM goroutine, so anything that blocks moves to its own goroutine.
func (s *CallSession) onTransition(tr internal_callfsm.Transition) {
	switch {
	case tr.To == internal_callfsm.StateListening && tr.From == internal_callfsm.StateConnected:
		go s.greet()
	case tr.To == internal_callfsm.StateSpeaking:
		s.mu.Lock()
		s.bargeFired = false
		s.speechSince = time.Time{}
		s.mu.Unlock()
	case tr.To == internal_callfsm.StateBargingIn:
		go s.cancelTurn("barge_in")
	case tr.To.Terminal():
		go s.teardown(string(tr.Event.Type))
	}
}

// greet speaks the opening template. Greeting playback happens in
// LISTENING without a state change, so the caller can talk over it
// from the first moment.
func (s *CallSession) greet() {
	s.mu.Lock()
	if s.greeted {
		s.mu.Unlock()
		return
	}
	s.greeted = true
	s.mu.Unlock()

	text := s.template(TemplateGreeting)
	if text == "" {
		return
	}
	env := bus.NewEnvelope(bus.TopicTTSRequest, s.callID, &bus.TTSRequest{
		Text:       text,
		Voice:      s.voice(),
		Encoding:   s.cfg.Encoding,
		SampleRate: s.cfg.TTSSampleRate,
	})
	s.mu.Lock()
	s.greetingCorr = env.CorrelationID
	s.mu.Unlock()
	if err := s.bus.Publish(s.ctx, env); err != nil {
		s.logger.Errorw("greeting synthesis request failed", "error", err)
	}
}

// speak requests synthesis of one response and arms the TTS
// correlation for the turn.
func (s *CallSession) speak(text string) {
	env := bus.NewEnvelope(bus.TopicTTSRequest, s.callID, &bus.TTSRequest{
		Text:       text,
		Voice:      s.voice(),
		Encoding:   s.cfg.Encoding,
		SampleRate: s.cfg.TTSSampleRate,
	})
	s.mu.Lock()
	s.ttsCorr = env.CorrelationID
	s.turnText = text
	s.mu.Unlock()
	if err := s.bus.Publish(s.ctx, env); err != nil {
		s.logger.Errorw("tts request publish failed", "error", err)
		s.machine.Dispatch(internal_callfsm.EventTurnAborted)
	}
}

// ===== Worker result handlers =====

func (s *CallSession) onSTTResult(ctx context.Context, env bus.Envelope) {
	if env.CallID != s.callID || s.dedupe.Seen(env) {
		return
	}
	result, ok := env.Payload.(*bus.STTResult)
	if !ok || !result.Final {
		return
	}

	s.mu.Lock()
	live := env.CorrelationID == s.sttCorr && s.sttCorr != ""
	if live {
		s.sttCorr = ""
	}
	s.mu.Unlock()
	if !live {
		s.logger.Debugw("stale transcription discarded", "correlation_id", env.CorrelationID)
		return
	}

	if result.Transcript == "" {
		// Transcription timed out or heard nothing.
		if s.cfg.FallbackEnabled {
			s.speak(s.template(TemplateErrorSTT))
			return
		}
		s.machine.Dispatch(internal_callfsm.EventTurnAborted)
		return
	}

	s.history.Append(internal_conversation.RoleUser, result.Transcript)
	s.persistHistory()

	req := bus.NewEnvelope(bus.TopicLLMRequest, s.callID, &bus.LLMRequest{
		Messages:    s.history.Messages(),
		MaxTokens:   s.cfg.LLMMaxTokens,
		Temperature: s.cfg.LLMTemperature,
	})
	s.mu.Lock()
	s.llmCorr = req.CorrelationID
	s.mu.Unlock()
	if err := s.bus.Publish(s.ctx, req); err != nil {
		s.logger.Errorw("llm request publish failed", "error", err)
		s.machine.Dispatch(internal_callfsm.EventTurnAborted)
	}
}

func (s *CallSession) onLLMResponse(ctx context.Context, env bus.Envelope) {
	if env.CallID != s.callID {
		return
	}
	resp, ok := env.Payload.(*bus.LLMResponse)
	if !ok || resp.Partial {
		return
	}
	if s.dedupe.Seen(env) {
		return
	}

	s.mu.Lock()
	live := env.CorrelationID == s.llmCorr && s.llmCorr != ""
	if live {
		s.llmCorr = ""
	}
	s.mu.Unlock()
	if !live {
		s.logger.Debugw("stale model response discarded", "correlation_id", env.CorrelationID)
		return
	}

	if resp.Text == "" {
		s.machine.Dispatch(internal_callfsm.EventTurnAborted)
		return
	}

	s.history.Append(internal_conversation.RoleAssistant, resp.Text)
	s.persistHistory()
	s.speak(resp.Text)
}

func (s *CallSession) onLLMError(ctx context.Context, env bus.Envelope) {
	if env.CallID != s.callID || s.dedupe.Seen(env) {
		return
	}
	llmErr, ok := env.Payload.(*bus.LLMError)
	if !ok {
		return
	}
	s.logger.Warnw("model error", "reason", llmErr.Reason, "retryable", llmErr.Retryable)

	if s.cfg.FallbackEnabled {
		s.speak(s.template(TemplateErrorGeneric))
		return
	}
	s.machine.Dispatch(internal_callfsm.EventError)
}

func (s *CallSession) onTTSReady(ctx context.Context, env bus.Envelope) {
	if env.CallID != s.callID || s.dedupe.Seen(env) {
		return
	}
	ready, ok := env.Payload.(*bus.TTSReady)
	if !ok {
		return
	}

	s.mu.Lock()
	isGreeting := env.CorrelationID == s.greetingCorr && s.greetingCorr != ""
	isTurn := env.CorrelationID == s.ttsCorr && s.ttsCorr != ""
	if isGreeting {
		s.greetingCorr = ""
	}
	if isTurn {
		s.ttsCorr = ""
	}
	s.mu.Unlock()
	if !isGreeting && !isTurn {
		s.logger.Debugw("stale artifact discarded", "artifact_id", ready.Artifact.ArtifactID)
		return
	}

	s.play(ready.Artifact, isTurn)
	if isTurn {
		s.machine.Dispatch(internal_callfsm.EventTTSReady)
	}
}

func (s *CallSession) onTTSFailed(ctx context.Context, env bus.Envelope) {
	if env.CallID != s.callID || s.dedupe.Seen(env) {
		return
	}
	s.mu.Lock()
	isTurn := env.CorrelationID == s.ttsCorr && s.ttsCorr != ""
	if isTurn {
		s.ttsCorr = ""
	}
	text := s.turnText
	s.mu.Unlock()
	if !isTurn {
		return
	}

	// Last resort: spell the response on the switch.
	if s.swtch != nil && s.channelUUID != "" && text != "" {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CancelTimeout)
		defer cancel()
		if pb, err := s.swtch.SayLetters(ctx, s.channelUUID, text); err == nil {
			s.mu.Lock()
			s.playbackID = pb.ID
			s.mu.Unlock()
			s.machine.Dispatch(internal_callfsm.EventTTSReady)
			return
		}
	}
	s.machine.Dispatch(internal_callfsm.EventTurnAborted)
}

// ===== Playback =====

// play pushes the artifact into the egress path and onto the switch.
// A turn artifact that the switch is not playing gets its completion
// timed from the artifact duration, since no webhook will report it.
func (s *CallSession) play(artifact bus.Artifact, turn bool) {
	env := bus.NewEnvelope(bus.TopicPlayAudio, s.callID, &bus.PlayAudio{
		ArtifactID: artifact.ArtifactID,
		Handle:     artifact.Handle,
	})
	if err := s.bus.Publish(s.ctx, env); err != nil {
		s.logger.Warnw("play_audio publish failed", "error", err)
	}

	if s.media != nil {
		pcm, err := os.ReadFile(artifact.Handle)
		if err != nil {
			s.logger.Errorw("artifact read failed", "handle", artifact.Handle, "error", err)
		} else {
			if s.resampler != nil && s.mediaCfg.SampleRate > 0 && artifact.SampleRate != s.mediaCfg.SampleRate {
				from := s.mediaCfg
				from.SampleRate = artifact.SampleRate
				converted, err := s.resampler.Resample(pcm, from, s.mediaCfg)
				if err != nil {
					s.logger.Errorw("artifact resample failed",
						"from", artifact.SampleRate, "to", s.mediaCfg.SampleRate, "error", err)
				} else {
					pcm = converted
				}
			}
			s.media.EnqueuePCM(pcm)
		}
	}

	if s.swtch != nil && s.channelUUID != "" {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CancelTimeout)
		defer cancel()
		pb, err := s.swtch.PlayArtifact(ctx, s.channelUUID, artifact.Handle)
		if err == nil {
			s.mu.Lock()
			s.playbackID = pb.ID
			s.mu.Unlock()
			return
		}
		s.logger.Warnw("switch playback failed", "artifact_id", artifact.ArtifactID, "error", err)
	}
	if turn {
		s.armPlaybackTimer(artifact)
	}
}

// armPlaybackTimer schedules playback_complete from the artifact
// duration, padded by one egress frame so the pacer can drain the tail.
func (s *CallSession) armPlaybackTimer(artifact bus.Artifact) {
	d := time.Duration(artifact.DurationMs)*time.Millisecond + 20*time.Millisecond
	s.mu.Lock()
	if s.playTimer != nil {
		s.playTimer.Stop()
	}
	s.playTimer = time.AfterFunc(d, func() {
		s.machine.Dispatch(internal_callfsm.EventPlaybackComplete)
	})
	s.mu.Unlock()
}

// cancelTurn stops playback immediately and cancels in-flight model
// work, then reports completion to the FSM. The stop call is bounded;
// a slow switch never wedges the barge-in path.
func (s *CallSession) cancelTurn(reason string) {
	s.stopAudio(reason)
	s.cancelInflight(reason)
	s.machine.Dispatch(internal_callfsm.EventCancelComplete)
}

// stopAudio halts egress and switch playback. It does not publish on
// the bus: stop_audio is an inbound control command, and the playback
// paths live in-process.
func (s *CallSession) stopAudio(reason string) {
	if s.media != nil {
		s.media.ClearPlayback()
	}

	s.mu.Lock()
	playbackID := s.playbackID
	s.playbackID = ""
	if s.playTimer != nil {
		s.playTimer.Stop()
		s.playTimer = nil
	}
	s.mu.Unlock()
	if s.swtch != nil && playbackID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CancelTimeout)
		defer cancel()
		if err := s.swtch.StopPlayback(ctx, playbackID); err != nil {
			s.logger.Warnw("switch stop failed", "playback_id", playbackID, "error", err)
		}
	}
	s.logger.Debugw("playback stopped", "reason", reason)
}

// cancelInflight tells the workers to abandon the current turn.
func (s *CallSession) cancelInflight(reason string) {
	s.mu.Lock()
	llmCorr := s.llmCorr
	ttsCorr := s.ttsCorr
	s.llmCorr = ""
	s.ttsCorr = ""
	s.sttCorr = ""
	s.mu.Unlock()

	publish := func(topic bus.Topic, corr string) {
		env := bus.NewEnvelope(topic, s.callID, &bus.Cancel{Reason: reason})
		if corr != "" {
			env = env.WithCorrelation(corr)
		}
		if err := s.bus.Publish(s.ctx, env); err != nil {
			s.logger.Warnw("cancel publish failed", "topic", topic, "error", err)
		}
	}
	publish(bus.TopicLLMCancel, llmCorr)
	publish(bus.TopicTTSCancel, ttsCorr)
}

// onResponseTimeout fires when PROCESSING exceeds its budget. With
// fallback enabled the caller hears an apology instead of dead air.
func (s *CallSession) onResponseTimeout() bool {
	if !s.cfg.FallbackEnabled {
		return false
	}
	s.cancelInflight("response_timeout")
	s.speak(s.template(TemplateErrorGeneric))
	return true
}

// ===== Instructions =====

// language resolves the transcription language, instructions first.
func (s *CallSession) language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instr.Language != "" {
		return s.instr.Language
	}
	return s.cfg.Language
}

// voice resolves the synthesis voice, instructions first.
func (s *CallSession) voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instr.Voice != "" {
		return s.instr.Voice
	}
	return s.cfg.Voice
}

func (s *CallSession) transcriptionEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instr.TranscriptionEnabled()
}

// Instructions returns the call's current instructions.
func (s *CallSession) Instructions() Instructions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instr.clone()
}

// UpdateInstructions applies an update_instructions event. The patch
// replaces the mutable subset, re-pins the conversation system prompt,
// and re-arms live timers; in-flight turns finish with the values they
// started with.
func (s *CallSession) UpdateInstructions(p bus.UpdateInstructions) {
	s.mu.Lock()
	s.instr = s.instr.merge(p)
	instr := s.instr
	s.mu.Unlock()

	if p.SystemPrompt != "" {
		s.history.SetSystem(p.SystemPrompt)
	}
	if p.MaxDurationSec > 0 || p.SilenceTimeoutSec > 0 || p.ResponseTimeoutSec > 0 {
		s.machine.UpdateTimeouts(instr.Timeouts(s.machine.Timeouts()))
	}
	s.logger.Infow("instructions updated",
		"prompt_changed", p.SystemPrompt != "",
		"language", instr.Language,
		"voice", instr.Voice,
		"transfer_target", instr.TransferTarget)
}

// ===== Teardown =====

// teardown runs exactly once when the call reaches a terminal state:
// cancel in-flight work, expire artifacts, persist the transcript,
// drop the channel, and hand control back to the engine.
func (s *CallSession) teardown(reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	s.logger.Infow("call teardown", "reason", reason)

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.cancelInflight(reason)

	env := bus.NewEnvelope(bus.TopicEndConversation, s.callID, &bus.EndConversation{Reason: reason})
	if err := s.bus.Publish(teardownCtx, env); err != nil {
		s.logger.Warnw("end_conversation publish failed", "error", err)
	}

	if s.store != nil && s.transcriptionEnabled() {
		if err := s.store.Save(teardownCtx, s.history); err != nil {
			s.logger.Warnw("transcript persist failed", "error", err)
		}
	}

	if s.swtch != nil && s.channelUUID != "" {
		if err := s.swtch.Hangup(teardownCtx, s.channelUUID); err != nil {
			s.logger.Warnw("hangup failed", "error", err)
		}
	}

	s.Close()
	if s.onEnd != nil {
		s.onEnd(reason)
	}
}

func (s *CallSession) persistHistory() {
	if s.store == nil || !s.transcriptionEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, s.history); err != nil {
		s.logger.Warnw("transcript persist failed", "error", err)
	}
}

// History exposes the transcript, primarily for status endpoints.
func (s *CallSession) History() *internal_conversation.History { return s.history }

// Machine exposes the call state machine.
func (s *CallSession) Machine() *internal_callfsm.Machine { return s.machine }

// ChannelUUID reports the switch channel this call rides on, empty for
// calls without a switch leg.
func (s *CallSession) ChannelUUID() string { return s.channelUUID }

// Close drops subscriptions and pending timers. Safe to call more than
// once.
func (s *CallSession) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.mu.Lock()
	if s.playTimer != nil {
		s.playTimer.Stop()
		s.playTimer = nil
	}
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
