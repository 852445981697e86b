// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_pipeline conditions decoded caller audio and
// assembles utterances. One pipeline runs per call on its own
// goroutine: ingress pushes raw PCM, the egress path pushes echo
// reference, and completed utterances come out of Utterances().
package internal_pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/voxbridgeai/pkg/audio"
	"github.com/voxbridgeai/pkg/commons"

	internal_denoise "github.com/voxbridgeai/api/voice-api/internal/audio/denoise"
	internal_echo "github.com/voxbridgeai/api/voice-api/internal/audio/echo"
	internal_vad "github.com/voxbridgeai/api/voice-api/internal/audio/vad"
	internal_type "github.com/voxbridgeai/api/voice-api/internal/type"
)

var ErrPipelineClosed = errors.New("pipeline: closed")

// Config tunes one call's pipeline. Zero values take the defaults
// noted per field.
type Config struct {
	CallID string
	Audio  audio.Config

	FrameMs int // default 20

	// Hysteresis: consecutive speech frames to open an utterance and
	// consecutive silence frames to close it.
	HysteresisIn  int // default 3 (60 ms)
	HysteresisOut int // default 15 (300 ms)

	MinUtteranceMs    int // discard shorter utterances; default 300
	MaxUtteranceMs    int // force-emit longer runs; default 15000
	MaxUtteranceBytes int // memory bound per utterance; default 1 MiB

	// SilenceFlushMs closes an open utterance when no audio arrives at
	// all for this long, so a dead ingress path cannot strand captured
	// speech. Default 2000.
	SilenceFlushMs int
}

func (c *Config) applyDefaults() {
	if c.FrameMs == 0 {
		c.FrameMs = 20
	}
	if c.HysteresisIn == 0 {
		c.HysteresisIn = 3
	}
	if c.HysteresisOut == 0 {
		c.HysteresisOut = 15
	}
	if c.MinUtteranceMs == 0 {
		c.MinUtteranceMs = 300
	}
	if c.MaxUtteranceMs == 0 {
		c.MaxUtteranceMs = 15000
	}
	if c.MaxUtteranceBytes == 0 {
		c.MaxUtteranceBytes = 1 << 20
	}
	if c.SilenceFlushMs == 0 {
		c.SilenceFlushMs = 2000
	}
}

// SpeechEvent reports frame-level VAD activity to the orchestrator for
// barge-in tracking, independent of utterance assembly.
type SpeechEvent struct {
	IsSpeech   bool
	Confidence float64
	At         time.Time
}

type Pipeline struct {
	logger commons.Logger
	cfg    Config

	vad        internal_vad.Engine
	suppressor *internal_denoise.Suppressor
	canceller  *internal_echo.Canceller

	in         chan []byte
	ref        chan []byte
	utterances chan internal_type.Utterance
	speech     chan SpeechEvent
	done       chan struct{}

	// Assembly state, owned by the Run goroutine.
	residual    []byte
	frameBytes  int
	pending     []internal_type.Frame // pre-roll while idle
	active      bool
	utterance   []byte
	startTime   time.Time
	speechRun   int
	silenceRun  int
	confSum     float64
	confFrames  int
	utteranceMs int
}

func New(cfg Config, vadEngine internal_vad.Engine, suppressor *internal_denoise.Suppressor, canceller *internal_echo.Canceller, logger commons.Logger) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		logger:     logger,
		cfg:        cfg,
		vad:        vadEngine,
		suppressor: suppressor,
		canceller:  canceller,
		in:         make(chan []byte, 64),
		ref:        make(chan []byte, 64),
		utterances: make(chan internal_type.Utterance, 8),
		speech:     make(chan SpeechEvent, 64),
		done:       make(chan struct{}),
		frameBytes: cfg.Audio.FrameBytes(cfg.FrameMs),
	}
}

// Push hands decoded caller PCM to the pipeline. Non-blocking: under
// sustained overload the newest audio is dropped with a warning rather
// than stalling the RTP read loop.
func (p *Pipeline) Push(pcm []byte) error {
	select {
	case <-p.done:
		return ErrPipelineClosed
	default:
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case p.in <- buf:
		return nil
	default:
		p.logger.Warnw("pipeline input full, dropping audio",
			"call_id", p.cfg.CallID, "bytes", len(pcm))
		return nil
	}
}

// AddReference feeds agent playback audio for echo cancellation.
func (p *Pipeline) AddReference(pcm []byte) {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case p.ref <- buf:
	default:
		// Reference is advisory; the canceller bounds its backlog anyway.
	}
}

// Utterances emits assembled utterances. Closed when Run returns.
func (p *Pipeline) Utterances() <-chan internal_type.Utterance {
	return p.utterances
}

// Speech emits frame-level VAD decisions for barge-in detection.
func (p *Pipeline) Speech() <-chan SpeechEvent {
	return p.speech
}

// Run owns all pipeline state. It exits when ctx is cancelled,
// flushing any active utterance first.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.utterances)
	defer close(p.speech)
	defer close(p.done)

	// Starvation guard: when ingress stops mid-utterance the frame
	// counters never advance, so a wall-clock timer closes it instead.
	starve := time.Duration(p.cfg.SilenceFlushMs) * time.Millisecond
	flushTimer := time.NewTimer(starve)
	defer flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(false)
			return
		case <-flushTimer.C:
			p.flush(false)
			flushTimer.Reset(starve)
		case pcm := <-p.ref:
			if p.canceller != nil {
				p.canceller.AddReference(pcm)
			}
		case pcm := <-p.in:
			p.ingest(pcm)
			if !flushTimer.Stop() {
				select {
				case <-flushTimer.C:
				default:
				}
			}
			flushTimer.Reset(starve)
		}
	}
}

// ingest cuts whole frames from the residual buffer. Partial frames
// wait for more audio; a frame is never processed short.
func (p *Pipeline) ingest(pcm []byte) {
	p.residual = append(p.residual, pcm...)
	for len(p.residual) >= p.frameBytes {
		frameData := make([]byte, p.frameBytes)
		copy(frameData, p.residual[:p.frameBytes])
		p.residual = p.residual[p.frameBytes:]
		p.processFrame(frameData)
	}
}

func (p *Pipeline) processFrame(data []byte) {
	if p.canceller != nil {
		data = p.canceller.Process(data)
	}
	if p.suppressor != nil {
		data = p.suppressor.Process(data)
	}

	frame := internal_type.Frame{
		Data:       data,
		Timestamp:  time.Now(),
		DurationMs: p.cfg.FrameMs,
		SampleRate: p.cfg.Audio.SampleRate,
		Channels:   p.cfg.Audio.Channels,
		BitDepth:   16,
		Source:     internal_type.SourceCaller,
	}

	if p.vad != nil {
		decision, err := p.vad.Process(frame.Data)
		if err != nil {
			p.logger.Warnw("vad failed, treating frame as speech",
				"call_id", p.cfg.CallID, "error", err)
			decision = internal_vad.Decision{IsSpeech: true, Confidence: 0.5}
		}
		frame.IsSpeech = decision.IsSpeech
		frame.Confidence = decision.Confidence
	}

	select {
	case p.speech <- SpeechEvent{IsSpeech: frame.IsSpeech, Confidence: frame.Confidence, At: frame.Timestamp}:
	default:
	}

	p.assemble(frame)
}

func (p *Pipeline) assemble(frame internal_type.Frame) {
	if !p.active {
		p.pending = append(p.pending, frame)
		if len(p.pending) > p.cfg.HysteresisIn {
			p.pending = p.pending[1:]
		}
		if frame.IsSpeech {
			p.speechRun++
		} else {
			p.speechRun = 0
		}
		if p.speechRun >= p.cfg.HysteresisIn {
			p.active = true
			p.startTime = p.pending[0].Timestamp
			p.utterance = p.utterance[:0]
			p.confSum, p.confFrames = 0, 0
			p.utteranceMs = 0
			for _, f := range p.pending {
				p.appendFrame(f)
			}
			p.pending = p.pending[:0]
			p.speechRun = 0
			p.silenceRun = 0
		}
		return
	}

	p.appendFrame(frame)

	if frame.IsSpeech {
		p.silenceRun = 0
	} else {
		p.silenceRun++
		if p.silenceRun >= p.cfg.HysteresisOut {
			p.emit(false)
			return
		}
	}

	if p.utteranceMs >= p.cfg.MaxUtteranceMs || len(p.utterance) >= p.cfg.MaxUtteranceBytes {
		p.emit(true)
	}
}

func (p *Pipeline) appendFrame(f internal_type.Frame) {
	p.utterance = append(p.utterance, f.Data...)
	p.utteranceMs += f.DurationMs
	if f.IsSpeech {
		p.confSum += f.Confidence
		p.confFrames++
	}
}

// emit closes the active utterance. Forced marks cuts by the duration
// or memory bound; those keep the pipeline in the active state so the
// continuing speech lands in a fresh utterance.
func (p *Pipeline) emit(forced bool) {
	audioData := p.utterance
	durationMs := p.utteranceMs
	if !forced {
		// Trim the trailing silence run so the utterance ends where the
		// speech did.
		if trim := p.silenceRun * p.frameBytes; trim > 0 {
			if trim >= len(audioData) {
				// Nothing but silence accumulated, possible right
				// after a forced cut.
				audioData = audioData[:0]
				durationMs = 0
			} else {
				audioData = audioData[:len(audioData)-trim]
				durationMs -= p.silenceRun * p.cfg.FrameMs
			}
		}
	}

	if durationMs < p.cfg.MinUtteranceMs {
		p.logger.Debugw("discarding short utterance",
			"call_id", p.cfg.CallID, "duration_ms", durationMs)
		p.resetAssembly(forced)
		return
	}

	confidence := 0.0
	if p.confFrames > 0 {
		confidence = p.confSum / float64(p.confFrames)
	}

	out := make([]byte, len(audioData))
	copy(out, audioData)
	utt := internal_type.Utterance{
		CallID:     p.cfg.CallID,
		StartTime:  p.startTime,
		Duration:   time.Duration(durationMs) * time.Millisecond,
		Audio:      out,
		SampleRate: p.cfg.Audio.SampleRate,
		Confidence: confidence,
		Forced:     forced,
	}

	select {
	case p.utterances <- utt:
	default:
		p.logger.Errorw("utterance channel full, dropping utterance",
			"call_id", p.cfg.CallID, "duration_ms", durationMs)
	}
	p.resetAssembly(forced)
}

func (p *Pipeline) resetAssembly(stayActive bool) {
	p.utterance = p.utterance[:0]
	p.utteranceMs = 0
	p.confSum, p.confFrames = 0, 0
	p.silenceRun = 0
	p.active = stayActive
	if stayActive {
		p.startTime = time.Now()
	}
}

// flush emits whatever is active, used on teardown so trailing speech
// before hangup is not lost.
func (p *Pipeline) flush(forced bool) {
	if p.active && len(p.utterance) > 0 {
		p.emit(forced)
	}
}
