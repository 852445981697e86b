// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_stt turns utterance audio into transcripts.
package internal_stt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

// Transcriber is the backend contract. Implementations must respect
// ctx and return within its deadline.
type Transcriber interface {
	Transcribe(ctx context.Context, req *bus.STTRequest) (*bus.STTResult, error)
}

// DeepgramConfig configures the REST backend.
type DeepgramConfig struct {
	BaseURL string // default https://api.deepgram.com
	APIKey  string
	Model   string        // default nova-2
	Timeout time.Duration // per-request, default 15s
}

// Deepgram transcribes over the pre-recorded REST endpoint. Utterances
// are short, so streaming buys nothing here.
type Deepgram struct {
	client *resty.Client
	model  string
	logger commons.Logger
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// NewDeepgram builds the backend client.
func NewDeepgram(cfg DeepgramConfig, logger commons.Logger) *Deepgram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Token "+cfg.APIKey).
		SetHeader("Content-Type", "audio/raw")

	return &Deepgram{client: rc, model: cfg.Model, logger: logger}
}

// Transcribe posts raw PCM to /v1/listen and returns the top
// alternative of the first channel.
func (d *Deepgram) Transcribe(ctx context.Context, req *bus.STTRequest) (*bus.STTResult, error) {
	started := time.Now()

	var parsed deepgramResponse
	r := d.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"model":       d.model,
			"encoding":    "linear16",
			"sample_rate": strconv.Itoa(req.SampleRate),
			"channels":    "1",
			"punctuate":   "true",
		}).
		SetBody(req.Audio).
		SetResult(&parsed)
	if req.Language != "" {
		r.SetQueryParam("language", req.Language)
	}

	resp, err := r.Post("/v1/listen")
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("deepgram: status %d: %s", resp.StatusCode(), resp.String())
	}

	result := &bus.STTResult{Final: true, LatencyMs: time.Since(started).Milliseconds()}
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		alt := parsed.Results.Channels[0].Alternatives[0]
		result.Transcript = alt.Transcript
		result.Confidence = alt.Confidence
	}
	return result, nil
}
