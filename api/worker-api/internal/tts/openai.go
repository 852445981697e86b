// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_tts synthesizes speech and persists it as playback
// artifacts; only the handle travels back over the bus.
package internal_tts

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxbridgeai/pkg/commons"
)

// openAISampleRate is the fixed rate of the PCM response format.
const openAISampleRate = 24000

// Synthesizer is the backend contract: text in, s16le PCM out.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (pcm []byte, sampleRate int, err error)
}

// OpenAI synthesizes through the speech endpoint in raw PCM so no
// transcoding happens before playback.
type OpenAI struct {
	client oai.Client
	model  string
	logger commons.Logger
}

// NewOpenAI builds the backend. model defaults to tts-1.
func NewOpenAI(apiKey, model string, logger commons.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tts: openai api key must not be empty")
	}
	if model == "" {
		model = "tts-1"
	}
	return &OpenAI{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}, nil
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) ([]byte, int, error) {
	if voice == "" {
		voice = "alloy"
	}

	resp, err := o.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(o.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: openai speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: read audio: %w", err)
	}
	return pcm, openAISampleRate, nil
}
