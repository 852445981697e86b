// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_llm produces model responses for conversation
// turns, streaming partials as they arrive.
package internal_llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/voxbridgeai/pkg/bus"
)

// Chat is the backend contract. onDelta, when non-nil, receives text
// fragments as they stream in; the returned response carries the full
// text either way.
type Chat interface {
	Model() string
	Complete(ctx context.Context, req *bus.LLMRequest, onDelta func(text string)) (*bus.LLMResponse, error)
}

// ===== OpenAI (primary) =====

// OpenAI streams chat completions.
type OpenAI struct {
	client oai.Client
	model  string
}

// NewOpenAI builds the primary backend.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: openai api key must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: openai model must not be empty")
	}
	return &OpenAI{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Complete(ctx context.Context, req *bus.LLMRequest, onDelta func(string)) (*bus.LLMResponse, error) {
	started := time.Now()

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: openAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(req.Temperature)
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text += delta
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("llm: openai stream: %w", err)
	}

	return &bus.LLMResponse{
		Text:      text,
		Model:     o.model,
		LatencyMs: time.Since(started).Milliseconds(),
	}, nil
}

func openAIMessages(messages []bus.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, oai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}

// ===== Anthropic (fallback) =====

// defaultMaxTokens applies when the request does not cap output; the
// Anthropic API requires an explicit limit.
const defaultMaxTokens = 512

// Anthropic answers without streaming. It only runs when the primary
// already failed, so latency of the full response is acceptable.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds the fallback backend.
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: anthropic api key must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: anthropic model must not be empty")
	}
	return &Anthropic{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (a *Anthropic) Model() string { return a.model }

func (a *Anthropic) Complete(ctx context.Context, req *bus.LLMRequest, _ func(string)) (*bus.LLMResponse, error) {
	started := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &bus.LLMResponse{
		Text:      text,
		Model:     a.model,
		LatencyMs: time.Since(started).Milliseconds(),
	}, nil
}
