// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_conversation keeps the rolling chat transcript of a
// call inside a fixed token budget so every model request fits the
// context window.
package internal_conversation

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// perMessageOverhead covers role and formatting tokens the encoder
	// does not see.
	perMessageOverhead = 4

	DefaultMaxTokens = 4096
)

// TokenCounter counts the tokens of one message body.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// heuristicCounter approximates GPT-series tokenization at ~4 chars
// per token. Used when the cl100k_base tables cannot be loaded.
type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewTokenCounter returns a cl100k_base counter, falling back to the
// character heuristic when the encoding is unavailable.
func NewTokenCounter(logger commons.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warnw("cl100k_base unavailable, using character heuristic", "error", err)
		return heuristicCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

// History is one call's transcript. The system prompt is pinned at
// index 0 and never evicted; when the budget overflows, the oldest
// user/assistant exchange goes first.
type History struct {
	mu        sync.Mutex
	callID    string
	messages  []bus.Message
	tokens    []int
	total     int
	maxTokens int
	counter   TokenCounter
	updatedAt time.Time
}

func NewHistory(callID, systemPrompt string, maxTokens int, counter TokenCounter) *History {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	h := &History{
		callID:    callID,
		maxTokens: maxTokens,
		counter:   counter,
		updatedAt: time.Now().UTC(),
	}
	if systemPrompt != "" {
		h.appendLocked(bus.Message{Role: RoleSystem, Content: systemPrompt})
	}
	return h
}

// Append adds one turn and evicts old exchanges until the transcript
// fits the budget again.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(bus.Message{Role: role, Content: content})
	h.evictLocked()
}

func (h *History) appendLocked(m bus.Message) {
	n := h.counter.Count(m.Content) + perMessageOverhead
	h.messages = append(h.messages, m)
	h.tokens = append(h.tokens, n)
	h.total += n
	h.updatedAt = time.Now().UTC()
}

// evictLocked drops the oldest non-system messages, in user/assistant
// pairs where possible, until total <= maxTokens. The most recent
// message always survives, even if it alone blows the budget.
func (h *History) evictLocked() {
	start := 0
	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		start = 1
	}
	for h.total > h.maxTokens && len(h.messages)-start > 1 {
		drop := 1
		if len(h.messages)-start > 2 &&
			h.messages[start].Role == RoleUser &&
			h.messages[start+1].Role == RoleAssistant {
			drop = 2
		}
		for i := 0; i < drop; i++ {
			h.total -= h.tokens[start]
			h.messages = append(h.messages[:start], h.messages[start+1:]...)
			h.tokens = append(h.tokens[:start], h.tokens[start+1:]...)
		}
	}
}

// SetSystem replaces the pinned system prompt in place; the next model
// request carries the new instructions. A call that started without a
// system prompt gains one at index 0.
func (h *History) SetSystem(content string) {
	if content == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.counter.Count(content) + perMessageOverhead
	m := bus.Message{Role: RoleSystem, Content: content}
	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		h.total += n - h.tokens[0]
		h.messages[0] = m
		h.tokens[0] = n
	} else {
		h.messages = append([]bus.Message{m}, h.messages...)
		h.tokens = append([]int{n}, h.tokens...)
		h.total += n
	}
	h.updatedAt = time.Now().UTC()
	h.evictLocked()
}

// Messages returns a copy of the transcript for a model request.
func (h *History) Messages() []bus.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]bus.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// TotalTokens is the budgeted size of the current transcript.
func (h *History) TotalTokens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *History) CallID() string { return h.callID }

// snapshot captures the persisted form.
func (h *History) snapshot() persistedHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]bus.Message, len(h.messages))
	copy(msgs, h.messages)
	return persistedHistory{
		CallID:    h.callID,
		Messages:  msgs,
		MaxTokens: h.maxTokens,
		UpdatedAt: h.updatedAt,
	}
}

// restore rebuilds counters from persisted messages.
func (h *History) restore(p persistedHistory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callID = p.CallID
	h.maxTokens = p.MaxTokens
	if h.maxTokens <= 0 {
		h.maxTokens = DefaultMaxTokens
	}
	h.messages = nil
	h.tokens = nil
	h.total = 0
	for _, m := range p.Messages {
		h.appendLocked(m)
	}
	h.updatedAt = p.UpdatedAt
	h.evictLocked()
}
