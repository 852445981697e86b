// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_switchctl is the REST client for the media switch
// (Asterisk ARI). The orchestrator uses it to play artifacts, stop
// playback on barge-in, and hang up channels.
package internal_switchctl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxbridgeai/pkg/commons"
)

// Channel is one live channel on the switch.
type Channel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Caller struct {
		Number string `json:"number"`
	} `json:"caller"`
}

// Playback identifies an in-flight media playback.
type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri"`
	State    string `json:"state"`
}

// Config carries switch connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration // per attempt, default 5 s
}

// Client talks to the switch. Transient failures retry up to three
// times with exponential backoff from a 1 s base.
type Client struct {
	http   *resty.Client
	logger commons.Logger
}

func NewClient(cfg Config, logger commons.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: rc, logger: logger}
}

// Channels lists live channels.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&channels).
		Get("/ari/channels")
	if err != nil {
		return nil, fmt.Errorf("switchctl: list channels: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("switchctl: list channels: status %d", resp.StatusCode())
	}
	return channels, nil
}

// Play starts playback of an audio artifact on a channel and returns
// the playback handle used to stop it.
func (c *Client) Play(ctx context.Context, channelID, mediaURI string) (*Playback, error) {
	var playback Playback
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("media", mediaURI).
		SetResult(&playback).
		Post(fmt.Sprintf("/ari/channels/%s/play", channelID))
	if err != nil {
		return nil, fmt.Errorf("switchctl: play on %s: %w", channelID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("switchctl: play on %s: status %d", channelID, resp.StatusCode())
	}
	c.logger.Debugw("playback started", "channel_id", channelID, "playback_id", playback.ID, "media", mediaURI)
	return &playback, nil
}

// PlayArtifact plays a stored TTS artifact by filesystem handle.
func (c *Client) PlayArtifact(ctx context.Context, channelID, handle string) (*Playback, error) {
	return c.Play(ctx, channelID, "sound:"+handle)
}

// SayLetters spells text letter by letter on the channel. Last-resort
// fallback when no synthesized audio is available.
func (c *Client) SayLetters(ctx context.Context, channelID, text string) (*Playback, error) {
	return c.Play(ctx, channelID, "characters:"+text)
}

// StopPlayback cancels an in-flight playback. A 404 means the playback
// already finished, which is success for the caller.
func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/ari/playbacks/%s", playbackID))
	if err != nil {
		return fmt.Errorf("switchctl: stop playback %s: %w", playbackID, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("switchctl: stop playback %s: status %d", playbackID, resp.StatusCode())
	}
	return nil
}

// Hangup tears down a channel. A 404 means the channel is already
// gone, which is success for the caller.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/ari/channels/%s", channelID))
	if err != nil {
		return fmt.Errorf("switchctl: hangup %s: %w", channelID, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("switchctl: hangup %s: status %d", channelID, resp.StatusCode())
	}
	c.logger.Infow("channel hung up", "channel_id", channelID)
	return nil
}

// Snoop originates a snoop channel that mirrors the media of an
// existing channel, used to fork caller audio into the RTP engine.
func (c *Client) Snoop(ctx context.Context, channelID, app string) (*Channel, error) {
	var snoop Channel
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"spy": "both",
			"app": app,
		}).
		SetResult(&snoop).
		Post(fmt.Sprintf("/ari/channels/%s/snoop", channelID))
	if err != nil {
		return nil, fmt.Errorf("switchctl: snoop %s: %w", channelID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("switchctl: snoop %s: status %d", channelID, resp.StatusCode())
	}
	return &snoop, nil
}

// Redirect transfers the channel to another extension.
func (c *Client) Redirect(ctx context.Context, channelID, endpoint string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("endpoint", endpoint).
		Post(fmt.Sprintf("/ari/channels/%s/redirect", channelID))
	if err != nil {
		return fmt.Errorf("switchctl: redirect %s: %w", channelID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("switchctl: redirect %s: status %d", channelID, resp.StatusCode())
	}
	c.logger.Infow("channel redirected", "channel_id", channelID, "endpoint", endpoint)
	return nil
}
