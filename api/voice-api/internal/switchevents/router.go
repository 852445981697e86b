// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_switchevents receives switch webhooks and turns
// them into call events. The switch posts playback and channel state
// asynchronously; payloads may be JSON or form-encoded depending on
// the event source.
package internal_switchevents

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	internal_callfsm "github.com/voxbridgeai/api/voice-api/internal/callfsm"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// CallResolver finds the state machine of a live call.
type CallResolver interface {
	Machine(callID string) (*internal_callfsm.Machine, bool)
}

type Router struct {
	resolver CallResolver
	logger   commons.Logger
}

func NewRouter(resolver CallResolver, logger commons.Logger) *Router {
	return &Router{resolver: resolver, logger: logger}
}

// Register mounts the webhook routes.
func (r *Router) Register(engine *gin.Engine) {
	apiv1 := engine.Group("v1/switch")
	{
		apiv1.POST("/playback/:callId", r.PlaybackEvent)
		apiv1.POST("/hangup/:callId", r.HangupEvent)
		apiv1.POST("/status/:callId", r.StatusEvent)
	}
}

// PlaybackEvent handles playback lifecycle callbacks. Only the
// finished event advances the call; started and stopped are logged.
func (r *Router) PlaybackEvent(c *gin.Context) {
	callID := c.Param("callId")
	details, err := parseEventBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	machine, ok := r.resolver.Machine(callID)
	if !ok {
		// Late callback after teardown; acknowledge so the switch
		// stops retrying.
		r.logger.Debugw("playback event for unknown call", "call_id", callID)
		c.Status(http.StatusOK)
		return
	}

	eventType := extractEventType(details)
	switch eventType {
	case "PlaybackFinished", "finished":
		machine.Dispatch(internal_callfsm.EventPlaybackComplete)
	default:
		r.logger.Debugw("playback event ignored", "call_id", callID, "event", eventType)
	}
	c.Status(http.StatusOK)
}

// HangupEvent handles channel teardown callbacks.
func (r *Router) HangupEvent(c *gin.Context) {
	callID := c.Param("callId")
	if machine, ok := r.resolver.Machine(callID); ok {
		machine.Dispatch(internal_callfsm.EventHangup)
	} else {
		r.logger.Debugw("hangup event for unknown call", "call_id", callID)
	}
	c.Status(http.StatusOK)
}

// StatusEvent handles generic channel state callbacks. Answer events
// advance RINGING calls; everything else is recorded and acknowledged.
func (r *Router) StatusEvent(c *gin.Context) {
	callID := c.Param("callId")
	details, err := parseEventBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eventType := extractEventType(details)
	machine, ok := r.resolver.Machine(callID)
	if !ok {
		r.logger.Debugw("status event for unknown call", "call_id", callID, "event", eventType)
		c.Status(http.StatusOK)
		return
	}

	switch eventType {
	case "ChannelAnswered", "answered":
		machine.Dispatch(internal_callfsm.EventAnswered)
	case "ChannelDestroyed", "destroyed":
		machine.Dispatch(internal_callfsm.EventHangup)
	default:
		r.logger.Debugw("status event recorded", "call_id", callID, "event", eventType)
	}
	c.Status(http.StatusOK)
}

// parseEventBody accepts JSON or form-encoded payloads.
func parseEventBody(c *gin.Context) (map[string]interface{}, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}
	if len(body) == 0 {
		return map[string]interface{}{}, nil
	}

	var details map[string]interface{}
	if err := json.Unmarshal(body, &details); err == nil {
		return details, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request body")
	}
	details = make(map[string]interface{})
	for key, value := range values {
		if len(value) > 0 {
			details[key] = value[0]
		} else {
			details[key] = nil
		}
	}
	return details, nil
}

// extractEventType probes the fields different event sources use.
func extractEventType(details map[string]interface{}) string {
	for _, key := range []string{"type", "event", "Event"} {
		if v, ok := details[key]; ok && !utils.IsEmpty(fmt.Sprintf("%v", v)) {
			return fmt.Sprintf("%v", v)
		}
	}
	return "unknown"
}
