// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_service

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	internal_orchestrator "github.com/voxbridgeai/api/voice-api/internal/orchestrator"
	internal_switchevents "github.com/voxbridgeai/api/voice-api/internal/switchevents"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/utils"
)

type startCallRequest struct {
	CallID       string                              `json:"call_id"`
	Codec        string                              `json:"codec"`
	RemoteAddr   string                              `json:"remote_addr"`
	ChannelUUID  string                              `json:"channel_uuid"`
	Direction    string                              `json:"direction"`
	CallerNumber string                              `json:"caller_number"`
	CalleeNumber string                              `json:"callee_number"`
	AutoAnswer   bool                                `json:"auto_answer"`
	SnoopMedia   bool                                `json:"snoop_media"`
	Instructions internal_orchestrator.Instructions `json:"instructions"`
}

// transferCallRequest may omit the endpoint when the call's
// instructions carry a transfer target.
type transferCallRequest struct {
	Endpoint string `json:"endpoint"`
}

// RegisterRoutes mounts the call API and the switch webhook routes.
// With an API key configured, the call API requires it; the webhook
// routes stay open because the switch authenticates out of band.
func (s *Service) RegisterRoutes(engine *gin.Engine) {
	apiv1 := engine.Group("v1/calls")
	if s.cfg.APIKey != "" {
		apiv1.Use(s.requireAPIKey)
	}
	{
		apiv1.POST("", s.createCall)
		apiv1.GET("/:callId", s.getCall)
		apiv1.DELETE("/:callId", s.deleteCall)
		apiv1.POST("/:callId/transfer", s.transferCall)
		apiv1.PUT("/:callId/instructions", s.updateInstructions)
	}
	engine.GET("/healthz", s.healthz)

	internal_switchevents.NewRouter(s, s.logger).Register(engine)
}

func (s *Service) createCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	callID, port, err := s.StartCall(c.Request.Context(), StartCallParams{
		CallID:       req.CallID,
		Codec:        req.Codec,
		RemoteAddr:   req.RemoteAddr,
		ChannelUUID:  req.ChannelUUID,
		Direction:    req.Direction,
		CallerNumber: req.CallerNumber,
		CalleeNumber: req.CalleeNumber,
		AutoAnswer:   req.AutoAnswer,
		SnoopMedia:   req.SnoopMedia,
		Instructions: req.Instructions,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call_id": callID, "rtp_port": port})
}

func (s *Service) getCall(c *gin.Context) {
	status, ok := s.CallStatus(c.Param("callId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Service) deleteCall(c *gin.Context) {
	if !s.EndCall(c.Param("callId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ending"})
}

func (s *Service) transferCall(c *gin.Context) {
	var req transferCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.TransferCall(c.Request.Context(), c.Param("callId"), req.Endpoint); err != nil {
		if errors.Is(err, ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "transferring"})
}

func (s *Service) updateInstructions(c *gin.Context) {
	var patch bus.UpdateInstructions
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.UpdateInstructions(c.Param("callId"), patch); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Service) requireAPIKey(c *gin.Context) {
	if c.GetHeader(utils.HEADER_API_KEY) != s.cfg.APIKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

func (s *Service) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_calls": s.ActiveCalls()})
}
