// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_callstore

import (
	"time"

	"gorm.io/gorm"
)

// Call record status constants.
const (
	StatusPending   = "pending"   // Inbound: created, waiting for media
	StatusQueued    = "queued"    // Outbound: created, waiting for the switch to connect
	StatusClaimed   = "claimed"   // Media session established
	StatusCompleted = "completed" // Call ended normally
	StatusFailed    = "failed"    // Call setup or execution failed
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// CallRecord bridges the gap between call setup (webhook or API) and
// the RTP session that follows. Switch status callbacks arrive
// asynchronously, sometimes after the media has gone, so rows are only
// transitioned through statuses during a call, never deleted.
type CallRecord struct {
	Id           uint64    `json:"id" gorm:"type:bigint;primaryKey;autoIncrement"`
	CallID       string    `json:"callId" gorm:"column:call_id;type:varchar(36);not null;uniqueIndex"`
	Status       string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`
	Direction    string    `json:"direction" gorm:"column:direction;type:varchar(20);not null;default:''"`
	CallerNumber string    `json:"callerNumber" gorm:"column:caller_number;type:varchar(50);not null;default:''"`
	CalleeNumber string    `json:"calleeNumber" gorm:"column:callee_number;type:varchar(50);not null;default:''"`
	AgentID      string    `json:"agentId" gorm:"column:agent_id;type:varchar(100);not null;default:''"`
	Codec        string    `json:"codec" gorm:"column:codec;type:varchar(20);not null;default:''"`
	LocalPort    int       `json:"localPort" gorm:"column:local_port;type:int;not null;default:0"`
	FinalState   string    `json:"finalState" gorm:"column:final_state;type:varchar(20);not null;default:''"`
	EndReason    string    `json:"endReason" gorm:"column:end_reason;type:varchar(100);not null;default:''"`
	CreatedDate  time.Time `json:"createdDate" gorm:"type:timestamp;not null;<-:create"`
	UpdatedDate  time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`

	// ChannelUUID is the switch-side channel identifier, stored so any
	// control operation (play, stop, hangup, transfer) can reference the
	// live channel.
	ChannelUUID string `json:"channelUuid" gorm:"column:channel_uuid;type:varchar(200);not null;default:''"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

func (r *CallRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.CreatedDate.IsZero() {
		r.CreatedDate = time.Now()
	}
	return nil
}

// IsPending reports whether the record has not yet been claimed.
func (r *CallRecord) IsPending() bool {
	return r.Status == StatusPending
}

// IsClaimed reports whether a media session holds this record.
func (r *CallRecord) IsClaimed() bool {
	return r.Status == StatusClaimed
}
