// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_callstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/connectors"
)

// Store provides operations to save and retrieve call records.
//
// Records are session-scoped rows that live for the entire duration of
// a call. Switch callbacks arrive asynchronously, including after the
// media session has torn down, so rows stay readable for the full
// lifetime of a record.
type Store interface {
	// Save stores a record with a generated callId (UUID) when absent.
	Save(ctx context.Context, r *CallRecord) (string, error)

	// Get retrieves a record by callId regardless of status.
	Get(ctx context.Context, callID string) (*CallRecord, error)

	// Claim atomically transitions a record from "pending" or "queued"
	// to "claimed". Only one concurrent media session can win; losers
	// get an error because the row is no longer claimable.
	Claim(ctx context.Context, callID string) (*CallRecord, error)

	// Finish marks the record completed or failed and stamps the final
	// FSM state and end reason.
	Finish(ctx context.Context, callID, status, finalState, reason string) error

	// UpdateField sets a single allowlisted column.
	UpdateField(ctx context.Context, callID, field, value string) error

	// Delete removes a record. Cleanup only, never during a live call.
	Delete(ctx context.Context, callID string) error
}

type sqlStore struct {
	conn   connectors.PostgresConnector
	logger commons.Logger
}

func NewStore(conn connectors.PostgresConnector, logger commons.Logger) Store {
	return &sqlStore{conn: conn, logger: logger}
}

func (s *sqlStore) Save(ctx context.Context, r *CallRecord) (string, error) {
	if r.CallID == "" {
		r.CallID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}

	db := s.conn.DB(ctx)
	if err := db.Create(r).Error; err != nil {
		return "", fmt.Errorf("failed to save call record %s: %w", r.CallID, err)
	}

	s.logger.Infof("saved call record: callId=%s, direction=%s, caller=%s",
		r.CallID, r.Direction, r.CallerNumber)
	return r.CallID, nil
}

func (s *sqlStore) Get(ctx context.Context, callID string) (*CallRecord, error) {
	db := s.conn.DB(ctx)
	var r CallRecord
	if err := db.Where("call_id = ?", callID).First(&r).Error; err != nil {
		return nil, fmt.Errorf("call record not found: %s: %w", callID, err)
	}
	return &r, nil
}

func (s *sqlStore) Claim(ctx context.Context, callID string) (*CallRecord, error) {
	db := s.conn.DB(ctx)

	// Atomic update: only succeeds while the row is still claimable.
	result := db.Model(&CallRecord{}).
		Where("call_id = ? AND status IN ?", callID, []string{StatusPending, StatusQueued}).
		Updates(map[string]interface{}{
			"status":       StatusClaimed,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim call record %s: %w", callID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("call record %s not found or already claimed", callID)
	}

	var r CallRecord
	if err := db.Where("call_id = ?", callID).First(&r).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch claimed call record %s: %w", callID, err)
	}

	s.logger.Debugf("claimed call record: callId=%s", callID)
	return &r, nil
}

func (s *sqlStore) Finish(ctx context.Context, callID, status, finalState, reason string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("status %q is not a finishing status", status)
	}
	db := s.conn.DB(ctx)
	result := db.Model(&CallRecord{}).
		Where("call_id = ?", callID).
		Updates(map[string]interface{}{
			"status":       status,
			"final_state":  finalState,
			"end_reason":   reason,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish call record %s: %w", callID, result.Error)
	}

	s.logger.Debugf("finished call record: callId=%s, status=%s, finalState=%s", callID, status, finalState)
	return nil
}

func (s *sqlStore) UpdateField(ctx context.Context, callID, field, value string) error {
	db := s.conn.DB(ctx)

	// Allowlist of updatable fields to prevent SQL injection.
	allowed := map[string]bool{
		"channel_uuid": true,
		"status":       true,
		"codec":        true,
		"agent_id":     true,
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not updatable on call record", field)
	}

	result := db.Model(&CallRecord{}).
		Where("call_id = ?", callID).
		Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on call record %s: %w", field, callID, result.Error)
	}

	s.logger.Debugf("updated call record field: callId=%s, %s=%s", callID, field, value)
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, callID string) error {
	db := s.conn.DB(ctx)
	if err := db.Where("call_id = ?", callID).Delete(&CallRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete call record %s: %w", callID, err)
	}
	return nil
}
