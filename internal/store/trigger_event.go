package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const triggerEventColumns = `id, trigger_id, event_type, event_data, external_event_id, status, error_message, received_at, processed_at, delivered_at, expires_at`

// CreateTriggerEventParams represents parameters for persisting a delivery
type CreateTriggerEventParams struct {
	TriggerID       uuid.UUID
	EventType       string
	EventData       JSONB
	ExternalEventID *string
	ExpiresAt       time.Time
}

const sqlCreateTriggerEvent = `
INSERT INTO trigger_events (trigger_id, event_type, event_data, external_event_id, status, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (trigger_id, external_event_id) WHERE external_event_id IS NOT NULL DO NOTHING
RETURNING ` + triggerEventColumns

const sqlGetTriggerEventByExternalID = `
SELECT ` + triggerEventColumns + `
FROM trigger_events
WHERE trigger_id = $1 AND external_event_id = $2
`

// CreateTriggerEvent inserts a delivery, ignoring duplicates of the same
// (trigger, external event id). Returns the stored row and whether it was
// newly inserted; a false result means the provider redelivered an event
// already on record.
func (s *Store) CreateTriggerEvent(ctx context.Context, params CreateTriggerEventParams) (TriggerEvent, bool, error) {
	var event TriggerEvent
	err := s.db.GetContext(ctx, &event, sqlCreateTriggerEvent,
		params.TriggerID,
		params.EventType,
		params.EventData,
		params.ExternalEventID,
		EventStatusPending,
		params.ExpiresAt)
	if err == nil {
		return event, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error(ctx, "failed to create trigger event", err)
		return TriggerEvent{}, false, fmt.Errorf("failed to create trigger event: %w", err)
	}

	// Conflict path: the insert was a no-op, fetch the existing row.
	err = s.db.GetContext(ctx, &event, sqlGetTriggerEventByExternalID, params.TriggerID, params.ExternalEventID)
	if err != nil {
		s.logger.Error(ctx, "failed to get existing trigger event", err)
		return TriggerEvent{}, false, fmt.Errorf("failed to get existing trigger event: %w", err)
	}
	return event, false, nil
}

const sqlGetTriggerEventByID = `
SELECT ` + triggerEventColumns + `
FROM trigger_events
WHERE id = $1
`

// GetTriggerEventByID retrieves a trigger event by ID
func (s *Store) GetTriggerEventByID(ctx context.Context, eventID uuid.UUID) (TriggerEvent, error) {
	var event TriggerEvent
	err := s.db.GetContext(ctx, &event, sqlGetTriggerEventByID, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TriggerEvent{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get trigger event", err)
		return TriggerEvent{}, fmt.Errorf("failed to get trigger event: %w", err)
	}
	return event, nil
}

const sqlMarkEvent = `
UPDATE trigger_events
SET status = $2,
    error_message = $3,
    processed_at = CURRENT_TIMESTAMP,
    delivered_at = CASE WHEN $2 = 'delivered' THEN CURRENT_TIMESTAMP ELSE delivered_at END
WHERE id = $1
`

// MarkEvent transitions an event to the given status
func (s *Store) MarkEvent(ctx context.Context, eventID uuid.UUID, status string, errorMessage *string) error {
	res, err := s.db.ExecContext(ctx, sqlMarkEvent, eventID, status, errorMessage)
	if err != nil {
		s.logger.Error(ctx, "failed to mark trigger event", err)
		return fmt.Errorf("failed to mark trigger event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListTriggerEventsParams represents filters for listing trigger events
type ListTriggerEventsParams struct {
	TriggerID *uuid.UUID
	Status    *string
	EventType *string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

const sqlListTriggerEvents = `
SELECT ` + triggerEventColumns + `
FROM trigger_events
WHERE ($1::uuid IS NULL OR trigger_id = $1)
  AND ($2::text IS NULL OR status = $2)
  AND ($3::text IS NULL OR event_type = $3)
  AND ($4::timestamptz IS NULL OR received_at >= $4)
  AND ($5::timestamptz IS NULL OR received_at <= $5)
ORDER BY received_at DESC
LIMIT $6 OFFSET $7
`

// ListTriggerEvents retrieves events matching the given filters with pagination
func (s *Store) ListTriggerEvents(ctx context.Context, params ListTriggerEventsParams) ([]TriggerEvent, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var events []TriggerEvent
	err := s.db.SelectContext(ctx, &events, sqlListTriggerEvents,
		params.TriggerID,
		params.Status,
		params.EventType,
		params.Since,
		params.Until,
		limit,
		params.Offset)
	if err != nil {
		s.logger.Error(ctx, "failed to list trigger events", err)
		return nil, fmt.Errorf("failed to list trigger events: %w", err)
	}
	return events, nil
}

const sqlCleanupExpiredEvents = `
DELETE FROM trigger_events
WHERE expires_at <= $1
`

// CleanupExpiredEvents deletes events past their retention expiry and
// returns the number removed.
func (s *Store) CleanupExpiredEvents(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlCleanupExpiredEvents, now)
	if err != nil {
		s.logger.Error(ctx, "failed to cleanup expired events", err)
		return 0, fmt.Errorf("failed to cleanup expired events: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

const sqlCountEventsByStatus = `
SELECT COUNT(*) FROM trigger_events WHERE status = $1
`

// CountEventsByStatus counts events in the given status
func (s *Store) CountEventsByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountEventsByStatus, status)
	if err != nil {
		s.logger.Error(ctx, "failed to count trigger events", err)
		return 0, fmt.Errorf("failed to count trigger events: %w", err)
	}
	return count, nil
}

const sqlGetTriggerStats = `
SELECT COUNT(*) AS total_events,
       COUNT(*) FILTER (WHERE received_at >= CURRENT_TIMESTAMP - INTERVAL '24 hours') AS events_last_24h,
       COUNT(*) FILTER (WHERE status = 'failed') AS failed_events,
       MAX(received_at) AS last_event_at
FROM trigger_events
WHERE trigger_id = $1
`

// GetTriggerStats summarizes delivery activity for one trigger.
func (s *Store) GetTriggerStats(ctx context.Context, triggerID uuid.UUID) (TriggerStats, error) {
	var stats TriggerStats
	err := s.db.GetContext(ctx, &stats, sqlGetTriggerStats, triggerID)
	if err != nil {
		s.logger.Error(ctx, "failed to get trigger stats", err)
		return TriggerStats{}, fmt.Errorf("failed to get trigger stats: %w", err)
	}
	return stats, nil
}
