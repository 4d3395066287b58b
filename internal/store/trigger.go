package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const triggerColumns = `id, project_id, app_name, linked_account_id, trigger_name, trigger_type, description, webhook_url, verification_token, external_webhook_id, config, status, error_message, created_at, updated_at, last_triggered_at, expires_at`

// CreateTriggerParams represents parameters for creating a trigger
type CreateTriggerParams struct {
	// ID is minted by the caller so the webhook URL can embed it before the
	// row exists.
	ID                uuid.UUID
	ProjectID         uuid.UUID
	AppName           string
	LinkedAccountID   uuid.UUID
	TriggerName       string
	TriggerType       string
	Description       string
	WebhookURL        string
	VerificationToken string
	Config            JSONB
}

const sqlCreateTrigger = `
INSERT INTO triggers (id, project_id, app_name, linked_account_id, trigger_name, trigger_type, description, webhook_url, verification_token, config, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + triggerColumns

// CreateTrigger creates a new trigger in pending status. Returns ErrConflict
// when the natural key (project, app, linked account, name) is already taken.
func (s *Store) CreateTrigger(ctx context.Context, params CreateTriggerParams) (Trigger, error) {
	var trigger Trigger
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	err := s.db.GetContext(ctx, &trigger, sqlCreateTrigger,
		id,
		params.ProjectID,
		params.AppName,
		params.LinkedAccountID,
		params.TriggerName,
		params.TriggerType,
		params.Description,
		params.WebhookURL,
		params.VerificationToken,
		params.Config,
		TriggerStatusPending)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Trigger{}, ErrConflict
		}
		s.logger.Error(ctx, "failed to create trigger", err)
		return Trigger{}, fmt.Errorf("failed to create trigger: %w", err)
	}
	return trigger, nil
}

const sqlGetTriggerByID = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE id = $1
`

// GetTriggerByID retrieves a trigger by ID
func (s *Store) GetTriggerByID(ctx context.Context, triggerID uuid.UUID) (Trigger, error) {
	var trigger Trigger
	err := s.db.GetContext(ctx, &trigger, sqlGetTriggerByID, triggerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trigger{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get trigger", err)
		return Trigger{}, fmt.Errorf("failed to get trigger: %w", err)
	}
	return trigger, nil
}

const sqlGetTriggerByWebhookURL = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE webhook_url = $1
`

// GetTriggerByWebhookURL retrieves the trigger a provider delivery is
// addressed to.
func (s *Store) GetTriggerByWebhookURL(ctx context.Context, webhookURL string) (Trigger, error) {
	var trigger Trigger
	err := s.db.GetContext(ctx, &trigger, sqlGetTriggerByWebhookURL, webhookURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trigger{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get trigger by webhook url", err)
		return Trigger{}, fmt.Errorf("failed to get trigger by webhook url: %w", err)
	}
	return trigger, nil
}

// ListTriggersParams represents filters for listing triggers
type ListTriggersParams struct {
	ProjectID *uuid.UUID
	AppName   *string
	Status    *string
	Limit     int
	Offset    int
}

const sqlListTriggers = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE ($1::uuid IS NULL OR project_id = $1)
  AND ($2::text IS NULL OR app_name = $2)
  AND ($3::text IS NULL OR status = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5
`

// ListTriggers retrieves triggers matching the given filters with pagination
func (s *Store) ListTriggers(ctx context.Context, params ListTriggersParams) ([]Trigger, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var triggers []Trigger
	err := s.db.SelectContext(ctx, &triggers, sqlListTriggers,
		params.ProjectID,
		params.AppName,
		params.Status,
		limit,
		params.Offset)
	if err != nil {
		s.logger.Error(ctx, "failed to list triggers", err)
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	return triggers, nil
}

const sqlUpdateTriggerStatus = `
UPDATE triggers
SET status = $2,
    error_message = $3,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + triggerColumns

// UpdateTriggerStatus transitions a trigger to the given status, recording
// or clearing the associated error message.
func (s *Store) UpdateTriggerStatus(ctx context.Context, triggerID uuid.UUID, status string, errorMessage *string) (Trigger, error) {
	var trigger Trigger
	err := s.db.GetContext(ctx, &trigger, sqlUpdateTriggerStatus, triggerID, status, errorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trigger{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update trigger status", err)
		return Trigger{}, fmt.Errorf("failed to update trigger status: %w", err)
	}
	return trigger, nil
}

const sqlUpdateTriggerExternalID = `
UPDATE triggers
SET external_webhook_id = $2,
    expires_at = $3,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + triggerColumns

// UpdateTriggerExternalID records the provider-side subscription id and its
// expiry after a successful registration or renewal.
func (s *Store) UpdateTriggerExternalID(ctx context.Context, triggerID uuid.UUID, externalID *string, expiresAt *time.Time) (Trigger, error) {
	var trigger Trigger
	err := s.db.GetContext(ctx, &trigger, sqlUpdateTriggerExternalID, triggerID, externalID, expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trigger{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update trigger external id", err)
		return Trigger{}, fmt.Errorf("failed to update trigger external id: %w", err)
	}
	return trigger, nil
}

// UpdateTriggerParams represents mutable trigger fields
type UpdateTriggerParams struct {
	Description *string
	Config      JSONB
}

const sqlUpdateTrigger = `
UPDATE triggers
SET description = COALESCE($2, description),
    config = COALESCE($3, config),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + triggerColumns

// UpdateTrigger updates a trigger's description and config
func (s *Store) UpdateTrigger(ctx context.Context, triggerID uuid.UUID, params UpdateTriggerParams) (Trigger, error) {
	var configValue interface{}
	if params.Config != nil {
		configValue = params.Config
	}

	var trigger Trigger
	err := s.db.GetContext(ctx, &trigger, sqlUpdateTrigger, triggerID, params.Description, configValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trigger{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update trigger", err)
		return Trigger{}, fmt.Errorf("failed to update trigger: %w", err)
	}
	return trigger, nil
}

const sqlSetLastTriggered = `
UPDATE triggers
SET last_triggered_at = $2
WHERE id = $1
`

// SetLastTriggered records the time of the most recent accepted delivery.
// Best effort: callers may ignore the error.
func (s *Store) SetLastTriggered(ctx context.Context, triggerID uuid.UUID, t time.Time) error {
	_, err := s.db.ExecContext(ctx, sqlSetLastTriggered, triggerID, t)
	if err != nil {
		s.logger.Error(ctx, "failed to set last triggered", err)
		return fmt.Errorf("failed to set last triggered: %w", err)
	}
	return nil
}

const sqlDeleteTrigger = `
DELETE FROM triggers
WHERE id = $1
`

// DeleteTrigger removes a trigger; its events are removed by cascade
func (s *Store) DeleteTrigger(ctx context.Context, triggerID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteTrigger, triggerID)
	if err != nil {
		s.logger.Error(ctx, "failed to delete trigger", err)
		return fmt.Errorf("failed to delete trigger: %w", err)
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

const sqlFindExpiringTriggers = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE status = 'active'
  AND expires_at IS NOT NULL
  AND expires_at <= $1
ORDER BY expires_at ASC
`

// FindExpiringTriggers retrieves active triggers whose provider subscription
// expires before the given deadline.
func (s *Store) FindExpiringTriggers(ctx context.Context, deadline time.Time) ([]Trigger, error) {
	var triggers []Trigger
	err := s.db.SelectContext(ctx, &triggers, sqlFindExpiringTriggers, deadline)
	if err != nil {
		s.logger.Error(ctx, "failed to find expiring triggers", err)
		return nil, fmt.Errorf("failed to find expiring triggers: %w", err)
	}
	return triggers, nil
}

const sqlFindExpiredTriggers = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE status = 'active'
  AND expires_at IS NOT NULL
  AND expires_at <= $1
`

// FindExpiredTriggers retrieves active triggers whose subscription expiry
// has already passed.
func (s *Store) FindExpiredTriggers(ctx context.Context, now time.Time) ([]Trigger, error) {
	var triggers []Trigger
	err := s.db.SelectContext(ctx, &triggers, sqlFindExpiredTriggers, now)
	if err != nil {
		s.logger.Error(ctx, "failed to find expired triggers", err)
		return nil, fmt.Errorf("failed to find expired triggers: %w", err)
	}
	return triggers, nil
}

const sqlFindFailedRegistrations = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE status = 'error'
  AND COALESCE((config->>'retry_count')::int, 0) < $1
  AND updated_at <= $2
ORDER BY updated_at ASC
`

// FindFailedRegistrations retrieves triggers stuck in error status that are
// eligible for a registration retry: fewer than maxAttempts attempts and the
// last attempt no more recent than lastAttemptBefore.
func (s *Store) FindFailedRegistrations(ctx context.Context, maxAttempts int, lastAttemptBefore time.Time) ([]Trigger, error) {
	var triggers []Trigger
	err := s.db.SelectContext(ctx, &triggers, sqlFindFailedRegistrations, maxAttempts, lastAttemptBefore)
	if err != nil {
		s.logger.Error(ctx, "failed to find failed registrations", err)
		return nil, fmt.Errorf("failed to find failed registrations: %w", err)
	}
	return triggers, nil
}

const sqlCountTriggersByStatus = `
SELECT COUNT(*) FROM triggers WHERE status = $1
`

// CountTriggersByStatus counts triggers in the given status
func (s *Store) CountTriggersByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountTriggersByStatus, status)
	if err != nil {
		s.logger.Error(ctx, "failed to count triggers", err)
		return 0, fmt.Errorf("failed to count triggers: %w", err)
	}
	return count, nil
}
