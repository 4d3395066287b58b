package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONB")
	}

	// Handle empty or null JSON
	if len(bytes) == 0 || string(bytes) == "null" {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	if err != nil {
		return err
	}
	*j = result
	return nil
}

// Trigger is one configured subscription to a provider event type, bound to
// a linked account and a project. The natural key is
// (project_id, app_name, linked_account_id, trigger_name).
type Trigger struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ProjectID       uuid.UUID `db:"project_id" json:"project_id"`
	AppName         string    `db:"app_name" json:"app_name"`
	LinkedAccountID uuid.UUID `db:"linked_account_id" json:"linked_account_id"`
	TriggerName     string    `db:"trigger_name" json:"trigger_name"`
	TriggerType     string    `db:"trigger_type" json:"trigger_type"`
	Description     string    `db:"description" json:"description,omitempty"`
	WebhookURL      string    `db:"webhook_url" json:"webhook_url"`
	// VerificationToken is stored sealed; use secrets.Sealer to recover it.
	VerificationToken string     `db:"verification_token" json:"-"`
	ExternalWebhookID *string    `db:"external_webhook_id" json:"external_webhook_id,omitempty"`
	Config            JSONB      `db:"config" json:"config"`
	Status            string     `db:"status" json:"status"`
	ErrorMessage      *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	LastTriggeredAt   *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	ExpiresAt         *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// RetryCount reads the registration retry counter kept inside config.
func (t Trigger) RetryCount() int {
	if t.Config == nil {
		return 0
	}
	switch v := t.Config["retry_count"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// RenewalFailCount reads the consecutive renewal failure counter kept
// inside config.
func (t Trigger) RenewalFailCount() int {
	if t.Config == nil {
		return 0
	}
	switch v := t.Config["renewal_fail_count"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// TriggerEvent is one received webhook delivery persisted for downstream
// processing. Rows carrying an external event id are unique per trigger.
type TriggerEvent struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	TriggerID       uuid.UUID  `db:"trigger_id" json:"trigger_id"`
	EventType       string     `db:"event_type" json:"event_type"`
	EventData       JSONB      `db:"event_data" json:"event_data"`
	ExternalEventID *string    `db:"external_event_id" json:"external_event_id,omitempty"`
	Status          string     `db:"status" json:"status"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	ReceivedAt      time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	DeliveredAt     *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ExpiresAt       time.Time  `db:"expires_at" json:"expires_at"`
}

// APIKey authenticates a caller of the admin API. Only the SHA-256 hash of
// the raw key is stored; the raw key is shown once at creation.
type APIKey struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ProjectID     uuid.UUID  `db:"project_id" json:"project_id"`
	Name          string     `db:"name" json:"name"`
	KeyHash       string     `db:"key_hash" json:"-"`
	KeyPrefix     string     `db:"key_prefix" json:"key_prefix"`
	Status        string     `db:"status" json:"status"`
	LastUsedAt    *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	TotalRequests int        `db:"total_requests" json:"total_requests"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// TriggerStats summarizes recent delivery activity for one trigger.
type TriggerStats struct {
	TotalEvents   int        `db:"total_events" json:"total_events"`
	EventsLast24h int        `db:"events_last_24h" json:"events_last_24h"`
	FailedEvents  int        `db:"failed_events" json:"failed_events"`
	LastEventAt   *time.Time `db:"last_event_at" json:"last_event_at,omitempty"`
}
