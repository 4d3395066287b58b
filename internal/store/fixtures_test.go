package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Fixtures provides factory functions for creating test data.
// All factory methods use testify/require to fail fast on errors.
type Fixtures struct {
	t      *testing.T
	testDB *TestDB
	ctx    context.Context
}

// NewFixtures creates a new Fixtures instance for test data generation.
func NewFixtures(t *testing.T, testDB *TestDB) *Fixtures {
	t.Helper()
	return &Fixtures{
		t:      t,
		testDB: testDB,
		ctx:    context.Background(),
	}
}

// TriggerOpts customizes trigger creation.
type TriggerOpts struct {
	ProjectID       uuid.UUID
	AppName         string
	LinkedAccountID uuid.UUID
	TriggerName     string
	TriggerType     string
	Config          JSONB
}

// DefaultTriggerOpts returns sensible defaults for trigger creation.
func DefaultTriggerOpts() TriggerOpts {
	return TriggerOpts{
		ProjectID:       uuid.New(),
		AppName:         AppGitHub,
		LinkedAccountID: uuid.New(),
		TriggerName:     fmt.Sprintf("trigger-%s", uuid.NewString()[:8]),
		TriggerType:     "GITHUB_PUSH",
		Config:          JSONB{"owner": "acme", "repo": "widgets"},
	}
}

// CreateTrigger creates a test trigger with optional customization.
func (f *Fixtures) CreateTrigger(opts ...func(*TriggerOpts)) Trigger {
	f.t.Helper()
	o := DefaultTriggerOpts()
	for _, fn := range opts {
		fn(&o)
	}

	trigger, err := f.testDB.Store.CreateTrigger(f.ctx, CreateTriggerParams{
		ProjectID:         o.ProjectID,
		AppName:           o.AppName,
		LinkedAccountID:   o.LinkedAccountID,
		TriggerName:       o.TriggerName,
		TriggerType:       o.TriggerType,
		Description:       "fixture trigger",
		WebhookURL:        fmt.Sprintf("https://hooks.example.com/webhooks/%s/%s", o.AppName, uuid.NewString()),
		VerificationToken: "sealed-token",
		Config:            o.Config,
	})
	require.NoError(f.t, err, "failed to create fixture trigger")
	return trigger
}

// ActivateTrigger moves a fixture trigger to active status.
func (f *Fixtures) ActivateTrigger(triggerID uuid.UUID) Trigger {
	f.t.Helper()
	trigger, err := f.testDB.Store.UpdateTriggerStatus(f.ctx, triggerID, TriggerStatusActive, nil)
	require.NoError(f.t, err, "failed to activate fixture trigger")
	return trigger
}

// CreateEvent creates a test trigger event.
func (f *Fixtures) CreateEvent(triggerID uuid.UUID, externalEventID *string) TriggerEvent {
	f.t.Helper()
	event, inserted, err := f.testDB.Store.CreateTriggerEvent(f.ctx, CreateTriggerEventParams{
		TriggerID:       triggerID,
		EventType:       "GITHUB_PUSH",
		EventData:       JSONB{"ref": "refs/heads/main"},
		ExternalEventID: externalEventID,
		ExpiresAt:       time.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(f.t, err, "failed to create fixture event")
	require.True(f.t, inserted, "fixture event unexpectedly deduplicated")
	return event
}
