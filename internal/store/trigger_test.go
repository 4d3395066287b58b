package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStore_CreateTrigger(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	trigger := f.CreateTrigger()
	if trigger.Status != TriggerStatusPending {
		t.Errorf("Status = %v, want %v", trigger.Status, TriggerStatusPending)
	}
	if trigger.ID == uuid.Nil {
		t.Error("expected generated id")
	}

	// Same natural key again must conflict
	_, err := testDB.Store.CreateTrigger(ctx, CreateTriggerParams{
		ProjectID:         trigger.ProjectID,
		AppName:           trigger.AppName,
		LinkedAccountID:   trigger.LinkedAccountID,
		TriggerName:       trigger.TriggerName,
		TriggerType:       trigger.TriggerType,
		WebhookURL:        "https://hooks.example.com/webhooks/GITHUB/other",
		VerificationToken: "sealed-token",
		Config:            JSONB{},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate natural key error = %v, want ErrConflict", err)
	}
}

func TestStore_GetTriggerByID(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	created := f.CreateTrigger()

	got, err := testDB.Store.GetTriggerByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTriggerByID() error = %v", err)
	}
	if got.TriggerName != created.TriggerName {
		t.Errorf("TriggerName = %v, want %v", got.TriggerName, created.TriggerName)
	}

	_, err = testDB.Store.GetTriggerByID(ctx, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing trigger error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListTriggersFilters(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	projectID := uuid.New()
	github := f.CreateTrigger(func(o *TriggerOpts) {
		o.ProjectID = projectID
		o.AppName = AppGitHub
	})
	f.CreateTrigger(func(o *TriggerOpts) {
		o.ProjectID = projectID
		o.AppName = AppSlack
		o.TriggerType = "SLACK_MESSAGE"
	})
	f.CreateTrigger() // different project

	app := AppGitHub
	got, err := testDB.Store.ListTriggers(ctx, ListTriggersParams{
		ProjectID: &projectID,
		AppName:   &app,
	})
	if err != nil {
		t.Fatalf("ListTriggers() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != github.ID {
		t.Errorf("expected only the project's GitHub trigger, got %d rows", len(got))
	}

	all, err := testDB.Store.ListTriggers(ctx, ListTriggersParams{ProjectID: &projectID})
	if err != nil {
		t.Fatalf("ListTriggers() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 triggers for project, got %d", len(all))
	}
}

func TestStore_UpdateTriggerStatus(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	trigger := f.CreateTrigger()

	msg := "provider returned 500"
	updated, err := testDB.Store.UpdateTriggerStatus(ctx, trigger.ID, TriggerStatusError, &msg)
	if err != nil {
		t.Fatalf("UpdateTriggerStatus() error = %v", err)
	}
	if updated.Status != TriggerStatusError {
		t.Errorf("Status = %v, want error", updated.Status)
	}
	if updated.ErrorMessage == nil || *updated.ErrorMessage != msg {
		t.Errorf("ErrorMessage = %v, want %q", updated.ErrorMessage, msg)
	}

	// Clearing the error on activation
	updated, err = testDB.Store.UpdateTriggerStatus(ctx, trigger.ID, TriggerStatusActive, nil)
	if err != nil {
		t.Fatalf("UpdateTriggerStatus() error = %v", err)
	}
	if updated.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %v, want nil", *updated.ErrorMessage)
	}
}

func TestStore_UpdateTriggerExternalID(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	trigger := f.CreateTrigger()

	extID := "hook-12345"
	expires := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Second)
	updated, err := testDB.Store.UpdateTriggerExternalID(ctx, trigger.ID, &extID, &expires)
	if err != nil {
		t.Fatalf("UpdateTriggerExternalID() error = %v", err)
	}
	if updated.ExternalWebhookID == nil || *updated.ExternalWebhookID != extID {
		t.Errorf("ExternalWebhookID = %v, want %q", updated.ExternalWebhookID, extID)
	}
	if updated.ExpiresAt == nil || !updated.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", updated.ExpiresAt, expires)
	}
}

func TestStore_FindExpiringTriggers(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	now := time.Now()

	soon := f.CreateTrigger(func(o *TriggerOpts) { o.AppName = AppGmail; o.TriggerType = "GMAIL_NEW_MESSAGE" })
	f.ActivateTrigger(soon.ID)
	expiresSoon := now.Add(2 * time.Hour)
	extID := "watch-1"
	if _, err := testDB.Store.UpdateTriggerExternalID(ctx, soon.ID, &extID, &expiresSoon); err != nil {
		t.Fatalf("failed to set expiry: %v", err)
	}

	later := f.CreateTrigger(func(o *TriggerOpts) { o.AppName = AppGmail; o.TriggerType = "GMAIL_NEW_MESSAGE" })
	f.ActivateTrigger(later.ID)
	expiresLater := now.Add(6 * 24 * time.Hour)
	extID2 := "watch-2"
	if _, err := testDB.Store.UpdateTriggerExternalID(ctx, later.ID, &extID2, &expiresLater); err != nil {
		t.Fatalf("failed to set expiry: %v", err)
	}

	// Pending triggers are never considered expiring
	pending := f.CreateTrigger(func(o *TriggerOpts) { o.AppName = AppGmail; o.TriggerType = "GMAIL_NEW_MESSAGE" })
	extID3 := "watch-3"
	if _, err := testDB.Store.UpdateTriggerExternalID(ctx, pending.ID, &extID3, &expiresSoon); err != nil {
		t.Fatalf("failed to set expiry: %v", err)
	}

	got, err := testDB.Store.FindExpiringTriggers(ctx, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FindExpiringTriggers() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != soon.ID {
		t.Errorf("expected only the soon-expiring active trigger, got %d rows", len(got))
	}
}

func TestStore_FindFailedRegistrations(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	retryable := f.CreateTrigger()
	msg := "transient failure"
	if _, err := testDB.Store.UpdateTriggerStatus(ctx, retryable.ID, TriggerStatusError, &msg); err != nil {
		t.Fatalf("failed to set error status: %v", err)
	}

	exhausted := f.CreateTrigger()
	if _, err := testDB.Store.UpdateTrigger(ctx, exhausted.ID, UpdateTriggerParams{
		Config: JSONB{"retry_count": 3},
	}); err != nil {
		t.Fatalf("failed to set retry count: %v", err)
	}
	if _, err := testDB.Store.UpdateTriggerStatus(ctx, exhausted.ID, TriggerStatusError, &msg); err != nil {
		t.Fatalf("failed to set error status: %v", err)
	}

	got, err := testDB.Store.FindFailedRegistrations(ctx, 3, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("FindFailedRegistrations() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != retryable.ID {
		t.Errorf("expected only the retryable trigger, got %d rows", len(got))
	}
}

func TestStore_DeleteTriggerCascades(t *testing.T) {
	testDB := SetupTestDB(t)
	defer testDB.Close()
	testDB.Truncate(t)

	ctx := context.Background()
	f := NewFixtures(t, testDB)

	trigger := f.CreateTrigger()
	event := f.CreateEvent(trigger.ID, nil)

	if err := testDB.Store.DeleteTrigger(ctx, trigger.ID); err != nil {
		t.Fatalf("DeleteTrigger() error = %v", err)
	}

	if _, err := testDB.Store.GetTriggerByID(ctx, trigger.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("trigger still present after delete: %v", err)
	}
	if _, err := testDB.Store.GetTriggerEventByID(ctx, event.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("event not cascaded on delete: %v", err)
	}

	if err := testDB.Store.DeleteTrigger(ctx, trigger.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestTrigger_RetryCount(t *testing.T) {
	tests := []struct {
		name   string
		config JSONB
		want   int
	}{
		{name: "nil config", config: nil, want: 0},
		{name: "absent key", config: JSONB{"owner": "acme"}, want: 0},
		{name: "json number", config: JSONB{"retry_count": float64(2)}, want: 2},
		{name: "int value", config: JSONB{"retry_count": 1}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := Trigger{Config: tt.config}
			if got := trigger.RetryCount(); got != tt.want {
				t.Errorf("RetryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}
