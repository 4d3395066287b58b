package service

import (
	"context"
	"time"

	"trigger-server/internal/store"

	"github.com/google/uuid"
)

// Store defines the database operations required by the trigger service.
type Store interface {
	CreateTrigger(ctx context.Context, params store.CreateTriggerParams) (store.Trigger, error)
	GetTriggerByID(ctx context.Context, triggerID uuid.UUID) (store.Trigger, error)
	ListTriggers(ctx context.Context, params store.ListTriggersParams) ([]store.Trigger, error)
	UpdateTrigger(ctx context.Context, triggerID uuid.UUID, params store.UpdateTriggerParams) (store.Trigger, error)
	UpdateTriggerStatus(ctx context.Context, triggerID uuid.UUID, status string, errorMessage *string) (store.Trigger, error)
	UpdateTriggerExternalID(ctx context.Context, triggerID uuid.UUID, externalID *string, expiresAt *time.Time) (store.Trigger, error)
	DeleteTrigger(ctx context.Context, triggerID uuid.UUID) error
	GetLinkedAccountByID(ctx context.Context, accountID uuid.UUID) (store.LinkedAccount, error)
	GetTriggerStats(ctx context.Context, triggerID uuid.UUID) (store.TriggerStats, error)
}
