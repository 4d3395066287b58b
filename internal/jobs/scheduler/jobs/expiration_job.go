package jobs

import (
	"context"
	"fmt"
	"time"

	"trigger-server/internal/observability"
	"trigger-server/internal/store"

	"github.com/google/uuid"
)

// ExpirationStore finds and marks triggers whose subscription has lapsed.
type ExpirationStore interface {
	FindExpiredTriggers(ctx context.Context, now time.Time) ([]store.Trigger, error)
	UpdateTriggerStatus(ctx context.Context, triggerID uuid.UUID, status string, errorMessage *string) (store.Trigger, error)
}

// ExpirationJob marks triggers whose remote subscription expired before a
// renewal landed. Deliveries for expired triggers get 410 instead of being
// verified against a subscription the provider no longer honours.
type ExpirationJob struct {
	store    ExpirationStore
	logger   *observability.Logger
	interval time.Duration
}

// NewExpirationJob creates the expiration job.
func NewExpirationJob(st ExpirationStore, logger *observability.Logger, interval time.Duration) *ExpirationJob {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	return &ExpirationJob{
		store:    st,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *ExpirationJob) Name() string {
	return "trigger_expiration"
}

// Schedule returns how often the job should run
func (j *ExpirationJob) Schedule() time.Duration {
	return j.interval
}

// Run marks every active trigger whose expiry has passed.
func (j *ExpirationJob) Run(ctx context.Context) error {
	triggers, err := j.store.FindExpiredTriggers(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to find expired triggers: %w", err)
	}
	if len(triggers) == 0 {
		return nil
	}

	marked := 0
	for _, trigger := range triggers {
		triggerCtx := observability.WithFields(ctx,
			observability.Field{Key: "trigger_id", Value: trigger.ID})
		msg := "subscription expired before renewal"
		if _, err := j.store.UpdateTriggerStatus(ctx, trigger.ID, store.TriggerStatusExpired, &msg); err != nil {
			j.logger.Error(triggerCtx, "failed to mark trigger expired", err)
			continue
		}
		marked++
	}

	j.logger.Info(ctx, fmt.Sprintf("Marked %d of %d lapsed triggers expired", marked, len(triggers)))
	return nil
}
