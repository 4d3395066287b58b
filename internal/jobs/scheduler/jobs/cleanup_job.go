package jobs

import (
	"context"
	"fmt"
	"time"

	"trigger-server/internal/observability"
)

// CleanupStore deletes events past their retention window.
type CleanupStore interface {
	CleanupExpiredEvents(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob removes trigger events whose retention expired.
type CleanupJob struct {
	store    CleanupStore
	logger   *observability.Logger
	interval time.Duration
}

// NewCleanupJob creates the event cleanup job.
func NewCleanupJob(st CleanupStore, logger *observability.Logger, interval time.Duration) *CleanupJob {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	return &CleanupJob{
		store:    st,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "event_cleanup"
}

// Schedule returns how often the job should run
func (j *CleanupJob) Schedule() time.Duration {
	return j.interval
}

// Run deletes all events past retention.
func (j *CleanupJob) Run(ctx context.Context) error {
	deleted, err := j.store.CleanupExpiredEvents(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to clean up expired events: %w", err)
	}
	if deleted > 0 {
		j.logger.Info(ctx, fmt.Sprintf("Deleted %d expired trigger events", deleted))
	}
	return nil
}
