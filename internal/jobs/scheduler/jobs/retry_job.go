package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trigger-server/internal/observability"
	"trigger-server/internal/store"
	"trigger-server/internal/workers"

	"github.com/google/uuid"
)

const (
	// retryMaxAttempts caps registration retries before a trigger stays in
	// error until manual intervention.
	retryMaxAttempts = 3
	// retryCooldown is the minimum age of the last attempt before retrying.
	retryCooldown = 5 * time.Minute
)

// RetryStore finds triggers stuck in registration error.
type RetryStore interface {
	FindFailedRegistrations(ctx context.Context, maxAttempts int, lastAttemptBefore time.Time) ([]store.Trigger, error)
}

// RegistrationRetrier re-attempts one trigger's provider registration.
type RegistrationRetrier interface {
	RetryRegistration(ctx context.Context, triggerID uuid.UUID) error
}

// RetryJob re-drives registrations that failed transiently at create time.
type RetryJob struct {
	store    RetryStore
	retrier  RegistrationRetrier
	pool     workers.Pool
	logger   *observability.Logger
	interval time.Duration
}

// NewRetryJob creates the registration retry job.
func NewRetryJob(st RetryStore, retrier RegistrationRetrier, pool workers.Pool,
	logger *observability.Logger, interval time.Duration) *RetryJob {
	if interval == 0 {
		interval = 30 * time.Minute
	}
	return &RetryJob{
		store:    st,
		retrier:  retrier,
		pool:     pool,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *RetryJob) Name() string {
	return "registration_retry"
}

// Schedule returns how often the job should run
func (j *RetryJob) Schedule() time.Duration {
	return j.interval
}

// Run retries every eligible failed registration on the connector pool.
func (j *RetryJob) Run(ctx context.Context) error {
	triggers, err := j.store.FindFailedRegistrations(ctx, retryMaxAttempts, time.Now().Add(-retryCooldown))
	if err != nil {
		return fmt.Errorf("failed to find failed registrations: %w", err)
	}
	if len(triggers) == 0 {
		return nil
	}

	j.logger.Info(ctx, fmt.Sprintf("Retrying %d failed registrations", len(triggers)))

	var wg sync.WaitGroup
	var failures atomic.Int64
	for _, trigger := range triggers {
		triggerID := trigger.ID
		wg.Add(1)
		err := j.pool.Submit(ctx, workers.Task{
			Name:      "retry_registration",
			TriggerID: triggerID.String(),
			Run: func(taskCtx context.Context) error {
				defer wg.Done()
				if err := j.retrier.RetryRegistration(taskCtx, triggerID); err != nil {
					failures.Add(1)
					return err
				}
				return nil
			},
		})
		if err != nil {
			wg.Done()
			failures.Add(1)
			j.logger.WarnWithError(ctx, "failed to submit retry task", err)
		}
	}
	wg.Wait()

	j.logger.Info(ctx, fmt.Sprintf("Registration retry completed: %d succeeded, %d failed",
		int64(len(triggers))-failures.Load(), failures.Load()))
	return nil
}
