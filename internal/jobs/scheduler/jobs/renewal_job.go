// Package jobs holds the background maintenance jobs keeping remote webhook
// subscriptions healthy: renewal, expiration, registration retry, event
// cleanup and gauge refresh.
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

// renewalLookahead is how far ahead of expiry subscriptions are renewed.
// Gmail watches live seven days, so a day of slack leaves several job runs
// before anything actually lapses.
const renewalLookahead = 24 * time.Hour

// RenewalStore finds triggers whose subscription is about to lapse.
type RenewalStore interface {
	FindExpiringTriggers(ctx context.Context, deadline time.Time) ([]store.Trigger, error)
}

// Renewer extends one trigger's remote subscription.
type Renewer interface {
	Renew(ctx context.Context, triggerID uuid.UUID) error
}

// RenewalJob re-registers expiring subscriptions before providers drop them.
type RenewalJob struct {
	store    RenewalStore
	renewer  Renewer
	pool     workers.Pool
	logger   *observability.Logger
	interval time.Duration
}

// NewRenewalJob creates the renewal job.
func NewRenewalJob(st RenewalStore, renewer Renewer, pool workers.Pool,
	logger *observability.Logger, interval time.Duration) *RenewalJob {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &RenewalJob{
		store:    st,
		renewer:  renewer,
		pool:     pool,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *RenewalJob) Name() string {
	return "subscription_renewal"
}

// Schedule returns how often the job should run
func (j *RenewalJob) Schedule() time.Duration {
	return j.interval
}

// Run renews every trigger expiring within the lookahead window. Renewals
// run on the shared connector pool so one slow provider does not stall the
// batch.
func (j *RenewalJob) Run(ctx context.Context) error {
	triggers, err := j.store.FindExpiringTriggers(ctx, time.Now().Add(renewalLookahead))
	if err != nil {
		return fmt.Errorf("failed to find expiring triggers: %w", err)
	}
	if len(triggers) == 0 {
		return nil
	}

	j.logger.Info(ctx, fmt.Sprintf("Renewing %d expiring triggers", len(triggers)))

	var wg sync.WaitGroup
	var failures atomic.Int64
	for _, trigger := range triggers {
		triggerID := trigger.ID
		wg.Add(1)
		err := j.pool.Submit(ctx, workers.Task{
			Name:      "renew",
			TriggerID: triggerID.String(),
			Run: func(taskCtx context.Context) error {
				defer wg.Done()
				if err := j.renewer.Renew(taskCtx, triggerID); err != nil {
					failures.Add(1)
					return err
				}
				return nil
			},
		})
		if err != nil {
			wg.Done()
			failures.Add(1)
			j.logger.WarnWithError(ctx, "failed to submit renewal task", err)
		}
	}
	wg.Wait()

	j.logger.Info(ctx, fmt.Sprintf("Renewal completed: %d succeeded, %d failed",
		int64(len(triggers))-failures.Load(), failures.Load()))
	return nil
}
