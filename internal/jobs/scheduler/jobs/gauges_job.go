package jobs

import (
	"context"
	"fmt"
	"time"

	"trigger-server/internal/metrics"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"
)

// GaugeStore counts triggers and events by status.
type GaugeStore interface {
	CountTriggersByStatus(ctx context.Context, status string) (int, error)
	CountEventsByStatus(ctx context.Context, status string) (int, error)
}

// GaugesJob refreshes the active-trigger and pending-event gauges. Counting
// on a timer keeps the hot path free of COUNT(*) queries.
type GaugesJob struct {
	store     GaugeStore
	collector *metrics.Collector
	logger    *observability.Logger
	interval  time.Duration
}

// NewGaugesJob creates the gauge refresh job.
func NewGaugesJob(st GaugeStore, collector *metrics.Collector, logger *observability.Logger) *GaugesJob {
	return &GaugesJob{
		store:     st,
		collector: collector,
		logger:    logger,
		interval:  time.Minute,
	}
}

// Name returns the job name
func (j *GaugesJob) Name() string {
	return "metrics_gauges"
}

// Schedule returns how often the job should run
func (j *GaugesJob) Schedule() time.Duration {
	return j.interval
}

// Run refreshes both gauges.
func (j *GaugesJob) Run(ctx context.Context) error {
	active, err := j.store.CountTriggersByStatus(ctx, store.TriggerStatusActive)
	if err != nil {
		return fmt.Errorf("failed to count active triggers: %w", err)
	}
	j.collector.SetActiveTriggers(active)

	pending, err := j.store.CountEventsByStatus(ctx, store.EventStatusPending)
	if err != nil {
		return fmt.Errorf("failed to count pending events: %w", err)
	}
	j.collector.SetPendingEvents(pending)
	return nil
}
