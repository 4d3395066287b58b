package workers

import (
	"context"
)

// Task is one unit of outbound work, typically a provider API call made on
// behalf of a trigger. Run must be safe to invoke at most once.
type Task struct {
	// Name identifies the task in logs, e.g. "renew" or "retry-registration".
	Name string

	// TriggerID ties the task back to the trigger it serves.
	TriggerID string

	// Run performs the work.
	Run func(ctx context.Context) error
}

// Pool defines the interface for a bounded pool of task workers.
type Pool interface {
	// Start initializes the pool with N workers.
	Start(ctx context.Context) error

	// Submit adds a task to the pool for execution.
	// Blocks if the task queue is full.
	Submit(ctx context.Context, task Task) error

	// Drain stops accepting new tasks and waits for in-flight tasks to complete.
	// Returns after all workers have finished or the drain timeout elapses.
	Drain(ctx context.Context) error

	// Stop immediately stops all workers.
	Stop()
}
