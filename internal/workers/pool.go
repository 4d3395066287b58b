package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trigger-server/internal/observability"
)

// TaskResult represents the outcome of one executed task.
type TaskResult struct {
	Task  Task
	Error error
}

// ResultCallback is called after each task finishes.
type ResultCallback func(result TaskResult)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// NumWorkers is the number of concurrent workers to run.
	NumWorkers int

	// QueueSize is the size of the task queue buffer.
	// If the queue is full, Submit() will block.
	QueueSize int

	// DrainTimeout is the maximum time to wait for in-flight tasks
	// to complete during graceful shutdown.
	DrainTimeout time.Duration

	// OnResult is called after each task finishes (optional).
	OnResult ResultCallback
}

// DefaultPoolConfig returns sensible defaults for a worker pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:   4,
		QueueSize:    100,
		DrainTimeout: 30 * time.Second,
	}
}

// pool implements the Pool interface.
type pool struct {
	config PoolConfig
	name   string
	logger *observability.Logger

	taskChan chan Task
	wg       sync.WaitGroup

	// Lifecycle management
	mu       sync.Mutex
	started  bool
	draining bool
	stopped  bool
	cancelFn context.CancelFunc
}

// NewPool creates a worker pool. The name shows up in logs so pools for
// different concerns can be told apart.
func NewPool(name string, config PoolConfig, logger *observability.Logger) Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultPoolConfig().NumWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultPoolConfig().QueueSize
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultPoolConfig().DrainTimeout
	}

	return &pool{
		config:   config,
		name:     name,
		logger:   logger,
		taskChan: make(chan Task, config.QueueSize),
	}
}

// Start initializes the worker pool with N workers.
func (p *pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	if p.stopped {
		return fmt.Errorf("worker pool already stopped")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancelFn = cancel
	p.started = true

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx, i)
	}

	p.logger.Info(ctx, fmt.Sprintf("Started %d workers for %s pool",
		p.config.NumWorkers, p.name))

	return nil
}

// Submit adds a task to the pool for execution.
func (p *pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool not started")
	}
	if p.draining || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("worker pool is shutting down")
	}
	p.mu.Unlock()

	// Block until the task can be queued or the context is cancelled
	select {
	case p.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting new tasks and waits for in-flight tasks to complete.
func (p *pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool not started")
	}
	if p.draining {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already draining")
	}
	p.draining = true
	p.mu.Unlock()

	p.logger.Info(ctx, fmt.Sprintf("Draining %s pool, waiting for %d in-flight tasks",
		p.name, len(p.taskChan)))

	// Close the channel to signal no more tasks will be submitted
	close(p.taskChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drainCtx, cancel := context.WithTimeout(ctx, p.config.DrainTimeout)
	defer cancel()

	select {
	case <-done:
		p.logger.Info(ctx, fmt.Sprintf("Successfully drained %s pool", p.name))
		return nil
	case <-drainCtx.Done():
		p.logger.Warn(ctx, fmt.Sprintf("Drain timeout exceeded for %s pool, forcing shutdown", p.name))
		p.Stop()
		return fmt.Errorf("drain timeout exceeded")
	}
}

// Stop immediately stops all workers.
func (p *pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true

	if p.cancelFn != nil {
		p.cancelFn()
	}

	if !p.draining {
		close(p.taskChan)
	}
}

// worker is the main loop that executes tasks from the queue.
func (p *pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	workerCtx := observability.WithFields(ctx,
		observability.Field{Key: "worker_id", Value: workerID},
		observability.Field{Key: "pool", Value: p.name},
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info(workerCtx, fmt.Sprintf("Worker %d stopping: context cancelled", workerID))
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.Info(workerCtx, fmt.Sprintf("Worker %d stopping: task channel closed", workerID))
				return
			}

			taskCtx := observability.WithFields(workerCtx,
				observability.Field{Key: "task", Value: task.Name},
				observability.Field{Key: "trigger_id", Value: task.TriggerID},
			)

			err := task.Run(taskCtx)
			if err != nil {
				p.logger.Error(taskCtx, fmt.Sprintf("Worker %d task failed", workerID), err)
			}

			if p.config.OnResult != nil {
				p.config.OnResult(TaskResult{Task: task, Error: err})
			}
		}
	}
}
