package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trigger-server/internal/bootstrap"
	"trigger-server/internal/config"
	"trigger-server/internal/jobs/scheduler"
	"trigger-server/internal/jobs/scheduler/jobs"
	"trigger-server/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %s", err)
	}

	logger := observability.NewLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "Starting scheduler process...")

	deps, err := bootstrap.Initialize(cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize dependencies", err)
	}

	pool := deps.ConnectorPool
	if err := pool.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start connector pool", err)
	}

	// Advisory locks keep each job single-flight across replicas.
	sched := scheduler.New(&deps.Store, logger)
	sched.Register(jobs.NewRenewalJob(&deps.Store, deps.TriggerService, pool, logger, cfg.Scheduler.RenewalInterval))
	sched.Register(jobs.NewExpirationJob(&deps.Store, logger, cfg.Scheduler.ExpirationInterval))
	sched.Register(jobs.NewRetryJob(&deps.Store, deps.TriggerService, pool, logger, cfg.Scheduler.RetryInterval))
	sched.Register(jobs.NewCleanupJob(&deps.Store, logger, cfg.Scheduler.CleanupInterval))
	sched.Register(jobs.NewGaugesJob(&deps.Store, deps.Collector, logger))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info(ctx, "Shutting down scheduler...")
		cancel()
	}()

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "scheduler stopped with error", err)
	}

	pool.Stop()
	logger.Info(ctx, "Scheduler exited")
}
