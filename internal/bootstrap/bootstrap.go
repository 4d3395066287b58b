package bootstrap

import (
	"fmt"

	apikeyHandler "trigger-server/internal/apikeys/handler"
	"trigger-server/internal/config"
	"trigger-server/internal/connectors"
	"trigger-server/internal/ingest"
	"trigger-server/internal/metrics"
	"trigger-server/internal/observability"
	"trigger-server/internal/ratelimit"
	"trigger-server/internal/secrets"
	"trigger-server/internal/store"
	triggerHandler "trigger-server/internal/triggers/handler"
	triggerService "trigger-server/internal/triggers/service"
	"trigger-server/internal/workers"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store     store.Store
	Logger    *observability.Logger
	Sealer    *secrets.Sealer
	Collector *metrics.Collector
	Registry  *connectors.Registry
	Limiter   *ratelimit.Service

	// Services
	TriggerService *triggerService.Service

	// Handlers
	IngestHandler  *ingest.Handler
	TriggerHandler triggerHandler.Handler
	APIKeyHandler  *apikeyHandler.Handler

	// ConnectorPool bounds concurrent outbound provider calls made by the
	// background jobs.
	ConnectorPool workers.Pool
}

// Initialize sets up all application dependencies
func Initialize(cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps.Sealer, err = secrets.NewSealer(cfg.Webhooks.TokenSealKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token sealer: %w", err)
	}

	deps.Collector = metrics.New()

	deps.Registry = connectors.NewRegistry(
		connectors.NewHubSpot(cfg.Providers, cfg.Webhooks.ReplaySkew, logger),
		connectors.NewShopify(cfg.Providers, logger),
		connectors.NewSlack(cfg.Providers, cfg.Webhooks.ReplaySkew, logger),
		connectors.NewGitHub(logger),
		connectors.NewGmail(cfg.Providers, logger),
		connectors.NewStripe(cfg.Providers, cfg.Webhooks.ReplaySkew, logger),
		connectors.NewNotion(logger),
	)

	deps.Limiter = ratelimit.New(cfg.RateLimit, logger)

	deps.TriggerService = triggerService.New(
		&deps.Store,
		deps.Registry,
		deps.Sealer,
		deps.Collector,
		cfg.Webhooks.CallbackBaseURL,
		logger,
	)

	deps.IngestHandler = ingest.New(
		&deps.Store,
		deps.Registry,
		deps.Limiter,
		deps.Sealer,
		deps.Collector,
		cfg.Webhooks.CallbackBaseURL,
		cfg.Webhooks.EventRetention,
		logger,
	)

	deps.TriggerHandler = triggerHandler.New(deps.TriggerService, logger)
	deps.APIKeyHandler = apikeyHandler.New(&deps.Store, logger)

	poolConfig := workers.DefaultPoolConfig()
	if cfg.Scheduler.ConnectorWorkers > 0 {
		poolConfig.NumWorkers = cfg.Scheduler.ConnectorWorkers
	}
	deps.ConnectorPool = workers.NewPool("connector", poolConfig, logger)

	return deps, nil
}
