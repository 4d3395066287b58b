package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Webhooks  WebhookConfig
	Providers ProviderConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// WebhookConfig holds settings for the inbound webhook surface
type WebhookConfig struct {
	// CallbackBaseURL is the externally reachable base URL that providers
	// deliver to, e.g. https://hooks.example.com
	CallbackBaseURL string
	// ReplaySkew is the maximum tolerated age of a provider-signed timestamp
	ReplaySkew time.Duration
	// EventRetention is how long stored events are kept before cleanup
	EventRetention time.Duration
	// TokenSealKey is the 32-byte hex key used to seal verification tokens at rest
	TokenSealKey string
}

// ProviderConfig holds per-provider shared secrets and settings
type ProviderConfig struct {
	HubSpotAppSecret    string
	ShopifyClientSecret string
	SlackSigningSecret  string
	StripeWebhookSecret string
	// PubSubAudience is the expected audience claim on Google Pub/Sub push OIDC tokens
	PubSubAudience string
	// GmailTopic is the Pub/Sub topic Gmail watch notifications publish to,
	// format projects/{project}/topics/{topic}
	GmailTopic string
}

// RateLimitConfig holds token bucket settings for webhook admission control
type RateLimitConfig struct {
	GlobalCapacity   int
	GlobalRefill     float64
	TriggerCapacity  int
	TriggerRefill    float64
	EvictionInterval time.Duration
}

// SchedulerConfig holds cadences for the background maintenance jobs
type SchedulerConfig struct {
	RenewalInterval    time.Duration
	ExpirationInterval time.Duration
	RetryInterval      time.Duration
	CleanupInterval    time.Duration
	// ConnectorWorkers caps concurrent outbound connector calls per provider
	ConnectorWorkers int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	// Database configuration
	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	// Webhook surface
	if cfg.Webhooks.CallbackBaseURL, err = requireEnv("CALLBACK_BASE_URL"); err != nil {
		return nil, err
	}
	if cfg.Webhooks.TokenSealKey, err = requireEnv("TOKEN_SEAL_KEY"); err != nil {
		return nil, err
	}
	if cfg.Webhooks.ReplaySkew, err = durationEnv("REPLAY_SKEW", 5*time.Minute); err != nil {
		return nil, err
	}
	retentionDays, err := intEnv("EVENT_RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.Webhooks.EventRetention = time.Duration(retentionDays) * 24 * time.Hour

	// Provider secrets. Required only for the providers a deployment enables,
	// so all are optional at load time; connectors fail closed when unset.
	cfg.Providers.HubSpotAppSecret = os.Getenv("HUBSPOT_APP_SECRET")
	cfg.Providers.ShopifyClientSecret = os.Getenv("SHOPIFY_CLIENT_SECRET")
	cfg.Providers.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	cfg.Providers.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Providers.PubSubAudience = os.Getenv("PUBSUB_OIDC_AUDIENCE")
	cfg.Providers.GmailTopic = os.Getenv("GMAIL_PUBSUB_TOPIC")

	// Rate limiting
	if cfg.RateLimit.GlobalCapacity, err = intEnv("RATE_GLOBAL_CAPACITY", 200); err != nil {
		return nil, err
	}
	if cfg.RateLimit.GlobalRefill, err = floatEnv("RATE_GLOBAL_REFILL", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimit.TriggerCapacity, err = intEnv("RATE_TRIGGER_CAPACITY", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimit.TriggerRefill, err = floatEnv("RATE_TRIGGER_REFILL", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimit.EvictionInterval, err = durationEnv("RATE_EVICTION_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	// Scheduler cadences
	if cfg.Scheduler.RenewalInterval, err = durationEnv("RENEWAL_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Scheduler.ExpirationInterval, err = durationEnv("EXPIRATION_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Scheduler.RetryInterval, err = durationEnv("RETRY_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Scheduler.CleanupInterval, err = durationEnv("CLEANUP_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Scheduler.ConnectorWorkers, err = intEnv("CONNECTOR_WORKERS", 4); err != nil {
		return nil, err
	}

	// Server configuration
	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func intEnv(key string, defaultValue int) (int, error) {
	raw := getEnvWithDefault(key, strconv.Itoa(defaultValue))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, defaultValue float64) (float64, error) {
	raw := getEnvWithDefault(key, strconv.FormatFloat(defaultValue, 'f', -1, 64))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnvWithDefault(key, defaultValue.String())
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}
