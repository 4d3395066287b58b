package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the trigger platform exports. It is an
// explicit dependency of the ingestion handler, orchestrator and scheduler
// rather than package-global state.
type Collector struct {
	registry *prometheus.Registry

	webhookReceived     *prometheus.CounterVec
	verificationFailed  *prometheus.CounterVec
	webhookDedup        *prometheus.CounterVec
	rateLimitHits       *prometheus.CounterVec
	registrations       *prometheus.CounterVec
	renewals            *prometheus.CounterVec
	activeTriggers      prometheus.Gauge
	pendingEvents       prometheus.Gauge
	processingDuration  *prometheus.HistogramVec
}

// New creates a Collector backed by its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		webhookReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_received_total",
			Help: "Total number of webhook deliveries accepted and stored.",
		}, []string{"app"}),

		verificationFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_verification_failed_total",
			Help: "Total number of webhook deliveries rejected by signature or replay checks.",
		}, []string{"app"}),

		webhookDedup: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_dedup_total",
			Help: "Total number of duplicate webhook deliveries suppressed.",
		}, []string{"app"}),

		rateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_hit_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}, []string{"scope"}),

		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trigger_registration_total",
			Help: "Total number of trigger registration attempts by outcome.",
		}, []string{"app", "result"}),

		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "renewal_total",
			Help: "Total number of subscription renewal attempts by outcome.",
		}, []string{"app", "result"}),

		activeTriggers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_triggers_count",
			Help: "Current number of triggers in active status.",
		}),

		pendingEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pending_events_count",
			Help: "Current number of stored events awaiting downstream processing.",
		}),

		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "End to end latency of the webhook ingestion path.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"app"}),
	}
}

// Handler returns the Prometheus exposition endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) WebhookReceived(app string) {
	c.webhookReceived.WithLabelValues(app).Inc()
}

func (c *Collector) VerificationFailed(app string) {
	c.verificationFailed.WithLabelValues(app).Inc()
}

func (c *Collector) WebhookDedup(app string) {
	c.webhookDedup.WithLabelValues(app).Inc()
}

// RateLimitHit records a rejected request; scope is "ip" or "trigger".
func (c *Collector) RateLimitHit(scope string) {
	c.rateLimitHits.WithLabelValues(scope).Inc()
}

// RegistrationResult records a register/unregister attempt outcome
// ("success" or "failure").
func (c *Collector) RegistrationResult(app, result string) {
	c.registrations.WithLabelValues(app, result).Inc()
}

func (c *Collector) RenewalResult(app, result string) {
	c.renewals.WithLabelValues(app, result).Inc()
}

func (c *Collector) SetActiveTriggers(n int) {
	c.activeTriggers.Set(float64(n))
}

func (c *Collector) SetPendingEvents(n int) {
	c.pendingEvents.Set(float64(n))
}

func (c *Collector) ObserveProcessing(app string, d time.Duration) {
	c.processingDuration.WithLabelValues(app).Observe(d.Seconds())
}
