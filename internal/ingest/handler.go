// Package ingest implements the hot-path webhook endpoint. It never makes
// outbound provider calls: admission, lookup, verification, parsing and the
// event insert are the whole request.
package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"trigger-server/internal/apierrors"
	"trigger-server/internal/connectors"
	"trigger-server/internal/metrics"
	"trigger-server/internal/observability"
	"trigger-server/internal/ratelimit"
	"trigger-server/internal/secrets"
	"trigger-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxBodyBytes caps inbound payloads at 1 MiB.
const maxBodyBytes = 1 << 20

// Store defines the database operations required on the ingestion path.
type Store interface {
	GetTriggerByID(ctx context.Context, triggerID uuid.UUID) (store.Trigger, error)
	CreateTriggerEvent(ctx context.Context, params store.CreateTriggerEventParams) (store.TriggerEvent, bool, error)
	SetLastTriggered(ctx context.Context, triggerID uuid.UUID, t time.Time) error
}

// Handler serves POST and GET /webhooks/:app/:trigger_id.
type Handler struct {
	store           Store
	registry        *connectors.Registry
	limiter         *ratelimit.Service
	sealer          *secrets.Sealer
	collector       *metrics.Collector
	callbackBaseURL string
	retention       time.Duration
	logger          *observability.Logger
}

// New creates the ingestion handler.
func New(st Store, registry *connectors.Registry, limiter *ratelimit.Service,
	sealer *secrets.Sealer, collector *metrics.Collector,
	callbackBaseURL string, retention time.Duration, logger *observability.Logger) *Handler {
	return &Handler{
		store:           st,
		registry:        registry,
		limiter:         limiter,
		sealer:          sealer,
		collector:       collector,
		callbackBaseURL: strings.TrimSuffix(callbackBaseURL, "/"),
		retention:       retention,
		logger:          logger,
	}
}

// Handle processes one inbound delivery or challenge probe.
func (h *Handler) Handle(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	appParam := strings.ToUpper(c.Param("app"))
	triggerID, err := uuid.Parse(c.Param("trigger_id"))
	if err != nil {
		apierrors.NotFound(c, "unknown trigger")
		return
	}

	// Admission before any database work.
	ip := observability.GetRealClientIP(c)
	admission := h.limiter.Allow(ip, triggerID.String())
	if !admission.Allowed {
		h.collector.RateLimitHit(admission.Scope)
		apierrors.TooManyRequests(c, admission.RetryAfterSeconds())
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		apierrors.BadRequest(c, "UNREADABLE_BODY", "failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		apierrors.BadRequest(c, "PAYLOAD_TOO_LARGE", "request body exceeds 1 MiB")
		return
	}

	trigger, err := h.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.NotFound(c, "unknown trigger")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	if trigger.AppName != appParam {
		apierrors.BadRequest(c, "APP_MISMATCH", "trigger does not belong to this app")
		return
	}

	connector, ok := h.registry.Get(trigger.AppName)
	if !ok {
		apierrors.InternalError(c, errors.New("no connector registered for "+trigger.AppName))
		return
	}

	token, err := h.sealer.Open(trigger.VerificationToken)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	trigger.VerificationToken = token

	req := connectors.IncomingRequest{
		Method:  c.Request.Method,
		URI:     h.callbackBaseURL + c.Request.URL.RequestURI(),
		Headers: c.Request.Header,
		Body:    body,
	}

	// Challenge probes come before status gating: providers verify the URL
	// while the trigger is still pending.
	if h.answerChallenge(c, connector, req, trigger) {
		return
	}

	switch trigger.Status {
	case store.TriggerStatusActive:
		// Deliveries accepted.
	case store.TriggerStatusPaused:
		apierrors.Gone(c, "paused", "trigger is paused")
		return
	case store.TriggerStatusExpired:
		apierrors.Gone(c, "expired", "trigger subscription has expired")
		return
	default:
		apierrors.NotFound(c, "unknown trigger")
		return
	}

	if err := connector.Verify(ctx, req, trigger); err != nil {
		if errors.Is(err, connectors.ErrInvalidSignature) || errors.Is(err, connectors.ErrStaleTimestamp) {
			h.collector.VerificationFailed(trigger.AppName)
			apierrors.Unauthorized(c, "signature verification failed")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	events, err := connector.Parse(req, trigger)
	if err != nil {
		apierrors.BadRequest(c, "MALFORMED_PAYLOAD", "failed to parse payload")
		return
	}

	// The delivery is verified from here on; a client disconnect must not
	// lose it, so the writes run on a detached context.
	writeCtx := context.WithoutCancel(ctx)

	inserted := 0
	for _, event := range events {
		_, fresh, err := h.store.CreateTriggerEvent(writeCtx, store.CreateTriggerEventParams{
			TriggerID:       trigger.ID,
			EventType:       event.EventType,
			EventData:       store.JSONB(event.EventData),
			ExternalEventID: event.ExternalEventID,
			ExpiresAt:       start.Add(h.retention),
		})
		if err != nil {
			apierrors.InternalError(c, err)
			return
		}
		if fresh {
			inserted++
			h.collector.WebhookReceived(trigger.AppName)
		} else {
			h.collector.WebhookDedup(trigger.AppName)
		}
	}

	if inserted > 0 {
		if err := h.store.SetLastTriggered(writeCtx, trigger.ID, start); err != nil {
			h.logger.WarnWithError(ctx, "failed to update last_triggered_at", err)
		}
	}

	h.collector.ObserveProcessing(trigger.AppName, time.Since(start))

	status := "ok"
	if len(events) > 0 && inserted == 0 {
		status = "duplicate"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "events": len(events)})
}

// answerChallenge handles provider URL-verification probes. Returns true if
// the request was a challenge and has been answered.
func (h *Handler) answerChallenge(c *gin.Context, connector connectors.Connector,
	req connectors.IncomingRequest, trigger store.Trigger) bool {

	// GET probes echo the challenge query parameter where the provider
	// sends one.
	if c.Request.Method == http.MethodGet {
		if challenge := c.Query("challenge"); challenge != "" {
			c.String(http.StatusOK, challenge)
			return true
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return true
	}

	responder, ok := connector.(connectors.ChallengeResponder)
	if !ok {
		return false
	}
	response, isChallenge := responder.Challenge(req)
	if !isChallenge {
		return false
	}

	// Challenges are still signed; verify before echoing.
	if err := connector.Verify(c.Request.Context(), req, trigger); err != nil {
		h.collector.VerificationFailed(trigger.AppName)
		apierrors.Unauthorized(c, "signature verification failed")
		return true
	}

	c.Data(response.StatusCode, response.ContentType, response.Body)
	return true
}
