package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"

	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// stripeEvents maps catalog trigger types onto Stripe event types.
var stripeEvents = map[string]string{
	"STRIPE_PAYMENT_SUCCEEDED": "payment_intent.succeeded",
	"STRIPE_INVOICE_PAID":      "invoice.paid",
	"STRIPE_CUSTOMER_CREATED":  "customer.created",
}

var stripeTriggerTypes = func() map[string]string {
	m := make(map[string]string, len(stripeEvents))
	for k, v := range stripeEvents {
		m[v] = k
	}
	return m
}()

// Stripe manages webhook endpoints through the official SDK and verifies
// deliveries with the endpoint signing secret.
type Stripe struct {
	webhookSecret string
	skew          time.Duration
	logger        *observability.Logger
}

// NewStripe creates the Stripe connector.
func NewStripe(cfg config.ProviderConfig, skew time.Duration, logger *observability.Logger) *Stripe {
	return &Stripe{
		webhookSecret: cfg.StripeWebhookSecret,
		skew:          skew,
		logger:        logger,
	}
}

func (s *Stripe) App() string { return store.AppStripe }

// api builds a per-call client from the linked account's key, so rotated
// keys take effect immediately.
func (s *Stripe) api(account LinkedAccount) (*client.API, error) {
	apiKey := account.Credential("api_key")
	if apiKey == "" {
		return nil, &PermanentError{Op: "stripe", Err: errors.New("linked account is missing api_key")}
	}
	api := &client.API{}
	api.Init(apiKey, nil)
	return api, nil
}

// classifyStripeErr maps SDK failures onto the retry taxonomy: 5xx and 429
// are transient, everything else permanent.
func classifyStripeErr(op string, err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests {
			return &TransientError{Op: op, Err: err}
		}
		return &PermanentError{Op: op, Err: err}
	}
	// Network-level failures never reach the Stripe error type.
	return &TransientError{Op: op, Err: err}
}

// Register creates a webhook endpoint delivering the mapped event type to
// the trigger's callback URL.
func (s *Stripe) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	api, err := s.api(account)
	if err != nil {
		return Registration{}, err
	}

	eventType, ok := stripeEvents[trigger.TriggerType]
	if !ok {
		return Registration{}, &PermanentError{Op: "stripe register", Err: fmt.Errorf("unsupported trigger type %q", trigger.TriggerType)}
	}

	params := &stripeapi.WebhookEndpointParams{
		URL:           stripeapi.String(trigger.WebhookURL),
		EnabledEvents: stripeapi.StringSlice([]string{eventType}),
	}
	params.Context = ctx

	endpoint, err := api.WebhookEndpoints.New(params)
	if err != nil {
		return Registration{}, classifyStripeErr("stripe register", err)
	}

	id := endpoint.ID
	return Registration{ExternalWebhookID: &id}, nil
}

// Unregister deletes the endpoint; a missing endpoint counts as success.
func (s *Stripe) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	if trigger.ExternalWebhookID == nil {
		return nil
	}

	api, err := s.api(account)
	if err != nil {
		return err
	}

	params := &stripeapi.WebhookEndpointParams{}
	params.Context = ctx

	if _, err := api.WebhookEndpoints.Del(*trigger.ExternalWebhookID, params); err != nil {
		var se *stripeapi.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil
		}
		return classifyStripeErr("stripe unregister", err)
	}
	return nil
}

// Verify validates the Stripe-Signature header against the endpoint signing
// secret, with the SDK enforcing the replay window.
func (s *Stripe) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if s.webhookSecret == "" {
		return &PermanentError{Op: "stripe verify", Err: errors.New("STRIPE_WEBHOOK_SECRET is not configured")}
	}

	signature := req.Headers.Get("Stripe-Signature")
	if signature == "" {
		return ErrInvalidSignature
	}

	// The payload is stored verbatim, so SDK/provider API version skew is
	// irrelevant here; only the signature and timestamp matter.
	_, err := webhook.ConstructEventWithOptions(req.Body, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.skew,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrTooOld) {
			return ErrStaleTimestamp
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Parse wraps the already-verified event envelope; the Stripe event id is
// the dedup key.
func (s *Stripe) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	eventType := trigger.TriggerType
	if mapped, known := stripeTriggerTypes[event.Type]; known {
		eventType = mapped
	}

	id := event.ID
	return []ParsedEvent{{
		EventType:       eventType,
		EventData:       payload,
		ExternalEventID: &id,
	}}, nil
}

// Renew is not supported; Stripe endpoints do not expire.
func (s *Stripe) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return Registration{}, ErrNotSupported
}

var _ Connector = (*Stripe)(nil)
