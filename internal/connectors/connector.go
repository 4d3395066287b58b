// Package connectors implements the provider-specific capability set behind
// every trigger: registering and removing remote webhook subscriptions,
// verifying inbound deliveries, parsing payloads and renewing expiring
// subscriptions.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trigger-server/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSignature rejects a delivery whose signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrStaleTimestamp rejects a delivery signed outside the replay window.
	ErrStaleTimestamp = errors.New("stale timestamp")
	// ErrNotSupported marks capabilities a provider does not have, e.g.
	// renewal where subscriptions never expire.
	ErrNotSupported = errors.New("not supported")
	// ErrMalformedPayload rejects a body that cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
)

// TransientError wraps provider failures worth retrying: network errors,
// 5xx responses, rate limits, open circuit breakers.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps provider failures that will not succeed on retry:
// rejected credentials, invalid configuration, 4xx responses.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// LinkedAccount carries the external credentials one user supplied for one
// provider. Connectors read credentials at call time, never at construction,
// so tokens refreshed between calls are picked up.
type LinkedAccount struct {
	ID          uuid.UUID
	AppName     string
	Credentials map[string]interface{}
}

// Credential returns a string credential by key, empty when absent.
func (a LinkedAccount) Credential(key string) string {
	if a.Credentials == nil {
		return ""
	}
	if s, ok := a.Credentials[key].(string); ok {
		return s
	}
	return ""
}

// Registration is the outcome of registering or renewing a remote
// subscription.
type Registration struct {
	// ExternalWebhookID is the provider-side subscription id, when one exists.
	ExternalWebhookID *string
	// ExpiresAt is set for providers whose subscriptions expire.
	ExpiresAt *time.Time
	// SetupInstructions is non-empty when the provider requires manual
	// configuration to finish the subscription.
	SetupInstructions string
}

// ParsedEvent is one provider event extracted from a delivery. A single
// delivery may carry several (HubSpot batches).
type ParsedEvent struct {
	EventType       string
	EventData       map[string]interface{}
	ExternalEventID *string
}

// IncomingRequest is the raw material of one inbound delivery.
type IncomingRequest struct {
	Method string
	// URI is the full external URL the provider signed.
	URI     string
	Headers http.Header
	Body    []byte
}

// ChallengeResponse is what a provider handshake expects back.
type ChallengeResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Connector is the capability set one provider implements. Triggers passed
// in carry the plaintext verification token; callers unseal it first.
type Connector interface {
	App() string
	Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error)
	Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error
	Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error
	Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error)
	// Renew extends an expiring subscription; providers without expiry
	// return ErrNotSupported, which callers treat as a no-op.
	Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error)
}

// ChallengeResponder is implemented by connectors whose provider performs a
// URL handshake before delivering events (e.g. Slack url_verification).
type ChallengeResponder interface {
	Challenge(req IncomingRequest) (ChallengeResponse, bool)
}

// Registry is the static app-name-to-connector mapping initialised at
// start-up.
type Registry struct {
	byApp map[string]Connector
}

// NewRegistry builds a registry from the given connectors.
func NewRegistry(conns ...Connector) *Registry {
	byApp := make(map[string]Connector, len(conns))
	for _, c := range conns {
		byApp[c.App()] = c
	}
	return &Registry{byApp: byApp}
}

// Get returns the connector for an app name.
func (r *Registry) Get(app string) (Connector, bool) {
	c, ok := r.byApp[app]
	return c, ok
}

// Apps returns the registered app names.
func (r *Registry) Apps() []string {
	apps := make([]string, 0, len(r.byApp))
	for app := range r.byApp {
		apps = append(apps, app)
	}
	return apps
}
