package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"trigger-server/internal/observability"
	"trigger-server/internal/store"
)

// notionEventTypes maps Notion webhook event names onto catalog trigger
// types.
var notionEventTypes = map[string]string{
	"page.created":            "NOTION_PAGE_CREATED",
	"page.content_updated":    "NOTION_PAGE_CONTENT_UPDATED",
	"page.properties_updated": "NOTION_PAGE_PROPERTIES_UPDATED",
	"page.deleted":            "NOTION_PAGE_DELETED",
	"comment.created":         "NOTION_COMMENT_CREATED",
}

// Notion handles webhook subscriptions configured manually in the Notion
// integration portal. Deliveries are signed with the trigger's verification
// token; the one-time subscription handshake arrives unsigned.
type Notion struct {
	logger *observability.Logger
}

// NewNotion creates the Notion connector. No app-level secret exists: each
// subscription signs with its own trigger token.
func NewNotion(logger *observability.Logger) *Notion {
	return &Notion{logger: logger}
}

func (n *Notion) App() string { return store.AppNotion }

// Register has no API to call: Notion subscriptions are created in the
// integration portal. The instructions carry the callback URL and the
// token the operator pastes into the verification step.
func (n *Notion) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	n.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "trigger_id", Value: trigger.ID.String()},
		observability.Field{Key: "webhook_url", Value: trigger.WebhookURL},
	), "notion subscription requires manual configuration")

	id := "manual_setup_required"
	return Registration{
		ExternalWebhookID: &id,
		SetupInstructions: fmt.Sprintf(
			"Open your integration at https://www.notion.so/my-integrations, add a webhook "+
				"subscription with this URL: %s, complete the verification step with token %s, "+
				"then subscribe to the %q event.",
			trigger.WebhookURL, trigger.VerificationToken, trigger.TriggerType),
	}, nil
}

// Unregister is manual too; removal never fails.
func (n *Notion) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	n.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "trigger_id", Value: trigger.ID.String()},
	), "notion subscription must be removed in the integration portal")
	return nil
}

// Verify checks X-Notion-Signature: hex HMAC-SHA256 of the raw body under
// the trigger's verification token. The subscription handshake carries no
// signature and is admitted as-is; it produces no events.
func (n *Notion) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if notionHandshakeToken(req.Body) != "" {
		return nil
	}
	if trigger.VerificationToken == "" {
		return &PermanentError{Op: "notion verify", Err: errors.New("trigger has no verification token")}
	}

	signature := req.Headers.Get("X-Notion-Signature")
	if signature == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(trigger.VerificationToken))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Parse wraps the payload; the event id is the dedup key.
func (n *Notion) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var full map[string]interface{}
	if err := json.Unmarshal(req.Body, &full); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	eventType := trigger.TriggerType
	if mapped, known := notionEventTypes[payload.Type]; known {
		eventType = mapped
	}

	var externalID *string
	if payload.ID != "" {
		externalID = &payload.ID
	}

	return []ParsedEvent{{
		EventType:       eventType,
		EventData:       full,
		ExternalEventID: externalID,
	}}, nil
}

// Renew is not supported; Notion subscriptions do not expire.
func (n *Notion) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return Registration{}, ErrNotSupported
}

// Challenge answers the subscription handshake by echoing the
// verification_token Notion sends.
func (n *Notion) Challenge(req IncomingRequest) (ChallengeResponse, bool) {
	token := notionHandshakeToken(req.Body)
	if token == "" {
		return ChallengeResponse{}, false
	}

	body, _ := json.Marshal(map[string]string{"verification_token": token})
	return ChallengeResponse{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        body,
	}, true
}

func notionHandshakeToken(body []byte) string {
	var payload struct {
		VerificationToken string `json:"verification_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.VerificationToken
}

var _ Connector = (*Notion)(nil)
var _ ChallengeResponder = (*Notion)(nil)
