package connectors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"

	"google.golang.org/api/idtoken"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// TokenValidator verifies a Google-issued OIDC token against an expected
// audience. A seam so tests do not need Google's certificate endpoints.
type TokenValidator interface {
	Validate(ctx context.Context, token, audience string) error
}

type googleTokenValidator struct{}

func (googleTokenValidator) Validate(ctx context.Context, token, audience string) error {
	payload, err := idtoken.Validate(ctx, token, audience)
	if err != nil {
		return err
	}
	if payload.Issuer != "https://accounts.google.com" && payload.Issuer != "accounts.google.com" {
		return fmt.Errorf("unexpected issuer %q", payload.Issuer)
	}
	return nil
}

// Gmail subscribes to mailbox changes through users.watch, which publishes
// to a Pub/Sub topic whose push subscription targets the webhook URL. Watches
// expire after about seven days and must be renewed.
type Gmail struct {
	topic     string
	audience  string
	validator TokenValidator
	client    *providerClient
	logger    *observability.Logger
}

// NewGmail creates the Gmail connector with the production token validator.
func NewGmail(cfg config.ProviderConfig, logger *observability.Logger) *Gmail {
	return &Gmail{
		topic:     cfg.GmailTopic,
		audience:  cfg.PubSubAudience,
		validator: googleTokenValidator{},
		client:    newProviderClient(store.AppGmail, logger),
		logger:    logger,
	}
}

func (g *Gmail) App() string { return store.AppGmail }

// watch issues users.me.watch; both Register and Renew reduce to it, since
// a fresh watch replaces the old one.
func (g *Gmail) watch(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	accessToken := account.Credential("access_token")
	if accessToken == "" {
		return Registration{}, &PermanentError{Op: "gmail watch", Err: errors.New("linked account is missing access_token")}
	}
	if g.topic == "" {
		return Registration{}, &PermanentError{Op: "gmail watch", Err: errors.New("GMAIL_PUBSUB_TOPIC is not configured")}
	}

	labelIDs := []string{"INBOX"}
	if raw, ok := trigger.Config["label_ids"].([]interface{}); ok && len(raw) > 0 {
		labelIDs = labelIDs[:0]
		for _, v := range raw {
			if s, ok := v.(string); ok {
				labelIDs = append(labelIDs, s)
			}
		}
	}

	request := map[string]interface{}{
		"topicName":           g.topic,
		"labelIds":            labelIDs,
		"labelFilterBehavior": "INCLUDE",
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	status, body, err := g.client.doJSON(ctx, http.MethodPost, gmailBaseURL+"/users/me/watch", headers, request)
	if err != nil {
		return Registration{}, err
	}
	if status != http.StatusOK {
		return Registration{}, &PermanentError{Op: "gmail watch", Err: &statusError{status: status, body: body}}
	}

	var result struct {
		HistoryID  string `json:"historyId"`
		Expiration string `json:"expiration"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Registration{}, &PermanentError{Op: "gmail watch", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	registration := Registration{}
	if result.HistoryID != "" {
		id := result.HistoryID
		registration.ExternalWebhookID = &id
	}
	if result.Expiration != "" {
		millis, err := strconv.ParseInt(result.Expiration, 10, 64)
		if err == nil {
			t := time.UnixMilli(millis)
			registration.ExpiresAt = &t
		}
	}
	return registration, nil
}

// Register starts a mailbox watch.
func (g *Gmail) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return g.watch(ctx, trigger, account)
}

// Unregister stops notifications via users.me.stop; a 404 means the watch
// is already gone.
func (g *Gmail) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	accessToken := account.Credential("access_token")
	if accessToken == "" {
		return &PermanentError{Op: "gmail stop", Err: errors.New("linked account is missing access_token")}
	}

	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	status, body, err := g.client.doJSON(ctx, http.MethodPost, gmailBaseURL+"/users/me/stop", headers, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusNoContent || status == http.StatusNotFound {
		return nil
	}
	return &PermanentError{Op: "gmail stop", Err: &statusError{status: status, body: body}}
}

// Verify validates the OIDC bearer token Google attaches to Pub/Sub push
// requests: audience must match the configured push URL and the issuer must
// be Google.
func (g *Gmail) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if g.audience == "" {
		return &PermanentError{Op: "gmail verify", Err: errors.New("PUBSUB_OIDC_AUDIENCE is not configured")}
	}

	authorization := req.Headers.Get("Authorization")
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return ErrInvalidSignature
	}

	if err := g.validator.Validate(ctx, token, g.audience); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Parse unwraps the Pub/Sub envelope: message.data is base64 JSON with
// emailAddress and historyId; messageId is the dedup key.
func (g *Gmail) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	var envelope struct {
		Message struct {
			Data        string `json:"data"`
			MessageID   string `json:"messageId"`
			PublishTime string `json:"publishTime"`
		} `json:"message"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.Message.MessageID == "" {
		return nil, fmt.Errorf("%w: missing pub/sub message id", ErrMalformedPayload)
	}

	var notification struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if envelope.Message.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := json.Unmarshal(decoded, &notification); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	messageID := envelope.Message.MessageID
	return []ParsedEvent{{
		EventType: trigger.TriggerType,
		EventData: map[string]interface{}{
			"email_address": notification.EmailAddress,
			"history_id":    notification.HistoryID.String(),
			"message_id":    messageID,
			"publish_time":  envelope.Message.PublishTime,
			"subscription":  envelope.Subscription,
		},
		ExternalEventID: &messageID,
	}}, nil
}

// Renew re-issues the watch, extending the expiry by about seven days.
func (g *Gmail) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return g.watch(ctx, trigger, account)
}

var _ Connector = (*Gmail)(nil)
