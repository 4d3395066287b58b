package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"
)

// slackEventTypes maps Slack Events API types onto catalog trigger types.
var slackEventTypes = map[string]string{
	"message":        "SLACK_MESSAGE",
	"app_mention":    "SLACK_APP_MENTION",
	"reaction_added": "SLACK_REACTION_ADDED",
}

// Slack handles the Events API. Subscriptions are configured in the Slack
// app UI, so Register only hands back setup instructions; deliveries are
// signed with the app signing secret and a timestamp.
type Slack struct {
	signingSecret string
	skew          time.Duration
	logger        *observability.Logger
}

// NewSlack creates the Slack connector.
func NewSlack(cfg config.ProviderConfig, skew time.Duration, logger *observability.Logger) *Slack {
	return &Slack{
		signingSecret: cfg.SlackSigningSecret,
		skew:          skew,
		logger:        logger,
	}
}

func (s *Slack) App() string { return store.AppSlack }

// Register has no API to call: Slack event subscriptions are app-level and
// configured manually. The returned instructions tell the operator what to
// paste where; Slack will then send the url_verification challenge.
func (s *Slack) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	s.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "trigger_id", Value: trigger.ID.String()},
		observability.Field{Key: "webhook_url", Value: trigger.WebhookURL},
	), "slack subscription requires manual configuration")

	return Registration{
		SetupInstructions: fmt.Sprintf(
			"Add this Request URL under Event Subscriptions in your Slack app settings "+
				"(https://api.slack.com/apps): %s. Then subscribe to the %q event and save.",
			trigger.WebhookURL, trigger.TriggerType),
	}, nil
}

// Unregister is manual too; removal never fails.
func (s *Slack) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	s.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "trigger_id", Value: trigger.ID.String()},
	), "slack subscription must be removed in the app settings")
	return nil
}

// Verify checks X-Slack-Signature: v0= prefixed hex HMAC-SHA256 of
// "v0:<timestamp>:<body>" under the signing secret, with the timestamp
// bounded by the replay window.
func (s *Slack) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if s.signingSecret == "" {
		return &PermanentError{Op: "slack verify", Err: errors.New("SLACK_SIGNING_SECRET is not configured")}
	}

	signature := req.Headers.Get("X-Slack-Signature")
	timestamp := req.Headers.Get("X-Slack-Request-Timestamp")
	if signature == "" || timestamp == "" {
		return ErrInvalidSignature
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if math.Abs(time.Since(time.Unix(seconds, 0)).Seconds()) > s.skew.Seconds() {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(s.signingSecret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(req.Body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Parse extracts the inner event from an event_callback envelope; event_id
// is the dedup key.
func (s *Slack) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	var payload struct {
		Type    string                 `json:"type"`
		EventID string                 `json:"event_id"`
		Event   map[string]interface{} `json:"event"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var full map[string]interface{}
	if err := json.Unmarshal(req.Body, &full); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	eventType := trigger.TriggerType
	if inner, ok := payload.Event["type"].(string); ok {
		if mapped, known := slackEventTypes[inner]; known {
			eventType = mapped
		}
	}

	var externalID *string
	if payload.EventID != "" {
		externalID = &payload.EventID
	}

	return []ParsedEvent{{
		EventType:       eventType,
		EventData:       full,
		ExternalEventID: externalID,
	}}, nil
}

// Renew is not supported; Slack subscriptions do not expire.
func (s *Slack) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return Registration{}, ErrNotSupported
}

// Challenge answers Slack's url_verification handshake by echoing the
// challenge value.
func (s *Slack) Challenge(req IncomingRequest) (ChallengeResponse, bool) {
	var payload struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return ChallengeResponse{}, false
	}
	if payload.Type != "url_verification" || payload.Challenge == "" {
		return ChallengeResponse{}, false
	}

	body, _ := json.Marshal(map[string]string{"challenge": payload.Challenge})
	return ChallengeResponse{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        body,
	}, true
}
