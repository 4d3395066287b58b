package connectors

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"
)

const hubspotBaseURL = "https://api.hubapi.com"

// hubspotEventTypes maps catalog trigger types onto HubSpot subscription
// event types.
var hubspotEventTypes = map[string]string{
	"HUBSPOT_CONTACT_CREATION":        "contact.creation",
	"HUBSPOT_CONTACT_DELETION":        "contact.deletion",
	"HUBSPOT_CONTACT_PROPERTY_CHANGE": "contact.propertyChange",
	"HUBSPOT_DEAL_CREATION":           "deal.creation",
}

var hubspotTriggerTypes = func() map[string]string {
	m := make(map[string]string, len(hubspotEventTypes))
	for k, v := range hubspotEventTypes {
		m[v] = k
	}
	return m
}()

// HubSpot implements the connector capability set against the HubSpot
// Webhooks API v3. Subscriptions live at the developer-app level; inbound
// deliveries are signed with the app secret using the v3 scheme only.
type HubSpot struct {
	appSecret string
	skew      time.Duration
	client    *providerClient
	logger    *observability.Logger
}

// NewHubSpot creates the HubSpot connector.
func NewHubSpot(cfg config.ProviderConfig, skew time.Duration, logger *observability.Logger) *HubSpot {
	return &HubSpot{
		appSecret: cfg.HubSpotAppSecret,
		skew:      skew,
		client:    newProviderClient(store.AppHubSpot, logger),
		logger:    logger,
	}
}

func (h *HubSpot) App() string { return store.AppHubSpot }

// Register creates a subscription via POST /webhooks/v3/{appId}/subscriptions.
// A 409 means the subscription already exists; the existing id is looked up
// so registering twice stays idempotent.
func (h *HubSpot) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	accessToken := account.Credential("access_token")
	appID := account.Credential("app_id")
	if accessToken == "" || appID == "" {
		return Registration{}, &PermanentError{Op: "hubspot register", Err: errors.New("linked account is missing access_token or app_id")}
	}

	eventType, ok := hubspotEventTypes[trigger.TriggerType]
	if !ok {
		return Registration{}, &PermanentError{Op: "hubspot register", Err: fmt.Errorf("unsupported trigger type %q", trigger.TriggerType)}
	}

	subscription := map[string]interface{}{
		"eventType": eventType,
		"active":    true,
	}
	if propertyName, ok := trigger.Config["property_name"].(string); ok && propertyName != "" {
		subscription["propertyName"] = propertyName
	}

	url := fmt.Sprintf("%s/webhooks/v3/%s/subscriptions", hubspotBaseURL, appID)
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	status, body, err := h.client.doJSON(ctx, http.MethodPost, url, headers, subscription)
	if err != nil {
		return Registration{}, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var result struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return Registration{}, &PermanentError{Op: "hubspot register", Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		id := result.ID.String()
		return Registration{ExternalWebhookID: &id}, nil

	case status == http.StatusConflict:
		// Already subscribed at the app level; recover the existing id.
		id, err := h.findSubscription(ctx, appID, accessToken, eventType)
		if err != nil {
			return Registration{}, err
		}
		return Registration{ExternalWebhookID: &id}, nil

	default:
		return Registration{}, &PermanentError{Op: "hubspot register", Err: &statusError{status: status, body: body}}
	}
}

func (h *HubSpot) findSubscription(ctx context.Context, appID, accessToken, eventType string) (string, error) {
	url := fmt.Sprintf("%s/webhooks/v3/%s/subscriptions", hubspotBaseURL, appID)
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	status, body, err := h.client.doJSON(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &PermanentError{Op: "hubspot list subscriptions", Err: &statusError{status: status, body: body}}
	}

	var result struct {
		Results []struct {
			ID        json.Number `json:"id"`
			EventType string      `json:"eventType"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &PermanentError{Op: "hubspot list subscriptions", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	for _, sub := range result.Results {
		if sub.EventType == eventType {
			return sub.ID.String(), nil
		}
	}
	return "", &PermanentError{Op: "hubspot list subscriptions", Err: fmt.Errorf("no existing subscription for %s", eventType)}
}

// Unregister deletes the subscription; a 404 counts as success.
func (h *HubSpot) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	if trigger.ExternalWebhookID == nil {
		return nil
	}

	accessToken := account.Credential("access_token")
	appID := account.Credential("app_id")
	if accessToken == "" || appID == "" {
		return &PermanentError{Op: "hubspot unregister", Err: errors.New("linked account is missing access_token or app_id")}
	}

	url := fmt.Sprintf("%s/webhooks/v3/%s/subscriptions/%s", hubspotBaseURL, appID, *trigger.ExternalWebhookID)
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	status, body, err := h.client.doJSON(ctx, http.MethodDelete, url, headers, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || status == http.StatusNotFound {
		return nil
	}
	return &PermanentError{Op: "hubspot unregister", Err: &statusError{status: status, body: body}}
}

// Verify checks the v3 signature: base64 HMAC-SHA256 of
// method + uri + body + timestamp under the app secret. v1/v2 signatures
// are rejected outright.
func (h *HubSpot) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if h.appSecret == "" {
		return &PermanentError{Op: "hubspot verify", Err: errors.New("HUBSPOT_APP_SECRET is not configured")}
	}

	signature := req.Headers.Get("X-HubSpot-Signature-V3")
	if signature == "" {
		// Legacy v1/v2 headers are not accepted.
		return ErrInvalidSignature
	}

	timestamp := req.Headers.Get("X-HubSpot-Request-Timestamp")
	if timestamp == "" {
		return ErrInvalidSignature
	}
	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.UnixMilli(millis)
	if math.Abs(time.Since(signedAt).Seconds()) > h.skew.Seconds() {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write([]byte(req.Method))
	mac.Write([]byte(req.URI))
	mac.Write(req.Body)
	mac.Write([]byte(timestamp))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Parse splits a HubSpot delivery into its batched events, one per eventId.
func (h *HubSpot) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	// UseNumber keeps eventId intact; HubSpot ids overflow float64 precision.
	decoder := json.NewDecoder(bytes.NewReader(req.Body))
	decoder.UseNumber()

	var batch []map[string]interface{}
	if err := decoder.Decode(&batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	events := make([]ParsedEvent, 0, len(batch))
	for _, item := range batch {
		eventType := trigger.TriggerType
		if raw, ok := item["eventType"].(string); ok {
			if mapped, known := hubspotTriggerTypes[raw]; known {
				eventType = mapped
			}
		}

		var externalID *string
		if id, ok := item["eventId"]; ok {
			s := fmt.Sprintf("%v", id)
			externalID = &s
		}

		events = append(events, ParsedEvent{
			EventType:       eventType,
			EventData:       item,
			ExternalEventID: externalID,
		})
	}
	return events, nil
}

// Renew is not supported; HubSpot subscriptions do not expire.
func (h *HubSpot) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return Registration{}, ErrNotSupported
}
