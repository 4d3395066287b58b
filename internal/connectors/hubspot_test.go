package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHubSpotV3(secret, method, uri string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(uri))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newHubSpotForTest() *HubSpot {
	return NewHubSpot(config.ProviderConfig{HubSpotAppSecret: "hs-secret"}, 5*time.Minute, testLogger())
}

func TestHubSpot_Verify(t *testing.T) {
	h := newHubSpotForTest()
	uri := "https://hooks.example.com/webhooks/hubspot/trig-1"
	body := []byte(`[{"eventId":1,"eventType":"contact.creation"}]`)
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := testRequest("POST", uri, body)
	req.Headers.Set("X-HubSpot-Request-Timestamp", timestamp)
	req.Headers.Set("X-HubSpot-Signature-V3", signHubSpotV3("hs-secret", "POST", uri, body, timestamp))

	require.NoError(t, h.Verify(context.Background(), req, store.Trigger{}))
}

func TestHubSpot_VerifyRejectsTamperedBody(t *testing.T) {
	h := newHubSpotForTest()
	uri := "https://hooks.example.com/webhooks/hubspot/trig-1"
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := testRequest("POST", uri, []byte(`[{"eventId":2}]`))
	req.Headers.Set("X-HubSpot-Request-Timestamp", timestamp)
	req.Headers.Set("X-HubSpot-Signature-V3",
		signHubSpotV3("hs-secret", "POST", uri, []byte(`[{"eventId":1}]`), timestamp))

	assert.ErrorIs(t, h.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)
}

func TestHubSpot_VerifyRejectsStaleTimestamp(t *testing.T) {
	h := newHubSpotForTest()
	uri := "https://hooks.example.com/webhooks/hubspot/trig-1"
	body := []byte(`[]`)
	timestamp := strconv.FormatInt(time.Now().Add(-10*time.Minute).UnixMilli(), 10)

	req := testRequest("POST", uri, body)
	req.Headers.Set("X-HubSpot-Request-Timestamp", timestamp)
	req.Headers.Set("X-HubSpot-Signature-V3", signHubSpotV3("hs-secret", "POST", uri, body, timestamp))

	assert.ErrorIs(t, h.Verify(context.Background(), req, store.Trigger{}), ErrStaleTimestamp)
}

func TestHubSpot_VerifyRejectsLegacySignatures(t *testing.T) {
	h := newHubSpotForTest()

	req := testRequest("POST", "https://hooks.example.com/webhooks/hubspot/trig-1", []byte(`[]`))
	req.Headers.Set("X-HubSpot-Signature", "deadbeef")

	assert.ErrorIs(t, h.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)
}

func TestHubSpot_ParseBatch(t *testing.T) {
	h := newHubSpotForTest()
	trigger := store.Trigger{TriggerType: "HUBSPOT_CONTACT_CREATION"}

	body := []byte(`[
		{"eventId": 1234567890123456789, "eventType": "contact.creation", "objectId": 42},
		{"eventId": 9876543210987654321, "eventType": "deal.creation", "objectId": 43}
	]`)

	events, err := h.Parse(testRequest("POST", "", body), trigger)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "1234567890123456789", *events[0].ExternalEventID)
	assert.Equal(t, "HUBSPOT_CONTACT_CREATION", events[0].EventType)

	require.NotNil(t, events[1].ExternalEventID)
	assert.Equal(t, "9876543210987654321", *events[1].ExternalEventID)
	assert.Equal(t, "HUBSPOT_DEAL_CREATION", events[1].EventType)
}

func TestHubSpot_ParseRejectsNonArrayPayload(t *testing.T) {
	h := newHubSpotForTest()

	_, err := h.Parse(testRequest("POST", "", []byte(`{"eventId": 1}`)), store.Trigger{})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = h.Parse(testRequest("POST", "", []byte(`not json`)), store.Trigger{})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestHubSpot_RenewNotSupported(t *testing.T) {
	h := newHubSpotForTest()
	_, err := h.Renew(context.Background(), store.Trigger{}, LinkedAccount{})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestHubSpot_RegisterRequiresCredentials(t *testing.T) {
	h := newHubSpotForTest()

	_, err := h.Register(context.Background(), store.Trigger{TriggerType: "HUBSPOT_CONTACT_CREATION"}, LinkedAccount{})
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
	assert.False(t, IsTransient(err))
}
