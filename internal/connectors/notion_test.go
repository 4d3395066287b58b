package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"trigger-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signNotion(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNotion_Verify(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}
	body := []byte(`{"id":"evt-1","type":"page.created"}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Notion-Signature", signNotion("per-trigger-secret", body))

	require.NoError(t, n.Verify(context.Background(), req, trigger))
}

func TestNotion_VerifyRejectsWrongSecret(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}
	body := []byte(`{"id":"evt-1","type":"page.created"}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Notion-Signature", signNotion("another-secret", body))

	assert.ErrorIs(t, n.Verify(context.Background(), req, trigger), ErrInvalidSignature)
}

func TestNotion_VerifyRejectsMissingSignature(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}

	req := testRequest("POST", "", []byte(`{"id":"evt-1"}`))
	assert.ErrorIs(t, n.Verify(context.Background(), req, trigger), ErrInvalidSignature)
}

func TestNotion_VerifyAdmitsUnsignedHandshake(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}

	req := testRequest("POST", "", []byte(`{"verification_token":"secret_tok"}`))
	require.NoError(t, n.Verify(context.Background(), req, trigger))
}

func TestNotion_Challenge(t *testing.T) {
	n := NewNotion(testLogger())

	resp, ok := n.Challenge(testRequest("POST", "", []byte(`{"verification_token":"secret_tok"}`)))
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"verification_token":"secret_tok"}`, string(resp.Body))

	_, ok = n.Challenge(testRequest("POST", "", []byte(`{"id":"evt-1","type":"page.created"}`)))
	assert.False(t, ok)
}

func TestNotion_Parse(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{TriggerType: "NOTION_PAGE_CREATED"}

	body := []byte(`{"id":"evt-42","type":"page.content_updated","workspace_id":"ws-1","entity":{"type":"page","id":"page-1"}}`)
	events, err := n.Parse(testRequest("POST", "", body), trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "NOTION_PAGE_CONTENT_UPDATED", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "evt-42", *events[0].ExternalEventID)
	assert.Equal(t, "ws-1", events[0].EventData["workspace_id"])
}

func TestNotion_ParseUnknownEventKeepsTriggerType(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{TriggerType: "NOTION_PAGE_CREATED"}

	events, err := n.Parse(testRequest("POST", "", []byte(`{"type":"database.schema_updated"}`)), trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NOTION_PAGE_CREATED", events[0].EventType)
	assert.Nil(t, events[0].ExternalEventID)
}

func TestNotion_RegisterReturnsSetupInstructions(t *testing.T) {
	n := NewNotion(testLogger())
	trigger := store.Trigger{
		TriggerType:       "NOTION_PAGE_CREATED",
		WebhookURL:        "https://hooks.example.com/webhooks/notion/abc",
		VerificationToken: "tok",
	}

	reg, err := n.Register(context.Background(), trigger, LinkedAccount{})
	require.NoError(t, err)
	require.NotNil(t, reg.ExternalWebhookID)
	assert.Equal(t, "manual_setup_required", *reg.ExternalWebhookID)
	assert.Contains(t, reg.SetupInstructions, trigger.WebhookURL)
	assert.Contains(t, reg.SetupInstructions, "tok")
}

func TestNotion_RenewNotSupported(t *testing.T) {
	n := NewNotion(testLogger())
	_, err := n.Renew(context.Background(), store.Trigger{}, LinkedAccount{})
	assert.ErrorIs(t, err, ErrNotSupported)
}
