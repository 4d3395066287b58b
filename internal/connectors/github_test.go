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

func signGitHub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHub_Verify(t *testing.T) {
	g := NewGitHub(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}
	body := []byte(`{"ref":"refs/heads/main"}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Hub-Signature-256", signGitHub("per-trigger-secret", body))

	require.NoError(t, g.Verify(context.Background(), req, trigger))
}

func TestGitHub_VerifyRejectsWrongSecret(t *testing.T) {
	g := NewGitHub(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}
	body := []byte(`{"ref":"refs/heads/main"}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Hub-Signature-256", signGitHub("another-trigger-secret", body))

	assert.ErrorIs(t, g.Verify(context.Background(), req, trigger), ErrInvalidSignature)
}

func TestGitHub_VerifyRejectsMissingSignature(t *testing.T) {
	g := NewGitHub(testLogger())
	trigger := store.Trigger{VerificationToken: "per-trigger-secret"}

	req := testRequest("POST", "", []byte(`{}`))
	assert.ErrorIs(t, g.Verify(context.Background(), req, trigger), ErrInvalidSignature)
}

func TestGitHub_VerifyFailsClosedWithoutSecret(t *testing.T) {
	g := NewGitHub(testLogger())
	body := []byte(`{}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Hub-Signature-256", signGitHub("", body))

	var pe *PermanentError
	assert.ErrorAs(t, g.Verify(context.Background(), req, store.Trigger{}), &pe)
}

func TestGitHub_Parse(t *testing.T) {
	g := NewGitHub(testLogger())
	trigger := store.Trigger{TriggerType: "GITHUB_PUSH"}

	req := testRequest("POST", "", []byte(`{"action":"opened","number":7}`))
	req.Headers.Set("X-GitHub-Event", "pull_request")
	req.Headers.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")

	events, err := g.Parse(req, trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "GITHUB_PULL_REQUEST", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "72d3162e-cc78-11e3-81ab-4c9367dc0958", *events[0].ExternalEventID)
	assert.Equal(t, "opened", events[0].EventData["action"])
}

func TestGitHub_ParseUnknownEventKeepsTriggerType(t *testing.T) {
	g := NewGitHub(testLogger())
	trigger := store.Trigger{TriggerType: "GITHUB_PUSH"}

	req := testRequest("POST", "", []byte(`{}`))
	req.Headers.Set("X-GitHub-Event", "watch")

	events, err := g.Parse(req, trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "GITHUB_PUSH", events[0].EventType)
	assert.Nil(t, events[0].ExternalEventID)
}

func TestGitHub_RegisterRequiresRepoConfig(t *testing.T) {
	g := NewGitHub(testLogger())

	trigger := store.Trigger{
		TriggerType: "GITHUB_PUSH",
		Config:      store.JSONB{"owner": "octocat"},
	}
	account := LinkedAccount{Credentials: map[string]interface{}{"access_token": "tok"}}

	_, err := g.Register(context.Background(), trigger, account)
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
}

func TestGitHub_UnregisterWithoutExternalIDIsNoop(t *testing.T) {
	g := NewGitHub(testLogger())
	require.NoError(t, g.Unregister(context.Background(), store.Trigger{}, LinkedAccount{}))
}

func TestGitHub_RenewNotSupported(t *testing.T) {
	g := NewGitHub(testLogger())
	_, err := g.Renew(context.Background(), store.Trigger{}, LinkedAccount{})
	assert.ErrorIs(t, err, ErrNotSupported)
}
