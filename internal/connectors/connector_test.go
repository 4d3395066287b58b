package connectors

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *observability.Logger {
	return observability.NewLogger()
}

func testRequest(method, uri string, body []byte) IncomingRequest {
	return IncomingRequest{
		Method:  method,
		URI:     uri,
		Headers: http.Header{},
		Body:    body,
	}
}

func TestRegistry_RoutesByApp(t *testing.T) {
	logger := testLogger()
	skew := 5 * time.Minute
	cfg := config.ProviderConfig{
		HubSpotAppSecret:    "hs-secret",
		ShopifyClientSecret: "sp-secret",
		SlackSigningSecret:  "sl-secret",
		StripeWebhookSecret: "whsec_test",
		PubSubAudience:      "https://hooks.example.com/webhooks/gmail",
		GmailTopic:          "projects/p/topics/t",
	}

	registry := NewRegistry(
		NewHubSpot(cfg, skew, logger),
		NewShopify(cfg, logger),
		NewSlack(cfg, skew, logger),
		NewGitHub(logger),
		NewGmail(cfg, logger),
		NewStripe(cfg, skew, logger),
	)

	require.Len(t, registry.Apps(), 6)
	for _, app := range []string{
		store.AppHubSpot, store.AppShopify, store.AppSlack,
		store.AppGitHub, store.AppGmail, store.AppStripe,
	} {
		c, ok := registry.Get(app)
		require.True(t, ok, "connector for %s", app)
		assert.Equal(t, app, c.App())
	}

	_, ok := registry.Get("UNKNOWN")
	assert.False(t, ok)
}

func TestIsTransient(t *testing.T) {
	transient := &TransientError{Op: "call", Err: errors.New("timeout")}
	permanent := &PermanentError{Op: "call", Err: errors.New("bad credentials")}

	assert.True(t, IsTransient(transient))
	assert.True(t, IsTransient(errors.Join(errors.New("outer"), transient)))
	assert.False(t, IsTransient(permanent))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

func TestLinkedAccount_Credential(t *testing.T) {
	account := LinkedAccount{Credentials: map[string]interface{}{
		"access_token": "tok-1",
		"app_id":       12345,
	}}

	assert.Equal(t, "tok-1", account.Credential("access_token"))
	assert.Empty(t, account.Credential("app_id"), "non-string credentials read as empty")
	assert.Empty(t, account.Credential("missing"))
	assert.Empty(t, LinkedAccount{}.Credential("access_token"))
}
