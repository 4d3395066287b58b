package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"trigger-server/internal/config"
	"trigger-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signShopify(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newShopifyForTest() *Shopify {
	return NewShopify(config.ProviderConfig{ShopifyClientSecret: "sp-secret"}, testLogger())
}

func TestShopify_Verify(t *testing.T) {
	s := newShopifyForTest()
	body := []byte(`{"id": 820982911946154508}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Shopify-Hmac-SHA256", signShopify("sp-secret", body))

	require.NoError(t, s.Verify(context.Background(), req, store.Trigger{}))
}

func TestShopify_VerifyRejectsWrongSecret(t *testing.T) {
	s := newShopifyForTest()
	body := []byte(`{"id": 1}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Shopify-Hmac-SHA256", signShopify("other-secret", body))

	assert.ErrorIs(t, s.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)
}

func TestShopify_VerifyRejectsMissingHeader(t *testing.T) {
	s := newShopifyForTest()
	req := testRequest("POST", "", []byte(`{}`))
	assert.ErrorIs(t, s.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)
}

func TestShopify_VerifyFailsClosedWithoutSecret(t *testing.T) {
	s := NewShopify(config.ProviderConfig{}, testLogger())
	body := []byte(`{}`)

	req := testRequest("POST", "", body)
	req.Headers.Set("X-Shopify-Hmac-SHA256", signShopify("", body))

	var pe *PermanentError
	assert.ErrorAs(t, s.Verify(context.Background(), req, store.Trigger{}), &pe)
}

func TestShopify_Parse(t *testing.T) {
	s := newShopifyForTest()
	trigger := store.Trigger{TriggerType: "SHOPIFY_ORDERS_CREATE"}

	req := testRequest("POST", "", []byte(`{"id": 820982911946154508, "email": "jon@example.com"}`))
	req.Headers.Set("X-Shopify-Webhook-Id", "b54557e4-bdd9-4b37-8a5f-bf7d70bcd043")
	req.Headers.Set("X-Shopify-Topic", "orders/paid")

	events, err := s.Parse(req, trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "SHOPIFY_ORDERS_PAID", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "b54557e4-bdd9-4b37-8a5f-bf7d70bcd043", *events[0].ExternalEventID)
	assert.Equal(t, "jon@example.com", events[0].EventData["email"])
}

func TestShopify_ParseWithoutDeliveryHeaders(t *testing.T) {
	s := newShopifyForTest()
	trigger := store.Trigger{TriggerType: "SHOPIFY_ORDERS_CREATE"}

	events, err := s.Parse(testRequest("POST", "", []byte(`{"id": 1}`)), trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "SHOPIFY_ORDERS_CREATE", events[0].EventType)
	assert.Nil(t, events[0].ExternalEventID, "no webhook id header means no dedup key")
}

func TestShopifyTopic(t *testing.T) {
	assert.Equal(t, "ORDERS_CREATE", shopifyTopic("SHOPIFY_ORDERS_CREATE"))
	assert.Equal(t, "PRODUCTS_UPDATE", shopifyTopic("SHOPIFY_PRODUCTS_UPDATE"))
}

func TestShopify_RenewNotSupported(t *testing.T) {
	s := newShopifyForTest()
	_, err := s.Renew(context.Background(), store.Trigger{}, LinkedAccount{})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestShopify_RegisterRequiresShopCredentials(t *testing.T) {
	s := newShopifyForTest()

	_, err := s.Register(context.Background(), store.Trigger{TriggerType: "SHOPIFY_ORDERS_CREATE"}, LinkedAccount{})
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
}
