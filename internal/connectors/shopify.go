package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"
)

const shopifyAPIVersion = "2024-07"

const shopifyCreateMutation = `
mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription {
      id
      topic
    }
    userErrors {
      field
      message
    }
  }
}`

const shopifyDeleteMutation = `
mutation webhookSubscriptionDelete($id: ID!) {
  webhookSubscriptionDelete(id: $id) {
    deletedWebhookSubscriptionId
    userErrors {
      field
      message
    }
  }
}`

const shopifyLookupQuery = `
query webhookSubscriptions($topics: [WebhookSubscriptionTopic!]) {
  webhookSubscriptions(first: 50, topics: $topics) {
    nodes {
      id
      endpoint {
        __typename
        ... on WebhookHttpEndpoint {
          callbackUrl
        }
      }
    }
  }
}`

// Shopify manages subscriptions through the GraphQL Admin API and verifies
// deliveries with a base64 HMAC of the raw body under the app client secret.
type Shopify struct {
	clientSecret string
	client       *providerClient
	logger       *observability.Logger
}

// NewShopify creates the Shopify connector.
func NewShopify(cfg config.ProviderConfig, logger *observability.Logger) *Shopify {
	return &Shopify{
		clientSecret: cfg.ShopifyClientSecret,
		client:       newProviderClient(store.AppShopify, logger),
		logger:       logger,
	}
}

func (s *Shopify) App() string { return store.AppShopify }

// shopifyTopic converts a catalog trigger type into Shopify's topic enum,
// e.g. SHOPIFY_ORDERS_CREATE -> ORDERS_CREATE.
func shopifyTopic(triggerType string) string {
	return strings.TrimPrefix(triggerType, "SHOPIFY_")
}

func (s *Shopify) endpoint(account LinkedAccount) (string, string, error) {
	shopDomain := account.Credential("shop_domain")
	accessToken := account.Credential("access_token")
	if shopDomain == "" || accessToken == "" {
		return "", "", &PermanentError{Op: "shopify", Err: errors.New("linked account is missing shop_domain or access_token")}
	}
	url := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, shopifyAPIVersion)
	return url, accessToken, nil
}

type shopifyGraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *Shopify) graphql(ctx context.Context, account LinkedAccount, query string, variables map[string]interface{}, out interface{}) error {
	url, accessToken, err := s.endpoint(account)
	if err != nil {
		return err
	}

	headers := map[string]string{"X-Shopify-Access-Token": accessToken}
	payload := map[string]interface{}{"query": query, "variables": variables}

	status, body, err := s.client.doJSON(ctx, http.MethodPost, url, headers, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &PermanentError{Op: "shopify graphql", Err: &statusError{status: status, body: body}}
	}

	var envelope shopifyGraphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &PermanentError{Op: "shopify graphql", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(envelope.Errors) > 0 {
		return &PermanentError{Op: "shopify graphql", Err: fmt.Errorf("graphql errors: %s", envelope.Errors[0].Message)}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &PermanentError{Op: "shopify graphql", Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	return nil
}

// Register creates a webhook subscription via webhookSubscriptionCreate.
// "address has already been taken" user errors resolve to the existing
// subscription so registration stays idempotent.
func (s *Shopify) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	topic := shopifyTopic(trigger.TriggerType)

	var result struct {
		WebhookSubscriptionCreate struct {
			WebhookSubscription struct {
				ID    string `json:"id"`
				Topic string `json:"topic"`
			} `json:"webhookSubscription"`
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"webhookSubscriptionCreate"`
	}

	err := s.graphql(ctx, account, shopifyCreateMutation, map[string]interface{}{
		"topic": topic,
		"webhookSubscription": map[string]interface{}{
			"callbackUrl": trigger.WebhookURL,
			"format":      "JSON",
		},
	}, &result)
	if err != nil {
		return Registration{}, err
	}

	for _, ue := range result.WebhookSubscriptionCreate.UserErrors {
		if strings.Contains(ue.Message, "already been taken") {
			id, lookupErr := s.findSubscription(ctx, account, topic, trigger.WebhookURL)
			if lookupErr != nil {
				return Registration{}, lookupErr
			}
			return Registration{ExternalWebhookID: &id}, nil
		}
		return Registration{}, &PermanentError{Op: "shopify register", Err: fmt.Errorf("user error: %s", ue.Message)}
	}

	id := result.WebhookSubscriptionCreate.WebhookSubscription.ID
	if id == "" {
		return Registration{}, &PermanentError{Op: "shopify register", Err: errors.New("no subscription id returned")}
	}
	return Registration{ExternalWebhookID: &id}, nil
}

func (s *Shopify) findSubscription(ctx context.Context, account LinkedAccount, topic, callbackURL string) (string, error) {
	var result struct {
		WebhookSubscriptions struct {
			Nodes []struct {
				ID       string `json:"id"`
				Endpoint struct {
					Typename    string `json:"__typename"`
					CallbackURL string `json:"callbackUrl"`
				} `json:"endpoint"`
			} `json:"nodes"`
		} `json:"webhookSubscriptions"`
	}

	err := s.graphql(ctx, account, shopifyLookupQuery, map[string]interface{}{
		"topics": []string{topic},
	}, &result)
	if err != nil {
		return "", err
	}

	for _, node := range result.WebhookSubscriptions.Nodes {
		if node.Endpoint.CallbackURL == callbackURL {
			return node.ID, nil
		}
	}
	return "", &PermanentError{Op: "shopify register", Err: fmt.Errorf("no existing subscription for topic %s", topic)}
}

// Unregister deletes the subscription; "does not exist" counts as success.
func (s *Shopify) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	if trigger.ExternalWebhookID == nil {
		return nil
	}

	var result struct {
		WebhookSubscriptionDelete struct {
			DeletedWebhookSubscriptionID *string `json:"deletedWebhookSubscriptionId"`
			UserErrors                   []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"webhookSubscriptionDelete"`
	}

	err := s.graphql(ctx, account, shopifyDeleteMutation, map[string]interface{}{
		"id": *trigger.ExternalWebhookID,
	}, &result)
	if err != nil {
		return err
	}

	for _, ue := range result.WebhookSubscriptionDelete.UserErrors {
		if strings.Contains(ue.Message, "does not exist") || strings.Contains(ue.Message, "not found") {
			return nil
		}
		return &PermanentError{Op: "shopify unregister", Err: fmt.Errorf("user error: %s", ue.Message)}
	}
	return nil
}

// Verify compares the base64 HMAC-SHA256 of the raw body against
// X-Shopify-Hmac-SHA256. Shopify does not sign a timestamp.
func (s *Shopify) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if s.clientSecret == "" {
		return &PermanentError{Op: "shopify verify", Err: errors.New("SHOPIFY_CLIENT_SECRET is not configured")}
	}

	signature := req.Headers.Get("X-Shopify-Hmac-SHA256")
	if signature == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.clientSecret))
	mac.Write(req.Body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Parse wraps the single-object payload; the dedup key is the
// X-Shopify-Webhook-Id delivery header.
func (s *Shopify) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var externalID *string
	if id := req.Headers.Get("X-Shopify-Webhook-Id"); id != "" {
		externalID = &id
	}

	eventType := trigger.TriggerType
	if topic := req.Headers.Get("X-Shopify-Topic"); topic != "" {
		// orders/create -> SHOPIFY_ORDERS_CREATE
		eventType = "SHOPIFY_" + strings.ToUpper(strings.ReplaceAll(topic, "/", "_"))
	}

	return []ParsedEvent{{
		EventType:       eventType,
		EventData:       payload,
		ExternalEventID: externalID,
	}}, nil
}

// Renew is not supported; Shopify subscriptions do not expire.
func (s *Shopify) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return Registration{}, ErrNotSupported
}
