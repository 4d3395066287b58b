// Package catalog declares the static list of trigger types each provider
// supports, with the config keys a trigger of that type must carry. The
// catalog is read-only at runtime; the orchestrator validates trigger
// creation against it.
package catalog

import (
	"errors"
	"fmt"

	"trigger-server/internal/store"
)

// ErrInvalidConfig is wrapped by every ValidateConfig failure.
var ErrInvalidConfig = errors.New("invalid trigger config")

// TriggerType describes one subscribable provider event.
type TriggerType struct {
	App         string   `json:"app"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	// RequiredConfig lists config keys a trigger of this type must set.
	RequiredConfig []string `json:"required_config,omitempty"`
	// OptionalConfig lists recognized but optional config keys.
	OptionalConfig []string `json:"optional_config,omitempty"`
}

var triggerTypes = []TriggerType{
	// HubSpot
	{
		App:         store.AppHubSpot,
		Name:        "HUBSPOT_CONTACT_CREATION",
		Description: "A contact is created in the connected HubSpot portal.",
	},
	{
		App:         store.AppHubSpot,
		Name:        "HUBSPOT_CONTACT_DELETION",
		Description: "A contact is deleted in the connected HubSpot portal.",
	},
	{
		App:            store.AppHubSpot,
		Name:           "HUBSPOT_CONTACT_PROPERTY_CHANGE",
		Description:    "A property changes on any contact.",
		RequiredConfig: []string{"property_name"},
	},
	{
		App:         store.AppHubSpot,
		Name:        "HUBSPOT_DEAL_CREATION",
		Description: "A deal is created in the connected HubSpot portal.",
	},

	// Shopify
	{
		App:         store.AppShopify,
		Name:        "SHOPIFY_ORDERS_CREATE",
		Description: "An order is created in the connected shop.",
	},
	{
		App:         store.AppShopify,
		Name:        "SHOPIFY_ORDERS_PAID",
		Description: "An order is paid in the connected shop.",
	},
	{
		App:         store.AppShopify,
		Name:        "SHOPIFY_PRODUCTS_UPDATE",
		Description: "A product is updated in the connected shop.",
	},
	{
		App:         store.AppShopify,
		Name:        "SHOPIFY_CUSTOMERS_CREATE",
		Description: "A customer is created in the connected shop.",
	},

	// Slack
	{
		App:            store.AppSlack,
		Name:           "SLACK_MESSAGE",
		Description:    "A message is posted to a channel the app is in.",
		OptionalConfig: []string{"channel_id"},
	},
	{
		App:         store.AppSlack,
		Name:        "SLACK_APP_MENTION",
		Description: "The app is mentioned in a message.",
	},
	{
		App:         store.AppSlack,
		Name:        "SLACK_REACTION_ADDED",
		Description: "A reaction is added to a message.",
	},

	// GitHub
	{
		App:            store.AppGitHub,
		Name:           "GITHUB_PUSH",
		Description:    "Commits are pushed to a repository.",
		RequiredConfig: []string{"owner", "repo"},
	},
	{
		App:            store.AppGitHub,
		Name:           "GITHUB_PULL_REQUEST",
		Description:    "A pull request is opened, closed or synchronized.",
		RequiredConfig: []string{"owner", "repo"},
	},
	{
		App:            store.AppGitHub,
		Name:           "GITHUB_ISSUES",
		Description:    "An issue is opened, edited or closed.",
		RequiredConfig: []string{"owner", "repo"},
	},
	{
		App:            store.AppGitHub,
		Name:           "GITHUB_RELEASE",
		Description:    "A release is published in a repository.",
		RequiredConfig: []string{"owner", "repo"},
	},

	// Gmail
	{
		App:            store.AppGmail,
		Name:           "GMAIL_NEW_MESSAGE",
		Description:    "A new message arrives in the connected mailbox.",
		OptionalConfig: []string{"label_ids"},
	},

	// Notion
	{
		App:         store.AppNotion,
		Name:        "NOTION_PAGE_CREATED",
		Description: "A page is created in content shared with the integration.",
	},
	{
		App:         store.AppNotion,
		Name:        "NOTION_PAGE_CONTENT_UPDATED",
		Description: "A page's content changes; Notion aggregates rapid edits.",
	},
	{
		App:         store.AppNotion,
		Name:        "NOTION_PAGE_PROPERTIES_UPDATED",
		Description: "A page's properties change.",
	},
	{
		App:         store.AppNotion,
		Name:        "NOTION_PAGE_DELETED",
		Description: "A page is moved to the trash.",
	},
	{
		App:         store.AppNotion,
		Name:        "NOTION_COMMENT_CREATED",
		Description: "A comment is added to a page or discussion.",
	},

	// Stripe
	{
		App:         store.AppStripe,
		Name:        "STRIPE_PAYMENT_SUCCEEDED",
		Description: "A payment intent succeeds on the connected account.",
	},
	{
		App:         store.AppStripe,
		Name:        "STRIPE_INVOICE_PAID",
		Description: "An invoice is paid on the connected account.",
	},
	{
		App:         store.AppStripe,
		Name:        "STRIPE_CUSTOMER_CREATED",
		Description: "A customer is created on the connected account.",
	},
}

var byApp = func() map[string][]TriggerType {
	m := make(map[string][]TriggerType)
	for _, tt := range triggerTypes {
		m[tt.App] = append(m[tt.App], tt)
	}
	return m
}()

var byName = func() map[string]TriggerType {
	m := make(map[string]TriggerType, len(triggerTypes))
	for _, tt := range triggerTypes {
		m[tt.Name] = tt
	}
	return m
}()

// Apps returns the provider names with at least one trigger type.
func Apps() []string {
	apps := make([]string, 0, len(byApp))
	for app := range byApp {
		apps = append(apps, app)
	}
	return apps
}

// TypesForApp returns the trigger types one provider supports.
func TypesForApp(app string) []TriggerType {
	return byApp[app]
}

// Lookup returns the catalog entry for a trigger type name.
func Lookup(name string) (TriggerType, bool) {
	tt, ok := byName[name]
	return tt, ok
}

// ValidateConfig checks that a trigger type exists under the given app and
// that the config map carries every required key with a non-empty value.
func ValidateConfig(app, triggerType string, config map[string]interface{}) error {
	tt, ok := byName[triggerType]
	if !ok {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidConfig, triggerType)
	}
	if tt.App != app {
		return fmt.Errorf("%w: trigger type %q belongs to %s, not %s", ErrInvalidConfig, triggerType, tt.App, app)
	}

	for _, key := range tt.RequiredConfig {
		v, present := config[key]
		if !present {
			return fmt.Errorf("%w: config key %q is required for %s", ErrInvalidConfig, key, triggerType)
		}
		if s, isString := v.(string); isString && s == "" {
			return fmt.Errorf("%w: config key %q must not be empty", ErrInvalidConfig, key)
		}
	}
	return nil
}
