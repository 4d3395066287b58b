package store

// Trigger ENUMs
const (
	TriggerStatusPending = "pending"
	TriggerStatusActive  = "active"
	TriggerStatusPaused  = "paused"
	TriggerStatusError   = "error"
	TriggerStatusExpired = "expired"
)

// Trigger Event ENUMs
const (
	EventStatusPending   = "pending"
	EventStatusDelivered = "delivered"
	EventStatusFailed    = "failed"
	EventStatusExpired   = "expired"
)

// Provider app names
const (
	AppHubSpot = "HUBSPOT"
	AppShopify = "SHOPIFY"
	AppSlack   = "SLACK"
	AppGitHub  = "GITHUB"
	AppGmail   = "GMAIL"
	AppStripe  = "STRIPE"
	AppNotion  = "NOTION"
)

// ValidTriggerStatus reports whether s is a known trigger status.
func ValidTriggerStatus(s string) bool {
	switch s {
	case TriggerStatusPending, TriggerStatusActive, TriggerStatusPaused,
		TriggerStatusError, TriggerStatusExpired:
		return true
	}
	return false
}
