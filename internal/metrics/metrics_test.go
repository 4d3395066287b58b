package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics body: %v", err)
	}
	return string(body)
}

func TestCountersAppearInExposition(t *testing.T) {
	c := New()

	c.WebhookReceived("GITHUB")
	c.WebhookReceived("GITHUB")
	c.VerificationFailed("SLACK")
	c.WebhookDedup("HUBSPOT")
	c.RateLimitHit("ip")
	c.RegistrationResult("SHOPIFY", "success")
	c.RenewalResult("GMAIL", "failure")

	body := scrape(t, c)

	for _, want := range []string{
		`webhook_received_total{app="GITHUB"} 2`,
		`webhook_verification_failed_total{app="SLACK"} 1`,
		`webhook_dedup_total{app="HUBSPOT"} 1`,
		`rate_limit_hit_total{scope="ip"} 1`,
		`trigger_registration_total{app="SHOPIFY",result="success"} 1`,
		`renewal_total{app="GMAIL",result="failure"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestGaugesTrackLatestValue(t *testing.T) {
	c := New()

	c.SetActiveTriggers(5)
	c.SetActiveTriggers(3)
	c.SetPendingEvents(12)

	body := scrape(t, c)

	if !strings.Contains(body, "active_triggers_count 3") {
		t.Errorf("expected active_triggers_count 3, got:\n%s", body)
	}
	if !strings.Contains(body, "pending_events_count 12") {
		t.Errorf("expected pending_events_count 12, got:\n%s", body)
	}
}

func TestProcessingHistogramCountsObservations(t *testing.T) {
	c := New()

	c.ObserveProcessing("GITHUB", 5*time.Millisecond)
	c.ObserveProcessing("GITHUB", 20*time.Millisecond)

	body := scrape(t, c)

	if !strings.Contains(body, `webhook_processing_duration_seconds_count{app="GITHUB"} 2`) {
		t.Errorf("expected two observations for GITHUB, got:\n%s", body)
	}
}
