package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"trigger-server/internal/observability"
	"trigger-server/internal/store"
)

const githubBaseURL = "https://api.github.com"

// githubEvents maps catalog trigger types onto GitHub webhook event names.
var githubEvents = map[string]string{
	"GITHUB_PUSH":         "push",
	"GITHUB_PULL_REQUEST": "pull_request",
	"GITHUB_ISSUES":       "issues",
	"GITHUB_RELEASE":      "release",
}

var githubTriggerTypes = func() map[string]string {
	m := make(map[string]string, len(githubEvents))
	for k, v := range githubEvents {
		m[v] = k
	}
	return m
}()

// GitHub creates per-repository hooks over the REST API. Each hook gets the
// trigger's verification token as its secret, so deliveries are verified
// per trigger rather than per app.
type GitHub struct {
	client *providerClient
	logger *observability.Logger
}

// NewGitHub creates the GitHub connector. No app-level secret is needed:
// every hook carries its own.
func NewGitHub(logger *observability.Logger) *GitHub {
	return &GitHub{
		client: newProviderClient(store.AppGitHub, logger),
		logger: logger,
	}
}

func (g *GitHub) App() string { return store.AppGitHub }

func githubRepo(trigger store.Trigger) (string, string, error) {
	owner, _ := trigger.Config["owner"].(string)
	repo, _ := trigger.Config["repo"].(string)
	if owner == "" || repo == "" {
		return "", "", &PermanentError{Op: "github", Err: errors.New("trigger config requires owner and repo")}
	}
	return owner, repo, nil
}

func githubHeaders(accessToken string) map[string]string {
	return map[string]string{
		"Authorization":        "Bearer " + accessToken,
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
}

// Register creates a repository hook via POST /repos/{owner}/{repo}/hooks.
// GitHub answers 422 when an identical hook exists; the existing hook is
// then located by its callback URL so registration stays idempotent.
func (g *GitHub) Register(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	owner, repo, err := githubRepo(trigger)
	if err != nil {
		return Registration{}, err
	}

	accessToken := account.Credential("access_token")
	if accessToken == "" {
		return Registration{}, &PermanentError{Op: "github register", Err: errors.New("linked account is missing access_token")}
	}

	event, ok := githubEvents[trigger.TriggerType]
	if !ok {
		return Registration{}, &PermanentError{Op: "github register", Err: fmt.Errorf("unsupported trigger type %q", trigger.TriggerType)}
	}

	hook := map[string]interface{}{
		"name":   "web",
		"active": true,
		"events": []string{event},
		"config": map[string]interface{}{
			"url":          trigger.WebhookURL,
			"content_type": "json",
			"secret":       trigger.VerificationToken,
			"insecure_ssl": "0",
		},
	}

	url := fmt.Sprintf("%s/repos/%s/%s/hooks", githubBaseURL, owner, repo)
	status, body, err := g.client.doJSON(ctx, http.MethodPost, url, githubHeaders(accessToken), hook)
	if err != nil {
		return Registration{}, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var result struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return Registration{}, &PermanentError{Op: "github register", Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		id := strconv.FormatInt(result.ID, 10)
		return Registration{ExternalWebhookID: &id}, nil

	case status == http.StatusUnprocessableEntity && strings.Contains(string(body), "already exists"):
		id, lookupErr := g.findHook(ctx, owner, repo, accessToken, trigger.WebhookURL)
		if lookupErr != nil {
			return Registration{}, lookupErr
		}
		return Registration{ExternalWebhookID: &id}, nil

	default:
		return Registration{}, &PermanentError{Op: "github register", Err: &statusError{status: status, body: body}}
	}
}

func (g *GitHub) findHook(ctx context.Context, owner, repo, accessToken, callbackURL string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/hooks", githubBaseURL, owner, repo)
	status, body, err := g.client.doJSON(ctx, http.MethodGet, url, githubHeaders(accessToken), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &PermanentError{Op: "github list hooks", Err: &statusError{status: status, body: body}}
	}

	var hooks []struct {
		ID     int64 `json:"id"`
		Config struct {
			URL string `json:"url"`
		} `json:"config"`
	}
	if err := json.Unmarshal(body, &hooks); err != nil {
		return "", &PermanentError{Op: "github list hooks", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	for _, h := range hooks {
		if h.Config.URL == callbackURL {
			return strconv.FormatInt(h.ID, 10), nil
		}
	}
	return "", &PermanentError{Op: "github list hooks", Err: errors.New("no existing hook for callback url")}
}

// Unregister deletes the hook; a 404 counts as success.
func (g *GitHub) Unregister(ctx context.Context, trigger store.Trigger, account LinkedAccount) error {
	if trigger.ExternalWebhookID == nil {
		return nil
	}

	owner, repo, err := githubRepo(trigger)
	if err != nil {
		return err
	}
	accessToken := account.Credential("access_token")
	if accessToken == "" {
		return &PermanentError{Op: "github unregister", Err: errors.New("linked account is missing access_token")}
	}

	url := fmt.Sprintf("%s/repos/%s/%s/hooks/%s", githubBaseURL, owner, repo, *trigger.ExternalWebhookID)
	status, body, err := g.client.doJSON(ctx, http.MethodDelete, url, githubHeaders(accessToken), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || status == http.StatusNotFound {
		return nil
	}
	return &PermanentError{Op: "github unregister", Err: &statusError{status: status, body: body}}
}

// Verify checks X-Hub-Signature-256: sha256= prefixed hex HMAC of the raw
// body under the per-hook secret. GitHub does not sign a timestamp.
func (g *GitHub) Verify(ctx context.Context, req IncomingRequest, trigger store.Trigger) error {
	if trigger.VerificationToken == "" {
		return &PermanentError{Op: "github verify", Err: errors.New("trigger has no webhook secret")}
	}

	signature := req.Headers.Get("X-Hub-Signature-256")
	if signature == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(trigger.VerificationToken))
	mac.Write(req.Body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Parse wraps the payload; X-GitHub-Delivery is the dedup key and
// X-GitHub-Event names the event.
func (g *GitHub) Parse(req IncomingRequest, trigger store.Trigger) ([]ParsedEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	eventType := trigger.TriggerType
	if event := req.Headers.Get("X-GitHub-Event"); event != "" {
		if mapped, known := githubTriggerTypes[event]; known {
			eventType = mapped
		}
	}

	var externalID *string
	if delivery := req.Headers.Get("X-GitHub-Delivery"); delivery != "" {
		externalID = &delivery
	}

	return []ParsedEvent{{
		EventType:       eventType,
		EventData:       payload,
		ExternalEventID: externalID,
	}}, nil
}

// Renew is not supported; GitHub hooks do not expire.
func (g *GitHub) Renew(ctx context.Context, trigger store.Trigger, account LinkedAccount) (Registration, error) {
	return Registration{}, ErrNotSupported
}

var _ Connector = (*GitHub)(nil)
