package connectors

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"trigger-server/internal/config"
	"trigger-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenValidator struct {
	wantToken string
	err       error

	gotToken    string
	gotAudience string
}

func (f *fakeTokenValidator) Validate(ctx context.Context, token, audience string) error {
	f.gotToken = token
	f.gotAudience = audience
	if f.err != nil {
		return f.err
	}
	if token != f.wantToken {
		return errors.New("unknown token")
	}
	return nil
}

func newGmailForTest(validator TokenValidator) *Gmail {
	g := NewGmail(config.ProviderConfig{
		GmailTopic:     "projects/p/topics/gmail-push",
		PubSubAudience: "https://hooks.example.com/webhooks/gmail",
	}, testLogger())
	g.validator = validator
	return g
}

func TestGmail_Verify(t *testing.T) {
	validator := &fakeTokenValidator{wantToken: "good-token"}
	g := newGmailForTest(validator)

	req := testRequest("POST", "", []byte(`{}`))
	req.Headers.Set("Authorization", "Bearer good-token")

	require.NoError(t, g.Verify(context.Background(), req, store.Trigger{}))
	assert.Equal(t, "good-token", validator.gotToken)
	assert.Equal(t, "https://hooks.example.com/webhooks/gmail", validator.gotAudience)
}

func TestGmail_VerifyRejectsBadToken(t *testing.T) {
	g := newGmailForTest(&fakeTokenValidator{wantToken: "good-token"})

	req := testRequest("POST", "", []byte(`{}`))
	req.Headers.Set("Authorization", "Bearer forged-token")

	assert.ErrorIs(t, g.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)
}

func TestGmail_VerifyRejectsMissingBearer(t *testing.T) {
	g := newGmailForTest(&fakeTokenValidator{wantToken: "good-token"})

	req := testRequest("POST", "", []byte(`{}`))
	assert.ErrorIs(t, g.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)

	req.Headers.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.ErrorIs(t, g.Verify(context.Background(), req, store.Trigger{}), ErrInvalidSignature)
}

func TestGmail_VerifyFailsClosedWithoutAudience(t *testing.T) {
	g := NewGmail(config.ProviderConfig{GmailTopic: "projects/p/topics/t"}, testLogger())
	g.validator = &fakeTokenValidator{wantToken: "good-token"}

	req := testRequest("POST", "", []byte(`{}`))
	req.Headers.Set("Authorization", "Bearer good-token")

	var pe *PermanentError
	assert.ErrorAs(t, g.Verify(context.Background(), req, store.Trigger{}), &pe)
}

func TestGmail_Parse(t *testing.T) {
	g := newGmailForTest(&fakeTokenValidator{})
	trigger := store.Trigger{TriggerType: "GMAIL_NEW_MESSAGE"}

	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"user@example.com","historyId":9876543210}`))
	body := []byte(`{
		"message": {
			"data": "` + data + `",
			"messageId": "2070443601311540",
			"publishTime": "2026-08-01T08:00:00.000Z"
		},
		"subscription": "projects/p/subscriptions/gmail-push"
	}`)

	events, err := g.Parse(testRequest("POST", "", body), trigger)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "GMAIL_NEW_MESSAGE", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "2070443601311540", *events[0].ExternalEventID)
	assert.Equal(t, "user@example.com", events[0].EventData["email_address"])
	assert.Equal(t, "9876543210", events[0].EventData["history_id"])
	assert.Equal(t, "2026-08-01T08:00:00.000Z", events[0].EventData["publish_time"])
}

func TestGmail_ParseRejectsMissingMessageID(t *testing.T) {
	g := newGmailForTest(&fakeTokenValidator{})

	_, err := g.Parse(testRequest("POST", "", []byte(`{"message":{}}`)), store.Trigger{})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestGmail_ParseRejectsBadData(t *testing.T) {
	g := newGmailForTest(&fakeTokenValidator{})

	_, err := g.Parse(testRequest("POST", "", []byte(`{"message":{"messageId":"1","data":"%%%not-base64%%%"}}`)), store.Trigger{})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestGmail_WatchRequiresCredentialsAndTopic(t *testing.T) {
	g := newGmailForTest(&fakeTokenValidator{})

	_, err := g.Register(context.Background(), store.Trigger{}, LinkedAccount{})
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)

	unconfigured := NewGmail(config.ProviderConfig{}, testLogger())
	account := LinkedAccount{Credentials: map[string]interface{}{"access_token": "tok"}}
	_, err = unconfigured.Register(context.Background(), store.Trigger{}, account)
	require.ErrorAs(t, err, &pe)
}
