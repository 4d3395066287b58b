package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"trigger-server/internal/observability"

	"github.com/sony/gobreaker"
)

const (
	userAgent       = "trigger-server/1.0"
	maxResponseSize = 1 << 20 // 1 MiB
)

// providerClient is the shared outbound HTTP client every connector uses.
// A per-provider circuit breaker keeps a failing provider from consuming
// the worker pool with doomed calls.
type providerClient struct {
	app        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *observability.Logger
}

func newProviderClient(app string, logger *observability.Logger) *providerClient {
	return &providerClient{
		app: app,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     app,
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger,
	}
}

type httpResult struct {
	status int
	body   []byte
}

// doJSON performs one provider API call. Network failures, 5xx, 429 and an
// open breaker come back as *TransientError; other non-2xx statuses are
// returned to the caller to classify, since e.g. a 404 on delete or a 409
// on create is success for idempotent operations.
func (p *providerClient) doJSON(ctx context.Context, method, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	op := fmt.Sprintf("%s %s %s", p.app, method, url)

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, &PermanentError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, err
		}

		res := httpResult{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			// Feed the breaker, and hand the status back through the error.
			return res, &statusError{status: resp.StatusCode, body: body}
		}
		return res, nil
	})

	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return se.status, se.body, &TransientError{Op: op, Err: se}
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, nil, &TransientError{Op: op, Err: err}
		}
		return 0, nil, &TransientError{Op: op, Err: err}
	}

	res := result.(httpResult)
	return res.status, res.body, nil
}

type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.status, truncate(e.body, 256))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
