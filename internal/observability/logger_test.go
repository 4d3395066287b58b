package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGetRealClientIP(t *testing.T) {
	tests := []struct {
		name          string
		forwardedFor  string
		remoteAddr    string
		want          string
	}{
		{
			name:         "X-Forwarded-For single entry",
			forwardedFor: "203.0.113.7",
			remoteAddr:   "10.0.0.1:54321",
			want:         "203.0.113.7",
		},
		{
			name:         "X-Forwarded-For chain takes first entry",
			forwardedFor: "203.0.113.7, 198.51.100.2, 10.0.0.1",
			remoteAddr:   "10.0.0.1:54321",
			want:         "203.0.113.7",
		},
		{
			name:         "X-Forwarded-For entry is trimmed",
			forwardedFor: "  203.0.113.7 ,198.51.100.2",
			remoteAddr:   "10.0.0.1:54321",
			want:         "203.0.113.7",
		},
		{
			name:       "falls back to remote address",
			remoteAddr: "192.0.2.44:1234",
			want:       "192.0.2.44",
		},
	}

	gin.SetMode(gin.TestMode)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/github/x", nil)
			c.Request.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				c.Request.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}

			if got := GetRealClientIP(c); got != tt.want {
				t.Errorf("GetRealClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := NewLogger()

	r := gin.New()
	r.Use(Middleware(logger))
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header to be set")
	}
}

func TestMiddlewarePreservesExistingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := NewLogger()

	r := gin.New()
	r.Use(Middleware(logger))
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-fixed")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-fixed" {
		t.Errorf("expected request id to be preserved, got %q", got)
	}
}
