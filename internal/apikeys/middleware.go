// Package apikeys authenticates admin API requests with project-scoped
// API keys. Raw keys look like sk_<64 hex chars>; the store only ever
// sees their SHA-256 hash.
package apikeys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"trigger-server/internal/apierrors"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProjectIDKey is the gin context key carrying the authenticated
// project once Middleware has run.
const ProjectIDKey = "Project-ID"

// AuthStore is the subset of store operations the middleware needs.
type AuthStore interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (store.APIKey, error)
	UpdateAPIKeyUsage(ctx context.Context, keyID uuid.UUID) error
}

// Middleware returns a gin middleware that requires a valid API key on
// every request. The key is read from the Authorization header
// ("Bearer sk_...") or, as a fallback, from X-API-Key.
func Middleware(st AuthStore, logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		rawKey := extractKey(c)
		if rawKey == "" {
			apierrors.Unauthorized(c, "API key required")
			c.Abort()
			return
		}

		hash := sha256.Sum256([]byte(rawKey))
		apiKey, err := st.GetAPIKeyByHash(ctx, hex.EncodeToString(hash[:]))
		if err != nil {
			// ErrNotFound covers unknown, revoked and expired keys alike;
			// the caller learns nothing about which.
			apierrors.Unauthorized(c, "Invalid API key")
			c.Abort()
			return
		}

		// Usage tracking must not block or fail the request.
		if err := st.UpdateAPIKeyUsage(ctx, apiKey.ID); err != nil {
			logger.WarnWithError(ctx, "failed to record api key usage", err)
		}

		c.Set(ProjectIDKey, apiKey.ProjectID.String())
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("X-API-Key")
}
