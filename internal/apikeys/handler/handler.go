// Package handler manages admin API keys: minting, listing, renaming
// and revoking. Keys are project-scoped and the raw secret is returned
// exactly once, at creation time.
package handler

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"trigger-server/internal/apierrors"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIKeyStore defines the interface for API key database operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, params store.CreateAPIKeyParams) (store.APIKey, error)
	GetAPIKeysByProject(ctx context.Context, projectID uuid.UUID) ([]store.APIKey, error)
	GetAPIKeyByID(ctx context.Context, keyID uuid.UUID) (store.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error
	UpdateAPIKeyName(ctx context.Context, keyID uuid.UUID, name string) error
}

// Handler handles API key HTTP requests
type Handler struct {
	store  APIKeyStore
	logger *observability.Logger
}

// New creates a new Handler
func New(store APIKeyStore, logger *observability.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		apierrors.NotFound(c, "API key not found")
	default:
		apierrors.InternalError(c, err)
	}
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	ProjectID uuid.UUID `json:"project_id" binding:"required"`
	Name      string    `json:"name" binding:"required,min=1,max=100"`
	ExpiresIn *int      `json:"expires_in_days"`
}

// CreateAPIKeyResponse carries the raw key. It is never reconstructable
// afterwards; only the hash is stored.
type CreateAPIKeyResponse struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Key       string  `json:"key"`
	KeyPrefix string  `json:"key_prefix"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// APIKeyResponse represents an API key in list responses (no secret)
type APIKeyResponse struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Name          string  `json:"name"`
	KeyPrefix     string  `json:"key_prefix"`
	Status        string  `json:"status"`
	LastUsedAt    *string `json:"last_used_at,omitempty"`
	TotalRequests int     `json:"total_requests"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	RevokedAt     *string `json:"revoked_at,omitempty"`
}

// UpdateAPIKeyRequest represents a request to update an API key
type UpdateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// HandleCreateAPIKey handles POST /api/v1/api-keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "project_id", Value: req.ProjectID})

	rawKey, keyHash, keyPrefix, err := generateAPIKey()
	if err != nil {
		h.logger.Error(ctx, "failed to generate API key", err)
		apierrors.InternalError(c, err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		exp := time.Now().AddDate(0, 0, *req.ExpiresIn)
		expiresAt = &exp
	}

	apiKey, err := h.store.CreateAPIKey(ctx, store.CreateAPIKeyParams{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		h.logger.Error(ctx, "failed to create API key", err)
		h.handleError(c, err)
		return
	}

	h.logger.Info(ctx, "created API key")

	var expiresAtStr *string
	if apiKey.ExpiresAt != nil {
		s := apiKey.ExpiresAt.Format(time.RFC3339)
		expiresAtStr = &s
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		ID:        apiKey.ID.String(),
		ProjectID: apiKey.ProjectID.String(),
		Name:      apiKey.Name,
		Key:       rawKey,
		KeyPrefix: apiKey.KeyPrefix,
		ExpiresAt: expiresAtStr,
		CreatedAt: apiKey.CreatedAt.Format(time.RFC3339),
	})
}

// HandleListAPIKeys handles GET /api/v1/api-keys?project_id=...
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, err := uuid.Parse(c.Query("project_id"))
	if err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", "project_id is required")
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "project_id", Value: projectID})

	apiKeys, err := h.store.GetAPIKeysByProject(ctx, projectID)
	if err != nil {
		h.logger.Error(ctx, "failed to list API keys", err)
		h.handleError(c, err)
		return
	}

	response := make([]APIKeyResponse, len(apiKeys))
	for i, key := range apiKeys {
		response[i] = toAPIKeyResponse(key)
	}

	c.JSON(http.StatusOK, response)
}

// HandleGetAPIKey handles GET /api/v1/api-keys/:id
func (h *Handler) HandleGetAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.NotFound(c, "API key not found")
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "api_key_id", Value: keyID})

	apiKey, err := h.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAPIKeyResponse(apiKey))
}

// HandleUpdateAPIKey handles PATCH /api/v1/api-keys/:id
func (h *Handler) HandleUpdateAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.NotFound(c, "API key not found")
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "api_key_id", Value: keyID})

	var req UpdateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.store.UpdateAPIKeyName(ctx, keyID, req.Name); err != nil {
		h.logger.Error(ctx, "failed to update API key", err)
		h.handleError(c, err)
		return
	}

	h.logger.Info(ctx, "updated API key name")

	apiKey, err := h.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		h.logger.Error(ctx, "failed to get updated API key", err)
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAPIKeyResponse(apiKey))
}

// HandleRevokeAPIKey handles DELETE /api/v1/api-keys/:id
func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.NotFound(c, "API key not found")
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "api_key_id", Value: keyID})

	if err := h.store.RevokeAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.NotFound(c, "API key not found or already revoked")
			return
		}
		h.logger.Error(ctx, "failed to revoke API key", err)
		h.handleError(c, err)
		return
	}

	h.logger.Info(ctx, "revoked API key")

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// generateAPIKey generates a new API key with hash and prefix
func generateAPIKey() (rawKey, keyHash, keyPrefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	rawKey = "sk_" + hex.EncodeToString(bytes)

	// Only the hash hits the database.
	hash := sha256.Sum256([]byte(rawKey))
	keyHash = hex.EncodeToString(hash[:])

	// First 8 chars after sk_, enough for display.
	keyPrefix = rawKey[:11] + "..."

	return rawKey, keyHash, keyPrefix, nil
}

func toAPIKeyResponse(key store.APIKey) APIKeyResponse {
	var lastUsedAt *string
	if key.LastUsedAt != nil {
		s := key.LastUsedAt.Format(time.RFC3339)
		lastUsedAt = &s
	}

	var expiresAt *string
	if key.ExpiresAt != nil {
		s := key.ExpiresAt.Format(time.RFC3339)
		expiresAt = &s
	}

	var revokedAt *string
	if key.RevokedAt != nil {
		s := key.RevokedAt.Format(time.RFC3339)
		revokedAt = &s
	}

	return APIKeyResponse{
		ID:            key.ID.String(),
		ProjectID:     key.ProjectID.String(),
		Name:          key.Name,
		KeyPrefix:     key.KeyPrefix,
		Status:        key.Status,
		LastUsedAt:    lastUsedAt,
		TotalRequests: key.TotalRequests,
		ExpiresAt:     expiresAt,
		CreatedAt:     key.CreatedAt.Format(time.RFC3339),
		RevokedAt:     revokedAt,
	}
}
