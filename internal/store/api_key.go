package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAPIKeyParams represents parameters for creating an API key
type CreateAPIKeyParams struct {
	ProjectID uuid.UUID
	Name      string
	KeyHash   string
	KeyPrefix string
	ExpiresAt *time.Time
}

const sqlCreateAPIKey = `
INSERT INTO api_keys (project_id, name, key_hash, key_prefix, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, project_id, name, key_hash, key_prefix, status, last_used_at, total_requests, expires_at, created_at, revoked_at
`

// CreateAPIKey creates a new API key
func (s *Store) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (APIKey, error) {
	var apiKey APIKey
	err := s.db.GetContext(ctx, &apiKey, sqlCreateAPIKey,
		params.ProjectID,
		params.Name,
		params.KeyHash,
		params.KeyPrefix,
		params.ExpiresAt)
	if err != nil {
		s.logger.Error(ctx, "failed to create api key", err)
		return APIKey{}, fmt.Errorf("failed to create api key: %w", err)
	}
	return apiKey, nil
}

const sqlGetAPIKeyByHash = `
SELECT id, project_id, name, key_hash, key_prefix, status, last_used_at, total_requests, expires_at, created_at, revoked_at
FROM api_keys
WHERE key_hash = $1 AND status = 'active' AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
`

// GetAPIKeyByHash retrieves a usable API key by its hash. Revoked and
// expired keys never match.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	var apiKey APIKey
	err := s.db.GetContext(ctx, &apiKey, sqlGetAPIKeyByHash, keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get api key by hash", err)
		return APIKey{}, fmt.Errorf("failed to get api key by hash: %w", err)
	}
	return apiKey, nil
}

const sqlGetAPIKeyByID = `
SELECT id, project_id, name, key_hash, key_prefix, status, last_used_at, total_requests, expires_at, created_at, revoked_at
FROM api_keys
WHERE id = $1
`

// GetAPIKeyByID retrieves an API key by ID
func (s *Store) GetAPIKeyByID(ctx context.Context, keyID uuid.UUID) (APIKey, error) {
	var apiKey APIKey
	err := s.db.GetContext(ctx, &apiKey, sqlGetAPIKeyByID, keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get api key by id", err)
		return APIKey{}, fmt.Errorf("failed to get api key by id: %w", err)
	}
	return apiKey, nil
}

const sqlGetAPIKeysByProject = `
SELECT id, project_id, name, key_hash, key_prefix, status, last_used_at, total_requests, expires_at, created_at, revoked_at
FROM api_keys
WHERE project_id = $1
ORDER BY created_at DESC
`

// GetAPIKeysByProject retrieves all API keys for a project
func (s *Store) GetAPIKeysByProject(ctx context.Context, projectID uuid.UUID) ([]APIKey, error) {
	var apiKeys []APIKey
	err := s.db.SelectContext(ctx, &apiKeys, sqlGetAPIKeysByProject, projectID)
	if err != nil {
		s.logger.Error(ctx, "failed to get api keys by project", err)
		return nil, fmt.Errorf("failed to get api keys by project: %w", err)
	}
	return apiKeys, nil
}

const sqlUpdateAPIKeyUsage = `
UPDATE api_keys
SET last_used_at = CURRENT_TIMESTAMP,
    total_requests = total_requests + 1
WHERE id = $1
`

// UpdateAPIKeyUsage updates the last used timestamp and increments request count
func (s *Store) UpdateAPIKeyUsage(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, sqlUpdateAPIKeyUsage, keyID)
	if err != nil {
		s.logger.Error(ctx, "failed to update api key usage", err)
		return fmt.Errorf("failed to update api key usage: %w", err)
	}
	return nil
}

const sqlRevokeAPIKey = `
UPDATE api_keys
SET status = 'revoked',
    revoked_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status = 'active'
`

// RevokeAPIKey revokes an API key
func (s *Store) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, sqlRevokeAPIKey, keyID)
	if err != nil {
		s.logger.Error(ctx, "failed to revoke api key", err)
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

const sqlUpdateAPIKeyName = `
UPDATE api_keys
SET name = $2
WHERE id = $1
`

// UpdateAPIKeyName updates the name of an API key
func (s *Store) UpdateAPIKeyName(ctx context.Context, keyID uuid.UUID, name string) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateAPIKeyName, keyID, name)
	if err != nil {
		s.logger.Error(ctx, "failed to update api key name", err)
		return fmt.Errorf("failed to update api key name: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
