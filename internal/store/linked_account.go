package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LinkedAccount holds one user-supplied provider credential set. Credentials
// are stored sealed; only the service layer can open them.
type LinkedAccount struct {
	ID          uuid.UUID `db:"id"`
	ProjectID   uuid.UUID `db:"project_id"`
	AppName     string    `db:"app_name"`
	Credentials string    `db:"credentials"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

const linkedAccountColumns = `id, project_id, app_name, credentials, created_at, updated_at`

type CreateLinkedAccountParams struct {
	ProjectID   uuid.UUID
	AppName     string
	Credentials string
}

const sqlCreateLinkedAccount = `
INSERT INTO linked_accounts (project_id, app_name, credentials)
VALUES ($1, $2, $3)
RETURNING ` + linkedAccountColumns

// CreateLinkedAccount stores a sealed credential set.
func (s *Store) CreateLinkedAccount(ctx context.Context, params CreateLinkedAccountParams) (LinkedAccount, error) {
	var account LinkedAccount
	err := s.db.GetContext(ctx, &account, sqlCreateLinkedAccount,
		params.ProjectID, params.AppName, params.Credentials)
	if err != nil {
		s.logger.Error(ctx, "failed to create linked account", err)
		return LinkedAccount{}, fmt.Errorf("failed to create linked account: %w", err)
	}
	return account, nil
}

const sqlGetLinkedAccountByID = `
SELECT ` + linkedAccountColumns + `
FROM linked_accounts
WHERE id = $1
`

// GetLinkedAccountByID retrieves a linked account by ID.
func (s *Store) GetLinkedAccountByID(ctx context.Context, accountID uuid.UUID) (LinkedAccount, error) {
	var account LinkedAccount
	err := s.db.GetContext(ctx, &account, sqlGetLinkedAccountByID, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LinkedAccount{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get linked account", err)
		return LinkedAccount{}, fmt.Errorf("failed to get linked account: %w", err)
	}
	return account, nil
}

const sqlUpdateLinkedAccountCredentials = `
UPDATE linked_accounts
SET credentials = $2, updated_at = now()
WHERE id = $1
RETURNING ` + linkedAccountColumns

// UpdateLinkedAccountCredentials replaces the sealed credential set, e.g.
// after a token refresh.
func (s *Store) UpdateLinkedAccountCredentials(ctx context.Context, accountID uuid.UUID, credentials string) (LinkedAccount, error) {
	var account LinkedAccount
	err := s.db.GetContext(ctx, &account, sqlUpdateLinkedAccountCredentials, accountID, credentials)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LinkedAccount{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update linked account", err)
		return LinkedAccount{}, fmt.Errorf("failed to update linked account: %w", err)
	}
	return account, nil
}

const sqlDeleteLinkedAccount = `DELETE FROM linked_accounts WHERE id = $1`

// DeleteLinkedAccount removes a linked account. Triggers referencing it keep
// their rows; registrations against it will fail until relinked.
func (s *Store) DeleteLinkedAccount(ctx context.Context, accountID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteLinkedAccount, accountID)
	if err != nil {
		s.logger.Error(ctx, "failed to delete linked account", err)
		return fmt.Errorf("failed to delete linked account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deletion: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
