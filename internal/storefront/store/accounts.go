package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAccount inserts a login account. A taken email yields ErrDuplicateEmail.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, organization_id, email, password_hash, must_reset_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, a.Email, a.PasswordHash, boolToInt(a.MustResetPassword), a.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err, "accounts.email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccountByEmail retrieves an account by email. Returns nil, nil when absent.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	var mustReset int
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT
		id, organization_id, email, password_hash, must_reset_password, created_at
		FROM accounts WHERE email = ?`, email).Scan(
		&a.ID, &a.OrganizationID, &a.Email, &a.PasswordHash, &mustReset, &createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.MustResetPassword = mustReset != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}
