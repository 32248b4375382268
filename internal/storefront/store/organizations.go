package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const organizationColumns = `id, name, email, phone, street, city, state, country, postal_code, status, created_at, updated_at`

// GetOrganization retrieves an organization by ID. Returns nil, nil when absent.
func (s *Store) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = ?`, id)
	return scanOrganization(row)
}

// GetOrganizationByEmail retrieves an organization by its (lowercased) email.
// Returns nil, nil when absent.
func (s *Store) GetOrganizationByEmail(ctx context.Context, email string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE email = ?`, email)
	return scanOrganization(row)
}

// CreateOrganizationWithAddress inserts an organization and its default billing
// address in a single transaction.
func (s *Store) CreateOrganizationWithAddress(ctx context.Context, org *Organization, addr *BillingAddress) error {
	if org == nil || addr == nil {
		return fmt.Errorf("organization and billing address are required")
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	if org.Status == "" {
		org.Status = "active"
	}
	addr.OrganizationID = org.ID
	addr.IsDefault = true

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (`+organizationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			org.ID, org.Name, org.Email, org.Phone,
			org.Street, org.City, org.State, org.Country, org.PostalCode,
			org.Status, org.CreatedAt.Unix(), org.UpdatedAt.Unix(),
		)
		if err != nil {
			if isUniqueViolation(err, "organizations.email") {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("create organization: %w", err)
		}
		return insertBillingAddress(ctx, tx, addr)
	})
}

// DeleteOrganization removes an organization and its billing addresses.
// Used only to compensate a checkout that created the organization.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM billing_addresses WHERE organization_id = ?`, id); err != nil {
			return fmt.Errorf("delete billing addresses: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete organization: %w", err)
		}
		return nil
	})
}

// CreateBillingAddress appends a billing address to an existing organization.
func (s *Store) CreateBillingAddress(ctx context.Context, addr *BillingAddress) error {
	if addr == nil {
		return fmt.Errorf("billing address is nil")
	}
	return insertBillingAddress(ctx, s.db, addr)
}

// ListBillingAddresses returns an organization's billing addresses, default first.
func (s *Store) ListBillingAddresses(ctx context.Context, organizationID string) ([]*BillingAddress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, organization_id, street, city, state, country, postal_code, is_default, created_at
		FROM billing_addresses WHERE organization_id = ? ORDER BY is_default DESC, created_at ASC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list billing addresses: %w", err)
	}
	defer rows.Close()

	var out []*BillingAddress
	for rows.Next() {
		var a BillingAddress
		var isDefault int
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Street, &a.City, &a.State, &a.Country, &a.PostalCode, &isDefault, &createdAt); err != nil {
			return nil, fmt.Errorf("scan billing address: %w", err)
		}
		a.IsDefault = isDefault != 0
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CountOrganizations returns the number of organization rows.
func (s *Store) CountOrganizations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count organizations: %w", err)
	}
	return n, nil
}

func insertBillingAddress(ctx context.Context, q querier, addr *BillingAddress) error {
	if addr.CreatedAt.IsZero() {
		addr.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_addresses (id, organization_id, street, city, state, country, postal_code, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addr.ID, addr.OrganizationID, addr.Street, addr.City, addr.State, addr.Country, addr.PostalCode,
		boolToInt(addr.IsDefault), addr.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create billing address: %w", err)
	}
	return nil
}

func scanOrganization(s scanner) (*Organization, error) {
	var o Organization
	var createdAt, updatedAt int64
	err := s.Scan(
		&o.ID, &o.Name, &o.Email, &o.Phone,
		&o.Street, &o.City, &o.State, &o.Country, &o.PostalCode,
		&o.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}
