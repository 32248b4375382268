package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const purchaseColumns = `id, organization_id, client_reference, amount, currency, status, items,
	payment_provider, payment_method, external_transaction_id, payment_details, notes,
	created_at, updated_at`

// CreatePurchase inserts a purchase. A reused client reference yields
// ErrDuplicateClientReference.
func (s *Store) CreatePurchase(ctx context.Context, p *Purchase) error {
	if p == nil {
		return fmt.Errorf("purchase is nil")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Items == nil {
		p.Items = []LineItem{}
	}

	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("encode purchase items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, p.ClientReference, p.Amount.String(), p.Currency, string(p.Status), string(items),
		p.PaymentProvider, p.PaymentMethod, p.ExternalTransactionID, string(p.PaymentDetails), p.Notes,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err, "purchases.client_reference") {
			return ErrDuplicateClientReference
		}
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// GetPurchase retrieves a purchase by ID. Returns nil, nil when absent.
func (s *Store) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	return scanPurchase(row)
}

// GetPurchaseByClientReference retrieves a purchase by client reference.
// Returns nil, nil when absent.
func (s *Store) GetPurchaseByClientReference(ctx context.Context, ref string) (*Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE client_reference = ?`, ref)
	return scanPurchase(row)
}

// TransitionPurchaseStatus moves a purchase from one status to another. The
// update only applies while the row is still in status from, so concurrent
// confirmations for the same reference take effect at most once. Reports
// whether the row changed.
func (s *Store) TransitionPurchaseStatus(ctx context.Context, ref string, from, to PurchaseStatus, externalID string, details json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchases SET
			status = ?,
			external_transaction_id = CASE WHEN ? = '' THEN external_transaction_id ELSE ? END,
			payment_details = CASE WHEN ? = '' THEN payment_details ELSE ? END,
			updated_at = ?
		WHERE client_reference = ? AND status = ?`,
		string(to), externalID, externalID, string(details), string(details),
		time.Now().UTC().Unix(), ref, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition purchase status: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListPurchases returns purchases newest first, optionally filtered by status.
func (s *Store) ListPurchases(ctx context.Context, status PurchaseStatus, limit int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM purchases ORDER BY created_at DESC, id LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE status = ? ORDER BY created_at DESC, id LIMIT ?`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []*Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPurchasesByStatus returns a map of status -> count.
func (s *Store) CountPurchasesByStatus(ctx context.Context) (map[PurchaseStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM purchases GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count purchases by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[PurchaseStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[PurchaseStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanPurchase(s scanner) (*Purchase, error) {
	var p Purchase
	var amount, status, items, details string
	var createdAt, updatedAt int64

	err := s.Scan(
		&p.ID, &p.OrganizationID, &p.ClientReference, &amount, &p.Currency, &status, &items,
		&p.PaymentProvider, &p.PaymentMethod, &p.ExternalTransactionID, &details, &p.Notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode purchase amount %q: %w", amount, err)
	}
	if err := json.Unmarshal([]byte(items), &p.Items); err != nil {
		return nil, fmt.Errorf("decode purchase items: %w", err)
	}
	if details != "" {
		p.PaymentDetails = json.RawMessage(details)
	}
	p.Status = PurchaseStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}
