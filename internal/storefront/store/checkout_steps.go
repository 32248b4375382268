package store

import (
	"context"
	"fmt"
	"time"
)

// RecordCheckoutStep upserts the saga log entry for one checkout step.
func (s *Store) RecordCheckoutStep(ctx context.Context, step *CheckoutStep) error {
	if step == nil {
		return fmt.Errorf("checkout step is nil")
	}
	step.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkout_steps (checkout_id, step, status, ref, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(checkout_id, step) DO UPDATE SET
			status = excluded.status,
			ref = CASE WHEN excluded.ref = '' THEN checkout_steps.ref ELSE excluded.ref END,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		step.CheckoutID, step.Step, string(step.Status), step.Ref, step.Error, step.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record checkout step: %w", err)
	}
	return nil
}

// ListCheckoutSteps returns the saga log for one checkout in write order.
func (s *Store) ListCheckoutSteps(ctx context.Context, checkoutID string) ([]*CheckoutStep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT checkout_id, step, status, ref, error, updated_at
		FROM checkout_steps WHERE checkout_id = ? ORDER BY rowid`, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("list checkout steps: %w", err)
	}
	defer rows.Close()

	var out []*CheckoutStep
	for rows.Next() {
		var st CheckoutStep
		var status string
		var updatedAt int64
		if err := rows.Scan(&st.CheckoutID, &st.Step, &status, &st.Ref, &st.Error, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan checkout step: %w", err)
		}
		st.Status = StepStatus(status)
		st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &st)
	}
	return out, rows.Err()
}
