package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const registrationColumns = `id, training_id, name, email, phone, organization, status, created_at, cancelled_at, cancel_reason`

// CreateTraining inserts a training session.
func (s *Store) CreateTraining(ctx context.Context, t *Training) error {
	if t == nil {
		return fmt.Errorf("training is nil")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trainings (id, title, starts_at, seats_total, seats_taken, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullableTimeUnix(t.StartsAt), t.SeatsTotal, t.SeatsTaken, t.Status, t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create training: %w", err)
	}
	return nil
}

// GetTraining retrieves a training by ID. Returns nil, nil when absent.
func (s *Store) GetTraining(ctx context.Context, id string) (*Training, error) {
	return getTraining(ctx, s.db, id)
}

// RegisterForTraining takes a seat and inserts the registration in one
// transaction. Returns ErrTrainingNotFound or ErrTrainingFull.
func (s *Store) RegisterForTraining(ctx context.Context, r *Registration) error {
	if r == nil {
		return fmt.Errorf("registration is nil")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Status = RegistrationRegistered

	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTraining(ctx, tx, r.TrainingID)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTrainingNotFound
		}

		res, err := tx.ExecContext(ctx, `UPDATE trainings SET seats_taken = seats_taken + 1
			WHERE id = ? AND status = 'open' AND seats_taken < seats_total`, r.TrainingID)
		if err != nil {
			return fmt.Errorf("reserve training seat: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrTrainingFull
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO training_registrations (`+registrationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TrainingID, r.Name, r.Email, r.Phone, r.Organization, string(r.Status),
			r.CreatedAt.Unix(), nil, "",
		)
		if err != nil {
			return fmt.Errorf("create registration: %w", err)
		}
		return nil
	})
}

// GetRegistration retrieves a registration by ID. Returns nil, nil when absent.
func (s *Store) GetRegistration(ctx context.Context, id string) (*Registration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM training_registrations WHERE id = ?`, id)
	return scanRegistration(row)
}

// CancelRegistration cancels a registration and releases its seat in one
// transaction. A registration that is already cancelled is returned with
// alreadyCancelled=true and the seat counter is left untouched. Returns a nil
// registration when the ID is unknown.
func (s *Store) CancelRegistration(ctx context.Context, id, reason string) (reg *Registration, alreadyCancelled bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM training_registrations WHERE id = ?`, id)
		r, err := scanRegistration(row)
		if err != nil || r == nil {
			return err
		}
		reg = r
		if r.Status == RegistrationCancelled {
			alreadyCancelled = true
			return nil
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE training_registrations
			SET status = ?, cancelled_at = ?, cancel_reason = ?
			WHERE id = ? AND status = ?`,
			string(RegistrationCancelled), now.Unix(), reason, id, string(RegistrationRegistered))
		if err != nil {
			return fmt.Errorf("cancel registration: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			alreadyCancelled = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE trainings SET seats_taken = seats_taken - 1
			WHERE id = ? AND seats_taken > 0`, r.TrainingID); err != nil {
			return fmt.Errorf("release training seat: %w", err)
		}

		r.Status = RegistrationCancelled
		r.CancelledAt = &now
		r.CancelReason = reason
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return reg, alreadyCancelled, nil
}

// ListRegistrations returns the registrations for a training in sign-up order.
func (s *Store) ListRegistrations(ctx context.Context, trainingID string) ([]*Registration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+registrationColumns+`
		FROM training_registrations WHERE training_id = ? ORDER BY created_at ASC, id`, trainingID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	out := []*Registration{}
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getTraining(ctx context.Context, q querier, id string) (*Training, error) {
	var t Training
	var startsAt sql.NullInt64
	var createdAt int64
	err := q.QueryRowContext(ctx, `SELECT id, title, starts_at, seats_total, seats_taken, status, created_at
		FROM trainings WHERE id = ?`, id).Scan(
		&t.ID, &t.Title, &startsAt, &t.SeatsTotal, &t.SeatsTaken, &t.Status, &createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get training: %w", err)
	}
	t.StartsAt = timeFromNullable(startsAt)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

func scanRegistration(s scanner) (*Registration, error) {
	var r Registration
	var status string
	var createdAt int64
	var cancelledAt sql.NullInt64
	err := s.Scan(
		&r.ID, &r.TrainingID, &r.Name, &r.Email, &r.Phone, &r.Organization, &status,
		&createdAt, &cancelledAt, &r.CancelReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	r.Status = RegistrationStatus(status)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.CancelledAt = timeFromNullable(cancelledAt)
	return &r, nil
}
