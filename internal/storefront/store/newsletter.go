package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertSubscriber subscribes email. An active subscription is returned as is
// (created=false); an unsubscribed one is reactivated with the supplied token.
func (s *Store) UpsertSubscriber(ctx context.Context, sub *Subscriber) (created bool, err error) {
	if sub == nil {
		return false, fmt.Errorf("subscriber is nil")
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanSubscriber(tx.QueryRowContext(ctx, `SELECT
			id, email, token, status, created_at, unsubscribed_at
			FROM newsletter_subscribers WHERE email = ?`, sub.Email))
		if err != nil {
			return err
		}

		switch {
		case existing == nil:
			if sub.CreatedAt.IsZero() {
				sub.CreatedAt = time.Now().UTC()
			}
			sub.Status = SubscriberActive
			_, err = tx.ExecContext(ctx, `INSERT INTO newsletter_subscribers
				(id, email, token, status, created_at, unsubscribed_at) VALUES (?, ?, ?, ?, ?, NULL)`,
				sub.ID, sub.Email, sub.Token, sub.Status, sub.CreatedAt.Unix())
			if err != nil {
				return fmt.Errorf("create subscriber: %w", err)
			}
			created = true
		case existing.Status == SubscriberActive:
			*sub = *existing
		default:
			_, err = tx.ExecContext(ctx, `UPDATE newsletter_subscribers
				SET status = ?, token = ?, unsubscribed_at = NULL WHERE id = ?`,
				SubscriberActive, sub.Token, existing.ID)
			if err != nil {
				return fmt.Errorf("reactivate subscriber: %w", err)
			}
			token := sub.Token
			*sub = *existing
			sub.Token = token
			sub.Status = SubscriberActive
			sub.UnsubscribedAt = nil
			created = true
		}
		return nil
	})
	return created, err
}

// Unsubscribe deactivates the subscription owning token. Reports false when the
// token is unknown or already unsubscribed.
func (s *Store) Unsubscribe(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE newsletter_subscribers
		SET status = ?, unsubscribed_at = ? WHERE token = ? AND status = ?`,
		SubscriberUnsubscribed, time.Now().UTC().Unix(), token, SubscriberActive)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func scanSubscriber(s scanner) (*Subscriber, error) {
	var sub Subscriber
	var createdAt int64
	var unsubscribedAt sql.NullInt64
	err := s.Scan(&sub.ID, &sub.Email, &sub.Token, &sub.Status, &createdAt, &unsubscribedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UnsubscribedAt = timeFromNullable(unsubscribedAt)
	return &sub, nil
}
