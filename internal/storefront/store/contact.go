package store

import (
	"context"
	"fmt"
	"time"
)

// CreateContactSubmission stores a contact form message.
func (s *Store) CreateContactSubmission(ctx context.Context, c *ContactSubmission) error {
	if c == nil {
		return fmt.Errorf("contact submission is nil")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_submissions (id, name, email, phone, subject, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.Subject, c.Message, c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create contact submission: %w", err)
	}
	return nil
}
