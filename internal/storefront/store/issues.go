package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const issueColumns = `id, issue_type, severity, category, title, error, stack, component, endpoint, method,
	organization_id, purchase_id, client_reference, request_snapshot, response_snapshot, status, created_at`

// CreateIssue inserts an issue record.
func (s *Store) CreateIssue(ctx context.Context, i *Issue) error {
	if i == nil {
		return fmt.Errorf("issue is nil")
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.IssueType, i.Severity, i.Category, i.Title, i.Error, i.Stack, i.Component, i.Endpoint, i.Method,
		i.OrganizationID, i.PurchaseID, i.ClientReference, i.RequestSnapshot, i.ResponseSnapshot, i.Status,
		i.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// ListIssues returns issues newest first, optionally filtered by status.
func (s *Store) ListIssues(ctx context.Context, status string, limit int) ([]*Issue, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE status = ? ORDER BY id DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []*Issue
	for rows.Next() {
		var i Issue
		var createdAt int64
		if err := rows.Scan(
			&i.ID, &i.IssueType, &i.Severity, &i.Category, &i.Title, &i.Error, &i.Stack, &i.Component, &i.Endpoint, &i.Method,
			&i.OrganizationID, &i.PurchaseID, &i.ClientReference, &i.RequestSnapshot, &i.ResponseSnapshot, &i.Status,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		i.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &i)
	}
	return out, rows.Err()
}
