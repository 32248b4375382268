// Package issues records operational failures for later triage. Reporting
// never fails the caller.
package issues

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

// Severity levels.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Categories used across the pipeline.
const (
	CategoryPayment        = "payment"
	CategoryProvisioning   = "provisioning"
	CategoryNotification   = "notification"
	CategoryPersistence    = "persistence"
	CategoryAmountMismatch = "amount_mismatch"
	CategoryCheckout       = "checkout"
	CategoryCatalog        = "catalog"
)

const maxSnapshotBytes = 4096

// Issue is what a component reports. Request and Response are marshalled to
// JSON snapshots (or stored as-is when already a string or byte slice).
type Issue struct {
	Type            string
	Severity        string
	Category        string
	Title           string
	Err             error
	WithStack       bool
	Component       string
	Endpoint        string
	Method          string
	OrganizationID  string
	PurchaseID      string
	ClientReference string
	Request         any
	Response        any
}

// Reporter is implemented by Sink. Components depend on this so tests can
// substitute a recorder.
type Reporter interface {
	Report(ctx context.Context, issue Issue)
}

// Sink persists issues to the store.
type Sink struct {
	store *store.Store

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSink creates a Sink backed by s.
func NewSink(s *store.Store) *Sink {
	return &Sink{
		store:   s,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Report records issue. Store failures are logged and swallowed.
func (s *Sink) Report(ctx context.Context, issue Issue) {
	rec := &store.Issue{
		ID:               s.newID(),
		IssueType:        issue.Type,
		Severity:         issue.Severity,
		Category:         issue.Category,
		Title:            issue.Title,
		Component:        issue.Component,
		Endpoint:         issue.Endpoint,
		Method:           issue.Method,
		OrganizationID:   issue.OrganizationID,
		PurchaseID:       issue.PurchaseID,
		ClientReference:  issue.ClientReference,
		RequestSnapshot:  snapshot(issue.Request),
		ResponseSnapshot: snapshot(issue.Response),
		Status:           "open",
	}
	if rec.Severity == "" {
		rec.Severity = SeverityError
	}
	if rec.IssueType == "" {
		rec.IssueType = "error"
	}
	if issue.Err != nil {
		rec.Error = issue.Err.Error()
		if issue.WithStack {
			rec.Stack = truncate(string(debug.Stack()), maxSnapshotBytes)
		}
	}

	logger := logging.FromContext(ctx)
	ev := eventFor(logger, rec.Severity).
		Str("issue_id", rec.ID).
		Str("severity", rec.Severity).
		Str("category", rec.Category).
		Str("component", rec.Component)
	if issue.Err != nil {
		ev = ev.Err(issue.Err)
	}
	if rec.ClientReference != "" {
		ev = ev.Str("client_reference", rec.ClientReference)
	}
	if rec.OrganizationID != "" {
		ev = ev.Str("organization_id", rec.OrganizationID)
	}
	ev.Msg(rec.Title)

	sfmetrics.IssuesTotal.WithLabelValues(rec.Category, rec.Severity).Inc()

	if s.store == nil {
		return
	}
	// Issue writes outlive the request context.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.CreateIssue(writeCtx, rec); err != nil {
		logger.Error().Err(err).Str("issue_id", rec.ID).Msg("Failed to persist issue")
	}
}

// List returns recorded issues, optionally filtered by status.
func (s *Sink) List(ctx context.Context, status string, limit int) ([]*store.Issue, error) {
	return s.store.ListIssues(ctx, status, limit)
}

func (s *Sink) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func eventFor(logger *zerolog.Logger, severity string) *zerolog.Event {
	switch severity {
	case SeverityWarning:
		return logger.Warn()
	default:
		return logger.Error()
	}
}

func snapshot(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(t, maxSnapshotBytes)
	case []byte:
		return truncate(string(t), maxSnapshotBytes)
	case json.RawMessage:
		return truncate(string(t), maxSnapshotBytes)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return truncate(string(b), maxSnapshotBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
