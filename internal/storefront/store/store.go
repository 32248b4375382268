package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateClientReference is returned when a purchase reuses a client reference.
	ErrDuplicateClientReference = errors.New("client reference already recorded")
	// ErrDuplicateEmail is returned when an organization or account email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTrainingFull is returned when a training has no seats left.
	ErrTrainingFull = errors.New("training is full")
	// ErrTrainingNotFound is returned when registering for an unknown training.
	ErrTrainingNotFound = errors.New("training not found")
)

// Store provides the relational persistence for the storefront, backed by SQLite.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the storefront database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "storefront.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storefront db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT NOT NULL UNIQUE,
		phone       TEXT NOT NULL DEFAULT '',
		street      TEXT NOT NULL DEFAULT '',
		city        TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL DEFAULT '',
		country     TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS billing_addresses (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		street          TEXT NOT NULL DEFAULT '',
		city            TEXT NOT NULL DEFAULT '',
		state           TEXT NOT NULL DEFAULT '',
		country         TEXT NOT NULL DEFAULT '',
		postal_code     TEXT NOT NULL DEFAULT '',
		is_default      INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_billing_addresses_org ON billing_addresses(organization_id);

	CREATE TABLE IF NOT EXISTS purchases (
		id                      TEXT PRIMARY KEY,
		organization_id         TEXT NOT NULL,
		client_reference        TEXT NOT NULL UNIQUE,
		amount                  TEXT NOT NULL,
		currency                TEXT NOT NULL DEFAULT '',
		status                  TEXT NOT NULL,
		items                   TEXT NOT NULL DEFAULT '[]',
		payment_provider        TEXT NOT NULL DEFAULT '',
		payment_method          TEXT NOT NULL DEFAULT '',
		external_transaction_id TEXT NOT NULL DEFAULT '',
		payment_details         TEXT NOT NULL DEFAULT '',
		notes                   TEXT NOT NULL DEFAULT '',
		created_at              INTEGER NOT NULL,
		updated_at              INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_purchases_org ON purchases(organization_id);
	CREATE INDEX IF NOT EXISTS idx_purchases_status ON purchases(status);

	CREATE TABLE IF NOT EXISTS accounts (
		id                  TEXT PRIMARY KEY,
		organization_id     TEXT NOT NULL,
		email               TEXT NOT NULL UNIQUE,
		password_hash       TEXT NOT NULL,
		must_reset_password INTEGER NOT NULL DEFAULT 1,
		created_at          INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkout_steps (
		checkout_id TEXT NOT NULL,
		step        TEXT NOT NULL,
		status      TEXT NOT NULL,
		ref         TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		updated_at  INTEGER NOT NULL,
		PRIMARY KEY (checkout_id, step)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id                TEXT PRIMARY KEY,
		issue_type        TEXT NOT NULL DEFAULT '',
		severity          TEXT NOT NULL DEFAULT 'error',
		category          TEXT NOT NULL DEFAULT '',
		title             TEXT NOT NULL DEFAULT '',
		error             TEXT NOT NULL DEFAULT '',
		stack             TEXT NOT NULL DEFAULT '',
		component         TEXT NOT NULL DEFAULT '',
		endpoint          TEXT NOT NULL DEFAULT '',
		method            TEXT NOT NULL DEFAULT '',
		organization_id   TEXT NOT NULL DEFAULT '',
		purchase_id       TEXT NOT NULL DEFAULT '',
		client_reference  TEXT NOT NULL DEFAULT '',
		request_snapshot  TEXT NOT NULL DEFAULT '',
		response_snapshot TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'open',
		created_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);

	CREATE TABLE IF NOT EXISTS trainings (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		starts_at   INTEGER,
		seats_total INTEGER NOT NULL DEFAULT 0,
		seats_taken INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'open',
		created_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS training_registrations (
		id            TEXT PRIMARY KEY,
		training_id   TEXT NOT NULL REFERENCES trainings(id),
		name          TEXT NOT NULL,
		email         TEXT NOT NULL,
		phone         TEXT NOT NULL DEFAULT '',
		organization  TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'registered',
		created_at    INTEGER NOT NULL,
		cancelled_at  INTEGER,
		cancel_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_training_registrations_training ON training_registrations(training_id);

	CREATE TABLE IF NOT EXISTS contact_submissions (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		phone      TEXT NOT NULL DEFAULT '',
		subject    TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS newsletter_subscribers (
		id              TEXT PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		token           TEXT NOT NULL UNIQUE,
		status          TEXT NOT NULL DEFAULT 'active',
		created_at      INTEGER NOT NULL,
		unsubscribed_at INTEGER
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init storefront schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(v.Int64, 0).UTC()
	return &ts
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
