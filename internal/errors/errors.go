package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Base error types
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration missing")
	ErrPersistence   = errors.New("persistence failure")
	ErrProvider      = errors.New("provider failure")
	ErrConflict      = errors.New("conflict")
)

// Kind represents the category of error
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindPersistence   Kind = "persistence"
	KindProvider      Kind = "provider"
	KindConflict      Kind = "conflict"
)

// Error is a structured error carried through the purchase pipeline.
type Error struct {
	Kind       Kind
	Op         string // Operation that failed (e.g., "billing.normalize", "hubtel.status")
	Msg        string // Safe, user-facing message
	Err        error  // Underlying error
	Fields     map[string][]string
	StatusCode int    // Upstream HTTP status if applicable
	Body       []byte // Upstream response body if applicable
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	case len(e.Fields) > 0:
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.message(), strings.Join(sortedKeys(e.Fields), ", "))
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.message())
	}
}

func (e *Error) message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrPersistence:
		return e.Kind == KindPersistence
	case ErrProvider:
		return e.Kind == KindProvider
	case ErrConflict:
		return e.Kind == KindConflict
	}

	return errors.Is(e.Err, target)
}

// Validation returns a validation error carrying every failing field.
func Validation(op string, fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: "Invalid payload", Fields: fields}
}

// NotFound returns an error for a referenced entity that does not exist.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Configuration returns an error for missing deployment configuration.
func Configuration(op, msg string) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: msg}
}

// Persistence wraps a backing-store failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// Conflict returns an error for a request that collides with existing state.
func Conflict(op, msg string) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg}
}

// Provider wraps a non-success upstream response or transport failure.
func Provider(op string, statusCode int, body []byte, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, StatusCode: statusCode, Body: body, Err: err}
}

// Helper functions

// KindOf returns the kind of err, or "" when err is not a structured error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldsOf returns the field map of a validation error.
func FieldsOf(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// MessageOf returns the user-facing message attached to err, if any.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}

// HTTPStatus maps an error onto the HTTP status the API returns for it.
// Provider errors that reach a handler unrelayed are logged and become 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Is, As and New re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
