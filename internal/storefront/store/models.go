package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Organization is a buyer identity. Email is the natural dedup key.
type Organization struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Street     string    `json:"street"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	Country    string    `json:"country"`
	PostalCode string    `json:"postal_code"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BillingAddress is owned by exactly one organization.
type BillingAddress struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Street         string    `json:"street"`
	City           string    `json:"city"`
	State          string    `json:"state"`
	Country        string    `json:"country"`
	PostalCode     string    `json:"postal_code"`
	IsDefault      bool      `json:"is_default"`
	CreatedAt      time.Time `json:"created_at"`
}

// PurchaseStatus is the lifecycle state of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// Valid reports whether s is a known purchase status.
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusFailed:
		return true
	}
	return false
}

// LineItem is one purchased product. Price is captured at transaction time.
type LineItem struct {
	ProductID string          `json:"productId" validate:"notblank"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	Title     string          `json:"title,omitempty"`
}

// Purchase is one checkout transaction.
type Purchase struct {
	ID                    string          `json:"id"`
	OrganizationID        string          `json:"organization_id"`
	ClientReference       string          `json:"client_reference"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Status                PurchaseStatus  `json:"status"`
	Items                 []LineItem      `json:"items"`
	PaymentProvider       string          `json:"payment_provider"`
	PaymentMethod         string          `json:"payment_method"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	PaymentDetails        json.RawMessage `json:"payment_details,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Account is a login account created for an organization's admin email.
type Account struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	MustResetPassword bool      `json:"must_reset_password"`
	CreatedAt         time.Time `json:"created_at"`
}

// StepStatus is the state of one checkout saga step.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepCommitted   StepStatus = "committed"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

// CheckoutStep is one row of the checkout saga log.
type CheckoutStep struct {
	CheckoutID string     `json:"checkout_id"`
	Step       string     `json:"step"`
	Status     StepStatus `json:"status"`
	Ref        string     `json:"ref,omitempty"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Issue is an operational failure recorded for triage.
type Issue struct {
	ID               string    `json:"id"`
	IssueType        string    `json:"issue_type"`
	Severity         string    `json:"severity"`
	Category         string    `json:"category"`
	Title            string    `json:"title"`
	Error            string    `json:"error,omitempty"`
	Stack            string    `json:"stack,omitempty"`
	Component        string    `json:"component,omitempty"`
	Endpoint         string    `json:"endpoint,omitempty"`
	Method           string    `json:"method,omitempty"`
	OrganizationID   string    `json:"organization_id,omitempty"`
	PurchaseID       string    `json:"purchase_id,omitempty"`
	ClientReference  string    `json:"client_reference,omitempty"`
	RequestSnapshot  string    `json:"request_snapshot,omitempty"`
	ResponseSnapshot string    `json:"response_snapshot,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// Training is a scheduled session with a fixed number of seats.
type Training struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	SeatsTotal int        `json:"seats_total"`
	SeatsTaken int        `json:"seats_taken"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RegistrationStatus is the state of a training registration.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationCancelled  RegistrationStatus = "cancelled"
)

// Registration is one attendee's seat in a training.
type Registration struct {
	ID           string             `json:"id"`
	TrainingID   string             `json:"training_id"`
	Name         string             `json:"name"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone,omitempty"`
	Organization string             `json:"organization,omitempty"`
	Status       RegistrationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
	CancelReason string             `json:"cancel_reason,omitempty"`
}

// ContactSubmission is a message sent through the contact form.
type ContactSubmission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscriber is a newsletter subscription keyed by an unsubscribe token.
type Subscriber struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Token          string     `json:"token"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

const (
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
)

// ID prefixes.
const (
	PrefixOrganization   = "org_"
	PrefixBillingAddress = "ba_"
	PrefixPurchase       = "pur_"
	PrefixAccount        = "acc_"
	PrefixTraining       = "trn_"
	PrefixRegistration   = "reg_"
	PrefixContact        = "msg_"
	PrefixSubscriber     = "sub_"
	PrefixCheckout       = "chk_"
)

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func randomCrockford(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// GenerateID returns prefix followed by 10 random Crockford base32
// characters (50 bits of entropy).
func GenerateID(prefix string) (string, error) {
	suffix, err := randomCrockford(10)
	if err != nil {
		return "", fmt.Errorf("generate %sid: %w", prefix, err)
	}
	return prefix + suffix, nil
}

// GenerateClientReference returns a payment client reference of the form
// "SF_" followed by 12 Crockford base32 characters.
func GenerateClientReference() (string, error) {
	suffix, err := randomCrockford(12)
	if err != nil {
		return "", fmt.Errorf("generate client reference: %w", err)
	}
	return "SF_" + suffix, nil
}
