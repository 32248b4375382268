// Package checkout runs a checkout submission through billing, the purchase
// ledger and account creation, recording each step so a failed checkout can
// be compensated and audited.
package checkout

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/billing"
	"github.com/rcourtman/storefront/internal/storefront/issues"
	"github.com/rcourtman/storefront/internal/storefront/ledger"
	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/payments"
	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

// BcryptCost is the cost factor for temporary password hashes.
const BcryptCost = 12

// Step names written to the checkout log.
const (
	StepOrganization = "organization"
	StepPurchase     = "purchase"
	StepAccount      = "account"
)

// Submission is the body of POST /purchases.
type Submission struct {
	CheckoutID            string               `json:"checkoutId"`
	Billing               billing.Details      `json:"billingDetails"`
	IsExistingOrg         bool                 `json:"isExistingOrg"`
	Items                 []store.LineItem     `json:"items" validate:"min=1,dive"`
	Amount                decimal.Decimal      `json:"amount" validate:"gte=0"`
	Currency              string               `json:"currency"`
	Status                store.PurchaseStatus `json:"status" validate:"omitempty,oneof=pending completed failed"`
	PaymentProvider       string               `json:"paymentProvider" validate:"notblank"`
	PaymentMethod         string               `json:"paymentMethod"`
	ClientReference       string               `json:"clientReference"`
	ExternalTransactionID string               `json:"externalTransactionId"`
	PaymentDetails        json.RawMessage      `json:"paymentDetails"`
}

// Result is a completed checkout.
type Result struct {
	CheckoutID          string
	Purchase            *store.Purchase
	OrganizationID      string
	OrganizationCreated bool
	TemporaryPassword   string
}

// Notifier queues transactional emails.
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification)
}

// ReceiptStore keeps rendered receipts.
type ReceiptStore interface {
	Put(ctx context.Context, key string, pdf []byte) (string, error)
}

// Pipeline runs checkouts.
type Pipeline struct {
	store      *store.Store
	normalizer *billing.Normalizer
	ledger     *ledger.Writer
	notifier   Notifier
	receipts   ReceiptStore
	issues     issues.Reporter
	siteName   string
	hashCost   int
}

// NewPipeline wires a Pipeline. receiptStore may be nil.
func NewPipeline(s *store.Store, normalizer *billing.Normalizer, writer *ledger.Writer, notifier Notifier, receiptStore ReceiptStore, reporter issues.Reporter, siteName string) *Pipeline {
	return &Pipeline{
		store:      s,
		normalizer: normalizer,
		ledger:     writer,
		notifier:   notifier,
		receipts:   receiptStore,
		issues:     reporter,
		siteName:   siteName,
		hashCost:   BcryptCost,
	}
}

// Submit validates sub and runs every checkout step. Failures before the
// purchase is written undo a newly created organization; failures after it
// are reported and do not fail the checkout.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*Result, error) {
	const op = "checkout.submit"
	logger := logging.FromContext(ctx)

	sub.Billing = sub.Billing.Normalized()
	sub.PaymentProvider = strings.ToLower(strings.TrimSpace(sub.PaymentProvider))
	sub.ClientReference = strings.TrimSpace(sub.ClientReference)
	if fields := validate.Struct(sub); fields != nil {
		sfmetrics.CheckoutTotal.WithLabelValues("invalid").Inc()
		return nil, sferrors.Validation(op, fields)
	}
	if sub.ClientReference == "" {
		ref, err := store.GenerateClientReference()
		if err != nil {
			return nil, sferrors.Persistence(op, err)
		}
		sub.ClientReference = ref
	}
	if sub.Status == "" {
		sub.Status = defaultStatus(sub.PaymentProvider)
	}

	if strings.TrimSpace(sub.CheckoutID) == "" {
		id, err := store.GenerateID(store.PrefixCheckout)
		if err != nil {
			return nil, sferrors.Persistence(op, err)
		}
		sub.CheckoutID = id
	}

	run := &sagaRun{pipeline: p, checkoutID: strings.TrimSpace(sub.CheckoutID)}

	// Organization.
	run.begin(ctx, StepOrganization)
	org, err := p.normalizer.Normalize(ctx, sub.Billing, sub.IsExistingOrg)
	if err != nil {
		run.fail(ctx, StepOrganization, err)
		sfmetrics.CheckoutTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	run.commit(ctx, StepOrganization, org.OrganizationID)

	// Purchase.
	run.begin(ctx, StepPurchase)
	purchase, err := p.ledger.Record(ctx, ledger.Entry{
		OrganizationID:        org.OrganizationID,
		Items:                 sub.Items,
		Amount:                sub.Amount,
		Currency:              sub.Currency,
		Status:                sub.Status,
		Provider:              sub.PaymentProvider,
		Method:                sub.PaymentMethod,
		ClientReference:       sub.ClientReference,
		ExternalTransactionID: sub.ExternalTransactionID,
		PaymentDetails:        sub.PaymentDetails,
	})
	if err != nil {
		run.fail(ctx, StepPurchase, err)
		outcome := "failed"
		if org.Created {
			p.compensateOrganization(ctx, run, org.OrganizationID, sub.ClientReference, err)
			outcome = "compensated"
		}
		sfmetrics.CheckoutTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	run.commit(ctx, StepPurchase, purchase.ID)

	result := &Result{
		CheckoutID:          run.checkoutID,
		Purchase:            purchase,
		OrganizationID:      org.OrganizationID,
		OrganizationCreated: org.Created,
	}

	// Account.
	run.begin(ctx, StepAccount)
	accountID, password, err := p.ensureAccount(ctx, org.OrganizationID, sub.Billing.Email)
	if err != nil {
		run.fail(ctx, StepAccount, err)
		logger.Error().Err(err).
			Str("organization_id", org.OrganizationID).
			Str("purchase_id", purchase.ID).
			Msg("Account creation failed after purchase was recorded")
		p.issues.Report(ctx, issues.Issue{
			Category:        issues.CategoryCheckout,
			Title:           "Account creation failed after purchase",
			Err:             err,
			Component:       "checkout",
			Endpoint:        "/purchases",
			Method:          "POST",
			OrganizationID:  org.OrganizationID,
			PurchaseID:      purchase.ID,
			ClientReference: purchase.ClientReference,
		})
	} else {
		run.commit(ctx, StepAccount, accountID)
		result.TemporaryPassword = password
	}

	p.sendConfirmation(ctx, sub.Billing, purchase, result.TemporaryPassword)

	sfmetrics.CheckoutTotal.WithLabelValues("completed").Inc()
	logger.Info().
		Str("purchase_id", purchase.ID).
		Str("organization_id", org.OrganizationID).
		Str("client_reference", purchase.ClientReference).
		Str("checkout_id", run.checkoutID).
		Bool("organization_created", org.Created).
		Bool("account_created", password != "").
		Msg("Checkout completed")
	return result, nil
}

// Steps returns the recorded steps for a checkout.
func (p *Pipeline) Steps(ctx context.Context, checkoutID string) ([]*store.CheckoutStep, error) {
	steps, err := p.store.ListCheckoutSteps(ctx, checkoutID)
	if err != nil {
		return nil, sferrors.Persistence("checkout.steps", err)
	}
	return steps, nil
}

func defaultStatus(provider string) store.PurchaseStatus {
	if provider == payments.ProviderPaystack {
		return store.PurchaseStatusCompleted
	}
	return store.PurchaseStatusPending
}

// ensureAccount creates a login for email unless one exists. The plain
// password is returned only for a new account.
func (p *Pipeline) ensureAccount(ctx context.Context, organizationID, email string) (string, string, error) {
	existing, err := p.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", "", err
	}
	if existing != nil {
		return existing.ID, "", nil
	}

	password, err := temporaryPassword()
	if err != nil {
		return "", "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return "", "", err
	}
	id, err := store.GenerateID(store.PrefixAccount)
	if err != nil {
		return "", "", err
	}
	acct := &store.Account{
		ID:                id,
		OrganizationID:    organizationID,
		Email:             email,
		PasswordHash:      string(hash),
		MustResetPassword: true,
	}
	if err := p.store.CreateAccount(ctx, acct); err != nil {
		if sferrors.Is(err, store.ErrDuplicateEmail) {
			// Created concurrently by another checkout for the same email.
			if again, lookupErr := p.store.GetAccountByEmail(ctx, email); lookupErr == nil && again != nil {
				return again.ID, "", nil
			}
		}
		return "", "", err
	}
	return id, password, nil
}

var passwordEncoding = base32.NewEncoding("ABCDEFGHJKMNPQRSTVWXYZabcdefghjk").WithPadding(base32.NoPadding)

func temporaryPassword() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return passwordEncoding.EncodeToString(b), nil
}

func (p *Pipeline) compensateOrganization(ctx context.Context, run *sagaRun, organizationID, clientReference string, cause error) {
	logger := logging.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	if err := p.store.DeleteOrganization(ctx, organizationID); err != nil {
		logger.Error().Err(err).
			Str("organization_id", organizationID).
			Msg("Failed to remove organization after checkout failure")
		p.issues.Report(ctx, issues.Issue{
			Severity:        issues.SeverityCritical,
			Category:        issues.CategoryCheckout,
			Title:           "Checkout compensation failed; organization left orphaned",
			Err:             err,
			Component:       "checkout",
			OrganizationID:  organizationID,
			ClientReference: clientReference,
		})
		return
	}

	run.record(ctx, StepOrganization, store.StepCompensated, organizationID, cause)
	logger.Warn().
		Str("organization_id", organizationID).
		Str("checkout_id", run.checkoutID).
		Msg("Organization removed after checkout failure")
	p.issues.Report(ctx, issues.Issue{
		Severity:        issues.SeverityWarning,
		Category:        issues.CategoryCheckout,
		Title:           "Checkout failed after organization was created; organization removed",
		Err:             cause,
		Component:       "checkout",
		Endpoint:        "/purchases",
		Method:          "POST",
		OrganizationID:  organizationID,
		ClientReference: clientReference,
	})
}
