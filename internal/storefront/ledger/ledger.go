// Package ledger writes purchase records and applies payment status
// transitions to them.
package ledger

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/issues"
	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

// Entry is one purchase to record.
type Entry struct {
	OrganizationID        string               `json:"organizationId" validate:"notblank"`
	Items                 []store.LineItem     `json:"items" validate:"min=1,dive"`
	Amount                decimal.Decimal      `json:"amount" validate:"gte=0"`
	Currency              string               `json:"currency"`
	Status                store.PurchaseStatus `json:"status" validate:"required,oneof=pending completed failed"`
	Provider              string               `json:"paymentProvider" validate:"notblank"`
	Method                string               `json:"paymentMethod"`
	ClientReference       string               `json:"clientReference"`
	ExternalTransactionID string               `json:"externalTransactionId"`
	PaymentDetails        json.RawMessage      `json:"paymentDetails"`
	Notes                 string               `json:"notes"`
}

// Total returns the sum of price x quantity over items.
func Total(items []store.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Writer records purchases.
type Writer struct {
	store    *store.Store
	issues   issues.Reporter
	currency string
}

// NewWriter creates a Writer. currency is applied to entries that omit one.
func NewWriter(s *store.Store, reporter issues.Reporter, currency string) *Writer {
	return &Writer{store: s, issues: reporter, currency: currency}
}

// Record validates e and writes one purchase row, returning the persisted
// record. Items keep their submitted order and prices. The submitted amount
// is stored as given; a disagreement with the item total is reported, not
// rejected. Reusing a client reference for the same organization returns the
// original row; reusing it for another organization is a conflict.
func (w *Writer) Record(ctx context.Context, e Entry) (*store.Purchase, error) {
	const op = "ledger.record"

	e.OrganizationID = strings.TrimSpace(e.OrganizationID)
	e.ClientReference = strings.TrimSpace(e.ClientReference)
	if fields := validate.Struct(e); fields != nil {
		return nil, sferrors.Validation(op, fields)
	}

	if e.ClientReference == "" {
		ref, err := store.GenerateClientReference()
		if err != nil {
			return nil, sferrors.Persistence(op, err)
		}
		e.ClientReference = ref
	}
	if e.Currency == "" {
		e.Currency = w.currency
	}

	if total := Total(e.Items); !total.Equal(e.Amount) {
		log.Warn().
			Str("organization_id", e.OrganizationID).
			Str("client_reference", e.ClientReference).
			Str("amount", e.Amount.String()).
			Str("items_total", total.String()).
			Msg("Purchase amount does not match line item total")
		if w.issues != nil {
			w.issues.Report(ctx, issues.Issue{
				Type:            "data_integrity",
				Severity:        issues.SeverityWarning,
				Category:        issues.CategoryAmountMismatch,
				Title:           "Purchase amount does not match line item total",
				Component:       "ledger",
				OrganizationID:  e.OrganizationID,
				ClientReference: e.ClientReference,
				Request:         map[string]string{"amount": e.Amount.String(), "itemsTotal": total.String()},
			})
		}
	}

	id, err := store.GenerateID(store.PrefixPurchase)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}

	items := make([]store.LineItem, len(e.Items))
	copy(items, e.Items)

	p := &store.Purchase{
		ID:                    id,
		OrganizationID:        e.OrganizationID,
		ClientReference:       e.ClientReference,
		Amount:                e.Amount,
		Currency:              e.Currency,
		Status:                e.Status,
		Items:                 items,
		PaymentProvider:       e.Provider,
		PaymentMethod:         e.Method,
		ExternalTransactionID: e.ExternalTransactionID,
		PaymentDetails:        e.PaymentDetails,
		Notes:                 e.Notes,
	}

	if err := w.store.CreatePurchase(ctx, p); err != nil {
		if !sferrors.Is(err, store.ErrDuplicateClientReference) {
			return nil, sferrors.Persistence(op, err)
		}
		existing, lookupErr := w.store.GetPurchaseByClientReference(ctx, e.ClientReference)
		if lookupErr != nil {
			return nil, sferrors.Persistence(op, lookupErr)
		}
		if existing == nil || existing.OrganizationID != e.OrganizationID {
			return nil, sferrors.Conflict(op, "Client reference already used")
		}
		log.Info().
			Str("purchase_id", existing.ID).
			Str("client_reference", existing.ClientReference).
			Msg("Purchase replay returned existing record")
		return existing, nil
	}

	sfmetrics.PurchasesTotal.WithLabelValues(p.PaymentProvider, string(p.Status)).Inc()
	log.Info().
		Str("purchase_id", p.ID).
		Str("organization_id", p.OrganizationID).
		Str("client_reference", p.ClientReference).
		Str("status", string(p.Status)).
		Str("provider", p.PaymentProvider).
		Msg("Purchase recorded")
	return p, nil
}

// MarkStatus moves a pending purchase to completed or failed. Terminal
// purchases are returned unchanged with changed=false.
func (w *Writer) MarkStatus(ctx context.Context, clientReference string, status store.PurchaseStatus, externalID string, details json.RawMessage) (p *store.Purchase, changed bool, err error) {
	const op = "ledger.mark_status"

	if status != store.PurchaseStatusCompleted && status != store.PurchaseStatusFailed {
		return nil, false, sferrors.Validation(op, map[string][]string{"status": {"must be one of: completed, failed"}})
	}

	existing, err := w.store.GetPurchaseByClientReference(ctx, clientReference)
	if err != nil {
		return nil, false, sferrors.Persistence(op, err)
	}
	if existing == nil {
		return nil, false, sferrors.NotFound(op, "Purchase not found")
	}
	if existing.Status != store.PurchaseStatusPending {
		return existing, false, nil
	}

	changed, err = w.store.TransitionPurchaseStatus(ctx, clientReference, store.PurchaseStatusPending, status, externalID, details)
	if err != nil {
		return nil, false, sferrors.Persistence(op, err)
	}

	updated, err := w.store.GetPurchaseByClientReference(ctx, clientReference)
	if err != nil {
		return nil, false, sferrors.Persistence(op, err)
	}
	if changed {
		log.Info().
			Str("purchase_id", updated.ID).
			Str("client_reference", clientReference).
			Str("status", string(status)).
			Msg("Purchase status updated")
	}
	return updated, changed, nil
}
