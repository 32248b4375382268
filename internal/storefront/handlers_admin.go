package storefront

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/billing"
	"github.com/rcourtman/storefront/internal/storefront/catalog"
	"github.com/rcourtman/storefront/internal/storefront/ledger"
	"github.com/rcourtman/storefront/internal/storefront/provisioning"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

// ProviderManual marks purchases entered by an administrator.
const ProviderManual = "manual"

type manualPurchaseRequest struct {
	Billing         billing.Details      `json:"billingDetails"`
	IsExistingOrg   bool                 `json:"isExistingOrg"`
	Items           []store.LineItem     `json:"items" validate:"min=1,dive"`
	Amount          *decimal.Decimal     `json:"amount"`
	Currency        string               `json:"currency"`
	PaymentMethod   string               `json:"paymentMethod"`
	Status          store.PurchaseStatus `json:"status" validate:"omitempty,oneof=pending completed failed"`
	Notes           string               `json:"notes" validate:"max=2000"`
	ClientReference string               `json:"clientReference"`
}

type manualPurchaseResponse struct {
	Success            bool                          `json:"success"`
	Purchase           *store.Purchase               `json:"purchase"`
	OrganizationID     string                        `json:"organizationId"`
	ProvisioningDrafts map[string]provisioning.Draft `json:"provisioningDrafts"`
	Apps               []catalog.Application         `json:"apps"`
}

// handleManualPurchaseCreate records a purchase taken outside the payment
// gateways and returns provisioning drafts for the purchased applications.
// The catalog is resolved before anything is written.
func handleManualPurchaseCreate(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "admin.manual_purchase"
		ctx := r.Context()

		var req manualPurchaseRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.Billing = req.Billing.Normalized()
		if req.Amount != nil && req.Amount.IsNegative() {
			writeError(w, r, sferrors.Validation(op, validate.Fields{"amount": {"must be greater than or equal to 0"}}))
			return
		}
		if fields := validate.Struct(req); fields != nil {
			writeError(w, r, sferrors.Validation(op, fields))
			return
		}

		apps := []catalog.Application{}
		drafts := map[string]provisioning.Draft{}
		if deps.Catalog.Configured() {
			ids := make([]string, 0, len(req.Items))
			for _, it := range req.Items {
				ids = append(ids, it.ProductID)
			}
			var err error
			apps, drafts, err = deps.Provisioning.Drafts(ctx, ids, req.Billing)
			if err != nil {
				writeError(w, r, err)
				return
			}
			fillFromCatalog(req.Items, apps)
		}

		org, err := deps.Normalizer.Normalize(ctx, req.Billing, req.IsExistingOrg)
		if err != nil {
			writeError(w, r, err)
			return
		}

		amount := ledger.Total(req.Items)
		if req.Amount != nil {
			amount = *req.Amount
		}
		status := req.Status
		if status == "" {
			status = store.PurchaseStatusCompleted
		}
		purchase, err := deps.Ledger.Record(ctx, ledger.Entry{
			OrganizationID:  org.OrganizationID,
			Items:           req.Items,
			Amount:          amount,
			Currency:        req.Currency,
			Status:          status,
			Provider:        ProviderManual,
			Method:          strings.TrimSpace(req.PaymentMethod),
			ClientReference: strings.TrimSpace(req.ClientReference),
			Notes:           strings.TrimSpace(req.Notes),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		logging.FromContext(ctx).Info().
			Str("purchase_id", purchase.ID).
			Str("organization_id", org.OrganizationID).
			Bool("organization_created", org.Created).
			Msg("Manual purchase recorded")

		writeJSON(w, http.StatusOK, manualPurchaseResponse{
			Success:            true,
			Purchase:           purchase,
			OrganizationID:     org.OrganizationID,
			ProvisioningDrafts: drafts,
			Apps:               apps,
		})
	}
}

// fillFromCatalog applies catalog titles, and catalog prices to items
// submitted without one.
func fillFromCatalog(items []store.LineItem, apps []catalog.Application) {
	byID := make(map[string]catalog.Application, len(apps))
	for _, app := range apps {
		byID[app.ID] = app
	}
	for i := range items {
		app, ok := byID[items[i].ProductID]
		if !ok {
			continue
		}
		if items[i].Title == "" {
			items[i].Title = app.Title
		}
		if items[i].Price.IsZero() {
			items[i].Price = app.Price
		}
	}
}

func handleManualPurchaseProvision(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provisioning.Request
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := deps.Provisioning.Provision(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		relay(w, out.StatusCode, out.ContentType, out.Body)
	}
}

func handleManualPurchaseEmail(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provisioning.ConfirmationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := deps.Provisioning.SendConfirmation(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		relay(w, out.StatusCode, out.ContentType, out.Body)
	}
}

func handleManualPurchaseApps(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apps, err := deps.Catalog.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if apps == nil {
			apps = []catalog.Application{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"apps": apps})
	}
}
