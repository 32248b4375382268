package storefront

import (
	"net/http"
	"strconv"
	"strings"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/checkout"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

type purchaseResponse struct {
	*store.Purchase
	CheckoutID        string `json:"checkout_id"`
	TemporaryPassword string `json:"temporaryPassword,omitempty"`
}

func handleCreatePurchase(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub checkout.Submission
		if err := decodeJSON(w, r, &sub); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Checkout.Submit(r.Context(), sub)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, purchaseResponse{
			Purchase:          res.Purchase,
			CheckoutID:        res.CheckoutID,
			TemporaryPassword: res.TemporaryPassword,
		})
	}
}

type confirmationEmailRequest struct {
	PurchaseID      string `json:"purchaseId"`
	ClientReference string `json:"clientReference"`
}

// handleConfirmationEmail sends the purchase confirmation synchronously so the
// caller learns whether it went out.
func handleConfirmationEmail(deps *Deps) http.HandlerFunc {
	fail := func(w http.ResponseWriter, status int, msg string) {
		writeJSON(w, status, map[string]any{"success": false, "error": msg})
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		var req confirmationEmailRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, "Invalid payload")
			return
		}
		req.PurchaseID = strings.TrimSpace(req.PurchaseID)
		req.ClientReference = strings.TrimSpace(req.ClientReference)
		if req.PurchaseID == "" && req.ClientReference == "" {
			fail(w, http.StatusBadRequest, "purchaseId is required")
			return
		}

		var (
			purchase *store.Purchase
			err      error
		)
		if req.PurchaseID != "" {
			purchase, err = deps.Store.GetPurchase(ctx, req.PurchaseID)
		} else {
			purchase, err = deps.Store.GetPurchaseByClientReference(ctx, req.ClientReference)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load purchase for confirmation email")
			fail(w, http.StatusInternalServerError, "Failed to send confirmation email")
			return
		}
		if purchase == nil {
			fail(w, http.StatusNotFound, "Purchase not found")
			return
		}

		org, err := deps.Store.GetOrganization(ctx, purchase.OrganizationID)
		if err != nil || org == nil {
			logger.Error().Err(err).Str("organization_id", purchase.OrganizationID).Msg("Failed to load organization for confirmation email")
			fail(w, http.StatusInternalServerError, "Failed to send confirmation email")
			return
		}

		n := deps.Checkout.Confirmation(checkout.RecipientFromOrganization(org), purchase, "")
		if err := deps.Notifier.SendNow(ctx, n); err != nil {
			fail(w, http.StatusInternalServerError, "Failed to send confirmation email")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleListPurchases(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "admin.purchases"
		status := store.PurchaseStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		if status != "" && !status.Valid() {
			writeError(w, r, sferrors.Validation(op, map[string][]string{"status": {"must be one of: pending, completed, failed"}}))
			return
		}
		limit, err := queryLimit(r)
		if err != nil {
			writeError(w, r, sferrors.Validation(op, validate.Fields{"limit": {err.Error()}}))
			return
		}

		purchases, err := deps.Store.ListPurchases(r.Context(), status, limit)
		if err != nil {
			writeError(w, r, sferrors.Persistence(op, err))
			return
		}
		if purchases == nil {
			purchases = []*store.Purchase{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"purchases": purchases,
			"count":     len(purchases),
		})
	}
}

func handleCheckoutSteps(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps, err := deps.Checkout.Steps(r.Context(), r.PathValue("checkout_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(steps) == 0 {
			writeError(w, r, sferrors.NotFound("admin.checkout_steps", "Checkout not found"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
	}
}

func handleListIssues(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r)
		if err != nil {
			writeError(w, r, sferrors.Validation("admin.issues", validate.Fields{"limit": {err.Error()}}))
			return
		}
		list, err := deps.Issues.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")), limit)
		if err != nil {
			writeError(w, r, sferrors.Persistence("admin.issues", err))
			return
		}
		if list == nil {
			list = []*store.Issue{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"issues": list, "count": len(list)})
	}
}

func queryLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 1000 {
		return 0, sferrors.New("must be between 1 and 1000")
	}
	return n, nil
}
