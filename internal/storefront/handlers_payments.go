package storefront

import (
	"io"
	"net/http"
	"strings"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/payments"
	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

func handlePaymentInitiate(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "payments.initiate"
		provider, err := deps.Payments.Get(r.PathValue("provider"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req payments.InitiateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.ClientReference = strings.TrimSpace(req.ClientReference)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.ClientReference == "" {
			ref, err := store.GenerateClientReference()
			if err != nil {
				writeError(w, r, sferrors.Persistence(op, err))
				return
			}
			req.ClientReference = ref
		}
		if req.Currency == "" {
			req.Currency = deps.Config.Currency
		}
		if fields := validate.Struct(req); fields != nil {
			writeError(w, r, sferrors.Validation(op, fields))
			return
		}

		handle, err := provider.Initiate(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, handle)
	}
}

type paymentStatusRequest struct {
	ClientReference string `json:"clientReference"`
	// Reference is the provider's own handle when it differs from the client
	// reference (Stripe checkout session id).
	Reference string `json:"reference"`
}

// handlePaymentStatus polls the provider and, when it confirms settlement,
// completes the matching pending purchase.
func handlePaymentStatus(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "payments.status"
		name := strings.ToLower(r.PathValue("provider"))
		provider, err := deps.Payments.Get(name)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req paymentStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.ClientReference = strings.TrimSpace(req.ClientReference)
		reference := firstNonBlank(req.Reference, req.ClientReference)
		if reference == "" {
			writeError(w, r, sferrors.Validation(op, validate.Fields{"clientReference": {"is required"}}))
			return
		}

		result, err := provider.CheckStatus(r.Context(), reference)
		if err != nil {
			sfmetrics.PaymentStatusChecksTotal.WithLabelValues(name, "error").Inc()
			writeError(w, r, err)
			return
		}

		outcome := "pending"
		switch {
		case !result.OK:
			outcome = "upstream_error"
		case result.Paid:
			outcome = "paid"
			markPaid(r, deps, firstNonBlank(result.ClientReference, req.ClientReference), result.ProviderReference, result.Data)
		}
		sfmetrics.PaymentStatusChecksTotal.WithLabelValues(name, outcome).Inc()

		writeJSON(w, http.StatusOK, result)
	}
}

// markPaid completes a purchase after a confirmed status check. The response
// to the caller reflects the provider, so ledger failures are only logged.
func markPaid(r *http.Request, deps *Deps, clientReference, providerReference string, details []byte) {
	logger := logging.FromContext(r.Context())
	if clientReference == "" {
		return
	}
	_, changed, err := deps.Ledger.MarkStatus(r.Context(), clientReference, store.PurchaseStatusCompleted, providerReference, details)
	switch {
	case sferrors.Is(err, sferrors.ErrNotFound):
		logger.Warn().Str("client_reference", clientReference).Msg("Paid status for unknown purchase")
	case err != nil:
		logger.Error().Err(err).Str("client_reference", clientReference).Msg("Failed to mark purchase paid")
	case changed:
		logger.Info().Str("client_reference", clientReference).Msg("Purchase marked paid from status check")
	}
}

// handlePaymentCallback accepts provider webhooks. Callbacks for unknown
// purchases are acknowledged so the provider stops retrying.
func handlePaymentCallback(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(r.PathValue("provider"))
		provider, err := deps.Payments.Get(name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger := logging.FromContext(r.Context())

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, "invalid").Inc()
			writeError(w, r, sferrors.Validation("payments.callback", validate.Fields{"body": {"is too large"}}))
			return
		}

		cb, err := provider.ParseCallback(r.Context(), r.Header, body)
		if err != nil {
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, "invalid").Inc()
			writeError(w, r, err)
			return
		}
		if cb.ClientReference == "" || (!cb.Paid && !cb.Failed) {
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, "ignored").Inc()
			writeJSON(w, http.StatusOK, map[string]any{"received": true})
			return
		}

		status := store.PurchaseStatusCompleted
		if !cb.Paid {
			status = store.PurchaseStatusFailed
		}
		_, changed, err := deps.Ledger.MarkStatus(r.Context(), cb.ClientReference, status, cb.ProviderReference, cb.Raw)
		switch {
		case sferrors.Is(err, sferrors.ErrNotFound):
			logger.Warn().Str("provider", name).Str("client_reference", cb.ClientReference).Msg("Callback for unknown purchase")
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, "unknown").Inc()
		case err != nil:
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, "error").Inc()
			writeError(w, r, err)
			return
		case changed:
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, string(status)).Inc()
		default:
			sfmetrics.PaymentCallbacksTotal.WithLabelValues(name, "duplicate").Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
