package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/issues"
)

const stripeConfigMissing = "Stripe configuration is missing"

// StripeConfig holds hosted Checkout Session settings.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

// Stripe is the international card rail using hosted Checkout Sessions.
// Status checks take the Checkout Session id as reference.
type Stripe struct {
	cfg    StripeConfig
	issues issues.Reporter

	createSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getSession    func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripe creates a Stripe provider.
func NewStripe(cfg StripeConfig, reporter issues.Reporter) *Stripe {
	return &Stripe{
		cfg:           cfg,
		issues:        reporter,
		createSession: stripesession.New,
		getSession:    stripesession.Get,
	}
}

func (s *Stripe) Name() string { return ProviderStripe }

func (s *Stripe) Configured() bool {
	return strings.TrimSpace(s.cfg.APIKey) != "" && strings.TrimSpace(s.cfg.SuccessURL) != ""
}

// Initiate creates a Checkout Session and returns its hosted URL.
func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (*ClientHandle, error) {
	const op = "stripe.initiate"
	if !s.Configured() {
		return nil, sferrors.Configuration(op, stripeConfigMissing)
	}
	stripe.Key = strings.TrimSpace(s.cfg.APIKey)

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	description := req.Description
	if description == "" {
		description = "Purchase " + req.ClientReference
	}
	cancelURL := s.cfg.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.SuccessURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(cancelURL),
		CustomerEmail:     stripe.String(req.Email),
		ClientReferenceID: stripe.String(req.ClientReference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(currency)),
					UnitAmount: stripe.Int64(ToMinorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("client_reference", req.ClientReference)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := s.createSession(params)
	if err != nil {
		status := stripeStatusCode(err)
		s.report(ctx, "Stripe checkout session creation failed", req.ClientReference, err)
		return nil, sferrors.Provider(op, status, nil, err)
	}

	log.Info().
		Str("client_reference", req.ClientReference).
		Str("session_id", session.ID).
		Msg("Stripe checkout session created")

	return &ClientHandle{
		Provider:    ProviderStripe,
		Reference:   req.ClientReference,
		Status:      string(session.Status),
		RedirectURL: session.URL,
		Params:      map[string]any{"sessionId": session.ID},
	}, nil
}

// CheckStatus retrieves a Checkout Session by id.
func (s *Stripe) CheckStatus(ctx context.Context, sessionID string) (*StatusResult, error) {
	const op = "stripe.status"
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return nil, sferrors.Configuration(op, stripeConfigMissing)
	}
	stripe.Key = strings.TrimSpace(s.cfg.APIKey)

	session, err := s.getSession(sessionID, nil)
	if err != nil {
		status := stripeStatusCode(err)
		if status == 0 {
			return nil, sferrors.Provider(op, 0, nil, err)
		}
		s.report(ctx, "Stripe session lookup failed", sessionID, err)
		data, _ := json.Marshal(map[string]string{"error": stripeMessage(err)})
		return &StatusResult{OK: false, Status: strconv.Itoa(status), Data: data}, nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, fmt.Errorf("encode session: %w", err))
	}
	return &StatusResult{
		OK:                true,
		Status:            string(session.Status),
		Data:              data,
		Paid:              session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		ClientReference:   session.ClientReferenceID,
		ProviderReference: session.ID,
	}, nil
}

// ParseCallback verifies the Stripe-Signature header and maps Checkout
// Session events.
func (s *Stripe) ParseCallback(_ context.Context, header http.Header, body []byte) (*CallbackResult, error) {
	const op = "stripe.callback"
	if strings.TrimSpace(s.cfg.WebhookSecret) == "" {
		return nil, sferrors.Configuration(op, stripeConfigMissing)
	}
	sig := header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return nil, sferrors.Validation(op, map[string][]string{"signature": {"is required"}})
	}

	event, err := webhook.ConstructEventWithOptions(body, sig, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, sferrors.Validation(op, map[string][]string{"signature": {"is invalid"}})
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, sferrors.Validation(op, map[string][]string{"data.object": {"must be a checkout session"}})
		}
		failed := event.Type == "checkout.session.async_payment_failed" || event.Type == "checkout.session.expired"
		return &CallbackResult{
			ClientReference:   session.ClientReferenceID,
			ProviderReference: session.ID,
			Paid:              !failed && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			Failed:            failed,
			Status:            string(session.PaymentStatus),
			Raw:               event.Data.Raw,
		}, nil
	default:
		log.Debug().Str("type", string(event.Type)).Msg("Ignoring Stripe event")
		return &CallbackResult{Status: string(event.Type)}, nil
	}
}

func (s *Stripe) report(ctx context.Context, title, reference string, err error) {
	if s.issues == nil {
		return
	}
	s.issues.Report(ctx, issues.Issue{
		Type:            "provider_error",
		Category:        issues.CategoryPayment,
		Title:           title,
		Err:             err,
		Component:       "payments.stripe",
		ClientReference: reference,
	})
}

func stripeStatusCode(err error) int {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode
	}
	return 0
}

func stripeMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}
