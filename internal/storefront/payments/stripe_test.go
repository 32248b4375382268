package payments

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	sferrors "github.com/rcourtman/storefront/internal/errors"
)

func TestStripeInitiateCreatesSession(t *testing.T) {
	s := NewStripe(StripeConfig{APIKey: "sk_test_123", SuccessURL: "https://shop.example.com/thanks", Currency: "GHS"}, nil)

	var captured *stripe.CheckoutSessionParams
	s.createSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1", Status: stripe.CheckoutSessionStatusOpen}, nil
	}

	handle, err := s.Initiate(context.Background(), InitiateRequest{
		ClientReference: "SF_STRIPE1",
		Amount:          decimal.RequireFromString("10.50"),
		Email:           "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", handle.RedirectURL)
	assert.Equal(t, "cs_test_1", handle.Params["sessionId"])

	require.NotNil(t, captured)
	assert.Equal(t, "SF_STRIPE1", *captured.ClientReferenceID)
	assert.Equal(t, int64(1050), *captured.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "ghs", *captured.LineItems[0].PriceData.Currency)
	assert.Equal(t, "https://shop.example.com/thanks", *captured.CancelURL)
}

func TestStripeInitiateRequiresConfig(t *testing.T) {
	s := NewStripe(StripeConfig{}, nil)
	_, err := s.Initiate(context.Background(), InitiateRequest{ClientReference: "SF_X"})
	assert.True(t, sferrors.Is(err, sferrors.ErrConfiguration))
}

func TestStripeCheckStatus(t *testing.T) {
	rep := &recordingReporter{}
	s := NewStripe(StripeConfig{APIKey: "sk_test_123", SuccessURL: "https://x"}, rep)
	s.getSession = func(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		if id == "cs_missing" {
			return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such checkout.session"}
		}
		return &stripe.CheckoutSession{
			ID:                id,
			ClientReferenceID: "SF_STRIPE2",
			Status:            stripe.CheckoutSessionStatusComplete,
			PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		}, nil
	}

	res, err := s.CheckStatus(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Paid)
	assert.Equal(t, "SF_STRIPE2", res.ClientReference)

	res, err = s.CheckStatus(context.Background(), "cs_missing")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "404", res.Status)
	assert.Equal(t, 1, rep.count())
}

func signedStripeHeader(t *testing.T, secret, payload string) (http.Header, []byte) {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)
	return header, signed.Payload
}

func TestStripeParseCallback(t *testing.T) {
	const secret = "whsec_test_secret"
	s := NewStripe(StripeConfig{APIKey: "sk", WebhookSecret: secret}, nil)

	header, body := signedStripeHeader(t, secret, `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"SF_WH1","payment_status":"paid"}}}`)
	res, err := s.ParseCallback(context.Background(), header, body)
	require.NoError(t, err)
	assert.Equal(t, "SF_WH1", res.ClientReference)
	assert.Equal(t, "cs_1", res.ProviderReference)
	assert.True(t, res.Paid)

	header, body = signedStripeHeader(t, secret, `{"id":"evt_2","object":"event","type":"checkout.session.async_payment_failed","data":{"object":{"id":"cs_2","object":"checkout.session","client_reference_id":"SF_WH2","payment_status":"unpaid"}}}`)
	res, err = s.ParseCallback(context.Background(), header, body)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.False(t, res.Paid)

	header, body = signedStripeHeader(t, "whsec_other", `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	_, err = s.ParseCallback(context.Background(), header, body)
	assert.True(t, sferrors.Is(err, sferrors.ErrValidation))

	header, body = signedStripeHeader(t, secret, `{"id":"evt_4","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	res, err = s.ParseCallback(context.Background(), header, body)
	require.NoError(t, err)
	assert.Empty(t, res.ClientReference)
}
