// Package payments adapts the supported payment rails to one Provider
// contract: initiate a payment, check its status, and parse the provider's
// asynchronous callback.
package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	sferrors "github.com/rcourtman/storefront/internal/errors"
)

// Provider names.
const (
	ProviderPaystack = "paystack"
	ProviderHubtel   = "hubtel"
	ProviderStripe   = "stripe"
)

// Provider is one payment rail.
type Provider interface {
	Name() string
	// Configured reports whether the credentials the provider needs are present.
	Configured() bool
	Initiate(ctx context.Context, req InitiateRequest) (*ClientHandle, error)
	// CheckStatus queries the provider for the payment identified by reference.
	// A non-success provider response is returned as StatusResult{OK: false}
	// rather than an error.
	CheckStatus(ctx context.Context, reference string) (*StatusResult, error)
	ParseCallback(ctx context.Context, header http.Header, body []byte) (*CallbackResult, error)
}

// InitiateRequest starts a payment. Amount is in major currency units.
type InitiateRequest struct {
	ClientReference string            `json:"clientReference" validate:"notblank"`
	Amount          decimal.Decimal   `json:"amount" validate:"gt=0"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description"`
	Email           string            `json:"email" validate:"required,email"`
	Name            string            `json:"name"`
	Phone           string            `json:"phone"`
	Channel         string            `json:"channel"`
	Metadata        map[string]string `json:"metadata"`
}

// ClientHandle is what the browser needs to continue the payment.
type ClientHandle struct {
	Provider    string         `json:"provider"`
	Reference   string         `json:"reference"`
	Status      string         `json:"status,omitempty"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// StatusResult is the unified status-check shape.
type StatusResult struct {
	OK     bool            `json:"ok"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	// Paid is true only when the provider confirms settlement.
	Paid bool `json:"-"`
	// ClientReference is the purchase the result belongs to, when the provider echoes it.
	ClientReference string `json:"-"`
	// ProviderReference is the provider's own transaction id, when known.
	ProviderReference string `json:"-"`
}

// CallbackResult is a parsed provider callback. An empty ClientReference means
// the callback does not concern a payment and can be acknowledged and ignored.
type CallbackResult struct {
	ClientReference   string
	ProviderReference string
	Paid              bool
	// Failed is true when the provider reports a definitive failure.
	Failed bool
	Status string
	Raw    json.RawMessage
}

// ToMinorUnits converts a major-unit amount to minor units (x100), rounding
// half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry of providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, sferrors.NotFound("payments.registry", "Unknown payment provider")
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rawJSON returns body as JSON, quoting it when the provider sent non-JSON text.
func rawJSON(body []byte) json.RawMessage {
	switch {
	case len(body) == 0:
		return json.RawMessage("null")
	case json.Valid(body):
		return json.RawMessage(body)
	default:
		quoted, _ := json.Marshal(string(body))
		return quoted
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
