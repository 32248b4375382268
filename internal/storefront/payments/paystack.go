package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/issues"
)

const (
	defaultPaystackBaseURL  = "https://api.paystack.co"
	paystackSignatureHeader = "X-Paystack-Signature"
	maxProviderBody         = 1 << 20
)

// PaystackConfig holds hosted-checkout credentials.
type PaystackConfig struct {
	PublicKey string
	SecretKey string
	BaseURL   string
	Currency  string
}

// Paystack is the hosted-checkout rail. The payment UI runs in the buyer's
// browser; the server only hands out checkout parameters, verifies references
// and receives webhooks.
type Paystack struct {
	cfg    PaystackConfig
	client *http.Client
	issues issues.Reporter
}

// NewPaystack creates a Paystack provider.
func NewPaystack(cfg PaystackConfig, client *http.Client, reporter issues.Reporter) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPaystackBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &Paystack{cfg: cfg, client: client, issues: reporter}
}

func (p *Paystack) Name() string { return ProviderPaystack }

func (p *Paystack) Configured() bool {
	return strings.TrimSpace(p.cfg.PublicKey) != "" && strings.TrimSpace(p.cfg.SecretKey) != ""
}

// Initiate returns the inline-checkout parameters. No network call is made.
func (p *Paystack) Initiate(_ context.Context, req InitiateRequest) (*ClientHandle, error) {
	if strings.TrimSpace(p.cfg.PublicKey) == "" {
		return nil, sferrors.Configuration("paystack.initiate", "Paystack configuration is missing")
	}
	currency := req.Currency
	if currency == "" {
		currency = p.cfg.Currency
	}
	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Name != "" {
		metadata["customer_name"] = req.Name
	}

	return &ClientHandle{
		Provider:  ProviderPaystack,
		Reference: req.ClientReference,
		Status:    "ready",
		Params: map[string]any{
			"key":      p.cfg.PublicKey,
			"email":    req.Email,
			"amount":   ToMinorUnits(req.Amount),
			"currency": currency,
			"ref":      req.ClientReference,
			"channels": []string{"card", "mobile_money"},
			"metadata": metadata,
		},
	}, nil
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// CheckStatus verifies a transaction reference.
func (p *Paystack) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	const op = "paystack.status"
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, sferrors.Configuration(op, "Paystack configuration is missing")
	}

	endpoint := p.cfg.BaseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, fmt.Errorf("verify request: %w", err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.reportFailure(ctx, reference, resp.StatusCode, body)
		return &StatusResult{OK: false, Status: strconv.Itoa(resp.StatusCode), Data: rawJSON(body), ClientReference: reference}, nil
	}

	var parsed paystackVerifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, sferrors.Provider(op, resp.StatusCode, body, fmt.Errorf("decode verify response: %w", err))
	}

	return &StatusResult{
		OK:                parsed.Status,
		Status:            parsed.Data.Status,
		Data:              rawJSON(body),
		Paid:              parsed.Status && parsed.Data.Status == "success",
		ClientReference:   firstNonEmpty(parsed.Data.Reference, reference),
		ProviderReference: strconv.FormatInt(parsed.Data.ID, 10),
	}, nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
	} `json:"data"`
}

// ParseCallback validates the HMAC-SHA512 webhook signature and maps
// charge events onto a CallbackResult.
func (p *Paystack) ParseCallback(_ context.Context, header http.Header, body []byte) (*CallbackResult, error) {
	const op = "paystack.callback"
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, sferrors.Configuration(op, "Paystack configuration is missing")
	}
	if !p.validSignature(header.Get(paystackSignatureHeader), body) {
		return nil, sferrors.Validation(op, map[string][]string{"signature": {"is invalid"}})
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, sferrors.Validation(op, map[string][]string{"body": {"must be valid JSON"}})
	}

	switch ev.Event {
	case "charge.success", "charge.failed":
		return &CallbackResult{
			ClientReference:   ev.Data.Reference,
			ProviderReference: strconv.FormatInt(ev.Data.ID, 10),
			Paid:              ev.Event == "charge.success" && ev.Data.Status == "success",
			Failed:            ev.Event == "charge.failed",
			Status:            ev.Data.Status,
			Raw:               rawJSON(body),
		}, nil
	default:
		log.Debug().Str("event", ev.Event).Msg("Ignoring Paystack event")
		return &CallbackResult{Status: ev.Event, Raw: rawJSON(body)}, nil
	}
}

func (p *Paystack) validSignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.cfg.SecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (p *Paystack) reportFailure(ctx context.Context, reference string, status int, body []byte) {
	if p.issues == nil {
		return
	}
	p.issues.Report(ctx, issues.Issue{
		Type:            "provider_error",
		Category:        issues.CategoryPayment,
		Title:           "Paystack verification failed",
		Err:             fmt.Errorf("paystack verify returned status %d", status),
		Component:       "payments.paystack",
		ClientReference: reference,
		Response:        body,
	})
}
