package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/issues"
)

const (
	defaultHubtelReceiveURL = "https://rmp.hubtel.com"
	defaultHubtelStatusURL  = "https://api-txnstatus.hubtel.com"

	hubtelConfigMissing = "Hubtel configuration is missing"
)

// HubtelConfig holds merchant credentials for mobile-money collection.
type HubtelConfig struct {
	APIID           string
	APIKey          string
	MerchantAccount string
	CallbackURL     string
	ReceiveBaseURL  string
	StatusBaseURL   string
}

// Hubtel is the merchant-initiated mobile-money rail. The server asks the
// provider to prompt the payer's wallet and then polls for the outcome.
type Hubtel struct {
	cfg    HubtelConfig
	client *http.Client
	issues issues.Reporter
}

// NewHubtel creates a Hubtel provider.
func NewHubtel(cfg HubtelConfig, client *http.Client, reporter issues.Reporter) *Hubtel {
	if cfg.ReceiveBaseURL == "" {
		cfg.ReceiveBaseURL = defaultHubtelReceiveURL
	}
	if cfg.StatusBaseURL == "" {
		cfg.StatusBaseURL = defaultHubtelStatusURL
	}
	cfg.ReceiveBaseURL = strings.TrimRight(cfg.ReceiveBaseURL, "/")
	cfg.StatusBaseURL = strings.TrimRight(cfg.StatusBaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &Hubtel{cfg: cfg, client: client, issues: reporter}
}

func (h *Hubtel) Name() string { return ProviderHubtel }

func (h *Hubtel) Configured() bool {
	return strings.TrimSpace(h.cfg.APIID) != "" &&
		strings.TrimSpace(h.cfg.APIKey) != "" &&
		strings.TrimSpace(h.cfg.MerchantAccount) != ""
}

type hubtelReceiveRequest struct {
	CustomerName       string      `json:"CustomerName,omitempty"`
	CustomerMsisdn     string      `json:"CustomerMsisdn"`
	CustomerEmail      string      `json:"CustomerEmail,omitempty"`
	Channel            string      `json:"Channel"`
	Amount             json.Number `json:"Amount"`
	PrimaryCallbackURL string      `json:"PrimaryCallbackUrl,omitempty"`
	Description        string      `json:"Description"`
	ClientReference    string      `json:"ClientReference"`
}

type hubtelEnvelope struct {
	ResponseCode string `json:"ResponseCode"`
	Message      string `json:"Message"`
	Data         struct {
		TransactionID   string `json:"TransactionId"`
		ClientReference string `json:"ClientReference"`
		Description     string `json:"Description"`
	} `json:"Data"`
}

// Initiate asks Hubtel to prompt the payer's mobile-money wallet.
func (h *Hubtel) Initiate(ctx context.Context, req InitiateRequest) (*ClientHandle, error) {
	const op = "hubtel.initiate"
	if !h.Configured() {
		return nil, sferrors.Configuration(op, hubtelConfigMissing)
	}
	fields := map[string][]string{}
	if strings.TrimSpace(req.Phone) == "" {
		fields["phone"] = append(fields["phone"], "is required")
	}
	if strings.TrimSpace(req.Channel) == "" {
		fields["channel"] = append(fields["channel"], "is required")
	}
	if len(fields) > 0 {
		return nil, sferrors.Validation(op, fields)
	}

	description := req.Description
	if description == "" {
		description = "Purchase " + req.ClientReference
	}
	payload, err := json.Marshal(hubtelReceiveRequest{
		CustomerName:       req.Name,
		CustomerMsisdn:     req.Phone,
		CustomerEmail:      req.Email,
		Channel:            req.Channel,
		Amount:             json.Number(req.Amount.StringFixed(2)),
		PrimaryCallbackURL: h.cfg.CallbackURL,
		Description:        description,
		ClientReference:    req.ClientReference,
	})
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, err)
	}

	endpoint := fmt.Sprintf("%s/merchantaccount/merchants/%s/receive/mobilemoney",
		h.cfg.ReceiveBaseURL, url.PathEscape(h.cfg.MerchantAccount))
	status, body, err := h.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, err)
	}
	if status < 200 || status >= 300 {
		h.reportFailure(ctx, "Hubtel receive-money request failed", req.ClientReference, status, payload, body)
		return nil, sferrors.Provider(op, status, body, fmt.Errorf("hubtel receive returned status %d", status))
	}

	var env hubtelEnvelope
	_ = json.Unmarshal(body, &env)
	return &ClientHandle{
		Provider:  ProviderHubtel,
		Reference: req.ClientReference,
		Status:    "pending",
		Params: map[string]any{
			"transactionId": env.Data.TransactionID,
			"responseCode":  env.ResponseCode,
			"message":       env.Message,
		},
	}, nil
}

type hubtelStatusResponse struct {
	Message      string `json:"message"`
	ResponseCode string `json:"responseCode"`
	Data         struct {
		Status          string `json:"status"`
		TransactionID   string `json:"transactionId"`
		ClientReference string `json:"clientReference"`
	} `json:"data"`
}

// CheckStatus polls the transaction status for a client reference. Replaying
// the call is safe: it reads provider state and mutates nothing.
func (h *Hubtel) CheckStatus(ctx context.Context, clientReference string) (*StatusResult, error) {
	const op = "hubtel.status"
	if !h.Configured() {
		return nil, sferrors.Configuration(op, hubtelConfigMissing)
	}

	endpoint := fmt.Sprintf("%s/transactions/%s/status?%s",
		h.cfg.StatusBaseURL,
		url.PathEscape(h.cfg.MerchantAccount),
		url.Values{"clientReference": []string{clientReference}}.Encode())
	status, body, err := h.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, err)
	}

	if status < 200 || status >= 300 {
		h.reportFailure(ctx, "Hubtel status check failed", clientReference, status,
			map[string]string{"clientReference": clientReference}, body)
		return &StatusResult{OK: false, Status: strconv.Itoa(status), Data: rawJSON(body), ClientReference: clientReference}, nil
	}

	var parsed hubtelStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &StatusResult{OK: true, Status: strconv.Itoa(status), Data: rawJSON(body), ClientReference: clientReference}, nil
	}
	return &StatusResult{
		OK:                true,
		Status:            parsed.Data.Status,
		Data:              rawJSON(body),
		Paid:              strings.EqualFold(parsed.Data.Status, "Paid"),
		ClientReference:   firstNonEmpty(parsed.Data.ClientReference, clientReference),
		ProviderReference: parsed.Data.TransactionID,
	}, nil
}

// ParseCallback handles Hubtel's receive-money callback. The callback carries
// no signature, so its body only names the purchase: the outcome and the
// transaction id come from a status query against Hubtel.
func (h *Hubtel) ParseCallback(ctx context.Context, _ http.Header, body []byte) (*CallbackResult, error) {
	const op = "hubtel.callback"
	if !h.Configured() {
		return nil, sferrors.Configuration(op, hubtelConfigMissing)
	}
	var env hubtelEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, sferrors.Validation(op, map[string][]string{"body": {"must be valid JSON"}})
	}
	ref := strings.TrimSpace(env.Data.ClientReference)
	if ref == "" {
		return nil, sferrors.Validation(op, map[string][]string{"Data.ClientReference": {"is required"}})
	}

	verified, err := h.CheckStatus(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !verified.OK {
		return nil, sferrors.Provider(op, 0, verified.Data, fmt.Errorf("hubtel status check for %s returned %s", ref, verified.Status))
	}

	// A failure needs both sides to agree: Hubtel reports "Unpaid" while the
	// payer has not yet approved the prompt.
	failed := strings.EqualFold(verified.Status, "Failed") ||
		(env.ResponseCode != "0000" && strings.EqualFold(verified.Status, "Unpaid"))
	return &CallbackResult{
		ClientReference:   ref,
		ProviderReference: verified.ProviderReference,
		Paid:              verified.Paid,
		Failed:            !verified.Paid && failed,
		Status:            verified.Status,
		Raw:               verified.Data,
	}, nil
}

func (h *Hubtel) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(h.cfg.APIID, h.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("hubtel request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read hubtel response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (h *Hubtel) reportFailure(ctx context.Context, title, clientReference string, status int, request any, body []byte) {
	if h.issues == nil {
		return
	}
	h.issues.Report(ctx, issues.Issue{
		Type:            "provider_error",
		Category:        issues.CategoryPayment,
		Title:           title,
		Err:             fmt.Errorf("hubtel returned status %d", status),
		Component:       "payments.hubtel",
		ClientReference: clientReference,
		Request:         request,
		Response:        body,
	})
}
