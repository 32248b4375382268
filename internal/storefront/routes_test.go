package storefront

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/payments"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

const testAdminKey = "test-admin-key"

type sentMail struct {
	to      string
	subject string
}

type testEnv struct {
	deps    *Deps
	handler http.Handler

	mu   sync.Mutex
	sent []sentMail
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &Config{
		DataDir:         dir,
		AdminKey:        testAdminKey,
		Currency:        "GHS",
		SiteName:        "Test Shop",
		PublicBaseURL:   "https://shop.example.com",
		NotifyWorkers:   1,
		NotifyQueueSize: 16,
		AllowedOrigins:  []string{"https://*.example.com"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{}
	sender := notify.NewLogSender(func(to, subject string) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.sent = append(env.sent, sentMail{to: to, subject: subject})
	})
	env.deps = NewDeps(cfg, st, http.DefaultClient, sender, nil, "test")
	env.handler = Handler(env.deps)
	return env
}

// startNotifier runs the notification workers and returns a func that drains them.
func (e *testEnv) startNotifier(t *testing.T) func() {
	t.Helper()
	e.deps.Notifier.Start(context.Background())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.deps.Notifier.Close(ctx))
	}
}

func (e *testEnv) mail() []sentMail {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sentMail(nil), e.sent...)
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, http.Header{"X-Admin-Key": {testAdminKey}})
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func billingDetails() map[string]any {
	return map[string]any{
		"organizationName": "Acme  Ltd",
		"email":            "Buyer@Example.com",
		"phone":            "+233200000000",
		"street":           "1 Main St",
		"city":             "Accra",
		"state":            "Greater Accra",
		"country":          "Ghana",
	}
}

func purchaseBody(provider string) map[string]any {
	return map[string]any{
		"billingDetails": billingDetails(),
		"items": []map[string]any{
			{"productId": "crm", "quantity": 2, "price": "50.00", "title": "CRM"},
		},
		"amount":          "100.00",
		"paymentProvider": provider,
		"paymentMethod":   "card",
	}
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAdminRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t, nil)

	paths := []string{"/admin/issues", "/admin/purchases", "/admin/manual-purchases/apps", "/metrics"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = env.do(t, http.MethodGet, path, nil, http.Header{"X-Admin-Key": {"wrong"}})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	rec := env.do(t, http.MethodGet, "/admin/issues", nil, http.Header{"Authorization": {"Bearer " + testAdminKey}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, float64(0), body["count"])
}

func TestPublicMetrics(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.PublicMetrics = true })
	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_http_request_duration_seconds")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/purchases", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreatePurchase(t *testing.T) {
	env := newTestEnv(t, nil)
	drain := env.startNotifier(t)

	rec := env.do(t, http.MethodPost, "/purchases", purchaseBody("paystack"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeMap(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.NotEmpty(t, body["organization_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "100", body["amount"])
	assert.Equal(t, "GHS", body["currency"])
	assert.Equal(t, "paystack", body["payment_provider"])
	assert.Len(t, body["temporaryPassword"], 16)
	assert.True(t, strings.HasPrefix(body["client_reference"].(string), "SF_"))
	checkoutID := body["checkout_id"].(string)
	assert.True(t, strings.HasPrefix(checkoutID, "chk_"))

	drain()
	mail := env.mail()
	require.Len(t, mail, 1)
	assert.Equal(t, "buyer@example.com", mail[0].to)

	rec = env.admin(t, http.MethodGet, "/admin/checkouts/"+checkoutID+"/steps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decodeMap(t, rec)["steps"].([]any)
	assert.Len(t, steps, 3)

	rec = env.admin(t, http.MethodGet, "/admin/purchases?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeMap(t, rec)["count"])

	rec = env.admin(t, http.MethodGet, "/admin/purchases?status=paid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePurchaseValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	body := purchaseBody("")
	body["billingDetails"].(map[string]any)["email"] = "not-an-email"
	body["items"] = []map[string]any{}

	rec := env.do(t, http.MethodPost, "/purchases", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeMap(t, rec)
	assert.Equal(t, "Invalid payload", resp["error"])
	details := resp["details"].(map[string]any)
	assert.Contains(t, details, "billingDetails.email")
	assert.Contains(t, details, "items")
	assert.Contains(t, details, "paymentProvider")

	rec = env.do(t, http.MethodPost, "/purchases", "{not json", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["details"], "body")
}

func TestCheckoutStepsUnknown(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.admin(t, http.MethodGet, "/admin/checkouts/chk_missing/steps", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Checkout not found", decodeMap(t, rec)["error"])
}

func TestConfirmationEmail(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/purchases/confirmation-email", map[string]any{"purchaseId": "pur_missing"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeMap(t, rec)["success"])

	rec = env.do(t, http.MethodPost, "/purchases/confirmation-email", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/purchases", purchaseBody("hubtel"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	purchaseID := decodeMap(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/purchases/confirmation-email", map[string]any{"purchaseId": purchaseID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeMap(t, rec)["success"])

	mail := env.mail()
	require.Len(t, mail, 1)
	assert.Equal(t, "buyer@example.com", mail[0].to)
}

func TestHubtelStatusWithoutConfiguration(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/payments/hubtel/status", map[string]any{"clientReference": "SF_ABC"}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Hubtel configuration is missing", decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/payments/hubtel/status", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/payments/unknown/status", map[string]any{"clientReference": "SF_ABC"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHubtelCallbackWithoutConfirmationLeavesPurchasePending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec := env.do(t, http.MethodPost, "/purchases", purchaseBody("hubtel"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ref := decodeMap(t, rec)["client_reference"].(string)
	forged := []byte(`{"ResponseCode":"0000","Data":{"ClientReference":"` + ref + `","TransactionId":"forged"}}`)

	// Unconfigured Hubtel cannot verify anything.
	rec = env.do(t, http.MethodPost, "/payments/hubtel/callback", forged, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var hubtelStatus atomic.Value
	hubtelStatus.Store("Unpaid")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responseCode":"0000","data":{"status":"` + hubtelStatus.Load().(string) + `","transactionId":"tx-real","clientReference":"` + r.URL.Query().Get("clientReference") + `"}}`))
	}))
	defer srv.Close()
	env.deps.Payments = payments.NewRegistry(payments.NewHubtel(payments.HubtelConfig{
		APIID:           "id",
		APIKey:          "key",
		MerchantAccount: "2020000",
		ReceiveBaseURL:  srv.URL,
		StatusBaseURL:   srv.URL,
	}, srv.Client(), nil))

	rec = env.do(t, http.MethodPost, "/payments/hubtel/callback", forged, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p, err := env.deps.Store.GetPurchaseByClientReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, store.PurchaseStatusPending, p.Status)
	assert.Empty(t, p.ExternalTransactionID)

	hubtelStatus.Store("Paid")
	rec = env.do(t, http.MethodPost, "/payments/hubtel/callback", forged, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p, err = env.deps.Store.GetPurchaseByClientReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, store.PurchaseStatusCompleted, p.Status)
	assert.Equal(t, "tx-real", p.ExternalTransactionID)
}

func TestPaymentInitiatePaystack(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.PaystackPublicKey = "pk_test"
		c.PaystackSecretKey = "sk_test"
	})

	rec := env.do(t, http.MethodPost, "/payments/paystack/initiate", map[string]any{
		"amount": "12.34",
		"email":  "Payer@Example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeMap(t, rec)
	assert.Equal(t, "paystack", body["provider"])
	assert.True(t, strings.HasPrefix(body["reference"].(string), "SF_"))
	params := body["params"].(map[string]any)
	assert.Equal(t, float64(1234), params["amount"])
	assert.Equal(t, "payer@example.com", params["email"])

	rec = env.do(t, http.MethodPost, "/payments/paystack/initiate", map[string]any{"amount": "0"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeMap(t, rec)["details"].(map[string]any)
	assert.Contains(t, details, "amount")
	assert.Contains(t, details, "email")
}

func signPaystack(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackCallbackCompletesPendingPurchase(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.PaystackSecretKey = "sk_test" })

	rec := env.do(t, http.MethodPost, "/purchases", purchaseBody("hubtel"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeMap(t, rec)
	require.Equal(t, "pending", created["status"])
	ref := created["client_reference"].(string)

	payload := []byte(`{"event":"charge.success","data":{"id":42,"status":"success","reference":"` + ref + `"}}`)
	header := http.Header{"X-Paystack-Signature": {signPaystack("sk_test", payload)}}

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/payments/paystack/callback", payload, header)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, decodeMap(t, rec)["received"])
	}

	p, err := env.deps.Store.GetPurchaseByClientReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, store.PurchaseStatusCompleted, p.Status)
	assert.Equal(t, "42", p.ExternalTransactionID)

	rec = env.do(t, http.MethodPost, "/payments/paystack/callback", payload, http.Header{"X-Paystack-Signature": {"bad"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := []byte(`{"event":"charge.success","data":{"id":7,"status":"success","reference":"SF_UNKNOWN"}}`)
	rec = env.do(t, http.MethodPost, "/payments/paystack/callback", unknown, http.Header{"X-Paystack-Signature": {signPaystack("sk_test", unknown)}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrainingCancelTwiceReleasesOneSeat(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.deps.Store.CreateTraining(ctx, &store.Training{ID: "trn_1", Title: "Payroll basics", SeatsTotal: 2}))

	rec := env.do(t, http.MethodPost, "/training/register", map[string]any{
		"trainingId": "trn_1", "name": "Ama Mensah", "email": "ama@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	regID := decodeMap(t, rec)["registration"].(map[string]any)["id"].(string)

	rec = env.do(t, http.MethodPost, "/training/cancel", map[string]any{"registrationId": regID, "reason": "Conflict"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeMap(t, rec)["alreadyCancelled"])

	rec = env.do(t, http.MethodPost, "/training/cancel", map[string]any{"registrationId": regID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeMap(t, rec)["alreadyCancelled"])

	tr, err := env.deps.Store.GetTraining(ctx, "trn_1")
	require.NoError(t, err)
	assert.Equal(t, 0, tr.SeatsTaken)

	rec = env.do(t, http.MethodPost, "/training/cancel", map[string]any{"registrationId": "reg_missing"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/training/attendees?trainingId=trn_1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeMap(t, rec)["attendees"], 1)

	rec = env.do(t, http.MethodGet, "/training/attendees", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCreatesTrainingThenPublicRegisters(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/admin/trainings", map[string]any{"title": "Payroll basics", "seatsTotal": 1}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.admin(t, http.MethodPost, "/admin/trainings", map[string]any{
		"title": "Payroll basics", "seatsTotal": 1, "startsAt": "2026-11-02T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trainingID := decodeMap(t, rec)["training"].(map[string]any)["id"].(string)
	assert.True(t, strings.HasPrefix(trainingID, "trn_"))

	rec = env.do(t, http.MethodPost, "/training/register", map[string]any{
		"trainingId": trainingID, "name": "Ama Mensah", "email": "ama@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/training/register", map[string]any{
		"trainingId": trainingID, "name": "Kofi", "email": "kofi@example.com",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.admin(t, http.MethodPost, "/admin/trainings", map[string]any{"title": "", "seatsTotal": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeMap(t, rec)["details"].(map[string]any)
	assert.Contains(t, details, "title")
	assert.Contains(t, details, "seatsTotal")
}

func TestContactStoresAndNotifies(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ContactInbox = "staff@example.com" })
	drain := env.startNotifier(t)

	rec := env.do(t, http.MethodPost, "/contact", map[string]any{
		"name": "Kofi", "email": "kofi@example.com", "subject": "Pricing", "message": "How much is CRM?",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeMap(t, rec)["message"])

	drain()
	recipients := map[string]bool{}
	for _, m := range env.mail() {
		recipients[m.to] = true
	}
	assert.True(t, recipients["kofi@example.com"])
	assert.True(t, recipients["staff@example.com"])

	rec = env.do(t, http.MethodPost, "/contact", map[string]any{"name": " ", "email": "nope"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeMap(t, rec)["details"].(map[string]any)
	assert.Contains(t, details, "name")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "message")
}

func TestNewsletterUnsubscribe(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/newsletter/unsubscribe", map[string]any{"token": "not-a-uuid"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid unsubscribe token format", decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/newsletter/unsubscribe", map[string]any{"token": "3f1c8f0e-3b7a-4a53-9d3c-6f7e1c2b9a10"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invalid unsubscribe token or already unsubscribed", decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/newsletter/subscribe", map[string]any{"email": "Reader@Example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	token := subscriberToken(t, env, "reader@example.com")
	rec = env.do(t, http.MethodPost, "/newsletter/unsubscribe", map[string]any{"token": token}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/newsletter/unsubscribe", map[string]any{"token": token}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// subscriberToken re-subscribes email to learn its token without reading the
// table directly: an active subscription is returned unchanged.
func subscriberToken(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	sub := &store.Subscriber{ID: "sub_lookup", Email: email, Token: "unused"}
	created, err := env.deps.Store.UpsertSubscriber(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, created)
	return sub.Token
}

func newCatalogAndProvisioning(t *testing.T) (catalogURL string, provisioned chan []byte, provisioningURL string) {
	t.Helper()
	cat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"applications":[{"id":"crm","title":"CRM","price":"120.00"},{"id":"pos","title":"Point of Sale","price":"80"}]}`))
	}))
	t.Cleanup(cat.Close)

	provisioned = make(chan []byte, 1)
	prov := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		provisioned <- body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"queued":true}`))
	}))
	t.Cleanup(prov.Close)
	return cat.URL, provisioned, prov.URL
}

func TestManualPurchaseCreate(t *testing.T) {
	catURL, _, _ := newCatalogAndProvisioning(t)
	env := newTestEnv(t, func(c *Config) { c.CatalogEndpoint = catURL })

	rec := env.admin(t, http.MethodPost, "/admin/manual-purchases/create", map[string]any{
		"billingDetails": billingDetails(),
		"items":          []map[string]any{{"productId": "crm", "quantity": 1}},
		"paymentMethod":  "bank_transfer",
		"notes":          "Paid by invoice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["organizationId"])
	purchase := body["purchase"].(map[string]any)
	assert.Equal(t, "manual", purchase["payment_provider"])
	assert.Equal(t, "completed", purchase["status"])
	assert.Equal(t, "120", purchase["amount"])

	drafts := body["provisioningDrafts"].(map[string]any)
	require.Contains(t, drafts, "crm")
	assert.Equal(t, "buyer@example.com", drafts["crm"].(map[string]any)["userEmail"])
	assert.Len(t, body["apps"], 1)

	rec = env.admin(t, http.MethodGet, "/admin/manual-purchases/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeMap(t, rec)["apps"], 2)
}

func TestManualPurchaseCreateWithoutCatalog(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.admin(t, http.MethodPost, "/admin/manual-purchases/create", map[string]any{
		"billingDetails": billingDetails(),
		"items":          []map[string]any{{"productId": "crm", "quantity": 3, "price": "10"}},
		"amount":         "25",
		"status":         "pending",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	purchase := decodeMap(t, rec)["purchase"].(map[string]any)
	assert.Equal(t, "25", purchase["amount"])
	assert.Equal(t, "pending", purchase["status"])

	rec = env.admin(t, http.MethodGet, "/admin/manual-purchases/apps", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Catalog configuration is missing", decodeMap(t, rec)["error"])

	rec = env.admin(t, http.MethodPost, "/admin/manual-purchases/create", map[string]any{
		"billingDetails": billingDetails(),
		"items":          []map[string]any{{"productId": "crm", "quantity": 1}},
		"amount":         "-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["details"], "amount")
}

func TestManualPurchaseProvision(t *testing.T) {
	catURL, provisioned, provURL := newCatalogAndProvisioning(t)
	env := newTestEnv(t, func(c *Config) {
		c.CatalogEndpoint = catURL
		c.ProvisioningEndpoint = provURL
	})

	rec := env.admin(t, http.MethodPost, "/admin/manual-purchases/provision", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeMap(t, rec)
	assert.Equal(t, "Invalid payload", resp["error"])
	details := resp["details"].(map[string]any)
	assert.Contains(t, details, "organizationId")
	assert.Contains(t, details, "billing.email")

	rec = env.admin(t, http.MethodPost, "/admin/manual-purchases/provision", map[string]any{
		"organizationId": "org_1",
		"purchaseId":     "pur_1",
		"billing":        billingDetails(),
		"provisioningDetails": map[string]any{
			"crm": map[string]any{"useSameEmailAsAdmin": true},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"queued":true}`, rec.Body.String())

	var sent map[string]any
	require.NoError(t, json.Unmarshal(<-provisioned, &sent))
	apps := sent["applications"].([]any)
	require.Len(t, apps, 1)
	assert.Equal(t, "buyer@example.com", apps[0].(map[string]any)["grantEmail"])
}
