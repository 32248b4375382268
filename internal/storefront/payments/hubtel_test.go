package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/rcourtman/storefront/internal/errors"
)

func testHubtelConfig(base string) HubtelConfig {
	return HubtelConfig{
		APIID:           "api-id",
		APIKey:          "api-key",
		MerchantAccount: "2020000",
		CallbackURL:     "https://shop.example.com/payments/hubtel/callback",
		ReceiveBaseURL:  base,
		StatusBaseURL:   base,
	}
}

func TestHubtelMissingConfiguration(t *testing.T) {
	h := NewHubtel(HubtelConfig{APIID: "only-id"}, nil, nil)

	_, err := h.CheckStatus(context.Background(), "FMT_123")
	require.Error(t, err)
	assert.True(t, sferrors.Is(err, sferrors.ErrConfiguration))
	assert.Equal(t, "Hubtel configuration is missing", sferrors.MessageOf(err))

	_, err = h.Initiate(context.Background(), InitiateRequest{ClientReference: "FMT_123"})
	assert.True(t, sferrors.Is(err, sferrors.ErrConfiguration))
}

func TestHubtelCheckStatusPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api-id" || pass != "api-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/transactions/2020000/status" || r.URL.Query().Get("clientReference") != "SF_PAID" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"message":"Successful","responseCode":"0000","data":{"status":"Paid","transactionId":"tx-9","clientReference":"SF_PAID"}}`))
	}))
	defer srv.Close()

	h := NewHubtel(testHubtelConfig(srv.URL), srv.Client(), nil)
	res, err := h.CheckStatus(context.Background(), "SF_PAID")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Paid)
	assert.Equal(t, "Paid", res.Status)
	assert.Equal(t, "tx-9", res.ProviderReference)
	assert.Equal(t, "SF_PAID", res.ClientReference)
}

func TestHubtelCheckStatusNon2xxIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"Service unavailable"}`))
	}))
	defer srv.Close()

	rep := &recordingReporter{}
	h := NewHubtel(testHubtelConfig(srv.URL), srv.Client(), rep)

	first, err := h.CheckStatus(context.Background(), "SF_DOWN")
	require.NoError(t, err)
	second, err := h.CheckStatus(context.Background(), "SF_DOWN")
	require.NoError(t, err)

	for _, res := range []*StatusResult{first, second} {
		assert.False(t, res.OK)
		assert.Equal(t, "503", res.Status)
		assert.JSONEq(t, `{"message":"Service unavailable"}`, string(res.Data))
		assert.False(t, res.Paid)
	}
	assert.Equal(t, 2, rep.count())
	assert.Equal(t, "SF_DOWN", rep.issues[0].ClientReference)
}

func TestHubtelInitiate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/merchantaccount/merchants/2020000/receive/mobilemoney" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"ResponseCode":"0001","Message":"Transaction pending","Data":{"TransactionId":"tx-1","ClientReference":"SF_INIT"}}`))
	}))
	defer srv.Close()

	h := NewHubtel(testHubtelConfig(srv.URL), srv.Client(), nil)
	handle, err := h.Initiate(context.Background(), InitiateRequest{
		ClientReference: "SF_INIT",
		Amount:          decimal.RequireFromString("25.5"),
		Email:           "buyer@example.com",
		Phone:           "233200000000",
		Channel:         "mtn-gh",
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", handle.Status)
	assert.Equal(t, "tx-1", handle.Params["transactionId"])
	assert.Equal(t, 25.5, got["Amount"])
	assert.Equal(t, "SF_INIT", got["ClientReference"])
	assert.Equal(t, "mtn-gh", got["Channel"])

	_, err = h.Initiate(context.Background(), InitiateRequest{ClientReference: "SF_INIT"})
	assert.True(t, sferrors.Is(err, sferrors.ErrValidation))
	assert.Contains(t, sferrors.FieldsOf(err), "phone")
}

func hubtelStatusServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("clientReference")
		_, _ = w.Write([]byte(`{"message":"Successful","responseCode":"0000","data":{"status":"` + status + `","transactionId":"tx-verified","clientReference":"` + ref + `"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHubtelParseCallbackVerifiesWithStatusQuery(t *testing.T) {
	srv := hubtelStatusServer(t, "Paid")
	h := NewHubtel(testHubtelConfig(srv.URL), srv.Client(), nil)

	res, err := h.ParseCallback(context.Background(), nil, []byte(`{"ResponseCode":"0000","Message":"success","Data":{"ClientReference":"SF_OK","TransactionId":"tx-from-body"}}`))
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.False(t, res.Failed)
	assert.Equal(t, "SF_OK", res.ClientReference)
	assert.Equal(t, "tx-verified", res.ProviderReference)

	_, err = h.ParseCallback(context.Background(), nil, []byte(`not json`))
	assert.True(t, sferrors.Is(err, sferrors.ErrValidation))
}

func TestHubtelParseCallbackIgnoresUnconfirmedSuccess(t *testing.T) {
	srv := hubtelStatusServer(t, "Unpaid")
	h := NewHubtel(testHubtelConfig(srv.URL), srv.Client(), nil)

	res, err := h.ParseCallback(context.Background(), nil, []byte(`{"ResponseCode":"0000","Data":{"ClientReference":"SF_FORGED","TransactionId":"forged"}}`))
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.False(t, res.Failed)

	res, err = h.ParseCallback(context.Background(), nil, []byte(`{"ResponseCode":"2001","Message":"failed","Data":{"ClientReference":"SF_NO"}}`))
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.True(t, res.Failed)
}

func TestHubtelParseCallbackRequiresConfiguration(t *testing.T) {
	h := NewHubtel(HubtelConfig{}, nil, nil)
	_, err := h.ParseCallback(context.Background(), nil, []byte(`{"ResponseCode":"0000","Data":{"ClientReference":"SF_OK"}}`))
	assert.True(t, sferrors.Is(err, sferrors.ErrConfiguration))
}
