package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendSenderSendsAttachments(t *testing.T) {
	var got resendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"em_1"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test", srv.Client())
	s.endpoint = srv.URL

	err := s.Send(context.Background(), Message{
		From:        "Store <noreply@example.com>",
		To:          "buyer@example.com",
		Subject:     "Receipt",
		HTML:        "<p>hi</p>",
		Text:        "hi",
		Attachments: []Attachment{{Name: "receipt.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, []string{"buyer@example.com"}, got.To)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "receipt.pdf", got.Attachments[0].Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), got.Attachments[0].Content)
}

func TestResendSenderReportsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid from address", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewResendSender("re_test", srv.Client())
	s.endpoint = srv.URL

	err := s.Send(context.Background(), Message{To: "buyer@example.com", Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 422")
	assert.Contains(t, err.Error(), "invalid from address")
}

func TestPostmarkSender(t *testing.T) {
	var token string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Postmark-Server-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewPostmarkSender("pm_token", srv.Client())
	s.endpoint = srv.URL

	require.NoError(t, s.Send(context.Background(), Message{
		From:    "noreply@example.com",
		To:      "buyer@example.com",
		Subject: "Hello",
		Text:    "hello",
	}))
	assert.Equal(t, "pm_token", token)
	assert.Equal(t, "buyer@example.com", payload["To"])
	assert.Equal(t, "Hello", payload["Subject"])
}

func TestLogSender(t *testing.T) {
	var to, subject string
	s := NewLogSender(func(gotTo, gotSubject string) {
		to, subject = gotTo, gotSubject
	})
	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "s"}))
	assert.Equal(t, "a@example.com", to)
	assert.Equal(t, "s", subject)
}
