package storefront

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/storefront/internal/storefront/notify"
)

func TestRun_LoadConfigError(t *testing.T) {
	t.Setenv("SF_ADMIN_KEY", "")

	err := Run(context.Background(), "test-version")
	if err == nil {
		t.Fatal("Run() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "load config:") {
		t.Fatalf("Run() error = %q, want load config prefix", err)
	}
}

func TestRun_CreateDataDirError(t *testing.T) {
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "not-a-directory")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile(%q): %v", filePath, err)
	}

	t.Setenv("SF_DATA_DIR", filePath)
	t.Setenv("SF_ADMIN_KEY", "test-admin-key")

	err := Run(context.Background(), "test-version")
	if err == nil {
		t.Fatal("Run() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "create data dir:") {
		t.Fatalf("Run() error = %q, want create data dir error", err)
	}
}

func TestNewEmailSenderPrecedence(t *testing.T) {
	assert.IsType(t, &notify.ResendSender{}, newEmailSender(&Config{ResendAPIKey: "re_x", PostmarkServerToken: "pm"}, nil))
	assert.IsType(t, &notify.PostmarkSender{}, newEmailSender(&Config{PostmarkServerToken: "pm"}, nil))
	assert.IsType(t, &notify.LogSender{}, newEmailSender(&Config{}, nil))
}

func TestLogOnlySenderOmitsBodies(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	subject, html, text, err := notify.Render(notify.TemplatePurchaseConfirmation, "Shop", notify.PurchaseConfirmationData{
		OrganizationName:  "Acme",
		ClientReference:   "SF_LOGGED",
		LoginEmail:        "buyer@example.com",
		TemporaryPassword: "S3cretTempPW",
	})
	require.NoError(t, err)
	require.Contains(t, text, "S3cretTempPW")

	sender := newEmailSender(&Config{}, nil)
	require.NoError(t, sender.Send(context.Background(), notify.Message{
		To: "buyer@example.com", Subject: subject, HTML: html, Text: text,
	}))

	out := buf.String()
	assert.Contains(t, out, "SF_LOGGED")
	assert.Contains(t, out, "buyer@example.com")
	assert.NotContains(t, out, "S3cretTempPW")
}
