package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/httpclient"
	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/receipts"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

const (
	outboundTimeout   = 30 * time.Second
	dnsRefresh        = 5 * time.Minute
	shutdownTimeout   = 30 * time.Second
	notifyDrainBudget = 15 * time.Second
)

// Run starts the storefront HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		// Config carries the log settings; fall back to defaults to report the failure.
		logging.Init(logging.Config{Format: "auto", Level: "info", Component: "storefront"})
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "storefront",
	})
	log.Info().Str("version", version).Msg("Starting storefront")

	st, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver := httpclient.NewResolver()
	client := httpclient.New(resolver, outboundTimeout)

	receiptStore, err := receipts.NewStore(ctx, cfg.Storage(), client)
	if err != nil {
		return fmt.Errorf("init receipt storage: %w", err)
	}
	if receiptStore.Enabled() {
		log.Info().Str("bucket", cfg.StorageBucket).Msg("Receipt storage configured")
	}

	deps := NewDeps(cfg, st, client, newEmailSender(cfg, client), receiptStore, version)
	deps.Notifier.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go resolver.Run(ctx, dnsRefresh)
	go runPurchaseStatusMetrics(ctx, st)
	go runLimiterSweep(ctx, deps.PublicLimiter, deps.CallbackLimiter)

	go func() {
		log.Info().Str("addr", addr).Msg("Storefront listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, notifyDrainBudget)
	defer drainCancel()
	if err := deps.Notifier.Close(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Notification queue not fully drained")
	}

	cancel()
	log.Info().Msg("Storefront stopped")
	return nil
}

// OpenStore creates the data directory and opens the store, applying the
// schema.
func OpenStore(cfg *Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// newEmailSender picks Resend, then Postmark, then the log-only sender.
func newEmailSender(cfg *Config, client *http.Client) notify.Sender {
	switch {
	case cfg.ResendAPIKey != "":
		log.Info().Msg("Email sender configured (Resend)")
		return notify.NewResendSender(cfg.ResendAPIKey, client)
	case cfg.PostmarkServerToken != "":
		log.Info().Msg("Email sender configured (Postmark)")
		return notify.NewPostmarkSender(cfg.PostmarkServerToken, client)
	default:
		log.Info().Msg("Email sender: log-only (set RESEND_API_KEY or POSTMARK_SERVER_TOKEN to enable)")
		return notify.NewLogSender(func(to, subject string) {
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Msg("Email (log-only, no email provider configured)")
		})
	}
}
