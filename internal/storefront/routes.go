package storefront

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/storefront/internal/storefront/billing"
	"github.com/rcourtman/storefront/internal/storefront/catalog"
	"github.com/rcourtman/storefront/internal/storefront/checkout"
	"github.com/rcourtman/storefront/internal/storefront/issues"
	"github.com/rcourtman/storefront/internal/storefront/ledger"
	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/payments"
	"github.com/rcourtman/storefront/internal/storefront/provisioning"
	"github.com/rcourtman/storefront/internal/storefront/receipts"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/training"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config       *Config
	Store        *store.Store
	Issues       *issues.Sink
	Normalizer   *billing.Normalizer
	Ledger       *ledger.Writer
	Payments     *payments.Registry
	Catalog      *catalog.Client
	Provisioning *provisioning.Orchestrator
	Notifier     *notify.Dispatcher
	Checkout     *checkout.Pipeline
	Training     *training.Service
	Version      string

	PublicLimiter   *RateLimiter
	CallbackLimiter *RateLimiter
}

// NewDeps builds every component from cfg. The notifier is created but not
// started; receiptStore may be nil.
func NewDeps(cfg *Config, st *store.Store, client *http.Client, sender notify.Sender, receiptStore *receipts.Store, version string) *Deps {
	sink := issues.NewSink(st)
	normalizer := billing.NewNormalizer(st)
	writer := ledger.NewWriter(st, sink, cfg.Currency)
	cat := catalog.New(cfg.CatalogEndpoint, cfg.CatalogToken, client)

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		From:      cfg.EmailFrom,
		SiteName:  cfg.SiteName,
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	}, sender, sink)

	var receiptsPut checkout.ReceiptStore
	if receiptStore != nil {
		receiptsPut = receiptStore
	}

	return &Deps{
		Config:     cfg,
		Store:      st,
		Issues:     sink,
		Normalizer: normalizer,
		Ledger:     writer,
		Payments: payments.NewRegistry(
			payments.NewPaystack(cfg.Paystack(), client, sink),
			payments.NewHubtel(cfg.Hubtel(), client, sink),
			payments.NewStripe(cfg.Stripe(), sink),
		),
		Catalog:      cat,
		Provisioning: provisioning.NewOrchestrator(cfg.Provisioning(), cat, client, sink),
		Notifier:     dispatcher,
		Checkout:     checkout.NewPipeline(st, normalizer, writer, dispatcher, receiptsPut, sink, cfg.SiteName),
		Training:     training.NewService(st, dispatcher),
		Version:      version,

		PublicLimiter:   NewRateLimiter(defaultRateLimit, defaultRateWindow).TrustProxies(cfg.TrustedProxyHops),
		CallbackLimiter: NewRateLimiter(120, time.Minute).TrustProxies(cfg.TrustedProxyHops),
	}
}

// Handler returns the full middleware-wrapped HTTP handler.
func Handler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)

	var h http.Handler = mux
	h = withCORS(deps.Config.AllowedOrigins, h)
	h = withSecurityHeaders(h)
	h = withRecover(h)
	h = withAccessLog(h)
	h = withRequestID(h)
	return h
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return adminKeyMiddleware(deps.Config.AdminKey, next)
	}
	if deps.PublicLimiter == nil {
		deps.PublicLimiter = NewRateLimiter(defaultRateLimit, defaultRateWindow).TrustProxies(deps.Config.TrustedProxyHops)
	}
	if deps.CallbackLimiter == nil {
		deps.CallbackLimiter = NewRateLimiter(120, time.Minute).TrustProxies(deps.Config.TrustedProxyHops)
	}
	public := func(h http.HandlerFunc) http.Handler {
		return deps.PublicLimiter.Middleware(h)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(deps.Store))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("GET /metrics", metricsHandler)
	} else {
		mux.Handle("GET /metrics", adminAuth(metricsHandler))
	}

	// Checkout.
	mux.Handle("POST /purchases", public(handleCreatePurchase(deps)))
	mux.Handle("POST /purchases/confirmation-email", public(handleConfirmationEmail(deps)))

	// Payments.
	mux.Handle("POST /payments/{provider}/initiate", public(handlePaymentInitiate(deps)))
	mux.Handle("POST /payments/{provider}/status", public(handlePaymentStatus(deps)))
	mux.Handle("POST /payments/{provider}/callback", deps.CallbackLimiter.Middleware(handlePaymentCallback(deps)))

	// Training.
	mux.Handle("POST /training/register", public(handleTrainingRegister(deps)))
	mux.Handle("POST /training/cancel", public(handleTrainingCancel(deps)))
	mux.HandleFunc("GET /training/attendees", handleTrainingAttendees(deps))

	// Contact and newsletter.
	mux.Handle("POST /contact", public(handleContact(deps)))
	mux.Handle("POST /newsletter/subscribe", public(handleNewsletterSubscribe(deps)))
	mux.Handle("POST /newsletter/unsubscribe", public(handleNewsletterUnsubscribe(deps)))

	// Admin API (key-authenticated).
	mux.Handle("POST /admin/manual-purchases/create", adminAuth(handleManualPurchaseCreate(deps)))
	mux.Handle("POST /admin/manual-purchases/provision", adminAuth(handleManualPurchaseProvision(deps)))
	mux.Handle("POST /admin/manual-purchases/email", adminAuth(handleManualPurchaseEmail(deps)))
	mux.Handle("GET /admin/manual-purchases/apps", adminAuth(handleManualPurchaseApps(deps)))
	mux.Handle("GET /admin/purchases", adminAuth(handleListPurchases(deps)))
	mux.Handle("GET /admin/checkouts/{checkout_id}/steps", adminAuth(handleCheckoutSteps(deps)))
	mux.Handle("GET /admin/issues", adminAuth(handleListIssues(deps)))
	mux.Handle("POST /admin/trainings", adminAuth(handleTrainingCreate(deps)))

	log.Debug().Strs("providers", deps.Payments.Names()).Msg("Routes registered")
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReadyz(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
