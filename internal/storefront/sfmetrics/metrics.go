package sfmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PurchasesTotal counts purchases recorded by provider and initial status.
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "purchases_total",
		Help:      "Total purchases recorded by payment provider and status.",
	}, []string{"provider", "status"})

	// PurchasesByStatus tracks the number of purchases in each status.
	PurchasesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "storefront",
		Name:      "purchases_by_status",
		Help:      "Number of purchases by status.",
	}, []string{"status"})

	// CheckoutTotal counts checkout submissions by outcome.
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "checkout_total",
		Help:      "Total checkout submissions by outcome.",
	}, []string{"outcome"})

	// PaymentStatusChecksTotal counts provider status polls by result.
	PaymentStatusChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "payment_status_checks_total",
		Help:      "Total payment status checks by provider and result.",
	}, []string{"provider", "result"})

	// PaymentCallbacksTotal counts provider callbacks by result.
	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "payment_callbacks_total",
		Help:      "Total payment provider callbacks by provider and result.",
	}, []string{"provider", "result"})

	// ProvisioningRequestsTotal counts downstream provisioning dispatches.
	ProvisioningRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "provisioning_requests_total",
		Help:      "Total downstream provisioning requests by outcome.",
	}, []string{"outcome"})

	// NotificationsTotal counts transactional emails by template and outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "notifications_total",
		Help:      "Total notifications by template and outcome.",
	}, []string{"template", "outcome"})

	// IssuesTotal counts issues reported to the issue sink.
	IssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "issues_total",
		Help:      "Total issues reported by category and severity.",
	}, []string{"category", "severity"})

	// HTTPRequestDuration tracks request latency by route pattern and status code.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)
