package storefront

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

const purchaseStatusMetricsInterval = time.Minute

func runPurchaseStatusMetrics(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(purchaseStatusMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updatePurchaseStatusGauges(ctx, st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updatePurchaseStatusGauges(ctx, st)
		}
	}
}

func updatePurchaseStatusGauges(ctx context.Context, st *store.Store) {
	counts, err := st.CountPurchasesByStatus(context.WithoutCancel(ctx))
	if err != nil {
		log.Error().Err(err).Msg("Failed to update purchase status metrics")
		return
	}

	known := []store.PurchaseStatus{
		store.PurchaseStatusPending,
		store.PurchaseStatusCompleted,
		store.PurchaseStatusFailed,
	}
	seen := make(map[store.PurchaseStatus]struct{}, len(known))
	for _, status := range known {
		seen[status] = struct{}{}
		sfmetrics.PurchasesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	for status, c := range counts {
		if _, ok := seen[status]; ok {
			continue
		}
		sfmetrics.PurchasesByStatus.WithLabelValues(string(status)).Set(float64(c))
	}
}

// runLimiterSweep drops idle addresses from the rate limiters.
func runLimiterSweep(ctx context.Context, limiters ...*RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rl := range limiters {
				if rl != nil {
					rl.Sweep()
				}
			}
		}
	}
}
