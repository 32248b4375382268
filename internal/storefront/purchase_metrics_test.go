package storefront

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

func newMetricsTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createMetricsTestPurchase(t *testing.T, st *store.Store, orgID, ref string, status store.PurchaseStatus) {
	t.Helper()

	if err := st.CreatePurchase(context.Background(), &store.Purchase{
		ID:              "pur_" + ref,
		OrganizationID:  orgID,
		ClientReference: ref,
		Amount:          decimal.NewFromInt(10),
		Currency:        "GHS",
		Status:          status,
		Items:           []store.LineItem{{ProductID: "crm", Quantity: 1, Price: decimal.NewFromInt(10)}},
		PaymentProvider: "manual",
	}); err != nil {
		t.Fatalf("CreatePurchase(%s): %v", ref, err)
	}
}

func createMetricsTestOrganization(t *testing.T, st *store.Store) string {
	t.Helper()

	org := &store.Organization{ID: "org_metrics", Name: "Metrics Ltd", Email: "metrics@example.com"}
	addr := &store.BillingAddress{ID: "ba_metrics", OrganizationID: org.ID, Street: "1 Main St", City: "Accra", State: "GA", Country: "Ghana"}
	if err := st.CreateOrganizationWithAddress(context.Background(), org, addr); err != nil {
		t.Fatalf("CreateOrganizationWithAddress: %v", err)
	}
	return org.ID
}

func purchaseStatusGaugeValue(status store.PurchaseStatus) float64 {
	return testutil.ToFloat64(sfmetrics.PurchasesByStatus.WithLabelValues(string(status)))
}

func TestUpdatePurchaseStatusGauges(t *testing.T) {
	st := newMetricsTestStore(t)
	orgID := createMetricsTestOrganization(t, st)

	createMetricsTestPurchase(t, st, orgID, "SF_M1", store.PurchaseStatusPending)
	createMetricsTestPurchase(t, st, orgID, "SF_M2", store.PurchaseStatusPending)
	createMetricsTestPurchase(t, st, orgID, "SF_M3", store.PurchaseStatusCompleted)

	// Seed a stale value to verify known labels are overwritten.
	sfmetrics.PurchasesByStatus.WithLabelValues(string(store.PurchaseStatusFailed)).Set(99)

	updatePurchaseStatusGauges(context.Background(), st)

	want := map[store.PurchaseStatus]float64{
		store.PurchaseStatusPending:   2,
		store.PurchaseStatusCompleted: 1,
		store.PurchaseStatusFailed:    0,
	}
	for status, w := range want {
		if got := purchaseStatusGaugeValue(status); got != w {
			t.Fatalf("status %q gauge = %v, want %v", status, got, w)
		}
	}
}

func TestUpdatePurchaseStatusGauges_StoreErrorDoesNotMutateGauges(t *testing.T) {
	st := newMetricsTestStore(t)

	sfmetrics.PurchasesByStatus.WithLabelValues(string(store.PurchaseStatusCompleted)).Set(7)
	if err := st.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	updatePurchaseStatusGauges(context.Background(), st)

	if got := purchaseStatusGaugeValue(store.PurchaseStatusCompleted); got != 7 {
		t.Fatalf("completed gauge after error = %v, want 7", got)
	}
}

func TestRunPurchaseStatusMetrics_PrimesOnStartupBeforeExit(t *testing.T) {
	st := newMetricsTestStore(t)
	orgID := createMetricsTestOrganization(t, st)
	createMetricsTestPurchase(t, st, orgID, "SF_M9", store.PurchaseStatusFailed)

	sfmetrics.PurchasesByStatus.WithLabelValues(string(store.PurchaseStatusFailed)).Set(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runPurchaseStatusMetrics(ctx, st)

	if got := purchaseStatusGaugeValue(store.PurchaseStatusFailed); got != 1 {
		t.Fatalf("failed gauge after runPurchaseStatusMetrics = %v, want 1", got)
	}
}
