package billing

import (
	"context"
	"testing"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

func newTestNormalizer(t *testing.T) (*Normalizer, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewNormalizer(s), s
}

func validDetails(email string) Details {
	return Details{
		OrganizationName: "  Acme   Ltd ",
		Email:            email,
		Street:           "1 Ring Road",
		City:             "Accra",
		State:            "Greater Accra",
		Country:          "GH",
	}
}

func TestNormalizeCreatesOrganization(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()

	a, err := n.Normalize(ctx, validDetails("A@Example.com "), false)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !a.Created || a.OrganizationID == "" || a.BillingAddressID == "" {
		t.Fatalf("unexpected result %+v", a)
	}

	b, err := n.Normalize(ctx, validDetails("b@example.com"), false)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.OrganizationID == b.OrganizationID {
		t.Fatal("distinct emails must yield distinct organization ids")
	}

	org, err := s.GetOrganizationByEmail(ctx, "a@example.com")
	if err != nil || org == nil {
		t.Fatalf("lookup by lowercased email = %v, %v", org, err)
	}
	if org.Name != "Acme Ltd" {
		t.Fatalf("name not normalized: %q", org.Name)
	}
}

func TestNormalizeExistingOrganizationNotFoundWritesNothing(t *testing.T) {
	n, s := newTestNormalizer(t)
	ctx := context.Background()

	_, err := n.Normalize(ctx, validDetails("ghost@example.com"), true)
	if !sferrors.Is(err, sferrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if count, _ := s.CountOrganizations(ctx); count != 0 {
		t.Fatalf("expected no organizations, got %d", count)
	}
}

func TestNormalizeExistingOrganizationAttaches(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()

	created, err := n.Normalize(ctx, validDetails("repeat@example.com"), false)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	again, err := n.Normalize(ctx, validDetails("repeat@example.com"), true)
	if err != nil {
		t.Fatalf("Normalize existing: %v", err)
	}
	if again.Created || again.OrganizationID != created.OrganizationID || again.BillingAddressID != created.BillingAddressID {
		t.Fatalf("expected existing organization, got %+v", again)
	}
}

func TestNormalizeNewWithTakenEmailConflicts(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()

	if _, err := n.Normalize(ctx, validDetails("taken@example.com"), false); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	_, err := n.Normalize(ctx, validDetails("taken@example.com"), false)
	if !sferrors.Is(err, sferrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestNormalizeReportsEveryInvalidField(t *testing.T) {
	n, s := newTestNormalizer(t)

	_, err := n.Normalize(context.Background(), Details{Email: "nope", PostalCode: ""}, false)
	if !sferrors.Is(err, sferrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	fields := sferrors.FieldsOf(err)
	for _, f := range []string{"organizationName", "email", "street", "city", "state", "country"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("missing violation for %s (have %v)", f, fields)
		}
	}
	for _, f := range []string{"phone", "postalCode"} {
		if _, ok := fields[f]; ok {
			t.Errorf("%s is optional but was reported", f)
		}
	}
	if count, _ := s.CountOrganizations(context.Background()); count != 0 {
		t.Fatalf("validation failure must not write, got %d organizations", count)
	}
}
