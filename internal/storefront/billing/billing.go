// Package billing validates a buyer's organization and billing address and
// resolves it to an organization record.
package billing

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

// Details is the billing block of a checkout or manual purchase.
type Details struct {
	OrganizationName string `json:"organizationName" validate:"notblank"`
	Email            string `json:"email" validate:"required,email"`
	Phone            string `json:"phone"`
	Street           string `json:"street" validate:"notblank"`
	City             string `json:"city" validate:"notblank"`
	State            string `json:"state" validate:"notblank"`
	Country          string `json:"country" validate:"notblank"`
	PostalCode       string `json:"postalCode"`
}

// Normalized returns a copy with trimmed fields, a lowercased email and
// single-spaced organization name.
func (d Details) Normalized() Details {
	return Details{
		OrganizationName: strings.Join(strings.Fields(d.OrganizationName), " "),
		Email:            strings.ToLower(strings.TrimSpace(d.Email)),
		Phone:            strings.TrimSpace(d.Phone),
		Street:           strings.TrimSpace(d.Street),
		City:             strings.TrimSpace(d.City),
		State:            strings.TrimSpace(d.State),
		Country:          strings.TrimSpace(d.Country),
		PostalCode:       strings.TrimSpace(d.PostalCode),
	}
}

// Validate returns every violation in d, or nil.
func (d Details) Validate() validate.Fields {
	return validate.Struct(d)
}

// Result identifies the organization a purchase is attached to.
type Result struct {
	OrganizationID   string `json:"organizationId"`
	Created          bool   `json:"created"`
	BillingAddressID string `json:"billingAddressId"`
}

// Normalizer resolves billing details to an organization.
type Normalizer struct {
	store *store.Store
}

// NewNormalizer creates a Normalizer backed by s.
func NewNormalizer(s *store.Store) *Normalizer {
	return &Normalizer{store: s}
}

// Normalize validates details and returns the organization they belong to.
// With isExistingOrg the organization is looked up by email and must exist;
// otherwise a new organization and default billing address are created in
// one transaction.
func (n *Normalizer) Normalize(ctx context.Context, details Details, isExistingOrg bool) (*Result, error) {
	const op = "billing.normalize"

	d := details.Normalized()
	if fields := d.Validate(); fields != nil {
		return nil, sferrors.Validation(op, fields)
	}

	existing, err := n.store.GetOrganizationByEmail(ctx, d.Email)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}

	if isExistingOrg {
		if existing == nil {
			return nil, sferrors.NotFound(op, "Organization not found")
		}
		addrID, err := n.ensureBillingAddress(ctx, existing.ID, d)
		if err != nil {
			return nil, sferrors.Persistence(op, err)
		}
		return &Result{OrganizationID: existing.ID, BillingAddressID: addrID}, nil
	}

	if existing != nil {
		return nil, sferrors.Conflict(op, "An organization with this email already exists")
	}

	orgID, err := store.GenerateID(store.PrefixOrganization)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}
	addrID, err := store.GenerateID(store.PrefixBillingAddress)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}

	org := &store.Organization{
		ID:         orgID,
		Name:       d.OrganizationName,
		Email:      d.Email,
		Phone:      d.Phone,
		Street:     d.Street,
		City:       d.City,
		State:      d.State,
		Country:    d.Country,
		PostalCode: d.PostalCode,
	}
	if err := n.store.CreateOrganizationWithAddress(ctx, org, addressFrom(addrID, d)); err != nil {
		if sferrors.Is(err, store.ErrDuplicateEmail) {
			return nil, sferrors.Conflict(op, "An organization with this email already exists")
		}
		return nil, sferrors.Persistence(op, err)
	}

	log.Info().
		Str("organization_id", orgID).
		Msg("Organization created")

	return &Result{OrganizationID: orgID, Created: true, BillingAddressID: addrID}, nil
}

func (n *Normalizer) ensureBillingAddress(ctx context.Context, orgID string, d Details) (string, error) {
	addrs, err := n.store.ListBillingAddresses(ctx, orgID)
	if err != nil {
		return "", err
	}
	if len(addrs) > 0 {
		return addrs[0].ID, nil
	}

	addrID, err := store.GenerateID(store.PrefixBillingAddress)
	if err != nil {
		return "", err
	}
	addr := addressFrom(addrID, d)
	addr.OrganizationID = orgID
	addr.IsDefault = true
	if err := n.store.CreateBillingAddress(ctx, addr); err != nil {
		return "", err
	}
	log.Info().
		Str("organization_id", orgID).
		Str("billing_address_id", addrID).
		Msg("Default billing address added to existing organization")
	return addrID, nil
}

func addressFrom(id string, d Details) *store.BillingAddress {
	return &store.BillingAddress{
		ID:         id,
		Street:     d.Street,
		City:       d.City,
		State:      d.State,
		Country:    d.Country,
		PostalCode: d.PostalCode,
	}
}
