// Package provisioning turns purchased applications into downstream
// provisioning requests. It validates and enriches the request, then relays
// the downstream response verbatim; it never retries.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/billing"
	"github.com/rcourtman/storefront/internal/storefront/catalog"
	"github.com/rcourtman/storefront/internal/storefront/issues"
	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

const maxRelayBody = 1 << 20

// Catalog resolves application ids.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]catalog.Application, error)
}

// Config locates the downstream provisioning service.
type Config struct {
	Endpoint string
	APIKey   string
}

// Request asks for the applications keyed in Details to be provisioned.
type Request struct {
	OrganizationID string            `json:"organizationId" validate:"notblank"`
	PurchaseID     string            `json:"purchaseId"`
	Billing        billing.Details   `json:"billing" validate:"-"`
	Details        map[string]Detail `json:"provisioningDetails" validate:"min=1"`
}

// ConfirmationRequest asks the downstream service to email the buyer.
type ConfirmationRequest struct {
	OrganizationID string `json:"organizationId" validate:"notblank"`
	PurchaseID     string `json:"purchaseId" validate:"notblank"`
	Email          string `json:"email" validate:"required,email"`
}

// Relay is a downstream response passed through unchanged.
type Relay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Instruction is one per-application grant sent downstream.
type Instruction struct {
	ApplicationID       string `json:"applicationId"`
	Title               string `json:"title"`
	GrantEmail          string `json:"grantEmail"`
	UseSameEmailAsAdmin bool   `json:"useSameEmailAsAdmin"`
}

type provisionPayload struct {
	OrganizationID   string        `json:"organizationId"`
	PurchaseID       string        `json:"purchaseId,omitempty"`
	OrganizationName string        `json:"organizationName"`
	AdminEmail       string        `json:"adminEmail"`
	Applications     []Instruction `json:"applications"`
}

// Orchestrator dispatches provisioning requests.
type Orchestrator struct {
	cfg     Config
	catalog Catalog
	client  *http.Client
	issues  issues.Reporter
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, cat Catalog, client *http.Client, reporter issues.Reporter) *Orchestrator {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &Orchestrator{cfg: cfg, catalog: cat, client: client, issues: reporter}
}

// Drafts resolves appIDs against the catalog and builds one draft per
// resolved application.
func (o *Orchestrator) Drafts(ctx context.Context, appIDs []string, b billing.Details) ([]catalog.Application, map[string]Draft, error) {
	apps, err := o.catalog.GetByIDs(ctx, appIDs)
	if err != nil {
		return nil, nil, err
	}
	return apps, BuildDrafts(apps, b), nil
}

// Instructions validates req and resolves it to per-application grants.
func (o *Orchestrator) Instructions(ctx context.Context, req Request) ([]Instruction, error) {
	const op = "provisioning.instructions"

	fields := validate.Fields{}
	fields.Merge(validate.Struct(req))
	b := req.Billing.Normalized()
	if !validate.IsEmail(b.Email) {
		fields.Add("billing.email", "must be a valid email")
	}
	for k, msgs := range ValidateDetails(req.Details) {
		fields["provisioningDetails."+k] = msgs
	}
	if !fields.Empty() {
		return nil, sferrors.Validation(op, fields)
	}

	ids := make([]string, 0, len(req.Details))
	for id := range req.Details {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	apps, err := o.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	details := BuildDetails(apps, req.Details)
	out := make([]Instruction, 0, len(apps))
	for _, app := range apps {
		d := details[app.ID]
		out = append(out, Instruction{
			ApplicationID:       app.ID,
			Title:               app.Title,
			GrantEmail:          grantEmail(d, b.Email),
			UseSameEmailAsAdmin: d.UseSameEmailAsAdmin,
		})
	}
	return out, nil
}

// Provision dispatches one aggregated request for every resolved application
// and relays the downstream status and body.
func (o *Orchestrator) Provision(ctx context.Context, req Request) (*Relay, error) {
	const op = "provisioning.provision"

	instructions, err := o.Instructions(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(instructions) < len(req.Details) {
		log.Warn().
			Str("organization_id", req.OrganizationID).
			Int("requested", len(req.Details)).
			Int("resolved", len(instructions)).
			Msg("Unknown applications dropped from provisioning request")
	}

	b := req.Billing.Normalized()
	payload := provisionPayload{
		OrganizationID:   req.OrganizationID,
		PurchaseID:       req.PurchaseID,
		OrganizationName: b.OrganizationName,
		AdminEmail:       b.Email,
		Applications:     instructions,
	}

	relay, err := o.post(ctx, op, "/provision", payload)
	outcome := "relayed"
	switch {
	case err != nil:
		outcome = "transport_error"
	case relay.StatusCode >= 300:
		outcome = "downstream_error"
	}
	sfmetrics.ProvisioningRequestsTotal.WithLabelValues(outcome).Inc()

	if err != nil || relay.StatusCode >= 300 {
		o.report(ctx, "Provisioning request failed", req.OrganizationID, req.PurchaseID, payload, relay, err)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("organization_id", req.OrganizationID).
		Str("purchase_id", req.PurchaseID).
		Int("applications", len(instructions)).
		Int("status", relay.StatusCode).
		Msg("Provisioning request relayed")
	return relay, nil
}

// SendConfirmation asks the downstream service to send the purchase
// confirmation and relays its response.
func (o *Orchestrator) SendConfirmation(ctx context.Context, req ConfirmationRequest) (*Relay, error) {
	const op = "provisioning.confirmation"

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if fields := validate.Struct(req); fields != nil {
		return nil, sferrors.Validation(op, fields)
	}

	relay, err := o.post(ctx, op, "/confirmation-email", req)
	if err != nil || relay.StatusCode >= 300 {
		o.report(ctx, "Provisioning confirmation email failed", req.OrganizationID, req.PurchaseID, req, relay, err)
	}
	return relay, err
}

func (o *Orchestrator) post(ctx context.Context, op, path string, payload any) (*Relay, error) {
	if o.cfg.Endpoint == "" {
		return nil, sferrors.Configuration(op, "Provisioning service is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, fmt.Errorf("encode payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, fmt.Errorf("provisioning request: %w", err))
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return nil, sferrors.Provider(op, resp.StatusCode, nil, fmt.Errorf("read provisioning response: %w", err))
	}
	return &Relay{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

func (o *Orchestrator) report(ctx context.Context, title, orgID, purchaseID string, request any, relay *Relay, err error) {
	if o.issues == nil {
		return
	}
	issue := issues.Issue{
		Type:           "provider_error",
		Category:       issues.CategoryProvisioning,
		Title:          title,
		Err:            err,
		Component:      "provisioning",
		OrganizationID: orgID,
		PurchaseID:     purchaseID,
		Request:        request,
	}
	if relay != nil {
		issue.Response = relay.Body
		if issue.Err == nil {
			issue.Err = fmt.Errorf("downstream returned status %d", relay.StatusCode)
		}
	}
	o.issues.Report(ctx, issue)
}
