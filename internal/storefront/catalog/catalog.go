// Package catalog reads application reference data (id, title, price) from
// the headless CMS. The storefront never writes to it.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	sferrors "github.com/rcourtman/storefront/internal/errors"
)

const maxCatalogBody = 4 << 20

// Application is a purchasable application.
type Application struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

// Client fetches applications from the CMS.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New creates a catalog client. endpoint is the CMS API base URL.
func New(endpoint, token string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:    strings.TrimSpace(token),
		http:     client,
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != ""
}

type listResponse struct {
	Applications []Application `json:"applications"`
}

// List returns every application in the catalog.
func (c *Client) List(ctx context.Context) ([]Application, error) {
	return c.fetch(ctx, "catalog.list", nil)
}

// GetByIDs fetches the applications with the given ids in one request.
// Unknown ids are dropped; the result follows the order of ids.
func (c *Client) GetByIDs(ctx context.Context, ids []string) ([]Application, error) {
	wanted := uniqueIDs(ids)
	if len(wanted) == 0 {
		return []Application{}, nil
	}
	apps, err := c.fetch(ctx, "catalog.get_by_ids", url.Values{"ids": []string{strings.Join(wanted, ",")}})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Application, len(apps))
	for _, app := range apps {
		byID[app.ID] = app
	}
	out := make([]Application, 0, len(wanted))
	for _, id := range wanted {
		if app, ok := byID[id]; ok {
			out = append(out, app)
		}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, op string, query url.Values) ([]Application, error) {
	if !c.Configured() {
		return nil, sferrors.Configuration(op, "Catalog configuration is missing")
	}

	endpoint := c.endpoint + "/applications"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, sferrors.Provider(op, 0, nil, fmt.Errorf("catalog request: %w", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBody))
	if err != nil {
		return nil, sferrors.Provider(op, resp.StatusCode, nil, fmt.Errorf("read catalog response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, sferrors.Provider(op, resp.StatusCode, body, fmt.Errorf("catalog returned status %d", resp.StatusCode))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, sferrors.Provider(op, resp.StatusCode, body, fmt.Errorf("decode catalog response: %w", err))
	}
	if parsed.Applications == nil {
		parsed.Applications = []Application{}
	}
	return parsed.Applications, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
