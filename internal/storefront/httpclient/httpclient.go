// Package httpclient builds the outbound HTTP client shared by the payment,
// catalog, provisioning and mail integrations.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultRefreshInterval = 5 * time.Minute

// Resolver caches DNS lookups for outbound connections.
type Resolver struct {
	cache *dnscache.Resolver
}

// NewResolver creates an empty resolver cache.
func NewResolver() *Resolver {
	return &Resolver{cache: &dnscache.Resolver{}}
}

// Run refreshes the cache every interval until ctx is cancelled, dropping
// entries that were not used since the previous refresh.
func (r *Resolver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	log.Info().
		Dur("ttl", interval).
		Msg("DNS resolver cache started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.Refresh(true)
			log.Debug().Dur("ttl", interval).Msg("DNS cache refreshed")
		}
	}
}

// DialContext dials address after resolving its host through the cache.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if net.ParseIP(host) != nil {
		return dialer.DialContext(ctx, network, address)
	}

	ips, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// New returns an HTTP client whose transport dials through r.
func New(r *Resolver, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if r != nil {
		transport.DialContext = r.DialContext
	}
	transport.MaxIdleConnsPerHost = 10
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
