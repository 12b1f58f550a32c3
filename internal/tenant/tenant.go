// Package tenant maps opaque tenant identifiers to isolated database
// connection pools. Each tenant lives in its own PostgreSQL schema; the
// Provider opens one bounded pool per tenant on first use and reuses it
// until Shutdown.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInvalidTenantID is returned for identifiers that do not match the
	// safe pattern. The identifier selects a schema, so anything else is
	// rejected outright.
	ErrInvalidTenantID = errors.New("invalid tenant id")

	// ErrConnectionUnavailable is returned when a tenant pool cannot be
	// opened or pinged. The Provider does not retry; retry policy belongs
	// to the caller.
	ErrConnectionUnavailable = errors.New("tenant connection unavailable")
)

var validTenantID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxConnsPerTenant bounds each tenant's pool.
const maxConnsPerTenant = 10

// ValidateID reports whether id is a well-formed tenant identifier
// (letters, digits, '-' and '_' only, non-empty).
func ValidateID(id string) error {
	if !validTenantID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}

// Provider owns the per-tenant pool registry. Construct one at startup with
// NewProvider, inject it into request handling, and call Shutdown on exit.
type Provider struct {
	base *pgxpool.Config

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewProvider parses the base connection string shared by all tenants.
// The string must not pin a search_path; the Provider sets one per tenant.
func NewProvider(connString string) (*Provider, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse base connection string: %w", err)
	}
	return &Provider{base: cfg, pools: make(map[string]*pgxpool.Pool)}, nil
}

// Get returns the live pool for tenantID, opening it lazily on first use.
// A cached pool that no longer answers a ping is discarded and recreated.
func (p *Provider) Get(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	if err := ValidateID(tenantID); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pool, ok := p.pools[tenantID]; ok {
		if err := pool.Ping(ctx); err == nil {
			return pool, nil
		}
		// Stale entry (closed or dead connection); drop and recreate.
		pool.Close()
		delete(p.pools, tenantID)
	}

	cfg := p.base.Copy()
	cfg.MaxConns = maxConnsPerTenant
	cfg.ConnConfig.RuntimeParams["search_path"] = tenantID

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open pool for tenant %s: %v", ErrConnectionUnavailable, tenantID, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping tenant %s: %v", ErrConnectionUnavailable, tenantID, err)
	}

	p.pools[tenantID] = pool
	return pool, nil
}

// Shutdown closes every registered tenant pool and clears the registry.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pool := range p.pools {
		pool.Close()
		delete(p.pools, id)
	}
}
