// Package tenant resolves inbound requests to a tenant. Tenant rows are
// provisioned externally and read-only here.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/models"
)

// ErrNotFound signals an unknown or inactive tenant domain. Callers
// respond 404 company_not_found.
var ErrNotFound = errors.New("company_not_found")

// Resolver maps a request domain to a tenant, caching lookups.
type Resolver struct {
	db    *sql.DB
	cache *cache.Client
	ttl   time.Duration
}

// NewResolver creates a resolver backed by the tenants table with a
// read-through cache.
func NewResolver(db *sql.DB, cacheClient *cache.Client, ttl time.Duration) *Resolver {
	return &Resolver{db: db, cache: cacheClient, ttl: ttl}
}

// Resolve looks up the tenant for a domain header or Host value. Port
// suffixes are stripped. Suspended and cancelled tenants resolve as not
// found: the core never processes traffic for them.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*models.Tenant, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if host, _, ok := strings.Cut(domain, ":"); ok {
		domain = host
	}
	if domain == "" {
		return nil, ErrNotFound
	}

	key := cache.TenantDomainKey(domain)
	var cached models.Tenant
	if hit, err := r.cache.GetJSON(ctx, key, &cached); err != nil {
		slog.Warn("Tenant cache read failed, falling back to database",
			"domain", domain, "error", err)
	} else if hit {
		if cached.Status != models.TenantActive {
			return nil, ErrNotFound
		}
		return &cached, nil
	}

	var t models.Tenant
	err := r.db.QueryRowContext(ctx,
		`SELECT id, label, domain, status FROM tenants WHERE domain = $1`,
		domain,
	).Scan(&t.ID, &t.Label, &t.Domain, &t.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup for %q: %w", domain, err)
	}

	if err := r.cache.SetJSON(ctx, key, &t, r.ttl); err != nil {
		slog.Warn("Tenant cache write failed", "domain", domain, "error", err)
	}

	if t.Status != models.TenantActive {
		return nil, ErrNotFound
	}
	return &t, nil
}
