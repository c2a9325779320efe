// Package tenant supplies the resolved tenant identity consumed by the
// pipeline. Identity determination itself lives outside this service; the
// resolver only reads what upstream middleware already established.
package tenant

import (
	"context"

	"github.com/modelguard/modelguard/internal/budget"
	"github.com/modelguard/modelguard/pkg/logging"
)

// ContextResolver reads the tenant identifier from the request context and
// looks up an optional per-tenant budget override.
type ContextResolver struct {
	overrides map[string]*budget.TenantConfig
}

// NewContextResolver creates a resolver with per-tenant config overrides.
func NewContextResolver(overrides map[string]*budget.TenantConfig) *ContextResolver {
	if overrides == nil {
		overrides = make(map[string]*budget.TenantConfig)
	}
	return &ContextResolver{overrides: overrides}
}

// Resolve returns the tenant identifier from context, empty when absent,
// plus that tenant's budget override when one is registered.
func (r *ContextResolver) Resolve(ctx context.Context) (string, *budget.TenantConfig) {
	id, _ := ctx.Value(logging.TenantIDKey).(string)
	if id == "" {
		return "", nil
	}
	return id, r.overrides[id]
}

// SetOverride registers a per-tenant budget configuration.
func (r *ContextResolver) SetOverride(tenantID string, cfg *budget.TenantConfig) {
	r.overrides[tenantID] = cfg
}
