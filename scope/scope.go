// Package scope carries the tenant a job belongs to through the
// context.Context handed to renderers and notifiers, so adapters that
// multiplex tenants over one connection can tag outbound calls without the
// job being threaded through every layer.
package scope

import "context"

type ctxKey struct{}

// Tenant identifies who a render is performed for.
type Tenant struct {
	TenantID    string
	RequestedBy string
}

// With attaches t to ctx. An empty TenantID returns ctx unchanged.
func With(ctx context.Context, t Tenant) context.Context {
	if t.TenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, t)
}

// From returns the tenant attached to ctx, if any.
func From(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(Tenant)
	return t, ok
}

// TenantID returns the tenant ID attached to ctx, or "".
func TenantID(ctx context.Context) string {
	t, _ := From(ctx)
	return t.TenantID
}
