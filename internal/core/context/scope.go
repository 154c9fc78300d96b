package context

import (
	"context"

	"metarecord/internal/core/query"
)

// RequestScopes is the ambient set of named query scopes registered outside
// any model, e.g. by middleware limiting rows to the current tenant.
// It is read-only once attached to a context.
type RequestScopes struct {
	Enabled bool
	Scopes  []query.NamedScope
}

type requestScopesKey struct{}

// WithRequestScopes attaches request-level scopes. Scopes are applied in the given order.
func WithRequestScopes(ctx context.Context, enabled bool, scopes ...query.NamedScope) context.Context {
	rs := &RequestScopes{
		Enabled: enabled,
		Scopes:  append([]query.NamedScope(nil), scopes...),
	}
	return context.WithValue(ctx, requestScopesKey{}, rs)
}

// GetRequestScopes returns the request scopes or nil.
func GetRequestScopes(ctx context.Context) *RequestScopes {
	if v, ok := ctx.Value(requestScopesKey{}).(*RequestScopes); ok {
		return v
	}
	return nil
}
