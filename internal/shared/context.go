package shared

import "context"

// Principal is the authenticated backoffice actor attached to a request.
type Principal struct {
	Username    string
	Role        string
	Permissions []string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// ActorFromContext returns the username of the principal, or "system".
func ActorFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil && p.Username != "" {
		return p.Username
	}
	return "system"
}
