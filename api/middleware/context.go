package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// WithPrincipal stores the authenticated caller on the context.
func WithPrincipal(ctx context.Context, principal auth.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, principal)
}

// PrincipalFromContext returns the caller set by Auth, or the zero Principal
// which every guard rejects as unauthenticated.
func PrincipalFromContext(ctx context.Context) auth.Principal {
	if ctx == nil {
		return auth.Principal{}
	}
	if p, ok := ctx.Value(ctxPrincipal).(auth.Principal); ok {
		return p
	}
	return auth.Principal{}
}

func UserIDFromContext(ctx context.Context) string {
	p := PrincipalFromContext(ctx)
	if p.UserID == uuid.Nil {
		return ""
	}
	return p.UserID.String()
}
