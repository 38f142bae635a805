package auth

import (
	"context"
	"time"
)

// Identity is the anonymous visitor authenticated by a session token.
type Identity struct {
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type contextKey string

const identityContextKey contextKey = "github.com/pv-frame/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
