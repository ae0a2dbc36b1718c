// Package middleware holds context plumbing shared between the HTTP
// middleware chain and the handlers.
package middleware

import (
	"context"

	"github.com/gamecloud/gateway/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
// Called by the authorize middleware after successful verification.
func SetIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil for public (unauthenticated) requests.
func GetIdentity(ctx context.Context) *auth.Identity {
	if v, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return v
	}
	return nil
}
