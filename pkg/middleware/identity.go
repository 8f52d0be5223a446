package middleware

import (
	"context"

	"github.com/glassboard/glassboard/console-engine/pkg/contracts"
)

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
// Called by the auth middleware after successful authentication.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil if no identity is set (anonymous request).
//
// Lives in pkg/ so deployments that bolt on their own authorization
// can read the identity the engine's auth middleware resolved.
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}
