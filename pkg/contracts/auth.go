// Package contracts — authentication boundary types.
//
// The engine ships API key authentication. Deployments that front the
// engine with their own identity layer implement AuthProvider and hand
// identities to the same middleware.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller. Produced by an
// AuthProvider, consumed by middleware and handlers. No handler knows
// which provider the identity came from.
type Identity struct {
	// Subject is the unique identifier (API key hash, user id).
	Subject string `json:"subject"`

	// Provider identifies which auth provider authenticated this
	// identity. The built-in value is "apikey".
	Provider string `json:"provider"`

	// Workspace is the tenant scope bound to the credential. Empty
	// means "use the workspace from the request header".
	Workspace string `json:"workspace,omitempty"`

	// ExpiresAt is when this identity's session expires. Zero means
	// the credential does not expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// Return semantics:
//   - (*Identity, nil) → authenticated
//   - (nil, nil)       → provider does not handle this request
//   - (nil, error)     → authentication attempted and failed, reject
type AuthProvider interface {
	// Name returns the provider identifier (e.g. "apikey").
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled reports whether this provider is configured and active.
	Enabled() bool
}
