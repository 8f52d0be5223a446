package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/glassboard/glassboard/console-engine/pkg/contracts"
	pkgmw "github.com/glassboard/glassboard/console-engine/pkg/middleware"
)

// APIKeyAuth validates API key authentication. It implements
// contracts.AuthProvider, so deployments replacing it slot into the
// same middleware.
//
// When enabled (GLASSBOARD_API_KEYS is set), all requests to /api/v1/*
// must include a valid API key via:
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//   - api_key query parameter (WebSocket connections)
//
// /health and /version are always public.
//
// Keys are configured as a comma-separated list: "key1,key2". A key may
// bind to a single workspace with "key:workspace"; requests made with a
// bound key operate in that workspace regardless of the X-Workspace
// header.
type APIKeyAuth struct {
	mu sync.RWMutex
	// keys maps raw key to its bound workspace ("" = unbound).
	keys    map[string]string
	enabled bool
}

// NewAPIKeyAuth creates an API key auth provider from environment config.
func NewAPIKeyAuth() *APIKeyAuth {
	auth := &APIKeyAuth{
		keys: make(map[string]string),
	}

	keysEnv := os.Getenv("GLASSBOARD_API_KEYS")
	if keysEnv == "" {
		return auth
	}

	for _, entry := range strings.Split(keysEnv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, workspace := entry, ""
		if i := strings.IndexByte(entry, ':'); i > 0 {
			key, workspace = entry[:i], entry[i+1:]
		}
		auth.keys[key] = workspace
		auth.enabled = true
	}

	return auth
}

// Name implements contracts.AuthProvider.
func (a *APIKeyAuth) Name() string { return "apikey" }

// Enabled reports whether API key auth is active.
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// AddKey adds an API key at runtime, optionally bound to a workspace.
func (a *APIKeyAuth) AddKey(key, workspace string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = workspace
	a.enabled = true
}

// RemoveKey removes an API key at runtime.
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, key)
	if len(a.keys) == 0 {
		a.enabled = false
	}
}

// Authenticate implements contracts.AuthProvider. It returns (nil, nil)
// when no credential is presented, and an error when one is presented
// but invalid.
func (a *APIKeyAuth) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	candidate := extractAPIKey(r)
	if candidate == "" {
		return nil, nil
	}

	workspace, ok := a.validateKey(candidate)
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}

	return &contracts.Identity{
		Subject:   fingerprint(candidate),
		Provider:  a.Name(),
		Workspace: workspace,
	}, nil
}

// Middleware enforces API key auth and stores the resulting Identity
// in the request context. A workspace-bound key also overrides the
// workspace the extractor resolved.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := a.Authenticate(r.Context(), r)
		if err != nil {
			respondUnauthorized(w, "Invalid API key.")
			return
		}
		if identity == nil {
			respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}

		ctx := pkgmw.SetIdentity(r.Context(), identity)
		if identity.Workspace != "" {
			ctx = pkgmw.SetWorkspace(ctx, identity.Workspace)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateKey checks candidate against every key in constant time and
// returns its bound workspace.
func (a *APIKeyAuth) validateKey(candidate string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for key, workspace := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return workspace, true
		}
	}
	return "", false
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	// Query parameter, for WebSocket clients that cannot set headers.
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}

// fingerprint derives a stable, non-reversible subject from a key so
// logs never carry the raw credential.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="glassboard"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
