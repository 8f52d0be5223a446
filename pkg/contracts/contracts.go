// Package contracts defines the service interfaces at the edge of the
// Glassboard console engine.
//
// These interfaces form the boundary between the engine and external
// collaborators: storage, lifecycle notification targets, and archive
// destinations. The engine ships concrete implementations (memory
// store, webhook driver, local JSONL archiver); deployments can provide
// replacements without touching handler or service code.
package contracts

import (
	"context"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// Store is a type alias for the internal Store interface. Exposed in
// pkg/ so external wiring can reference it without importing internal/
// directly.
type Store = store.Store

// SessionStore is a type alias for the scoped draft store interface.
type SessionStore = store.SessionStore

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Lifecycle Notifications ─────────────────────────────────

// NotificationEvent is the payload delivered for draft and dashboard
// lifecycle transitions.
type NotificationEvent struct {
	// Type is the event name: draft_accepted, draft_rejected,
	// draft_applied, dashboard_reloaded.
	Type string `json:"type"`

	// Workspace scopes the event.
	Workspace string `json:"workspace"`

	// Scope is the authoring scope or dashboard id the event concerns.
	Scope string `json:"scope,omitempty"`

	// Payload carries event-specific fields (turn summary, reload
	// counter, validation notes).
	Payload map[string]interface{} `json:"payload,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// WebhookTarget names where lifecycle events are delivered.
type WebhookTarget struct {
	// URL receives the event as an HTTP POST. Empty disables delivery.
	URL string

	// Secret, when set, signs the body with HMAC-SHA256; the signature
	// travels in the X-Glassboard-Signature header.
	Secret string
}

// NotificationDriver delivers one lifecycle event to a target.
// The engine ships a webhook driver; alternate transports implement
// this interface and register with the notify service.
type NotificationDriver interface {
	// Name returns the driver identifier (e.g. "webhook").
	Name() string

	// Send delivers the event. Implementations own their retry policy.
	Send(ctx context.Context, target WebhookTarget, event NotificationEvent) error
}

// ── Session Archival ────────────────────────────────────────

// ArchiveDriver persists expired authoring sessions before the
// retention janitor purges them. The engine ships a local JSONL
// archiver; deployments can archive to object storage instead.
type ArchiveDriver interface {
	// Name returns the driver identifier (e.g. "local").
	Name() string

	// Archive writes the sessions somewhere durable and returns a
	// location string for the audit log. An error means the janitor
	// must skip the purge — archival failures never lose drafts.
	Archive(ctx context.Context, sessions []models.AuthoringSession) (location string, err error)
}
