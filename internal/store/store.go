// Package store provides the storage interface and implementations for
// the Glassboard console engine. Phase 1 uses in-memory maps with JSON
// snapshot persistence; a SQL-backed implementation can slot in behind
// the same interface later.
package store

import (
	"context"
	"time"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// Store is the primary storage interface for the console engine.
// Handler and service code depends on this interface, making it easy to
// swap between in-memory (tests, local dev) and database-backed
// implementations.
type Store interface {
	WorkspaceStore
	SessionStore
	DashboardStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Workspace Store ─────────────────────────────────────────

type WorkspaceStore interface {
	ListWorkspaces(ctx context.Context) ([]models.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore is the scoped draft store: one in-progress authoring
// session per workspace+scope, removed once the draft is applied or
// discarded.
type SessionStore interface {
	ListSessions(ctx context.Context, workspace string, limit int) ([]models.AuthoringSession, error)
	GetSession(ctx context.Context, workspace, scope string) (*models.AuthoringSession, error)
	CreateSession(ctx context.Context, session *models.AuthoringSession) error
	UpdateSession(ctx context.Context, session *models.AuthoringSession) error
	DeleteSession(ctx context.Context, workspace, scope string) error

	// ListExpiredSessions returns sessions whose expiry falls before
	// cutoff, across all workspaces. Used by the retention janitor.
	ListExpiredSessions(ctx context.Context, cutoff time.Time, limit int) ([]models.AuthoringSession, error)
}

// ── Dashboard Store ─────────────────────────────────────────

type DashboardStore interface {
	ListDashboards(ctx context.Context, workspace string) ([]models.Dashboard, error)
	GetDashboard(ctx context.Context, workspace, id string) (*models.Dashboard, error)
	CreateDashboard(ctx context.Context, dashboard *models.Dashboard) error
	UpdateDashboard(ctx context.Context, dashboard *models.Dashboard) error
	DeleteDashboard(ctx context.Context, workspace, id string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
