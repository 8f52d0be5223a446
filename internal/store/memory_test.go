package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	// Use a temp dir so tests don't write to ~/.glassboard/
	dir := t.TempDir()
	os.Setenv("GLASSBOARD_DATA_DIR", dir)
	defer os.Unsetenv("GLASSBOARD_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Session CRUD ────────────────────────────────────────────

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &models.AuthoringSession{
		ID:        "sess-1",
		Workspace: "default",
		Scope:     "new",
		Kind:      models.DraftKindAPI,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "default", "new")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.ID != "sess-1" {
		t.Errorf("GetSession().ID = %q, want %q", got.ID, "sess-1")
	}
	if got.Kind != models.DraftKindAPI {
		t.Errorf("GetSession().Kind = %q, want %q", got.Kind, models.DraftKindAPI)
	}
}

func TestCreateSession_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.AuthoringSession{ID: "a", Workspace: "default", Scope: "dash-7", Kind: models.DraftKindUI}
	if err := s.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession() first call error = %v", err)
	}
	// Second create should overwrite (upsert behavior in memory store)
	second := &models.AuthoringSession{ID: "b", Workspace: "default", Scope: "dash-7", Kind: models.DraftKindUI}
	if err := s.CreateSession(ctx, second); err != nil {
		t.Fatalf("CreateSession() second call error = %v", err)
	}

	got, _ := s.GetSession(ctx, "default", "dash-7")
	if got.ID != "b" {
		t.Errorf("After upsert, ID = %q, want %q", got.ID, "b")
	}
}

func TestListSessionsScopedToWorkspace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, scope := range []string{"s1", "s2", "s3"} {
		s.CreateSession(ctx, &models.AuthoringSession{ID: scope, Workspace: "default", Scope: scope})
	}
	// Different workspace
	s.CreateSession(ctx, &models.AuthoringSession{ID: "x", Workspace: "other-team", Scope: "s1"})

	sessions, err := s.ListSessions(ctx, "default", 0)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("ListSessions() returned %d sessions, want 3", len(sessions))
	}
}

func TestUpdateSessionTouchesUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Hour)
	s.CreateSession(ctx, &models.AuthoringSession{
		ID: "sess-1", Workspace: "default", Scope: "new",
		CreatedAt: created, UpdatedAt: created,
	})

	updated := &models.AuthoringSession{
		ID: "sess-1", Workspace: "default", Scope: "new",
		Draft:     map[string]interface{}{"name": "Orders"},
		CreatedAt: created, UpdatedAt: created,
	}
	if err := s.UpdateSession(ctx, updated); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	got, _ := s.GetSession(ctx, "default", "new")
	if got.Draft["name"] != "Orders" {
		t.Errorf("After update, draft = %v", got.Draft)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt not advanced: %v", got.UpdatedAt)
	}
}

func TestUpdateMissingSessionFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateSession(ctx, &models.AuthoringSession{Workspace: "default", Scope: "ghost"})
	if err == nil {
		t.Fatal("UpdateSession() for missing session should return error")
	}
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Errorf("error type = %T, want *store.ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, &models.AuthoringSession{ID: "del", Workspace: "default", Scope: "del"})
	if err := s.DeleteSession(ctx, "default", "del"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	_, err := s.GetSession(ctx, "default", "del")
	if err == nil {
		t.Error("GetSession() after delete should return error, got nil")
	}
}

func TestListExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	s.CreateSession(ctx, &models.AuthoringSession{
		ID: "stale", Workspace: "default", Scope: "stale",
		UpdatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour),
	})
	s.CreateSession(ctx, &models.AuthoringSession{
		ID: "fresh", Workspace: "default", Scope: "fresh",
		UpdatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	})

	expired, err := s.ListExpiredSessions(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListExpiredSessions() error = %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("ListExpiredSessions() returned %d, want 1", len(expired))
	}
	if expired[0].ID != "stale" {
		t.Errorf("expired session = %q, want %q", expired[0].ID, "stale")
	}
}

// ─── Workspace CRUD ──────────────────────────────────────────

func TestCreateAndGetWorkspace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws := &models.Workspace{
		ID:          "ops-team",
		Name:        "Ops Team",
		Description: "The operations workspace",
	}
	if err := s.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}

	got, err := s.GetWorkspace(ctx, "ops-team")
	if err != nil {
		t.Fatalf("GetWorkspace() error = %v", err)
	}
	if got.Description != "The operations workspace" {
		t.Errorf("GetWorkspace().Description = %q, want %q", got.Description, "The operations workspace")
	}
	if got.Name != "Ops Team" {
		t.Errorf("GetWorkspace().Name = %q, want %q", got.Name, "Ops Team")
	}
}

// ─── Dashboard CRUD + versioning ─────────────────────────────

func TestDashboardCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.Dashboard{
		ID:        "dash-1",
		Workspace: "default",
		Name:      "Orders Overview",
	}
	if err := s.CreateDashboard(ctx, d); err != nil {
		t.Fatalf("CreateDashboard() error = %v", err)
	}

	got, err := s.GetDashboard(ctx, "default", "dash-1")
	if err != nil {
		t.Fatalf("GetDashboard() error = %v", err)
	}
	if got.Version != models.DefaultDashboardVersion {
		t.Errorf("initial version = %q, want %q", got.Version, models.DefaultDashboardVersion)
	}

	// The store persists whatever version the caller settled on; the
	// bump-on-update policy belongs to the API layer.
	got.Description = "revised"
	got.Version = "3"
	if err := s.UpdateDashboard(ctx, got); err != nil {
		t.Fatalf("UpdateDashboard() error = %v", err)
	}
	updated, _ := s.GetDashboard(ctx, "default", "dash-1")
	if updated.Version != "3" {
		t.Errorf("version after update = %q, want 3", updated.Version)
	}
	if updated.Description != "revised" {
		t.Errorf("description after update = %q, want revised", updated.Description)
	}

	if err := s.DeleteDashboard(ctx, "default", "dash-1"); err != nil {
		t.Fatalf("DeleteDashboard() error = %v", err)
	}
	dashboards, _ := s.ListDashboards(ctx, "default")
	if len(dashboards) != 0 {
		t.Errorf("After delete, ListDashboards() returned %d, want 0", len(dashboards))
	}
}

// ─── Close / Snapshot ───────────────────────────────────────

func TestCloseFlush(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("GLASSBOARD_DATA_DIR", dir)
	s := store.NewMemoryStore()
	os.Unsetenv("GLASSBOARD_DATA_DIR")

	ctx := context.Background()
	s.CreateSession(ctx, &models.AuthoringSession{ID: "persist-me", Workspace: "default", Scope: "new"})

	// Close should flush to disk
	s.Close()

	// Reopen and verify data survived
	os.Setenv("GLASSBOARD_DATA_DIR", dir)
	s2 := store.NewMemoryStore()
	os.Unsetenv("GLASSBOARD_DATA_DIR")
	defer s2.Close()

	got, err := s2.GetSession(ctx, "default", "new")
	if err != nil {
		t.Fatalf("After reopen, GetSession() error = %v", err)
	}
	if got.ID != "persist-me" {
		t.Errorf("After reopen, session id = %q, want %q", got.ID, "persist-me")
	}
}
