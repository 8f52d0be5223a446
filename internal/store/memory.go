// Package store — in-memory Store implementation.
// Used for local dev and tests. Supports file-based snapshot
// persistence so sessions and dashboards survive restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Workspaces map[string]*models.Workspace        `json:"workspaces"`
	Sessions   map[string]*models.AuthoringSession `json:"sessions"`   // key: workspace:scope
	Dashboards map[string]*models.Dashboard        `json:"dashboards"` // key: workspace:id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]*models.Workspace        // key: id
	sessions   map[string]*models.AuthoringSession // key: workspace:scope
	dashboards map[string]*models.Dashboard        // key: workspace:id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop

	// Session TTL — sessions past their expiry are evicted automatically.
	// Fallback for sessions created without an explicit ExpiresAt.
	// Set via GLASSBOARD_SESSION_TTL env var (Go duration string).
	sessionTTL time.Duration
}

// NewMemoryStore creates a new in-memory store.
// If GLASSBOARD_DATA_DIR is set, data is persisted to a JSON file in
// that directory. Otherwise defaults to ~/.glassboard/data.json.
func NewMemoryStore() *MemoryStore {
	sessionTTL := 24 * time.Hour
	if ttlStr := os.Getenv("GLASSBOARD_SESSION_TTL"); ttlStr != "" {
		if parsed, err := time.ParseDuration(ttlStr); err == nil {
			sessionTTL = parsed
		} else {
			log.Warn().Str("value", ttlStr).Msg("Invalid GLASSBOARD_SESSION_TTL, using default 24h")
		}
	}

	m := &MemoryStore{
		workspaces: make(map[string]*models.Workspace),
		sessions:   make(map[string]*models.AuthoringSession),
		dashboards: make(map[string]*models.Dashboard),
		saveCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
		sessionTTL: sessionTTL,
	}

	// Determine snapshot path
	dataDir := os.Getenv("GLASSBOARD_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".glassboard")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
	}

	// Start background save goroutine (debounced)
	if m.snapshotPath != "" {
		go m.saveLoop()
	}

	// Start session expiry eviction goroutine (runs every 10 minutes)
	go m.sessionEvictionLoop()

	log.Info().
		Str("session_ttl", sessionTTL.String()).
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// sessionEvictionLoop periodically removes sessions past their expiry.
func (m *MemoryStore) sessionEvictionLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.evictExpiredSessions()
		}
	}
}

// sessionExpiry resolves when a session expires: its own ExpiresAt if
// set, else last activity plus the store-wide TTL.
func (m *MemoryStore) sessionExpiry(s *models.AuthoringSession) time.Time {
	if !s.ExpiresAt.IsZero() {
		return s.ExpiresAt
	}
	return s.UpdatedAt.Add(m.sessionTTL)
}

// evictExpiredSessions removes sessions whose expiry has passed.
func (m *MemoryStore) evictExpiredSessions() {
	now := time.Now()

	m.mu.Lock()
	var evicted int
	for k, s := range m.sessions {
		if m.sessionExpiry(s).Before(now) {
			delete(m.sessions, k)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Str("ttl", m.sessionTTL.String()).Msg("Evicted expired authoring sessions")
		m.requestSave()
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Workspaces: m.workspaces,
		Sessions:   m.sessions,
		Dashboards: m.dashboards,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Workspaces != nil {
		m.workspaces = snap.Workspaces
	}
	if snap.Sessions != nil {
		m.sessions = snap.Sessions
	}
	if snap.Dashboards != nil {
		m.dashboards = snap.Dashboards
	}

	// Dashboards persisted before versioning gained a version string.
	migrated := 0
	for _, d := range m.dashboards {
		if d.Version == "" {
			d.Version = models.DefaultDashboardVersion
			migrated++
		}
	}
	if migrated > 0 {
		log.Info().Int("dashboards", migrated).Msg("Assigned default versions to legacy dashboards")
	}

	log.Info().
		Int("workspaces", len(m.workspaces)).
		Int("sessions", len(m.sessions)).
		Int("dashboards", len(m.dashboards)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		// Already closed
		return nil
	default:
		close(m.doneCh)
	}

	// Force a final snapshot write so no in-flight data is lost
	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// ── Workspace Store ─────────────────────────────────────────

func (m *MemoryStore) ListWorkspaces(_ context.Context) ([]models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Workspace
	for _, ws := range m.workspaces {
		result = append(result, *ws)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) GetWorkspace(_ context.Context, id string) (*models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "workspace", Key: id}
	}
	copy := *ws
	return &copy, nil
}

func (m *MemoryStore) CreateWorkspace(_ context.Context, ws *models.Workspace) error {
	m.mu.Lock()
	copy := *ws
	m.workspaces[ws.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Session Store ───────────────────────────────────────────

func (m *MemoryStore) ListSessions(_ context.Context, workspace string, limit int) ([]models.AuthoringSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AuthoringSession
	for _, s := range m.sessions {
		if s.Workspace == workspace || workspace == "" {
			result = append(result, *s)
		}
	}
	// Newest activity first, deterministic for handlers and tests.
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetSession(_ context.Context, workspace, scope string) (*models.AuthoringSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key(workspace, scope)]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: scope}
	}
	copy := *s
	return &copy, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.AuthoringSession) error {
	m.mu.Lock()
	copy := *session
	m.sessions[key(session.Workspace, session.Scope)] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.AuthoringSession) error {
	m.mu.Lock()
	k := key(session.Workspace, session.Scope)
	if _, ok := m.sessions[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "session", Key: session.Scope}
	}
	copy := *session
	copy.UpdatedAt = time.Now().UTC()
	m.sessions[k] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, workspace, scope string) error {
	m.mu.Lock()
	k := key(workspace, scope)
	if _, ok := m.sessions[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "session", Key: scope}
	}
	delete(m.sessions, k)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListExpiredSessions(_ context.Context, cutoff time.Time, limit int) ([]models.AuthoringSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AuthoringSession
	for _, s := range m.sessions {
		if m.sessionExpiry(s).Before(cutoff) {
			result = append(result, *s)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// ── Dashboard Store ─────────────────────────────────────────

func (m *MemoryStore) ListDashboards(_ context.Context, workspace string) ([]models.Dashboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Dashboard
	for _, d := range m.dashboards {
		if d.Workspace == workspace || workspace == "" {
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemoryStore) GetDashboard(_ context.Context, workspace, id string) (*models.Dashboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dashboards[key(workspace, id)]
	if !ok {
		return nil, &ErrNotFound{Entity: "dashboard", Key: id}
	}
	copy := *d
	return &copy, nil
}

func (m *MemoryStore) CreateDashboard(_ context.Context, dashboard *models.Dashboard) error {
	m.mu.Lock()
	copy := *dashboard
	if copy.Version == "" {
		copy.Version = models.DefaultDashboardVersion
	}
	m.dashboards[key(dashboard.Workspace, dashboard.ID)] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateDashboard(_ context.Context, dashboard *models.Dashboard) error {
	m.mu.Lock()
	k := key(dashboard.Workspace, dashboard.ID)
	if _, ok := m.dashboards[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "dashboard", Key: dashboard.ID}
	}
	// Version policy lives with the callers (handlers bump on update);
	// the store only guards against an empty string slipping in.
	copy := *dashboard
	if copy.Version == "" {
		copy.Version = models.DefaultDashboardVersion
	}
	copy.UpdatedAt = time.Now().UTC()
	m.dashboards[k] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteDashboard(_ context.Context, workspace, id string) error {
	m.mu.Lock()
	k := key(workspace, id)
	if _, ok := m.dashboards[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "dashboard", Key: id}
	}
	delete(m.dashboards, k)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
