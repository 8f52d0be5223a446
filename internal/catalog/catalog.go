// Package catalog maintains a live copy of the execution backend's
// definitions listing.
//
// The catalog merges two data sources:
//
//  1. **Backend listing** — GET {backend}{catalog_path}, refreshed on an
//     interval (configurable via GLASSBOARD_CATALOG_REFRESH) and on
//     demand when the widget resolver hits a 404 it wants to fall back
//     from.
//
//  2. **Local cache** — the last good listing persisted to disk, so
//     endpoint fallback keeps working when the backend is unreachable
//     at boot.
//
// It exposes a thread-safe lookup used by the resolver's 404 fallback
// chain (catalog match → execute-by-id) and by the API surface to list
// known definitions.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/glassboard/glassboard/console-engine/internal/config"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

const (
	// Local cache file for offline operation.
	defaultCacheFile = "definitions_cache.json"

	// Size of the endpoint-match cache. Misses are not cached; the
	// cache is purged on every successful refresh.
	matchCacheSize = 256
)

// Catalog is a thread-safe, auto-refreshing definitions database.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*models.Definition // key: id

	client   *http.Client
	cfg      config.BackendConfig
	cacheDir string
	stopCh   chan struct{}
	running  bool

	// flight collapses concurrent forced refreshes (several widgets
	// falling back at once) into a single backend request.
	flight singleflight.Group

	// matches caches normalized endpoint path → definition id.
	matches *lru.Cache[string, string]
}

// New creates a definitions catalog. Call Start() to begin background
// refresh.
func New(cfg config.BackendConfig, cacheDir string) *Catalog {
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".glassboard")
	}
	matches, _ := lru.New[string, string](matchCacheSize)
	return &Catalog{
		defs:     make(map[string]*models.Definition),
		client:   &http.Client{Timeout: 30 * time.Second},
		cfg:      cfg,
		cacheDir: cacheDir,
		stopCh:   make(chan struct{}),
		matches:  matches,
	}
}

// Start begins the background refresh goroutine.
func (c *Catalog) Start(ctx context.Context) {
	if c.running {
		return
	}
	c.running = true

	// Load from local cache first (instant startup)
	if err := c.loadCache(); err != nil {
		log.Debug().Err(err).Msg("Catalog: no local cache, will fetch fresh data")
	}

	// Fetch fresh data on startup
	go func() {
		if err := c.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Catalog: failed to fetch definitions on startup")
		}
	}()

	// Background refresh loop
	interval := c.cfg.CatalogRefresh
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("Catalog: refresh failed")
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("refresh_interval", interval).Msg("Definitions catalog started")
}

// Stop halts the background refresh.
func (c *Catalog) Stop() {
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

// Refresh re-fetches the definitions listing. Concurrent callers share
// one in-flight request.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err, _ := c.flight.Do("refresh", func() (interface{}, error) {
		return nil, c.fetchDefinitions(ctx)
	})
	return err
}

// GetByID returns the definition with the given id, or nil.
func (c *Catalog) GetByID(id string) *models.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defs[id]
}

// List returns all known definitions, sorted by name.
func (c *Catalog) List() []models.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]models.Definition, 0, len(c.defs))
	for _, d := range c.defs {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// MatchEndpoint finds an active definition whose endpoint matches the
// given path after namespace prefixes are stripped from both sides.
// Used as the second tier of the resolver's 404 fallback chain.
func (c *Catalog) MatchEndpoint(path string) *models.Definition {
	want := c.normalizePath(path)
	if want == "" {
		return nil
	}

	if id, ok := c.matches.Get(want); ok {
		if d := c.GetByID(id); d != nil {
			return d
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.defs {
		if !d.Active {
			continue
		}
		if c.normalizePath(d.Endpoint) == want {
			c.matches.Add(want, d.ID)
			return d
		}
	}
	return nil
}

// Count returns the number of definitions in the catalog.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

// normalizePath strips the runtime and legacy namespaces and any
// trailing slash, yielding the bare definition path both naming
// schemes share.
func (c *Catalog) normalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for _, ns := range []string{c.cfg.RuntimeNamespace, c.cfg.LegacyNamespace} {
		if ns != "" && strings.HasPrefix(p, ns+"/") {
			p = p[len(ns):]
			break
		}
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// ── Backend Fetcher ─────────────────────────────────────────

// listingEnvelope tolerates the two wire shapes the backend has used:
// a bare array, or an object wrapping the array.
type listingEnvelope struct {
	Definitions []models.Definition `json:"definitions"`
	Data        []models.Definition `json:"data"`
}

func (c *Catalog) fetchDefinitions(ctx context.Context) error {
	url := c.cfg.BaseURL + c.cfg.CatalogPath
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch definitions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var listing []models.Definition
	if err := json.Unmarshal(body, &listing); err != nil {
		var envelope listingEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("unmarshal definitions: %w", err)
		}
		listing = envelope.Definitions
		if listing == nil {
			listing = envelope.Data
		}
	}

	c.mu.Lock()
	c.defs = make(map[string]*models.Definition, len(listing))
	for i := range listing {
		d := listing[i]
		if d.ID == "" {
			continue // a definition without an id cannot be executed
		}
		c.defs[d.ID] = &d
	}
	count := len(c.defs)
	c.mu.Unlock()

	// Stale matches may point at removed definitions.
	c.matches.Purge()

	_ = c.saveCache()

	log.Info().Int("definitions", count).Msg("Catalog: loaded definitions listing")
	return nil
}

// ── Cache Management ────────────────────────────────────────

func (c *Catalog) loadCache() error {
	path := filepath.Join(c.cacheDir, defaultCacheFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var entries map[string]*models.Definition
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unmarshal cache: %w", err)
	}

	c.mu.Lock()
	for k, v := range entries {
		c.defs[k] = v
	}
	c.mu.Unlock()

	log.Debug().Int("entries", len(entries)).Msg("Catalog: loaded from local cache")
	return nil
}

func (c *Catalog) saveCache() error {
	_ = os.MkdirAll(c.cacheDir, 0o755)
	path := filepath.Join(c.cacheDir, defaultCacheFile)

	c.mu.RLock()
	data, err := json.Marshal(c.defs)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
