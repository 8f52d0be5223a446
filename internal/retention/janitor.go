// Package retention sweeps expired authoring sessions out of the hot
// store. A session expires when it sits untouched past its TTL; the
// janitor archives it to a durable destination and then purges it.
//
// Archive failures are fail-safe: a session is NOT deleted if archiving
// fails, so an unreachable archive destination never loses a draft. The
// janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/pkg/contracts"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultSweepLimit caps how many expired sessions one cycle handles.
const DefaultSweepLimit = 1000

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Expired  int
	Archived int
	Purged   int
	Location string
	Errors   []error
}

// Janitor periodically archives and purges authoring sessions whose
// expiry has passed.
type Janitor struct {
	store    store.Store
	interval time.Duration

	// drivers is a registry of pluggable archive backends.
	drivers  map[string]contracts.ArchiveDriver
	driverMu sync.RWMutex

	// defaultDriver is used when no backend is named explicitly.
	defaultDriver string
}

// NewJanitor creates a retention janitor that runs on the given interval.
func NewJanitor(s store.Store, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{
		store:    s,
		interval: interval,
		drivers:  make(map[string]contracts.ArchiveDriver),
	}
}

// RegisterArchiver adds an archive driver. The first registered driver
// becomes the default backend.
func (j *Janitor) RegisterArchiver(driver contracts.ArchiveDriver) {
	j.driverMu.Lock()
	defer j.driverMu.Unlock()
	name := driver.Name()
	if len(j.drivers) == 0 {
		j.defaultDriver = name
	}
	j.drivers[name] = driver
	log.Info().Str("driver", name).Msg("Archive driver registered")
}

// GetArchiver returns the registered driver with the given name.
func (j *Janitor) GetArchiver(name string) (contracts.ArchiveDriver, bool) {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	d, ok := j.drivers[name]
	return d, ok
}

// ListArchivers returns the names of all registered archive drivers.
func (j *Janitor) ListArchivers() []string {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	names := make([]string, 0, len(j.drivers))
	for name := range j.drivers {
		names = append(names, name)
	}
	return names
}

// Start runs the janitor until ctx is canceled. It blocks, so callers
// run it in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Strs("archivers", j.ListArchivers()).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup.
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep: list expired sessions, archive
// them, purge the ones that archived. Exported so operators can trigger
// a sweep out of band.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	stats := CycleStats{}

	expired, err := j.store.ListExpiredSessions(ctx, time.Now(), DefaultSweepLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list expired sessions")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	stats.Expired = len(expired)
	if len(expired) == 0 {
		return stats
	}

	location, archived, ok := j.archive(ctx, expired, &stats)
	if !ok {
		log.Warn().
			Int("expired", len(expired)).
			Msg("Archive failed, skipping purge")
		return stats
	}
	stats.Location = location
	stats.Archived = archived

	j.purge(ctx, expired, &stats)

	log.Info().
		Int("expired", stats.Expired).
		Int("archived", stats.Archived).
		Int("purged", stats.Purged).
		Str("location", location).
		Dur("elapsed", time.Since(start)).
		Msg("Retention cycle complete")
	return stats
}

// archive writes the expired sessions to the default archive driver.
// With no drivers registered the sweep degrades to purge-only.
func (j *Janitor) archive(ctx context.Context, sessions []models.AuthoringSession, stats *CycleStats) (string, int, bool) {
	j.driverMu.RLock()
	name := j.defaultDriver
	j.driverMu.RUnlock()

	driver, ok := j.GetArchiver(name)
	if !ok {
		log.Debug().Int("count", len(sessions)).Msg("No archive driver registered, purging without archive")
		return "", 0, true
	}

	location, err := driver.Archive(ctx, sessions)
	if err != nil {
		log.Warn().Err(err).
			Str("driver", name).
			Int("count", len(sessions)).
			Msg("Failed to archive expired sessions")
		stats.Errors = append(stats.Errors, err)
		return "", 0, false
	}
	return location, len(sessions), true
}

// purge deletes archived sessions from the hot store.
func (j *Janitor) purge(ctx context.Context, sessions []models.AuthoringSession, stats *CycleStats) {
	for _, s := range sessions {
		if err := j.store.DeleteSession(ctx, s.Workspace, s.Scope); err != nil {
			log.Warn().Err(err).
				Str("workspace", s.Workspace).
				Str("scope", s.Scope).
				Msg("Failed to delete expired session")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.Purged++
	}
}
