package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired sessions as JSONL files to a local
// directory. This is the default archive driver for development and
// single-node deployments.
//
// Directory structure:
//
//	{basePath}/sessions/2026-02-20T15-04-05Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty, it defaults to "~/.glassboard/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/glassboard/archive"
		} else {
			basePath = filepath.Join(home, ".glassboard", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Name() string { return "local" }

// Archive appends each session as one JSON line. The returned location
// is the file path, recorded in the retention cycle log.
func (a *LocalFileArchiver) Archive(_ context.Context, sessions []models.AuthoringSession) (string, error) {
	dir := filepath.Join(a.basePath, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer gw.Close()
		enc = json.NewEncoder(gw)
	}

	for _, s := range sessions {
		if err := enc.Encode(s); err != nil {
			return "", fmt.Errorf("encode session %s: %w", s.Key(), err)
		}
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(sessions)).
		Msg("Archived sessions to local file")

	return fpath, nil
}

// HealthCheck verifies the base path is writable.
func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
