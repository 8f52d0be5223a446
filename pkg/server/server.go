// Package server is the public entry point for composing the Glassboard
// console engine.
//
// It lives in pkg/ (not internal/) so hosted deployments can import it
// and wrap the assembled handler with their own outer middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/api"
	"github.com/glassboard/glassboard/console-engine/internal/api/handlers"
	"github.com/glassboard/glassboard/console-engine/internal/api/stream"
	"github.com/glassboard/glassboard/console-engine/internal/authoring"
	"github.com/glassboard/glassboard/console-engine/internal/catalog"
	"github.com/glassboard/glassboard/console-engine/internal/config"
	"github.com/glassboard/glassboard/console-engine/internal/dashboard"
	"github.com/glassboard/glassboard/console-engine/internal/notify"
	"github.com/glassboard/glassboard/console-engine/internal/render"
	"github.com/glassboard/glassboard/console-engine/internal/resolver"
	"github.com/glassboard/glassboard/console-engine/internal/retention"
	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/internal/telemetry"
	"github.com/glassboard/glassboard/console-engine/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the assembled console engine.
type Server struct {
	// Handler carries all routes and middleware.
	Handler http.Handler

	// Store is the engine's data store. Exposed so deployments can
	// compose middleware that reads workspaces or sessions directly.
	Store store.Store

	// Runtime manages mounted dashboard instances.
	Runtime *dashboard.Runtime

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc stops background loops and flushes telemetry. Call
	// it on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New assembles the engine from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig assembles the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	seedDefaultWorkspace(ctx, dataStore)

	// Definitions catalog with background refresh; empty cache dir
	// means the user-level default.
	cat := catalog.New(cfg.Backend, "")
	cat.Start(ctx)

	runtime := dashboard.New(
		resolver.New(cfg.Backend, cat),
		render.New(cfg.Render.GridRowCap),
	)

	notifier := notify.NewService(cfg.Notify)
	author := authoring.New(dataStore, notifier, cfg.Authoring.SessionTTL)

	janitor := retention.NewJanitor(dataStore, cfg.Authoring.JanitorInterval)
	janitor.RegisterArchiver(retention.NewLocalFileArchiver("", true))
	go janitor.Start(ctx)

	h := handlers.New(dataStore, author, runtime, cat, notifier)
	router := api.NewRouter(cfg, h, stream.NewHandler(runtime))

	log.Info().
		Str("backend", cfg.Backend.BaseURL).
		Dur("session_ttl", cfg.Authoring.SessionTTL).
		Msg("Console engine assembled")

	return &Server{
		Handler: router,
		Store:   dataStore,
		Runtime: runtime,
		Config:  cfg,
		Port:    cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			cat.Stop()
			return shutdownTelemetry(ctx)
		},
	}, nil
}

// seedDefaultWorkspace guarantees the zero-config workspace exists so
// requests without an X-Workspace header land somewhere real.
func seedDefaultWorkspace(ctx context.Context, s store.Store) {
	if _, err := s.GetWorkspace(ctx, "default"); err == nil {
		return
	}
	ws := &models.Workspace{
		ID:          "default",
		Name:        "Default Workspace",
		Description: "The zero-configuration workspace",
		Owner:       "system",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateWorkspace(ctx, ws); err != nil {
		log.Warn().Err(err).Msg("Failed to seed default workspace")
		return
	}
	log.Info().Msg("Default workspace seeded")
}
