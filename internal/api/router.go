package api

import (
	"encoding/json"
	"net/http"

	"github.com/glassboard/glassboard/console-engine/internal/api/handlers"
	"github.com/glassboard/glassboard/console-engine/internal/api/middleware"
	"github.com/glassboard/glassboard/console-engine/internal/api/stream"
	"github.com/glassboard/glassboard/console-engine/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
//
// Middleware order matters: the workspace extractor runs before the
// logger and telemetry so both see the resolved tenant, and CORS runs
// before the API key gate so preflights never require credentials.
func NewRouter(cfg *config.Config, h *handlers.Handlers, sh *stream.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.WorkspaceExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Workspace", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth().Middleware)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Stateless draft pipeline
		r.Route("/drafts", func(r chi.Router) {
			r.Post("/extract", h.ExtractDrafts)
			r.Post("/ingest", h.IngestDraft)
			r.Post("/patch", h.PatchDraft)
			r.Post("/validate", h.ValidateDraft)
			r.Post("/diff", h.DiffDrafts)
		})

		// Authoring sessions (scoped drafts refined turn by turn)
		r.Route("/authoring/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Route("/{scope}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.DiscardSession)
				r.Post("/messages", h.IngestSessionMessage)
				r.Post("/apply", h.ApplySession)
				r.Post("/discard", h.DiscardSession)
			})
		})

		// Dashboards: stored assets plus mounted live instances
		r.Route("/dashboards", func(r chi.Router) {
			r.Get("/", h.ListDashboards)
			r.Post("/", h.CreateDashboard)

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", h.ListInstances)
				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/state", h.InstanceState)
					r.Delete("/mount", h.UnmountDashboard)
					r.Post("/reload", h.ReloadInstance)
					r.Get("/events", h.InstanceEvents)
					r.Get("/stream", sh.ServeInstance)
					r.Route("/widgets/{widgetID}", func(r chi.Router) {
						r.Post("/refresh", h.RefreshWidget)
						r.Put("/params", h.UpdateWidgetParams)
					})
				})
			})

			r.Route("/{dashboardID}", func(r chi.Router) {
				r.Get("/", h.GetDashboard)
				r.Put("/", h.UpdateDashboard)
				r.Delete("/", h.DeleteDashboard)
				r.Post("/mount", h.MountDashboard)
			})
		})

		// Definitions catalog
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/definitions", h.ListDefinitions)
			r.Post("/refresh", h.RefreshCatalog)
		})

		// Workspaces
		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", h.ListWorkspaces)
			r.Post("/", h.CreateWorkspace)
			r.Get("/{workspaceID}", h.GetWorkspace)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "glassboard-console-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "glassboard-console-engine",
		})
	}
}
