// Package handlers implements the HTTP handlers for the Glassboard
// console engine: the draft ingestion pipeline, authoring sessions,
// dashboard CRUD plus the mounted-instance runtime, and the definitions
// catalog.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/authoring"
	"github.com/glassboard/glassboard/console-engine/internal/catalog"
	"github.com/glassboard/glassboard/console-engine/internal/dashboard"
	"github.com/glassboard/glassboard/console-engine/internal/diff"
	"github.com/glassboard/glassboard/console-engine/internal/draft"
	"github.com/glassboard/glassboard/console-engine/internal/extract"
	"github.com/glassboard/glassboard/console-engine/internal/notify"
	"github.com/glassboard/glassboard/console-engine/internal/patch"
	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/internal/validate"
	"github.com/glassboard/glassboard/console-engine/pkg/middleware"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	Authoring *authoring.Service
	Runtime   *dashboard.Runtime
	Catalog   *catalog.Catalog
	Notifier  *notify.Service
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, auth *authoring.Service, rt *dashboard.Runtime, cat *catalog.Catalog, notifier *notify.Service) *Handlers {
	return &Handlers{
		Store:     s,
		Authoring: auth,
		Runtime:   rt,
		Catalog:   cat,
		Notifier:  notifier,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Draft Pipeline Handlers ──────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ExtractDrafts runs just the text extractor: raw assistant text in,
// balanced JSON candidates out. An authoring aid for debugging why a
// message did or did not ingest.
func (h *Handlers) ExtractDrafts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	candidates := extract.Candidates(req.Text)
	if candidates == nil {
		candidates = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// IngestDraft runs the full stateless pipeline: extract → normalize →
// patch → validate. Session-less twin of the messages endpoint.
func (h *Handlers) IngestDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     string                 `json:"kind"`
		Text     string                 `json:"text"`
		Baseline map[string]interface{} `json:"baseline,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	kind := models.DraftKind(req.Kind)
	if kind != models.DraftKindAPI && kind != models.DraftKindUI {
		respondError(w, http.StatusBadRequest, "kind must be api_draft or ui_draft")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	accepted, err := draft.FromText(req.Text, kind, req.Baseline)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, accepted)
}

// PatchDraft applies path-addressed replace ops to a baseline draft.
func (h *Handlers) PatchDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Baseline map[string]interface{} `json:"baseline"`
		Ops      []models.PatchOp       `json:"ops"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Ops) == 0 {
		respondError(w, http.StatusBadRequest, "ops is required")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"draft": patch.Apply(req.Baseline, req.Ops),
	})
}

// ValidateDraft runs the shape validator and returns the full result,
// errors and warnings both, regardless of outcome.
func (h *Handlers) ValidateDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind  string                 `json:"kind"`
		Draft map[string]interface{} `json:"draft"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	kind := models.DraftKind(req.Kind)
	if kind != models.DraftKindAPI && kind != models.DraftKindUI {
		respondError(w, http.StatusBadRequest, "kind must be api_draft or ui_draft")
		return
	}

	respondJSON(w, http.StatusOK, validate.Draft(kind, req.Draft))
}

// DiffDrafts renders the line diff between two draft payloads.
func (h *Handlers) DiffDrafts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Before map[string]interface{} `json:"before"`
		After  map[string]interface{} `json:"after"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hunks := diff.Drafts(req.Before, req.After)
	added, removed := diff.Counts(hunks)
	if hunks == nil {
		hunks = []diff.Hunk{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"hunks":   hunks,
		"added":   added,
		"removed": removed,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Authoring Session Handlers ───────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	sessions, err := h.Authoring.List(r.Context(), workspace, parseLimit(r, 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.AuthoringSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope,omitempty"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	workspace := middleware.GetWorkspace(r.Context())
	session, err := h.Authoring.Create(r.Context(), workspace, req.Scope, models.DraftKind(req.Kind))
	if err != nil {
		if errors.Is(err, authoring.ErrSessionExists) {
			respondError(w, http.StatusConflict, err.Error())
		} else {
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	scope := chi.URLParam(r, "scope")

	session, err := h.Authoring.Get(r.Context(), workspace, scope)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// IngestSessionMessage feeds one assistant message into a session. The
// response always carries the turn record; a rejected message is still
// a 200 — the rejection lives in turn.error and the session keeps its
// previous draft.
func (h *Handlers) IngestSessionMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	workspace := middleware.GetWorkspace(r.Context())
	scope := chi.URLParam(r, "scope")

	result, err := h.Authoring.Ingest(r.Context(), workspace, scope, req.Text)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) ApplySession(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	scope := chi.URLParam(r, "scope")

	session, err := h.Authoring.Apply(r.Context(), workspace, scope)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			// No accepted draft yet, or the draft stopped validating.
			respondError(w, http.StatusConflict, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handlers) DiscardSession(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	scope := chi.URLParam(r, "scope")

	if err := h.Authoring.Discard(r.Context(), workspace, scope); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Dashboard Handlers ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListDashboards(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	dashboards, err := h.Store.ListDashboards(r.Context(), workspace)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dashboards == nil {
		dashboards = []models.Dashboard{}
	}
	respondJSON(w, http.StatusOK, dashboards)
}

// createDashboardRequest creates a dashboard either from explicit
// widgets or from an accepted ui draft ("draft" field). The draft path
// re-validates before converting, so an asset that stopped validating
// never lands in the store.
type createDashboardRequest struct {
	Name        string                   `json:"name,omitempty"`
	Description string                   `json:"description,omitempty"`
	Widgets     []models.Widget          `json:"widgets,omitempty"`
	Bindings    map[string]interface{}   `json:"bindings,omitempty"`
	Actions     []map[string]interface{} `json:"actions,omitempty"`
	Draft       map[string]interface{}   `json:"draft,omitempty"`
}

func (h *Handlers) CreateDashboard(w http.ResponseWriter, r *http.Request) {
	var req createDashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	workspace := middleware.GetWorkspace(r.Context())
	dash := models.Dashboard{
		ID:          uuid.New().String(),
		Workspace:   workspace,
		Name:        req.Name,
		Description: req.Description,
		Version:     models.DefaultDashboardVersion,
		Widgets:     req.Widgets,
		Bindings:    req.Bindings,
		Actions:     req.Actions,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if req.Draft != nil {
		res := validate.Draft(models.DraftKindUI, req.Draft)
		if !res.OK {
			respondJSON(w, http.StatusUnprocessableEntity, res)
			return
		}
		ui, err := models.DecodeUIDraft(req.Draft)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		widgets, err := models.WidgetsOf(ui.Layout)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		dash.Name = ui.Name
		dash.Description = ui.Description
		dash.Widgets = widgets
		dash.Bindings = ui.Bindings
		dash.Actions = ui.Actions
	}

	if dash.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	for i := range dash.Widgets {
		dash.Widgets[i].Layout.Clamp()
	}

	if err := h.Store.CreateDashboard(r.Context(), &dash); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("dashboard_id", dash.ID).
		Str("name", dash.Name).
		Str("workspace", workspace).
		Int("widgets", len(dash.Widgets)).
		Msg("Dashboard created")
	respondJSON(w, http.StatusCreated, dash)
}

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	id := chi.URLParam(r, "dashboardID")

	dash, err := h.Store.GetDashboard(r.Context(), workspace, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dash)
}

func (h *Handlers) UpdateDashboard(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	id := chi.URLParam(r, "dashboardID")

	dash, err := h.Store.GetDashboard(r.Context(), workspace, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req createDashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		dash.Name = req.Name
	}
	if req.Description != "" {
		dash.Description = req.Description
	}
	if len(req.Widgets) > 0 {
		for i := range req.Widgets {
			req.Widgets[i].Layout.Clamp()
		}
		dash.Widgets = req.Widgets
	}
	if len(req.Bindings) > 0 {
		dash.Bindings = req.Bindings
	}
	if len(req.Actions) > 0 {
		dash.Actions = req.Actions
	}
	dash.Version = models.BumpVersion(dash.Version)
	dash.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateDashboard(r.Context(), dash); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, dash)
}

func (h *Handlers) DeleteDashboard(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	id := chi.URLParam(r, "dashboardID")

	if err := h.Store.DeleteDashboard(r.Context(), workspace, id); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("dashboard_id", id).Str("workspace", workspace).Msg("Dashboard deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Dashboard Instance (runtime) Handlers ────────────────────
// ══════════════════════════════════════════════════════════════

// MountDashboard loads a stored dashboard and mounts a live instance of
// it: every widget gets an independent fetch lifecycle immediately.
func (h *Handlers) MountDashboard(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	id := chi.URLParam(r, "dashboardID")

	dash, err := h.Store.GetDashboard(r.Context(), workspace, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	instanceID, err := h.Runtime.Mount(dash)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"instance_id":  instanceID,
		"dashboard_id": dash.ID,
	})
}

func (h *Handlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	workspace := middleware.GetWorkspace(r.Context())
	instances := h.Runtime.Instances(workspace)
	if instances == nil {
		instances = []*models.InstanceSnapshot{}
	}
	respondJSON(w, http.StatusOK, instances)
}

// InstanceState returns the point-in-time widget states of a mounted
// instance: the poll-based twin of the stream endpoint.
func (h *Handlers) InstanceState(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	snap, err := h.Runtime.Snapshot(instanceID)
	if err != nil {
		respondRuntimeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) UnmountDashboard(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.Runtime.Unmount(instanceID); err != nil {
		respondRuntimeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadInstance bumps the reload counter: every widget refetches, even
// those whose params did not change. Responds before fetches settle.
func (h *Handlers) ReloadInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.Runtime.Reload(instanceID); err != nil {
		respondRuntimeError(w, err)
		return
	}

	ev := notify.NewEvent(notify.EventDashboardReloaded, middleware.GetWorkspace(r.Context()), instanceID, map[string]interface{}{
		"instance_id": instanceID,
	})
	if snap, err := h.Runtime.Snapshot(instanceID); err == nil {
		ev.Payload["dashboard_id"] = snap.DashboardID
	}
	h.Notifier.Dispatch(ev)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"instance_id": instanceID,
		"status":      "reloading",
	})
}

func (h *Handlers) RefreshWidget(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	widgetID := chi.URLParam(r, "widgetID")

	if err := h.Runtime.RefreshWidget(instanceID, widgetID); err != nil {
		respondRuntimeError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"instance_id": instanceID,
		"widget_id":   widgetID,
		"status":      "refreshing",
	})
}

// UpdateWidgetParams swaps a widget's data-source params and starts a
// fresh fetch lifecycle. An in-flight fetch for the old params becomes
// stale and its response is discarded.
func (h *Handlers) UpdateWidgetParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Params map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	instanceID := chi.URLParam(r, "instanceID")
	widgetID := chi.URLParam(r, "widgetID")

	if err := h.Runtime.UpdateWidgetParams(instanceID, widgetID, req.Params); err != nil {
		respondRuntimeError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"instance_id": instanceID,
		"widget_id":   widgetID,
		"status":      "refreshing",
	})
}

func (h *Handlers) InstanceEvents(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	events, err := h.Runtime.Events(instanceID, parseLimit(r, 50))
	if err != nil {
		respondRuntimeError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// ══════════════════════════════════════════════════════════════
// ── Catalog Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := h.Catalog.List()
	if defs == nil {
		defs = []models.Definition{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"definitions": defs,
		"count":       len(defs),
	})
}

// RefreshCatalog forces a synchronous catalog fetch instead of waiting
// for the background refresh interval.
func (h *Handlers) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": h.Catalog.Count(),
	})
}

// ══════════════════════════════════════════════════════════════
// ── Workspace Handlers ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.Store.ListWorkspaces(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if workspaces == nil {
		workspaces = []models.Workspace{}
	}
	respondJSON(w, http.StatusOK, workspaces)
}

func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req models.Workspace
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.CreatedAt = time.Now().UTC()

	if err := h.Store.CreateWorkspace(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("workspace", req.ID).Str("name", req.Name).Msg("Workspace created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceID")

	ws, err := h.Store.GetWorkspace(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps store errors: ErrNotFound → 404, rest → 500.
func respondStoreError(w http.ResponseWriter, err error) {
	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// respondRuntimeError maps runtime errors: unknown instance or widget
// → 404, rest → 500.
func respondRuntimeError(w http.ResponseWriter, err error) {
	if errors.Is(err, dashboard.ErrInstanceNotFound) || errors.Is(err, dashboard.ErrWidgetNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func parseLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
