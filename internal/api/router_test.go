package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
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
	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// newAPI wires the full engine against a stub data backend and returns
// the router.
func newAPI(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("GLASSBOARD_DATA_DIR", t.TempDir())
	t.Setenv("GLASSBOARD_API_KEYS", "")

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/runtime/sales":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"rows": []map[string]interface{}{{"day": "mon", "total": 5}},
			})
		case "/api/definitions":
			json.NewEncoder(w).Encode([]models.Definition{{
				ID:       "def-1",
				Name:     "daily sales",
				Endpoint: "/api/services/metrics/daily",
				Method:   "GET",
				Active:   true,
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	cfg := config.Load()
	cfg.Backend.BaseURL = backend.URL

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	cat := catalog.New(cfg.Backend, t.TempDir())
	res := resolver.New(cfg.Backend, cat)
	rt := dashboard.New(res, render.New(cfg.Render.GridRowCap))
	notifier := notify.NewService(cfg.Notify)
	auth := authoring.New(s, notifier, cfg.Authoring.SessionTTL)

	h := handlers.New(s, auth, rt, cat, notifier)
	return api.NewRouter(cfg, h, stream.NewHandler(rt))
}

// do runs one request through the router and returns the recorder.
func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workspace", "default")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

const apiDraftText = "Here is the endpoint you asked for:\n```json\n" +
	`{"type":"api_draft","draft":{"name":"daily sales","endpoint":"/metrics/daily","method":"get","logic":{"type":"sql","query":"SELECT day, total FROM sales"}}}` +
	"\n```\nLet me know if the shape works."

func TestHealthAndVersion(t *testing.T) {
	router := newAPI(t)

	rec := do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/version status = %d, want 200", rec.Code)
	}
	var v map[string]string
	decode(t, rec, &v)
	if v["service"] != "glassboard-console-engine" {
		t.Errorf("service = %q", v["service"])
	}
}

func TestDraftPipelineEndpoints(t *testing.T) {
	router := newAPI(t)

	// extract
	rec := do(t, router, http.MethodPost, "/api/v1/drafts/extract", map[string]string{
		"text": `prose {"a":1} more prose`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("extract status = %d: %s", rec.Code, rec.Body.String())
	}
	var extracted struct {
		Candidates []string `json:"candidates"`
		Count      int      `json:"count"`
	}
	decode(t, rec, &extracted)
	if extracted.Count == 0 {
		t.Error("extract found no candidates")
	}

	// ingest, accepted
	rec = do(t, router, http.MethodPost, "/api/v1/drafts/ingest", map[string]string{
		"kind": "api_draft",
		"text": apiDraftText,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d: %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		Kind  string                 `json:"kind"`
		Draft map[string]interface{} `json:"draft"`
	}
	decode(t, rec, &accepted)
	if accepted.Draft["method"] != "GET" {
		t.Errorf("ingested method = %v, want normalized GET", accepted.Draft["method"])
	}

	// ingest, rejected (SQL gate)
	rec = do(t, router, http.MethodPost, "/api/v1/drafts/ingest", map[string]string{
		"kind": "api_draft",
		"text": `{"type":"api_draft","draft":{"name":"bad","endpoint":"/x","method":"get","logic":{"type":"sql","query":"DROP TABLE users"}}}`,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rejected ingest status = %d, want 422", rec.Code)
	}

	// ingest, bad kind
	rec = do(t, router, http.MethodPost, "/api/v1/drafts/ingest", map[string]string{
		"kind": "report_draft",
		"text": "{}",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad-kind ingest status = %d, want 400", rec.Code)
	}

	// patch
	rec = do(t, router, http.MethodPost, "/api/v1/drafts/patch", map[string]interface{}{
		"baseline": map[string]interface{}{"name": "old"},
		"ops":      []map[string]interface{}{{"op": "replace", "path": "name", "value": "new"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	var patched struct {
		Draft map[string]interface{} `json:"draft"`
	}
	decode(t, rec, &patched)
	if patched.Draft["name"] != "new" {
		t.Errorf("patched name = %v, want new", patched.Draft["name"])
	}

	// validate
	rec = do(t, router, http.MethodPost, "/api/v1/drafts/validate", map[string]interface{}{
		"kind":  "api_draft",
		"draft": map[string]interface{}{"name": ""},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d", rec.Code)
	}
	var result models.ValidationResult
	decode(t, rec, &result)
	if result.OK || len(result.Errors) == 0 {
		t.Errorf("validate result = %+v, want errors", result)
	}

	// diff
	rec = do(t, router, http.MethodPost, "/api/v1/drafts/diff", map[string]interface{}{
		"before": map[string]interface{}{"name": "old"},
		"after":  map[string]interface{}{"name": "new"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("diff status = %d", rec.Code)
	}
	var diffed struct {
		Added   int `json:"added"`
		Removed int `json:"removed"`
	}
	decode(t, rec, &diffed)
	if diffed.Added == 0 || diffed.Removed == 0 {
		t.Errorf("diff counts = %+v, want nonzero", diffed)
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router := newAPI(t)

	// create
	rec := do(t, router, http.MethodPost, "/api/v1/authoring/sessions", map[string]string{
		"scope": "api-7", "kind": "api_draft",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", rec.Code, rec.Body.String())
	}

	// duplicate scope
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions", map[string]string{
		"scope": "api-7", "kind": "api_draft",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate session status = %d, want 409", rec.Code)
	}

	// unknown kind
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions", map[string]string{
		"scope": "other", "kind": "report_draft",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad-kind session status = %d, want 400", rec.Code)
	}

	// ingest a message
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions/api-7/messages", map[string]string{
		"text": apiDraftText,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d: %s", rec.Code, rec.Body.String())
	}
	var ingested struct {
		Turn models.AuthoringTurn `json:"turn"`
	}
	decode(t, rec, &ingested)
	if !ingested.Turn.Accepted {
		t.Fatalf("turn = %+v, want accepted", ingested.Turn)
	}

	// rejected message still returns 200 with the turn error
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions/api-7/messages", map[string]string{
		"text": "no json here at all",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rejected message status = %d, want 200", rec.Code)
	}
	decode(t, rec, &ingested)
	if ingested.Turn.Accepted || ingested.Turn.Error == "" {
		t.Errorf("rejected turn = %+v, want error recorded", ingested.Turn)
	}

	// message to an unknown session
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions/missing/messages", map[string]string{
		"text": apiDraftText,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown-session message status = %d, want 404", rec.Code)
	}

	// get
	rec = do(t, router, http.MethodGet, "/api/v1/authoring/sessions/api-7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session status = %d", rec.Code)
	}
	var session models.AuthoringSession
	decode(t, rec, &session)
	if len(session.Turns) != 2 {
		t.Errorf("session turns = %d, want 2", len(session.Turns))
	}

	// apply removes the session
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions/api-7/apply", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodGet, "/api/v1/authoring/sessions/api-7", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after apply status = %d, want 404", rec.Code)
	}

	// apply with no accepted draft
	do(t, router, http.MethodPost, "/api/v1/authoring/sessions", map[string]string{
		"scope": "empty", "kind": "api_draft",
	})
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions/empty/apply", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("apply-without-draft status = %d, want 409", rec.Code)
	}

	// discard
	rec = do(t, router, http.MethodPost, "/api/v1/authoring/sessions/empty/discard", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("discard status = %d, want 204", rec.Code)
	}
}

func TestDashboardLifecycleEndpoints(t *testing.T) {
	router := newAPI(t)

	// create from an accepted ui draft
	rec := do(t, router, http.MethodPost, "/api/v1/dashboards", map[string]interface{}{
		"draft": map[string]interface{}{
			"name": "ops board",
			"layout": map[string]interface{}{
				"widgets": []map[string]interface{}{{
					"id":          "w1",
					"layout":      map[string]int{"w": 20, "h": 0},
					"data_source": map[string]string{"endpoint": "/sales"},
					"render":      map[string]string{"type": "grid", "rowsPath": "rows"},
				}},
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create dashboard status = %d: %s", rec.Code, rec.Body.String())
	}
	var dash models.Dashboard
	decode(t, rec, &dash)
	if dash.Name != "ops board" || len(dash.Widgets) != 1 {
		t.Fatalf("dashboard = %+v", dash)
	}
	// Layout clamped into the 12-column grid.
	if dash.Widgets[0].Layout.W != 12 || dash.Widgets[0].Layout.H != 1 {
		t.Errorf("layout = %+v, want clamped (12,1)", dash.Widgets[0].Layout)
	}

	// invalid draft is rejected with the validation result
	rec = do(t, router, http.MethodPost, "/api/v1/dashboards", map[string]interface{}{
		"draft": map[string]interface{}{"name": ""},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid draft status = %d, want 422", rec.Code)
	}

	// update bumps the version
	rec = do(t, router, http.MethodPut, "/api/v1/dashboards/"+dash.ID, map[string]string{
		"description": "first board",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.Dashboard
	decode(t, rec, &updated)
	if updated.Version != "2" {
		t.Errorf("version = %q, want 2", updated.Version)
	}

	// mount
	rec = do(t, router, http.MethodPost, "/api/v1/dashboards/"+dash.ID+"/mount", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mount status = %d: %s", rec.Code, rec.Body.String())
	}
	var mounted map[string]string
	decode(t, rec, &mounted)
	instanceID := mounted["instance_id"]
	if instanceID == "" {
		t.Fatal("mount returned no instance_id")
	}

	// poll state until the widget settles
	statePath := "/api/v1/dashboards/instances/" + instanceID + "/state"
	var snap models.InstanceSnapshot
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = do(t, router, http.MethodGet, statePath, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("state status = %d", rec.Code)
		}
		decode(t, rec, &snap)
		if len(snap.Widgets) == 1 && snap.Widgets[0].Status == models.WidgetReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("widget never became ready: %+v", snap.Widgets)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// reload
	rec = do(t, router, http.MethodPost, "/api/v1/dashboards/instances/"+instanceID+"/reload", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reload status = %d, want 202", rec.Code)
	}

	// widget refresh and params
	rec = do(t, router, http.MethodPost, "/api/v1/dashboards/instances/"+instanceID+"/widgets/w1/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("refresh status = %d, want 202", rec.Code)
	}
	rec = do(t, router, http.MethodPut, "/api/v1/dashboards/instances/"+instanceID+"/widgets/w1/params", map[string]interface{}{
		"params": map[string]interface{}{"limit": 10},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("params status = %d, want 202", rec.Code)
	}
	rec = do(t, router, http.MethodPost, "/api/v1/dashboards/instances/"+instanceID+"/widgets/ghost/refresh", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown-widget refresh status = %d, want 404", rec.Code)
	}

	// events
	rec = do(t, router, http.MethodGet, "/api/v1/dashboards/instances/"+instanceID+"/events?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var events []models.Event
	decode(t, rec, &events)
	if len(events) == 0 {
		t.Error("no events recorded for mounted instance")
	}

	// list instances
	rec = do(t, router, http.MethodGet, "/api/v1/dashboards/instances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("instances status = %d", rec.Code)
	}
	var instances []models.InstanceSnapshot
	decode(t, rec, &instances)
	if len(instances) != 1 {
		t.Errorf("instances = %d, want 1", len(instances))
	}

	// unmount
	rec = do(t, router, http.MethodDelete, "/api/v1/dashboards/instances/"+instanceID+"/mount", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unmount status = %d, want 204", rec.Code)
	}
	rec = do(t, router, http.MethodGet, statePath, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("state after unmount status = %d, want 404", rec.Code)
	}

	// delete the stored asset
	rec = do(t, router, http.MethodDelete, "/api/v1/dashboards/"+dash.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	rec = do(t, router, http.MethodGet, "/api/v1/dashboards/"+dash.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	router := newAPI(t)

	rec := do(t, router, http.MethodPost, "/api/v1/catalog/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}
	var refreshed map[string]int
	decode(t, rec, &refreshed)
	if refreshed["count"] != 1 {
		t.Errorf("refresh count = %d, want 1", refreshed["count"])
	}

	rec = do(t, router, http.MethodGet, "/api/v1/catalog/definitions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("definitions status = %d", rec.Code)
	}
	var listed struct {
		Definitions []models.Definition `json:"definitions"`
		Count       int                 `json:"count"`
	}
	decode(t, rec, &listed)
	if listed.Count != 1 || listed.Definitions[0].ID != "def-1" {
		t.Errorf("definitions = %+v", listed)
	}
}

func TestWorkspaceEndpoints(t *testing.T) {
	router := newAPI(t)

	rec := do(t, router, http.MethodPost, "/api/v1/workspaces", map[string]string{
		"id": "acme", "name": "Acme Corp",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workspace status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/workspaces/acme", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get workspace status = %d", rec.Code)
	}
	var ws models.Workspace
	decode(t, rec, &ws)
	if ws.Name != "Acme Corp" {
		t.Errorf("workspace name = %q", ws.Name)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/workspaces/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown workspace status = %d, want 404", rec.Code)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	router := newAPI(t)

	// Create a dashboard in the acme workspace via header override.
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]interface{}{
		"name":    "acme board",
		"widgets": []models.Widget{{ID: "w1", DataSource: models.DataSource{Endpoint: "/sales"}, Render: models.RenderSpec{Type: models.RenderJSON}}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dashboards", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workspace", "acme")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	// The default workspace does not see it.
	rec2 := do(t, router, http.MethodGet, "/api/v1/dashboards", nil)
	var defaultBoards []models.Dashboard
	decode(t, rec2, &defaultBoards)
	if len(defaultBoards) != 0 {
		t.Errorf("default workspace sees %d dashboards, want 0", len(defaultBoards))
	}

	// The acme workspace does.
	req3 := httptest.NewRequest(http.MethodGet, "/api/v1/dashboards", nil)
	req3.Header.Set("X-Workspace", "acme")
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req3)
	var acmeBoards []models.Dashboard
	decode(t, rec3, &acmeBoards)
	if len(acmeBoards) != 1 {
		t.Errorf("acme workspace sees %d dashboards, want 1", len(acmeBoards))
	}
}

func TestAPIKeyGateOnRouter(t *testing.T) {
	t.Setenv("GLASSBOARD_API_KEYS", "router-key")
	router := newAPIWithKeys(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboards", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/dashboards", nil)
	req2.Header.Set("X-API-Key", "router-key")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec2.Code)
	}

	// Health stays public.
	req3 := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", rec3.Code)
	}
}

// newAPIWithKeys is newAPI without clearing GLASSBOARD_API_KEYS, for
// the auth gate test.
func newAPIWithKeys(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("GLASSBOARD_DATA_DIR", t.TempDir())

	backend := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(backend.Close)

	cfg := config.Load()
	cfg.Backend.BaseURL = backend.URL

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	cat := catalog.New(cfg.Backend, t.TempDir())
	res := resolver.New(cfg.Backend, cat)
	rt := dashboard.New(res, render.New(cfg.Render.GridRowCap))
	notifier := notify.NewService(cfg.Notify)
	auth := authoring.New(s, notifier, cfg.Authoring.SessionTTL)

	h := handlers.New(s, auth, rt, cat, notifier)
	return api.NewRouter(cfg, h, stream.NewHandler(rt))
}
