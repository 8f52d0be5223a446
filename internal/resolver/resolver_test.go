package resolver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/catalog"
	"github.com/glassboard/glassboard/console-engine/internal/config"
	"github.com/glassboard/glassboard/console-engine/internal/resolver"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

func backendConfig(baseURL string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL:          baseURL,
		RuntimeNamespace: "/api/runtime",
		LegacyNamespace:  "/api/services",
		CatalogPath:      "/api/definitions",
		ExecutePath:      "/api/definitions/%s/execute",
		CatalogRefresh:   time.Hour,
	}
}

func newResolver(t *testing.T, baseURL string) *resolver.Resolver {
	t.Helper()
	cfg := backendConfig(baseURL)
	return resolver.New(cfg, catalog.New(cfg, t.TempDir()))
}

func widget(endpoint, method string, params map[string]interface{}) *models.Widget {
	return &models.Widget{
		ID:         "w1",
		DataSource: models.DataSource{Endpoint: endpoint, Method: method, Params: params},
	}
}

func TestResolveRelativeEndpointHitsRuntimeNamespace(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]interface{}{"rows": []interface{}{1, 2}})
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	res, err := r.Resolve(context.Background(), widget("/metrics/daily", "", map[string]interface{}{
		"limit": float64(10),
		"q":     nil,
	}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if gotPath != "/api/runtime/metrics/daily" {
		t.Errorf("path = %q, want /api/runtime/metrics/daily", gotPath)
	}
	if gotQuery.Get("limit") != "10" {
		t.Errorf("limit query = %q, want 10", gotQuery.Get("limit"))
	}
	if v, ok := gotQuery["q"]; !ok || v[0] != "" {
		t.Errorf("nil param should serialize as empty string, got %v", gotQuery["q"])
	}
	if res.Source != resolver.SourceRuntime {
		t.Errorf("source = %q, want runtime", res.Source)
	}
	m, ok := res.Value.(map[string]interface{})
	if !ok {
		t.Fatalf("value type = %T, want map", res.Value)
	}
	if _, ok := m["rows"]; !ok {
		t.Error("decoded value missing rows key")
	}
}

func TestResolveRewritesLegacyNamespaceToRuntime(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	if _, err := r.Resolve(context.Background(), widget("/api/services/metrics/daily", "GET", nil)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotPath != "/api/runtime/metrics/daily" {
		t.Errorf("legacy endpoint should be rewritten to runtime namespace first, got %q", gotPath)
	}
}

func TestResolveFallsBackToLegacyNamespaceOn404(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/services/metrics/daily" {
			w.Write([]byte(`[1,2,3]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	res, err := r.Resolve(context.Background(), widget("/metrics/daily", "GET", nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := []string{"/api/runtime/metrics/daily", "/api/services/metrics/daily"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("attempted paths = %v, want %v", paths, want)
	}
	if res.Source != resolver.SourceLegacy {
		t.Errorf("source = %q, want legacy", res.Source)
	}
}

func TestResolveCatalogFallbackExecutesByID(t *testing.T) {
	var executed atomic.Bool
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/definitions":
			json.NewEncoder(w).Encode([]models.Definition{
				{ID: "def-9", Name: "daily metrics", Endpoint: "/api/services/metrics/daily", Method: "GET", Active: true},
			})
		case "/api/definitions/def-9/execute":
			if r.Method != http.MethodPost {
				t.Errorf("execute method = %s, want POST", r.Method)
			}
			executed.Store(true)
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.Write([]byte(`{"rows":[{"a":1}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	res, err := r.Resolve(context.Background(), widget("/metrics/daily", "GET", map[string]interface{}{"limit": float64(5)}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if !executed.Load() {
		t.Fatal("catalog fallback should invoke the execute-by-id endpoint")
	}
	if res.Source != resolver.SourceCatalog {
		t.Errorf("source = %q, want catalog", res.Source)
	}
	if res.Endpoint != srv.URL+"/api/definitions/def-9/execute" {
		t.Errorf("endpoint = %q", res.Endpoint)
	}
	if gotBody["limit"] != float64(5) {
		t.Errorf("execute body limit = %v, want 5", gotBody["limit"])
	}
}

func TestResolveExhaustedChainReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/definitions" {
			w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	if _, err := r.Resolve(context.Background(), widget("/metrics/daily", "GET", nil)); err == nil {
		t.Fatal("expected error after exhausting all fallback tiers")
	}
}

func TestResolveAbsoluteEndpointPassesThrough(t *testing.T) {
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"external":true}`))
	}))
	defer external.Close()

	// Backend that would fail: proves the absolute URL never touches it.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not receive requests for absolute endpoints")
	}))
	defer backend.Close()

	r := newResolver(t, backend.URL)
	res, err := r.Resolve(context.Background(), widget(external.URL+"/data", "GET", nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != resolver.SourceDirect {
		t.Errorf("source = %q, want direct", res.Source)
	}
}

func TestResolvePostSendsParamsAsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), widget("/metrics/rollup", "post", map[string]interface{}{"window": "7d"}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotBody["window"] != "7d" {
		t.Errorf("body window = %v, want 7d", gotBody["window"])
	}
}

func TestResolveNon404ErrorStopsChain(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	if _, err := r.Resolve(context.Background(), widget("/metrics/daily", "GET", nil)); err == nil {
		t.Fatal("expected error for 500 response")
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1 (500 must not trigger fallback)", hits.Load())
	}
}

func TestResolveContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	r := newResolver(t, srv.URL)

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, widget("/slow", "GET", nil))
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return after cancellation")
	}
}

func TestPluck(t *testing.T) {
	var value interface{}
	if err := json.Unmarshal([]byte(`{"a":{"b":[{"c":42},{"c":7}]},"s":"x"}`), &value); err != nil {
		t.Fatal(err)
	}

	if root, ok := resolver.Pluck(value, "").(map[string]interface{}); !ok || root["s"] != "x" {
		t.Error("empty path should return the value unchanged")
	}

	tests := []struct {
		path string
		want interface{}
	}{
		{"a.b.0.c", float64(42)},
		{"a.b.1.c", float64(7)},
		{"s", "x"},
		{"a.missing", nil},
		{"a.b.9.c", nil},
		{"a.b.x", nil},
		{"s.deeper", nil},
	}
	for _, tt := range tests {
		if got := resolver.Pluck(value, tt.path); got != tt.want {
			t.Errorf("Pluck(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
