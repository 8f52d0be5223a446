// Package resolver fetches widget data from the data backend.
//
// A widget's data source names an endpoint that may be absolute, relative
// to the backend, or written against an older namespace prefix. The
// resolver normalizes the endpoint, shapes the request from the widget's
// params, and walks a three-tier fallback chain when the backend answers
// 404: the normalized path first, then the alternate-namespace rewrite,
// then a definitions-catalog match invoked by id. The tier order is
// load-bearing — when both namespaces register a matching path, the
// runtime namespace wins.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/catalog"
	"github.com/glassboard/glassboard/console-engine/internal/config"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("glassboard-console-engine")

// Source identifies which fallback tier produced a resolved value.
type Source string

const (
	// SourceDirect is an absolute endpoint used as-is.
	SourceDirect Source = "direct"
	// SourceRuntime is the primary runtime-namespace rewrite.
	SourceRuntime Source = "runtime"
	// SourceLegacy is the alternate legacy-namespace rewrite.
	SourceLegacy Source = "legacy"
	// SourceCatalog is a definitions-catalog match executed by id.
	SourceCatalog Source = "catalog"
)

// Resolved is the outcome of a successful widget data fetch.
type Resolved struct {
	// Value is the decoded response body (JSON value, or raw text when
	// the backend returns something that is not JSON).
	Value interface{}
	// Endpoint is the URL that finally answered.
	Endpoint string
	// Source records which fallback tier answered.
	Source Source
	// Status is the backend HTTP status.
	Status int
	// Duration covers the whole chain, failed tiers included.
	Duration time.Duration
}

// Resolver resolves widget data sources against the backend.
type Resolver struct {
	cfg     config.BackendConfig
	catalog *catalog.Catalog
	client  *http.Client
}

// New creates a resolver backed by the given catalog.
func New(cfg config.BackendConfig, cat *catalog.Catalog) *Resolver {
	return &Resolver{
		cfg:     cfg,
		catalog: cat,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// candidate is one attemptable form of a widget endpoint.
type candidate struct {
	url    string
	path   string
	source Source
}

// Resolve fetches the widget's data source, walking the fallback chain
// on 404. Transport errors and non-404 error statuses end the chain
// immediately — only "not found" means "try the next naming scheme".
func (r *Resolver) Resolve(ctx context.Context, widget *models.Widget) (*Resolved, error) {
	ctx, span := tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(
			attribute.String("glassboard.widget_id", widget.ID),
			attribute.String("glassboard.endpoint", widget.DataSource.Endpoint),
		))
	defer span.End()

	res, err := r.resolve(ctx, widget)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("glassboard.source", string(res.Source)),
		attribute.Int("glassboard.status", res.Status),
	)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, widget *models.Widget) (*Resolved, error) {
	start := time.Now()

	cands := r.candidates(widget.DataSource.Endpoint)
	if len(cands) == 0 {
		return nil, fmt.Errorf("widget %q has no data source endpoint", widget.ID)
	}

	method := strings.ToUpper(strings.TrimSpace(widget.DataSource.Method))
	if method == "" {
		method = http.MethodGet
	}

	for i, cand := range cands {
		if i > 0 {
			log.Debug().
				Str("widget", widget.ID).
				Str("path", cand.path).
				Msg("Data source 404, retrying alternate namespace")
		}

		status, body, err := r.do(ctx, method, cand.url, widget.DataSource.Params)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", cand.path, err)
		}
		if status == http.StatusNotFound {
			continue
		}
		if status < 200 || status > 299 {
			return nil, fmt.Errorf("backend returned %d for %s: %s", status, cand.path, snippet(body))
		}
		return &Resolved{
			Value:    decodeValue(body),
			Endpoint: cand.url,
			Source:   cand.source,
			Status:   status,
			Duration: time.Since(start),
		}, nil
	}

	// Last resort: the endpoint may be a catalog-registered alias rather
	// than a servable path. Refresh the catalog and invoke the match by id.
	res, err := r.resolveViaCatalog(ctx, widget, cands)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// resolveViaCatalog matches the attempted paths against registered
// definitions and invokes the first match through the execute-by-id
// endpoint.
func (r *Resolver) resolveViaCatalog(ctx context.Context, widget *models.Widget, cands []candidate) (*Resolved, error) {
	if err := r.catalog.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("widget", widget.ID).Msg("Catalog refresh failed during fallback, matching against cached definitions")
	}

	var def *models.Definition
	for _, cand := range cands {
		if def = r.catalog.MatchEndpoint(cand.path); def != nil {
			break
		}
	}
	if def == nil {
		attempted := make([]string, len(cands))
		for i, cand := range cands {
			attempted[i] = cand.path
		}
		return nil, fmt.Errorf("data source not found: 404 on %s and no catalog definition matches", strings.Join(attempted, ", "))
	}

	log.Warn().
		Str("widget", widget.ID).
		Str("definition", def.ID).
		Msg("Data source resolved through catalog fallback")

	execURL := r.cfg.BaseURL + fmt.Sprintf(r.cfg.ExecutePath, def.ID)
	status, body, err := r.do(ctx, http.MethodPost, execURL, widget.DataSource.Params)
	if err != nil {
		return nil, fmt.Errorf("execute definition %s: %w", def.ID, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("execute definition %s returned %d: %s", def.ID, status, snippet(body))
	}

	return &Resolved{
		Value:    decodeValue(body),
		Endpoint: execURL,
		Source:   SourceCatalog,
		Status:   status,
	}, nil
}

// candidates normalizes a widget endpoint into the ordered list of URLs
// to attempt. Absolute endpoints pass through untouched; relative ones
// are rewritten under the runtime namespace, with the legacy-namespace
// form as the alternate.
func (r *Resolver) candidates(endpoint string) []candidate {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil
	}

	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		path := ep
		if u, err := url.Parse(ep); err == nil {
			path = u.Path
		}
		return []candidate{{url: ep, path: path, source: SourceDirect}}
	}

	if !strings.HasPrefix(ep, "/") {
		ep = "/" + ep
	}

	runtime := r.cfg.RuntimeNamespace
	legacy := r.cfg.LegacyNamespace

	var primary string
	switch {
	case legacy != "" && strings.HasPrefix(ep, legacy+"/"):
		primary = runtime + strings.TrimPrefix(ep, legacy)
	case runtime != "" && strings.HasPrefix(ep, runtime+"/"):
		primary = ep
	default:
		primary = runtime + ep
	}

	out := []candidate{{url: r.cfg.BaseURL + primary, path: primary, source: SourceRuntime}}

	if legacy != "" && runtime != "" {
		alternate := legacy + strings.TrimPrefix(primary, runtime)
		if alternate != primary {
			out = append(out, candidate{url: r.cfg.BaseURL + alternate, path: alternate, source: SourceLegacy})
		}
	}
	return out
}

// do shapes and sends one request. GET serializes params into the query
// string; every other method sends them as a JSON body.
func (r *Resolver) do(ctx context.Context, method, rawURL string, params map[string]interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if method == http.MethodGet {
		if qs := queryString(params); qs != "" {
			sep := "?"
			if strings.Contains(rawURL, "?") {
				sep = "&"
			}
			rawURL += sep + qs
		}
	} else {
		payload := params
		if payload == nil {
			payload = map[string]interface{}{}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode params: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// queryString encodes params as URL query pairs. Values are stringified;
// nil becomes the empty string so the key still appears.
func queryString(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, stringify(v))
	}
	return q.Encode()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case json.Number:
		return t.String()
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

// decodeValue parses the response body as JSON, falling back to the raw
// text for backends that answer with plain strings.
func decodeValue(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}

// Pluck walks a dot-separated path through decoded JSON. Numeric
// segments index into arrays. A missing or non-indexable segment yields
// nil — absent data is "no data yet", not an error.
func Pluck(value interface{}, path string) interface{} {
	if path == "" {
		return value
	}
	cur := value
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}
