package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ── Dashboard Versioning ─────────────────────────────────────

// DefaultDashboardVersion is the initial version assigned to newly created dashboards.
const DefaultDashboardVersion = "1"

// BumpVersion increments a numeric version string. Non-numeric versions
// pass through unchanged: imported boards may carry semver or date
// strings this engine has no bump rule for.
func BumpVersion(v string) string {
	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n + 1)
	}
	return v
}

// ── Draft Envelope ───────────────────────────────────────────

// DraftKind tags which authoring domain an envelope belongs to.
type DraftKind string

const (
	// DraftKindAPI is an API definition draft (endpoint + logic spec).
	DraftKindAPI DraftKind = "api_draft"
	// DraftKindUI is a dashboard draft (widget tree).
	DraftKindUI DraftKind = "ui_draft"
)

// DraftMode selects full replacement vs incremental patching.
type DraftMode string

const (
	DraftModeReplace DraftMode = "replace"
	DraftModePatch   DraftMode = "patch"
)

// Envelope is the outer JSON object an assistant is instructed to return.
// Exactly one of Draft/Patch is present, matching Mode.
type Envelope struct {
	Type  string                 `json:"type"`
	Mode  DraftMode              `json:"mode,omitempty"`
	Draft map[string]interface{} `json:"draft,omitempty"`
	Patch []PatchOp              `json:"patch,omitempty"`
	Notes string                 `json:"notes,omitempty"`
}

// OpReplace is the only patch op code the engine recognizes.
// Unknown op codes are skipped, not rejected.
const OpReplace = "replace"

// PatchOp replaces the value at a /-delimited path inside a draft.
// A path segment that parses as a non-negative integer addresses an
// array index; anything else addresses an object key.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// ── API Draft ────────────────────────────────────────────────

// LogicType selects the execution backend a definition delegates to.
type LogicType string

const (
	LogicSQL  LogicType = "sql"
	LogicHTTP LogicType = "http"
)

// HTTPSpec describes an HTTP call a definition performs when executed.
// The engine validates and stores it; execution happens elsewhere.
type HTTPSpec struct {
	Method  string                 `json:"method,omitempty"`
	URL     string                 `json:"url"`
	Headers map[string]string      `json:"headers,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Body    interface{}            `json:"body,omitempty"`
}

// Logic is the variant payload of an API draft: sql{query} or http{spec}.
type Logic struct {
	Type  LogicType `json:"type"`
	Query string    `json:"query,omitempty"`
	Spec  *HTTPSpec `json:"spec,omitempty"`
}

// APIDraft is the typed shape of an accepted api_draft payload.
type APIDraft struct {
	Name        string                 `json:"name"`
	Method      string                 `json:"method"`
	Endpoint    string                 `json:"endpoint"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Policy      map[string]interface{} `json:"policy,omitempty"`
	Active      bool                   `json:"active"`
	Logic       *Logic                 `json:"logic,omitempty"`
}

// ── UI Draft ─────────────────────────────────────────────────

// UIDraft is the typed shape of an accepted ui_draft payload.
// Layout is left loose: it is either a widget tree ({"widgets": [...]})
// or the fields of a single widget.
type UIDraft struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Layout      map[string]interface{}   `json:"layout"`
	Bindings    map[string]interface{}   `json:"bindings,omitempty"`
	Actions     []map[string]interface{} `json:"actions,omitempty"`
}

// DecodeAPIDraft converts a normalized draft map into its typed form.
func DecodeAPIDraft(m map[string]interface{}) (*APIDraft, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	var d APIDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode api draft: %w", err)
	}
	return &d, nil
}

// DecodeUIDraft converts a normalized draft map into its typed form.
func DecodeUIDraft(m map[string]interface{}) (*UIDraft, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	var d UIDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode ui draft: %w", err)
	}
	return &d, nil
}

// ── Widget Schema ────────────────────────────────────────────

// GridColumns is the column count of the dashboard grid system.
const GridColumns = 12

// LayoutRect positions a widget on the dashboard grid.
type LayoutRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Clamp forces the rect into the grid system: W in [1,12], H ≥ 1.
func (l *LayoutRect) Clamp() {
	if l.W < 1 {
		l.W = 1
	}
	if l.W > GridColumns {
		l.W = GridColumns
	}
	if l.H < 1 {
		l.H = 1
	}
}

// DataSource names where a widget's rows come from.
type DataSource struct {
	Endpoint string                 `json:"endpoint"`
	Method   string                 `json:"method,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// RenderType selects which visual the dispatcher produces.
type RenderType string

const (
	RenderGrid      RenderType = "grid"
	RenderJSON      RenderType = "json"
	RenderChartLine RenderType = "chart_line"
)

// RenderSpec carries the render-type tag plus its path fields.
// xKey/yKey accept snake_case aliases (x_key/y_key) from older drafts.
type RenderSpec struct {
	Type      RenderType `json:"type"`
	Columns   []string   `json:"columns,omitempty"`
	RowsPath  string     `json:"rowsPath,omitempty"`
	ValuePath string     `json:"valuePath,omitempty"`
	XKey      string     `json:"xKey,omitempty"`
	YKey      string     `json:"yKey,omitempty"`
}

// UnmarshalJSON folds the legacy snake_case key aliases into the
// canonical fields.
func (r *RenderSpec) UnmarshalJSON(data []byte) error {
	type plain RenderSpec
	aux := struct {
		*plain
		RowsPathAlt  string `json:"rows_path"`
		ValuePathAlt string `json:"value_path"`
		XKeyAlt      string `json:"x_key"`
		YKeyAlt      string `json:"y_key"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.RowsPath == "" {
		r.RowsPath = aux.RowsPathAlt
	}
	if r.ValuePath == "" {
		r.ValuePath = aux.ValuePathAlt
	}
	if r.XKey == "" {
		r.XKey = aux.XKeyAlt
	}
	if r.YKey == "" {
		r.YKey = aux.YKeyAlt
	}
	return nil
}

// Widget is the declarative description of one dashboard panel.
type Widget struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Layout     LayoutRect `json:"layout"`
	DataSource DataSource `json:"data_source"`
	Render     RenderSpec `json:"render"`
}

// WidgetsOf extracts the widget list from a ui draft layout. The layout
// is either {"widgets": [...]} or the fields of a single widget.
func WidgetsOf(layout map[string]interface{}) ([]Widget, error) {
	if layout == nil {
		return nil, fmt.Errorf("layout is empty")
	}
	if tree, ok := layout["widgets"]; ok {
		raw, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("encode widget tree: %w", err)
		}
		var widgets []Widget
		if err := json.Unmarshal(raw, &widgets); err != nil {
			return nil, fmt.Errorf("decode widget tree: %w", err)
		}
		return widgets, nil
	}
	// Single-widget layout
	raw, err := json.Marshal(layout)
	if err != nil {
		return nil, fmt.Errorf("encode widget: %w", err)
	}
	var w Widget
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode widget: %w", err)
	}
	return []Widget{w}, nil
}

// ── Views (render output) ────────────────────────────────────

// ViewKind discriminates the concrete view types on the wire.
type ViewKind string

const (
	ViewGrid      ViewKind = "grid"
	ViewJSON      ViewKind = "json"
	ViewLineChart ViewKind = "chart_line"
	ViewNotice    ViewKind = "notice"
)

// View is the closed set of visuals the render dispatcher can produce.
// The unexported method keeps the union sealed to this package.
type View interface {
	Kind() ViewKind
	sealedView()
}

// GridView is a tabular rendering. Cells are aligned to Columns;
// missing values are empty strings.
type GridView struct {
	Type      ViewKind   `json:"type"`
	Columns   []string   `json:"columns"`
	Cells     [][]string `json:"cells"`
	TotalRows int        `json:"total_rows"`
	Truncated bool       `json:"truncated,omitempty"`
}

func (v GridView) Kind() ViewKind { return ViewGrid }
func (GridView) sealedView()      {}

// JSONView is a pretty-printed value rendering.
type JSONView struct {
	Type   ViewKind `json:"type"`
	Pretty string   `json:"pretty"`
}

func (v JSONView) Kind() ViewKind { return ViewJSON }
func (JSONView) sealedView()      {}

// ChartPoint is one {x, y} pair of a line chart.
type ChartPoint struct {
	X interface{} `json:"x"`
	Y float64     `json:"y"`
}

// LineChartView is a line-chart rendering built from x/y pairs.
type LineChartView struct {
	Type   ViewKind     `json:"type"`
	XKey   string       `json:"x_key"`
	YKey   string       `json:"y_key"`
	Points []ChartPoint `json:"points"`
}

func (v LineChartView) Kind() ViewKind { return ViewLineChart }
func (LineChartView) sealedView()      {}

// NoticeView is a static placeholder: "no data", "no chart data",
// "render type X not supported yet".
type NoticeView struct {
	Type    ViewKind `json:"type"`
	Message string   `json:"message"`
}

func (v NoticeView) Kind() ViewKind { return ViewNotice }
func (NoticeView) sealedView()      {}

// ── Dashboard ────────────────────────────────────────────────

// Dashboard is a stored, versioned widget layout owned by a workspace.
type Dashboard struct {
	ID          string                   `json:"id"`
	Workspace   string                   `json:"workspace"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Version     string                   `json:"version"`
	Widgets     []Widget                 `json:"widgets"`
	Bindings    map[string]interface{}   `json:"bindings,omitempty"`
	Actions     []map[string]interface{} `json:"actions,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// WidgetStatus is the lifecycle state of one widget's fetch.
type WidgetStatus string

const (
	WidgetPending     WidgetStatus = "pending"
	WidgetLoading     WidgetStatus = "loading"
	WidgetReady       WidgetStatus = "ready"
	WidgetEmpty       WidgetStatus = "empty"
	WidgetError       WidgetStatus = "error"
	WidgetUnsupported WidgetStatus = "unsupported"
)

// WidgetState is the live state of one widget inside a mounted dashboard.
type WidgetState struct {
	WidgetID   string       `json:"widget_id"`
	Status     WidgetStatus `json:"status"`
	View       View         `json:"view,omitempty"`
	Error      string       `json:"error,omitempty"`
	Generation int64        `json:"generation"`
	DurationMs int64        `json:"duration_ms,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// InstanceSnapshot is the externally visible state of a mounted dashboard.
type InstanceSnapshot struct {
	InstanceID  string        `json:"instance_id"`
	DashboardID string        `json:"dashboard_id"`
	Workspace   string        `json:"workspace"`
	ReloadCount int64         `json:"reload_count"`
	MountedAt   time.Time     `json:"mounted_at"`
	Widgets     []WidgetState `json:"widgets"`
}

// ── Dashboard Events ─────────────────────────────────────────

// EventType describes a widget-runtime transition.
type EventType string

const (
	EventDashboardMounted   EventType = "dashboard_mounted"
	EventDashboardReloaded  EventType = "dashboard_reloaded"
	EventDashboardUnmounted EventType = "dashboard_unmounted"
	EventWidgetLoading      EventType = "widget_loading"
	EventWidgetReady        EventType = "widget_ready"
	EventWidgetEmpty        EventType = "widget_empty"
	EventWidgetError        EventType = "widget_error"
	EventWidgetUnsupported  EventType = "widget_unsupported"
)

// Event is one entry in a dashboard instance's event feed.
type Event struct {
	Seq         int64        `json:"seq"`
	Type        EventType    `json:"type"`
	InstanceID  string       `json:"instance_id"`
	DashboardID string       `json:"dashboard_id"`
	WidgetID    string       `json:"widget_id,omitempty"`
	Status      WidgetStatus `json:"status,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ── Authoring Sessions ───────────────────────────────────────

// ScopeNew is the draft scope used while authoring an asset that does
// not exist yet.
const ScopeNew = "new"

// AuthoringTurn records one assistant message ingested into a session.
type AuthoringTurn struct {
	Seq      int       `json:"seq"`
	Mode     DraftMode `json:"mode"`
	Accepted bool      `json:"accepted"`
	Notes    string    `json:"notes,omitempty"`
	Error    string    `json:"error,omitempty"`
	Added    int       `json:"added"`
	Removed  int       `json:"removed"`
	At       time.Time `json:"at"`
}

// AuthoringSession is a server-side authoring form: the in-progress
// draft for one asset scope, refined turn by turn.
type AuthoringSession struct {
	ID        string                 `json:"id"`
	Workspace string                 `json:"workspace"`
	Scope     string                 `json:"scope"`
	Kind      DraftKind              `json:"kind"`
	Draft     map[string]interface{} `json:"draft,omitempty"`
	Turns     []AuthoringTurn        `json:"turns,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt time.Time              `json:"expires_at,omitempty"`
}

// Key is the scoped draft-store key for this session's workspace+scope.
func (s *AuthoringSession) Key() string {
	return s.Workspace + "/" + s.Scope
}

// ── Validation ───────────────────────────────────────────────

// ValidationResult accumulates everything wrong (and questionable)
// about a draft in one pass.
type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddError appends an error and flips OK.
func (r *ValidationResult) AddError(format string, args ...interface{}) {
	r.OK = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddWarning appends a warning; warnings do not affect OK.
func (r *ValidationResult) AddWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ── Definitions Catalog ──────────────────────────────────────

// Definition is one registered API definition from the data backend's
// catalog, used for last-resort endpoint resolution.
type Definition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint"`
	Method      string    `json:"method"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Active      bool      `json:"active"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// ── Workspace ────────────────────────────────────────────────

// Workspace is the tenancy unit. Every session and dashboard belongs
// to exactly one workspace.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
