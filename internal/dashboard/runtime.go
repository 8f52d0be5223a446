// Package dashboard runs mounted dashboards.
//
// Each mounted dashboard is an instance holding one independent fetch
// lifecycle per widget. Lifecycles are keyed by a per-widget generation
// counter: parameter updates and refreshes supersede the outstanding
// fetch, whose result is discarded when it lands so a stale response
// never overwrites a newer one. Reload bumps the instance's reload
// counter and refetches every widget regardless of whether its own
// parameters changed. One widget failing never blocks its siblings.
//
// State transitions flow into an event feed consumed by the WebSocket
// stream and the events endpoint.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/render"
	"github.com/glassboard/glassboard/console-engine/internal/resolver"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrInstanceNotFound is returned for operations on unmounted instances.
var ErrInstanceNotFound = errors.New("dashboard instance not found")

// ErrWidgetNotFound is returned when a widget id is not part of the
// mounted dashboard.
var ErrWidgetNotFound = errors.New("widget not found")

// Runtime orchestrates mounted dashboard instances.
type Runtime struct {
	resolver *resolver.Resolver
	renderer *render.Dispatcher

	// Mounted instances: instanceID → instance
	instMu    sync.RWMutex
	instances map[string]*instance

	feed *Feed
}

// New creates a dashboard runtime.
func New(res *resolver.Resolver, disp *render.Dispatcher) *Runtime {
	return &Runtime{
		resolver:  res,
		renderer:  disp,
		instances: make(map[string]*instance),
		feed:      NewFeed(DefaultFeedSize),
	}
}

// Feed exposes the runtime event feed for streaming consumers.
func (rt *Runtime) Feed() *Feed { return rt.feed }

// instance is one mounted dashboard.
type instance struct {
	id          string
	workspace   string
	dashboardID string
	mountedAt   time.Time

	mu      sync.RWMutex
	reloads int64
	widgets map[string]*widgetRun
	order   []string
}

// widgetRun is the live fetch lifecycle of one widget.
type widgetRun struct {
	widget     models.Widget
	state      models.WidgetState
	generation int64
	cancel     context.CancelFunc
}

// Mount creates an instance for the dashboard and starts one fetch
// lifecycle per widget. Layout rects are clamped into the grid system
// on the way in.
func (rt *Runtime) Mount(dash *models.Dashboard) (string, error) {
	if dash == nil {
		return "", fmt.Errorf("dashboard is nil")
	}

	instanceID := uuid.New().String()
	inst := &instance{
		id:          instanceID,
		workspace:   dash.Workspace,
		dashboardID: dash.ID,
		mountedAt:   time.Now().UTC(),
		widgets:     make(map[string]*widgetRun, len(dash.Widgets)),
	}

	for _, w := range dash.Widgets {
		if w.ID == "" {
			return "", fmt.Errorf("widget without id in dashboard %q", dash.ID)
		}
		if _, dup := inst.widgets[w.ID]; dup {
			return "", fmt.Errorf("duplicate widget id %q in dashboard %q", w.ID, dash.ID)
		}
		w.Layout.Clamp()
		inst.widgets[w.ID] = &widgetRun{
			widget: w,
			state: models.WidgetState{
				WidgetID:  w.ID,
				Status:    models.WidgetPending,
				UpdatedAt: inst.mountedAt,
			},
		}
		inst.order = append(inst.order, w.ID)
	}

	rt.instMu.Lock()
	rt.instances[instanceID] = inst
	rt.instMu.Unlock()

	log.Info().
		Str("instance", instanceID).
		Str("dashboard", dash.ID).
		Str("workspace", dash.Workspace).
		Int("widgets", len(inst.order)).
		Msg("Dashboard mounted")

	rt.feed.Emit(models.Event{
		Type:        models.EventDashboardMounted,
		InstanceID:  instanceID,
		DashboardID: dash.ID,
	})

	rt.launchAll(inst, inst.order)
	return instanceID, nil
}

// Reload bumps the instance's reload counter and refetches every
// widget, parameter changes or not.
func (rt *Runtime) Reload(instanceID string) error {
	inst, err := rt.instance(instanceID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	inst.reloads++
	reload := inst.reloads
	ids := append([]string(nil), inst.order...)
	inst.mu.Unlock()

	log.Info().
		Str("instance", instanceID).
		Int64("reload", reload).
		Int("widgets", len(ids)).
		Msg("Dashboard reload: refetching every widget")

	rt.feed.Emit(models.Event{
		Type:        models.EventDashboardReloaded,
		InstanceID:  instanceID,
		DashboardID: inst.dashboardID,
	})

	rt.launchAll(inst, ids)
	return nil
}

// RefreshWidget refetches a single widget's data source.
func (rt *Runtime) RefreshWidget(instanceID, widgetID string) error {
	inst, err := rt.instance(instanceID)
	if err != nil {
		return err
	}
	work, err := rt.begin(inst, widgetID)
	if err != nil {
		return err
	}
	go work()
	return nil
}

// UpdateWidgetParams replaces a widget's params and starts a new fetch
// lifecycle. The superseded fetch is cancelled; if its response still
// lands, the generation check discards it.
func (rt *Runtime) UpdateWidgetParams(instanceID, widgetID string, params map[string]interface{}) error {
	inst, err := rt.instance(instanceID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	run, ok := inst.widgets[widgetID]
	if !ok {
		inst.mu.Unlock()
		return fmt.Errorf("instance %s: %w: %s", instanceID, ErrWidgetNotFound, widgetID)
	}
	run.widget.DataSource.Params = params
	inst.mu.Unlock()

	work, err := rt.begin(inst, widgetID)
	if err != nil {
		return err
	}
	go work()
	return nil
}

// Unmount cancels all widget lifecycles and drops the instance. No
// further state updates occur for in-flight fetches.
func (rt *Runtime) Unmount(instanceID string) error {
	rt.instMu.Lock()
	inst, ok := rt.instances[instanceID]
	if ok {
		delete(rt.instances, instanceID)
	}
	rt.instMu.Unlock()
	if !ok {
		return ErrInstanceNotFound
	}

	inst.mu.Lock()
	for _, run := range inst.widgets {
		if run.cancel != nil {
			run.cancel()
			run.cancel = nil
		}
		// Outstanding fetches see a newer generation and discard.
		run.generation++
	}
	inst.mu.Unlock()

	log.Info().Str("instance", instanceID).Msg("Dashboard unmounted")

	rt.feed.Emit(models.Event{
		Type:        models.EventDashboardUnmounted,
		InstanceID:  instanceID,
		DashboardID: inst.dashboardID,
	})
	return nil
}

// Snapshot returns the externally visible state of an instance, widgets
// in mount order.
func (rt *Runtime) Snapshot(instanceID string) (*models.InstanceSnapshot, error) {
	inst, err := rt.instance(instanceID)
	if err != nil {
		return nil, err
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	snap := &models.InstanceSnapshot{
		InstanceID:  inst.id,
		DashboardID: inst.dashboardID,
		Workspace:   inst.workspace,
		ReloadCount: inst.reloads,
		MountedAt:   inst.mountedAt,
		Widgets:     make([]models.WidgetState, 0, len(inst.order)),
	}
	for _, id := range inst.order {
		snap.Widgets = append(snap.Widgets, inst.widgets[id].state)
	}
	return snap, nil
}

// Instances lists snapshots of every mounted instance in a workspace,
// oldest mount first. An empty workspace matches all.
func (rt *Runtime) Instances(workspace string) []*models.InstanceSnapshot {
	rt.instMu.RLock()
	ids := make([]string, 0, len(rt.instances))
	for id, inst := range rt.instances {
		if workspace != "" && inst.workspace != workspace {
			continue
		}
		ids = append(ids, id)
	}
	rt.instMu.RUnlock()

	snaps := make([]*models.InstanceSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := rt.Snapshot(id); err == nil {
			snaps = append(snaps, snap)
		}
	}
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j].MountedAt.Before(snaps[j-1].MountedAt); j-- {
			snaps[j], snaps[j-1] = snaps[j-1], snaps[j]
		}
	}
	return snaps
}

// Events returns the last n feed events for an instance, oldest first.
func (rt *Runtime) Events(instanceID string, n int) ([]models.Event, error) {
	if _, err := rt.instance(instanceID); err != nil {
		return nil, err
	}
	return rt.feed.Recent(instanceID, n), nil
}

func (rt *Runtime) instance(id string) (*instance, error) {
	rt.instMu.RLock()
	defer rt.instMu.RUnlock()
	inst, ok := rt.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst, nil
}

// launchAll fans the widget fetches out and logs when the batch
// settles. Each fetch runs under its own cancellable context so one
// widget's failure or hang never blocks the others.
func (rt *Runtime) launchAll(inst *instance, ids []string) {
	g := new(errgroup.Group)
	started := 0
	for _, id := range ids {
		work, err := rt.begin(inst, id)
		if err != nil {
			continue
		}
		g.Go(func() error {
			work()
			return nil
		})
		started++
	}
	if started == 0 {
		return
	}
	go func(n int) {
		start := time.Now()
		_ = g.Wait()
		log.Debug().
			Str("instance", inst.id).
			Int("widgets", n).
			Dur("elapsed", time.Since(start)).
			Msg("Widget fetches settled")
	}(started)
}

// begin supersedes any outstanding lifecycle for the widget, marks it
// loading, and returns the blocking fetch to run on a goroutine.
func (rt *Runtime) begin(inst *instance, widgetID string) (func(), error) {
	inst.mu.Lock()
	run, ok := inst.widgets[widgetID]
	if !ok {
		inst.mu.Unlock()
		return nil, fmt.Errorf("instance %s: %w: %s", inst.id, ErrWidgetNotFound, widgetID)
	}

	if run.cancel != nil {
		run.cancel()
	}
	run.generation++
	gen := run.generation

	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	widget := run.widget

	run.state.Status = models.WidgetLoading
	run.state.Error = ""
	run.state.Generation = gen
	run.state.UpdatedAt = time.Now().UTC()
	inst.mu.Unlock()

	rt.feed.Emit(models.Event{
		Type:        models.EventWidgetLoading,
		InstanceID:  inst.id,
		DashboardID: inst.dashboardID,
		WidgetID:    widgetID,
		Status:      models.WidgetLoading,
	})

	return func() {
		defer cancel()
		rt.fetch(ctx, inst, widgetID, widget, gen)
	}, nil
}

// fetch resolves the widget's data source and writes the terminal
// state back, unless a newer lifecycle superseded this one.
func (rt *Runtime) fetch(ctx context.Context, inst *instance, widgetID string, widget models.Widget, gen int64) {
	start := time.Now()

	res, err := rt.resolver.Resolve(ctx, &widget)

	var (
		status models.WidgetStatus
		view   models.View
		errMsg string
	)
	switch {
	case err != nil && ctx.Err() != nil:
		// Superseded or unmounted mid-flight. The newer lifecycle owns
		// the state now.
		log.Debug().
			Str("instance", inst.id).
			Str("widget", widgetID).
			Int64("generation", gen).
			Msg("Widget fetch cancelled")
		return
	case err != nil:
		status = models.WidgetError
		errMsg = err.Error()
		view = models.NoticeView{Type: models.ViewNotice, Message: "no data"}
	default:
		status, view = rt.present(widget.Render, res.Value)
	}

	inst.mu.Lock()
	run, ok := inst.widgets[widgetID]
	if !ok || run.generation != gen {
		inst.mu.Unlock()
		log.Debug().
			Str("instance", inst.id).
			Str("widget", widgetID).
			Int64("generation", gen).
			Msg("Stale widget fetch discarded")
		return
	}
	run.cancel = nil
	run.state = models.WidgetState{
		WidgetID:   widgetID,
		Status:     status,
		View:       view,
		Error:      errMsg,
		Generation: gen,
		DurationMs: time.Since(start).Milliseconds(),
		UpdatedAt:  time.Now().UTC(),
	}
	inst.mu.Unlock()

	if status == models.WidgetError {
		log.Warn().
			Str("instance", inst.id).
			Str("widget", widgetID).
			Str("error", errMsg).
			Msg("Widget fetch failed")
	}

	rt.feed.Emit(models.Event{
		Type:        eventFor(status),
		InstanceID:  inst.id,
		DashboardID: inst.dashboardID,
		WidgetID:    widgetID,
		Status:      status,
		Error:       errMsg,
	})
}

// present plucks the configured path out of the resolved payload and
// renders it, classifying the widget's terminal status.
func (rt *Runtime) present(spec models.RenderSpec, payload interface{}) (models.WidgetStatus, models.View) {
	supported := spec.Type == models.RenderGrid ||
		spec.Type == models.RenderJSON ||
		spec.Type == models.RenderChartLine

	path := spec.RowsPath
	if path == "" {
		path = spec.ValuePath
	}
	value := payload
	if path != "" {
		value = resolver.Pluck(payload, path)
	}
	// json shows the whole payload when the path has nothing yet.
	if spec.Type == models.RenderJSON && value == nil {
		value = payload
	}

	view := rt.renderer.Render(spec, value)

	switch {
	case !supported:
		return models.WidgetUnsupported, view
	case value == nil:
		return models.WidgetEmpty, view
	default:
		if _, degraded := view.(models.NoticeView); degraded {
			return models.WidgetEmpty, view
		}
		return models.WidgetReady, view
	}
}

func eventFor(status models.WidgetStatus) models.EventType {
	switch status {
	case models.WidgetReady:
		return models.EventWidgetReady
	case models.WidgetEmpty:
		return models.EventWidgetEmpty
	case models.WidgetUnsupported:
		return models.EventWidgetUnsupported
	default:
		return models.EventWidgetError
	}
}
