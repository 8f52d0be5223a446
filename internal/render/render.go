// Package render maps a widget's render-type tag onto a concrete view:
// a tabular grid, a pretty-printed JSON panel, or a line chart. Every
// path through the dispatcher returns a view; malformed or missing data
// degrades to an explicit notice, never a panic.
package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// DefaultGridRowCap bounds how many rows a grid view carries when the
// dispatcher is constructed without configuration.
const DefaultGridRowCap = 50

// Dispatcher turns resolved widget data into views.
type Dispatcher struct {
	gridRowCap int
}

func New(gridRowCap int) *Dispatcher {
	if gridRowCap <= 0 {
		gridRowCap = DefaultGridRowCap
	}
	return &Dispatcher{gridRowCap: gridRowCap}
}

// Render selects the view for the spec's type. A nil value means the
// resolver found nothing at the configured path; that is "no data yet",
// not an error.
func (d *Dispatcher) Render(spec models.RenderSpec, value interface{}) models.View {
	if value == nil {
		return models.NoticeView{Type: models.ViewNotice, Message: "no data"}
	}

	switch spec.Type {
	case models.RenderGrid:
		return d.renderGrid(spec, value)
	case models.RenderJSON:
		return renderJSON(value)
	case models.RenderChartLine:
		return renderLineChart(spec, value)
	default:
		return models.NoticeView{
			Type:    models.ViewNotice,
			Message: fmt.Sprintf("render type %q is not supported yet", spec.Type),
		}
	}
}

// ── grid ─────────────────────────────────────────────────────

func (d *Dispatcher) renderGrid(spec models.RenderSpec, value interface{}) models.View {
	rows := asRows(value)

	columns := spec.Columns
	if len(columns) == 0 {
		columns = inferColumns(rows)
	}
	if len(columns) == 0 {
		return models.NoticeView{Type: models.ViewNotice, Message: "no tabular data"}
	}

	total := len(rows)
	truncated := total > d.gridRowCap
	if truncated {
		rows = rows[:d.gridRowCap]
	}

	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		line := make([]string, len(columns))
		obj, _ := row.(map[string]interface{})
		for i, col := range columns {
			line[i] = cellString(obj[col])
		}
		cells = append(cells, line)
	}

	return models.GridView{
		Type:      models.ViewGrid,
		Columns:   columns,
		Cells:     cells,
		TotalRows: total,
		Truncated: truncated,
	}
}

// asRows coerces the resolved value into a row slice. A single object
// becomes a one-row table so object-shaped endpoints still render.
func asRows(value interface{}) []interface{} {
	switch v := value.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		return []interface{}{v}
	default:
		return nil
	}
}

// inferColumns derives column names from the first object row, sorted
// for a stable header order.
func inferColumns(rows []interface{}) []string {
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		columns := make([]string, 0, len(obj))
		for k := range obj {
			columns = append(columns, k)
		}
		sort.Strings(columns)
		return columns
	}
	return nil
}

func cellString(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	case map[string]interface{}, []interface{}:
		buf, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(buf)
	default:
		return fmt.Sprintf("%v", c)
	}
}

// ── json ─────────────────────────────────────────────────────

func renderJSON(value interface{}) models.View {
	buf, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return models.NoticeView{Type: models.ViewNotice, Message: "value is not renderable as JSON"}
	}
	return models.JSONView{Type: models.ViewJSON, Pretty: string(buf)}
}

// ── chart_line ───────────────────────────────────────────────

func renderLineChart(spec models.RenderSpec, value interface{}) models.View {
	xKey := spec.XKey
	if xKey == "" {
		xKey = "x"
	}
	yKey := spec.YKey
	if yKey == "" {
		yKey = "y"
	}

	var points []models.ChartPoint
	for _, row := range asRows(value) {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		y, ok := asFloat(obj[yKey])
		if !ok {
			continue
		}
		points = append(points, models.ChartPoint{X: obj[xKey], Y: y})
	}

	if len(points) == 0 {
		return models.NoticeView{Type: models.ViewNotice, Message: "no chart data"}
	}
	return models.LineChartView{
		Type:   models.ViewLineChart,
		XKey:   xKey,
		YKey:   yKey,
		Points: points,
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
