// Package validate enforces the shape and domain rules a draft must
// satisfy before it is applied to an authoring form.
//
// Rules per kind:
//   - api_draft: name, endpoint, method, and the logic variant
//     (sql queries pass the SQL gate; http logic needs a url)
//   - ui_draft:  name and a layout object
//
// Errors and warnings are accumulated, not short-circuited, so a caller
// can show the complete list in one pass.
package validate

import (
	"regexp"
	"strings"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// allowedMethods are the HTTP methods an api draft may declare.
var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

// Draft validates a normalized draft map against the rules for its kind.
func Draft(kind models.DraftKind, draft map[string]interface{}) models.ValidationResult {
	res := models.ValidationResult{OK: true}
	if draft == nil {
		res.AddError("draft is empty")
		return res
	}

	switch kind {
	case models.DraftKindAPI:
		apiDraft(draft, &res)
	case models.DraftKindUI:
		uiDraft(draft, &res)
	default:
		res.AddError("unknown draft kind %q", kind)
	}
	return res
}

// ── API Draft ────────────────────────────────────────────────

func apiDraft(m map[string]interface{}, res *models.ValidationResult) {
	d, err := models.DecodeAPIDraft(m)
	if err != nil {
		res.AddError("draft does not decode as an api draft: %v", err)
		return
	}

	if strings.TrimSpace(d.Name) == "" {
		res.AddError("name is required")
	}
	if d.Endpoint == "" {
		res.AddError("endpoint is required")
	} else if !strings.HasPrefix(d.Endpoint, "/") {
		res.AddError("endpoint must start with %q", "/")
	}
	if !allowedMethods[d.Method] {
		res.AddError("method %q is not one of GET, POST, PUT, DELETE", d.Method)
	}

	if d.Logic == nil {
		res.AddWarning("draft has no logic specification")
		return
	}

	switch d.Logic.Type {
	case models.LogicSQL:
		if strings.TrimSpace(d.Logic.Query) == "" {
			res.AddError("sql logic requires a non-empty query")
		} else {
			checkSQL(d.Logic.Query, res)
		}
	case models.LogicHTTP:
		if d.Logic.Spec == nil {
			res.AddError("http logic requires a spec")
			return
		}
		if d.Logic.Spec.URL == "" {
			res.AddError("http logic requires a url")
		}
		if d.Logic.Spec.Method == "" {
			res.AddError("http logic requires a method")
		}
	default:
		res.AddError("unsupported logic type %q", d.Logic.Type)
	}
}

// ── SQL Gate ─────────────────────────────────────────────────
//
// Generated SQL is a trust boundary. This is a keyword denylist over the
// raw text, not a parser: it can over-reject (keyword inside a string
// literal) and under-reject (keyword disguised by encoding tricks). It
// is paired with backend-side enforcement and must not be treated as a
// security boundary on its own.

var bannedSQLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bALTER\b`),
	regexp.MustCompile(`(?i)\bCREATE\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
	regexp.MustCompile(`(?i)\bINSERT\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b`),
	regexp.MustCompile(`(?i)\bDELETE\b`),
}

// checkSQL enforces single-statement SELECT-only queries plus the
// keyword denylist. All violations are reported, not just the first.
func checkSQL(query string, res *models.ValidationResult) {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimSuffix(trimmed, ";")

	statements := 0
	for _, part := range strings.Split(trimmed, ";") {
		if strings.TrimSpace(part) != "" {
			statements++
		}
	}
	if statements > 1 {
		res.AddError("sql must be a single SELECT statement, found %d statements", statements)
	}

	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		res.AddError("sql must begin with SELECT")
	}

	// The denylist scans the original text, even inside what looks like
	// a second clause.
	for _, re := range bannedSQLPatterns {
		if loc := re.FindString(query); loc != "" {
			res.AddError("sql contains banned keyword %q", strings.ToUpper(loc))
		}
	}
}

// ── UI Draft ─────────────────────────────────────────────────

func uiDraft(m map[string]interface{}, res *models.ValidationResult) {
	name, _ := m["name"].(string)
	if strings.TrimSpace(name) == "" {
		res.AddError("name is required")
	}

	layoutRaw, present := m["layout"]
	if !present || layoutRaw == nil {
		res.AddError("layout is required")
		return
	}
	layout, ok := layoutRaw.(map[string]interface{})
	if !ok {
		res.AddError("layout must be an object")
		return
	}

	if _, err := models.WidgetsOf(layout); err != nil {
		res.AddWarning("layout has no usable widgets: %v", err)
	}
}
