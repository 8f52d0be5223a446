// Package draft turns freeform assistant text into validated, typed
// drafts. It interprets an extracted JSON object as a draft envelope
// (kind tag, mode, payload), applies patches against a baseline when the
// envelope is incremental, normalizes legacy field spellings, and runs
// the shape validator. Candidates are tried in extraction priority
// order; the last validation error is preserved when none are accepted.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glassboard/glassboard/console-engine/internal/extract"
	"github.com/glassboard/glassboard/console-engine/internal/patch"
	"github.com/glassboard/glassboard/console-engine/internal/validate"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// Accepted is a draft that survived normalization and validation.
type Accepted struct {
	Kind   models.DraftKind        `json:"kind"`
	Mode   models.DraftMode        `json:"mode"`
	Draft  map[string]interface{}  `json:"draft"`
	Notes  string                  `json:"notes,omitempty"`
	Result models.ValidationResult `json:"result"`
}

// Normalized is the output of envelope interpretation, before validation.
type Normalized struct {
	Mode  models.DraftMode
	Draft map[string]interface{}
	Notes string
}

// FromText runs the full ingestion pipeline: extract candidates, try
// each in order (fenced first, then raw text, then every balanced
// span), and return the first candidate that normalizes and validates.
// When none succeed the last error seen is returned, so a caller always
// sees the most specific rejection.
func FromText(text string, kind models.DraftKind, baseline map[string]interface{}) (*Accepted, error) {
	candidates := extract.Candidates(text)
	if len(candidates) == 0 {
		return nil, extract.ErrNoObject
	}

	var lastErr error
	for _, cand := range candidates {
		var raw interface{}
		if err := json.Unmarshal([]byte(cand), &raw); err != nil {
			if lastErr == nil {
				lastErr = fmt.Errorf("candidate does not parse: %w", err)
			}
			continue
		}
		obj, ok := raw.(map[string]interface{})
		if !ok {
			if lastErr == nil {
				lastErr = errors.New("candidate is not a JSON object")
			}
			continue
		}

		norm, err := Normalize(obj, kind, baseline)
		if err != nil {
			lastErr = err
			continue
		}

		res := validate.Draft(kind, norm.Draft)
		if !res.OK {
			lastErr = fmt.Errorf("draft failed validation: %s", strings.Join(res.Errors, "; "))
			continue
		}

		return &Accepted{
			Kind:   kind,
			Mode:   norm.Mode,
			Draft:  norm.Draft,
			Notes:  norm.Notes,
			Result: res,
		}, nil
	}
	return nil, lastErr
}

// Normalize interprets a parsed JSON object as a draft envelope for the
// expected kind. Rules, in order: the value must be an object; the kind
// tag must match (with the legacy bare-draft exception); replace mode
// requires a draft payload; patch mode applies the ops to baseline and
// re-normalizes the result.
func Normalize(raw map[string]interface{}, kind models.DraftKind, baseline map[string]interface{}) (*Normalized, error) {
	rawType, _ := raw["type"].(string)
	if rawType != string(kind) {
		// Legacy convenience path: some assistants return the draft
		// itself with no envelope around it.
		if isBareDraft(raw, kind) {
			return &Normalized{
				Mode:  models.DraftModeReplace,
				Draft: normalizeFields(raw, kind),
			}, nil
		}
		return nil, fmt.Errorf("expected a %s envelope, got type %q", kind, rawType)
	}

	notes, _ := raw["notes"].(string)
	mode := models.DraftModeReplace
	if m, _ := raw["mode"].(string); m != "" {
		mode = models.DraftMode(m)
	}

	switch mode {
	case models.DraftModeReplace:
		payload, ok := raw["draft"].(map[string]interface{})
		if !ok {
			return nil, errors.New("draft field is required when mode is replace")
		}
		return &Normalized{
			Mode:  mode,
			Draft: normalizeFields(payload, kind),
			Notes: notes,
		}, nil

	case models.DraftModePatch:
		opsRaw, ok := raw["patch"].([]interface{})
		if !ok {
			return nil, errors.New("patch field is required when mode is patch")
		}
		ops, err := decodeOps(opsRaw)
		if err != nil {
			return nil, err
		}
		if baseline == nil {
			baseline = map[string]interface{}{}
		}
		patched := patch.Apply(baseline, ops)
		return &Normalized{
			Mode:  mode,
			Draft: normalizeFields(patched, kind),
			Notes: notes,
		}, nil

	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func decodeOps(raw []interface{}) ([]models.PatchOp, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode patch ops: %w", err)
	}
	var ops []models.PatchOp
	if err := json.Unmarshal(buf, &ops); err != nil {
		return nil, fmt.Errorf("patch ops are malformed: %w", err)
	}
	return ops, nil
}

// isBareDraft reports whether the object already has the shape of a
// draft payload for the kind, i.e. the assistant skipped the envelope.
func isBareDraft(raw map[string]interface{}, kind models.DraftKind) bool {
	if _, hasName := raw["name"]; !hasName {
		return false
	}
	switch kind {
	case models.DraftKindAPI:
		_, hasEndpoint := raw["endpoint"]
		_, hasLogic := raw["logic"]
		return hasEndpoint || hasLogic
	case models.DraftKindUI:
		_, hasLayout := raw["layout"]
		return hasLayout
	}
	return false
}

// normalizeFields coerces field types, defaults missing optional
// fields, and maps legacy aliases onto canonical spellings. It mutates
// and returns the payload, which is always a private copy by the time
// it gets here.
func normalizeFields(m map[string]interface{}, kind models.DraftKind) map[string]interface{} {
	if name, ok := m["name"].(string); ok {
		m["name"] = strings.TrimSpace(name)
	}

	switch kind {
	case models.DraftKindAPI:
		normalizeAPIFields(m)
	case models.DraftKindUI:
		normalizeUIFields(m)
	}
	return m
}

func normalizeAPIFields(m map[string]interface{}) {
	method, _ := m["method"].(string)
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	m["method"] = method

	if endpoint, ok := m["endpoint"].(string); ok {
		m["endpoint"] = strings.TrimSpace(endpoint)
	}

	// A single tag may arrive as a bare string.
	if tag, ok := m["tags"].(string); ok {
		m["tags"] = []interface{}{tag}
	}

	switch active := m["active"].(type) {
	case bool:
		// already canonical
	case string:
		b, err := strconv.ParseBool(active)
		m["active"] = err == nil && b
	default:
		m["active"] = true
	}

	logic, ok := m["logic"].(map[string]interface{})
	if !ok {
		return
	}
	if t, ok := logic["type"].(string); ok {
		logic["type"] = strings.ToLower(strings.TrimSpace(t))
	}
	if logic["type"] != string(models.LogicHTTP) {
		return
	}

	// Legacy alias: older drafts used "request" for the http spec.
	if _, hasSpec := logic["spec"]; !hasSpec {
		if req, hasReq := logic["request"]; hasReq {
			logic["spec"] = req
			delete(logic, "request")
		}
	}
	if spec, ok := logic["spec"].(map[string]interface{}); ok {
		specMethod, _ := spec["method"].(string)
		specMethod = strings.ToUpper(strings.TrimSpace(specMethod))
		if specMethod == "" {
			specMethod = "GET"
		}
		spec["method"] = specMethod
		if u, ok := spec["url"].(string); ok {
			spec["url"] = strings.TrimSpace(u)
		}
	}
}

func normalizeUIFields(m map[string]interface{}) {
	if desc, ok := m["description"].(string); ok {
		m["description"] = strings.TrimSpace(desc)
	}
}
