// Package patch applies ordered, path-addressed replace operations to a
// draft. Paths are /-delimited; a segment that parses as a non-negative
// integer addresses an array index, anything else an object key. Missing
// intermediate containers are created on demand, so applying a patch
// never fails on a hole in the baseline.
package patch

import (
	"strconv"
	"strings"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// segment is the closed addressing variant: object key or array index.
// The decision is made once, when the path is parsed.
type segment struct {
	key     string
	index   int
	isIndex bool
}

func parsePath(path string) []segment {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil && n >= 0 &&
			!strings.HasPrefix(p, "+") && !strings.HasPrefix(p, "-") {
			segs = append(segs, segment{index: n, isIndex: true})
			continue
		}
		segs = append(segs, segment{key: p})
	}
	return segs
}

// Apply runs ops against baseline in order and returns the patched
// draft. It is pure: baseline is deep-copied first and never mutated.
// Later operations overwrite earlier ones at the same path. Only
// "replace" ops are recognized; anything else is skipped.
func Apply(baseline map[string]interface{}, ops []models.PatchOp) map[string]interface{} {
	out, _ := deepCopy(baseline).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}

	for _, op := range ops {
		if op.Op != models.OpReplace {
			continue
		}
		segs := parsePath(op.Path)
		if len(segs) == 0 {
			continue
		}
		// The draft root is always an object; a numeric first segment
		// addresses the object key "0", "1", ... on it.
		head := segs[0]
		key := head.key
		if head.isIndex {
			key = strconv.Itoa(head.index)
		}
		if len(segs) == 1 {
			out[key] = op.Value
			continue
		}
		out[key] = assign(out[key], segs[1:], op.Value)
	}
	return out
}

// assign walks the remaining segments, materializing containers of the
// kind each segment demands ({} for keys, [] for indexes) whenever the
// current slot is missing or holds the wrong kind.
func assign(container interface{}, segs []segment, value interface{}) interface{} {
	seg := segs[0]

	if seg.isIndex {
		arr, ok := container.([]interface{})
		if !ok {
			arr = []interface{}{}
		}
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		if len(segs) == 1 {
			arr[seg.index] = value
		} else {
			arr[seg.index] = assign(arr[seg.index], segs[1:], value)
		}
		return arr
	}

	obj, ok := container.(map[string]interface{})
	if !ok {
		obj = map[string]interface{}{}
	}
	if len(segs) == 1 {
		obj[seg.key] = value
	} else {
		obj[seg.key] = assign(obj[seg.key], segs[1:], value)
	}
	return obj
}

// deepCopy clones JSON-shaped values (maps, slices, scalars).
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	default:
		return v
	}
}
