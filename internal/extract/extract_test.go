package extract_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/glassboard/glassboard/console-engine/internal/extract"
)

func TestFirstReturnsExactSpan(t *testing.T) {
	text := `Sure! Here is the draft you asked for:

{"type": "ui_draft", "draft": {"name": "Orders", "layout": {"widgets": []}}}

Let me know if you want changes.`

	want := `{"type": "ui_draft", "draft": {"name": "Orders", "layout": {"widgets": []}}}`
	got, err := extract.First(text)
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}
	if got != want {
		t.Errorf("First() = %q, want %q", got, want)
	}
}

func TestFirstNoObject(t *testing.T) {
	_, err := extract.First("there is no json here, sorry")
	if !errors.Is(err, extract.ErrNoObject) {
		t.Errorf("First() error = %v, want ErrNoObject", err)
	}
}

func TestObjectsBracesInsideStrings(t *testing.T) {
	text := `{"sql": "SELECT '{' FROM t WHERE x = \"}\""}`
	spans := extract.Objects(text)
	if len(spans) != 1 {
		t.Fatalf("Objects() returned %d spans, want 1", len(spans))
	}
	if spans[0] != text {
		t.Errorf("Objects()[0] = %q, want %q", spans[0], text)
	}
}

func TestObjectsTruncationTolerance(t *testing.T) {
	// Streaming output cut off mid-object, outside any string.
	text := `{"type": "api_draft", "draft": {"name": "orders", "logic": {"type": "sql"`
	spans := extract.Objects(text)
	if len(spans) != 1 {
		t.Fatalf("Objects() returned %d spans, want 1", len(spans))
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(spans[0]), &decoded); err != nil {
		t.Fatalf("closed span does not parse: %v\nspan: %s", err, spans[0])
	}
	if decoded["type"] != "api_draft" {
		t.Errorf("decoded type = %v, want api_draft", decoded["type"])
	}
}

func TestObjectsTruncatedInsideStringIsDropped(t *testing.T) {
	text := `{"name": "cut off mid strin`
	if spans := extract.Objects(text); len(spans) != 0 {
		t.Errorf("Objects() = %v, want none for text ending inside a string", spans)
	}
}

func TestObjectsMultiple(t *testing.T) {
	text := `first {"a": 1} then {"b": {"c": 2}} done`
	spans := extract.Objects(text)
	if len(spans) != 2 {
		t.Fatalf("Objects() returned %d spans, want 2", len(spans))
	}
	if spans[0] != `{"a": 1}` || spans[1] != `{"b": {"c": 2}}` {
		t.Errorf("Objects() = %v", spans)
	}
}

func TestObjectsRealignsAfterBrokenString(t *testing.T) {
	// The first object never closes its string; the second is fine.
	text := `{"broken": "... {"ok": true}`
	spans := extract.Objects(text)
	found := false
	for _, s := range spans {
		if s == `{"ok": true}` {
			found = true
		}
	}
	if !found {
		t.Errorf("Objects() = %v, want a span %q", spans, `{"ok": true}`)
	}
}

func TestFenceBlocks(t *testing.T) {
	text := "prose\n```json\n{\"a\": 1}\n```\nmore prose\n```sql\nSELECT 1\n```\n```\n{\"b\": 2}\n```\n"
	blocks := extract.FenceBlocks(text)
	if len(blocks) != 2 {
		t.Fatalf("FenceBlocks() returned %d blocks, want 2 (sql block skipped)", len(blocks))
	}
	if blocks[0] != `{"a": 1}` || blocks[1] != `{"b": 2}` {
		t.Errorf("FenceBlocks() = %v", blocks)
	}
}

func TestCandidatesPreferFenced(t *testing.T) {
	text := "{\"raw\": true}\n```json\n{\"fenced\": true}\n```\n"
	cands := extract.Candidates(text)
	if len(cands) == 0 {
		t.Fatal("Candidates() returned none")
	}
	if cands[0] != `{"fenced": true}` {
		t.Errorf("Candidates()[0] = %q, want fenced object first", cands[0])
	}
}

func TestCandidatesDedup(t *testing.T) {
	text := "```json\n{\"a\": 1}\n```"
	cands := extract.Candidates(text)
	seen := make(map[string]int)
	for _, c := range cands {
		seen[c]++
	}
	for span, n := range seen {
		if n > 1 {
			t.Errorf("candidate %q appears %d times, want 1", span, n)
		}
	}
}
