// Package diff renders line diffs between two revisions of a draft, so
// an authoring turn can show what the assistant changed.
package diff

import (
	"encoding/json"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

type Hunk struct {
	Lines []Line `json:"lines"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// MaxLines caps the combined size of the two sides; beyond it the diff
// is skipped rather than rendered.
const MaxLines = 5000

// Drafts diffs two draft payloads by their canonical indented JSON.
// Map keys marshal in sorted order, so the rendering is stable across
// runs and a no-op edit produces an all-context diff.
func Drafts(before, after map[string]interface{}) []Hunk {
	return Text(draftJSON(before), draftJSON(after))
}

// Text produces a line diff between two strings. Lines are compared as
// atoms via the character mapping pass, which keeps the diff readable
// for structured text.
func Text(before, after string) []Hunk {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine := 1
	newLine := 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, line := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: line, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: line, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: line, NewLine: newLine})
				newLine++
			}
		}
	}
	return []Hunk{{Lines: lines}}
}

// TextWithLimit skips the diff entirely when the two sides together
// exceed maxLines, returning truncated=true.
func TextWithLimit(before, after string, maxLines int) ([]Hunk, bool) {
	if maxLines <= 0 {
		maxLines = MaxLines
	}
	if lineCount(before)+lineCount(after) > maxLines {
		return nil, true
	}
	return Text(before, after), false
}

// Counts tallies added and removed lines across hunks, for turn
// summaries.
func Counts(hunks []Hunk) (added, removed int) {
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				added++
			case LineRemoved:
				removed++
			}
		}
	}
	return added, removed
}

func draftJSON(m map[string]interface{}) string {
	if m == nil {
		return ""
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ""
	}
	return string(buf) + "\n"
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
