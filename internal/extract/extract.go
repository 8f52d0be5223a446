// Package extract pulls candidate JSON object literals out of freeform
// assistant text.
//
// Assistant output is prose that is supposed to contain JSON, not a
// protocol. The scanner here is a pure string state machine (string
// mode, escape, brace depth) with no JSON parsing; a span is handed to
// encoding/json only after it has been isolated. Truncated streaming
// output is tolerated by closing unbalanced objects.
package extract

import (
	"errors"
	"strings"
)

// ErrNoObject is returned when the text contains no '{' at all.
var ErrNoObject = errors.New("no JSON object found")

// Objects returns every syntactically balanced {...} span in text, in
// order of appearance. A span that runs off the end of the text at
// depth > 0 while not inside a string is treated as truncated output
// and closed by appending the missing '}' characters.
func Objects(text string) []string {
	var spans []string
	pos := 0
	for {
		start := strings.IndexByte(text[pos:], '{')
		if start < 0 {
			return spans
		}
		start += pos

		span, end, ok := scanObject(text, start)
		if ok {
			spans = append(spans, span)
			pos = end
		} else {
			// The scan died inside a string literal. Realign on the
			// next '{'; a later object may still be well-formed.
			pos = start + 1
		}
		if pos >= len(text) {
			return spans
		}
	}
}

// First returns the first balanced object span in text, or ErrNoObject.
func First(text string) (string, error) {
	if !strings.ContainsRune(text, '{') {
		return "", ErrNoObject
	}
	spans := Objects(text)
	if len(spans) == 0 {
		return "", ErrNoObject
	}
	return spans[0], nil
}

// scanObject walks text from the '{' at start. It returns the balanced
// span (closed if truncated), the index scanning should resume from,
// and whether a span was produced.
func scanObject(text string, start int) (string, int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], i + 1, true
			}
		}
	}

	// Ran off the end. Outside a string this is truncated streaming
	// output: close it. Inside a string there is no recovery.
	if depth > 0 && !inString {
		return text[start:] + strings.Repeat("}", depth), len(text), true
	}
	return "", 0, false
}

// FenceBlocks returns the contents of ``` fenced blocks whose language
// tag is empty or "json".
func FenceBlocks(text string) []string {
	blocks := make([]string, 0, 2)
	for len(text) > 0 {
		start := strings.Index(text, "```")
		if start < 0 {
			break
		}
		remaining := text[start+3:]
		newline := strings.Index(remaining, "\n")
		if newline < 0 {
			break
		}
		lang := strings.TrimSpace(remaining[:newline])
		contentAndTail := remaining[newline+1:]
		end := strings.Index(contentAndTail, "```")
		if end < 0 {
			break
		}
		if lang == "" || strings.EqualFold(lang, "json") {
			block := strings.TrimSpace(contentAndTail[:end])
			if block != "" {
				blocks = append(blocks, block)
			}
		}
		text = contentAndTail[end+3:]
	}
	return blocks
}

// Candidates returns object spans to try, in priority order: objects
// inside fenced blocks first, then the first object in the raw text,
// then every balanced span found anywhere. Duplicates are dropped.
func Candidates(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(span string) {
		if _, dup := seen[span]; dup {
			return
		}
		seen[span] = struct{}{}
		out = append(out, span)
	}

	for _, block := range FenceBlocks(text) {
		for _, span := range Objects(block) {
			add(span)
		}
	}
	if first, err := First(text); err == nil {
		add(first)
	}
	for _, span := range Objects(text) {
		add(span)
	}
	return out
}
