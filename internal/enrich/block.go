package enrich

import (
	"encoding/json"
	"strings"
)

// FirstJSONBlock extracts the first usable JSON document from a model
// response. Providers asked for JSON still wrap it in markdown fences or
// prose often enough that callers cannot unmarshal the raw text directly.
//
// The search order is: the whole trimmed text, the first ```json fenced
// block, then the first balanced object or array found by a string-aware
// scan. The second result is false when no candidate validates.
func FirstJSONBlock(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}
	if b, ok := fencedBlock(trimmed); ok {
		return b, true
	}
	return balancedBlock(trimmed)
}

func fencedBlock(text string) (json.RawMessage, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		body := strings.TrimSpace(rest[:end])
		if json.Valid([]byte(body)) {
			return json.RawMessage(body), true
		}
	}
	return nil, false
}

// balancedBlock scans for the first '{' or '[' and returns the substring up
// to its matching close, skipping brackets inside JSON string literals.
func balancedBlock(text string) (json.RawMessage, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}
