package taskgraph

import (
	"encoding/json"
	"strings"

	"github.com/amonhq/amon/internal/errs"
)

// Dumps serializes a graph deterministically: object keys sorted, compact
// separators. Two semantically identical graphs dump to byte-equal JSON.
func Dumps(g *Graph) ([]byte, error) {
	if g.SchemaVersion == "" {
		g.SchemaVersion = SchemaVersion
	}
	// Round-trip through the generic form so encoding/json emits every
	// object with sorted keys.
	structured, err := json.Marshal(g)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationFailed, err, "marshal graph")
	}
	var generic map[string]any
	if err := json.Unmarshal(structured, &generic); err != nil {
		return nil, errs.Wrap(errs.KindValidationFailed, err, "normalize graph")
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationFailed, err, "marshal graph")
	}
	return out, nil
}

// Loads parses a graph from text that may be wrapped in LLM chatter. It
// strips code fences, falls back to scanning for the first balanced JSON
// object, and validates the result.
func Loads(text string) (*Graph, error) {
	candidate := stripCodeFences(text)

	var g Graph
	if err := json.Unmarshal([]byte(candidate), &g); err != nil {
		extracted, ok := firstBalancedObject(candidate)
		if !ok {
			return nil, errs.Wrap(errs.KindExtractionFailed, err, "no JSON object found in text")
		}
		if err := json.Unmarshal([]byte(extracted), &g); err != nil {
			return nil, errs.Wrap(errs.KindExtractionFailed, err, "parse extracted object")
		}
	}

	if g.SchemaVersion == "" {
		g.SchemaVersion = SchemaVersion
	}
	if err := Validate(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// stripCodeFences removes a surrounding markdown fence, with or without a
// language tag.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// firstBalancedObject scans for the first top-level {…} span, honoring
// string literals and escapes.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
