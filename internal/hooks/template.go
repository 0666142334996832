package hooks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amonhq/amon/internal/events"
)

// Template is a parsed "{{ event.<dotted.path> }}" template: an ordered
// list of literal and reference segments. A template that is exactly one
// reference renders to the referenced value with its type preserved; any
// other shape stringifies.
type Template struct {
	segments []segment
}

type segment struct {
	literal string
	ref     string // dotted path when non-empty
}

// ParseTemplate parses s into a Template. Unterminated placeholders are an
// error; plain strings parse to a single literal segment.
func ParseTemplate(s string) (*Template, error) {
	var segments []segment
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				segments = append(segments, segment{literal: rest})
			}
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder in %q", s)
		}
		if start > 0 {
			segments = append(segments, segment{literal: rest[:start]})
		}
		ref := strings.TrimSpace(rest[start+2 : start+end])
		if ref == "" {
			return nil, fmt.Errorf("empty placeholder in %q", s)
		}
		segments = append(segments, segment{ref: ref})
		rest = rest[start+end+2:]
	}
	return &Template{segments: segments}, nil
}

// Render resolves the template against an event. A missing reference
// renders as an empty string (single-reference templates return nil).
func (t *Template) Render(event *events.Event) any {
	if len(t.segments) == 1 && t.segments[0].ref != "" {
		value, ok := event.Lookup(t.segments[0].ref)
		if !ok {
			return nil
		}
		return value
	}

	var b strings.Builder
	for _, seg := range t.segments {
		if seg.ref == "" {
			b.WriteString(seg.literal)
			continue
		}
		if value, ok := event.Lookup(seg.ref); ok {
			b.WriteString(stringify(value))
		}
	}
	return b.String()
}

// RenderString renders the template and stringifies the result.
func (t *Template) RenderString(event *events.Event) string {
	return stringify(t.Render(event))
}

// RenderValue renders a single arbitrary value: strings go through template
// parsing, maps and slices recurse, everything else passes through.
func RenderValue(value any, event *events.Event) any {
	switch v := value.(type) {
	case string:
		tmpl, err := ParseTemplate(v)
		if err != nil {
			return v
		}
		return tmpl.Render(event)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = RenderValue(inner, event)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = RenderValue(inner, event)
		}
		return out
	default:
		return value
	}
}

// RenderArgs renders an action args map against an event.
func RenderArgs(args map[string]any, event *events.Event) map[string]any {
	if args == nil {
		return nil
	}
	rendered, _ := RenderValue(args, event).(map[string]any)
	return rendered
}

// stringify formats a rendered value for concatenation. Floats drop the
// trailing ".0" so sizes render as "12", not "12.000000".
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
