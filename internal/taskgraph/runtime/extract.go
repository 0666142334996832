package runtime

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/taskgraph"
)

// ExtractOutput turns raw node text into a typed value per the node's
// output declaration. JSON outputs tolerate surrounding chatter by
// falling back to the first balanced object or array span.
func ExtractOutput(raw string, output *taskgraph.Output) (any, error) {
	if output == nil || output.Type != "json" {
		return raw, nil
	}

	var value any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &value); err != nil {
		span, ok := firstJSONSpan(raw)
		if !ok {
			return nil, errs.New(errs.KindExtractionFailed, "no JSON value found in output")
		}
		if err := json.Unmarshal([]byte(span), &value); err != nil {
			return nil, errs.Wrap(errs.KindExtractionFailed, err, "parse extracted span")
		}
	}

	if err := validateOutput(value, output); err != nil {
		return nil, err
	}
	return value, nil
}

// validateOutput checks required_keys membership and the per-key types
// map. Unknown type aliases pass.
func validateOutput(value any, output *taskgraph.Output) error {
	if len(output.RequiredKeys) == 0 && len(output.Types) == 0 {
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return errs.New(errs.KindValidationFailed, "output is not a JSON object")
	}
	for _, key := range output.RequiredKeys {
		if _, present := obj[key]; !present {
			return errs.New(errs.KindValidationFailed, "missing required key %q", key)
		}
	}
	for key, want := range output.Types {
		v, present := obj[key]
		if !present {
			continue
		}
		if !typeMatches(v, want) {
			return errs.New(errs.KindValidationFailed, "key %q is not of type %s", key, want)
		}
	}
	return nil
}

func typeMatches(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "null":
		return v == nil
	default:
		// Unknown aliases pass.
		return true
	}
}

// firstJSONSpan finds the first balanced {…} or […] span, honoring
// string literals and escapes.
func firstJSONSpan(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	open := text[start]
	var closing byte = '}'
	if open == '[' {
		closing = ']'
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
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// NumericAnomalies walks a parsed payload and reports every float that is
// NaN, infinite, or implausibly large. Non-fatal: callers emit warnings.
func NumericAnomalies(value any) []string {
	var anomalies []string
	walkNumbers(value, "$", &anomalies)
	return anomalies
}

func walkNumbers(value any, path string, out *[]string) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1e18 {
			*out = append(*out, fmt.Sprintf("%s=%v", path, v))
		}
	case map[string]any:
		for key, child := range v {
			walkNumbers(child, path+"."+key, out)
		}
	case []any:
		for i, child := range v {
			walkNumbers(child, fmt.Sprintf("%s[%d]", path, i), out)
		}
	}
}
