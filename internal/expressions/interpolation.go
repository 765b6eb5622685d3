package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Interpolate scans a template for {{ ... }} markers, evaluates each marker
// as a value expression under the sandbox, and substitutes the stringified
// result in place. nil results render as the empty string.
//
// An unterminated {{ renders as literal text rather than erroring, so
// authors see what they wrote instead of a total parse failure.
func (s *Sandbox) Interpolate(ctx context.Context, template string, env map[string]any) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 2 // skip "{{"

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unterminated marker: keep the rest verbatim.
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		source := strings.TrimSpace(template[start:end])
		val, err := s.Evaluate(ctx, source, env)
		if err != nil {
			return "", err
		}

		result.WriteString(Stringify(val))
		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// Stringify renders an interpolated value. nil becomes the empty string;
// structured values render as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
