package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/dccmcp/pkg/schema"
)

// Interpolate resolves ${{ path }} references in template against scope.
// Paths are dot-separated map lookups, e.g. ${{ output.object_name }} or
// ${{ args.radius }}. Strings are inserted verbatim, other values as JSON.
func Interpolate(template string, scope map[string]any) (string, error) {
	if !strings.Contains(template, "${{") {
		return template, nil
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(template[start:end])
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{  }}")
		}
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := lookupPath(scope, ref)
		if err != nil {
			return "", err
		}
		s, err := stringify(val)
		if err != nil {
			return "", err
		}
		result.WriteString(s)
		i = end + 2
	}

	return result.String(), nil
}

func lookupPath(scope map[string]any, ref string) (any, error) {
	var cur any = scope
	for _, part := range strings.Split(ref, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"cannot resolve %q: %q is not an object", ref, part)
		}
		v, exists := m[part]
		if !exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"cannot resolve %q: key %q not found", ref, part)
		}
		cur = v
	}
	return cur, nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case fmt.Stringer:
		return val.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("stringify interpolated value: %w", err)
	}
	return string(b), nil
}
