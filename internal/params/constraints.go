package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// constraintChecker validates single field values against JSON Schema
// keyword sets (minimum, exclusiveMinimum, pattern, maxItems, ...).
// It is safe for concurrent use.
type constraintChecker struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func newConstraintChecker() *constraintChecker {
	return &constraintChecker{cache: make(map[string]*jsonschema.Schema)}
}

// Check returns one message per violated keyword, nil if value satisfies
// every constraint.
func (c *constraintChecker) Check(constraints map[string]any, value any) ([]string, error) {
	if len(constraints) == 0 {
		return nil, nil
	}

	compiled, err := c.getOrCompile(constraints)
	if err != nil {
		return nil, fmt.Errorf("invalid constraints: %w", err)
	}

	doc, err := toJSONValue(value)
	if err != nil {
		return nil, fmt.Errorf("serialize value: %w", err)
	}

	err = compiled.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}, nil
	}
	return collectViolations(verr), nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (c *constraintChecker) getOrCompile(constraints map[string]any) (*jsonschema.Schema, error) {
	keyBytes, err := json.Marshal(constraints)
	if err != nil {
		return nil, fmt.Errorf("marshal constraints: %w", err)
	}
	key := string(keyBytes)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL and a fresh compiler to avoid resource collisions.
	url := fmt.Sprintf("dccmcp://field-constraints/%d.json", len(c.cache))
	comp := jsonschema.NewCompiler()
	comp.AssertFormat()
	if err := comp.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := comp.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	c.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and returns the leaf
// messages without the library's location prefix.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{leafMessage(verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

func leafMessage(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "\n"); idx >= 0 {
		s = strings.TrimSpace(s[idx+1:])
	}
	s = strings.TrimPrefix(s, "- ")
	if strings.HasPrefix(s, "at '") {
		if idx := strings.Index(s, "': "); idx >= 0 {
			s = s[idx+3:]
		}
	}
	return s
}
