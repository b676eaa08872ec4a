package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/dccmcp/internal/params"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Action is an executable unit of DCC automation. Implementations are
// stateless templates: everything call-scoped arrives through Input.
type Action interface {
	Metadata() Metadata
	// InputSchema returns nil when any arguments are accepted.
	InputSchema() *params.Schema
	// OutputSchema returns nil when any output is accepted.
	OutputSchema() *params.Schema
	Execute(ctx context.Context, input Input) (map[string]any, error)
}

// Metadata describes an action for discovery and listing.
type Metadata struct {
	Name        string           `json:"name" yaml:"name"`
	Scope       string           `json:"scope" yaml:"scope"`
	Version     string           `json:"version" yaml:"version"`
	Description string           `json:"description" yaml:"description"`
	Tags        []string         `json:"tags,omitempty" yaml:"tags"`
	Order       int              `json:"order" yaml:"order"`
	Author      string           `json:"author,omitempty" yaml:"author"`
	Category    string           `json:"category,omitempty" yaml:"category"`
	Requires    []string         `json:"requires,omitempty" yaml:"requires"`
	Examples    []map[string]any `json:"examples,omitempty" yaml:"examples"`
}

// Check reports the first missing required metadata field.
func (m Metadata) Check() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("missing required metadata: name")
	case m.Version == "":
		return fmt.Errorf("missing required metadata: version")
	case m.Description == "":
		return fmt.Errorf("missing required metadata: description")
	}
	return nil
}

// Input is the per-call state handed to an action.
type Input struct {
	CallID  string         `json:"call_id"`
	Args    map[string]any `json:"args"`
	Context map[string]any `json:"context,omitempty"`
}

// Key identifies a registered action.
type Key struct {
	Scope string `json:"scope"`
	Name  string `json:"name"`
}

// KeyOf returns the registry key for m. An empty scope becomes the wildcard.
func KeyOf(m Metadata) Key {
	return Key{Scope: normalizeScope(m.Scope), Name: m.Name}
}

func (k Key) String() string {
	return k.Scope + ":" + k.Name
}

func normalizeScope(scope string) string {
	if scope == "" {
		return schema.AnyScope
	}
	return scope
}

// Descriptor is an immutable registry entry.
type Descriptor struct {
	Key          Key
	Action       Action
	SourcePath   string
	ModuleName   string
	RegisteredAt time.Time
	Seq          uint64
}

// NewDescriptor builds a descriptor for a, keyed by its metadata.
func NewDescriptor(a Action, sourcePath, moduleName string) Descriptor {
	return Descriptor{
		Key:        KeyOf(a.Metadata()),
		Action:     a,
		SourcePath: sourcePath,
		ModuleName: moduleName,
	}
}

// DuplicatePolicy decides what Register does on a (scope, name) collision.
type DuplicatePolicy string

const (
	// PolicyReplace keeps the most recent registration.
	PolicyReplace DuplicatePolicy = "replace"
	// PolicyReject refuses the new registration with DUPLICATE_ACTION.
	PolicyReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy parses a policy name; empty means PolicyReplace.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q", s)
}

// Reporter is implemented by actions that phrase their own result message
// and follow-up prompt from the call input and output.
type Reporter interface {
	Report(input Input, output map[string]any) (message, prompt string)
}
