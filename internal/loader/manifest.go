package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/expressions"
	"github.com/rendis/dccmcp/internal/params"
)

// defaultEngine runs manifest bodies that do not name an engine.
const defaultEngine = "expr"

// manifestSpec is one action declared in a YAML or JSON manifest.
type manifestSpec struct {
	actions.Metadata `yaml:",inline"`

	Input      *params.Schema `yaml:"input"`
	Output     *params.Schema `yaml:"output"`
	Engine     string         `yaml:"engine"`
	Expression string         `yaml:"expression"`
	Message    string         `yaml:"message"`
	Prompt     string         `yaml:"prompt"`
}

// manifestFile holds either a single action or an actions list. In the
// list form the top-level scope, tags, author and category apply to every
// entry that leaves them empty.
type manifestFile struct {
	manifestSpec `yaml:",inline"`

	Actions []manifestSpec `yaml:"actions"`
}

// ManifestFormat loads declarative actions whose body is an expr, CEL or
// jq expression evaluated over args and context.
type ManifestFormat struct {
	engines *expressions.Set
}

// NewManifestFormat creates the manifest format over engines.
func NewManifestFormat(engines *expressions.Set) *ManifestFormat {
	return &ManifestFormat{engines: engines}
}

func (f *ManifestFormat) Name() string { return "manifest" }

func (f *ManifestFormat) Parse(_ context.Context, src Source) ([]actions.Action, error) {
	var file manifestFile
	dec := yaml.NewDecoder(bytes.NewReader(src.Data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest is empty")
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	specs := file.Actions
	if len(specs) == 0 {
		specs = []manifestSpec{file.manifestSpec}
	} else {
		if file.Name != "" || file.Expression != "" {
			return nil, fmt.Errorf("manifest mixes a top-level action with an actions list")
		}
		for i := range specs {
			inherit(&specs[i].Metadata, file.Metadata)
		}
	}

	out := make([]actions.Action, 0, len(specs))
	for i, spec := range specs {
		a, err := f.build(spec)
		if err != nil {
			if spec.Name == "" {
				return nil, fmt.Errorf("action #%d: %w", i+1, err)
			}
			return nil, fmt.Errorf("action %q: %w", spec.Name, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func inherit(dst *actions.Metadata, from actions.Metadata) {
	if dst.Scope == "" {
		dst.Scope = from.Scope
	}
	if len(dst.Tags) == 0 {
		dst.Tags = from.Tags
	}
	if dst.Author == "" {
		dst.Author = from.Author
	}
	if dst.Category == "" {
		dst.Category = from.Category
	}
	if dst.Version == "" {
		dst.Version = from.Version
	}
}

func (f *ManifestFormat) build(spec manifestSpec) (*manifestAction, error) {
	if err := spec.Metadata.Check(); err != nil {
		return nil, err
	}
	if spec.Expression == "" {
		return nil, fmt.Errorf("missing expression")
	}
	name := spec.Engine
	if name == "" {
		name = defaultEngine
	}
	engine, err := f.engines.Get(name)
	if err != nil {
		return nil, err
	}
	if err := engine.Compile(spec.Expression); err != nil {
		return nil, err
	}
	return &manifestAction{
		meta:       spec.Metadata,
		input:      spec.Input,
		output:     spec.Output,
		engine:     engine,
		expression: spec.Expression,
		report:     report{message: spec.Message, prompt: spec.Prompt},
	}, nil
}

type manifestAction struct {
	meta       actions.Metadata
	input      *params.Schema
	output     *params.Schema
	engine     expressions.Engine
	expression string
	report
}

func (a *manifestAction) Metadata() actions.Metadata { return a.meta }
func (a *manifestAction) InputSchema() *params.Schema { return a.input }
func (a *manifestAction) OutputSchema() *params.Schema { return a.output }

func (a *manifestAction) Execute(ctx context.Context, in actions.Input) (map[string]any, error) {
	v, err := a.engine.Evaluate(ctx, a.expression, map[string]any{
		"args":    in.Args,
		"context": in.Context,
	})
	if err != nil {
		return nil, err
	}
	return asOutput(v), nil
}
