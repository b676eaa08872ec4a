package params

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Type is the declared type of a schema field.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeAny     Type = "any"
)

// Valid reports whether t is a known type. The empty type means any.
func (t Type) Valid() bool {
	switch t {
	case "", TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject, TypeAny:
		return true
	}
	return false
}

// Field declares one named argument or output value.
type Field struct {
	Name        string         `yaml:"name" json:"name"`
	Type        Type           `yaml:"type" json:"type"`
	Required    bool           `yaml:"required" json:"required"`
	Default     any            `yaml:"default" json:"default,omitempty"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Enum        []any          `yaml:"enum" json:"enum,omitempty"`
	Constraints map[string]any `yaml:"constraints" json:"constraints,omitempty"`
	// Rule is a CEL boolean expression over value and args.
	Rule        string `yaml:"rule" json:"rule,omitempty"`
	RuleMessage string `yaml:"rule_message" json:"rule_message,omitempty"`
}

// Group constrains how many of a set of parameters may be supplied.
type Group struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Parameters  []string `yaml:"parameters" json:"parameters"`
	// Required means at least one member must be present.
	Required bool `yaml:"required" json:"required,omitempty"`
	// Exclusive means at most one member may be present.
	Exclusive bool `yaml:"exclusive" json:"exclusive,omitempty"`
}

// Dependency states that Parameter needs DependsOn, optionally only when
// the expr Condition over args holds.
type Dependency struct {
	Parameter string   `yaml:"parameter" json:"parameter"`
	DependsOn []string `yaml:"depends_on" json:"depends_on"`
	Condition string   `yaml:"condition" json:"condition,omitempty"`
	Message   string   `yaml:"message" json:"message,omitempty"`
}

// Schema is the input or output contract of an action.
type Schema struct {
	Fields       []Field      `json:"fields"`
	AllowExtra   bool         `json:"allow_extra,omitempty"`
	Groups       []Group      `json:"groups,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Field returns the declared field called name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Check verifies the schema itself is well formed.
func (s *Schema) Check() error {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Type.Valid() {
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
	}
	for _, g := range s.Groups {
		if len(g.Parameters) == 0 {
			return fmt.Errorf("group %q has no parameters", g.Name)
		}
	}
	for _, d := range s.Dependencies {
		if d.Parameter == "" || len(d.DependsOn) == 0 {
			return fmt.Errorf("dependency needs a parameter and depends_on")
		}
	}
	return nil
}

// FieldInfo is the serializable summary of a field.
type FieldInfo struct {
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Describe summarizes the declared fields in declaration order.
func (s *Schema) Describe() []FieldInfo {
	if s == nil {
		return []FieldInfo{}
	}
	out := make([]FieldInfo, 0, len(s.Fields))
	for _, f := range s.Fields {
		t := f.Type
		if t == "" {
			t = TypeAny
		}
		out = append(out, FieldInfo{
			Name:        f.Name,
			Type:        t,
			Required:    f.Required,
			Default:     f.Default,
			Description: f.Description,
		})
	}
	return out
}

// JSONSchema renders the schema as a JSON Schema object document.
func (s *Schema) JSONSchema() map[string]any {
	doc := map[string]any{"type": "object"}
	props := map[string]any{}
	required := []string{}
	if s != nil {
		for _, f := range s.Fields {
			p := map[string]any{}
			for k, v := range f.Constraints {
				p[k] = v
			}
			if f.Type != "" && f.Type != TypeAny {
				p["type"] = string(f.Type)
			}
			if f.Description != "" {
				p["description"] = f.Description
			}
			if f.Default != nil {
				p["default"] = f.Default
			}
			if len(f.Enum) > 0 {
				p["enum"] = f.Enum
			}
			props[f.Name] = p
			if f.Required {
				required = append(required, f.Name)
			}
		}
		doc["additionalProperties"] = s.AllowExtra
	}
	doc["properties"] = props
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// UnmarshalYAML accepts fields either as a list or as an ordered mapping
// from field name to definition.
func (s *Schema) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Fields       yaml.Node    `yaml:"fields"`
		AllowExtra   bool         `yaml:"allow_extra"`
		Groups       []Group      `yaml:"groups"`
		Dependencies []Dependency `yaml:"dependencies"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	fields, err := decodeFields(&raw.Fields)
	if err != nil {
		return err
	}

	*s = Schema{
		Fields:       fields,
		AllowExtra:   raw.AllowExtra,
		Groups:       raw.Groups,
		Dependencies: raw.Dependencies,
	}
	return nil
}

func decodeFields(node *yaml.Node) ([]Field, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		var fields []Field
		if err := node.Decode(&fields); err != nil {
			return nil, err
		}
		return fields, nil
	case yaml.MappingNode:
		fields := make([]Field, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var f Field
			if err := node.Content[i+1].Decode(&f); err != nil {
				return nil, fmt.Errorf("field %q: %w", node.Content[i].Value, err)
			}
			f.Name = node.Content[i].Value
			fields = append(fields, f)
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("line %d: fields must be a list or a mapping", node.Line)
	}
}

// FromMap builds a schema from a generic map, as produced by scripting
// runtimes. Fields given as a mapping come out sorted by name since Go maps
// carry no order.
func FromMap(m map[string]any) (*Schema, error) {
	if m == nil {
		return nil, nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &s, nil
}
