package params

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"

	"github.com/rendis/dccmcp/internal/expressions"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Validator checks argument and output maps against a Schema. It coerces
// values to their declared types, applies defaults, evaluates constraints,
// rules, groups and dependencies, and reports every violation at once.
// It is safe for concurrent use.
type Validator struct {
	rules       expressions.Engine
	conditions  expressions.Engine
	constraints *constraintChecker
}

// NewValidator creates a Validator with a CEL engine for field rules and an
// Expr engine for dependency conditions.
func NewValidator() (*Validator, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewValidatorWith(celEngine, expressions.NewExprEngine()), nil
}

// NewValidatorWith creates a Validator around existing engines.
func NewValidatorWith(rules, conditions expressions.Engine) *Validator {
	return &Validator{
		rules:       rules,
		conditions:  conditions,
		constraints: newConstraintChecker(),
	}
}

// CompileRules pre-compiles every rule and condition of s so that broken
// expressions surface when the action is loaded rather than when called.
func (v *Validator) CompileRules(s *Schema) error {
	if s == nil {
		return nil
	}
	if err := s.Check(); err != nil {
		return err
	}
	for _, f := range s.Fields {
		if f.Rule == "" {
			continue
		}
		if err := v.rules.Compile(f.Rule); err != nil {
			return fmt.Errorf("field %q rule: %w", f.Name, err)
		}
	}
	for _, d := range s.Dependencies {
		if d.Condition == "" {
			continue
		}
		if err := v.conditions.Compile(d.Condition); err != nil {
			return fmt.Errorf("dependency %q condition: %w", d.Parameter, err)
		}
	}
	return nil
}

// ValidateInput returns the validated and coerced arguments. A nil schema
// accepts anything. Validating the output again yields the same values.
func (v *Validator) ValidateInput(ctx context.Context, s *Schema, raw map[string]any) (map[string]any, error) {
	return v.validate(ctx, s, raw, false)
}

// ValidateOutput applies the same rules to an action's output. Undeclared
// keys are kept when the schema is nil or allows extras.
func (v *Validator) ValidateOutput(ctx context.Context, s *Schema, raw map[string]any) (map[string]any, error) {
	return v.validate(ctx, s, raw, true)
}

func (v *Validator) validate(ctx context.Context, s *Schema, raw map[string]any, output bool) (map[string]any, error) {
	if s == nil {
		if raw == nil {
			return map[string]any{}, nil
		}
		return maps.Clone(raw), nil
	}

	res := &schema.ValidationResult{}
	out := make(map[string]any, len(raw)+len(s.Fields))
	checked := make(map[string]bool, len(s.Fields))
	// explicit holds fields the caller set to something other than the
	// field default. Groups and dependency triggers only count these, so
	// validating an output again gives the same verdict.
	explicit := make(map[string]bool, len(s.Fields))

	for _, f := range s.Fields {
		val, present := raw[f.Name]
		supplied := present && val != nil
		if supplied {
			explicit[f.Name] = true
		}
		if !supplied {
			if f.Default == nil {
				if f.Required {
					res.Add(f.Name, schema.ErrCodeValidation, "is required")
				}
				continue
			}
			val = cloneValue(f.Default)
		}

		cv, err := Coerce(val, f.Type)
		if err != nil {
			res.Add(f.Name, schema.ErrCodeValidation, err.Error())
			continue
		}
		out[f.Name] = cv
		if supplied && isDefault(f, cv) {
			delete(explicit, f.Name)
		}

		if len(f.Enum) > 0 && !inEnum(cv, f.Enum) {
			res.Addf(f.Name, schema.ErrCodeValidation, "must be one of %v", f.Enum)
			continue
		}

		msgs, err := v.constraints.Check(f.Constraints, cv)
		if err != nil {
			res.Add(f.Name, schema.ErrCodeValidation, err.Error())
			continue
		}
		for _, m := range msgs {
			res.Add(f.Name, schema.ErrCodeValidation, m)
		}
		if len(msgs) == 0 {
			checked[f.Name] = true
		}
	}

	var unknown []string
	for k, val := range raw {
		if _, declared := s.Field(k); declared {
			continue
		}
		if val != nil {
			explicit[k] = true
		}
		if s.AllowExtra {
			out[k] = val
			continue
		}
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		res.Add(k, schema.ErrCodeValidation, "unknown field")
	}

	if !output {
		v.checkGroups(s, explicit, out, res)
		v.checkDependencies(ctx, s, explicit, out, res)
	}
	v.checkRules(ctx, s, out, checked, res)

	if err := res.ToError(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *Validator) checkRules(ctx context.Context, s *Schema, args map[string]any, checked map[string]bool, res *schema.ValidationResult) {
	for _, f := range s.Fields {
		if f.Rule == "" || !checked[f.Name] {
			continue
		}
		ok, err := expressions.EvaluateBool(ctx, v.rules, f.Rule, map[string]any{
			"value": args[f.Name],
			"args":  args,
		})
		if err != nil {
			res.Addf(f.Name, schema.ErrCodeValidation, "rule %q could not be evaluated: %s", f.Rule, err.Error())
			continue
		}
		if !ok {
			msg := f.RuleMessage
			if msg == "" {
				msg = fmt.Sprintf("must satisfy %s", f.Rule)
			}
			res.Add(f.Name, schema.ErrCodeValidation, msg)
		}
	}
}

// checkGroups satisfies required groups with any resolved value, defaults
// included, and counts only explicit values against exclusive groups.
func (v *Validator) checkGroups(s *Schema, explicit map[string]bool, args map[string]any, res *schema.ValidationResult) {
	for _, g := range s.Groups {
		var provided []string
		resolved := false
		for _, p := range g.Parameters {
			if explicit[p] {
				provided = append(provided, p)
			}
			if val, ok := args[p]; ok && val != nil {
				resolved = true
			}
		}
		if g.Required && !resolved && len(provided) == 0 {
			res.Addf(strings.Join(g.Parameters, "|"), schema.ErrCodeValidation,
				"at least one parameter from group %q is required: %s", g.Name, strings.Join(g.Parameters, ", "))
		}
		if g.Exclusive && len(provided) > 1 {
			res.Addf(strings.Join(provided, "|"), schema.ErrCodeValidation,
				"only one parameter from group %q can be provided: %s", g.Name, strings.Join(provided, ", "))
		}
	}
}

func (v *Validator) checkDependencies(ctx context.Context, s *Schema, explicit map[string]bool, args map[string]any, res *schema.ValidationResult) {
	for _, d := range s.Dependencies {
		if !explicit[d.Parameter] {
			continue
		}
		var missing []string
		for _, dep := range d.DependsOn {
			if _, ok := args[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			msg := d.Message
			if msg == "" {
				msg = fmt.Sprintf("requires %s", strings.Join(missing, ", "))
			}
			res.Add(d.Parameter, schema.ErrCodeValidation, msg)
			continue
		}
		if d.Condition == "" {
			continue
		}
		ok, err := expressions.EvaluateBool(ctx, v.conditions, d.Condition, map[string]any{"args": args})
		if err != nil {
			res.Addf(d.Parameter, schema.ErrCodeValidation, "condition %q could not be evaluated: %s", d.Condition, err.Error())
			continue
		}
		if !ok {
			msg := d.Message
			if msg == "" {
				msg = "dependency condition is not satisfied"
			}
			res.Add(d.Parameter, schema.ErrCodeValidation, msg)
		}
	}
}

// isDefault reports whether the coerced value cv equals f's coerced default.
func isDefault(f Field, cv any) bool {
	if f.Default == nil {
		return false
	}
	def, err := Coerce(cloneValue(f.Default), f.Type)
	if err != nil {
		return false
	}
	return inEnum(cv, []any{def})
}

func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(v, e) {
			return true
		}
		if sameNumber(v, e) {
			return true
		}
	}
	return false
}

func sameNumber(a, b any) bool {
	fa, errA := toNumber(a)
	fb, errB := toNumber(b)
	if errA != nil || errB != nil {
		return false
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	return !aStr && !bStr && fa == fb
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
