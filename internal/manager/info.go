package manager

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/params"
	"github.com/rendis/dccmcp/pkg/schema"
)

// ActionInfo is the listing view of one registered action.
type ActionInfo struct {
	Name        string             `json:"name"`
	Scope       string             `json:"scope"`
	Version     string             `json:"version"`
	Description string             `json:"description"`
	Tags        []string           `json:"tags"`
	Category    string             `json:"category,omitempty"`
	Author      string             `json:"author,omitempty"`
	Order       int                `json:"order"`
	Source      string             `json:"source,omitempty"`
	Module      string             `json:"module,omitempty"`
	Input       []params.FieldInfo `json:"input_schema"`
	Output      []params.FieldInfo `json:"output_schema"`
	Examples    []map[string]any   `json:"examples,omitempty"`
	InputJSON   map[string]any     `json:"-"`
}

func infoOf(d *actions.Descriptor) ActionInfo {
	meta := d.Action.Metadata()
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	in := d.Action.InputSchema()
	return ActionInfo{
		Name:        d.Key.Name,
		Scope:       d.Key.Scope,
		Version:     meta.Version,
		Description: meta.Description,
		Tags:        tags,
		Category:    meta.Category,
		Author:      meta.Author,
		Order:       meta.Order,
		Source:      d.SourcePath,
		Module:      d.ModuleName,
		Input:       in.Describe(),
		Output:      d.Action.OutputSchema().Describe(),
		Examples:    meta.Examples,
		InputJSON:   in.JSONSchema(),
	}
}

// GetActionsInfo describes every action callable in scope, keyed by name.
// An empty scope means the manager's scope. A scope-specific action hides a
// wildcard action of the same name. For the wildcard scope every registered
// descriptor is listed, keyed by "scope:name".
func (m *Manager) GetActionsInfo(scope string) map[string]ActionInfo {
	if scope == "" {
		scope = m.scope
	}
	out := map[string]ActionInfo{}
	if scope == schema.AnyScope {
		for d := range m.registry.List(scope) {
			out[d.Key.String()] = infoOf(d)
		}
		return out
	}
	for d := range m.registry.List(scope) {
		if prev, ok := out[d.Key.Name]; ok && prev.Scope != schema.AnyScope {
			continue
		}
		out[d.Key.Name] = infoOf(d)
	}
	return out
}

// ActionsInfoResult wraps GetActionsInfo as a result for remote callers.
func (m *Manager) ActionsInfoResult(scope string) *schema.ActionResult {
	if scope == "" {
		scope = m.scope
	}
	infos := m.GetActionsInfo(scope)
	return schema.Success(
		fmt.Sprintf("Found %d actions for %s", len(infos), scope),
		map[string]any{
			"dcc_name": scope,
			"actions":  infos,
		},
	).WithPrompt("You can call any of these actions using the call_action method")
}

// ListAvailableActions returns the sorted names callable in scope.
func (m *Manager) ListAvailableActions(scope string) []string {
	if scope == "" {
		scope = m.scope
	}
	seen := map[string]bool{}
	names := []string{}
	for d := range m.registry.List(scope) {
		if !seen[d.Key.Name] {
			seen[d.Key.Name] = true
			names = append(names, d.Key.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ActionFunc calls one action with the given arguments.
type ActionFunc func(ctx context.Context, args map[string]any) *schema.ActionResult

// Func binds name to a callable; the action is looked up on every call so
// refreshes are picked up.
func (m *Manager) Func(name string, opts ...CallOption) ActionFunc {
	return func(ctx context.Context, args map[string]any) *schema.ActionResult {
		return m.CallAction(ctx, name, args, opts...)
	}
}
