package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/spf13/cast"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/params"
)

// Function-style globals.
const (
	globalName        = "ACTION_NAME"
	globalVersion     = "ACTION_VERSION"
	globalDescription = "ACTION_DESCRIPTION"
	globalScope       = "ACTION_SCOPE"
	globalTags        = "ACTION_TAGS"
	globalAuthor      = "ACTION_AUTHOR"
	globalCategory    = "ACTION_CATEGORY"
	globalInput       = "ACTION_INPUT"
	globalOutput      = "ACTION_OUTPUT"
)

// legacyVersion is the version function-style scripts get by default.
const legacyVersion = "0.1.0"

// LuaFormat loads Lua actions. A script either returns an action table (or
// a list of them) with an execute(args, ctx) function, or declares ACTION_*
// globals next to plain global functions.
//
// Every call runs in a fresh interpreter built from the cached source, so
// scripts cannot leak state between calls.
type LuaFormat struct{}

// NewLuaFormat creates the Lua format.
func NewLuaFormat() *LuaFormat {
	return &LuaFormat{}
}

func (f *LuaFormat) Name() string { return "lua" }

func (f *LuaFormat) Parse(ctx context.Context, src Source) ([]actions.Action, error) {
	chunk := &luaChunk{name: "@" + filepath.Base(src.Path), code: string(src.Data)}

	l := lua.NewState()
	lua.OpenLibraries(l)
	builtins := globalNames(l)
	if err := chunk.run(ctx, l); err != nil {
		return nil, err
	}

	if l.TypeOf(-1) == lua.TypeTable {
		return classActions(l, chunk)
	}
	l.Pop(1)

	stem := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	return functionActions(l, chunk, builtins, stem)
}

type luaChunk struct {
	name string
	code string
}

// run loads and executes the chunk, leaving its single result on the stack.
func (c *luaChunk) run(ctx context.Context, l *lua.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := lua.LoadBuffer(l, c.code, c.name, ""); err != nil {
		return fmt.Errorf("lua syntax error: %w", err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return fmt.Errorf("lua error: %w", err)
	}
	return nil
}

func classActions(l *lua.State, chunk *luaChunk) ([]actions.Action, error) {
	top := l.AbsIndex(-1)

	l.RawGetInt(top, 1)
	isList := l.TypeOf(-1) == lua.TypeTable
	l.Pop(1)

	if !isList {
		a, err := classAction(l, top, chunk, 0)
		if err != nil {
			return nil, err
		}
		return []actions.Action{a}, nil
	}

	var out []actions.Action
	for i := 1; ; i++ {
		l.RawGetInt(top, i)
		if l.TypeOf(-1) != lua.TypeTable {
			l.Pop(1)
			break
		}
		a, err := classAction(l, l.AbsIndex(-1), chunk, i)
		l.Pop(1)
		if err != nil {
			return nil, fmt.Errorf("action #%d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func classAction(l *lua.State, index int, chunk *luaChunk, position int) (*luaAction, error) {
	tags, err := valueField(l, index, "tags")
	if err != nil {
		return nil, err
	}
	order, err := valueField(l, index, "order")
	if err != nil {
		return nil, err
	}
	meta := actions.Metadata{
		Name:        stringField(l, index, "name"),
		Version:     stringField(l, index, "version"),
		Description: stringField(l, index, "description"),
		Scope:       stringField(l, index, "scope"),
		Author:      stringField(l, index, "author"),
		Category:    stringField(l, index, "category"),
		Tags:        stringList(tags),
		Order:       cast.ToInt(order),
	}
	if err := meta.Check(); err != nil {
		return nil, err
	}

	l.Field(index, "execute")
	isFunc := l.IsFunction(-1)
	l.Pop(1)
	if !isFunc {
		return nil, fmt.Errorf("action %q: execute must be a function", meta.Name)
	}

	in, err := tableSchema(l, index, "input")
	if err != nil {
		return nil, fmt.Errorf("action %q %w", meta.Name, err)
	}
	out, err := tableSchema(l, index, "output")
	if err != nil {
		return nil, fmt.Errorf("action %q %w", meta.Name, err)
	}

	return &luaAction{
		meta:     meta,
		input:    in,
		output:   out,
		chunk:    chunk,
		position: position,
		report: report{
			message: stringField(l, index, "message"),
			prompt:  stringField(l, index, "prompt"),
		},
	}, nil
}

func functionActions(l *lua.State, chunk *luaChunk, builtins map[string]bool, stem string) ([]actions.Action, error) {
	globals := globalNames(l)
	var funcs []string
	for name := range globals {
		if builtins[name] || strings.HasPrefix(name, "_") {
			continue
		}
		l.Global(name)
		if l.IsFunction(-1) {
			funcs = append(funcs, name)
		}
		l.Pop(1)
	}
	if len(funcs) == 0 {
		return nil, fmt.Errorf("lua script returns no action table and defines no public functions")
	}
	sort.Strings(funcs)

	values := map[string]any{}
	for _, name := range []string{globalName, globalVersion, globalDescription, globalScope,
		globalAuthor, globalCategory, globalTags, globalInput, globalOutput} {
		l.Global(name)
		v, err := luaToGo(l, -1)
		l.Pop(1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		values[name] = v
	}
	base := cast.ToString(values[globalName])
	if base == "" {
		base = stem
	}
	meta := actions.Metadata{
		Version:     cast.ToString(values[globalVersion]),
		Description: cast.ToString(values[globalDescription]),
		Scope:       cast.ToString(values[globalScope]),
		Author:      cast.ToString(values[globalAuthor]),
		Category:    cast.ToString(values[globalCategory]),
		Tags:        stringList(values[globalTags]),
	}
	if meta.Version == "" {
		meta.Version = legacyVersion
	}
	in, err := schemaField(values[globalInput])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", globalInput, err)
	}
	out, err := schemaField(values[globalOutput])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", globalOutput, err)
	}

	primary := ""
	if len(funcs) == 1 {
		primary = funcs[0]
	} else if globals[base] {
		primary = base
	}

	result := make([]actions.Action, 0, len(funcs))
	for i, fn := range funcs {
		m := meta
		m.Order = i
		a := &luaAction{meta: m, chunk: chunk, function: fn}
		if fn == primary {
			a.meta.Name = base
			a.input, a.output = in, out
		} else {
			a.meta.Name = base + "." + fn
		}
		result = append(result, a)
	}
	return result, nil
}

// tableSchema reads the schema stored at t[name].
func tableSchema(l *lua.State, index int, name string) (*params.Schema, error) {
	v, err := valueField(l, index, name)
	if err != nil {
		return nil, err
	}
	s, err := schemaField(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

func schemaField(v any) (*params.Schema, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema must be a table, got %T", v)
	}
	return params.FromMap(m)
}

func stringList(v any) []string {
	if v == nil {
		return nil
	}
	return cast.ToStringSlice(v)
}

// luaAction runs either the execute field of a returned table (position 0
// for a single table, 1..n inside a list) or a named global function.
type luaAction struct {
	meta     actions.Metadata
	input    *params.Schema
	output   *params.Schema
	chunk    *luaChunk
	position int
	function string
	report
}

func (a *luaAction) Metadata() actions.Metadata { return a.meta }
func (a *luaAction) InputSchema() *params.Schema { return a.input }
func (a *luaAction) OutputSchema() *params.Schema { return a.output }

func (a *luaAction) Execute(ctx context.Context, in actions.Input) (map[string]any, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := a.chunk.run(ctx, l); err != nil {
		return nil, err
	}

	if a.function != "" {
		l.Pop(1)
		l.Global(a.function)
	} else {
		top := l.AbsIndex(-1)
		if a.position > 0 {
			l.RawGetInt(top, a.position)
			top = l.AbsIndex(-1)
		}
		l.Field(top, "execute")
	}
	if !l.IsFunction(-1) {
		return nil, fmt.Errorf("lua action %q is no longer callable", a.meta.Name)
	}

	if err := pushGo(l, in.Args); err != nil {
		return nil, fmt.Errorf("lua action %q args: %w", a.meta.Name, err)
	}
	if err := pushGo(l, in.Context); err != nil {
		return nil, fmt.Errorf("lua action %q context: %w", a.meta.Name, err)
	}
	if err := l.ProtectedCall(2, 1, 0); err != nil {
		return nil, err
	}
	out, err := luaToGo(l, -1)
	if err != nil {
		return nil, fmt.Errorf("lua action %q result: %w", a.meta.Name, err)
	}
	return asOutput(out), nil
}
