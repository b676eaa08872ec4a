package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/rendis/dccmcp/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubAction(name, scope string, order int) *FuncAction {
	return NewFuncAction(Metadata{
		Name:        name,
		Scope:       scope,
		Version:     "1.0.0",
		Description: "stub " + name,
		Order:       order,
	}, nil, nil, func(_ context.Context, in Input) (map[string]any, error) {
		return map[string]any{"name": name}, nil
	})
}

func names(seq func(func(*Descriptor) bool)) []string {
	var out []string
	for d := range seq {
		out = append(out, d.Key.Name)
	}
	return out
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry("")
	require.NoError(t, reg.Register(NewDescriptor(stubAction("create_sphere", "maya", 0), "/a.yaml", "m")))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("maya", "create_sphere"))
	assert.Equal(t, PolicyReplace, reg.Policy())
}

func TestRegistry_Register_Nil(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	err := reg.Register(Descriptor{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegistry_Register_EmptyName(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	err := reg.Register(NewDescriptor(stubAction("", "maya", 0), "", ""))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegistry_DuplicateReplace(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("dup", "maya", 0), "/a.lua", "a")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("dup", "maya", 0), "/b.lua", "b")))

	d, err := reg.Get("maya", "dup")
	require.NoError(t, err)
	assert.Equal(t, "/b.lua", d.SourcePath)
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, []string{"/b.lua"}, reg.Sources())
}

func TestRegistry_DuplicateReject(t *testing.T) {
	reg := NewRegistry(PolicyReject)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("dup", "maya", 0), "/a.lua", "a")))

	err := reg.Register(NewDescriptor(stubAction("dup", "maya", 0), "/b.lua", "b"))
	require.Error(t, err)

	var aerr *schema.ActionError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeDuplicateAction, aerr.Code)
	assert.Equal(t, "/a.lua", aerr.Details["existing_source"])

	d, err := reg.Get("maya", "dup")
	require.NoError(t, err)
	assert.Equal(t, "/a.lua", d.SourcePath)
}

func TestRegistry_DuplicateRejectProgrammatic(t *testing.T) {
	reg := NewRegistry(PolicyReject)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("native", "", 0), "", "")))
	err := reg.Register(NewDescriptor(stubAction("native", "", 0), "", ""))
	assert.True(t, schema.IsCode(err, schema.ErrCodeDuplicateAction))
}

func TestRegistry_DuplicateRejectSameSourceReplaces(t *testing.T) {
	reg := NewRegistry(PolicyReject)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("a", "maya", 0), "/a.lua", "a")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("a", "maya", 0), "/a.lua", "a")))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Get_ScopeFallback(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("shared", "", 0), "/any.yaml", "x")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("shared", "maya", 0), "/maya.yaml", "y")))

	d, err := reg.Get("maya", "shared")
	require.NoError(t, err)
	assert.Equal(t, "maya", d.Key.Scope)

	d, err = reg.Get("houdini", "shared")
	require.NoError(t, err)
	assert.Equal(t, schema.AnyScope, d.Key.Scope)

	d, err = reg.Get("", "shared")
	require.NoError(t, err)
	assert.Equal(t, schema.AnyScope, d.Key.Scope)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	_, err := reg.Get("maya", "missing")
	require.Error(t, err)

	var aerr *schema.ActionError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeActionNotFound, aerr.Code)
	assert.Equal(t, "missing", aerr.Details["name"])
	assert.False(t, reg.Has("maya", "missing"))
}

func TestRegistry_List_OrderAndScope(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("late", "maya", 10), "", "")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("first", "maya", 0), "", "")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("second", "maya", 0), "", "")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("global", "", 5), "", "")))
	require.NoError(t, reg.Register(NewDescriptor(stubAction("other", "houdini", 0), "", "")))

	assert.Equal(t, []string{"first", "second", "global", "late"}, names(reg.List("maya")))
	assert.Equal(t, []string{"other", "global"}, names(reg.List("houdini")))
	assert.Len(t, names(reg.List("")), 5)
}

func TestRegistry_List_Restartable(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("a", "maya", 0), "", "")))
	seq := reg.List("maya")
	assert.Equal(t, []string{"a"}, names(seq))

	require.NoError(t, reg.Register(NewDescriptor(stubAction("b", "maya", 1), "", "")))
	assert.Equal(t, []string{"a", "b"}, names(seq))

	for range seq {
		break
	}
}

func TestRegistry_ReplaceSource(t *testing.T) {
	reg := NewRegistry(PolicyReject)
	keys, err := reg.ReplaceSource("/tools.lua", []Descriptor{
		NewDescriptor(stubAction("tool.a", "maya", 0), "", "m1"),
		NewDescriptor(stubAction("tool.b", "maya", 0), "", "m1"),
	})
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// Reloading the same file drops removed actions and never collides with itself.
	keys, err = reg.ReplaceSource("/tools.lua", []Descriptor{
		NewDescriptor(stubAction("tool.a", "maya", 0), "", "m2"),
	})
	require.NoError(t, err)
	assert.Equal(t, []Key{{Scope: "maya", Name: "tool.a"}}, keys)
	assert.False(t, reg.Has("maya", "tool.b"))

	d, err := reg.Get("maya", "tool.a")
	require.NoError(t, err)
	assert.Equal(t, "m2", d.ModuleName)
	assert.Equal(t, "/tools.lua", d.SourcePath)
}

func TestRegistry_ReplaceSource_RejectIsAtomic(t *testing.T) {
	reg := NewRegistry(PolicyReject)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("taken", "maya", 0), "/owner.yaml", "o")))
	_, err := reg.ReplaceSource("/new.yaml", []Descriptor{
		NewDescriptor(stubAction("fresh", "maya", 0), "", "n"),
		NewDescriptor(stubAction("taken", "maya", 0), "", "n"),
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeDuplicateAction))
	assert.False(t, reg.Has("maya", "fresh"))
	assert.Equal(t, []string{"/owner.yaml"}, reg.Sources())
}

func TestRegistry_ReplaceSource_DuplicateWithinFile(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	_, err := reg.ReplaceSource("/x.yaml", []Descriptor{
		NewDescriptor(stubAction("a", "maya", 0), "", ""),
		NewDescriptor(stubAction("a", "maya", 0), "", ""),
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeDuplicateAction))
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_ReplaceTakesOverOtherSource(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	_, err := reg.ReplaceSource("/a.yaml", []Descriptor{NewDescriptor(stubAction("x", "maya", 0), "", "")})
	require.NoError(t, err)
	_, err = reg.ReplaceSource("/b.yaml", []Descriptor{NewDescriptor(stubAction("x", "maya", 0), "", "")})
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.yaml"}, reg.Sources())

	// Reloading /a.yaml with nothing must not remove the entry now owned by /b.yaml.
	_, err = reg.ReplaceSource("/a.yaml", nil)
	require.NoError(t, err)
	assert.True(t, reg.Has("maya", "x"))
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	require.NoError(t, reg.Register(NewDescriptor(stubAction("gone", "maya", 0), "/g.yaml", "")))
	assert.True(t, reg.Unregister("maya", "gone"))
	assert.False(t, reg.Unregister("maya", "gone"))
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Sources())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(PolicyReplace)
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = reg.Register(NewDescriptor(stubAction(fmt.Sprintf("action.%d", n%10), "maya", 0), fmt.Sprintf("/f%d.lua", n%10), ""))
		}(i)
	}
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = slices.Collect(reg.List("maya"))
			_, _ = reg.Get("maya", "action.1")
			_ = reg.Count()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, reg.Count())
	assert.Len(t, reg.Sources(), 10)
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReplace, p)

	p, err = ParseDuplicatePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParseDuplicatePolicy("merge")
	assert.Error(t, err)
}

func TestMetadata_Check(t *testing.T) {
	assert.ErrorContains(t, Metadata{}.Check(), "name")
	assert.ErrorContains(t, Metadata{Name: "a"}.Check(), "version")
	assert.ErrorContains(t, Metadata{Name: "a", Version: "1"}.Check(), "description")
	assert.NoError(t, Metadata{Name: "a", Version: "1", Description: "d"}.Check())
}

func TestFuncAction(t *testing.T) {
	a := stubAction("echo", "", 0)
	out, err := a.Execute(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "echo", out["name"])
	assert.Equal(t, Key{Scope: schema.AnyScope, Name: "echo"}, KeyOf(a.Metadata()))
	assert.Equal(t, "*:echo", KeyOf(a.Metadata()).String())

	empty := &FuncAction{}
	out, err = empty.Execute(context.Background(), Input{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
