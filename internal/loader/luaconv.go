package loader

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Shopify/go-lua"
	"github.com/spf13/cast"
)

// maxNesting bounds how deep tables may nest when crossing between Go and
// Lua.
const maxNesting = 100

var (
	errCyclicTable = errors.New("lua table contains itself")
	errTooDeep     = fmt.Errorf("value nested deeper than %d levels", maxNesting)
	errStackFull   = errors.New("lua stack exhausted")
)

// converter turns Lua values into Go values. active holds the tables on
// the current path so a self-referencing table is reported, not followed.
type converter struct {
	l      *lua.State
	active map[any]bool
	depth  int
}

func luaToGo(l *lua.State, index int) (any, error) {
	c := &converter{l: l, active: map[any]bool{}}
	return c.value(index)
}

func (c *converter) value(index int) (any, error) {
	l := c.l
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return normalizeNumber(n), nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeTable:
		return c.enter(index)
	case lua.TypeUserData:
		return l.ToUserData(index), nil
	default:
		return nil, nil
	}
}

// enter converts the table at index, guarding one level of nesting.
func (c *converter) enter(index int) (any, error) {
	index = c.l.AbsIndex(index)
	id := c.l.ToValue(index)
	if c.active[id] {
		return nil, errCyclicTable
	}
	if c.depth >= maxNesting {
		return nil, errTooDeep
	}
	// key, value and one nested lookup per level
	if !c.l.CheckStack(3) {
		return nil, errStackFull
	}
	c.active[id] = true
	c.depth++
	defer func() {
		delete(c.active, id)
		c.depth--
	}()
	return c.table(index)
}

// table returns a []any for sequences 1..n and a map otherwise. An empty
// table becomes an empty map.
func (c *converter) table(index int) (any, error) {
	l := c.l
	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if i, ok := l.ToInteger(-2); ok && i > 0 {
				count++
				if i > maxIndex {
					maxIndex = i
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if !isArray || count == 0 || maxIndex != count {
		return c.mapOf(index)
	}
	out := make([]any, 0, maxIndex)
	for i := 1; i <= maxIndex; i++ {
		l.RawGetInt(index, i)
		v, err := c.value(-1)
		l.Pop(1)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *converter) mapOf(index int) (any, error) {
	l := c.l
	out := map[string]any{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			v, err := c.value(-1)
			if err != nil {
				l.Pop(2)
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = v
		}
		l.Pop(1)
	}
	return out, nil
}

func normalizeNumber(n float64) any {
	if math.Mod(n, 1) == 0 && math.Abs(n) < 1<<53 {
		return int(n)
	}
	return n
}

// pushGo pushes v onto the stack. Maps and slices become tables; values
// with no Lua counterpart travel as opaque userdata. On error nothing is
// left on the stack.
func pushGo(l *lua.State, v any) error {
	top := l.Top()
	if err := pushValue(l, v, 0); err != nil {
		l.SetTop(top)
		return err
	}
	return nil
}

func pushValue(l *lua.State, v any, depth int) error {
	if depth > maxNesting {
		return errTooDeep
	}
	if !l.CheckStack(2) {
		return errStackFull
	}
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case string:
		l.PushString(val)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		l.PushInteger(cast.ToInt(val))
	case uint64, float32, float64:
		l.PushNumber(cast.ToFloat64(val))
	case []string:
		l.CreateTable(len(val), 0)
		for i, s := range val {
			l.PushString(s)
			l.RawSetInt(-2, i+1)
		}
	case []any:
		l.CreateTable(len(val), 0)
		for i, item := range val {
			if err := pushValue(l, item, depth+1); err != nil {
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := pushValue(l, val[k], depth+1); err != nil {
				return err
			}
			l.SetField(-2, k)
		}
	default:
		l.PushUserData(val)
	}
	return nil
}

// stringField reads t[name] as a string, or "" when absent.
func stringField(l *lua.State, index int, name string) string {
	l.Field(index, name)
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeString && l.TypeOf(-1) != lua.TypeNumber {
		return ""
	}
	s, _ := l.ToString(-1)
	return s
}

// valueField reads t[name] converted to Go, or nil when absent.
func valueField(l *lua.State, index int, name string) (any, error) {
	l.Field(index, name)
	defer l.Pop(1)
	v, err := luaToGo(l, -1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// globalNames lists every string key of the global table.
func globalNames(l *lua.State) map[string]bool {
	names := map[string]bool{}
	l.PushGlobalTable()
	idx := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(idx) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			names[k] = true
		}
		l.Pop(1)
	}
	l.Pop(1)
	return names
}
