package params

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Coerce converts v to the declared type. Coercion is lossless: 2.5 never
// becomes an integer and booleans never become numbers.
func Coerce(v any, t Type) (any, error) {
	switch t {
	case "", TypeAny:
		return v, nil
	case TypeString:
		return toString(v)
	case TypeInteger:
		return toInteger(v)
	case TypeNumber:
		return toNumber(v)
	case TypeBoolean:
		return toBoolean(v)
	case TypeArray:
		return toArray(v)
	case TypeObject:
		return toObject(v)
	}
	return nil, fmt.Errorf("unknown type %q", t)
}

func toString(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("cannot convert %s to string", describe(v))
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %s to string", describe(v))
	}
	return s, nil
}

func toInteger(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return nil, fmt.Errorf("cannot convert %s to integer", describe(v))
	case string:
		s := strings.TrimSpace(val)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot convert %s to integer", describe(v))
		}
		return int64(f), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("cannot convert %s to integer without losing precision", describe(v))
		}
		return int64(val), nil
	case float32:
		return toInteger(float64(val))
	case json.Number:
		return toInteger(val.String())
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %s to integer", describe(v))
	}
	return n, nil
}

func toNumber(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return nil, fmt.Errorf("cannot convert %s to number", describe(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %s to number", describe(v))
		}
		return f, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %s to number", describe(v))
	}
	return f, nil
}

func toBoolean(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "t", "yes", "y", "on", "1":
			return true, nil
		case "false", "f", "no", "n", "off", "0", "":
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert %s to boolean", describe(v))
	case float64:
		if val != 0 && val != 1 {
			return nil, fmt.Errorf("cannot convert %s to boolean", describe(v))
		}
		return val == 1, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %s to boolean", describe(v))
	}
	return b, nil
}

func toArray(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		return val, nil
	case string:
		var out []any
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, fmt.Errorf("cannot convert %s to array", describe(v))
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("cannot convert %s to array", describe(v))
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func toObject(v any) (any, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %s to object", describe(v))
	}
	return m, nil
}

func describe(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
