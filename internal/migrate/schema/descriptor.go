package schema

import (
	"reflect"
	"strings"
)

// descriptor normalizes access to the several shapes a table descriptor may
// arrive in: a map keyed by strings, a struct with exported fields, or a
// pointer to either. Functions stored as values are invoked (with no
// arguments) and their result inspected in place of the function itself,
// which is how descriptor libraries express lazy references.
type descriptor struct {
	value any
}

func newDescriptor(v any) *descriptor {
	return &descriptor{value: unwrap(v)}
}

// unwrap dereferences pointers/interfaces and invokes zero-argument
// single-result functions until a concrete value remains.
func unwrap(v any) any {
	for i := 0; i < 8; i++ {
		if v == nil {
			return nil
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Ptr, reflect.Interface:
			if rv.IsNil() {
				return nil
			}
			v = rv.Elem().Interface()
		case reflect.Func:
			if rv.Type().NumIn() != 0 || rv.Type().NumOut() != 1 {
				return v
			}
			out := rv.Call(nil)
			v = out[0].Interface()
		default:
			return v
		}
	}
	return v
}

// get looks a value up by any of the given keys. Map descriptors are matched
// by exact key; struct descriptors by exported field name, compared without
// case or underscores so that "table_name", "tableName" and "TableName" all
// resolve the same field.
func (d *descriptor) get(keys ...string) (any, bool) {
	if d == nil || d.value == nil {
		return nil, false
	}
	switch v := d.value.(type) {
	case map[string]any:
		for _, k := range keys {
			if val, ok := v[k]; ok && val != nil {
				return val, true
			}
		}
		return nil, false
	}

	rv := reflect.ValueOf(d.value)
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	rt := rv.Type()
	for _, k := range keys {
		want := foldKey(k)
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			if foldKey(f.Name) == want {
				val := rv.Field(i).Interface()
				if val == nil {
					continue
				}
				return val, true
			}
		}
	}
	return nil, false
}

// isMapOrStruct reports whether the descriptor has an inspectable shape.
func (d *descriptor) isMapOrStruct() bool {
	if d == nil || d.value == nil {
		return false
	}
	if _, ok := d.value.(map[string]any); ok {
		return true
	}
	return reflect.ValueOf(d.value).Kind() == reflect.Struct
}

// foldKey lowers a key and strips underscores for shape-tolerant matching.
func foldKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "")
}

// asString coerces a descriptor value to a string, unwrapping indirection.
func asString(v any) (string, bool) {
	s, ok := unwrap(v).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// asBool coerces a descriptor value to a bool.
func asBool(v any) (bool, bool) {
	b, ok := unwrap(v).(bool)
	return b, ok
}

// asStringSlice coerces a descriptor value to a list of strings, accepting a
// bare string, []string, or []any of strings.
func asStringSlice(v any) []string {
	switch val := unwrap(v).(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := asString(item); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// asSlice coerces a descriptor value to a generic slice.
func asSlice(v any) []any {
	switch val := unwrap(v).(type) {
	case []any:
		return val
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// toSnakeCase converts CamelCase export keys to snake_case table names.
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
