package values

import (
	"reflect"
	"strconv"
	"strings"
)

// Lookup walks a dotted path ("ctx.choice", "items.0.title") through maps,
// slices and struct fields. The second return is false when any segment is missing.
func Lookup(root any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch t := cur.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := t[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}

	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Struct:
		return structField(rv, seg)
	}
	return nil, false
}

// structField matches an exported field by exact name first, then case-insensitively,
// so "ctx.choice" finds a field named Choice.
func structField(rv reflect.Value, name string) (any, bool) {
	if f := rv.FieldByName(name); f.IsValid() && f.CanInterface() {
		return f.Interface(), true
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if strings.EqualFold(sf.Name, name) || tagName(sf) == name {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

func tagName(sf reflect.StructField) string {
	for _, key := range []string{"json", "yaml"} {
		if tag, ok := sf.Tag.Lookup(key); ok {
			if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
				return name
			}
		}
	}
	return ""
}
