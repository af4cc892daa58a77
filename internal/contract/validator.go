// Package contract validates hydrated contexts against component contracts.
package contract

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/values"
)

// Violation lists every failing field of one validation pass. Fields maps a
// dotted field path to the reason.
type Violation struct {
	Alias     string
	Namespace string
	Fields    map[string]string
}

func (v *Violation) Error() string {
	keys := values.SortedKeys(v.Fields)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + v.Fields[k]
	}
	return fmt.Sprintf("contract violation for %s (namespace %s): {%s}", v.Alias, v.Namespace, strings.Join(parts, ", "))
}

// Lookup resolves component metadata.
type Lookup interface {
	Get(alias, ns string, fallback bool) (*component.Metadata, error)
}

// Validator checks contexts against the contract of a registered component.
type Validator struct {
	lookup Lookup
}

// NewValidator creates a validator over a registry.
func NewValidator(lookup Lookup) *Validator {
	return &Validator{lookup: lookup}
}

// Validate looks up alias in ns and checks ctx against its contract. A missing
// component is reported as the lookup error.
func (v *Validator) Validate(alias, ns string, ctx map[string]any) error {
	m, err := v.lookup.Get(alias, ns, true)
	if err != nil {
		return err
	}
	return Check(m.Alias, m.Namespace, m.Contract, ctx)
}

// Check validates ctx against c and returns a *Violation, or nil.
func Check(alias, ns string, c component.Contract, ctx map[string]any) error {
	fields := map[string]string{}
	for _, name := range values.SortedKeys(c.Required) {
		val, ok := ctx[name]
		if !ok || val == nil {
			fields[name] = "required"
			continue
		}
		checkValue(name, c.Required[name], val, fields)
	}
	for _, name := range values.SortedKeys(c.Optional) {
		key := strings.TrimSuffix(name, "?")
		val, ok := ctx[key]
		if !ok || val == nil {
			continue
		}
		checkValue(key, c.Optional[name], val, fields)
	}
	if len(fields) == 0 {
		return nil
	}
	return &Violation{Alias: alias, Namespace: ns, Fields: fields}
}

// checkValue records into fields every mismatch between spec and val under path.
func checkValue(path string, spec, val any, fields map[string]string) {
	switch s := spec.(type) {
	case string:
		if reason := checkNamed(strings.TrimSpace(s), val, path, fields); reason != "" {
			fields[path] = reason
		}
	case map[string]any:
		obj := values.ToMap(val)
		if obj == nil {
			obj = structMap(val)
		}
		if obj == nil {
			fields[path] = "expected dict, got " + typeName(val)
			return
		}
		for _, key := range values.SortedKeys(s) {
			name := strings.TrimSuffix(key, "?")
			optional := name != key
			inner, ok := obj[name]
			if !ok || inner == nil {
				if !optional {
					fields[path+"."+name] = "required"
				}
				continue
			}
			checkValue(path+"."+name, s[key], inner, fields)
		}
	case []any:
		items, ok := asList(val)
		if !ok {
			fields[path] = "expected list, got " + typeName(val)
			return
		}
		if len(s) != 1 {
			return
		}
		for i, item := range items {
			checkValue(fmt.Sprintf("%s[%d]", path, i), s[0], item, fields)
		}
	}
}

// checkNamed matches type names. list[inner] recurses into items; unknown
// names pass.
func checkNamed(name string, val any, path string, fields map[string]string) string {
	if inner, ok := strings.CutPrefix(name, "list["); ok && strings.HasSuffix(inner, "]") {
		items, ok := asList(val)
		if !ok {
			return "expected list, got " + typeName(val)
		}
		inner = strings.TrimSuffix(inner, "]")
		for i, item := range items {
			checkValue(fmt.Sprintf("%s[%d]", path, i), inner, item, fields)
		}
		return ""
	}

	ok := true
	switch name {
	case "str", "string":
		_, ok = val.(string)
	case "int":
		ok = isInt(val)
	case "float":
		ok = isInt(val) || isFloat(val)
	case "bool":
		_, ok = val.(bool)
	case "list":
		_, ok = asList(val)
	case "dict":
		ok = values.ToMap(val) != nil || structMap(val) != nil
	}
	if !ok {
		return fmt.Sprintf("expected %s, got %s", name, typeName(val))
	}
	return ""
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// structMap exposes a struct or a typed map as a generic mapping. Struct
// fields are reachable by name, lowercased name and json/yaml tag.
func structMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	case reflect.Struct:
		out := map[string]any{}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			val := rv.Field(i).Interface()
			for _, name := range fieldNames(sf) {
				out[name] = val
			}
		}
		return out
	}
	return nil
}

func fieldNames(sf reflect.StructField) []string {
	names := []string{sf.Name, strings.ToLower(sf.Name)}
	for _, tag := range []string{"json", "yaml"} {
		if name, _, _ := strings.Cut(sf.Tag.Get(tag), ","); name != "" && name != "-" {
			names = append(names, name)
		}
	}
	return names
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "str"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	}
	if isInt(v) {
		return "int"
	}
	if isFloat(v) {
		return "float"
	}
	return reflect.TypeOf(v).String()
}
