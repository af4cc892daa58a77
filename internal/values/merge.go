// Package values holds the generic value helpers shared by hydration, config
// loading and interpolation: deep merging, dotted-path lookup and defensive
// scalar coercion of YAML-decoded data.
package values

// DeepMerge merges layers left to right into a new map.
//
// Mapping values recurse, every other value (lists included) replaces what the
// left side held. Inputs are never mutated and the result shares no mutable
// map or slice with them, so hydrator outputs can be cached safely.
func DeepMerge(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		incoming, isMap := v.(map[string]any)
		if !isMap {
			dst[k] = Clone(v)
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			dst[k] = Clone(incoming)
			continue
		}
		// existing is already a private copy owned by dst
		mergeInto(existing, incoming)
	}
}

// Clone returns a deep copy of maps and []any slices; other values are returned as-is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = Clone(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = Clone(inner)
		}
		return s
	case []string:
		s := make([]string, len(t))
		copy(s, t)
		return s
	default:
		return v
	}
}

// CloneMap is Clone for the common map case; nil yields an empty map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}
