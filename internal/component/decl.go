package component

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/composer/internal/expr"
	"github.com/conduit-lang/composer/internal/values"
	"github.com/conduit-lang/composer/internal/yamlnode"
)

// ParseVariants normalizes both accepted variant shapes:
//
//	variants: {A: hero/cover, B: hero/video}
//	variants: [{key: A, component: hero/cover}, {key: B, component: hero/video}]
//
// Document order is kept.
func ParseVariants(n *yaml.Node) (Variants, error) {
	switch {
	case yamlnode.IsNull(n):
		return nil, nil
	case yamlnode.IsMapping(n):
		var out Variants
		for _, p := range yamlnode.Pairs(n) {
			if !yamlnode.IsScalar(p.Value) {
				return nil, fmt.Errorf("variant %q: alias must be a string", p.Key)
			}
			out = append(out, Variant{Key: p.Key, Alias: yamlnode.String(p.Value)})
		}
		return dedupeVariants(out)
	case yamlnode.IsSequence(n):
		var out Variants
		for i, item := range yamlnode.Items(n) {
			if !yamlnode.IsMapping(item) {
				return nil, fmt.Errorf("variants[%d]: expected {key, component}", i)
			}
			key := yamlnode.String(yamlnode.Get(item, "key"))
			alias := yamlnode.String(yamlnode.Get(item, "component"))
			if alias == "" {
				alias = yamlnode.String(yamlnode.Get(item, "alias"))
			}
			if key == "" || alias == "" {
				return nil, fmt.Errorf("variants[%d]: key and component are required", i)
			}
			out = append(out, Variant{Key: key, Alias: alias})
		}
		return dedupeVariants(out)
	}
	return nil, fmt.Errorf("variants: expected a mapping or a list, got %s", yamlnode.KindName(n))
}

func dedupeVariants(vs Variants) (Variants, error) {
	seen := make(map[string]bool, len(vs))
	for _, v := range vs {
		if seen[v.Key] {
			return nil, fmt.Errorf("variant %q declared twice", v.Key)
		}
		seen[v.Key] = true
	}
	return vs, nil
}

// ParseChildDecl normalizes one compose.children entry, or a slot-level child
// override. A bare string is an alias. Declaring both alias and variants is rejected.
func ParseChildDecl(id string, n *yaml.Node) (ChildDecl, error) {
	decl := ChildDecl{ID: id}
	if yamlnode.IsNull(n) {
		return decl, fmt.Errorf("child %q: empty declaration", id)
	}
	if yamlnode.IsScalar(n) {
		decl.Alias = yamlnode.String(n)
		return decl, nil
	}
	if !yamlnode.IsMapping(n) {
		return decl, fmt.Errorf("child %q: expected an alias or a mapping, got %s", id, yamlnode.KindName(n))
	}

	for _, p := range yamlnode.Pairs(n) {
		var err error
		switch p.Key {
		case "alias", "component":
			if !yamlnode.IsScalar(p.Value) {
				return decl, fmt.Errorf("child %q: alias must be a string", id)
			}
			decl.Alias = yamlnode.String(p.Value)
		case "variants":
			decl.Variants, err = ParseVariants(p.Value)
		case "with":
			decl.With, err = yamlnode.Map(p.Value)
		case "params":
			decl.Params, err = yamlnode.Map(p.Value)
		case "namespace", "namespace_override":
			decl.Namespace = yamlnode.String(p.Value)
		case "cache":
			v, verr := yamlnode.Value(p.Value)
			if verr != nil {
				return decl, fmt.Errorf("child %q: cache: %w", id, verr)
			}
			decl.Cache = values.BoolPtr(v)
		}
		if err != nil {
			return decl, fmt.Errorf("child %q: %s: %w", id, p.Key, err)
		}
	}

	if decl.Alias != "" && len(decl.Variants) > 0 {
		return decl, fmt.Errorf("child %q: declare either alias or variants, not both", id)
	}
	return decl, nil
}

// Override applies a slot-level override on top of a declared child. An override
// alias or variant map replaces the declared one; with/params stay separate so the
// render can merge them in declared → declared_with → override_with → override_params order.
func (c ChildDecl) Override(o ChildDecl) ResolvedChild {
	rc := ResolvedChild{
		ID:             c.ID,
		Variants:       c.VariantMap(),
		DeclaredParams: c.Params,
		DeclaredWith:   c.With,
		Namespace:      c.Namespace,
		Cache:          c.Cache,
	}
	if ov := o.VariantMap(); len(ov) > 0 {
		rc.Variants = ov
	}
	rc.OverrideWith = o.With
	rc.OverrideParams = o.Params
	if o.Namespace != "" {
		rc.Namespace = o.Namespace
	}
	if o.Cache != nil {
		rc.Cache = o.Cache
	}
	return rc
}

// Resolve is Override with no override.
func (c ChildDecl) Resolve() ResolvedChild {
	return c.Override(ChildDecl{})
}

// ResolvedChild is a child after slot overrides, ready to render.
type ResolvedChild struct {
	ID             string
	Variants       Variants
	DeclaredParams map[string]any
	DeclaredWith   map[string]any
	OverrideWith   map[string]any
	OverrideParams map[string]any
	Namespace      string
	Cache          *bool
}

// Dynamic reports whether the child's alias depends on the parent context.
func (r ResolvedChild) Dynamic() bool {
	return r.Variants.Dynamic()
}

// OptedOut reports an explicit cache: false.
func (r ResolvedChild) OptedOut() bool {
	return r.Cache != nil && !*r.Cache
}

// Params merges the four parameter layers in precedence order.
func (r ResolvedChild) Params() map[string]any {
	return values.DeepMerge(r.DeclaredParams, r.DeclaredWith, r.OverrideWith, r.OverrideParams)
}

// StaticAliases lists constant aliases among the child's variants.
func (r ResolvedChild) StaticAliases() []string {
	var out []string
	for _, v := range r.Variants {
		if v.Alias != "" && !expr.IsDynamic(v.Alias) {
			out = append(out, v.Alias)
		}
	}
	return out
}
