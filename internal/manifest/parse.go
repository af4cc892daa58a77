package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/expr"
	"github.com/conduit-lang/composer/internal/values"
	"github.com/conduit-lang/composer/internal/yamlnode"
)

// siblingTemplate is looked up next to a manifest that names no template.
const siblingTemplate = "component.html"

// Parse normalizes one manifest document. file is the path on disk, rel its
// slash-separated location relative to the template root it was found in.
func Parse(data []byte, file, rel string) (*component.Metadata, error) {
	root, err := yamlnode.Parse(data)
	if err != nil {
		return nil, &component.ConfigError{Path: file, Reason: "invalid YAML: " + err.Error()}
	}
	if !yamlnode.IsMapping(root) {
		return nil, &component.ConfigError{Path: file, Reason: "manifest must be a mapping"}
	}

	m := &component.Metadata{Source: file}
	fail := func(field string, err error) (*component.Metadata, error) {
		return nil, &component.ConfigError{Path: file, Field: field, Reason: err.Error()}
	}

	m.Alias = strings.TrimSpace(yamlnode.String(yamlnode.Get(root, "alias")))
	if m.Alias == "" {
		return fail("alias", fmt.Errorf("alias is required"))
	}
	if m.Aliases, err = yamlnode.Strings(yamlnode.Get(root, "aliases")); err != nil {
		return fail("aliases", err)
	}

	m.Template = strings.TrimSpace(yamlnode.String(yamlnode.Get(root, "template")))
	if m.Template == "" {
		sibling := filepath.Join(filepath.Dir(file), siblingTemplate)
		if _, err := os.Stat(sibling); err != nil {
			return fail("template", fmt.Errorf("no template declared and no sibling %s", siblingTemplate))
		}
		m.Template = path.Join(path.Dir(rel), siblingTemplate)
	}

	if m.Params, err = yamlnode.Map(yamlnode.Get(root, "params")); err != nil {
		return fail("params", err)
	}
	if m.Assets, err = parseAssets(yamlnode.Get(root, "assets")); err != nil {
		return fail("assets", err)
	}
	if m.Contract, err = parseContract(yamlnode.Get(root, "contract")); err != nil {
		return fail("contract", err)
	}
	if m.Hydrate, err = parseHydrate(yamlnode.Get(root, "hydrate")); err != nil {
		return fail("hydrate", err)
	}
	if m.Render, err = parseRender(yamlnode.Get(root, "render")); err != nil {
		return fail("render", err)
	}
	if m.Compose, err = parseCompose(yamlnode.Get(root, "compose")); err != nil {
		return fail("compose", err)
	}
	if err := checkExpressions(m); err != nil {
		return fail("compose", err)
	}
	return m, nil
}

func parseAssets(n *yaml.Node) (component.Assets, error) {
	var a component.Assets
	if yamlnode.IsNull(n) {
		return a.Normalized(), nil
	}
	if !yamlnode.IsMapping(n) {
		return a, fmt.Errorf("expected a mapping of css/js/head/vendors")
	}
	var err error
	if a.CSS, err = yamlnode.Strings(yamlnode.Get(n, "css")); err != nil {
		return a, fmt.Errorf("css: %w", err)
	}
	if a.JS, err = yamlnode.Strings(yamlnode.Get(n, "js")); err != nil {
		return a, fmt.Errorf("js: %w", err)
	}
	if a.Head, err = yamlnode.Strings(yamlnode.Get(n, "head")); err != nil {
		return a, fmt.Errorf("head: %w", err)
	}
	if a.Vendors, err = yamlnode.Strings(yamlnode.Get(n, "vendors")); err != nil {
		return a, fmt.Errorf("vendors: %w", err)
	}
	return a.Normalized(), nil
}

// parseContract forces required/optional into mappings. A list of field names
// is read as {name: any}; any other shape becomes an empty mapping.
func parseContract(n *yaml.Node) (component.Contract, error) {
	c := component.Contract{Required: map[string]any{}, Optional: map[string]any{}}
	if yamlnode.IsNull(n) {
		return c, nil
	}
	if !yamlnode.IsMapping(n) {
		return c, nil
	}
	var err error
	if c.Required, err = fieldMap(yamlnode.Get(n, "required")); err != nil {
		return c, fmt.Errorf("required: %w", err)
	}
	if c.Optional, err = fieldMap(yamlnode.Get(n, "optional")); err != nil {
		return c, fmt.Errorf("optional: %w", err)
	}
	return c, nil
}

func fieldMap(n *yaml.Node) (map[string]any, error) {
	switch {
	case yamlnode.IsMapping(n):
		return yamlnode.Map(n)
	case yamlnode.IsSequence(n):
		names, err := yamlnode.Strings(n)
		if err != nil {
			return map[string]any{}, nil
		}
		out := make(map[string]any, len(names))
		for _, name := range names {
			out[name] = "any"
		}
		return out, nil
	}
	return map[string]any{}, nil
}

// parseHydrate accepts {module, func}, {python|call: path}, {calls: [...]},
// a bare dotted path, or a list of dotted paths.
func parseHydrate(n *yaml.Node) ([]string, error) {
	switch {
	case yamlnode.IsNull(n):
		return nil, nil
	case yamlnode.IsScalar(n):
		return []string{yamlnode.String(n)}, nil
	case yamlnode.IsSequence(n):
		return yamlnode.Strings(n)
	case yamlnode.IsMapping(n):
		module := yamlnode.String(yamlnode.Get(n, "module"))
		fn := yamlnode.String(yamlnode.Get(n, "func"))
		if module != "" || fn != "" {
			if module == "" || fn == "" {
				return nil, fmt.Errorf("module and func must be given together")
			}
			return []string{module + "." + fn}, nil
		}
		for _, key := range []string{"python", "call"} {
			if p := yamlnode.String(yamlnode.Get(n, key)); p != "" {
				return []string{p}, nil
			}
		}
		if calls := yamlnode.Get(n, "calls"); calls != nil {
			return yamlnode.Strings(calls)
		}
		return nil, fmt.Errorf("expected module/func, python, call or calls")
	}
	return nil, fmt.Errorf("unsupported shape %s", yamlnode.KindName(n))
}

// parseRender keeps cacheable, ttl, vary_on and qa_isolation; wrongly typed
// values are dropped rather than rejected.
func parseRender(n *yaml.Node) (component.RenderOptions, error) {
	var r component.RenderOptions
	raw, err := yamlnode.Map(n)
	if err != nil {
		return r, nil
	}
	r.Cacheable = values.BoolPtr(raw["cacheable"])
	if ttl, ok := values.ToInt(raw["ttl"]); ok && ttl > 0 {
		r.TTL = ttl
	}
	r.VaryOn = values.ToStringSlice(raw["vary_on"])
	if qa, ok := values.ToBool(raw["qa_isolation"]); ok {
		r.QAIsolation = qa
	}
	return r, nil
}

func parseCompose(n *yaml.Node) (component.Compose, error) {
	c := component.Compose{Children: map[string]component.ChildDecl{}}
	if yamlnode.IsNull(n) {
		return c, nil
	}
	children := yamlnode.Get(n, "children")
	if yamlnode.IsNull(children) {
		return c, nil
	}
	if !yamlnode.IsMapping(children) {
		return c, fmt.Errorf("children must be a mapping of child id to declaration")
	}
	for _, p := range yamlnode.Pairs(children) {
		decl, err := component.ParseChildDecl(p.Key, p.Value)
		if err != nil {
			return c, err
		}
		if len(decl.VariantMap()) == 0 {
			return c, fmt.Errorf("child %q: alias or variants required", p.Key)
		}
		c.Children[p.Key] = decl
	}
	return c, nil
}

// checkExpressions validates interpolation syntax in child aliases and params.
// When the manifest declares a contract, every expression root must name a
// contract field, a default param, or one of the reserved roots.
func checkExpressions(m *component.Metadata) error {
	roots := map[string]bool{"params": true, "request": true}
	strict := !m.Contract.IsEmpty()
	for k := range m.Params {
		roots[k] = true
	}
	for _, fields := range []map[string]any{m.Contract.Required, m.Contract.Optional} {
		for k := range fields {
			roots[strings.TrimSuffix(k, "?")] = true
		}
	}

	check := func(child, s string) error {
		if !expr.IsDynamic(s) {
			return nil
		}
		t, err := expr.Parse(s)
		if err != nil {
			return fmt.Errorf("child %q: %w", child, err)
		}
		if !strict {
			return nil
		}
		for _, r := range t.Roots() {
			if !roots[r] {
				return fmt.Errorf("child %q: expression %q references unknown root %q", child, s, r)
			}
		}
		return nil
	}

	for _, id := range m.Compose.ChildIDs() {
		decl := m.Compose.Children[id]
		for _, v := range decl.VariantMap() {
			if err := check(id, v.Alias); err != nil {
				return err
			}
		}
		for _, params := range []map[string]any{decl.With, decl.Params} {
			for _, s := range stringLeaves(params) {
				if err := check(id, s); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func stringLeaves(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		var out []string
		for _, k := range values.SortedKeys(t) {
			out = append(out, stringLeaves(t[k])...)
		}
		return out
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, stringLeaves(item)...)
		}
		return out
	}
	return nil
}
