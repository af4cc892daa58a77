package pageconfig

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/values"
	"github.com/conduit-lang/composer/internal/yamlnode"
)

func configErr(file, field, format string, args ...any) error {
	return &component.ConfigError{Path: file, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// unwrap returns the value under key when it is the document's only wrapper,
// e.g. `pages: {...}`, and the document itself otherwise.
func unwrap(root *yaml.Node, key string) *yaml.Node {
	if inner := yamlnode.Get(root, key); inner != nil {
		return inner
	}
	return root
}

// ParsePages reads pages.yml.
func ParsePages(data []byte, file, ns string) (map[string]*PageSpec, error) {
	root, err := yamlnode.Parse(data)
	if err != nil {
		return nil, configErr(file, "", "invalid YAML: %v", err)
	}
	pages := make(map[string]*PageSpec)
	root = unwrap(root, "pages")
	if yamlnode.IsNull(root) {
		return pages, nil
	}
	if !yamlnode.IsMapping(root) {
		return nil, configErr(file, "pages", "expected a mapping of page id to page")
	}
	for _, p := range yamlnode.Pairs(root) {
		page, err := parsePage(p.Key, p.Value, ns)
		if err != nil {
			return nil, configErr(file, "pages."+p.Key, "%v", err)
		}
		pages[p.Key] = page
	}
	return pages, nil
}

func parsePage(id string, n *yaml.Node, ns string) (*PageSpec, error) {
	if !yamlnode.IsMapping(n) {
		return nil, fmt.Errorf("expected a mapping, got %s", yamlnode.KindName(n))
	}
	page := &PageSpec{ID: id, Namespace: ns, ContentRev: DefaultContentRev}
	if rev := yamlnode.String(yamlnode.Get(n, "content_rev")); rev != "" {
		page.ContentRev = rev
	}
	meta, err := yamlnode.Map(yamlnode.Get(n, "meta"))
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	page.Meta = meta

	slots := yamlnode.Get(n, "slots")
	switch {
	case yamlnode.IsNull(slots):
	case yamlnode.IsMapping(slots):
		for _, p := range yamlnode.Pairs(slots) {
			s, err := parseSlot(id, p.Key, p.Value)
			if err != nil {
				return nil, err
			}
			page.Slots = append(page.Slots, s)
		}
	case yamlnode.IsSequence(slots):
		for i, item := range yamlnode.Items(slots) {
			slotID := yamlnode.String(yamlnode.Get(item, "id"))
			if slotID == "" {
				return nil, fmt.Errorf("slots[%d]: id is required", i)
			}
			s, err := parseSlot(id, slotID, item)
			if err != nil {
				return nil, err
			}
			page.Slots = append(page.Slots, s)
		}
	default:
		return nil, fmt.Errorf("slots: expected a mapping or a list, got %s", yamlnode.KindName(slots))
	}

	seen := make(map[string]bool, len(page.Slots))
	for _, s := range page.Slots {
		if seen[s.ID] {
			return nil, fmt.Errorf("slot %q declared twice", s.ID)
		}
		seen[s.ID] = true
	}
	return page, nil
}

func parseSlot(pageID, id string, n *yaml.Node) (Slot, error) {
	s := Slot{ID: id, Experiment: pageID + "." + id, Cache: true}
	if yamlnode.IsScalar(n) {
		s.Variants = component.Single(yamlnode.String(n))
		return s, nil
	}
	if !yamlnode.IsMapping(n) {
		return s, fmt.Errorf("slot %q: expected a mapping, got %s", id, yamlnode.KindName(n))
	}

	alias := yamlnode.String(yamlnode.Get(n, "component"))
	variants, err := component.ParseVariants(yamlnode.Get(n, "variants"))
	if err != nil {
		return s, fmt.Errorf("slot %q: %w", id, err)
	}
	switch {
	case alias != "" && len(variants) > 0:
		return s, fmt.Errorf("slot %q: declare either component or variants, not both", id)
	case alias != "":
		s.Variants = component.Single(alias)
	case len(variants) > 0:
		s.Variants = variants
	default:
		return s, fmt.Errorf("slot %q: component or variants required", id)
	}

	if exp := strings.TrimSpace(yamlnode.String(yamlnode.Get(n, "experiment"))); exp != "" {
		s.Experiment = exp
	}
	if s.Params, err = yamlnode.Map(yamlnode.Get(n, "params")); err != nil {
		return s, fmt.Errorf("slot %q: params: %w", id, err)
	}
	if c := yamlnode.Get(n, "cache"); !yamlnode.IsNull(c) {
		v, err := yamlnode.Value(c)
		if err != nil {
			return s, fmt.Errorf("slot %q: cache: %w", id, err)
		}
		b, ok := values.ToBool(v)
		if !ok {
			return s, fmt.Errorf("slot %q: cache must be a boolean", id)
		}
		s.Cache = b
	}

	children := yamlnode.Get(n, "children")
	switch {
	case yamlnode.IsNull(children):
	case yamlnode.IsMapping(children):
		s.Children = make(map[string]component.ChildDecl)
		for _, p := range yamlnode.Pairs(children) {
			decl, err := component.ParseChildDecl(p.Key, p.Value)
			if err != nil {
				return s, fmt.Errorf("slot %q: %w", id, err)
			}
			s.Children[p.Key] = decl
		}
	default:
		return s, fmt.Errorf("slot %q: children must be a mapping", id)
	}
	return s, nil
}

// ParseExperiments reads experiments.yml.
func ParseExperiments(data []byte, file string) (Experiments, error) {
	root, err := yamlnode.Parse(data)
	if err != nil {
		return nil, configErr(file, "", "invalid YAML: %v", err)
	}
	out := make(Experiments)
	root = unwrap(root, "experiments")
	if yamlnode.IsNull(root) {
		return out, nil
	}
	if !yamlnode.IsMapping(root) {
		return nil, configErr(file, "experiments", "expected a mapping of experiment id to spec")
	}
	for _, p := range yamlnode.Pairs(root) {
		e := Experiment{ID: p.Key, Extra: map[string]any{}}
		if !yamlnode.IsMapping(p.Value) {
			return nil, configErr(file, p.Key, "expected a mapping")
		}
		for _, f := range yamlnode.Pairs(p.Value) {
			switch f.Key {
			case "rollout":
				v, _ := yamlnode.Value(f.Value)
				// Non-numeric rollouts count as zero.
				n, _ := values.ToInt(v)
				e.Rollout = clampRollout(n)
				e.rolloutSet = true
			case "variants":
				if e.Variants, err = component.ParseVariants(f.Value); err != nil {
					return nil, configErr(file, p.Key, "%v", err)
				}
			default:
				v, err := yamlnode.Value(f.Value)
				if err != nil {
					return nil, configErr(file, p.Key, "%v", err)
				}
				e.Extra[f.Key] = v
			}
		}
		out[p.Key] = e
	}
	return out, nil
}

func clampRollout(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}

// ParseCache reads cache.yml.
func ParseCache(data []byte, file string) (CacheRules, error) {
	rules := DefaultCacheRules()
	root, err := yamlnode.Parse(data)
	if err != nil {
		return rules, configErr(file, "", "invalid YAML: %v", err)
	}
	raw, err := yamlnode.Map(root)
	if err != nil {
		return rules, configErr(file, "", "expected a mapping")
	}

	if ttl, ok := values.ToInt(values.ToMap(raw["defaults"])["ttl_seconds"]); ok && ttl > 0 {
		rules.DefaultTTL = ttl
	}
	rules.Slots = ttlTable(raw["slots"])
	rules.Components = ttlTable(raw["components"])
	rules.VaryFields = effectiveVary(values.ToStringSlice(raw["vary_fields"]))
	return rules, nil
}

// ttlTable reads {id: {ttl_seconds: n}} and also accepts {id: n}.
func ttlTable(v any) map[string]int {
	out := map[string]int{}
	for id, entry := range values.ToMap(v) {
		if m := values.ToMap(entry); m != nil {
			entry = m["ttl_seconds"]
		}
		if ttl, ok := values.ToInt(entry); ok && ttl > 0 {
			out[id] = ttl
		}
	}
	return out
}

// ParseQA reads qa.yml.
func ParseQA(data []byte, file string) (QAPolicy, error) {
	qa := QAPolicy{Prefix: DefaultQAPrefix}
	root, err := yamlnode.Parse(data)
	if err != nil {
		return qa, configErr(file, "", "invalid YAML: %v", err)
	}
	raw, err := yamlnode.Map(root)
	if err != nil {
		return qa, configErr(file, "", "expected a mapping")
	}
	if prefix := values.ToString(raw["preview_param_prefix"]); prefix != "" {
		qa.Prefix = prefix
	}
	return qa, nil
}
