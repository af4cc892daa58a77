// Package component holds component metadata and the namespace registry that
// maps (namespace, alias) to it.
package component

import (
	"sort"
	"strings"

	"github.com/conduit-lang/composer/internal/expr"
)

// DefaultNamespace is the reserved fallback namespace.
const DefaultNamespace = "core"

// Assets lists what a component needs on the page. All four lists are always non-nil
// once normalized.
type Assets struct {
	CSS     []string `json:"css" yaml:"css"`
	JS      []string `json:"js" yaml:"js"`
	Head    []string `json:"head" yaml:"head"`
	Vendors []string `json:"vendors" yaml:"vendors"`
}

// Normalized returns a copy with every list allocated.
func (a Assets) Normalized() Assets {
	return Assets{
		CSS:     copyList(a.CSS),
		JS:      copyList(a.JS),
		Head:    copyList(a.Head),
		Vendors: copyList(a.Vendors),
	}
}

// IsEmpty reports whether no list carries an entry.
func (a Assets) IsEmpty() bool {
	return len(a.CSS) == 0 && len(a.JS) == 0 && len(a.Head) == 0 && len(a.Vendors) == 0
}

func copyList(in []string) []string {
	out := make([]string, 0, len(in))
	return append(out, in...)
}

// Contract is the per-component schema of the hydrated context. Type specs are
// left as decoded YAML: a type name string, a nested mapping, or a one-element list.
type Contract struct {
	Required map[string]any `json:"required"`
	Optional map[string]any `json:"optional"`
}

// IsEmpty reports whether the contract declares no field.
func (c Contract) IsEmpty() bool {
	return len(c.Required) == 0 && len(c.Optional) == 0
}

// RenderOptions carries the whitelisted render keys of a manifest.
type RenderOptions struct {
	// Cacheable is nil when the manifest does not say.
	Cacheable   *bool    `json:"cacheable,omitempty"`
	TTL         int      `json:"ttl,omitempty"`
	VaryOn      []string `json:"vary_on,omitempty"`
	QAIsolation bool     `json:"qa_isolation,omitempty"`
}

// OptedOut reports an explicit cacheable: false.
func (r RenderOptions) OptedOut() bool {
	return r.Cacheable != nil && !*r.Cacheable
}

// Variant binds a variant key to an alias expression.
type Variant struct {
	Key   string `json:"key"`
	Alias string `json:"alias"`
}

// Variants is an ordered variant map; insertion order is significant.
type Variants []Variant

// Get returns the alias bound to key.
func (v Variants) Get(key string) (string, bool) {
	for _, variant := range v {
		if variant.Key == key {
			return variant.Alias, true
		}
	}
	return "", false
}

// Keys returns the variant keys in insertion order.
func (v Variants) Keys() []string {
	keys := make([]string, len(v))
	for i, variant := range v {
		keys[i] = variant.Key
	}
	return keys
}

// Dynamic reports whether any alias contains an interpolation.
func (v Variants) Dynamic() bool {
	for _, variant := range v {
		if expr.IsDynamic(variant.Alias) {
			return true
		}
	}
	return false
}

// Single builds the one-variant form used by `component: alias` declarations.
func Single(alias string) Variants {
	return Variants{{Key: "A", Alias: alias}}
}

// ChildDecl declares one child of a composed component, or a slot-level override of it.
type ChildDecl struct {
	ID        string         `json:"id"`
	Alias     string         `json:"alias,omitempty"`
	Variants  Variants       `json:"variants,omitempty"`
	With      map[string]any `json:"with,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
	// Cache is nil unless the declaration states it.
	Cache *bool `json:"cache,omitempty"`
}

// VariantMap returns the declared variants, folding a bare alias into {A: alias}.
func (c ChildDecl) VariantMap() Variants {
	if len(c.Variants) > 0 {
		return c.Variants
	}
	if c.Alias != "" {
		return Single(c.Alias)
	}
	return nil
}

// Dynamic reports whether the child's alias depends on the parent context.
func (c ChildDecl) Dynamic() bool {
	return c.VariantMap().Dynamic()
}

// OptedOut reports an explicit cache: false.
func (c ChildDecl) OptedOut() bool {
	return c.Cache != nil && !*c.Cache
}

// StaticAliases lists the constant aliases the child may render.
func (c ChildDecl) StaticAliases() []string {
	var out []string
	for _, v := range c.VariantMap() {
		if v.Alias != "" && !expr.IsDynamic(v.Alias) {
			out = append(out, v.Alias)
		}
	}
	return out
}

// Compose holds child composition.
type Compose struct {
	Children map[string]ChildDecl `json:"children,omitempty"`
}

// ChildIDs returns the child ids sorted, which is the render order.
func (c Compose) ChildIDs() []string {
	ids := make([]string, 0, len(c.Children))
	for id := range c.Children {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metadata is everything the registry knows about one alias in one namespace.
// Values are treated as immutable once registered.
type Metadata struct {
	Alias     string         `json:"alias"`
	Namespace string         `json:"namespace"`
	Template  string         `json:"template"`
	Params    map[string]any `json:"params,omitempty"`
	Assets    Assets         `json:"assets"`
	Contract  Contract       `json:"contract"`
	// Hydrate lists registered hydrator names, merged in order.
	Hydrate []string      `json:"hydrate,omitempty"`
	Render  RenderOptions `json:"render"`
	Compose Compose       `json:"compose"`
	Aliases []string      `json:"aliases,omitempty"`
	// Source is the manifest path the entry was read from, if any.
	Source string `json:"source,omitempty"`
}

// Key identifies a registry entry.
type Key struct {
	Namespace string
	Alias     string
}

func (k Key) String() string {
	return k.Namespace + ":" + k.Alias
}

// NormalizeNamespace maps "" to the default namespace and lowercases the slug.
func NormalizeNamespace(ns string) string {
	ns = strings.ToLower(strings.TrimSpace(ns))
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}
