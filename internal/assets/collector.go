// Package assets aggregates CSS, JS and head insertions for the components of
// a page.
package assets

import (
	"github.com/conduit-lang/composer/internal/component"
)

// Vendor is a globally declared bundle that components reference by name.
type Vendor struct {
	CSS  []string `mapstructure:"css" yaml:"css"`
	JS   []string `mapstructure:"js" yaml:"js"`
	Head []string `mapstructure:"head" yaml:"head"`
}

// Bundle is the collected output. Lists are deduplicated, first occurrence wins.
type Bundle struct {
	CSS  []string `json:"css"`
	JS   []string `json:"js"`
	Head []string `json:"head"`
}

// Lookup resolves an alias within a namespace with fallback.
type Lookup interface {
	Get(alias, ns string, fallback bool) (*component.Metadata, error)
}

// Collector expands vendors and component assets over a registry.
type Collector struct {
	lookup  Lookup
	vendors map[string]Vendor
}

// NewCollector creates a collector with a static vendor table.
func NewCollector(lookup Lookup, vendors map[string]Vendor) *Collector {
	if vendors == nil {
		vendors = map[string]Vendor{}
	}
	return &Collector{lookup: lookup, vendors: vendors}
}

// Collect runs the vendor pass, then the component pass, over aliases in order.
// Unknown aliases and unknown vendor names are skipped.
func (c *Collector) Collect(aliases []string, ns string) Bundle {
	metas := make([]*component.Metadata, 0, len(aliases))
	for _, alias := range aliases {
		m, err := c.lookup.Get(alias, ns, true)
		if err != nil {
			continue
		}
		metas = append(metas, m)
	}

	var css, js, head []string
	for _, m := range metas {
		for _, name := range m.Assets.Vendors {
			v, ok := c.vendors[name]
			if !ok {
				continue
			}
			css = append(css, v.CSS...)
			js = append(js, v.JS...)
			head = append(head, v.Head...)
		}
	}
	for _, m := range metas {
		css = append(css, m.Assets.CSS...)
		js = append(js, m.Assets.JS...)
		head = append(head, m.Assets.Head...)
	}
	return Bundle{CSS: Dedupe(css), JS: Dedupe(js), Head: Dedupe(head)}
}

// Dedupe keeps the first occurrence of every entry. The result is never nil.
func Dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// AppendCSS adds a stylesheet when it is not already present.
func (b Bundle) AppendCSS(href string) Bundle {
	b.CSS = Dedupe(append(append([]string{}, b.CSS...), href))
	return b
}
