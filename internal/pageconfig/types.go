// Package pageconfig loads the per-namespace page specs, experiments, cache
// rules and QA policy.
package pageconfig

import (
	"sort"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/values"
)

const (
	// DefaultTTL applies when cache.yml sets no usable default.
	DefaultTTL = 300
	// DefaultQAPrefix is the preview query parameter prefix.
	DefaultQAPrefix = "dwft_"
	// DefaultContentRev is used by pages that declare no content_rev.
	DefaultContentRev = "v1"
)

// RequiredVaryFields are always part of the effective vary list.
var RequiredVaryFields = []string{"lang", "site_version"}

// Slot is one named placeholder of a page.
type Slot struct {
	ID       string
	Variants component.Variants
	// Experiment defaults to "<page_id>.<slot_id>".
	Experiment string
	Params     map[string]any
	// Children overrides the parent manifest's compose.children by child id.
	Children map[string]component.ChildDecl
	Cache    bool
}

// PageSpec is one page of one namespace. Slots keep declaration order.
type PageSpec struct {
	ID         string
	Namespace  string
	Slots      []Slot
	Meta       map[string]any
	ContentRev string
}

// Slot returns the slot with the given id.
func (p *PageSpec) Slot(id string) (Slot, bool) {
	for _, s := range p.Slots {
		if s.ID == id {
			return s, true
		}
	}
	return Slot{}, false
}

// Experiment is one entry of experiments.yml.
type Experiment struct {
	ID string
	// Rollout is the share of traffic, 0..100, that sees variant B.
	Rollout  int
	Variants component.Variants
	Extra    map[string]any
	// rolloutSet distinguishes an explicit rollout: 0 from an absent one when merging.
	rolloutSet bool
}

// merge applies o on top of e: o's rollout wins when set, variant keys are
// overridden in place with new keys appended, extra is deep-merged.
func (e Experiment) merge(o Experiment) Experiment {
	out := Experiment{ID: e.ID, Rollout: e.Rollout, rolloutSet: e.rolloutSet}
	if o.rolloutSet {
		out.Rollout, out.rolloutSet = o.Rollout, true
	}
	out.Variants = append(out.Variants, e.Variants...)
	for _, v := range o.Variants {
		replaced := false
		for i := range out.Variants {
			if out.Variants[i].Key == v.Key {
				out.Variants[i].Alias = v.Alias
				replaced = true
				break
			}
		}
		if !replaced {
			out.Variants = append(out.Variants, v)
		}
	}
	out.Extra = values.DeepMerge(e.Extra, o.Extra)
	return out
}

// Experiments maps experiment id to its spec.
type Experiments map[string]Experiment

// Merge resolves namespace overrides on top of the default namespace spec.
func (x Experiments) Merge(override Experiments) Experiments {
	out := make(Experiments, len(x)+len(override))
	for id, e := range x {
		out[id] = e
	}
	for id, o := range override {
		if base, ok := out[id]; ok {
			out[id] = base.merge(o)
			continue
		}
		out[id] = o
	}
	return out
}

// IDs returns the experiment ids sorted.
func (x Experiments) IDs() []string {
	return values.SortedKeys(x)
}

// CacheRules is cache.yml.
type CacheRules struct {
	DefaultTTL int
	Slots      map[string]int
	Components map[string]int
	// VaryFields is the effective list: configured fields plus the required ones.
	VaryFields []string
}

// TTLFor resolves a fragment TTL: slot id first, then alias, then the
// manifest's render.ttl, then the default. Non-positive values fall through.
func (c CacheRules) TTLFor(slotID, alias string, manifestTTL int) int {
	if ttl := c.Slots[slotID]; ttl > 0 {
		return ttl
	}
	if ttl := c.Components[alias]; ttl > 0 {
		return ttl
	}
	if manifestTTL > 0 {
		return manifestTTL
	}
	if c.DefaultTTL > 0 {
		return c.DefaultTTL
	}
	return DefaultTTL
}

// ExtraVaryFields lists configured vary fields beyond the canonical key segments.
func (c CacheRules) ExtraVaryFields() []string {
	canonical := map[string]bool{
		"lang": true, "site_version": true, "device": true, "consent": true,
		"source": true, "campaign": true, "qa": true,
	}
	var out []string
	for _, f := range c.VaryFields {
		if !canonical[f] {
			out = append(out, f)
		}
	}
	return out
}

func effectiveVary(fields []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range append(append([]string{}, RequiredVaryFields...), fields...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// DefaultCacheRules is used when no cache.yml exists.
func DefaultCacheRules() CacheRules {
	return CacheRules{
		DefaultTTL: DefaultTTL,
		Slots:      map[string]int{},
		Components: map[string]int{},
		VaryFields: effectiveVary(nil),
	}
}

// QAPolicy is qa.yml.
type QAPolicy struct {
	Prefix string
}

// EffectivePrefix returns the configured prefix or DefaultQAPrefix.
func (q QAPolicy) EffectivePrefix() string {
	if q.Prefix == "" {
		return DefaultQAPrefix
	}
	return q.Prefix
}

// Param returns the preview query parameter for an experiment.
func (q QAPolicy) Param(experimentID string) string {
	return q.EffectivePrefix() + experimentID
}

// Bundle is everything loaded for one namespace.
type Bundle struct {
	Namespace   string
	Pages       map[string]*PageSpec
	Experiments Experiments
	Cache       CacheRules
	QA          QAPolicy
	// Present records which of the four files exist.
	Present map[string]bool
}
