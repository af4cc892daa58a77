package compose

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/conduit-lang/composer/internal/abtest"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/fragment"
	"github.com/conduit-lang/composer/internal/pageconfig"
	"github.com/conduit-lang/composer/internal/values"
)

// fingerprintBytes is the size of the short children hash, 8 hex chars.
const fingerprintBytes = 4

// SlotPlan is one slot after variant resolution, ready to render.
type SlotPlan struct {
	PageID     string
	SlotID     string
	Experiment string
	Variant    string
	Bucket     int
	Alias      string
	Namespace  string
	// Meta is nil when the alias did not resolve; Err then says why.
	Meta *component.Metadata
	Err  error
	// Params are slot params merged with route kwargs.
	Params map[string]any
	// Children are sorted by id, which is their render order.
	Children     []component.ResolvedChild
	ChildAliases []string
	ContentRev   string
	Cacheable    bool
	QAPreview    bool
	CacheKey     string
	TTL          int
}

// PagePlan is the ordered slot plans of one page.
type PagePlan struct {
	PageID    string
	Namespace string
	Meta      map[string]any
	Slots     []*SlotPlan
	// QAPreview is set when any slot is in QA preview.
	QAPreview bool
}

// Slot returns the plan of slotID.
func (pp *PagePlan) Slot(slotID string) (*SlotPlan, bool) {
	for _, s := range pp.Slots {
		if s.SlotID == slotID {
			return s, true
		}
	}
	return nil, false
}

// Aliases flattens the slot aliases and their static child aliases, in slot order.
func (pp *PagePlan) Aliases() []string {
	var out []string
	for _, s := range pp.Slots {
		if s.Meta == nil {
			continue
		}
		out = append(out, s.Alias)
		out = append(out, s.ChildAliases...)
	}
	return out
}

type namespaceChecker interface {
	KnownNamespace(ns string) bool
}

// BuildPage resolves every slot of pageID for the request in rc.
func (p *Pipeline) BuildPage(ctx context.Context, rc *RenderContext, pageID string) (plan *PagePlan, err error) {
	ns := rc.namespace()
	_, span := tracer.Start(ctx, "compose.build_page", trace.WithAttributes(
		attribute.String("page.id", pageID),
		attribute.String("namespace", ns),
	))
	defer func() { endSpan(span, err) }()

	if nc, ok := p.deps.Registry.(namespaceChecker); ok && !nc.KnownNamespace(ns) {
		return nil, fmt.Errorf("%w: %q", component.ErrInvalidNamespace, ns)
	}
	view, err := p.deps.Configs.View(ns)
	if err != nil {
		return nil, err
	}
	spec, err := view.Page(pageID)
	if err != nil {
		return nil, err
	}
	rc.view = view

	plan = &PagePlan{PageID: spec.ID, Namespace: ns, Meta: spec.Meta}
	for _, slot := range spec.Slots {
		sp := p.planSlot(rc, view, spec, slot)
		if !p.keep(sp) {
			p.logger.Debug("slot filtered",
				zap.String("page_id", spec.ID),
				zap.String("slot_id", slot.ID),
				zap.String("alias", sp.Alias))
			continue
		}
		plan.QAPreview = plan.QAPreview || sp.QAPreview
		plan.Slots = append(plan.Slots, sp)
	}
	return plan, nil
}

func (p *Pipeline) keep(sp *SlotPlan) bool {
	for _, f := range p.opts.Filters {
		if !f.Keep(sp) {
			return false
		}
	}
	return true
}

func (p *Pipeline) planSlot(rc *RenderContext, view *pageconfig.View, spec *pageconfig.PageSpec, slot pageconfig.Slot) *SlotPlan {
	req := rc.Request
	ns := rc.namespace()
	experiment := slot.Experiment
	if experiment == "" {
		experiment = spec.ID + "." + slot.ID
	}
	exp := view.Experiments[experiment]
	variants := OverlayVariants(slot.Variants, exp.Variants)

	choice := abtest.Resolve(experiment, variants, exp.Rollout, req.Identity())
	sp := &SlotPlan{
		PageID:     spec.ID,
		SlotID:     slot.ID,
		Experiment: experiment,
		Variant:    choice.Key,
		Bucket:     choice.Bucket,
		Alias:      choice.Alias,
		Namespace:  ns,
		QAPreview:  abtest.QAPreview(req.Query, view.QA.EffectivePrefix(), experiment),
		Params:     values.DeepMerge(slot.Params, rc.Kwargs),
	}

	meta, err := p.deps.Registry.Get(choice.Alias, ns, true)
	if err != nil {
		sp.Err = err
		return sp
	}
	sp.Meta = meta
	sp.Children = resolveChildren(meta.Compose, slot.Children)
	sp.ChildAliases = p.staticAliases(sp.Children, ns, 1, map[string]bool{meta.Alias: true})

	sp.ContentRev = fragment.Revision(contentRev(spec), p.opts.FeatureFlags, fingerprint(sp.Children))
	sp.Cacheable = slot.Cache && !meta.Render.OptedOut()
	for _, child := range sp.Children {
		if child.Dynamic() || child.OptedOut() {
			sp.Cacheable = false
			break
		}
	}
	qa := req.Segments.QA || sp.QAPreview
	if qa && meta.Render.QAIsolation {
		// QA traffic on isolated components is never cached.
		sp.Cacheable = false
	}

	rules := view.Cache
	rules.VaryFields = append(append([]string{}, rules.VaryFields...), meta.Render.VaryOn...)
	vary := rules.ExtraVaryFields()
	sp.CacheKey = fragment.Key(fragment.KeyParts{
		PageID:     spec.ID,
		SlotID:     slot.ID,
		Variant:    choice.Key,
		Segments:   req.VaryValues(vary),
		ContentRev: sp.ContentRev,
		Namespace:  ns,
		QA:         qa,
		Vary:       vary,
	})
	sp.TTL = view.Cache.TTLFor(slot.ID, meta.Alias, meta.Render.TTL)
	return sp
}

func contentRev(spec *pageconfig.PageSpec) string {
	if spec.ContentRev == "" {
		return pageconfig.DefaultContentRev
	}
	return spec.ContentRev
}

// OverlayVariants lets experiments.yml replace or add variant aliases.
func OverlayVariants(base, over component.Variants) component.Variants {
	if len(over) == 0 {
		return base
	}
	out := append(component.Variants{}, base...)
	for _, v := range over {
		replaced := false
		for i := range out {
			if out[i].Key == v.Key {
				out[i].Alias = v.Alias
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, v)
		}
	}
	return out
}

// resolveChildren applies slot overrides to declared children. An override
// for an undeclared child id adds that child.
func resolveChildren(c component.Compose, overrides map[string]component.ChildDecl) []component.ResolvedChild {
	ids := map[string]bool{}
	for id := range c.Children {
		ids[id] = true
	}
	for id := range overrides {
		ids[id] = true
	}
	sorted := values.SortedKeys(ids)

	out := make([]component.ResolvedChild, 0, len(sorted))
	for _, id := range sorted {
		decl, declared := c.Children[id]
		if !declared {
			decl = component.ChildDecl{ID: id}
		}
		rc := decl.Resolve()
		if ov, ok := overrides[id]; ok {
			rc = decl.Override(ov)
		}
		rc.ID = id
		if len(rc.Variants) == 0 {
			continue
		}
		out = append(out, rc)
	}
	return out
}

// staticAliases collects constant child aliases, descending into the
// manifests they resolve to.
func (p *Pipeline) staticAliases(children []component.ResolvedChild, ns string, depth int, visiting map[string]bool) []string {
	if depth > p.opts.MaxDepth {
		return nil
	}
	var out []string
	for _, child := range children {
		childNS := ns
		if child.Namespace != "" {
			childNS = child.Namespace
		}
		for _, alias := range child.StaticAliases() {
			out = append(out, alias)
			if visiting[alias] {
				continue
			}
			m, err := p.deps.Registry.Get(alias, childNS, true)
			if err != nil {
				continue
			}
			visiting[alias] = true
			out = append(out, p.staticAliases(resolveChildren(m.Compose, nil), childNS, depth+1, visiting)...)
			delete(visiting, alias)
		}
	}
	return out
}

type childPrint struct {
	ID             string             `json:"id"`
	Variants       component.Variants `json:"variants"`
	DeclaredParams map[string]any     `json:"declared_params,omitempty"`
	DeclaredWith   map[string]any     `json:"declared_with,omitempty"`
	OverrideWith   map[string]any     `json:"override_with,omitempty"`
	OverrideParams map[string]any     `json:"override_params,omitempty"`
	Namespace      string             `json:"namespace,omitempty"`
}

// fingerprint hashes the sorted child declarations; "" without children.
func fingerprint(children []component.ResolvedChild) string {
	if len(children) == 0 {
		return ""
	}
	prints := make([]childPrint, len(children))
	for i, c := range children {
		prints[i] = childPrint{
			ID:             c.ID,
			Variants:       c.Variants,
			DeclaredParams: c.DeclaredParams,
			DeclaredWith:   c.DeclaredWith,
			OverrideWith:   c.OverrideWith,
			OverrideParams: c.OverrideParams,
			Namespace:      c.Namespace,
		}
	}
	sort.Slice(prints, func(i, j int) bool { return prints[i].ID < prints[j].ID })
	data, err := json.Marshal(prints)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", prints))
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:fingerprintBytes])
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
