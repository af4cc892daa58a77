package compose

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/abtest"
	"github.com/conduit-lang/composer/internal/assets"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/contract"
	"github.com/conduit-lang/composer/internal/expr"
	"github.com/conduit-lang/composer/internal/fragment"
	"github.com/conduit-lang/composer/internal/impression"
	"github.com/conduit-lang/composer/internal/values"
)

// ErrDepthExceeded is returned when child composition nests too deep.
var ErrDepthExceeded = errors.New("composition depth exceeded")

// RenderError is a template engine failure. It is not recovered by the pipeline.
type RenderError struct {
	Alias    string
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s (%s): %v", e.Alias, e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// SlotResult is one rendered slot.
type SlotResult struct {
	SlotID  string
	Alias   string
	Variant string
	HTML    string
	// Cached is set when the fragment came from L1 or L2.
	Cached bool
}

// Page is a rendered page.
type Page struct {
	ID        string
	Namespace string
	Lang      string
	RTL       bool
	Meta      map[string]any
	Slots     []SlotResult
	Assets    assets.Bundle
	QAPreview bool
}

// HTML returns the fragment of slotID, "" when absent.
func (pg *Page) HTML(slotID string) string {
	for _, s := range pg.Slots {
		if s.SlotID == slotID {
			return s.HTML
		}
	}
	return ""
}

// Render builds and renders pageID. A slot whose component is missing renders
// empty; template failures and debug-mode contract violations are returned.
func (p *Pipeline) Render(ctx context.Context, rc *RenderContext, pageID string) (*Page, error) {
	start := time.Now()
	defer func() { pageRenderSeconds.Observe(time.Since(start).Seconds()) }()

	plan, err := p.BuildPage(ctx, rc, pageID)
	if err != nil {
		return nil, err
	}
	lang := rc.Request.Segments.Lang
	page := &Page{
		ID:        plan.PageID,
		Namespace: plan.Namespace,
		Lang:      lang,
		RTL:       p.rtl[lang],
		Meta:      plan.Meta,
		QAPreview: plan.QAPreview,
	}
	for _, sp := range plan.Slots {
		res, err := p.RenderSlot(ctx, rc, sp)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !recoverable(err) {
				return nil, fmt.Errorf("slot %s: %w", sp.SlotID, err)
			}
			res = SlotResult{SlotID: sp.SlotID, Alias: sp.Alias, Variant: sp.Variant}
		}
		page.Slots = append(page.Slots, res)
	}

	page.Assets = p.deps.Assets.Collect(plan.Aliases(), plan.Namespace)
	if page.RTL && p.opts.RTLStylesheet != "" {
		page.Assets = page.Assets.AppendCSS(p.opts.RTLStylesheet)
	}
	return page, nil
}

func recoverable(err error) bool {
	return errors.Is(err, component.ErrNotFound)
}

// RenderSlot serves one slot from cache or renders it, then instruments it.
func (p *Pipeline) RenderSlot(ctx context.Context, rc *RenderContext, sp *SlotPlan) (res SlotResult, err error) {
	start := time.Now()
	outcome := "miss"
	ctx, span := tracer.Start(ctx, "compose.render_slot", trace.WithAttributes(
		attribute.String("page.id", sp.PageID),
		attribute.String("slot.id", sp.SlotID),
		attribute.String("component.alias", sp.Alias),
		attribute.String("variant", sp.Variant),
	))
	defer func() {
		if err != nil {
			outcome = "error"
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		endSpan(span, err)
		slotRenderSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	res = SlotResult{SlotID: sp.SlotID, Alias: sp.Alias, Variant: sp.Variant}
	log := p.logger.With(
		zap.String("page_id", sp.PageID),
		zap.String("slot_id", sp.SlotID),
		zap.String("alias", sp.Alias),
		zap.String("namespace", sp.Namespace),
		zap.String("request_id", rc.Request.RequestID),
	)
	if sp.Err != nil {
		slotErrorsTotal.WithLabelValues("missing_component").Inc()
		log.Error("slot component missing", zap.Error(sp.Err))
		return res, sp.Err
	}

	if sp.Cacheable && sp.CacheKey != "" {
		if html, ok := rc.Cache.Get(ctx, sp.CacheKey); ok {
			outcome = "hit"
			res.Cached = true
			res.HTML = p.instrument(ctx, rc, sp, html)
			return res, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	html, err := p.renderComponent(ctx, rc, sp.Meta, sp.Params, sp.Children, sp.Namespace, 0)
	if err != nil {
		return res, err
	}
	if sp.Cacheable && sp.CacheKey != "" {
		rc.Cache.Set(ctx, sp.CacheKey, html, sp.TTL)
	}
	res.HTML = p.instrument(ctx, rc, sp, html)
	return res, nil
}

func (p *Pipeline) instrument(ctx context.Context, rc *RenderContext, sp *SlotPlan, html string) string {
	slot := impression.Slot{
		PageID:     sp.PageID,
		SlotID:     sp.SlotID,
		Alias:      sp.Alias,
		Variant:    sp.Variant,
		CacheKey:   sp.CacheKey,
		ContentRev: sp.ContentRev,
		QA:         sp.QAPreview,
	}
	return p.deps.Recorder.Instrument(ctx, html, slot, rc.Request, rc.Seen, fragment.Prefix(sp.CacheKey))
}

// renderComponent hydrates m, renders its children into the context and
// executes its template.
func (p *Pipeline) renderComponent(ctx context.Context, rc *RenderContext, m *component.Metadata, params map[string]any, children []component.ResolvedChild, ns string, depth int) (string, error) {
	if depth > p.opts.MaxDepth {
		return "", fmt.Errorf("%w: %s at depth %d", ErrDepthExceeded, m.Alias, depth)
	}
	data, err := p.deps.Runner.Run(ctx, m, params, rc.Request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		// Failures are logged by the runner; the merged params still render.
		slotErrorsTotal.WithLabelValues("hydration").Inc()
	}
	if verr := contract.Check(m.Alias, m.Namespace, m.Contract, data); verr != nil {
		if p.opts.Debug {
			return "", verr
		}
		slotErrorsTotal.WithLabelValues("contract").Inc()
		p.logger.Warn("contract violation",
			zap.String("alias", m.Alias),
			zap.String("namespace", m.Namespace),
			zap.Error(verr))
	}
	if _, ok := data["params"]; !ok {
		data["params"] = values.DeepMerge(m.Params, params)
	}
	if _, ok := data["request"]; !ok {
		data["request"] = requestData(rc)
	}

	for _, child := range children {
		html, err := p.renderChild(ctx, rc, m, child, data, ns, depth+1)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			p.logger.Warn("child render failed",
				zap.String("alias", m.Alias),
				zap.String("child_id", child.ID),
				zap.Error(err))
			html = ""
		}
		data[child.ID] = template.HTML(html)
		data[m.Alias+"__"+child.ID] = template.HTML(html)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := p.deps.Engine.Render(ctx, m.Template, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &RenderError{Alias: m.Alias, Template: m.Template, Err: err}
	}
	return out, nil
}

// renderChild evaluates the child's variant aliases against the parent
// context, picks one and renders it with its merged params.
func (p *Pipeline) renderChild(ctx context.Context, rc *RenderContext, parent *component.Metadata, child component.ResolvedChild, data map[string]any, ns string, depth int) (string, error) {
	var resolved component.Variants
	for _, v := range child.Variants {
		alias, err := expr.EvalString(v.Alias, data)
		if err != nil || alias == "" {
			p.logger.Debug("child variant unresolved",
				zap.String("alias", parent.Alias),
				zap.String("child_id", child.ID),
				zap.String("variant", v.Key),
				zap.Error(err))
			continue
		}
		resolved = append(resolved, component.Variant{Key: v.Key, Alias: alias})
	}
	if len(resolved) == 0 {
		return "", fmt.Errorf("child %s of %s: no variant resolved", child.ID, parent.Alias)
	}

	experiment := "child_" + parent.Alias + "." + child.ID
	rollout := 0
	if rc.view != nil {
		rollout = rc.view.Experiments[experiment].Rollout
	}
	choice := abtest.Resolve(experiment, resolved, rollout, rc.Request.Identity())

	childNS := ns
	if child.Namespace != "" {
		childNS = component.NormalizeNamespace(child.Namespace)
	}
	m, err := p.deps.Registry.Get(choice.Alias, childNS, true)
	if err != nil {
		return "", err
	}
	params, err := expr.EvalParams(values.CloneMap(child.Params()), data)
	if err != nil {
		p.logger.Debug("child params partially unresolved",
			zap.String("alias", parent.Alias),
			zap.String("child_id", child.ID),
			zap.Error(err))
	}
	return p.renderComponent(ctx, rc, m, params, resolveChildren(m.Compose, nil), childNS, depth)
}

func requestData(rc *RenderContext) map[string]any {
	req := rc.Request
	seg := req.Segments
	return map[string]any{
		"lang":       seg.Lang,
		"device":     seg.Device,
		"consent":    seg.Consent,
		"source":     seg.Source,
		"campaign":   seg.Campaign,
		"qa":         seg.QA,
		"namespace":  rc.namespace(),
		"path":       req.Path,
		"request_id": req.RequestID,
		"user_id":    req.UserID,
	}
}
