// Package compose builds page plans from configuration and the registry, and
// renders their slots through hydration, child composition, the template
// engine and the fragment cache.
package compose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/assets"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/fragment"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/impression"
	"github.com/conduit-lang/composer/internal/pageconfig"
	"github.com/conduit-lang/composer/internal/segments"
	"github.com/conduit-lang/composer/internal/tmpl"
)

// DefaultMaxDepth bounds child recursion.
const DefaultMaxDepth = 8

var tracer = otel.Tracer("composer.compose")

var (
	slotRenderSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "composer_slot_render_seconds",
		Help:    "Slot render latency by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	pageRenderSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "composer_page_render_seconds",
		Help:    "Full page render latency",
		Buckets: prometheus.DefBuckets,
	})
	slotErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "composer_slot_errors_total",
		Help: "Slots rendered empty by error kind",
	}, []string{"kind"})
)

// Lookup resolves component metadata.
type Lookup interface {
	Get(alias, ns string, fallback bool) (*component.Metadata, error)
}

// Configs resolves the effective page configuration of a namespace.
type Configs interface {
	View(ns string) (*pageconfig.View, error)
}

// Deps are the collaborators of a Pipeline. Recorder may be nil.
type Deps struct {
	Registry Lookup
	Configs  Configs
	Runner   *hydrate.Runner
	Engine   tmpl.Engine
	Store    *fragment.Store
	Assets   *assets.Collector
	Recorder *impression.Recorder
}

// Options tunes rendering.
type Options struct {
	// Debug turns contract violations into render errors.
	Debug    bool
	MaxDepth int
	// RTLLangs lists right-to-left languages; RTLStylesheet is appended for them.
	RTLLangs      []string
	RTLStylesheet string
	// FeatureFlags are the enabled flags folded into every content revision.
	FeatureFlags []string
	Filters      []SlotFilter
	Logger       *zap.Logger
}

// Pipeline composes pages. It is safe for concurrent use; per-request state
// lives on RenderContext.
type Pipeline struct {
	deps   Deps
	opts   Options
	rtl    map[string]bool
	logger *zap.Logger
}

// New creates a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Recorder == nil {
		deps.Recorder = impression.NewRecorder(nil, false, logger)
	}
	rtl := make(map[string]bool, len(opts.RTLLangs))
	for _, l := range opts.RTLLangs {
		rtl[l] = true
	}
	return &Pipeline{deps: deps, opts: opts, rtl: rtl, logger: logger.Named("compose")}
}

// Store returns the fragment store.
func (p *Pipeline) Store() *fragment.Store { return p.deps.Store }

// RenderContext is the per-request scratch: the request-local L1, the
// impression dedup set and the resolved configuration view.
type RenderContext struct {
	Request *segments.Request
	// Kwargs are route parameters merged over slot params.
	Kwargs map[string]any
	Cache  *fragment.Tiered
	Seen   *impression.Seen
	view   *pageconfig.View
}

// NewRenderContext starts the scratch for one request.
func (p *Pipeline) NewRenderContext(req *segments.Request, kwargs map[string]any) *RenderContext {
	if req == nil {
		req = &segments.Request{}
	}
	return &RenderContext{
		Request: req,
		Kwargs:  kwargs,
		Cache:   fragment.NewTiered(p.deps.Store),
		Seen:    impression.NewSeen(),
	}
}

func (rc *RenderContext) namespace() string {
	return component.NormalizeNamespace(rc.Request.Namespace)
}
