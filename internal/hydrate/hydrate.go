// Package hydrate resolves a component's render context from its registered
// hydrator functions.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/segments"
	"github.com/conduit-lang/composer/internal/values"
)

var tracer = otel.Tracer("composer.hydrate")

// Func computes context data for a component from the request and its merged params.
type Func func(ctx context.Context, req *segments.Request, params map[string]any) (map[string]any, error)

// ErrUnknownHydrator is returned for names absent from the registry.
var ErrUnknownHydrator = errors.New("unknown hydrator")

// Failure wraps an error or panic raised by one hydrator call.
type Failure struct {
	Alias    string
	Hydrator string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("hydrator %s for %s failed: %v", f.Hydrator, f.Alias, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Registry maps hydrator names, as written in manifests, to functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds name to fn, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Lookup returns the function bound to name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner calls hydrators and builds render contexts.
type Runner struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRunner creates a runner over registry.
func NewRunner(registry *Registry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{registry: registry, logger: logger.Named("hydrate")}
}

// Run builds deep_merge(manifest params, slot params, hydrator results). Every
// hydrator is called with the merged params and its result is merged in
// declared order. A failing call contributes nothing; the failures are
// returned joined so callers can log them, but the context is always usable.
func (r *Runner) Run(ctx context.Context, m *component.Metadata, slotParams map[string]any, req *segments.Request) (map[string]any, error) {
	params := values.DeepMerge(m.Params, slotParams)
	if len(m.Hydrate) == 0 {
		return params, nil
	}

	layers := []map[string]any{params}
	var errs []error
	for _, name := range m.Hydrate {
		if err := ctx.Err(); err != nil {
			return params, err
		}
		result, err := r.call(ctx, m.Alias, name, req, values.CloneMap(params))
		if err != nil {
			r.logger.Warn("hydrator failed",
				zap.String("alias", m.Alias),
				zap.String("namespace", m.Namespace),
				zap.String("hydrator", name),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		layers = append(layers, result)
	}
	return values.DeepMerge(layers...), errors.Join(errs...)
}

func (r *Runner) call(ctx context.Context, alias, name string, req *segments.Request, params map[string]any) (result map[string]any, err error) {
	ctx, span := tracer.Start(ctx, "hydrate.call", trace.WithAttributes(
		attribute.String("component.alias", alias),
		attribute.String("hydrator", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fn, ok := r.registry.Lookup(name)
	if !ok {
		return nil, &Failure{Alias: alias, Hydrator: name, Err: ErrUnknownHydrator}
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("hydrator panic", zap.ByteString("stack", debug.Stack()))
			result, err = nil, &Failure{Alias: alias, Hydrator: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	result, err = fn(ctx, req, params)
	if err != nil {
		return nil, &Failure{Alias: alias, Hydrator: name, Err: err}
	}
	return result, nil
}
