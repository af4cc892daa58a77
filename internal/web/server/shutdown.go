package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds the drain of requests and hooks.
const DefaultShutdownTimeout = 30 * time.Second

// Hook releases a resource after the server stopped accepting requests.
type Hook func(ctx context.Context) error

// Graceful serves until its context is cancelled, then drains.
type Graceful struct {
	server  *Server
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []namedHook
}

type namedHook struct {
	name string
	fn   Hook
}

// NewGraceful wraps server. A non-positive timeout uses DefaultShutdownTimeout.
func NewGraceful(server *Server, timeout time.Duration) *Graceful {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Graceful{server: server, timeout: timeout, logger: server.logger}
}

// OnShutdown registers a hook. Hooks run in registration order.
func (g *Graceful) OnShutdown(name string, fn Hook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, namedHook{name: name, fn: fn})
}

// Run serves until ctx is done or the server fails. On cancellation the server
// is shut down first so in-flight requests finish, then every hook runs. Hook
// errors are joined into the result.
func (g *Graceful) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- g.server.Serve() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("server failed: %w", err)
		}
		return errors.Join(err, g.runHooks())
	case <-ctx.Done():
	}

	g.logger.Info("shutting down", zap.Duration("timeout", g.timeout))
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	var errs []error
	if err := g.server.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	errs = append(errs, g.hooksWith(sctx))
	g.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (g *Graceful) runHooks() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return g.hooksWith(ctx)
}

func (g *Graceful) hooksWith(ctx context.Context) error {
	g.mu.Lock()
	hooks := append([]namedHook(nil), g.hooks...)
	g.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			g.logger.Warn("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
