package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/manifest"
)

// Resetter drops a cache, such as parsed templates or loaded page configs.
type Resetter interface {
	Reset()
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func()

// Reset calls f.
func (f ResetFunc) Reset() { f() }

// Clearer empties a fragment backend.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Notifier receives reload outcomes.
type Notifier interface {
	NotifyReload(files []string)
	NotifyError(err error)
}

// Reloader re-registers components after a change. The registry snapshot is
// swapped in one step; caches are dropped only after a successful swap.
type Reloader struct {
	Discoverer *manifest.Discoverer
	Registry   *component.Registry
	// Resets run after the swap, in order.
	Resets []Resetter
	// Fragments, when set, is cleared so stale fragments are not served.
	Fragments Clearer
	Notifier  Notifier
	Logger    *zap.Logger
}

// Reload handles one batch of changed files.
func (r *Reloader) Reload(files []string) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	res, err := r.Discoverer.Reload(r.Registry)
	if err != nil {
		if r.Notifier != nil {
			r.Notifier.NotifyError(err)
		}
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("reload warning", zap.String("warning", w))
	}
	for _, rs := range r.Resets {
		rs.Reset()
	}
	if r.Fragments != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.Fragments.Clear(ctx)
		cancel()
		if err != nil {
			logger.Warn("failed to clear fragments", zap.Error(err))
		}
	}
	logger.Info("components reloaded",
		zap.Int("files", len(files)),
		zap.Int("components", len(res.Entries)),
		zap.Duration("duration", time.Since(start)))
	if r.Notifier != nil {
		r.Notifier.NotifyReload(files)
	}
	return nil
}
