package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/assets"
	"github.com/conduit-lang/composer/internal/cache"
	"github.com/conduit-lang/composer/internal/cli/config"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/compose"
	"github.com/conduit-lang/composer/internal/fragment"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/impression"
	"github.com/conduit-lang/composer/internal/manifest"
	"github.com/conduit-lang/composer/internal/pageconfig"
	"github.com/conduit-lang/composer/internal/segments"
	"github.com/conduit-lang/composer/internal/tmpl"
	"github.com/conduit-lang/composer/internal/values"
	"github.com/conduit-lang/composer/internal/web/router"
)

// app is the wired component graph shared by serve, check and key.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	engine     *tmpl.HTMLEngine
	registry   *component.Registry
	discoverer *manifest.Discoverer
	discovery  *manifest.Result
	loader     *pageconfig.Loader
	backend    cache.Cache
	store      *fragment.Store
	queue      *impression.Queue
	pipeline   *compose.Pipeline
	layout     *router.Layout
	// namespaces are the config root's namespace dirs plus namespaces.known.
	namespaces []string

	closers []func(context.Context) error
}

// knownNamespaces merges the namespaces found under the config root with the
// declared ones.
func knownNamespaces(loader *pageconfig.Loader, declared []string) ([]string, error) {
	scanned, err := loader.Namespaces()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(scanned)+len(declared))
	for _, ns := range append(scanned, declared...) {
		set[component.NormalizeNamespace(ns)] = true
	}
	return values.SortedKeys(set), nil
}

type appOptions struct {
	// analytics opens the impression sink when enabled in config.
	analytics bool
}

func newApp(cfg *config.Config, logger *zap.Logger, hydrators *hydrate.Registry, opts appOptions) (a *app, err error) {
	if hydrators == nil {
		hydrators = hydrate.NewRegistry()
	}
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.loader = pageconfig.NewLoader(cfg.Paths.ConfigRoot, logger)
	if a.namespaces, err = knownNamespaces(a.loader, cfg.Namespaces.Known); err != nil {
		return a, err
	}

	a.engine = tmpl.NewHTMLEngine(cfg.Paths.TemplateRoots, nil)
	a.registry = component.NewRegistry(component.RegistryOptions{
		Namespaces:       a.namespaces,
		DisableAssets:    cfg.Assets.Disabled,
		DisableAssetsFor: cfg.Assets.DisabledFor,
		Logger:           logger,
	})
	a.discoverer = manifest.NewDiscoverer(manifest.Options{
		Roots:      cfg.Paths.TemplateRoots,
		Namespaces: a.namespaces,
		Templates:  a.engine,
		Hydrators:  hydrators,
		Strict:     cfg.Discovery.Strict,
		Logger:     logger,
	})
	if a.discovery, err = a.discoverer.Load(a.registry, cfg.Discovery.Override); err != nil {
		return a, fmt.Errorf("component discovery failed: %w", err)
	}

	cacheCfg := cache.CacheConfig{DefaultTTL: cfg.Cache.DefaultTTL, Prefix: cfg.Cache.Prefix}
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCacheWithConfig(cache.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: 5 * time.Second,
			CacheConfig: cacheCfg,
		})
		if err != nil {
			return a, err
		}
		a.backend = rc
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
	default:
		mc := cache.NewMemoryCacheWithConfig(cacheCfg)
		a.backend = mc
		a.closers = append(a.closers, func(context.Context) error { return mc.Close() })
	}
	a.store = fragment.NewStore(a.backend, logger)

	recorder := impression.NewRecorder(nil, false, logger)
	if opts.analytics && cfg.Analytics.Enabled {
		sink, err := impression.Open(cfg.Analytics.Driver, cfg.Analytics.DSN, cfg.Analytics.Table)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
		if cfg.Analytics.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := sink.EnsureSchema(ctx)
			cancel()
			if err != nil {
				return a, err
			}
		}
		a.queue = impression.NewQueue(sink, impression.QueueOptions{
			Buffer:  cfg.Analytics.Buffer,
			Workers: cfg.Analytics.Workers,
			Logger:  logger,
		})
		recorder = impression.NewRecorder(a.queue, true, logger)
	}

	a.layout = router.DefaultLayout()
	if cfg.Render.Layout != "" {
		src, err := os.ReadFile(cfg.Render.Layout)
		if err != nil {
			return a, fmt.Errorf("failed to read layout: %w", err)
		}
		if a.layout, err = router.NewLayout(string(src)); err != nil {
			return a, fmt.Errorf("invalid layout %s: %w", cfg.Render.Layout, err)
		}
	}

	a.pipeline = compose.New(compose.Deps{
		Registry: a.registry,
		Configs:  a.loader,
		Runner:   hydrate.NewRunner(hydrators, logger),
		Engine:   a.engine,
		Store:    a.store,
		Assets:   assets.NewCollector(a.registry, cfg.Vendors),
		Recorder: recorder,
	}, compose.Options{
		Debug:         cfg.Render.Debug,
		MaxDepth:      cfg.Render.MaxDepth,
		RTLLangs:      cfg.Render.RTLLangs,
		RTLStylesheet: cfg.Render.RTLStylesheet,
		FeatureFlags:  cfg.Render.FeatureFlags,
		Filters:       []compose.SlotFilter{compose.ChatbotFilter{Enabled: cfg.Features.Chatbot}},
		Logger:        logger,
	})
	return a, nil
}

// segmentOptions maps config onto the request model options.
func segmentOptions(cfg *config.Config) segments.Options {
	opts := segments.DefaultOptions()
	s := cfg.Segments
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&opts.ConsentCookie, s.ConsentCookie)
	set(&opts.ABCookie, s.ABCookie)
	set(&opts.LangCookie, s.LangCookie)
	set(&opts.SourceCookie, s.SourceCookie)
	set(&opts.CampaignCookie, s.CampaignCookie)
	set(&opts.QAParam, s.QAParam)
	set(&opts.DefaultLang, cfg.Render.DefaultLang)
	opts.Languages = cfg.Render.Languages
	opts.ExtraFields = s.ExtraFields
	opts.HostNamespaces = cfg.Namespaces.Hosts
	return opts
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
