package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/watch"
	"github.com/conduit-lang/composer/internal/web/auth"
	"github.com/conduit-lang/composer/internal/web/middleware"
	"github.com/conduit-lang/composer/internal/web/profiling"
	"github.com/conduit-lang/composer/internal/web/router"
	"github.com/conduit-lang/composer/internal/web/server"
)

func newServeCommand(flags *globalFlags, hydrators *hydrate.Registry) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve composed pages over HTTP",
		Long: `Serve composed pages over HTTP.

Routes:
  GET /{page}          page in the request's default language
  GET /{lang}/{page}   page with a language prefix
  GET /healthz         liveness
  GET /metrics         Prometheus metrics
  GET /debug/pprof/    profiling, with server.pprof

With --dev, template and manifest changes re-register components and
browsers reload through a websocket at ` + watch.ReloadPath + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger, hydrators, appOptions{analytics: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if a.queue != nil {
				a.queue.Start(ctx)
			}

			chain := []middleware.Middleware{
				middleware.RequestID(),
				middleware.Recovery(logger),
				middleware.Logging(logger, "/healthz", "/metrics"),
				middleware.Timeout(cfg.Server.WriteTimeout),
				middleware.Compression(middleware.DefaultCompressionConfig()),
			}
			if cfg.Auth.JWTSecret != "" {
				tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TTL)
				chain = append(chain, auth.Identity(tokens, cfg.Auth.Cookie, logger))
			}

			mounts := map[string]http.Handler{}
			var fw *watch.FileWatcher
			if cfg.Dev.Watch {
				rs := watch.NewReloadServer(logger)
				defer rs.Close()
				mounts[watch.ReloadPath] = rs
				a.layout.ReloadURL = watch.ReloadPath
				reloader := &watch.Reloader{
					Discoverer: a.discoverer,
					Registry:   a.registry,
					Resets:     []watch.Resetter{a.engine, watch.ResetFunc(a.loader.Flush)},
					Fragments:  a.backend,
					Notifier:   rs,
					Logger:     logger,
				}
				if fw, err = watch.NewFileWatcher(nil, reloader.Reload, logger); err != nil {
					return err
				}
				defer func() { _ = fw.Stop() }()
				if err := fw.Add(append(cfg.Paths.TemplateRoots, cfg.Paths.ConfigRoot)...); err != nil {
					return err
				}
				fw.Start()
				logger.Info("watching for changes", zap.Int("dirs", len(fw.Dirs())))
			}

			if cfg.Server.Pprof {
				mounts[profiling.Path] = profiling.Handler(profiling.Config{})
				logger.Warn("pprof endpoints enabled", zap.String("path", profiling.Path))
			}

			handler := router.New(router.Config{
				Pipeline:    a.pipeline,
				Segments:    segmentOptions(cfg),
				Layout:      a.layout,
				Middleware:  chain,
				Mounts:      mounts,
				ShowDetails: cfg.Render.Debug,
				Logger:      logger,
			})

			scfg := server.DefaultConfig(handler)
			scfg.Address = cfg.Server.Address()
			if addr != "" {
				scfg.Address = addr
			}
			scfg.ReadTimeout = cfg.Server.ReadTimeout
			if cfg.Server.WriteTimeout > 0 {
				// Leave room for the timeout middleware to answer first.
				scfg.WriteTimeout = cfg.Server.WriteTimeout + cfg.Server.WriteTimeout/2
			}
			scfg.CertFile, scfg.KeyFile = cfg.Server.TLSCert, cfg.Server.TLSKey
			scfg.Logger = logger
			srv, err := server.New(scfg)
			if err != nil {
				return err
			}

			g := server.NewGraceful(srv, 0)
			if a.queue != nil {
				g.OnShutdown("impressions", a.queue.Close)
			}
			g.OnShutdown("resources", a.Close)
			return g.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.host and server.port")
	return cmd
}
