// Package router exposes composed pages over HTTP.
package router

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/compose"
	"github.com/conduit-lang/composer/internal/segments"
	"github.com/conduit-lang/composer/internal/web/auth"
	"github.com/conduit-lang/composer/internal/web/middleware"
)

// Config wires the router.
type Config struct {
	Pipeline *compose.Pipeline
	Segments segments.Options
	Layout   *Layout
	// Middleware wraps every route, outermost first.
	Middleware []middleware.Middleware
	// Mounts adds extra handlers by path, such as the dev reload socket. A
	// path ending in "/" serves its whole subtree.
	Mounts map[string]http.Handler
	// ShowDetails includes error text in responses.
	ShowDetails bool
	Logger      *zap.Logger
}

// New builds the page server handler:
//
//	GET /healthz
//	GET /metrics
//	GET /{page}
//	GET /{lang}/{page}
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Layout == nil {
		cfg.Layout = DefaultLayout()
	}
	opts := cfg.Segments
	if opts.UserID == nil {
		opts.UserID = auth.FromRequest
	}
	if opts.RequestID == nil {
		opts.RequestID = func(r *http.Request) string { return middleware.GetRequestID(r.Context()) }
	}
	h := &pageHandler{
		pipeline: cfg.Pipeline,
		opts:     opts,
		layout:   cfg.Layout,
		details:  cfg.ShowDetails,
		logger:   cfg.Logger.Named("router"),
	}

	r := chi.NewRouter()
	for _, m := range cfg.Middleware {
		r.Use(m)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	for path, mount := range cfg.Mounts {
		if strings.HasSuffix(path, "/") {
			r.Mount(strings.TrimSuffix(path, "/"), mount)
			continue
		}
		r.Handle(path, mount)
	}
	r.Get("/{page}", h.serve)
	r.Get("/{lang}/{page}", h.serveLocalized)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested page was not found", nil)
	})
	return r
}

type pageHandler struct {
	pipeline *compose.Pipeline
	opts     segments.Options
	layout   *Layout
	details  bool
	logger   *zap.Logger
}

func (h *pageHandler) serveLocalized(w http.ResponseWriter, r *http.Request) {
	if _, ok := segments.LangPrefix(r.URL.Path, h.opts); !ok {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested page was not found", nil)
		return
	}
	h.serve(w, r)
}

func (h *pageHandler) serve(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page")
	req := segments.FromHTTP(r, h.opts)
	rc := h.pipeline.NewRenderContext(req, map[string]any{"page": pageID})

	page, err := h.pipeline.Render(r.Context(), rc, pageID)
	if err != nil {
		status, code, message := classify(err)
		log := h.logger.Warn
		if status >= http.StatusInternalServerError {
			log = h.logger.Error
		}
		log("page render failed",
			zap.String("page_id", pageID),
			zap.String("namespace", req.Namespace),
			zap.String("request_id", req.RequestID),
			zap.Int("status", status),
			zap.Error(err))
		var details map[string]any
		if h.details {
			details = map[string]any{"error": err.Error()}
		}
		WriteError(w, r, status, code, message, details)
		return
	}

	var buf bytes.Buffer
	if err := h.layout.Render(&buf, page); err != nil {
		h.logger.Error("layout render failed", zap.String("page_id", pageID), zap.Error(err))
		WriteError(w, r, http.StatusInternalServerError, "RENDER_FAILED", "The page could not be rendered", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if page.QAPreview {
		w.Header().Set("Cache-Control", "no-store")
	}
	_, _ = buf.WriteTo(w)
}
