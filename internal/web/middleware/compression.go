package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// CompressionConfig configures Compression.
type CompressionConfig struct {
	Level int
	// MinSize is the smallest first write that gets compressed.
	MinSize int
	// Types are the compressible content type prefixes.
	Types []string
}

// DefaultCompressionConfig compresses HTML, JSON and text of 1KB or more.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:   gzip.DefaultCompression,
		MinSize: 1024,
		Types:   []string{"text/", "application/json", "application/javascript"},
	}
}

// Compression gzips responses for clients that accept it. The decision is
// taken on the first write, once the content type and status are known.
func Compression(cfg CompressionConfig) Middleware {
	pool := &sync.Pool{New: func() any {
		w, err := gzip.NewWriterLevel(io.Discard, cfg.Level)
		if err != nil {
			w = gzip.NewWriter(io.Discard)
		}
		return w
	}}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Accept-Encoding")
			gw := &gzipWriter{ResponseWriter: w, pool: pool, cfg: cfg, status: http.StatusOK}
			defer gw.Close()
			next.ServeHTTP(gw, r)
		})
	}
}

type gzipWriter struct {
	http.ResponseWriter
	pool    *sync.Pool
	cfg     CompressionConfig
	gz      *gzip.Writer
	status  int
	decided bool
	pending bool
}

func (g *gzipWriter) WriteHeader(code int) {
	if g.decided || g.pending {
		return
	}
	g.status = code
	g.pending = true
}

func (g *gzipWriter) Write(b []byte) (int, error) {
	if !g.decided {
		g.decide(len(b))
	}
	if g.gz != nil {
		return g.gz.Write(b)
	}
	return g.ResponseWriter.Write(b)
}

func (g *gzipWriter) decide(size int) {
	g.decided = true
	h := g.Header()
	if size >= g.cfg.MinSize && h.Get("Content-Encoding") == "" && g.status != http.StatusNoContent && g.compressible(h.Get("Content-Type")) {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		g.gz = g.pool.Get().(*gzip.Writer)
		g.gz.Reset(g.ResponseWriter)
	}
	g.ResponseWriter.WriteHeader(g.status)
}

func (g *gzipWriter) compressible(contentType string) bool {
	for _, t := range g.cfg.Types {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// Close flushes the gzip stream and writes a pending header for empty bodies.
func (g *gzipWriter) Close() error {
	if !g.decided {
		if g.pending {
			g.ResponseWriter.WriteHeader(g.status)
		}
		return nil
	}
	if g.gz == nil {
		return nil
	}
	err := g.gz.Close()
	g.pool.Put(g.gz)
	g.gz = nil
	return err
}
