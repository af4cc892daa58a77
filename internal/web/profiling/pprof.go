// Package profiling mounts the pprof endpoints. They expose runtime internals
// and belong behind an internal listener or an authenticating middleware.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"
)

// Path is where Handler expects to be mounted with chi's Mount.
const Path = "/debug/pprof/"

// Config tunes the block and mutex profilers; zero leaves them off.
type Config struct {
	BlockRate     int
	MutexFraction int
}

// Handler serves the pprof index and named profiles under Path.
func Handler(cfg Config) http.Handler {
	if cfg.BlockRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockRate)
	}
	if cfg.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexFraction)
	}
	r := chi.NewRouter()
	r.HandleFunc("/", pprof.Index)
	r.HandleFunc("/cmdline", pprof.Cmdline)
	r.HandleFunc("/profile", pprof.Profile)
	r.HandleFunc("/symbol", pprof.Symbol)
	r.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		r.Handle("/"+name, pprof.Handler(name))
	}
	return r
}
