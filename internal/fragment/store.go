package fragment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/cache"
)

// MinTTL is the smallest TTL written to the backend.
const MinTTL = time.Second

var (
	l1HitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "composer_fragment_l1_hits_total",
		Help: "Fragments served from the request-local cache",
	})
	backendHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "composer_fragment_backend_hits_total",
		Help: "Fragments served from the shared backend",
	})
	backendMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "composer_fragment_backend_misses_total",
		Help: "Backend lookups that found nothing",
	})
	backendSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "composer_fragment_backend_sets_total",
		Help: "Fragments written to the shared backend",
	})
	backendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "composer_fragment_backend_errors_total",
		Help: "Backend failures by operation, each treated as a miss",
	}, []string{"op"})
)

// Stats counts cache traffic.
type Stats struct {
	L1Hits      int64 `json:"l1_hits"`
	BackendHits int64 `json:"backend_hits"`
	BackendSets int64 `json:"backend_sets"`
}

// Store is the process-wide L2. Backend errors are logged and count as misses.
type Store struct {
	backend cache.Cache
	logger  *zap.Logger

	l1Hits      atomic.Int64
	backendHits atomic.Int64
	backendSets atomic.Int64
}

// NewStore wraps a backend.
func NewStore(backend cache.Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger.Named("fragment")}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() cache.Cache { return s.backend }

// Get returns the stored fragment.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	value, err := s.backend.Get(ctx, key)
	if err != nil {
		if cache.IsCacheMiss(err) {
			backendMissesTotal.Inc()
		} else {
			s.fail("get", key, err)
		}
		return "", false
	}
	s.backendHits.Add(1)
	backendHitsTotal.Inc()
	return string(value), true
}

// Set writes a fragment for ttl seconds, clamped to MinTTL. Failures are
// logged and dropped.
func (s *Store) Set(ctx context.Context, key, html string, ttlSeconds int) {
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if err := s.backend.Set(ctx, key, []byte(html), ttl); err != nil {
		s.fail("set", key, err)
		return
	}
	s.backendSets.Add(1)
	backendSetsTotal.Inc()
}

// Exists reports whether the backend holds key.
func (s *Store) Exists(ctx context.Context, key string) bool {
	ok, err := s.backend.Exists(ctx, key)
	if err != nil {
		s.fail("exists", key, err)
		return false
	}
	return ok
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.fail("delete", key, err)
	}
}

// Stats returns process-wide counters.
func (s *Store) Stats() Stats {
	return Stats{
		L1Hits:      s.l1Hits.Load(),
		BackendHits: s.backendHits.Load(),
		BackendSets: s.backendSets.Load(),
	}
}

func (s *Store) fail(op, key string, err error) {
	backendErrorsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("fragment backend error",
		zap.String("op", op),
		zap.String("cache_key", key),
		zap.Error(err))
}

// Tiered is the request-local view: an L1 map in front of the Store. It must
// not be shared across requests.
type Tiered struct {
	store *Store
	mu    sync.Mutex
	l1    map[string]string
	stats Stats
}

// NewTiered creates an empty L1 over store.
func NewTiered(store *Store) *Tiered {
	return &Tiered{store: store, l1: make(map[string]string)}
}

// Get checks L1, then L2; an L2 hit populates L1.
func (t *Tiered) Get(ctx context.Context, key string) (string, bool) {
	t.mu.Lock()
	if html, ok := t.l1[key]; ok {
		t.stats.L1Hits++
		t.mu.Unlock()
		t.store.l1Hits.Add(1)
		l1HitsTotal.Inc()
		return html, true
	}
	t.mu.Unlock()

	html, ok := t.store.Get(ctx, key)
	if !ok {
		return "", false
	}
	t.mu.Lock()
	t.l1[key] = html
	t.stats.BackendHits++
	t.mu.Unlock()
	return html, true
}

// Set stores into L1 and L2.
func (t *Tiered) Set(ctx context.Context, key, html string, ttlSeconds int) {
	t.mu.Lock()
	t.l1[key] = html
	t.stats.BackendSets++
	t.mu.Unlock()
	t.store.Set(ctx, key, html, ttlSeconds)
}

// Exists checks L1, then L2.
func (t *Tiered) Exists(ctx context.Context, key string) bool {
	t.mu.Lock()
	_, ok := t.l1[key]
	t.mu.Unlock()
	return ok || t.store.Exists(ctx, key)
}

// Stats returns this request's counters.
func (t *Tiered) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
