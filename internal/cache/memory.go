package cache

import (
	"context"
	"sync"
	"time"
)

// janitorInterval is how often expired entries are swept.
const janitorInterval = time.Minute

// MemoryCache is a process-local backend with per-entry expiry.
type MemoryCache struct {
	data   sync.Map // full key -> *entry
	config CacheConfig
	now    func() time.Time
	stop   context.CancelFunc
	once   sync.Once
}

type entry struct {
	value   []byte
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewMemoryCache creates a memory backend with the default configuration.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultCacheConfig())
}

// NewMemoryCacheWithConfig creates a memory backend and starts its janitor.
// Close stops the janitor.
func NewMemoryCacheWithConfig(config CacheConfig) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MemoryCache{config: config, now: time.Now, stop: cancel}
	go m.janitor(ctx)
	return m
}

// Get implements Cache.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := m.config.Prefix + key
	v, ok := m.data.Load(full)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}
	e := v.(*entry)
	if e.expired(m.now()) {
		m.data.CompareAndDelete(full, v)
		return nil, ErrCacheMiss{Key: key}
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements Cache.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data.Store(m.config.Prefix+key, e)
	return nil
}

// Delete implements Cache.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Delete(m.config.Prefix + key)
	return nil
}

// Clear implements Cache.
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Range(func(k, _ any) bool {
		m.data.Delete(k)
		return true
	})
	return nil
}

// Exists implements Cache.
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case IsCacheMiss(err):
		return false, nil
	}
	return false, err
}

// Len counts stored entries, expired ones included until swept.
func (m *MemoryCache) Len() int {
	n := 0
	m.data.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops the janitor. It is safe to call more than once.
func (m *MemoryCache) Close() error {
	m.once.Do(m.stop)
	return nil
}

func (m *MemoryCache) sweep() {
	now := m.now()
	m.data.Range(func(k, v any) bool {
		if v.(*entry).expired(now) {
			m.data.CompareAndDelete(k, v)
		}
		return true
	})
}

func (m *MemoryCache) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}
