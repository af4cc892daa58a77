package component

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Namespaces is the known set. Empty accepts any namespace.
	Namespaces []string
	// DisableAssets blanks the assets of every registered component.
	DisableAssets bool
	// DisableAssetsFor blanks assets for the listed aliases only.
	DisableAssetsFor []string
	Logger           *zap.Logger
}

// snapshot is immutable once published.
type snapshot struct {
	entries map[Key]*Metadata
	aliases []string
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{entries: make(map[Key]*Metadata, len(s.entries)+1)}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	return next
}

func (s *snapshot) reindex() {
	seen := make(map[string]bool, len(s.entries))
	aliases := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if !seen[k.Alias] {
			seen[k.Alias] = true
			aliases = append(aliases, k.Alias)
		}
	}
	sort.Strings(aliases)
	s.aliases = aliases
}

// Registry maps (namespace, alias) to component metadata.
//
// Writers are serialized by mu and publish a fresh snapshot through an atomic
// pointer; readers load the pointer and never lock.
type Registry struct {
	mu     sync.Mutex
	snap   atomic.Pointer[snapshot]
	known  map[string]bool
	blank  map[string]bool
	noAsst bool
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		noAsst: opts.DisableAssets,
		blank:  make(map[string]bool, len(opts.DisableAssetsFor)),
		logger: opts.Logger,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("registry")
	if len(opts.Namespaces) > 0 {
		r.known = map[string]bool{DefaultNamespace: true}
		for _, ns := range opts.Namespaces {
			r.known[NormalizeNamespace(ns)] = true
		}
	}
	for _, alias := range opts.DisableAssetsFor {
		r.blank[alias] = true
	}
	r.snap.Store(&snapshot{entries: map[Key]*Metadata{}})
	return r
}

// KnownNamespace reports whether ns belongs to the deployment.
func (r *Registry) KnownNamespace(ns string) bool {
	if r.known == nil {
		return true
	}
	return r.known[NormalizeNamespace(ns)]
}

// Get looks alias up in ns, then in the default namespace when fallback is set.
func (r *Registry) Get(alias, ns string, fallback bool) (*Metadata, error) {
	ns = NormalizeNamespace(ns)
	if !r.KnownNamespace(ns) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	s := r.snap.Load()
	if m, ok := s.entries[Key{Namespace: ns, Alias: alias}]; ok {
		return m, nil
	}
	if fallback && ns != DefaultNamespace {
		if m, ok := s.entries[Key{Namespace: DefaultNamespace, Alias: alias}]; ok {
			return m, nil
		}
	}
	return nil, &MissingComponentError{Alias: alias, Namespace: ns}
}

// Exists reports whether Get would succeed.
func (r *Registry) Exists(alias, ns string, includeFallback bool) bool {
	_, err := r.Get(alias, ns, includeFallback)
	return err == nil
}

// Register adds one entry. A second registration of the same (namespace, alias)
// fails with ErrCollision unless override is set.
func (r *Registry) Register(m *Metadata, override bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.Load().clone()
	if err := r.put(next, m, override); err != nil {
		return err
	}
	next.reindex()
	r.snap.Store(next)
	return nil
}

// BulkRegister registers entries in order under a single publication. Collisions
// and invalid entries are skipped and reported as warnings.
func (r *Registry) BulkRegister(entries []*Metadata, override bool) (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.Load().clone()
	count, warnings := r.putAll(next, entries, override)
	next.reindex()
	r.snap.Store(next)
	return count, warnings
}

// Replace swaps the whole registry content for entries, as a hot reload does.
func (r *Registry) Replace(entries []*Metadata) (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := &snapshot{entries: make(map[Key]*Metadata, len(entries))}
	count, warnings := r.putAll(next, entries, false)
	next.reindex()
	r.snap.Store(next)
	return count, warnings
}

func (r *Registry) putAll(s *snapshot, entries []*Metadata, override bool) (int, []string) {
	var (
		count    int
		warnings []string
	)
	for _, m := range entries {
		if err := r.put(s, m, override); err != nil {
			warnings = append(warnings, err.Error())
			r.logger.Warn("registration skipped",
				zap.String("alias", m.Alias),
				zap.String("namespace", m.Namespace),
				zap.String("source", m.Source),
				zap.Error(err))
			continue
		}
		count++
	}
	return count, warnings
}

func (r *Registry) put(s *snapshot, m *Metadata, override bool) error {
	if m == nil || m.Alias == "" {
		return &ConfigError{Field: "alias", Reason: "alias is required"}
	}
	if m.Template == "" {
		return &ConfigError{Path: m.Source, Field: "template", Reason: fmt.Sprintf("no template for %q", m.Alias)}
	}
	entry := *m
	entry.Namespace = NormalizeNamespace(m.Namespace)
	if !r.KnownNamespace(entry.Namespace) {
		return fmt.Errorf("%w: %q for %q", ErrInvalidNamespace, entry.Namespace, m.Alias)
	}
	if r.noAsst || r.blank[entry.Alias] {
		entry.Assets = Assets{}
	}
	entry.Assets = entry.Assets.Normalized()
	if entry.Params == nil {
		entry.Params = map[string]any{}
	}
	if entry.Contract.Required == nil {
		entry.Contract.Required = map[string]any{}
	}
	if entry.Contract.Optional == nil {
		entry.Contract.Optional = map[string]any{}
	}

	names := append([]string{entry.Alias}, entry.Aliases...)
	for _, name := range names {
		key := Key{Namespace: entry.Namespace, Alias: name}
		if _, exists := s.entries[key]; exists && !override {
			return fmt.Errorf("%w: %s", ErrCollision, key)
		}
	}
	for _, name := range names {
		s.entries[Key{Namespace: entry.Namespace, Alias: name}] = &entry
	}
	return nil
}

// AllAliases returns every registered alias across namespaces, sorted and unique.
func (r *Registry) AllAliases() []string {
	s := r.snap.Load()
	out := make([]string, len(s.aliases))
	copy(out, s.aliases)
	return out
}

// Entries returns every (key, metadata) pair, sorted by namespace then alias.
func (r *Registry) Entries() []Entry {
	s := r.snap.Load()
	out := make([]Entry, 0, len(s.entries))
	for k, m := range s.entries {
		out = append(out, Entry{Key: k, Metadata: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Namespace != out[j].Key.Namespace {
			return out[i].Key.Namespace < out[j].Key.Namespace
		}
		return out[i].Key.Alias < out[j].Key.Alias
	})
	return out
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	return len(r.snap.Load().entries)
}

// Entry is a registry snapshot row.
type Entry struct {
	Key      Key
	Metadata *Metadata
}
