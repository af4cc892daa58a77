package pageconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/conduit-lang/composer/internal/component"
)

// File names read per namespace directory.
const (
	PagesFile       = "pages.yml"
	ExperimentsFile = "experiments.yml"
	CacheFile       = "cache.yml"
	QAFile          = "qa.yml"
)

var bundleFiles = []string{PagesFile, ExperimentsFile, CacheFile, QAFile}

// ErrPageNotFound is returned when neither the namespace nor the default
// namespace declares the page.
var ErrPageNotFound = errors.New("page not found")

// Bundles are kept until their files change; entries evicted by the janitor
// are just reloaded.
const (
	bundleExpiration = 30 * time.Minute
	bundleCleanup    = 10 * time.Minute
)

// Loader reads <root>/<namespace>/{pages,experiments,cache,qa}.yml and caches
// each namespace bundle under (namespace, file mtimes and sizes).
type Loader struct {
	root   string
	cache  *gocache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewLoader creates a loader over the config root.
func NewLoader(root string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		root:   root,
		cache:  gocache.New(bundleExpiration, bundleCleanup),
		logger: logger.Named("pageconfig"),
	}
}

// Root returns the config root.
func (l *Loader) Root() string { return l.root }

// Namespaces enumerates namespace directories under the root. The default
// namespace is always part of the set.
func (l *Loader) Namespaces() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to scan config root: %w", err)
	}
	set := map[string]bool{component.DefaultNamespace: true}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			set[component.NormalizeNamespace(e.Name())] = true
		}
	}
	out := make([]string, 0, len(set))
	for ns := range set {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// stamp returns the cache key for a namespace: "<ns>@" followed by the
// mtime and size of each present file, "-" for absent ones. Removing a file
// therefore changes the stamp even when the remaining ones are older.
func (l *Loader) stamp(ns string) string {
	var b strings.Builder
	b.WriteString(ns)
	b.WriteByte('@')
	for i, name := range bundleFiles {
		if i > 0 {
			b.WriteByte(',')
		}
		info, err := os.Stat(filepath.Join(l.root, ns, name))
		if err != nil {
			b.WriteByte('-')
			continue
		}
		fmt.Fprintf(&b, "%d.%d", info.ModTime().UnixNano(), info.Size())
	}
	return b.String()
}

// Bundle returns the parsed files of one namespace, reloading when any of them
// changed on disk. Missing files yield defaults.
func (l *Loader) Bundle(ns string) (*Bundle, error) {
	ns = component.NormalizeNamespace(ns)
	key := l.stamp(ns)
	if v, ok := l.cache.Get(key); ok {
		if b, ok := v.(*Bundle); ok {
			return b, nil
		}
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		b, err := l.load(ns)
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, b, gocache.DefaultExpiration)
		l.logger.Debug("config bundle loaded", zap.String("namespace", ns), zap.String("stamp", key))
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

func (l *Loader) read(ns, name string) ([]byte, string, bool, error) {
	file := filepath.Join(l.root, ns, name)
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, file, false, nil
	}
	if err != nil {
		return nil, file, false, &component.ConfigError{Path: file, Reason: err.Error()}
	}
	return data, file, true, nil
}

func (l *Loader) load(ns string) (*Bundle, error) {
	b := &Bundle{
		Namespace:   ns,
		Pages:       map[string]*PageSpec{},
		Experiments: Experiments{},
		Cache:       DefaultCacheRules(),
		QA:          QAPolicy{Prefix: DefaultQAPrefix},
		Present:     map[string]bool{},
	}

	for _, name := range bundleFiles {
		data, file, ok, err := l.read(ns, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		b.Present[name] = true
		switch name {
		case PagesFile:
			b.Pages, err = ParsePages(data, file, ns)
		case ExperimentsFile:
			b.Experiments, err = ParseExperiments(data, file)
		case CacheFile:
			b.Cache, err = ParseCache(data, file)
		case QAFile:
			b.QA, err = ParseQA(data, file)
		}
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// View is the effective configuration for one request namespace.
type View struct {
	Namespace   string
	Experiments Experiments
	Cache       CacheRules
	QA          QAPolicy
	bundle      *Bundle
	core        *Bundle
}

// Page returns the namespace page, falling back to the default namespace.
func (v *View) Page(id string) (*PageSpec, error) {
	if p, ok := v.bundle.Pages[id]; ok {
		return p, nil
	}
	if v.core != nil {
		if p, ok := v.core.Pages[id]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (namespace %s)", ErrPageNotFound, id, v.Namespace)
}

// Pages lists page ids visible from the namespace, sorted.
func (v *View) Pages() []string {
	set := map[string]bool{}
	for id := range v.bundle.Pages {
		set[id] = true
	}
	if v.core != nil {
		for id := range v.core.Pages {
			set[id] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// View resolves the configuration for ns. Experiments merge the default
// namespace's spec with the namespace's own, namespace winning. Cache rules
// and QA policy come from the namespace when it has the file, else from core.
func (l *Loader) View(ns string) (*View, error) {
	ns = component.NormalizeNamespace(ns)
	b, err := l.Bundle(ns)
	if err != nil {
		return nil, err
	}
	v := &View{Namespace: ns, Experiments: b.Experiments, Cache: b.Cache, QA: b.QA, bundle: b}
	if ns == component.DefaultNamespace {
		return v, nil
	}

	core, err := l.Bundle(component.DefaultNamespace)
	if err != nil {
		return nil, err
	}
	v.core = core
	v.Experiments = core.Experiments.Merge(b.Experiments)
	if !b.Present[CacheFile] {
		v.Cache = core.Cache
	}
	if !b.Present[QAFile] {
		v.QA = core.QA
	}
	return v, nil
}

// Flush drops every cached bundle.
func (l *Loader) Flush() {
	l.cache.Flush()
}
