// Package manifest discovers component manifests under template roots and
// normalizes them into registry entries.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/component"
)

// componentsDir is the folder every manifest must live under.
const componentsDir = "components"

var manifestNames = map[string]bool{
	"manifest":      true,
	"manifest.yml":  true,
	"manifest.yaml": true,
}

// TemplateChecker reports whether a template name resolves.
type TemplateChecker interface {
	Exists(name string) bool
}

// HydratorChecker reports whether a hydrator name is registered.
type HydratorChecker interface {
	Has(name string) bool
}

// Options configures a Discoverer.
type Options struct {
	// Roots are template roots, scanned in order.
	Roots []string
	// Namespaces is the known namespace set. The default namespace is always known.
	Namespaces []string
	Templates  TemplateChecker
	Hydrators  HydratorChecker
	// Strict turns every rejected manifest into a boot error.
	Strict bool
	Logger *zap.Logger
}

// Result is the outcome of one discovery pass.
type Result struct {
	Entries  []*component.Metadata
	Warnings []string
	// Dirs lists every directory under a components/ tree, for watching.
	Dirs []string
}

// Discoverer walks template roots for manifests.
type Discoverer struct {
	opts   Options
	known  map[string]bool
	logger *zap.Logger
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(opts Options) *Discoverer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	known := map[string]bool{component.DefaultNamespace: true}
	for _, ns := range opts.Namespaces {
		known[component.NormalizeNamespace(ns)] = true
	}
	return &Discoverer{opts: opts, known: known, logger: logger.Named("discovery")}
}

// NamespaceFor deduces a namespace from a slash-separated path relative to a
// template root: the segment right before the first components folder, or the
// default namespace when components/ sits at the root. ok is false when the
// path is not under a components folder.
func NamespaceFor(rel string) (ns string, ok bool) {
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segs {
		if seg != componentsDir {
			continue
		}
		if i == 0 {
			return component.DefaultNamespace, true
		}
		return component.NormalizeNamespace(segs[i-1]), true
	}
	return "", false
}

// Discover scans every root. In strict mode the first rejected manifest is
// returned as an error; otherwise rejections become warnings.
func (d *Discoverer) Discover() (*Result, error) {
	res := &Result{}
	seenDirs := make(map[string]bool)

	reject := func(err error) error {
		if d.opts.Strict {
			return err
		}
		d.logger.Warn("manifest rejected", zap.Error(err))
		res.Warnings = append(res.Warnings, err.Error())
		return nil
	}

	for _, root := range d.opts.Roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			d.logger.Debug("template root skipped", zap.String("root", root))
			continue
		}
		err = filepath.WalkDir(root, func(file string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if entry.IsDir() {
				if rel != "." && strings.HasPrefix(entry.Name(), ".") {
					return filepath.SkipDir
				}
				if _, under := NamespaceFor(rel + "/"); under && !seenDirs[file] {
					seenDirs[file] = true
					res.Dirs = append(res.Dirs, file)
				}
				return nil
			}
			if !manifestNames[entry.Name()] {
				return nil
			}
			ns, under := NamespaceFor(rel)
			if !under {
				return nil
			}

			m, err := d.load(file, rel, ns)
			if err != nil {
				return reject(err)
			}
			res.Entries = append(res.Entries, m)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if err := d.rejectCycles(res, reject); err != nil {
		return nil, err
	}
	for _, dangling := range Dangling(res.Entries) {
		d.logger.Debug("child alias not registered", zap.String("edge", dangling))
	}

	sort.Strings(res.Dirs)
	d.logger.Info("discovery finished",
		zap.Int("manifests", len(res.Entries)),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

func (d *Discoverer) load(file, rel, ns string) (*component.Metadata, error) {
	if !d.known[ns] {
		return nil, &component.ConfigError{Path: file, Field: "namespace",
			Reason: fmt.Sprintf("unknown namespace %q", ns)}
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &component.ConfigError{Path: file, Reason: err.Error()}
	}
	m, err := Parse(data, file, rel)
	if err != nil {
		return nil, err
	}
	m.Namespace = ns

	if d.opts.Templates != nil && !d.opts.Templates.Exists(m.Template) {
		return nil, &component.ConfigError{Path: file, Field: "template",
			Reason: fmt.Sprintf("template %q does not resolve", m.Template)}
	}
	if d.opts.Hydrators != nil {
		for _, name := range m.Hydrate {
			if !d.opts.Hydrators.Has(name) {
				return nil, &component.ConfigError{Path: file, Field: "hydrate",
					Reason: fmt.Sprintf("hydrator %q is not registered", name)}
			}
		}
	}
	return m, nil
}

// rejectCycles removes every manifest that takes part in a static child cycle.
func (d *Discoverer) rejectCycles(res *Result, reject func(error) error) error {
	cycles := BuildGraph(res.Entries).DetectCycles()
	if len(cycles) == 0 {
		return nil
	}
	drop := make(map[component.Key]bool)
	for _, cycle := range cycles {
		err := &component.ConfigError{Field: "compose",
			Reason: "composition cycle: " + formatCycle(cycle)}
		if rerr := reject(err); rerr != nil {
			return rerr
		}
		for _, k := range cycle {
			drop[k] = true
		}
	}
	kept := res.Entries[:0]
	for _, m := range res.Entries {
		if !drop[component.Key{Namespace: m.Namespace, Alias: m.Alias}] {
			kept = append(kept, m)
		}
	}
	res.Entries = kept
	return nil
}

// Load discovers manifests and registers them. Registry collisions are
// warnings unless override is set.
func (d *Discoverer) Load(reg *component.Registry, override bool) (*Result, error) {
	res, err := d.Discover()
	if err != nil {
		return nil, err
	}
	n, warnings := reg.BulkRegister(res.Entries, override)
	res.Warnings = append(res.Warnings, warnings...)
	if d.opts.Strict && len(warnings) > 0 {
		return res, &component.ConfigError{Reason: strings.Join(warnings, "; ")}
	}
	d.logger.Info("components registered", zap.Int("count", n))
	return res, nil
}

// Reload discovers again and swaps the registry contents in one step. On error
// the registry keeps its current snapshot.
func (d *Discoverer) Reload(reg *component.Registry) (*Result, error) {
	res, err := d.Discover()
	if err != nil {
		return nil, err
	}
	n, warnings := reg.Replace(res.Entries)
	res.Warnings = append(res.Warnings, warnings...)
	d.logger.Info("components reloaded", zap.Int("count", n))
	return res, nil
}
