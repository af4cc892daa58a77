// Package watch reloads components during development and notifies browsers.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce groups bursts of editor writes into one change.
const DefaultDebounce = 100 * time.Millisecond

// DefaultPatterns are the file names that trigger a reload.
var DefaultPatterns = []string{"*.yml", "*.yaml", "*.html", "*.tmpl"}

// FileWatcher reports changed files under a set of directories.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	patterns  []string
	onChange  func([]string) error
	logger    *zap.Logger

	mu      sync.Mutex
	watched map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFileWatcher creates a watcher. Empty patterns use DefaultPatterns.
func NewFileWatcher(patterns []string, onChange func([]string) error, logger *zap.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw := &FileWatcher{
		watcher:   w,
		debouncer: NewDebouncer(DefaultDebounce),
		patterns:  patterns,
		onChange:  onChange,
		logger:    logger.Named("watch"),
		watched:   make(map[string]bool),
		stop:      make(chan struct{}),
	}
	fw.debouncer.SetCallback(func(files []string) {
		if err := fw.onChange(files); err != nil {
			fw.logger.Warn("reload failed", zap.Strings("files", files), zap.Error(err))
		}
	})
	return fw, nil
}

// Add watches every directory under each root.
func (fw *FileWatcher) Add(roots ...string) error {
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return fw.addDir(path)
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}
	return nil
}

func (fw *FileWatcher) addDir(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.watched[dir] {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return err
	}
	fw.watched[dir] = true
	fw.logger.Debug("watching directory", zap.String("dir", dir))
	return nil
}

// Dirs lists the watched directories, sorted.
func (fw *FileWatcher) Dirs() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	dirs := make([]string, 0, len(fw.watched))
	for d := range fw.watched {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Start runs the event loop.
func (fw *FileWatcher) Start() {
	fw.wg.Add(1)
	go fw.loop()
}

// Stop ends the event loop and releases the watcher. It is idempotent.
func (fw *FileWatcher) Stop() error {
	select {
	case <-fw.stop:
		return nil
	default:
		close(fw.stop)
	}
	fw.wg.Wait()
	fw.debouncer.Stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) loop() {
	defer fw.wg.Done()
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watch error", zap.Error(err))
		case <-fw.stop:
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New component directories are picked up without a restart.
			if err := fw.Add(event.Name); err != nil {
				fw.logger.Warn("watch error", zap.Error(err))
			}
			fw.debouncer.Add(event.Name)
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if fw.matches(event.Name) {
		fw.logger.Debug("file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
		fw.debouncer.Add(event.Name)
	}
}

func (fw *FileWatcher) matches(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range fw.patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Debouncer collects file names and flushes them once no new name arrived
// for its duration.
type Debouncer struct {
	duration time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	files    map[string]struct{}
	callback func([]string)
	stopped  bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(d time.Duration) *Debouncer {
	return &Debouncer{duration: d, files: make(map[string]struct{})}
}

// SetCallback sets the flush callback.
func (d *Debouncer) SetCallback(fn func([]string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = fn
}

// Add records file and restarts the timer.
func (d *Debouncer) Add(file string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.files[file] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if len(d.files) == 0 || d.stopped {
		d.mu.Unlock()
		return
	}
	files := make([]string, 0, len(d.files))
	for f := range d.files {
		files = append(files, f)
	}
	d.files = make(map[string]struct{})
	cb := d.callback
	d.mu.Unlock()

	sort.Strings(files)
	if cb != nil {
		cb(files)
	}
}

// Stop cancels a pending flush.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
