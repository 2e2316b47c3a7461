package watcher

import (
	"crypto/sha256"
	"depwise/internal/shared/observability"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// Watcher reports batches of changed Python sources and manifests. Writes
// that leave a file's content unchanged are dropped.
type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	debounce     time.Duration
	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob
	extFilters   map[string]bool
	nameFilters  []glob.Glob
	onChange     func([]string)
	callbackMu   sync.Mutex

	hashes   map[string][sha256.Size]byte
	hashesMu sync.Mutex

	// pending maps a path to whether it was removed.
	pending   map[string]bool
	pendingMu sync.Mutex
	timer     *time.Timer
}

// DefaultManifestNames are the manifest file names watched besides sources.
var DefaultManifestNames = []string{
	"requirements*.txt",
	"requirements*.in",
	"pyproject.toml",
	"setup.py",
	"setup.cfg",
	"environment.yml",
	"environment.yaml",
	"pixi.toml",
	"depwise.toml",
	".depwise.toml",
}

func NewWatcher(debounce time.Duration, excludeDirs, excludeFiles []string, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}

	compiledDirs, err := compileAll(excludeDirs)
	if err != nil {
		return nil, err
	}
	compiledFiles, err := compileAll(excludeFiles)
	if err != nil {
		return nil, err
	}
	names, err := compileAll(DefaultManifestNames)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher:    fsw,
		debounce:     debounce,
		excludeDirs:  compiledDirs,
		excludeFiles: compiledFiles,
		extFilters:   map[string]bool{".py": true, ".pyi": true},
		nameFilters:  names,
		onChange:     onChange,
		hashes:       make(map[string][sha256.Size]byte),
		pending:      make(map[string]bool),
	}, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// SetFileFilters replaces the watched extensions and file-name patterns.
func (w *Watcher) SetFileFilters(extensions, names []string) error {
	compiled, err := compileAll(names)
	if err != nil {
		return err
	}
	extFilter := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		extFilter[normalized] = true
	}
	w.extFilters = extFilter
	w.nameFilters = compiled
	return nil
}

func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.debounce = debounce
}

func (w *Watcher) Watch(paths []string) error {
	for _, path := range paths {
		if err := w.watchRecursive(path, true); err != nil {
			return err
		}
	}

	go w.run()
	return nil
}

// watchRecursive registers every directory under root. With seed set the
// current content of existing files becomes the baseline for later events.
func (w *Watcher) watchRecursive(root string, seed bool) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != root && w.shouldExcludeDir(path) {
				return filepath.SkipDir
			}
			return w.fsWatcher.Add(path)
		}
		if seed && !w.shouldExcludeFile(path) {
			w.contentChanged(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if event.Has(fsnotify.Create) {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					if !w.shouldExcludeDir(event.Name) {
						if err := w.watchRecursive(event.Name, false); err != nil {
							slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
						} else {
							w.enqueueExistingFiles(event.Name)
						}
					}
					continue
				}
			}

			if w.shouldExcludeFile(event.Name) {
				continue
			}

			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.schedule(event.Name, true)
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				w.schedule(event.Name, false)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// contentChanged records the file's digest and reports whether it differs
// from the previous one. Unreadable files count as changed.
func (w *Watcher) contentChanged(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		w.forget(path)
		return true
	}
	sum := sha256.Sum256(data)

	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	if prev, ok := w.hashes[path]; ok && prev == sum {
		return false
	}
	w.hashes[path] = sum
	return true
}

func (w *Watcher) forget(path string) {
	w.hashesMu.Lock()
	delete(w.hashes, path)
	w.hashesMu.Unlock()
}

func (w *Watcher) schedule(path string, removed bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = removed

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.flushChanges()
	})
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = make(map[string]bool)
	w.pendingMu.Unlock()

	// Content is compared once the debounce settles so partially written
	// files are not mistaken for edits.
	paths := make([]string, 0, len(pending))
	for path, removed := range pending {
		if removed {
			w.forget(path)
		} else if !w.contentChanged(path) {
			continue
		}
		paths = append(paths, path)
	}

	if len(paths) > 0 {
		w.callbackMu.Lock()
		defer w.callbackMu.Unlock()
		w.onChange(paths)
	}
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) shouldExcludeFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))

	wanted := w.extFilters[strings.ToLower(filepath.Ext(base))]
	for _, g := range w.nameFilters {
		if wanted {
			break
		}
		wanted = g.Match(base)
	}
	if !wanted {
		return true
	}

	for _, g := range w.excludeFiles {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if w.shouldExcludeFile(path) {
			return nil
		}
		w.schedule(path, false)
		return nil
	})
}
