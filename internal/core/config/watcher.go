package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk. Invalid
// edits are logged and the previous configuration stays in effect.
type Watcher struct {
	path     string
	callback func(*Config)

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewWatcher(path string, callback func(*Config)) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		callback: callback,
		stop:     make(chan struct{}),
	}
}

// Start watches the directory holding the file, so editors that replace
// the file on save are seen too.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer fsw.Close()
		w.loop(ctx, fsw)
	}()
	slog.Debug("watching configuration", "path", w.path)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "path", w.path, "error", err)
		case <-timer.C:
			w.reload()
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// reload applies the same DEPWISE_* overrides as the initial load.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		ApplyEnvOverrides(cfg)
		if errs := Validate(cfg); len(errs) > 0 {
			err = errs[0]
		}
	}
	if err != nil {
		slog.Warn("configuration reload failed; keeping previous settings", "path", w.path, "error", err)
		return
	}
	slog.Info("configuration reloaded", "path", w.path)
	if w.callback != nil {
		w.callback(cfg)
	}
}
