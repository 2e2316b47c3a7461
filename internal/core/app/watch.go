package app

import (
	"context"
	"depwise/internal/core/config"
	"depwise/internal/core/watcher"
	"depwise/internal/shared/util"
	"log/slog"
	"path/filepath"
)

// Watch runs a check, then re-runs it whenever a Python source or manifest
// under the watched roots changes. Runs are at least Watch.MinInterval
// apart. Edits to the configuration file are picked up between runs.
// onReport receives every outcome; Watch returns when ctx is done.
func (a *App) Watch(ctx context.Context, req Request, onReport func(*Report, error)) error {
	req, err := normalizeRequest(req)
	if err != nil {
		return err
	}
	report, err := a.Check(ctx, req)
	onReport(report, err)

	changes := make(chan []string, 1)
	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, a.Config.Exclude.Dirs, a.Config.Exclude.Files, func(paths []string) {
		select {
		case changes <- paths:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Watch(a.watchRoots(req)); err != nil {
		return err
	}

	reloads := make(chan *config.Config, 1)
	if a.Config.Source != "" {
		cw := config.NewWatcher(a.Config.Source, func(cfg *config.Config) {
			select {
			case reloads <- cfg:
			default:
			}
		})
		if err := cw.Start(ctx); err != nil {
			slog.Warn("configuration changes will not be picked up", "path", a.Config.Source, "error", err)
		} else {
			defer cw.Stop()
		}
	}

	limiter := util.NewIntervalLimiter(a.Config.Watch.MinInterval)
	// The initial check spends the first token.
	limiter.Allow(1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-reloads:
			if err := a.SetConfig(cfg); err != nil {
				slog.Warn("ignoring reloaded configuration", "error", err)
				continue
			}
			w.SetDebounce(cfg.Watch.Debounce)
			limiter = util.NewIntervalLimiter(cfg.Watch.MinInterval)
		case paths := <-changes:
			slog.Info("change detected", "files", len(paths), "first", paths[0])
		}

		if err := limiter.Wait(ctx, 1); err != nil {
			return nil
		}
		// Coalesce changes that arrived while waiting.
		select {
		case <-changes:
		default:
		}
		report, err := a.Check(ctx, req)
		if ctx.Err() != nil {
			return nil
		}
		onReport(report, err)
	}
}

// watchRoots covers the source roots, the project root and every manifest's
// directory.
func (a *App) watchRoots(req Request) []string {
	roots := append([]string{req.ProjectRoot}, a.sourceRoots(req)...)
	for _, ref := range a.manifestRefs(req) {
		roots = append(roots, filepath.Dir(ref.Path))
	}
	roots = uniqueRoots(roots)

	// Nested roots would register the same directories twice.
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if containingRoot(r, out) == "" {
			out = append(out, r)
		}
	}
	return out
}
