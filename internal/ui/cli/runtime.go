package cli

import (
	"context"
	"depwise/internal/core/config"
	"depwise/internal/data/history"
	"depwise/internal/shared/observability"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// resolveProjectRoot finds the project a command operates on: the nearest
// directory above the first path argument that holds a project marker.
func resolveProjectRoot(args []string) (string, error) {
	if len(args) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		args = []string{wd}
	}
	return config.DetectProjectRoot(args)
}

// loadConfig reads .env, then the explicit or discovered configuration file,
// then DEPWISE_* overrides. Without a file the defaults apply.
func loadConfig(path, projectRoot string) (*config.Config, error) {
	if err := config.LoadDotEnv(projectRoot); err != nil {
		slog.Warn("failed to load .env", "dir", projectRoot, "error", err)
	}

	var cfg *config.Config
	switch {
	case path != "":
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		if found, ok := config.Discover(projectRoot); ok {
			loaded, err := config.Load(found)
			if err != nil {
				return nil, err
			}
			slog.Debug("using configuration", "path", found)
			cfg = loaded
		} else {
			cfg = config.Default()
		}
	}
	config.ApplyEnvOverrides(cfg)
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, errs[0]
	}
	return cfg, nil
}

func openHistory(cfg *config.Config, projectRoot string) (*history.Store, error) {
	paths, err := config.ResolvePaths(cfg, projectRoot)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(paths.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return store, nil
}

// startTracing installs the OTLP exporter when tracing is enabled. The
// returned function flushes pending spans.
func startTracing(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Observability.EnableTracing {
		return func() {}
	}
	shutdown, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}
}

func writeMetrics(cfg *config.Config, projectRoot string) {
	if cfg.Observability.MetricsFile == "" {
		return
	}
	paths, err := config.ResolvePaths(cfg, projectRoot)
	if err != nil {
		slog.Warn("failed to resolve metrics path", "error", err)
		return
	}
	if err := observability.WriteTextfile(paths.MetricsFile); err != nil {
		slog.Warn("failed to write metrics", "path", paths.MetricsFile, "error", err)
	}
}

func absPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}
