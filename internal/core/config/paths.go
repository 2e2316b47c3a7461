package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ResolvedPaths struct {
	ProjectRoot string
	SourceRoots []string
	HistoryDB   string
	OutputPath  string
	MetricsFile string
}

// ResolvePaths makes every configured path absolute. Relative paths are
// taken from the directory of the configuration file, or from the project
// root for the default configuration.
func ResolvePaths(cfg *Config, projectRoot string) (ResolvedPaths, error) {
	if strings.TrimSpace(projectRoot) == "" {
		return ResolvedPaths{}, fmt.Errorf("project root must not be empty")
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return ResolvedPaths{}, err
	}
	base := root
	if cfg.Source != "" {
		if abs, err := filepath.Abs(cfg.Source); err == nil {
			base = filepath.Dir(abs)
		}
	}

	resolved := ResolvedPaths{
		ProjectRoot: filepath.Clean(root),
		HistoryDB:   ResolveRelative(base, cfg.History.Path),
	}
	for _, r := range cfg.Project.SourceRoots {
		resolved.SourceRoots = append(resolved.SourceRoots, ResolveRelative(base, r))
	}
	if cfg.Output.Path != "" {
		resolved.OutputPath = ResolveRelative(base, cfg.Output.Path)
	}
	if cfg.Observability.MetricsFile != "" {
		resolved.MetricsFile = ResolveRelative(base, cfg.Observability.MetricsFile)
	}
	return resolved, nil
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// DetectProjectRoot walks up from each candidate until a directory holding a
// Python project marker is found, falling back to the working directory.
func DetectProjectRoot(candidates []string) (string, error) {
	markers := []string{
		FileName,
		PyProjectFileName,
		"setup.py",
		"setup.cfg",
		"requirements.txt",
		"environment.yml",
		"pixi.toml",
		".git",
	}

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		root := abs
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			root = filepath.Dir(abs)
		}

		for {
			for _, marker := range markers {
				if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
					return filepath.Clean(root), nil
				}
			}
			parent := filepath.Dir(root)
			if parent == root {
				break
			}
			root = parent
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Clean(cwd), nil
}
