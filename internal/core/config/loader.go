package config

import (
	coreerr "depwise/internal/core/errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type pyProjectTool struct {
	Tool struct {
		Depwise Config `toml:"depwise"`
	} `toml:"tool"`
}

// Load reads depwise.toml, or the [tool.depwise] table when path is a
// pyproject.toml. Defaults are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Parse decodes configuration data. The file name of path selects between
// the two layouts.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config
	if filepath.Base(path) == PyProjectFileName {
		var wrapper pyProjectTool
		if _, err := toml.Decode(string(data), &wrapper); err != nil {
			return nil, coreerr.Wrap(err, coreerr.CodeConfiguration, fmt.Sprintf("decode %s", path))
		}
		cfg = wrapper.Tool.Depwise
	} else if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, coreerr.Wrap(err, coreerr.CodeConfiguration, fmt.Sprintf("decode %s", path))
	}
	cfg.Source = path

	applyDefaults(&cfg)
	normalize(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, coreerr.AddContext(errs[0], coreerr.CtxPath, path)
	}
	return &cfg, nil
}

// Discover finds the configuration file for a project directory:
// depwise.toml, .depwise.toml, then a pyproject.toml carrying [tool.depwise].
func Discover(dir string) (string, bool) {
	for _, name := range []string{FileName, HiddenFileName} {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	candidate := filepath.Join(dir, PyProjectFileName)
	data, err := os.ReadFile(candidate)
	if err != nil {
		return "", false
	}
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil || !md.IsDefined("tool", "depwise") {
		return "", false
	}
	return candidate, true
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if cfg.Analysis.Workers <= 0 {
		cfg.Analysis.Workers = runtime.NumCPU()
	}
	if cfg.Analysis.FileTimeout == 0 {
		cfg.Analysis.FileTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Analysis.OnDynamicManifest) == "" {
		cfg.Analysis.OnDynamicManifest = DynamicWarn
	}
	if len(cfg.Analysis.FailOn) == 0 {
		cfg.Analysis.FailOn = []string{"missing"}
	}

	if len(cfg.Exclude.Dirs) == 0 {
		cfg.Exclude.Dirs = []string{".git", ".hg", ".venv", "venv", "env", ".tox", ".nox", "__pycache__", "node_modules", "build", "dist", "*.egg-info"}
	}

	if strings.TrimSpace(cfg.Output.Format) == "" {
		cfg.Output.Format = "text"
	}

	if strings.TrimSpace(cfg.History.Path) == "" {
		cfg.History.Path = filepath.Join(".depwise", "history.db")
	}
	if cfg.History.Keep == 0 {
		cfg.History.Keep = 50
	}

	// Default debounce if not set.
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Watch.MinInterval == 0 {
		cfg.Watch.MinInterval = 2 * time.Second
	}
}

func normalize(cfg *Config) {
	cfg.Project.Name = strings.TrimSpace(cfg.Project.Name)
	cfg.Project.SourceRoots = trimAll(cfg.Project.SourceRoots)
	for i := range cfg.Manifests {
		m := &cfg.Manifests[i]
		m.Path = strings.TrimSpace(m.Path)
		m.Type = strings.ToLower(strings.TrimSpace(m.Type))
		m.Group = strings.TrimSpace(m.Group)
	}
	cfg.Ignore.Names = trimAll(cfg.Ignore.Names)
	cfg.Ignore.Imports = trimAll(cfg.Ignore.Imports)
	cfg.Ignore.Paths = trimAll(cfg.Ignore.Paths)
	cfg.Extras.Combinations = trimAll(cfg.Extras.Combinations)
	cfg.Environment.SitePackages = trimAll(cfg.Environment.SitePackages)
	cfg.Analysis.OnDynamicManifest = strings.ToLower(strings.TrimSpace(cfg.Analysis.OnDynamicManifest))
	for i, k := range cfg.Analysis.FailOn {
		cfg.Analysis.FailOn[i] = strings.ToLower(strings.TrimSpace(k))
	}
	cfg.Exclude.Dirs = trimAll(cfg.Exclude.Dirs)
	cfg.Exclude.Files = trimAll(cfg.Exclude.Files)
	cfg.Output.Format = strings.ToLower(strings.TrimSpace(cfg.Output.Format))
	cfg.Output.Path = strings.TrimSpace(cfg.Output.Path)
	cfg.History.Path = strings.TrimSpace(cfg.History.Path)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
	cfg.Observability.MetricsFile = strings.TrimSpace(cfg.Observability.MetricsFile)
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
