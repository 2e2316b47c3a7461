package config

import (
	coreerr "depwise/internal/core/errors"
	"depwise/internal/engine/manifest"
	"fmt"
	"regexp"
	"slices"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return coreerr.Configuration(fmt.Sprintf("unsupported config version %d; the only supported version is 1", cfg.Version), "version", cfg.Version)
	}
	return nil
}

func validateManifests(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Manifests))
	for i, m := range cfg.Manifests {
		ref := fmt.Sprintf("manifests[%d]", i)
		if m.Path == "" {
			return coreerr.Configuration(ref+".path must not be empty", "manifests", i)
		}
		if m.Type != "" {
			if _, err := manifest.ParseKind(m.Type); err != nil {
				return coreerr.Configuration(fmt.Sprintf("%s.type: %v", ref, err), "type", m.Type)
			}
		}
		if m.Group != "" && !manifest.IsValidName(m.Group) {
			return coreerr.Configuration(fmt.Sprintf("%s.group %q is not a valid extras name", ref, m.Group), "group", m.Group)
		}
		if seen[m.Path] {
			return coreerr.Configuration(fmt.Sprintf("manifest %q is listed twice", m.Path), "path", m.Path)
		}
		seen[m.Path] = true
	}
	return nil
}

func validateIgnore(cfg *Config) error {
	for _, p := range cfg.Ignore.Imports {
		if _, err := regexp.Compile(p); err != nil {
			return coreerr.Configuration(fmt.Sprintf("ignore.imports: %v", err), "pattern", p)
		}
	}
	for _, p := range cfg.Ignore.Paths {
		if _, err := regexp.Compile(p); err != nil {
			return coreerr.Configuration(fmt.Sprintf("ignore.paths: %v", err), "pattern", p)
		}
	}
	return nil
}

func validateExclude(cfg *Config) error {
	for _, p := range append(append([]string(nil), cfg.Exclude.Dirs...), cfg.Exclude.Files...) {
		if _, err := glob.Compile(p); err != nil {
			return coreerr.Configuration(fmt.Sprintf("invalid exclude pattern %q: %v", p, err), "pattern", p)
		}
	}
	return nil
}

func validateAnalysis(cfg *Config) error {
	a := cfg.Analysis
	if a.FileTimeout < 0 {
		return coreerr.Configuration("analysis.file_timeout must not be negative", "file_timeout", a.FileTimeout)
	}
	switch a.OnDynamicManifest {
	case DynamicWarn, DynamicError:
	default:
		return coreerr.Configuration(fmt.Sprintf("analysis.on_dynamic_manifest must be one of: %s, %s", DynamicWarn, DynamicError), "on_dynamic_manifest", a.OnDynamicManifest)
	}
	for _, k := range a.FailOn {
		if !slices.Contains(FindingKinds, k) {
			return coreerr.Configuration(fmt.Sprintf("analysis.fail_on: unknown finding kind %q", k), "fail_on", k)
		}
	}
	return nil
}

func validateOutput(cfg *Config) error {
	if !slices.Contains(OutputFormats, cfg.Output.Format) {
		return coreerr.Configuration(fmt.Sprintf("output.format must be one of: text, json, sarif, markdown; got %q", cfg.Output.Format), "format", cfg.Output.Format)
	}
	return nil
}

func validateHistory(cfg *Config) error {
	if cfg.History.Keep < 0 {
		return coreerr.Configuration("history.keep must not be negative", "keep", cfg.History.Keep)
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return coreerr.Configuration("history.path must not be empty when history is enabled", "path", "")
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 || cfg.Watch.MinInterval < 0 {
		return coreerr.Configuration("watch intervals must not be negative", "watch", cfg.Watch)
	}
	return nil
}

// Validate returns every problem found, in section order.
func Validate(cfg *Config) []error {
	var errs []error
	for _, check := range []func(*Config) error{
		validateVersion,
		validateManifests,
		validateIgnore,
		validateExclude,
		validateAnalysis,
		validateOutput,
		validateHistory,
		validateWatch,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
