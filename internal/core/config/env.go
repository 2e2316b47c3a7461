package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads dir/.env into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	slog.Debug("loaded environment file", "path", path)
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: DEPWISE_[SECTION]_[KEY] (e.g., DEPWISE_ANALYSIS_WORKERS).
// List values are comma-separated.
func ApplyEnvOverrides(cfg *Config) {
	// Project
	setEnvString(&cfg.Project.Name, "DEPWISE_PROJECT_NAME")
	setEnvList(&cfg.Project.SourceRoots, "DEPWISE_PROJECT_SOURCE_ROOTS")

	// Ignore
	setEnvList(&cfg.Ignore.Names, "DEPWISE_IGNORE_NAMES")
	setEnvList(&cfg.Ignore.Imports, "DEPWISE_IGNORE_IMPORTS")
	setEnvList(&cfg.Ignore.Paths, "DEPWISE_IGNORE_PATHS")

	// Extras
	setEnvBool(&cfg.Extras.All, "DEPWISE_EXTRAS_ALL")

	// Environment
	setEnvBool(&cfg.Environment.Validate, "DEPWISE_ENVIRONMENT_VALIDATE")
	setEnvList(&cfg.Environment.SitePackages, "DEPWISE_ENVIRONMENT_SITE_PACKAGES")

	// Analysis
	setEnvInt(&cfg.Analysis.Workers, "DEPWISE_ANALYSIS_WORKERS")
	setEnvDuration(&cfg.Analysis.FileTimeout, "DEPWISE_ANALYSIS_FILE_TIMEOUT")
	setEnvString(&cfg.Analysis.OnDynamicManifest, "DEPWISE_ANALYSIS_ON_DYNAMIC_MANIFEST")
	setEnvBool(&cfg.Analysis.AllowDuplicateDeclarations, "DEPWISE_ANALYSIS_ALLOW_DUPLICATE_DECLARATIONS")
	setEnvList(&cfg.Analysis.FailOn, "DEPWISE_ANALYSIS_FAIL_ON")

	// Output
	setEnvString(&cfg.Output.Format, "DEPWISE_OUTPUT_FORMAT")
	setEnvString(&cfg.Output.Path, "DEPWISE_OUTPUT_PATH")

	// History
	setEnvBool(&cfg.History.Enabled, "DEPWISE_HISTORY_ENABLED")
	setEnvString(&cfg.History.Path, "DEPWISE_HISTORY_PATH")
	setEnvInt(&cfg.History.Keep, "DEPWISE_HISTORY_KEEP")

	// Watch
	setEnvDuration(&cfg.Watch.Debounce, "DEPWISE_WATCH_DEBOUNCE")
	setEnvDuration(&cfg.Watch.MinInterval, "DEPWISE_WATCH_MIN_INTERVAL")

	// Observability
	setEnvBool(&cfg.Observability.EnableTracing, "DEPWISE_OBSERVABILITY_ENABLE_TRACING")
	setEnvString(&cfg.Observability.OTLPEndpoint, "DEPWISE_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvString(&cfg.Observability.MetricsFile, "DEPWISE_OBSERVABILITY_METRICS_FILE")

	normalize(cfg)
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = strings.Split(val, ",")
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
