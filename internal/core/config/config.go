package config

import (
	"time"
)

const (
	FileName          = "depwise.toml"
	HiddenFileName    = ".depwise.toml"
	PyProjectFileName = "pyproject.toml"
)

type Config struct {
	Version       int           `toml:"version"`
	Project       Project       `toml:"project"`
	Manifests     []Manifest    `toml:"manifests"`
	Ignore        Ignore        `toml:"ignore"`
	Extras        Extras        `toml:"extras"`
	Environment   Environment   `toml:"environment"`
	Analysis      Analysis      `toml:"analysis"`
	Exclude       Exclude       `toml:"exclude"`
	Output        Output        `toml:"output"`
	History       History       `toml:"history"`
	Watch         Watch         `toml:"watch"`
	Observability Observability `toml:"observability"`

	// Source is the file the configuration was read from; empty for defaults.
	Source string `toml:"-"`
}

type Project struct {
	Name        string   `toml:"name"`
	SourceRoots []string `toml:"source_roots"`
}

// Manifest names one manifest explicitly. Group puts every requirement of
// the file in that extras group.
type Manifest struct {
	Path  string `toml:"path"`
	Type  string `toml:"type"`
	Group string `toml:"group"`
}

type Ignore struct {
	Names   []string `toml:"names"`
	Imports []string `toml:"imports"` // regexes over the full dotted module
	Paths   []string `toml:"paths"`   // regexes over slash-separated file paths
}

type Extras struct {
	Combinations []string `toml:"combinations"`
	All          bool     `toml:"all"`
}

type Environment struct {
	Validate     bool     `toml:"validate"`
	SitePackages []string `toml:"site_packages"`
}

type Analysis struct {
	Workers                    int           `toml:"workers"`
	FileTimeout                time.Duration `toml:"file_timeout"`
	OnDynamicManifest          string        `toml:"on_dynamic_manifest"`
	AllowDuplicateDeclarations bool          `toml:"allow_duplicate_declarations"`
	FailOn                     []string      `toml:"fail_on"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Output struct {
	Format string `toml:"format"`
	Path   string `toml:"path"`
}

type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Keep    int    `toml:"keep"`
}

type Watch struct {
	Debounce    time.Duration `toml:"debounce"`
	MinInterval time.Duration `toml:"min_interval"`
}

type Observability struct {
	EnableTracing bool   `toml:"enable_tracing"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	MetricsFile   string `toml:"metrics_file"`
}

const (
	DynamicWarn  = "warn"
	DynamicError = "error"
)

var (
	OutputFormats = []string{"text", "json", "sarif", "markdown"}
	FindingKinds  = []string{"missing", "optional-candidate", "unused"}
)

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	normalize(cfg)
	return cfg
}

// ExtrasRequests flattens [extras] into matrix requests.
func (c *Config) ExtrasRequests() []string {
	out := append([]string(nil), c.Extras.Combinations...)
	if c.Extras.All {
		out = append(out, "*")
	}
	return out
}

// FailsOn reports whether findings of kind make a run fail.
func (c *Config) FailsOn(kind string) bool {
	for _, k := range c.Analysis.FailOn {
		if k == kind {
			return true
		}
	}
	return false
}
