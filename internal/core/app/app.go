package app

import (
	"context"
	"depwise/internal/core/config"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/core/ports"
	"depwise/internal/engine/analysis"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/matrix"
	"depwise/internal/engine/parser"
	"depwise/internal/engine/resolver"
	"depwise/internal/shared/observability"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// App runs checks for one configuration.
type App struct {
	Config *config.Config

	newParser func(projectName string) ports.SourceParser
	manifests ports.ManifestReader
	table     *resolver.Table
	oracle    ports.EnvironmentOracle
	history   ports.HistoryStore

	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob
}

type Option func(*App)

// WithParserFactory replaces the tree-sitter parser. The factory receives
// the project name so re-exports of the project's own package can be tagged.
func WithParserFactory(fn func(projectName string) ports.SourceParser) Option {
	return func(a *App) { a.newParser = fn }
}

func WithManifestReader(r ports.ManifestReader) Option {
	return func(a *App) { a.manifests = r }
}

func WithTable(t *resolver.Table) Option {
	return func(a *App) { a.table = t }
}

// WithOracle fixes the environment used when validation is requested,
// instead of locating site-packages for each run.
func WithOracle(o ports.EnvironmentOracle) Option {
	return func(a *App) { a.oracle = o }
}

func WithHistory(store ports.HistoryStore) Option {
	return func(a *App) { a.history = store }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{
		newParser: func(projectName string) ports.SourceParser { return parser.New(projectName) },
		manifests: manifest.NewRegistry(),
		table:     resolver.DefaultTable(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.SetConfig(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// SetConfig swaps the configuration used by subsequent checks.
func (a *App) SetConfig(cfg *config.Config) error {
	dirs, err := compileGlobs(cfg.Exclude.Dirs, "exclude dir")
	if err != nil {
		return coreerr.Wrap(err, coreerr.CodeConfiguration, "exclude.dirs")
	}
	files, err := compileGlobs(cfg.Exclude.Files, "exclude file")
	if err != nil {
		return coreerr.Wrap(err, coreerr.CodeConfiguration, "exclude.files")
	}
	a.Config = cfg
	a.excludeDirs = dirs
	a.excludeFiles = files
	return nil
}

func (a *App) workers() int {
	if a.Config.Analysis.Workers > 0 {
		return a.Config.Analysis.Workers
	}
	return runtime.NumCPU()
}

// configBase is the directory configured relative paths are taken from.
func (a *App) configBase(projectRoot string) string {
	if a.Config.Source != "" {
		if abs, err := filepath.Abs(a.Config.Source); err == nil {
			return filepath.Dir(abs)
		}
	}
	return projectRoot
}

func (a *App) sourceRoots(req Request) []string {
	if len(req.Roots) > 0 {
		return req.Roots
	}
	if len(a.Config.Project.SourceRoots) > 0 {
		base := a.configBase(req.ProjectRoot)
		roots := make([]string, 0, len(a.Config.Project.SourceRoots))
		for _, r := range a.Config.Project.SourceRoots {
			roots = append(roots, config.ResolveRelative(base, r))
		}
		return roots
	}
	return []string{req.ProjectRoot}
}

func (a *App) extrasRequests(req Request) []string {
	if len(req.Extras) > 0 {
		return req.Extras
	}
	return a.Config.ExtrasRequests()
}

func (a *App) environment(req Request) ports.EnvironmentOracle {
	if !req.ValidateEnvironment && !a.Config.Environment.Validate {
		return nil
	}
	if a.oracle != nil {
		return a.oracle
	}
	site := req.SitePackages
	if len(site) == 0 {
		base := a.configBase(req.ProjectRoot)
		for _, s := range a.Config.Environment.SitePackages {
			site = append(site, config.ResolveRelative(base, s))
		}
	}
	return resolver.NewEnvironment(resolver.LocateSitePackages(req.ProjectRoot, site, os.Getenv)...)
}

// Check analyzes the sources and manifests described by req. Configuration
// problems are returned as errors; per-file and per-manifest problems are
// part of the report, which is incomplete when nothing usable remained.
func (a *App) Check(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer.Start(ctx, "app.Check",
		trace.WithAttributes(attribute.String("project_root", req.ProjectRoot)))
	defer span.End()

	report := newReport(req.ProjectRoot)
	defer func() { report.Duration = time.Since(start) }()

	ignore, err := analysis.CompileIgnore(
		append(append([]string(nil), a.Config.Ignore.Names...), req.IgnoreNames...),
		append(append([]string(nil), a.Config.Ignore.Imports...), req.IgnoreImports...),
		append(append([]string(nil), a.Config.Ignore.Paths...), req.IgnorePaths...),
	)
	if err != nil {
		return nil, err
	}

	refs := a.manifestRefs(req)
	if len(refs) == 0 {
		return nil, coreerr.Configuration("no dependency manifest found; pass one explicitly or add [[manifests]] to the configuration", coreerr.CtxPath, req.ProjectRoot)
	}
	norm, err := a.normalizeAll(ctx, refs)
	if err != nil {
		return nil, err
	}
	report.ManifestErrors = norm.errors
	for _, ref := range refs {
		report.Manifests = append(report.Manifests, displayPath(req.ProjectRoot, ref.Path))
	}
	if len(norm.sets) == 0 {
		return report.incomplete("no manifest could be read"), nil
	}
	deps, err := manifest.Merge(a.Config.Analysis.AllowDuplicateDeclarations, norm.sets...)
	if err != nil {
		return nil, err
	}

	projectName := firstNonEmpty(req.ProjectName, a.Config.Project.Name, deps.ProjectName)
	report.ProjectName = projectName

	roots := a.sourceRoots(req)
	paths, err := a.ScanSources(roots)
	if err != nil {
		return nil, coreerr.AddContext(coreerr.Wrap(err, coreerr.CodeConfiguration, "scan sources"), coreerr.CtxOperation, "scan")
	}
	extracted, err := a.extractAll(ctx, a.newParser(projectName), req.ProjectRoot, paths)
	if err != nil {
		return nil, err
	}
	report.FileErrors = extracted.errors
	report.FileCount = len(extracted.files)
	if len(extracted.files) == 0 {
		return report.incomplete(fmt.Sprintf("no usable source files under %d root(s)", len(roots))), nil
	}

	combos, err := matrix.Expand(a.extrasRequests(req), deps.Groups())
	if err != nil {
		return nil, err
	}

	opts := analysis.Options{
		Resolver: resolver.New(a.table),
		Ignore:   ignore,
	}
	if env := a.environment(req); env != nil {
		if envErr := env.Err(); envErr != nil {
			slog.Warn("environment validation disabled", "error", envErr)
			report.Notes = append(report.Notes, analysis.Note{
				Kind:    analysis.NoteManifest,
				Subject: "environment",
				Message: "installed environment could not be read: " + envErr.Error(),
			})
		} else {
			opts.Resolver = resolver.New(a.table, resolver.WithOracle(env))
			opts.Oracle = env
			report.Environment = env.Dirs()
		}
	}

	facts := analysis.Facts{
		Files:        extracted.files,
		Dependencies: deps,
		LocalModules: LocalModules(roots, paths),
		ProjectName:  projectName,
	}
	result, err := matrix.Evaluate(ctx, facts, combos, opts)
	if err != nil {
		return nil, err
	}

	report.Combinations = result.Combinations
	report.Notes = append(report.Notes, result.Notes...)
	analysis.SortNotes(report.Notes)
	report.Ignored = len(result.Unfiltered) - len(result.Findings)
	report.setFindings(result.Findings)
	for _, k := range analysis.Kinds() {
		observability.Findings.WithLabelValues(string(k)).Set(float64(report.Count(k)))
	}
	span.SetAttributes(attribute.Int("findings", len(report.Findings)))

	report.Duration = time.Since(start)
	a.recordRun(ctx, req.ProjectRoot, report)
	slog.Debug("check finished", "status", report.Status, "files", report.FileCount, "findings", len(report.Findings))
	return report, nil
}

// normalizeRequest makes the project root absolute, defaulting to the
// working directory.
func normalizeRequest(req Request) (Request, error) {
	if req.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return req, err
		}
		req.ProjectRoot = wd
	}
	root, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return req, err
	}
	req.ProjectRoot = filepath.Clean(root)
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
