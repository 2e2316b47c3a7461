package app

import (
	"context"
	"depwise/internal/core/config"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/core/ports"
	"depwise/internal/data/history"
	"depwise/internal/engine/analysis"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

const sampleMain = `import os
import requests
import yaml
from app import util

try:
    import ujson
except ImportError:
    ujson = None
`

func sampleProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"requirements.txt": "requests>=2\nrich\n",
		"app/__init__.py":  "",
		"app/main.py":      sampleMain,
		"app/util.py":      "import json\n",
	})
	return dir
}

func newApp(t *testing.T, mutate func(*config.Config), opts ...Option) *App {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	return a
}

func byKind(r *Report) map[string]analysis.FindingKind {
	out := make(map[string]analysis.FindingKind)
	for _, f := range r.Findings {
		out[f.Subject] = f.Kind
	}
	return out
}

func TestCheck(t *testing.T) {
	dir := sampleProject(t)
	a := newApp(t, nil)

	report, err := a.Check(context.Background(), Request{ProjectRoot: dir})
	require.NoError(t, err)

	assert.Equal(t, StatusProblems, report.Status)
	assert.Equal(t, 3, report.FileCount)
	assert.Equal(t, []string{"requirements.txt"}, report.Manifests)
	assert.Equal(t, []string{"base"}, report.Combinations)
	assert.Equal(t, map[string]analysis.FindingKind{
		"yaml":  analysis.KindMissing,
		"ujson": analysis.KindOptional,
		"rich":  analysis.KindUnused,
	}, byKind(report))
	assert.True(t, report.HasMissing())
	assert.Equal(t, 1, report.Count(analysis.KindUnused))
	assert.True(t, report.Fails([]string{"missing"}))
	assert.False(t, report.Fails([]string{"nothing"}))

	for _, f := range report.Findings {
		if f.Subject == "yaml" {
			assert.Equal(t, "app/main.py", f.File())
			assert.Equal(t, 3, f.Line())
		}
	}
}

func TestCheckIgnoreRules(t *testing.T) {
	dir := sampleProject(t)
	a := newApp(t, func(c *config.Config) { c.Ignore.Names = []string{"Rich"} })

	report, err := a.Check(context.Background(), Request{
		ProjectRoot:   dir,
		IgnoreImports: []string{"ujson"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]analysis.FindingKind{"yaml": analysis.KindMissing}, byKind(report))
	assert.Equal(t, 2, report.Ignored)

	_, err = a.Check(context.Background(), Request{ProjectRoot: dir, IgnorePaths: []string{"("}})
	assert.True(t, coreerr.IsCode(err, coreerr.CodeConfiguration))
}

func TestCheckExtras(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"pyproject.toml": `[project]
name = "plotter"
dependencies = ["numpy"]

[project.optional-dependencies]
viz = ["matplotlib"]
`,
		"plotter/__init__.py": "import numpy\nimport matplotlib.pyplot as plt\n",
	})
	a := newApp(t, nil)

	report, err := a.Check(context.Background(), Request{ProjectRoot: dir, Extras: []string{"*"}})
	require.NoError(t, err)
	assert.Equal(t, "plotter", report.ProjectName)
	assert.Equal(t, []string{"base", "viz"}, report.Combinations)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, analysis.KindMissing, report.Findings[0].Kind)
	assert.Equal(t, "matplotlib", report.Findings[0].Subject)
	assert.Equal(t, []string{"base"}, report.Findings[0].Combinations)

	_, err = a.Check(context.Background(), Request{ProjectRoot: dir, Extras: []string{"gui"}})
	assert.True(t, coreerr.IsCode(err, coreerr.CodeConfiguration))
}

func TestCheckIncomplete(t *testing.T) {
	t.Run("NoSources", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"requirements.txt": "requests\n"})
		report, err := newApp(t, nil).Check(context.Background(), Request{ProjectRoot: dir})
		require.NoError(t, err)
		assert.Equal(t, StatusIncomplete, report.Status)
		assert.Empty(t, report.Findings)
		assert.NotEmpty(t, report.Reason)
	})

	t.Run("AllManifestsFailed", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{
			"requirements.txt": "requests[security\n",
			"main.py":          "import requests\n",
		})
		report, err := newApp(t, nil).Check(context.Background(), Request{ProjectRoot: dir})
		require.NoError(t, err)
		assert.Equal(t, StatusIncomplete, report.Status)
		require.Len(t, report.ManifestErrors, 1)
		assert.Equal(t, "requirements", report.ManifestErrors[0].Kind)
	})

	t.Run("NoManifest", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"main.py": "import requests\n"})
		_, err := newApp(t, nil).Check(context.Background(), Request{ProjectRoot: dir})
		assert.True(t, coreerr.IsCode(err, coreerr.CodeConfiguration))
	})
}

func TestCheckDynamicManifestPolicy(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"setup.py":         "from setuptools import setup\nsetup(name='x', install_requires=read_requirements())\n",
		"requirements.txt": "requests\n",
		"main.py":          "import requests\n",
	})
	refs := []manifest.Ref{
		{Path: filepath.Join(dir, "setup.py"), Kind: manifest.KindSetup},
		{Path: filepath.Join(dir, "requirements.txt")},
	}

	req := Request{ProjectRoot: dir, Roots: []string{filepath.Join(dir, "main.py")}, Manifests: refs}

	report, err := newApp(t, nil).Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusClean, report.Status)
	require.Len(t, report.ManifestErrors, 1)
	assert.True(t, report.ManifestErrors[0].Dynamic)

	strict := newApp(t, func(c *config.Config) { c.Analysis.OnDynamicManifest = config.DynamicError })
	_, err = strict.Check(context.Background(), req)
	assert.True(t, coreerr.IsCode(err, coreerr.CodeDynamicManifest))
}

func TestCheckReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"requirements.txt": "requests\n",
		"good.py":          "import requests\n",
		"broken.py":        "def broken(:\n    pass\n",
	})
	report, err := newApp(t, nil).Check(context.Background(), Request{ProjectRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, StatusClean, report.Status)
	assert.Equal(t, 1, report.FileCount)
	require.Len(t, report.FileErrors, 1)
	assert.Equal(t, "broken.py", report.FileErrors[0].Path)
	assert.Positive(t, report.FileErrors[0].Line)
}

type slowParser struct {
	delay time.Duration
}

func (p slowParser) ParseFile(path string, content []byte) (*parser.FileImports, error) {
	time.Sleep(p.delay)
	return parser.NewFileImports(path), nil
}

func TestCheckFileTimeout(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"requirements.txt": "requests\n",
		"main.py":          "import requests\n",
	})
	a := newApp(t,
		func(c *config.Config) { c.Analysis.FileTimeout = 20 * time.Millisecond },
		WithParserFactory(func(string) ports.SourceParser { return slowParser{delay: time.Second} }),
	)

	report, err := a.Check(context.Background(), Request{ProjectRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, report.Status)
	require.Len(t, report.FileErrors, 1)
	assert.Contains(t, report.FileErrors[0].Message, "did not finish")
}

func TestCheckCancelled(t *testing.T) {
	dir := sampleProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newApp(t, nil).Check(ctx, Request{ProjectRoot: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

type stubOracle struct {
	providers map[string][]string
}

func (s stubOracle) Confirm(pkg string) bool          { return false }
func (s stubOracle) Providers(module string) []string { return s.providers[module] }
func (s stubOracle) Dirs() []string                   { return []string{"/env/site-packages"} }
func (s stubOracle) Err() error                       { return nil }

func TestCheckEnvironmentValidation(t *testing.T) {
	dir := sampleProject(t)
	a := newApp(t, nil, WithOracle(stubOracle{providers: map[string][]string{"yaml": {"PyYAML"}}}))

	report, err := a.Check(context.Background(), Request{ProjectRoot: dir, ValidateEnvironment: true})
	require.NoError(t, err)
	assert.NotContains(t, byKind(report), "yaml")
	assert.Equal(t, []string{"/env/site-packages"}, report.Environment)

	var external bool
	for _, n := range report.Notes {
		if n.Kind == analysis.NoteSatisfiedExternally && n.Subject == "yaml" {
			external = true
		}
	}
	assert.True(t, external, "expected a satisfied-externally note, got %+v", report.Notes)
}

func TestCheckRecordsHistory(t *testing.T) {
	dir := sampleProject(t)
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a := newApp(t, func(c *config.Config) { c.History.Keep = 1 }, WithHistory(store))
	ctx := context.Background()

	first, err := a.Check(ctx, Request{ProjectRoot: dir})
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.Nil(t, first.Delta)

	writeTree(t, dir, map[string]string{"requirements.txt": "requests\nrich\npyyaml\n"})
	second, err := a.Check(ctx, Request{ProjectRoot: dir})
	require.NoError(t, err)
	require.NotNil(t, second.Delta)
	assert.Equal(t, first.RunID, second.Delta.From)
	assert.Empty(t, second.Delta.Added)
	require.Len(t, second.Delta.Resolved, 1)
	assert.Equal(t, "yaml", second.Delta.Resolved[0].Subject)

	runs, err := a.Runs(ctx, dir, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second.RunID, runs[0].ID)

	stored, err := a.LoadRun(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, second.Count(analysis.KindUnused), stored.UnusedCount)
}

func TestScanSources(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"pkg/__init__.py":           "",
		"pkg/mod.py":                "",
		"pkg/types.pyi":             "",
		"pkg/generated_pb2.py":      "",
		"pkg/readme.md":             "",
		".venv/lib/site.py":         "",
		"env/lib/site.py":           "",
		"sandbox/pyvenv.cfg":        "home = /usr/bin\n",
		"sandbox/lib/site.py":       "",
		"build/lib/pkg/__init__.py": "",
		"script.py":                 "",
	})
	a := newApp(t, func(c *config.Config) { c.Exclude.Files = []string{"*_pb2.py"} })

	files, err := a.ScanSources([]string{dir, filepath.Join(dir, "script.py")})
	require.NoError(t, err)
	var rel []string
	for _, f := range files {
		rel = append(rel, displayPath(dir, f))
	}
	assert.Equal(t, []string{"pkg/__init__.py", "pkg/mod.py", "pkg/types.pyi", "script.py"}, rel)

	_, err = a.ScanSources([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestLocalModules(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"src/mylib/__init__.py": "",
		"src/mylib/core.py":     "",
		"tools/run.py":          "",
		"conftest.py":           "",
		"2fast.py":              "",
	})
	a := newApp(t, nil)
	files, err := a.ScanSources([]string{dir})
	require.NoError(t, err)

	got := LocalModules([]string{dir}, files)
	assert.Equal(t, map[string]bool{"mylib": true, "tools": true, "conftest": true}, got)

	pkgRoot := filepath.Join(dir, "src", "mylib")
	got = LocalModules([]string{pkgRoot}, []string{filepath.Join(pkgRoot, "core.py")})
	assert.True(t, got["mylib"])
	assert.True(t, got["core"])
}

func TestWatchRoots(t *testing.T) {
	dir := sampleProject(t)
	a := newApp(t, nil)
	req, err := normalizeRequest(Request{ProjectRoot: dir, Roots: []string{filepath.Join(dir, "app")}})
	require.NoError(t, err)
	assert.Equal(t, []string{req.ProjectRoot}, a.watchRoots(req))
}
