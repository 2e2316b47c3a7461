package matrix

import (
	"context"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/engine/analysis"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(combos []Combination) []string {
	out := make([]string, 0, len(combos))
	for _, c := range combos {
		out = append(out, c.Name)
	}
	return out
}

func TestExpand(t *testing.T) {
	declared := []string{"viz", "Docs", "test"}

	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{name: "Default", requested: nil, want: []string{"base"}},
		{name: "All", requested: []string{"*"}, want: []string{"base", "docs", "test", "viz"}},
		{name: "Explicit", requested: []string{"viz"}, want: []string{"viz"}},
		{name: "Joined", requested: []string{"viz,docs", "docs, viz"}, want: []string{"docs+viz"}},
		{name: "BaseAndOne", requested: []string{"viz", "base"}, want: []string{"base", "viz"}},
		{name: "AllPlusJoined", requested: []string{"test,viz", "*"}, want: []string{"base", "docs", "test", "test+viz", "viz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combos, err := Expand(tt.requested, declared)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(combos))
		})
	}
}

func TestExpandUnknownGroup(t *testing.T) {
	_, err := Expand([]string{"viz,gpu"}, []string{"viz"})
	require.Error(t, err)
	assert.True(t, coreerr.IsCode(err, coreerr.CodeConfiguration))
	assert.Contains(t, err.Error(), "gpu")
}

func TestCombinationActive(t *testing.T) {
	assert.Nil(t, Base().Active())
	c := newCombination([]string{"Viz", "docs"})
	assert.Equal(t, "docs+viz", c.Name)
	assert.Equal(t, map[string]bool{"docs": true, "viz": true}, c.Active())
}

func evaluationFacts() analysis.Facts {
	set := manifest.NewDependencySet("pyproject.toml")
	set.Add(manifest.Dependency{Name: "requests", Origin: manifest.Source{File: "pyproject.toml", Line: 5}})
	set.Add(manifest.Dependency{Name: "matplotlib", Groups: []string{"viz"}, Origin: manifest.Source{File: "pyproject.toml", Line: 9}})
	set.Add(manifest.Dependency{Name: "sphinx", Groups: []string{"docs"}, Origin: manifest.Source{File: "pyproject.toml", Line: 11}})

	return analysis.Facts{
		Files: []*parser.FileImports{
			parser.NewFileImports("app.py",
				parser.ImportRecord{Module: "requests", Context: parser.ContextUnconditional, Location: parser.Location{Line: 1}},
				parser.ImportRecord{Module: "matplotlib.pyplot", Context: parser.ContextUnconditional, Location: parser.Location{Line: 2}},
				parser.ImportRecord{Module: "hello", Context: parser.ContextUnconditional, Location: parser.Location{Line: 3}},
			),
		},
		Dependencies: set,
	}
}

func TestEvaluate(t *testing.T) {
	facts := evaluationFacts()
	combos, err := Expand([]string{"*"}, facts.Dependencies.Groups())
	require.NoError(t, err)
	require.Equal(t, []string{"base", "docs", "viz"}, names(combos))

	res, err := Evaluate(context.Background(), facts, combos, analysis.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "docs", "viz"}, res.Combinations)
	require.Len(t, res.PerCombination, 3)

	got := map[string][]string{}
	for _, f := range res.Findings {
		key := string(f.Kind) + ":" + f.Subject
		got[key] = f.Combinations
	}
	assert.Equal(t, map[string][]string{
		// hello fails everywhere and is reported once.
		"missing:hello": {"base", "docs", "viz"},
		// matplotlib is only declared under viz.
		"missing:matplotlib": {"base", "docs"},
		"unused:sphinx":      {"docs"},
	}, got)

	require.Len(t, res.Findings, 3)
	assert.Equal(t, "hello", res.Findings[0].Subject)
	assert.Equal(t, "matplotlib", res.Findings[1].Subject)
	assert.Equal(t, analysis.KindUnused, res.Findings[2].Kind)
}

func TestEvaluateDefaultsToBase(t *testing.T) {
	res, err := Evaluate(context.Background(), evaluationFacts(), nil, analysis.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, res.Combinations)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, "hello", res.Findings[0].Subject)
	assert.Equal(t, "matplotlib", res.Findings[1].Subject)
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, evaluationFacts(), []Combination{Base()}, analysis.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeNotesDeduplicates(t *testing.T) {
	note := analysis.Note{Kind: analysis.NoteCondaOnly, Subject: "cudatoolkit", Message: "conda only"}
	results := []*analysis.Result{
		{Combination: "base", Notes: []analysis.Note{note}},
		{Combination: "viz", Notes: []analysis.Note{note}},
		nil,
	}
	assert.Equal(t, []analysis.Note{note}, mergeNotes(results))
}

func TestMergeUnionsEvidence(t *testing.T) {
	base := manifest.Dependency{Name: "rich", Normalized: "rich", Origin: manifest.Source{File: "requirements.txt", Line: 2}}
	viz := manifest.Dependency{Name: "rich", Normalized: "rich", Groups: []string{"viz"}, Origin: manifest.Source{File: "pyproject.toml", Line: 9}}
	first := parser.ImportRecord{Module: "yaml", Root: "yaml", Location: parser.Location{File: "a.py", Line: 1, Column: 1}}
	second := parser.ImportRecord{Module: "yaml", Root: "yaml", Location: parser.Location{File: "b.py", Line: 4, Column: 1}}

	results := []*analysis.Result{
		{Combination: "base", Findings: []analysis.Finding{
			{Kind: analysis.KindUnused, Subject: "rich", Declarations: []manifest.Dependency{base}, Combinations: []string{"base"}},
			{Kind: analysis.KindMissing, Subject: "yaml", Imports: []parser.ImportRecord{first}, Combinations: []string{"base"}},
		}},
		{Combination: "viz", Findings: []analysis.Finding{
			{Kind: analysis.KindUnused, Subject: "rich", Declarations: []manifest.Dependency{base, viz}, Combinations: []string{"viz"}},
			{Kind: analysis.KindMissing, Subject: "yaml", Imports: []parser.ImportRecord{first, second}, Combinations: []string{"viz"}},
		}},
	}

	merged := Merge(results, func(r *analysis.Result) []analysis.Finding { return r.Findings })
	require.Len(t, merged, 2)
	byKind := map[analysis.FindingKind]analysis.Finding{}
	for _, f := range merged {
		byKind[f.Kind] = f
	}

	unused := byKind[analysis.KindUnused]
	assert.Equal(t, []string{"base", "viz"}, unused.Combinations)
	assert.Equal(t, []manifest.Dependency{base, viz}, unused.Declarations)

	missing := byKind[analysis.KindMissing]
	assert.Equal(t, []parser.ImportRecord{first, second}, missing.Imports)

	// The inputs are left untouched.
	assert.Len(t, results[0].Findings[0].Declarations, 1)
}
