// Package matrix repeats the analysis pipeline across extras combinations and
// merges the per-combination results.
package matrix

import (
	"context"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/engine/analysis"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"depwise/internal/shared/observability"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// All requests the base case plus every extras group on its own.
const All = "*"

const BaseName = "base"

// Combination is one set of active extras groups.
type Combination struct {
	Name   string
	Groups []string
}

func Base() Combination {
	return Combination{Name: BaseName}
}

func (c Combination) IsBase() bool { return len(c.Groups) == 0 }

// Active returns the group set consumed by the analysis pipeline.
func (c Combination) Active() map[string]bool {
	if c.IsBase() {
		return nil
	}
	out := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		out[g] = true
	}
	return out
}

func newCombination(groups []string) Combination {
	groups = manifest.NormalizeGroups(groups)
	if len(groups) == 0 {
		return Base()
	}
	sort.Strings(groups)
	return Combination{Name: strings.Join(groups, "+"), Groups: groups}
}

// Expand turns requested combinations into concrete ones. Each request is
// either All or a comma-separated list of extras names; "base" or an empty
// request selects the base case. Unknown extras are a configuration error.
func Expand(requested []string, declared []string) ([]Combination, error) {
	known := make(map[string]bool, len(declared))
	for _, g := range declared {
		known[manifest.Normalize(g)] = true
	}

	if len(requested) == 0 {
		return []Combination{Base()}, nil
	}

	seen := map[string]bool{}
	var out []Combination
	add := func(c Combination) {
		if !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c)
		}
	}

	for _, req := range requested {
		req = strings.TrimSpace(req)
		if req == All {
			add(Base())
			groups := make([]string, 0, len(known))
			for g := range known {
				groups = append(groups, g)
			}
			sort.Strings(groups)
			for _, g := range groups {
				add(newCombination([]string{g}))
			}
			continue
		}

		var groups []string
		for _, part := range strings.Split(req, ",") {
			name := manifest.Normalize(part)
			if name == "" || name == BaseName {
				continue
			}
			if !known[name] {
				return nil, coreerr.Configuration(
					fmt.Sprintf("unknown extras group %q; declared groups: %s", strings.TrimSpace(part), describe(declared)),
					coreerr.CtxCombination, req)
			}
			groups = append(groups, name)
		}
		add(newCombination(groups))
	}

	sortCombinations(out)
	return out, nil
}

func describe(groups []string) string {
	if len(groups) == 0 {
		return "(none)"
	}
	return strings.Join(manifest.NormalizeGroups(groups), ", ")
}

// sortCombinations keeps the base case first.
func sortCombinations(combos []Combination) {
	sort.SliceStable(combos, func(i, j int) bool {
		if combos[i].IsBase() != combos[j].IsBase() {
			return combos[i].IsBase()
		}
		return combos[i].Name < combos[j].Name
	})
}

// Result is the union of every combination's findings.
type Result struct {
	Combinations []string
	Findings     []analysis.Finding
	Unfiltered   []analysis.Finding
	Notes        []analysis.Note
	// PerCombination keeps each pipeline result, in combination order.
	PerCombination []*analysis.Result
}

// Evaluate runs the pipeline once per combination and merges the results.
// Facts are shared read-only by every run.
func Evaluate(ctx context.Context, facts analysis.Facts, combos []Combination, opts analysis.Options) (*Result, error) {
	if len(combos) == 0 {
		combos = []Combination{Base()}
	}
	ctx, span := observability.Tracer.Start(ctx, "matrix.Evaluate",
		trace.WithAttributes(attribute.Int("combinations", len(combos))))
	defer span.End()

	results := make([]*analysis.Result, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	for i, combo := range combos {
		g.Go(func() error {
			runOpts := opts
			runOpts.Groups = combo.Active()
			runOpts.Combination = combo.Name
			res, err := analysis.Run(gctx, facts, runOpts)
			if err != nil {
				if coreerr.CodeOf(err) == "" {
					return err
				}
				return coreerr.AddContext(err, coreerr.CtxCombination, combo.Name)
			}
			observability.CombinationsEvaluated.Inc()
			slog.Debug("combination evaluated", "combination", combo.Name, "findings", len(res.Findings))
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Result{PerCombination: results}
	for _, c := range combos {
		out.Combinations = append(out.Combinations, c.Name)
	}
	out.Findings = Merge(results, func(r *analysis.Result) []analysis.Finding { return r.Findings })
	out.Unfiltered = Merge(results, func(r *analysis.Result) []analysis.Finding { return r.Unfiltered })
	out.Notes = mergeNotes(results)
	span.SetAttributes(attribute.Int("findings", len(out.Findings)))
	return out, nil
}

type findingKey struct {
	kind    analysis.FindingKind
	subject string
}

// Merge unions findings across results. Findings sharing kind and subject
// collapse into one tagged with every combination that produced them; their
// imports and declarations are unioned by location.
func Merge(results []*analysis.Result, pick func(*analysis.Result) []analysis.Finding) []analysis.Finding {
	index := map[findingKey]int{}
	var out []analysis.Finding
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, f := range pick(res) {
			key := findingKey{f.Kind, f.Subject}
			if i, ok := index[key]; ok {
				out[i].Combinations = appendUnique(out[i].Combinations, f.Combinations...)
				out[i].Imports = mergeImports(out[i].Imports, f.Imports)
				out[i].Declarations = mergeDeclarations(out[i].Declarations, f.Declarations)
				continue
			}
			f.Combinations = append([]string(nil), f.Combinations...)
			f.Imports = mergeImports(nil, f.Imports)
			f.Declarations = mergeDeclarations(nil, f.Declarations)
			index[key] = len(out)
			out = append(out, f)
		}
	}
	analysis.SortFindings(out)
	return out
}

func mergeImports(dst, src []parser.ImportRecord) []parser.ImportRecord {
	seen := make(map[parser.Location]bool, len(dst))
	for _, rec := range dst {
		seen[rec.Location] = true
	}
	for _, rec := range src {
		if !seen[rec.Location] {
			seen[rec.Location] = true
			dst = append(dst, rec)
		}
	}
	return dst
}

func mergeDeclarations(dst, src []manifest.Dependency) []manifest.Dependency {
	seen := make(map[manifest.Source]bool, len(dst))
	for _, d := range dst {
		seen[d.Origin] = true
	}
	for _, d := range src {
		if !seen[d.Origin] {
			seen[d.Origin] = true
			dst = append(dst, d)
		}
	}
	return dst
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func mergeNotes(results []*analysis.Result) []analysis.Note {
	seen := map[analysis.Note]bool{}
	var out []analysis.Note
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, n := range res.Notes {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	analysis.SortNotes(out)
	return out
}
