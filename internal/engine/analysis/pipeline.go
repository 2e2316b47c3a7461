package analysis

import (
	"context"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"depwise/internal/engine/resolver"
	"depwise/internal/shared/observability"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type rootStatus int

const (
	statusMissing rootStatus = iota
	statusSatisfied
	statusAmbiguous
	statusExternal
)

// rootState accumulates everything known about one imported root module.
type rootState struct {
	root        string
	records     []parser.ImportRecord
	candidates  []resolver.Candidate
	diagnostics []string
	status      rootStatus
	matched     []string
}

func (r *rootState) guarded() bool {
	for _, rec := range r.records {
		if !rec.Context.Guarded() {
			return false
		}
	}
	return len(r.records) > 0
}

func (r *rootState) bestTier() resolver.Tier {
	if len(r.candidates) == 0 {
		return resolver.TierNone
	}
	return r.candidates[0].Tier
}

// Pipeline classifies one extras combination. Stages must run in order:
// FastPass, optionally DeepPass, then Classify.
type Pipeline struct {
	facts Facts
	opts  Options
	stage Stage

	active  map[string]bool
	roots   map[string]*rootState
	order   []string
	matched map[string]bool
	notes   []Note
}

func NewPipeline(facts Facts, opts Options) *Pipeline {
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(nil)
	}
	deps := facts.Dependencies
	if deps == nil {
		deps = manifest.NewDependencySet("")
		facts.Dependencies = deps
	}
	return &Pipeline{
		facts:   facts,
		opts:    opts,
		stage:   StageExtracted,
		active:  deps.ActiveNames(opts.Groups),
		roots:   make(map[string]*rootState),
		matched: make(map[string]bool),
	}
}

func (p *Pipeline) Stage() Stage { return p.stage }

func (p *Pipeline) advance(from []Stage, to Stage) error {
	for _, s := range from {
		if p.stage == s {
			p.stage = to
			return nil
		}
	}
	return coreerr.Newf(coreerr.CodeInternal, "analysis: illegal transition from %s to %s", p.stage, to)
}

// Run executes every stage. The deep pass runs when opts.Oracle is set.
func Run(ctx context.Context, facts Facts, opts Options) (*Result, error) {
	ctx, span := observability.Tracer.Start(ctx, "analysis.Run",
		trace.WithAttributes(attribute.String("combination", opts.Combination)))
	defer span.End()

	p := NewPipeline(facts, opts)
	if err := timed("fast_pass", p.FastPass); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Oracle != nil {
		if err := timed("deep_pass", func() error { return p.DeepPass(opts.Oracle) }); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	var res *Result
	err := timed("classify", func() error {
		var err error
		res, err = p.Classify()
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("findings", len(res.Findings)))
	return res, nil
}

func timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.AnalysisDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

// FastPass groups imports by root and matches them against the active
// declarations using the static resolver.
func (p *Pipeline) FastPass() error {
	if err := p.advance([]Stage{StageExtracted}, StageFastPassComplete); err != nil {
		return err
	}
	ownPackage := parser.ImportName(p.facts.ProjectName)

	for _, file := range p.facts.Files {
		if file == nil {
			continue
		}
		for _, u := range file.Unresolvable {
			p.notes = append(p.notes, Note{
				Kind:    NoteUnresolvable,
				Subject: u.Expression,
				File:    u.Location.File,
				Line:    u.Location.Line,
				Message: "dynamic import target could not be statically determined",
			})
		}
		for rec := range file.Records() {
			if p.skip(rec, ownPackage) {
				continue
			}
			state, ok := p.roots[rec.Root]
			if !ok {
				state = &rootState{root: rec.Root}
				p.roots[rec.Root] = state
				p.order = append(p.order, rec.Root)
			}
			state.records = append(state.records, rec)
		}
	}
	sort.Strings(p.order)

	for _, root := range p.order {
		state := p.roots[root]
		p.resolveRoot(state)
		switch {
		case len(state.candidates) == 0:
			state.status = statusMissing
		case len(state.matched) > 0:
			state.status = statusSatisfied
		default:
			state.status = statusAmbiguous
		}
	}
	return nil
}

func (p *Pipeline) skip(rec parser.ImportRecord, ownPackage string) bool {
	switch {
	case rec.Root == "":
		return true
	case rec.Context == parser.ContextReExport:
		return true
	case resolver.IsStdlib(rec.Root):
		return true
	case p.facts.LocalModules[rec.Root]:
		return true
	case ownPackage != "" && rec.Root == ownPackage:
		return true
	}
	return false
}

// resolveRoot unions the candidates of every distinct module path imported
// under the root, keeping the strongest tier per package.
func (p *Pipeline) resolveRoot(state *rootState) {
	best := map[string]resolver.Tier{}
	seenModule := map[string]bool{}
	seenDiag := map[string]bool{}
	for _, rec := range state.records {
		if seenModule[rec.Module] {
			continue
		}
		seenModule[rec.Module] = true
		res := p.opts.Resolver.Resolve(rec.Module)
		for _, c := range res.Candidates {
			if c.Tier > best[c.Package] {
				best[c.Package] = c.Tier
			}
		}
		for _, d := range res.Diagnostics {
			if !seenDiag[d] {
				seenDiag[d] = true
				state.diagnostics = append(state.diagnostics, d)
			}
		}
	}
	for pkg, tier := range best {
		state.candidates = append(state.candidates, resolver.Candidate{Package: pkg, Tier: tier})
		if p.active[pkg] {
			state.matched = append(state.matched, pkg)
		}
	}
	sort.Slice(state.candidates, func(i, j int) bool {
		a, b := state.candidates[i], state.candidates[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		return a.Package < b.Package
	})
	sort.Strings(state.matched)
	for _, pkg := range state.matched {
		p.matched[pkg] = true
	}
}

// DeepPass re-checks ambiguous roots against the installed environment.
func (p *Pipeline) DeepPass(oracle resolver.Oracle) error {
	if err := p.advance([]Stage{StageFastPassComplete}, StageDeepPassComplete); err != nil {
		return err
	}
	if oracle == nil {
		return coreerr.New(coreerr.CodeInternal, "analysis: deep pass requires an environment oracle")
	}
	for _, root := range p.order {
		state := p.roots[root]
		if state.status != statusAmbiguous {
			continue
		}
		if provider, ok := confirmed(oracle, state); ok {
			state.status = statusExternal
			loc := state.records[0].Location
			p.notes = append(p.notes, Note{
				Kind:    NoteSatisfiedExternally,
				Subject: root,
				File:    loc.File,
				Line:    loc.Line,
				Message: fmt.Sprintf("not declared, but %s is installed in the environment", provider),
			})
			continue
		}
		state.status = statusMissing
	}
	return nil
}

func confirmed(oracle resolver.Oracle, state *rootState) (string, bool) {
	if providers := oracle.Providers(state.root); len(providers) > 0 {
		return manifest.Normalize(providers[0]), true
	}
	for _, c := range state.candidates {
		if oracle.Confirm(c.Package) {
			return c.Package, true
		}
	}
	return "", false
}

// Classify produces findings and notes. Ambiguous roots that no deep pass
// confirmed are finalized as missing with their best tier.
func (p *Pipeline) Classify() (*Result, error) {
	if err := p.advance([]Stage{StageFastPassComplete, StageDeepPassComplete}, StageClassified); err != nil {
		return nil, err
	}

	var findings []Finding
	for _, root := range p.order {
		state := p.roots[root]
		for _, d := range state.diagnostics {
			p.notes = append(p.notes, Note{Kind: NoteResolverConflict, Subject: root, Message: d})
		}
		if state.status == statusSatisfied || state.status == statusExternal {
			continue
		}
		f := Finding{
			Kind:       KindMissing,
			Subject:    root,
			Imports:    state.records,
			Candidates: state.candidates,
			Tier:       state.bestTier(),
			Reason:     missingReason(state),
		}
		if state.guarded() {
			f.Kind = KindOptional
			f.Reason = "every import is guarded (try/except or TYPE_CHECKING); " + f.Reason
			f.Declarations = p.inactiveDeclarations(state)
		}
		findings = append(findings, f)
	}

	findings = append(findings, p.unused()...)
	p.manifestNotes()

	for i := range findings {
		if p.opts.Combination != "" {
			findings[i].Combinations = []string{p.opts.Combination}
		}
	}
	SortFindings(findings)
	SortNotes(p.notes)

	filtered := p.opts.Ignore.Apply(findings)
	if dropped := len(findings) - len(filtered); dropped > 0 {
		slog.Debug("ignore rules applied", "combination", p.opts.Combination, "dropped", dropped)
	}
	return &Result{
		Combination: p.opts.Combination,
		Findings:    filtered,
		Unfiltered:  findings,
		Notes:       p.notes,
		Stage:       p.stage,
	}, nil
}

func missingReason(state *rootState) string {
	best, ok := firstCandidate(state)
	if !ok {
		return "no known distribution provides this module"
	}
	return fmt.Sprintf("likely provided by %s (%s), which is not declared", best.Package, best.Tier)
}

func firstCandidate(state *rootState) (resolver.Candidate, bool) {
	if len(state.candidates) == 0 {
		return resolver.Candidate{}, false
	}
	return state.candidates[0], true
}

// inactiveDeclarations lists declarations of the root's candidates that
// exist only under extras not active in this run.
func (p *Pipeline) inactiveDeclarations(state *rootState) []manifest.Dependency {
	var out []manifest.Dependency
	for _, c := range state.candidates {
		entry, ok := p.facts.Dependencies.Lookup(c.Package)
		if !ok {
			continue
		}
		out = append(out, entry.Declarations...)
	}
	return out
}

// unused reconciles active declarations against matched imports.
func (p *Pipeline) unused() []Finding {
	project := manifest.Normalize(p.facts.ProjectName)
	imported := map[string]bool{}
	for _, state := range p.roots {
		imported[manifest.Normalize(state.root)] = true
		for _, c := range state.candidates {
			imported[c.Package] = true
		}
	}

	var out []Finding
	for _, entry := range p.facts.Dependencies.Entries() {
		name := entry.Normalized
		if !p.active[name] || p.matched[name] {
			continue
		}
		if name == project && project != "" {
			continue
		}
		if p.facts.Dependencies.CondaOnly(name) {
			continue
		}
		if base, ok := stubBase(name); ok && (p.matched[base] || imported[base]) {
			continue
		}
		var decls []manifest.Dependency
		for _, d := range entry.Declarations {
			if d.ActiveUnder(p.opts.Groups) {
				decls = append(decls, d)
			}
		}
		out = append(out, Finding{
			Kind:         KindUnused,
			Subject:      name,
			Declarations: decls,
			Reason:       "declared but never imported",
		})
	}
	return out
}

// stubBase maps typing stub distributions to the package they describe.
func stubBase(name string) (string, bool) {
	if base, ok := strings.CutPrefix(name, "types-"); ok && base != "" {
		return base, true
	}
	if base, ok := strings.CutSuffix(name, "-stubs"); ok && base != "" {
		return base, true
	}
	return "", false
}

func (p *Pipeline) manifestNotes() {
	for _, n := range p.facts.Dependencies.Notes {
		kind := NoteManifest
		if n.Kind == manifest.NoteCondaOnly {
			kind = NoteCondaOnly
		}
		p.notes = append(p.notes, Note{
			Kind:    kind,
			Subject: n.Subject,
			File:    n.Origin.File,
			Line:    n.Origin.Line,
			Message: n.Message,
		})
	}
}
