package resolver

import (
	"depwise/internal/engine/manifest"
	"depwise/internal/shared/observability"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// Resolver maps imported module paths to candidate distributions. It is
// safe for concurrent use.
type Resolver struct {
	table  *Table
	oracle Oracle
	memo   *lru.Cache[string, Resolution]
}

type Option func(*resolverOptions)

type resolverOptions struct {
	oracle    Oracle
	cacheSize int
}

// WithOracle attaches an installed-environment oracle. Its answers override
// the static table.
func WithOracle(o Oracle) Option {
	return func(opts *resolverOptions) { opts.oracle = o }
}

func WithCacheSize(n int) Option {
	return func(opts *resolverOptions) { opts.cacheSize = n }
}

func New(table *Table, opts ...Option) *Resolver {
	o := resolverOptions{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if table == nil {
		table = DefaultTable()
	}
	if o.cacheSize <= 0 {
		o.cacheSize = defaultCacheSize
	}
	memo, err := lru.New[string, Resolution](o.cacheSize)
	if err != nil {
		// Only reachable with a non-positive size, excluded above.
		panic(err)
	}
	return &Resolver{table: table, oracle: o.oracle, memo: memo}
}

func (r *Resolver) Oracle() Oracle { return r.oracle }

func (r *Resolver) Table() *Table { return r.table }

// Resolve returns the candidate providers of module, best first.
func (r *Resolver) Resolve(module string) Resolution {
	module = strings.TrimSpace(module)
	if cached, ok := r.memo.Get(module); ok {
		return cached
	}
	res := r.resolve(module)
	r.memo.Add(module, res)

	tier := TierNone
	if best, ok := res.Best(); ok {
		tier = best.Tier
	}
	observability.ResolverLookups.WithLabelValues(tier.String()).Inc()
	return res
}

func (r *Resolver) resolve(module string) Resolution {
	res := Resolution{Module: module}
	root, _, _ := strings.Cut(module, ".")
	if root == "" {
		return res
	}

	static, key := r.table.Lookup(module)
	var cands []Candidate
	for _, pkg := range static {
		cands = append(cands, Candidate{Package: pkg, Tier: TierExactMapping})
	}
	if len(cands) == 0 && manifest.IsValidName(root) {
		cands = append(cands, Candidate{Package: manifest.Normalize(root), Tier: TierHeuristic})
	}

	if r.oracle != nil {
		if providers := normalizedSet(r.oracle.Providers(module)); len(providers) > 0 {
			if len(static) > 0 && !subsetOf(providers, static) {
				msg := fmt.Sprintf("installed providers of %s (%s) differ from the mapping table entry %q (%s); using the installed environment",
					module, strings.Join(providers, ", "), key, strings.Join(static, ", "))
				res.Diagnostics = append(res.Diagnostics, msg)
				slog.Debug("resolver disagreement", "module", module, "installed", providers, "table", static)
			}
			cands = cands[:0]
			for _, pkg := range providers {
				cands = append(cands, Candidate{Package: pkg, Tier: TierEnvironment})
			}
		} else {
			for i := range cands {
				if r.oracle.Confirm(cands[i].Package) {
					cands[i].Tier = TierEnvironment
				}
			}
		}
	}

	sortCandidates(cands)
	res.Candidates = cands
	return res
}

func normalizedSet(pkgs []string) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		if n := manifest.Normalize(p); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// subsetOf reports whether every element of a appears in b. An installed
// subset of the mapped distributions is agreement, not conflict.
func subsetOf(a, b []string) bool {
	for _, x := range a {
		if !slices.Contains(b, x) {
			return false
		}
	}
	return true
}
