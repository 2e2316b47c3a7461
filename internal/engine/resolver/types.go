package resolver

import "sort"

// Tier ranks how a candidate provider was established. Higher is stronger.
type Tier int

const (
	TierNone Tier = iota
	TierHeuristic
	TierExactMapping
	TierEnvironment
)

func (t Tier) String() string {
	switch t {
	case TierHeuristic:
		return "heuristic-same-name"
	case TierExactMapping:
		return "exact-known-mapping"
	case TierEnvironment:
		return "environment-confirmed"
	}
	return "none"
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Candidate is one distribution that may provide a module.
type Candidate struct {
	Package string `json:"package"`
	Tier    Tier   `json:"tier"`
}

// Resolution is the outcome of resolving one module path. It never carries
// an error: an empty candidate list means no provider is known.
type Resolution struct {
	Module      string      `json:"module"`
	Candidates  []Candidate `json:"candidates"`
	Diagnostics []string    `json:"diagnostics,omitempty"`
}

// Best returns the highest-ranked candidate.
func (r Resolution) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

func (r Resolution) Packages() []string {
	out := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, c.Package)
	}
	return out
}

// Oracle answers questions about the installed environment.
type Oracle interface {
	// Confirm reports whether the normalized distribution is installed.
	Confirm(pkg string) bool
	// Providers lists installed distributions that ship module's root.
	Providers(module string) []string
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Tier != cands[j].Tier {
			return cands[i].Tier > cands[j].Tier
		}
		return cands[i].Package < cands[j].Package
	})
}
