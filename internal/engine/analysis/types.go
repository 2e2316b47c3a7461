package analysis

import (
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"depwise/internal/engine/resolver"
	"fmt"
	"sort"
)

// Stage tracks pipeline progress. Transitions only move forward.
type Stage int

const (
	StageExtracted Stage = iota
	StageFastPassComplete
	StageDeepPassComplete
	StageClassified
)

func (s Stage) String() string {
	switch s {
	case StageExtracted:
		return "extracted"
	case StageFastPassComplete:
		return "fast-pass-complete"
	case StageDeepPassComplete:
		return "deep-pass-complete"
	case StageClassified:
		return "classified"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

type FindingKind string

const (
	KindMissing  FindingKind = "missing"
	KindOptional FindingKind = "optional-candidate"
	KindUnused   FindingKind = "unused"
)

// Kinds lists finding kinds in report order.
func Kinds() []FindingKind {
	return []FindingKind{KindMissing, KindOptional, KindUnused}
}

func kindRank(k FindingKind) int {
	switch k {
	case KindMissing:
		return 0
	case KindOptional:
		return 1
	case KindUnused:
		return 2
	}
	return 3
}

// Finding is one reported problem. Subject is the import root for missing
// and optional-candidate findings and the normalized package for unused ones.
type Finding struct {
	Kind         FindingKind           `json:"kind"`
	Subject      string                `json:"subject"`
	Imports      []parser.ImportRecord `json:"imports,omitempty"`
	Declarations []manifest.Dependency `json:"declarations,omitempty"`
	Candidates   []resolver.Candidate  `json:"candidates,omitempty"`
	Tier         resolver.Tier         `json:"tier"`
	Combinations []string              `json:"combinations,omitempty"`
	Reason       string                `json:"reason"`
}

// File is the first file that supports the finding.
func (f Finding) File() string {
	if len(f.Imports) > 0 {
		return f.Imports[0].Location.File
	}
	if len(f.Declarations) > 0 {
		return f.Declarations[0].Origin.File
	}
	return ""
}

// Line pairs with File.
func (f Finding) Line() int {
	if len(f.Imports) > 0 {
		return f.Imports[0].Location.Line
	}
	if len(f.Declarations) > 0 {
		return f.Declarations[0].Origin.Line
	}
	return 0
}

// SortFindings orders findings by kind, subject, then file.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if kindRank(a.Kind) != kindRank(b.Kind) {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.File() != b.File() {
			return a.File() < b.File()
		}
		return a.Line() < b.Line()
	})
}

type NoteKind string

const (
	NoteUnresolvable        NoteKind = "unresolvable-import"
	NoteResolverConflict    NoteKind = "resolver-disagreement"
	NoteSatisfiedExternally NoteKind = "satisfied-externally"
	NoteCondaOnly           NoteKind = "conda-only"
	NoteManifest            NoteKind = "manifest"
)

// Note is informational output that never affects the verdict.
type Note struct {
	Kind    NoteKind `json:"kind"`
	Subject string   `json:"subject"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Message string   `json:"message"`
}

func SortNotes(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

// Facts are the extraction and normalization results shared, read-only, by
// every combination of a run.
type Facts struct {
	Files        []*parser.FileImports
	Dependencies *manifest.DependencySet
	// LocalModules are top-level module names that belong to the project.
	LocalModules map[string]bool
	ProjectName  string
}

// Options configure one pipeline run.
type Options struct {
	Resolver *resolver.Resolver
	// Oracle enables the deep pass when non-nil.
	Oracle resolver.Oracle
	Ignore IgnoreRules
	// Groups are the extras active for this run; nil means the base case.
	Groups      map[string]bool
	Combination string
}

// Result is the outcome of one pipeline run.
type Result struct {
	Combination string    `json:"combination"`
	Findings    []Finding `json:"findings"`
	// Unfiltered holds the findings before ignore rules were applied.
	Unfiltered []Finding `json:"-"`
	Notes      []Note    `json:"notes,omitempty"`
	Stage      Stage     `json:"-"`
}
