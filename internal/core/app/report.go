package app

import (
	"depwise/internal/data/history"
	"depwise/internal/engine/analysis"
	"depwise/internal/engine/manifest"
	"time"
)

type Status string

const (
	StatusClean      Status = "clean"
	StatusProblems   Status = "problems"
	StatusIncomplete Status = "incomplete"
)

// Request is the input of one check. Empty fields fall back to the App's
// configuration; list fields are added to the configured ones.
type Request struct {
	// ProjectRoot anchors manifest detection, relative paths and history.
	ProjectRoot string
	// Roots are source directories or single files.
	Roots       []string
	Manifests   []manifest.Ref
	ProjectName string
	// Extras are combination requests such as "viz", "viz,docs" or "*".
	Extras              []string
	IgnoreNames         []string
	IgnoreImports       []string
	IgnorePaths         []string
	ValidateEnvironment bool
	SitePackages        []string
}

// FileError is a source file that was skipped.
type FileError struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// ManifestError is a manifest that contributed no dependencies.
type ManifestError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind,omitempty"`
	Dynamic bool   `json:"dynamic,omitempty"`
	Message string `json:"message"`
}

// Report is the outcome of a check.
type Report struct {
	RunID        string             `json:"run_id,omitempty"`
	ProjectName  string             `json:"project_name,omitempty"`
	ProjectRoot  string             `json:"project_root"`
	Status       Status             `json:"status"`
	Combinations []string           `json:"combinations"`
	Findings     []analysis.Finding `json:"findings"`
	Notes        []analysis.Note    `json:"notes,omitempty"`
	// Ignored counts findings removed by ignore rules.
	Ignored        int             `json:"ignored"`
	Summary        map[string]int  `json:"summary"`
	FileErrors     []FileError     `json:"file_errors,omitempty"`
	ManifestErrors []ManifestError `json:"manifest_errors,omitempty"`
	Manifests      []string        `json:"manifests"`
	FileCount      int             `json:"file_count"`
	Environment    []string        `json:"environment,omitempty"`
	Duration       time.Duration   `json:"duration"`
	// Delta compares the findings with the previous stored run.
	Delta *history.Delta `json:"delta,omitempty"`
	// Reason explains an incomplete status.
	Reason string `json:"reason,omitempty"`
}

func newReport(root string) *Report {
	r := &Report{ProjectRoot: root, Summary: make(map[string]int)}
	for _, k := range analysis.Kinds() {
		r.Summary[string(k)] = 0
	}
	return r
}

// Count returns the number of findings of kind.
func (r *Report) Count(kind analysis.FindingKind) int {
	return r.Summary[string(kind)]
}

// HasMissing is the primary verdict: true when any missing finding remains.
func (r *Report) HasMissing() bool {
	return r.Count(analysis.KindMissing) > 0
}

// Fails reports whether any finding kind listed in failOn is present.
func (r *Report) Fails(failOn []string) bool {
	for _, k := range failOn {
		if r.Summary[k] > 0 {
			return true
		}
	}
	return false
}

func (r *Report) setFindings(findings []analysis.Finding) {
	r.Findings = findings
	for _, k := range analysis.Kinds() {
		r.Summary[string(k)] = 0
	}
	for _, f := range findings {
		r.Summary[string(f.Kind)]++
	}
	if len(findings) > 0 {
		r.Status = StatusProblems
	} else {
		r.Status = StatusClean
	}
}

func (r *Report) incomplete(reason string) *Report {
	r.Status = StatusIncomplete
	r.Reason = reason
	return r
}

func (r *Report) historyRun(projectKey string) history.Run {
	run := history.Run{
		ProjectKey:    projectKey,
		Duration:      r.Duration,
		Status:        string(r.Status),
		Combinations:  append([]string(nil), r.Combinations...),
		FileCount:     r.FileCount,
		ManifestCount: len(r.Manifests),
		MissingCount:  r.Count(analysis.KindMissing),
		OptionalCount: r.Count(analysis.KindOptional),
		UnusedCount:   r.Count(analysis.KindUnused),
	}
	for _, f := range r.Findings {
		run.Findings = append(run.Findings, history.Finding{
			Kind:         string(f.Kind),
			Subject:      f.Subject,
			File:         f.File(),
			Line:         f.Line(),
			Combinations: append([]string(nil), f.Combinations...),
		})
	}
	return run
}
