package history

import (
	"sort"
	"time"
)

const SchemaVersion = 1

// Run is the persisted summary of one check.
type Run struct {
	ID            string        `json:"id"`
	ProjectKey    string        `json:"project_key"`
	Timestamp     time.Time     `json:"timestamp"`
	Duration      time.Duration `json:"duration"`
	Status        string        `json:"status"`
	Combinations  []string      `json:"combinations"`
	FileCount     int           `json:"file_count"`
	ManifestCount int           `json:"manifest_count"`
	MissingCount  int           `json:"missing_count"`
	OptionalCount int           `json:"optional_count"`
	UnusedCount   int           `json:"unused_count"`
	Findings      []Finding     `json:"findings,omitempty"`
}

// Finding is the flattened form of a reported finding.
type Finding struct {
	Kind         string   `json:"kind"`
	Subject      string   `json:"subject"`
	File         string   `json:"file,omitempty"`
	Line         int      `json:"line,omitempty"`
	Combinations []string `json:"combinations,omitempty"`
}

func (f Finding) key() string {
	return f.Kind + "\x00" + f.Subject
}

// Delta lists findings that appeared or disappeared between two runs.
type Delta struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Added    []Finding `json:"added"`
	Resolved []Finding `json:"resolved"`
}

// Compare reports the findings of cur that prev did not have and the
// findings of prev that cur no longer has. Findings match by kind and subject.
func Compare(prev, cur Run) Delta {
	before := make(map[string]Finding, len(prev.Findings))
	for _, f := range prev.Findings {
		before[f.key()] = f
	}
	after := make(map[string]Finding, len(cur.Findings))
	for _, f := range cur.Findings {
		after[f.key()] = f
	}

	d := Delta{From: prev.ID, To: cur.ID}
	for k, f := range after {
		if _, ok := before[k]; !ok {
			d.Added = append(d.Added, f)
		}
	}
	for k, f := range before {
		if _, ok := after[k]; !ok {
			d.Resolved = append(d.Resolved, f)
		}
	}
	sortFindings(d.Added)
	sortFindings(d.Resolved)
	return d
}

func sortFindings(fs []Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Kind != fs[j].Kind {
			return fs[i].Kind < fs[j].Kind
		}
		return fs[i].Subject < fs[j].Subject
	})
}
