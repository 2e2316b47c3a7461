package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of manifest dialects depwise understands.
type Kind string

const (
	KindRequirements Kind = "requirements"
	KindPyProject    Kind = "pyproject"
	KindConda        Kind = "conda"
	KindPixi         Kind = "pixi"
	KindSetup        Kind = "setup"
)

var allKinds = []Kind{KindRequirements, KindPyProject, KindConda, KindPixi, KindSetup}

func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRequirements, KindPyProject, KindConda, KindPixi, KindSetup:
		return k, nil
	case "requirements.txt", "pip":
		return KindRequirements, nil
	case "environment", "environment.yml":
		return KindConda, nil
	}
	return "", fmt.Errorf("unsupported manifest kind %q", s)
}

// Ref points at a manifest on disk. A non-empty Group places every dependency
// of the manifest in that extras group (e.g. requirements-dev.txt as "dev").
type Ref struct {
	Path  string
	Kind  Kind
	Group string
}

// Source is the provenance of a declaration: the file, the 1-based line when
// known, and a key path for structured manifests.
type Source struct {
	File string
	Line int
	Key  string
}

func (s Source) String() string {
	switch {
	case s.Line > 0 && s.Key != "":
		return fmt.Sprintf("%s:%d (%s)", s.File, s.Line, s.Key)
	case s.Line > 0:
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	case s.Key != "":
		return fmt.Sprintf("%s (%s)", s.File, s.Key)
	}
	return s.File
}

// Dependency is one declared requirement.
type Dependency struct {
	Name          string
	Normalized    string
	Specifier     string
	Marker        string
	URL           string
	PackageExtras []string
	Groups        []string
	Kind          Kind
	Origin        Source
}

// Base reports whether the declaration is active without any extras.
func (d Dependency) Base() bool {
	return len(d.Groups) == 0
}

func (d Dependency) ActiveUnder(groups map[string]bool) bool {
	if d.Base() {
		return true
	}
	for _, g := range d.Groups {
		if groups[g] {
			return true
		}
	}
	return false
}

type NoteKind string

const (
	// NoteCondaOnly marks a conda package with no PyPI counterpart; it is
	// reported with environment-confirmed false and never counted as unused.
	NoteCondaOnly   NoteKind = "conda-only"
	NoteUnnamed     NoteKind = "unnamed-requirement"
	NoteUnreachable NoteKind = "unreachable-optional"
	NoteDynamic     NoteKind = "dynamic-metadata"
)

type Note struct {
	Kind    NoteKind
	Subject string
	Origin  Source
	Message string
}

// Entry groups every declaration sharing a normalized name.
type Entry struct {
	Normalized   string
	Declarations []Dependency
}

func (e *Entry) ActiveUnder(groups map[string]bool) bool {
	for _, d := range e.Declarations {
		if d.ActiveUnder(groups) {
			return true
		}
	}
	return false
}

// Groups returns the extras groups the entry is declared under; empty when
// any declaration is unconditional.
func (e *Entry) Groups() []string {
	seen := map[string]bool{}
	for _, d := range e.Declarations {
		if d.Base() {
			return nil
		}
		for _, g := range d.Groups {
			seen[g] = true
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// DependencySet is the normalized content of one or more manifests, keyed by
// normalized package name.
type DependencySet struct {
	ProjectName string
	Manifests   []string
	Notes       []Note

	groups  map[string]bool
	entries map[string]*Entry
}

func NewDependencySet(manifestPath string) *DependencySet {
	s := &DependencySet{
		groups:  make(map[string]bool),
		entries: make(map[string]*Entry),
	}
	if manifestPath != "" {
		s.Manifests = []string{manifestPath}
	}
	return s
}

func (s *DependencySet) Add(dep Dependency) {
	if dep.Normalized == "" {
		dep.Normalized = Normalize(dep.Name)
	}
	if len(dep.Groups) > 0 {
		groups := make([]string, 0, len(dep.Groups))
		for _, g := range dep.Groups {
			g = Normalize(g)
			s.groups[g] = true
			groups = append(groups, g)
		}
		dep.Groups = groups
	}
	entry, ok := s.entries[dep.Normalized]
	if !ok {
		entry = &Entry{Normalized: dep.Normalized}
		s.entries[dep.Normalized] = entry
	}
	entry.Declarations = append(entry.Declarations, dep)
}

// DeclareGroup records an extras group even when it has no members.
func (s *DependencySet) DeclareGroup(name string) {
	if n := Normalize(name); n != "" {
		s.groups[n] = true
	}
}

func (s *DependencySet) AddNote(n Note) {
	s.Notes = append(s.Notes, n)
}

func (s *DependencySet) Lookup(name string) (*Entry, bool) {
	e, ok := s.entries[Normalize(name)]
	return e, ok
}

func (s *DependencySet) Len() int {
	return len(s.entries)
}

// Entries returns entries sorted by normalized name.
func (s *DependencySet) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Normalized < out[j].Normalized })
	return out
}

// Groups returns the declared extras groups, sorted.
func (s *DependencySet) Groups() []string {
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (s *DependencySet) HasGroup(name string) bool {
	return s.groups[Normalize(name)]
}

// ActiveNames returns the normalized names active under the given groups.
func (s *DependencySet) ActiveNames(groups map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s.entries))
	for name, e := range s.entries {
		if e.ActiveUnder(groups) {
			out[name] = true
		}
	}
	return out
}

// CondaOnly reports whether the normalized name was noted as a conda-only package.
func (s *DependencySet) CondaOnly(name string) bool {
	n := Normalize(name)
	for _, note := range s.Notes {
		if note.Kind == NoteCondaOnly && Normalize(note.Subject) == n {
			return true
		}
	}
	return false
}
