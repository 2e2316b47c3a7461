package manifest

import (
	coreerr "depwise/internal/core/errors"
	"depwise/internal/shared/util"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Normalizer turns the bytes of one manifest dialect into a DependencySet.
type Normalizer interface {
	Kind() Kind
	Parse(path string, data []byte) (*DependencySet, error)
}

// Registry dispatches manifests to their normalizer.
type Registry struct {
	normalizers map[Kind]Normalizer
	readFile    func(string) ([]byte, error)
}

func NewRegistry() *Registry {
	r := &Registry{
		normalizers: make(map[Kind]Normalizer),
		readFile:    util.ReadFileRetry,
	}
	r.Register(&RequirementsNormalizer{})
	r.Register(&PyProjectNormalizer{})
	r.Register(&CondaNormalizer{})
	r.Register(&PixiNormalizer{})
	r.Register(NewSetupNormalizer())
	return r
}

func (r *Registry) Register(n Normalizer) {
	r.normalizers[n.Kind()] = n
}

func (r *Registry) Normalizer(kind Kind) (Normalizer, bool) {
	n, ok := r.normalizers[kind]
	return n, ok
}

// Parse reads and normalizes the referenced manifest.
func (r *Registry) Parse(ref Ref) (*DependencySet, error) {
	kind := ref.Kind
	if kind == "" {
		detected, ok := KindForFile(ref.Path)
		if !ok {
			return nil, &ParseError{Path: ref.Path, Err: fmt.Errorf("cannot infer manifest kind from file name")}
		}
		kind = detected
	}
	n, ok := r.normalizers[kind]
	if !ok {
		return nil, &ParseError{Path: ref.Path, Kind: kind, Err: fmt.Errorf("unsupported manifest kind")}
	}
	data, err := r.readFile(ref.Path)
	if err != nil {
		return nil, &ParseError{Path: ref.Path, Kind: kind, Err: err}
	}
	set, err := n.Parse(ref.Path, data)
	if err != nil {
		return nil, err
	}
	if group := Normalize(ref.Group); group != "" {
		set = set.withGroup(group)
	}
	return set, nil
}

// withGroup copies the set, moving every base declaration into group.
func (s *DependencySet) withGroup(group string) *DependencySet {
	out := NewDependencySet("")
	out.ProjectName = s.ProjectName
	out.Manifests = append(out.Manifests, s.Manifests...)
	out.Notes = append(out.Notes, s.Notes...)
	out.DeclareGroup(group)
	for _, g := range s.Groups() {
		out.DeclareGroup(g)
	}
	for _, e := range s.Entries() {
		for _, d := range e.Declarations {
			if d.Base() {
				d.Groups = []string{group}
			}
			out.Add(d)
		}
	}
	return out
}

// KindForFile maps well-known manifest file names to their kind.
func KindForFile(path string) (Kind, bool) {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case base == "pyproject.toml":
		return KindPyProject, true
	case base == "pixi.toml":
		return KindPixi, true
	case base == "setup.py" || base == "setup.cfg":
		return KindSetup, true
	case base == "environment.yml" || base == "environment.yaml" ||
		strings.HasSuffix(base, ".environment.yml") || strings.HasSuffix(base, ".environment.yaml"):
		return KindConda, true
	case strings.HasSuffix(base, ".txt") && strings.Contains(base, "requirements"),
		strings.HasSuffix(base, ".in") && strings.Contains(base, "requirements"):
		return KindRequirements, true
	}
	return "", false
}

// Detect infers the manifest for a project directory. The first match wins:
// pyproject.toml with dependency tables, requirements.txt, environment.yml,
// pixi.toml, setup.cfg with an [options] section, setup.py.
func Detect(dir string) []Ref {
	candidates := []struct {
		name  string
		kind  Kind
		check func([]byte) bool
	}{
		{"pyproject.toml", KindPyProject, hasPyProjectDependencies},
		{"requirements.txt", KindRequirements, nil},
		{"environment.yml", KindConda, nil},
		{"environment.yaml", KindConda, nil},
		{"pixi.toml", KindPixi, nil},
		{"setup.cfg", KindSetup, hasSetupCfgOptions},
		{"setup.py", KindSetup, nil},
	}
	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if c.check != nil && !c.check(data) {
			continue
		}
		return []Ref{{Path: path, Kind: c.kind}}
	}
	return nil
}

// Merge combines the sets of several manifests. A normalized name declared
// by two different manifests is a configuration error unless allowDuplicates
// is set, in which case the declarations are unioned.
func Merge(allowDuplicates bool, sets ...*DependencySet) (*DependencySet, error) {
	out := NewDependencySet("")
	owner := make(map[string]string)
	for _, s := range sets {
		if s == nil {
			continue
		}
		manifest := ""
		if len(s.Manifests) > 0 {
			manifest = s.Manifests[0]
		}
		out.Manifests = append(out.Manifests, s.Manifests...)
		out.Notes = append(out.Notes, s.Notes...)
		if out.ProjectName == "" {
			out.ProjectName = s.ProjectName
		}
		for _, g := range s.Groups() {
			out.DeclareGroup(g)
		}
		for _, e := range s.Entries() {
			if prev, ok := owner[e.Normalized]; ok && prev != manifest && !allowDuplicates {
				first, _ := out.Lookup(e.Normalized)
				err := coreerr.Configuration(
					fmt.Sprintf("%q is declared by more than one manifest (%s and %s)",
						e.Normalized, first.Declarations[0].Origin, e.Declarations[0].Origin),
					coreerr.CtxPackage, e.Normalized)
				return nil, err
			}
			owner[e.Normalized] = manifest
			for _, d := range e.Declarations {
				out.Add(d)
			}
		}
	}
	return out, nil
}
