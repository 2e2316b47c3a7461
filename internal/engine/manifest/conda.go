package manifest

import (
	"depwise/internal/shared/util"
	_ "embed"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/conda.txt
var condaTableData string

var condaTable = sync.OnceValue(func() map[string]string {
	table := make(map[string]string)
	for _, line := range strings.Split(condaTableData, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		table[strings.ToLower(fields[0])] = fields[1]
	}
	return table
})

// CondaNormalizer reads conda environment.yml files, including pip sub-lists.
type CondaNormalizer struct {
	// ReadFile loads files included from pip sub-lists.
	ReadFile func(string) ([]byte, error)
}

func (n *CondaNormalizer) Kind() Kind { return KindConda }

type condaEnvironment struct {
	Name         string      `yaml:"name"`
	Channels     []string    `yaml:"channels"`
	Dependencies []yaml.Node `yaml:"dependencies"`
}

func (n *CondaNormalizer) Parse(path string, data []byte) (*DependencySet, error) {
	var env condaEnvironment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Path: path, Kind: KindConda, Err: err}
	}
	set := NewDependencySet(path)

	for _, node := range env.Dependencies {
		switch node.Kind {
		case yaml.ScalarNode:
			addCondaSpec(set, node.Value, Source{File: path, Line: node.Line, Key: "dependencies"}, nil, KindConda)
		case yaml.MappingNode:
			if err := n.pipSection(set, path, &node); err != nil {
				return nil, err
			}
		default:
			return nil, parseErrorf(path, KindConda, node.Line, "unsupported dependency entry")
		}
	}
	return set, nil
}

// pipSection handles `- pip: [...]` entries; each item is a requirements line.
func (n *CondaNormalizer) pipSection(set *DependencySet, path string, node *yaml.Node) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value != "pip" {
			return parseErrorf(path, KindConda, key.Line, "unsupported dependency section %q", key.Value)
		}
		if value.Kind != yaml.SequenceNode {
			return parseErrorf(path, KindConda, value.Line, "pip section must be a list")
		}
		w := &requirementsWalker{
			read:    n.ReadFile,
			set:     set,
			kind:    KindConda,
			visited: map[string]bool{},
			active:  map[string]bool{filepath.Clean(path): true},
		}
		if w.read == nil {
			w.read = util.ReadFileRetry
		}
		for _, item := range value.Content {
			if err := w.handle(path, item.Value, item.Line); err != nil {
				return err
			}
		}
	}
	return nil
}

// addCondaSpec records one conda match spec. Conda-only packages become notes.
func addCondaSpec(set *DependencySet, spec string, origin Source, groups []string, kind Kind) {
	name, constraint := splitMatchSpec(spec)
	if name == "" {
		return
	}
	switch name {
	case "python", "pip":
		return
	}
	pypi, known := condaTable()[name]
	if (known && pypi == "-") || (!known && isCondaOnly(name)) {
		set.AddNote(Note{
			Kind:    NoteCondaOnly,
			Subject: name,
			Origin:  origin,
			Message: "conda package without a PyPI distribution (environment-confirmed: false)",
		})
		return
	}
	normalized := Normalize(name)
	if known {
		normalized = Normalize(pypi)
	}
	set.Add(Dependency{
		Name:       name,
		Normalized: normalized,
		Specifier:  constraint,
		Groups:     groups,
		Kind:       kind,
		Origin:     origin,
	})
}

// splitMatchSpec extracts the package name from a conda match spec such as
// "conda-forge::numpy>=1.21", "numpy=1.21=py39_0", "numpy 1.21.*" or
// "numpy[build=*cuda*]".
func splitMatchSpec(spec string) (string, string) {
	spec = strings.TrimSpace(spec)
	if idx := strings.LastIndex(spec, "::"); idx >= 0 {
		spec = spec[idx+2:]
	}
	end := strings.IndexAny(spec, "=<>!~[ \t")
	if end < 0 {
		return strings.ToLower(spec), ""
	}
	return strings.ToLower(strings.TrimSpace(spec[:end])), strings.TrimSpace(spec[end:])
}

func isCondaOnly(name string) bool {
	switch {
	case strings.HasPrefix(name, "r-"), strings.HasPrefix(name, "_"):
		return true
	case strings.HasSuffix(name, "-devel"), strings.HasSuffix(name, "_linux-64"), strings.HasSuffix(name, "-compiler"):
		return true
	}
	return false
}
