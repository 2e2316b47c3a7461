package resolver

import (
	"bufio"
	"depwise/internal/engine/manifest"
	_ "embed"
	"fmt"
	"strings"
	"sync"
)

//go:embed data/mapping.txt
var mappingData string

// Table is an immutable module -> distribution mapping. Keys are dotted
// module paths; lookups use the longest matching prefix.
type Table struct {
	version string
	entries map[string][]string
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := ParseTable(mappingData)
	if err != nil {
		panic(fmt.Sprintf("embedded mapping table: %v", err))
	}
	return t
})

// DefaultTable returns the table shipped with depwise.
func DefaultTable() *Table {
	return defaultTable()
}

// ParseTable reads `module = dist[, dist...]` lines. A `# version: X`
// comment sets the table version.
func ParseTable(data string) (*Table, error) {
	t := &Table{entries: make(map[string][]string)}
	scanner := bufio.NewScanner(strings.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if comment, ok := strings.CutPrefix(line, "#"); ok {
			if v, ok := strings.CutPrefix(strings.TrimSpace(comment), "version:"); ok {
				t.version = strings.TrimSpace(v)
			}
			continue
		}
		module, dists, ok := strings.Cut(line, "=")
		module = strings.TrimSpace(module)
		if !ok || module == "" {
			return nil, fmt.Errorf("line %d: expected `module = distribution`", lineNo)
		}
		if _, dup := t.entries[module]; dup {
			return nil, fmt.Errorf("line %d: duplicate module %q", lineNo, module)
		}
		var pkgs []string
		for _, d := range strings.Split(dists, ",") {
			if d = strings.TrimSpace(d); d == "" {
				continue
			}
			if !manifest.IsValidName(d) {
				return nil, fmt.Errorf("line %d: invalid distribution name %q", lineNo, d)
			}
			pkgs = append(pkgs, manifest.Normalize(d))
		}
		if len(pkgs) == 0 {
			return nil, fmt.Errorf("line %d: module %q has no distributions", lineNo, module)
		}
		t.entries[module] = pkgs
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) Version() string { return t.version }

func (t *Table) Len() int { return len(t.entries) }

// Lookup returns the distributions for the longest mapped prefix of module
// and the key that matched.
func (t *Table) Lookup(module string) ([]string, string) {
	if t == nil {
		return nil, ""
	}
	key := module
	for key != "" {
		if pkgs, ok := t.entries[key]; ok {
			return append([]string(nil), pkgs...), key
		}
		idx := strings.LastIndexByte(key, '.')
		if idx < 0 {
			break
		}
		key = key[:idx]
	}
	return nil, ""
}
