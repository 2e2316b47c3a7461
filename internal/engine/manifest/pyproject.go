package manifest

import (
	"bytes"
	"depwise/internal/shared/util"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// PyProjectNormalizer reads PEP 621 metadata, PEP 735 dependency groups and
// Poetry tables from pyproject.toml.
type PyProjectNormalizer struct{}

func (n *PyProjectNormalizer) Kind() Kind { return KindPyProject }

type pyprojectDoc struct {
	path string
	data []byte
	set  *DependencySet
}

func (n *PyProjectNormalizer) Parse(path string, data []byte) (*DependencySet, error) {
	var raw map[string]any
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, &ParseError{Path: path, Kind: KindPyProject, Err: err}
	}

	doc := &pyprojectDoc{path: path, data: data, set: NewDependencySet(path)}
	project, hasProject := table(raw, "project")
	poetry, hasPoetry := table(raw, "tool", "poetry")
	groups, hasGroups := table(raw, "dependency-groups")
	if !hasProject && !hasPoetry && !hasGroups {
		return nil, parseErrorf(path, KindPyProject, 0, "no [project], [tool.poetry] or [dependency-groups] table")
	}

	if hasProject {
		if err := doc.project(project, hasPoetry); err != nil {
			return nil, err
		}
	}
	if hasGroups {
		if err := doc.dependencyGroups(groups); err != nil {
			return nil, err
		}
	}
	if hasPoetry {
		if err := doc.poetry(poetry); err != nil {
			return nil, err
		}
	}
	return doc.set, nil
}

func (d *pyprojectDoc) project(project map[string]any, hasPoetry bool) error {
	if name, ok := project["name"].(string); ok {
		d.set.ProjectName = name
	}
	dynamic := stringSet(project["dynamic"])

	switch deps := project["dependencies"].(type) {
	case nil:
		if dynamic["dependencies"] && !hasPoetry {
			return &DynamicError{
				Path:   d.path,
				Field:  "project.dependencies",
				Reason: "declared in project.dynamic and computed by the build backend",
			}
		}
	case []any:
		if err := d.addList(deps, "project.dependencies", nil); err != nil {
			return err
		}
	case map[string]any:
		// Legacy table form: name = "specifier".
		for _, name := range util.SortedStringKeys(deps) {
			spec, _ := deps[name].(string)
			if err := d.addString(strings.TrimSpace(name+" "+spec), "project.dependencies."+name, nil); err != nil {
				return err
			}
		}
	default:
		return parseErrorf(d.path, KindPyProject, 0, "project.dependencies must be an array, got %T", deps)
	}

	if optional, ok := project["optional-dependencies"].(map[string]any); ok {
		for _, group := range util.SortedStringKeys(optional) {
			d.set.DeclareGroup(group)
			list, ok := optional[group].([]any)
			if !ok {
				return parseErrorf(d.path, KindPyProject, 0, "project.optional-dependencies.%s must be an array", group)
			}
			key := "project.optional-dependencies." + group
			if err := d.addList(list, key, []string{group}); err != nil {
				return err
			}
		}
	} else if dynamic["optional-dependencies"] {
		d.set.AddNote(Note{
			Kind:    NoteDynamic,
			Subject: "project.optional-dependencies",
			Origin:  Source{File: d.path, Key: "project.dynamic"},
			Message: "optional dependencies are computed by the build backend and were not analyzed",
		})
	}
	return nil
}

// dependencyGroups expands PEP 735 groups, including {include-group = "x"}.
func (d *pyprojectDoc) dependencyGroups(groups map[string]any) error {
	for _, group := range util.SortedStringKeys(groups) {
		d.set.DeclareGroup(group)
		reqs, err := expandGroup(groups, group, map[string]bool{})
		if err != nil {
			return &ParseError{Path: d.path, Kind: KindPyProject, Err: err}
		}
		for i, r := range reqs {
			key := fmt.Sprintf("dependency-groups.%s[%d]", group, i)
			if err := d.addString(r, key, []string{group}); err != nil {
				return err
			}
		}
	}
	return nil
}

func expandGroup(groups map[string]any, name string, stack map[string]bool) ([]string, error) {
	if stack[name] {
		return nil, fmt.Errorf("dependency group %q includes itself", name)
	}
	list, ok := groups[name].([]any)
	if !ok {
		return nil, fmt.Errorf("dependency group %q must be an array", name)
	}
	stack[name] = true
	defer delete(stack, name)

	var out []string
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			inc, _ := v["include-group"].(string)
			if inc == "" {
				return nil, fmt.Errorf("dependency group %q has an entry without include-group", name)
			}
			nested, err := expandGroup(groups, inc, stack)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("dependency group %q has unsupported entry %T", name, item)
		}
	}
	return out, nil
}

func (d *pyprojectDoc) poetry(poetry map[string]any) error {
	if d.set.ProjectName == "" {
		if name, ok := poetry["name"].(string); ok {
			d.set.ProjectName = name
		}
	}

	// extras: extra name -> package names that become active with it.
	extrasOf := map[string][]string{}
	if extras, ok := poetry["extras"].(map[string]any); ok {
		for _, extra := range util.SortedStringKeys(extras) {
			d.set.DeclareGroup(extra)
			for _, pkg := range stringList(extras[extra]) {
				n := Normalize(pkg)
				extrasOf[n] = append(extrasOf[n], extra)
			}
		}
	}

	if deps, ok := poetry["dependencies"].(map[string]any); ok {
		if err := d.poetryTable(deps, "tool.poetry.dependencies", nil, extrasOf); err != nil {
			return err
		}
	}
	if deps, ok := poetry["dev-dependencies"].(map[string]any); ok {
		d.set.DeclareGroup("dev")
		if err := d.poetryTable(deps, "tool.poetry.dev-dependencies", []string{"dev"}, extrasOf); err != nil {
			return err
		}
	}
	if groups, ok := poetry["group"].(map[string]any); ok {
		for _, group := range util.SortedStringKeys(groups) {
			d.set.DeclareGroup(group)
			g, _ := groups[group].(map[string]any)
			deps, ok := g["dependencies"].(map[string]any)
			if !ok {
				continue
			}
			key := "tool.poetry.group." + group + ".dependencies"
			if err := d.poetryTable(deps, key, []string{group}, extrasOf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *pyprojectDoc) poetryTable(deps map[string]any, key string, groups []string, extrasOf map[string][]string) error {
	for _, name := range util.SortedStringKeys(deps) {
		if strings.EqualFold(name, "python") {
			continue
		}
		if !IsValidName(name) {
			return parseErrorf(d.path, KindPyProject, d.line(name), "invalid package name %q in %s", name, key)
		}
		dep := Dependency{
			Name:       name,
			Normalized: Normalize(name),
			Kind:       KindPyProject,
			Groups:     groups,
			Origin:     Source{File: d.path, Line: d.line(name), Key: key + "." + name},
		}
		optional := false
		switch v := deps[name].(type) {
		case string:
			dep.Specifier = v
		case map[string]any:
			dep.Specifier, _ = v["version"].(string)
			dep.Marker, _ = v["markers"].(string)
			dep.PackageExtras = stringList(v["extras"])
			for _, src := range []string{"git", "url", "path"} {
				if s, ok := v[src].(string); ok {
					dep.URL = s
				}
			}
			optional, _ = v["optional"].(bool)
		case []any:
			// Multiple constraints per platform or python version.
			dep.Specifier = joinVersions(tableList(v))
		case []map[string]any:
			dep.Specifier = joinVersions(v)
		}
		if dep.Specifier == "*" {
			dep.Specifier = ""
		}
		if optional && len(groups) == 0 {
			extras := extrasOf[dep.Normalized]
			if len(extras) == 0 {
				d.set.AddNote(Note{
					Kind:    NoteUnreachable,
					Subject: name,
					Origin:  dep.Origin,
					Message: "optional dependency is not listed in any [tool.poetry.extras] entry",
				})
				continue
			}
			dep.Groups = extras
		}
		d.set.Add(dep)
	}
	return nil
}

func tableList(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func joinVersions(tables []map[string]any) string {
	var specs []string
	for _, m := range tables {
		if s, ok := m["version"].(string); ok {
			specs = append(specs, s)
		}
	}
	return strings.Join(specs, " || ")
}

func (d *pyprojectDoc) addList(list []any, key string, groups []string) error {
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return parseErrorf(d.path, KindPyProject, 0, "%s[%d] must be a string, got %T", key, i, item)
		}
		if err := d.addString(s, fmt.Sprintf("%s[%d]", key, i), groups); err != nil {
			return err
		}
	}
	return nil
}

func (d *pyprojectDoc) addString(s, key string, groups []string) error {
	line := d.literalLine(s)
	req, err := ParseRequirement(s)
	if err != nil {
		return &ParseError{Path: d.path, Kind: KindPyProject, Line: line, Err: err}
	}
	d.set.Add(req.Dependency(KindPyProject, Source{File: d.path, Line: line, Key: key}, groups))
	return nil
}

func (d *pyprojectDoc) literalLine(s string) int {
	if line := lineOf(d.data, `"`+s+`"`); line > 0 {
		return line
	}
	return lineOf(d.data, `'`+s+`'`)
}

func (d *pyprojectDoc) line(key string) int {
	return lineOfKey(d.data, key)
}

// hasPyProjectDependencies reports whether a pyproject.toml declares
// dependencies in any table this package reads.
func hasPyProjectDependencies(data []byte) bool {
	var raw map[string]any
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return false
	}
	_, hasProject := table(raw, "project")
	_, hasPoetry := table(raw, "tool", "poetry")
	_, hasGroups := table(raw, "dependency-groups")
	return hasProject || hasPoetry || hasGroups
}

func table(raw map[string]any, path ...string) (map[string]any, bool) {
	cur := raw
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringSet(v any) map[string]bool {
	out := map[string]bool{}
	for _, s := range stringList(v) {
		out[s] = true
	}
	return out
}

// lineOf returns the 1-based line of the first occurrence of needle, or 0.
func lineOf(data []byte, needle string) int {
	idx := bytes.Index(data, []byte(needle))
	if idx < 0 {
		return 0
	}
	return bytes.Count(data[:idx], []byte("\n")) + 1
}

// lineOfKey finds a line that starts with `key =` (optionally quoted).
func lineOfKey(data []byte, key string) int {
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		for _, prefix := range []string{key, `"` + key + `"`, `'` + key + `'`} {
			rest, ok := strings.CutPrefix(trimmed, prefix)
			if ok && strings.HasPrefix(strings.TrimSpace(rest), "=") {
				return i + 1
			}
		}
	}
	return 0
}
