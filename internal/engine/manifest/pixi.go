package manifest

import (
	"bytes"
	"depwise/internal/shared/util"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// PixiNormalizer reads pixi.toml: conda [dependencies], [pypi-dependencies],
// per-platform [target.*] tables and [feature.*] tables as extras groups.
type PixiNormalizer struct{}

func (n *PixiNormalizer) Kind() Kind { return KindPixi }

func (n *PixiNormalizer) Parse(path string, data []byte) (*DependencySet, error) {
	var raw map[string]any
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, &ParseError{Path: path, Kind: KindPixi, Err: err}
	}
	set := NewDependencySet(path)
	for _, section := range []string{"project", "workspace", "package"} {
		if t, ok := table(raw, section); ok {
			if name, ok := t["name"].(string); ok && set.ProjectName == "" {
				set.ProjectName = name
			}
		}
	}

	p := &pixiDoc{path: path, data: data, set: set}
	if err := p.tables(raw, "", nil); err != nil {
		return nil, err
	}
	if targets, ok := table(raw, "target"); ok {
		for _, platform := range util.SortedStringKeys(targets) {
			t, _ := targets[platform].(map[string]any)
			if err := p.tables(t, "target."+platform+".", nil); err != nil {
				return nil, err
			}
		}
	}
	if features, ok := table(raw, "feature"); ok {
		for _, feature := range util.SortedStringKeys(features) {
			set.DeclareGroup(feature)
			f, _ := features[feature].(map[string]any)
			groups := []string{feature}
			if err := p.tables(f, "feature."+feature+".", groups); err != nil {
				return nil, err
			}
			if targets, ok := table(f, "target"); ok {
				for _, platform := range util.SortedStringKeys(targets) {
					t, _ := targets[platform].(map[string]any)
					prefix := "feature." + feature + ".target." + platform + "."
					if err := p.tables(t, prefix, groups); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return set, nil
}

type pixiDoc struct {
	path string
	data []byte
	set  *DependencySet
}

func (p *pixiDoc) tables(scope map[string]any, prefix string, groups []string) error {
	if deps, ok := scope["dependencies"].(map[string]any); ok {
		for _, name := range util.SortedStringKeys(deps) {
			spec := pixiSpec(deps[name])
			origin := Source{File: p.path, Line: lineOfKey(p.data, name), Key: prefix + "dependencies." + name}
			addCondaSpec(p.set, strings.TrimSpace(name+" "+spec), origin, groups, KindPixi)
		}
	}
	if deps, ok := scope["pypi-dependencies"].(map[string]any); ok {
		for _, name := range util.SortedStringKeys(deps) {
			origin := Source{File: p.path, Line: lineOfKey(p.data, name), Key: prefix + "pypi-dependencies." + name}
			if !IsValidName(name) {
				return parseErrorf(p.path, KindPixi, origin.Line, "invalid package name %q", name)
			}
			dep := Dependency{
				Name:       name,
				Normalized: Normalize(name),
				Groups:     groups,
				Kind:       KindPixi,
				Origin:     origin,
			}
			switch v := deps[name].(type) {
			case string:
				dep.Specifier = v
			case map[string]any:
				dep.Specifier, _ = v["version"].(string)
				dep.PackageExtras = stringList(v["extras"])
				for _, src := range []string{"git", "url", "path"} {
					if s, ok := v[src].(string); ok {
						dep.URL = s
					}
				}
			default:
				return parseErrorf(p.path, KindPixi, origin.Line, "unsupported pypi dependency value %s", describe(v))
			}
			if dep.Specifier == "*" {
				dep.Specifier = ""
			}
			p.set.Add(dep)
		}
	}
	return nil
}

func pixiSpec(v any) string {
	switch s := v.(type) {
	case string:
		if s == "*" {
			return ""
		}
		return s
	case map[string]any:
		if version, ok := s["version"].(string); ok && version != "*" {
			return version
		}
	}
	return ""
}

func describe(v any) string {
	return fmt.Sprintf("%T", v)
}
