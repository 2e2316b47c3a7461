package analysis

import (
	coreerr "depwise/internal/core/errors"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"depwise/internal/shared/util"
	"fmt"
	"regexp"
)

// IgnoreRules filter findings after classification.
//
//	Names   - package or import names, compared after normalization
//	Imports - regexes matched against the whole dotted module path
//	Paths   - regexes searched in the slash-separated file path
type IgnoreRules struct {
	Names   map[string]bool
	Imports []*regexp.Regexp
	Paths   []*regexp.Regexp
}

// CompileIgnore validates and compiles ignore configuration.
func CompileIgnore(names, imports, paths []string) (IgnoreRules, error) {
	rules := IgnoreRules{Names: make(map[string]bool, len(names))}
	for _, n := range names {
		if n = manifest.Normalize(n); n != "" {
			rules.Names[n] = true
		}
	}
	for _, pattern := range imports {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return IgnoreRules{}, coreerr.Configuration(fmt.Sprintf("invalid ignore import pattern: %v", err), "pattern", pattern)
		}
		rules.Imports = append(rules.Imports, re)
	}
	for _, pattern := range paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return IgnoreRules{}, coreerr.Configuration(fmt.Sprintf("invalid ignore path pattern: %v", err), "pattern", pattern)
		}
		rules.Paths = append(rules.Paths, re)
	}
	return rules, nil
}

func (r IgnoreRules) Empty() bool {
	return len(r.Names) == 0 && len(r.Imports) == 0 && len(r.Paths) == 0
}

// Apply returns the findings that survive the rules. Import-backed findings
// lose the occurrences matched by import or path rules and are dropped when
// none remain.
func (r IgnoreRules) Apply(findings []Finding) []Finding {
	if r.Empty() {
		return append([]Finding(nil), findings...)
	}
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if r.ignoredName(f) {
			continue
		}
		if f.Kind == KindUnused {
			out = append(out, f)
			continue
		}
		kept := make([]parser.ImportRecord, 0, len(f.Imports))
		for _, rec := range f.Imports {
			if !r.ignoredImport(rec) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			continue
		}
		f.Imports = kept
		out = append(out, f)
	}
	return out
}

func (r IgnoreRules) ignoredName(f Finding) bool {
	if len(r.Names) == 0 {
		return false
	}
	if r.Names[manifest.Normalize(f.Subject)] {
		return true
	}
	for _, c := range f.Candidates {
		if r.Names[c.Package] {
			return true
		}
	}
	return false
}

func (r IgnoreRules) ignoredImport(rec parser.ImportRecord) bool {
	for _, re := range r.Imports {
		if re.MatchString(rec.Module) {
			return true
		}
	}
	path := util.NormalizePatternPath(rec.Location.File)
	for _, re := range r.Paths {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
