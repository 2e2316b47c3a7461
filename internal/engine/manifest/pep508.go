package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

var requirementName = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`)

// Requirement is a parsed dependency specification string:
// name[extras] (specifier | @ url) ; marker
type Requirement struct {
	Name      string
	Extras    []string
	Specifier string
	URL       string
	Marker    string
}

// ParseRequirement parses a single requirement string.
func ParseRequirement(raw string) (Requirement, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Requirement{}, fmt.Errorf("empty requirement")
	}

	var req Requirement
	name := requirementName.FindString(s)
	if name == "" {
		return Requirement{}, fmt.Errorf("invalid requirement %q: expected a package name", raw)
	}
	req.Name = name
	rest := strings.TrimSpace(s[len(name):])

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Requirement{}, fmt.Errorf("invalid requirement %q: unclosed extras", raw)
		}
		for _, e := range strings.Split(rest[1:end], ",") {
			if e = strings.TrimSpace(e); e != "" {
				req.Extras = append(req.Extras, e)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "@") {
		rest = strings.TrimSpace(rest[1:])
		// A marker after a URL must be separated by whitespace.
		if idx := strings.Index(rest, " ;"); idx >= 0 {
			req.Marker = strings.TrimSpace(rest[idx+2:])
			rest = rest[:idx]
		}
		req.URL = strings.TrimSpace(rest)
		if req.URL == "" {
			return Requirement{}, fmt.Errorf("invalid requirement %q: empty url", raw)
		}
		return req, nil
	}

	if idx := strings.Index(rest, ";"); idx >= 0 {
		req.Marker = strings.TrimSpace(rest[idx+1:])
		rest = rest[:idx]
	}
	spec := strings.TrimSpace(rest)
	if strings.HasPrefix(spec, "(") && strings.HasSuffix(spec, ")") {
		spec = strings.TrimSpace(spec[1 : len(spec)-1])
	}
	if spec != "" && !isSpecifier(spec) {
		return Requirement{}, fmt.Errorf("invalid requirement %q: unexpected %q", raw, spec)
	}
	req.Specifier = spec
	return req, nil
}

func isSpecifier(spec string) bool {
	for _, clause := range strings.Split(spec, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return false
		}
		if !strings.ContainsAny(clause[:1], "<>=!~") {
			return false
		}
	}
	return true
}

// Dependency converts the requirement into a declaration.
func (r Requirement) Dependency(kind Kind, origin Source, groups []string) Dependency {
	return Dependency{
		Name:          r.Name,
		Normalized:    Normalize(r.Name),
		Specifier:     r.Specifier,
		Marker:        r.Marker,
		URL:           r.URL,
		PackageExtras: r.Extras,
		Groups:        groups,
		Kind:          kind,
		Origin:        origin,
	}
}
