package manifest

import (
	"depwise/internal/shared/util"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
)

// RequirementsNormalizer reads pip requirements files, following -r includes.
type RequirementsNormalizer struct {
	// ReadFile loads included files; util.ReadFileRetry when nil.
	ReadFile func(string) ([]byte, error)
}

func (n *RequirementsNormalizer) Kind() Kind { return KindRequirements }

func (n *RequirementsNormalizer) Parse(path string, data []byte) (*DependencySet, error) {
	set := NewDependencySet(path)
	w := &requirementsWalker{
		read:    n.ReadFile,
		set:     set,
		kind:    KindRequirements,
		visited: map[string]bool{},
		active:  map[string]bool{},
	}
	if w.read == nil {
		w.read = util.ReadFileRetry
	}
	if err := w.walk(path, data); err != nil {
		return nil, err
	}
	return set, nil
}

type requirementsWalker struct {
	read    func(string) ([]byte, error)
	set     *DependencySet
	kind    Kind
	visited map[string]bool
	active  map[string]bool
}

type logicalLine struct {
	text string
	line int
}

func (w *requirementsWalker) walk(path string, data []byte) error {
	key := filepath.Clean(path)
	w.active[key] = true
	w.visited[key] = true
	defer delete(w.active, key)

	for _, ll := range logicalLines(string(data)) {
		if err := w.handle(path, ll.text, ll.line); err != nil {
			return err
		}
	}
	return nil
}

// handle processes one logical requirements line.
func (w *requirementsWalker) handle(path, text string, line int) error {
	text = stripComment(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "-") {
		return w.option(path, text, line)
	}
	// Per-requirement options such as --hash trail the specification.
	if idx := strings.Index(text, " --"); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}
	origin := Source{File: path, Line: line}

	req, err := ParseRequirement(text)
	if err == nil {
		w.set.Add(req.Dependency(w.kind, origin, nil))
		return nil
	}
	if looksLikeLocation(text) {
		w.location(text, origin)
		return nil
	}
	return &ParseError{Path: path, Kind: KindRequirements, Line: line, Err: err}
}

func (w *requirementsWalker) option(path, text string, line int) error {
	name, value := splitOption(text)
	switch name {
	case "-r", "--requirement":
		if value == "" {
			return parseErrorf(path, KindRequirements, line, "%s requires a file argument", name)
		}
		return w.include(path, value, line)
	case "-e", "--editable":
		if value == "" {
			return parseErrorf(path, KindRequirements, line, "%s requires an argument", name)
		}
		w.location(value, Source{File: path, Line: line})
		return nil
	case "-c", "--constraint":
		// Constraints pin versions without declaring anything.
		return nil
	default:
		slog.Debug("ignoring requirements option", "path", path, "line", line, "option", name)
		return nil
	}
}

func (w *requirementsWalker) include(from, target string, line int) error {
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(from), target)
	}
	key := filepath.Clean(target)
	if w.active[key] {
		return parseErrorf(from, KindRequirements, line, "circular include of %s", target)
	}
	if w.visited[key] {
		return nil
	}
	data, err := w.read(target)
	if err != nil {
		return &ParseError{Path: from, Kind: KindRequirements, Line: line, Err: fmt.Errorf("include %s: %w", target, err)}
	}
	w.set.Manifests = append(w.set.Manifests, target)
	return w.walk(target, data)
}

// location handles URL, VCS and path requirements, which only carry a name
// through an #egg= fragment.
func (w *requirementsWalker) location(text string, origin Source) {
	if name := eggName(text); name != "" {
		if req, err := ParseRequirement(name); err == nil {
			dep := req.Dependency(w.kind, origin, nil)
			dep.URL = text
			w.set.Add(dep)
			return
		}
	}
	w.set.AddNote(Note{
		Kind:    NoteUnnamed,
		Subject: text,
		Origin:  origin,
		Message: "requirement has no package name; add #egg=<name> to track it",
	})
}

// logicalLines joins backslash continuations and keeps the first physical
// line number of each logical line.
func logicalLines(content string) []logicalLine {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var (
		out     []logicalLine
		buf     strings.Builder
		startAt int
	)
	for i, raw := range strings.Split(content, "\n") {
		if buf.Len() == 0 {
			startAt = i + 1
		}
		trimmed := strings.TrimRight(raw, " \t")
		if strings.HasSuffix(trimmed, "\\") && !strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			buf.WriteString(strings.TrimSuffix(trimmed, "\\"))
			buf.WriteString(" ")
			continue
		}
		buf.WriteString(raw)
		out = append(out, logicalLine{text: buf.String(), line: startAt})
		buf.Reset()
	}
	if buf.Len() > 0 {
		out = append(out, logicalLine{text: buf.String(), line: startAt})
	}
	return out
}

// stripComment removes a '#' comment that starts the line or follows whitespace.
func stripComment(line string) string {
	for i, r := range line {
		if r != '#' {
			continue
		}
		if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
			return strings.TrimSpace(line[:i])
		}
	}
	return strings.TrimSpace(line)
}

func splitOption(text string) (string, string) {
	if strings.HasPrefix(text, "--") {
		if idx := strings.IndexAny(text, "= \t"); idx >= 0 {
			return text[:idx], strings.TrimSpace(strings.TrimLeft(text[idx:], "= \t"))
		}
		return text, ""
	}
	// Short options accept both "-r file" and "-rfile".
	if len(text) >= 2 {
		return text[:2], strings.TrimSpace(text[2:])
	}
	return text, ""
}

func looksLikeLocation(text string) bool {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "://"):
		return true
	case strings.HasPrefix(lower, "."), strings.HasPrefix(lower, "/"), strings.HasPrefix(lower, "~"):
		return true
	case strings.HasPrefix(lower, "git+"), strings.HasPrefix(lower, "hg+"), strings.HasPrefix(lower, "svn+"), strings.HasPrefix(lower, "bzr+"):
		return true
	case strings.HasSuffix(lower, ".whl"), strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".zip"):
		return true
	}
	return strings.Contains(text, "/") || strings.Contains(text, "\\")
}

func eggName(text string) string {
	idx := strings.Index(text, "#")
	if idx < 0 {
		return ""
	}
	values, err := url.ParseQuery(text[idx+1:])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values.Get("egg"))
}
