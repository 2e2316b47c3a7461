package manifest

import (
	"depwise/internal/engine/parser"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	sitter "github.com/tree-sitter/go-tree-sitter"
)

var setupCallees = map[string]bool{
	"setup":                true,
	"setuptools.setup":     true,
	"distutils.core.setup": true,
}

// SetupNormalizer reads setuptools metadata from setup.cfg or, statically,
// from the literal arguments of the setup() call in setup.py. Nothing is
// executed; anything that is not a literal is reported as a DynamicError.
type SetupNormalizer struct {
	pool *parser.ParserPool
}

func NewSetupNormalizer() *SetupNormalizer {
	return &SetupNormalizer{pool: parser.NewParserPool(parser.PythonLanguage())}
}

func (n *SetupNormalizer) Kind() Kind { return KindSetup }

func (n *SetupNormalizer) Parse(path string, data []byte) (*DependencySet, error) {
	if strings.EqualFold(filepath.Ext(path), ".cfg") {
		return parseSetupCfg(path, data)
	}
	return n.parseSetupPy(path, data)
}

// ---- setup.cfg ----

func loadSetupCfg(data []byte) (*ini.File, error) {
	return ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
		SkipUnrecognizableLines:    true,
		KeyValueDelimiters:         "=",
	}, data)
}

func parseSetupCfg(path string, data []byte) (*DependencySet, error) {
	cfg, err := loadSetupCfg(data)
	if err != nil {
		return nil, &ParseError{Path: path, Kind: KindSetup, Err: err}
	}
	set := NewDependencySet(path)
	if meta, err := cfg.GetSection("metadata"); err == nil {
		set.ProjectName = strings.TrimSpace(meta.Key("name").String())
	}

	if opts, err := cfg.GetSection("options"); err == nil && opts.HasKey("install_requires") {
		value := opts.Key("install_requires").Value()
		if err := addCfgList(set, path, data, "options.install_requires", "install_requires", value, nil); err != nil {
			return nil, err
		}
	}

	if extras, err := cfg.GetSection("options.extras_require"); err == nil {
		for _, key := range extras.Keys() {
			group, marker := splitExtraKey(key.Name())
			set.DeclareGroup(group)
			field := "options.extras_require." + key.Name()
			if err := addCfgListMarker(set, path, data, field, key.Name(), key.Value(), []string{group}, marker); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

func addCfgList(set *DependencySet, path string, data []byte, field, key, value string, groups []string) error {
	return addCfgListMarker(set, path, data, field, key, value, groups, "")
}

func addCfgListMarker(set *DependencySet, path string, data []byte, field, key, value string, groups []string, marker string) error {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "file:") || strings.HasPrefix(value, "attr:") {
		return &DynamicError{
			Path:   path,
			Field:  field,
			Line:   lineOfKey(data, key),
			Reason: fmt.Sprintf("value is loaded indirectly via %q", strings.SplitN(value, ":", 2)[0]+":"),
		}
	}
	for _, raw := range strings.Split(value, "\n") {
		text := strings.TrimSpace(stripComment(raw))
		if text == "" {
			continue
		}
		line := lineOf(data, text)
		req, err := ParseRequirement(text)
		if err != nil {
			return &ParseError{Path: path, Kind: KindSetup, Line: line, Err: err}
		}
		dep := req.Dependency(KindSetup, Source{File: path, Line: line, Key: field}, groups)
		dep.Marker = joinMarkers(dep.Marker, marker)
		set.Add(dep)
	}
	return nil
}

// hasSetupCfgOptions reports whether setup.cfg declares requirements rather
// than only tool settings (flake8, isort and friends).
func hasSetupCfgOptions(data []byte) bool {
	cfg, err := loadSetupCfg(data)
	if err != nil {
		return false
	}
	if opts, err := cfg.GetSection("options"); err == nil && opts.HasKey("install_requires") {
		return true
	}
	return cfg.HasSection("options.extras_require")
}

// splitExtraKey separates the legacy `extra:marker` form of an extras key.
func splitExtraKey(key string) (string, string) {
	name, marker, _ := strings.Cut(key, ":")
	return strings.TrimSpace(name), strings.TrimSpace(marker)
}

func joinMarkers(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return "(" + a + ") and (" + b + ")"
}

// ---- setup.py ----

type setupPy struct {
	path     string
	data     []byte
	bindings map[string]*sitter.Node
	set      *DependencySet
}

func (n *SetupNormalizer) parseSetupPy(path string, data []byte) (*DependencySet, error) {
	tree, err := n.pool.Parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Kind: KindSetup, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, parseErrorf(path, KindSetup, 0, "setup.py has syntax errors")
	}

	doc := &setupPy{
		path:     path,
		data:     data,
		bindings: moduleBindings(root, data),
		set:      NewDependencySet(path),
	}
	call := doc.findSetupCall(root)
	if call == nil {
		return nil, parseErrorf(path, KindSetup, 0, "no setup() call found")
	}
	if err := doc.readCall(call); err != nil {
		return nil, err
	}
	return doc.set, nil
}

// moduleBindings records top-level `NAME = <expr>` assignments so that
// install_requires=REQUIREMENTS can be followed one step.
func moduleBindings(root *sitter.Node, data []byte) map[string]*sitter.Node {
	out := make(map[string]*sitter.Node)
	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		if stmt.Kind() != "expression_statement" || stmt.NamedChildCount() == 0 {
			continue
		}
		assign := stmt.NamedChild(0)
		if assign.Kind() != "assignment" {
			continue
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || left.Kind() != "identifier" {
			continue
		}
		out[nodeText(left, data)] = right
	}
	return out
}

func (d *setupPy) findSetupCall(node *sitter.Node) *sitter.Node {
	if node.Kind() == "call" {
		if fn := node.ChildByFieldName("function"); fn != nil && setupCallees[nodeText(fn, d.data)] {
			return node
		}
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if found := d.findSetupCall(node.NamedChild(i)); found != nil {
			return found
		}
	}
	return nil
}

func (d *setupPy) readCall(call *sitter.Node) error {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	kwargs := make(map[string]*sitter.Node)
	splat := false
	for i := uint(0); i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		switch arg.Kind() {
		case "keyword_argument":
			name := nodeText(arg.ChildByFieldName("name"), d.data)
			kwargs[name] = arg.ChildByFieldName("value")
		case "dictionary_splat":
			splat = true
		}
	}

	if name, ok := parser.StringLiteral(kwargs["name"], d.data); ok {
		d.set.ProjectName = name
	}

	install, ok := kwargs["install_requires"]
	switch {
	case ok:
		reqs, err := d.list(install, "install_requires", 0)
		if err != nil {
			return err
		}
		if err := d.addAll(reqs, "setup.install_requires", nil); err != nil {
			return err
		}
	case splat:
		return &DynamicError{
			Path:   d.path,
			Field:  "install_requires",
			Line:   nodeLine(call),
			Reason: "setup() receives **kwargs and install_requires is not passed literally",
		}
	}

	if extras, ok := kwargs["extras_require"]; ok {
		if err := d.extras(extras); err != nil {
			return err
		}
	}
	return nil
}

type literalReq struct {
	text string
	line int
}

// list evaluates a list/tuple of string literals, a name bound to one, a
// concatenation of those, or a newline-separated string.
func (d *setupPy) list(node *sitter.Node, field string, depth int) ([]literalReq, error) {
	if node == nil {
		return nil, nil
	}
	if depth > 8 {
		return nil, d.dynamic(node, field, "binding chain too deep")
	}
	switch node.Kind() {
	case "list", "tuple":
		var out []literalReq
		for i := uint(0); i < node.NamedChildCount(); i++ {
			item := node.NamedChild(i)
			if item.Kind() == "comment" {
				continue
			}
			s, ok := parser.StringLiteral(item, d.data)
			if !ok {
				return nil, d.dynamic(item, field, fmt.Sprintf("element %q is not a string literal", nodeText(item, d.data)))
			}
			out = append(out, literalReq{text: s, line: nodeLine(item)})
		}
		return out, nil
	case "identifier":
		bound, ok := d.bindings[nodeText(node, d.data)]
		if !ok {
			return nil, d.dynamic(node, field, fmt.Sprintf("%s is not bound to a literal at module level", nodeText(node, d.data)))
		}
		return d.list(bound, field, depth+1)
	case "binary_operator":
		op := node.ChildByFieldName("operator")
		if op == nil || op.Kind() != "+" {
			break
		}
		left, err := d.list(node.ChildByFieldName("left"), field, depth+1)
		if err != nil {
			return nil, err
		}
		right, err := d.list(node.ChildByFieldName("right"), field, depth+1)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	case "parenthesized_expression":
		if node.NamedChildCount() == 1 {
			return d.list(node.NamedChild(0), field, depth+1)
		}
	case "string", "concatenated_string":
		s, ok := parser.StringLiteral(node, d.data)
		if !ok {
			break
		}
		var out []literalReq
		for i, l := range strings.Split(s, "\n") {
			if l = strings.TrimSpace(stripComment(l)); l != "" {
				out = append(out, literalReq{text: l, line: nodeLine(node) + i})
			}
		}
		return out, nil
	}
	return nil, d.dynamic(node, field, fmt.Sprintf("%s expression cannot be evaluated statically", node.Kind()))
}

func (d *setupPy) extras(node *sitter.Node) error {
	if node.Kind() == "identifier" {
		bound, ok := d.bindings[nodeText(node, d.data)]
		if !ok {
			return d.dynamic(node, "extras_require", "extras_require is not bound to a literal at module level")
		}
		node = bound
	}
	if node.Kind() != "dictionary" {
		return d.dynamic(node, "extras_require", "extras_require is not a dict literal")
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		pair := node.NamedChild(i)
		if pair.Kind() == "comment" {
			continue
		}
		if pair.Kind() != "pair" {
			return d.dynamic(pair, "extras_require", "dict entries must be literal key/value pairs")
		}
		key, ok := parser.StringLiteral(pair.ChildByFieldName("key"), d.data)
		if !ok {
			return d.dynamic(pair, "extras_require", "extra name is not a string literal")
		}
		group, marker := splitExtraKey(key)
		field := "extras_require." + key
		reqs, err := d.list(pair.ChildByFieldName("value"), field, 0)
		if err != nil {
			return err
		}
		d.set.DeclareGroup(group)
		for _, r := range reqs {
			dep, err := d.requirement(r, "setup."+field, []string{group})
			if err != nil {
				return err
			}
			dep.Marker = joinMarkers(dep.Marker, marker)
			d.set.Add(dep)
		}
	}
	return nil
}

func (d *setupPy) addAll(reqs []literalReq, key string, groups []string) error {
	for _, r := range reqs {
		dep, err := d.requirement(r, key, groups)
		if err != nil {
			return err
		}
		d.set.Add(dep)
	}
	return nil
}

func (d *setupPy) requirement(r literalReq, key string, groups []string) (Dependency, error) {
	req, err := ParseRequirement(r.text)
	if err != nil {
		return Dependency{}, &ParseError{Path: d.path, Kind: KindSetup, Line: r.line, Err: err}
	}
	return req.Dependency(KindSetup, Source{File: d.path, Line: r.line, Key: key}, groups), nil
}

func (d *setupPy) dynamic(node *sitter.Node, field, reason string) *DynamicError {
	return &DynamicError{Path: d.path, Field: field, Line: nodeLine(node), Reason: reason}
}

func nodeText(node *sitter.Node, data []byte) string {
	if node == nil {
		return ""
	}
	return string(data[node.StartByte():node.EndByte()])
}

func nodeLine(node *sitter.Node) int {
	if node == nil {
		return 0
	}
	return int(node.StartPosition().Row) + 1
}
