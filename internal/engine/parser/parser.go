package parser

import (
	coreerr "depwise/internal/core/errors"
	"depwise/internal/shared/observability"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// ParseError reports a source file that could not be parsed; the file is
// skipped and the run continues.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ParseError) ErrorCode() coreerr.ErrorCode { return coreerr.CodeParse }

// Parser extracts import records from Python sources. It is safe for
// concurrent use; parse trees never outlive a ParseFile call.
type Parser struct {
	pool      *ParserPool
	extractor *PythonExtractor
}

// New builds a parser. projectName is the project's declared distribution
// name (may be empty); its import form tags re-exports in __init__ files.
func New(projectName string) *Parser {
	return &Parser{
		pool:      NewParserPool(PythonLanguage()),
		extractor: &PythonExtractor{ProjectPackage: ImportName(projectName)},
	}
}

// ImportName maps a distribution name to the module name it conventionally
// installs ("my-pkg" -> "my_pkg").
func ImportName(projectName string) string {
	name := strings.ToLower(strings.TrimSpace(projectName))
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// ParseFile extracts the imports of one file. A file without imports yields
// an empty result; a file with syntax errors yields a *ParseError.
func (p *Parser) ParseFile(path string, content []byte) (*FileImports, error) {
	start := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues("python").Observe(time.Since(start).Seconds())
	}()

	tree, err := p.pool.Parse(content)
	if err != nil {
		observability.FilesParsed.WithLabelValues("error").Inc()
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		observability.FilesParsed.WithLabelValues("syntax_error").Inc()
		return nil, syntaxError(path, root)
	}

	file := &FileImports{
		Path:        path,
		PackageInit: p.isProjectInit(path),
	}
	p.extractor.Extract(root, content, file)
	observability.FilesParsed.WithLabelValues("ok").Inc()
	return file, nil
}

// isProjectInit reports whether path is an __init__.py inside the project's
// own package directory.
func (p *Parser) isProjectInit(path string) bool {
	if filepath.Base(path) != "__init__.py" || p.extractor.ProjectPackage == "" {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if segment == p.extractor.ProjectPackage {
			return true
		}
	}
	return false
}

func syntaxError(path string, root *sitter.Node) *ParseError {
	node := firstErrorNode(root)
	if node == nil {
		node = root
	}
	reason := "syntax error"
	if node.IsMissing() {
		reason = fmt.Sprintf("missing %s", node.Kind())
	}
	pos := node.StartPosition()
	return &ParseError{
		Path:   path,
		Line:   int(pos.Row) + 1,
		Column: int(pos.Column) + 1,
		Reason: reason,
	}
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil || !node.HasError() {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.IsError() || child.IsMissing() {
			return child
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return node
}
