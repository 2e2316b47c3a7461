package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

var dynamicImportFuncs = map[string]bool{
	"importlib.import_module": true,
	"import_module":           true,
	"__import__":              true,
}

// PythonExtractor collects import records from a Python syntax tree.
type PythonExtractor struct {
	// ProjectPackage is the import name of the project's own package, used to
	// tag re-exports in its __init__ modules.
	ProjectPackage string
}

func (e *PythonExtractor) Extract(root *sitter.Node, source []byte, file *FileImports) {
	ctx := &ExtractionContext{Source: source, File: file}
	engine := NewExtractorEngine(map[string]NodeHandler{
		"import_statement":        e.extractImport,
		"import_from_statement":   e.extractFromImport,
		"future_import_statement": skipNode,
		"try_statement":           e.extractTry,
		"if_statement":            e.extractIf,
		"call":                    e.extractCall,
	})
	engine.Run(ctx, root)
}

func skipNode(*ExtractionContext, *sitter.Node) bool { return true }

func (e *PythonExtractor) extractImport(ctx *ExtractionContext, node *sitter.Node) bool {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		var nameNode *sitter.Node
		alias := ""
		switch child.Kind() {
		case "dotted_name":
			nameNode = child
		case "aliased_import":
			nameNode = child.ChildByFieldName("name")
			alias = ctx.Text(child.ChildByFieldName("alias"))
		default:
			continue
		}
		module := ctx.Text(nameNode)
		if module == "" {
			continue
		}
		e.add(ctx, ImportRecord{
			Module:   module,
			Alias:    alias,
			Location: ctx.Location(child),
		})
	}
	return true
}

func (e *PythonExtractor) extractFromImport(ctx *ExtractionContext, node *sitter.Node) bool {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return true
	}
	if moduleNode.Kind() == "relative_import" {
		// Relative imports always refer to the project itself.
		ctx.File.RelativeCount++
		return true
	}

	var names []string
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.StartByte() == moduleNode.StartByte() && child.EndByte() == moduleNode.EndByte() {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			names = append(names, ctx.Text(child))
		case "aliased_import":
			names = append(names, ctx.Text(child.ChildByFieldName("name")))
		case "wildcard_import":
			names = append(names, "*")
		}
	}

	e.add(ctx, ImportRecord{
		Module:   ctx.Text(moduleNode),
		Names:    names,
		From:     true,
		Location: ctx.Location(node),
	})
	return true
}

// extractTry guards the try body of a try statement that has at least one
// except clause. Handler, else and finally blocks keep the outer context.
func (e *PythonExtractor) extractTry(ctx *ExtractionContext, node *sitter.Node) bool {
	if !hasExceptClause(node) {
		return false
	}
	body := node.ChildByFieldName("body")
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if body != nil && child.StartByte() == body.StartByte() && child.EndByte() == body.EndByte() {
			ctx.WalkGuarded(child, ContextTryExcept)
			continue
		}
		ctx.Walk(child)
	}
	return true
}

func hasExceptClause(node *sitter.Node) bool {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		switch node.NamedChild(i).Kind() {
		case "except_clause", "except_group_clause":
			return true
		}
	}
	return false
}

// extractIf guards the consequence of `if TYPE_CHECKING:`; elif/else branches
// run at runtime and keep the outer context.
func (e *PythonExtractor) extractIf(ctx *ExtractionContext, node *sitter.Node) bool {
	if !isTypeCheckingTest(ctx, node.ChildByFieldName("condition")) {
		return false
	}
	consequence := node.ChildByFieldName("consequence")
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if consequence != nil && child.StartByte() == consequence.StartByte() && child.EndByte() == consequence.EndByte() {
			ctx.WalkGuarded(child, ContextTypeChecking)
			continue
		}
		ctx.Walk(child)
	}
	return true
}

func isTypeCheckingTest(ctx *ExtractionContext, cond *sitter.Node) bool {
	if cond == nil {
		return false
	}
	switch cond.Kind() {
	case "identifier":
		return ctx.Text(cond) == "TYPE_CHECKING"
	case "attribute":
		return ctx.Text(cond.ChildByFieldName("attribute")) == "TYPE_CHECKING"
	case "parenthesized_expression":
		if cond.NamedChildCount() == 1 {
			return isTypeCheckingTest(ctx, cond.NamedChild(0))
		}
	}
	return false
}

// extractCall records importlib.import_module / __import__ calls. Literal
// targets become records; computed targets are marked unresolvable.
func (e *PythonExtractor) extractCall(ctx *ExtractionContext, node *sitter.Node) bool {
	fn := node.ChildByFieldName("function")
	if fn == nil || !dynamicImportFuncs[ctx.Text(fn)] {
		return false
	}
	args := node.ChildByFieldName("arguments")
	var first *sitter.Node
	if args != nil {
		for i := uint(0); i < args.NamedChildCount(); i++ {
			if c := args.NamedChild(i); c.Kind() != "comment" {
				first = c
				break
			}
		}
	}
	if first == nil {
		return false
	}
	if first.Kind() == "keyword_argument" && ctx.Text(first.ChildByFieldName("name")) == "name" {
		first = first.ChildByFieldName("value")
	}

	module, ok := StringLiteral(first, ctx.Source)
	switch {
	case ok && strings.HasPrefix(module, "."):
		ctx.File.RelativeCount++
	case ok && isDottedIdentifier(module):
		e.add(ctx, ImportRecord{
			Module:   module,
			Dynamic:  true,
			Location: ctx.Location(node),
		})
	default:
		ctx.File.Unresolvable = append(ctx.File.Unresolvable, Unresolvable{
			Expression: ctx.Text(node),
			Location:   ctx.Location(node),
		})
	}
	return false
}

func (e *PythonExtractor) add(ctx *ExtractionContext, rec ImportRecord) {
	rec.Root = rootOf(rec.Module)
	if !isIdentifier(rec.Root) {
		return
	}
	rec.Context = ctx.Guard()
	if rec.Context == ContextUnconditional && ctx.File.PackageInit && e.ProjectPackage != "" && rec.Root == e.ProjectPackage {
		rec.Context = ContextReExport
	}
	ctx.File.records = append(ctx.File.records, rec)
}

func rootOf(module string) string {
	module = strings.TrimSpace(module)
	if idx := strings.IndexByte(module, '.'); idx >= 0 {
		return module[:idx]
	}
	return module
}

func isDottedIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isIdentifier(part) {
			return false
		}
	}
	return true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r > 127:
		default:
			return false
		}
	}
	return true
}
