package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
)

// NodeHandler processes a node for a language-specific extractor.
// Returns true if the handler has processed children and the walker should stop.
type NodeHandler func(ctx *ExtractionContext, node *sitter.Node) bool

// ExtractionContext carries shared state/helpers used by the extractor. The
// guard stack holds the contexts of enclosing try/except and TYPE_CHECKING
// blocks; the innermost one wins.
type ExtractionContext struct {
	Source []byte
	File   *FileImports

	engine *ExtractorEngine
	guards []Context
}

// ExtractorEngine walks the syntax tree and dispatches node handlers by kind.
type ExtractorEngine struct {
	handlers map[string]NodeHandler
}

func NewExtractorEngine(handlers map[string]NodeHandler) *ExtractorEngine {
	return &ExtractorEngine{handlers: handlers}
}

func (e *ExtractorEngine) Run(ctx *ExtractionContext, root *sitter.Node) {
	ctx.engine = e
	e.Walk(ctx, root)
}

func (e *ExtractorEngine) Walk(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil {
		return
	}
	if handler, ok := e.handlers[node.Kind()]; ok && handler(ctx, node) {
		return
	}
	e.WalkChildren(ctx, node)
}

func (e *ExtractorEngine) WalkChildren(ctx *ExtractionContext, node *sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		e.Walk(ctx, node.Child(i))
	}
}

// WalkGuarded walks node with guard pushed on the context stack.
func (c *ExtractionContext) WalkGuarded(node *sitter.Node, guard Context) {
	c.guards = append(c.guards, guard)
	c.engine.Walk(c, node)
	c.guards = c.guards[:len(c.guards)-1]
}

func (c *ExtractionContext) Walk(node *sitter.Node) {
	c.engine.Walk(c, node)
}

// Guard returns the innermost enclosing guard.
func (c *ExtractionContext) Guard() Context {
	if len(c.guards) == 0 {
		return ContextUnconditional
	}
	return c.guards[len(c.guards)-1]
}

func (c *ExtractionContext) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.Source[node.StartByte():node.EndByte()])
}

func (c *ExtractionContext) Location(node *sitter.Node) Location {
	return Location{
		File:   c.File.Path,
		Line:   int(node.StartPosition().Row) + 1,
		Column: int(node.StartPosition().Column) + 1,
	}
}
