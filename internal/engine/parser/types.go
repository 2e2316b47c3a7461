package parser

import (
	"fmt"
	"iter"
	"slices"
)

// Context describes the innermost guard enclosing an import statement.
type Context int

const (
	ContextUnconditional Context = iota
	ContextTryExcept
	ContextTypeChecking
	ContextReExport
)

var contextNames = map[Context]string{
	ContextUnconditional: "unconditional",
	ContextTryExcept:     "inside-try-except",
	ContextTypeChecking:  "inside-type-checking-guard",
	ContextReExport:      "re-export",
}

func (c Context) String() string {
	if name, ok := contextNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Context(%d)", int(c))
}

func (c Context) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Guarded reports whether the import only runs behind an optional-import guard.
func (c Context) Guarded() bool {
	return c == ContextTryExcept || c == ContextTypeChecking
}

type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// ImportRecord is one statically determined import of an absolute module.
type ImportRecord struct {
	Root     string   `json:"root"`
	Module   string   `json:"module"`
	Names    []string `json:"names,omitempty"`
	Alias    string   `json:"alias,omitempty"`
	From     bool     `json:"from,omitempty"`
	Dynamic  bool     `json:"dynamic,omitempty"`
	Context  Context  `json:"context"`
	Location Location `json:"location"`
}

// Unresolvable marks a dynamic import whose target is computed at runtime.
type Unresolvable struct {
	Expression string   `json:"expression"`
	Location   Location `json:"location"`
}

// FileImports is the extraction result for one source file.
type FileImports struct {
	Path          string
	PackageInit   bool
	Unresolvable  []Unresolvable
	RelativeCount int

	records []ImportRecord
}

// Records yields the file's import records in source order. The sequence can
// be ranged over any number of times.
func (f *FileImports) Records() iter.Seq[ImportRecord] {
	return slices.Values(f.records)
}

func (f *FileImports) Len() int {
	return len(f.records)
}

// NewFileImports builds an extraction result from records produced elsewhere,
// such as a cache or a test fixture.
func NewFileImports(path string, records ...ImportRecord) *FileImports {
	f := &FileImports{Path: path}
	for _, rec := range records {
		if rec.Location.File == "" {
			rec.Location.File = path
		}
		if rec.Root == "" {
			rec.Root = rootOf(rec.Module)
		}
		f.records = append(f.records, rec)
	}
	return f
}
