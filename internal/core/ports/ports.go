package ports

import (
	"context"
	"depwise/internal/data/history"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
)

// SourceParser extracts import records from one Python source file.
type SourceParser interface {
	ParseFile(path string, content []byte) (*parser.FileImports, error)
}

// ManifestReader reads and normalizes one manifest.
type ManifestReader interface {
	Parse(ref manifest.Ref) (*manifest.DependencySet, error)
}

// EnvironmentOracle answers questions about an already-installed Python
// environment. Implementations must not install or execute anything.
type EnvironmentOracle interface {
	Confirm(pkg string) bool
	Providers(module string) []string
	Dirs() []string
	Err() error
}

// HistoryStore persists check runs for the history command and run deltas.
type HistoryStore interface {
	SaveRun(ctx context.Context, run history.Run) (history.Run, error)
	ListRuns(ctx context.Context, projectKey string, limit int) ([]history.Run, error)
	LoadRun(ctx context.Context, id string) (history.Run, error)
	Prune(ctx context.Context, projectKey string, keep int) (int64, error)
	Close() error
}
