package manifest

import (
	coreerr "depwise/internal/core/errors"
	"fmt"
)

// ParseError reports an unreadable, malformed or unsupported manifest.
type ParseError struct {
	Path string
	Kind Kind
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s manifest %s: %v", e.Kind, loc, e.Err)
	}
	return fmt.Sprintf("manifest %s: %v", loc, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) ErrorCode() coreerr.ErrorCode { return coreerr.CodeManifest }

// DynamicError reports a manifest whose dependency list cannot be determined
// without executing code.
type DynamicError struct {
	Path   string
	Field  string
	Line   int
	Reason string
}

func (e *DynamicError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	return fmt.Sprintf("%s: %s is not statically determinable: %s", loc, e.Field, e.Reason)
}

func (e *DynamicError) ErrorCode() coreerr.ErrorCode { return coreerr.CodeDynamicManifest }

func parseErrorf(path string, kind Kind, line int, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Kind: kind, Line: line, Err: fmt.Errorf(format, args...)}
}
