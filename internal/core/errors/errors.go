package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeValidationError  ErrorCode = "VALIDATION_ERROR"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeNotSupported     ErrorCode = "NOT_SUPPORTED"
	CodeConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	CodeParse            ErrorCode = "PARSE_ERROR"
	CodeManifest         ErrorCode = "MANIFEST_ERROR"
	CodeDynamicManifest  ErrorCode = "DYNAMIC_MANIFEST"
	CodeIncomplete       ErrorCode = "INCOMPLETE_ANALYSIS"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// DomainError is the error shape shared by the core packages. Context carries
// structured details (path, manifest, extras combination) for logs and reports.
type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

const (
	CtxPath        = "path"
	CtxOperation   = "operation"
	CtxManifest    = "manifest"
	CtxPackage     = "package"
	CtxCombination = "combination"
)

func (e *DomainError) WithContext(key string, value any) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		msg += " (" + strings.Join(parts, " ") + ")"
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Newf(code ErrorCode, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// Configuration builds a CONFIGURATION_ERROR carrying a single context pair.
func Configuration(msg, key string, value any) error {
	return (&DomainError{Code: CodeConfiguration, Message: msg}).WithContext(key, value)
}

// AddContext attaches a context pair to the first DomainError in the chain,
// wrapping err as an internal error when there is none.
func AddContext(err error, key string, value any) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return err
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]any{key: value},
	}
}

// Coded is implemented by package-level error types (parse and manifest
// errors) so they classify alongside DomainError.
type Coded interface {
	ErrorCode() ErrorCode
}

func (e *DomainError) ErrorCode() ErrorCode {
	return e.Code
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first coded error in the chain.
func CodeOf(err error) ErrorCode {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
