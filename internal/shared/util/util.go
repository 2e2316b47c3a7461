package util

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// retryDelay is the pause before the single re-read of a file.
var retryDelay = 25 * time.Millisecond

// NormalizePatternPath cleans and normalizes paths for matcher/pattern usage.
func NormalizePatternPath(s string) string {
	trimmed := strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
	clean := path.Clean(trimmed)
	if clean == "." {
		return ""
	}
	return strings.TrimPrefix(clean, "./")
}

// SortedStringKeys returns the map's keys in sorted order.
func SortedStringKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// UniqueSorted returns the distinct non-empty values in sorted order.
func UniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			seen[v] = true
		}
	}
	return SortedStringKeys(seen)
}

// ReadFileRetry reads path, retrying once when the failure looks transient.
// Missing files, permission problems and directories fail immediately.
func ReadFileRetry(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil || !IsTransientReadError(err) {
		return data, err
	}
	time.Sleep(retryDelay)
	return os.ReadFile(path)
}

func IsTransientReadError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrInvalid) {
		return false
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && strings.Contains(strings.ToLower(pathErr.Err.Error()), "is a directory") {
		return false
	}
	return true
}
