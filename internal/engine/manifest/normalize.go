package manifest

import (
	"regexp"
	"strings"
)

var (
	separatorRun = regexp.MustCompile(`[-_.]+`)
	validName    = regexp.MustCompile(`^([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9._-]*[A-Za-z0-9])$`)
)

// Normalize folds a distribution name to its canonical form: lower-case with
// every run of '-', '_' and '.' collapsed to a single '-'.
func Normalize(name string) string {
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// IsValidName reports whether name is a syntactically valid distribution name.
func IsValidName(name string) bool {
	return validName.MatchString(name)
}

// NormalizeGroups normalizes extras group names, dropping empties and duplicates.
func NormalizeGroups(groups []string) []string {
	seen := make(map[string]bool, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		n := Normalize(g)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
