package resolver

import (
	_ "embed"
	"strings"
)

//go:embed data/stdlib.txt
var pythonStdlibData string

var pythonStdlib = map[string]bool{}

func init() {
	for _, line := range strings.Split(pythonStdlibData, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			pythonStdlib[line] = true
		}
	}
}

// IsStdlib reports whether module (or its root, for dotted paths) belongs to
// the Python standard library or is a builtin module.
func IsStdlib(module string) bool {
	root, _, _ := strings.Cut(strings.TrimSpace(module), ".")
	return pythonStdlib[root]
}
