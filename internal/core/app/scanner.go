package app

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

var sourceExtensions = map[string]bool{".py": true, ".pyi": true}

func compileGlobs(patterns []string, label string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", label, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// uniqueRoots cleans, absolutizes and deduplicates paths.
func uniqueRoots(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		normalized := filepath.Clean(p)
		if abs, err := filepath.Abs(normalized); err == nil {
			normalized = filepath.Clean(abs)
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		roots = append(roots, normalized)
	}
	sort.Strings(roots)
	return roots
}

// ScanSources lists the Python sources under roots. A root that is a file is
// taken as is; directories matching excludeDirs (by base name) and virtual
// environments are skipped, except the roots themselves.
func (a *App) ScanSources(roots []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, root := range uniqueRoots(roots) {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			base := filepath.Base(path)
			if d.IsDir() {
				if path != root && (matchAny(a.excludeDirs, base) || isVirtualEnv(path)) {
					return filepath.SkipDir
				}
				return nil
			}
			if !sourceExtensions[strings.ToLower(filepath.Ext(base))] {
				return nil
			}
			if matchAny(a.excludeFiles, base) {
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// isVirtualEnv reports whether dir is a virtual environment, whatever its name.
func isVirtualEnv(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "pyvenv.cfg"))
	return err == nil
}

// LocalModules derives the top-level module names that belong to the project
// from the scanned files: the first path component below the containing root,
// looking through a src/ layout. A root that is itself a package adds its own name.
func LocalModules(roots, files []string) map[string]bool {
	roots = uniqueRoots(roots)
	out := make(map[string]bool)
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			addModule(out, moduleStem(filepath.Base(root)))
			continue
		}
		if _, err := os.Stat(filepath.Join(root, "__init__.py")); err == nil {
			addModule(out, filepath.Base(root))
		}
	}

	for _, file := range files {
		root := containingRoot(file, roots)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) > 1 && parts[0] == "src" {
			parts = parts[1:]
		}
		name := parts[0]
		if len(parts) == 1 {
			name = moduleStem(name)
		}
		addModule(out, name)
	}
	return out
}

func moduleStem(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".pyi"), ".py")
}

func addModule(set map[string]bool, name string) {
	if name == "" || name == "__init__" || name == "__main__" {
		return
	}
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return
	}
	set[name] = true
}

// containingRoot returns the deepest directory root holding path.
func containingRoot(path string, roots []string) string {
	best := ""
	for _, root := range roots {
		if root == path {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			continue
		}
		if len(root) > len(best) {
			best = root
		}
	}
	return best
}

// displayPath makes path relative to the project root when it lies below it.
func displayPath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
