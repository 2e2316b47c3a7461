package resolver

import (
	"bufio"
	"bytes"
	"depwise/internal/engine/manifest"
	"depwise/internal/shared/util"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Environment is an Oracle backed by the installed distribution metadata
// of one or more site-packages directories. The index is built on first use
// and never changes afterwards. Nothing is executed or installed.
type Environment struct {
	dirs []string

	once      sync.Once
	installed map[string]bool
	providers map[string][]string
	err       error
}

func NewEnvironment(sitePackages ...string) *Environment {
	return &Environment{dirs: sitePackages}
}

// LocateSitePackages picks the site-packages directories to inspect:
// configured ones when given, otherwise those of $VIRTUAL_ENV, $CONDA_PREFIX
// or a project-local .venv/venv, in that order.
func LocateSitePackages(projectDir string, configured []string, getenv func(string) string) []string {
	if len(configured) > 0 {
		return configured
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	var prefixes []string
	for _, key := range []string{"VIRTUAL_ENV", "CONDA_PREFIX"} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			prefixes = append(prefixes, v)
		}
	}
	if projectDir != "" {
		prefixes = append(prefixes, filepath.Join(projectDir, ".venv"), filepath.Join(projectDir, "venv"))
	}
	for _, prefix := range prefixes {
		if dirs := sitePackagesUnder(prefix); len(dirs) > 0 {
			return dirs
		}
	}
	return nil
}

func sitePackagesUnder(prefix string) []string {
	var out []string
	for _, pattern := range []string{
		filepath.Join(prefix, "lib", "python3*", "site-packages"),
		filepath.Join(prefix, "lib64", "python3*", "site-packages"),
		filepath.Join(prefix, "Lib", "site-packages"),
	} {
		matches, _ := filepath.Glob(pattern)
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}

func (e *Environment) Dirs() []string { return append([]string(nil), e.dirs...) }

// Confirm reports whether a distribution with the normalized name is installed.
func (e *Environment) Confirm(pkg string) bool {
	e.once.Do(e.load)
	return e.installed[manifest.Normalize(pkg)]
}

// Providers lists installed distributions that ship the root of module.
func (e *Environment) Providers(module string) []string {
	e.once.Do(e.load)
	root, _, _ := strings.Cut(module, ".")
	return append([]string(nil), e.providers[root]...)
}

// Installed returns every installed distribution, sorted.
func (e *Environment) Installed() []string {
	e.once.Do(e.load)
	return util.SortedStringKeys(e.installed)
}

// Err reports why the index is empty, if no directory could be read.
func (e *Environment) Err() error {
	e.once.Do(e.load)
	return e.err
}

func (e *Environment) load() {
	e.installed = make(map[string]bool)
	e.providers = make(map[string][]string)
	if len(e.dirs) == 0 {
		e.err = fmt.Errorf("no site-packages directory found")
		return
	}

	readable := 0
	for _, dir := range e.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Debug("skipping site-packages", "path", dir, "error", err)
			continue
		}
		readable++
		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || !(strings.HasSuffix(name, ".dist-info") || strings.HasSuffix(name, ".egg-info")) {
				continue
			}
			e.index(filepath.Join(dir, name))
		}
	}
	if readable == 0 {
		e.err = fmt.Errorf("none of the site-packages directories could be read: %s", strings.Join(e.dirs, ", "))
	}
	for root, dists := range e.providers {
		e.providers[root] = util.UniqueSorted(dists)
	}
	slog.Debug("indexed environment", "distributions", len(e.installed), "modules", len(e.providers))
}

func (e *Environment) index(metaDir string) {
	dist := distributionName(metaDir)
	if dist == "" {
		return
	}
	e.installed[dist] = true
	for _, module := range topLevelModules(metaDir) {
		e.providers[module] = append(e.providers[module], dist)
	}
}

// distributionName reads the Name header of METADATA/PKG-INFO, falling back
// to the directory name.
func distributionName(metaDir string) string {
	for _, file := range []string{"METADATA", "PKG-INFO"} {
		data, err := os.ReadFile(filepath.Join(metaDir, file))
		if err != nil {
			continue
		}
		if name := metadataName(data); name != "" {
			return manifest.Normalize(name)
		}
	}
	base := filepath.Base(metaDir)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".dist-info"), ".egg-info")
	name, _, _ := strings.Cut(base, "-")
	return manifest.Normalize(name)
}

func metadataName(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// Headers end at the first blank line.
			break
		}
		if v, ok := strings.CutPrefix(line, "Name:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// topLevelModules prefers top_level.txt and otherwise derives import roots
// from the RECORD file list.
func topLevelModules(metaDir string) []string {
	if data, err := os.ReadFile(filepath.Join(metaDir, "top_level.txt")); err == nil {
		var out []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(strings.ReplaceAll(line, "\\", "/"))
			root, _, _ := strings.Cut(line, "/")
			if isModuleName(root) {
				out = append(out, root)
			}
		}
		if len(out) > 0 {
			return util.UniqueSorted(out)
		}
	}

	data, err := os.ReadFile(filepath.Join(metaDir, "RECORD"))
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		path, _, _ := strings.Cut(strings.TrimSpace(line), ",")
		path = strings.Trim(path, `"`)
		if path == "" || strings.HasPrefix(path, "..") || strings.HasPrefix(path, "/") {
			continue
		}
		first, rest, nested := strings.Cut(path, "/")
		switch {
		case strings.HasSuffix(first, ".dist-info"), strings.HasSuffix(first, ".egg-info"),
			strings.HasSuffix(first, ".data"), first == "__pycache__", strings.HasPrefix(first, "__editable__"):
			continue
		case !nested:
			// A single-file module such as six.py or an extension module.
			first = moduleFromFile(first)
		case rest == "":
			continue
		}
		if isModuleName(first) {
			seen[first] = true
		}
	}
	return util.SortedStringKeys(seen)
}

func moduleFromFile(name string) string {
	switch {
	case strings.HasSuffix(name, ".py"):
		return strings.TrimSuffix(name, ".py")
	case strings.HasSuffix(name, ".so"), strings.HasSuffix(name, ".pyd"):
		// _speedups.cpython-312-x86_64-linux-gnu.so -> _speedups
		base, _, _ := strings.Cut(name, ".")
		return base
	}
	return ""
}

func isModuleName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
