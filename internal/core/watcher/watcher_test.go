package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitFor(t *testing.T, changed <-chan []string, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == want {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change of %s", want)
		}
	}
}

func expectQuiet(t *testing.T, changed <-chan []string, name string, wait time.Duration) {
	t.Helper()
	select {
	case paths := <-changed:
		for _, p := range paths {
			if filepath.Base(p) == name {
				t.Errorf("unexpected change event for %s: %v", name, paths)
			}
		}
	case <-time.After(wait):
	}
}

func TestNewWatcher_RejectsNilCallback(t *testing.T) {
	w, err := NewWatcher(100*time.Millisecond, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for nil callback")
	}
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher when callback is invalid")
	}
}

func TestNewWatcher_RejectsBadPattern(t *testing.T) {
	if _, err := NewWatcher(time.Millisecond, []string{"["}, nil, func([]string) {}); err == nil {
		t.Fatal("expected error for invalid exclude pattern")
	}
}

func TestWatcher(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(100*time.Millisecond, []string{".venv"}, []string{"*_pb2.py"}, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch([]string{tmpDir}); err != nil {
		t.Fatal(err)
	}

	source := filepath.Join(tmpDir, "app.py")
	if err := os.WriteFile(source, []byte("import requests\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, source, 2*time.Second)

	manifest := filepath.Join(tmpDir, "requirements-dev.txt")
	if err := os.WriteFile(manifest, []byte("pytest\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, manifest, 2*time.Second)

	if err := os.WriteFile(filepath.Join(tmpDir, "schema_pb2.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, changedFiles, "schema_pb2.py", 400*time.Millisecond)

	if err := os.WriteFile(filepath.Join(tmpDir, "notes.md"), []byte("# notes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, changedFiles, "notes.md", 400*time.Millisecond)

	// New directories are watched once created.
	subdir := filepath.Join(tmpDir, "pkg")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(subdir, "core.py")
	if err := os.WriteFile(nested, []byte("import numpy\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, nested, 2*time.Second)
}

func TestWatcher_IdenticalContentIsIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "module.py")
	content := []byte("import os\n")
	if err := os.WriteFile(target, content, 0o644); err != nil {
		t.Fatal(err)
	}

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(50*time.Millisecond, nil, nil, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{tmpDir}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(target, content, 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, changedFiles, "module.py", 300*time.Millisecond)

	if err := os.WriteFile(target, []byte("import sys\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, target, 2*time.Second)
}

func TestWatcher_RenameTriggersChange(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(100*time.Millisecond, nil, nil, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	oldPath := filepath.Join(tmpDir, "old.py")
	newPath := filepath.Join(tmpDir, "new.py")
	if err := os.WriteFile(oldPath, []byte("import json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch([]string{tmpDir}); err != nil {
		t.Fatal(err)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case paths := <-changedFiles:
			for _, p := range paths {
				if p == oldPath || p == newPath {
					return
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for rename event, old=%s new=%s", oldPath, newPath)
		}
	}
}

func TestWatcher_FileFilters(t *testing.T) {
	w, err := NewWatcher(10*time.Millisecond, nil, []string{"conftest.py"}, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cases := map[string]bool{
		"main.py":               false,
		"stubs.pyi":             false,
		"pyproject.toml":        false,
		"requirements-test.txt": false,
		"environment.yml":       false,
		"conftest.py":           true,
		"README.md":             true,
		"Cargo.toml":            true,
	}
	for name, excluded := range cases {
		if got := w.shouldExcludeFile(name); got != excluded {
			t.Errorf("shouldExcludeFile(%q) = %v, want %v", name, got, excluded)
		}
	}

	if err := w.SetFileFilters([]string{".PY"}, []string{"setup.py"}); err != nil {
		t.Fatal(err)
	}
	if w.shouldExcludeFile("pyproject.toml") == false {
		t.Error("expected pyproject.toml to be excluded after narrowing the filters")
	}
	if w.shouldExcludeFile("main.py") {
		t.Error("expected extensions to be matched case-insensitively")
	}
}
