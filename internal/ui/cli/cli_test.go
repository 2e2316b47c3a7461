package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExecute_Version(t *testing.T) {
	code, out, _ := run(t, "--version")
	if code != ExitClean {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.HasPrefix(out, "depwise ") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestCheck_ExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		extra []string
		want  int
	}{
		{
			name: "clean",
			files: map[string]string{
				"requirements.txt": "requests\n",
				"app/main.py":      "import os\nimport requests\n",
			},
			want: ExitClean,
		},
		{
			name: "missing fails by default",
			files: map[string]string{
				"requirements.txt": "requests\n",
				"app/main.py":      "import requests\nimport yaml\n",
			},
			want: ExitFindings,
		},
		{
			name: "unused does not fail by default",
			files: map[string]string{
				"requirements.txt": "requests\nrich\n",
				"app/main.py":      "import requests\n",
			},
			want: ExitClean,
		},
		{
			name: "fail-on unused",
			files: map[string]string{
				"requirements.txt": "requests\nrich\n",
				"app/main.py":      "import requests\n",
			},
			extra: []string{"--fail-on", "unused"},
			want:  ExitFindings,
		},
		{
			name: "ignored missing import",
			files: map[string]string{
				"requirements.txt": "requests\n",
				"app/main.py":      "import requests\nimport yaml\n",
			},
			extra: []string{"--ignore", "yaml"},
			want:  ExitClean,
		},
		{
			name: "no sources is incomplete",
			files: map[string]string{
				"requirements.txt": "requests\n",
			},
			want: ExitIncomplete,
		},
		{
			name: "unknown format",
			files: map[string]string{
				"requirements.txt": "requests\n",
				"app/main.py":      "import requests\n",
			},
			extra: []string{"--format", "xml"},
			want:  ExitIncomplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeProject(t, tt.files)
			args := append([]string{"check", dir}, tt.extra...)
			code, out, errOut := run(t, args...)
			if code != tt.want {
				t.Fatalf("exit code = %d, want %d\nstdout:\n%s\nstderr:\n%s", code, tt.want, out, errOut)
			}
		})
	}
}

func TestCheck_JSONOutput(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"requirements.txt": "requests\n",
		"app/main.py":      "import requests\nimport yaml\n",
	})
	code, out, _ := run(t, "check", dir, "--format", "json")
	if code != ExitFindings {
		t.Fatalf("exit code = %d, want 1", code)
	}
	var decoded struct {
		Status   string `json:"status"`
		Findings []struct {
			Kind    string `json:"kind"`
			Subject string `json:"subject"`
		} `json:"findings"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if decoded.Status != "problems" || len(decoded.Findings) != 1 || decoded.Findings[0].Subject != "yaml" {
		t.Fatalf("unexpected report %+v", decoded)
	}
}

func TestCheck_ExplicitManifestAndOutputFile(t *testing.T) {
	dir := writeProject(t, map[string]string{
		".git/HEAD":     "ref: refs/heads/main\n",
		"reqs/base.txt": "requests\n",
		"app/main.py":   "import requests\n",
	})
	outPath := filepath.Join(dir, "out", "report.sarif")
	code, stdout, errOut := run(t, "check", dir, "-r", filepath.Join(dir, "reqs", "base.txt"), "--format", "sarif", "-o", outPath)
	if code != ExitClean {
		t.Fatalf("exit code = %d\n%s", code, errOut)
	}
	if stdout != "" {
		t.Fatalf("report should go to the file, got stdout %q", stdout)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"version": "2.1.0"`) {
		t.Fatalf("expected a sarif log, got %s", data)
	}
}

func TestCheck_HistoryThenList(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"requirements.txt": "requests\n",
		"app/main.py":      "import requests\nimport yaml\n",
	})
	if code, _, errOut := run(t, "check", dir, "--history"); code != ExitFindings {
		t.Fatalf("check exit code = %d\n%s", code, errOut)
	}
	if _, err := os.Stat(filepath.Join(dir, ".depwise", "history.db")); err != nil {
		t.Fatalf("history database not created: %v", err)
	}

	code, out, errOut := run(t, "history", dir, "--json")
	if code != ExitClean {
		t.Fatalf("history exit code = %d\n%s", code, errOut)
	}
	var runs []struct {
		ID           string `json:"id"`
		MissingCount int    `json:"missing_count"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID == "" {
		t.Fatalf("expected one stored run, got %s", out)
	}
}

func TestResolve(t *testing.T) {
	code, out, _ := run(t, "resolve", "yaml", "os", "zzz_unknown_pkg")
	if code != ExitClean {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"pyyaml", "exact-known-mapping", "standard library", "zzz-unknown-pkg", "heuristic-same-name"} {
		if !strings.Contains(out, want) {
			t.Errorf("resolve output missing %q:\n%s", want, out)
		}
	}
}

func TestResolve_RequiresModule(t *testing.T) {
	if code, _, _ := run(t, "resolve"); code != ExitIncomplete {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestExitCode_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := exitCode(ctx, context.Canceled); got != ExitInterrupt {
		t.Fatalf("exitCode = %d, want %d", got, ExitInterrupt)
	}
	if got := exitCode(context.Background(), &exitError{code: ExitFindings}); got != ExitFindings {
		t.Fatalf("exitCode = %d, want %d", got, ExitFindings)
	}
	if got := exitCode(context.Background(), nil); got != ExitClean {
		t.Fatalf("exitCode = %d, want 0", got)
	}
}
