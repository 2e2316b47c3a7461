// # internal/ui/report/formats/sarif_test.go
package formats

import (
	"depwise/internal/core/app"
	"depwise/internal/engine/analysis"
	"depwise/internal/engine/manifest"
	"depwise/internal/engine/parser"
	"encoding/json"
	"strings"
	"testing"
)

func decodeSARIF(t *testing.T, r *app.Report) sarifReport {
	t.Helper()
	data, err := GenerateSARIF(r)
	if err != nil {
		t.Fatalf("GenerateSARIF returned error: %v", err)
	}
	var report sarifReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	return report
}

func TestGenerateSARIF_EmptyResults(t *testing.T) {
	report := decodeSARIF(t, &app.Report{Status: app.StatusClean})
	if report.Schema != sarifSchema {
		t.Errorf("$schema = %q, want %q", report.Schema, sarifSchema)
	}
	if report.Version != sarifVersion {
		t.Errorf("version = %q, want %q", report.Version, sarifVersion)
	}
	if len(report.Runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(report.Runs))
	}
	if len(report.Runs[0].Results) != 0 {
		t.Errorf("expected 0 results, got %d", len(report.Runs[0].Results))
	}
	if len(report.Runs[0].Tool.Driver.Rules) != 0 {
		t.Errorf("expected no rules, got %d", len(report.Runs[0].Tool.Driver.Rules))
	}
	if !report.Runs[0].Invocations[0].ExecutionSuccessful {
		t.Error("clean run should be marked successful")
	}
}

func TestGenerateSARIF_MissingImportUsesRelativeURI(t *testing.T) {
	r := &app.Report{
		ProjectRoot: "/project",
		Status:      app.StatusProblems,
		Findings: []analysis.Finding{{
			Kind:    analysis.KindMissing,
			Subject: "yaml",
			Imports: []parser.ImportRecord{{
				Root:     "yaml",
				Module:   "yaml",
				Location: parser.Location{File: "/project/app/main.py", Line: 3, Column: 8},
			}},
		}},
	}
	report := decodeSARIF(t, r)

	results := report.Runs[0].Results
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.RuleID != ruleIDMissing {
		t.Errorf("ruleId = %q, want %q", res.RuleID, ruleIDMissing)
	}
	if res.Level != "error" {
		t.Errorf("level = %q, want error", res.Level)
	}
	if !strings.Contains(res.Message.Text, `"yaml" is imported but not declared`) {
		t.Errorf("unexpected message %q", res.Message.Text)
	}
	loc := res.Locations[0].PhysicalLocation
	if loc.ArtifactLocation.URI != "app/main.py" {
		t.Errorf("uri = %q, want app/main.py", loc.ArtifactLocation.URI)
	}
	if loc.ArtifactLocation.URIBaseID != "%SRCROOT%" {
		t.Errorf("uriBaseId = %q", loc.ArtifactLocation.URIBaseID)
	}
	if loc.Region == nil || loc.Region.StartLine != 3 || loc.Region.StartColumn != 8 {
		t.Errorf("unexpected region %+v", loc.Region)
	}
	if report.Runs[0].OriginalURIBaseIDs["%SRCROOT%"].URI != "file:///project/" {
		t.Errorf("unexpected uri base %+v", report.Runs[0].OriginalURIBaseIDs)
	}
}

func TestGenerateSARIF_RulesFollowFindingKinds(t *testing.T) {
	r := &app.Report{
		Status: app.StatusProblems,
		Findings: []analysis.Finding{
			{Kind: analysis.KindOptional, Subject: "ujson"},
			{
				Kind:    analysis.KindUnused,
				Subject: "rich",
				Declarations: []manifest.Dependency{{
					Name:   "rich",
					Origin: manifest.Source{File: "requirements.txt", Line: 2},
				}},
			},
		},
	}
	report := decodeSARIF(t, r)

	rules := report.Runs[0].Tool.Driver.Rules
	if len(rules) != 2 || rules[0].ID != ruleIDOptional || rules[1].ID != ruleIDUnused {
		t.Fatalf("unexpected rules %+v", rules)
	}
	results := report.Runs[0].Results
	if len(results[0].Locations) != 0 {
		t.Errorf("finding without a file should have no location")
	}
	if results[1].Locations[0].PhysicalLocation.ArtifactLocation.URI != "requirements.txt" {
		t.Errorf("unused finding should point at its manifest")
	}
	if results[1].Level != "warning" {
		t.Errorf("level = %q, want warning", results[1].Level)
	}
}

func TestGenerateSARIF_IncompleteRunNotifications(t *testing.T) {
	r := &app.Report{
		Status:         app.StatusIncomplete,
		Reason:         "no manifest could be read",
		ManifestErrors: []app.ManifestError{{Path: "setup.py", Message: "dynamic"}},
		FileErrors:     []app.FileError{{Path: "a.py", Line: 1, Message: "syntax error"}},
	}
	report := decodeSARIF(t, r)

	inv := report.Runs[0].Invocations[0]
	if inv.ExecutionSuccessful {
		t.Error("incomplete run should not be marked successful")
	}
	if len(inv.ToolExecutionNotes) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(inv.ToolExecutionNotes))
	}
}

func TestRelativeURI(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/project", "/project/pkg/a.py", "pkg/a.py"},
		{"/project", "pkg/a.py", "pkg/a.py"},
		{"", "/abs/a.py", "/abs/a.py"},
		{"/project", "/elsewhere/a.py", "/elsewhere/a.py"},
	}
	for _, tt := range tests {
		if got := relativeURI(tt.root, tt.path); got != tt.want {
			t.Errorf("relativeURI(%q, %q) = %q, want %q", tt.root, tt.path, got, tt.want)
		}
	}
}
