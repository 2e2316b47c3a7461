// # internal/ui/report/formats/sarif.go
package formats

import (
	"depwise/internal/core/app"
	"depwise/internal/engine/analysis"
	"depwise/internal/shared/version"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// SARIF v2.1.0 schema – see https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json

const (
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
	sarifVersion = "2.1.0"

	ruleIDMissing  = "DEP001"
	ruleIDOptional = "DEP002"
	ruleIDUnused   = "DEP003"
)

type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool               sarifTool               `json:"tool"`
	Results            []sarifResult           `json:"results"`
	Invocations        []sarifInvocation       `json:"invocations,omitempty"`
	OriginalURIBaseIDs map[string]sarifURIBase `json:"originalUriBaseIds,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaultConfig `json:"defaultConfiguration"`
}

type sarifRuleDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID     string          `json:"ruleId"`
	Level      string          `json:"level"`
	Message    sarifMessage    `json:"message"`
	Locations  []sarifLocation `json:"locations,omitempty"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
}

type sarifInvocation struct {
	ExecutionSuccessful bool                `json:"executionSuccessful"`
	ToolExecutionNotes  []sarifNotification `json:"toolExecutionNotifications,omitempty"`
}

type sarifNotification struct {
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifURIBase struct {
	URI string `json:"uri"`
}

type sarifRuleSpec struct {
	id, name, level, description string
}

var sarifRules = map[analysis.FindingKind]sarifRuleSpec{
	analysis.KindMissing: {
		id:          ruleIDMissing,
		name:        "MissingDependency",
		level:       "error",
		description: "A module is imported but no declared dependency provides it.",
	},
	analysis.KindOptional: {
		id:          ruleIDOptional,
		name:        "OptionalCandidate",
		level:       "warning",
		description: "A module is imported unconditionally but only provided by an optional dependency.",
	},
	analysis.KindUnused: {
		id:          ruleIDUnused,
		name:        "UnusedDependency",
		level:       "warning",
		description: "A declared dependency is never imported.",
	},
}

// GenerateSARIF renders the findings of r as a SARIF 2.1.0 log. File and
// manifest problems become tool execution notifications.
func GenerateSARIF(r *app.Report) ([]byte, error) {
	results := make([]sarifResult, 0, len(r.Findings))
	for _, f := range r.Findings {
		spec, ok := sarifRules[f.Kind]
		if !ok {
			continue
		}
		result := sarifResult{
			RuleID:  spec.id,
			Level:   spec.level,
			Message: sarifMessage{Text: findingMessage(f)},
		}
		if file := f.File(); file != "" {
			result.Locations = []sarifLocation{fileLocation(r.ProjectRoot, file, f.Line(), findingColumn(f))}
		}
		props := map[string]any{"tier": f.Tier.String()}
		if len(f.Combinations) > 0 {
			props["combinations"] = f.Combinations
		}
		if len(f.Candidates) > 0 {
			names := make([]string, 0, len(f.Candidates))
			for _, c := range f.Candidates {
				names = append(names, c.Package)
			}
			props["candidates"] = names
		}
		result.Properties = props
		results = append(results, result)
	}

	invocation := sarifInvocation{ExecutionSuccessful: r.Status != app.StatusIncomplete}
	for _, fe := range r.FileErrors {
		invocation.ToolExecutionNotes = append(invocation.ToolExecutionNotes, sarifNotification{
			Level:     "warning",
			Message:   sarifMessage{Text: "file skipped: " + fe.Message},
			Locations: []sarifLocation{fileLocation(r.ProjectRoot, fe.Path, fe.Line, fe.Column)},
		})
	}
	for _, me := range r.ManifestErrors {
		invocation.ToolExecutionNotes = append(invocation.ToolExecutionNotes, sarifNotification{
			Level:     "error",
			Message:   sarifMessage{Text: "manifest skipped: " + me.Message},
			Locations: []sarifLocation{fileLocation(r.ProjectRoot, me.Path, 0, 0)},
		})
	}
	if r.Reason != "" {
		invocation.ToolExecutionNotes = append(invocation.ToolExecutionNotes, sarifNotification{
			Level:   "error",
			Message: sarifMessage{Text: "analysis incomplete: " + r.Reason},
		})
	}

	run := sarifRun{
		Tool: sarifTool{
			Driver: sarifDriver{
				Name:    "depwise",
				Version: version.Version,
				Rules:   buildSARIFRules(r.Findings),
			},
		},
		Results:     results,
		Invocations: []sarifInvocation{invocation},
	}
	if r.ProjectRoot != "" {
		run.OriginalURIBaseIDs = map[string]sarifURIBase{
			"%SRCROOT%": {URI: "file://" + filepath.ToSlash(r.ProjectRoot) + "/"},
		}
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs:    []sarifRun{run},
	}
	return json.MarshalIndent(report, "", "  ")
}

// buildSARIFRules returns only the rules that are relevant for the given findings.
func buildSARIFRules(findings []analysis.Finding) []sarifRule {
	present := make(map[analysis.FindingKind]bool)
	for _, f := range findings {
		present[f.Kind] = true
	}
	rules := make([]sarifRule, 0, len(present))
	for _, kind := range analysis.Kinds() {
		if !present[kind] {
			continue
		}
		spec := sarifRules[kind]
		rules = append(rules, sarifRule{
			ID:               spec.id,
			Name:             spec.name,
			ShortDescription: sarifMessage{Text: spec.description},
			DefaultConfig:    sarifRuleDefaultConfig{Level: spec.level},
		})
	}
	return rules
}

func findingMessage(f analysis.Finding) string {
	switch f.Kind {
	case analysis.KindMissing:
		msg := fmt.Sprintf("%q is imported but not declared", f.Subject)
		if len(f.Candidates) > 0 {
			msg += fmt.Sprintf(" (provided by %s)", f.Candidates[0].Package)
		}
		return appendReason(msg, f.Reason)
	case analysis.KindOptional:
		return appendReason(fmt.Sprintf("%q is imported unconditionally but only declared as optional", f.Subject), f.Reason)
	case analysis.KindUnused:
		return appendReason(fmt.Sprintf("%q is declared but never imported", f.Subject), f.Reason)
	}
	return f.Subject
}

func appendReason(msg, reason string) string {
	if strings.TrimSpace(reason) == "" {
		return msg
	}
	return msg + ": " + reason
}

func findingColumn(f analysis.Finding) int {
	if len(f.Imports) > 0 {
		return f.Imports[0].Location.Column
	}
	return 0
}

func fileLocation(projectRoot, file string, line, column int) sarifLocation {
	loc := sarifLocation{
		PhysicalLocation: sarifPhysicalLocation{
			ArtifactLocation: sarifArtifactLocation{
				URI:       relativeURI(projectRoot, file),
				URIBaseID: "%SRCROOT%",
			},
		},
	}
	if line > 0 {
		loc.PhysicalLocation.Region = &sarifRegion{StartLine: line, StartColumn: column}
	}
	return loc
}

// relativeURI converts an absolute file path to a forward-slash relative URI
// anchored at projectRoot. If the path is already relative or projectRoot is
// empty, the original path (with forward slashes) is returned.
func relativeURI(projectRoot, filePath string) string {
	if projectRoot != "" && filepath.IsAbs(filePath) {
		rel, err := filepath.Rel(projectRoot, filePath)
		if err == nil && !strings.HasPrefix(rel, "..") {
			filePath = rel
		}
	}
	return filepath.ToSlash(filePath)
}
