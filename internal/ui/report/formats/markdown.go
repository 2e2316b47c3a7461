package formats

import (
	"depwise/internal/core/app"
	"depwise/internal/engine/analysis"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type MarkdownReportOptions struct {
	Version             string
	GeneratedAt         time.Time
	Verbosity           string
	TableOfContents     bool
	CollapsibleSections bool
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

var sectionTitles = map[analysis.FindingKind]string{
	analysis.KindMissing:  "Missing Dependencies",
	analysis.KindOptional: "Optional Candidates",
	analysis.KindUnused:   "Unused Dependencies",
}

func (m *MarkdownGenerator) Generate(r *app.Report, opts MarkdownReportOptions) (string, error) {
	if r == nil {
		return "", fmt.Errorf("markdown report: nil report")
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	verbosity := normalizeReportVerbosity(opts.Verbosity)

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Dependency Report\n")
	b.WriteString("project: " + nonEmpty(r.ProjectName, "unknown") + "\n")
	b.WriteString("status: " + string(r.Status) + "\n")
	b.WriteString("generated_at: " + opts.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(opts.Version, "unknown") + "\n")
	if r.RunID != "" {
		b.WriteString("run_id: " + r.RunID + "\n")
	}
	b.WriteString("---\n\n")

	b.WriteString("# Dependency Report\n\n")
	if opts.TableOfContents {
		b.WriteString("## Table of Contents\n")
		b.WriteString("- [Summary](#summary)\n")
		for _, kind := range analysis.Kinds() {
			title := sectionTitles[kind]
			b.WriteString(fmt.Sprintf("- [%s](#%s)\n", title, anchor(title)))
		}
		if len(r.Notes) > 0 {
			b.WriteString("- [Notes](#notes)\n")
		}
		if len(r.FileErrors) > 0 || len(r.ManifestErrors) > 0 {
			b.WriteString("- [Skipped Inputs](#skipped-inputs)\n")
		}
		if r.Delta != nil {
			b.WriteString("- [Changes Since Last Run](#changes-since-last-run)\n")
		}
		b.WriteString("\n")
	}

	if r.Status == app.StatusIncomplete {
		b.WriteString("> **Analysis incomplete:** " + nonEmpty(r.Reason, "no usable input") + "\n\n")
	}

	b.WriteString("## Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Status | %s |\n", r.Status))
	b.WriteString(fmt.Sprintf("| Source Files | %d |\n", r.FileCount))
	b.WriteString(fmt.Sprintf("| Manifests | %d |\n", len(r.Manifests)))
	b.WriteString(fmt.Sprintf("| Combinations | %s |\n", strings.Join(r.Combinations, ", ")))
	for _, kind := range analysis.Kinds() {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", sectionTitles[kind], r.Count(kind)))
	}
	b.WriteString(fmt.Sprintf("| Ignored | %d |\n\n", r.Ignored))

	for _, kind := range analysis.Kinds() {
		m.writeFindings(&b, kind, r, opts.CollapsibleSections, verbosity)
	}
	if len(r.Notes) > 0 {
		m.writeNotes(&b, r.Notes, r.ProjectRoot, opts.CollapsibleSections)
	}
	if len(r.FileErrors) > 0 || len(r.ManifestErrors) > 0 {
		m.writeSkipped(&b, r)
	}
	if r.Delta != nil {
		m.writeDelta(&b, r)
	}
	return b.String(), nil
}

func (m *MarkdownGenerator) writeFindings(b *strings.Builder, kind analysis.FindingKind, r *app.Report, collapsible bool, verbosity string) {
	b.WriteString("## " + sectionTitles[kind] + "\n")
	rows := make([]string, 0)
	for _, f := range r.Findings {
		if f.Kind != kind {
			continue
		}
		location := ""
		if file := f.File(); file != "" {
			location = fmt.Sprintf("`%s:%d`", relPath(r.ProjectRoot, file), f.Line())
		}
		if verbosity == "summary" {
			rows = append(rows, fmt.Sprintf("| `%s` | %s |\n", f.Subject, location))
			continue
		}
		rows = append(rows, fmt.Sprintf(
			"| `%s` | %s | %s | %s | %s |\n",
			f.Subject,
			location,
			candidateList(f),
			escapeCell(strings.Join(f.Combinations, ", ")),
			escapeCell(f.Reason),
		))
	}
	if len(rows) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	header := []string{"| Subject | Location | Candidates | Combinations | Reason |\n", "| --- | --- | --- | --- | --- |\n"}
	if verbosity == "summary" {
		header = []string{"| Subject | Location |\n", "| --- | --- |\n"}
	}
	m.writeTableWithCollapse(b, sectionTitles[kind], collapsible, len(rows) > 15, header, rows)
}

func (m *MarkdownGenerator) writeNotes(b *strings.Builder, notes []analysis.Note, projectRoot string, collapsible bool) {
	b.WriteString("## Notes\n")
	rows := make([]string, 0, len(notes))
	for _, n := range notes {
		location := ""
		if n.File != "" {
			location = fmt.Sprintf("`%s:%d`", relPath(projectRoot, n.File), n.Line)
		}
		rows = append(rows, fmt.Sprintf("| %s | `%s` | %s | %s |\n", n.Kind, n.Subject, location, escapeCell(n.Message)))
	}
	m.writeTableWithCollapse(
		b,
		"Note details",
		collapsible,
		len(rows) > 10,
		[]string{"| Kind | Subject | Location | Message |\n", "| --- | --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeSkipped(b *strings.Builder, r *app.Report) {
	b.WriteString("## Skipped Inputs\n")
	for _, me := range r.ManifestErrors {
		label := "manifest"
		if me.Dynamic {
			label = "dynamic manifest"
		}
		b.WriteString(fmt.Sprintf("- %s `%s`: %s\n", label, relPath(r.ProjectRoot, me.Path), me.Message))
	}
	for _, fe := range r.FileErrors {
		if fe.Line > 0 {
			b.WriteString(fmt.Sprintf("- file `%s:%d`: %s\n", relPath(r.ProjectRoot, fe.Path), fe.Line, fe.Message))
			continue
		}
		b.WriteString(fmt.Sprintf("- file `%s`: %s\n", relPath(r.ProjectRoot, fe.Path), fe.Message))
	}
	b.WriteString("\n")
}

func (m *MarkdownGenerator) writeDelta(b *strings.Builder, r *app.Report) {
	b.WriteString("## Changes Since Last Run\n")
	if len(r.Delta.Added) == 0 && len(r.Delta.Resolved) == 0 {
		b.WriteString("No changes since run `" + r.Delta.From + "`.\n\n")
		return
	}
	for _, f := range r.Delta.Added {
		b.WriteString(fmt.Sprintf("- new %s `%s`\n", f.Kind, f.Subject))
	}
	for _, f := range r.Delta.Resolved {
		b.WriteString(fmt.Sprintf("- resolved %s `%s`\n", f.Kind, f.Subject))
	}
	b.WriteString("\n")
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

func candidateList(f analysis.Finding) string {
	if len(f.Candidates) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f.Candidates))
	for _, c := range f.Candidates {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Package, c.Tier))
	}
	return strings.Join(parts, ", ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}

func anchor(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "-")
}

func relPath(root, path string) string {
	root = strings.TrimSpace(root)
	path = strings.TrimSpace(path)
	if root == "" || path == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func normalizeReportVerbosity(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "summary":
		return "summary"
	case "detailed":
		return "detailed"
	default:
		return "standard"
	}
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
