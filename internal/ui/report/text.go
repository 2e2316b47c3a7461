package report

import (
	"depwise/internal/core/app"
	"depwise/internal/engine/analysis"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	optionalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	unusedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A78BFA"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type paint func(strs ...string) string

func plain(strs ...string) string { return strings.Join(strs, " ") }

// TextRenderer renders reports for terminals.
type TextRenderer struct {
	header, ok, dim paint
	kinds           map[analysis.FindingKind]paint
}

func NewTextRenderer(color bool) *TextRenderer {
	if !color {
		return &TextRenderer{
			header: plain,
			ok:     plain,
			dim:    plain,
			kinds: map[analysis.FindingKind]paint{
				analysis.KindMissing:  plain,
				analysis.KindOptional: plain,
				analysis.KindUnused:   plain,
			},
		}
	}
	return &TextRenderer{
		header: headerStyle.Render,
		ok:     successStyle.Render,
		dim:    dimStyle.Render,
		kinds: map[analysis.FindingKind]paint{
			analysis.KindMissing:  missingStyle.Render,
			analysis.KindOptional: optionalStyle.Render,
			analysis.KindUnused:   unusedStyle.Render,
		},
	}
}

var kindHeadings = map[analysis.FindingKind]string{
	analysis.KindMissing:  "Missing dependencies",
	analysis.KindOptional: "Optional candidates",
	analysis.KindUnused:   "Unused dependencies",
}

func (t *TextRenderer) Render(r *app.Report) string {
	var b strings.Builder

	title := "depwise"
	if r.ProjectName != "" {
		title += " · " + r.ProjectName
	}
	b.WriteString(t.header(title) + "\n")
	b.WriteString(t.dim(fmt.Sprintf("%d files, %d manifests, combinations: %s",
		r.FileCount, len(r.Manifests), strings.Join(r.Combinations, ", "))) + "\n\n")

	if r.Status == app.StatusIncomplete {
		b.WriteString(t.kinds[analysis.KindMissing]("Analysis incomplete: "+r.Reason) + "\n")
		t.writeSkipped(&b, r)
		return b.String()
	}

	for _, kind := range analysis.Kinds() {
		findings := findingsOf(r.Findings, kind)
		if len(findings) == 0 {
			continue
		}
		b.WriteString(t.kinds[kind](fmt.Sprintf("%s (%d)", kindHeadings[kind], len(findings))) + "\n")
		for _, f := range findings {
			b.WriteString("  " + t.findingLine(r.ProjectRoot, f) + "\n")
		}
		b.WriteString("\n")
	}

	if len(r.Notes) > 0 {
		b.WriteString(t.header(fmt.Sprintf("Notes (%d)", len(r.Notes))) + "\n")
		for _, n := range r.Notes {
			line := fmt.Sprintf("  [%s] %s: %s", n.Kind, n.Subject, n.Message)
			if n.File != "" {
				line += fmt.Sprintf(" (%s:%d)", displayFile(r.ProjectRoot, n.File), n.Line)
			}
			b.WriteString(t.dim(line) + "\n")
		}
		b.WriteString("\n")
	}

	t.writeSkipped(&b, r)

	if r.Delta != nil && (len(r.Delta.Added) > 0 || len(r.Delta.Resolved) > 0) {
		b.WriteString(t.header("Since last run") + "\n")
		for _, f := range r.Delta.Added {
			b.WriteString(fmt.Sprintf("  + %s %s\n", f.Kind, f.Subject))
		}
		for _, f := range r.Delta.Resolved {
			b.WriteString(fmt.Sprintf("  - %s %s\n", f.Kind, f.Subject))
		}
		b.WriteString("\n")
	}

	if len(r.Findings) == 0 {
		b.WriteString(t.ok("No dependency problems found.") + "\n")
	} else {
		parts := make([]string, 0, len(analysis.Kinds()))
		for _, kind := range analysis.Kinds() {
			parts = append(parts, fmt.Sprintf("%d %s", r.Count(kind), kind))
		}
		b.WriteString(strings.Join(parts, ", "))
		if r.Ignored > 0 {
			b.WriteString(fmt.Sprintf(" (%d ignored)", r.Ignored))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (t *TextRenderer) findingLine(root string, f analysis.Finding) string {
	line := f.Subject
	if file := f.File(); file != "" {
		line += fmt.Sprintf("  %s:%d", displayFile(root, file), f.Line())
	}
	if f.Kind == analysis.KindMissing && len(f.Candidates) > 0 {
		line += fmt.Sprintf("  -> %s (%s)", f.Candidates[0].Package, f.Candidates[0].Tier)
	}
	if len(f.Combinations) > 0 {
		line += t.dim("  [" + strings.Join(f.Combinations, ", ") + "]")
	}
	return line
}

func (t *TextRenderer) writeSkipped(b *strings.Builder, r *app.Report) {
	if len(r.ManifestErrors) == 0 && len(r.FileErrors) == 0 {
		return
	}
	b.WriteString(t.header("Skipped inputs") + "\n")
	for _, me := range r.ManifestErrors {
		b.WriteString(t.dim(fmt.Sprintf("  manifest %s: %s", displayFile(r.ProjectRoot, me.Path), me.Message)) + "\n")
	}
	for _, fe := range r.FileErrors {
		b.WriteString(t.dim(fmt.Sprintf("  file %s: %s", displayFile(r.ProjectRoot, fe.Path), fe.Message)) + "\n")
	}
	b.WriteString("\n")
}

func findingsOf(findings []analysis.Finding, kind analysis.FindingKind) []analysis.Finding {
	var out []analysis.Finding
	for _, f := range findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func displayFile(root, path string) string {
	if root == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
