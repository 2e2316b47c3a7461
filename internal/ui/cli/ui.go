package cli

import (
	"context"
	"depwise/internal/core/app"
	"depwise/internal/engine/analysis"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	optionalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	unusedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A78BFA")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
	file        string
	line        int
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type panelMode int

const (
	panelFindings panelMode = iota
	panelNotes
)

type model struct {
	findingList list.Model
	noteList    list.Model
	mode        panelMode
	// kind filters the findings panel; empty shows every kind.
	kind analysis.FindingKind

	report     *app.Report
	err        error
	lastUpdate time.Time
	running    bool
	status     string
}

type reportMsg struct {
	report *app.Report
	err    error
}

type sourceJumpResultMsg struct {
	target string
	err    error
}

func initialModel() model {
	findingList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	findingList.Title = "Findings"
	findingList.SetShowStatusBar(false)
	findingList.SetFilteringEnabled(true)

	noteList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	noteList.Title = "Notes"
	noteList.SetShowStatusBar(false)
	noteList.SetFilteringEnabled(true)

	return model{
		findingList: findingList,
		noteList:    noteList,
		mode:        panelFindings,
		running:     true,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return handleKeyActions(msg, m)
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		width := msg.Width - h
		height := msg.Height - v - 6
		if height < 5 {
			height = 5
		}
		m.findingList.SetSize(width, height)
		m.noteList.SetSize(width, height)
	case reportMsg:
		m.running = false
		m.lastUpdate = time.Now()
		m.err = msg.err
		if msg.err == nil {
			m.report = msg.report
		}
		m = m.refreshItems()
	case sourceJumpResultMsg:
		if msg.err != nil {
			m.status = statusStyle.Render(fmt.Sprintf("Source jump failed: %v", msg.err))
		} else {
			m.status = statusStyle.Render(fmt.Sprintf("Opened source: %s", msg.target))
		}
	}

	var cmd tea.Cmd
	if m.mode == panelFindings {
		m.findingList, cmd = m.findingList.Update(msg)
	} else {
		m.noteList, cmd = m.noteList.Update(msg)
	}
	return m, cmd
}

// refreshItems rebuilds both lists from the current report and kind filter.
func (m model) refreshItems() model {
	if m.report == nil {
		m.findingList.SetItems(nil)
		m.noteList.SetItems(nil)
		return m
	}
	root := m.report.ProjectRoot

	findings := make([]list.Item, 0, len(m.report.Findings))
	for _, f := range m.report.Findings {
		if m.kind != "" && f.Kind != m.kind {
			continue
		}
		desc := string(f.Kind)
		file := f.File()
		if file != "" {
			desc += fmt.Sprintf(" · %s:%d", relative(root, file), f.Line())
		}
		if best := bestCandidate(f); best != "" {
			desc += " · " + best
		}
		if len(f.Combinations) > 0 {
			desc += " · [" + strings.Join(f.Combinations, ", ") + "]"
		}
		findings = append(findings, item{title: f.Subject, desc: desc, file: absolute(root, file), line: f.Line()})
	}
	m.findingList.SetItems(findings)
	m.findingList.Title = "Findings"
	if m.kind != "" {
		m.findingList.Title = "Findings: " + string(m.kind)
	}

	notes := make([]list.Item, 0, len(m.report.Notes))
	for _, n := range m.report.Notes {
		desc := string(n.Kind) + " · " + n.Message
		notes = append(notes, item{title: n.Subject, desc: desc, file: absolute(root, n.File), line: n.Line})
	}
	m.noteList.SetItems(notes)
	return m
}

func (m model) View() string {
	var status string
	switch {
	case m.running && m.report == nil:
		status = statusStyle.Render("Running check...")
	case m.lastUpdate.IsZero():
		status = statusStyle.Render("Waiting for results")
	default:
		status = statusStyle.Render(fmt.Sprintf("Last update: %s", m.lastUpdate.Format("15:04:05")))
	}

	header := titleStyle("depwise") + "\n" + status
	if summary := m.summary(); summary != "" {
		header += " | " + summary
	}

	body := m.findingList.View()
	if m.mode == panelNotes {
		body = m.noteList.View()
	}
	if m.err != nil {
		body = missingStyle.Render("Check failed: "+m.err.Error()) + "\n\n" + body
	}
	if m.status != "" {
		body += "\n\n" + m.status
	}
	return docStyle.Render(header + "\n" + renderHelp(m) + "\n\n" + body)
}

func (m model) summary() string {
	r := m.report
	if r == nil {
		return ""
	}
	if r.Status == app.StatusIncomplete {
		return missingStyle.Render("Incomplete: " + r.Reason)
	}
	if len(r.Findings) == 0 {
		return successStyle.Render("No dependency problems")
	}
	return fmt.Sprintf("%s | %s | %s",
		missingStyle.Render(fmt.Sprintf("%d missing", r.Count(analysis.KindMissing))),
		optionalStyle.Render(fmt.Sprintf("%d optional", r.Count(analysis.KindOptional))),
		unusedStyle.Render(fmt.Sprintf("%d unused", r.Count(analysis.KindUnused))))
}

func renderHelp(m model) string {
	panel := "notes"
	if m.mode == panelNotes {
		panel = "findings"
	}
	return statusStyle.Render(fmt.Sprintf("tab: %s · 0-3: filter kind · o: open source · q: quit", panel))
}

func bestCandidate(f analysis.Finding) string {
	if f.Kind != analysis.KindMissing || len(f.Candidates) == 0 {
		return ""
	}
	return "→ " + f.Candidates[0].Package
}

func relative(root, path string) string {
	if root == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func absolute(root, path string) string {
	if path == "" || filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, filepath.FromSlash(path))
}

// runUI shows the findings browser. With watch set, every re-run refreshes
// the lists until the user quits.
func runUI(ctx context.Context, a *app.App, req app.Request, watch bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialModel(), tea.WithAltScreen(), tea.WithContext(ctx))
	send := func(rep *app.Report, err error) {
		p.Send(reportMsg{report: rep, err: err})
	}

	go func() {
		if !watch {
			send(a.Check(ctx, req))
			return
		}
		if err := a.Watch(ctx, req, send); err != nil {
			send(nil, err)
		}
	}()

	_, err := p.Run()
	if ctx.Err() != nil && err != nil {
		return ctx.Err()
	}
	return err
}
