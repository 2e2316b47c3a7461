package cli

import (
	"depwise/internal/engine/analysis"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

var kindKeys = map[string]analysis.FindingKind{
	"0": "",
	"1": analysis.KindMissing,
	"2": analysis.KindOptional,
	"3": analysis.KindUnused,
}

func handleKeyActions(msg tea.KeyMsg, m model) (tea.Model, tea.Cmd) {
	if m.activeList().FilterState() == list.Filtering {
		return m.updateActive(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		if m.mode == panelFindings {
			m.mode = panelNotes
		} else {
			m.mode = panelFindings
		}
		return m, nil
	case "o", "enter":
		target, ok := selectedSourceTarget(m)
		if !ok {
			m.status = statusStyle.Render("No source location for this entry.")
			return m, nil
		}
		return m, jumpToSourceCmd(target)
	}

	if kind, ok := kindKeys[msg.String()]; ok && m.mode == panelFindings {
		m.kind = kind
		m = m.refreshItems()
		return m, nil
	}
	return m.updateActive(msg)
}

func (m model) activeList() list.Model {
	if m.mode == panelNotes {
		return m.noteList
	}
	return m.findingList
}

func (m model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.mode == panelNotes {
		m.noteList, cmd = m.noteList.Update(msg)
	} else {
		m.findingList, cmd = m.findingList.Update(msg)
	}
	return m, cmd
}

type sourceTarget struct {
	file string
	line int
}

func selectedSourceTarget(m model) (sourceTarget, bool) {
	selected, ok := m.activeList().SelectedItem().(item)
	if !ok || selected.file == "" {
		return sourceTarget{}, false
	}
	line := selected.line
	if line <= 0 {
		line = 1
	}
	return sourceTarget{file: selected.file, line: line}, true
}

func jumpToSourceCmd(target sourceTarget) tea.Cmd {
	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	args := []string{target.file}
	if strings.Contains(editor, "vim") || strings.Contains(editor, "nvim") || strings.HasSuffix(editor, "/vi") || editor == "vi" {
		args = []string{fmt.Sprintf("+%d", target.line), target.file}
	}
	cmd := exec.Command(editor, args...)
	label := fmt.Sprintf("%s:%d", target.file, target.line)
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return sourceJumpResultMsg{target: label, err: err}
	})
}
