package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.client)
		case "j", "down":
			if m.selectedRow < len(m.runs)-1 {
				m.selectedRow++
			}
			maxVisible := m.visibleRows()
			if m.selectedRow >= m.scroll+maxVisible {
				m.scroll = m.selectedRow - maxVisible + 1
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			if m.selectedRow < m.scroll {
				m.scroll = m.selectedRow
			}
		case "enter":
			if m.detail == nil && m.selectedRow < len(m.runs) {
				return m, detailCmd(m.client, m.runs[m.selectedRow].ID)
			}
		case "esc":
			m.detail = nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		cmds := []tea.Cmd{refreshCmd(m.client), tickCmd()}
		if m.detail != nil {
			cmds = append(cmds, detailCmd(m.client, m.detail.ID))
		}
		return m, tea.Batch(cmds...)

	case RunsMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.status = msg.Status
			m.runs = msg.Runs
			m.lastRefresh = time.Now()
			if m.selectedRow >= len(m.runs) && len(m.runs) > 0 {
				m.selectedRow = len(m.runs) - 1
			}
		}

	case DetailMsg:
		if msg.Err == nil {
			run := msg.Run
			m.detail = &run
		} else {
			m.err = msg.Err
		}
	}

	return m, nil
}

func (m Model) visibleRows() int {
	rows := m.height - 6
	if rows < 3 {
		rows = 3
	}
	return rows
}
