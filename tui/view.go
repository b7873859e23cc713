package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" Content Pipeline │ Active: %d │ Slots: %d │ Runs: %d ",
		m.status.ActiveRuns, m.status.AvailableSlots, m.status.Total)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(failedStyle.Render(fmt.Sprintf(" error: %v", m.err)))
		b.WriteString("\n")
	}

	if m.detail != nil {
		b.WriteString(m.renderDetail())
	} else {
		b.WriteString(m.renderRunList())
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderRunList() string {
	if len(m.runs) == 0 {
		return dimmedStyle.Render("  no runs yet")
	}

	var rows []string
	end := m.scroll + m.visibleRows()
	if end > len(m.runs) {
		end = len(m.runs)
	}

	for i := m.scroll; i < end; i++ {
		run := m.runs[i]
		line := fmt.Sprintf("%-10s %-10s %-40s $%.4f  %s",
			run.Mode,
			styleForStatus(run.Status).Render(run.Status),
			truncate(run.Prompt, 40),
			run.CostUSD,
			dimmedStyle.Render(relativeTime(run.CreatedAt)))
		if i == m.selectedRow {
			line = selectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		rows = append(rows, line)
	}

	return strings.Join(rows, "\n")
}

func (m Model) renderDetail() string {
	run := m.detail
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s run %s\n", run.Mode, run.ID))
	b.WriteString(fmt.Sprintf("status: %s  cost: $%.4f\n", styleForStatus(run.Status).Render(run.Status), run.CostUSD))
	b.WriteString(dimmedStyle.Render(truncate(run.Prompt, m.width-4)))
	b.WriteString("\n\n")

	for _, st := range run.Stages {
		glyph := stageGlyph(st.Status)
		line := fmt.Sprintf("%s %-16s %s", glyph, st.Name, st.Message)
		if st.DurationSeconds > 0 {
			line += dimmedStyle.Render(fmt.Sprintf("  (%.1fs)", st.DurationSeconds))
		}
		if st.Error != "" {
			line += "\n    " + failedStyle.Render(truncate(st.Error, m.width-8))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return sectionStyle.Width(m.width - 2).Render(b.String())
}

func (m Model) renderStatusBar() string {
	hints := " j/k: navigate │ enter: details │ esc: back │ r: refresh │ q: quit "
	if !m.lastRefresh.IsZero() {
		hints += dimmedStyle.Render(fmt.Sprintf("│ refreshed %s ", humanize.Time(m.lastRefresh)))
	}
	return statusBarStyle.Width(m.width).Render(hints)
}

func styleForStatus(status string) lipgloss.Style {
	switch status {
	case "running":
		return runningStyle
	case "completed":
		return completedStyle
	case "failed":
		return failedStyle
	default:
		return dimmedStyle
	}
}

func stageGlyph(status string) string {
	switch status {
	case "completed":
		return completedStyle.Render("✓")
	case "running":
		return runningStyle.Render("●")
	case "failed":
		return failedStyle.Render("✗")
	case "skipped":
		return dimmedStyle.Render("-")
	default:
		return dimmedStyle.Render("·")
	}
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func relativeTime(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return humanize.Time(t)
}
