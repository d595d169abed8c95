package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pokt-foundation/shannon-orch/internal/domain"
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

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	succeededStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	pendingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

var tabNames = []string{"Sessions", "Detail", "History"}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" Shannon Orchestrator │ Sessions: %d │ Refreshed: %s ",
		len(m.sessions), m.lastRefresh.Format("15:04:05"))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var section string
	switch m.activeTab {
	case 0:
		section = m.renderSessions()
	case 1:
		section = m.renderDetail()
	case 2:
		section = m.renderHistory()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section))
	b.WriteString("\n")

	if m.loadErr != nil {
		b.WriteString(failedStyle.Render("error: " + m.loadErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(dimmedStyle.Render(" j/k move · enter open · tab switch · r refresh · q quit "))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		if i == m.activeTab {
			tabs[i] = tabActiveStyle.Render(name)
		} else {
			tabs[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(tabs, " │ ")
}

func (m Model) renderSessions() string {
	if len(m.sessions) == 0 {
		return "No sessions yet"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-38s %-10s %-8s %6s  %s\n", "ID", "KIND", "NETWORK", "UNITS", "CREATED"))
	for i, sess := range m.sessions {
		line := fmt.Sprintf("%-38s %-10s %-8s %6d  %s",
			shorten(sess.ID, 38), sess.Kind, sess.Params.Network,
			sess.Params.UnitCount, sess.CreatedAt.Format("2006-01-02 15:04"))
		if i == m.selectedRow {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderDetail() string {
	if m.selectedRow >= len(m.sessions) {
		return "No session selected"
	}
	sess := m.sessions[m.selectedRow]

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Session %s (%s, %s)\n\n", sess.ID, sess.Kind, sess.Params.Network))

	if len(m.units) == 0 {
		b.WriteString("No work units")
		return b.String()
	}

	statuses := unitStatuses(m.report)
	for _, unit := range m.units {
		status := unit.Status
		detail := ""
		if res, ok := statuses[unit.Name]; ok {
			status = res.Status
			if res.TxHash != "" {
				detail = " tx " + shorten(res.TxHash, 16)
			}
			if res.Error != "" {
				detail = " " + shorten(res.Error, 60)
			}
		}
		b.WriteString(fmt.Sprintf(" %s %-20s%s\n", statusGlyph(status), unit.Name, detail))
	}

	if m.report != nil {
		b.WriteString(fmt.Sprintf("\n%s / %s",
			succeededStyle.Render(fmt.Sprintf("%d succeeded", m.report.Succeeded)),
			failedStyle.Render(fmt.Sprintf("%d failed", m.report.Failed))))
	} else {
		b.WriteString("\n" + pendingStyle.Render("no report yet"))
	}
	return b.String()
}

func (m Model) renderHistory() string {
	if len(m.runs) == 0 {
		return "No recorded runs"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-38s %-10s %-8s %-10s %s\n", "SESSION", "KIND", "NETWORK", "SIGNER", "RESULT"))
	for _, run := range m.runs {
		result := fmt.Sprintf("%s/%s",
			succeededStyle.Render(fmt.Sprintf("%d", run.Succeeded)),
			failedStyle.Render(fmt.Sprintf("%d", run.Failed)))
		b.WriteString(fmt.Sprintf("%-38s %-10s %-8s %-10s %s\n",
			shorten(run.SessionID, 38), run.Kind, run.Network, run.Signer, result))
	}
	return strings.TrimRight(b.String(), "\n")
}

func unitStatuses(report *domain.BatchReport) map[string]domain.UnitResult {
	out := make(map[string]domain.UnitResult)
	if report == nil {
		return out
	}
	for _, res := range report.Units {
		out[res.Name] = res
	}
	return out
}

func statusGlyph(status domain.UnitStatus) string {
	switch status {
	case domain.UnitSucceeded:
		return succeededStyle.Render("✓")
	case domain.UnitFailed:
		return failedStyle.Render("✗")
	default:
		return pendingStyle.Render("·")
	}
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
