package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tabCount = 3 // sessions, detail, history

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.activeTab == 0 && m.selectedRow < len(m.sessions)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "enter":
			if m.activeTab == 0 && m.selectedRow < len(m.sessions) {
				m.activeTab = 1
				return m, m.detailCmd(m.sessions[m.selectedRow])
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			if m.activeTab == 1 && m.selectedRow < len(m.sessions) {
				return m, m.detailCmd(m.sessions[m.selectedRow])
			}
		case "esc":
			m.activeTab = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case RefreshMsg:
		m.loadErr = msg.Err
		if msg.Err == nil {
			m.sessions = msg.Sessions
			m.runs = msg.Runs
			m.lastRefresh = time.Now()
			if m.selectedRow >= len(m.sessions) && len(m.sessions) > 0 {
				m.selectedRow = len(m.sessions) - 1
			}
		}

	case DetailMsg:
		m.loadErr = msg.Err
		if msg.Err == nil {
			m.units = msg.Units
			m.report = msg.Report
		}
	}

	return m, nil
}
