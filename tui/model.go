// Package tui is the terminal session monitor: live view of sessions, their
// work units, and recorded batch history.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/history"
	"github.com/pokt-foundation/shannon-orch/internal/session"
)

// Model is the TUI application model
type Model struct {
	store   *session.Store
	history *history.Store

	// Data
	sessions []*domain.Session
	units    []domain.WorkUnit
	report   *domain.BatchReport
	runs     []*history.BatchRun

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int

	// Refresh
	lastRefresh time.Time
	loadErr     error
}

// ModelConfig holds the data sources for the TUI model
type ModelConfig struct {
	Store   *session.Store
	History *history.Store
}

// NewModel creates a TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		store:   cfg.Store,
		history: cfg.History,
	}
}

// Init starts the refresh loop
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

// TickMsg triggers a periodic refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// RefreshMsg carries freshly loaded data
type RefreshMsg struct {
	Sessions []*domain.Session
	Runs     []*history.BatchRun
	Err      error
}

// DetailMsg carries the selected session's units and report
type DetailMsg struct {
	Units  []domain.WorkUnit
	Report *domain.BatchReport
	Err    error
}

func (m Model) refreshCmd() tea.Cmd {
	store, hist := m.store, m.history
	return func() tea.Msg {
		msg := RefreshMsg{}
		msg.Sessions, msg.Err = store.ListSessions()
		if hist != nil && msg.Err == nil {
			msg.Runs, msg.Err = hist.ListRecentBatches(20)
		}
		return msg
	}
}

func (m Model) detailCmd(sess *domain.Session) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		msg := DetailMsg{}
		msg.Units, msg.Err = store.ListWorkUnits(sess.ID)
		if msg.Err != nil {
			return msg
		}
		// A missing report just means the batch has not finished
		msg.Report, _ = store.ReadReport(sess)
		return msg
	}
}
