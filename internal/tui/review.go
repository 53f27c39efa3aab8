package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// storageTimeout bounds each storage call issued from the UI.
const storageTimeout = 10 * time.Second

const (
	defaultTableHeight = 15
	minTableHeight     = 5
	chromeHeight       = 10
)

// state identifies which screen the review interface is showing.
type state int

const (
	stateLoading state = iota
	stateList
	stateDetail
)

// Data loading messages.
type conflictsLoadedMsg struct {
	err       error
	conflicts []model.Conflict
}

type conflictReviewedMsg struct {
	err error
	id  int64
}

// Model is the Bubble Tea model for the conflict review interface.
type Model struct {
	store     service.Storage
	err       error
	status    string
	conflicts []model.Conflict
	table     table.Model
	keys      KeyMap
	state     state
	width     int
	height    int
	showHelp  bool
	quitting  bool
}

// NewModel creates a review model backed by the given storage.
func NewModel(store service.Storage) Model {
	return Model{
		store: store,
		table: newConflictTable(),
		keys:  DefaultKeyMap(),
		state: stateLoading,
	}
}

// Init loads the pending conflicts.
func (m Model) Init() tea.Cmd {
	return m.loadConflicts()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(minTableHeight, msg.Height-chromeHeight))
		return m, nil

	case conflictsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = stateList
			return m, nil
		}
		m.conflicts = msg.conflicts
		m.table.SetRows(conflictRows(m.conflicts))
		m.state = stateList
		return m, nil

	case conflictReviewedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Failed to mark conflict #%d: %v", msg.id, msg.err)
			return m, nil
		}
		m.conflicts = withoutConflict(m.conflicts, msg.id)
		m.table.SetRows(conflictRows(m.conflicts))
		if cursor := m.table.Cursor(); cursor >= len(m.conflicts) && len(m.conflicts) > 0 {
			m.table.SetCursor(len(m.conflicts) - 1)
		}
		m.status = fmt.Sprintf("Conflict #%d marked as reviewed", msg.id)
		m.state = stateList
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	}

	switch m.state {
	case stateList:
		return m.handleListKey(msg)
	case stateDetail:
		return m.handleDetailKey(msg)
	default:
		return m, nil
	}
}

func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Open):
		if _, ok := m.selectedConflict(); ok {
			m.state = stateDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.Review):
		if conflict, ok := m.selectedConflict(); ok {
			m.status = ""
			return m, m.markReviewed(conflict.ID)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.state = stateList
		return m, nil

	case key.Matches(msg, m.keys.Review):
		if conflict, ok := m.selectedConflict(); ok {
			m.status = ""
			return m, m.markReviewed(conflict.ID)
		}
		return m, nil
	}

	return m, nil
}

// selectedConflict returns the conflict under the table cursor.
func (m Model) selectedConflict() (model.Conflict, bool) {
	index := m.table.Cursor()
	if index < 0 || index >= len(m.conflicts) {
		return model.Conflict{}, false
	}
	return m.conflicts[index], true
}

// loadConflicts fetches the pending conflicts from storage.
func (m Model) loadConflicts() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()

		conflicts, err := m.store.GetConflicts(ctx, model.ConflictPending)
		return conflictsLoadedMsg{conflicts: conflicts, err: err}
	}
}

// markReviewed transitions a conflict to REVIEWED in storage.
func (m Model) markReviewed(id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()

		err := m.store.MarkConflictReviewed(ctx, id)
		return conflictReviewedMsg{id: id, err: err}
	}
}

func newConflictTable() table.Model {
	columns := []table.Column{
		{Title: "#", Width: 5},
		{Title: "Date", Width: 12},
		{Title: "Vendor", Width: 22},
		{Title: "Existing", Width: 12},
		{Title: "Incoming", Width: 12},
		{Title: "Detected", Width: 14},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(defaultTableHeight),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(cli.PrimaryColor).
		Bold(true)
	t.SetStyles(s)

	return t
}

func conflictRows(conflicts []model.Conflict) []table.Row {
	rows := make([]table.Row, 0, len(conflicts))
	for _, conflict := range conflicts {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", conflict.ID),
			conflict.Incoming.Date.Format("2006-01-02"),
			conflict.Incoming.Vendor,
			formatTotal(conflict.Existing),
			formatTotal(conflict.Incoming),
			conflict.DetectedAt.Format("Jan 2 15:04"),
		})
	}
	return rows
}

func withoutConflict(conflicts []model.Conflict, id int64) []model.Conflict {
	kept := make([]model.Conflict, 0, len(conflicts))
	for _, conflict := range conflicts {
		if conflict.ID != id {
			kept = append(kept, conflict)
		}
	}
	return kept
}

func formatTotal(receipt model.Receipt) string {
	return fmt.Sprintf("%s %s", receipt.Currency, receipt.Total.StringFixed(2))
}
