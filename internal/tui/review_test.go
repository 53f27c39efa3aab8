package tui

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/testutil"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	april18 = time.Date(2024, 4, 18, 0, 0, 0, 0, time.UTC)
	april19 = time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)
)

// seedConflict stores a pending conflict whose two receipts disagree on the
// total, mimicking what a pipeline run records.
func seedConflict(t *testing.T, store service.Storage, vendor, existingTotal, incomingTotal string, date time.Time) model.Conflict {
	t.Helper()

	existing := testutil.Receipt(vendor, existingTotal, date)
	incoming := testutil.Receipt(vendor, incomingTotal, date)
	incoming.Fingerprint = existing.Fingerprint

	conflict := model.Conflict{
		Fingerprint: existing.Fingerprint,
		Status:      model.ConflictPending,
		DetectedAt:  date.Add(12 * time.Hour),
		Existing:    existing,
		Incoming:    incoming,
	}
	require.NoError(t, store.SaveConflict(context.Background(), &conflict))
	return conflict
}

// applyMsg runs a message through Update and unwraps the concrete model.
func applyMsg(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(msg)
	updated, ok := next.(Model)
	require.True(t, ok)
	return updated, cmd
}

// loadedModel builds a model and runs its initial load synchronously.
func loadedModel(t *testing.T, store service.Storage) Model {
	t.Helper()

	m := NewModel(store)
	cmd := m.Init()
	require.NotNil(t, cmd)

	loaded, _ := applyMsg(t, m, cmd())
	return loaded
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestNewModel(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := NewModel(db.Storage)

	assert.Equal(t, stateLoading, m.state)
	assert.Empty(t, m.conflicts)
	assert.False(t, m.quitting)
	assert.False(t, m.showHelp)
}

func TestModelLoadsPendingConflicts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	first := seedConflict(t, db.Storage, "Acme Coffee", "92.20", "45.00", april18)
	second := seedConflict(t, db.Storage, "Chewy", "54.30", "61.10", april19)

	m := loadedModel(t, db.Storage)

	assert.Equal(t, stateList, m.state)
	require.Len(t, m.conflicts, 2)
	assert.Equal(t, second.ID, m.conflicts[0].ID, "newest conflict should come first")
	assert.Equal(t, first.ID, m.conflicts[1].ID)

	rows := m.table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "Chewy", rows[0][2])
	assert.Equal(t, "USD 54.30", rows[0][3])
	assert.Equal(t, "USD 61.10", rows[0][4])

	view := m.View()
	assert.Contains(t, view, "Conflict Review")
	assert.Contains(t, view, "2 pending conflicts")
	assert.Contains(t, view, "Acme Coffee")
}

func TestModelLoadError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	require.NoError(t, db.Storage.Close())

	m := NewModel(db.Storage)
	cmd := m.Init()
	require.NotNil(t, cmd)

	loaded, _ := applyMsg(t, m, cmd())

	require.Error(t, loaded.err)
	assert.Contains(t, loaded.View(), "Failed to load conflicts")
}

func TestModelEmptyList(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := loadedModel(t, db.Storage)

	assert.Equal(t, stateList, m.state)
	view := m.View()
	assert.Contains(t, view, "0 pending conflicts")
	assert.Contains(t, view, "No pending conflicts.")

	m, cmd := applyMsg(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateList, m.state, "enter with nothing selected should stay on the list")
	assert.Nil(t, cmd)

	_, cmd = applyMsg(t, m, keyPress('r'))
	assert.Nil(t, cmd, "review with nothing selected should be a no-op")
}

func TestModelOpenAndCloseDetail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedConflict(t, db.Storage, "Acme Coffee", "92.20", "45.00", april18)

	m := loadedModel(t, db.Storage)

	m, _ = applyMsg(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateDetail, m.state)

	view := m.View()
	assert.Contains(t, view, "Conflict #")
	assert.Contains(t, view, "Stored receipt")
	assert.Contains(t, view, "Incoming receipt")
	assert.Contains(t, view, "92.20")
	assert.Contains(t, view, "45.00")
	assert.Contains(t, view, "Totals differ by USD 47.20")

	m, _ = applyMsg(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, stateList, m.state)
}

func TestModelMarkReviewedFromList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	first := seedConflict(t, db.Storage, "Acme Coffee", "92.20", "45.00", april18)
	second := seedConflict(t, db.Storage, "Chewy", "54.30", "61.10", april19)

	m := loadedModel(t, db.Storage)

	// Cursor starts on the newest conflict.
	m, cmd := applyMsg(t, m, keyPress('r'))
	require.NotNil(t, cmd)

	m, _ = applyMsg(t, m, cmd())

	require.Len(t, m.conflicts, 1)
	assert.Equal(t, first.ID, m.conflicts[0].ID)
	assert.Contains(t, m.status, "marked as reviewed")

	ctx := context.Background()
	pending, err := db.Storage.GetConflicts(ctx, model.ConflictPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	reviewed, err := db.Storage.GetConflicts(ctx, model.ConflictReviewed)
	require.NoError(t, err)
	require.Len(t, reviewed, 1)
	assert.Equal(t, second.ID, reviewed[0].ID)
}

func TestModelMarkReviewedFromDetail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedConflict(t, db.Storage, "Acme Coffee", "92.20", "45.00", april18)

	m := loadedModel(t, db.Storage)

	m, _ = applyMsg(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, stateDetail, m.state)

	m, cmd := applyMsg(t, m, keyPress('r'))
	require.NotNil(t, cmd)

	m, _ = applyMsg(t, m, cmd())

	assert.Equal(t, stateList, m.state, "reviewing from the detail view should return to the list")
	assert.Empty(t, m.conflicts)
	assert.Contains(t, m.View(), "No pending conflicts.")
}

func TestModelReviewClampsCursor(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedConflict(t, db.Storage, "Acme Coffee", "92.20", "45.00", april18)
	second := seedConflict(t, db.Storage, "Chewy", "54.30", "61.10", april19)

	m := loadedModel(t, db.Storage)

	m, _ = applyMsg(t, m, tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 1, m.table.Cursor())

	m, cmd := applyMsg(t, m, keyPress('r'))
	require.NotNil(t, cmd)

	m, _ = applyMsg(t, m, cmd())

	assert.Equal(t, 0, m.table.Cursor())
	selected, ok := m.selectedConflict()
	require.True(t, ok)
	assert.Equal(t, second.ID, selected.ID)
}

func TestModelReviewMissingConflict(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedConflict(t, db.Storage, "Acme Coffee", "92.20", "45.00", april18)

	m := loadedModel(t, db.Storage)

	cmd := m.markReviewed(999)
	m, _ = applyMsg(t, m, cmd())

	assert.Contains(t, m.status, "Failed to mark conflict #999")
	require.Len(t, m.conflicts, 1, "a failed update should not drop the conflict")
}

func TestModelQuit(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := loadedModel(t, db.Storage)

	m, cmd := applyMsg(t, m, keyPress('q'))
	require.NotNil(t, cmd)

	_, isQuit := cmd().(tea.QuitMsg)
	assert.True(t, isQuit)
	assert.True(t, m.quitting)
	assert.Empty(t, m.View())
}

func TestModelHelpToggle(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := loadedModel(t, db.Storage)
	assert.Contains(t, m.View(), " • ", "footer should show the short help line")

	m, _ = applyMsg(t, m, keyPress('?'))
	assert.True(t, m.showHelp)
	view := m.View()
	assert.Contains(t, view, "mark reviewed")
	assert.Contains(t, view, "esc  back")

	m, _ = applyMsg(t, m, keyPress('?'))
	assert.False(t, m.showHelp)
}

func TestModelWindowResize(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := loadedModel(t, db.Storage)

	m, _ = applyMsg(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Equal(t, 100, m.width)
	assert.Equal(t, 40, m.height)
	assert.Equal(t, 30, m.table.Height())

	m, _ = applyMsg(t, m, tea.WindowSizeMsg{Width: 60, Height: 8})
	assert.Equal(t, minTableHeight, m.table.Height())
}

func TestRunRequiresStorage(t *testing.T) {
	err := Run(context.Background(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
