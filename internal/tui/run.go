package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/service"
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the interactive conflict review interface and blocks until
// the user quits or ctx is canceled.
func Run(ctx context.Context, store service.Storage) error {
	if store == nil {
		return fmt.Errorf("%w: storage is required for conflict review", common.ErrMissingConfig)
	}

	p := tea.NewProgram(
		NewModel(store),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("conflict review failed: %w", err)
	}
	return nil
}
