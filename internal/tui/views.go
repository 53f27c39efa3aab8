package tui

import (
	"fmt"
	"strings"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return "\n" + cli.FormatError("Failed to load conflicts: "+m.err.Error()) + "\n\n" +
			cli.SubtleStyle.Render("Press q to quit.") + "\n"
	}

	switch m.state {
	case stateLoading:
		return "\n" + cli.SubtleStyle.Render("Loading conflicts...") + "\n"
	case stateDetail:
		return m.detailView()
	default:
		return m.listView()
	}
}

func (m Model) listView() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(cli.FormatTitle("Conflict Review"))
	b.WriteString("\n")
	b.WriteString(cli.SubtitleStyle.Render(pendingSummary(len(m.conflicts))))
	b.WriteString("\n")

	if len(m.conflicts) == 0 {
		b.WriteString(cli.FormatSuccess("No pending conflicts."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(cli.InfoStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.helpView())
	b.WriteString("\n")

	return b.String()
}

func (m Model) detailView() string {
	conflict, ok := m.selectedConflict()
	if !ok {
		return m.listView()
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(cli.FormatTitle(fmt.Sprintf("Conflict #%d", conflict.ID)))
	b.WriteString("\n")
	b.WriteString(cli.SubtitleStyle.Render(fmt.Sprintf(
		"Flagged %s for fingerprint %s",
		conflict.DetectedAt.Format("Jan 2, 2006 15:04"),
		shortFingerprint(conflict.Fingerprint),
	)))
	b.WriteString("\n")

	panes := lipgloss.JoinHorizontal(
		lipgloss.Top,
		receiptPane("Stored receipt", conflict.Existing),
		"  ",
		receiptPane("Incoming receipt", conflict.Incoming),
	)
	b.WriteString(panes)
	b.WriteString("\n\n")

	difference := conflict.Incoming.Total.Sub(conflict.Existing.Total).Abs()
	b.WriteString(cli.FormatWarning(fmt.Sprintf(
		"Totals differ by %s %s", conflict.Incoming.Currency, difference.StringFixed(2),
	)))
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(cli.InfoStyle.Render(m.status))
		b.WriteString("\n")
	}

	actions := []string{
		"",
		"Press 'r' to mark this conflict as reviewed",
		"Press 'esc' to return to the list",
		"Press 'q' to quit",
	}
	b.WriteString(cli.SubtleStyle.Render(strings.Join(actions, "\n  ")))
	b.WriteString("\n")

	return b.String()
}

func receiptPane(title string, receipt model.Receipt) string {
	labelStyle := cli.BoldStyle.Width(12).Align(lipgloss.Right)

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Date: "), receipt.Date.Format("Jan 2, 2006")),
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Vendor: "), receipt.Vendor),
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Total: "), formatTotal(receipt)),
	}
	if receipt.OrderNumber != "" {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Order: "), receipt.OrderNumber))
	}
	rows = append(rows, lipgloss.JoinHorizontal(
		lipgloss.Top, labelStyle.Render("Confidence: "), fmt.Sprintf("%.0f%%", receipt.Confidence*100),
	))
	if receipt.SourceMessageID != "" {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Message: "), receipt.SourceMessageID))
	}

	return cli.RenderBox(title, strings.Join(rows, "\n"))
}

func (m Model) helpView() string {
	if m.showHelp {
		groups := m.keys.FullHelp()
		lines := make([]string, 0, len(groups))
		for _, group := range groups {
			parts := make([]string, 0, len(group))
			for _, binding := range group {
				parts = append(parts, fmt.Sprintf("%s  %s", binding.Help().Key, binding.Help().Desc))
			}
			lines = append(lines, strings.Join(parts, "    "))
		}
		return cli.SubtleStyle.Render(strings.Join(lines, "\n"))
	}

	parts := make([]string, 0, len(m.keys.ShortHelp()))
	for _, binding := range m.keys.ShortHelp() {
		parts = append(parts, fmt.Sprintf("%s %s", binding.Help().Key, binding.Help().Desc))
	}
	return cli.SubtleStyle.Render(strings.Join(parts, " • "))
}

func pendingSummary(count int) string {
	if count == 1 {
		return "1 pending conflict"
	}
	return fmt.Sprintf("%d pending conflicts", count)
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
