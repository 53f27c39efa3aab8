package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/tui"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List receipts flagged for conflicting totals",
		RunE:  runConflictsList,
	}

	cmd.Flags().Bool("all", false, "include conflicts that were already reviewed")

	cmd.AddCommand(conflictsReviewCmd())

	return cmd
}

func conflictsReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Review pending conflicts interactively",
		Long: `Opens an interactive list of pending conflicts. Conflicts are never
resolved automatically; each one stays pending until you inspect the
stored and incoming receipts here and mark it reviewed.`,
		RunE: runConflictsReview,
	}
}

func runConflictsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	all, _ := cmd.Flags().GetBool("all")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close storage", "error", closeErr)
		}
	}()

	status := model.ConflictPending
	if all {
		status = ""
	}

	conflicts, err := store.GetConflicts(ctx, status)
	if err != nil {
		return fmt.Errorf("failed to load conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		if all {
			fmt.Println(cli.FormatInfo("No conflicts recorded."))
		} else {
			fmt.Println(cli.FormatSuccess("No pending conflicts."))
		}
		return nil
	}

	fmt.Println(cli.FormatTitle("Conflicts"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	fmt.Fprintln(w, headerStyle.Render("ID\tDATE\tVENDOR\tEXISTING\tINCOMING\tSTATUS\tDETECTED"))

	pending := 0
	for _, conflict := range conflicts {
		if conflict.Status == model.ConflictPending {
			pending++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s %s\t%s %s\t%s\t%s\n",
			conflict.ID,
			conflict.Incoming.Date.Format("2006-01-02"),
			conflict.Incoming.Vendor,
			conflict.Existing.Currency,
			conflict.Existing.Total.StringFixed(2),
			conflict.Incoming.Currency,
			conflict.Incoming.Total.StringFixed(2),
			conflict.Status,
			conflict.DetectedAt.Format("2006-01-02 15:04"),
		)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	if pending > 0 {
		fmt.Println()
		fmt.Println(cli.FormatInfo(fmt.Sprintf("Run 'papertrail conflicts review' to work through %d pending conflicts.", pending)))
	}

	return nil
}

func runConflictsReview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close storage", "error", closeErr)
		}
	}()

	return tui.Run(ctx, store)
}
