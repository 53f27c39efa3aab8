package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage ledger database backups",
		Long: `Backups are full copies of the ledger database, verified by checksum.
Create one before risky operations, and restore it if something goes
wrong. Automatic backups are also taken before schema migrations.`,
	}

	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupListCmd())
	cmd.AddCommand(backupRestoreCmd())
	cmd.AddCommand(backupDeleteCmd())

	return cmd
}

func backupCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [tag]",
		Short: "Create a new backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tag := ""
			if len(args) > 0 {
				tag = args[0]
			}
			description, _ := cmd.Flags().GetString("description")

			manager, store, err := openCheckpointManager(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			info, err := manager.Create(ctx, tag, description)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created backup %q (%s, %d receipts)", info.ID, formatFileSize(info.FileSize), info.Receipts)))
			return nil
		},
	}

	cmd.Flags().StringP("description", "d", "", "description of this backup")

	return cmd
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			manager, store, err := openCheckpointManager(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			checkpoints, err := manager.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if len(checkpoints) == 0 {
				fmt.Println(cli.FormatInfo("No backups yet. Create one with 'papertrail backup create'."))
				return nil
			}

			fmt.Println(cli.FormatTitle(fmt.Sprintf("Backups %s", cli.FolderIcon)))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
			fmt.Fprintln(w, headerStyle.Render("NAME\tCREATED\tSIZE\tRECEIPTS\tCONFLICTS\tTYPE"))

			for _, cp := range checkpoints {
				kind := "manual"
				if cp.IsAuto {
					kind = "auto"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					cp.ID,
					formatRelativeTime(cp.CreatedAt),
					formatFileSize(cp.FileSize),
					cp.Receipts,
					cp.Conflicts,
					kind,
				)
			}

			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}

			fmt.Println()
			fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf("%d backups. Restore with 'papertrail backup restore <name>'.", len(checkpoints))))
			return nil
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore the ledger database from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tag := args[0]
			force, _ := cmd.Flags().GetBool("force")

			manager, store, err := openCheckpointManager(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			info, err := manager.GetCheckpointInfo(ctx, tag)
			if err != nil {
				return fmt.Errorf("failed to load backup %q: %w", tag, err)
			}

			fmt.Println(cli.FormatWarning("Restoring will replace the current ledger database."))
			fmt.Printf("Backup:   %s\n", info.ID)
			fmt.Printf("Created:  %s (%s)\n", info.CreatedAt.Format("2006-01-02 15:04"), formatRelativeTime(info.CreatedAt))
			fmt.Printf("Receipts: %d\n", info.Receipts)

			if !force && !confirm("Continue?") {
				fmt.Println(cli.FormatInfo("Restore canceled."))
				return nil
			}

			if err := manager.Restore(ctx, tag); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Restored ledger from backup %q.", tag)))
			if info.SchemaVersion < storage.ExpectedSchemaVersion {
				fmt.Println(cli.FormatInfo("The restored database uses an older schema; it will be migrated on the next run."))
			}
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")

	return cmd
}

func backupDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tag := args[0]
			force, _ := cmd.Flags().GetBool("force")

			manager, store, err := openCheckpointManager(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			if !force {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("This permanently deletes backup %q.", tag)))
				if !confirm("Continue?") {
					fmt.Println(cli.FormatInfo("Delete canceled."))
					return nil
				}
			}

			if err := manager.Delete(ctx, tag); err != nil {
				return fmt.Errorf("failed to delete backup: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted backup %q.", tag)))
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")

	return cmd
}

// openCheckpointManager opens storage and builds a checkpoint manager on it.
// The caller owns closing the returned storage.
func openCheckpointManager(ctx context.Context) (*storage.CheckpointManager, service.Storage, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	sqliteStore, ok := store.(*storage.SQLiteStorage)
	if !ok {
		closeStorage(store)
		return nil, nil, fmt.Errorf("backups require SQLite storage")
	}

	manager, err := sqliteStore.NewCheckpointManager()
	if err != nil {
		closeStorage(store)
		return nil, nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	return manager, store, nil
}

func closeStorage(store service.Storage) {
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close storage", "error", err)
	}
}

// confirm prompts for a yes/no answer and defaults to no.
func confirm(prompt string) bool {
	fmt.Printf("\n%s (y/N) ", prompt)
	var response string
	_, _ = fmt.Scanln(&response)
	return strings.HasPrefix(strings.ToLower(response), "y")
}

// Helper functions

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	duration := time.Since(t)
	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	case duration < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
