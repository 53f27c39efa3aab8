package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Long: `Migrate brings the ledger database up to the current schema version.
An automatic checkpoint is taken before migrating an existing database,
so a bad migration can always be rolled back with 'papertrail backup
restore'.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "show the current schema version without migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	statusOnly, _ := cmd.Flags().GetBool("status")

	dbPath := databasePath()

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close storage", "error", closeErr)
		}
	}()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if statusOnly {
		fmt.Println(cli.FormatTitle("Schema Status"))
		fmt.Printf("Database:         %s\n", dbPath)
		fmt.Printf("Current version:  %d\n", version)
		fmt.Printf("Expected version: %d\n", storage.ExpectedSchemaVersion)
		fmt.Println()

		switch {
		case version == storage.ExpectedSchemaVersion:
			fmt.Println(cli.FormatSuccess("Schema is up to date."))
		case version < storage.ExpectedSchemaVersion:
			fmt.Println(cli.FormatWarning(fmt.Sprintf("%d migrations pending. Run 'papertrail migrate' to apply them.", storage.ExpectedSchemaVersion-version)))
		default:
			fmt.Println(cli.FormatError("Database schema is newer than this build. Upgrade papertrail."))
		}

		return nil
	}

	if version == storage.ExpectedSchemaVersion {
		fmt.Println(cli.FormatSuccess("Schema is already up to date."))
		return nil
	}
	if version > storage.ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than expected %d; upgrade papertrail", version, storage.ExpectedSchemaVersion)
	}

	// Fresh databases have nothing worth checkpointing
	if version > 0 {
		manager, err := store.NewCheckpointManager()
		if err != nil {
			return fmt.Errorf("failed to create checkpoint manager: %w", err)
		}

		slog.Info("Creating checkpoint before migration", "from_version", version)
		if err := manager.AutoCheckpoint(ctx, "migrate"); err != nil {
			return fmt.Errorf("failed to checkpoint before migration: %w", err)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Migrated database schema from version %d to %d.", version, storage.ExpectedSchemaVersion)))

	return nil
}
