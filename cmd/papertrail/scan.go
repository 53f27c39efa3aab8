package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/config"
	"github.com/Veraticus/paper-trail/internal/engine"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/sheets"
	"github.com/Veraticus/paper-trail/internal/sink"
	"github.com/Veraticus/paper-trail/internal/source"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan email for receipts and reconcile them into the ledger",
		Long: `Scan fetches candidate messages from the configured source, classifies
them, extracts receipt fields, and reconciles the results into the ledger
and any configured sinks.

Scans are resumable: already-recorded receipts are skipped, so re-running
the same scan after an interruption picks up where it left off.`,
		RunE: runScan,
	}

	cmd.Flags().StringP("query", "q", "", "override the source search query")
	cmd.Flags().IntP("max", "m", 200, "maximum number of messages to process")
	cmd.Flags().String("since", "", "only consider messages after this date (YYYY-MM-DD)")
	cmd.Flags().String("source", "gmail", "message source (gmail, mbox)")
	cmd.Flags().String("mbox", "", "path to an mbox file (with --source mbox)")
	cmd.Flags().Bool("dry-run", false, "report what would be recorded without writing anything")

	_ = viper.BindPFlag("scan.query", cmd.Flags().Lookup("query"))
	_ = viper.BindPFlag("scan.max", cmd.Flags().Lookup("max"))
	_ = viper.BindPFlag("scan.since", cmd.Flags().Lookup("since"))
	_ = viper.BindPFlag("scan.source", cmd.Flags().Lookup("source"))
	_ = viper.BindPFlag("scan.mbox", cmd.Flags().Lookup("mbox"))
	_ = viper.BindPFlag("scan.dry_run", cmd.Flags().Lookup("dry-run"))

	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	dryRun := viper.GetBool("scan.dry_run")

	handler := cli.NewInterruptHandler(nil)
	ctx := handler.HandleInterrupts(cmd.Context(), !dryRun)

	query := viper.GetString("scan.query")
	if query == "" {
		var since time.Time
		if sinceStr := viper.GetString("scan.since"); sinceStr != "" {
			parsed, err := time.Parse("2006-01-02", sinceStr)
			if err != nil {
				return fmt.Errorf("invalid --since date %q (expected YYYY-MM-DD): %w", sinceStr, err)
			}
			since = parsed
		}
		keywords := viper.GetStringSlice("scan.keywords")
		query = source.BuildQuery(keywords, since)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close storage", "error", closeErr)
		}
	}()

	messageSource, err := buildSource(ctx, viper.GetString("scan.source"), viper.GetString("scan.mbox"))
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx)
	if err != nil {
		return err
	}

	engineConfig := engine.DefaultConfig()
	engineConfig.DryRun = dryRun
	engineConfig.ShowProgress = true
	if workers := viper.GetInt("scan.workers"); workers > 0 {
		engineConfig.Workers = workers
	}
	if minConfidence := viper.GetFloat64("scan.min_confidence"); minConfidence > 0 {
		engineConfig.MinConfidence = minConfidence
	}

	eng, err := engine.NewWithConfig(messageSource, store, sinks, engineConfig)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	slog.Info("Starting scan", "source", messageSource.Name(), "query", query, "dry_run", dryRun)

	stats, err := eng.Run(ctx, query, viper.GetInt("scan.max"))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNoMessages):
			fmt.Println(cli.FormatInfo("No messages matched the query."))
			return nil
		case handler.WasInterrupted() || errors.Is(err, context.Canceled):
			if stats != nil {
				displayRunSummary(stats, dryRun)
			}
			return nil
		default:
			return fmt.Errorf("scan failed: %w", err)
		}
	}

	displayRunSummary(stats, dryRun)
	return nil
}

// buildSource constructs the message source selected by name.
func buildSource(ctx context.Context, name, mboxPath string) (service.MessageSource, error) {
	switch name {
	case "gmail":
		oauthConfig, err := sheetsOAuthConfig()
		if err != nil {
			return nil, err
		}
		httpClient, err := sheets.HTTPClient(ctx, oauthConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate with Google: %w", err)
		}
		return source.NewGmailSource(ctx, httpClient, slog.Default())
	case "mbox":
		if mboxPath == "" {
			return nil, fmt.Errorf("%w: --mbox path is required with --source mbox", common.ErrMissingConfig)
		}
		return source.NewMboxSource(config.ExpandPath(mboxPath), slog.Default()), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q (expected gmail or mbox)", common.ErrInvalidConfig, name)
	}
}

// buildSinks constructs the configured receipt sinks. The local backup sink
// is always on; the sheets sink is skipped with a warning when the
// spreadsheet is not configured, so mbox scans work fully offline.
func buildSinks(ctx context.Context) ([]service.Sink, error) {
	backupDir := viper.GetString("backup.dir")
	if backupDir == "" {
		backupDir = "$HOME/.local/share/papertrail/backups"
	}

	backup, err := sink.NewLocalBackup(config.ExpandPath(backupDir), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to set up backup sink: %w", err)
	}
	sinks := []service.Sink{backup}

	sheetsConfig, err := config.LoadSheetsConfig()
	if err != nil {
		slog.Warn("Google Sheets sink disabled", "reason", err)
		return sinks, nil
	}

	writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets writer: %w", err)
	}
	sinks = append(sinks, writer)

	return sinks, nil
}

func displayRunSummary(stats *model.RunStats, dryRun bool) {
	title := "Scan Summary " + cli.MailIcon
	if dryRun {
		title = "Scan Summary (dry run) " + cli.MailIcon
	}

	completed := stats.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	duration := completed.Sub(stats.StartedAt).Round(time.Millisecond)

	content := fmt.Sprintf(`Messages fetched:    %d
Classified receipts: %d
Extracted:           %d

Inserted:            %d
Duplicates skipped:  %d
Conflicts flagged:   %d
Low confidence:      %d
Sink failures:       %d
Errors:              %d

Duration:            %s`,
		stats.MessagesFetched,
		stats.MessagesClassified,
		stats.ReceiptsExtracted,
		stats.Inserted,
		stats.Duplicates,
		stats.Conflicts,
		stats.SkippedLowScore,
		stats.SinkFailures,
		stats.Errors,
		duration,
	)

	fmt.Println(cli.RenderBox(title, content))

	if stats.Conflicts > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d conflicts need review. Run: papertrail conflicts review", stats.Conflicts)))
	}
}
