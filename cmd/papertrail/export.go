package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/config"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/sheets"
	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Rewrite the Google Sheets spreadsheet from the ledger",
		Long: `Export replaces the spreadsheet contents with every receipt currently in
the ledger. Use it to rebuild the sheet after manual edits, or to populate
a fresh spreadsheet without rescanning email.`,
		RunE: runExport,
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	sheetsConfig, err := config.LoadSheetsConfig()
	if err != nil {
		return fmt.Errorf("failed to load sheets configuration: %w", err)
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

	receipts, err := store.GetReceipts(ctx, service.ReceiptFilter{})
	if err != nil {
		return fmt.Errorf("failed to load receipts: %w", err)
	}

	if len(receipts) == 0 {
		fmt.Println(cli.FormatInfo("The ledger is empty; nothing to export."))
		return nil
	}

	writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create sheets writer: %w", err)
	}

	slog.Info("Exporting ledger to Google Sheets", "receipts", len(receipts), "spreadsheet", sheetsConfig.SpreadsheetName)

	if err := writer.WriteAll(ctx, receipts); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Exported %d receipts to Google Sheets %s", len(receipts), cli.ChartIcon)))

	return nil
}
