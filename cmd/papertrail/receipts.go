package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/paper-trail/internal/cli"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List receipts recorded in the ledger",
		RunE:  runReceipts,
	}

	cmd.Flags().StringP("vendor", "v", "", "only show receipts from this vendor")
	cmd.Flags().String("month", "", "only show receipts from this month (YYYY-MM)")
	cmd.Flags().IntP("limit", "l", 50, "maximum number of receipts to show (0 for all)")
	cmd.Flags().Bool("summary", false, "aggregate totals per vendor instead of listing receipts")

	_ = viper.BindPFlag("receipts.vendor", cmd.Flags().Lookup("vendor"))
	_ = viper.BindPFlag("receipts.month", cmd.Flags().Lookup("month"))
	_ = viper.BindPFlag("receipts.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("receipts.summary", cmd.Flags().Lookup("summary"))

	return cmd
}

func runReceipts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	filter := service.ReceiptFilter{
		Vendor: viper.GetString("receipts.vendor"),
		Limit:  viper.GetInt("receipts.limit"),
	}

	if month := viper.GetString("receipts.month"); month != "" {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			return fmt.Errorf("invalid --month %q (expected YYYY-MM): %w", month, err)
		}
		start := parsed
		end := parsed.AddDate(0, 1, 0).Add(-time.Nanosecond)
		filter.StartDate = &start
		filter.EndDate = &end
	}

	summary := viper.GetBool("receipts.summary")
	if summary {
		// Vendor totals need the full result set, not the display page
		filter.Limit = 0
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

	receipts, err := store.GetReceipts(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load receipts: %w", err)
	}

	if len(receipts) == 0 {
		fmt.Println(cli.FormatInfo("No receipts matched."))
		return nil
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("Receipts %s", cli.ReceiptIcon)))

	if summary {
		fmt.Println(renderVendorSummary(receipts))
	} else {
		fmt.Println(renderReceiptsTable(receipts))
		fmt.Println()
		fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf("%d receipts shown.", len(receipts))))
	}

	return nil
}

// renderReceiptsTable formats receipts as a styled table, newest first.
func renderReceiptsTable(receipts []model.Receipt) string {
	widths := []int{12, 30, 14, 16, 6}
	headers := []string{"Date", "Vendor", "Total", "Order", "Conf"}

	headerCells := make([]string, len(headers))
	for i, header := range headers {
		headerCells[i] = cli.TableCellStyle.Width(widths[i]).Render(header)
	}
	lines := []string{cli.TableHeaderStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, headerCells...))}

	for _, receipt := range receipts {
		cells := []string{
			receipt.Date.Format("2006-01-02"),
			receipt.Vendor,
			fmt.Sprintf("%s %s", receipt.Currency, receipt.Total.StringFixed(2)),
			receipt.OrderNumber,
			fmt.Sprintf("%.0f%%", receipt.Confidence*100),
		}
		rendered := make([]string, len(cells))
		for i, cell := range cells {
			rendered[i] = cli.TableCellStyle.Width(widths[i]).Render(truncateCell(cell, widths[i]-2))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	}

	return strings.Join(lines, "\n")
}

// renderVendorSummary aggregates receipts per vendor and formats the totals.
// Mixed-currency vendors report each currency on its own row.
func renderVendorSummary(receipts []model.Receipt) string {
	type vendorKey struct {
		vendor   string
		currency string
	}

	counts := make(map[vendorKey]int)
	totals := make(map[vendorKey]decimal.Decimal)
	for _, receipt := range receipts {
		key := vendorKey{vendor: receipt.Vendor, currency: receipt.Currency}
		counts[key]++
		totals[key] = totals[key].Add(receipt.Total)
	}

	keys := make([]vendorKey, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].vendor != keys[j].vendor {
			return keys[i].vendor < keys[j].vendor
		}
		return keys[i].currency < keys[j].currency
	})

	widths := []int{30, 8, 16}
	headers := []string{"Vendor", "Count", "Total"}

	headerCells := make([]string, len(headers))
	for i, header := range headers {
		headerCells[i] = cli.TableCellStyle.Width(widths[i]).Render(header)
	}
	lines := []string{cli.TableHeaderStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, headerCells...))}

	for _, key := range keys {
		summary := service.VendorSummary{
			Count: counts[key],
			Total: fmt.Sprintf("%s %s", key.currency, totals[key].StringFixed(2)),
		}
		cells := []string{
			key.vendor,
			fmt.Sprintf("%d", summary.Count),
			summary.Total,
		}
		rendered := make([]string, len(cells))
		for i, cell := range cells {
			rendered[i] = cli.TableCellStyle.Width(widths[i]).Render(truncateCell(cell, widths[i]-2))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	}

	return strings.Join(lines, "\n")
}

// truncateCell shortens a cell value so it cannot push its column wider.
func truncateCell(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
