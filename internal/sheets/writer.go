package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// sheetColumnSpan covers every column the export writes.
const sheetColumnSpan = "A:K"

// Writer exports receipts to a Google Sheets spreadsheet. It implements
// the Sink interface so the engine can stream rows during a scan, and it
// can also rebuild the whole sheet from storage via WriteAll.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config

	mu            sync.Mutex
	spreadsheetID string
	sheetID       int64
}

// NewWriter creates a new Google Sheets receipt writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Create the Sheets service
	service, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		config:  config,
		service: service,
		logger:  logger,
	}, nil
}

// Name identifies this sink in logs and run stats.
func (w *Writer) Name() string {
	return "sheets"
}

// Append adds a single receipt row to the sheet.
func (w *Writer) Append(ctx context.Context, receipt model.Receipt) error {
	spreadsheetID, err := w.ensureReady(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrSinkWrite, err)
	}

	valueRange := &sheets.ValueRange{
		Values: [][]any{receiptRow(receipt)},
	}

	err = common.WithRetry(ctx, func() error {
		_, appendErr := w.service.Spreadsheets.Values.Append(spreadsheetID, w.rangeFor(sheetColumnSpan), valueRange).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return appendErr
	}, w.retryOpts())
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrSinkWrite, err)
	}

	w.logger.Debug("appended receipt row",
		"vendor", receipt.Vendor,
		"total", receipt.Total.StringFixed(2))

	return nil
}

// LoadExistingFingerprints reads the sheet's data rows and fingerprints
// them, so the engine can skip receipts the spreadsheet already holds.
// Rows that fail to parse are logged and skipped; hand-edited rows count
// as long as date, vendor and total survive.
func (w *Writer) LoadExistingFingerprints(ctx context.Context) (map[string]model.Receipt, error) {
	spreadsheetID, err := w.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := w.service.Spreadsheets.Values.Get(spreadsheetID, w.rangeFor("A2:K")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read existing rows: %w", err)
	}

	existing := make(map[string]model.Receipt, len(resp.Values))
	for i, row := range resp.Values {
		receipt, parseErr := parseSheetRow(row)
		if parseErr != nil {
			w.logger.Warn("skipping unparseable sheet row", "row", i+2, "error", parseErr)
			continue
		}
		existing[receipt.Fingerprint] = receipt
	}

	w.logger.Info("loaded existing sheet rows",
		"sink", w.Name(),
		"rows", len(existing))

	return existing, nil
}

// WriteAll replaces the sheet contents with the given receipts. The
// export command uses this to rebuild the spreadsheet from storage.
func (w *Writer) WriteAll(ctx context.Context, receipts []model.Receipt) error {
	spreadsheetID, err := w.ensureReady(ctx)
	if err != nil {
		return err
	}

	w.logger.Info("starting sheet export", "receipts", len(receipts))

	// Clear existing data
	if clearErr := w.clearSheet(ctx, spreadsheetID); clearErr != nil {
		return fmt.Errorf("failed to clear sheet: %w", clearErr)
	}

	// Newest purchases first, matching the receipts command
	sorted := make([]model.Receipt, len(receipts))
	copy(sorted, receipts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	values := make([][]any, 0, len(sorted)+1)
	values = append(values, headerRow())
	for _, receipt := range sorted {
		values = append(values, receiptRow(receipt))
	}

	// Write data in batches with retry
	retryOpts := w.retryOpts()
	err = common.WithRetry(ctx, func() error {
		return w.writeData(ctx, spreadsheetID, values)
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	// Apply formatting if enabled
	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return w.applyFormatting(ctx, spreadsheetID, len(values))
		}, retryOpts)
		if err != nil {
			w.logger.Warn("failed to apply formatting", "error", err)
			// Don't fail the whole operation if formatting fails
		}
	}

	w.logger.Info("sheet export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))

	return nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var client *oauth2.Config
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		// Use service account authentication
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		// Use OAuth2 authentication
		client = &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       oauthScopes,
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = client.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// ensureReady resolves the spreadsheet and the receipts tab exactly once
// and caches the IDs for the rest of the process.
func (w *Writer) ensureReady(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.spreadsheetID != "" {
		return w.spreadsheetID, nil
	}

	spreadsheetID, sheetID, err := w.resolveSpreadsheet(ctx)
	if err != nil {
		return "", err
	}

	if err := w.ensureHeader(ctx, spreadsheetID); err != nil {
		return "", err
	}

	w.spreadsheetID = spreadsheetID
	w.sheetID = sheetID
	return spreadsheetID, nil
}

// resolveSpreadsheet verifies the configured spreadsheet or creates a new
// one, and returns the spreadsheet ID plus the receipts tab's sheet ID.
func (w *Writer) resolveSpreadsheet(ctx context.Context) (string, int64, error) {
	if w.config.SpreadsheetID != "" {
		spreadsheet, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", 0, fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, err)
		}

		for _, sheet := range spreadsheet.Sheets {
			if sheet.Properties != nil && sheet.Properties.Title == w.config.SheetName {
				return spreadsheet.SpreadsheetId, sheet.Properties.SheetId, nil
			}
		}

		// The configured spreadsheet exists but has no receipts tab yet
		sheetID, err := w.addSheet(ctx, spreadsheet.SpreadsheetId)
		if err != nil {
			return "", 0, err
		}
		return spreadsheet.SpreadsheetId, sheetID, nil
	}

	// Create a new spreadsheet
	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title: w.config.SheetName,
				},
			},
		},
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	var sheetID int64
	if len(created.Sheets) > 0 && created.Sheets[0].Properties != nil {
		sheetID = created.Sheets[0].Properties.SheetId
	}
	return created.SpreadsheetId, sheetID, nil
}

// addSheet adds the receipts tab to an existing spreadsheet.
func (w *Writer) addSheet(ctx context.Context, spreadsheetID string) (int64, error) {
	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: w.config.SheetName,
					},
				},
			},
		},
	}

	resp, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to add sheet %q: %w", w.config.SheetName, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("add sheet reply missing properties")
	}

	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

// ensureHeader writes the header row if the tab is still empty.
func (w *Writer) ensureHeader(ctx context.Context, spreadsheetID string) error {
	resp, err := w.service.Spreadsheets.Values.Get(spreadsheetID, w.rangeFor("A1:K1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to read header row: %w", err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	valueRange := &sheets.ValueRange{Values: [][]any{headerRow()}}
	_, err = w.service.Spreadsheets.Values.Update(spreadsheetID, w.rangeFor("A1"), valueRange).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to write header row: %w", err)
	}

	return nil
}

// rangeFor qualifies an A1 range with the configured tab name.
func (w *Writer) rangeFor(cells string) string {
	return fmt.Sprintf("%s!%s", w.config.SheetName, cells)
}

// clearSheet clears all data from the receipts tab.
func (w *Writer) clearSheet(ctx context.Context, spreadsheetID string) error {
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, w.rangeFor(sheetColumnSpan), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// writeData writes the data to the spreadsheet.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, values [][]any) error {
	// Write in batches to avoid API limits
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := i + w.config.BatchSize
		if end > len(values) {
			end = len(values)
		}

		batch := values[i:end]
		valueRange := &sheets.ValueRange{
			Values: batch,
		}

		rangeStr := w.rangeFor(fmt.Sprintf("A%d", i+1))
		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()

		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		w.logger.Debug("wrote batch", "start_row", i+1, "rows", len(batch))
	}

	return nil
}

func (w *Writer) retryOpts() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// applyFormatting applies formatting to the receipts tab.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, totalRows int) error {
	requests := []*sheets.Request{
		// Bold the header row
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          w.sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(headerRow())),
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold: true,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format the money columns, Total through Discount
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          w.sheetID,
					StartRowIndex:    1,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 2,
					EndColumnIndex:   7,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: "$#,##0.00",
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		// Format the confidence column
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          w.sheetID,
					StartRowIndex:    1,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 9,
					EndColumnIndex:   10,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "NUMBER",
							Pattern: "0.00",
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		// Auto-resize columns
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    w.sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   int64(len(headerRow())),
				},
			},
		},
		// Freeze the header row
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: w.sheetID,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return err
}

// headerRow is the column order every other row follows.
func headerRow() []any {
	return []any{
		"Date",
		"Vendor",
		"Total",
		"Subtotal",
		"Tax",
		"Shipping",
		"Discount",
		"Order Number",
		"Currency",
		"Confidence",
		"Source Message ID",
	}
}

// receiptRow renders one receipt in the column order of headerRow.
func receiptRow(receipt model.Receipt) []any {
	return []any{
		receipt.Date.Format("2006-01-02"),
		receipt.Vendor,
		receipt.Total.StringFixed(2),
		optionalMoney(receipt.Subtotal),
		optionalMoney(receipt.Tax),
		optionalMoney(receipt.Shipping),
		optionalMoney(receipt.Discount),
		receipt.OrderNumber,
		receipt.NormalizedCurrency(),
		fmt.Sprintf("%.2f", receipt.Confidence),
		receipt.SourceMessageID,
	}
}

func optionalMoney(amount *decimal.Decimal) any {
	if amount == nil {
		return ""
	}
	return amount.StringFixed(2)
}

// parseSheetRow rebuilds a receipt from a spreadsheet row so existing
// entries can be fingerprinted without touching local storage.
func parseSheetRow(row []any) (model.Receipt, error) {
	if len(row) < 3 {
		return model.Receipt{}, fmt.Errorf("row has %d cells, need at least date, vendor and total", len(row))
	}

	date, err := parseCellDate(row[0])
	if err != nil {
		return model.Receipt{}, fmt.Errorf("bad date: %w", err)
	}

	vendor := strings.TrimSpace(cellString(row[1]))
	if vendor == "" {
		return model.Receipt{}, fmt.Errorf("vendor is empty")
	}

	total, err := parseCellMoney(row[2])
	if err != nil {
		return model.Receipt{}, fmt.Errorf("bad total: %w", err)
	}

	receipt := model.Receipt{
		Date:     date,
		Vendor:   vendor,
		Total:    total,
		Currency: model.DefaultCurrency,
	}

	if len(row) > 3 {
		receipt.Subtotal = parseOptionalCellMoney(row[3])
	}
	if len(row) > 4 {
		receipt.Tax = parseOptionalCellMoney(row[4])
	}
	if len(row) > 5 {
		receipt.Shipping = parseOptionalCellMoney(row[5])
	}
	if len(row) > 6 {
		receipt.Discount = parseOptionalCellMoney(row[6])
	}
	if len(row) > 7 {
		receipt.OrderNumber = strings.TrimSpace(cellString(row[7]))
	}
	if len(row) > 8 {
		if currency := strings.TrimSpace(cellString(row[8])); currency != "" {
			receipt.Currency = currency
		}
	}
	if len(row) > 9 {
		if confidence, parseErr := strconv.ParseFloat(strings.TrimSpace(cellString(row[9])), 64); parseErr == nil {
			receipt.Confidence = confidence
		}
	}
	if len(row) > 10 {
		receipt.SourceMessageID = strings.TrimSpace(cellString(row[10]))
	}

	receipt.Fingerprint = receipt.GenerateFingerprint()
	return receipt, nil
}

var sheetDateLayouts = []string{"2006-01-02", "1/2/2006", "01/02/2006", "1/2/06"}

// sheetSerialEpoch is day zero of the spreadsheet serial date system.
var sheetSerialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func parseCellDate(cell any) (time.Time, error) {
	if serial, ok := cell.(float64); ok {
		return sheetSerialEpoch.AddDate(0, 0, int(serial)), nil
	}

	raw := strings.TrimSpace(cellString(cell))
	for _, layout := range sheetDateLayouts {
		if date, err := time.Parse(layout, raw); err == nil {
			return date.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// moneyCleaner strips the currency symbols and separators that
// USER_ENTERED formatting puts back into cells.
var moneyCleaner = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")

func parseCellMoney(cell any) (decimal.Decimal, error) {
	raw := strings.TrimSpace(moneyCleaner.Replace(cellString(cell)))
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("amount is empty")
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: %w", raw, err)
	}
	return amount, nil
}

func parseOptionalCellMoney(cell any) *decimal.Decimal {
	amount, err := parseCellMoney(cell)
	if err != nil {
		return nil
	}
	return &amount
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
