//go:build integration
// +build integration

package sheets

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterIntegrationOAuth2(t *testing.T) {
	// Skip if OAuth2 credentials are not available
	clientID := os.Getenv("GOOGLE_SHEETS_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET")
	refreshToken := os.Getenv("GOOGLE_SHEETS_REFRESH_TOKEN")

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		t.Skip("OAuth2 credentials not available")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	config := DefaultConfig()
	config.ClientID = clientID
	config.ClientSecret = clientSecret
	config.RefreshToken = refreshToken
	config.SpreadsheetName = "Email Receipts - Integration"

	writer, err := NewWriter(ctx, config, logger)
	require.NoError(t, err)

	receipts := generateIntegrationReceipts()

	// Rebuild the sheet, then confirm every row fingerprints back
	require.NoError(t, writer.WriteAll(ctx, receipts))

	existing, err := writer.LoadExistingFingerprints(ctx)
	require.NoError(t, err)
	assert.Len(t, existing, len(receipts))
	for _, receipt := range receipts {
		assert.Contains(t, existing, receipt.Fingerprint)
	}

	// Append one more row on top of the rebuilt sheet
	extra := receipts[0]
	extra.Vendor = "Integration Extra"
	extra.Fingerprint = extra.GenerateFingerprint()
	require.NoError(t, writer.Append(ctx, extra))
}

func TestWriterIntegrationExistingSpreadsheet(t *testing.T) {
	// Skip if credentials and spreadsheet ID are not available
	spreadsheetID := os.Getenv("GOOGLE_SHEETS_TEST_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("Test spreadsheet ID not available")
	}

	serviceAccountPath := os.Getenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH")
	if serviceAccountPath == "" {
		t.Skip("Service account path not available")
	}
	if _, err := os.Stat(serviceAccountPath); os.IsNotExist(err) {
		t.Skipf("Service account file does not exist: %s", serviceAccountPath)
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	config := DefaultConfig()
	config.ServiceAccountPath = serviceAccountPath
	config.SpreadsheetID = spreadsheetID

	writer, err := NewWriter(ctx, config, logger)
	require.NoError(t, err)

	require.NoError(t, writer.WriteAll(ctx, generateIntegrationReceipts()))
}

func generateIntegrationReceipts() []model.Receipt {
	tax := decimal.NewFromFloat(1.12)

	receipts := []model.Receipt{
		{
			Date:            time.Date(2024, 4, 18, 0, 0, 0, 0, time.UTC),
			Vendor:          "Acme Coffee",
			Total:           decimal.NewFromFloat(14.12),
			Tax:             &tax,
			Currency:        "USD",
			Confidence:      0.9,
			SourceMessageID: "integration-1",
		},
		{
			Date:            time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC),
			Vendor:          "Big Box",
			Total:           decimal.NewFromFloat(102.50),
			OrderNumber:     "ORD-555",
			Currency:        "USD",
			Confidence:      0.75,
			SourceMessageID: "integration-2",
		},
	}

	for i := range receipts {
		receipts[i].ExtractedAt = time.Now().UTC()
		receipts[i].Fingerprint = receipts[i].GenerateFingerprint()
	}
	return receipts
}
