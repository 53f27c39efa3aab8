// Package testutil provides shared helpers for tests that need a real
// storage backend and receipt fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/storage"
	"github.com/shopspring/decimal"
)

// TestDB wraps an in-memory storage instance wired for one test.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database that is closed when
// the test finishes.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// SeedReceipts persists the given receipts, failing the test on error.
func (db *TestDB) SeedReceipts(receipts ...model.Receipt) {
	db.t.Helper()

	ctx := context.Background()
	for i := range receipts {
		if err := db.Storage.SaveReceipt(ctx, &receipts[i]); err != nil {
			db.t.Fatalf("failed to seed receipt for %q: %v", receipts[i].Vendor, err)
		}
	}
}

// Receipt builds a valid receipt fixture with a computed fingerprint.
func Receipt(vendor, total string, date time.Time) model.Receipt {
	r := model.Receipt{
		Date:            date,
		ExtractedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		SourceMessageID: "test-" + vendor,
		Vendor:          vendor,
		Currency:        model.DefaultCurrency,
		Total:           decimal.RequireFromString(total),
		Confidence:      0.9,
	}
	r.Fingerprint = r.GenerateFingerprint()
	return r
}
