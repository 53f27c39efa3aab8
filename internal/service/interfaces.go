// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/paper-trail/internal/model"
)

// ReceiptFilter defines filtering options for receipt queries.
type ReceiptFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Vendor    string
	Limit     int
	Offset    int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Receipt operations
	SaveReceipt(ctx context.Context, receipt *model.Receipt) error
	GetReceiptByFingerprint(ctx context.Context, fingerprint string) (*model.Receipt, error)
	GetReceipts(ctx context.Context, filter ReceiptFilter) ([]model.Receipt, error)
	LoadFingerprints(ctx context.Context) (map[string]model.Receipt, error)
	CountReceipts(ctx context.Context) (int, error)

	// Conflict operations
	SaveConflict(ctx context.Context, conflict *model.Conflict) error
	GetConflict(ctx context.Context, id int64) (*model.Conflict, error)
	GetConflicts(ctx context.Context, status model.ConflictStatus) ([]model.Conflict, error)
	MarkConflictReviewed(ctx context.Context, id int64) error

	// Run tracking
	RecordRun(ctx context.Context, stats *model.RunStats) error
	FinishRun(ctx context.Context, stats *model.RunStats) error
	GetLatestRun(ctx context.Context) (*model.RunStats, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// MessageSource fetches raw messages for the pipeline to process.
type MessageSource interface {
	Name() string
	Fetch(ctx context.Context, query string, max int) ([]model.RawMessage, error)
}

// Sink receives extracted receipts and can describe rows it already holds.
type Sink interface {
	Name() string
	LoadExistingFingerprints(ctx context.Context) (map[string]model.Receipt, error)
	Append(ctx context.Context, receipt model.Receipt) error
}

// DateRange represents a time period with start and end dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// VendorSummary contains aggregated statistics for a vendor.
type VendorSummary struct {
	Count int
	Total string
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
