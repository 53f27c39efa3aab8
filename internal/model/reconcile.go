package model

import "time"

// ReconcileOutcome describes what the deduplicator decided for one receipt.
type ReconcileOutcome string

// Reconcile outcome constants.
const (
	OutcomeInserted         ReconcileOutcome = "INSERTED"
	OutcomeSkippedDuplicate ReconcileOutcome = "SKIPPED_DUPLICATE"
	OutcomeFlaggedConflict  ReconcileOutcome = "FLAGGED_CONFLICT"
)

// ConflictStatus tracks whether a flagged conflict has been looked at.
type ConflictStatus string

// Conflict status constants.
const (
	ConflictPending  ConflictStatus = "PENDING"
	ConflictReviewed ConflictStatus = "REVIEWED"
)

// Conflict records two receipts that describe the same transaction but
// disagree on the total. Both sides are retained; resolution is always
// manual.
type Conflict struct {
	DetectedAt  time.Time
	Fingerprint string
	Status      ConflictStatus
	RunID       string
	Existing    Receipt
	Incoming    Receipt
	ID          int64
}

// RunStats accumulates counters for a single pipeline run.
type RunStats struct {
	StartedAt          time.Time
	CompletedAt        time.Time
	RunID              string
	Query              string
	MessagesFetched    int
	MessagesClassified int
	ReceiptsExtracted  int
	Inserted           int
	Duplicates         int
	Conflicts          int
	SkippedLowScore    int
	SinkFailures       int
	Errors             int
}
