// Package storage provides the data persistence layer for the receipt
// pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/paper-trail/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrInvalidReceipt   = errors.New("invalid receipt")
	ErrInvalidConflict  = errors.New("invalid conflict")
	ErrInvalidRun       = errors.New("invalid run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateReceipt validates a receipt before persistence.
func validateReceipt(receipt *model.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: receipt", ErrNilParameter)
	}
	if err := receipt.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}
	return nil
}

// validateConflict validates a conflict record before persistence.
func validateConflict(conflict *model.Conflict) error {
	if conflict == nil {
		return fmt.Errorf("%w: conflict", ErrNilParameter)
	}
	if strings.TrimSpace(conflict.Fingerprint) == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidConflict)
	}
	switch conflict.Status {
	case model.ConflictPending, model.ConflictReviewed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidConflict, conflict.Status)
	}
	if err := conflict.Existing.Validate(); err != nil {
		return fmt.Errorf("%w: existing receipt: %w", ErrInvalidConflict, err)
	}
	if err := conflict.Incoming.Validate(); err != nil {
		return fmt.Errorf("%w: incoming receipt: %w", ErrInvalidConflict, err)
	}
	return nil
}

// validateRun validates run stats before persistence.
func validateRun(stats *model.RunStats) error {
	if stats == nil {
		return fmt.Errorf("%w: stats", ErrNilParameter)
	}
	if strings.TrimSpace(stats.RunID) == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidRun)
	}
	if stats.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	return nil
}
