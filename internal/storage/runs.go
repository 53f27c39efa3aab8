package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
)

// RecordRun inserts a run record at the start of a pipeline run.
func (s *SQLiteStorage) RecordRun(ctx context.Context, stats *model.RunStats) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(stats); err != nil {
		return err
	}
	return s.recordRunTx(ctx, s.db, stats)
}

func (s *SQLiteStorage) recordRunTx(ctx context.Context, q queryable, stats *model.RunStats) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO runs (id, query, started_at)
		VALUES (?, ?, ?)
	`, stats.RunID, nullString(stats.Query), stats.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", stats.RunID, err)
	}
	return nil
}

// FinishRun writes the final counters and completion time for a run.
func (s *SQLiteStorage) FinishRun(ctx context.Context, stats *model.RunStats) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(stats); err != nil {
		return err
	}
	return s.finishRunTx(ctx, s.db, stats)
}

func (s *SQLiteStorage) finishRunTx(ctx context.Context, q queryable, stats *model.RunStats) error {
	result, err := q.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			messages_fetched = ?,
			messages_classified = ?,
			receipts_extracted = ?,
			inserted = ?,
			duplicates = ?,
			conflicts = ?,
			skipped_low_score = ?,
			sink_failures = ?,
			errors = ?
		WHERE id = ?
	`,
		stats.CompletedAt,
		stats.MessagesFetched,
		stats.MessagesClassified,
		stats.ReceiptsExtracted,
		stats.Inserted,
		stats.Duplicates,
		stats.Conflicts,
		stats.SkippedLowScore,
		stats.SinkFailures,
		stats.Errors,
		stats.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", stats.RunID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s", common.ErrNotFound, stats.RunID)
	}
	return nil
}

// GetLatestRun returns the most recently started run, if any.
func (s *SQLiteStorage) GetLatestRun(ctx context.Context) (*model.RunStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getLatestRunTx(ctx, s.db)
}

func (s *SQLiteStorage) getLatestRunTx(ctx context.Context, q queryable) (*model.RunStats, error) {
	var stats model.RunStats
	var query sql.NullString
	var completedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, query, started_at, completed_at,
		       messages_fetched, messages_classified, receipts_extracted,
		       inserted, duplicates, conflicts, skipped_low_score,
		       sink_failures, errors
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`).Scan(
		&stats.RunID,
		&query,
		&stats.StartedAt,
		&completedAt,
		&stats.MessagesFetched,
		&stats.MessagesClassified,
		&stats.ReceiptsExtracted,
		&stats.Inserted,
		&stats.Duplicates,
		&stats.Conflicts,
		&stats.SkippedLowScore,
		&stats.SinkFailures,
		&stats.Errors,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no runs recorded", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	stats.Query = query.String
	if completedAt.Valid {
		stats.CompletedAt = completedAt.Time
	}
	return &stats, nil
}
