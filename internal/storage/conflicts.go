package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
)

const conflictColumns = `SELECT id, fingerprint, status, run_id,
	existing_json, incoming_json, detected_at`

// SaveConflict records a flagged conflict for manual review and fills in
// the assigned ID.
func (s *SQLiteStorage) SaveConflict(ctx context.Context, conflict *model.Conflict) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateConflict(conflict); err != nil {
		return err
	}
	return s.saveConflictTx(ctx, s.db, conflict)
}

func (s *SQLiteStorage) saveConflictTx(ctx context.Context, q queryable, conflict *model.Conflict) error {
	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = time.Now().UTC()
	}

	existingJSON, err := json.Marshal(conflict.Existing)
	if err != nil {
		return fmt.Errorf("failed to encode existing receipt: %w", err)
	}
	incomingJSON, err := json.Marshal(conflict.Incoming)
	if err != nil {
		return fmt.Errorf("failed to encode incoming receipt: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO conflicts (fingerprint, status, run_id, existing_json, incoming_json, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conflict.Fingerprint,
		string(conflict.Status),
		nullString(conflict.RunID),
		string(existingJSON),
		string(incomingJSON),
		conflict.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get conflict ID: %w", err)
	}
	conflict.ID = id
	return nil
}

// GetConflict retrieves a single conflict by ID.
func (s *SQLiteStorage) GetConflict(ctx context.Context, id int64) (*model.Conflict, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getConflictTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getConflictTx(ctx context.Context, q queryable, id int64) (*model.Conflict, error) {
	row := q.QueryRowContext(ctx, conflictColumns+` FROM conflicts WHERE id = ?`, id)

	conflict, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict %d", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return conflict, nil
}

// GetConflicts retrieves conflicts with the given status, newest first. An
// empty status returns every conflict.
func (s *SQLiteStorage) GetConflicts(ctx context.Context, status model.ConflictStatus) ([]model.Conflict, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getConflictsTx(ctx, s.db, status)
}

func (s *SQLiteStorage) getConflictsTx(ctx context.Context, q queryable, status model.ConflictStatus) ([]model.Conflict, error) {
	query := conflictColumns + ` FROM conflicts`
	args := []any{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY detected_at DESC, id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []model.Conflict
	for rows.Next() {
		conflict, scanErr := scanConflict(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		conflicts = append(conflicts, *conflict)
	}

	return conflicts, rows.Err()
}

// MarkConflictReviewed transitions a conflict to REVIEWED. The receipts on
// both sides stay untouched.
func (s *SQLiteStorage) MarkConflictReviewed(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.markConflictReviewedTx(ctx, s.db, id)
}

func (s *SQLiteStorage) markConflictReviewedTx(ctx context.Context, q queryable, id int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE conflicts SET status = ? WHERE id = ?
	`, string(model.ConflictReviewed), id)
	if err != nil {
		return fmt.Errorf("failed to update conflict %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: conflict %d", common.ErrNotFound, id)
	}
	return nil
}

func scanConflict(row rowScanner) (*model.Conflict, error) {
	var c model.Conflict
	var status string
	var runID sql.NullString
	var existingJSON, incomingJSON string

	err := row.Scan(
		&c.ID,
		&c.Fingerprint,
		&status,
		&runID,
		&existingJSON,
		&incomingJSON,
		&c.DetectedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = model.ConflictStatus(status)
	c.RunID = runID.String

	if err := json.Unmarshal([]byte(existingJSON), &c.Existing); err != nil {
		return nil, fmt.Errorf("%w: conflict %d has bad existing receipt: %v", common.ErrDatabaseCorrupted, c.ID, err)
	}
	if err := json.Unmarshal([]byte(incomingJSON), &c.Incoming); err != nil {
		return nil, fmt.Errorf("%w: conflict %d has bad incoming receipt: %v", common.ErrDatabaseCorrupted, c.ID, err)
	}

	return &c, nil
}
