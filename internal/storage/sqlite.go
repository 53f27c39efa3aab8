package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// NewCheckpointManager creates a new checkpoint manager for this storage instance.
func (s *SQLiteStorage) NewCheckpointManager() (*CheckpointManager, error) {
	return NewCheckpointManager(s.db, s.dbPath)
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) SaveReceipt(ctx context.Context, receipt *model.Receipt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReceipt(receipt); err != nil {
		return err
	}
	return t.storage.saveReceiptTx(ctx, t.tx, receipt)
}

func (t *sqliteTransaction) GetReceiptByFingerprint(ctx context.Context, fingerprint string) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return t.storage.getReceiptByFingerprintTx(ctx, t.tx, fingerprint)
}

func (t *sqliteTransaction) GetReceipts(ctx context.Context, filter service.ReceiptFilter) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getReceiptsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) LoadFingerprints(ctx context.Context) (map[string]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.loadFingerprintsTx(ctx, t.tx)
}

func (t *sqliteTransaction) CountReceipts(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.countReceiptsTx(ctx, t.tx)
}

func (t *sqliteTransaction) SaveConflict(ctx context.Context, conflict *model.Conflict) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateConflict(conflict); err != nil {
		return err
	}
	return t.storage.saveConflictTx(ctx, t.tx, conflict)
}

func (t *sqliteTransaction) GetConflict(ctx context.Context, id int64) (*model.Conflict, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getConflictTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetConflicts(ctx context.Context, status model.ConflictStatus) ([]model.Conflict, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getConflictsTx(ctx, t.tx, status)
}

func (t *sqliteTransaction) MarkConflictReviewed(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.markConflictReviewedTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) RecordRun(ctx context.Context, stats *model.RunStats) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(stats); err != nil {
		return err
	}
	return t.storage.recordRunTx(ctx, t.tx, stats)
}

func (t *sqliteTransaction) FinishRun(ctx context.Context, stats *model.RunStats) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(stats); err != nil {
		return err
	}
	return t.storage.finishRunTx(ctx, t.tx, stats)
}

func (t *sqliteTransaction) GetLatestRun(ctx context.Context) (*model.RunStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getLatestRunTx(ctx, t.tx)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
