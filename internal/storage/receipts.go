package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
)

const receiptColumns = `SELECT fingerprint, source_message_id, vendor, date, total,
	subtotal, tax, shipping, discount, currency,
	order_number, confidence, line_items, extracted_at`

// SaveReceipt persists a receipt. Saving an already-recorded fingerprint is
// a no-op; receipts are never overwritten after insertion.
func (s *SQLiteStorage) SaveReceipt(ctx context.Context, receipt *model.Receipt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReceipt(receipt); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveReceiptTx(ctx, tx, receipt); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveReceiptTx(ctx context.Context, q queryable, receipt *model.Receipt) error {
	lineItemsJSON := ""
	if len(receipt.LineItems) > 0 {
		lineItemsBytes, marshalErr := json.Marshal(receipt.LineItems)
		if marshalErr != nil {
			return fmt.Errorf("failed to encode line items: %w", marshalErr)
		}
		lineItemsJSON = string(lineItemsBytes)
	}

	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO receipts (
			fingerprint, source_message_id, vendor, date, total,
			subtotal, tax, shipping, discount, currency,
			order_number, confidence, line_items, extracted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		receipt.Fingerprint,
		receipt.SourceMessageID,
		receipt.Vendor,
		receipt.Date,
		receipt.Total.String(),
		decimalValue(receipt.Subtotal),
		decimalValue(receipt.Tax),
		decimalValue(receipt.Shipping),
		decimalValue(receipt.Discount),
		receipt.NormalizedCurrency(),
		nullString(receipt.OrderNumber),
		receipt.Confidence,
		nullString(lineItemsJSON),
		receipt.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt %s: %w", receipt.Fingerprint, err)
	}
	return nil
}

// GetReceiptByFingerprint retrieves a single receipt by its fingerprint.
func (s *SQLiteStorage) GetReceiptByFingerprint(ctx context.Context, fingerprint string) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return s.getReceiptByFingerprintTx(ctx, s.db, fingerprint)
}

func (s *SQLiteStorage) getReceiptByFingerprintTx(ctx context.Context, q queryable, fingerprint string) (*model.Receipt, error) {
	row := q.QueryRowContext(ctx, receiptColumns+` FROM receipts WHERE fingerprint = ?`, fingerprint)

	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: receipt %s", common.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

// GetReceipts retrieves receipts matching the filter, newest first.
func (s *SQLiteStorage) GetReceipts(ctx context.Context, filter service.ReceiptFilter) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: %v to %v", ErrInvalidDateRange, filter.StartDate, filter.EndDate)
	}
	return s.getReceiptsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getReceiptsTx(ctx context.Context, q queryable, filter service.ReceiptFilter) ([]model.Receipt, error) {
	query := receiptColumns + ` FROM receipts WHERE 1=1`
	args := []any{}

	if filter.Vendor != "" {
		query += ` AND vendor = ? COLLATE NOCASE`
		args = append(args, filter.Vendor)
	}
	if filter.StartDate != nil {
		query += ` AND date >= ?`
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		query += ` AND date <= ?`
		args = append(args, *filter.EndDate)
	}

	query += ` ORDER BY date DESC, fingerprint ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []model.Receipt
	for rows.Next() {
		receipt, scanErr := scanReceipt(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		receipts = append(receipts, *receipt)
	}

	return receipts, rows.Err()
}

// LoadFingerprints loads every recorded receipt keyed by fingerprint. Called
// once per run to seed the ledger snapshot.
func (s *SQLiteStorage) LoadFingerprints(ctx context.Context) (map[string]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.loadFingerprintsTx(ctx, s.db)
}

func (s *SQLiteStorage) loadFingerprintsTx(ctx context.Context, q queryable) (map[string]model.Receipt, error) {
	rows, err := q.QueryContext(ctx, receiptColumns+` FROM receipts`)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	fingerprints := make(map[string]model.Receipt)
	for rows.Next() {
		receipt, scanErr := scanReceipt(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		fingerprints[receipt.Fingerprint] = *receipt
	}

	return fingerprints, rows.Err()
}

// CountReceipts reports how many receipts are recorded.
func (s *SQLiteStorage) CountReceipts(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.countReceiptsTx(ctx, s.db)
}

func (s *SQLiteStorage) countReceiptsTx(ctx context.Context, q queryable) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return count, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*model.Receipt, error) {
	var r model.Receipt
	var total string
	var subtotal, tax, shipping, discount, orderNumber, lineItems sql.NullString

	err := row.Scan(
		&r.Fingerprint,
		&r.SourceMessageID,
		&r.Vendor,
		&r.Date,
		&total,
		&subtotal,
		&tax,
		&shipping,
		&discount,
		&r.Currency,
		&orderNumber,
		&r.Confidence,
		&lineItems,
		&r.ExtractedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("%w: receipt %s has bad total %q", common.ErrDatabaseCorrupted, r.Fingerprint, total)
	}
	if r.Subtotal, err = scanDecimal(subtotal, "subtotal", r.Fingerprint); err != nil {
		return nil, err
	}
	if r.Tax, err = scanDecimal(tax, "tax", r.Fingerprint); err != nil {
		return nil, err
	}
	if r.Shipping, err = scanDecimal(shipping, "shipping", r.Fingerprint); err != nil {
		return nil, err
	}
	if r.Discount, err = scanDecimal(discount, "discount", r.Fingerprint); err != nil {
		return nil, err
	}
	r.OrderNumber = orderNumber.String

	if lineItems.Valid && lineItems.String != "" {
		if err := json.Unmarshal([]byte(lineItems.String), &r.LineItems); err != nil {
			return nil, fmt.Errorf("%w: receipt %s has bad line items: %v", common.ErrDatabaseCorrupted, r.Fingerprint, err)
		}
	}

	return &r, nil
}

func scanDecimal(v sql.NullString, field, fingerprint string) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("%w: receipt %s has bad %s %q", common.ErrDatabaseCorrupted, fingerprint, field, v.String)
	}
	return &d, nil
}

func decimalValue(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
