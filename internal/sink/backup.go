// Package sink delivers extracted receipts to their destinations.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/paper-trail/internal/model"
)

// LocalBackup writes each receipt to its own JSON file in a directory. It is
// best effort: a failed write is logged and never fails the run, so it can
// serve as the sole sink when Sheets is not configured.
type LocalBackup struct {
	dir    string
	logger *slog.Logger
}

// NewLocalBackup creates a backup sink rooted at dir, creating it if needed.
func NewLocalBackup(dir string, logger *slog.Logger) (*LocalBackup, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalBackup{
		dir:    dir,
		logger: logger,
	}, nil
}

// Name identifies this sink in logs and run records.
func (b *LocalBackup) Name() string {
	return "backup"
}

// Append writes one receipt as a JSON file named after its date, vendor,
// and fingerprint prefix. Appending the same receipt twice overwrites the
// same file.
func (b *LocalBackup) Append(ctx context.Context, receipt model.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		b.logger.Warn("Failed to encode receipt backup", "fingerprint", receipt.Fingerprint, "error", err)
		return nil
	}

	path := filepath.Join(b.dir, backupFilename(receipt))
	if err := os.WriteFile(path, data, 0600); err != nil {
		b.logger.Warn("Failed to write receipt backup", "path", path, "error", err)
		return nil
	}

	b.logger.Debug("Wrote receipt backup", "path", path)
	return nil
}

// LoadExistingFingerprints reads every backup file back into receipts keyed
// by fingerprint. Unreadable files are skipped.
func (b *LocalBackup) LoadExistingFingerprints(ctx context.Context) (map[string]model.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	receipts := make(map[string]model.Receipt)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(b.dir, entry.Name())
		data, err := os.ReadFile(path) // #nosec G304 - path is inside the backup dir
		if err != nil {
			b.logger.Warn("Failed to read backup file", "path", path, "error", err)
			continue
		}

		var receipt model.Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			b.logger.Warn("Skipping malformed backup file", "path", path, "error", err)
			continue
		}
		if receipt.Fingerprint == "" {
			continue
		}
		receipts[receipt.Fingerprint] = receipt
	}

	return receipts, nil
}

func backupFilename(receipt model.Receipt) string {
	return fmt.Sprintf("receipt_%s_%s_%s.json",
		receipt.Date.Format("2006-01-02"),
		sanitizeVendor(receipt.Vendor),
		shortFingerprint(receipt.Fingerprint))
}

// sanitizeVendor reduces a vendor name to a filesystem-safe slug.
func sanitizeVendor(vendor string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(vendor)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '_', r == '-':
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "unknown"
	}
	return sb.String()
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) <= 8 {
		return fingerprint
	}
	return fingerprint[:8]
}
