package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when a message carries no currency indicator.
const DefaultCurrency = "USD"

// LineItem is a single purchased item parsed from a receipt body.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int             `json:"quantity"`
}

// Receipt represents the structured fields extracted from one receipt email.
type Receipt struct {
	Date            time.Time        `json:"date"`
	ExtractedAt     time.Time        `json:"extracted_at"`
	Fingerprint     string           `json:"fingerprint"`
	SourceMessageID string           `json:"source_message_id"`
	Vendor          string           `json:"vendor"`
	OrderNumber     string           `json:"order_number,omitempty"`
	Currency        string           `json:"currency"`
	Subtotal        *decimal.Decimal `json:"subtotal,omitempty"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
	Shipping        *decimal.Decimal `json:"shipping,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
	LineItems       []LineItem       `json:"line_items,omitempty"`
	Total           decimal.Decimal  `json:"total"`
	Confidence      float64          `json:"confidence"`
}

// GenerateFingerprint creates a deterministic hash for duplicate detection.
// Vendor case and interior whitespace do not affect the result, and totals
// compare on normalized decimal value ("20.0" and "$20.00" collide).
func (r *Receipt) GenerateFingerprint() string {
	data := fmt.Sprintf("%s:%s", r.TransactionKey(), r.Total.StringFixed(2))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// TransactionKey identifies the real-world transaction independent of the
// extracted total. Two receipts sharing a key but carrying different totals
// disagree about the same purchase.
func (r *Receipt) TransactionKey() string {
	return fmt.Sprintf("%s:%s:%s",
		canonicalVendor(r.Vendor),
		r.Date.Format("2006-01-02"),
		r.NormalizedCurrency())
}

// NormalizedCurrency returns the uppercased currency code, defaulting to
// DefaultCurrency when none was detected.
func (r *Receipt) NormalizedCurrency() string {
	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}

// Validate ensures the receipt satisfies the pipeline's invariants.
func (r *Receipt) Validate() error {
	if strings.TrimSpace(r.Vendor) == "" {
		return fmt.Errorf("vendor is required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if r.Total.IsNegative() {
		return fmt.Errorf("total must not be negative")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1")
	}
	for i, item := range r.LineItems {
		if item.Amount.IsNegative() {
			return fmt.Errorf("line item %d: amount must not be negative", i)
		}
	}
	return nil
}

func canonicalVendor(vendor string) string {
	return strings.Join(strings.Fields(strings.ToLower(vendor)), " ")
}
