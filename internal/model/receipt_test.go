package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFingerprint(t *testing.T) {
	date := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	base := Receipt{
		Vendor:   "Acme Coffee",
		Date:     date,
		Total:    decimal.RequireFromString("4.50"),
		Currency: "USD",
	}

	tests := []struct {
		name      string
		modify    func(r *Receipt)
		wantEqual bool
	}{
		{
			name:      "identical receipts",
			modify:    func(_ *Receipt) {},
			wantEqual: true,
		},
		{
			name: "vendor case differs",
			modify: func(r *Receipt) {
				r.Vendor = "ACME COFFEE"
			},
			wantEqual: true,
		},
		{
			name: "vendor whitespace differs",
			modify: func(r *Receipt) {
				r.Vendor = "  Acme   Coffee "
			},
			wantEqual: true,
		},
		{
			name: "total formatted differently",
			modify: func(r *Receipt) {
				r.Total = decimal.RequireFromString("4.5")
			},
			wantEqual: true,
		},
		{
			name: "empty currency defaults to USD",
			modify: func(r *Receipt) {
				r.Currency = ""
			},
			wantEqual: true,
		},
		{
			name: "currency case differs",
			modify: func(r *Receipt) {
				r.Currency = "usd"
			},
			wantEqual: true,
		},
		{
			name: "time of day ignored",
			modify: func(r *Receipt) {
				r.Date = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
			},
			wantEqual: true,
		},
		{
			name: "different total",
			modify: func(r *Receipt) {
				r.Total = decimal.RequireFromString("4.51")
			},
			wantEqual: false,
		},
		{
			name: "different vendor",
			modify: func(r *Receipt) {
				r.Vendor = "Acme Tea"
			},
			wantEqual: false,
		},
		{
			name: "different date",
			modify: func(r *Receipt) {
				r.Date = date.AddDate(0, 0, 1)
			},
			wantEqual: false,
		},
		{
			name: "different currency",
			modify: func(r *Receipt) {
				r.Currency = "EUR"
			},
			wantEqual: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.modify(&other)

			baseFP := base.GenerateFingerprint()
			otherFP := other.GenerateFingerprint()

			assert.Len(t, baseFP, 64)
			if tt.wantEqual {
				assert.Equal(t, baseFP, otherFP)
			} else {
				assert.NotEqual(t, baseFP, otherFP)
			}
		})
	}
}

func TestGenerateFingerprintDeterministic(t *testing.T) {
	r := Receipt{
		Vendor:   "Whole Foods Market",
		Date:     time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
		Total:    decimal.RequireFromString("87.23"),
		Currency: "USD",
	}

	first := r.GenerateFingerprint()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.GenerateFingerprint())
	}
}

func TestTransactionKey(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	a := Receipt{Vendor: "Acme Coffee", Date: date, Total: decimal.RequireFromString("20.00")}
	b := Receipt{Vendor: "ACME   coffee", Date: date, Total: decimal.RequireFromString("25.00")}

	// Same purchase identity even though the totals disagree.
	assert.Equal(t, a.TransactionKey(), b.TransactionKey())
	assert.NotEqual(t, a.GenerateFingerprint(), b.GenerateFingerprint())

	c := Receipt{Vendor: "Acme Coffee", Date: date.AddDate(0, 0, 1), Total: decimal.RequireFromString("20.00")}
	assert.NotEqual(t, a.TransactionKey(), c.TransactionKey())

	d := Receipt{Vendor: "Acme Coffee", Date: date, Total: decimal.RequireFromString("20.00"), Currency: "EUR"}
	assert.NotEqual(t, a.TransactionKey(), d.TransactionKey())
}

func TestReceiptValidate(t *testing.T) {
	valid := func() Receipt {
		r := Receipt{
			Vendor:     "Acme Coffee",
			Date:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Total:      decimal.RequireFromString("4.50"),
			Currency:   "USD",
			Confidence: 0.9,
		}
		r.Fingerprint = r.GenerateFingerprint()
		return r
	}

	tests := []struct {
		modify  func(r *Receipt)
		name    string
		wantErr string
	}{
		{
			name:   "valid receipt",
			modify: func(_ *Receipt) {},
		},
		{
			name: "zero total is allowed",
			modify: func(r *Receipt) {
				r.Total = decimal.Zero
			},
		},
		{
			name: "missing vendor",
			modify: func(r *Receipt) {
				r.Vendor = "   "
			},
			wantErr: "vendor is required",
		},
		{
			name: "missing date",
			modify: func(r *Receipt) {
				r.Date = time.Time{}
			},
			wantErr: "date is required",
		},
		{
			name: "missing fingerprint",
			modify: func(r *Receipt) {
				r.Fingerprint = ""
			},
			wantErr: "fingerprint is required",
		},
		{
			name: "negative total",
			modify: func(r *Receipt) {
				r.Total = decimal.RequireFromString("-1.00")
			},
			wantErr: "total must not be negative",
		},
		{
			name: "confidence above one",
			modify: func(r *Receipt) {
				r.Confidence = 1.5
			},
			wantErr: "confidence must be between 0 and 1",
		},
		{
			name: "negative line item",
			modify: func(r *Receipt) {
				r.LineItems = []LineItem{
					{Description: "Latte", Amount: decimal.RequireFromString("-4.50"), Quantity: 1},
				}
			},
			wantErr: "amount must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.modify(&r)

			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNormalizedCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		want     string
	}{
		{name: "empty defaults", currency: "", want: "USD"},
		{name: "whitespace defaults", currency: "  ", want: "USD"},
		{name: "lowercase uppercased", currency: "eur", want: "EUR"},
		{name: "already normalized", currency: "GBP", want: "GBP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Receipt{Currency: tt.currency}
			assert.Equal(t, tt.want, r.NormalizedCurrency())
		})
	}
}

func TestCandidateAccessors(t *testing.T) {
	msg := NormalizedMessage{
		Candidates: []Candidate{
			{Kind: CandidateAmount, Amount: decimal.RequireFromString("4.50"), Position: 10, Label: "total"},
			{Kind: CandidateDate, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Position: 25},
			{Kind: CandidateAmount, Amount: decimal.RequireFromString("0.35"), Position: 40, Label: "tax"},
		},
	}

	amounts := msg.AmountCandidates()
	require.Len(t, amounts, 2)
	assert.Equal(t, "total", amounts[0].Label)
	assert.Equal(t, "tax", amounts[1].Label)

	dates := msg.DateCandidates()
	require.Len(t, dates, 1)
	assert.Equal(t, 25, dates[0].Position)
}
