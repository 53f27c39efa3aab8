package extract

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/paper-trail/internal/model"
)

func testMessage(subject, from, body string, received time.Time, cands ...model.Candidate) *model.NormalizedMessage {
	return &model.NormalizedMessage{
		ID:         "msg-1",
		ReceivedAt: received,
		From:       from,
		Subject:    subject,
		CleanText:  body,
		Candidates: cands,
	}
}

func amount(value, label string, position int) model.Candidate {
	return model.Candidate{
		Kind:     model.CandidateAmount,
		Amount:   decimal.RequireFromString(value),
		Currency: "USD",
		Label:    label,
		Position: position,
	}
}

func bareAmount(value string, position int) model.Candidate {
	return model.Candidate{
		Kind:     model.CandidateAmount,
		Amount:   decimal.RequireFromString(value),
		Position: position,
	}
}

func dateCand(date time.Time, label string, position int) model.Candidate {
	return model.Candidate{
		Kind:     model.CandidateDate,
		Date:     date,
		Label:    label,
		Position: position,
	}
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor()
	require.NoError(t, err)
	return e
}

func TestExtractReceipt(t *testing.T) {
	e := newExtractor(t)
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	msg := testMessage(
		"Your Receipt from Acme Coffee",
		"Acme Coffee <orders@acmecoffee.com>",
		"Total: $4.50\nTax: $0.35",
		received,
		amount("4.50", "total", 7),
		amount("0.35", "tax", 20),
	)

	r := e.Extract(msg)

	assert.Equal(t, "Acme Coffee", r.Vendor)
	assert.Equal(t, "4.50", r.Total.StringFixed(2))
	require.NotNil(t, r.Tax)
	assert.Equal(t, "0.35", r.Tax.StringFixed(2))
	assert.Nil(t, r.Subtotal)
	assert.Equal(t, received, r.Date)
	assert.Equal(t, "USD", r.Currency)
	assert.Equal(t, "msg-1", r.SourceMessageID)
	assert.GreaterOrEqual(t, r.Confidence, 0.8)
	assert.Len(t, r.Fingerprint, 64)
	assert.Empty(t, r.LineItems)
	assert.NoError(t, r.Validate())

	// Extraction is deterministic for the fields that feed the fingerprint.
	again := e.Extract(msg)
	assert.Equal(t, r.Fingerprint, again.Fingerprint)
}

func TestExtractNoAmounts(t *testing.T) {
	e := newExtractor(t)
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	msg := testMessage(
		"Your receipt from Quiet Corp",
		"Quiet Corp <hello@quietcorp.com>",
		"We have processed your request.",
		received,
	)

	r := e.Extract(msg)

	assert.True(t, r.Total.IsZero())
	assert.LessOrEqual(t, r.Confidence, 0.5)
	assert.Equal(t, received, r.Date)
	assert.NoError(t, r.Validate())
}

func TestExtractVendorLadder(t *testing.T) {
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name           string
		subject        string
		from           string
		body           string
		wantVendor     string
		wantConfidence float64
	}{
		{
			name:           "receipt from subject",
			subject:        "Your Receipt from Acme Coffee",
			from:           "noreply@mailer.example.com",
			wantVendor:     "Acme Coffee",
			wantConfidence: 1.0,
		},
		{
			name:           "bare receipt from subject",
			subject:        "Receipt from Blue Bottle Coffee",
			from:           "noreply@mailer.example.com",
			wantVendor:     "Blue Bottle Coffee",
			wantConfidence: 1.0,
		},
		{
			name:           "order confirmation dash subject",
			subject:        "Order Confirmation - Backcountry",
			from:           "noreply@mailer.example.com",
			wantVendor:     "Backcountry",
			wantConfidence: 1.0,
		},
		{
			name:           "vendor leading subject",
			subject:        "Lyft order confirmation",
			from:           "noreply@mailer.example.com",
			wantVendor:     "Lyft",
			wantConfidence: 1.0,
		},
		{
			name:           "thanks subject",
			subject:        "Thanks for your order, Printify",
			from:           "noreply@mailer.example.com",
			wantVendor:     "Printify",
			wantConfidence: 1.0,
		},
		{
			name:           "subject with order reference",
			subject:        "Your Receipt from Acme Coffee #4417",
			from:           "noreply@mailer.example.com",
			wantVendor:     "Acme Coffee",
			wantConfidence: 1.0,
		},
		{
			name:           "known sender domain",
			subject:        "Thank you",
			from:           "Starbucks Card <no-reply@starbucks.com>",
			wantVendor:     "Starbucks",
			wantConfidence: 0.9,
		},
		{
			name:           "known domain with subdomain",
			subject:        "Thank you",
			from:           "auto-confirm@orders.amazon.com",
			wantVendor:     "Amazon",
			wantConfidence: 0.9,
		},
		{
			name:           "generic domain title cased",
			subject:        "Thank you",
			from:           "orders@blue-bottle.com",
			wantVendor:     "Blue Bottle",
			wantConfidence: 0.9,
		},
		{
			name:           "freemail falls through to body phrase",
			subject:        "your invoice is attached",
			from:           "someone@gmail.com",
			body:           "Dear Customer\nAcme Hardware Supply\nthanks for shopping with us",
			wantVendor:     "Acme Hardware Supply",
			wantConfidence: 0.8,
		},
		{
			name:           "nothing resolves",
			subject:        "hi there",
			from:           "someone@gmail.com",
			body:           "nothing to see here",
			wantVendor:     UnknownVendor,
			wantConfidence: 0.7,
		},
	}

	e := newExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage(tt.subject, tt.from, tt.body, received,
				amount("12.00", "total", 5))

			r := e.Extract(msg)

			assert.Equal(t, tt.wantVendor, r.Vendor)
			assert.InDelta(t, tt.wantConfidence, r.Confidence, 1e-9)
		})
	}
}

func TestExtractTotalSelection(t *testing.T) {
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name           string
		cands          []model.Candidate
		wantTotal      string
		wantConfidence float64
	}{
		{
			name: "labeled total beats larger subtotal",
			cands: []model.Candidate{
				amount("50.00", "subtotal", 5),
				amount("5.00", "discount", 20),
				amount("45.00", "total", 35),
			},
			wantTotal:      "45.00",
			wantConfidence: 1.0,
		},
		{
			name: "grand total outranks later plain total",
			cands: []model.Candidate{
				amount("104.93", "grand total", 10),
				amount("99.99", "total", 50),
			},
			wantTotal:      "104.93",
			wantConfidence: 1.0,
		},
		{
			name: "last labeled total wins within rank",
			cands: []model.Candidate{
				amount("10.00", "total", 5),
				amount("12.50", "total", 40),
			},
			wantTotal:      "12.50",
			wantConfidence: 1.0,
		},
		{
			name: "largest unlabeled fallback",
			cands: []model.Candidate{
				bareAmount("9.99", 5),
				bareAmount("25.00", 20),
				amount("3.50", "tax", 35),
			},
			wantTotal:      "25.00",
			wantConfidence: 0.8,
		},
		{
			name: "component amounts only",
			cands: []model.Candidate{
				amount("3.50", "tax", 5),
			},
			wantTotal:      "3.50",
			wantConfidence: 0.8,
		},
		{
			name:           "no amounts at all",
			cands:          nil,
			wantTotal:      "0.00",
			wantConfidence: 0.5,
		},
	}

	e := newExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage("Your receipt from Vendorco", "orders@vendorco.com",
				"see attached", received, tt.cands...)

			r := e.Extract(msg)

			assert.Equal(t, tt.wantTotal, r.Total.StringFixed(2))
			assert.InDelta(t, tt.wantConfidence, r.Confidence, 1e-9)
		})
	}
}

func TestExtractDateSelection(t *testing.T) {
	received := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		received       time.Time
		cands          []model.Candidate
		wantDate       time.Time
		wantConfidence float64
	}{
		{
			name:     "received time by default",
			received: received,
			wantDate: received,
		},
		{
			name:     "much earlier order date wins",
			received: received,
			cands: []model.Candidate{
				dateCand(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "order date", 10),
			},
			wantDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "same day order date ignored",
			received: received,
			cands: []model.Candidate{
				dateCand(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), "order date", 10),
			},
			wantDate: received,
		},
		{
			name:     "delivery date never replaces received time",
			received: received,
			cands: []model.Candidate{
				dateCand(time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC), "delivery date", 10),
			},
			wantDate: received,
		},
		{
			name: "labeled body date when received is unknown",
			cands: []model.Candidate{
				dateCand(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "order date", 10),
			},
			wantDate:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			wantConfidence: 0.8,
		},
		{
			name: "any body date when received is unknown",
			cands: []model.Candidate{
				dateCand(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), "", 10),
			},
			wantDate:       time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			wantConfidence: 0.8,
		},
	}

	e := newExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := append([]model.Candidate{amount("12.00", "total", 5)}, tt.cands...)
			msg := testMessage("Your receipt from Vendorco", "orders@vendorco.com",
				"see attached", tt.received, cands...)

			r := e.Extract(msg)

			assert.True(t, r.Date.Equal(tt.wantDate), "got %s want %s", r.Date, tt.wantDate)
			if tt.wantConfidence != 0 {
				assert.InDelta(t, tt.wantConfidence, r.Confidence, 1e-9)
			} else {
				assert.InDelta(t, 1.0, r.Confidence, 1e-9)
			}
		})
	}
}

func TestExtractConfidenceFloor(t *testing.T) {
	e := newExtractor(t)

	// No vendor, no amounts, no dates, no arrival time. The penalties sum
	// past 1.0 but confidence never goes below the floor.
	msg := testMessage("hi", "someone@gmail.com", "nothing here", time.Time{})

	r := e.Extract(msg)

	assert.Equal(t, UnknownVendor, r.Vendor)
	assert.True(t, r.Total.IsZero())
	assert.InDelta(t, 0.1, r.Confidence, 1e-9)
	assert.False(t, r.Date.IsZero())
}

func TestExtractVendorRules(t *testing.T) {
	e := newExtractor(t)
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	msg := testMessage(
		"Shipped: your package",
		"auto-confirm@amazon.com",
		"Order # 112-7366999-1268240\nGrand Total: $45.99",
		received,
		amount("45.99", "grand total", 30),
	)

	r := e.Extract(msg)

	assert.Equal(t, "Amazon", r.Vendor)
	assert.Equal(t, "45.99", r.Total.StringFixed(2))
	assert.Equal(t, "112-7366999-1268240", r.OrderNumber)
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)
}

func TestExtractOrderNumber(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "order number colon", body: "Order number: 8842-AC", want: "8842-AC"},
		{name: "order no", body: "Your order no. 123456 has shipped", want: "123456"},
		{name: "order hash", body: "Order #A-99213", want: "A-99213"},
		{name: "confirmation hash", body: "Confirmation #CONF-991", want: "CONF-991"},
		{name: "invoice number", body: "Invoice number INV-2024-118", want: "INV-2024-118"},
		{name: "prose without digits", body: "your order number will be emailed shortly", want: ""},
		{name: "nothing", body: "thanks for shopping", want: ""},
	}

	e := newExtractor(t)
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage("Your receipt from Vendorco", "orders@vendorco.com",
				tt.body, received, amount("12.00", "total", 5))

			r := e.Extract(msg)
			assert.Equal(t, tt.want, r.OrderNumber)
		})
	}
}

func TestExtractLineItems(t *testing.T) {
	e := newExtractor(t)
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	body := "2 x Flat White $9.00\n" +
		"Blueberry Muffin $3.25\n" +
		"Day Pass $15.00 each\n" +
		"Subtotal: $27.25\n" +
		"Tax: $2.18\n" +
		"Total: $29.43"

	msg := testMessage("Your receipt from Acme Coffee", "orders@acmecoffee.com",
		body, received,
		amount("27.25", "subtotal", 60),
		amount("2.18", "tax", 80),
		amount("29.43", "total", 95),
	)

	r := e.Extract(msg)

	require.Len(t, r.LineItems, 3)
	assert.Equal(t, "Flat White", r.LineItems[0].Description)
	assert.Equal(t, 2, r.LineItems[0].Quantity)
	assert.Equal(t, "9.00", r.LineItems[0].Amount.StringFixed(2))
	assert.Equal(t, "Blueberry Muffin", r.LineItems[1].Description)
	assert.Equal(t, 1, r.LineItems[1].Quantity)
	assert.Equal(t, "Day Pass", r.LineItems[2].Description)
	assert.Equal(t, "15.00", r.LineItems[2].Amount.StringFixed(2))

	assert.Equal(t, "29.43", r.Total.StringFixed(2))
	require.NotNil(t, r.Subtotal)
	assert.Equal(t, "27.25", r.Subtotal.StringFixed(2))
}

func TestExtractCustomPatterns(t *testing.T) {
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	e, err := NewExtractor(
		CustomPattern{Field: FieldTotal, Regex: `you paid\s+\$([0-9.]+)`},
		CustomPattern{Vendor: "Venmo", Field: FieldOrderNumber, Regex: `ref\s*:\s*([A-Z0-9-]+)`},
	)
	require.NoError(t, err)

	msg := testMessage("Your receipt from Venmo", "venmo@venmo.com",
		"You paid $12.34 today\nRef: AB-1234", received)

	r := e.Extract(msg)

	assert.Equal(t, "Venmo", r.Vendor)
	assert.Equal(t, "12.34", r.Total.StringFixed(2))
	assert.Equal(t, "AB-1234", r.OrderNumber)
	assert.InDelta(t, 1.0, r.Confidence, 1e-9)

	// Vendor-scoped patterns stay scoped.
	other := testMessage("Your receipt from Acme Coffee", "orders@acmecoffee.com",
		"Ref: ZZ-9999", received, amount("5.00", "total", 5))
	assert.Empty(t, e.Extract(other).OrderNumber)
}

func TestNewExtractorInvalidPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern CustomPattern
	}{
		{
			name:    "unknown field",
			pattern: CustomPattern{Field: "vendor", Regex: `(.+)`},
		},
		{
			name:    "bad regex",
			pattern: CustomPattern{Field: FieldTotal, Regex: `([unclosed`},
		},
		{
			name:    "no capture group",
			pattern: CustomPattern{Field: FieldTotal, Regex: `total: \$[0-9.]+`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(tt.pattern)
			require.Error(t, err)
		})
	}
}

func TestExtractCurrency(t *testing.T) {
	e := newExtractor(t)
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	euro := testMessage("Your receipt from Vendorco", "orders@vendorco.eu",
		"Total: €19.99", received,
		model.Candidate{
			Kind:     model.CandidateAmount,
			Amount:   decimal.RequireFromString("19.99"),
			Currency: "EUR",
			Label:    "total",
			Position: 7,
		})
	assert.Equal(t, "EUR", e.Extract(euro).Currency)

	bare := testMessage("Your receipt from Vendorco", "orders@vendorco.com",
		"Total 19.99", received, bareAmount("19.99", 7))
	assert.Equal(t, "USD", e.Extract(bare).Currency)
}
