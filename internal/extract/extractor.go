// Package extract turns normalized messages into structured receipts.
//
// Every extraction produces a receipt; missing fields are filled by
// fallbacks, and confidence drops for each fallback taken. The vendor is
// resolved by a ladder: subject boilerplate, then sender domain, then a
// capitalized phrase in the body, then "Unknown".
package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/paper-trail/internal/model"
)

// UnknownVendor is assigned when no resolution step names the sender.
const UnknownVendor = "Unknown"

// Confidence penalties per fallback. Confidence starts at 1.0, never rises,
// and never drops below minConfidence.
const (
	penaltyVendorDomain  = 0.1
	penaltyVendorPhrase  = 0.2
	penaltyVendorUnknown = 0.3
	penaltyTotalLargest  = 0.2
	penaltyTotalMissing  = 0.5
	penaltyDateFallback  = 0.2
	minConfidence        = 0.1
)

// totalLabelRank orders labeled amounts by how definitively they name the
// order total. Lower is stronger; the last candidate wins within a rank.
var totalLabelRank = map[string]int{
	"grand total":    0,
	"order total":    0,
	"total charged":  0,
	"amount charged": 0,
	"total":          1,
	"total due":      1,
	"amount due":     1,
}

var (
	taxLabels      = map[string]bool{"tax": true, "vat": true, "gst": true}
	subtotalLabels = map[string]bool{"subtotal": true}
	shippingLabels = map[string]bool{"shipping": true, "delivery": true, "delivery fee": true}
	discountLabels = map[string]bool{"discount": true, "savings": true}

	purchaseDateLabels = map[string]bool{
		"order date":       true,
		"purchase date":    true,
		"transaction date": true,
		"invoice date":     true,
	}
)

// Extractor builds receipts from normalized messages. Custom patterns
// supplied at construction take precedence over the built-in vendor rules.
type Extractor struct {
	custom []compiledPattern
}

// NewExtractor compiles any custom patterns and returns a ready extractor.
func NewExtractor(custom ...CustomPattern) (*Extractor, error) {
	compiled, err := compilePatterns(custom)
	if err != nil {
		return nil, err
	}
	return &Extractor{custom: compiled}, nil
}

// Extract always returns a receipt. Fields that cannot be found fall back
// to defaults and lower the confidence score.
func (e *Extractor) Extract(msg *model.NormalizedMessage) *model.Receipt {
	now := time.Now().UTC()

	vendor, vendorPenalty := resolveVendor(msg)
	total, currency, totalPenalty := e.resolveTotal(msg, vendor)
	date, datePenalty := resolveDate(msg, now)

	r := &model.Receipt{
		SourceMessageID: msg.ID,
		Vendor:          vendor,
		Date:            date,
		Total:           total,
		Currency:        currency,
		ExtractedAt:     now,
		OrderNumber:     e.resolveOrderNumber(msg.CleanText, vendor),
		LineItems:       parseLineItems(msg.CleanText),
	}

	amounts := msg.AmountCandidates()
	if v, ok := lastLabeledAmount(amounts, subtotalLabels); ok {
		r.Subtotal = &v
	}
	if v, ok := e.resolveTax(msg.CleanText, vendor, amounts); ok {
		r.Tax = &v
	}
	if v, ok := lastLabeledAmount(amounts, shippingLabels); ok {
		r.Shipping = &v
	}
	if v, ok := lastLabeledAmount(amounts, discountLabels); ok {
		r.Discount = &v
	}

	confidence := 1.0 - vendorPenalty - totalPenalty - datePenalty
	if confidence < minConfidence {
		confidence = minConfidence
	}
	r.Confidence = confidence
	r.Fingerprint = r.GenerateFingerprint()
	return r
}

func resolveVendor(msg *model.NormalizedMessage) (string, float64) {
	if v, ok := vendorFromSubject(msg.Subject); ok {
		return v, 0
	}
	if v, ok := vendorFromAddress(msg.From); ok {
		return v, penaltyVendorDomain
	}
	if v, ok := vendorFromBody(msg.CleanText); ok {
		return v, penaltyVendorPhrase
	}
	return UnknownVendor, penaltyVendorUnknown
}

// resolveTotal prefers explicitly labeled totals over the largest amount in
// the message. Custom patterns and vendor rules search the raw body so they
// work even when candidate scanning missed the value.
func (e *Extractor) resolveTotal(msg *model.NormalizedMessage, vendor string) (decimal.Decimal, string, float64) {
	if amt, ok := e.customAmount(msg.CleanText, vendor, FieldTotal); ok {
		return amt, messageCurrency(msg), 0
	}
	if rule, ok := builtinRules[vendor]; ok && rule.total != nil {
		if m := rule.total.FindStringSubmatch(msg.CleanText); m != nil {
			if amt, err := parseMoney(m[1]); err == nil && !amt.IsNegative() {
				return amt, messageCurrency(msg), 0
			}
		}
	}

	amounts := msg.AmountCandidates()
	if c, ok := labeledTotal(amounts); ok {
		return c.Amount, candidateCurrency(c, msg), 0
	}
	if c, ok := largestAmount(amounts); ok {
		return c.Amount, candidateCurrency(c, msg), penaltyTotalLargest
	}
	return decimal.Zero, model.DefaultCurrency, penaltyTotalMissing
}

// resolveDate keeps the message arrival time unless the body carries a
// purchase date more than a day earlier, which means the mail lagged the
// order. Without an arrival time the body date is trusted at a penalty.
func resolveDate(msg *model.NormalizedMessage, extractedAt time.Time) (time.Time, float64) {
	purchase := earliestDate(msg.DateCandidates(), purchaseDateLabels)
	if !msg.ReceivedAt.IsZero() {
		if !purchase.IsZero() && msg.ReceivedAt.Sub(purchase) > 24*time.Hour {
			return purchase, 0
		}
		return msg.ReceivedAt, 0
	}
	if !purchase.IsZero() {
		return purchase, penaltyDateFallback
	}
	if earliest := earliestDate(msg.DateCandidates(), nil); !earliest.IsZero() {
		return earliest, penaltyDateFallback
	}
	return extractedAt, penaltyDateFallback
}

func (e *Extractor) resolveTax(text, vendor string, amounts []model.Candidate) (decimal.Decimal, bool) {
	if amt, ok := e.customAmount(text, vendor, FieldTax); ok {
		return amt, true
	}
	return lastLabeledAmount(amounts, taxLabels)
}

func (e *Extractor) resolveOrderNumber(text, vendor string) string {
	if v, ok := e.customValue(text, vendor, FieldOrderNumber); ok {
		return v
	}
	if rule, ok := builtinRules[vendor]; ok && rule.order != nil {
		if m := rule.order.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return findOrderNumber(text)
}

func (e *Extractor) customValue(text, vendor, field string) (string, bool) {
	lowerVendor := strings.ToLower(vendor)
	for _, p := range e.custom {
		if p.field != field {
			continue
		}
		if p.vendor != "" && p.vendor != lowerVendor {
			continue
		}
		if m := p.re.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func (e *Extractor) customAmount(text, vendor, field string) (decimal.Decimal, bool) {
	v, ok := e.customValue(text, vendor, field)
	if !ok {
		return decimal.Decimal{}, false
	}
	amt, err := parseMoney(v)
	if err != nil || amt.IsNegative() {
		return decimal.Decimal{}, false
	}
	return amt, true
}

func labeledTotal(amounts []model.Candidate) (model.Candidate, bool) {
	best := model.Candidate{}
	bestRank := -1
	for _, c := range amounts {
		rank, ok := totalLabelRank[c.Label]
		if !ok {
			continue
		}
		if bestRank == -1 || rank <= bestRank {
			best = c
			bestRank = rank
		}
	}
	return best, bestRank != -1
}

// largestAmount skips amounts labeled as components like tax or shipping
// unless nothing else is present.
func largestAmount(amounts []model.Candidate) (model.Candidate, bool) {
	componentLabels := map[string]bool{
		"tax": true, "vat": true, "gst": true,
		"shipping": true, "delivery": true, "delivery fee": true,
		"discount": true, "savings": true, "tip": true,
	}
	best, ok := maxAmount(amounts, componentLabels)
	if !ok {
		best, ok = maxAmount(amounts, nil)
	}
	return best, ok
}

func maxAmount(amounts []model.Candidate, skip map[string]bool) (model.Candidate, bool) {
	var best model.Candidate
	found := false
	for _, c := range amounts {
		if skip[c.Label] {
			continue
		}
		if !found || c.Amount.GreaterThan(best.Amount) {
			best = c
			found = true
		}
	}
	return best, found
}

func lastLabeledAmount(amounts []model.Candidate, labels map[string]bool) (decimal.Decimal, bool) {
	var v decimal.Decimal
	found := false
	for _, c := range amounts {
		if labels[c.Label] {
			v = c.Amount
			found = true
		}
	}
	return v, found
}

// earliestDate returns the earliest date candidate whose label is in the
// given set, or the earliest of all candidates when the set is nil.
func earliestDate(dates []model.Candidate, labels map[string]bool) time.Time {
	var earliest time.Time
	for _, c := range dates {
		if labels != nil && !labels[c.Label] {
			continue
		}
		if earliest.IsZero() || c.Date.Before(earliest) {
			earliest = c.Date
		}
	}
	return earliest
}

func messageCurrency(msg *model.NormalizedMessage) string {
	for _, c := range msg.AmountCandidates() {
		if c.Currency != "" {
			return c.Currency
		}
	}
	return model.DefaultCurrency
}

func candidateCurrency(c model.Candidate, msg *model.NormalizedMessage) string {
	if c.Currency != "" {
		return c.Currency
	}
	return messageCurrency(msg)
}

func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "$€£"))
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}
