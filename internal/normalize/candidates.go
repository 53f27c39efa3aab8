package normalize

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/shopspring/decimal"
)

// amountPattern pairs a compiled regex with the submatch indexes of its
// currency indicator and numeric text. Patterns earlier in the table claim
// their text first; later patterns skip overlapping matches.
type amountPattern struct {
	re          *regexp.Regexp
	currencyIdx int
	valueIdx    int
}

type candidateScanner struct {
	amountLabelRe  *regexp.Regexp
	dateLabelRe    *regexp.Regexp
	amountPatterns []amountPattern
	dateRes        []*regexp.Regexp
}

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
}

var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
}

func newCandidateScanner() *candidateScanner {
	return &candidateScanner{
		amountPatterns: []amountPattern{
			{re: regexp.MustCompile(`([$€£])\s?([0-9][0-9,]*(?:\.[0-9]{1,2})?)`), currencyIdx: 1, valueIdx: 2},
			{re: regexp.MustCompile(`\b([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s?(USD|EUR|GBP|CAD|AUD)\b`), currencyIdx: 2, valueIdx: 1},
			{re: regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD)\s?([0-9][0-9,]*(?:\.[0-9]{1,2})?)\b`), currencyIdx: 1, valueIdx: 2},
			{re: regexp.MustCompile(`\b([0-9][0-9,]*\.[0-9]{2})\b`), valueIdx: 1},
		},
		dateRes: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
			regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
			regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`),
			regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{4}\b`),
		},
		// Longer alternatives first: Go regexps match alternations leftmost.
		amountLabelRe: regexp.MustCompile(`(?i)(grand total|order total|total due|total charged|amount due|amount charged|sub-?total|delivery fee|total|tax|vat|gst|shipping|delivery|discount|savings|tip|amount)`),
		dateLabelRe:   regexp.MustCompile(`(?i)(order date|purchase date|transaction date|invoice date|delivery date|date)`),
	}
}

// scan finds amount and date candidates in clean text, tagging each with
// its byte position and any label text preceding it on the same line.
func (s *candidateScanner) scan(text string) []model.Candidate {
	var candidates []model.Candidate

	var claimed []span
	for _, pattern := range s.amountPatterns {
		for _, loc := range pattern.re.FindAllStringSubmatchIndex(text, -1) {
			if overlapsAny(claimed, loc[0], loc[1]) {
				continue
			}

			value, ok := parseAmount(text[loc[2*pattern.valueIdx]:loc[2*pattern.valueIdx+1]])
			if !ok {
				continue
			}

			currency := ""
			if pattern.currencyIdx > 0 {
				indicator := text[loc[2*pattern.currencyIdx]:loc[2*pattern.currencyIdx+1]]
				if code, found := currencySymbols[indicator]; found {
					currency = code
				} else {
					currency = strings.ToUpper(indicator)
				}
			}

			claimed = append(claimed, span{start: loc[0], end: loc[1]})
			candidates = append(candidates, model.Candidate{
				Kind:     model.CandidateAmount,
				Amount:   value,
				Currency: currency,
				Position: loc[0],
				Label:    lastLabel(s.amountLabelRe, linePrefix(text, loc[0])),
			})
		}
	}

	var dateClaimed []span
	for _, re := range s.dateRes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlapsAny(dateClaimed, loc[0], loc[1]) {
				continue
			}

			parsed, ok := parseDate(text[loc[0]:loc[1]])
			if !ok {
				continue
			}

			dateClaimed = append(dateClaimed, span{start: loc[0], end: loc[1]})
			candidates = append(candidates, model.Candidate{
				Kind:     model.CandidateDate,
				Date:     parsed,
				Position: loc[0],
				Label:    lastLabel(s.dateLabelRe, linePrefix(text, loc[0])),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Position < candidates[j].Position
	})
	return candidates
}

type span struct {
	start int
	end   int
}

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// linePrefix returns the text between the start of the line containing pos
// and pos itself.
func linePrefix(text string, pos int) string {
	lineStart := strings.LastIndexByte(text[:pos], '\n') + 1
	return text[lineStart:pos]
}

// lastLabel returns the label occurrence closest to the value, lowercased.
func lastLabel(re *regexp.Regexp, prefix string) string {
	matches := re.FindAllString(prefix, -1)
	if len(matches) == 0 {
		return ""
	}
	label := strings.ToLower(matches[len(matches)-1])
	return strings.ReplaceAll(label, "sub-total", "subtotal")
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(raw, ",", "")
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

func parseDate(raw string) (time.Time, bool) {
	cleaned := strings.ReplaceAll(raw, ".", "")
	cleaned = normalizeMonthCase(strings.Join(strings.Fields(cleaned), " "))
	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, cleaned); err == nil {
			if parsed.Year() < 2000 || parsed.Year() > 2100 {
				return time.Time{}, false
			}
			return parsed, true
		}
	}
	return time.Time{}, false
}

// normalizeMonthCase fixes casing like "MARCH 1, 2024" so time.Parse
// recognizes the month name.
func normalizeMonthCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if len(f) > 0 && isAlpha(f[0]) {
			fields[i] = strings.ToUpper(f[:1]) + strings.ToLower(f[1:])
		}
	}
	return strings.Join(fields, " ")
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
