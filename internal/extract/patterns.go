package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/paper-trail/internal/model"
)

// Fields a custom pattern may target.
const (
	FieldTotal       = "total"
	FieldTax         = "tax"
	FieldOrderNumber = "order_number"
)

// CustomPattern is a user-supplied extraction rule loaded from config. The
// regex must have exactly one capture group holding the field value. An
// empty Vendor applies the pattern to every message.
type CustomPattern struct {
	Vendor string `mapstructure:"vendor"`
	Field  string `mapstructure:"field"`
	Regex  string `mapstructure:"regex"`
}

type compiledPattern struct {
	re     *regexp.Regexp
	vendor string
	field  string
}

func compilePatterns(patterns []CustomPattern) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		switch p.Field {
		case FieldTotal, FieldTax, FieldOrderNumber:
		default:
			return nil, fmt.Errorf("unknown custom pattern field %q", p.Field)
		}
		pattern := p.Regex
		if !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile custom pattern for %s: %w", p.Field, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("custom pattern for %s has no capture group", p.Field)
		}
		compiled = append(compiled, compiledPattern{
			re:     re,
			vendor: strings.ToLower(strings.TrimSpace(p.Vendor)),
			field:  p.Field,
		})
	}
	return compiled, nil
}

// vendorRule holds extraction regexes tuned to a specific sender's receipt
// format. Each regex captures its value in group 1.
type vendorRule struct {
	total *regexp.Regexp
	order *regexp.Regexp
}

var builtinRules = map[string]vendorRule{
	"Amazon": {
		total: regexp.MustCompile(`(?i)(?:grand total|order total):?\s*\$?([0-9][0-9,]*\.[0-9]{2})`),
		order: regexp.MustCompile(`(?i)order\s*#?\s*:?\s*(\d{3}-\d{7}-\d{7})`),
	},
	"Walmart": {
		total: regexp.MustCompile(`(?i)order total:?\s*\$?([0-9][0-9,]*\.[0-9]{2})`),
		order: regexp.MustCompile(`(?i)order\s*#?\s*:?\s*(\d{6,15})`),
	},
	"Target": {
		total: regexp.MustCompile(`(?i)(?:order )?total:?\s*\$?([0-9][0-9,]*\.[0-9]{2})`),
		order: regexp.MustCompile(`(?i)order\s*#?\s*:?\s*(\d{10,15})`),
	},
	"Starbucks": {
		total: regexp.MustCompile(`(?i)(?:total|amount):?\s*\$?([0-9][0-9,]*\.[0-9]{2})`),
	},
	"Uber Eats": {
		total: regexp.MustCompile(`(?i)total:?\s*\$?([0-9][0-9,]*\.[0-9]{2})`),
	},
	"DoorDash": {
		total: regexp.MustCompile(`(?i)total(?: charged)?:?\s*\$?([0-9][0-9,]*\.[0-9]{2})`),
	},
}

// orderNumberRes find order references anywhere in the body. Matches without
// a digit are discarded so prose like "your order number will follow" does
// not bind.
var orderNumberRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\border\s*(?:number|no\.?|#)\s*:?\s*#?([A-Za-z0-9][A-Za-z0-9-]{2,24})`),
	regexp.MustCompile(`(?i)\bconfirmation\s*(?:number|no\.?|code|#)\s*:?\s*#?([A-Za-z0-9][A-Za-z0-9-]{2,24})`),
	regexp.MustCompile(`(?i)\binvoice\s*(?:number|no\.?|#)\s*:?\s*#?([A-Za-z0-9][A-Za-z0-9-]{2,24})`),
}

func findOrderNumber(text string) string {
	for _, re := range orderNumberRes {
		for _, m := range re.FindAllStringSubmatch(text, 5) {
			if strings.ContainsAny(m[1], "0123456789") {
				return m[1]
			}
		}
	}
	return ""
}

const maxLineItems = 50

var (
	qtyItemRe  = regexp.MustCompile(`^(\d{1,3})\s*[xX]\s+(.+?)\s+\$?([0-9][0-9,]*\.[0-9]{2})$`)
	eachItemRe = regexp.MustCompile(`^(.+?)\s+\$?([0-9][0-9,]*\.[0-9]{2})\s*(?:ea\.?|each)$`)
	descItemRe = regexp.MustCompile(`^(.+?)\s+\$?([0-9][0-9,]*\.[0-9]{2})$`)

	// Lines led by these words are summary rows, not purchased items.
	nonItemRe = regexp.MustCompile(`(?i)^(sub-?total|grand total|order total|total|amount|tax|vat|gst|shipping|delivery|handling|discount|savings|tip|gratuity|balance|payment|paid|change|cash|credit|debit|visa|mastercard|amex|refund|fee|fees)\b`)
)

// parseLineItems pulls itemized purchase lines out of the cleaned body.
func parseLineItems(clean string) []model.LineItem {
	var items []model.LineItem
	for _, line := range strings.Split(clean, "\n") {
		if len(items) >= maxLineItems {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := qtyItemRe.FindStringSubmatch(line); m != nil {
			qty, err := strconv.Atoi(m[1])
			if err != nil || qty < 1 {
				continue
			}
			if item, ok := buildLineItem(m[2], m[3], qty); ok {
				items = append(items, item)
			}
			continue
		}
		if m := eachItemRe.FindStringSubmatch(line); m != nil {
			if item, ok := buildLineItem(m[1], m[2], 1); ok {
				items = append(items, item)
			}
			continue
		}
		if m := descItemRe.FindStringSubmatch(line); m != nil {
			if item, ok := buildLineItem(m[1], m[2], 1); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

func buildLineItem(desc, price string, qty int) (model.LineItem, bool) {
	desc = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(desc), ":"))
	if len(desc) < 2 || nonItemRe.MatchString(desc) {
		return model.LineItem{}, false
	}
	if !strings.ContainsFunc(desc, unicode.IsLetter) {
		return model.LineItem{}, false
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(price, ",", ""))
	if err != nil {
		return model.LineItem{}, false
	}
	return model.LineItem{
		Description: desc,
		Amount:      amount,
		Quantity:    qty,
	}, true
}
