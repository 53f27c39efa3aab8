package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// domainVendors maps well-known sender domain labels to display names.
var domainVendors = map[string]string{
	"amazon":     "Amazon",
	"walmart":    "Walmart",
	"target":     "Target",
	"starbucks":  "Starbucks",
	"uber":       "Uber Eats",
	"ubereats":   "Uber Eats",
	"doordash":   "DoorDash",
	"grubhub":    "Grubhub",
	"bestbuy":    "Best Buy",
	"homedepot":  "Home Depot",
	"lowes":      "Lowes",
	"costco":     "Costco",
	"samsclub":   "Sam's Club",
	"apple":      "Apple",
	"microsoft":  "Microsoft",
	"ebay":       "eBay",
	"etsy":       "Etsy",
	"instacart":  "Instacart",
	"chewy":      "Chewy",
	"wayfair":    "Wayfair",
	"newegg":     "Newegg",
	"steampower": "Steam",
}

// freemailDomains are consumer mail providers; their domain never names a
// vendor.
var freemailDomains = map[string]bool{
	"gmail":      true,
	"googlemail": true,
	"yahoo":      true,
	"ymail":      true,
	"hotmail":    true,
	"outlook":    true,
	"live":       true,
	"msn":        true,
	"icloud":     true,
	"me":         true,
	"mac":        true,
	"aol":        true,
	"proton":     true,
	"protonmail": true,
	"fastmail":   true,
	"zoho":       true,
}

// secondLevelTLDs are registry suffixes like co.uk where the registrable
// label sits one level deeper.
var secondLevelTLDs = map[string]bool{
	"co":  true,
	"com": true,
	"net": true,
	"org": true,
	"gov": true,
	"ac":  true,
}

// subjectVendorRes capture the vendor name out of boilerplate subject lines.
// Ordered most specific first; the first match wins.
var subjectVendorRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^your (?:\w+ )?receipt from (.+)$`),
	regexp.MustCompile(`(?i)^receipt from (.+)$`),
	regexp.MustCompile(`(?i)^order confirmation (?:from |[-:] ?)(.+)$`),
	regexp.MustCompile(`(?i)^(.+?) order confirmation\b.*$`),
	regexp.MustCompile(`(?i)^thank(?:s| you) for your (?:order|purchase)(?: from| at|,) (.+)$`),
	regexp.MustCompile(`(?i)^your (.+?) (?:order|receipt|invoice)\b.*$`),
	regexp.MustCompile(`(?i)^invoice from (.+)$`),
}

var (
	addrRe        = regexp.MustCompile(`<([^<>]+)>`)
	trailingRefRe = regexp.MustCompile(`\s*[#(].*$`)
	capPhraseRe   = regexp.MustCompile(`\b([A-Z][A-Za-z&'.]+(?:\s+[A-Z][A-Za-z&'.]+){1,3})\b`)
)

// stopPhrases are capitalized phrases that show up in receipt bodies but
// never name a vendor.
var stopPhrases = map[string]bool{
	"thank you":          true,
	"order confirmation": true,
	"order number":       true,
	"order total":        true,
	"grand total":        true,
	"your order":         true,
	"your receipt":       true,
	"customer service":   true,
	"customer support":   true,
	"payment received":   true,
	"dear customer":      true,
	"billing address":    true,
	"shipping address":   true,
	"view online":        true,
}

const maxVendorLen = 64

// vendorFromSubject strips boilerplate framing from the subject line and
// returns whatever names the sender.
func vendorFromSubject(subject string) (string, bool) {
	subject = strings.TrimSpace(subject)
	for _, re := range subjectVendorRes {
		m := re.FindStringSubmatch(subject)
		if m == nil {
			continue
		}
		if name := cleanVendorName(m[1]); name != "" {
			return name, true
		}
	}
	return "", false
}

// vendorFromAddress resolves the sender domain against the known vendor
// table, falling back to title-casing the registrable label.
func vendorFromAddress(from string) (string, bool) {
	domain := senderDomain(from)
	if domain == "" {
		return "", false
	}
	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if name, ok := domainVendors[label]; ok {
			return name, true
		}
	}
	base := registrableLabel(labels)
	if base == "" || freemailDomains[base] {
		return "", false
	}
	name := strings.ReplaceAll(base, "-", " ")
	return cases.Title(language.English).String(name), true
}

// vendorFromBody looks for a capitalized multi-word phrase near the top of
// the message, skipping greetings and known non-vendor phrases.
func vendorFromBody(clean string) (string, bool) {
	lines := strings.Split(clean, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "dear ") ||
			strings.HasPrefix(lower, "hi ") ||
			strings.HasPrefix(lower, "hello ") {
			continue
		}
		for _, m := range capPhraseRe.FindAllStringSubmatch(line, 3) {
			phrase := m[1]
			if strings.ContainsAny(phrase, "0123456789") {
				continue
			}
			if stopPhrases[strings.ToLower(phrase)] {
				continue
			}
			if name := cleanVendorName(phrase); name != "" {
				return name, true
			}
		}
	}
	return "", false
}

func senderDomain(from string) string {
	addr := from
	if m := addrRe.FindStringSubmatch(from); m != nil {
		addr = m[1]
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}

func registrableLabel(labels []string) string {
	if len(labels) < 2 {
		return ""
	}
	base := labels[len(labels)-2]
	if len(labels) >= 3 && secondLevelTLDs[base] {
		base = labels[len(labels)-3]
	}
	return base
}

// cleanVendorName trims order references and stray punctuation off a
// captured vendor string.
func cleanVendorName(s string) string {
	s = trailingRefRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.Trim(s, " .,!:;-")
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > maxVendorLen {
		s = strings.TrimSpace(string(runes[:maxVendorLen]))
	}
	return s
}
