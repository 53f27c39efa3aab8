package source

import (
	"fmt"
	"strings"
	"time"
)

// DefaultKeywords are the subject terms used when no custom keywords are
// configured.
var DefaultKeywords = []string{"receipt", `"order confirmation"`, "invoice"}

// BuildQuery assembles a Gmail search query from subject keywords and an
// optional lower date bound.
func BuildQuery(keywords []string, since time.Time) string {
	terms := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		// Quote multi-word terms so Gmail treats them as phrases
		if strings.Contains(keyword, " ") && !strings.HasPrefix(keyword, `"`) {
			keyword = fmt.Sprintf("%q", keyword)
		}
		terms = append(terms, keyword)
	}
	if len(terms) == 0 {
		terms = DefaultKeywords
	}

	query := fmt.Sprintf("subject:(%s)", strings.Join(terms, " OR "))
	if !since.IsZero() {
		query += " after:" + since.Format("2006/01/02")
	}
	return query
}
