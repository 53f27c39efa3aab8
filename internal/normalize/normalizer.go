// Package normalize converts raw email messages into clean text with
// scanned amount and date candidates.
package normalize

import (
	"html"
	"strings"

	"github.com/Veraticus/paper-trail/internal/model"
	xhtml "golang.org/x/net/html"
)

// Normalizer cleans message bodies and scans them for candidate values.
// The zero value is not usable; construct with New.
type Normalizer struct {
	scanner *candidateScanner
}

// New creates a Normalizer with the default candidate patterns.
func New() *Normalizer {
	return &Normalizer{scanner: newCandidateScanner()}
}

// Normalize produces a NormalizedMessage from a raw message. It never
// fails: bodies that cannot be decoded degrade to empty candidate lists.
func (n *Normalizer) Normalize(msg model.RawMessage) model.NormalizedMessage {
	body := strings.TrimSpace(msg.BodyText)
	if body == "" && msg.BodyHTML != "" {
		body = htmlToText(msg.BodyHTML)
	}
	if body == "" {
		body = strings.TrimSpace(msg.Snippet)
	}
	if body == "" {
		body = strings.TrimSpace(msg.Subject)
	}

	clean := cleanLines(body)

	return model.NormalizedMessage{
		ID:         msg.ID,
		ReceivedAt: msg.ReceivedAt,
		Subject:    msg.Subject,
		From:       msg.From,
		CleanText:  clean,
		Candidates: n.scanner.scan(clean),
	}
}

// nonContentTags are skipped entirely during text extraction.
var nonContentTags = map[string]bool{
	"style":    true,
	"script":   true,
	"noscript": true,
	"iframe":   true,
	"head":     true,
	"meta":     true,
	"link":     true,
}

// blockTags force a line break after their content.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true,
}

// htmlToText extracts readable text from an HTML body, keeping line
// structure so labeled rows like "Total: $4.50" survive as single lines.
func htmlToText(htmlContent string) string {
	htmlContent = html.UnescapeString(htmlContent)

	doc, err := xhtml.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}

	var b strings.Builder
	var extract func(*xhtml.Node)
	extract = func(node *xhtml.Node) {
		switch node.Type {
		case xhtml.ElementNode:
			if nonContentTags[strings.ToLower(node.Data)] {
				return
			}
		case xhtml.TextNode:
			text := strings.TrimSpace(node.Data)
			if text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}

		for c := node.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}

		if node.Type == xhtml.ElementNode && blockTags[strings.ToLower(node.Data)] {
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		}
	}
	extract(doc)

	return b.String()
}

// cleanLines collapses whitespace within each line, strips zero-width
// characters, and drops empty lines.
func cleanLines(body string) string {
	body = strings.NewReplacer(
		"\r\n", "\n",
		"\r", "\n",
		"​", "",
		"‌", "",
		"‍", "",
		"\uFEFF", "",
	).Replace(body)

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}
	return strings.Join(lines, "\n")
}
