// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawMessage represents a single email message as fetched from a source,
// before any cleaning or candidate scanning.
type RawMessage struct {
	ReceivedAt time.Time
	ID         string
	ThreadID   string
	From       string
	To         string
	Subject    string
	BodyText   string
	BodyHTML   string
	Snippet    string
}

// CandidateKind tags what a scanned candidate represents.
type CandidateKind string

// Candidate kind constants.
const (
	CandidateAmount CandidateKind = "AMOUNT"
	CandidateDate   CandidateKind = "DATE"
)

// Candidate is a single value of interest found in a message body: a money
// amount or a date, with its position and any label text found on the same
// line ("total", "order date").
type Candidate struct {
	Date     time.Time
	Kind     CandidateKind
	Currency string
	Label    string
	Amount   decimal.Decimal
	Position int
}

// NormalizedMessage is a message after body cleaning and candidate scanning.
type NormalizedMessage struct {
	ReceivedAt time.Time
	ID         string
	From       string
	Subject    string
	CleanText  string
	Candidates []Candidate
}

// AmountCandidates returns the amount candidates in scan order.
func (m *NormalizedMessage) AmountCandidates() []Candidate {
	var out []Candidate
	for _, c := range m.Candidates {
		if c.Kind == CandidateAmount {
			out = append(out, c)
		}
	}
	return out
}

// DateCandidates returns the date candidates in scan order.
func (m *NormalizedMessage) DateCandidates() []Candidate {
	var out []Candidate
	for _, c := range m.Candidates {
		if c.Kind == CandidateDate {
			out = append(out, c)
		}
	}
	return out
}
