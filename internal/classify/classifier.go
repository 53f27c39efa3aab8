// Package classify provides signal-based receipt detection for email messages.
package classify

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Veraticus/paper-trail/internal/model"
)

// SignalTarget determines what part of a message a signal inspects.
type SignalTarget string

const (
	// TargetSubject matches the signal regex against the subject line.
	TargetSubject SignalTarget = "subject"
	// TargetBody matches the signal regex against the clean body text.
	TargetBody SignalTarget = "body"
	// TargetAmounts fires when the message has at least one amount candidate.
	TargetAmounts SignalTarget = "amounts"
	// TargetAmountLabel matches the signal regex against amount candidate labels.
	TargetAmountLabel SignalTarget = "amount_label"
	// TargetProximity fires when a date candidate sits near an amount candidate.
	TargetProximity SignalTarget = "proximity"
)

// proximityWindow is the maximum byte distance between a date and an
// amount for the proximity signal to fire.
const proximityWindow = 200

// scoreEpsilon absorbs float error so a score exactly at the threshold
// classifies as a receipt.
const scoreEpsilon = 1e-9

// DefaultThreshold is the score at or above which a message counts as a
// receipt.
const DefaultThreshold = 0.5

// Signal is a single weighted piece of evidence for or against a message
// being a receipt. Negative weights count against.
type Signal struct {
	Name   string
	Target SignalTarget
	Regex  string // unused for the structural targets
	Weight float64
}

// CompiledSignal holds a signal with its compiled regex.
type CompiledSignal struct {
	compiledRegex *regexp.Regexp
	Signal
}

// Classifier scores messages against a weighted signal table.
type Classifier struct {
	signals       []CompiledSignal
	threshold     float64
	positiveTotal float64
	mu            sync.RWMutex
}

// NewClassifier creates a classifier from a signal table. Threshold values
// outside (0, 1] fall back to DefaultThreshold.
func NewClassifier(signals []Signal, threshold float64) (*Classifier, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	compiled, positiveTotal, err := compileSignals(signals)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		signals:       compiled,
		threshold:     threshold,
		positiveTotal: positiveTotal,
	}, nil
}

// Classify scores a message. The score is normalized into [0,1]; matching
// an additional positive signal never lowers it. A score meeting the
// threshold exactly classifies as a receipt.
func (c *Classifier) Classify(msg *model.NormalizedMessage) model.ClassificationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var raw float64
	var matched []string
	for _, signal := range c.signals {
		if c.matches(signal, msg) {
			raw += signal.Weight
			matched = append(matched, signal.Name)
		}
	}

	score := 0.0
	if c.positiveTotal > 0 {
		score = raw / c.positiveTotal
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return model.ClassificationResult{
		Score:     score,
		Signals:   matched,
		IsReceipt: score+scoreEpsilon >= c.threshold,
	}
}

// UpdateSignals replaces the signal table.
func (c *Classifier) UpdateSignals(signals []Signal) error {
	compiled, positiveTotal, err := compileSignals(signals)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.signals = compiled
	c.positiveTotal = positiveTotal
	c.mu.Unlock()

	return nil
}

// SignalCount returns the number of loaded signals.
func (c *Classifier) SignalCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.signals)
}

// Threshold returns the configured receipt threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

func (c *Classifier) matches(signal CompiledSignal, msg *model.NormalizedMessage) bool {
	switch signal.Target {
	case TargetSubject:
		return signal.compiledRegex.MatchString(msg.Subject)
	case TargetBody:
		return signal.compiledRegex.MatchString(msg.CleanText)
	case TargetAmounts:
		return len(msg.AmountCandidates()) > 0
	case TargetAmountLabel:
		for _, candidate := range msg.AmountCandidates() {
			if candidate.Label != "" && signal.compiledRegex.MatchString(candidate.Label) {
				return true
			}
		}
		return false
	case TargetProximity:
		return hasDateNearAmount(msg, proximityWindow)
	default:
		return false
	}
}

func hasDateNearAmount(msg *model.NormalizedMessage, window int) bool {
	amounts := msg.AmountCandidates()
	for _, date := range msg.DateCandidates() {
		for _, amount := range amounts {
			distance := date.Position - amount.Position
			if distance < 0 {
				distance = -distance
			}
			if distance <= window {
				return true
			}
		}
	}
	return false
}

func compileSignals(signals []Signal) ([]CompiledSignal, float64, error) {
	compiled := make([]CompiledSignal, 0, len(signals))
	var positiveTotal float64

	for _, s := range signals {
		var regex *regexp.Regexp
		if s.Regex != "" {
			regexStr := s.Regex
			if !strings.HasPrefix(regexStr, "(?i)") {
				regexStr = "(?i)" + regexStr // Make case-insensitive by default
			}
			var err error
			regex, err = regexp.Compile(regexStr)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to compile signal %s: %w", s.Name, err)
			}
		}

		if s.Weight > 0 {
			positiveTotal += s.Weight
		}

		compiled = append(compiled, CompiledSignal{
			Signal:        s,
			compiledRegex: regex,
		})
	}

	return compiled, positiveTotal, nil
}
