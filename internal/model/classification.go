package model

// ClassificationResult is the classifier's verdict on one message.
type ClassificationResult struct {
	Signals   []string
	Score     float64
	IsReceipt bool
}
