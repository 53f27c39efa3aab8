// Package engine orchestrates the receipt pipeline. A run fetches raw
// messages from a source, fans them out to a worker pool for the pure
// stages (normalize, classify, extract), then reconciles the surviving
// receipts one at a time against the ledger snapshot and persists the
// outcomes to storage and any configured sinks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Veraticus/paper-trail/internal/classify"
	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/extract"
	"github.com/Veraticus/paper-trail/internal/ledger"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/normalize"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// Config tunes a pipeline run. Zero-valued fields fall back to the
// DefaultConfig values when the engine is constructed.
type Config struct {
	// Workers is the number of goroutines running the per-message stages.
	Workers int

	// ClassifyThreshold is the minimum classification score for a message
	// to be treated as a receipt.
	ClassifyThreshold float64

	// MinConfidence drops extracted receipts whose field confidence is too
	// low to record.
	MinConfidence float64

	// DryRun reconciles against the snapshot without writing to storage
	// or sinks.
	DryRun bool

	// ShowProgress renders a progress bar on stderr while processing.
	ShowProgress bool
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		ClassifyThreshold: classify.DefaultThreshold,
		MinConfidence:     0.3,
	}
}

// Engine wires the pipeline stages together for scan runs.
type Engine struct {
	source     service.MessageSource
	normalizer *normalize.Normalizer
	classifier *classify.Classifier
	extractor  *extract.Extractor
	store      service.Storage
	sinks      []service.Sink
	config     Config
}

// New creates an engine with the default stages and tuning.
func New(source service.MessageSource, store service.Storage, sinks []service.Sink) (*Engine, error) {
	return NewWithConfig(source, store, sinks, DefaultConfig())
}

// NewWithConfig creates an engine with explicit tuning.
func NewWithConfig(source service.MessageSource, store service.Storage, sinks []service.Sink, config Config) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: message source is required", common.ErrMissingConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: storage is required", common.ErrMissingConfig)
	}

	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.ClassifyThreshold <= 0 {
		config.ClassifyThreshold = defaults.ClassifyThreshold
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = defaults.MinConfidence
	}

	classifier, err := classify.NewClassifier(classify.DefaultSignals(), config.ClassifyThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	extractor, err := extract.NewExtractor()
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor: %w", err)
	}

	return &Engine{
		source:     source,
		normalizer: normalize.New(),
		classifier: classifier,
		extractor:  extractor,
		store:      store,
		sinks:      sinks,
		config:     config,
	}, nil
}

// Run executes one pipeline pass over the messages matching query. It
// returns the run's counters alongside any terminal error; per-message
// failures are logged and counted, never fatal. An empty fetch returns
// common.ErrNoMessages so callers can treat it as a quiet no-op.
func (e *Engine) Run(ctx context.Context, query string, maxMessages int) (*model.RunStats, error) {
	stats := &model.RunStats{
		RunID:     uuid.New().String(),
		Query:     query,
		StartedAt: time.Now().UTC(),
	}

	slog.Info("Starting receipt pipeline",
		"run_id", stats.RunID,
		"source", e.source.Name(),
		"query", query,
		"max_messages", maxMessages,
		"dry_run", e.config.DryRun)

	if err := e.store.Migrate(ctx); err != nil {
		return stats, fmt.Errorf("failed to prepare storage: %w", err)
	}

	snapshot, err := e.loadSnapshot(ctx)
	if err != nil {
		return stats, err
	}

	if !e.config.DryRun {
		if err := e.store.RecordRun(ctx, stats); err != nil {
			return stats, fmt.Errorf("failed to record run: %w", err)
		}
	}

	messages, err := e.source.Fetch(ctx, query, maxMessages)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch from %s: %w", e.source.Name(), err)
	}
	stats.MessagesFetched = len(messages)

	if len(messages) == 0 {
		stats.CompletedAt = time.Now().UTC()
		e.finishRun(ctx, stats)
		return stats, common.ErrNoMessages
	}

	slog.Info("Fetched messages", "source", e.source.Name(), "count", len(messages))

	bar := e.newProgressBar(len(messages))
	for result := range e.processMessages(ctx, messages) {
		if bar != nil {
			_ = bar.Add(1)
		}
		if ctx.Err() != nil {
			continue // drain the pool without dispatching
		}
		e.dispatch(ctx, snapshot, result, stats)
	}

	if err := ctx.Err(); err != nil {
		// Leave the run record unfinished; the partial counters still
		// describe what happened before cancellation.
		return stats, err
	}

	stats.CompletedAt = time.Now().UTC()
	e.finishRun(ctx, stats)

	slog.Info("Pipeline run complete",
		"run_id", stats.RunID,
		"fetched", stats.MessagesFetched,
		"receipts", stats.ReceiptsExtracted,
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"conflicts", stats.Conflicts,
		"low_confidence", stats.SkippedLowScore,
		"errors", stats.Errors,
		"duration", stats.CompletedAt.Sub(stats.StartedAt).Round(time.Millisecond))

	return stats, nil
}

// loadSnapshot seeds the ledger snapshot from storage and every sink.
// Storage merges first so its copy of a receipt wins over sink rows. A
// sink that cannot report its rows degrades to a warning; reconciliation
// against storage alone still catches re-scans.
func (e *Engine) loadSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	snapshot := ledger.NewSnapshot()

	stored, err := e.store.LoadFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	snapshot.Merge(stored)

	for _, sink := range e.sinks {
		existing, err := sink.LoadExistingFingerprints(ctx)
		if err != nil {
			slog.Warn("Failed to load sink fingerprints",
				"sink", sink.Name(),
				"error", err)
			continue
		}
		snapshot.Merge(existing)
	}

	slog.Info("Loaded ledger snapshot", "fingerprints", snapshot.Len())
	return snapshot, nil
}

// stageResultKind says how far a message made it through the stages.
type stageResultKind int

const (
	resultNotReceipt stageResultKind = iota
	resultLowConfidence
	resultFailed
	resultReceipt
)

type stageResult struct {
	receipt *model.Receipt
	kind    stageResultKind
}

// processMessages fans messages out to the worker pool and returns the
// channel results arrive on. The channel closes once every worker has
// drained; cancellation stops the feed at the next message boundary.
func (e *Engine) processMessages(ctx context.Context, messages []model.RawMessage) <-chan stageResult {
	jobs := make(chan model.RawMessage)
	results := make(chan stageResult, e.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				results <- e.processMessage(msg)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, msg := range messages {
			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// processMessage runs the pure stages on one message. Problems degrade
// to a counted result, never an error.
func (e *Engine) processMessage(msg model.RawMessage) stageResult {
	normalized := e.normalizer.Normalize(msg)

	classification := e.classifier.Classify(&normalized)
	if !classification.IsReceipt {
		slog.Debug("Message classified as non-receipt",
			"message_id", msg.ID,
			"score", classification.Score,
			"signals", classification.Signals)
		return stageResult{kind: resultNotReceipt}
	}

	receipt := e.extractor.Extract(&normalized)
	if receipt.Confidence < e.config.MinConfidence {
		slog.Debug("Dropping low-confidence extraction",
			"message_id", msg.ID,
			"vendor", receipt.Vendor,
			"confidence", receipt.Confidence)
		return stageResult{kind: resultLowConfidence}
	}

	if err := receipt.Validate(); err != nil {
		slog.Warn("Extracted receipt failed validation",
			"message_id", msg.ID,
			"error", err)
		return stageResult{kind: resultFailed}
	}

	return stageResult{receipt: receipt, kind: resultReceipt}
}

// dispatch reconciles one result against the snapshot and applies the
// outcome. It runs on the consuming goroutine only, so counter updates
// and snapshot mutations stay ordered.
func (e *Engine) dispatch(ctx context.Context, snapshot *ledger.Snapshot, result stageResult, stats *model.RunStats) {
	switch result.kind {
	case resultNotReceipt:
		return
	case resultLowConfidence:
		stats.MessagesClassified++
		stats.SkippedLowScore++
		return
	case resultFailed:
		stats.MessagesClassified++
		stats.Errors++
		return
	case resultReceipt:
	}

	stats.MessagesClassified++
	stats.ReceiptsExtracted++

	receipt := result.receipt
	outcome, conflict := snapshot.Reconcile(receipt)

	switch outcome {
	case model.OutcomeInserted:
		stats.Inserted++
		if e.config.DryRun {
			slog.Info("Would insert receipt",
				"vendor", receipt.Vendor,
				"date", receipt.Date.Format("2006-01-02"),
				"total", receipt.Total.StringFixed(2))
			return
		}
		if err := e.store.SaveReceipt(ctx, receipt); err != nil {
			slog.Error("Failed to save receipt",
				"fingerprint", receipt.Fingerprint,
				"vendor", receipt.Vendor,
				"error", err)
			stats.Errors++
			return
		}
		e.appendToSinks(ctx, *receipt, stats)

	case model.OutcomeSkippedDuplicate:
		stats.Duplicates++
		slog.Debug("Skipping duplicate receipt",
			"fingerprint", receipt.Fingerprint,
			"vendor", receipt.Vendor)

	case model.OutcomeFlaggedConflict:
		stats.Conflicts++
		if e.config.DryRun {
			slog.Info("Would flag conflict",
				"vendor", receipt.Vendor,
				"date", receipt.Date.Format("2006-01-02"),
				"existing_total", conflict.Existing.Total.StringFixed(2),
				"incoming_total", conflict.Incoming.Total.StringFixed(2))
			return
		}
		conflict.RunID = stats.RunID
		if err := e.store.SaveReceipt(ctx, &conflict.Incoming); err != nil {
			slog.Error("Failed to save conflicting receipt",
				"fingerprint", conflict.Incoming.Fingerprint,
				"error", err)
			stats.Errors++
			return
		}
		if err := e.store.SaveConflict(ctx, conflict); err != nil {
			slog.Error("Failed to save conflict",
				"fingerprint", conflict.Fingerprint,
				"error", err)
			stats.Errors++
			return
		}
		slog.Warn("Flagged total conflict for review",
			"vendor", receipt.Vendor,
			"date", receipt.Date.Format("2006-01-02"),
			"existing_total", conflict.Existing.Total.StringFixed(2),
			"incoming_total", conflict.Incoming.Total.StringFixed(2))
	}
}

// appendToSinks streams one inserted receipt to every sink. Sink
// failures never fail the run; the receipt is already in storage and a
// later export can rebuild the sink.
func (e *Engine) appendToSinks(ctx context.Context, receipt model.Receipt, stats *model.RunStats) {
	for _, sink := range e.sinks {
		if err := sink.Append(ctx, receipt); err != nil {
			slog.Warn("Sink append failed",
				"sink", sink.Name(),
				"fingerprint", receipt.Fingerprint,
				"error", err)
			stats.SinkFailures++
		}
	}
}

// finishRun stamps the run record complete. Dry runs never recorded one.
func (e *Engine) finishRun(ctx context.Context, stats *model.RunStats) {
	if e.config.DryRun {
		return
	}
	if err := e.store.FinishRun(ctx, stats); err != nil {
		slog.Warn("Failed to record run completion",
			"run_id", stats.RunID,
			"error", err)
	}
}

func (e *Engine) newProgressBar(total int) *progressbar.ProgressBar {
	if !e.config.ShowProgress || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Processing messages...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(os.Stderr); err != nil {
				slog.Warn("Failed to write progress completion", "error", err)
			}
		}),
	)
}
