package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/paper-trail/internal/classify"
	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/sheets"
	"github.com/Veraticus/paper-trail/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource feeds a fixed message list into the pipeline.
type fakeSource struct {
	messages []model.RawMessage
	err      error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Fetch(_ context.Context, _ string, max int) ([]model.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if max > 0 && len(s.messages) > max {
		return s.messages[:max], nil
	}
	return s.messages, nil
}

// acmeReceiptMessage extracts cleanly: vendor from the subject, a labeled
// total, and the arrival time as the date.
func acmeReceiptMessage() model.RawMessage {
	return model.RawMessage{
		ID:         "msg-acme-1",
		From:       "Acme Coffee <orders@acmecoffee.com>",
		Subject:    "Your receipt from Acme Coffee",
		ReceivedAt: time.Date(2024, 4, 18, 15, 4, 5, 0, time.UTC),
		BodyText: "Thank you for your purchase!\n" +
			"Order #A-1001\n" +
			"Subtotal: $84.00\n" +
			"Tax: $8.20\n" +
			"Order Total: $92.20\n",
	}
}

func chewyReceiptMessage() model.RawMessage {
	return model.RawMessage{
		ID:         "msg-chewy-1",
		From:       "Chewy <noreply@chewy.com>",
		Subject:    "Order Confirmation - Chewy",
		ReceivedAt: time.Date(2024, 4, 19, 9, 30, 0, 0, time.UTC),
		BodyText: "Thank you for shopping with us.\n" +
			"Grand Total: $54.30\n",
	}
}

// acmeConflictMessage shares a vendor and day with acmeReceiptMessage but
// reports a different total.
func acmeConflictMessage() model.RawMessage {
	return model.RawMessage{
		ID:         "msg-acme-2",
		From:       "Acme Coffee <orders@acmecoffee.com>",
		Subject:    "Your receipt from Acme Coffee",
		ReceivedAt: time.Date(2024, 4, 18, 17, 45, 0, 0, time.UTC),
		BodyText: "Thank you for your purchase!\n" +
			"Order Total: $45.00\n",
	}
}

func newsletterMessage() model.RawMessage {
	return model.RawMessage{
		ID:         "msg-news-1",
		From:       "Deals Weekly <hello@dealsweekly.com>",
		Subject:    "This week's best coffee deals",
		ReceivedAt: time.Date(2024, 4, 20, 8, 0, 0, 0, time.UTC),
		BodyText: "Our favorite beans this week.\n" +
			"Unsubscribe | View in browser\n",
	}
}

// domainOnlyReceiptMessage has no vendor in its subject, so the vendor
// resolves from the sender domain at a confidence penalty.
func domainOnlyReceiptMessage() model.RawMessage {
	return model.RawMessage{
		ID:         "msg-domain-1",
		From:       "billing@acmecoffee.com",
		Subject:    "Payment received for your order",
		ReceivedAt: time.Date(2024, 4, 21, 12, 0, 0, 0, time.UTC),
		BodyText: "Total: $12.00\n" +
			"Thank you for your business.\n",
	}
}

func TestEngineRunInsertsNewReceipts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sink := sheets.NewMockSink()
	source := &fakeSource{messages: []model.RawMessage{
		acmeReceiptMessage(),
		chewyReceiptMessage(),
		newsletterMessage(),
	}}

	eng, err := NewWithConfig(source, db.Storage, []service.Sink{sink}, Config{Workers: 2})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "after:2024/04/01", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.MessagesFetched)
	assert.Equal(t, 2, stats.MessagesClassified)
	assert.Equal(t, 2, stats.ReceiptsExtracted)
	assert.Equal(t, 2, stats.Inserted)
	assert.Zero(t, stats.Duplicates)
	assert.Zero(t, stats.Conflicts)
	assert.Zero(t, stats.Errors)

	ctx := context.Background()
	count, err := db.Storage.CountReceipts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Len(t, sink.GetAppendCalls(), 2)

	run, err := db.Storage.GetLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.RunID, run.RunID)
	assert.False(t, run.CompletedAt.IsZero())
	assert.Equal(t, 2, run.Inserted)
}

func TestEngineRunIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sink := sheets.NewMockSink()
	source := &fakeSource{messages: []model.RawMessage{
		acmeReceiptMessage(),
		chewyReceiptMessage(),
	}}

	eng, err := NewWithConfig(source, db.Storage, []service.Sink{sink}, Config{Workers: 2})
	require.NoError(t, err)

	first, err := eng.Run(context.Background(), "is:receipt", 0)
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)

	second, err := eng.Run(context.Background(), "is:receipt", 0)
	require.NoError(t, err)

	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.Duplicates)

	count, err := db.Storage.CountReceipts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, sink.GetAppendCalls(), 2, "duplicates are never re-appended")
}

func TestEngineRunFlagsConflicts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedReceipts(testutil.Receipt("Acme Coffee", "92.20", time.Date(2024, 4, 18, 0, 0, 0, 0, time.UTC)))

	source := &fakeSource{messages: []model.RawMessage{acmeConflictMessage()}}

	eng, err := NewWithConfig(source, db.Storage, nil, Config{Workers: 1})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Conflicts)
	assert.Zero(t, stats.Inserted)
	assert.Zero(t, stats.Duplicates)

	ctx := context.Background()
	count, err := db.Storage.CountReceipts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "both sides of the conflict are retained")

	conflicts, err := db.Storage.GetConflicts(ctx, model.ConflictPending)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	conflict := conflicts[0]
	assert.Equal(t, stats.RunID, conflict.RunID)
	assert.Equal(t, "Acme Coffee", conflict.Existing.Vendor)
	assert.True(t, conflict.Existing.Total.Equal(decimal.RequireFromString("92.20")))
	assert.True(t, conflict.Incoming.Total.Equal(decimal.RequireFromString("45.00")))
}

func TestEngineDryRunWritesNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sink := sheets.NewMockSink()
	source := &fakeSource{messages: []model.RawMessage{
		acmeReceiptMessage(),
		chewyReceiptMessage(),
	}}

	eng, err := NewWithConfig(source, db.Storage, []service.Sink{sink}, Config{Workers: 2, DryRun: true})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Inserted, "a dry run still reports what it would insert")

	count, err := db.Storage.CountReceipts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, sink.GetAppendCalls())

	_, err = db.Storage.GetLatestRun(context.Background())
	assert.ErrorIs(t, err, common.ErrNotFound, "dry runs leave no run record")
}

func TestEngineRunNoMessages(t *testing.T) {
	db := testutil.SetupTestDB(t)
	source := &fakeSource{}

	eng, err := New(source, db.Storage, nil)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "from:nobody", 100)
	assert.ErrorIs(t, err, common.ErrNoMessages)
	assert.Zero(t, stats.MessagesFetched)

	run, err := db.Storage.GetLatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stats.RunID, run.RunID)
	assert.False(t, run.CompletedAt.IsZero())
}

func TestEngineRunSkipsLowConfidence(t *testing.T) {
	db := testutil.SetupTestDB(t)
	source := &fakeSource{messages: []model.RawMessage{domainOnlyReceiptMessage()}}

	eng, err := NewWithConfig(source, db.Storage, nil, Config{Workers: 1, MinConfidence: 0.95})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.MessagesClassified)
	assert.Equal(t, 1, stats.SkippedLowScore)
	assert.Zero(t, stats.ReceiptsExtracted)
	assert.Zero(t, stats.Inserted)

	count, err := db.Storage.CountReceipts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngineRunCountsSinkFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sink := sheets.NewMockSink()
	sink.SetAppendError(errors.New("quota exhausted"))
	source := &fakeSource{messages: []model.RawMessage{
		acmeReceiptMessage(),
		chewyReceiptMessage(),
	}}

	eng, err := NewWithConfig(source, db.Storage, []service.Sink{sink}, Config{Workers: 2})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 2, stats.SinkFailures)

	count, err := db.Storage.CountReceipts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count, "sink failures do not block storage")
}

func TestEngineRunSeedsSnapshotFromSinks(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sink := sheets.NewMockSink()
	already := testutil.Receipt("Acme Coffee", "92.20", time.Date(2024, 4, 18, 0, 0, 0, 0, time.UTC))
	sink.Existing[already.Fingerprint] = already

	source := &fakeSource{messages: []model.RawMessage{acmeReceiptMessage()}}

	eng, err := NewWithConfig(source, db.Storage, []service.Sink{sink}, Config{Workers: 1})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Duplicates, "sink rows count as already recorded")
	assert.Zero(t, stats.Inserted)
	assert.Empty(t, sink.GetAppendCalls())
}

func TestEngineRunFetchError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	source := &fakeSource{err: errors.New("rate limited")}

	eng, err := New(source, db.Storage, nil)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestEngineRunCancelledContext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	source := &fakeSource{messages: []model.RawMessage{acmeReceiptMessage()}}

	eng, err := New(source, db.Storage, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eng.Run(ctx, "", 0)
	assert.Error(t, err)
}

func TestNewWithConfigValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)

	_, err := NewWithConfig(nil, db.Storage, nil, DefaultConfig())
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewWithConfig(&fakeSource{}, nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestNewWithConfigDefaultsZeroFields(t *testing.T) {
	db := testutil.SetupTestDB(t)

	eng, err := NewWithConfig(&fakeSource{}, db.Storage, nil, Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().Workers, eng.config.Workers)
	assert.InDelta(t, DefaultConfig().MinConfidence, eng.config.MinConfidence, 1e-9)
	assert.InDelta(t, classify.DefaultThreshold, eng.classifier.Threshold(), 1e-9)
}
