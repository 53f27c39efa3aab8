package sheets

import (
	"context"
	"sync"

	"github.com/Veraticus/paper-trail/internal/model"
)

// MockSink is a mock implementation of the Sink interface for testing.
type MockSink struct {
	AppendFunc  func(ctx context.Context, receipt model.Receipt) error
	Existing    map[string]model.Receipt
	LoadErr     error
	AppendCalls []model.Receipt
	SinkName    string
	LoadCalls   int
	mu          sync.Mutex
}

// NewMockSink creates a new mock sink.
func NewMockSink() *MockSink {
	return &MockSink{
		SinkName: "mock",
		Existing: make(map[string]model.Receipt),
	}
}

// Name implements the Sink interface.
func (m *MockSink) Name() string {
	return m.SinkName
}

// LoadExistingFingerprints implements the Sink interface.
func (m *MockSink) LoadExistingFingerprints(_ context.Context) (map[string]model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LoadCalls++
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	existing := make(map[string]model.Receipt, len(m.Existing))
	for fingerprint, receipt := range m.Existing {
		existing[fingerprint] = receipt
	}
	return existing, nil
}

// Append implements the Sink interface.
func (m *MockSink) Append(ctx context.Context, receipt model.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.AppendFunc != nil {
		err = m.AppendFunc(ctx, receipt)
	}
	if err == nil {
		m.AppendCalls = append(m.AppendCalls, receipt)
		m.Existing[receipt.Fingerprint] = receipt
	}

	return err
}

// Reset clears all recorded calls.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls = nil
	m.LoadCalls = 0
	m.Existing = make(map[string]model.Receipt)
}

// GetAppendCalls returns a copy of all appended receipts.
func (m *MockSink) GetAppendCalls() []model.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]model.Receipt, len(m.AppendCalls))
	copy(calls, m.AppendCalls)
	return calls
}

// SetAppendError configures the mock to fail every Append call.
func (m *MockSink) SetAppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendFunc = func(_ context.Context, _ model.Receipt) error {
		return err
	}
}
