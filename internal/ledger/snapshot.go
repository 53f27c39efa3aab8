// Package ledger holds the per-run view of already-recorded receipts and
// decides whether each newly extracted receipt is new, a duplicate, or a
// conflict needing review.
package ledger

import (
	"sync"
	"time"

	"github.com/Veraticus/paper-trail/internal/model"
)

// Snapshot is the in-memory fingerprint index for a single run. It is
// seeded from persisted state before processing starts and mutated as
// receipts are reconciled. All methods are safe for concurrent use, though
// reconciliation is expected to run on a single consumer.
type Snapshot struct {
	mu      sync.Mutex
	entries map[string]model.Receipt
	byTxn   map[string]model.Receipt
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		entries: make(map[string]model.Receipt),
		byTxn:   make(map[string]model.Receipt),
	}
}

// Merge seeds the snapshot with persisted receipts keyed by fingerprint.
// Receipts already present are left untouched, so storage can be merged
// before sinks without the sinks overriding it.
func (s *Snapshot) Merge(receipts map[string]model.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, r := range receipts {
		if fp == "" {
			continue
		}
		if _, ok := s.entries[fp]; ok {
			continue
		}
		s.entries[fp] = r
		key := r.TransactionKey()
		if _, ok := s.byTxn[key]; !ok {
			s.byTxn[key] = r
		}
	}
}

// Len reports how many distinct fingerprints the snapshot holds.
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Contains reports whether a fingerprint is already recorded.
func (s *Snapshot) Contains(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[fingerprint]
	return ok
}

// Reconcile decides the fate of one extracted receipt and updates the
// snapshot immediately, so a later receipt in the same run with the same
// fingerprint is seen as a duplicate before any sink write completes.
//
// An unknown fingerprint whose transaction key matches an existing entry
// with a different total is a conflict: the incoming receipt is retained
// alongside the existing one and a conflict record pairing the two is
// returned for persistence.
func (s *Snapshot) Reconcile(r *model.Receipt) (model.ReconcileOutcome, *model.Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[r.Fingerprint]; ok {
		if existing.Total.Equal(r.Total) {
			return model.OutcomeSkippedDuplicate, nil
		}
		// Fingerprint collision with a materially different total.
		return model.OutcomeFlaggedConflict, s.conflict(existing, r)
	}

	key := r.TransactionKey()
	if prior, ok := s.byTxn[key]; ok && !prior.Total.Equal(r.Total) {
		s.entries[r.Fingerprint] = *r
		return model.OutcomeFlaggedConflict, s.conflict(prior, r)
	}

	s.entries[r.Fingerprint] = *r
	if _, ok := s.byTxn[key]; !ok {
		s.byTxn[key] = *r
	}
	return model.OutcomeInserted, nil
}

func (s *Snapshot) conflict(existing model.Receipt, incoming *model.Receipt) *model.Conflict {
	return &model.Conflict{
		Fingerprint: incoming.Fingerprint,
		Status:      model.ConflictPending,
		DetectedAt:  time.Now().UTC(),
		Existing:    existing,
		Incoming:    *incoming,
	}
}
