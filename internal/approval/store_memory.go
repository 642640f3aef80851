package approval

import (
	"context"
	"sync"
	"time"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// MemoryStore is an in-process Store for tests and single-node runs. Its
// Claim holds the same invariant as the Postgres store: one winner per
// token, ever.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) SaveToken(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Status = StatusPending
	rec.Reason = ""
	rec.DecidedAt = nil
	s.records[rec.ItemID] = rec
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, itemID string, decision Decision, reason string, decidedAt time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[itemID]
	if !ok || rec.TaskToken == "" {
		return nil, &apperr.NotFoundError{Kind: "approval", ID: itemID}
	}
	claimed := rec
	rec.TaskToken = ""
	rec.Status = string(decision)
	rec.Reason = reason
	rec.DecidedAt = &decidedAt
	s.records[itemID] = rec

	claimed.Status = string(decision)
	claimed.Reason = reason
	claimed.DecidedAt = &decidedAt
	return &claimed, nil
}

func (s *MemoryStore) Get(ctx context.Context, itemID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[itemID]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "approval", ID: itemID}
	}
	out := rec
	return &out, nil
}
