package roles

import (
	"context"
	"sync"
	"time"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Get(ctx context.Context, sub string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[sub]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "profile", ID: sub}
	}
	return &p, nil
}

func (s *MemoryStore) EnsureProfile(ctx context.Context, sub, email string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[sub]; ok {
		return &p, nil
	}
	p := defaultProfile(sub, email, time.Now().UTC())
	s.profiles[sub] = *p
	return p, nil
}

func (s *MemoryStore) SetRole(ctx context.Context, input SetRoleInput) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing *Profile
	if p, ok := s.profiles[input.UserID]; ok {
		existing = &p
	}
	merged, err := mergeSetRole(existing, input, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.profiles[merged.ID] = *merged
	return merged, nil
}
