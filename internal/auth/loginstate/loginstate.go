// Package loginstate persists in-flight login attempts (PKCE verifier +
// anti-forgery state) between minting the login URL and redeeming the
// provider callback.
package loginstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// Attempt is one pending login. A browser session has at most one; saving
// again overwrites the previous attempt.
type Attempt struct {
	// Verifier is the PKCE code verifier, never exposed to the browser.
	Verifier string `json:"verifier"`
	// State is the anti-forgery token the callback must echo.
	State string `json:"state"`
	// CreatedAt is when the attempt was minted.
	CreatedAt time.Time `json:"created_at"`
}

// Store saves and redeems login attempts. Take removes the attempt so an
// authorization code can only be redeemed once per attempt.
type Store interface {
	Save(ctx context.Context, id string, attempt Attempt, ttl time.Duration) error
	Take(ctx context.Context, id string) (*Attempt, error)
}

// RedisStore is the production Store, shared across replicas.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed attempt store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func attemptKey(id string) string {
	return "closet:login:" + id
}

// Save stores the attempt with TTL, overwriting any previous attempt for
// the same id.
func (s *RedisStore) Save(ctx context.Context, id string, attempt Attempt, ttl time.Duration) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal login attempt: %w", err)
	}
	if err = s.client.Set(ctx, attemptKey(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist login attempt: %w", err)
	}
	return nil
}

// Take loads and deletes the attempt in one round trip. Unknown or
// expired ids yield NotFoundError.
func (s *RedisStore) Take(ctx context.Context, id string) (*Attempt, error) {
	bytes, err := s.client.GetDel(ctx, attemptKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, &apperr.NotFoundError{Kind: "login attempt", ID: id}
		}
		return nil, fmt.Errorf("load login attempt: %w", err)
	}
	var attempt Attempt
	if err = json.Unmarshal(bytes, &attempt); err != nil {
		return nil, fmt.Errorf("decode login attempt: %w", err)
	}
	return &attempt, nil
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]memoryEntry
}

type memoryEntry struct {
	attempt Attempt
	expires time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(ctx context.Context, id string, attempt Attempt, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id] = memoryEntry{attempt: attempt, expires: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, id string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.attempts[id]
	if ok {
		delete(s.attempts, id)
	}
	if !ok || time.Now().After(entry.expires) {
		return nil, &apperr.NotFoundError{Kind: "login attempt", ID: id}
	}
	attempt := entry.attempt
	return &attempt, nil
}
