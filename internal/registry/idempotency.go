package registry

import (
	"context"
	"sync"
	"time"
)

// Result is the recorded outcome of a committed mutation, replayed when a
// caller retries with the same request id.
type Result struct {
	Op        string `json:"op"`
	SubjectID uint64 `json:"subject_id,omitempty"`
	Changed   bool   `json:"changed,omitempty"`
}

// IdempotencyStore records committed mutation results by request id. Only
// committed effects are stored: a rejected or timed-out call leaves no entry,
// so a retry with the same id may still succeed.
type IdempotencyStore interface {
	Get(ctx context.Context, requestID string) (Result, bool, error)
	Put(ctx context.Context, requestID string, result Result) error
}

type idempotencyEntry struct {
	result    Result
	expiresAt time.Time
}

// InMemoryIdempotencyStore keeps results for a bounded TTL. Expired entries
// are dropped lazily on access.
type InMemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		entries: make(map[string]idempotencyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemoryIdempotencyStore) Get(_ context.Context, requestID string) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[requestID]
	if !ok {
		return Result{}, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, requestID)
		return Result{}, false, nil
	}
	return entry.result, true, nil
}

func (s *InMemoryIdempotencyStore) Put(_ context.Context, requestID string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[requestID] = idempotencyEntry{result: result, expiresAt: s.now().Add(s.ttl)}
	return nil
}
