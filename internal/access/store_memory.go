package access

import (
	"context"
	"sync"

	"medvault/internal/domain"
)

type pairKey struct {
	recordID uint64
	grantee  domain.Identity
}

// InMemoryStore keeps grant history in mutex-guarded append-only slices.
type InMemoryStore struct {
	mu       sync.RWMutex
	byPair   map[pairKey][]Grant
	byRecord map[uint64][]Grant
	nextID   uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byPair:   make(map[pairKey][]Grant),
		byRecord: make(map[uint64][]Grant),
	}
}

func (s *InMemoryStore) Append(_ context.Context, grant Grant) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	grant.ID = s.nextID
	key := pairKey{recordID: grant.RecordID, grantee: grant.Grantee}
	s.byPair[key] = append(s.byPair[key], grant)
	s.byRecord[grant.RecordID] = append(s.byRecord[grant.RecordID], grant)
	return grant, nil
}

func (s *InMemoryStore) History(_ context.Context, recordID uint64, grantee domain.Identity) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Grant{}, s.byPair[pairKey{recordID: recordID, grantee: grantee}]...), nil
}

func (s *InMemoryStore) ListByRecord(_ context.Context, recordID uint64) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Grant{}, s.byRecord[recordID]...), nil
}
