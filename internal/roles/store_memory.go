package roles

import (
	"context"
	"sync"

	"medvault/internal/domain"
)

// InMemoryStore keeps role assignments in a mutex-guarded map. It favors
// clarity over performance and backs unit tests and single-node deployments.
type InMemoryStore struct {
	mu    sync.RWMutex
	roles map[domain.Identity]domain.Role
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{roles: make(map[domain.Identity]domain.Role)}
}

func (s *InMemoryStore) Get(_ context.Context, id domain.Identity) (domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if role, ok := s.roles[id]; ok {
		return role, nil
	}
	return domain.RoleNone, nil
}

func (s *InMemoryStore) Set(_ context.Context, id domain.Identity, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == domain.RoleNone {
		delete(s.roles, id)
		return nil
	}
	s.roles[id] = role
	return nil
}
