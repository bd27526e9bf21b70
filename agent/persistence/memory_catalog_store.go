package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/agentrelay/types"
)

// MemoryCatalogStore is an in-memory implementation of CatalogStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryCatalogStore struct {
	agents map[string]*types.AgentDefinition
	mu     sync.RWMutex
	closed bool
}

// NewMemoryCatalogStore creates an empty in-memory catalog.
func NewMemoryCatalogStore() *MemoryCatalogStore {
	return &MemoryCatalogStore{agents: make(map[string]*types.AgentDefinition)}
}

// Close closes the store
func (s *MemoryCatalogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryCatalogStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns a copy of the agent.
func (s *MemoryCatalogStore) Get(ctx context.Context, id string) (*types.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	def, ok := s.agents[id]
	if !ok {
		return nil, notFound(id)
	}
	return def.Clone(), nil
}

// List returns copies of all agents ordered by id.
func (s *MemoryCatalogStore) List(ctx context.Context) ([]*types.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*types.AgentDefinition, 0, len(s.agents))
	for _, def := range s.agents {
		out = append(out, def.Clone())
	}
	sortByID(out)
	return out, nil
}

// Save creates or replaces an agent.
func (s *MemoryCatalogStore) Save(ctx context.Context, def *types.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	var existing *types.AgentDefinition
	if def != nil {
		existing = s.agents[def.ID]
	}
	c, err := prepareSave(def, existing)
	if err != nil {
		return err
	}
	s.agents[c.ID] = c
	return nil
}

// Delete removes an agent.
func (s *MemoryCatalogStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	existing, ok := s.agents[id]
	if !ok {
		return notFound(id)
	}
	if err := checkDelete(existing); err != nil {
		return err
	}
	delete(s.agents, id)
	return nil
}
