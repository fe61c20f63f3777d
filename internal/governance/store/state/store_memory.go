package state

import (
	"context"
	"sync"

	"knomee/internal/governance/models"
	"knomee/pkg/platform/sentinel"
)

// InMemoryStore holds the singleton governance state for dev and tests.
type InMemoryStore struct {
	mu    sync.Mutex
	state *models.State
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Init(_ context.Context, state *models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return sentinel.ErrConflict
	}
	cloned := *state
	s.state = &cloned
	return nil
}

func (s *InMemoryStore) Load(_ context.Context) (*models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, sentinel.ErrNotFound
	}
	cloned := *s.state
	return &cloned, nil
}

// Execute runs validate then mutate under the store lock so governance
// transitions are atomic. The mutated state is returned as a copy.
func (s *InMemoryStore) Execute(
	_ context.Context,
	validate func(*models.State) error,
	mutate func(*models.State),
) (*models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(s.state); err != nil {
		return nil, err
	}
	mutate(s.state)
	cloned := *s.state
	return &cloned, nil
}
