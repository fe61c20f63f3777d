package claim

import (
	"context"
	"sort"
	"sync"
	"time"

	"knomee/internal/consensus/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// InMemoryStore holds claims for dev and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	claims map[domain.ClaimID]*models.Claim
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{claims: make(map[domain.ClaimID]*models.Claim)}
}

func (s *InMemoryStore) Create(_ context.Context, claim *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.claims[claim.ID]; exists {
		return sentinel.ErrConflict
	}
	cloned := *claim
	s.claims[claim.ID] = &cloned
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.ClaimID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claim, ok := s.claims[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cloned := *claim
	return &cloned, nil
}

func (s *InMemoryStore) Update(_ context.Context, claim *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[claim.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cloned := *claim
	s.claims[claim.ID] = &cloned
	return nil
}

// ListByStatus returns claims in creation order, newest first.
func (s *InMemoryStore) ListByStatus(_ context.Context, status models.ClaimStatus, limit int) ([]*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Claim
	for _, claim := range s.claims {
		if claim.Status == status {
			cloned := *claim
			out = append(out, &cloned)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpired returns active claims whose voting window closed at or before
// asOf, oldest first so the sweeper drains backlog in order.
func (s *InMemoryStore) ListExpired(_ context.Context, asOf time.Time, limit int) ([]*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Claim
	for _, claim := range s.claims {
		if claim.Status == models.StatusActive && claim.IsExpired(asOf) {
			cloned := *claim
			out = append(out, &cloned)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
