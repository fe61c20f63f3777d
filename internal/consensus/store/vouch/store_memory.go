package vouch

import (
	"context"
	"sort"
	"sync"

	"knomee/internal/consensus/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

type pairKey struct {
	claimID domain.ClaimID
	voucher domain.Address
}

// InMemoryStore holds vouches keyed by (claim, voucher) for dev and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	vouches map[pairKey]*models.Vouch
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{vouches: make(map[pairKey]*models.Vouch)}
}

// Create enforces one vouch per (claim, voucher).
func (s *InMemoryStore) Create(_ context.Context, vouch *models.Vouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{claimID: vouch.ClaimID, voucher: vouch.Voucher}
	if _, exists := s.vouches[key]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cloned := *vouch
	s.vouches[key] = &cloned
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, claimID domain.ClaimID, voucher domain.Address) (*models.Vouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vouch, ok := s.vouches[pairKey{claimID: claimID, voucher: voucher}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cloned := *vouch
	return &cloned, nil
}

func (s *InMemoryStore) Update(_ context.Context, vouch *models.Vouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{claimID: vouch.ClaimID, voucher: vouch.Voucher}
	if _, ok := s.vouches[key]; !ok {
		return sentinel.ErrNotFound
	}
	cloned := *vouch
	s.vouches[key] = &cloned
	return nil
}

// ListByClaim returns a claim's vouches in cast order.
func (s *InMemoryStore) ListByClaim(_ context.Context, claimID domain.ClaimID) ([]*models.Vouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Vouch
	for key, vouch := range s.vouches {
		if key.claimID == claimID {
			cloned := *vouch
			out = append(out, &cloned)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CastAt.Before(out[j].CastAt) })
	return out, nil
}
