package identity

import (
	"context"
	"sync"
	"time"

	"knomee/internal/identity/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// InMemoryStore holds identities and link records for dev and tests. All
// multi-identity mutations run under one mutex so cascades are atomic.
type InMemoryStore struct {
	mu         sync.Mutex
	identities map[domain.Address]*models.Identity
	links      map[domain.Address][]models.LinkedPlatform
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		identities: make(map[domain.Address]*models.Identity),
		links:      make(map[domain.Address][]models.LinkedPlatform),
	}
}

func (s *InMemoryStore) Get(_ context.Context, addr domain.Address) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[addr]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cloned := *identity
	return &cloned, nil
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, addr domain.Address, now time.Time) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[addr]
	if !ok {
		identity = models.NewIdentity(addr, now)
		s.identities[addr] = identity
	}
	cloned := *identity
	return &cloned, nil
}

// Execute runs validate then mutate on addr's identity under the store lock.
// The identity is created on the fly when absent so callers never race a
// separate GetOrCreate.
func (s *InMemoryStore) Execute(
	_ context.Context,
	addr domain.Address,
	now time.Time,
	validate func(*models.Identity) error,
	mutate func(*models.Identity),
) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[addr]
	if !ok {
		identity = models.NewIdentity(addr, now)
		s.identities[addr] = identity
	}
	if err := validate(identity); err != nil {
		return nil, err
	}
	mutate(identity)
	cloned := *identity
	return &cloned, nil
}

// ExecutePair atomically validates and mutates two identities, used by
// duplicate challenges that flag both accused accounts in one step.
func (s *InMemoryStore) ExecutePair(
	_ context.Context,
	first, second domain.Address,
	now time.Time,
	validate func(first, second *models.Identity) error,
	mutate func(first, second *models.Identity),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.identities[first]
	if !ok {
		a = models.NewIdentity(first, now)
		s.identities[first] = a
	}
	b, ok := s.identities[second]
	if !ok {
		b = models.NewIdentity(second, now)
		s.identities[second] = b
	}
	if err := validate(a, b); err != nil {
		return err
	}
	mutate(a, b)
	return nil
}

// DemoteWithCascade demotes addr to Unverified, resets every identity
// anchored to it, and deletes the anchor's link records, all in the same
// critical section. Returns the demoted identity and the addresses of the
// linked identities that were reset.
func (s *InMemoryStore) DemoteWithCascade(_ context.Context, addr domain.Address, now time.Time) (*models.Identity, []domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[addr]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}

	var reset []domain.Address
	for _, linked := range s.identities {
		if linked.Anchor == addr {
			linked.ApplyDemotion(now)
			reset = append(reset, linked.Address)
		}
	}
	delete(s.links, addr)

	identity.ApplyDemotion(now)
	identity.LinkedCount = 0

	cloned := *identity
	return &cloned, reset, nil
}

func (s *InMemoryStore) AddLink(_ context.Context, link models.LinkedPlatform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.Anchor] = append(s.links[link.Anchor], link)
	return nil
}

// LinksOf lists all link records where addr is the anchor.
func (s *InMemoryStore) LinksOf(_ context.Context, addr domain.Address) ([]models.LinkedPlatform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LinkedPlatform{}, s.links[addr]...), nil
}
