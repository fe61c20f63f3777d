package ledger

import (
	"context"
	"sync"

	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// InMemoryOwnership is the reference OwnershipRecord implementation. The tier
// record is soul-bound: every transfer or approval attempt fails at this
// boundary, so the engine and registry never see movable identity state.
type InMemoryOwnership struct {
	mu    sync.RWMutex
	tiers map[domain.Address]string
}

func NewInMemoryOwnership() *InMemoryOwnership {
	return &InMemoryOwnership{tiers: make(map[domain.Address]string)}
}

func (o *InMemoryOwnership) SetTier(_ context.Context, addr domain.Address, tier string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tiers[addr] = tier
	return nil
}

func (o *InMemoryOwnership) TierOf(_ context.Context, addr domain.Address) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tier, ok := o.tiers[addr]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return tier, nil
}

func (o *InMemoryOwnership) Transfer(context.Context, domain.Address, domain.Address) error {
	return sentinel.ErrNotTransferable
}

func (o *InMemoryOwnership) Approve(context.Context, domain.Address, domain.Address) error {
	return sentinel.ErrNotTransferable
}
