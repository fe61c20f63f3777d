package ledger

import (
	"context"
	"sync"

	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// InMemoryLedger is a process-local stake ledger for dev and tests. Escrowed
// funds (everything debited but not yet credited back) are tracked so
// conservation can be asserted end to end.
type InMemoryLedger struct {
	mu       sync.Mutex
	balances map[domain.Address]uint64
	escrowed uint64
	burned   uint64
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{balances: make(map[domain.Address]uint64)}
}

// Mint seeds a balance. Test/bootstrap helper, not part of StakeLedger.
func (l *InMemoryLedger) Mint(addr domain.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += amount
}

func (l *InMemoryLedger) Debit(_ context.Context, addr domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[addr] < amount {
		return sentinel.ErrInsufficientBalance
	}
	l.balances[addr] -= amount
	l.escrowed += amount
	return nil
}

func (l *InMemoryLedger) Credit(_ context.Context, addr domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Credits first drain escrow (refunds, redistributions); anything beyond
	// escrow is protocol issuance (verification rewards).
	if l.escrowed >= amount {
		l.escrowed -= amount
	} else {
		l.escrowed = 0
	}
	l.balances[addr] += amount
	return nil
}

func (l *InMemoryLedger) Burn(_ context.Context, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.escrowed < amount {
		return sentinel.ErrInvalidState
	}
	l.escrowed -= amount
	l.burned += amount
	return nil
}

func (l *InMemoryLedger) Balance(_ context.Context, addr domain.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

// Escrowed reports funds debited but not yet paid out or burned.
func (l *InMemoryLedger) Escrowed() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrowed
}

// Burned reports the cumulative burned amount.
func (l *InMemoryLedger) Burned() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.burned
}
