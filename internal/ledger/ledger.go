// Package ledger defines the external balance collaborators the consensus
// engine consumes. The fungible stake ledger and the non-transferable tier
// record are owned by other systems; these interfaces pin down exactly the
// contract the engine relies on.
package ledger

import (
	"context"

	"knomee/pkg/domain"
)

// StakeLedger is the fungible balance the engine escrows stakes against.
// All calls are synchronous and fail fast; the engine never retries silently.
//
// Implementations signal facts with pkg/platform/sentinel errors:
// ErrInsufficientBalance on an over-debit, ErrUnavailable on outage.
type StakeLedger interface {
	// Debit removes amount from addr's balance into engine escrow.
	Debit(ctx context.Context, addr domain.Address, amount uint64) error

	// Credit adds amount to addr's balance.
	Credit(ctx context.Context, addr domain.Address, amount uint64) error

	// Burn destroys amount held in escrow (slashing dust, forfeitures with
	// no recipient).
	Burn(ctx context.Context, amount uint64) error

	// Balance reports addr's current spendable balance.
	Balance(ctx context.Context, addr domain.Address) (uint64, error)
}

// OwnershipRecord mirrors each address's identity tier as a non-transferable
// record. Transfer and Approve always fail: the record is bound to the
// address for life. Enforced here, at the boundary, so the engine never has
// to reason about token movement.
type OwnershipRecord interface {
	SetTier(ctx context.Context, addr domain.Address, tier string) error
	TierOf(ctx context.Context, addr domain.Address) (string, error)

	// Transfer always returns sentinel.ErrNotTransferable.
	Transfer(ctx context.Context, from, to domain.Address) error

	// Approve always returns sentinel.ErrNotTransferable.
	Approve(ctx context.Context, owner, operator domain.Address) error
}
