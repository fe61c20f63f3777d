package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and ledger implementations
// return these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrAlreadyUsed: resource (vouch slot, claim id) already consumed
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: store or ledger temporarily unavailable
// - ErrInsufficientBalance: ledger debit exceeds the account balance
// - ErrNotTransferable: attempt to transfer a soul-bound ownership record
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrAlreadyUsed         = errors.New("already used")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnavailable         = errors.New("unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotTransferable     = errors.New("not transferable")
)
