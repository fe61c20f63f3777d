package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "knomee/pkg/domain-errors"
)

// Address identifies an externally authenticated account. The execution
// environment guarantees the caller controls the address; this service never
// verifies signatures itself.
type Address string

// MaxAddressLen bounds addresses so stores can size columns.
const MaxAddressLen = 64

// ParseAddress validates an address at a trust boundary.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if len(raw) > MaxAddressLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address exceeds maximum length")
	}
	return Address(raw), nil
}

func (a Address) String() string { return string(a) }

// ClaimID identifies a consensus claim.
type ClaimID uuid.UUID

// NewClaimID generates a fresh claim identifier.
func NewClaimID() ClaimID { return ClaimID(uuid.New()) }

// ParseClaimID validates a claim ID at a trust boundary.
// IDs must be valid, non-nil UUIDs.
func ParseClaimID(raw string) (ClaimID, error) {
	if raw == "" {
		return ClaimID{}, dErrors.New(dErrors.CodeInvalidInput, "claim id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ClaimID{}, dErrors.New(dErrors.CodeInvalidInput, "claim id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return ClaimID{}, dErrors.New(dErrors.CodeInvalidInput, "claim id must not be nil")
	}
	return ClaimID(parsed), nil
}

func (c ClaimID) String() string { return uuid.UUID(c).String() }

// MarshalText renders the canonical UUID form for JSON and cache payloads.
func (c ClaimID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClaimID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*c = ClaimID(parsed)
	return nil
}

// IsZero reports whether the claim ID is unset.
func (c ClaimID) IsZero() bool { return uuid.UUID(c) == uuid.Nil }
