package models

import (
	"time"

	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
)

// Identity is the aggregate root for one address.
//
// Invariants:
//   - Anchor is set if and only if Tier is Linked
//   - VerifiedAt is set for Verified and Oracle tiers
//   - UnderChallenge implies ChallengeClaimID is set
//   - LinkedCount counts identities currently anchored to this one
//
// Tier transitions happen only through resolution outcomes or an explicit
// governance Oracle grant; demoting an anchor below Verified cascades to all
// of its linked identities.
type Identity struct {
	Address domain.Address `json:"address"`
	Tier    Tier           `json:"tier"`

	// Anchor points at the Verified-or-Oracle identity this one links to.
	Anchor domain.Address `json:"anchor,omitempty"`

	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	// Lifetime vouch tallies, kept for reputation display.
	VouchesReceived uint64 `json:"vouches_received"`
	StakeReceived   uint64 `json:"stake_received"`

	UnderChallenge   bool           `json:"under_challenge"`
	ChallengeClaimID domain.ClaimID `json:"challenge_claim_id,omitempty"`

	OracleGrantedAt *time.Time `json:"oracle_granted_at,omitempty"`

	LinkedCount int `json:"linked_count"`

	LastFailedClaimAt *time.Time `json:"last_failed_claim_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewIdentity creates an Unverified identity for addr.
func NewIdentity(addr domain.Address, now time.Time) *Identity {
	return &Identity{
		Address:   addr,
		Tier:      TierUnverified,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InCooldown reports whether a failed claim still blocks new requests.
func (i *Identity) InCooldown(now time.Time, cooldown time.Duration) bool {
	return i.LastFailedClaimAt != nil && now.Before(i.LastFailedClaimAt.Add(cooldown))
}

// CanRequestClaim checks the shared eligibility gates for any claim the
// identity is subject of.
func (i *Identity) CanRequestClaim(now time.Time, cooldown time.Duration) error {
	if i.UnderChallenge {
		return dErrors.New(dErrors.CodeIneligible, "address is under duplicate challenge")
	}
	if i.InCooldown(now, cooldown) {
		return dErrors.New(dErrors.CodeIneligible, "cooldown from a failed claim has not elapsed")
	}
	return nil
}

// CanPromoteToLinked checks that the identity can become a linked account.
func (i *Identity) CanPromoteToLinked() error {
	if i.Tier != TierUnverified {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot link a %s identity", i.Tier)
	}
	return nil
}

// ApplyLink binds the identity to anchor. Call CanPromoteToLinked first.
func (i *Identity) ApplyLink(anchor domain.Address, now time.Time) {
	i.Tier = TierLinked
	i.Anchor = anchor
	verifiedAt := now
	i.VerifiedAt = &verifiedAt
	i.UpdatedAt = now
}

// CanPromoteToVerified checks that the identity can become Verified.
// Linked identities may upgrade; the link dissolves on promotion.
func (i *Identity) CanPromoteToVerified() error {
	if i.Tier == TierVerified || i.Tier == TierOracle {
		return dErrors.New(dErrors.CodeInvalidState, "identity is already verified")
	}
	return nil
}

// ApplyVerified promotes to Verified. Call CanPromoteToVerified first.
func (i *Identity) ApplyVerified(now time.Time) {
	i.Tier = TierVerified
	i.Anchor = ""
	verifiedAt := now
	i.VerifiedAt = &verifiedAt
	i.UpdatedAt = now
}

// CanPromoteToOracle checks that the identity can receive an Oracle grant.
func (i *Identity) CanPromoteToOracle() error {
	if i.Tier != TierVerified {
		return dErrors.New(dErrors.CodeInvalidState, "only verified identities can become oracles")
	}
	return nil
}

// ApplyOracle promotes to Oracle. Call CanPromoteToOracle first.
func (i *Identity) ApplyOracle(now time.Time) {
	i.Tier = TierOracle
	grantedAt := now
	i.OracleGrantedAt = &grantedAt
	i.UpdatedAt = now
}

// ApplyDemotion resets the identity to Unverified. Linked accounts anchored
// to it are reset by the store cascade, not here.
func (i *Identity) ApplyDemotion(now time.Time) {
	i.Tier = TierUnverified
	i.Anchor = ""
	i.VerifiedAt = nil
	i.OracleGrantedAt = nil
	i.UpdatedAt = now
}

// MarkChallenged flags the identity while a duplicate claim is active.
func (i *Identity) MarkChallenged(claimID domain.ClaimID, now time.Time) {
	i.UnderChallenge = true
	i.ChallengeClaimID = claimID
	i.UpdatedAt = now
}

// ClearChallenge removes the challenge flag after the claim resolves.
func (i *Identity) ClearChallenge(now time.Time) {
	i.UnderChallenge = false
	i.ChallengeClaimID = domain.ClaimID{}
	i.UpdatedAt = now
}

// RecordFailedClaim starts the cooldown window.
func (i *Identity) RecordFailedClaim(now time.Time) {
	failedAt := now
	i.LastFailedClaimAt = &failedAt
	i.UpdatedAt = now
}

// RecordVouchReceived accumulates lifetime vouch tallies.
func (i *Identity) RecordVouchReceived(stake uint64, now time.Time) {
	i.VouchesReceived++
	i.StakeReceived += stake
	i.UpdatedAt = now
}
