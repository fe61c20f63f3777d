package models

import (
	"time"

	"knomee/pkg/domain"
)

// Vouch is one voter's weighted, staked position on a claim. One per
// (claim, voucher); the weight is frozen at cast time and never re-derived,
// so a later tier change cannot rewrite history.
type Vouch struct {
	ClaimID  domain.ClaimID `json:"claim_id"`
	Voucher  domain.Address `json:"voucher"`
	Supports bool           `json:"supports"`

	// Weight is the voucher's tier weight at cast time.
	Weight uint64 `json:"weight"`

	// Stake escrowed behind the vote.
	Stake uint64 `json:"stake"`

	CastAt time.Time `json:"cast_at"`

	// Payout is fixed at resolution: refund plus slash share for winners,
	// the post-slash remainder for losers. Zero until the claim resolves.
	Payout uint64 `json:"payout"`

	// RewardsClaimed marks the payout as transferred. A claimed vouch is a
	// deterministic no-op on further reward calls.
	RewardsClaimed bool `json:"rewards_claimed"`
}

// NewVouch records a vote at cast time.
func NewVouch(claimID domain.ClaimID, voucher domain.Address, supports bool, weight, stake uint64, now time.Time) *Vouch {
	return &Vouch{
		ClaimID:  claimID,
		Voucher:  voucher,
		Supports: supports,
		Weight:   weight,
		Stake:    stake,
		CastAt:   now,
	}
}

// WeightedVote is the vouch's tally contribution: tier weight times stake.
// Saturates instead of wrapping so a pathological stake cannot flip a tally.
func (v *Vouch) WeightedVote() uint64 {
	if v.Weight != 0 && v.Stake > ^uint64(0)/v.Weight {
		return ^uint64(0)
	}
	return v.Weight * v.Stake
}

// OnWinningSide reports whether the vouch backed the final outcome. Expired
// claims have no winning side.
func (v *Vouch) OnWinningSide(status ClaimStatus) bool {
	switch status {
	case StatusApproved:
		return v.Supports
	case StatusRejected:
		return !v.Supports
	default:
		return false
	}
}
