package models

import (
	dErrors "knomee/pkg/domain-errors"
)

// Tier is the identity trust level. Tiers order strictly:
// Unverified < Linked < Verified < Oracle.
type Tier string

const (
	// TierUnverified is the default tier for every new address.
	TierUnverified Tier = "unverified"

	// TierLinked marks a secondary account bound to a Verified anchor.
	// Linked identities cannot vote.
	TierLinked Tier = "linked"

	// TierVerified marks a consensus-verified unique person.
	TierVerified Tier = "verified"

	// TierOracle is a governance-granted high-weight verifier.
	TierOracle Tier = "oracle"
)

// ParseTier validates a tier name at a trust boundary.
func ParseTier(raw string) (Tier, error) {
	switch Tier(raw) {
	case TierUnverified, TierLinked, TierVerified, TierOracle:
		return Tier(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown tier %q", raw)
	}
}

// CanVote reports whether the tier carries voting power.
func (t Tier) CanVote() bool {
	return t == TierVerified || t == TierOracle
}

// AtLeastVerified reports whether the tier can anchor linked accounts or be
// the target of a duplicate challenge.
func (t Tier) AtLeastVerified() bool {
	return t == TierVerified || t == TierOracle
}

// VoteWeight maps the tier onto its configured voting weight. Unverified and
// Linked identities always weigh zero.
func (t Tier) VoteWeight(verifiedWeight, oracleWeight uint64) uint64 {
	switch t {
	case TierVerified:
		return verifiedWeight
	case TierOracle:
		return oracleWeight
	default:
		return 0
	}
}

func (t Tier) String() string { return string(t) }
