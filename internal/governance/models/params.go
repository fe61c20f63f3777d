package models

import (
	"time"

	dErrors "knomee/pkg/domain-errors"
)

// BasisPoints is the denominator for all ratio parameters (10000 = 100%).
const BasisPoints = 10000

// Default economic parameters. Thresholds and slash rates are basis points,
// stakes are base units of the staking token, durations are wall-clock spans
// on the governance clock.
const (
	DefaultLinkThresholdBps      = 5100
	DefaultVerifyThresholdBps    = 6700
	DefaultDuplicateThresholdBps = 8000

	DefaultMinStake = 10_000_000

	DefaultPrimaryStakeMultiplier   = 3
	DefaultDuplicateStakeMultiplier = 10

	DefaultLinkSlashBps      = 1000
	DefaultVerifySlashBps    = 3000
	DefaultDuplicateSlashBps = 5000
	DefaultSybilSlashBps     = 10000

	DefaultVerifiedVoteWeight = 1
	DefaultOracleVoteWeight   = 100

	DefaultFailedClaimCooldown   = 7 * 24 * time.Hour
	DefaultDuplicateFlagCooldown = 30 * 24 * time.Hour
	DefaultClaimExpiry           = 30 * 24 * time.Hour

	DefaultVerificationReward     = 1_000_000
	DefaultBootstrapWindow        = 180 * 24 * time.Hour
	DefaultEarlyAdopterMultiplier = 2

	DefaultMaxLinkedAccounts = 64
)

// Params is the tunable economic parameter set. A single instance governs
// every claim; claims snapshot nothing, so updates apply to in-flight claims
// on their next evaluation.
type Params struct {
	// Approval thresholds per claim type, in basis points of total cast
	// weight. Must stay above 5100 so no claim type can pass on a minority.
	LinkThresholdBps      uint16 `json:"link_threshold_bps"`
	VerifyThresholdBps    uint16 `json:"verify_threshold_bps"`
	DuplicateThresholdBps uint16 `json:"duplicate_threshold_bps"`

	// MinStake is the base stake for LinkToPrimary claims and vouches.
	// NewPrimary and DuplicateFlag scale it by their multipliers.
	MinStake uint64 `json:"min_stake"`

	PrimaryStakeMultiplier   uint64 `json:"primary_stake_multiplier"`
	DuplicateStakeMultiplier uint64 `json:"duplicate_stake_multiplier"`

	// Slash rates applied to the losing side at resolution.
	LinkSlashBps      uint16 `json:"link_slash_bps"`
	VerifySlashBps    uint16 `json:"verify_slash_bps"`
	DuplicateSlashBps uint16 `json:"duplicate_slash_bps"`

	// SybilSlashBps applies to the accused's escrow on an approved
	// duplicate flag, funding the accuser's bounty.
	SybilSlashBps uint16 `json:"sybil_slash_bps"`

	VerifiedVoteWeight uint64 `json:"verified_vote_weight"`
	OracleVoteWeight   uint64 `json:"oracle_vote_weight"`

	FailedClaimCooldown   time.Duration `json:"failed_claim_cooldown"`
	DuplicateFlagCooldown time.Duration `json:"duplicate_flag_cooldown"`
	ClaimExpiry           time.Duration `json:"claim_expiry"`

	// VerificationReward is credited to the subject of an approved
	// NewPrimary claim, doubled by EarlyAdopterMultiplier while inside
	// BootstrapWindow measured from protocol launch.
	VerificationReward     uint64        `json:"verification_reward"`
	BootstrapWindow        time.Duration `json:"bootstrap_window"`
	EarlyAdopterMultiplier uint64        `json:"early_adopter_multiplier"`

	// MaxLinkedAccounts caps linked identities per anchor so cascade
	// demotions stay bounded.
	MaxLinkedAccounts int `json:"max_linked_accounts"`
}

// DefaultParams returns the launch parameter set.
func DefaultParams() Params {
	return Params{
		LinkThresholdBps:         DefaultLinkThresholdBps,
		VerifyThresholdBps:       DefaultVerifyThresholdBps,
		DuplicateThresholdBps:    DefaultDuplicateThresholdBps,
		MinStake:                 DefaultMinStake,
		PrimaryStakeMultiplier:   DefaultPrimaryStakeMultiplier,
		DuplicateStakeMultiplier: DefaultDuplicateStakeMultiplier,
		LinkSlashBps:             DefaultLinkSlashBps,
		VerifySlashBps:           DefaultVerifySlashBps,
		DuplicateSlashBps:        DefaultDuplicateSlashBps,
		SybilSlashBps:            DefaultSybilSlashBps,
		VerifiedVoteWeight:       DefaultVerifiedVoteWeight,
		OracleVoteWeight:         DefaultOracleVoteWeight,
		FailedClaimCooldown:      DefaultFailedClaimCooldown,
		DuplicateFlagCooldown:    DefaultDuplicateFlagCooldown,
		ClaimExpiry:              DefaultClaimExpiry,
		VerificationReward:       DefaultVerificationReward,
		BootstrapWindow:          DefaultBootstrapWindow,
		EarlyAdopterMultiplier:   DefaultEarlyAdopterMultiplier,
		MaxLinkedAccounts:        DefaultMaxLinkedAccounts,
	}
}

// Validate checks the full parameter set. Every update goes through here so a
// bad governance call can never brick in-flight claims.
func (p Params) Validate() error {
	for _, t := range []struct {
		name  string
		value uint16
	}{
		{"link_threshold_bps", p.LinkThresholdBps},
		{"verify_threshold_bps", p.VerifyThresholdBps},
		{"duplicate_threshold_bps", p.DuplicateThresholdBps},
	} {
		if t.value < 5100 || t.value > BasisPoints {
			return dErrors.Newf(dErrors.CodeConfiguration, "%s must be within [5100, 10000]", t.name)
		}
	}

	if p.MinStake == 0 {
		return dErrors.New(dErrors.CodeConfiguration, "min_stake must be positive")
	}
	if p.PrimaryStakeMultiplier == 0 || p.DuplicateStakeMultiplier == 0 {
		return dErrors.New(dErrors.CodeConfiguration, "stake multipliers must be positive")
	}
	if p.DuplicateStakeMultiplier < p.PrimaryStakeMultiplier {
		return dErrors.New(dErrors.CodeConfiguration, "duplicate stake multiplier must be at least the primary multiplier")
	}

	for _, s := range []struct {
		name  string
		value uint16
	}{
		{"link_slash_bps", p.LinkSlashBps},
		{"verify_slash_bps", p.VerifySlashBps},
		{"duplicate_slash_bps", p.DuplicateSlashBps},
		{"sybil_slash_bps", p.SybilSlashBps},
	} {
		if s.value > BasisPoints {
			return dErrors.Newf(dErrors.CodeConfiguration, "%s cannot exceed 10000", s.name)
		}
	}

	if p.VerifiedVoteWeight == 0 {
		return dErrors.New(dErrors.CodeConfiguration, "verified_vote_weight must be positive")
	}
	if p.OracleVoteWeight < p.VerifiedVoteWeight {
		return dErrors.New(dErrors.CodeConfiguration, "oracle_vote_weight must be at least verified_vote_weight")
	}

	if p.FailedClaimCooldown <= 0 || p.DuplicateFlagCooldown <= 0 || p.ClaimExpiry <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "cooldowns and claim expiry must be positive")
	}
	if p.EarlyAdopterMultiplier == 0 {
		return dErrors.New(dErrors.CodeConfiguration, "early_adopter_multiplier must be positive")
	}
	if p.MaxLinkedAccounts <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "max_linked_accounts must be positive")
	}
	return nil
}
