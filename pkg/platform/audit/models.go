package audit

import (
	"context"
	"time"

	"knomee/pkg/domain"
)

// Event is emitted from domain logic to capture key consensus actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Subject   domain.Address `json:"subject"`
	Action    string         `json:"action"`
	ClaimID   string         `json:"claim_id,omitempty"`
	Actor     domain.Address `json:"actor,omitempty"`
	Amount    uint64         `json:"amount,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	// Claim lifecycle
	EventClaimCreated  AuditEvent = "claim_created"
	EventVouchCast     AuditEvent = "vouch_cast"
	EventClaimResolved AuditEvent = "claim_resolved"
	EventClaimExpired  AuditEvent = "claim_expired"
	EventRewardClaimed AuditEvent = "reward_claimed"

	// Economics
	EventStakeSlashed AuditEvent = "stake_slashed"
	EventBountyPaid   AuditEvent = "bounty_paid"
	EventRewardMinted AuditEvent = "reward_minted"
	EventStakeBurned  AuditEvent = "stake_burned"

	// Identity tier changes
	EventIdentityPromoted   AuditEvent = "identity_promoted"
	EventIdentityDemoted    AuditEvent = "identity_demoted"
	EventIdentityChallenged AuditEvent = "identity_challenged"
	EventChallengeCleared   AuditEvent = "challenge_cleared"

	// Governance
	EventParamsUpdated     AuditEvent = "params_updated"
	EventTimeWarped        AuditEvent = "time_warped"
	EventOverrideRenounced AuditEvent = "override_renounced"
	EventOracleGranted     AuditEvent = "oracle_granted"
)

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
}
