package models

import (
	"math/bits"
	"strings"
	"time"

	governance "knomee/internal/governance/models"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
)

// Input caps for claim text fields.
const (
	MaxJustificationLen = 500
	MaxEvidenceLen      = 1000
)

// ClaimType selects the threshold, stake requirement, and slash rate.
type ClaimType string

const (
	// ClaimLinkToPrimary asks to bind the subject under a Verified anchor.
	ClaimLinkToPrimary ClaimType = "link_to_primary"

	// ClaimNewPrimary asks to verify the subject as a unique person.
	ClaimNewPrimary ClaimType = "new_primary"

	// ClaimDuplicateFlag accuses two Verified identities of being one person.
	ClaimDuplicateFlag ClaimType = "duplicate_flag"
)

// ParseClaimType validates a claim type at a trust boundary.
func ParseClaimType(raw string) (ClaimType, error) {
	switch ClaimType(raw) {
	case ClaimLinkToPrimary, ClaimNewPrimary, ClaimDuplicateFlag:
		return ClaimType(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown claim type %q", raw)
	}
}

// RequiredStake is the minimum stake to open a claim of this type.
func (t ClaimType) RequiredStake(p governance.Params) uint64 {
	switch t {
	case ClaimNewPrimary:
		return p.MinStake * p.PrimaryStakeMultiplier
	case ClaimDuplicateFlag:
		return p.MinStake * p.DuplicateStakeMultiplier
	default:
		return p.MinStake
	}
}

// ThresholdBps is the approval threshold for this type.
func (t ClaimType) ThresholdBps(p governance.Params) uint16 {
	switch t {
	case ClaimNewPrimary:
		return p.VerifyThresholdBps
	case ClaimDuplicateFlag:
		return p.DuplicateThresholdBps
	default:
		return p.LinkThresholdBps
	}
}

// SlashBps is the rate applied to the losing side. An approved duplicate flag
// slashes the accused at the sybil rate instead.
func (t ClaimType) SlashBps(p governance.Params, sybil bool) uint16 {
	if sybil && t == ClaimDuplicateFlag {
		return p.SybilSlashBps
	}
	switch t {
	case ClaimNewPrimary:
		return p.VerifySlashBps
	case ClaimDuplicateFlag:
		return p.DuplicateSlashBps
	default:
		return p.LinkSlashBps
	}
}

// Cooldown is the wait imposed on the subject after this claim fails.
func (t ClaimType) Cooldown(p governance.Params) time.Duration {
	if t == ClaimDuplicateFlag {
		return p.DuplicateFlagCooldown
	}
	return p.FailedClaimCooldown
}

// ClaimStatus is the claim lifecycle state.
type ClaimStatus string

const (
	StatusActive   ClaimStatus = "active"
	StatusApproved ClaimStatus = "approved"
	StatusRejected ClaimStatus = "rejected"
	StatusExpired  ClaimStatus = "expired"
)

// ParseClaimStatus validates a status at a trust boundary.
func ParseClaimStatus(raw string) (ClaimStatus, error) {
	switch ClaimStatus(raw) {
	case StatusActive, StatusApproved, StatusRejected, StatusExpired:
		return ClaimStatus(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown claim status %q", raw)
	}
}

// IsTerminal reports whether the claim can never change again, except for
// per-voucher reward bookkeeping.
func (s ClaimStatus) IsTerminal() bool {
	return s != StatusActive
}

// Claim is the aggregate root for one consensus question.
//
// Invariants:
//   - Vote totals only grow while Active and freeze at terminal status
//   - ExpiresAt = CreatedAt + claim expiry at creation time
//   - TotalStake equals the sum of all escrowed vouch stakes
type Claim struct {
	ID     domain.ClaimID `json:"id"`
	Type   ClaimType      `json:"type"`
	Status ClaimStatus    `json:"status"`

	// Subject is the address the claim is about.
	Subject domain.Address `json:"subject"`

	// Related is the anchor for link claims and the second accused address
	// for duplicate flags. Empty for verification claims.
	Related domain.Address `json:"related,omitempty"`

	// Requester opened the claim: the subject itself for link and
	// verification claims, the accuser for duplicate flags.
	Requester domain.Address `json:"requester"`

	Platform      string `json:"platform,omitempty"`
	Justification string `json:"justification,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Weighted vote tallies.
	TotalFor     uint64 `json:"total_for"`
	TotalAgainst uint64 `json:"total_against"`

	TotalStake   uint64 `json:"total_stake"`
	TotalSlashed uint64 `json:"total_slashed"`
	VouchCount   int    `json:"vouch_count"`

	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewClaim opens an Active claim.
func NewClaim(claimType ClaimType, subject, related, requester domain.Address, platform, justification string, now time.Time, expiry time.Duration) *Claim {
	return &Claim{
		ID:            domain.NewClaimID(),
		Type:          claimType,
		Status:        StatusActive,
		Subject:       subject,
		Related:       related,
		Requester:     requester,
		Platform:      platform,
		Justification: justification,
		CreatedAt:     now,
		ExpiresAt:     now.Add(expiry),
	}
}

// ValidateJustification enforces the text cap, which differs for duplicate
// evidence.
func ValidateJustification(claimType ClaimType, justification string) (string, error) {
	justification = strings.TrimSpace(justification)
	limit := MaxJustificationLen
	if claimType == ClaimDuplicateFlag {
		limit = MaxEvidenceLen
	}
	if len(justification) > limit {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "justification exceeds %d characters", limit)
	}
	return justification, nil
}

// IsExpired reports whether the claim's voting window has closed.
func (c *Claim) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CanVouch checks the claim accepts votes.
func (c *Claim) CanVouch() error {
	if c.Status != StatusActive {
		return dErrors.Newf(dErrors.CodeInvalidState, "claim is %s", c.Status)
	}
	return nil
}

// ApplyVouch adds a weighted vote and its stake to the tallies. The combined
// cast weight is overflow-checked so share math always divides a real total;
// a claim that would overflow refuses the vote.
func (c *Claim) ApplyVouch(supports bool, weight, stake uint64) error {
	if weight > ^uint64(0)-c.TotalFor-c.TotalAgainst {
		return dErrors.New(dErrors.CodeInvalidState, "vote tally overflow")
	}
	if c.TotalStake > ^uint64(0)-stake {
		return dErrors.New(dErrors.CodeInvalidState, "stake tally overflow")
	}
	if supports {
		c.TotalFor += weight
	} else {
		c.TotalAgainst += weight
	}
	c.TotalStake += stake
	c.VouchCount++
	return nil
}

// ForShareBps returns the FOR share of cast weight in basis points. Zero when
// nothing has been cast.
func (c *Claim) ForShareBps() uint16 {
	total := c.TotalFor + c.TotalAgainst
	if total == 0 {
		return 0
	}
	share := MulDiv(governance.BasisPoints, c.TotalFor, total)
	if share > governance.BasisPoints {
		share = governance.BasisPoints
	}
	return uint16(share)
}

// MulDiv returns a*b/den through a 128-bit intermediate, so share and slash
// arithmetic stays exact for any uint64 stake. Callers keep b <= den; the
// quotient then fits in 64 bits.
func MulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	quot, _ := bits.Div64(hi, lo, den)
	return quot
}

// Outcome evaluates the threshold against the current tallies. A claim with
// no cast weight is never decided: thresholds only bind once someone votes.
// Approved when the FOR share meets the threshold; rejected when the AGAINST
// share meets it symmetrically.
func (c *Claim) Outcome(thresholdBps uint16) (approved, decided bool) {
	if c.Status != StatusActive {
		return false, false
	}
	if c.TotalFor+c.TotalAgainst == 0 {
		return false, false
	}
	share := c.ForShareBps()
	if share >= thresholdBps {
		return true, true
	}
	if share <= governance.BasisPoints-thresholdBps {
		return false, true
	}
	return false, false
}

// ApplyResolution freezes the claim at a terminal status.
func (c *Claim) ApplyResolution(status ClaimStatus, now time.Time) {
	c.Status = status
	resolvedAt := now
	c.ResolvedAt = &resolvedAt
}
