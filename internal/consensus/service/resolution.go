package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"knomee/internal/consensus/models"
	governance "knomee/internal/governance/models"
	govservice "knomee/internal/governance/service"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	audit "knomee/pkg/platform/audit"
)

// settlement is the money side of one resolution. Conservation holds exactly:
// the sum of all payouts plus the burned dust equals the claim's total
// escrowed stake.
type settlement struct {
	vouches []*models.Vouch

	// slashed is everything taken from losing and accused vouches.
	slashed uint64

	// bounty is the accused forfeits on an approved duplicate flag, folded
	// into the accuser's vouch payout so it is pulled through ClaimRewards
	// like every other payout.
	bounty uint64

	// burned is integer dust the pro-rata split could not distribute.
	burned uint64
}

// settle fixes each vouch's payout for the terminal status. Expired claims
// refund everyone. Otherwise losers are slashed at the claim type's rate and
// the pool is split across winners pro rata by stake; on an approved
// duplicate flag the accused addresses' vouches are slashed at the sybil rate
// into the accuser's bounty instead.
func settle(claim *models.Claim, vouches []*models.Vouch, status models.ClaimStatus, p governance.Params) settlement {
	out := settlement{vouches: vouches}

	if status == models.StatusExpired {
		for _, v := range vouches {
			v.Payout = v.Stake
		}
		return out
	}

	accused := func(v *models.Vouch) bool {
		return status == models.StatusApproved && claim.Type == models.ClaimDuplicateFlag &&
			(v.Voucher == claim.Subject || v.Voucher == claim.Related)
	}

	var pool, winnerStake uint64
	for _, v := range vouches {
		if accused(v) {
			cut := models.MulDiv(v.Stake, uint64(p.SybilSlashBps), governance.BasisPoints)
			v.Payout = v.Stake - cut
			out.bounty += cut
			out.slashed += cut
			continue
		}
		if v.OnWinningSide(status) {
			winnerStake += v.Stake
			continue
		}
		cut := models.MulDiv(v.Stake, uint64(claim.Type.SlashBps(p, false)), governance.BasisPoints)
		v.Payout = v.Stake - cut
		pool += cut
		out.slashed += cut
	}

	var distributed uint64
	for _, v := range vouches {
		if accused(v) || !v.OnWinningSide(status) {
			continue
		}
		// Whole multiples first, then the fractional part in 128 bits; the
		// remainder is dust.
		share := pool/winnerStake*v.Stake + models.MulDiv(v.Stake, pool%winnerStake, winnerStake)
		v.Payout = v.Stake + share
		distributed += share
	}
	out.burned = pool - distributed

	if out.bounty > 0 {
		for _, v := range vouches {
			if v.Voucher == claim.Requester {
				v.Payout += out.bounty
				break
			}
		}
	}
	return out
}

// resolve moves an Active claim to its terminal status: fixes payouts
// (bounty included), burns dust, and applies the identity side effects.
// Callers hold the claim lock.
func (e *Engine) resolve(ctx context.Context, claim *models.Claim, status models.ClaimStatus, snap govservice.Snapshot) error {
	ctx, span := e.tracer.Start(ctx, "consensus.resolve",
		trace.WithAttributes(
			attribute.String("claim_id", claim.ID.String()),
			attribute.String("status", string(status)),
		))
	defer span.End()

	vouches, err := e.vouches.ListByClaim(ctx, claim.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load vouches")
	}

	plan := settle(claim, vouches, status, snap.Params)

	claim.TotalSlashed = plan.slashed
	claim.ApplyResolution(status, snap.Now)
	if err := e.claims.Update(ctx, claim); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve claim")
	}
	for _, v := range plan.vouches {
		if err := e.vouches.Update(ctx, v); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record payout")
		}
	}

	if plan.bounty > 0 {
		e.emit(ctx, audit.Event{
			Timestamp: snap.Now,
			Subject:   claim.Requester,
			Action:    string(audit.EventBountyPaid),
			ClaimID:   claim.ID.String(),
			Amount:    plan.bounty,
		})
	}
	if plan.burned > 0 {
		if err := e.stake.Burn(ctx, plan.burned); err != nil {
			return dErrors.Wrap(err, dErrors.CodeLedger, "dust burn failed")
		}
		e.emit(ctx, audit.Event{
			Timestamp: snap.Now,
			Subject:   claim.Subject,
			Action:    string(audit.EventStakeBurned),
			ClaimID:   claim.ID.String(),
			Amount:    plan.burned,
		})
	}
	if plan.slashed > 0 {
		e.emit(ctx, audit.Event{
			Timestamp: snap.Now,
			Subject:   claim.Subject,
			Action:    string(audit.EventStakeSlashed),
			ClaimID:   claim.ID.String(),
			Amount:    plan.slashed,
		})
	}

	e.applyOutcome(ctx, claim, status, snap)

	action := audit.EventClaimResolved
	if status == models.StatusExpired {
		action = audit.EventClaimExpired
	}
	e.emit(ctx, audit.Event{
		Timestamp: snap.Now,
		Subject:   claim.Subject,
		Action:    string(action),
		ClaimID:   claim.ID.String(),
		Outcome:   string(status),
	})
	if e.metrics != nil {
		e.metrics.IncrementResolution(string(status))
		e.metrics.StakeSlashed.Add(float64(plan.slashed))
		e.metrics.StakeBurned.Add(float64(plan.burned))
	}
	e.logInfo(ctx, "claim resolved",
		"claim_id", claim.ID,
		"type", claim.Type,
		"status", status,
		"for", claim.TotalFor,
		"against", claim.TotalAgainst,
		"slashed", plan.slashed,
	)
	return nil
}

// applyOutcome runs the identity and reward side effects of a terminal
// status. Side-effect failures are logged and the claim stays resolved: the
// economic settlement is the source of truth, tier state converges on retry
// paths (a re-requested claim, a governance correction).
func (e *Engine) applyOutcome(ctx context.Context, claim *models.Claim, status models.ClaimStatus, snap govservice.Snapshot) {
	now := snap.Now

	if claim.Type == models.ClaimDuplicateFlag {
		if err := e.registry.ClearChallenge(ctx, claim.Subject, claim.Related, claim.ID, now); err != nil {
			e.logWarn(ctx, "challenge clear failed", "claim_id", claim.ID, "error", err)
		}
	}

	switch {
	case status == models.StatusApproved && claim.Type == models.ClaimLinkToPrimary:
		if _, err := e.registry.PromoteToLinked(ctx, claim.Subject, claim.Related, claim.Platform, claim.Justification, snap.Params.MaxLinkedAccounts, now); err != nil {
			e.logWarn(ctx, "link promotion failed", "claim_id", claim.ID, "subject", claim.Subject, "error", err)
		}

	case status == models.StatusApproved && claim.Type == models.ClaimNewPrimary:
		if _, err := e.registry.PromoteToVerified(ctx, claim.Subject, now); err != nil {
			e.logWarn(ctx, "verification promotion failed", "claim_id", claim.ID, "subject", claim.Subject, "error", err)
			return
		}
		reward := snap.Params.VerificationReward
		if snap.InBootstrapWindow() {
			reward *= snap.Params.EarlyAdopterMultiplier
		}
		if reward > 0 {
			if err := e.credit(ctx, claim.Subject, reward); err != nil {
				e.logWarn(ctx, "verification reward failed", "claim_id", claim.ID, "subject", claim.Subject, "error", err)
				return
			}
			e.emit(ctx, audit.Event{
				Timestamp: now,
				Subject:   claim.Subject,
				Action:    string(audit.EventRewardMinted),
				ClaimID:   claim.ID.String(),
				Amount:    reward,
			})
		}

	case status == models.StatusApproved && claim.Type == models.ClaimDuplicateFlag:
		for _, accused := range []domain.Address{claim.Subject, claim.Related} {
			if _, err := e.registry.DemoteWithCascade(ctx, accused, "duplicate identity confirmed", now); err != nil {
				e.logWarn(ctx, "duplicate demotion failed", "claim_id", claim.ID, "subject", accused, "error", err)
			}
			if err := e.registry.RecordFailedClaim(ctx, accused, now); err != nil {
				e.logWarn(ctx, "cooldown record failed", "claim_id", claim.ID, "subject", accused, "error", err)
			}
		}

	case status == models.StatusRejected, status == models.StatusExpired:
		if err := e.registry.RecordFailedClaim(ctx, claim.Requester, now); err != nil {
			e.logWarn(ctx, "cooldown record failed", "claim_id", claim.ID, "requester", claim.Requester, "error", err)
		}
	}
}
