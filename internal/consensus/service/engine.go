// Package service implements the consensus engine: claim creation, weighted
// vouching, threshold evaluation, and resolution economics. Every operation
// reads parameters and time from one governance snapshot, and all writes to a
// claim happen under that claim's lock, so a claim reaches exactly one
// terminal status no matter how vouches and the expiry sweeper interleave.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	consensusmetrics "knomee/internal/consensus/metrics"
	"knomee/internal/consensus/models"
	govservice "knomee/internal/governance/service"
	identitymodels "knomee/internal/identity/models"
	"knomee/internal/ledger"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	audit "knomee/pkg/platform/audit"
	"knomee/pkg/platform/sentinel"
	"knomee/pkg/requestcontext"
)

// ClaimStore persists claims.
type ClaimStore interface {
	Create(ctx context.Context, claim *models.Claim) error
	Get(ctx context.Context, id domain.ClaimID) (*models.Claim, error)
	Update(ctx context.Context, claim *models.Claim) error
	ListByStatus(ctx context.Context, status models.ClaimStatus, limit int) ([]*models.Claim, error)
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.Claim, error)
}

// VouchStore persists vouches, one per (claim, voucher).
type VouchStore interface {
	Create(ctx context.Context, vouch *models.Vouch) error
	Get(ctx context.Context, claimID domain.ClaimID, voucher domain.Address) (*models.Vouch, error)
	Update(ctx context.Context, vouch *models.Vouch) error
	ListByClaim(ctx context.Context, claimID domain.ClaimID) ([]*models.Vouch, error)
}

// IdentityRegistry is the tier state machine the engine drives from
// resolutions.
type IdentityRegistry interface {
	GetOrCreate(ctx context.Context, addr domain.Address, now time.Time) (*identitymodels.Identity, error)
	PromoteToLinked(ctx context.Context, subject, anchor domain.Address, platform, justification string, maxLinked int, now time.Time) (*identitymodels.Identity, error)
	PromoteToVerified(ctx context.Context, subject domain.Address, now time.Time) (*identitymodels.Identity, error)
	DemoteWithCascade(ctx context.Context, subject domain.Address, reason string, now time.Time) (int, error)
	MarkChallenged(ctx context.Context, subject, related domain.Address, claimID domain.ClaimID, now time.Time) error
	ClearChallenge(ctx context.Context, subject, related domain.Address, claimID domain.ClaimID, now time.Time) error
	RecordFailedClaim(ctx context.Context, subject domain.Address, now time.Time) error
	RecordVouchReceived(ctx context.Context, subject domain.Address, stake uint64, now time.Time) error
}

// Governance supplies parameters and governance time.
type Governance interface {
	Snapshot(ctx context.Context) (govservice.Snapshot, error)
}

// AuditPublisher records engine actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Engine orchestrates the claim lifecycle.
type Engine struct {
	claims     ClaimStore
	vouches    VouchStore
	registry   IdentityRegistry
	governance Governance
	stake      ledger.StakeLedger

	// One mutex per claim, created on first touch and kept for the claim's
	// lifetime so reward pulls after resolution stay serialized.
	locks sync.Map

	tracer         trace.Tracer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *consensusmetrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(e *Engine) { e.auditPublisher = publisher }
}

func WithMetrics(m *consensusmetrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs an Engine.
func NewEngine(claims ClaimStore, vouches VouchStore, registry IdentityRegistry, governance Governance, stake ledger.StakeLedger, opts ...Option) *Engine {
	e := &Engine{
		claims:     claims,
		vouches:    vouches,
		registry:   registry,
		governance: governance,
		stake:      stake,
		tracer:     otel.Tracer("knomee/consensus"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestLinkToPrimary opens a LinkToPrimary claim: subject asks to be bound
// as a secondary account under anchor. The subject escrows the stake and
// self-vouches FOR at its current tier weight.
func (e *Engine) RequestLinkToPrimary(ctx context.Context, subject, anchor domain.Address, platform, justification string, stake uint64) (*models.Claim, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.RequestLinkToPrimary")
	defer span.End()

	snap, err := e.governance.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if anchor == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "anchor is required")
	}
	if subject == anchor {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "cannot link an address to itself")
	}
	platform, err = identitymodels.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	justification, err = models.ValidateJustification(models.ClaimLinkToPrimary, justification)
	if err != nil {
		return nil, err
	}

	subjectIdentity, err := e.registry.GetOrCreate(ctx, subject, snap.Now)
	if err != nil {
		return nil, err
	}
	if err := subjectIdentity.CanRequestClaim(snap.Now, models.ClaimLinkToPrimary.Cooldown(snap.Params)); err != nil {
		return nil, err
	}
	if err := subjectIdentity.CanPromoteToLinked(); err != nil {
		return nil, err
	}
	anchorIdentity, err := e.registry.GetOrCreate(ctx, anchor, snap.Now)
	if err != nil {
		return nil, err
	}
	if !anchorIdentity.Tier.AtLeastVerified() {
		return nil, dErrors.New(dErrors.CodeIneligible, "anchor must be a verified identity")
	}

	return e.openClaim(ctx, snap, models.ClaimLinkToPrimary, subject, anchor, subjectIdentity, platform, justification, stake)
}

// RequestVerification opens a NewPrimary claim: subject asks to be verified
// as a unique person.
func (e *Engine) RequestVerification(ctx context.Context, subject domain.Address, justification string, stake uint64) (*models.Claim, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.RequestVerification")
	defer span.End()

	snap, err := e.governance.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	justification, err = models.ValidateJustification(models.ClaimNewPrimary, justification)
	if err != nil {
		return nil, err
	}

	subjectIdentity, err := e.registry.GetOrCreate(ctx, subject, snap.Now)
	if err != nil {
		return nil, err
	}
	if err := subjectIdentity.CanRequestClaim(snap.Now, models.ClaimNewPrimary.Cooldown(snap.Params)); err != nil {
		return nil, err
	}
	if err := subjectIdentity.CanPromoteToVerified(); err != nil {
		return nil, err
	}

	return e.openClaim(ctx, snap, models.ClaimNewPrimary, subject, "", subjectIdentity, "", justification, stake)
}

// ChallengeDuplicate opens a DuplicateFlag claim accusing first and second of
// being the same person. Both accused are flagged for the claim's lifetime;
// the accuser escrows the stake and self-vouches FOR.
func (e *Engine) ChallengeDuplicate(ctx context.Context, accuser, first, second domain.Address, evidence string, stake uint64) (*models.Claim, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.ChallengeDuplicate")
	defer span.End()

	snap, err := e.governance.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if first == second {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "duplicate flag needs two distinct addresses")
	}
	if accuser == first || accuser == second {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "cannot accuse yourself")
	}
	evidence, err = models.ValidateJustification(models.ClaimDuplicateFlag, evidence)
	if err != nil {
		return nil, err
	}

	accuserIdentity, err := e.registry.GetOrCreate(ctx, accuser, snap.Now)
	if err != nil {
		return nil, err
	}
	if err := accuserIdentity.CanRequestClaim(snap.Now, models.ClaimDuplicateFlag.Cooldown(snap.Params)); err != nil {
		return nil, err
	}

	required := models.ClaimDuplicateFlag.RequiredStake(snap.Params)
	if stake < required {
		return nil, dErrors.Newf(dErrors.CodeInsufficientStake, "stake %d below required %d", stake, required)
	}

	if err := e.debit(ctx, accuser, stake); err != nil {
		return nil, err
	}

	claim := models.NewClaim(models.ClaimDuplicateFlag, first, second, accuser, "", evidence, snap.Now, snap.Params.ClaimExpiry)
	if err := e.registry.MarkChallenged(ctx, first, second, claim.ID, snap.Now); err != nil {
		e.refund(ctx, accuser, stake)
		return nil, err
	}
	if err := e.storeNewClaim(ctx, snap, claim, accuserIdentity, stake); err != nil {
		if clearErr := e.registry.ClearChallenge(ctx, first, second, claim.ID, snap.Now); clearErr != nil {
			e.logWarn(ctx, "challenge rollback failed", "claim_id", claim.ID, "error", clearErr)
		}
		e.refund(ctx, accuser, stake)
		return nil, err
	}

	e.recordClaimOpened(ctx, claim, stake)
	return claim, nil
}

// CastVouch records a weighted, staked vote and re-checks the threshold. A
// vote that pushes either share past its band resolves the claim immediately.
func (e *Engine) CastVouch(ctx context.Context, voucher domain.Address, claimID domain.ClaimID, supports bool, stake uint64) (*models.Claim, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.CastVouch",
		trace.WithAttributes(attribute.String("claim_id", claimID.String())))
	defer span.End()

	snap, err := e.governance.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	unlock := e.lockClaim(claimID)
	defer unlock()

	claim, err := e.getClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status == models.StatusActive && claim.IsExpired(snap.Now) {
		if err := e.resolve(ctx, claim, models.StatusExpired, snap); err != nil {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeInvalidState, "claim has expired")
	}
	if err := claim.CanVouch(); err != nil {
		return nil, err
	}

	identity, err := e.registry.GetOrCreate(ctx, voucher, snap.Now)
	if err != nil {
		return nil, err
	}
	if !identity.Tier.CanVote() {
		return nil, dErrors.New(dErrors.CodeIneligible, "only verified identities can vouch")
	}
	if identity.UnderChallenge && identity.ChallengeClaimID != claimID {
		return nil, dErrors.New(dErrors.CodeIneligible, "address is under duplicate challenge")
	}

	if _, err := e.vouches.Get(ctx, claimID, voucher); err == nil {
		return nil, dErrors.New(dErrors.CodeAlreadyActed, "already vouched on this claim")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for an existing vouch")
	}

	if stake < snap.Params.MinStake {
		return nil, dErrors.Newf(dErrors.CodeInsufficientStake, "stake %d below required %d", stake, snap.Params.MinStake)
	}

	weight := identity.Tier.VoteWeight(snap.Params.VerifiedVoteWeight, snap.Params.OracleVoteWeight)
	vouch := models.NewVouch(claimID, voucher, supports, weight, stake, snap.Now)
	if err := claim.ApplyVouch(supports, vouch.WeightedVote(), stake); err != nil {
		return nil, err
	}

	if err := e.debit(ctx, voucher, stake); err != nil {
		return nil, err
	}
	if err := e.vouches.Create(ctx, vouch); err != nil {
		e.refund(ctx, voucher, stake)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeAlreadyActed, "already vouched on this claim")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vouch")
	}
	if err := e.claims.Update(ctx, claim); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update claim tallies")
	}
	if err := e.registry.RecordVouchReceived(ctx, claim.Subject, stake, snap.Now); err != nil {
		e.logWarn(ctx, "vouch tally update failed", "subject", claim.Subject, "error", err)
	}

	if e.metrics != nil {
		e.metrics.VouchesCast.Inc()
		e.metrics.StakeEscrowed.Add(float64(stake))
	}
	side := "against"
	if supports {
		side = "for"
	}
	e.emit(ctx, audit.Event{
		Timestamp: snap.Now,
		Subject:   claim.Subject,
		Actor:     voucher,
		Action:    string(audit.EventVouchCast),
		ClaimID:   claimID.String(),
		Amount:    stake,
		Outcome:   side,
	})

	if approved, decided := claim.Outcome(claim.Type.ThresholdBps(snap.Params)); decided {
		status := models.StatusRejected
		if approved {
			status = models.StatusApproved
		}
		if err := e.resolve(ctx, claim, status, snap); err != nil {
			return nil, err
		}
	}
	return claim, nil
}

// ClaimRewards transfers the voucher's resolution payout. The first call pays
// out and returns the amount; every later call is a no-op returning zero.
func (e *Engine) ClaimRewards(ctx context.Context, claimID domain.ClaimID, voucher domain.Address) (uint64, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.ClaimRewards",
		trace.WithAttributes(attribute.String("claim_id", claimID.String())))
	defer span.End()

	snap, err := e.governance.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	unlock := e.lockClaim(claimID)
	defer unlock()

	claim, err := e.getClaim(ctx, claimID)
	if err != nil {
		return 0, err
	}
	if !claim.Status.IsTerminal() {
		return 0, dErrors.New(dErrors.CodeInvalidState, "claim has not resolved")
	}

	vouch, err := e.vouches.Get(ctx, claimID, voucher)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "no vouch by this address")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load vouch")
	}
	if vouch.RewardsClaimed {
		return 0, nil
	}

	if vouch.Payout > 0 {
		if err := e.credit(ctx, voucher, vouch.Payout); err != nil {
			return 0, err
		}
	}
	vouch.RewardsClaimed = true
	if err := e.vouches.Update(ctx, vouch); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark rewards claimed")
	}

	e.emit(ctx, audit.Event{
		Timestamp: snap.Now,
		Subject:   voucher,
		Action:    string(audit.EventRewardClaimed),
		ClaimID:   claimID.String(),
		Amount:    vouch.Payout,
	})
	return vouch.Payout, nil
}

// GetClaim returns a claim with its vouches.
func (e *Engine) GetClaim(ctx context.Context, claimID domain.ClaimID) (*models.Claim, []*models.Vouch, error) {
	claim, err := e.getClaim(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}
	vouches, err := e.vouches.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load vouches")
	}
	return claim, vouches, nil
}

// ListClaims returns claims in the given status, newest first.
func (e *Engine) ListClaims(ctx context.Context, status models.ClaimStatus, limit int) ([]*models.Claim, error) {
	claims, err := e.claims.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return claims, nil
}

// SweepExpired resolves claims whose voting window has closed. Returns the
// number swept; a claim that fails to resolve is logged and retried on the
// next sweep.
func (e *Engine) SweepExpired(ctx context.Context, limit int) (int, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.SweepExpired")
	defer span.End()

	snap, err := e.governance.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	expired, err := e.claims.ListExpired(ctx, snap.Now, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired claims")
	}

	swept := 0
	for _, stale := range expired {
		if err := e.expireClaim(ctx, stale.ID, snap); err != nil {
			e.logWarn(ctx, "expiry sweep failed for claim", "claim_id", stale.ID, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (e *Engine) expireClaim(ctx context.Context, claimID domain.ClaimID, snap govservice.Snapshot) error {
	unlock := e.lockClaim(claimID)
	defer unlock()

	// Re-read under the lock; a concurrent vouch may have resolved it.
	claim, err := e.getClaim(ctx, claimID)
	if err != nil {
		return err
	}
	if claim.Status != models.StatusActive || !claim.IsExpired(snap.Now) {
		return nil
	}
	return e.resolve(ctx, claim, models.StatusExpired, snap)
}

// openClaim escrows the stake, opens the claim, and records the requester's
// implicit FOR vouch at its current tier weight. Creation never evaluates the
// threshold; resolution waits for at least one explicit vote.
func (e *Engine) openClaim(ctx context.Context, snap govservice.Snapshot, claimType models.ClaimType, subject, related domain.Address, requester *identitymodels.Identity, platform, justification string, stake uint64) (*models.Claim, error) {
	required := claimType.RequiredStake(snap.Params)
	if stake < required {
		return nil, dErrors.Newf(dErrors.CodeInsufficientStake, "stake %d below required %d", stake, required)
	}

	if err := e.debit(ctx, requester.Address, stake); err != nil {
		return nil, err
	}

	claim := models.NewClaim(claimType, subject, related, requester.Address, platform, justification, snap.Now, snap.Params.ClaimExpiry)
	if err := e.storeNewClaim(ctx, snap, claim, requester, stake); err != nil {
		e.refund(ctx, requester.Address, stake)
		return nil, err
	}

	e.recordClaimOpened(ctx, claim, stake)
	return claim, nil
}

func (e *Engine) storeNewClaim(ctx context.Context, snap govservice.Snapshot, claim *models.Claim, requester *identitymodels.Identity, stake uint64) error {
	// The implicit self-vouch carries at least the base verified weight.
	// With a zero-weight self-vouch the first external voter would always
	// hold 100% of cast weight and decide every claim alone.
	weight := requester.Tier.VoteWeight(snap.Params.VerifiedVoteWeight, snap.Params.OracleVoteWeight)
	if weight == 0 {
		weight = snap.Params.VerifiedVoteWeight
	}
	selfVouch := models.NewVouch(claim.ID, requester.Address, true, weight, stake, snap.Now)
	if err := claim.ApplyVouch(true, selfVouch.WeightedVote(), stake); err != nil {
		return err
	}
	if err := e.claims.Create(ctx, claim); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create claim")
	}
	if err := e.vouches.Create(ctx, selfVouch); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record requester vouch")
	}
	if err := e.registry.RecordVouchReceived(ctx, claim.Subject, stake, snap.Now); err != nil {
		e.logWarn(ctx, "vouch tally update failed", "subject", claim.Subject, "error", err)
	}
	return nil
}

func (e *Engine) recordClaimOpened(ctx context.Context, claim *models.Claim, stake uint64) {
	if e.metrics != nil {
		e.metrics.IncrementClaim(string(claim.Type))
		e.metrics.StakeEscrowed.Add(float64(stake))
	}
	e.emit(ctx, audit.Event{
		Timestamp: claim.CreatedAt,
		Subject:   claim.Subject,
		Actor:     claim.Requester,
		Action:    string(audit.EventClaimCreated),
		ClaimID:   claim.ID.String(),
		Amount:    stake,
		Outcome:   string(claim.Type),
	})
	e.logInfo(ctx, "claim opened",
		"claim_id", claim.ID,
		"type", claim.Type,
		"subject", claim.Subject,
		"requester", claim.Requester,
		"stake", stake,
	)
}

func (e *Engine) getClaim(ctx context.Context, claimID domain.ClaimID) (*models.Claim, error) {
	claim, err := e.claims.Get(ctx, claimID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}
	return claim, nil
}

func (e *Engine) lockClaim(claimID domain.ClaimID) func() {
	v, _ := e.locks.LoadOrStore(claimID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) debit(ctx context.Context, addr domain.Address, amount uint64) error {
	err := e.stake.Debit(ctx, addr, amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInsufficientBalance):
		return dErrors.Wrap(err, dErrors.CodeInsufficientStake, "balance cannot cover the stake")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "stake ledger unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeLedger, "stake debit failed")
	}
}

func (e *Engine) credit(ctx context.Context, addr domain.Address, amount uint64) error {
	err := e.stake.Credit(ctx, addr, amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "stake ledger unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeLedger, "stake credit failed")
	}
}

// refund returns an escrowed stake after a failed creation. A refund that
// fails itself is logged loudly; the stake stays in escrow for manual action.
func (e *Engine) refund(ctx context.Context, addr domain.Address, amount uint64) {
	if err := e.stake.Credit(ctx, addr, amount); err != nil {
		e.logError(ctx, "stake refund failed", "address", addr, "amount", amount, "error", err)
	}
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if e.auditPublisher != nil {
		event.RequestID = requestcontext.RequestID(ctx)
		_ = e.auditPublisher.Emit(ctx, event)
	}
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.InfoContext(ctx, msg, args...)
	}
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.WarnContext(ctx, msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.ErrorContext(ctx, msg, args...)
	}
}
