// Package service implements the identity tier registry: the state machine
// for tiers, account links, challenge flags, and cascade demotions. Mutations
// come only from consensus resolutions or explicit governance action; there
// is no self-service tier change.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	identitymetrics "knomee/internal/identity/metrics"
	"knomee/internal/identity/models"
	"knomee/internal/ledger"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	audit "knomee/pkg/platform/audit"
	"knomee/pkg/platform/sentinel"
	"knomee/pkg/requestcontext"
)

// IdentityStore persists identities and link records.
type IdentityStore interface {
	Get(ctx context.Context, addr domain.Address) (*models.Identity, error)
	GetOrCreate(ctx context.Context, addr domain.Address, now time.Time) (*models.Identity, error)
	Execute(ctx context.Context, addr domain.Address, now time.Time, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error)
	ExecutePair(ctx context.Context, first, second domain.Address, now time.Time, validate func(first, second *models.Identity) error, mutate func(first, second *models.Identity)) error
	DemoteWithCascade(ctx context.Context, addr domain.Address, now time.Time) (*models.Identity, []domain.Address, error)
	AddLink(ctx context.Context, link models.LinkedPlatform) error
	LinksOf(ctx context.Context, addr domain.Address) ([]models.LinkedPlatform, error)
}

// AuditPublisher records registry actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Registry orchestrates identity tier transitions.
type Registry struct {
	identities     IdentityStore
	ownership      ledger.OwnershipRecord
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *identitymetrics.Metrics
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Registry) { r.auditPublisher = publisher }
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithOwnershipRecord mirrors tier changes into the external soul-bound
// record. Optional; dev deployments run without one.
func WithOwnershipRecord(ownership ledger.OwnershipRecord) Option {
	return func(r *Registry) { r.ownership = ownership }
}

// NewRegistry constructs a Registry.
func NewRegistry(identities IdentityStore, opts ...Option) *Registry {
	r := &Registry{identities: identities}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns an identity with its link records.
func (r *Registry) Get(ctx context.Context, addr domain.Address) (*models.Identity, []models.LinkedPlatform, error) {
	identity, err := r.identities.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	links, err := r.identities.LinksOf(ctx, addr)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link records")
	}
	return identity, links, nil
}

// GetOrCreate returns addr's identity, creating an Unverified one if absent.
func (r *Registry) GetOrCreate(ctx context.Context, addr domain.Address, now time.Time) (*models.Identity, error) {
	identity, err := r.identities.GetOrCreate(ctx, addr, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

// PromoteToLinked binds subject under anchor after an approved link claim.
// The anchor must be Verified or Oracle and below its linked-account cap.
func (r *Registry) PromoteToLinked(ctx context.Context, subject, anchor domain.Address, platform, justification string, maxLinked int, now time.Time) (*models.Identity, error) {
	if subject == anchor {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "cannot link an address to itself")
	}

	var linked *models.Identity
	err := r.identities.ExecutePair(ctx, subject, anchor, now,
		func(s, a *models.Identity) error {
			if err := s.CanPromoteToLinked(); err != nil {
				return err
			}
			if !a.Tier.AtLeastVerified() {
				return dErrors.New(dErrors.CodeIneligible, "anchor must be a verified identity")
			}
			if a.LinkedCount >= maxLinked {
				return dErrors.New(dErrors.CodeIneligible, "anchor reached its linked account cap")
			}
			return nil
		},
		func(s, a *models.Identity) {
			s.ApplyLink(anchor, now)
			a.LinkedCount++
			a.UpdatedAt = now
			cloned := *s
			linked = &cloned
		},
	)
	if err != nil {
		return nil, err
	}

	if err := r.identities.AddLink(ctx, models.LinkedPlatform{
		Anchor:        anchor,
		Linked:        subject,
		Platform:      platform,
		Justification: justification,
		LinkedAt:      now,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record link")
	}

	r.syncTier(ctx, subject, models.TierLinked)
	r.incrementPromotion(models.TierLinked)
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   subject,
		Action:    string(audit.EventIdentityPromoted),
		Outcome:   string(models.TierLinked),
		Reason:    platform,
	})
	return linked, nil
}

// PromoteToVerified promotes subject after an approved verification claim.
// A linked subject leaves its anchor; the anchor's live count drops by one.
func (r *Registry) PromoteToVerified(ctx context.Context, subject domain.Address, now time.Time) (*models.Identity, error) {
	current, err := r.identities.GetOrCreate(ctx, subject, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	var verified *models.Identity
	if current.Anchor != "" {
		err = r.identities.ExecutePair(ctx, subject, current.Anchor, now,
			func(s, a *models.Identity) error { return s.CanPromoteToVerified() },
			func(s, a *models.Identity) {
				s.ApplyVerified(now)
				if a.LinkedCount > 0 {
					a.LinkedCount--
				}
				a.UpdatedAt = now
				cloned := *s
				verified = &cloned
			},
		)
	} else {
		verified, err = r.identities.Execute(ctx, subject, now,
			func(i *models.Identity) error { return i.CanPromoteToVerified() },
			func(i *models.Identity) { i.ApplyVerified(now) },
		)
	}
	if err != nil {
		return nil, err
	}

	r.syncTier(ctx, subject, models.TierVerified)
	r.incrementPromotion(models.TierVerified)
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   subject,
		Action:    string(audit.EventIdentityPromoted),
		Outcome:   string(models.TierVerified),
	})
	return verified, nil
}

// GrantOracle promotes a Verified identity to Oracle. Governance only; the
// caller is checked by the handler against the governance authority.
func (r *Registry) GrantOracle(ctx context.Context, subject domain.Address, now time.Time) (*models.Identity, error) {
	identity, err := r.identities.Execute(ctx, subject, now,
		func(i *models.Identity) error { return i.CanPromoteToOracle() },
		func(i *models.Identity) { i.ApplyOracle(now) },
	)
	if err != nil {
		return nil, err
	}

	r.syncTier(ctx, subject, models.TierOracle)
	r.incrementPromotion(models.TierOracle)
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   subject,
		Action:    string(audit.EventOracleGranted),
		Outcome:   string(models.TierOracle),
	})
	return identity, nil
}

// DemoteWithCascade resets subject to Unverified and every identity anchored
// to it in one atomic step. Returns the number of cascaded resets.
func (r *Registry) DemoteWithCascade(ctx context.Context, subject domain.Address, reason string, now time.Time) (int, error) {
	_, reset, err := r.identities.DemoteWithCascade(ctx, subject, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to demote identity")
	}

	r.syncTier(ctx, subject, models.TierUnverified)
	for _, linked := range reset {
		r.syncTier(ctx, linked, models.TierUnverified)
	}

	if r.metrics != nil {
		r.metrics.Demotions.Inc()
		r.metrics.CascadeResets.Add(float64(len(reset)))
	}
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   subject,
		Action:    string(audit.EventIdentityDemoted),
		Outcome:   string(models.TierUnverified),
		Reason:    reason,
	})
	for _, linked := range reset {
		r.emit(ctx, audit.Event{
			Timestamp: now,
			Subject:   linked,
			Action:    string(audit.EventIdentityDemoted),
			Outcome:   string(models.TierUnverified),
			Reason:    "anchor demoted",
		})
	}

	r.logInfo(ctx, "identity demoted with cascade", "subject", subject, "cascade_resets", len(reset))
	return len(reset), nil
}

// MarkChallenged flags both accused identities while a duplicate claim runs.
// Both must be Verified or Oracle and not already under challenge.
func (r *Registry) MarkChallenged(ctx context.Context, subject, related domain.Address, claimID domain.ClaimID, now time.Time) error {
	err := r.identities.ExecutePair(ctx, subject, related, now,
		func(s, rel *models.Identity) error {
			if !s.Tier.AtLeastVerified() || !rel.Tier.AtLeastVerified() {
				return dErrors.New(dErrors.CodeIneligible, "both accused addresses must be verified identities")
			}
			if s.UnderChallenge || rel.UnderChallenge {
				return dErrors.New(dErrors.CodeConflict, "an accused address is already under challenge")
			}
			return nil
		},
		func(s, rel *models.Identity) {
			s.MarkChallenged(claimID, now)
			rel.MarkChallenged(claimID, now)
		},
	)
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.ChallengesOpen.Add(2)
	}
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   subject,
		Action:    string(audit.EventIdentityChallenged),
		ClaimID:   claimID.String(),
	})
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   related,
		Action:    string(audit.EventIdentityChallenged),
		ClaimID:   claimID.String(),
	})
	return nil
}

// ClearChallenge removes the challenge flag from both accused identities
// after the duplicate claim reaches a terminal status.
func (r *Registry) ClearChallenge(ctx context.Context, subject, related domain.Address, claimID domain.ClaimID, now time.Time) error {
	err := r.identities.ExecutePair(ctx, subject, related, now,
		func(s, rel *models.Identity) error { return nil },
		func(s, rel *models.Identity) {
			s.ClearChallenge(now)
			rel.ClearChallenge(now)
		},
	)
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.ChallengesOpen.Sub(2)
	}
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   subject,
		Action:    string(audit.EventChallengeCleared),
		ClaimID:   claimID.String(),
	})
	r.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   related,
		Action:    string(audit.EventChallengeCleared),
		ClaimID:   claimID.String(),
	})
	return nil
}

// RecordFailedClaim starts the subject's cooldown window.
func (r *Registry) RecordFailedClaim(ctx context.Context, subject domain.Address, now time.Time) error {
	_, err := r.identities.Execute(ctx, subject, now,
		func(i *models.Identity) error { return nil },
		func(i *models.Identity) { i.RecordFailedClaim(now) },
	)
	return err
}

// RecordVouchReceived accumulates the subject's lifetime vouch tallies.
func (r *Registry) RecordVouchReceived(ctx context.Context, subject domain.Address, stake uint64, now time.Time) error {
	_, err := r.identities.Execute(ctx, subject, now,
		func(i *models.Identity) error { return nil },
		func(i *models.Identity) { i.RecordVouchReceived(stake, now) },
	)
	return err
}

func (r *Registry) syncTier(ctx context.Context, addr domain.Address, tier models.Tier) {
	if r.ownership == nil {
		return
	}
	if err := r.ownership.SetTier(ctx, addr, string(tier)); err != nil {
		r.logWarn(ctx, "ownership record sync failed", "address", addr, "tier", tier, "error", err)
	}
}

func (r *Registry) incrementPromotion(tier models.Tier) {
	if r.metrics != nil {
		r.metrics.IncrementPromotion(string(tier))
	}
}

func (r *Registry) emit(ctx context.Context, event audit.Event) {
	if r.auditPublisher != nil {
		event.RequestID = requestcontext.RequestID(ctx)
		_ = r.auditPublisher.Emit(ctx, event)
	}
}

func (r *Registry) logInfo(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.InfoContext(ctx, msg, args...)
	}
}

func (r *Registry) logWarn(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.WarnContext(ctx, msg, args...)
	}
}
