package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"knomee/internal/identity/models"
	"knomee/internal/identity/service"
	identitystore "knomee/internal/identity/store/identity"
	"knomee/internal/ledger"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	audit "knomee/pkg/platform/audit"
	auditmemory "knomee/pkg/platform/audit/store/memory"
	"knomee/pkg/platform/audit/publisher"
)

const maxLinked = 64

type RegistrySuite struct {
	suite.Suite

	ctx        context.Context
	now        time.Time
	store      *identitystore.InMemoryStore
	ownership  *ledger.InMemoryOwnership
	auditStore *auditmemory.InMemoryStore
	registry   *service.Registry
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s.store = identitystore.NewInMemory()
	s.ownership = ledger.NewInMemoryOwnership()
	s.auditStore = auditmemory.NewInMemoryStore()

	s.registry = service.NewRegistry(s.store,
		service.WithOwnershipRecord(s.ownership),
		service.WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) verify(addr domain.Address) {
	_, err := s.registry.PromoteToVerified(s.ctx, addr, s.now)
	s.Require().NoError(err)
}

func (s *RegistrySuite) TestPromoteToVerified() {
	identity, err := s.registry.PromoteToVerified(s.ctx, "alice", s.now)
	s.Require().NoError(err)
	s.Equal(models.TierVerified, identity.Tier)
	s.NotNil(identity.VerifiedAt)

	tier, err := s.ownership.TierOf(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("verified", tier)

	events, err := s.auditStore.ListBySubject(s.ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventIdentityPromoted), events[0].Action)
}

func (s *RegistrySuite) TestPromoteToVerifiedTwiceFails() {
	s.verify("alice")

	_, err := s.registry.PromoteToVerified(s.ctx, "alice", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *RegistrySuite) TestPromoteToLinked() {
	s.verify("anchor")

	linked, err := s.registry.PromoteToLinked(s.ctx, "alice", "anchor", "github", "same person", maxLinked, s.now)
	s.Require().NoError(err)
	s.Equal(models.TierLinked, linked.Tier)
	s.Equal(domain.Address("anchor"), linked.Anchor)

	anchor, links, err := s.registry.Get(s.ctx, "anchor")
	s.Require().NoError(err)
	s.Equal(1, anchor.LinkedCount)
	s.Require().Len(links, 1)
	s.Equal("github", links[0].Platform)
}

func (s *RegistrySuite) TestPromoteToLinkedRequiresVerifiedAnchor() {
	_, err := s.registry.PromoteToLinked(s.ctx, "alice", "anchor", "github", "", maxLinked, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeIneligible))
}

func (s *RegistrySuite) TestPromoteToLinkedEnforcesCap() {
	s.verify("anchor")

	_, err := s.registry.PromoteToLinked(s.ctx, "alice", "anchor", "github", "", 1, s.now)
	s.Require().NoError(err)

	_, err = s.registry.PromoteToLinked(s.ctx, "bob", "anchor", "github", "", 1, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeIneligible))
}

func (s *RegistrySuite) TestPromoteToLinkedRejectsSelfLink() {
	s.verify("anchor")

	_, err := s.registry.PromoteToLinked(s.ctx, "anchor", "anchor", "github", "", maxLinked, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *RegistrySuite) TestVerifyingLinkedIdentityReleasesAnchorSlot() {
	s.verify("anchor")
	_, err := s.registry.PromoteToLinked(s.ctx, "alice", "anchor", "github", "", maxLinked, s.now)
	s.Require().NoError(err)

	identity, err := s.registry.PromoteToVerified(s.ctx, "alice", s.now)
	s.Require().NoError(err)
	s.Equal(models.TierVerified, identity.Tier)
	s.Empty(identity.Anchor)

	anchor, _, err := s.registry.Get(s.ctx, "anchor")
	s.Require().NoError(err)
	s.Zero(anchor.LinkedCount)
}

func (s *RegistrySuite) TestGrantOracleRequiresVerified() {
	_, err := s.registry.GrantOracle(s.ctx, "alice", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.verify("alice")
	identity, err := s.registry.GrantOracle(s.ctx, "alice", s.now)
	s.Require().NoError(err)
	s.Equal(models.TierOracle, identity.Tier)
	s.NotNil(identity.OracleGrantedAt)
}

func (s *RegistrySuite) TestDemoteWithCascade() {
	s.verify("anchor")
	for _, linked := range []domain.Address{"l1", "l2", "l3"} {
		_, err := s.registry.PromoteToLinked(s.ctx, linked, "anchor", "github", "", maxLinked, s.now)
		s.Require().NoError(err)
	}

	reset, err := s.registry.DemoteWithCascade(s.ctx, "anchor", "sybil detected", s.now)
	s.Require().NoError(err)
	s.Equal(3, reset)

	anchor, links, err := s.registry.Get(s.ctx, "anchor")
	s.Require().NoError(err)
	s.Equal(models.TierUnverified, anchor.Tier)
	s.Zero(anchor.LinkedCount)
	s.Empty(links, "demoted anchor must retain no link records")

	for _, linked := range []domain.Address{"l1", "l2", "l3"} {
		identity, _, err := s.registry.Get(s.ctx, linked)
		s.Require().NoError(err)
		s.Equal(models.TierUnverified, identity.Tier)

		tier, err := s.ownership.TierOf(s.ctx, linked)
		s.Require().NoError(err)
		s.Equal("unverified", tier)
	}
}

func (s *RegistrySuite) TestChallengeFlow() {
	s.verify("a")
	s.verify("b")
	claimID := domain.NewClaimID()

	s.Require().NoError(s.registry.MarkChallenged(s.ctx, "a", "b", claimID, s.now))

	a, _, err := s.registry.Get(s.ctx, "a")
	s.Require().NoError(err)
	s.True(a.UnderChallenge)
	s.Equal(claimID, a.ChallengeClaimID)

	// A second challenge against either address conflicts.
	s.verify("c")
	err = s.registry.MarkChallenged(s.ctx, "a", "c", domain.NewClaimID(), s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.Require().NoError(s.registry.ClearChallenge(s.ctx, "a", "b", claimID, s.now))
	a, _, err = s.registry.Get(s.ctx, "a")
	s.Require().NoError(err)
	s.False(a.UnderChallenge)
}

func (s *RegistrySuite) TestChallengeRequiresVerifiedPair() {
	s.verify("a")

	err := s.registry.MarkChallenged(s.ctx, "a", "ghost", domain.NewClaimID(), s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeIneligible))
}

func (s *RegistrySuite) TestVouchTallies() {
	s.Require().NoError(s.registry.RecordVouchReceived(s.ctx, "alice", 500, s.now))
	s.Require().NoError(s.registry.RecordVouchReceived(s.ctx, "alice", 700, s.now))

	identity, _, err := s.registry.Get(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(uint64(2), identity.VouchesReceived)
	s.Equal(uint64(1200), identity.StakeReceived)
}

func (s *RegistrySuite) TestCooldownBookkeeping() {
	s.Require().NoError(s.registry.RecordFailedClaim(s.ctx, "alice", s.now))

	identity, _, err := s.registry.Get(s.ctx, "alice")
	s.Require().NoError(err)
	s.Require().NotNil(identity.LastFailedClaimAt)
	s.True(identity.InCooldown(s.now.Add(time.Hour), 7*24*time.Hour))
	s.False(identity.InCooldown(s.now.Add(8*24*time.Hour), 7*24*time.Hour))
}
