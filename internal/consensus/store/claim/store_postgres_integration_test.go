//go:build integration

package claim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"knomee/internal/consensus/models"
	claimstore "knomee/internal/consensus/store/claim"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
	"knomee/pkg/testutil/containers"
)

type PostgresClaimSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *claimstore.PostgresStore
}

func TestPostgresClaimSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresClaimSuite))
}

func (s *PostgresClaimSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = claimstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresClaimSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "claims")
	s.Require().NoError(err)
}

func (s *PostgresClaimSuite) newClaim(claimType models.ClaimType, subject domain.Address, now time.Time) *models.Claim {
	related := domain.Address("")
	platform := ""
	if claimType == models.ClaimLinkToPrimary {
		related = "anchor-addr"
		platform = "github"
	}
	if claimType == models.ClaimDuplicateFlag {
		related = "second-addr"
	}
	return models.NewClaim(claimType, subject, related, subject, platform, "justified", now, 30*24*time.Hour)
}

func (s *PostgresClaimSuite) TestCreateAndGetRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC()

	claim := s.newClaim(models.ClaimLinkToPrimary, "alice", now)
	claim.TotalFor = 10_000_000
	claim.TotalStake = 10_000_000
	claim.VouchCount = 1
	s.Require().NoError(s.store.Create(ctx, claim))

	got, err := s.store.Get(ctx, claim.ID)
	s.Require().NoError(err)
	s.Equal(claim.ID, got.ID)
	s.Equal(models.ClaimLinkToPrimary, got.Type)
	s.Equal(models.StatusActive, got.Status)
	s.Equal(domain.Address("alice"), got.Subject)
	s.Equal(domain.Address("anchor-addr"), got.Related)
	s.Equal("github", got.Platform)
	s.Equal(uint64(10_000_000), got.TotalFor)
	s.Equal(uint64(0), got.TotalAgainst)
	s.Equal(1, got.VouchCount)
	s.Nil(got.ResolvedAt)
	s.WithinDuration(claim.CreatedAt, got.CreatedAt, time.Millisecond)
	s.WithinDuration(claim.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func (s *PostgresClaimSuite) TestTalliesAboveSignedRangeRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC()

	// Past MaxInt64: a signed column would go negative.
	claim := s.newClaim(models.ClaimNewPrimary, "alice", now)
	claim.TotalFor = 18_400_000_000_000_000_000
	claim.TotalAgainst = 9_300_000_000_000_000_000
	claim.TotalStake = 18_446_744_073_709_551_615
	claim.TotalSlashed = 9_223_372_036_854_775_808
	s.Require().NoError(s.store.Create(ctx, claim))

	got, err := s.store.Get(ctx, claim.ID)
	s.Require().NoError(err)
	s.Equal(uint64(18_400_000_000_000_000_000), got.TotalFor)
	s.Equal(uint64(9_300_000_000_000_000_000), got.TotalAgainst)
	s.Equal(uint64(18_446_744_073_709_551_615), got.TotalStake)
	s.Equal(uint64(9_223_372_036_854_775_808), got.TotalSlashed)
}

func (s *PostgresClaimSuite) TestCreateDuplicateIDConflicts() {
	ctx := context.Background()
	claim := s.newClaim(models.ClaimNewPrimary, "alice", time.Now().UTC())

	s.Require().NoError(s.store.Create(ctx, claim))
	err := s.store.Create(ctx, claim)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresClaimSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), domain.NewClaimID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresClaimSuite) TestUpdatePersistsResolution() {
	ctx := context.Background()
	now := time.Now().UTC()

	claim := s.newClaim(models.ClaimNewPrimary, "alice", now)
	s.Require().NoError(s.store.Create(ctx, claim))

	resolvedAt := now.Add(time.Hour)
	claim.Status = models.StatusApproved
	claim.TotalFor = 3_000_000_000
	claim.TotalAgainst = 10_000_000
	claim.TotalStake = 40_000_000
	claim.TotalSlashed = 3_000_000
	claim.VouchCount = 2
	claim.ResolvedAt = &resolvedAt
	s.Require().NoError(s.store.Update(ctx, claim))

	got, err := s.store.Get(ctx, claim.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.Equal(uint64(3_000_000_000), got.TotalFor)
	s.Equal(uint64(3_000_000), got.TotalSlashed)
	s.Require().NotNil(got.ResolvedAt)
	s.WithinDuration(resolvedAt, *got.ResolvedAt, time.Millisecond)
}

func (s *PostgresClaimSuite) TestUpdateMissing() {
	claim := s.newClaim(models.ClaimNewPrimary, "ghost", time.Now().UTC())
	err := s.store.Update(context.Background(), claim)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresClaimSuite) TestListByStatusNewestFirstWithLimit() {
	ctx := context.Background()
	base := time.Now().UTC()

	var ids []domain.ClaimID
	for i := 0; i < 3; i++ {
		claim := s.newClaim(models.ClaimNewPrimary, domain.Address("subject"), base.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.store.Create(ctx, claim))
		ids = append(ids, claim.ID)
	}
	resolved := s.newClaim(models.ClaimNewPrimary, "other", base)
	s.Require().NoError(s.store.Create(ctx, resolved))
	resolvedAt := base.Add(time.Hour)
	resolved.Status = models.StatusRejected
	resolved.ResolvedAt = &resolvedAt
	s.Require().NoError(s.store.Update(ctx, resolved))

	active, err := s.store.ListByStatus(ctx, models.StatusActive, 0)
	s.Require().NoError(err)
	s.Require().Len(active, 3)
	s.Equal(ids[2], active[0].ID)
	s.Equal(ids[0], active[2].ID)

	limited, err := s.store.ListByStatus(ctx, models.StatusActive, 2)
	s.Require().NoError(err)
	s.Require().Len(limited, 2)
	s.Equal(ids[2], limited[0].ID)

	rejected, err := s.store.ListByStatus(ctx, models.StatusRejected, 0)
	s.Require().NoError(err)
	s.Require().Len(rejected, 1)
	s.Equal(resolved.ID, rejected[0].ID)
}

func (s *PostgresClaimSuite) TestListExpiredReturnsOnlyLapsedActive() {
	ctx := context.Background()
	base := time.Now().UTC()

	lapsed := s.newClaim(models.ClaimNewPrimary, "alice", base.Add(-31*24*time.Hour))
	s.Require().NoError(s.store.Create(ctx, lapsed))
	fresh := s.newClaim(models.ClaimNewPrimary, "bob", base)
	s.Require().NoError(s.store.Create(ctx, fresh))

	expired, err := s.store.ListExpired(ctx, base, 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(lapsed.ID, expired[0].ID)
}
