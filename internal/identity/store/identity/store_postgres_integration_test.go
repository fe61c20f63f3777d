//go:build integration

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"knomee/internal/identity/models"
	identitystore "knomee/internal/identity/store/identity"
	"knomee/pkg/domain"
	"knomee/pkg/testutil/containers"
)

type PostgresIdentitySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *identitystore.PostgresStore
}

func TestPostgresIdentitySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresIdentitySuite))
}

func (s *PostgresIdentitySuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = identitystore.NewPostgres(s.postgres.DB)
}

func (s *PostgresIdentitySuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "identities", "linked_platforms")
	s.Require().NoError(err)
}

func (s *PostgresIdentitySuite) TestGetOrCreateIsIdempotent() {
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := s.store.GetOrCreate(ctx, "alice", now)
	s.Require().NoError(err)
	s.Equal(models.TierUnverified, first.Tier)

	// Second call returns the existing row, not a reset one.
	_, err = s.store.Execute(ctx, "alice", now,
		func(*models.Identity) error { return nil },
		func(identity *models.Identity) { identity.ApplyVerified(now) },
	)
	s.Require().NoError(err)

	again, err := s.store.GetOrCreate(ctx, "alice", now.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(models.TierVerified, again.Tier)
}

func (s *PostgresIdentitySuite) TestExecutePersistsMutation() {
	ctx := context.Background()
	now := time.Now().UTC()

	claimID := domain.NewClaimID()
	_, err := s.store.Execute(ctx, "alice", now,
		func(*models.Identity) error { return nil },
		func(identity *models.Identity) {
			identity.ApplyVerified(now)
			identity.MarkChallenged(claimID, now)
			identity.VouchesReceived = 3
			identity.StakeReceived = 30_000_000
		},
	)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(models.TierVerified, got.Tier)
	s.True(got.UnderChallenge)
	s.Equal(claimID, got.ChallengeClaimID)
	s.Equal(uint64(3), got.VouchesReceived)
	s.Equal(uint64(30_000_000), got.StakeReceived)
	s.Require().NotNil(got.VerifiedAt)
}

func (s *PostgresIdentitySuite) TestStakeReceivedAboveSignedRangeRoundTrips() {
	ctx := context.Background()
	now := time.Now().UTC()

	// Past MaxInt64: a signed column would go negative.
	_, err := s.store.Execute(ctx, "whale", now,
		func(*models.Identity) error { return nil },
		func(identity *models.Identity) { identity.StakeReceived = 18_400_000_000_000_000_000 },
	)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "whale")
	s.Require().NoError(err)
	s.Equal(uint64(18_400_000_000_000_000_000), got.StakeReceived)
}

func (s *PostgresIdentitySuite) TestExecuteValidationFailureLeavesRowUntouched() {
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.store.GetOrCreate(ctx, "alice", now)
	s.Require().NoError(err)

	wantErr := context.DeadlineExceeded
	_, err = s.store.Execute(ctx, "alice", now,
		func(*models.Identity) error { return wantErr },
		func(identity *models.Identity) { identity.ApplyVerified(now) },
	)
	s.Require().ErrorIs(err, wantErr)

	got, err := s.store.Get(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(models.TierUnverified, got.Tier)
}

func (s *PostgresIdentitySuite) TestDemoteWithCascadeResetsLinkedRowsAndDeletesLinks() {
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.store.Execute(ctx, "anchor", now,
		func(*models.Identity) error { return nil },
		func(identity *models.Identity) { identity.ApplyVerified(now) },
	)
	s.Require().NoError(err)
	for _, linked := range []domain.Address{"sock-1", "sock-2"} {
		_, err := s.store.Execute(ctx, linked, now,
			func(*models.Identity) error { return nil },
			func(identity *models.Identity) { identity.ApplyLink("anchor", now) },
		)
		s.Require().NoError(err)
		s.Require().NoError(s.store.AddLink(ctx, models.LinkedPlatform{
			Anchor: "anchor", Linked: linked, Platform: "github", LinkedAt: now,
		}))
	}

	demoted, reset, err := s.store.DemoteWithCascade(ctx, "anchor", now)
	s.Require().NoError(err)
	s.Equal(models.TierUnverified, demoted.Tier)
	s.Equal(0, demoted.LinkedCount)
	s.ElementsMatch([]domain.Address{"sock-1", "sock-2"}, reset)

	for _, linked := range []domain.Address{"sock-1", "sock-2"} {
		got, err := s.store.Get(ctx, linked)
		s.Require().NoError(err)
		s.Equal(models.TierUnverified, got.Tier)
		s.Empty(got.Anchor)
	}

	links, err := s.store.LinksOf(ctx, "anchor")
	s.Require().NoError(err)
	s.Empty(links)
}

func (s *PostgresIdentitySuite) TestLinkRecordsListInOrder() {
	ctx := context.Background()
	now := time.Now().UTC()

	first := models.LinkedPlatform{Anchor: "anchor", Linked: "sock-1", Platform: "github", Justification: "same keys", LinkedAt: now}
	second := models.LinkedPlatform{Anchor: "anchor", Linked: "sock-2", Platform: "github", LinkedAt: now.Add(time.Minute)}
	s.Require().NoError(s.store.AddLink(ctx, first))
	s.Require().NoError(s.store.AddLink(ctx, second))

	links, err := s.store.LinksOf(ctx, "anchor")
	s.Require().NoError(err)
	s.Require().Len(links, 2)
	s.Equal(domain.Address("sock-1"), links[0].Linked)
	s.Equal("same keys", links[0].Justification)
	s.Equal(domain.Address("sock-2"), links[1].Linked)
}
