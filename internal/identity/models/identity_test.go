package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knomee/internal/identity/models"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
)

func TestTier(t *testing.T) {
	t.Run("only verified and oracle vote", func(t *testing.T) {
		require.False(t, models.TierUnverified.CanVote())
		require.False(t, models.TierLinked.CanVote())
		require.True(t, models.TierVerified.CanVote())
		require.True(t, models.TierOracle.CanVote())
	})

	t.Run("vote weights", func(t *testing.T) {
		require.Zero(t, models.TierUnverified.VoteWeight(1, 100))
		require.Zero(t, models.TierLinked.VoteWeight(1, 100))
		require.Equal(t, uint64(1), models.TierVerified.VoteWeight(1, 100))
		require.Equal(t, uint64(100), models.TierOracle.VoteWeight(1, 100))
	})

	t.Run("parse rejects unknown tiers", func(t *testing.T) {
		_, err := models.ParseTier("admin")
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

		tier, err := models.ParseTier("oracle")
		require.NoError(t, err)
		require.Equal(t, models.TierOracle, tier)
	})
}

func TestIdentityTransitions(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	addr := domain.Address("alice")
	anchor := domain.Address("anchor")

	t.Run("new identity starts unverified", func(t *testing.T) {
		i := models.NewIdentity(addr, now)

		require.Equal(t, models.TierUnverified, i.Tier)
		require.Empty(t, i.Anchor)
		require.Nil(t, i.VerifiedAt)
		require.False(t, i.UnderChallenge)
	})

	t.Run("link binds anchor", func(t *testing.T) {
		i := models.NewIdentity(addr, now)

		require.NoError(t, i.CanPromoteToLinked())
		i.ApplyLink(anchor, now)

		require.Equal(t, models.TierLinked, i.Tier)
		require.Equal(t, anchor, i.Anchor)
		require.NotNil(t, i.VerifiedAt)
	})

	t.Run("linked identity cannot link again", func(t *testing.T) {
		i := models.NewIdentity(addr, now)
		i.ApplyLink(anchor, now)

		err := i.CanPromoteToLinked()
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("verification dissolves a link", func(t *testing.T) {
		i := models.NewIdentity(addr, now)
		i.ApplyLink(anchor, now)

		require.NoError(t, i.CanPromoteToVerified())
		i.ApplyVerified(now)

		require.Equal(t, models.TierVerified, i.Tier)
		require.Empty(t, i.Anchor)
	})

	t.Run("double verification is an invalid state", func(t *testing.T) {
		i := models.NewIdentity(addr, now)
		i.ApplyVerified(now)

		err := i.CanPromoteToVerified()
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("oracle grant requires verified", func(t *testing.T) {
		i := models.NewIdentity(addr, now)

		err := i.CanPromoteToOracle()
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

		i.ApplyVerified(now)
		require.NoError(t, i.CanPromoteToOracle())
		i.ApplyOracle(now)

		require.Equal(t, models.TierOracle, i.Tier)
		require.NotNil(t, i.OracleGrantedAt)
	})

	t.Run("demotion clears verification state", func(t *testing.T) {
		i := models.NewIdentity(addr, now)
		i.ApplyVerified(now)
		i.ApplyOracle(now)

		i.ApplyDemotion(now)

		require.Equal(t, models.TierUnverified, i.Tier)
		require.Nil(t, i.VerifiedAt)
		require.Nil(t, i.OracleGrantedAt)
	})
}

func TestIdentityEligibility(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cooldown := 7 * 24 * time.Hour

	t.Run("fresh identity is eligible", func(t *testing.T) {
		i := models.NewIdentity("alice", now)
		require.NoError(t, i.CanRequestClaim(now, cooldown))
	})

	t.Run("under challenge blocks claims", func(t *testing.T) {
		i := models.NewIdentity("alice", now)
		i.MarkChallenged(domain.NewClaimID(), now)

		err := i.CanRequestClaim(now, cooldown)
		require.True(t, dErrors.HasCode(err, dErrors.CodeIneligible))

		i.ClearChallenge(now)
		require.NoError(t, i.CanRequestClaim(now, cooldown))
	})

	t.Run("cooldown blocks until elapsed", func(t *testing.T) {
		i := models.NewIdentity("alice", now)
		i.RecordFailedClaim(now)

		err := i.CanRequestClaim(now.Add(cooldown-time.Second), cooldown)
		require.True(t, dErrors.HasCode(err, dErrors.CodeIneligible))

		require.NoError(t, i.CanRequestClaim(now.Add(cooldown), cooldown))
	})
}
