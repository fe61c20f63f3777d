package claim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knomee/internal/consensus/models"
	"knomee/internal/consensus/store/claim"
	"knomee/pkg/platform/sentinel"
)

func TestInMemoryClaimStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	t.Run("get missing claim", func(t *testing.T) {
		store := claim.NewInMemory()

		_, err := store.Get(ctx, models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "", now, window).ID)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("create and read back", func(t *testing.T) {
		store := claim.NewInMemory()
		created := models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "proof", now, window)

		require.NoError(t, store.Create(ctx, created))

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, created.Subject, got.Subject)
		require.Equal(t, models.StatusActive, got.Status)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		store := claim.NewInMemory()
		created := models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "", now, window)

		require.NoError(t, store.Create(ctx, created))
		require.ErrorIs(t, store.Create(ctx, created), sentinel.ErrConflict)
	})

	t.Run("stored claims are isolated from callers", func(t *testing.T) {
		store := claim.NewInMemory()
		created := models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "", now, window)
		require.NoError(t, store.Create(ctx, created))

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		got.TotalFor = 999

		again, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		require.Zero(t, again.TotalFor)
	})

	t.Run("update missing claim", func(t *testing.T) {
		store := claim.NewInMemory()
		orphan := models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "", now, window)

		require.ErrorIs(t, store.Update(ctx, orphan), sentinel.ErrNotFound)
	})

	t.Run("list by status newest first with limit", func(t *testing.T) {
		store := claim.NewInMemory()
		older := models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "", now, window)
		newer := models.NewClaim(models.ClaimNewPrimary, "bob", "", "bob", "", "", now.Add(time.Hour), window)
		resolved := models.NewClaim(models.ClaimNewPrimary, "carol", "", "carol", "", "", now, window)
		resolved.ApplyResolution(models.StatusApproved, now)

		require.NoError(t, store.Create(ctx, older))
		require.NoError(t, store.Create(ctx, newer))
		require.NoError(t, store.Create(ctx, resolved))

		active, err := store.ListByStatus(ctx, models.StatusActive, 0)
		require.NoError(t, err)
		require.Len(t, active, 2)
		require.Equal(t, newer.ID, active[0].ID)

		limited, err := store.ListByStatus(ctx, models.StatusActive, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
	})

	t.Run("list expired returns only lapsed active claims oldest first", func(t *testing.T) {
		store := claim.NewInMemory()
		first := models.NewClaim(models.ClaimNewPrimary, "alice", "", "alice", "", "", now, window)
		second := models.NewClaim(models.ClaimNewPrimary, "bob", "", "bob", "", "", now.Add(time.Hour), window)
		fresh := models.NewClaim(models.ClaimNewPrimary, "carol", "", "carol", "", "", now.Add(window), window)

		require.NoError(t, store.Create(ctx, first))
		require.NoError(t, store.Create(ctx, second))
		require.NoError(t, store.Create(ctx, fresh))

		expired, err := store.ListExpired(ctx, now.Add(window+time.Hour), 0)
		require.NoError(t, err)
		require.Len(t, expired, 2)
		require.Equal(t, first.ID, expired[0].ID)
		require.Equal(t, second.ID, expired[1].ID)
	})
}
