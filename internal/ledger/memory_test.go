package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"knomee/internal/ledger"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

func TestInMemoryLedger(t *testing.T) {
	ctx := context.Background()
	alice := domain.Address("alice")
	bob := domain.Address("bob")

	t.Run("debit moves funds into escrow", func(t *testing.T) {
		l := ledger.NewInMemoryLedger()
		l.Mint(alice, 100)

		require.NoError(t, l.Debit(ctx, alice, 60))

		bal, err := l.Balance(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, uint64(40), bal)
		require.Equal(t, uint64(60), l.Escrowed())
	})

	t.Run("over-debit fails without side effects", func(t *testing.T) {
		l := ledger.NewInMemoryLedger()
		l.Mint(alice, 10)

		err := l.Debit(ctx, alice, 11)
		require.ErrorIs(t, err, sentinel.ErrInsufficientBalance)

		bal, err := l.Balance(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, uint64(10), bal)
		require.Zero(t, l.Escrowed())
	})

	t.Run("credit drains escrow first", func(t *testing.T) {
		l := ledger.NewInMemoryLedger()
		l.Mint(alice, 100)
		require.NoError(t, l.Debit(ctx, alice, 100))

		require.NoError(t, l.Credit(ctx, bob, 70))
		require.Equal(t, uint64(30), l.Escrowed())

		bal, err := l.Balance(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, uint64(70), bal)
	})

	t.Run("credit beyond escrow is issuance", func(t *testing.T) {
		l := ledger.NewInMemoryLedger()

		require.NoError(t, l.Credit(ctx, bob, 50))
		require.Zero(t, l.Escrowed())

		bal, err := l.Balance(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, uint64(50), bal)
	})

	t.Run("burn consumes escrow only", func(t *testing.T) {
		l := ledger.NewInMemoryLedger()
		l.Mint(alice, 40)
		require.NoError(t, l.Debit(ctx, alice, 40))

		require.NoError(t, l.Burn(ctx, 15))
		require.Equal(t, uint64(25), l.Escrowed())
		require.Equal(t, uint64(15), l.Burned())

		err := l.Burn(ctx, 26)
		require.ErrorIs(t, err, sentinel.ErrInvalidState)
	})
}

func TestInMemoryOwnership(t *testing.T) {
	ctx := context.Background()
	alice := domain.Address("alice")

	t.Run("set and read tier", func(t *testing.T) {
		o := ledger.NewInMemoryOwnership()

		_, err := o.TierOf(ctx, alice)
		require.ErrorIs(t, err, sentinel.ErrNotFound)

		require.NoError(t, o.SetTier(ctx, alice, "verified"))
		tier, err := o.TierOf(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, "verified", tier)
	})

	t.Run("record is soul-bound", func(t *testing.T) {
		o := ledger.NewInMemoryOwnership()
		require.NoError(t, o.SetTier(ctx, alice, "linked"))

		err := o.Transfer(ctx, alice, domain.Address("bob"))
		require.ErrorIs(t, err, sentinel.ErrNotTransferable)

		err = o.Approve(ctx, alice, domain.Address("operator"))
		require.ErrorIs(t, err, sentinel.ErrNotTransferable)
	})
}
