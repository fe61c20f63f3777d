package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knomee/internal/governance/models"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
)

func TestParamsValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, models.DefaultParams().Validate())
	})

	t.Run("thresholds below majority are rejected", func(t *testing.T) {
		p := models.DefaultParams()
		p.LinkThresholdBps = 5000

		err := p.Validate()
		require.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("thresholds above denominator are rejected", func(t *testing.T) {
		p := models.DefaultParams()
		p.DuplicateThresholdBps = 10001

		err := p.Validate()
		require.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("duplicate multiplier must dominate primary", func(t *testing.T) {
		p := models.DefaultParams()
		p.PrimaryStakeMultiplier = 11

		err := p.Validate()
		require.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("slash rate above 100 percent is rejected", func(t *testing.T) {
		p := models.DefaultParams()
		p.SybilSlashBps = 10001

		err := p.Validate()
		require.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("oracle weight must dominate verified weight", func(t *testing.T) {
		p := models.DefaultParams()
		p.OracleVoteWeight = 0

		err := p.Validate()
		require.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("zero durations are rejected", func(t *testing.T) {
		p := models.DefaultParams()
		p.ClaimExpiry = 0

		err := p.Validate()
		require.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})
}

func TestStateTransitions(t *testing.T) {
	authority := domain.Address("authority")
	override := domain.Address("override")
	launched := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("new state starts with override active and zero offset", func(t *testing.T) {
		s := models.NewState(authority, override, launched)

		require.True(t, s.OverrideActive)
		require.Zero(t, s.WarpOffset)
		require.Equal(t, models.DefaultParams(), s.Params)
		require.Equal(t, launched, s.LaunchedAt)
	})

	t.Run("warp accumulates offset", func(t *testing.T) {
		s := models.NewState(authority, override, launched)

		require.NoError(t, s.CanWarp(override))
		s.ApplyWarp(24*time.Hour, launched)
		s.ApplyWarp(time.Hour, launched)

		require.Equal(t, 25*time.Hour, s.WarpOffset)
	})

	t.Run("warp denied for non-override caller", func(t *testing.T) {
		s := models.NewState(authority, override, launched)

		err := s.CanWarp(domain.Address("mallory"))
		require.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("renounce is permanent", func(t *testing.T) {
		s := models.NewState(authority, override, launched)

		require.NoError(t, s.CanRenounce(override))
		s.ApplyRenounce(launched)

		err := s.CanWarp(override)
		require.True(t, dErrors.HasCode(err, dErrors.CodeAuthorityRevoked))
		err = s.CanRenounce(override)
		require.True(t, dErrors.HasCode(err, dErrors.CodeAuthorityRevoked))
	})

	t.Run("only authority may update params", func(t *testing.T) {
		s := models.NewState(authority, override, launched)

		err := s.CanUpdateParams(override)
		require.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		require.NoError(t, s.CanUpdateParams(authority))
	})
}
