package models

import (
	"time"

	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
)

// State is the singleton governance record: who may tune parameters, who may
// warp the clock, and the protocol launch time the bootstrap window is
// measured from.
//
// Invariants:
//   - WarpOffset only grows (the governance clock never runs backwards)
//   - OverrideActive transitions true -> false exactly once and never back
//   - LaunchedAt is immutable after initialization
type State struct {
	// Authority may update parameters and grant Oracle tier.
	Authority domain.Address `json:"authority"`

	// Override may warp the clock until it renounces. Typically the same
	// address as Authority during testing, then renounced before launch.
	Override       domain.Address `json:"override"`
	OverrideActive bool           `json:"override_active"`

	// WarpOffset shifts the governance clock ahead of wall time.
	WarpOffset time.Duration `json:"warp_offset"`

	Params Params `json:"params"`

	LaunchedAt time.Time `json:"launched_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewState initializes governance at launch time with default parameters.
func NewState(authority, override domain.Address, launchedAt time.Time) *State {
	return &State{
		Authority:      authority,
		Override:       override,
		OverrideActive: true,
		Params:         DefaultParams(),
		LaunchedAt:     launchedAt,
		UpdatedAt:      launchedAt,
	}
}

// CanWarp checks that caller holds an active override.
func (s *State) CanWarp(caller domain.Address) error {
	if caller != s.Override {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the override authority")
	}
	if !s.OverrideActive {
		return dErrors.New(dErrors.CodeAuthorityRevoked, "override authority has been renounced")
	}
	return nil
}

// ApplyWarp advances the clock offset. Call CanWarp first.
func (s *State) ApplyWarp(d time.Duration, now time.Time) {
	s.WarpOffset += d
	s.UpdatedAt = now
}

// CanRenounce checks that caller holds an active override.
func (s *State) CanRenounce(caller domain.Address) error {
	return s.CanWarp(caller)
}

// ApplyRenounce permanently deactivates the override. Call CanRenounce first.
func (s *State) ApplyRenounce(now time.Time) {
	s.OverrideActive = false
	s.UpdatedAt = now
}

// CanUpdateParams checks that caller is the governance authority.
func (s *State) CanUpdateParams(caller domain.Address) error {
	if caller != s.Authority {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the governance authority")
	}
	return nil
}

// ApplyParams swaps in a validated parameter set. Call CanUpdateParams and
// Params.Validate first.
func (s *State) ApplyParams(params Params, now time.Time) {
	s.Params = params
	s.UpdatedAt = now
}
