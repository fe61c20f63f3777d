// Package service owns the governance clock and the economic parameter set.
// Every consensus decision reads time and parameters through here so a warp
// or a parameter update is visible to all claims on their next evaluation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"knomee/internal/governance/models"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	audit "knomee/pkg/platform/audit"
	"knomee/pkg/platform/clock"
	"knomee/pkg/platform/sentinel"
	"knomee/pkg/requestcontext"
)

// StateStore persists the singleton governance record.
type StateStore interface {
	Init(ctx context.Context, state *models.State) error
	Load(ctx context.Context) (*models.State, error)
	Execute(ctx context.Context, validate func(*models.State) error, mutate func(*models.State)) (*models.State, error)
}

// AuditPublisher records governance actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Snapshot is a consistent read of everything the consensus engine needs per
// operation: one snapshot, one point in governance time.
type Snapshot struct {
	Params     models.Params
	Now        time.Time
	LaunchedAt time.Time
}

// InBootstrapWindow reports whether governance time is still inside the
// early-adopter window.
func (s Snapshot) InBootstrapWindow() bool {
	return s.Now.Before(s.LaunchedAt.Add(s.Params.BootstrapWindow))
}

// Service orchestrates governance state transitions.
type Service struct {
	store          StateStore
	wall           clock.Clock
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithClock(wall clock.Clock) Option {
	return func(s *Service) { s.wall = wall }
}

// New constructs a governance Service.
func New(store StateStore, opts ...Option) *Service {
	s := &Service{store: store, wall: clock.Real{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize seeds governance state on first startup. Safe to call on every
// boot; an already-initialized store is left untouched.
func (s *Service) Initialize(ctx context.Context, authority, override domain.Address) error {
	if authority == "" {
		return dErrors.New(dErrors.CodeConfiguration, "governance authority is required")
	}
	if override == "" {
		override = authority
	}
	err := s.store.Init(ctx, models.NewState(authority, override, s.wall.Now().UTC()))
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to initialize governance")
	}
	return nil
}

// State returns the current governance record.
func (s *Service) State(ctx context.Context) (*models.State, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return nil, wrapStateErr(err)
	}
	return state, nil
}

// Snapshot reads parameters and governance time in one shot.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return Snapshot{}, wrapStateErr(err)
	}
	return Snapshot{
		Params:     state.Params,
		Now:        s.wall.Now().UTC().Add(state.WarpOffset),
		LaunchedAt: state.LaunchedAt,
	}, nil
}

// Now returns the current governance time (wall clock plus warp offset).
func (s *Service) Now(ctx context.Context) (time.Time, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return snap.Now, nil
}

// UpdateParams swaps in a new parameter set. Authority only; the set is
// validated as a whole before it lands.
func (s *Service) UpdateParams(ctx context.Context, caller domain.Address, params models.Params) (*models.State, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := s.wall.Now().UTC()
	state, err := s.store.Execute(ctx,
		func(st *models.State) error { return st.CanUpdateParams(caller) },
		func(st *models.State) { st.ApplyParams(params, now) },
	)
	if err != nil {
		return nil, wrapStateErr(err)
	}

	s.logInfo(ctx, "governance parameters updated", "caller", caller)
	s.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   caller,
		Actor:     caller,
		Action:    string(audit.EventParamsUpdated),
		RequestID: requestcontext.RequestID(ctx),
	})
	return state, nil
}

// TimeWarp advances the governance clock. Override only, forward only, and
// the offset is cumulative and irreversible.
func (s *Service) TimeWarp(ctx context.Context, caller domain.Address, d time.Duration) (*models.State, error) {
	if d <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "time warp must move forward")
	}

	now := s.wall.Now().UTC()
	state, err := s.store.Execute(ctx,
		func(st *models.State) error { return st.CanWarp(caller) },
		func(st *models.State) { st.ApplyWarp(d, now) },
	)
	if err != nil {
		return nil, wrapStateErr(err)
	}

	s.logInfo(ctx, "governance clock warped", "caller", caller, "warp", d, "total_offset", state.WarpOffset)
	s.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   caller,
		Actor:     caller,
		Action:    string(audit.EventTimeWarped),
		Reason:    d.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
	return state, nil
}

// Renounce permanently disables the override authority. There is no undo.
func (s *Service) Renounce(ctx context.Context, caller domain.Address) (*models.State, error) {
	now := s.wall.Now().UTC()
	state, err := s.store.Execute(ctx,
		func(st *models.State) error { return st.CanRenounce(caller) },
		func(st *models.State) { st.ApplyRenounce(now) },
	)
	if err != nil {
		return nil, wrapStateErr(err)
	}

	s.logInfo(ctx, "override authority renounced", "caller", caller)
	s.emit(ctx, audit.Event{
		Timestamp: now,
		Subject:   caller,
		Actor:     caller,
		Action:    string(audit.EventOverrideRenounced),
		RequestID: requestcontext.RequestID(ctx),
	})
	return state, nil
}

// IsAuthority reports whether addr holds governance authority.
func (s *Service) IsAuthority(ctx context.Context, addr domain.Address) (bool, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return false, wrapStateErr(err)
	}
	return state.Authority == addr, nil
}

func wrapStateErr(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "governance state not initialized")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "governance state unavailable")
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		if requestID := requestcontext.RequestID(ctx); requestID != "" {
			args = append(args, "request_id", requestID)
		}
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher != nil {
		_ = s.auditPublisher.Emit(ctx, event)
	}
}
