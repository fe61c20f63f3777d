// Package worker runs background maintenance for the consensus engine.
package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 100
)

// Engine is the sweep surface the worker drives.
type Engine interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper expires lapsed claims on a ticker. Vouch casts already expire
// claims lazily; the sweeper catches claims nobody touches so refunds do not
// wait on traffic.
type Sweeper struct {
	engine   Engine
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type Option func(*Sweeper)

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithBatchSize(batch int) Option {
	return func(s *Sweeper) {
		if batch > 0 {
			s.batch = batch
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// NewSweeper constructs a Sweeper.
func NewSweeper(engine Engine, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine:   engine,
		interval: defaultSweepInterval,
		batch:    defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.engine.SweepExpired(ctx, s.batch)
			if err != nil {
				s.logWarn(ctx, "expiry sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				s.logInfo(ctx, "expired claims swept", "count", swept)
			}
		}
	}
}

func (s *Sweeper) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Sweeper) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
