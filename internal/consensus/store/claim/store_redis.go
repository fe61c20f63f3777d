package claim

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"knomee/internal/consensus/models"
	"knomee/pkg/domain"
)

const (
	// Redis key prefix for cached claims
	claimKeyPrefix = "claim:"

	defaultCacheTTL = 5 * time.Minute
)

// Store is the claim persistence contract the cache decorates.
type Store interface {
	Create(ctx context.Context, claim *models.Claim) error
	Get(ctx context.Context, id domain.ClaimID) (*models.Claim, error)
	Update(ctx context.Context, claim *models.Claim) error
	ListByStatus(ctx context.Context, status models.ClaimStatus, limit int) ([]*models.Claim, error)
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.Claim, error)
}

// CachedStore decorates a claim store with a Redis read cache. Active claims
// are hot during voting; the cache keeps Get off the primary store. Writes
// update the cache in place so a vouch is visible on the next read, and cache
// failures degrade to the underlying store, never to an error.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type CacheOption func(*CachedStore)

func WithTTL(ttl time.Duration) CacheOption {
	return func(s *CachedStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(s *CachedStore) { s.logger = logger }
}

// NewCached wraps inner with a Redis cache.
func NewCached(inner Store, client *redis.Client, opts ...CacheOption) *CachedStore {
	s := &CachedStore{inner: inner, client: client, ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CachedStore) Create(ctx context.Context, claim *models.Claim) error {
	if err := s.inner.Create(ctx, claim); err != nil {
		return err
	}
	s.fill(ctx, claim)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id domain.ClaimID) (*models.Claim, error) {
	raw, err := s.client.Get(ctx, claimKeyPrefix+id.String()).Bytes()
	if err == nil {
		var claim models.Claim
		if err := json.Unmarshal(raw, &claim); err == nil {
			return &claim, nil
		}
		// Corrupt entry; fall through to the store and rewrite it.
	} else if !errors.Is(err, redis.Nil) {
		s.logWarn(ctx, "claim cache read failed", "claim_id", id, "error", err)
	}

	claim, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, claim)
	return claim, nil
}

func (s *CachedStore) Update(ctx context.Context, claim *models.Claim) error {
	if err := s.inner.Update(ctx, claim); err != nil {
		return err
	}
	s.fill(ctx, claim)
	return nil
}

// ListByStatus always hits the underlying store; listings need a consistent
// view across claims, not per-claim cache entries.
func (s *CachedStore) ListByStatus(ctx context.Context, status models.ClaimStatus, limit int) ([]*models.Claim, error) {
	return s.inner.ListByStatus(ctx, status, limit)
}

func (s *CachedStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.Claim, error) {
	return s.inner.ListExpired(ctx, asOf, limit)
}

func (s *CachedStore) fill(ctx context.Context, claim *models.Claim) {
	raw, err := json.Marshal(claim)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, claimKeyPrefix+claim.ID.String(), raw, s.ttl).Err(); err != nil {
		s.logWarn(ctx, "claim cache write failed", "claim_id", claim.ID, "error", err)
	}
}

func (s *CachedStore) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
