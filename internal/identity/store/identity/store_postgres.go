package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"knomee/internal/identity/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// PostgresStore persists identities and link records in PostgreSQL. Execute
// and DemoteWithCascade lock rows FOR UPDATE so tier transitions and cascades
// serialize with concurrent resolutions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `address, tier, anchor, verified_at, vouches_received, stake_received,
	under_challenge, challenge_claim_id, oracle_granted_at, linked_count, last_failed_claim_at,
	created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, addr domain.Address) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE address = $1`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, addr.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, addr domain.Address, now time.Time) (*models.Identity, error) {
	query := `
		INSERT INTO identities (address, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING ` + identityColumns
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, addr.String(), string(models.TierUnverified), now))
	if err != nil {
		return nil, fmt.Errorf("get or create identity: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) Execute(
	ctx context.Context,
	addr domain.Address,
	now time.Time,
	validate func(*models.Identity) error,
	mutate func(*models.Identity),
) (*models.Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin identity update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	identity, err := lockIdentity(ctx, tx, addr, now)
	if err != nil {
		return nil, err
	}
	if err := validate(identity); err != nil {
		return nil, err
	}
	mutate(identity)

	if err := updateIdentity(ctx, tx, identity); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity update: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) ExecutePair(
	ctx context.Context,
	first, second domain.Address,
	now time.Time,
	validate func(first, second *models.Identity) error,
	mutate func(first, second *models.Identity),
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin identity pair update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Lock in address order to avoid deadlocks between concurrent pairs.
	lockFirst, lockSecond := first, second
	if lockSecond < lockFirst {
		lockFirst, lockSecond = lockSecond, lockFirst
	}
	a, err := lockIdentity(ctx, tx, lockFirst, now)
	if err != nil {
		return err
	}
	b, err := lockIdentity(ctx, tx, lockSecond, now)
	if err != nil {
		return err
	}
	if lockFirst != first {
		a, b = b, a
	}

	if err := validate(a, b); err != nil {
		return err
	}
	mutate(a, b)

	if err := updateIdentity(ctx, tx, a); err != nil {
		return err
	}
	if err := updateIdentity(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identity pair update: %w", err)
	}
	return nil
}

func (s *PostgresStore) DemoteWithCascade(ctx context.Context, addr domain.Address, now time.Time) (*models.Identity, []domain.Address, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin cascade demotion: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	identity, err := lockIdentity(ctx, tx, addr, now)
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE identities
		SET tier = $1, anchor = NULL, verified_at = NULL, oracle_granted_at = NULL, updated_at = $2
		WHERE anchor = $3
		RETURNING address
	`, string(models.TierUnverified), now, addr.String())
	if err != nil {
		return nil, nil, fmt.Errorf("cascade linked identities: %w", err)
	}
	var reset []domain.Address
	for rows.Next() {
		var linked string
		if err := rows.Scan(&linked); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan cascaded address: %w", err)
		}
		reset = append(reset, domain.Address(linked))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cascaded addresses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM linked_platforms WHERE anchor = $1`, addr.String()); err != nil {
		return nil, nil, fmt.Errorf("delete link records: %w", err)
	}

	identity.ApplyDemotion(now)
	identity.LinkedCount = 0
	if err := updateIdentity(ctx, tx, identity); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit cascade demotion: %w", err)
	}
	return identity, reset, nil
}

func (s *PostgresStore) AddLink(ctx context.Context, link models.LinkedPlatform) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linked_platforms (anchor, linked, platform, justification, linked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, link.Anchor.String(), link.Linked.String(), link.Platform, link.Justification, link.LinkedAt)
	if err != nil {
		return fmt.Errorf("add link record: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinksOf(ctx context.Context, addr domain.Address) ([]models.LinkedPlatform, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT anchor, linked, platform, justification, linked_at
		FROM linked_platforms
		WHERE anchor = $1
		ORDER BY linked_at
	`, addr.String())
	if err != nil {
		return nil, fmt.Errorf("list link records: %w", err)
	}
	defer rows.Close()

	var links []models.LinkedPlatform
	for rows.Next() {
		var (
			link   models.LinkedPlatform
			anchor string
			linked string
		)
		if err := rows.Scan(&anchor, &linked, &link.Platform, &link.Justification, &link.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan link record: %w", err)
		}
		link.Anchor = domain.Address(anchor)
		link.Linked = domain.Address(linked)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link records: %w", err)
	}
	return links, nil
}

func lockIdentity(ctx context.Context, tx *sql.Tx, addr domain.Address, now time.Time) (*models.Identity, error) {
	query := `
		INSERT INTO identities (address, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING ` + identityColumns
	identity, err := scanIdentity(tx.QueryRowContext(ctx, query, addr.String(), string(models.TierUnverified), now))
	if err != nil {
		return nil, fmt.Errorf("lock identity: %w", err)
	}
	return identity, nil
}

func updateIdentity(ctx context.Context, tx *sql.Tx, identity *models.Identity) error {
	var challengeClaimID any
	if !identity.ChallengeClaimID.IsZero() {
		challengeClaimID = uuid.UUID(identity.ChallengeClaimID)
	}
	var anchor any
	if identity.Anchor != "" {
		anchor = identity.Anchor.String()
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE identities
		SET tier = $2, anchor = $3, verified_at = $4, vouches_received = $5, stake_received = $6,
			under_challenge = $7, challenge_claim_id = $8, oracle_granted_at = $9,
			linked_count = $10, last_failed_claim_at = $11, updated_at = $12
		WHERE address = $1
	`,
		identity.Address.String(),
		string(identity.Tier),
		anchor,
		nullTime(identity.VerifiedAt),
		int64(identity.VouchesReceived),
		strconv.FormatUint(identity.StakeReceived, 10),
		identity.UnderChallenge,
		challengeClaimID,
		nullTime(identity.OracleGrantedAt),
		identity.LinkedCount,
		nullTime(identity.LastFailedClaimAt),
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return nil
}

type identityRow interface {
	Scan(dest ...any) error
}

func scanIdentity(row identityRow) (*models.Identity, error) {
	var (
		identity          models.Identity
		address           string
		tier              string
		anchor            sql.NullString
		verifiedAt        sql.NullTime
		vouchesReceived   int64
		stakeReceived     string
		challengeClaimID  uuid.NullUUID
		oracleGrantedAt   sql.NullTime
		lastFailedClaimAt sql.NullTime
	)
	err := row.Scan(
		&address,
		&tier,
		&anchor,
		&verifiedAt,
		&vouchesReceived,
		&stakeReceived,
		&identity.UnderChallenge,
		&challengeClaimID,
		&oracleGrantedAt,
		&identity.LinkedCount,
		&lastFailedClaimAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	identity.Address = domain.Address(address)
	identity.Tier = models.Tier(tier)
	if anchor.Valid {
		identity.Anchor = domain.Address(anchor.String)
	}
	if verifiedAt.Valid {
		identity.VerifiedAt = &verifiedAt.Time
	}
	identity.VouchesReceived = uint64(vouchesReceived)
	// stake_received is NUMERIC(20,0); the decimal string carries the full
	// unsigned range without a signed BIGINT detour.
	identity.StakeReceived, err = strconv.ParseUint(stakeReceived, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse stake received %q: %w", stakeReceived, err)
	}
	if challengeClaimID.Valid {
		identity.ChallengeClaimID = domain.ClaimID(challengeClaimID.UUID)
	}
	if oracleGrantedAt.Valid {
		identity.OracleGrantedAt = &oracleGrantedAt.Time
	}
	if lastFailedClaimAt.Valid {
		identity.LastFailedClaimAt = &lastFailedClaimAt.Time
	}
	return &identity, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
