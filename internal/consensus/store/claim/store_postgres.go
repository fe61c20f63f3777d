package claim

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"knomee/internal/consensus/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// PostgresStore persists claims in PostgreSQL. Pure I/O; tally math and
// lifecycle rules live in the engine, which serializes per claim.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const claimColumns = `id, claim_type, status, subject, related, requester, platform, justification,
	created_at, expires_at, total_for, total_against, total_stake, total_slashed, vouch_count, resolved_at`

func (s *PostgresStore) Create(ctx context.Context, claim *models.Claim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		uuid.UUID(claim.ID),
		string(claim.Type),
		string(claim.Status),
		claim.Subject.String(),
		nullString(claim.Related.String()),
		claim.Requester.String(),
		claim.Platform,
		claim.Justification,
		claim.CreatedAt,
		claim.ExpiresAt,
		strconv.FormatUint(claim.TotalFor, 10),
		strconv.FormatUint(claim.TotalAgainst, 10),
		strconv.FormatUint(claim.TotalStake, 10),
		strconv.FormatUint(claim.TotalSlashed, 10),
		claim.VouchCount,
		nullTime(claim.ResolvedAt),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.ClaimID) (*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`
	claim, err := scanClaim(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return claim, nil
}

func (s *PostgresStore) Update(ctx context.Context, claim *models.Claim) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE claims
		SET status = $2, total_for = $3, total_against = $4, total_stake = $5,
			total_slashed = $6, vouch_count = $7, resolved_at = $8
		WHERE id = $1
	`,
		uuid.UUID(claim.ID),
		string(claim.Status),
		strconv.FormatUint(claim.TotalFor, 10),
		strconv.FormatUint(claim.TotalAgainst, 10),
		strconv.FormatUint(claim.TotalStake, 10),
		strconv.FormatUint(claim.TotalSlashed, 10),
		claim.VouchCount,
		nullTime(claim.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update claim rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.ClaimStatus, limit int) ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

func (s *PostgresStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at`
	args := []any{string(models.StatusActive), asOf}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return out, nil
}

type claimRow interface {
	Scan(dest ...any) error
}

func scanClaim(row claimRow) (*models.Claim, error) {
	var (
		claim        models.Claim
		id           uuid.UUID
		claimType    string
		status       string
		subject      string
		related      sql.NullString
		requester    string
		totalFor     string
		totalAgainst string
		totalStake   string
		totalSlashed string
		resolvedAt   sql.NullTime
	)
	err := row.Scan(
		&id,
		&claimType,
		&status,
		&subject,
		&related,
		&requester,
		&claim.Platform,
		&claim.Justification,
		&claim.CreatedAt,
		&claim.ExpiresAt,
		&totalFor,
		&totalAgainst,
		&totalStake,
		&totalSlashed,
		&claim.VouchCount,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	claim.ID = domain.ClaimID(id)
	claim.Type = models.ClaimType(claimType)
	claim.Status = models.ClaimStatus(status)
	claim.Subject = domain.Address(subject)
	if related.Valid {
		claim.Related = domain.Address(related.String)
	}
	claim.Requester = domain.Address(requester)
	if claim.TotalFor, err = parseAmount(totalFor); err != nil {
		return nil, err
	}
	if claim.TotalAgainst, err = parseAmount(totalAgainst); err != nil {
		return nil, err
	}
	if claim.TotalStake, err = parseAmount(totalStake); err != nil {
		return nil, err
	}
	if claim.TotalSlashed, err = parseAmount(totalSlashed); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		claim.ResolvedAt = &resolvedAt.Time
	}
	return &claim, nil
}

// Tally columns are NUMERIC(20,0): the full unsigned range round-trips as a
// decimal string instead of wrapping through a signed BIGINT.
func parseAmount(raw string) (uint64, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return value, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
