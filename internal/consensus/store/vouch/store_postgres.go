package vouch

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"knomee/internal/consensus/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// PostgresStore persists vouches in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const vouchColumns = `claim_id, voucher, supports, weight, stake, cast_at, payout, rewards_claimed`

func (s *PostgresStore) Create(ctx context.Context, vouch *models.Vouch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouches (`+vouchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.UUID(vouch.ClaimID),
		vouch.Voucher.String(),
		vouch.Supports,
		strconv.FormatUint(vouch.Weight, 10),
		strconv.FormatUint(vouch.Stake, 10),
		vouch.CastAt,
		strconv.FormatUint(vouch.Payout, 10),
		vouch.RewardsClaimed,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create vouch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, claimID domain.ClaimID, voucher domain.Address) (*models.Vouch, error) {
	query := `SELECT ` + vouchColumns + ` FROM vouches WHERE claim_id = $1 AND voucher = $2`
	vouch, err := scanVouch(s.db.QueryRowContext(ctx, query, uuid.UUID(claimID), voucher.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get vouch: %w", err)
	}
	return vouch, nil
}

func (s *PostgresStore) Update(ctx context.Context, vouch *models.Vouch) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE vouches
		SET payout = $3, rewards_claimed = $4
		WHERE claim_id = $1 AND voucher = $2
	`,
		uuid.UUID(vouch.ClaimID),
		vouch.Voucher.String(),
		strconv.FormatUint(vouch.Payout, 10),
		vouch.RewardsClaimed,
	)
	if err != nil {
		return fmt.Errorf("update vouch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update vouch rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByClaim(ctx context.Context, claimID domain.ClaimID) ([]*models.Vouch, error) {
	query := `SELECT ` + vouchColumns + ` FROM vouches WHERE claim_id = $1 ORDER BY cast_at`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(claimID))
	if err != nil {
		return nil, fmt.Errorf("list vouches: %w", err)
	}
	defer rows.Close()

	var out []*models.Vouch
	for rows.Next() {
		vouch, err := scanVouch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vouch: %w", err)
		}
		out = append(out, vouch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vouches: %w", err)
	}
	return out, nil
}

type vouchRow interface {
	Scan(dest ...any) error
}

func scanVouch(row vouchRow) (*models.Vouch, error) {
	var (
		vouch   models.Vouch
		claimID uuid.UUID
		voucher string
		weight  string
		stake   string
		payout  string
	)
	err := row.Scan(
		&claimID,
		&voucher,
		&vouch.Supports,
		&weight,
		&stake,
		&vouch.CastAt,
		&payout,
		&vouch.RewardsClaimed,
	)
	if err != nil {
		return nil, err
	}
	vouch.ClaimID = domain.ClaimID(claimID)
	vouch.Voucher = domain.Address(voucher)
	if vouch.Weight, err = parseAmount(weight); err != nil {
		return nil, err
	}
	if vouch.Stake, err = parseAmount(stake); err != nil {
		return nil, err
	}
	if vouch.Payout, err = parseAmount(payout); err != nil {
		return nil, err
	}
	return &vouch, nil
}

// Weight, stake, and payout columns are NUMERIC(20,0); decimal strings carry
// the full unsigned range without a signed BIGINT detour.
func parseAmount(raw string) (uint64, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return value, nil
}
