package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"knomee/internal/governance/models"
	"knomee/pkg/domain"
	"knomee/pkg/platform/sentinel"
)

// PostgresStore persists the singleton governance state in PostgreSQL.
// Parameters are stored as JSONB; the row is locked FOR UPDATE during Execute
// so concurrent governance calls serialize.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Init(ctx context.Context, state *models.State) error {
	params, err := json.Marshal(state.Params)
	if err != nil {
		return fmt.Errorf("marshal governance params: %w", err)
	}
	query := `
		INSERT INTO governance_state (id, authority, override_authority, override_active, warp_offset_ns, params, launched_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		state.Authority.String(),
		state.Override.String(),
		state.OverrideActive,
		int64(state.WarpOffset),
		params,
		state.LaunchedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("init governance state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("init governance state rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*models.State, error) {
	query := `
		SELECT authority, override_authority, override_active, warp_offset_ns, params, launched_at, updated_at
		FROM governance_state
		WHERE id = 1
	`
	state, err := scanState(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load governance state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Execute(
	ctx context.Context,
	validate func(*models.State) error,
	mutate func(*models.State),
) (*models.State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin governance update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		SELECT authority, override_authority, override_active, warp_offset_ns, params, launched_at, updated_at
		FROM governance_state
		WHERE id = 1
		FOR UPDATE
	`
	state, err := scanState(tx.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock governance state: %w", err)
	}

	if err := validate(state); err != nil {
		return nil, err
	}
	mutate(state)

	params, err := json.Marshal(state.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal governance params: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE governance_state
		SET override_active = $1, warp_offset_ns = $2, params = $3, updated_at = $4
		WHERE id = 1
	`,
		state.OverrideActive,
		int64(state.WarpOffset),
		params,
		state.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update governance state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit governance update: %w", err)
	}
	return state, nil
}

type stateRow interface {
	Scan(dest ...any) error
}

func scanState(row stateRow) (*models.State, error) {
	var (
		state        models.State
		authority    string
		override     string
		warpOffsetNs int64
		rawParams    []byte
	)
	if err := row.Scan(&authority, &override, &state.OverrideActive, &warpOffsetNs, &rawParams, &state.LaunchedAt, &state.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawParams, &state.Params); err != nil {
		return nil, fmt.Errorf("unmarshal governance params: %w", err)
	}
	state.Authority = domain.Address(authority)
	state.Override = domain.Address(override)
	state.WarpOffset = time.Duration(warpOffsetNs)
	return &state, nil
}
