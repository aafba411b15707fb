package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RegimeStore persists the market-stance history. At most one regime row
// is active at any time; transitions are atomic.
type RegimeStore struct {
	db *DB
}

// NewRegimeStore creates a regime store.
func NewRegimeStore(db *DB) *RegimeStore {
	return &RegimeStore{db: db}
}

const regimeColumns = `id, regime_type, qqq_price_at_start, recovery_strike,
	started_at, ended_at, is_active`

func scanRegime(row pgx.Row) (*Regime, error) {
	var r Regime
	err := row.Scan(&r.ID, &r.RegimeType, &r.QQQPriceAtStart, &r.RecoveryStrike,
		&r.StartedAt, &r.EndedAt, &r.IsActive)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetCurrent returns the active regime, or nil when none exists yet.
func (s *RegimeStore) GetCurrent(ctx context.Context) (*Regime, error) {
	r, err := scanRegime(s.db.pool.QueryRow(ctx,
		`SELECT `+regimeColumns+` FROM regime_history WHERE is_active = TRUE
		 ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current regime: %w", err)
	}
	return r, nil
}

// SetRegime ends the active regime and starts a new one in a single
// transaction, so there is no window with zero or two active rows.
func (s *RegimeStore) SetRegime(ctx context.Context, regimeType RegimeType, qqqPrice, recoveryStrike *float64) (*Regime, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin regime transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE regime_history SET is_active = FALSE, ended_at = $1
		WHERE is_active = TRUE`, now); err != nil {
		return nil, fmt.Errorf("failed to end current regime: %w", err)
	}

	r := &Regime{
		ID:              uuid.New(),
		RegimeType:      regimeType,
		QQQPriceAtStart: qqqPrice,
		RecoveryStrike:  recoveryStrike,
		StartedAt:       now,
		IsActive:        true,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO regime_history (id, regime_type, qqq_price_at_start,
			recovery_strike, started_at, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)`,
		r.ID, r.RegimeType, r.QQQPriceAtStart, r.RecoveryStrike, r.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to insert regime: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit regime transition: %w", err)
	}
	return r, nil
}

// History returns regimes newest first.
func (s *RegimeStore) History(ctx context.Context, limit int) ([]*Regime, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+regimeColumns+` FROM regime_history
		 ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list regime history: %w", err)
	}
	defer rows.Close()

	var regimes []*Regime
	for rows.Next() {
		r, err := scanRegime(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regime: %w", err)
		}
		regimes = append(regimes, r)
	}
	return regimes, rows.Err()
}
