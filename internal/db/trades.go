package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TradeStore persists QQQ options-family trades and crypto fill records.
type TradeStore struct {
	db *DB
}

// NewTradeStore creates a trade store.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

const optionsTradeColumns = `id, agent_id, trade_type, symbol, short_strike,
	long_strike, expiration, contracts, premium_received, max_risk, status,
	pnl, order_id, opened_at, closed_at`

func scanOptionsTrade(row pgx.Row) (*OptionsTrade, error) {
	var t OptionsTrade
	err := row.Scan(&t.ID, &t.AgentID, &t.TradeType, &t.Symbol, &t.ShortStrike,
		&t.LongStrike, &t.Expiration, &t.Contracts, &t.PremiumReceived,
		&t.MaxRisk, &t.Status, &t.PnL, &t.OrderID, &t.OpenedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateOptionsTrade records a newly opened spread or single-leg trade.
func (s *TradeStore) CreateOptionsTrade(ctx context.Context, t *OptionsTrade) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	if t.Contracts <= 0 {
		return fmt.Errorf("contracts must be positive, got %d", t.Contracts)
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO options_trades (id, agent_id, trade_type, symbol,
			short_strike, long_strike, expiration, contracts,
			premium_received, max_risk, status, pnl, order_id, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.AgentID, t.TradeType, t.Symbol, t.ShortStrike, t.LongStrike,
		t.Expiration, t.Contracts, t.PremiumReceived, t.MaxRisk, t.Status,
		t.PnL, t.OrderID, t.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to create options trade: %w", err)
	}
	return nil
}

// GetOptionsTrade fetches one trade by id.
func (s *TradeStore) GetOptionsTrade(ctx context.Context, id uuid.UUID) (*OptionsTrade, error) {
	t, err := scanOptionsTrade(s.db.pool.QueryRow(ctx,
		`SELECT `+optionsTradeColumns+` FROM options_trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get options trade: %w", err)
	}
	return t, nil
}

// ListOptionsTrades returns trades newest first, optionally filtered by status.
func (s *TradeStore) ListOptionsTrades(ctx context.Context, status string, limit int) ([]*OptionsTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + optionsTradeColumns + ` FROM options_trades`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY opened_at DESC LIMIT %d`, limit)

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list options trades: %w", err)
	}
	defer rows.Close()

	var trades []*OptionsTrade
	for rows.Next() {
		t, err := scanOptionsTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan options trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListOpenOptionsTrades returns open trades, optionally for one trade type.
func (s *TradeStore) ListOpenOptionsTrades(ctx context.Context, tradeType string) ([]*OptionsTrade, error) {
	query := `SELECT ` + optionsTradeColumns + ` FROM options_trades WHERE status = 'open'`
	args := []any{}
	if tradeType != "" {
		query += ` AND trade_type = $1`
		args = append(args, tradeType)
	}
	query += ` ORDER BY opened_at`

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list open options trades: %w", err)
	}
	defer rows.Close()

	var trades []*OptionsTrade
	for rows.Next() {
		t, err := scanOptionsTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan options trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CloseOptionsTrade records the final pnl and closes the trade.
func (s *TradeStore) CloseOptionsTrade(ctx context.Context, id uuid.UUID, pnl float64) error {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE options_trades
		SET status = 'closed', pnl = $2, closed_at = NOW()
		WHERE id = $1 AND status = 'open'`, id, pnl)
	if err != nil {
		return fmt.Errorf("failed to close options trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open trade %w: %s", ErrNotFound, id)
	}
	return nil
}

// OptionsStats aggregates lifetime options trading results. Win rate is
// the percentage of closed trades with positive pnl; average premium is
// over trades that recorded one.
func (s *TradeStore) OptionsStats(ctx context.Context) (*TradeStats, error) {
	var stats TradeStats
	err := s.db.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'open'),
			COUNT(*) FILTER (WHERE status = 'closed'),
			COALESCE(SUM(pnl) FILTER (WHERE status = 'closed'), 0),
			COALESCE(
				100.0 * COUNT(*) FILTER (WHERE status = 'closed' AND pnl > 0)
					/ NULLIF(COUNT(*) FILTER (WHERE status = 'closed'), 0),
				0),
			COALESCE(AVG(premium_received), 0)
		FROM options_trades`).
		Scan(&stats.TotalTrades, &stats.OpenTrades, &stats.ClosedTrades,
			&stats.TotalPnL, &stats.WinRate, &stats.AvgPremium)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trade stats: %w", err)
	}
	return &stats, nil
}

const cryptoTradeColumns = `id, agent_id, position_id, symbol, side, quantity,
	price, notional, fees, order_id, order_type, status, pnl, executed_at`

func scanCryptoTrade(row pgx.Row) (*CryptoTrade, error) {
	var t CryptoTrade
	err := row.Scan(&t.ID, &t.AgentID, &t.PositionID, &t.Symbol, &t.Side,
		&t.Quantity, &t.Price, &t.Notional, &t.Fees, &t.OrderID, &t.OrderType,
		&t.Status, &t.PnL, &t.ExecutedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordFill appends one crypto fill. Fills are immutable once written.
func (s *TradeStore) RecordFill(ctx context.Context, t *CryptoTrade) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now().UTC()
	}
	if t.Notional == 0 {
		t.Notional = t.Quantity * t.Price
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO crypto_trades (id, agent_id, position_id, symbol, side,
			quantity, price, notional, fees, order_id, order_type, status,
			pnl, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.AgentID, t.PositionID, t.Symbol, t.Side, t.Quantity, t.Price,
		t.Notional, t.Fees, t.OrderID, t.OrderType, t.Status, t.PnL, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}
	return nil
}

// ListFillsByAgent returns an agent's fills newest first.
func (s *TradeStore) ListFillsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]*CryptoTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+cryptoTradeColumns+` FROM crypto_trades
		 WHERE agent_id = $1 ORDER BY executed_at DESC LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	defer rows.Close()

	var trades []*CryptoTrade
	for rows.Next() {
		t, err := scanCryptoTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListFillsByPosition returns the fills attached to one position, oldest first.
func (s *TradeStore) ListFillsByPosition(ctx context.Context, positionID uuid.UUID) ([]*CryptoTrade, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+cryptoTradeColumns+` FROM crypto_trades
		 WHERE position_id = $1 ORDER BY executed_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	defer rows.Close()

	var trades []*CryptoTrade
	for rows.Next() {
		t, err := scanCryptoTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
