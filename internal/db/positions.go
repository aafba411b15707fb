package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PositionStore persists hunter positions. One instance serves one family
// table (crypto_positions or gem_positions); both share a schema.
type PositionStore struct {
	db    *DB
	table string
}

// NewPositionStore creates a position store over the given family table.
func NewPositionStore(db *DB, table string) *PositionStore {
	return &PositionStore{db: db, table: table}
}

const positionColumns = `id, agent_id, symbol, side, quantity, entry_price,
	allocated_amount, stop_loss, take_profit, current_price, status,
	realized_pnl, unrealized_pnl, entry_reason, exit_reason, exit_price,
	entry_order_id, exit_order_id, created_at, closed_at`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(&p.ID, &p.AgentID, &p.Symbol, &p.Side, &p.Quantity,
		&p.EntryPrice, &p.AllocatedAmount, &p.StopLoss, &p.TakeProfit,
		&p.CurrentPrice, &p.Status, &p.RealizedPnL, &p.UnrealizedPnL,
		&p.EntryReason, &p.ExitReason, &p.ExitPrice, &p.EntryOrderID,
		&p.ExitOrderID, &p.CreatedAt, &p.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts an open position. Quantity must be positive and the
// allocated amount is derived when unset.
func (s *PositionStore) Create(ctx context.Context, p *Position) error {
	if p.Quantity <= 0 {
		return fmt.Errorf("position quantity must be positive, got %f", p.Quantity)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = PositionStatusOpen
	}
	if p.AllocatedAmount == 0 {
		p.AllocatedAmount = p.Quantity * p.EntryPrice
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (id, agent_id, symbol, side, quantity,
			entry_price, allocated_amount, stop_loss, take_profit,
			current_price, status, entry_reason, entry_order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.AgentID, p.Symbol, p.Side, p.Quantity, p.EntryPrice,
		p.AllocatedAmount, p.StopLoss, p.TakeProfit, p.CurrentPrice,
		p.Status, p.EntryReason, p.EntryOrderID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// Get returns a position by id.
func (s *PositionStore) Get(ctx context.Context, id uuid.UUID) (*Position, error) {
	p, err := scanPosition(s.db.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM `+s.table+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// ListOpen returns all open positions for an agent, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context, agentID uuid.UUID) ([]*Position, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM `+s.table+`
		 WHERE agent_id = $1 AND status = 'open'
		 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListByAgent returns recent positions for an agent in any status.
func (s *PositionStore) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]*Position, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM `+s.table+`
		 WHERE agent_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpdateMark refreshes the mark price and unrealized pnl of an open position.
func (s *PositionStore) UpdateMark(ctx context.Context, id uuid.UUID, price, unrealizedPnL float64) error {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET current_price = $2, unrealized_pnl = $3
		WHERE id = $1 AND status = 'open'`,
		id, price, unrealizedPnL)
	if err != nil {
		return fmt.Errorf("failed to update position mark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open position %w: %s", ErrNotFound, id)
	}
	return nil
}

// Close settles a position. The terminal status is derived from the exit
// reason: stop_loss maps to stopped_out, take_profit to target_hit, and
// everything else to closed.
func (s *PositionStore) Close(ctx context.Context, id uuid.UUID, exitPrice, realizedPnL float64, exitReason string, exitOrderID *string) (*Position, error) {
	status := PositionStatusClosed
	switch exitReason {
	case ExitReasonStopLoss:
		status = PositionStatusStoppedOut
	case ExitReasonTakeProfit:
		status = PositionStatusTargetHit
	}

	row := s.db.pool.QueryRow(ctx, `
		UPDATE `+s.table+`
		SET status = $2, exit_price = $3, realized_pnl = $4, exit_reason = $5,
			exit_order_id = $6, unrealized_pnl = 0, closed_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING `+positionColumns,
		id, status, exitPrice, realizedPnL, exitReason, exitOrderID)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("open position %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close position: %w", err)
	}
	return p, nil
}

// CountOpen returns the number of open positions for an agent.
func (s *PositionStore) CountOpen(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+s.table+` WHERE agent_id = $1 AND status = 'open'`,
		agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return n, nil
}

// SumAllocated returns the capital deployed into open positions.
func (s *PositionStore) SumAllocated(ctx context.Context, agentID uuid.UUID) (float64, error) {
	var sum float64
	err := s.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(allocated_amount), 0)
		FROM `+s.table+` WHERE agent_id = $1 AND status = 'open'`,
		agentID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum allocated capital: %w", err)
	}
	return sum, nil
}

// DailyRealizedPnL returns realized pnl of positions closed since the given
// UTC day boundary.
func (s *PositionStore) DailyRealizedPnL(ctx context.Context, agentID uuid.UUID, since time.Time) (float64, error) {
	var pnl float64
	err := s.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM `+s.table+`
		WHERE agent_id = $1 AND closed_at >= $2`,
		agentID, since).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily realized pnl: %w", err)
	}
	return pnl, nil
}

// History returns closed positions for Kelly statistics, oldest first.
func (s *PositionStore) History(ctx context.Context, agentID uuid.UUID, limit int) ([]*Position, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM `+s.table+`
		 WHERE agent_id = $1 AND status <> 'open'
		 ORDER BY closed_at DESC
		 LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load position history: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	// Reverse into chronological order.
	for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
		positions[i], positions[j] = positions[j], positions[i]
	}
	return positions, rows.Err()
}
