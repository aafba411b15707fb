package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WatchlistStore persists scored candidates. One instance serves one
// family table (crypto_watchlist or gem_watchlist).
type WatchlistStore struct {
	db    *DB
	table string
}

// NewWatchlistStore creates a watchlist store over the given family table.
func NewWatchlistStore(db *DB, table string) *WatchlistStore {
	return &WatchlistStore{db: db, table: table}
}

const watchlistColumns = `id, agent_id, symbol, composite_score, trend_score,
	fundamental_score, momentum_score, entry_price, target_price, stop_loss,
	entry_trigger, status, analysis, created_at, updated_at`

func scanWatchlistEntry(row pgx.Row) (*WatchlistEntry, error) {
	var w WatchlistEntry
	err := row.Scan(&w.ID, &w.AgentID, &w.Symbol, &w.CompositeScore,
		&w.TrendScore, &w.FundamentalScore, &w.MomentumScore, &w.EntryPrice,
		&w.TargetPrice, &w.StopLoss, &w.EntryTrigger, &w.Status, &w.Analysis,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Upsert inserts or refreshes the single watching row for (agent, symbol).
// The partial unique index enforces at most one watching row per pair; a
// rescan updates scores in place instead of duplicating.
func (s *WatchlistStore) Upsert(ctx context.Context, w *WatchlistEntry) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.Status == "" {
		w.Status = WatchlistStatusWatching
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (id, agent_id, symbol, composite_score,
			trend_score, fundamental_score, momentum_score, entry_price,
			target_price, stop_loss, entry_trigger, status, analysis,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (agent_id, symbol) WHERE status = 'watching'
		DO UPDATE SET
			composite_score = EXCLUDED.composite_score,
			trend_score = EXCLUDED.trend_score,
			fundamental_score = EXCLUDED.fundamental_score,
			momentum_score = EXCLUDED.momentum_score,
			entry_price = EXCLUDED.entry_price,
			target_price = EXCLUDED.target_price,
			stop_loss = EXCLUDED.stop_loss,
			entry_trigger = EXCLUDED.entry_trigger,
			analysis = EXCLUDED.analysis,
			updated_at = EXCLUDED.updated_at`,
		w.ID, w.AgentID, w.Symbol, w.CompositeScore, w.TrendScore,
		w.FundamentalScore, w.MomentumScore, w.EntryPrice, w.TargetPrice,
		w.StopLoss, w.EntryTrigger, w.Status, w.Analysis, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist entry: %w", err)
	}
	return nil
}

// Get returns the watching row for (agent, symbol), if any.
func (s *WatchlistStore) Get(ctx context.Context, agentID uuid.UUID, symbol string) (*WatchlistEntry, error) {
	w, err := scanWatchlistEntry(s.db.pool.QueryRow(ctx,
		`SELECT `+watchlistColumns+` FROM `+s.table+`
		 WHERE agent_id = $1 AND symbol = $2 AND status = 'watching'`,
		agentID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("watchlist entry %w: %s", ErrNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	return w, nil
}

// ListWatching returns watching rows for an agent, best score first.
func (s *WatchlistStore) ListWatching(ctx context.Context, agentID uuid.UUID) ([]*WatchlistEntry, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+watchlistColumns+` FROM `+s.table+`
		 WHERE agent_id = $1 AND status = 'watching'
		 ORDER BY composite_score DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	defer rows.Close()

	var entries []*WatchlistEntry
	for rows.Next() {
		w, err := scanWatchlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		entries = append(entries, w)
	}
	return entries, rows.Err()
}

// UpdateStatus transitions a watchlist row.
func (s *WatchlistStore) UpdateStatus(ctx context.Context, id uuid.UUID, status WatchlistStatus) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE `+s.table+` SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update watchlist status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist entry %w: %s", ErrNotFound, id)
	}
	return nil
}

// Remove marks the watching row for (agent, symbol) removed.
func (s *WatchlistStore) Remove(ctx context.Context, agentID uuid.UUID, symbol string) error {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE `+s.table+` SET status = 'removed', updated_at = NOW()
		WHERE agent_id = $1 AND symbol = $2 AND status = 'watching'`,
		agentID, symbol)
	if err != nil {
		return fmt.Errorf("failed to remove watchlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist entry %w: %s", ErrNotFound, symbol)
	}
	return nil
}

// ExpireStale silently expires watching rows older than the cutoff and
// returns how many transitioned.
func (s *WatchlistStore) ExpireStale(ctx context.Context, agentID uuid.UUID, cutoff time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE `+s.table+` SET status = 'expired', updated_at = NOW()
		WHERE agent_id = $1 AND status = 'watching' AND created_at < $2`,
		agentID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire watchlist entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TrimToTop keeps only the best maxEntries watching rows for an agent,
// marking the overflow removed. Returns how many were trimmed.
func (s *WatchlistStore) TrimToTop(ctx context.Context, agentID uuid.UUID, maxEntries int) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE `+s.table+` SET status = 'removed', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM `+s.table+`
			WHERE agent_id = $1 AND status = 'watching'
			ORDER BY composite_score DESC
			OFFSET $2
		)`, agentID, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to trim watchlist: %w", err)
	}
	return tag.RowsAffected(), nil
}
