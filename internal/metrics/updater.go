package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically refreshes the database-derived gauges: open
// position counts, realized PnL, win rates, watchlist sizes, agent run
// states and pool connection stats.
type Updater struct {
	db       *pgxpool.Pool
	pools    map[string]*pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates an updater that queries through db.
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		pools:    make(map[string]*pgxpool.Pool),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// TrackPool registers a pool for the connection gauges. Call before
// Start; the map is not guarded.
func (u *Updater) TrackPool(name string, pool *pgxpool.Pool) {
	u.pools[name] = pool
}

// Start runs the refresh loop until Stop or context cancellation.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the refresh loop.
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	u.updatePositionGauges(ctx)
	u.updateTradeGauges(ctx)
	u.updateWatchlistGauges(ctx)
	u.updateAgentGauges(ctx)
	u.updatePoolGauges()
}

func (u *Updater) updatePositionGauges(ctx context.Context) {
	queries := map[string]string{
		FamilyCrypto:  `SELECT COUNT(*) FROM crypto_positions WHERE status = 'open'`,
		FamilyEquity:  `SELECT COUNT(*) FROM gem_positions WHERE status = 'open'`,
		FamilyOptions: `SELECT COUNT(*) FROM options_trades WHERE status = 'open'`,
	}
	for family, query := range queries {
		var n int64
		if err := u.db.QueryRow(ctx, query).Scan(&n); err != nil {
			log.Debug().Err(err).Str("family", family).Msg("Position gauge refresh failed")
			continue
		}
		OpenPositions.WithLabelValues(family).Set(float64(n))
	}
}

// updateTradeGauges refreshes realized PnL and win rate per family.
// Crypto fills carry pnl on the closing fill; equity and options record
// it on the closed position row.
func (u *Updater) updateTradeGauges(ctx context.Context) {
	queries := []struct {
		family string
		query  string
	}{
		{FamilyCrypto, `
			SELECT COALESCE(SUM(pnl), 0),
			       COUNT(*) FILTER (WHERE pnl IS NOT NULL),
			       COUNT(*) FILTER (WHERE pnl > 0)
			FROM crypto_trades`},
		{FamilyEquity, `
			SELECT COALESCE(SUM(realized_pnl), 0),
			       COUNT(*),
			       COUNT(*) FILTER (WHERE realized_pnl > 0)
			FROM gem_positions WHERE status = 'closed'`},
		{FamilyOptions, `
			SELECT COALESCE(SUM(pnl), 0),
			       COUNT(*),
			       COUNT(*) FILTER (WHERE pnl > 0)
			FROM options_trades WHERE status = 'closed'`},
	}
	for _, fq := range queries {
		var pnl float64
		var closed, wins int64
		if err := u.db.QueryRow(ctx, fq.query).Scan(&pnl, &closed, &wins); err != nil {
			log.Debug().Err(err).Str("family", fq.family).Msg("Trade gauge refresh failed")
			continue
		}
		RealizedPnL.WithLabelValues(fq.family).Set(pnl)
		if closed > 0 {
			WinRate.WithLabelValues(fq.family).Set(float64(wins) / float64(closed))
		}
	}
}

func (u *Updater) updateWatchlistGauges(ctx context.Context) {
	queries := map[string]string{
		FamilyCrypto: `SELECT COUNT(*) FROM crypto_watchlist WHERE status = 'watching'`,
		FamilyEquity: `SELECT COUNT(*) FROM gem_watchlist WHERE status = 'watching'`,
	}
	for family, query := range queries {
		var n int64
		if err := u.db.QueryRow(ctx, query).Scan(&n); err != nil {
			log.Debug().Err(err).Str("family", family).Msg("Watchlist gauge refresh failed")
			continue
		}
		WatchlistSize.WithLabelValues(family).Set(float64(n))
	}
}

func (u *Updater) updateAgentGauges(ctx context.Context) {
	rows, err := u.db.Query(ctx, `SELECT name, status FROM agents`)
	if err != nil {
		log.Debug().Err(err).Msg("Agent gauge refresh failed")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			continue
		}
		SetAgentUp(name, status == "running")
	}
}

func (u *Updater) updatePoolGauges() {
	for name, pool := range u.pools {
		stat := pool.Stat()
		SetDBPoolStats(name, stat.AcquiredConns(), stat.IdleConns())
	}
}
