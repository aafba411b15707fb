package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MetricStore persists point-in-time measurements for dashboards. These
// are the queryable history; live gauges are served by Prometheus.
type MetricStore struct {
	db *DB
}

// NewMetricStore creates a metric store.
func NewMetricStore(db *DB) *MetricStore {
	return &MetricStore{db: db}
}

// RecordAgentMetric appends one per-agent measurement.
func (s *MetricStore) RecordAgentMetric(ctx context.Context, agentID uuid.UUID, name string, value float64) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO agent_metrics (id, agent_id, metric_name, metric_value, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New(), agentID, name, value)
	if err != nil {
		return fmt.Errorf("failed to record agent metric: %w", err)
	}
	return nil
}

// RecordSystemMetric appends one process-wide measurement.
func (s *MetricStore) RecordSystemMetric(ctx context.Context, name string, value float64, metadata json.RawMessage) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO system_metrics (id, metric_name, metric_value, metric_metadata, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New(), name, value, metadata)
	if err != nil {
		return fmt.Errorf("failed to record system metric: %w", err)
	}
	return nil
}

// AgentMetricHistory returns one metric's series for an agent, oldest first.
func (s *MetricStore) AgentMetricHistory(ctx context.Context, agentID uuid.UUID, name string, since time.Time) ([]*AgentMetric, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, agent_id, metric_name, metric_value, recorded_at
		FROM agent_metrics
		WHERE agent_id = $1 AND metric_name = $2 AND recorded_at >= $3
		ORDER BY recorded_at`, agentID, name, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*AgentMetric
	for rows.Next() {
		var m AgentMetric
		if err := rows.Scan(&m.ID, &m.AgentID, &m.MetricName, &m.Value, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// SystemMetricHistory returns one system metric's series, oldest first.
func (s *MetricStore) SystemMetricHistory(ctx context.Context, name string, since time.Time) ([]*SystemMetric, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, metric_name, metric_value, metric_metadata, recorded_at
		FROM system_metrics
		WHERE metric_name = $1 AND recorded_at >= $2
		ORDER BY recorded_at`, name, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query system metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*SystemMetric
	for rows.Next() {
		var m SystemMetric
		if err := rows.Scan(&m.ID, &m.MetricName, &m.Value, &m.Metadata, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan system metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// AgentMetricsSince returns every metric an agent recorded in the
// window, oldest first.
func (s *MetricStore) AgentMetricsSince(ctx context.Context, agentID uuid.UUID, since time.Time) ([]*AgentMetric, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, agent_id, metric_name, metric_value, recorded_at
		FROM agent_metrics
		WHERE agent_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*AgentMetric
	for rows.Next() {
		var m AgentMetric
		if err := rows.Scan(&m.ID, &m.AgentID, &m.MetricName, &m.Value, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// SystemMetricsSince returns system metrics in the window, oldest
// first. An empty name matches every metric.
func (s *MetricStore) SystemMetricsSince(ctx context.Context, name string, since time.Time) ([]*SystemMetric, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, metric_name, metric_value, metric_metadata, recorded_at
		FROM system_metrics
		WHERE ($1 = '' OR metric_name = $1) AND recorded_at >= $2
		ORDER BY recorded_at`, name, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query system metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*SystemMetric
	for rows.Next() {
		var m SystemMetric
		if err := rows.Scan(&m.ID, &m.MetricName, &m.Value, &m.Metadata, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan system metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// PnLPoint is one day's realized profit across all trading families.
type PnLPoint struct {
	Day time.Time `json:"day"`
	PnL float64   `json:"pnl"`
}

// PnLByDay sums realized pnl per calendar day since the cutoff, across
// options trades and both hunter position tables.
func (s *MetricStore) PnLByDay(ctx context.Context, since time.Time) ([]PnLPoint, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT day, SUM(pnl) FROM (
			SELECT closed_at::date AS day, pnl
			FROM options_trades
			WHERE status = 'closed' AND pnl IS NOT NULL AND closed_at >= $1
			UNION ALL
			SELECT closed_at::date, realized_pnl
			FROM crypto_positions
			WHERE realized_pnl IS NOT NULL AND closed_at >= $1
			UNION ALL
			SELECT closed_at::date, realized_pnl
			FROM gem_positions
			WHERE realized_pnl IS NOT NULL AND closed_at >= $1
		) realized
		GROUP BY day ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query pnl by day: %w", err)
	}
	defer rows.Close()

	var points []PnLPoint
	for rows.Next() {
		var p PnLPoint
		if err := rows.Scan(&p.Day, &p.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan pnl point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// TradeTypeBreakdown summarises options trades of one type.
type TradeTypeBreakdown struct {
	TradeType string  `json:"trade_type"`
	Total     int     `json:"total"`
	Open      int     `json:"open"`
	TotalPnL  float64 `json:"total_pnl"`
}

// TradesByType groups the options blotter by trade type.
func (s *MetricStore) TradesByType(ctx context.Context) ([]TradeTypeBreakdown, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT trade_type, COUNT(*),
			COUNT(*) FILTER (WHERE status = 'open'),
			COALESCE(SUM(pnl), 0)
		FROM options_trades
		GROUP BY trade_type ORDER BY trade_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades by type: %w", err)
	}
	defer rows.Close()

	var breakdown []TradeTypeBreakdown
	for rows.Next() {
		var b TradeTypeBreakdown
		if err := rows.Scan(&b.TradeType, &b.Total, &b.Open, &b.TotalPnL); err != nil {
			return nil, fmt.Errorf("failed to scan trade type: %w", err)
		}
		breakdown = append(breakdown, b)
	}
	return breakdown, rows.Err()
}

// LatestAgentMetrics returns the most recent value of every metric an
// agent has recorded, keyed by metric name.
func (s *MetricStore) LatestAgentMetrics(ctx context.Context, agentID uuid.UUID) (map[string]float64, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT DISTINCT ON (metric_name) metric_name, metric_value
		FROM agent_metrics
		WHERE agent_id = $1
		ORDER BY metric_name, recorded_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest agent metrics: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		latest[name] = value
	}
	return latest, rows.Err()
}
