package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Activity types recorded by agents and the orchestrator.
const (
	ActivityStarted        = "started"
	ActivityStopped        = "stopped"
	ActivityPaused         = "paused"
	ActivityCycleBegin     = "cycle_begin"
	ActivityCycleEnd       = "cycle_end"
	ActivityMarketClosed   = "market_closed"
	ActivityAnalysis       = "analysis"
	ActivityTradeSignal    = "trade_signal"
	ActivityOrderPlaced    = "order_placed"
	ActivityOrderFilled    = "order_filled"
	ActivityOrderCancelled = "order_cancelled"
	ActivityPositionOpened = "position_opened"
	ActivityPositionClosed = "position_closed"
	ActivityStopTriggered  = "stop_triggered"
	ActivityTargetHit      = "target_hit"
	ActivityError          = "error"
	ActivityWarning        = "warning"
	ActivityInfo           = "info"
)

// ActivityStore is the append-only event log shared by all agents.
type ActivityStore struct {
	db *DB
}

// NewActivityStore creates an activity store.
func NewActivityStore(db *DB) *ActivityStore {
	return &ActivityStore{db: db}
}

const activityColumns = `id, agent_id, activity_type, message, details, created_at`

func scanActivity(row pgx.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.AgentID, &a.Type, &a.Message, &a.Details, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Record appends one activity row.
func (s *ActivityStore) Record(ctx context.Context, a *Activity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO activities (id, agent_id, activity_type, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.AgentID, a.Type, a.Message, a.Details, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ActivityFilter narrows Recent queries. Zero values mean "no filter".
type ActivityFilter struct {
	AgentID *uuid.UUID
	Types   []string
	Since   *time.Time
	Limit   int
}

// Recent returns activities newest first. Default limit is 50.
func (s *ActivityStore) Recent(ctx context.Context, f ActivityFilter) ([]*Activity, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + activityColumns + ` FROM activities WHERE 1=1`
	args := []any{}
	n := 0
	if f.AgentID != nil {
		n++
		query += fmt.Sprintf(` AND agent_id = $%d`, n)
		args = append(args, *f.AgentID)
	}
	if len(f.Types) > 0 {
		n++
		query += fmt.Sprintf(` AND activity_type = ANY($%d)`, n)
		args = append(args, f.Types)
	}
	if f.Since != nil {
		n++
		query += fmt.Sprintf(` AND created_at >= $%d`, n)
		args = append(args, *f.Since)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// Today returns up to 200 of today's activities, newest first. The day
// boundary is midnight UTC.
func (s *ActivityStore) Today(ctx context.Context) ([]*Activity, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	return s.Recent(ctx, ActivityFilter{Since: &midnight, Limit: 200})
}

// ClearOld deletes activities older than the cutoff and returns the count.
func (s *ActivityStore) ClearOld(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx,
		`DELETE FROM activities WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear old activities: %w", err)
	}
	return tag.RowsAffected(), nil
}
