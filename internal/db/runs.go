package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStore persists agent cycle executions.
type RunStore struct {
	db *DB
}

// NewRunStore creates a run store.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Start inserts a running run row and stamps the agent's last_run_at.
func (s *RunStore) Start(ctx context.Context, agentID uuid.UUID) (*AgentRun, error) {
	run := &AgentRun{
		ID:        uuid.New(),
		AgentID:   agentID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO agent_runs (id, agent_id, status, started_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.AgentID, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert agent run: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE agents SET last_run_at = $2, updated_at = NOW() WHERE id = $1`,
		agentID, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp last run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run start: %w", err)
	}
	return run, nil
}

// End completes a run with its outcome. A non-empty errMsg marks the run
// errored regardless of the requested status.
func (s *RunStore) End(ctx context.Context, runID uuid.UUID, status RunStatus, result json.RawMessage, errMsg string) error {
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
		status = RunStatusError
	}
	if len(result) == 0 {
		result = nil
	}

	tag, err := s.db.pool.Exec(ctx, `
		UPDATE agent_runs
		SET status = $2, completed_at = NOW(), result = $3, error = $4
		WHERE id = $1`,
		runID, status, result, errPtr)
	if err != nil {
		return fmt.Errorf("failed to end agent run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent run %w: %s", ErrNotFound, runID)
	}
	return nil
}

// ListByAgent returns the most recent runs for an agent, newest first.
func (s *RunStore) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]*AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, agent_id, status, started_at, completed_at, result, error
		FROM agent_runs
		WHERE agent_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		var r AgentRun
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.Result, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// CountByAgent returns (successful, failed) run counts for an agent. A run
// that ended idle counts as successful.
func (s *RunStore) CountByAgent(ctx context.Context, agentID uuid.UUID) (successful, failed int, err error) {
	err = s.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'idle'),
			COUNT(*) FILTER (WHERE status = 'error')
		FROM agent_runs WHERE agent_id = $1`,
		agentID).Scan(&successful, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count agent runs: %w", err)
	}
	return successful, failed, nil
}
