package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AgentStore persists agent identities and configuration.
type AgentStore struct {
	db *DB
}

// NewAgentStore creates an agent store.
func NewAgentStore(db *DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, name, kind, status, active, config, last_run_at, created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.Status, &a.Active, &a.Config,
		&a.LastRunAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new agent. A nil ID gets generated; zero timestamps are
// stamped with now.
func (s *AgentStore) Create(ctx context.Context, agent *Agent) error {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = AgentStatusIdle
	}
	if len(agent.Config) == 0 {
		agent.Config = json.RawMessage(`{}`)
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO agents (id, name, kind, status, active, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		agent.ID, agent.Name, agent.Kind, agent.Status, agent.Active,
		agent.Config, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// Get returns an agent by id.
func (s *AgentStore) Get(ctx context.Context, id uuid.UUID) (*Agent, error) {
	agent, err := scanAgent(s.db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// GetByName returns an agent by its unique name.
func (s *AgentStore) GetByName(ctx context.Context, name string) (*Agent, error) {
	agent, err := scanAgent(s.db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent by name: %w", err)
	}
	return agent, nil
}

// List returns all agents ordered by name.
func (s *AgentStore) List(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// ListByStatus returns agents in the given status.
func (s *AgentStore) ListByStatus(ctx context.Context, status AgentStatus) ([]*Agent, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE status = $1 ORDER BY name`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents by status: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateStatus transitions an agent's lifecycle status.
func (s *AgentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status AgentStatus) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %w: %s", ErrNotFound, id)
	}
	return nil
}

// SetActive flips an agent's active flag.
func (s *AgentStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE agents SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set agent active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %w: %s", ErrNotFound, id)
	}
	return nil
}

// SetActiveByKind flips the active flag for every agent of a kind.
// Used by regime transitions to switch whole agent families.
func (s *AgentStore) SetActiveByKind(ctx context.Context, kind string, active bool) (int64, error) {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE agents SET active = $2, updated_at = NOW() WHERE kind = $1`, kind, active)
	if err != nil {
		return 0, fmt.Errorf("failed to set active flag for kind %s: %w", kind, err)
	}
	return tag.RowsAffected(), nil
}

// UpdateConfig replaces an agent's config blob. Unknown keys are preserved
// by the merge performed at the service layer.
func (s *AgentStore) UpdateConfig(ctx context.Context, id uuid.UUID, config json.RawMessage) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE agents SET config = $2, updated_at = NOW() WHERE id = $1`, id, config)
	if err != nil {
		return fmt.Errorf("failed to update agent config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %w: %s", ErrNotFound, id)
	}
	return nil
}

// StampLastRun records the moment an agent cycle started.
func (s *AgentStore) StampLastRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.pool.Exec(ctx,
		`UPDATE agents SET last_run_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp agent last run: %w", err)
	}
	return nil
}
