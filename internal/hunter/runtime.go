package hunter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
	"github.com/ajitpratap0/tradehawk/internal/scheduler"
)

// defaultCycleTimeout bounds one hunt. Quote batches and the public
// data clients are all rate limited, so a stuck cycle means a stuck
// upstream, not slow progress.
const defaultCycleTimeout = 15 * time.Minute

// Runtime manages hunter lifecycles: scheduling, run records, and
// agent status transitions. One Runtime serves the whole process.
type Runtime struct {
	agents   *db.AgentStore
	runs     *db.RunStore
	sched    *scheduler.Scheduler
	activity ActivitySink
	logger   zerolog.Logger

	cycleTimeout time.Duration

	mu     sync.RWMutex
	byKind map[string]*Hunter
	byID   map[uuid.UUID]*Hunter
}

// NewRuntime builds the lifecycle manager. Hunters register afterwards.
func NewRuntime(agents *db.AgentStore, runs *db.RunStore, sched *scheduler.Scheduler, activity ActivitySink) *Runtime {
	return &Runtime{
		agents:       agents,
		runs:         runs,
		sched:        sched,
		activity:     activity,
		logger:       log.With().Str("component", "hunter_runtime").Logger(),
		cycleTimeout: defaultCycleTimeout,
		byKind:       make(map[string]*Hunter),
		byID:         make(map[uuid.UUID]*Hunter),
	}
}

// Register adds a hunter to the runtime. Later registrations for the
// same kind replace earlier ones.
func (r *Runtime) Register(h *Hunter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[h.Kind()] = h
	r.byID[h.AgentID()] = h
}

// Hunter looks a hunter up by agent kind.
func (r *Runtime) Hunter(kind string) (*Hunter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byKind[kind]
	return h, ok
}

// HunterByID looks a hunter up by its agent row id.
func (r *Runtime) HunterByID(id uuid.UUID) (*Hunter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// Hunters returns all registered hunters.
func (r *Runtime) Hunters() []*Hunter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Hunter, 0, len(r.byID))
	for _, h := range r.byID {
		out = append(out, h)
	}
	return out
}

// Bootstrap schedules every registered hunter whose agent row is
// running and whose config opts into scheduled trading. Called once at
// process startup so agents resume where they left off.
func (r *Runtime) Bootstrap(ctx context.Context) error {
	running, err := r.agents.ListByStatus(ctx, db.AgentStatusRunning)
	if err != nil {
		return fmt.Errorf("load running agents: %w", err)
	}
	for _, agent := range running {
		h, ok := r.HunterByID(agent.ID)
		if !ok {
			continue // the orchestrator family schedules elsewhere
		}
		if !AutoScheduled(agent.Config) {
			r.logger.Info().Str("agent", agent.Name).Msg("Agent running but trading disabled, not scheduling")
			continue
		}
		if err := r.schedule(h); err != nil {
			r.logger.Error().Err(err).Str("agent", agent.Name).Msg("Failed to schedule agent")
			continue
		}
		r.logger.Info().Str("agent", agent.Name).Msg("Agent auto-scheduled")
	}
	return nil
}

func (r *Runtime) schedule(h *Hunter) error {
	return r.sched.Add(scheduler.JobSpec{
		ID:       h.AgentID().String(),
		Name:     h.Name(),
		Interval: h.Profile().ScanInterval,
		Agent:    true,
		Run: func(ctx context.Context) error {
			return r.runCycle(ctx, h)
		},
	})
}

// Start marks the agent running and schedules its cycle job.
func (r *Runtime) Start(ctx context.Context, kind string) error {
	h, ok := r.Hunter(kind)
	if !ok {
		return fmt.Errorf("no hunter registered for kind %q", kind)
	}
	if err := r.agents.UpdateStatus(ctx, h.AgentID(), db.AgentStatusRunning); err != nil {
		return fmt.Errorf("mark agent running: %w", err)
	}
	if err := r.schedule(h); err != nil {
		return err
	}
	agentID := h.AgentID()
	r.activity.Info(ctx, &agentID, fmt.Sprintf("Agent %s started", h.Name()))
	return nil
}

// Stop idles the agent and unschedules its job. An in-flight cycle is
// left to finish; it sees the status change at its next gate.
func (r *Runtime) Stop(ctx context.Context, kind string) error {
	h, ok := r.Hunter(kind)
	if !ok {
		return fmt.Errorf("no hunter registered for kind %q", kind)
	}
	if err := r.agents.UpdateStatus(ctx, h.AgentID(), db.AgentStatusIdle); err != nil {
		return fmt.Errorf("mark agent idle: %w", err)
	}
	r.sched.RemoveByName(h.Name())
	agentID := h.AgentID()
	r.activity.Info(ctx, &agentID, fmt.Sprintf("Agent %s stopped", h.Name()))
	return nil
}

// Pause keeps the job scheduled but the status gate skips every tick
// until the agent is started again.
func (r *Runtime) Pause(ctx context.Context, kind string) error {
	h, ok := r.Hunter(kind)
	if !ok {
		return fmt.Errorf("no hunter registered for kind %q", kind)
	}
	if err := r.agents.UpdateStatus(ctx, h.AgentID(), db.AgentStatusPaused); err != nil {
		return fmt.Errorf("mark agent paused: %w", err)
	}
	agentID := h.AgentID()
	r.activity.Info(ctx, &agentID, fmt.Sprintf("Agent %s paused", h.Name()))
	return nil
}

// TriggerScan runs one cycle in the background, bypassing the
// auto-trade gate but not the single-flight lock. Mirrors the manual
// scan endpoint: the user asked, so the cycle runs even when scheduled
// trading is off.
func (r *Runtime) TriggerScan(kind string) error {
	h, ok := r.Hunter(kind)
	if !ok {
		return fmt.Errorf("no hunter registered for kind %q", kind)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cycleTimeout)
		defer cancel()
		if err := r.recordedCycle(ctx, h); err != nil {
			r.logger.Warn().Err(err).Str("agent", h.Name()).Msg("Manual scan failed")
		}
	}()
	return nil
}

// UpdateConfig merges a config patch into a hunter and re-schedules its
// job when the scan interval is in effect.
func (r *Runtime) UpdateConfig(ctx context.Context, kind string, patch json.RawMessage) (json.RawMessage, error) {
	h, ok := r.Hunter(kind)
	if !ok {
		return nil, fmt.Errorf("no hunter registered for kind %q", kind)
	}
	merged, err := h.UpdateConfig(ctx, patch)
	if err != nil {
		return nil, err
	}
	if r.sched.Has(h.AgentID().String()) {
		if err := r.schedule(h); err != nil {
			r.logger.Warn().Err(err).Str("agent", h.Name()).Msg("Failed to re-schedule after config change")
		}
	}
	return merged, nil
}

// runCycle is the scheduled job body: re-read the agent row, apply the
// gates, and run one recorded cycle.
func (r *Runtime) runCycle(parent context.Context, h *Hunter) error {
	agent, err := r.agents.Get(parent, h.AgentID())
	if err != nil {
		return fmt.Errorf("load agent %s: %w", h.Name(), err)
	}
	if agent.Status != db.AgentStatusRunning {
		r.logger.Debug().Str("agent", h.Name()).Str("status", string(agent.Status)).Msg("Skipping cycle, agent not running")
		return nil
	}
	if !AutoScheduled(agent.Config) {
		r.logger.Debug().Str("agent", h.Name()).Msg("Skipping cycle, trading disabled")
		return nil
	}

	// Pick up config edits made outside this process.
	if !bytes.Equal(agent.Config, h.ConfigJSON()) {
		if err := h.ApplyConfig(agent.Config); err != nil {
			r.logger.Warn().Err(err).Str("agent", h.Name()).Msg("Stored config invalid, keeping previous")
		}
	}

	ctx, cancel := context.WithTimeout(parent, r.cycleTimeout)
	defer cancel()
	return r.recordedCycle(ctx, h)
}

// recordedCycle wraps one cycle in an agent run row.
func (r *Runtime) recordedCycle(ctx context.Context, h *Hunter) error {
	run, err := r.runs.Start(ctx, h.AgentID())
	if err != nil {
		r.logger.Warn().Err(err).Str("agent", h.Name()).Msg("Failed to open run record")
		run = nil
	}

	start := time.Now()
	summary, err := h.RunCycle(ctx)
	elapsedMs := time.Since(start).Seconds() * 1000
	if err != nil {
		metrics.RecordCycle(h.Name(), metrics.OutcomeError, elapsedMs)
		if run != nil {
			if endErr := r.runs.End(ctx, run.ID, db.RunStatusError, nil, err.Error()); endErr != nil {
				r.logger.Warn().Err(endErr).Msg("Failed to close run record")
			}
		}
		return err
	}
	metrics.RecordCycle(h.Name(), metrics.OutcomeOK, elapsedMs)

	if run != nil {
		blob, merr := json.Marshal(summary)
		if merr != nil {
			blob = nil
		}
		if endErr := r.runs.End(ctx, run.ID, db.RunStatusIdle, blob, ""); endErr != nil {
			r.logger.Warn().Err(endErr).Msg("Failed to close run record")
		}
	}
	return nil
}
