// Package activity records the human-readable event feed. Every entry is
// persisted and mirrored onto the event bus for live dashboards.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
)

// Recorder writes activities and fans them out. A nil bus disables the
// live feed but never the persisted log.
type Recorder struct {
	store *db.ActivityStore
	bus   *events.Bus
}

// NewRecorder creates an activity recorder.
func NewRecorder(store *db.ActivityStore, bus *events.Bus) *Recorder {
	return &Recorder{store: store, bus: bus}
}

// Record persists one activity and publishes it. Bus failures are logged
// and swallowed; losing a live frame must not fail the caller's cycle.
func (r *Recorder) Record(ctx context.Context, agentID *uuid.UUID, activityType, message string, details any) {
	var raw json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			log.Warn().Err(err).Str("type", activityType).Msg("Failed to marshal activity details")
		} else {
			raw = data
		}
	}

	act := &db.Activity{
		AgentID: agentID,
		Type:    activityType,
		Message: message,
		Details: raw,
	}
	if err := r.store.Record(ctx, act); err != nil {
		log.Error().Err(err).Str("type", activityType).Msg("Failed to persist activity")
		return
	}

	if r.bus != nil {
		source := "system"
		if agentID != nil {
			source = agentID.String()
		}
		if err := r.bus.Publish(ctx, events.TypeActivity, source, act); err != nil {
			log.Warn().Err(err).Msg("Failed to publish activity event")
		}
	}
}

// CycleBegin records the start of an agent cycle.
func (r *Recorder) CycleBegin(ctx context.Context, agentID uuid.UUID) {
	r.Record(ctx, &agentID, db.ActivityCycleBegin, "Agent cycle started", nil)
}

// CycleEnd records cycle completion with its counters.
func (r *Recorder) CycleEnd(ctx context.Context, agentID uuid.UUID, result any) {
	r.Record(ctx, &agentID, db.ActivityCycleEnd, "Agent cycle completed", result)
}

// MarketClosed records a cycle skipped because the market is closed.
func (r *Recorder) MarketClosed(ctx context.Context, agentID uuid.UUID, session string) {
	r.Record(ctx, &agentID, db.ActivityMarketClosed,
		fmt.Sprintf("Market closed (%s), skipping cycle", session), nil)
}

// TradeSignal records a generated entry or exit signal.
func (r *Recorder) TradeSignal(ctx context.Context, agentID uuid.UUID, signalType, symbol string, details any) {
	r.Record(ctx, &agentID, db.ActivityTradeSignal,
		fmt.Sprintf("Trade signal: %s on %s", signalType, symbol), details)
}

// Order records an order lifecycle step: placed, filled, or cancelled.
func (r *Recorder) Order(ctx context.Context, agentID uuid.UUID, activityType, action, symbol string, details any) {
	r.Record(ctx, &agentID, activityType,
		fmt.Sprintf("Order %s: %s", action, symbol), details)
}

// Position records a position opened or closed.
func (r *Recorder) Position(ctx context.Context, agentID uuid.UUID, activityType, action, symbol string, details any) {
	r.Record(ctx, &agentID, activityType,
		fmt.Sprintf("Position %s: %s", action, symbol), details)
}

// Error records a cycle or execution error.
func (r *Recorder) Error(ctx context.Context, agentID uuid.UUID, err error) {
	r.Record(ctx, &agentID, db.ActivityError, fmt.Sprintf("Error: %v", err), nil)
}

// Info records a free-form informational entry.
func (r *Recorder) Info(ctx context.Context, agentID *uuid.UUID, message string) {
	r.Record(ctx, agentID, db.ActivityInfo, message, nil)
}
