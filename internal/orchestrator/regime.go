package orchestrator

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// ParseRegime validates a regime label from the API.
func ParseRegime(s string) (db.RegimeType, error) {
	switch t := db.RegimeType(s); t {
	case db.RegimeNormalBull, db.RegimeDefenseTrigger, db.RegimeRecoveryMode, db.RegimeRecoveryComplete:
		return t, nil
	default:
		return "", fmt.Errorf("invalid regime type: %s", s)
	}
}

// classify decides the next regime from the snapshot. It returns the
// active regime row alongside so callers can tell a transition from a
// hold. The VIX gate dominates every state, including the first run.
func (o *Orchestrator) classify(ctx context.Context, snap MarketSnapshot) (db.RegimeType, *db.Regime, error) {
	current, err := o.regimes.GetCurrent(ctx)
	if err != nil {
		return "", nil, err
	}

	if snap.VIX >= o.cfg.VIXShutdownThreshold {
		o.logger.Warn().
			Float64("vix", snap.VIX).
			Float64("threshold", o.cfg.VIXShutdownThreshold).
			Msg("VIX above shutdown threshold")
		return db.RegimeDefenseTrigger, current, nil
	}

	if current == nil {
		return db.RegimeNormalBull, nil, nil
	}

	if current.RegimeType == db.RegimeRecoveryMode {
		if current.RecoveryStrike != nil && snap.QQQPrice > *current.RecoveryStrike {
			return db.RegimeRecoveryComplete, current, nil
		}
		return db.RegimeRecoveryMode, current, nil
	}

	// A short put trading in the money means the thesis broke.
	strike, err := o.lastShortPutStrike(ctx)
	if err != nil {
		return "", nil, err
	}
	if strike != nil && snap.QQQPrice < *strike {
		o.logger.Warn().
			Float64("qqq_price", snap.QQQPrice).
			Float64("short_strike", *strike).
			Msg("Underlying below short put strike")
		return db.RegimeDefenseTrigger, current, nil
	}

	return db.RegimeNormalBull, current, nil
}

// setRegime persists a transition and fans it out. The store ends the
// old row and inserts the new one atomically.
func (o *Orchestrator) setRegime(ctx context.Context, regime db.RegimeType, qqqPrice, recoveryStrike *float64) (*db.Regime, error) {
	r, err := o.regimes.SetRegime(ctx, regime, qqqPrice, recoveryStrike)
	if err != nil {
		return nil, err
	}

	metrics.RecordRegimeTransition(string(regime))
	o.publish(ctx, events.TypeRegimeChange, r)
	o.activity.Info(ctx, &o.agentID, fmt.Sprintf("Regime changed to %s", regime))
	o.logger.Info().
		Str("regime", string(regime)).
		Msg("Regime transition persisted")
	return r, nil
}

// SetRegime applies a manual regime override from the API. It carries
// the same side effects as an automatic transition.
func (o *Orchestrator) SetRegime(ctx context.Context, regime db.RegimeType, qqqPrice, recoveryStrike *float64) (*db.Regime, error) {
	return o.setRegime(ctx, regime, qqqPrice, recoveryStrike)
}

// applyRegimeActions fires the entry actions of the given regime:
// flipping the options agents and closing positions the stance no
// longer wants. Per-trade close failures are isolated; only a failed
// regime persistence aborts the run.
func (o *Orchestrator) applyRegimeActions(ctx context.Context, regime db.RegimeType, snap MarketSnapshot) (*ExecutionResult, error) {
	result := &ExecutionResult{
		Regime:    string(regime),
		Actions:   []string{},
		Timestamp: o.now().UTC(),
	}

	switch regime {
	case db.RegimeNormalBull:
		result.Actions = append(result.Actions, "short_put_agent_active", "risk_agent_active")
		o.activateAgents(ctx, db.AgentKindShortPut, db.AgentKindRisk)
		o.deactivateAgents(ctx, db.AgentKindShortCall, db.AgentKindLongCall, db.AgentKindLongPut)

	case db.RegimeDefenseTrigger:
		result.Actions = append(result.Actions, "close_losing_put_spread", "risk_agent_active")
		o.activateAgents(ctx, db.AgentKindRisk)
		o.closeLosingPutSpreads(ctx)

	case db.RegimeRecoveryMode:
		result.Actions = append(result.Actions,
			"long_call_agent_active", "short_call_agent_active", "risk_agent_active")
		o.activateAgents(ctx, db.AgentKindLongCall, db.AgentKindShortCall, db.AgentKindRisk)
		o.deactivateAgents(ctx, db.AgentKindShortPut)

	case db.RegimeRecoveryComplete:
		result.Actions = append(result.Actions,
			"close_short_calls", "sell_long_calls", "transition_to_normal")
		o.closeRecoveryPositions(ctx)
		if _, err := o.setRegime(ctx, db.RegimeNormalBull, &snap.QQQPrice, nil); err != nil {
			return nil, fmt.Errorf("transitioning to normal_bull: %w", err)
		}
	}

	return result, nil
}

// activateAgents flips the active flag on for whole agent kinds. The
// flag controls regime participation; it never touches the lifecycle
// status a human set.
func (o *Orchestrator) activateAgents(ctx context.Context, kinds ...string) {
	for _, kind := range kinds {
		n, err := o.agents.SetActiveByKind(ctx, kind, true)
		if err != nil {
			o.logger.Error().Err(err).Str("kind", kind).Msg("Failed to activate agents")
			continue
		}
		o.logger.Info().Str("kind", kind).Int64("agents", n).Msg("Activated agents")
	}
}

func (o *Orchestrator) deactivateAgents(ctx context.Context, kinds ...string) {
	for _, kind := range kinds {
		n, err := o.agents.SetActiveByKind(ctx, kind, false)
		if err != nil {
			o.logger.Error().Err(err).Str("kind", kind).Msg("Failed to deactivate agents")
			continue
		}
		o.logger.Info().Str("kind", kind).Int64("agents", n).Msg("Deactivated agents")
	}
}

// closeLosingPutSpreads books every open put spread out at its max
// risk. Marking the full loss is simplified accounting; reconciling the
// true debit from fills is the risk agent's follow-up.
func (o *Orchestrator) closeLosingPutSpreads(ctx context.Context) {
	open, err := o.trades.ListOpenOptionsTrades(ctx, "put_spread")
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to list open put spreads")
		o.activity.Error(ctx, o.agentID, err)
		return
	}

	for _, trade := range open {
		pnl := 0.0
		if trade.MaxRisk != nil {
			pnl = -*trade.MaxRisk
		}
		if err := o.closeTrade(ctx, trade, pnl); err != nil {
			continue
		}
		o.logger.Info().
			Str("trade_id", trade.ID.String()).
			Float64("pnl", pnl).
			Msg("Closed losing put spread")
	}
}

// closeRecoveryPositions unwinds the recovery book (call spreads and
// long calls) at the premium each trade collected.
func (o *Orchestrator) closeRecoveryPositions(ctx context.Context) {
	open, err := o.trades.ListOpenOptionsTrades(ctx, "")
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to list open trades")
		o.activity.Error(ctx, o.agentID, err)
		return
	}

	for _, trade := range open {
		if trade.TradeType != "call_spread" && trade.TradeType != "long_call" {
			continue
		}
		pnl := 0.0
		if trade.PremiumReceived != nil {
			pnl = *trade.PremiumReceived
		}
		if err := o.closeTrade(ctx, trade, pnl); err != nil {
			continue
		}
		o.logger.Info().
			Str("trade_id", trade.ID.String()).
			Str("trade_type", trade.TradeType).
			Float64("pnl", pnl).
			Msg("Closed recovery position")
	}
}

func (o *Orchestrator) closeTrade(ctx context.Context, trade *db.OptionsTrade, pnl float64) error {
	if err := o.trades.CloseOptionsTrade(ctx, trade.ID, pnl); err != nil {
		o.logger.Error().Err(err).Str("trade_id", trade.ID.String()).Msg("Failed to close trade")
		o.activity.Error(ctx, o.agentID, err)
		metrics.RecordError("orchestrator")
		return err
	}
	metrics.RecordTradeClose(metrics.FamilyOptions, pnl)
	o.publish(ctx, events.TypeTradeUpdate, map[string]any{
		"trade_id":   trade.ID,
		"trade_type": trade.TradeType,
		"status":     "closed",
		"pnl":        pnl,
	})
	return nil
}
