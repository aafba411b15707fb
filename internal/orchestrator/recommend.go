package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/ibkr"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// AnalysisResult is the outcome of a read-only analysis pass: the
// regime the machine would enter plus any recommendations generated for
// review. Nothing but the recommendation rows is persisted.
type AnalysisResult struct {
	Mode            string               `json:"mode"`
	Regime          string               `json:"regime,omitempty"`
	MarketData      *MarketSnapshot      `json:"market_data,omitempty"`
	Count           int                  `json:"recommendations_count"`
	Recommendations []*db.Recommendation `json:"recommendations"`
	Timestamp       time.Time            `json:"timestamp"`
	MarketStatus    map[string]any       `json:"market_status,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// Analyze classifies the market and generates trade recommendations
// without touching the regime history or any position.
func (o *Orchestrator) Analyze(ctx context.Context) (*AnalysisResult, error) {
	if !o.runMu.TryLock() {
		return nil, ErrExecutionRunning
	}
	defer o.runMu.Unlock()

	now := o.now()
	result := &AnalysisResult{
		Mode:            "analyze_only",
		Recommendations: []*db.Recommendation{},
		Timestamp:       now.UTC(),
	}

	if session := o.clock.SessionAt(now); session != markethours.SessionRegular {
		o.logger.Warn().Str("session", string(session)).Msg("Options trading not available, skipping analysis")
		result.MarketStatus = o.clock.Status(now)
		result.Error = fmt.Sprintf("Options trading not available (session: %s)", session)
		return result, nil
	}

	o.sweep(ctx)

	snap := o.marketData(ctx)
	regime, _, err := o.classify(ctx, snap)
	if err != nil {
		return nil, err
	}
	result.Regime = string(regime)
	result.MarketData = &snap

	if regime == db.RegimeNormalBull {
		rec, err := o.recommendPutSpread(ctx, snap)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			result.Recommendations = append(result.Recommendations, rec)
		}
	}
	result.Count = len(result.Recommendations)

	o.logger.Info().
		Str("regime", result.Regime).
		Int("recommendations", result.Count).
		Msg("Analysis pass complete")
	return result, nil
}

// recommendPutSpread searches the chain for a credit spread inside the
// strategy's band and writes it up as a pending recommendation. No
// candidate is not an error.
func (o *Orchestrator) recommendPutSpread(ctx context.Context, snap MarketSnapshot) (*db.Recommendation, error) {
	spread, err := o.gateway.FindPutSpread(ctx, broker.PutSpreadCriteria{
		Underlying:      o.cfg.Symbol,
		UnderlyingPrice: snap.QQQPrice,
		MinCredit:       o.cfg.TargetCreditMin,
		MaxCredit:       o.cfg.TargetCreditMax,
		SpreadWidth:     o.cfg.SpreadWidth,
		MaxShortDelta:   o.cfg.MaxDelta,
	})
	if errors.Is(err, ibkr.ErrNoSpread) {
		o.logger.Info().Msg("No put spread matches the criteria this week")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("searching for put spread: %w", err)
	}

	netLiq := 0.0
	if summary, err := o.gateway.AccountSummary(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Account summary unavailable, sizing one contract")
	} else {
		netLiq = summary.NetLiquidation
	}
	contracts := o.contractsFor(netLiq, spread.MaxRisk)

	totalRisk := spread.MaxRisk * float64(contracts)
	maxProfit := spread.Credit * float64(contracts) * 100
	riskPct := 0.0
	if netLiq > 0 {
		riskPct = totalRisk / netLiq * 100
	}
	shortDelta := spread.Short.Delta

	reasoning := fmt.Sprintf(`**Market Analysis:**
- %s price: $%.2f
- Short strike: $%.0f (delta %.3f)
- Long strike: $%.0f
- Spread width: $%.0f

**Trade Rationale:**
- Net credit: $%.2f per contract
- Max risk: $%.2f per contract
- Total max risk: $%.2f across %d contracts
- Expiration: %s

The spread collects premium with defined risk; a short delta of %.3f
puts the odds of finishing in the money near %.1f%%.`,
		o.cfg.Symbol, snap.QQQPrice,
		spread.Short.Strike, shortDelta,
		spread.Long.Strike, o.cfg.SpreadWidth,
		spread.Credit, spread.MaxRisk, totalRisk, contracts,
		spread.Expiration, absFloat(shortDelta), absFloat(shortDelta)*100)

	assessment := fmt.Sprintf(`**Risk Factors:**
1. Max loss of $%.2f if %s closes below $%.0f at expiration
2. Breakeven at $%.2f
3. Weekly expiration, typically under 7 days out

**Position Sizing:**
- Contracts: %d
- Account at risk: %.1f%%

**Exit Criteria:**
- Close early at 50%% of max profit
- Roll or close if the short delta exceeds 0.30
- Accept the full loss if breached at expiration`,
		totalRisk, o.cfg.Symbol, spread.Long.Strike,
		spread.Short.Strike-spread.Credit,
		contracts, riskPct)

	rec := &db.Recommendation{
		RegimeType:      db.RegimeNormalBull,
		QQQPrice:        snap.QQQPrice,
		VIX:             &snap.VIX,
		Action:          db.ActionOpenPutSpread,
		Symbol:          o.cfg.Symbol,
		ShortStrike:     &spread.Short.Strike,
		LongStrike:      &spread.Long.Strike,
		Expiration:      &spread.Expiration,
		Contracts:       contracts,
		EstimatedCredit: &spread.Credit,
		MaxRisk:         &totalRisk,
		MaxProfit:       &maxProfit,
		ShortDelta:      &shortDelta,
		Reasoning:       &reasoning,
		RiskAssessment:  &assessment,
		ExpiresAt:       o.now().UTC().Add(o.cfg.RecommendationTTL),
	}
	if err := o.recs.Create(ctx, rec); err != nil {
		return nil, err
	}

	metrics.RecordRecommendationEvent("created")
	o.activity.TradeSignal(ctx, o.agentID, "put_spread_recommended", o.cfg.Symbol, map[string]any{
		"short_strike": spread.Short.Strike,
		"long_strike":  spread.Long.Strike,
		"credit":       spread.Credit,
		"contracts":    contracts,
	})
	o.logger.Info().
		Float64("short_strike", spread.Short.Strike).
		Float64("long_strike", spread.Long.Strike).
		Float64("credit", spread.Credit).
		Int("contracts", contracts).
		Msg("Generated put spread recommendation")
	return rec, nil
}

// contractsFor sizes a spread by the fraction of net liquidation the
// strategy may put at risk, clamped to [1, 10] contracts.
func (o *Orchestrator) contractsFor(netLiq, maxRiskPerContract float64) int {
	if netLiq <= 0 || maxRiskPerContract <= 0 {
		return 1
	}
	contracts := int(netLiq * o.cfg.MaxPositionPct / maxRiskPerContract)
	if contracts < 1 {
		return 1
	}
	if contracts > 10 {
		return 10
	}
	return contracts
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Pending sweeps the expiry window and returns recommendations still
// awaiting approval.
func (o *Orchestrator) Pending(ctx context.Context) ([]*db.Recommendation, error) {
	o.sweep(ctx)
	return o.recs.List(ctx, db.RecommendationPending, 0)
}

// Approve moves a pending recommendation to approved. Approval past the
// expiry window marks the row expired and fails.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID) (*db.Recommendation, error) {
	rec, err := o.recs.Approve(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrRecommendationExpired) {
			metrics.RecordRecommendationEvent("expired")
		}
		return nil, err
	}

	metrics.RecordRecommendationEvent("approved")
	o.activity.Info(ctx, &o.agentID, fmt.Sprintf("Recommendation %s approved", id))
	o.logger.Info().Str("recommendation_id", id.String()).Msg("Recommendation approved")
	return rec, nil
}

// Reject moves a pending recommendation to rejected with a reason.
func (o *Orchestrator) Reject(ctx context.Context, id uuid.UUID, reason string) (*db.Recommendation, error) {
	rec, err := o.recs.Reject(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	metrics.RecordRecommendationEvent("rejected")
	o.activity.Info(ctx, &o.agentID, fmt.Sprintf("Recommendation %s rejected: %s", id, reason))
	o.logger.Info().
		Str("recommendation_id", id.String()).
		Str("reason", reason).
		Msg("Recommendation rejected")
	return rec, nil
}

// ExecutionOutcome reports a recommendation execution attempt. A
// refused execution (market closed, wrong status, venue failure) is an
// unsuccessful outcome, not an error.
type ExecutionOutcome struct {
	Success        bool     `json:"success"`
	OrderID        string   `json:"order_id,omitempty"`
	ExecutionPrice *float64 `json:"execution_price,omitempty"`
	Action         string   `json:"action,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Execute places an approved recommendation's order and records the
// broker outcome on the row plus the options blotter.
func (o *Orchestrator) Execute(ctx context.Context, id uuid.UUID) (*ExecutionOutcome, error) {
	if session := o.clock.SessionAt(o.now()); session != markethours.SessionRegular {
		o.logger.Warn().
			Str("recommendation_id", id.String()).
			Str("session", string(session)).
			Msg("Options trading not available, refusing execution")
		return &ExecutionOutcome{
			Success: false,
			Error:   fmt.Sprintf("Options trading not available (session: %s)", session),
		}, nil
	}

	rec, err := o.recs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != db.RecommendationApproved {
		return &ExecutionOutcome{
			Success: false,
			Error:   fmt.Sprintf("recommendation must be approved first, current status: %s", rec.Status),
		}, nil
	}

	orderID, execPrice, err := o.placeRecommendation(ctx, rec)
	if err != nil {
		o.logger.Error().Err(err).Str("recommendation_id", id.String()).Msg("Failed to execute recommendation")
		o.activity.Error(ctx, o.agentID, err)
		metrics.RecordError("orchestrator")
		return &ExecutionOutcome{Success: false, Error: err.Error()}, nil
	}

	if err := o.recs.MarkExecuted(ctx, id, orderID, execPrice); err != nil {
		return nil, err
	}
	metrics.RecordRecommendationEvent("executed")

	if err := o.recordOpenedTrade(ctx, rec, orderID); err != nil {
		o.logger.Warn().Err(err).Str("recommendation_id", id.String()).Msg("Failed to record opened trade")
	}

	o.publish(ctx, events.TypeTradeUpdate, map[string]any{
		"recommendation_id": id,
		"action":            rec.Action,
		"order_id":          orderID,
		"execution_price":   execPrice,
	})
	o.activity.Info(ctx, &o.agentID, fmt.Sprintf("Recommendation %s executed, order %s", id, orderID))
	o.logger.Info().
		Str("recommendation_id", id.String()).
		Str("order_id", orderID).
		Str("action", rec.Action).
		Msg("Recommendation executed")

	return &ExecutionOutcome{
		Success:        true,
		OrderID:        orderID,
		ExecutionPrice: execPrice,
		Action:         rec.Action,
	}, nil
}

// placeRecommendation dispatches by action. Spread opens go to the
// gateway (or simulate under dry-run); closes and long calls are
// simulated until position-level unwinding lands.
// TODO: route close_put_spread through QualifySpreadLegs and a debit
// combo once the blotter tracks leg contract ids.
func (o *Orchestrator) placeRecommendation(ctx context.Context, rec *db.Recommendation) (string, *float64, error) {
	switch rec.Action {
	case db.ActionOpenPutSpread:
		return o.placeSpread(ctx, rec, broker.RightPut)
	case db.ActionOpenCallSpread:
		return o.placeSpread(ctx, rec, broker.RightCall)
	case db.ActionClosePutSpread:
		o.logger.Info().Msg("Close put spread requested, simulating close order")
		return "simulated_close", nil, nil
	case db.ActionOpenLongCall:
		o.logger.Info().Msg("Long call requested, simulating buy order")
		return "simulated_long_call", nil, nil
	default:
		return "", nil, fmt.Errorf("unknown action: %s", rec.Action)
	}
}

// placeSpread re-qualifies the legs against the live chain and submits
// the combo at the recommended credit.
func (o *Orchestrator) placeSpread(ctx context.Context, rec *db.Recommendation, right broker.OptionRight) (string, *float64, error) {
	if rec.ShortStrike == nil || rec.LongStrike == nil || rec.Expiration == nil || rec.EstimatedCredit == nil {
		return "", nil, errors.New("recommendation is missing spread parameters")
	}

	if o.cfg.DryRun {
		orderID := "dryrun-" + uuid.NewString()
		o.logger.Info().
			Str("order_id", orderID).
			Float64("short_strike", *rec.ShortStrike).
			Float64("long_strike", *rec.LongStrike).
			Int("contracts", rec.Contracts).
			Msg("Dry run, simulating spread order")
		return orderID, rec.EstimatedCredit, nil
	}

	if !o.ensureConnected(ctx) {
		return "", nil, errors.New("failed to connect to options gateway")
	}

	short, long, err := o.gateway.QualifySpreadLegs(ctx, rec.Symbol, *rec.Expiration,
		*rec.ShortStrike, *rec.LongStrike, right)
	if err != nil {
		return "", nil, fmt.Errorf("qualifying spread legs: %w", err)
	}

	handle, err := o.gateway.PlaceSpreadOrder(ctx, broker.SpreadOrderRequest{
		Short:      short,
		Long:       long,
		Expiration: *rec.Expiration,
		Right:      right,
		Quantity:   rec.Contracts,
		LimitPrice: *rec.EstimatedCredit,
	})
	if err != nil {
		return "", nil, fmt.Errorf("placing spread order: %w", err)
	}
	return handle.ID, rec.EstimatedCredit, nil
}

// recordOpenedTrade books an executed open onto the options blotter so
// the regime close actions and the short-strike check can see it.
func (o *Orchestrator) recordOpenedTrade(ctx context.Context, rec *db.Recommendation, orderID string) error {
	var tradeType string
	switch rec.Action {
	case db.ActionOpenPutSpread:
		tradeType = "put_spread"
	case db.ActionOpenCallSpread:
		tradeType = "call_spread"
	case db.ActionOpenLongCall:
		tradeType = "long_call"
	default:
		return nil
	}

	return o.trades.CreateOptionsTrade(ctx, &db.OptionsTrade{
		AgentID:         &o.agentID,
		TradeType:       tradeType,
		Symbol:          rec.Symbol,
		ShortStrike:     rec.ShortStrike,
		LongStrike:      rec.LongStrike,
		Expiration:      rec.Expiration,
		Contracts:       rec.Contracts,
		PremiumReceived: rec.MaxProfit,
		MaxRisk:         rec.MaxRisk,
		OrderID:         &orderID,
	})
}
