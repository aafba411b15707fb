// Package orchestrator coordinates the QQQ options workflow. It runs a
// market-regime state machine over {normal_bull, defense_trigger,
// recovery_mode, recovery_complete}, flips the options agents the
// active regime calls for, and turns put-spread candidates into
// recommendations that wait for human approval before any order is
// placed. The weekly execution fires Friday afternoon ET.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/ibkr"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// ErrExecutionRunning means a weekly run or analysis pass is already in
// flight. Scheduled ticks and manual triggers share one lock.
var ErrExecutionRunning = errors.New("orchestrator execution already running")

// Gateway is the slice of the options venue the orchestrator drives.
// *ibkr.Adapter satisfies it; tests substitute a fake.
type Gateway interface {
	Connect(ctx context.Context) error
	Connected() bool
	StockPrice(ctx context.Context, symbol string) (float64, error)
	AccountSummary(ctx context.Context) (*ibkr.AccountSummary, error)
	FindPutSpread(ctx context.Context, criteria broker.PutSpreadCriteria) (*broker.PutSpread, error)
	QualifySpreadLegs(ctx context.Context, underlying, expiration string, shortStrike, longStrike float64, right broker.OptionRight) (short, long broker.OptionLeg, err error)
	PlaceSpreadOrder(ctx context.Context, req broker.SpreadOrderRequest) (*broker.OrderHandle, error)
}

// SessionClock answers market-hours questions. The markethours clock
// satisfies it.
type SessionClock interface {
	SessionAt(t time.Time) markethours.Session
	Status(t time.Time) map[string]any
}

// ActivitySink receives the orchestrator's event feed. The activity
// recorder satisfies it.
type ActivitySink interface {
	CycleBegin(ctx context.Context, agentID uuid.UUID)
	CycleEnd(ctx context.Context, agentID uuid.UUID, result any)
	MarketClosed(ctx context.Context, agentID uuid.UUID, session string)
	TradeSignal(ctx context.Context, agentID uuid.UUID, signalType, symbol string, details any)
	Error(ctx context.Context, agentID uuid.UUID, err error)
	Info(ctx context.Context, agentID *uuid.UUID, message string)
}

// Config parameterises the weekly credit-spread workflow. Zero values
// take the documented defaults; DryRun is passed through as-is.
type Config struct {
	Symbol               string        // underlying, default QQQ
	VIXShutdownThreshold float64       // default 45
	SpreadWidth          float64       // dollars between strikes, default 25
	TargetCreditMin      float64       // default 0.55
	TargetCreditMax      float64       // default 0.70
	MaxDelta             float64       // short leg delta ceiling, default 0.12
	MaxPositionPct       float64       // net-liq fraction risked per trade, default 0.25
	ExecutionHour        int           // ET, default 15
	ExecutionMinute      int           // default 45
	RecommendationTTL    time.Duration // approval window, default 4h
	DryRun               bool
}

func (c Config) withDefaults() Config {
	if c.Symbol == "" {
		c.Symbol = "QQQ"
	}
	if c.VIXShutdownThreshold <= 0 {
		c.VIXShutdownThreshold = 45.0
	}
	if c.SpreadWidth <= 0 {
		c.SpreadWidth = 25.0
	}
	if c.TargetCreditMin <= 0 {
		c.TargetCreditMin = 0.55
	}
	if c.TargetCreditMax <= 0 {
		c.TargetCreditMax = 0.70
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = 0.12
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 0.25
	}
	if c.ExecutionHour == 0 && c.ExecutionMinute == 0 {
		c.ExecutionHour = 15
		c.ExecutionMinute = 45
	}
	if c.RecommendationTTL <= 0 {
		c.RecommendationTTL = 4 * time.Hour
	}
	return c
}

// Deps bundles the infrastructure the orchestrator runs over.
type Deps struct {
	Agents          *db.AgentStore
	Trades          *db.TradeStore
	Regimes         *db.RegimeStore
	Recommendations *db.RecommendationStore
	Activity        ActivitySink
	Bus             *events.Bus
	Gateway         Gateway
	Clock           SessionClock
}

// Orchestrator is the regime controller plus the recommendation
// pipeline. One instance runs per process.
type Orchestrator struct {
	agentID uuid.UUID
	name    string

	agents   *db.AgentStore
	trades   *db.TradeStore
	regimes  *db.RegimeStore
	recs     *db.RecommendationStore
	activity ActivitySink
	bus      *events.Bus
	gateway  Gateway
	clock    SessionClock
	cfg      Config
	logger   zerolog.Logger
	loc      *time.Location
	now      func() time.Time

	runMu sync.Mutex // single-flight for weekly runs and analysis passes
}

// New builds the orchestrator for its seeded agent row. Execution
// scheduling runs in the exchange timezone.
func New(deps Deps, cfg Config, agent *db.Agent) (*Orchestrator, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading exchange timezone: %w", err)
	}
	return &Orchestrator{
		agentID:  agent.ID,
		name:     agent.Name,
		agents:   deps.Agents,
		trades:   deps.Trades,
		regimes:  deps.Regimes,
		recs:     deps.Recommendations,
		activity: deps.Activity,
		bus:      deps.Bus,
		gateway:  deps.Gateway,
		clock:    deps.Clock,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("component", "orchestrator").Logger(),
		loc:      loc,
		now:      time.Now,
	}, nil
}

// MarketSnapshot is the market view one run classifies against.
type MarketSnapshot struct {
	QQQPrice  float64   `json:"qqq_price"`
	VIX       float64   `json:"vix"`
	IV7DayATM float64   `json:"iv_7day_atm"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // live or mock
}

// Mock values used when the gateway is unreachable. The workflow keeps
// functioning on stale-but-plausible numbers rather than halting.
const (
	mockQQQPrice = 562.43
	mockVIX      = 17.0
	mockIV       = 21.4
)

func (o *Orchestrator) ensureConnected(ctx context.Context) bool {
	if o.gateway.Connected() {
		return true
	}
	o.logger.Info().Msg("Gateway not connected, attempting to connect")
	if err := o.gateway.Connect(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Gateway connection failed")
		return false
	}
	return o.gateway.Connected()
}

// marketData fetches the underlying price from the gateway, falling
// back to mock values when the venue is unreachable.
// TODO: pull VIX and the 7-day ATM IV from the venue once the market
// data subscription covers index quotes; both are pinned until then.
func (o *Orchestrator) marketData(ctx context.Context) MarketSnapshot {
	if o.ensureConnected(ctx) {
		px, err := o.gateway.StockPrice(ctx, o.cfg.Symbol)
		if err == nil && px > 0 {
			return MarketSnapshot{
				QQQPrice:  px,
				VIX:       mockVIX,
				IV7DayATM: mockIV,
				Timestamp: o.now().UTC(),
				Source:    "live",
			}
		}
		if err != nil {
			o.logger.Warn().Err(err).Msg("Failed to fetch underlying price from gateway")
		}
	}

	o.logger.Warn().Msg("Using mock market data, gateway not available")
	return MarketSnapshot{
		QQQPrice:  mockQQQPrice,
		VIX:       mockVIX,
		IV7DayATM: mockIV,
		Timestamp: o.now().UTC(),
		Source:    "mock",
	}
}

// lastShortPutStrike is the short strike of the most recently opened
// put spread still on the book, or nil when none is open.
func (o *Orchestrator) lastShortPutStrike(ctx context.Context) (*float64, error) {
	open, err := o.trades.ListOpenOptionsTrades(ctx, "put_spread")
	if err != nil {
		return nil, err
	}
	// Open trades come back oldest first.
	for i := len(open) - 1; i >= 0; i-- {
		if open[i].ShortStrike != nil {
			return open[i].ShortStrike, nil
		}
	}
	return nil, nil
}

// ExecutionResult is the outcome of one weekly run.
type ExecutionResult struct {
	Regime       string          `json:"regime,omitempty"`
	Actions      []string        `json:"actions"`
	Timestamp    time.Time       `json:"timestamp"`
	MarketData   *MarketSnapshot `json:"market_data,omitempty"`
	MarketStatus map[string]any  `json:"market_status,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// ExecuteWeekly runs the Friday flow: gate on the options session,
// sweep stale recommendations, classify the regime, persist a
// transition, and fire the regime's actions. A closed market is a skip,
// not an error.
func (o *Orchestrator) ExecuteWeekly(ctx context.Context) (*ExecutionResult, error) {
	if !o.runMu.TryLock() {
		return nil, ErrExecutionRunning
	}
	defer o.runMu.Unlock()

	start := o.now()
	o.logger.Info().Msg("Starting weekly execution")
	o.activity.CycleBegin(ctx, o.agentID)

	if result, skipped := o.marketGate(ctx, start); skipped {
		o.activity.CycleEnd(ctx, o.agentID, result)
		metrics.RecordCycle(o.name, metrics.OutcomeSkipped, o.sinceMs(start))
		return result, nil
	}

	o.sweep(ctx)

	snap := o.marketData(ctx)
	next, current, err := o.classify(ctx, snap)
	if err != nil {
		return nil, o.cycleFailed(ctx, start, err)
	}

	if current == nil || current.RegimeType != next {
		var recoveryStrike *float64
		if next == db.RegimeRecoveryMode {
			if recoveryStrike, err = o.lastShortPutStrike(ctx); err != nil {
				return nil, o.cycleFailed(ctx, start, err)
			}
		}
		if _, err := o.setRegime(ctx, next, &snap.QQQPrice, recoveryStrike); err != nil {
			return nil, o.cycleFailed(ctx, start, err)
		}
	}

	result, err := o.applyRegimeActions(ctx, next, snap)
	if err != nil {
		return nil, o.cycleFailed(ctx, start, err)
	}
	result.MarketData = &snap

	if err := o.agents.StampLastRun(ctx, o.agentID, start.UTC()); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to stamp orchestrator last run")
	}
	o.activity.CycleEnd(ctx, o.agentID, result)
	metrics.RecordCycle(o.name, metrics.OutcomeOK, o.sinceMs(start))
	o.logger.Info().
		Str("regime", result.Regime).
		Strs("actions", result.Actions).
		Msg("Weekly execution complete")
	return result, nil
}

// marketGate reports whether the run must be skipped because options
// are not trading, and builds the skip result when so.
func (o *Orchestrator) marketGate(ctx context.Context, at time.Time) (*ExecutionResult, bool) {
	session := o.clock.SessionAt(at)
	if session == markethours.SessionRegular {
		return nil, false
	}

	status := o.clock.Status(at)
	o.logger.Warn().
		Str("session", string(session)).
		Msg("Options trading not available, skipping execution")
	o.activity.MarketClosed(ctx, o.agentID, string(session))
	return &ExecutionResult{
		Actions:      []string{},
		Timestamp:    o.now().UTC(),
		MarketStatus: status,
		Error:        fmt.Sprintf("Options trading not available (session: %s)", session),
	}, true
}

func (o *Orchestrator) cycleFailed(ctx context.Context, start time.Time, err error) error {
	o.logger.Error().Err(err).Msg("Weekly execution failed")
	o.activity.Error(ctx, o.agentID, err)
	metrics.RecordCycle(o.name, metrics.OutcomeError, o.sinceMs(start))
	metrics.RecordError("orchestrator")
	return err
}

func (o *Orchestrator) sinceMs(start time.Time) float64 {
	return o.now().Sub(start).Seconds() * 1000
}

// sweep bulk-expires recommendations past their approval window.
func (o *Orchestrator) sweep(ctx context.Context) {
	n, err := o.recs.ExpireStale(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to expire stale recommendations")
		return
	}
	if n > 0 {
		metrics.RecommendationEvents.WithLabelValues("expired").Add(float64(n))
		o.logger.Info().Int64("count", n).Msg("Expired stale recommendations")
	}
}

// ShutdownResult reports the emergency-stop outcome.
type ShutdownResult struct {
	Status       string `json:"status"`
	TradesClosed int    `json:"trades_closed"`
}

// EmergencyShutdown stops every agent and closes all open options
// trades at zero. It takes no lock: the whole point is to run while
// everything else may be stuck.
func (o *Orchestrator) EmergencyShutdown(ctx context.Context) (*ShutdownResult, error) {
	o.logger.Warn().Msg("EMERGENCY SHUTDOWN INITIATED")

	agents, err := o.agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents for shutdown: %w", err)
	}
	for _, agent := range agents {
		if err := o.agents.UpdateStatus(ctx, agent.ID, db.AgentStatusStopped); err != nil {
			o.logger.Error().Err(err).Str("agent", agent.Name).Msg("Failed to stop agent")
		}
	}

	open, err := o.trades.ListOpenOptionsTrades(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing open trades for shutdown: %w", err)
	}
	closed := 0
	for _, trade := range open {
		if err := o.trades.CloseOptionsTrade(ctx, trade.ID, 0); err != nil {
			o.logger.Error().Err(err).Str("trade_id", trade.ID.String()).Msg("Failed to close trade")
			continue
		}
		metrics.RecordTradeClose(metrics.FamilyOptions, 0)
		closed++
	}

	result := &ShutdownResult{Status: "shutdown_complete", TradesClosed: closed}
	o.activity.Info(ctx, &o.agentID,
		fmt.Sprintf("Emergency shutdown complete: %d agents stopped, %d trades closed", len(agents), closed))
	o.publish(ctx, events.TypeAlert, map[string]any{
		"message":       "emergency shutdown",
		"agents":        len(agents),
		"trades_closed": closed,
	})
	o.logger.Warn().Int("trades_closed", closed).Msg("Emergency shutdown complete")
	return result, nil
}

// NextExecution returns the next weekly run after t: Friday at the
// configured wall time, Eastern.
func (o *Orchestrator) NextExecution(t time.Time) time.Time {
	et := t.In(o.loc)
	days := (int(time.Friday) - int(et.Weekday()) + 7) % 7
	next := time.Date(et.Year(), et.Month(), et.Day(),
		o.cfg.ExecutionHour, o.cfg.ExecutionMinute, 0, 0, o.loc).
		AddDate(0, 0, days)
	if !next.After(et) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// RunScheduled blocks, firing ExecuteWeekly at each weekly execution
// time until the context is cancelled.
func (o *Orchestrator) RunScheduled(ctx context.Context) {
	o.logger.Info().
		Time("next_execution", o.NextExecution(o.now())).
		Msg("Weekly execution schedule armed")

	for {
		next := o.NextExecution(o.now())
		timer := time.NewTimer(next.Sub(o.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Info().Msg("Weekly execution schedule stopped")
			return
		case <-timer.C:
			if _, err := o.ExecuteWeekly(ctx); err != nil && !errors.Is(err, ErrExecutionRunning) {
				o.logger.Error().Err(err).Msg("Scheduled weekly execution failed")
			}
		}
	}
}

// Status summarises the orchestrator for the dashboard: active regime,
// market view, session, agent roster, and the pending approval queue.
func (o *Orchestrator) Status(ctx context.Context) (map[string]any, error) {
	regime, err := o.regimes.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := o.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := o.Pending(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.Status == db.AgentStatusRunning {
			active = append(active, a.Name)
		}
	}

	snap := o.marketData(ctx)
	status := map[string]any{
		"current_regime":          nil,
		"regime_started_at":       nil,
		"market_data":             snap,
		"market_hours":            o.clock.Status(o.now()),
		"active_agents":           active,
		"total_agents":            len(agents),
		"pending_recommendations": len(pending),
		"next_execution":          o.NextExecution(o.now()).Format(time.RFC3339),
		"dry_run":                 o.cfg.DryRun,
		"gateway_connected":       o.gateway.Connected(),
	}
	if regime != nil {
		status["current_regime"] = string(regime.RegimeType)
		status["regime_started_at"] = regime.StartedAt.Format(time.RFC3339)
	}
	return status, nil
}

// MarketStatus reports the session state for the market-hours endpoint.
func (o *Orchestrator) MarketStatus() map[string]any {
	return o.clock.Status(o.now())
}

// publish mirrors an orchestrator event onto the bus. A nil or
// disconnected bus is not an error; the persisted state is the truth.
func (o *Orchestrator) publish(ctx context.Context, eventType string, payload any) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, eventType, o.name, payload); err != nil {
		o.logger.Warn().Err(err).Str("type", eventType).Msg("Failed to publish orchestrator event")
	}
}
