package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/ibkr"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/db/testhelpers"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
)

func f64(v float64) *float64 { return &v }

// fakeGateway scripts the options venue: a fixed underlying price, one
// candidate spread, and canned order acknowledgements.
type fakeGateway struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	price      float64
	priceErr   error
	netLiq     float64
	acctErr    error
	spread     *broker.PutSpread
	findErr    error
	qualifyErr error
	placeErr   error
	orderID    string
	placed     []broker.SpreadOrderRequest
}

func (g *fakeGateway) Connect(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connectErr != nil {
		return g.connectErr
	}
	g.connected = true
	return nil
}

func (g *fakeGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) StockPrice(context.Context, string) (float64, error) {
	if g.priceErr != nil {
		return 0, g.priceErr
	}
	return g.price, nil
}

func (g *fakeGateway) AccountSummary(context.Context) (*ibkr.AccountSummary, error) {
	if g.acctErr != nil {
		return nil, g.acctErr
	}
	return &ibkr.AccountSummary{NetLiquidation: g.netLiq}, nil
}

func (g *fakeGateway) FindPutSpread(context.Context, broker.PutSpreadCriteria) (*broker.PutSpread, error) {
	if g.findErr != nil {
		return nil, g.findErr
	}
	if g.spread == nil {
		return nil, ibkr.ErrNoSpread
	}
	return g.spread, nil
}

func (g *fakeGateway) QualifySpreadLegs(_ context.Context, underlying, expiration string, shortStrike, longStrike float64, right broker.OptionRight) (broker.OptionLeg, broker.OptionLeg, error) {
	if g.qualifyErr != nil {
		return broker.OptionLeg{}, broker.OptionLeg{}, g.qualifyErr
	}
	short := broker.OptionLeg{ConID: 101, Symbol: underlying, Strike: shortStrike, Expiration: expiration, Right: right}
	long := broker.OptionLeg{ConID: 102, Symbol: underlying, Strike: longStrike, Expiration: expiration, Right: right}
	return short, long, nil
}

func (g *fakeGateway) PlaceSpreadOrder(_ context.Context, req broker.SpreadOrderRequest) (*broker.OrderHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	g.placed = append(g.placed, req)
	return &broker.OrderHandle{ID: g.orderID, Status: broker.OrderStatusOpen}, nil
}

func (g *fakeGateway) placedOrders() []broker.SpreadOrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.SpreadOrderRequest(nil), g.placed...)
}

// fakeClock pins the trading session.
type fakeClock struct{ session markethours.Session }

func (c fakeClock) SessionAt(time.Time) markethours.Session { return c.session }

func (c fakeClock) Status(time.Time) map[string]any {
	return map[string]any{
		"session":         string(c.session),
		"is_open":         c.session == markethours.SessionRegular,
		"is_options_open": c.session == markethours.SessionRegular,
	}
}

// sinkRecorder captures activity calls as labels for assertions.
type sinkRecorder struct {
	mu     sync.Mutex
	events []string
}

func (s *sinkRecorder) add(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, label)
}

func (s *sinkRecorder) has(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

func (s *sinkRecorder) CycleBegin(context.Context, uuid.UUID) { s.add("cycle_begin") }
func (s *sinkRecorder) CycleEnd(context.Context, uuid.UUID, any) {
	s.add("cycle_end")
}
func (s *sinkRecorder) MarketClosed(_ context.Context, _ uuid.UUID, session string) {
	s.add("market_closed:" + session)
}
func (s *sinkRecorder) TradeSignal(_ context.Context, _ uuid.UUID, signalType, symbol string, _ any) {
	s.add("trade_signal:" + signalType + ":" + symbol)
}
func (s *sinkRecorder) Error(context.Context, uuid.UUID, error) { s.add("error") }
func (s *sinkRecorder) Info(_ context.Context, _ *uuid.UUID, message string) {
	s.add("info:" + message)
}

type orchHarness struct {
	tc      *testhelpers.PostgresContainer
	agents  *db.AgentStore
	trades  *db.TradeStore
	regimes *db.RegimeStore
	recs    *db.RecommendationStore
}

// setupOrchHarness starts a database with the seeded agent roster. The
// regime actions flip those very rows, so the seeds are the fixture.
func setupOrchHarness(t *testing.T) *orchHarness {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))
	return &orchHarness{
		tc:      tc,
		agents:  db.NewAgentStore(tc.DB),
		trades:  db.NewTradeStore(tc.DB),
		regimes: db.NewRegimeStore(tc.DB),
		recs:    db.NewRecommendationStore(tc.DB),
	}
}

func (oh *orchHarness) newOrchestrator(t *testing.T, gw Gateway, clock SessionClock, mutate func(*Config)) (*Orchestrator, *sinkRecorder) {
	t.Helper()

	agent, err := oh.agents.GetByName(context.Background(), "orchestrator")
	require.NoError(t, err)

	cfg := Config{}
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &sinkRecorder{}
	o, err := New(Deps{
		Agents:          oh.agents,
		Trades:          oh.trades,
		Regimes:         oh.regimes,
		Recommendations: oh.recs,
		Activity:        sink,
		Gateway:         gw,
		Clock:           clock,
	}, cfg, agent)
	require.NoError(t, err)
	return o, sink
}

func (oh *orchHarness) openTrade(t *testing.T, trade *db.OptionsTrade) *db.OptionsTrade {
	t.Helper()
	if trade.Symbol == "" {
		trade.Symbol = "QQQ"
	}
	if trade.Contracts == 0 {
		trade.Contracts = 1
	}
	require.NoError(t, oh.trades.CreateOptionsTrade(context.Background(), trade))
	return trade
}

func (oh *orchHarness) agentActive(t *testing.T, name string) bool {
	t.Helper()
	a, err := oh.agents.GetByName(context.Background(), name)
	require.NoError(t, err)
	return a.Active
}

// testOrchestrator builds a bare orchestrator for unit tests that never
// touch the database.
func testOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		logger: zerolog.Nop(),
		loc:    loc,
		now:    time.Now,
	}
}

func TestExecuteWeeklyFirstRun(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true, price: 562.43, netLiq: 100_000}
	o, sink := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	// Invert two seeded flags so the regime flips are observable.
	_, err := oh.agents.SetActiveByKind(ctx, db.AgentKindShortPut, false)
	require.NoError(t, err)
	_, err = oh.agents.SetActiveByKind(ctx, db.AgentKindLongCall, true)
	require.NoError(t, err)

	result, err := o.ExecuteWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal_bull", result.Regime)
	assert.Equal(t, []string{"short_put_agent_active", "risk_agent_active"}, result.Actions)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.MarketData)
	assert.Equal(t, "live", result.MarketData.Source)
	assert.InDelta(t, 562.43, result.MarketData.QQQPrice, 1e-9)

	regime, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)
	require.NotNil(t, regime)
	assert.Equal(t, db.RegimeNormalBull, regime.RegimeType)
	require.NotNil(t, regime.QQQPriceAtStart)
	assert.InDelta(t, 562.43, *regime.QQQPriceAtStart, 1e-9)

	assert.True(t, oh.agentActive(t, "short_put"))
	assert.True(t, oh.agentActive(t, "risk"))
	assert.False(t, oh.agentActive(t, "short_call"))
	assert.False(t, oh.agentActive(t, "long_call"))
	assert.False(t, oh.agentActive(t, "long_put"))

	agent, err := oh.agents.GetByName(ctx, "orchestrator")
	require.NoError(t, err)
	assert.NotNil(t, agent.LastRunAt)

	assert.True(t, sink.has("cycle_begin"))
	assert.True(t, sink.has("info:Regime changed to normal_bull"))
	assert.True(t, sink.has("cycle_end"))
}

func TestExecuteWeeklyMarketClosed(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true, price: 562.43}
	o, sink := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionWeekend}, nil)

	result, err := o.ExecuteWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Options trading not available (session: weekend)", result.Error)
	assert.Empty(t, result.Actions)
	assert.Equal(t, "weekend", result.MarketStatus["session"])

	regime, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Nil(t, regime, "a skipped run must not persist a regime")
	assert.True(t, sink.has("market_closed:weekend"))
}

func TestExecuteWeeklyRepeatHoldsRegime(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true, price: 562.43, netLiq: 100_000}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	_, err := o.ExecuteWeekly(ctx)
	require.NoError(t, err)
	first, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)

	_, err = o.ExecuteWeekly(ctx)
	require.NoError(t, err)
	second, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "an unchanged regime must not start a new span")

	history, err := oh.regimes.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestExecuteWeeklyDefenseOnBreach(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	put := oh.openTrade(t, &db.OptionsTrade{
		TradeType:       "put_spread",
		ShortStrike:     f64(560),
		LongStrike:      f64(535),
		PremiumReceived: f64(120),
		MaxRisk:         f64(2440),
	})
	call := oh.openTrade(t, &db.OptionsTrade{
		TradeType:       "call_spread",
		ShortStrike:     f64(580),
		PremiumReceived: f64(90),
	})

	gw := &fakeGateway{connected: true, price: 555.10, netLiq: 100_000}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	result, err := o.ExecuteWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, "defense_trigger", result.Regime)
	assert.Equal(t, []string{"close_losing_put_spread", "risk_agent_active"}, result.Actions)

	closed, err := oh.trades.GetOptionsTrade(ctx, put.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", closed.Status)
	require.NotNil(t, closed.PnL)
	assert.InDelta(t, -2440, *closed.PnL, 1e-9)

	untouched, err := oh.trades.GetOptionsTrade(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "open", untouched.Status, "defense only unwinds put spreads")

	regime, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.RegimeDefenseTrigger, regime.RegimeType)
	assert.True(t, oh.agentActive(t, "risk"))
}

func TestExecuteWeeklyRecoveryComplete(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	_, err := oh.regimes.SetRegime(ctx, db.RegimeRecoveryMode, f64(548), f64(550))
	require.NoError(t, err)

	callSpread := oh.openTrade(t, &db.OptionsTrade{
		TradeType:       "call_spread",
		ShortStrike:     f64(570),
		PremiumReceived: f64(210),
	})
	longCall := oh.openTrade(t, &db.OptionsTrade{
		TradeType:       "long_call",
		PremiumReceived: f64(150),
	})
	putSpread := oh.openTrade(t, &db.OptionsTrade{
		TradeType:   "put_spread",
		ShortStrike: f64(530),
		MaxRisk:     f64(2440),
	})

	gw := &fakeGateway{connected: true, price: 562, netLiq: 100_000}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	result, err := o.ExecuteWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, "recovery_complete", result.Regime)
	assert.Equal(t, []string{"close_short_calls", "sell_long_calls", "transition_to_normal"}, result.Actions)

	cs, err := oh.trades.GetOptionsTrade(ctx, callSpread.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", cs.Status)
	require.NotNil(t, cs.PnL)
	assert.InDelta(t, 210, *cs.PnL, 1e-9)

	lc, err := oh.trades.GetOptionsTrade(ctx, longCall.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", lc.Status)
	require.NotNil(t, lc.PnL)
	assert.InDelta(t, 150, *lc.PnL, 1e-9)

	ps, err := oh.trades.GetOptionsTrade(ctx, putSpread.ID)
	require.NoError(t, err)
	assert.Equal(t, "open", ps.Status, "recovery unwind leaves put spreads alone")

	// The transition lands back in normal_bull, with the recovery_complete
	// span recorded on the way through.
	current, err := oh.regimes.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.RegimeNormalBull, current.RegimeType)

	history, err := oh.regimes.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, db.RegimeNormalBull, history[0].RegimeType)
	assert.True(t, history[0].IsActive)
	assert.Equal(t, db.RegimeRecoveryComplete, history[1].RegimeType)
	assert.NotNil(t, history[1].EndedAt)
	assert.Equal(t, db.RegimeRecoveryMode, history[2].RegimeType)
}

func TestClassify(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	next, current, err := o.classify(ctx, MarketSnapshot{QQQPrice: 562, VIX: 17})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeNormalBull, next)
	assert.Nil(t, current)

	// The VIX gate dominates every state, including the first run.
	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 562, VIX: 45})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeDefenseTrigger, next)

	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 562, VIX: 44.99})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeNormalBull, next)

	// A short put trading in the money flips defense.
	_, err = o.setRegime(ctx, db.RegimeNormalBull, f64(562), nil)
	require.NoError(t, err)
	oh.openTrade(t, &db.OptionsTrade{TradeType: "put_spread", ShortStrike: f64(560), MaxRisk: f64(2440)})

	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 555, VIX: 17})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeDefenseTrigger, next)

	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 565, VIX: 17})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeNormalBull, next)

	// Recovery holds below the strike it tracks and completes above it.
	_, err = o.setRegime(ctx, db.RegimeRecoveryMode, f64(548), f64(550))
	require.NoError(t, err)

	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 540, VIX: 17})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeRecoveryMode, next)

	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 562, VIX: 17})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeRecoveryComplete, next)

	next, _, err = o.classify(ctx, MarketSnapshot{QQQPrice: 562, VIX: 51})
	require.NoError(t, err)
	assert.Equal(t, db.RegimeDefenseTrigger, next)
}

func TestEmergencyShutdown(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	oh.openTrade(t, &db.OptionsTrade{TradeType: "put_spread", ShortStrike: f64(560), MaxRisk: f64(2440)})
	oh.openTrade(t, &db.OptionsTrade{TradeType: "long_call", PremiumReceived: f64(150)})

	gw := &fakeGateway{connected: true, price: 562.43}
	o, sink := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	result, err := o.EmergencyShutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shutdown_complete", result.Status)
	assert.Equal(t, 2, result.TradesClosed)

	agents, err := oh.agents.List(ctx)
	require.NoError(t, err)
	for _, a := range agents {
		assert.Equal(t, db.AgentStatusStopped, a.Status, a.Name)
	}

	open, err := oh.trades.ListOpenOptionsTrades(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.True(t, sink.has("info:Emergency shutdown complete"))
}

func TestStatusSnapshot(t *testing.T) {
	oh := setupOrchHarness(t)
	ctx := context.Background()

	gw := &fakeGateway{connected: true, price: 562.43, netLiq: 100_000}
	o, _ := oh.newOrchestrator(t, gw, fakeClock{markethours.SessionRegular}, nil)

	status, err := o.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, status["current_regime"])
	assert.Equal(t, 8, status["total_agents"])
	assert.Equal(t, 0, status["pending_recommendations"])
	assert.Equal(t, true, status["gateway_connected"])
	assert.Equal(t, false, status["dry_run"])

	_, err = o.ExecuteWeekly(ctx)
	require.NoError(t, err)

	status, err = o.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal_bull", status["current_regime"])
	assert.NotNil(t, status["regime_started_at"])
}

func TestRunLockSingleFlight(t *testing.T) {
	o := &Orchestrator{}
	o.runMu.Lock()
	defer o.runMu.Unlock()

	_, err := o.ExecuteWeekly(context.Background())
	assert.ErrorIs(t, err, ErrExecutionRunning)

	_, err = o.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrExecutionRunning)
}

func TestMarketDataMockFallback(t *testing.T) {
	o := testOrchestrator(t, Config{})

	o.gateway = &fakeGateway{connectErr: errors.New("gateway down")}
	snap := o.marketData(context.Background())
	assert.Equal(t, "mock", snap.Source)
	assert.InDelta(t, mockQQQPrice, snap.QQQPrice, 1e-9)
	assert.InDelta(t, mockVIX, snap.VIX, 1e-9)

	o.gateway = &fakeGateway{connected: true, priceErr: errors.New("no quote")}
	snap = o.marketData(context.Background())
	assert.Equal(t, "mock", snap.Source)

	o.gateway = &fakeGateway{connected: true, price: 570.25}
	snap = o.marketData(context.Background())
	assert.Equal(t, "live", snap.Source)
	assert.InDelta(t, 570.25, snap.QQQPrice, 1e-9)
}

func TestNextExecution(t *testing.T) {
	o := testOrchestrator(t, Config{})
	loc := o.loc

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "midweek rolls to friday",
			from: time.Date(2025, 1, 15, 10, 0, 0, 0, loc), // Wednesday
			want: time.Date(2025, 1, 17, 15, 45, 0, 0, loc),
		},
		{
			name: "friday before the bell fires same day",
			from: time.Date(2025, 1, 17, 15, 44, 59, 0, loc),
			want: time.Date(2025, 1, 17, 15, 45, 0, 0, loc),
		},
		{
			name: "friday at the bell waits a week",
			from: time.Date(2025, 1, 17, 15, 45, 0, 0, loc),
			want: time.Date(2025, 1, 24, 15, 45, 0, 0, loc),
		},
		{
			name: "friday evening waits a week",
			from: time.Date(2025, 1, 17, 18, 0, 0, 0, loc),
			want: time.Date(2025, 1, 24, 15, 45, 0, 0, loc),
		},
		{
			name: "saturday rolls to next friday",
			from: time.Date(2025, 1, 18, 9, 0, 0, 0, loc),
			want: time.Date(2025, 1, 24, 15, 45, 0, 0, loc),
		},
		{
			name: "utc input converts to eastern",
			from: time.Date(2025, 1, 17, 20, 44, 0, 0, time.UTC), // 15:44 ET
			want: time.Date(2025, 1, 17, 15, 45, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := o.NextExecution(tt.from)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseRegime(t *testing.T) {
	for _, valid := range []string{"normal_bull", "defense_trigger", "recovery_mode", "recovery_complete"} {
		got, err := ParseRegime(valid)
		require.NoError(t, err)
		assert.Equal(t, db.RegimeType(valid), got)
	}

	_, err := ParseRegime("sideways")
	assert.ErrorContains(t, err, "invalid regime type")
	_, err = ParseRegime("")
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "QQQ", cfg.Symbol)
	assert.InDelta(t, 45.0, cfg.VIXShutdownThreshold, 1e-9)
	assert.InDelta(t, 25.0, cfg.SpreadWidth, 1e-9)
	assert.InDelta(t, 0.55, cfg.TargetCreditMin, 1e-9)
	assert.InDelta(t, 0.70, cfg.TargetCreditMax, 1e-9)
	assert.InDelta(t, 0.12, cfg.MaxDelta, 1e-9)
	assert.InDelta(t, 0.25, cfg.MaxPositionPct, 1e-9)
	assert.Equal(t, 15, cfg.ExecutionHour)
	assert.Equal(t, 45, cfg.ExecutionMinute)
	assert.Equal(t, 4*time.Hour, cfg.RecommendationTTL)
	assert.False(t, cfg.DryRun)

	// An explicit hour keeps its zero minute.
	morning := Config{ExecutionHour: 9}.withDefaults()
	assert.Equal(t, 9, morning.ExecutionHour)
	assert.Equal(t, 0, morning.ExecutionMinute)
}
