// Package hunter runs the autonomous scan-score-trade cycle shared by
// the crypto and gem agents. A Hunter owns one agent's positions,
// watchlist, risk engine, and executor; the family-specific scoring
// lives behind the Analyst interface.
package hunter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
	"github.com/ajitpratap0/tradehawk/internal/executor"
	"github.com/ajitpratap0/tradehawk/internal/market"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
	"github.com/ajitpratap0/tradehawk/internal/risk"
)

// ErrCycleRunning means a cycle is already in flight for this agent.
// Manual scans and scheduled ticks share the same single-flight lock.
var ErrCycleRunning = errors.New("cycle already running")

// maxEntriesPerCycle caps how many watchlist rows one cycle will try to
// convert into positions.
const maxEntriesPerCycle = 5

// SessionClock reports which trading session a moment falls in. The
// market-hours clock satisfies it.
type SessionClock interface {
	SessionAt(t time.Time) markethours.Session
}

// ActivitySink receives the cycle's human-readable event feed. It
// matches the activity recorder; tests substitute their own.
type ActivitySink interface {
	CycleBegin(ctx context.Context, agentID uuid.UUID)
	CycleEnd(ctx context.Context, agentID uuid.UUID, result any)
	MarketClosed(ctx context.Context, agentID uuid.UUID, session string)
	TradeSignal(ctx context.Context, agentID uuid.UUID, signalType, symbol string, details any)
	Position(ctx context.Context, agentID uuid.UUID, activityType, action, symbol string, details any)
	Error(ctx context.Context, agentID uuid.UUID, err error)
	Info(ctx context.Context, agentID *uuid.UUID, message string)
}

// CycleSummary is the counters one cycle produces. It is stored on the
// agent run row and surfaced by the scan endpoints.
type CycleSummary struct {
	Timestamp        time.Time `json:"timestamp"`
	Scanned          int       `json:"scanned"`
	Analyzed         int       `json:"analyzed"`
	AddedToWatchlist int       `json:"added_to_watchlist"`
	TradesExecuted   int       `json:"trades_executed"`
	PositionsClosed  int       `json:"positions_closed"`
	MarketSession    string    `json:"market_session,omitempty"`
	Errors           []string  `json:"errors"`
}

// Deps bundles the shared infrastructure a hunter is built over. The
// position and watchlist stores must already be bound to the family's
// tables.
type Deps struct {
	Agents    *db.AgentStore
	Positions *db.PositionStore
	Watchlist *db.WatchlistStore
	Trades    *db.TradeStore
	Activity  ActivitySink
	Bus       *events.Bus
	Adapter   broker.Adapter
	Clock     SessionClock
}

// Hunter drives one agent's trading loop. All cycle steps run under a
// single-flight lock; read accessors are safe at any time.
type Hunter struct {
	agentID uuid.UUID
	name    string
	kind    string

	agents    *db.AgentStore
	positions *db.PositionStore
	watchlist *db.WatchlistStore
	trades    *db.TradeStore
	activity  ActivitySink
	bus       *events.Bus
	clock     SessionClock
	analyst   Analyst
	engine    *risk.Engine
	logger    zerolog.Logger

	// reapply re-parses a config document and swaps the derived pieces.
	// Set by the family constructor, which knows the document type.
	reapply func(raw json.RawMessage) error

	runMu sync.Mutex // single-flight for cycles and manual closes

	mu       sync.RWMutex // guards the fields below
	profile  Profile
	exec     *executor.Executor
	raw      json.RawMessage
	lastScan *time.Time
}

// NewCryptoHunter builds the 24/7 crypto agent loop over the public
// price-history chain.
func NewCryptoHunter(deps Deps, history *market.Service, agent *db.Agent) (*Hunter, error) {
	cfg, err := ParseCryptoConfig(agent.Config)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "crypto_hunter").Str("agent", agent.Name).Logger()
	engine := risk.NewEngine(cfg.RiskConfig())
	analyst := NewCryptoAnalyst(deps.Adapter, history, engine, cfg, logger)

	h := newHunter(deps, agent, analyst, engine, cfg.Profile(), executor.New(deps.Adapter, cfg.ExecutorConfig()), logger)
	h.reapply = func(raw json.RawMessage) error {
		next, err := ParseCryptoConfig(raw)
		if err != nil {
			return err
		}
		engine.Reconfigure(next.RiskConfig())
		analyst.Configure(next)
		h.swapConfig(raw, next.Profile(), executor.New(deps.Adapter, next.ExecutorConfig()))
		return nil
	}
	return h, nil
}

// NewGemHunter builds the market-hours equities agent loop over the
// public chart and fundamentals client.
func NewGemHunter(deps Deps, charts *market.YahooClient, agent *db.Agent) (*Hunter, error) {
	cfg, err := ParseGemConfig(agent.Config)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "gem_hunter").Str("agent", agent.Name).Logger()
	engine := risk.NewEngine(cfg.RiskConfig())
	analyst := NewEquityAnalyst(deps.Adapter, charts, engine, cfg, logger)

	h := newHunter(deps, agent, analyst, engine, cfg.Profile(), executor.New(deps.Adapter, cfg.ExecutorConfig()), logger)
	h.reapply = func(raw json.RawMessage) error {
		next, err := ParseGemConfig(raw)
		if err != nil {
			return err
		}
		engine.Reconfigure(next.RiskConfig())
		analyst.Configure(next)
		h.swapConfig(raw, next.Profile(), executor.New(deps.Adapter, next.ExecutorConfig()))
		return nil
	}
	return h, nil
}

func newHunter(deps Deps, agent *db.Agent, analyst Analyst, engine *risk.Engine, profile Profile, exec *executor.Executor, logger zerolog.Logger) *Hunter {
	return &Hunter{
		agentID:   agent.ID,
		name:      agent.Name,
		kind:      agent.Kind,
		agents:    deps.Agents,
		positions: deps.Positions,
		watchlist: deps.Watchlist,
		trades:    deps.Trades,
		activity:  deps.Activity,
		bus:       deps.Bus,
		clock:     deps.Clock,
		analyst:   analyst,
		engine:    engine,
		logger:    logger,
		profile:   profile,
		exec:      exec,
		raw:       agent.Config,
		lastScan:  agent.LastRunAt,
	}
}

// AgentID returns the owning agent row id.
func (h *Hunter) AgentID() uuid.UUID { return h.agentID }

// Name returns the agent name, which doubles as the scheduler job name.
func (h *Hunter) Name() string { return h.name }

// Kind returns the agent kind.
func (h *Hunter) Kind() string { return h.kind }

// Engine exposes the risk engine for status endpoints.
func (h *Hunter) Engine() *risk.Engine { return h.engine }

// Profile returns the current family-neutral config snapshot.
func (h *Hunter) Profile() Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.profile
}

// ConfigJSON returns the raw config document currently in effect.
func (h *Hunter) ConfigJSON() json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw
}

func (h *Hunter) executor() *executor.Executor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exec
}

func (h *Hunter) swapConfig(raw json.RawMessage, profile Profile, exec *executor.Executor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.raw = raw
	h.profile = profile
	h.exec = exec
}

func (h *Hunter) stampLastScan(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastScan = &at
}

// LastScan returns when the last completed cycle finished, if any.
func (h *Hunter) LastScan() *time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastScan
}

// ApplyConfig re-parses and installs a full config document without
// persisting it. Used when the stored row changed under us.
func (h *Hunter) ApplyConfig(raw json.RawMessage) error {
	return h.reapply(raw)
}

// UpdateConfig merges a patch into the stored config, validates it,
// swaps the runtime pieces, and persists the merged document.
func (h *Hunter) UpdateConfig(ctx context.Context, patch json.RawMessage) (json.RawMessage, error) {
	merged, err := MergeConfig(h.ConfigJSON(), patch)
	if err != nil {
		return nil, err
	}
	if err := h.reapply(merged); err != nil {
		return nil, err
	}
	if err := h.agents.UpdateConfig(ctx, h.agentID, merged); err != nil {
		return nil, fmt.Errorf("persist config: %w", err)
	}
	return merged, nil
}

// RunCycle executes one full hunt: manage, discover, score, watchlist,
// execute. Soft failures land in the summary's error list; the returned
// error is reserved for the single-flight refusal.
func (h *Hunter) RunCycle(ctx context.Context) (*CycleSummary, error) {
	if !h.runMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer h.runMu.Unlock()

	summary := &CycleSummary{Timestamp: time.Now().UTC(), Errors: []string{}}
	profile := h.Profile()
	exec := h.executor()

	h.logger.Info().Msg("Starting hunter cycle")

	// Equities trade the regular session only; crypto never gates.
	if profile.MarketGated && h.clock != nil {
		session := h.clock.SessionAt(time.Now())
		summary.MarketSession = string(session)
		if session != markethours.SessionRegular {
			h.logger.Info().Str("session", string(session)).Msg("Market closed, skipping cycle")
			h.activity.MarketClosed(ctx, h.agentID, string(session))
			summary.Errors = append(summary.Errors, fmt.Sprintf("Market closed (session: %s)", session))
			return summary, nil
		}
	}

	h.activity.CycleBegin(ctx, h.agentID)

	status, err := h.riskStatus(ctx)
	if err != nil {
		h.failCycle(ctx, summary, err)
		return summary, nil
	}
	if status.IsDailyLimitHit {
		h.logger.Warn().Float64("daily_pnl", status.DailyPnL).Msg("Daily loss limit hit, halting cycle")
		summary.Errors = append(summary.Errors, "Daily loss limit reached")
		h.activity.CycleEnd(ctx, h.agentID, summary)
		return summary, nil
	}

	// Manage before entering so freed capital is visible to sizing.
	closed, err := h.managePositions(ctx, exec)
	summary.PositionsClosed = closed
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}

	candidates, scanned, err := h.analyst.Scan(ctx, profile.MinScore)
	if err != nil {
		h.failCycle(ctx, summary, err)
		return summary, nil
	}
	summary.Scanned = scanned
	summary.Analyzed = len(candidates)

	added, err := h.updateWatchlist(ctx, candidates, profile)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	summary.AddedToWatchlist = added

	if profile.AutoTrade && status.CanOpenNew {
		summary.TradesExecuted = h.executeEntries(ctx, exec, profile, status)
	}

	now := time.Now().UTC()
	h.stampLastScan(now)
	if err := h.agents.StampLastRun(ctx, h.agentID, now); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to stamp last run")
	}

	h.activity.CycleEnd(ctx, h.agentID, summary)
	h.logger.Info().
		Int("scanned", summary.Scanned).
		Int("analyzed", summary.Analyzed).
		Int("added", summary.AddedToWatchlist).
		Int("executed", summary.TradesExecuted).
		Int("closed", summary.PositionsClosed).
		Msg("Hunter cycle complete")
	return summary, nil
}

func (h *Hunter) failCycle(ctx context.Context, summary *CycleSummary, err error) {
	h.logger.Error().Err(err).Msg("Hunter cycle error")
	summary.Errors = append(summary.Errors, err.Error())
	h.activity.Error(ctx, h.agentID, err)
}

func (h *Hunter) riskStatus(ctx context.Context) (risk.Status, error) {
	deployed, err := h.positions.SumAllocated(ctx, h.agentID)
	if err != nil {
		return risk.Status{}, fmt.Errorf("sum deployed capital: %w", err)
	}
	open, err := h.positions.CountOpen(ctx, h.agentID)
	if err != nil {
		return risk.Status{}, fmt.Errorf("count open positions: %w", err)
	}
	daily := h.engine.DailyPnL(time.Now().UTC())
	return h.engine.Status(deployed, open, daily), nil
}

// managePositions applies the exit rule to every open position. A
// failure on one position never blocks the rest.
func (h *Hunter) managePositions(ctx context.Context, exec *executor.Executor) (int, error) {
	open, err := h.positions.ListOpen(ctx, h.agentID)
	if err != nil {
		return 0, fmt.Errorf("list open positions: %w", err)
	}

	closed := 0
	for _, pos := range open {
		done, err := h.managePosition(ctx, exec, pos)
		if err != nil {
			h.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Error managing position")
			continue
		}
		if done {
			closed++
		}
	}
	return closed, nil
}

func (h *Hunter) managePosition(ctx context.Context, exec *executor.Executor, pos *db.Position) (bool, error) {
	price, err := h.analyst.Price(ctx, pos.Symbol)
	if err != nil {
		return false, err
	}

	stop := h.engine.StopPrice(pos.EntryPrice, nil)
	if pos.StopLoss != nil {
		stop = *pos.StopLoss
	}
	target := h.engine.TargetPrice(pos.EntryPrice, nil)
	if pos.TakeProfit != nil {
		target = *pos.TakeProfit
	}

	exit, reason := h.engine.ShouldExit(price, pos.EntryPrice, stop, target, time.Since(pos.CreatedAt))
	if !exit {
		unrealized := (price - pos.EntryPrice) * pos.Quantity
		if err := h.positions.UpdateMark(ctx, pos.ID, price, unrealized); err != nil {
			return false, fmt.Errorf("update mark: %w", err)
		}
		return false, nil
	}

	return h.closePosition(ctx, exec, pos, price, reason)
}

// closePosition submits the exit order and, on fill, settles the row,
// feeds the risk history, and emits the trade events.
func (h *Hunter) closePosition(ctx context.Context, exec *executor.Executor, pos *db.Position, price float64, reason string) (bool, error) {
	res := exec.ExitPosition(ctx, executor.ExitRequest{
		Symbol:       pos.Symbol,
		Quantity:     pos.Quantity,
		CurrentPrice: price,
		Reason:       reason,
	})
	if res.Status != executor.StatusFilled {
		return false, fmt.Errorf("exit %s not filled: %s", pos.Symbol, res.Message)
	}

	fillPrice := price
	if res.FilledPrice != nil {
		fillPrice = *res.FilledPrice
	}
	pnl := (fillPrice - pos.EntryPrice) * pos.Quantity

	if _, err := h.positions.Close(ctx, pos.ID, fillPrice, pnl, reason, res.OrderID); err != nil {
		return false, fmt.Errorf("settle position: %w", err)
	}

	h.engine.RecordTrade(risk.TradeOutcome{
		Symbol:     pos.Symbol,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fillPrice,
		PnL:        pnl,
	})

	if h.Profile().RecordFills {
		h.recordFill(ctx, pos.ID, pos.Symbol, "sell", res, fillPrice, &pnl)
	}

	h.activity.Position(ctx, h.agentID, db.ActivityPositionClosed, "closed", pos.Symbol, map[string]any{
		"exit_price": fillPrice,
		"pnl":        pnl,
		"reason":     reason,
	})
	h.publishTrade(ctx, "exit", pos.Symbol, res.FilledQuantity, fillPrice, &pnl)

	h.logger.Info().
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Float64("pnl", pnl).
		Msg("Position closed")
	return true, nil
}

// updateWatchlist upserts the top candidates and retires stale rows.
// Returns how many symbols are new to the watching set.
func (h *Hunter) updateWatchlist(ctx context.Context, candidates []Candidate, profile Profile) (int, error) {
	existing, err := h.watchlist.ListWatching(ctx, h.agentID)
	if err != nil {
		return 0, fmt.Errorf("list watchlist: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.Symbol] = true
	}

	top := candidates
	if len(top) > profile.MaxWatchlist {
		top = top[:profile.MaxWatchlist]
	}

	added := 0
	for _, cand := range top {
		if err := h.upsertCandidate(ctx, cand); err != nil {
			h.logger.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Watchlist upsert failed")
			continue
		}
		if !known[cand.Symbol] {
			added++
		}
	}

	cutoff := time.Now().UTC().Add(-profile.WatchlistTTL)
	if expired, err := h.watchlist.ExpireStale(ctx, h.agentID, cutoff); err != nil {
		h.logger.Warn().Err(err).Msg("Watchlist expiry failed")
	} else if expired > 0 {
		h.logger.Info().Int64("count", expired).Msg("Expired stale watchlist entries")
	}
	if _, err := h.watchlist.TrimToTop(ctx, h.agentID, profile.MaxWatchlist); err != nil {
		h.logger.Warn().Err(err).Msg("Watchlist trim failed")
	}

	return added, nil
}

func (h *Hunter) upsertCandidate(ctx context.Context, cand Candidate) error {
	blob, err := json.Marshal(map[string]string{"reasoning": cand.Reasoning})
	if err != nil {
		return err
	}
	return h.watchlist.Upsert(ctx, &db.WatchlistEntry{
		AgentID:          h.agentID,
		Symbol:           cand.Symbol,
		CompositeScore:   cand.Composite,
		TrendScore:       cand.TrendScore,
		FundamentalScore: cand.FundamentalScore,
		MomentumScore:    cand.MomentumScore,
		EntryPrice:       &cand.EntryPrice,
		TargetPrice:      &cand.TargetPrice,
		StopLoss:         &cand.StopLoss,
		EntryTrigger:     cand.Trigger,
		Status:           db.WatchlistStatusWatching,
		Analysis:         blob,
	})
}

// executeEntries walks the best watching rows and opens positions until
// the per-cycle cap or the risk caps stop it.
func (h *Hunter) executeEntries(ctx context.Context, exec *executor.Executor, profile Profile, status risk.Status) int {
	watching, err := h.watchlist.ListWatching(ctx, h.agentID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load watchlist for execution")
		return 0
	}

	executed := 0
	for _, entry := range entryQueue(watching, profile) {
		if !status.CanOpenNew {
			break
		}
		if !profile.readyToEnter(entry.EntryTrigger, entry.CompositeScore) {
			continue
		}

		entered, err := h.enterPosition(ctx, exec, profile, status, entry)
		if err != nil {
			h.logger.Error().Err(err).Str("symbol", entry.Symbol).Msg("Entry failed")
			continue
		}
		if !entered {
			continue
		}

		executed++
		refreshed, err := h.riskStatus(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Risk refresh failed after entry")
			break
		}
		status = refreshed
	}
	return executed
}

// entryQueue orders and caps the rows one execution pass will consider.
// Crypto filters by score before capping; equities cap the top rows and
// gate each one afterwards.
func entryQueue(watching []*db.WatchlistEntry, p Profile) []*db.WatchlistEntry {
	queue := make([]*db.WatchlistEntry, 0, maxEntriesPerCycle)
	for _, e := range watching {
		if p.Family == FamilyCrypto && e.CompositeScore < p.EntryScore {
			continue
		}
		queue = append(queue, e)
		if len(queue) == maxEntriesPerCycle {
			break
		}
	}
	return queue
}

func (h *Hunter) enterPosition(ctx context.Context, exec *executor.Executor, profile Profile, status risk.Status, entry *db.WatchlistEntry) (bool, error) {
	price, err := h.analyst.Price(ctx, entry.Symbol)
	if err != nil {
		return false, err
	}

	// Equities size on capital alone; crypto also caps by stop distance.
	var stop *float64
	if profile.Family == FamilyCrypto {
		stop = entry.StopLoss
	}
	size := h.engine.SizePosition(risk.SizeRequest{
		Symbol:            entry.Symbol,
		EntryPrice:        price,
		StopLoss:          stop,
		DeployedCapital:   status.DeployedCapital,
		OpenPositions:     status.OpenPositions,
		QuantityIncrement: exec.QuantityStep(ctx, entry.Symbol),
	})
	if size.Quantity <= 0 {
		h.logger.Debug().Str("symbol", entry.Symbol).Str("reasoning", size.Reasoning).Msg("Sizing declined entry")
		return false, nil
	}

	req := executor.EntryRequest{
		Symbol:       entry.Symbol,
		Quantity:     size.Quantity,
		CurrentPrice: price,
	}
	if entry.StopLoss != nil {
		req.StopLoss = *entry.StopLoss
	}
	if entry.TargetPrice != nil {
		req.TakeProfit = *entry.TargetPrice
	}

	var res executor.Result
	if profile.Family == FamilyEquities {
		res = exec.EnterBracket(ctx, req)
	} else {
		res = exec.EnterPosition(ctx, req)
	}
	// A partial fill on timeout keeps the filled portion: the remainder
	// is already cancelled, and the bought asset must land on the book
	// so the exit ladder manages it.
	partial := res.Status == executor.StatusPartiallyFilled && res.FilledQuantity > 0
	if res.Status != executor.StatusFilled && !partial {
		h.logger.Info().
			Str("symbol", entry.Symbol).
			Str("status", string(res.Status)).
			Str("message", res.Message).
			Msg("Entry not filled")
		return false, nil
	}
	if partial {
		h.logger.Warn().
			Str("symbol", entry.Symbol).
			Float64("requested", res.RequestedQuantity).
			Float64("filled", res.FilledQuantity).
			Msg("Keeping partially filled entry")
	}

	fillPrice := price
	if res.FilledPrice != nil {
		fillPrice = *res.FilledPrice
	}

	reason := fmt.Sprintf("Composite score: %.0f", entry.CompositeScore)
	pos := &db.Position{
		AgentID:         h.agentID,
		Symbol:          entry.Symbol,
		Side:            profile.PositionSide,
		Quantity:        res.FilledQuantity,
		EntryPrice:      fillPrice,
		AllocatedAmount: fillPrice * res.FilledQuantity,
		StopLoss:        entry.StopLoss,
		TakeProfit:      entry.TargetPrice,
		Status:          db.PositionStatusOpen,
		EntryReason:     &reason,
		EntryOrderID:    res.OrderID,
	}
	if err := h.positions.Create(ctx, pos); err != nil {
		return false, fmt.Errorf("record position: %w", err)
	}

	if profile.RecordFills {
		h.recordFill(ctx, pos.ID, entry.Symbol, "buy", res, fillPrice, nil)
	}

	if err := h.watchlist.UpdateStatus(ctx, entry.ID, db.WatchlistStatusEntered); err != nil {
		h.logger.Warn().Err(err).Str("symbol", entry.Symbol).Msg("Failed to mark watchlist row entered")
	}

	h.activity.TradeSignal(ctx, h.agentID, "buy", entry.Symbol, map[string]any{
		"quantity": res.FilledQuantity,
		"price":    fillPrice,
		"score":    entry.CompositeScore,
	})
	h.publishTrade(ctx, "entry", entry.Symbol, res.FilledQuantity, fillPrice, nil)

	h.logger.Info().
		Str("symbol", entry.Symbol).
		Float64("quantity", res.FilledQuantity).
		Float64("price", fillPrice).
		Msg("Trade executed")
	return true, nil
}

func (h *Hunter) recordFill(ctx context.Context, positionID uuid.UUID, symbol, side string, res executor.Result, price float64, pnl *float64) {
	trade := &db.CryptoTrade{
		AgentID:    h.agentID,
		PositionID: &positionID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   res.FilledQuantity,
		Price:      price,
		Notional:   price * res.FilledQuantity,
		OrderID:    res.OrderID,
		OrderType:  string(res.OrderType),
		Status:     db.FillStatusFilled,
		PnL:        pnl,
	}
	if err := h.trades.RecordFill(ctx, trade); err != nil {
		h.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to record fill")
	}
}

func (h *Hunter) publishTrade(ctx context.Context, action, symbol string, quantity, price float64, pnl *float64) {
	if h.bus == nil {
		return
	}
	payload := map[string]any{
		"agent":    h.name,
		"action":   action,
		"symbol":   symbol,
		"quantity": quantity,
		"price":    price,
	}
	if pnl != nil {
		payload["pnl"] = *pnl
	}
	if err := h.bus.Publish(ctx, events.TypeTradeUpdate, h.name, payload); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to publish trade event")
	}
}

// AddToWatchlist hand-adds a symbol at the analyst's current read.
func (h *Hunter) AddToWatchlist(ctx context.Context, symbol string) (*db.WatchlistEntry, error) {
	cand, err := h.analyst.ManualCandidate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := h.upsertCandidate(ctx, *cand); err != nil {
		return nil, fmt.Errorf("add %s to watchlist: %w", cand.Symbol, err)
	}
	h.activity.Info(ctx, &h.agentID, fmt.Sprintf("Added %s to watchlist", cand.Symbol))
	return h.watchlist.Get(ctx, h.agentID, cand.Symbol)
}

// RemoveFromWatchlist retires a watching row.
func (h *Hunter) RemoveFromWatchlist(ctx context.Context, symbol string) error {
	symbol = h.analyst.Normalize(symbol)
	if err := h.watchlist.Remove(ctx, h.agentID, symbol); err != nil {
		return err
	}
	h.activity.Info(ctx, &h.agentID, fmt.Sprintf("Removed %s from watchlist", symbol))
	return nil
}

// ClosePosition exits one open position at the live mark, outside the
// normal cycle. Shares the cycle's single-flight lock so a concurrent
// manage pass cannot double-close the row.
func (h *Hunter) ClosePosition(ctx context.Context, positionID uuid.UUID) (*db.Position, error) {
	if !h.runMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer h.runMu.Unlock()

	pos, err := h.positions.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.AgentID != h.agentID {
		return nil, fmt.Errorf("position %s does not belong to %s", positionID, h.name)
	}
	if pos.Status != db.PositionStatusOpen {
		return nil, fmt.Errorf("position %s is not open", positionID)
	}

	price, err := h.analyst.Price(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	if _, err := h.closePosition(ctx, h.executor(), pos, price, db.ExitReasonManual); err != nil {
		return nil, err
	}
	return h.positions.Get(ctx, positionID)
}

// Watchlist returns the active watching rows, best score first.
func (h *Hunter) Watchlist(ctx context.Context) ([]*db.WatchlistEntry, error) {
	return h.watchlist.ListWatching(ctx, h.agentID)
}

// OpenPositions returns open positions refreshed with live marks where
// a quote is available.
func (h *Hunter) OpenPositions(ctx context.Context) ([]*db.Position, error) {
	open, err := h.positions.ListOpen(ctx, h.agentID)
	if err != nil {
		return nil, err
	}
	for _, pos := range open {
		price, err := h.analyst.Price(ctx, pos.Symbol)
		if err != nil {
			continue
		}
		unrealized := (price - pos.EntryPrice) * pos.Quantity
		pos.CurrentPrice = &price
		pos.UnrealizedPnL = &unrealized
	}
	return open, nil
}

// History returns closed positions, oldest first.
func (h *Hunter) History(ctx context.Context, limit int) ([]*db.Position, error) {
	return h.positions.History(ctx, h.agentID, limit)
}

// Fills returns the agent's trade fills, newest first. Only families
// that record fills return rows.
func (h *Hunter) Fills(ctx context.Context, limit int) ([]*db.CryptoTrade, error) {
	return h.trades.ListFillsByAgent(ctx, h.agentID, limit)
}

// State is the hunter control-panel snapshot.
type State struct {
	AgentID          uuid.UUID   `json:"agent_id"`
	Name             string      `json:"name"`
	Status           string      `json:"status"`
	AllocatedCapital float64     `json:"allocated_capital"`
	DeployedCapital  float64     `json:"deployed_capital"`
	AvailableCapital float64     `json:"available_capital"`
	DailyPnL         float64     `json:"daily_pnl"`
	TotalPnL         float64     `json:"total_pnl"`
	OpenPositions    int         `json:"open_positions"`
	MaxPositions     int         `json:"max_positions"`
	WatchlistCount   int         `json:"watchlist_count"`
	LastScan         *time.Time  `json:"last_scan,omitempty"`
	IsTradingEnabled bool        `json:"is_trading_enabled"`
	RiskStatus       risk.Status `json:"risk_status"`
}

// State assembles the live control-panel snapshot for this agent.
func (h *Hunter) State(ctx context.Context) (*State, error) {
	status, err := h.riskStatus(ctx)
	if err != nil {
		return nil, err
	}
	agent, err := h.agents.Get(ctx, h.agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	watching, err := h.watchlist.ListWatching(ctx, h.agentID)
	if err != nil {
		return nil, fmt.Errorf("count watchlist: %w", err)
	}

	profile := h.Profile()
	perf := h.engine.Performance()
	return &State{
		AgentID:          h.agentID,
		Name:             h.name,
		Status:           string(agent.Status),
		AllocatedCapital: status.AllocatedCapital,
		DeployedCapital:  status.DeployedCapital,
		AvailableCapital: status.AvailableCapital,
		DailyPnL:         status.DailyPnL,
		TotalPnL:         perf.TotalPnL,
		OpenPositions:    status.OpenPositions,
		MaxPositions:     status.MaxPositions,
		WatchlistCount:   len(watching),
		LastScan:         h.LastScan(),
		IsTradingEnabled: profile.AutoTrade && !status.IsDailyLimitHit,
		RiskStatus:       status,
	}, nil
}

// Performance exposes the engine's realized trade statistics.
func (h *Hunter) Performance() risk.PerformanceStats {
	return h.engine.Performance()
}
