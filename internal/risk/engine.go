// Package risk implements fractional-Kelly position sizing, daily loss
// gating and exit rules for the hunter agents. One Engine instance
// belongs to one agent; all capital figures are against that agent's
// allocated capital, never the whole account.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Family selects the sizing profile. Crypto uses wider stops, a tighter
// Kelly cap and fractional quantities; equities size whole shares.
type Family string

const (
	FamilyCrypto   Family = "crypto"
	FamilyEquities Family = "equities"
)

// Exit reasons returned by ShouldExit. Values match the position
// exit_reason enum in the persistence layer.
const (
	ReasonStopLoss    = "stop_loss"
	ReasonTakeProfit  = "take_profit"
	ReasonMaxHoldTime = "max_hold_time"
	ReasonTrailing    = "trailing_stop"
)

// Config carries the per-agent risk parameters. Zero values are filled
// with the family defaults by NewEngine.
type Config struct {
	Family            Family
	AllocatedCapital  float64
	MaxPositions      int
	MaxPositionPct    float64
	KellyMultiplier   float64
	DailyLossLimitPct float64
	StopLossPct       float64
	TakeProfitPct     float64
	MaxHoldHours      float64 // crypto hold ceiling
	MaxHoldDays       int     // equities hold ceiling
}

func (c Config) withDefaults() Config {
	switch c.Family {
	case FamilyEquities:
		if c.AllocatedCapital == 0 {
			c.AllocatedCapital = 10000
		}
		if c.MaxPositionPct == 0 {
			c.MaxPositionPct = 0.25
		}
		if c.StopLossPct == 0 {
			c.StopLossPct = 0.08
		}
		if c.TakeProfitPct == 0 {
			c.TakeProfitPct = 0.20
		}
		if c.MaxHoldDays == 0 {
			c.MaxHoldDays = 30
		}
	default:
		c.Family = FamilyCrypto
		if c.AllocatedCapital == 0 {
			c.AllocatedCapital = 5000
		}
		if c.MaxPositionPct == 0 {
			c.MaxPositionPct = 0.20
		}
		if c.StopLossPct == 0 {
			c.StopLossPct = 0.10
		}
		if c.TakeProfitPct == 0 {
			c.TakeProfitPct = 0.25
		}
		if c.MaxHoldHours == 0 {
			c.MaxHoldHours = 168
		}
	}
	if c.MaxPositions == 0 {
		c.MaxPositions = 5
	}
	if c.KellyMultiplier == 0 {
		c.KellyMultiplier = 0.5
	}
	if c.DailyLossLimitPct == 0 {
		c.DailyLossLimitPct = 0.05
	}
	return c
}

// TradeOutcome is one closed trade fed back into the Kelly inputs.
type TradeOutcome struct {
	Symbol     string
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	PnLPct     float64
	Date       time.Time
}

// PositionSize is the sizing decision for one candidate entry. A zero
// Quantity means the entry was refused; Reasoning says why.
type PositionSize struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	DollarAmount  float64 `json:"dollar_amount"`
	PositionPct   float64 `json:"position_pct"`
	KellyFraction float64 `json:"kelly_fraction"`
	Reasoning     string  `json:"reasoning"`
}

// Status mirrors the risk snapshot the hunter state endpoint serves.
type Status struct {
	AllocatedCapital float64 `json:"allocated_capital"`
	DeployedCapital  float64 `json:"deployed_capital"`
	AvailableCapital float64 `json:"available_capital"`
	DeployedPct      float64 `json:"deployed_pct"`
	DailyPnL         float64 `json:"daily_pnl"`
	DailyPnLPct      float64 `json:"daily_pnl_pct"`
	IsDailyLimitHit  bool    `json:"is_daily_limit_hit"`
	OpenPositions    int     `json:"open_positions"`
	MaxPositions     int     `json:"max_positions"`
	CanOpenNew       bool    `json:"can_open_new"`
}

// PerformanceStats summarises the recorded trade history.
type PerformanceStats struct {
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	TotalPnL     float64 `json:"total_pnl"`
}

// Engine sizes positions with a fractional Kelly criterion and decides
// exits. Trade history and the per-day pnl map live in memory for the
// agent's process lifetime; closed positions in the store remain the
// durable record.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	history []TradeOutcome
	daily   map[string]float64 // yyyy-mm-dd (UTC) → realized pnl
}

// NewEngine builds an engine over cfg with family defaults applied.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg.withDefaults(),
		daily: make(map[string]float64),
	}
}

// Config returns the effective configuration after defaults.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Reconfigure swaps the risk parameters in place. Trade history and
// the daily pnl map survive, so the Kelly inputs keep their sample.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg.withDefaults()
}

type kellyInputs struct {
	winRate, avgWin, avgLoss float64
	totalTrades              int
}

// historicalStats derives win rate and average win/loss percentages
// from the recorded history. Empty history falls back to the family's
// conservative defaults. Caller holds the lock.
func (e *Engine) historicalStats() kellyInputs {
	defaultWinRate := 0.50
	if e.cfg.Family == FamilyCrypto {
		defaultWinRate = 0.45
	}
	if len(e.history) == 0 {
		return kellyInputs{
			winRate: defaultWinRate,
			avgWin:  e.cfg.TakeProfitPct,
			avgLoss: e.cfg.StopLossPct,
		}
	}

	var winSum, lossSum float64
	var wins, losses int
	for _, t := range e.history {
		if t.PnL > 0 {
			winSum += t.PnLPct
			wins++
		} else {
			lossSum += t.PnLPct
			losses++
		}
	}

	in := kellyInputs{
		winRate:     float64(wins) / float64(len(e.history)),
		avgWin:      e.cfg.TakeProfitPct,
		avgLoss:     e.cfg.StopLossPct,
		totalTrades: len(e.history),
	}
	if wins > 0 {
		in.avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		in.avgLoss = lossSum / float64(losses)
		if in.avgLoss < 0 {
			in.avgLoss = -in.avgLoss
		}
	}
	return in
}

// KellyFraction computes the adjusted Kelly fraction from the
// empirical win rate and win/loss sizes: b = W/L,
// k = (b·p − (1−p)) / b, scaled by the multiplier and clamped to the
// family cap (15% per position crypto, max_position_pct equities).
func (e *Engine) KellyFraction() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kellyLocked()
}

func (e *Engine) kellyLocked() float64 {
	stats := e.historicalStats()
	p := stats.winRate
	w := stats.avgWin
	l := stats.avgLoss
	if l <= 0 {
		l = e.cfg.StopLossPct
	}

	b := w / l
	kelly := (b*p - (1 - p)) / b
	kelly *= e.cfg.KellyMultiplier

	maxKelly := e.cfg.MaxPositionPct
	if e.cfg.Family == FamilyCrypto && maxKelly > 0.15 {
		maxKelly = 0.15
	}
	if kelly < 0 {
		kelly = 0
	}
	if kelly > maxKelly {
		kelly = maxKelly
	}

	log.Debug().
		Float64("win_rate", p).
		Float64("avg_win", w).
		Float64("avg_loss", l).
		Float64("kelly", kelly).
		Str("family", string(e.cfg.Family)).
		Msg("Kelly fraction computed")

	return kelly
}

// SizeRequest describes one candidate entry to be sized.
type SizeRequest struct {
	Symbol          string
	EntryPrice      float64
	StopLoss        *float64
	DeployedCapital float64
	OpenPositions   int
	// QuantityIncrement is the venue's quantity step. Zero means the
	// family default: 1e-8 for crypto, whole shares for equities.
	QuantityIncrement float64
}

// SizePosition computes how much of the agent's capital to commit to
// one entry: min of the Kelly amount, the 2%-risk amount (when a stop
// is supplied), the per-position cap and the remaining capital, with
// the quantity floored to the venue increment.
func (e *Engine) SizePosition(req SizeRequest) PositionSize {
	e.mu.Lock()
	defer e.mu.Unlock()

	available := e.cfg.AllocatedCapital - req.DeployedCapital

	if req.OpenPositions >= e.cfg.MaxPositions {
		return PositionSize{Symbol: req.Symbol, Reasoning: "Maximum positions reached"}
	}
	if available <= 0 {
		return PositionSize{Symbol: req.Symbol, Reasoning: "No available capital"}
	}
	if req.EntryPrice <= 0 {
		return PositionSize{Symbol: req.Symbol, Reasoning: "Entry price must be positive"}
	}

	kelly := e.kellyLocked()
	kellyAmount := e.cfg.AllocatedCapital * kelly

	// Risk-based sizing keeps a single stop-out at 2% of capital.
	riskAmount := kellyAmount
	if req.StopLoss != nil {
		riskPct := (req.EntryPrice - *req.StopLoss) / req.EntryPrice
		if riskPct < 0 {
			riskPct = -riskPct
		}
		if riskPct > 0 {
			riskAmount = (e.cfg.AllocatedCapital * 0.02) / riskPct
		}
	}

	maxAmount := e.cfg.AllocatedCapital * e.cfg.MaxPositionPct
	positionAmount := min(kellyAmount, riskAmount, maxAmount, available)

	increment := req.QuantityIncrement
	if increment <= 0 {
		if e.cfg.Family == FamilyEquities {
			increment = 1
		} else {
			increment = 1e-8
		}
	}
	quantity := floorToIncrement(positionAmount/req.EntryPrice, increment)
	actualAmount := quantity * req.EntryPrice

	positionPct := 0.0
	if e.cfg.AllocatedCapital > 0 {
		positionPct = actualAmount / e.cfg.AllocatedCapital
	}

	var qtyLabel string
	if e.cfg.Family == FamilyEquities {
		qtyLabel = fmt.Sprintf("%d shares", int64(quantity))
	} else {
		qtyLabel = fmt.Sprintf("%.6f units", quantity)
	}
	reasoning := fmt.Sprintf(
		"Kelly: %.1f%% → $%.0f, Max: %.0f%% → $%.0f, Available: $%.0f → Final: $%.0f (%s)",
		kelly*100, kellyAmount, e.cfg.MaxPositionPct*100, maxAmount, available, actualAmount, qtyLabel)

	return PositionSize{
		Symbol:        req.Symbol,
		Quantity:      quantity,
		DollarAmount:  actualAmount,
		PositionPct:   positionPct,
		KellyFraction: kelly,
		Reasoning:     reasoning,
	}
}

// RecordTrade feeds a closed trade into the Kelly history and the
// daily pnl map.
func (e *Engine) RecordTrade(t TradeOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	if t.PnLPct == 0 && t.EntryPrice > 0 {
		t.PnLPct = (t.ExitPrice - t.EntryPrice) / t.EntryPrice
	}

	e.history = append(e.history, t)
	e.daily[dayKey(t.Date)] += t.PnL

	log.Info().
		Str("symbol", t.Symbol).
		Float64("pnl", t.PnL).
		Float64("pnl_pct", t.PnLPct).
		Msg("Trade recorded")
}

// DailyPnL returns the recorded realized pnl for the given day.
func (e *Engine) DailyPnL(day time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daily[dayKey(day)]
}

// CheckDailyLimit reports whether the daily loss limit is hit:
// daily_pnl ≤ −allocated × daily_loss_limit_pct.
func (e *Engine) CheckDailyLimit(dailyPnL float64) bool {
	e.mu.Lock()
	limit := e.cfg.AllocatedCapital * e.cfg.DailyLossLimitPct
	e.mu.Unlock()

	hit := dailyPnL <= -limit
	if hit {
		log.Warn().
			Float64("daily_pnl", dailyPnL).
			Float64("limit", -limit).
			Msg("Daily loss limit hit")
	}
	return hit
}

// Status snapshots capital deployment, daily pnl and the open gate.
func (e *Engine) Status(deployed float64, openPositions int, dailyPnL float64) Status {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	available := cfg.AllocatedCapital - deployed
	deployedPct := 0.0
	dailyPct := 0.0
	if cfg.AllocatedCapital > 0 {
		deployedPct = deployed / cfg.AllocatedCapital
		dailyPct = dailyPnL / cfg.AllocatedCapital
	}
	limitHit := e.CheckDailyLimit(dailyPnL)

	return Status{
		AllocatedCapital: cfg.AllocatedCapital,
		DeployedCapital:  deployed,
		AvailableCapital: available,
		DeployedPct:      deployedPct,
		DailyPnL:         dailyPnL,
		DailyPnLPct:      dailyPct,
		IsDailyLimitHit:  limitHit,
		OpenPositions:    openPositions,
		MaxPositions:     cfg.MaxPositions,
		CanOpenNew:       openPositions < cfg.MaxPositions && available > 0 && !limitHit,
	}
}

// StopPrice derives the protective stop: 2×ATR below entry when
// volatility is supplied, the configured percentage otherwise.
func (e *Engine) StopPrice(entry float64, atr *float64) float64 {
	e.mu.Lock()
	pct := e.cfg.StopLossPct
	e.mu.Unlock()
	if atr != nil && *atr > 0 {
		return entry - 2**atr
	}
	return entry * (1 - pct)
}

// TargetPrice derives the profit target: 2.5× the stop distance above
// entry when a stop is supplied, the configured percentage otherwise.
func (e *Engine) TargetPrice(entry float64, stop *float64) float64 {
	e.mu.Lock()
	pct := e.cfg.TakeProfitPct
	e.mu.Unlock()
	if stop != nil {
		return entry + 2.5*(entry-*stop)
	}
	return entry * (1 + pct)
}

// ShouldExit applies the exit rules in priority order: stop, target,
// max hold, then the crypto-only trailing rule. Hold time is compared
// in hours for crypto and whole days for equities.
func (e *Engine) ShouldExit(price, entry, stop, target float64, held time.Duration) (bool, string) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if price <= stop {
		return true, ReasonStopLoss
	}
	if price >= target {
		return true, ReasonTakeProfit
	}

	if cfg.Family == FamilyEquities {
		if int(held.Hours()/24) >= cfg.MaxHoldDays {
			return true, ReasonMaxHoldTime
		}
		return false, ""
	}

	if held.Hours() >= cfg.MaxHoldHours {
		return true, ReasonMaxHoldTime
	}
	if entry > 0 {
		pnlPct := (price - entry) / entry
		if pnlPct > 0.15 && price <= entry*1.01 {
			return true, ReasonTrailing
		}
	}
	return false, ""
}

// Performance summarises the recorded history for status endpoints.
func (e *Engine) Performance() PerformanceStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return PerformanceStats{}
	}

	stats := e.historicalStats()
	var winTotal, lossTotal, pnlTotal float64
	for _, t := range e.history {
		pnlTotal += t.PnL
		if t.PnL > 0 {
			winTotal += t.PnL
		} else {
			lossTotal -= t.PnL
		}
	}
	profitFactor := 0.0
	if lossTotal > 0 {
		profitFactor = winTotal / lossTotal
	}
	return PerformanceStats{
		TotalTrades:  stats.totalTrades,
		WinRate:      stats.winRate,
		AvgWin:       stats.avgWin,
		AvgLoss:      stats.avgLoss,
		ProfitFactor: profitFactor,
		TotalPnL:     pnlTotal,
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// floorToIncrement rounds v down to a multiple of inc using exact
// decimal arithmetic so binary float noise cannot round up.
func floorToIncrement(v, inc float64) float64 {
	if inc <= 0 || v <= 0 {
		if v < 0 {
			return 0
		}
		return v
	}
	d := decimal.NewFromFloat(v)
	step := decimal.NewFromFloat(inc)
	out, _ := d.Div(step).Floor().Mul(step).Float64()
	return out
}

