package hunter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradehawk/internal/analysis"
	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/indicators"
	"github.com/ajitpratap0/tradehawk/internal/market"
	"github.com/ajitpratap0/tradehawk/internal/risk"
)

// Snapshot construction needs a year of daily bars for the long moving
// averages and roughly a quarter for the volume baseline.
const (
	equityHistoryDays = 365
	avgVolumeBars     = 63
	minEquityBars     = 20
)

// EquityAnalyst scores large-cap stocks from public chart and
// fundamentals data, with the broker supplying live marks when
// connected. It implements Analyst for the gem hunter.
type EquityAnalyst struct {
	adapter broker.Adapter
	yahoo   *market.YahooClient
	engine  *risk.Engine
	logger  zerolog.Logger

	mu  sync.RWMutex
	cfg GemConfig
}

// NewEquityAnalyst wires the equity scoring pipeline.
func NewEquityAnalyst(adapter broker.Adapter, yahoo *market.YahooClient, engine *risk.Engine, cfg GemConfig, logger zerolog.Logger) *EquityAnalyst {
	return &EquityAnalyst{
		adapter: adapter,
		yahoo:   yahoo,
		engine:  engine,
		logger:  logger,
		cfg:     cfg,
	}
}

// Configure swaps the analyst's config document.
func (a *EquityAnalyst) Configure(cfg GemConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *EquityAnalyst) config() GemConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Normalize upper-cases a ticker.
func (a *EquityAnalyst) Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Scan snapshots the configured universe, screens it through the
// market-cap and volume floors, and scores the survivors. The returned
// count is the number of screen matches, not the universe size.
func (a *EquityAnalyst) Scan(ctx context.Context, minScore float64) ([]Candidate, int, error) {
	cfg := a.config()
	universe := cfg.Universe
	if len(universe) == 0 {
		universe = analysis.DefaultEquityUniverse
	}

	snaps := make([]analysis.ScreenerSnapshot, 0, len(universe))
	for _, symbol := range universe {
		snap, err := a.snapshot(ctx, symbol)
		if err != nil {
			a.logger.Debug().Err(err).Str("symbol", symbol).Msg("Screener snapshot failed")
			continue
		}
		snaps = append(snaps, *snap)
	}

	matches := analysis.Screen(snaps, cfg.ScreenerConfig())
	weights := cfg.Weights()

	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		cand := a.scoreSnapshot(m.Snapshot, weights)
		if cand.Composite < minScore {
			continue
		}
		candidates = append(candidates, cand)
	}

	sortByComposite(candidates)
	return candidates, len(matches), nil
}

// snapshot assembles one screener row: a year of chart data for the
// moving averages and range, plus valuation fields when the
// fundamentals endpoint cooperates. A missing market cap simply lets
// the screen floor drop the symbol.
func (a *EquityAnalyst) snapshot(ctx context.Context, symbol string) (*analysis.ScreenerSnapshot, error) {
	hist, err := a.yahoo.DailyHistory(ctx, symbol, equityHistoryDays)
	if err != nil {
		return nil, err
	}
	if len(hist.Closes) < minEquityBars {
		return nil, fmt.Errorf("%s: only %d daily bars", symbol, len(hist.Closes))
	}

	price := hist.Price
	if price <= 0 {
		price = hist.Closes[len(hist.Closes)-1]
	}

	avgVol := hist.AvgVolume(avgVolumeBars)
	volRatio := 0.0
	if avgVol > 0 && hist.DayVolume > 0 {
		volRatio = hist.DayVolume / avgVol
	}

	rsi, err := indicators.RSI(hist.Closes, 14)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	snap := &analysis.ScreenerSnapshot{
		Symbol:      symbol,
		Price:       price,
		AvgVolume:   avgVol,
		VolumeRatio: volRatio,
		High52w:     hist.High52w,
		Low52w:      hist.Low52w,
		RSI:         rsi,
		SMAs:        analysis.ComputeSMASet(hist.Closes),
	}
	if snap.High52w <= 0 || snap.Low52w <= 0 {
		snap.High52w, snap.Low52w = seriesRange(hist.Closes)
	}

	fund, err := a.yahoo.Fundamentals(ctx, symbol)
	if err != nil {
		a.logger.Debug().Err(err).Str("symbol", symbol).Msg("Fundamentals unavailable")
		return snap, nil
	}
	snap.MarketCap = fund.MarketCap
	snap.PERatio = fund.PERatio
	snap.RevenueGrowth = fund.RevenueGrowth
	snap.EarningsGrowth = fund.EarningsGrowth
	return snap, nil
}

func seriesRange(closes []float64) (high, low float64) {
	high, low = closes[0], closes[0]
	for _, c := range closes {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}
	return high, low
}

// scoreSnapshot turns one screened snapshot into a candidate with the
// three axis scores, the blended composite, and the entry plan.
func (a *EquityAnalyst) scoreSnapshot(snap analysis.ScreenerSnapshot, weights analysis.Weights) Candidate {
	scores := analysis.ScoreEquity(snap)
	composite := analysis.Composite(scores.Technical, scores.Fundamental, scores.Momentum, weights)

	stop := a.engine.StopPrice(snap.Price, nil)
	target := a.engine.TargetPrice(snap.Price, nil)
	trigger := analysis.EquityEntryTrigger(analysis.EquityTriggerInputs{
		Price:       snap.Price,
		RSI:         snap.RSI,
		VolumeRatio: snap.VolumeRatio,
		High52w:     snap.High52w,
		SMA20:       snap.SMAs.SMA20,
		SMA50:       snap.SMAs.SMA50,
	})

	return Candidate{
		Symbol:           snap.Symbol,
		Price:            snap.Price,
		TrendScore:       scores.Technical,
		FundamentalScore: scores.Fundamental,
		MomentumScore:    scores.Momentum,
		Composite:        composite,
		EntryPrice:       snap.Price,
		TargetPrice:      target,
		StopLoss:         stop,
		Trigger:          trigger,
		Reasoning:        analysis.EquityReasoning(snap, scores, composite),
	}
}

// Price returns the live mark, preferring the broker and falling back
// to the latest public chart price when the broker is disconnected.
func (a *EquityAnalyst) Price(ctx context.Context, symbol string) (float64, error) {
	if quote, err := a.adapter.Quote(ctx, symbol); err == nil && quote.Mark > 0 {
		return quote.Mark, nil
	}

	hist, err := a.yahoo.DailyHistory(ctx, symbol, 5)
	if err != nil {
		return 0, fmt.Errorf("price lookup for %s: %w", symbol, err)
	}
	if hist.Price > 0 {
		return hist.Price, nil
	}
	if len(hist.Closes) > 0 {
		return hist.Closes[len(hist.Closes)-1], nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

// ManualCandidate runs the full snapshot-and-score path for one
// hand-added ticker, skipping the screen floors.
func (a *EquityAnalyst) ManualCandidate(ctx context.Context, symbol string) (*Candidate, error) {
	symbol = a.Normalize(symbol)
	snap, err := a.snapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	cand := a.scoreSnapshot(*snap, a.config().Weights())
	cand.Trigger = db.EntryTriggerManual
	return &cand, nil
}
