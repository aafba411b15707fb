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
	"github.com/ajitpratap0/tradehawk/internal/market"
	"github.com/ajitpratap0/tradehawk/internal/risk"
)

// historyDays is the lookback for the crypto price series. Providers
// resample to the analysis window; seven days of hourly bars cover it.
const historyDays = 7

// CryptoAnalyst scores crypto pairs from broker quotes plus the public
// price-history chain. It implements Analyst for the crypto hunter.
type CryptoAnalyst struct {
	adapter broker.Adapter
	market  *market.Service
	engine  *risk.Engine
	logger  zerolog.Logger

	mu  sync.RWMutex
	cfg CryptoConfig
}

// NewCryptoAnalyst wires the crypto scoring pipeline.
func NewCryptoAnalyst(adapter broker.Adapter, mkt *market.Service, engine *risk.Engine, cfg CryptoConfig, logger zerolog.Logger) *CryptoAnalyst {
	return &CryptoAnalyst{
		adapter: adapter,
		market:  mkt,
		engine:  engine,
		logger:  logger,
		cfg:     cfg,
	}
}

// Configure swaps the analyst's config document.
func (a *CryptoAnalyst) Configure(cfg CryptoConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *CryptoAnalyst) config() CryptoConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Normalize maps a coin code onto its USD pair: btc yields BTC-USD.
func (a *CryptoAnalyst) Normalize(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return symbol
	}
	if !strings.HasSuffix(symbol, "-USD") {
		symbol += "-USD"
	}
	return symbol
}

// Scan lists the venue's tradable pairs, applies the coin filters, and
// scores each pair that has enough history.
func (a *CryptoAnalyst) Scan(ctx context.Context, minScore float64) ([]Candidate, int, error) {
	pairs, err := a.discoverPairs(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(pairs) == 0 {
		return nil, 0, nil
	}

	quotes, err := a.adapter.Quotes(ctx, pairs)
	if err != nil {
		return nil, len(pairs), fmt.Errorf("quote scan candidates: %w", err)
	}
	marks := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		if q.Mark > 0 {
			marks[q.Symbol] = q.Mark
		}
	}

	weights := a.config().Weights()
	var candidates []Candidate
	for _, symbol := range pairs {
		mark, ok := marks[symbol]
		if !ok {
			continue
		}
		cand, err := a.analyzePair(ctx, symbol, mark, weights)
		if err != nil {
			a.logger.Debug().Err(err).Str("symbol", symbol).Msg("Skipping pair")
			continue
		}
		if cand.Composite < minScore {
			continue
		}
		candidates = append(candidates, *cand)
	}

	sortByComposite(candidates)
	return candidates, len(pairs), nil
}

func (a *CryptoAnalyst) discoverPairs(ctx context.Context) ([]string, error) {
	instruments, err := a.adapter.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trading pairs: %w", err)
	}

	cfg := a.config()
	var allowed map[string]bool
	if len(cfg.Coins) > 0 {
		allowed = make(map[string]bool, len(cfg.Coins))
		for _, c := range cfg.Coins {
			allowed[a.Normalize(c)] = true
		}
	}
	excluded := make(map[string]bool, len(cfg.ExcludeCoins))
	for _, c := range cfg.ExcludeCoins {
		excluded[a.Normalize(c)] = true
	}

	var pairs []string
	for _, in := range instruments {
		if !in.Tradable {
			continue
		}
		if allowed != nil && !allowed[in.Symbol] {
			continue
		}
		if excluded[in.Symbol] {
			continue
		}
		pairs = append(pairs, in.Symbol)
	}

	a.logger.Info().Int("count", len(pairs)).Msg("Found tradable pairs")
	return pairs, nil
}

// analyzePair runs the three scorers over the pair's recent closes plus
// the live mark.
func (a *CryptoAnalyst) analyzePair(ctx context.Context, symbol string, mark float64, weights analysis.Weights) (*Candidate, error) {
	history, err := a.market.HistoricalPrices(ctx, symbol, historyDays)
	if err != nil {
		return nil, err
	}
	prices := market.WithLivePrice(history, mark)

	trend := analysis.AnalyzeTrend(prices)
	fundamental := analysis.AnalyzeFundamentals(cryptoFundamentals(symbol, prices))
	momentum := analysis.MomentumScore(prices)
	composite := analysis.Composite(trend.Score, fundamental.Score, momentum, weights)

	stop := a.engine.StopPrice(mark, nil)
	target := a.engine.TargetPrice(mark, &stop)

	reasoning := strings.Join([]string{
		trend.Summary,
		fundamental.Summary,
		fmt.Sprintf("Composite score: %.0f/100", composite),
	}, " | ")

	return &Candidate{
		Symbol:           symbol,
		Price:            mark,
		TrendScore:       trend.Score,
		FundamentalScore: fundamental.Score,
		MomentumScore:    momentum,
		Composite:        composite,
		EntryPrice:       mark,
		TargetPrice:      target,
		StopLoss:         stop,
		Trigger:          analysis.CryptoEntryTrigger(trend, mark, 0),
		Reasoning:        reasoning,
	}, nil
}

// cryptoFundamentals derives the fundamental inputs from the price
// series itself. The venue exposes no volume or market-cap data, so
// range position and momentum are the only live metrics.
func cryptoFundamentals(symbol string, prices []float64) analysis.AssetFundamentals {
	last := prices[len(prices)-1]
	f := analysis.AssetFundamentals{Symbol: symbol, Price: last}

	high, low := prices[0], prices[0]
	for _, p := range prices {
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}
	f.RangeHigh = &high
	f.RangeLow = &low

	if len(prices) >= 2 && prices[len(prices)-2] > 0 {
		prev := prices[len(prices)-2]
		change := (last - prev) / prev * 100
		f.Change24h = &change
	}
	if len(prices) >= 7 && prices[len(prices)-7] > 0 {
		week := prices[len(prices)-7]
		change := (last - week) / week * 100
		f.Change7d = &change
	}
	return f
}

// Price returns the live mark from the broker.
func (a *CryptoAnalyst) Price(ctx context.Context, symbol string) (float64, error) {
	quote, err := a.adapter.Quote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if quote.Mark <= 0 {
		return 0, fmt.Errorf("no mark price for %s", symbol)
	}
	return quote.Mark, nil
}

// ManualCandidate builds a neutral-score watchlist row for a hand-added
// pair. The stop and target come from the risk engine at the live mark.
func (a *CryptoAnalyst) ManualCandidate(ctx context.Context, symbol string) (*Candidate, error) {
	symbol = a.Normalize(symbol)
	mark, err := a.Price(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("could not get quote for %s: %w", symbol, err)
	}

	stop := a.engine.StopPrice(mark, nil)
	target := a.engine.TargetPrice(mark, &stop)
	return &Candidate{
		Symbol:           symbol,
		Price:            mark,
		Composite:        60,
		TrendScore:       50,
		FundamentalScore: 50,
		MomentumScore:    50,
		EntryPrice:       mark,
		TargetPrice:      target,
		StopLoss:         stop,
		Trigger:          db.EntryTriggerManual,
		Reasoning:        "Manually added",
	}, nil
}
