package hunter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajitpratap0/tradehawk/internal/analysis"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/executor"
	"github.com/ajitpratap0/tradehawk/internal/risk"
)

// Family selects the hunter's asset class. It decides the position side
// label, the fill-record policy, and the entry gate shape.
type Family string

const (
	FamilyCrypto   Family = "crypto"
	FamilyEquities Family = "equities"
)

// Watchlist rows go stale at different speeds: crypto candidates decay
// within two days, equity setups stay valid for a week.
const (
	cryptoWatchlistTTL = 48 * time.Hour
	gemWatchlistTTL    = 7 * 24 * time.Hour
)

// immediateEntryScore is the floor above which an equities watchlist row
// qualifies for entry even without an immediate trigger.
const immediateEntryScore = 75.0

// CryptoConfig is the crypto hunter's per-agent config document. Field
// names mirror the JSON stored on the agent row; unknown keys are
// preserved across updates by MergeConfig.
type CryptoConfig struct {
	AllocatedCapital    float64  `json:"allocated_capital"`
	MaxPositions        int      `json:"max_positions"`
	MaxPositionPct      float64  `json:"max_position_pct"`
	KellyMultiplier     float64  `json:"kelly_multiplier"`
	DailyLossLimitPct   float64  `json:"daily_loss_limit_pct"`
	StopLossPct         float64  `json:"stop_loss_pct"`
	TakeProfitPct       float64  `json:"take_profit_pct"`
	MaxHoldHours        float64  `json:"max_hold_hours"`
	MinCompositeScore   float64  `json:"min_composite_score"`
	EntryScoreThreshold float64  `json:"entry_score_threshold"`
	MaxWatchlist        int      `json:"max_watchlist"`
	AutoTrade           bool     `json:"auto_trade"`
	ScanIntervalMinutes int      `json:"scan_interval_minutes"`
	TrendWeight         float64  `json:"trend_weight"`
	FundamentalWeight   float64  `json:"fundamental_weight"`
	MomentumWeight      float64  `json:"momentum_weight"`
	Coins               []string `json:"coins,omitempty"`
	ExcludeCoins        []string `json:"exclude_coins,omitempty"`
	UseLimitOrders      bool     `json:"use_limit_orders"`
	LimitOffsetPct      float64  `json:"limit_offset_pct"`
	OrderTimeoutSeconds int      `json:"order_timeout_seconds"`
	MaxSlippagePct      float64  `json:"max_slippage_pct"`
	DryRun              bool     `json:"dry_run"`
}

// DefaultCryptoConfig returns the crypto hunter's built-in defaults.
// Agent rows seeded at install time override several of these.
func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{
		AllocatedCapital:    5000,
		MaxPositions:        5,
		MaxPositionPct:      0.20,
		KellyMultiplier:     0.5,
		DailyLossLimitPct:   0.05,
		StopLossPct:         0.10,
		TakeProfitPct:       0.25,
		MaxHoldHours:        168,
		MinCompositeScore:   65,
		EntryScoreThreshold: 75,
		MaxWatchlist:        20,
		AutoTrade:           true,
		ScanIntervalMinutes: 15,
		TrendWeight:         0.50,
		FundamentalWeight:   0.30,
		MomentumWeight:      0.20,
		UseLimitOrders:      false,
		LimitOffsetPct:      0.001,
		OrderTimeoutSeconds: 60,
		MaxSlippagePct:      0.01,
	}
}

// ParseCryptoConfig decodes an agent config document over the defaults,
// so absent keys keep their built-in values.
func ParseCryptoConfig(raw json.RawMessage) (CryptoConfig, error) {
	cfg := DefaultCryptoConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid crypto hunter config: %w", err)
	}
	return cfg, nil
}

// RiskConfig maps the document onto the risk engine parameters.
func (c CryptoConfig) RiskConfig() risk.Config {
	return risk.Config{
		Family:            risk.FamilyCrypto,
		AllocatedCapital:  c.AllocatedCapital,
		MaxPositions:      c.MaxPositions,
		MaxPositionPct:    c.MaxPositionPct,
		KellyMultiplier:   c.KellyMultiplier,
		DailyLossLimitPct: c.DailyLossLimitPct,
		StopLossPct:       c.StopLossPct,
		TakeProfitPct:     c.TakeProfitPct,
		MaxHoldHours:      c.MaxHoldHours,
	}
}

// ExecutorConfig maps the document onto the order executor.
func (c CryptoConfig) ExecutorConfig() executor.Config {
	return executor.Config{
		Family:         executor.FamilyCrypto,
		UseLimitOrders: c.UseLimitOrders,
		LimitOffsetPct: c.LimitOffsetPct,
		OrderTimeout:   time.Duration(c.OrderTimeoutSeconds) * time.Second,
		MaxSlippagePct: c.MaxSlippagePct,
		DryRun:         c.DryRun,
	}
}

// Weights returns the composite blend for the crypto scorer.
func (c CryptoConfig) Weights() analysis.Weights {
	return analysis.Weights{
		Trend:       c.TrendWeight,
		Fundamental: c.FundamentalWeight,
		Momentum:    c.MomentumWeight,
	}
}

// Profile condenses the document into the family-neutral knobs the
// cycle loop reads.
func (c CryptoConfig) Profile() Profile {
	return Profile{
		Family:       FamilyCrypto,
		MinScore:     c.MinCompositeScore,
		EntryScore:   c.EntryScoreThreshold,
		MaxWatchlist: c.MaxWatchlist,
		AutoTrade:    c.AutoTrade,
		ScanInterval: time.Duration(c.ScanIntervalMinutes) * time.Minute,
		WatchlistTTL: cryptoWatchlistTTL,
		PositionSide: "long",
		RecordFills:  true,
	}
}

// GemConfig is the equities gem hunter's per-agent config document.
type GemConfig struct {
	AllocatedCapital    float64  `json:"allocated_capital"`
	MaxPositions        int      `json:"max_positions"`
	MaxPositionPct      float64  `json:"max_position_pct"`
	KellyMultiplier     float64  `json:"kelly_multiplier"`
	DailyLossLimitPct   float64  `json:"daily_loss_limit_pct"`
	StopLossPct         float64  `json:"stop_loss_pct"`
	TakeProfitPct       float64  `json:"take_profit_pct"`
	MaxHoldDays         int      `json:"max_hold_days"`
	MinCompositeScore   float64  `json:"min_composite_score"`
	MaxWatchlist        int      `json:"max_watchlist"`
	AutoTrade           bool     `json:"auto_trade"`
	ScanIntervalMinutes int      `json:"scan_interval_minutes"`
	TechnicalWeight     float64  `json:"technical_weight"`
	FundamentalWeight   float64  `json:"fundamental_weight"`
	MomentumWeight      float64  `json:"momentum_weight"`
	MinMarketCap        float64  `json:"min_market_cap"`
	MinAvgVolume        float64  `json:"min_avg_volume"`
	Universe            []string `json:"universe,omitempty"`
	UseLimitOrders      bool     `json:"use_limit_orders"`
	LimitOffsetPct      float64  `json:"limit_offset_pct"`
	BracketOrders       bool     `json:"bracket_orders"`
	DryRun              bool     `json:"dry_run"`
}

// DefaultGemConfig returns the gem hunter's built-in defaults.
func DefaultGemConfig() GemConfig {
	return GemConfig{
		AllocatedCapital:    10000,
		MaxPositions:        5,
		MaxPositionPct:      0.25,
		KellyMultiplier:     0.5,
		DailyLossLimitPct:   0.05,
		StopLossPct:         0.08,
		TakeProfitPct:       0.20,
		MaxHoldDays:         30,
		MinCompositeScore:   65,
		MaxWatchlist:        20,
		AutoTrade:           true,
		ScanIntervalMinutes: 60,
		TechnicalWeight:     0.40,
		FundamentalWeight:   0.30,
		MomentumWeight:      0.30,
		MinMarketCap:        1_000_000_000,
		MinAvgVolume:        500_000,
		UseLimitOrders:      true,
		LimitOffsetPct:      0.001,
		BracketOrders:       true,
	}
}

// ParseGemConfig decodes an agent config document over the defaults.
func ParseGemConfig(raw json.RawMessage) (GemConfig, error) {
	cfg := DefaultGemConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid gem hunter config: %w", err)
	}
	return cfg, nil
}

// RiskConfig maps the document onto the risk engine parameters.
func (c GemConfig) RiskConfig() risk.Config {
	return risk.Config{
		Family:            risk.FamilyEquities,
		AllocatedCapital:  c.AllocatedCapital,
		MaxPositions:      c.MaxPositions,
		MaxPositionPct:    c.MaxPositionPct,
		KellyMultiplier:   c.KellyMultiplier,
		DailyLossLimitPct: c.DailyLossLimitPct,
		StopLossPct:       c.StopLossPct,
		TakeProfitPct:     c.TakeProfitPct,
		MaxHoldDays:       c.MaxHoldDays,
	}
}

// ExecutorConfig maps the document onto the order executor.
func (c GemConfig) ExecutorConfig() executor.Config {
	return executor.Config{
		Family:         executor.FamilyEquities,
		UseLimitOrders: c.UseLimitOrders,
		LimitOffsetPct: c.LimitOffsetPct,
		BracketOrders:  c.BracketOrders,
		DryRun:         c.DryRun,
	}
}

// Weights returns the composite blend for the equity scorer.
func (c GemConfig) Weights() analysis.Weights {
	return analysis.Weights{
		Trend:       c.TechnicalWeight,
		Fundamental: c.FundamentalWeight,
		Momentum:    c.MomentumWeight,
	}
}

// ScreenerConfig returns the market-cap and volume floors.
func (c GemConfig) ScreenerConfig() analysis.ScreenerConfig {
	return analysis.ScreenerConfig{
		MinMarketCap: c.MinMarketCap,
		MinAvgVolume: c.MinAvgVolume,
	}
}

// Profile condenses the document into the family-neutral knobs the
// cycle loop reads.
func (c GemConfig) Profile() Profile {
	return Profile{
		Family:       FamilyEquities,
		MinScore:     c.MinCompositeScore,
		EntryScore:   immediateEntryScore,
		MaxWatchlist: c.MaxWatchlist,
		AutoTrade:    c.AutoTrade,
		ScanInterval: time.Duration(c.ScanIntervalMinutes) * time.Minute,
		WatchlistTTL: gemWatchlistTTL,
		PositionSide: "stock",
		MarketGated:  true,
	}
}

// Profile is the family-neutral slice of a hunter config: everything
// the cycle loop needs without knowing which document produced it.
type Profile struct {
	Family       Family
	MinScore     float64
	EntryScore   float64
	MaxWatchlist int
	AutoTrade    bool
	ScanInterval time.Duration
	WatchlistTTL time.Duration
	PositionSide string
	MarketGated  bool
	RecordFills  bool
}

// readyToEnter reports whether a watchlist row qualifies for execution.
// Equities enter on an immediate trigger or a score above the threshold;
// crypto rows are pre-filtered by score before they reach this gate.
func (p Profile) readyToEnter(trigger string, score float64) bool {
	if p.Family == FamilyEquities {
		return trigger == db.EntryTriggerImmediate || score >= p.EntryScore
	}
	return true
}

// MergeConfig overlays a patch document onto an existing config,
// preserving keys the patch does not mention, including ones no struct
// in this package models.
func MergeConfig(existing, patch json.RawMessage) (json.RawMessage, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("invalid stored config: %w", err)
		}
	}
	if len(patch) > 0 {
		var overlay map[string]any
		if err := json.Unmarshal(patch, &overlay); err != nil {
			return nil, fmt.Errorf("invalid config update: %w", err)
		}
		for k, v := range overlay {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	return out, nil
}

// AutoScheduled reports whether an agent config opts into scheduled
// trading. Either flag works; absent flags count as disabled.
func AutoScheduled(raw json.RawMessage) bool {
	var probe struct {
		AutoTrade      *bool `json:"auto_trade"`
		TradingEnabled *bool `json:"trading_enabled"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	if probe.AutoTrade != nil && *probe.AutoTrade {
		return true
	}
	return probe.TradingEnabled != nil && *probe.TradingEnabled
}
