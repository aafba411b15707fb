package hunter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/executor"
	"github.com/ajitpratap0/tradehawk/internal/risk"
)

func TestParseCryptoConfigDefaults(t *testing.T) {
	cfg, err := ParseCryptoConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.AllocatedCapital)
	assert.Equal(t, 5, cfg.MaxPositions)
	assert.Equal(t, 65.0, cfg.MinCompositeScore)
	assert.Equal(t, 75.0, cfg.EntryScoreThreshold)
	assert.Equal(t, 20, cfg.MaxWatchlist)
	assert.True(t, cfg.AutoTrade)
	assert.Equal(t, 15, cfg.ScanIntervalMinutes)
	assert.Equal(t, 0.50, cfg.TrendWeight)
	assert.Equal(t, 0.30, cfg.FundamentalWeight)
	assert.Equal(t, 0.20, cfg.MomentumWeight)
	assert.False(t, cfg.UseLimitOrders)
	assert.Equal(t, 60, cfg.OrderTimeoutSeconds)
}

func TestParseCryptoConfigOverlaysStoredDocument(t *testing.T) {
	raw := json.RawMessage(`{
		"allocated_capital": 5000,
		"max_watchlist": 15,
		"auto_trade": false,
		"scan_interval_minutes": 30,
		"trend_weight": 0.40,
		"momentum_weight": 0.30,
		"use_limit_orders": true,
		"limit_offset_pct": 0.002,
		"order_timeout_seconds": 120,
		"coins": ["btc", "ETH"]
	}`)
	cfg, err := ParseCryptoConfig(raw)
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.MaxWatchlist)
	assert.False(t, cfg.AutoTrade)
	assert.Equal(t, 30, cfg.ScanIntervalMinutes)
	assert.Equal(t, 0.40, cfg.TrendWeight)
	assert.Equal(t, 0.30, cfg.MomentumWeight)
	assert.Equal(t, []string{"btc", "ETH"}, cfg.Coins)
	// Keys the document omits keep their defaults.
	assert.Equal(t, 75.0, cfg.EntryScoreThreshold)
	assert.Equal(t, 0.10, cfg.StopLossPct)
	assert.Equal(t, 120, cfg.OrderTimeoutSeconds)
}

func TestParseCryptoConfigRejectsBadJSON(t *testing.T) {
	_, err := ParseCryptoConfig(json.RawMessage(`{"max_positions": "five"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid crypto hunter config")
}

func TestParseGemConfigDefaults(t *testing.T) {
	cfg, err := ParseGemConfig(json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 10000.0, cfg.AllocatedCapital)
	assert.Equal(t, 0.25, cfg.MaxPositionPct)
	assert.Equal(t, 0.08, cfg.StopLossPct)
	assert.Equal(t, 0.20, cfg.TakeProfitPct)
	assert.Equal(t, 30, cfg.MaxHoldDays)
	assert.Equal(t, 60, cfg.ScanIntervalMinutes)
	assert.Equal(t, 0.40, cfg.TechnicalWeight)
	assert.InDelta(t, 1e9, cfg.MinMarketCap, 1)
	assert.InDelta(t, 500_000, cfg.MinAvgVolume, 1)
	assert.True(t, cfg.UseLimitOrders)
	assert.True(t, cfg.BracketOrders)
	assert.Empty(t, cfg.Universe)
}

func TestCryptoDerivedConfigs(t *testing.T) {
	cfg := DefaultCryptoConfig()
	cfg.OrderTimeoutSeconds = 120
	cfg.UseLimitOrders = true

	rc := cfg.RiskConfig()
	assert.Equal(t, risk.FamilyCrypto, rc.Family)
	assert.Equal(t, 5000.0, rc.AllocatedCapital)
	assert.Equal(t, 168.0, rc.MaxHoldHours)

	ec := cfg.ExecutorConfig()
	assert.Equal(t, executor.FamilyCrypto, ec.Family)
	assert.True(t, ec.UseLimitOrders)
	assert.Equal(t, 120*time.Second, ec.OrderTimeout)

	w := cfg.Weights()
	assert.Equal(t, 0.50, w.Trend)

	p := cfg.Profile()
	assert.Equal(t, FamilyCrypto, p.Family)
	assert.Equal(t, 15*time.Minute, p.ScanInterval)
	assert.Equal(t, 48*time.Hour, p.WatchlistTTL)
	assert.Equal(t, "long", p.PositionSide)
	assert.True(t, p.RecordFills)
	assert.False(t, p.MarketGated)
}

func TestGemDerivedConfigs(t *testing.T) {
	cfg := DefaultGemConfig()

	rc := cfg.RiskConfig()
	assert.Equal(t, risk.FamilyEquities, rc.Family)
	assert.Equal(t, 30, rc.MaxHoldDays)

	ec := cfg.ExecutorConfig()
	assert.Equal(t, executor.FamilyEquities, ec.Family)
	assert.True(t, ec.BracketOrders)

	p := cfg.Profile()
	assert.Equal(t, FamilyEquities, p.Family)
	assert.Equal(t, 75.0, p.EntryScore)
	assert.Equal(t, 7*24*time.Hour, p.WatchlistTTL)
	assert.Equal(t, "stock", p.PositionSide)
	assert.True(t, p.MarketGated)
	assert.False(t, p.RecordFills)
}

func TestProfileReadyToEnter(t *testing.T) {
	crypto := DefaultCryptoConfig().Profile()
	gem := DefaultGemConfig().Profile()

	tests := []struct {
		name    string
		profile Profile
		trigger string
		score   float64
		want    bool
	}{
		{"crypto queue already filtered", crypto, db.EntryTriggerBreakout, 50, true},
		{"equities immediate trigger at low score", gem, db.EntryTriggerImmediate, 60, true},
		{"equities high score without trigger", gem, db.EntryTriggerPullback, 80, true},
		{"equities low score non-immediate", gem, db.EntryTriggerBreakout, 70, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.profile.readyToEnter(tt.trigger, tt.score))
		})
	}
}

func TestMergeConfigPreservesUnknownKeys(t *testing.T) {
	existing := json.RawMessage(`{"allocated_capital": 5000, "auto_trade": true, "operator_note": "hand tuned"}`)
	patch := json.RawMessage(`{"auto_trade": false, "max_watchlist": 10}`)

	merged, err := MergeConfig(existing, patch)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(merged, &doc))
	assert.Equal(t, false, doc["auto_trade"])
	assert.Equal(t, float64(10), doc["max_watchlist"])
	assert.Equal(t, float64(5000), doc["allocated_capital"])
	assert.Equal(t, "hand tuned", doc["operator_note"])
}

func TestMergeConfigRejectsBadPatch(t *testing.T) {
	_, err := MergeConfig(json.RawMessage(`{}`), json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

func TestAutoScheduled(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"auto trade on", `{"auto_trade": true}`, true},
		{"trading enabled on", `{"trading_enabled": true}`, true},
		{"both off", `{"auto_trade": false, "trading_enabled": false}`, false},
		{"absent flags", `{"allocated_capital": 5000}`, false},
		{"invalid document", `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AutoScheduled(json.RawMessage(tt.raw)))
		})
	}
}

func TestEntryQueueOrdering(t *testing.T) {
	rows := []*db.WatchlistEntry{
		{Symbol: "A", CompositeScore: 90},
		{Symbol: "B", CompositeScore: 80},
		{Symbol: "C", CompositeScore: 74},
		{Symbol: "D", CompositeScore: 72, EntryTrigger: db.EntryTriggerImmediate},
		{Symbol: "E", CompositeScore: 70},
		{Symbol: "F", CompositeScore: 68},
		{Symbol: "G", CompositeScore: 66},
	}

	t.Run("crypto filters below threshold before capping", func(t *testing.T) {
		queue := entryQueue(rows, DefaultCryptoConfig().Profile())
		require.Len(t, queue, 2)
		assert.Equal(t, "A", queue[0].Symbol)
		assert.Equal(t, "B", queue[1].Symbol)
	})

	t.Run("equities caps the top rows unfiltered", func(t *testing.T) {
		queue := entryQueue(rows, DefaultGemConfig().Profile())
		require.Len(t, queue, 5)
		assert.Equal(t, "E", queue[4].Symbol)
	})
}
