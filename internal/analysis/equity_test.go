package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEquityTechnicalScore(t *testing.T) {
	oversoldWithStructure := ScreenerSnapshot{
		Symbol:      "AAPL",
		Price:       180,
		RSI:         28,
		VolumeRatio: 2.5,
		SMAs:        SMASet{SMA20: 175, SMA50: 170, SMA200: 160},
	}
	// 50 +25 (RSI) +10 (>200MA) +5 +5 (>50/>20) +5 (50>200) +15 (volume)
	assert.Equal(t, 100.0, equityTechnicalScore(oversoldWithStructure))

	brokenDown := ScreenerSnapshot{
		Symbol:      "XYZ",
		Price:       90,
		RSI:         75,
		VolumeRatio: 0.8,
		SMAs:        SMASet{SMA20: 95, SMA50: 100, SMA200: 110},
	}
	// 50 -20 (RSI) -15 (<200MA) -5 (50<200) -5 (volume)
	assert.Equal(t, 5.0, equityTechnicalScore(brokenDown))
}

func TestEquityFundamentalScore(t *testing.T) {
	growthNoPE := ScreenerSnapshot{
		Symbol:         "GRW",
		Price:          65,
		High52w:        100, // 35% below high
		RevenueGrowth:  f64(0.25),
		EarningsGrowth: f64(0.20),
	}
	// 50 +5 (no P/E) +15 (revenue) +10 (earnings) +10 (pullback)
	assert.Equal(t, 90.0, equityFundamentalScore(growthNoPE))

	expensiveDecliner := ScreenerSnapshot{
		Symbol:         "EXP",
		Price:          90,
		High52w:        100,
		PERatio:        f64(60),
		RevenueGrowth:  f64(-0.05),
		EarningsGrowth: f64(-0.10),
	}
	// 50 -15 (P/E) -10 (revenue) -10 (earnings)
	assert.Equal(t, 15.0, equityFundamentalScore(expensiveDecliner))
}

func TestEquityMomentumScore(t *testing.T) {
	fullStack := ScreenerSnapshot{
		Symbol: "MOM",
		Price:  120,
		Low52w: 70, // ~71% above low
		RSI:    55,
		SMAs:   SMASet{SMA20: 110, SMA50: 105, SMA200: 100},
	}
	// 50 +25 (stack) +15 (above low) +10 (RSI band)
	assert.Equal(t, 100.0, equityMomentumScore(fullStack))

	nearLows := ScreenerSnapshot{
		Symbol: "LOW",
		Price:  51,
		Low52w: 50, // 2% above low
		RSI:    45,
		SMAs:   SMASet{SMA20: 55, SMA50: 60, SMA200: 58},
	}
	// 50 -15 (bearish alignment) -10 (near lows)
	assert.Equal(t, 25.0, equityMomentumScore(nearLows))
}

func TestScoreEquityReturnsAllAxes(t *testing.T) {
	s := ScreenerSnapshot{Symbol: "AAPL", Price: 100, RSI: 50, VolumeRatio: 1.2}
	scores := ScoreEquity(s)
	assert.Greater(t, scores.Technical, 0.0)
	assert.Greater(t, scores.Fundamental, 0.0)
	assert.Greater(t, scores.Momentum, 0.0)
}

func TestEquityReasoningNamesTheEvidence(t *testing.T) {
	s := ScreenerSnapshot{
		Symbol:        "NVDA",
		Price:         120,
		RSI:           32,
		VolumeRatio:   2.1,
		High52w:       150,
		Low52w:        60,
		PERatio:       f64(28.5),
		RevenueGrowth: f64(0.35),
		SMAs:          SMASet{SMA20: 118, SMA50: 110, SMA200: 100},
	}
	text := EquityReasoning(s, ScoreEquity(s), 82)

	assert.Contains(t, text, "**NVDA** - Composite Score: 82/100")
	assert.Contains(t, text, "RSI at 32.0 indicates oversold conditions")
	assert.Contains(t, text, "Trading above 200-day MA (long-term bullish)")
	assert.Contains(t, text, "Volume 2.1x above average (institutional interest)")
	assert.Contains(t, text, "P/E ratio: 28.5")
	assert.Contains(t, text, "Revenue growth: 35.0%")
	assert.Contains(t, text, "Down 20.0% from 52-week high")
	assert.Contains(t, text, "Up 100.0% from 52-week low")
	assert.Contains(t, text, "Golden cross (50 > 200 MA) intact")
}
