// Package analysis turns price and fundamental data into scores the
// hunters act on: trend, fundamental, momentum, composite, the equities
// screener, and entry-trigger classification.
package analysis

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tradehawk/internal/indicators"
)

// Directions reported by trend analysis.
const (
	DirectionBullish = "bullish"
	DirectionBearish = "bearish"
	DirectionNeutral = "neutral"
)

// minTrendPoints is the floor below which trend analysis yields the
// neutral insufficient-data envelope.
const minTrendPoints = 21

// Signal is one indicator's directional vote.
type Signal struct {
	Indicator string `json:"indicator"`
	Direction string `json:"direction"`
	Detail    string `json:"detail"`
}

// TrendAnalysis is the full technical picture for one asset.
type TrendAnalysis struct {
	Direction  string                     `json:"direction"`
	Strength   float64                    `json:"strength"`
	Score      float64                    `json:"score"`
	EMA9       float64                    `json:"ema_9"`
	EMA21      float64                    `json:"ema_21"`
	EMA50      float64                    `json:"ema_50"`
	RSI        float64                    `json:"rsi"`
	MACD       indicators.MACDResult      `json:"macd"`
	Bollinger  indicators.BollingerResult `json:"bollinger"`
	Support    []float64                  `json:"support"`
	Resistance []float64                  `json:"resistance"`
	Signals    []Signal                   `json:"signals"`
	Summary    string                     `json:"summary"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// AnalyzeTrend scores a close series oldest→newest. Series shorter than
// 21 points yield the neutral envelope rather than an error so one thin
// asset never aborts a scan.
func AnalyzeTrend(prices []float64) *TrendAnalysis {
	now := time.Now().UTC()
	if len(prices) < minTrendPoints {
		return &TrendAnalysis{
			Direction: DirectionNeutral,
			Strength:  0,
			Score:     50,
			Signals:   []Signal{},
			Summary:   "Insufficient data for trend analysis",
			Timestamp: now,
		}
	}

	price := prices[len(prices)-1]
	ta := &TrendAnalysis{Timestamp: now}
	var signals []Signal

	// EMA cross: fast over slow.
	ema9, err9 := indicators.EMA(prices, 9)
	ema21, err21 := indicators.EMA(prices, 21)
	if err9 == nil && err21 == nil {
		ta.EMA9, ta.EMA21 = ema9, ema21
		switch {
		case ema9 > ema21:
			signals = append(signals, Signal{"ema_cross", DirectionBullish,
				fmt.Sprintf("EMA9 %.4f above EMA21 %.4f", ema9, ema21)})
		case ema9 < ema21:
			signals = append(signals, Signal{"ema_cross", DirectionBearish,
				fmt.Sprintf("EMA9 %.4f below EMA21 %.4f", ema9, ema21)})
		}
	}

	// Price relative to the slow average.
	if ema50, err := indicators.EMA(prices, 50); err == nil {
		ta.EMA50 = ema50
		switch {
		case price > ema50:
			signals = append(signals, Signal{"price_vs_ema50", DirectionBullish,
				fmt.Sprintf("price %.4f above EMA50 %.4f", price, ema50)})
		case price < ema50:
			signals = append(signals, Signal{"price_vs_ema50", DirectionBearish,
				fmt.Sprintf("price %.4f below EMA50 %.4f", price, ema50)})
		}
	}

	// RSI extremes vote contrarian.
	if rsi, err := indicators.RSI(prices, 14); err == nil {
		ta.RSI = rsi
		switch {
		case rsi < 30:
			signals = append(signals, Signal{"rsi", DirectionBullish,
				fmt.Sprintf("RSI %.1f oversold", rsi)})
		case rsi > 70:
			signals = append(signals, Signal{"rsi", DirectionBearish,
				fmt.Sprintf("RSI %.1f overbought", rsi)})
		}
	}

	if macd, err := indicators.MACD(prices, 12, 26, 9); err == nil {
		ta.MACD = macd
		switch {
		case macd.Histogram > 0:
			signals = append(signals, Signal{"macd", DirectionBullish,
				fmt.Sprintf("histogram %.4f positive", macd.Histogram)})
		case macd.Histogram < 0:
			signals = append(signals, Signal{"macd", DirectionBearish,
				fmt.Sprintf("histogram %.4f negative", macd.Histogram)})
		}
	}

	if bands, err := indicators.Bollinger(prices, 20, 2); err == nil {
		ta.Bollinger = bands
		pb := indicators.PercentB(price, bands)
		switch {
		case pb < 0.2:
			signals = append(signals, Signal{"bollinger", DirectionBullish,
				fmt.Sprintf("%%B %.2f near lower band", pb)})
		case pb > 0.8:
			signals = append(signals, Signal{"bollinger", DirectionBearish,
				fmt.Sprintf("%%B %.2f near upper band", pb)})
		}
	}

	if support, resistance, err := indicators.SupportResistance(prices, 3); err == nil {
		ta.Support = support
		ta.Resistance = resistance
	}

	ta.Signals = signals
	ta.Direction, ta.Strength, ta.Score = scoreSignals(signals)
	ta.Summary = summarize(ta.Direction, ta.Strength, signals)
	return ta
}

// scoreSignals derives direction by majority vote, strength as the
// winning share, and a 0-100 score damped by strength.
func scoreSignals(signals []Signal) (direction string, strength, score float64) {
	if len(signals) == 0 {
		return DirectionNeutral, 0, 50
	}

	var bull, bear int
	for _, s := range signals {
		switch s.Direction {
		case DirectionBullish:
			bull++
		case DirectionBearish:
			bear++
		}
	}
	total := float64(len(signals))

	switch {
	case bull > bear:
		direction = DirectionBullish
	case bear > bull:
		direction = DirectionBearish
	default:
		direction = DirectionNeutral
	}

	max := float64(bull)
	if bear > bull {
		max = float64(bear)
	}
	strength = max / total * 100

	base := 50 + (float64(bull)/total-0.5)*100
	score = base * (0.5 + strength/200)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return direction, strength, score
}

func summarize(direction string, strength float64, signals []Signal) string {
	var bull, bear int
	for _, s := range signals {
		switch s.Direction {
		case DirectionBullish:
			bull++
		case DirectionBearish:
			bear++
		}
	}
	return fmt.Sprintf("%s trend, strength %.0f%% (%d bullish / %d bearish of %d signals)",
		direction, strength, bull, bear, len(signals))
}
