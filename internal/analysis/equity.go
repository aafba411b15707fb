package analysis

import (
	"fmt"
	"strings"
)

// EquityScores are the three per-stock sub-scores the gem hunter blends
// into its composite. Each starts at a neutral 50 and moves by the
// point tables below.
type EquityScores struct {
	Technical   float64 `json:"technical"`
	Fundamental float64 `json:"fundamental"`
	Momentum    float64 `json:"momentum"`
}

// ScoreEquity rates one screener snapshot on all three axes.
func ScoreEquity(s ScreenerSnapshot) EquityScores {
	return EquityScores{
		Technical:   equityTechnicalScore(s),
		Fundamental: equityFundamentalScore(s),
		Momentum:    equityMomentumScore(s),
	}
}

// PctBelowHigh is the percent distance under the 52-week high.
func (s ScreenerSnapshot) PctBelowHigh() float64 {
	if s.High52w <= 0 {
		return 0
	}
	return (s.High52w - s.Price) / s.High52w * 100
}

// PctAboveLow is the percent distance over the 52-week low.
func (s ScreenerSnapshot) PctAboveLow() float64 {
	if s.Low52w <= 0 {
		return 0
	}
	return (s.Price - s.Low52w) / s.Low52w * 100
}

// Oversold RSI is an entry opportunity here, not a warning; the gem
// hunter buys weakness within structure.
func equityTechnicalScore(s ScreenerSnapshot) float64 {
	score := 50.0

	switch {
	case s.RSI < 30:
		score += 25
	case s.RSI < 40:
		score += 15
	case s.RSI < 50:
		score += 5
	case s.RSI < 60:
		// neutral
	case s.RSI < 70:
		score -= 10
	default:
		score -= 20
	}

	if s.Price > s.SMAs.SMA200 {
		score += 10
	} else {
		score -= 15
	}
	if s.Price > s.SMAs.SMA50 {
		score += 5
	}
	if s.Price > s.SMAs.SMA20 {
		score += 5
	}
	if s.SMAs.SMA50 > s.SMAs.SMA200 {
		score += 5
	} else {
		score -= 5
	}

	switch {
	case s.VolumeRatio > 2.0:
		score += 15
	case s.VolumeRatio > 1.5:
		score += 10
	case s.VolumeRatio > 1.0:
		score += 5
	default:
		score -= 5
	}

	return clamp(score, 0, 100)
}

func equityFundamentalScore(s ScreenerSnapshot) float64 {
	score := 50.0

	if s.PERatio != nil {
		switch pe := *s.PERatio; {
		case pe < 10:
			score += 20
		case pe < 15:
			score += 15
		case pe < 20:
			score += 10
		case pe < 30:
			// neutral
		case pe < 50:
			score -= 10
		default:
			score -= 15
		}
	} else {
		// No P/E reads as unprofitable growth, not as a red flag.
		score += 5
	}

	if s.RevenueGrowth != nil {
		switch g := *s.RevenueGrowth; {
		case g > 0.30:
			score += 20
		case g > 0.20:
			score += 15
		case g > 0.10:
			score += 10
		case g > 0:
			score += 5
		default:
			score -= 10
		}
	}

	if s.EarningsGrowth != nil {
		switch g := *s.EarningsGrowth; {
		case g > 0.30:
			score += 15
		case g > 0.15:
			score += 10
		case g > 0:
			score += 5
		default:
			score -= 10
		}
	}

	switch below := s.PctBelowHigh(); {
	case below > 30:
		score += 10
	case below > 20:
		score += 5
	}

	return clamp(score, 0, 100)
}

func equityMomentumScore(s ScreenerSnapshot) float64 {
	score := 50.0

	switch {
	case s.Price > s.SMAs.SMA20 && s.SMAs.SMA20 > s.SMAs.SMA50 && s.SMAs.SMA50 > s.SMAs.SMA200:
		score += 25
	case s.Price > s.SMAs.SMA20 && s.Price > s.SMAs.SMA50:
		score += 15
	case s.Price > s.SMAs.SMA20:
		score += 5
	case s.Price < s.SMAs.SMA20 && s.SMAs.SMA20 < s.SMAs.SMA50:
		score -= 15
	}

	switch above := s.PctAboveLow(); {
	case above > 50:
		score += 15
	case above > 30:
		score += 10
	case above > 15:
		score += 5
	case above < 5:
		score -= 10
	}

	if s.RSI > 50 && s.RSI < 60 {
		score += 10
	} else if s.RSI > 60 && s.RSI < 70 {
		score += 5
	}

	return clamp(score, 0, 100)
}

// EquityReasoning renders the analysis as the markdown block the
// dashboard displays alongside a watchlist entry.
func EquityReasoning(s ScreenerSnapshot, scores EquityScores, composite float64) string {
	parts := []string{fmt.Sprintf("**%s** - Composite Score: %.0f/100\n", s.Symbol, composite)}

	parts = append(parts, fmt.Sprintf("**Technical (%.0f/100):**", scores.Technical))
	switch {
	case s.RSI < 35:
		parts = append(parts, fmt.Sprintf("- RSI at %.1f indicates oversold conditions", s.RSI))
	case s.RSI > 65:
		parts = append(parts, fmt.Sprintf("- RSI at %.1f suggests overbought, wait for pullback", s.RSI))
	default:
		parts = append(parts, fmt.Sprintf("- RSI at %.1f is neutral", s.RSI))
	}
	if s.Price > s.SMAs.SMA200 {
		parts = append(parts, "- Trading above 200-day MA (long-term bullish)")
	}
	if s.VolumeRatio > 1.5 {
		parts = append(parts, fmt.Sprintf("- Volume %.1fx above average (institutional interest)", s.VolumeRatio))
	}

	parts = append(parts, fmt.Sprintf("\n**Fundamental (%.0f/100):**", scores.Fundamental))
	if s.PERatio != nil {
		parts = append(parts, fmt.Sprintf("- P/E ratio: %.1f", *s.PERatio))
	}
	if s.RevenueGrowth != nil {
		parts = append(parts, fmt.Sprintf("- Revenue growth: %.1f%%", *s.RevenueGrowth*100))
	}
	parts = append(parts, fmt.Sprintf("- Down %.1f%% from 52-week high", s.PctBelowHigh()))

	parts = append(parts, fmt.Sprintf("\n**Momentum (%.0f/100):**", scores.Momentum))
	parts = append(parts, fmt.Sprintf("- Up %.1f%% from 52-week low", s.PctAboveLow()))
	if s.SMAs.SMA50 > s.SMAs.SMA200 {
		parts = append(parts, "- Golden cross (50 > 200 MA) intact")
	}

	return strings.Join(parts, "\n")
}
