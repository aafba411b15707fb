package analysis

import (
	"sort"

	"github.com/cinar/indicator/v2/trend"
)

// Screener play labels.
const (
	PlayOversoldGem = "oversold_gem"
	PlayBreakout    = "breakout"
	PlayValue       = "value"
	PlayMomentum    = "momentum"
)

// DefaultEquityUniverse is the large-cap ticker set scanned when an
// agent config does not supply its own.
var DefaultEquityUniverse = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "AVGO", "AMD", "INTC",
	"CRM", "ORCL", "ADBE", "NFLX", "QCOM", "CSCO", "TXN", "IBM", "NOW", "UBER",
	"JPM", "BAC", "WFC", "GS", "MS", "V", "MA", "AXP", "UNH", "JNJ",
	"LLY", "PFE", "MRK", "ABBV", "TMO", "COST", "WMT", "HD", "MCD", "NKE",
	"SBUX", "DIS", "CAT", "BA", "GE", "XOM", "CVX", "COP", "LIN", "PLTR",
}

// SMASet holds the moving averages the screener plays compare against.
type SMASet struct {
	SMA20  float64 `json:"sma_20"`
	SMA50  float64 `json:"sma_50"`
	SMA200 float64 `json:"sma_200"`
}

// ComputeSMASet derives the 20/50/200 simple moving averages from a
// daily close series, oldest first. Averages whose window exceeds the
// series stay zero.
func ComputeSMASet(closes []float64) SMASet {
	return SMASet{
		SMA20:  latestSMA(closes, 20),
		SMA50:  latestSMA(closes, 50),
		SMA200: latestSMA(closes, 200),
	}
}

func latestSMA(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	in := make(chan float64, len(closes))
	for _, c := range closes {
		in <- c
	}
	close(in)

	sma := trend.NewSmaWithPeriod[float64](period)
	var last float64
	for v := range sma.Compute(in) {
		last = v
	}
	return last
}

// ScreenerSnapshot is one ticker's screening inputs. Valuation and
// growth fields are pointers because the data feed does not always
// have them.
type ScreenerSnapshot struct {
	Symbol         string   `json:"symbol"`
	Price          float64  `json:"price"`
	MarketCap      float64  `json:"market_cap"`
	AvgVolume      float64  `json:"avg_volume"`
	VolumeRatio    float64  `json:"volume_ratio"`
	High52w        float64  `json:"high_52w"`
	Low52w         float64  `json:"low_52w"`
	RSI            float64  `json:"rsi"`
	SMAs           SMASet   `json:"smas"`
	PERatio        *float64 `json:"pe_ratio,omitempty"`
	RevenueGrowth  *float64 `json:"revenue_growth,omitempty"`
	EarningsGrowth *float64 `json:"earnings_growth,omitempty"`
}

// ScreenerCandidate is a ticker that matched at least one play.
type ScreenerCandidate struct {
	Snapshot ScreenerSnapshot `json:"snapshot"`
	Plays    []string         `json:"plays"`
	Score    float64          `json:"score"`
}

// ScreenerConfig sets the liquidity floors applied before any play is
// evaluated.
type ScreenerConfig struct {
	MinMarketCap float64
	MinAvgVolume float64
}

// DefaultScreenerConfig keeps the scan to liquid large caps.
var DefaultScreenerConfig = ScreenerConfig{
	MinMarketCap: 1e9,
	MinAvgVolume: 500_000,
}

// Screen evaluates every snapshot against the four plays, dedupes by
// symbol, scores the matches, and returns them best first.
func Screen(snaps []ScreenerSnapshot, cfg ScreenerConfig) []ScreenerCandidate {
	if cfg.MinMarketCap == 0 {
		cfg.MinMarketCap = DefaultScreenerConfig.MinMarketCap
	}
	if cfg.MinAvgVolume == 0 {
		cfg.MinAvgVolume = DefaultScreenerConfig.MinAvgVolume
	}

	candidates := make([]ScreenerCandidate, 0, len(snaps))
	for _, s := range snaps {
		if s.MarketCap < cfg.MinMarketCap || s.AvgVolume < cfg.MinAvgVolume {
			continue
		}
		plays := matchPlays(s)
		if len(plays) == 0 {
			continue
		}
		candidates = append(candidates, ScreenerCandidate{
			Snapshot: s,
			Plays:    plays,
			Score:    ScoreCandidate(s),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func matchPlays(s ScreenerSnapshot) []string {
	var plays []string
	if isOversoldGem(s) {
		plays = append(plays, PlayOversoldGem)
	}
	if isBreakout(s) {
		plays = append(plays, PlayBreakout)
	}
	if isValue(s) {
		plays = append(plays, PlayValue)
	}
	if isMomentum(s) {
		plays = append(plays, PlayMomentum)
	}
	return plays
}

// Oversold within a long-term uptrend.
func isOversoldGem(s ScreenerSnapshot) bool {
	return s.RSI > 0 && s.RSI < 35 &&
		s.SMAs.SMA200 > 0 && s.Price > s.SMAs.SMA200 &&
		s.VolumeRatio > 1.5
}

// Pressing the 52-week high on heavy volume without being overheated.
func isBreakout(s ScreenerSnapshot) bool {
	return s.High52w > 0 && s.Price >= s.High52w*0.95 &&
		s.RSI > 50 && s.RSI < 70 &&
		s.VolumeRatio > 2 &&
		s.SMAs.SMA20 > 0 && s.Price > s.SMAs.SMA20 &&
		s.SMAs.SMA50 > 0 && s.Price > s.SMAs.SMA50
}

// Growing business trading well off its high at a sane multiple.
func isValue(s ScreenerSnapshot) bool {
	if s.PERatio != nil && *s.PERatio >= 20 {
		return false
	}
	return s.RevenueGrowth != nil && *s.RevenueGrowth > 0.10 &&
		s.High52w > 0 && s.Price <= s.High52w*0.85 &&
		s.RSI > 0 && s.RSI < 50
}

// Full moving-average stack with confirmed momentum.
func isMomentum(s ScreenerSnapshot) bool {
	return s.SMAs.SMA20 > 0 && s.SMAs.SMA50 > 0 && s.SMAs.SMA200 > 0 &&
		s.Price > s.SMAs.SMA20 &&
		s.SMAs.SMA20 > s.SMAs.SMA50 &&
		s.SMAs.SMA50 > s.SMAs.SMA200 &&
		s.RSI > 55 && s.RSI < 75 &&
		s.VolumeRatio > 1.5 &&
		s.Low52w > 0 && s.Price >= s.Low52w*1.20
}

// ScoreCandidate rates a snapshot from a neutral 50 using trend
// structure, volume, range position, valuation, and growth. The result
// is clamped to [0, 100].
func ScoreCandidate(s ScreenerSnapshot) float64 {
	score := 50.0

	if s.SMAs.SMA200 > 0 && s.Price > s.SMAs.SMA20 &&
		s.SMAs.SMA20 > s.SMAs.SMA50 && s.SMAs.SMA50 > s.SMAs.SMA200 {
		score += 25
	}

	switch {
	case s.VolumeRatio > 2:
		score += 15
	case s.VolumeRatio > 1:
		score += 5
	case s.VolumeRatio > 0 && s.VolumeRatio < 1:
		score -= 5
	}

	if s.High52w > 0 {
		belowHigh := (s.High52w - s.Price) / s.High52w
		switch {
		case belowHigh >= 0.30:
			score += 10
		case belowHigh >= 0.15:
			score += 5
		}
	}

	if s.Low52w > 0 {
		aboveLow := (s.Price - s.Low52w) / s.Low52w
		switch {
		case aboveLow >= 0.50:
			score += 10
		case aboveLow >= 0.20:
			score += 5
		}
	}

	if s.PERatio != nil {
		switch {
		case *s.PERatio > 0 && *s.PERatio < 15:
			score += 10
		case *s.PERatio > 0 && *s.PERatio < 25:
			score += 5
		case *s.PERatio > 40:
			score -= 10
		}
	}

	if s.RevenueGrowth != nil {
		switch {
		case *s.RevenueGrowth > 0.20:
			score += 10
		case *s.RevenueGrowth > 0.10:
			score += 5
		case *s.RevenueGrowth < 0:
			score -= 5
		}
	}

	if s.EarningsGrowth != nil {
		switch {
		case *s.EarningsGrowth > 0.20:
			score += 5
		case *s.EarningsGrowth < 0:
			score -= 5
		}
	}

	return clamp(score, 0, 100)
}
