package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Ratings assigned to fundamental scores.
const (
	RatingStrong   = "STRONG"
	RatingModerate = "MODERATE"
	RatingWeak     = "WEAK"
)

// AssetFundamentals carries the raw inputs for the composite. Optional
// metrics are pointers; a nil metric is skipped and the remaining
// weights are renormalised.
type AssetFundamentals struct {
	Symbol        string
	Price         float64
	VolumeRatio   *float64 // current volume over trailing average
	RangeLow      *float64 // period low (52w for equities, 24h for crypto)
	RangeHigh     *float64
	MarketCapRank *int
	Change24h     *float64 // percent
	Change7d      *float64 // percent
}

// MetricScore is one weighted component of the composite.
type MetricScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Rating string  `json:"rating"`
}

// FundamentalAnalysis is the weighted composite over available metrics.
type FundamentalAnalysis struct {
	Score     float64       `json:"score"`
	Rating    string        `json:"rating"`
	Metrics   []MetricScore `json:"metrics"`
	Summary   string        `json:"summary"`
	Timestamp time.Time     `json:"timestamp"`
}

// AnalyzeFundamentals scores each available metric 0-100, weights them,
// and renormalises over whatever was present. No metrics at all yields
// the neutral 50.
func AnalyzeFundamentals(f AssetFundamentals) *FundamentalAnalysis {
	var metrics []MetricScore

	if f.VolumeRatio != nil && *f.VolumeRatio > 0 {
		score := math.Min(100, *f.VolumeRatio*50)
		metrics = append(metrics, MetricScore{"volume_ratio", score, 0.25, scoreRating(score)})
	}

	if f.RangeLow != nil && f.RangeHigh != nil && *f.RangeHigh > *f.RangeLow {
		score := (f.Price - *f.RangeLow) / (*f.RangeHigh - *f.RangeLow) * 100
		score = clamp(score, 0, 100)
		metrics = append(metrics, MetricScore{"price_position", score, 0.20, scoreRating(score)})
	}

	if f.MarketCapRank != nil && *f.MarketCapRank > 0 {
		score := marketCapScore(*f.MarketCapRank)
		metrics = append(metrics, MetricScore{"market_cap_rank", score, 0.25, scoreRating(score)})
	}

	if f.Change24h != nil && f.Change7d != nil {
		score := clamp(50+2*(*f.Change24h)+0.5*(*f.Change7d), 0, 100)
		metrics = append(metrics, MetricScore{"momentum", score, 0.30, scoreRating(score)})
	}

	analysis := &FundamentalAnalysis{
		Metrics:   metrics,
		Timestamp: time.Now().UTC(),
	}
	if len(metrics) == 0 {
		analysis.Score = 50
		analysis.Rating = RatingModerate
		analysis.Summary = summarizeFundamentals(f, analysis)
		return analysis
	}

	var weighted, totalWeight float64
	for _, m := range metrics {
		weighted += m.Score * m.Weight
		totalWeight += m.Weight
	}
	analysis.Score = weighted / totalWeight
	analysis.Rating = scoreRating(analysis.Score)
	analysis.Summary = summarizeFundamentals(f, analysis)
	return analysis
}

// summarizeFundamentals builds the sentence that feeds trade reasoning.
func summarizeFundamentals(f AssetFundamentals, a *FundamentalAnalysis) string {
	rating := a.Rating
	if len(rating) > 1 {
		rating = rating[:1] + strings.ToLower(rating[1:])
	}
	parts := []string{fmt.Sprintf("%s: %s fundamentals (score: %.0f)", f.Symbol, rating, a.Score)}

	if f.MarketCapRank != nil {
		switch {
		case *f.MarketCapRank <= 10:
			parts = append(parts, "Top 10 by market cap")
		case *f.MarketCapRank <= 50:
			parts = append(parts, "Top 50 by market cap")
		}
	}
	if f.VolumeRatio != nil {
		switch {
		case *f.VolumeRatio > 2:
			parts = append(parts, fmt.Sprintf("Unusual volume (%.1fx avg)", *f.VolumeRatio))
		case *f.VolumeRatio > 1.5:
			parts = append(parts, "Above-average volume")
		}
	}
	if f.RangeLow != nil && f.RangeHigh != nil && *f.RangeHigh > *f.RangeLow {
		percentile := (f.Price - *f.RangeLow) / (*f.RangeHigh - *f.RangeLow) * 100
		switch {
		case percentile < 30:
			parts = append(parts, "Near range lows (potential value)")
		case percentile > 80:
			parts = append(parts, "Near range highs (momentum)")
		}
	}

	var strong, weak []string
	for _, m := range a.Metrics {
		switch m.Rating {
		case RatingStrong:
			strong = append(strong, m.Name)
		case RatingWeak:
			weak = append(weak, m.Name)
		}
	}
	if len(strong) > 0 {
		parts = append(parts, "Strengths: "+strings.Join(strong, ", "))
	}
	if len(weak) > 0 {
		parts = append(parts, "Weaknesses: "+strings.Join(weak, ", "))
	}
	return strings.Join(parts, ". ")
}

func marketCapScore(rank int) float64 {
	switch {
	case rank <= 10:
		return 95
	case rank <= 50:
		return 80
	case rank <= 100:
		return 60
	case rank <= 250:
		return 40
	default:
		return 20
	}
}

func scoreRating(score float64) string {
	switch {
	case score >= 70:
		return RatingStrong
	case score >= 40:
		return RatingModerate
	default:
		return RatingWeak
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Correlation computes the Pearson coefficient over period-to-period
// returns of two aligned close series. Fewer than five aligned returns
// is an error; numeric drift outside [-1, 1] is clamped.
func Correlation(a, b []float64) (float64, error) {
	ra := returns(a)
	rb := returns(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 5 {
		return 0, fmt.Errorf("need at least 5 aligned returns, have %d", n)
	}
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += ra[i]
		meanB += rb[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := ra[i] - meanA
		db := rb[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, nil
	}
	return clamp(cov/math.Sqrt(varA*varB), -1, 1), nil
}

func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}
