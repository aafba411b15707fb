// Package indicators provides the pure technical-analysis math used by
// the trend and screener analyzers. All functions work on close series
// ordered oldest to newest.
package indicators

import (
	"errors"
	"math"
	"sort"
)

// ErrInsufficientData is returned when a series is shorter than the
// indicator's period.
var ErrInsufficientData = errors.New("insufficient data")

// EMA returns the exponential moving average over the whole series,
// seeded with the SMA of the first period prices and smoothed with
// multiplier 2/(period+1).
func EMA(prices []float64, period int) (float64, error) {
	if period < 1 || len(prices) < period {
		return 0, ErrInsufficientData
	}

	var seed float64
	for _, p := range prices[:period] {
		seed += p
	}
	ema := seed / float64(period)

	mult := 2.0 / float64(period+1)
	for _, p := range prices[period:] {
		ema = (p-ema)*mult + ema
	}
	return ema, nil
}

// RSI returns the relative strength index over the last period price
// changes, using plain averages of gains and losses. A lossless window
// returns 100.
func RSI(prices []float64, period int) (float64, error) {
	if period < 1 || len(prices) < period+1 {
		return 0, ErrInsufficientData
	}

	window := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACDResult carries the MACD line, its signal line, and the histogram.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD returns the fast/slow EMA difference. The signal line is
// approximated as 0.9 of the MACD line because no MACD-line history is
// retained between calls.
func MACD(prices []float64, fast, slow, signalPeriod int) (MACDResult, error) {
	if len(prices) < slow+signalPeriod {
		return MACDResult{}, ErrInsufficientData
	}

	fastEMA, err := EMA(prices, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMA(prices, slow)
	if err != nil {
		return MACDResult{}, err
	}

	macd := fastEMA - slowEMA
	signal := macd * 0.9
	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}, nil
}

// BollingerResult carries the three Bollinger band levels.
type BollingerResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger returns bands at mult population standard deviations around
// the period SMA.
func Bollinger(prices []float64, period int, mult float64) (BollingerResult, error) {
	if period < 1 || len(prices) < period {
		return BollingerResult{}, ErrInsufficientData
	}

	window := prices[len(prices)-period:]
	var sum float64
	for _, p := range window {
		sum += p
	}
	mean := sum / float64(period)

	var variance float64
	for _, p := range window {
		variance += (p - mean) * (p - mean)
	}
	stddev := math.Sqrt(variance / float64(period))

	return BollingerResult{
		Upper:  mean + mult*stddev,
		Middle: mean,
		Lower:  mean - mult*stddev,
	}, nil
}

// PercentB places price within the bands: 0 at the lower band, 1 at the
// upper. Collapsed bands map to the midpoint.
func PercentB(price float64, bands BollingerResult) float64 {
	width := bands.Upper - bands.Lower
	if width == 0 {
		return 0.5
	}
	return (price - bands.Lower) / width
}

// SupportResistance finds up to k support and resistance levels from
// strict local extrema. Supports are sorted highest first and
// resistances lowest first, so index 0 is the level nearest the current
// price from each side. Series without any interior extremum fall back
// to the global low and high.
func SupportResistance(prices []float64, k int) (support, resistance []float64, err error) {
	if len(prices) < 10 {
		return nil, nil, ErrInsufficientData
	}
	if k < 1 {
		k = 3
	}

	var minima, maxima []float64
	for i := 1; i < len(prices)-1; i++ {
		if prices[i] < prices[i-1] && prices[i] < prices[i+1] {
			minima = append(minima, prices[i])
		}
		if prices[i] > prices[i-1] && prices[i] > prices[i+1] {
			maxima = append(maxima, prices[i])
		}
	}

	if len(minima) == 0 {
		low := prices[0]
		for _, p := range prices[1:] {
			if p < low {
				low = p
			}
		}
		minima = []float64{low}
	}
	if len(maxima) == 0 {
		high := prices[0]
		for _, p := range prices[1:] {
			if p > high {
				high = p
			}
		}
		maxima = []float64{high}
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(minima)))
	sort.Float64s(maxima)

	if len(minima) > k {
		minima = minima[:k]
	}
	if len(maxima) > k {
		maxima = maxima[:k]
	}
	return minima, maxima, nil
}
