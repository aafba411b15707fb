package analysis

// Weights blend the three per-asset scores into the composite that
// drives watchlist ranking and execution thresholds.
type Weights struct {
	Trend       float64 `json:"trend"`
	Fundamental float64 `json:"fundamental"`
	Momentum    float64 `json:"momentum"`
}

// DefaultCryptoWeights favour trend for 24/7 markets.
var DefaultCryptoWeights = Weights{Trend: 0.50, Fundamental: 0.30, Momentum: 0.20}

// DefaultEquityWeights give fundamentals more say for stocks.
var DefaultEquityWeights = Weights{Trend: 0.40, Fundamental: 0.30, Momentum: 0.30}

// Normalized returns the weights scaled to sum to 1. All-zero weights
// fall back to an even split.
func (w Weights) Normalized() Weights {
	total := w.Trend + w.Fundamental + w.Momentum
	if total <= 0 {
		third := 1.0 / 3.0
		return Weights{Trend: third, Fundamental: third, Momentum: third}
	}
	return Weights{
		Trend:       w.Trend / total,
		Fundamental: w.Fundamental / total,
		Momentum:    w.Momentum / total,
	}
}

// Composite blends the three component scores by weight and clamps the
// result to [0, 100].
func Composite(trend, fundamental, momentum float64, w Weights) float64 {
	n := w.Normalized()
	score := trend*n.Trend + fundamental*n.Fundamental + momentum*n.Momentum
	return clamp(score, 0, 100)
}
