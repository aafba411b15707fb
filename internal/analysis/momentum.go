package analysis

// MomentumScore maps the 10-period rate of change onto a 0-100 scale
// centred at 50. Fewer than 10 prices scores a neutral 50.
func MomentumScore(prices []float64) float64 {
	if len(prices) < 10 {
		return 50
	}
	last := prices[len(prices)-1]
	ref := prices[len(prices)-10]
	if ref == 0 {
		return 50
	}
	change := (last - ref) / ref
	return clamp(50+change*500, 0, 100)
}
