package analysis

import "github.com/ajitpratap0/tradehawk/internal/db"

// CryptoEntryTrigger classifies how a crypto candidate should be
// entered. Rules are checked in priority order and the first match
// wins; anything unclassified enters immediately.
func CryptoEntryTrigger(trend *TrendAnalysis, price, volumeRatio float64) string {
	if trend == nil || len(trend.Signals) == 0 {
		return db.EntryTriggerImmediate
	}
	if trend.Direction == DirectionBullish && trend.Strength > 70 {
		return db.EntryTriggerImmediate
	}
	if trend.RSI < 35 {
		return db.EntryTriggerPullback
	}
	if volumeRatio > 2 {
		return db.EntryTriggerVolumeSurge
	}
	if price > 0 {
		// Resistance levels come back sorted ascending, so the first
		// one above price is the nearest.
		for _, r := range trend.Resistance {
			if r > price {
				if (r-price)/price <= 0.03 {
					return db.EntryTriggerBreakout
				}
				break
			}
		}
	}
	return db.EntryTriggerImmediate
}

// EquityTriggerInputs carries the screener-derived fields the equity
// trigger rules need beyond the trend analysis.
type EquityTriggerInputs struct {
	Price       float64
	RSI         float64
	VolumeRatio float64
	High52w     float64
	SMA20       float64
	SMA50       float64
}

// EquityEntryTrigger classifies how an equity candidate should be
// entered, first match wins.
func EquityEntryTrigger(in EquityTriggerInputs) string {
	if in.RSI > 0 && in.RSI < 35 && in.VolumeRatio > 1.5 {
		return db.EntryTriggerImmediate
	}
	if in.High52w > 0 && in.Price >= in.High52w*0.95 && in.VolumeRatio > 2 {
		return db.EntryTriggerBreakout
	}
	if in.SMA20 > 0 && in.SMA50 > 0 && in.Price < in.SMA20 && in.Price > in.SMA50 {
		return db.EntryTriggerPullback
	}
	return db.EntryTriggerImmediate
}
