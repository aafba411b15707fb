package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradehawk/internal/db"
)

func bullishTrend(strength, rsi float64, resistance []float64) *TrendAnalysis {
	return &TrendAnalysis{
		Direction:  DirectionBullish,
		Strength:   strength,
		RSI:        rsi,
		Resistance: resistance,
		Signals:    []Signal{{Indicator: "ema_cross", Direction: DirectionBullish}},
	}
}

func TestCryptoEntryTrigger(t *testing.T) {
	tests := []struct {
		name        string
		trend       *TrendAnalysis
		price       float64
		volumeRatio float64
		want        string
	}{
		{
			name:  "strong bullish enters immediately",
			trend: bullishTrend(75, 55, nil),
			price: 100, volumeRatio: 1,
			want: db.EntryTriggerImmediate,
		},
		{
			name:  "oversold waits for pullback",
			trend: bullishTrend(60, 30, nil),
			price: 100, volumeRatio: 1,
			want: db.EntryTriggerPullback,
		},
		{
			name:  "heavy volume rides the surge",
			trend: bullishTrend(60, 50, nil),
			price: 100, volumeRatio: 2.5,
			want: db.EntryTriggerVolumeSurge,
		},
		{
			name:  "resistance within three percent arms a breakout",
			trend: bullishTrend(60, 50, []float64{102, 110}),
			price: 100, volumeRatio: 1,
			want: db.EntryTriggerBreakout,
		},
		{
			name:  "distant resistance enters immediately",
			trend: bullishTrend(60, 50, []float64{105}),
			price: 100, volumeRatio: 1,
			want: db.EntryTriggerImmediate,
		},
		{
			name:  "nil trend enters immediately",
			trend: nil,
			price: 100, volumeRatio: 3,
			want: db.EntryTriggerImmediate,
		},
		{
			name:  "insufficient data envelope enters immediately",
			trend: &TrendAnalysis{Direction: DirectionNeutral, Score: 50, Signals: []Signal{}},
			price: 100, volumeRatio: 3,
			want: db.EntryTriggerImmediate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CryptoEntryTrigger(tt.trend, tt.price, tt.volumeRatio)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEquityEntryTrigger(t *testing.T) {
	tests := []struct {
		name string
		in   EquityTriggerInputs
		want string
	}{
		{
			name: "oversold on volume enters immediately",
			in:   EquityTriggerInputs{Price: 90, RSI: 30, VolumeRatio: 2, High52w: 100},
			want: db.EntryTriggerImmediate,
		},
		{
			name: "near high on heavy volume arms a breakout",
			in:   EquityTriggerInputs{Price: 96, RSI: 60, VolumeRatio: 2.5, High52w: 100},
			want: db.EntryTriggerBreakout,
		},
		{
			name: "between the averages waits for pullback",
			in:   EquityTriggerInputs{Price: 95, RSI: 55, VolumeRatio: 1, High52w: 150, SMA20: 100, SMA50: 90},
			want: db.EntryTriggerPullback,
		},
		{
			name: "oversold outranks breakout",
			in:   EquityTriggerInputs{Price: 96, RSI: 30, VolumeRatio: 2.5, High52w: 100},
			want: db.EntryTriggerImmediate,
		},
		{
			name: "default is immediate",
			in:   EquityTriggerInputs{Price: 100, RSI: 50, VolumeRatio: 1, High52w: 150},
			want: db.EntryTriggerImmediate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EquityEntryTrigger(tt.in))
		})
	}
}
