package indicators

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEMA(t *testing.T) {
	// Seed = SMA(1..5) = 3, multiplier = 1/3. Feeding 6..10 walks the
	// EMA to exactly 8.
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got, err := EMA(prices, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 8) {
		t.Errorf("EMA = %v, want 8", got)
	}

	if _, err := EMA(prices[:3], 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 15)
	falling := make([]float64, 15)
	for i := range rising {
		rising[i] = float64(100 + i)
		falling[i] = float64(100 - i)
	}

	// Alternate +2/-1 deltas: avg gain 1, avg loss 0.5, RS 2.
	mixed := []float64{100}
	for i := 0; i < 7; i++ {
		mixed = append(mixed, mixed[len(mixed)-1]+2)
		mixed = append(mixed, mixed[len(mixed)-1]-1)
	}

	tests := []struct {
		name    string
		prices  []float64
		want    float64
		wantErr bool
	}{
		{"all gains pins at 100", rising, 100, false},
		{"all losses pins at 0", falling, 0, false},
		{"two to one gain ratio", mixed, 100 - 100.0/3.0, false},
		{"too short", rising[:14], 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RSI(tt.prices, 14)
			if tt.wantErr {
				if !errors.Is(err, ErrInsufficientData) {
					t.Fatalf("expected ErrInsufficientData, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("RSI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMACD(t *testing.T) {
	t.Run("flat series is zero", func(t *testing.T) {
		flat := make([]float64, 40)
		for i := range flat {
			flat[i] = 50
		}
		got, err := MACD(flat, 12, 26, 9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !almostEqual(got.MACD, 0) || !almostEqual(got.Signal, 0) || !almostEqual(got.Histogram, 0) {
			t.Errorf("MACD on flat series = %+v, want zeros", got)
		}
	})

	t.Run("uptrend keeps signal at nine tenths", func(t *testing.T) {
		rising := make([]float64, 40)
		for i := range rising {
			rising[i] = float64(100 + i)
		}
		got, err := MACD(rising, 12, 26, 9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.MACD <= 0 {
			t.Errorf("MACD on uptrend = %v, want positive", got.MACD)
		}
		if !almostEqual(got.Signal, 0.9*got.MACD) {
			t.Errorf("Signal = %v, want 0.9*%v", got.Signal, got.MACD)
		}
		if !almostEqual(got.Histogram, got.MACD-got.Signal) {
			t.Errorf("Histogram = %v, want %v", got.Histogram, got.MACD-got.Signal)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := MACD(make([]float64, 34), 12, 26, 9); !errors.Is(err, ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})
}

func TestBollinger(t *testing.T) {
	t.Run("constant series collapses bands", func(t *testing.T) {
		flat := make([]float64, 20)
		for i := range flat {
			flat[i] = 50
		}
		got, err := Bollinger(flat, 20, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !almostEqual(got.Upper, 50) || !almostEqual(got.Middle, 50) || !almostEqual(got.Lower, 50) {
			t.Errorf("Bollinger = %+v, want all 50", got)
		}
		if pb := PercentB(50, got); !almostEqual(pb, 0.5) {
			t.Errorf("PercentB on collapsed bands = %v, want 0.5", pb)
		}
	})

	t.Run("alternating series uses population stddev", func(t *testing.T) {
		alternating := make([]float64, 20)
		for i := range alternating {
			if i%2 == 0 {
				alternating[i] = 49
			} else {
				alternating[i] = 51
			}
		}
		got, err := Bollinger(alternating, 20, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// mean 50, population stddev exactly 1
		if !almostEqual(got.Middle, 50) || !almostEqual(got.Upper, 52) || !almostEqual(got.Lower, 48) {
			t.Errorf("Bollinger = %+v, want 52/50/48", got)
		}
		if pb := PercentB(51, got); !almostEqual(pb, 0.75) {
			t.Errorf("PercentB(51) = %v, want 0.75", pb)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := Bollinger(make([]float64, 19), 20, 2); !errors.Is(err, ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})
}

func TestSupportResistance(t *testing.T) {
	t.Run("strict extrema sorted toward price", func(t *testing.T) {
		prices := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16}
		support, resistance, err := SupportResistance(prices, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		wantSupport := []float64{14, 13, 12}
		wantResistance := []float64{12, 13, 14}
		for i := range wantSupport {
			if !almostEqual(support[i], wantSupport[i]) {
				t.Errorf("support = %v, want %v", support, wantSupport)
				break
			}
		}
		for i := range wantResistance {
			if !almostEqual(resistance[i], wantResistance[i]) {
				t.Errorf("resistance = %v, want %v", resistance, wantResistance)
				break
			}
		}
	})

	t.Run("monotonic series falls back to range", func(t *testing.T) {
		prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
		support, resistance, err := SupportResistance(prices, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(support) != 1 || !almostEqual(support[0], 1) {
			t.Errorf("support = %v, want [1]", support)
		}
		if len(resistance) != 1 || !almostEqual(resistance[0], 12) {
			t.Errorf("resistance = %v, want [12]", resistance)
		}
	})

	t.Run("needs ten points", func(t *testing.T) {
		if _, _, err := SupportResistance(make([]float64, 9), 3); !errors.Is(err, ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})
}
