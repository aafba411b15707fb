// Package market resolves recent close-price history through a chain
// of public data providers, backed by a Redis cache shared across
// service instances. The broker stays the source of truth for live
// prices; this package only fills in history.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// Series length bounds. Providers resample to at most MaxSeriesPoints;
// anything under MinSeriesPoints is treated as no data.
const (
	MaxSeriesPoints = 50
	MinSeriesPoints = 20
)

// ErrInsufficientData means no provider produced a usable series. The
// caller skips the asset for the cycle rather than analyse thin data.
var ErrInsufficientData = errors.New("insufficient price history")

// Provider fetches a close-price series, oldest first, for a coin code.
type Provider interface {
	Name() string
	Closes(ctx context.Context, coin string, days int) ([]float64, error)
}

// Service is the provider chain with its shared cache. Concurrent
// misses for the same symbol collapse into one upstream fetch.
type Service struct {
	providers []Provider
	cache     *SeriesCache
	group     singleflight.Group
}

// NewService chains providers in priority order. A nil cache disables
// sharing but keeps the chain working.
func NewService(cache *SeriesCache, providers ...Provider) *Service {
	return &Service{providers: providers, cache: cache}
}

// HistoricalPrices returns at least MinSeriesPoints strictly positive
// closes, oldest first, or ErrInsufficientData.
func (s *Service) HistoricalPrices(ctx context.Context, symbol string, days int) ([]float64, error) {
	if prices, ok := s.cache.Get(ctx, symbol, days); ok {
		return prices, nil
	}

	key := fmt.Sprintf("%s:%d", symbol, days)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have populated the cache already.
		if prices, ok := s.cache.Get(ctx, symbol, days); ok {
			return prices, nil
		}

		coin := CoinCode(symbol)
		for _, provider := range s.providers {
			prices, err := provider.Closes(ctx, coin, days)
			if err != nil {
				metrics.RecordMarketDataRequest(provider.Name(), metrics.OutcomeError)
				log.Debug().
					Err(err).
					Str("provider", provider.Name()).
					Str("symbol", symbol).
					Msg("Provider fetch failed")
				continue
			}
			if len(prices) < MinSeriesPoints {
				metrics.RecordMarketDataRequest(provider.Name(), metrics.OutcomeSkipped)
				log.Debug().
					Str("provider", provider.Name()).
					Str("symbol", symbol).
					Int("points", len(prices)).
					Msg("Provider returned too few points")
				continue
			}
			metrics.RecordMarketDataRequest(provider.Name(), metrics.OutcomeOK)
			s.cache.SetAsync(symbol, days, prices)
			log.Debug().
				Str("provider", provider.Name()).
				Str("symbol", symbol).
				Int("points", len(prices)).
				Msg("Fetched historical prices")
			return prices, nil
		}
		return nil, fmt.Errorf("%w for %s", ErrInsufficientData, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// CoinCode extracts the base asset from a trading pair, e.g.
// BTC-USD yields BTC.
func CoinCode(symbol string) string {
	base, _, _ := strings.Cut(symbol, "-")
	return strings.ToUpper(base)
}

// WithLivePrice appends the live mark as the newest point, trimming
// the history so the result stays within MaxSeriesPoints.
func WithLivePrice(closes []float64, mark float64) []float64 {
	if len(closes) >= MaxSeriesPoints {
		closes = closes[len(closes)-(MaxSeriesPoints-1):]
	}
	out := make([]float64, 0, len(closes)+1)
	out = append(out, closes...)
	return append(out, mark)
}

// resample thins a series to at most MaxSeriesPoints by keeping every
// step-th point from the oldest.
func resample(prices []float64) []float64 {
	if len(prices) <= MaxSeriesPoints {
		return prices
	}
	step := len(prices) / MaxSeriesPoints
	out := make([]float64, 0, MaxSeriesPoints)
	for i := 0; i < len(prices); i += step {
		out = append(out, prices[i])
		if len(out) == MaxSeriesPoints {
			break
		}
	}
	return out
}
