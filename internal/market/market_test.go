package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	series  []float64
	err     error
	delay   time.Duration
	calls   atomic.Int64
	lastArg atomic.Value
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Closes(ctx context.Context, coin string, days int) ([]float64, error) {
	f.calls.Add(1)
	f.lastArg.Store(coin)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.series, f.err
}

func ascendingSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func newMiniredisCache(t *testing.T, ttl time.Duration) (*SeriesCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSeriesCache(client, ttl), mr
}

func TestServiceFallsBackThroughProviderChain(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	secondary := &fakeProvider{name: "secondary", series: ascendingSeries(25)}
	svc := NewService(nil, primary, secondary)

	prices, err := svc.HistoricalPrices(context.Background(), "BTC-USD", 7)
	require.NoError(t, err)
	assert.Len(t, prices, 25)
	assert.Equal(t, int64(1), primary.calls.Load())
	assert.Equal(t, int64(1), secondary.calls.Load())
	assert.Equal(t, "BTC", secondary.lastArg.Load())
}

func TestServiceSkipsThinSeries(t *testing.T) {
	primary := &fakeProvider{name: "primary", series: ascendingSeries(10)}
	secondary := &fakeProvider{name: "secondary", err: errors.New("down")}
	svc := NewService(nil, primary, secondary)

	_, err := svc.HistoricalPrices(context.Background(), "ETH-USD", 7)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, int64(1), primary.calls.Load())
	assert.Equal(t, int64(1), secondary.calls.Load())
}

func TestServiceServesFromCache(t *testing.T) {
	cache, _ := newMiniredisCache(t, time.Hour)
	require.NoError(t, cache.Set(context.Background(), "BTC-USD", 7, ascendingSeries(30)))

	provider := &fakeProvider{name: "primary", series: ascendingSeries(25)}
	svc := NewService(cache, provider)

	prices, err := svc.HistoricalPrices(context.Background(), "BTC-USD", 7)
	require.NoError(t, err)
	assert.Len(t, prices, 30)
	assert.Equal(t, int64(0), provider.calls.Load())
}

func TestServiceWritesBackToCache(t *testing.T) {
	cache, _ := newMiniredisCache(t, time.Hour)
	provider := &fakeProvider{name: "primary", series: ascendingSeries(25)}
	svc := NewService(cache, provider)

	_, err := svc.HistoricalPrices(context.Background(), "SOL-USD", 7)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "SOL-USD", 7)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestServiceCollapsesConcurrentMisses(t *testing.T) {
	provider := &fakeProvider{name: "slow", series: ascendingSeries(25), delay: 50 * time.Millisecond}
	svc := NewService(nil, provider)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prices, err := svc.HistoricalPrices(context.Background(), "BTC-USD", 7)
			assert.NoError(t, err)
			assert.Len(t, prices, 25)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestCoinCode(t *testing.T) {
	assert.Equal(t, "BTC", CoinCode("BTC-USD"))
	assert.Equal(t, "ETH", CoinCode("eth-usd"))
	assert.Equal(t, "SOL", CoinCode("SOL"))
}

func TestWithLivePrice(t *testing.T) {
	full := WithLivePrice(ascendingSeries(50), 999)
	require.Len(t, full, MaxSeriesPoints)
	assert.Equal(t, 2.0, full[0])
	assert.Equal(t, 999.0, full[len(full)-1])

	short := WithLivePrice(ascendingSeries(10), 42)
	require.Len(t, short, 11)
	assert.Equal(t, 42.0, short[10])
}

func TestResampleThinsLongSeries(t *testing.T) {
	out := resample(ascendingSeries(168))
	require.Len(t, out, MaxSeriesPoints)
	assert.Equal(t, 1.0, out[0])
	assert.Equal(t, 4.0, out[1])
	assert.Equal(t, 148.0, out[len(out)-1])

	unchanged := resample(ascendingSeries(50))
	assert.Len(t, unchanged, 50)
}
