package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestCryptoCompareClosesParsesAndResamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC", r.URL.Query().Get("fsym"))
		assert.Equal(t, "USD", r.URL.Query().Get("tsym"))
		assert.Equal(t, "168", r.URL.Query().Get("limit"))

		candles := make([]map[string]interface{}, 0, 121)
		for i := 0; i < 120; i++ {
			candles = append(candles, map[string]interface{}{"time": 1700000000 + i*3600, "close": float64(i + 1)})
		}
		// Venues pad gaps with zeroed candles.
		candles = append(candles, map[string]interface{}{"time": 1700500000, "close": 0.0})

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"Response": "Success",
			"Data":     map[string]interface{}{"Data": candles},
		}))
	}))
	t.Cleanup(srv.Close)

	client := NewCryptoCompareClient(srv.URL)
	closes, err := client.Closes(context.Background(), "BTC", 30)
	require.NoError(t, err)

	require.Len(t, closes, MaxSeriesPoints)
	assert.Equal(t, 1.0, closes[0])
	assert.Equal(t, 3.0, closes[1])
	assert.Equal(t, 99.0, closes[len(closes)-1])
}

func TestCryptoCompareShortWindowLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "48", r.URL.Query().Get("limit"))
		writeProviderJSON(t, w, map[string]interface{}{
			"Response": "Success",
			"Data":     map[string]interface{}{"Data": []map[string]interface{}{{"time": 1, "close": 10.0}}},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewCryptoCompareClient(srv.URL)
	closes, err := client.Closes(context.Background(), "ETH", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10.0}, closes)
}

func TestCryptoCompareSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(t, w, map[string]interface{}{
			"Response": "Error",
			"Message":  "fsym param is invalid",
		})
	}))
	t.Cleanup(srv.Close)

	client := NewCryptoCompareClient(srv.URL)
	_, err := client.Closes(context.Background(), "NOPE", 7)
	assert.ErrorContains(t, err, "fsym param is invalid")
}

func TestCoinGeckoRequiresMappedCoin(t *testing.T) {
	client := NewCoinGeckoClient("http://unused.invalid")
	_, err := client.Closes(context.Background(), "ZZZZ", 7)
	assert.ErrorContains(t, err, "no coingecko id")
}

func TestCoinGeckoClosesParsesPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "7", r.URL.Query().Get("days"))

		writeProviderJSON(t, w, map[string]interface{}{
			"prices": [][]float64{
				{1700000000000, 64000.5},
				{1700003600000, 0},
				{1700007200000, 64150.25},
			},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewCoinGeckoClient(srv.URL)
	closes, err := client.Closes(context.Background(), "btc", 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{64000.5, 64150.25}, closes)
}

func TestCoinGeckoHonoursRateLimitResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := NewCoinGeckoClient(srv.URL)
	_, err := client.Closes(context.Background(), "BTC", 7)
	assert.ErrorContains(t, err, "rate limited")
}

func TestCoinGeckoSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(t, w, map[string]interface{}{"prices": [][]float64{{1, 100}}})
	}))
	t.Cleanup(srv.Close)

	client := NewCoinGeckoClient(srv.URL)
	client.limiter = rate.NewLimiter(rate.Every(50*time.Millisecond), 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Closes(context.Background(), "BTC", 7)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func writeProviderJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestCryptoCompareStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewCryptoCompareClient(srv.URL)
	_, err := client.Closes(context.Background(), "BTC", 7)
	assert.ErrorContains(t, err, fmt.Sprintf("status %d", http.StatusBadGateway))
}
