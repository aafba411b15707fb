package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	cryptoCompareBaseURL = "https://min-api.cryptocompare.com/data/v2/histohour"

	// The hourly endpoint serves at most a week of candles.
	maxHourlyCandles = 168
)

// CryptoCompareClient is the primary history provider. The hourly
// endpoint needs no API key and has generous rate limits.
type CryptoCompareClient struct {
	baseURL string
	http    *http.Client
}

// NewCryptoCompareClient builds the provider. baseURL is overridable
// for tests; empty selects the public endpoint.
func NewCryptoCompareClient(baseURL string) *CryptoCompareClient {
	if baseURL == "" {
		baseURL = cryptoCompareBaseURL
	}
	return &CryptoCompareClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Name implements Provider.
func (c *CryptoCompareClient) Name() string { return "cryptocompare" }

// Closes fetches hourly candles and thins them to a daily-scale
// series. Zero closes are dropped before resampling.
func (c *CryptoCompareClient) Closes(ctx context.Context, coin string, days int) ([]float64, error) {
	hours := days * 24
	if hours > maxHourlyCandles {
		hours = maxHourlyCandles
	}

	endpoint := fmt.Sprintf("%s?fsym=%s&tsym=USD&limit=%d", c.baseURL, url.QueryEscape(coin), hours)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cryptocompare status %d", resp.StatusCode)
	}

	var body struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
		Data     struct {
			Data []struct {
				Time  int64   `json:"time"`
				Close float64 `json:"close"`
			} `json:"Data"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("cryptocompare decode: %w", err)
	}
	if body.Response != "Success" {
		return nil, fmt.Errorf("cryptocompare: %s", body.Message)
	}

	closes := make([]float64, 0, len(body.Data.Data))
	for _, candle := range body.Data.Data {
		if candle.Close > 0 {
			closes = append(closes, candle.Close)
		}
	}
	return resample(closes), nil
}
