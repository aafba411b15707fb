package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

	// Free-tier spacing between requests.
	coinGeckoSpacing = 500 * time.Millisecond
)

// coinGeckoIDs maps asset codes to CoinGecko coin ids. Assets without
// a mapping simply fall through as unavailable from this provider.
var coinGeckoIDs = map[string]string{
	"BTC": "bitcoin", "ETH": "ethereum", "SOL": "solana",
	"DOGE": "dogecoin", "SHIB": "shiba-inu", "AVAX": "avalanche-2",
	"LINK": "chainlink", "UNI": "uniswap", "AAVE": "aave",
	"XLM": "stellar", "LTC": "litecoin", "BCH": "bitcoin-cash",
	"ETC": "ethereum-classic", "COMP": "compound-governance-token",
	"XTZ": "tezos", "MATIC": "matic-network", "ATOM": "cosmos",
	"DOT": "polkadot", "ADA": "cardano", "ALGO": "algorand",
	"FIL": "filecoin", "NEAR": "near", "APE": "apecoin",
	"ARB": "arbitrum", "OP": "optimism", "SUI": "sui",
	"SEI": "sei-network", "TIA": "celestia", "JUP": "jupiter-exchange-solana",
	"BONK": "bonk", "WIF": "dogwifcoin", "PEPE": "pepe",
	"FLOKI": "floki", "MOODENG": "moo-deng",
	"HYPE": "hyperliquid", "AERO": "aerodrome-finance",
	"RENDER": "render-token", "INJ": "injective-protocol",
	"FET": "fetch-ai", "RNDR": "render-token", "PYTH": "pyth-network",
	"CRV": "curve-dao-token", "MKR": "maker", "SNX": "havven",
	"SUSHI": "sushi", "YFI": "yearn-finance", "1INCH": "1inch",
	"BAT": "basic-attention-token", "ENJ": "enjincoin",
	"SAND": "the-sandbox", "MANA": "decentraland", "AXS": "axie-infinity",
	"GRT": "the-graph", "LRC": "loopring", "ZRX": "0x",
	"STORJ": "storj", "UMA": "uma", "BAL": "balancer",
	"REN": "republic-protocol", "KNC": "kyber-network-crystal",
	"XRP": "ripple", "BNB": "binancecoin", "TRX": "tron",
	"TON": "the-open-network",
}

// CoinGeckoClient is the fallback history provider. The free tier is
// rate limited, so requests are spaced and HTTP 429 surfaces as an
// error rather than a retry.
type CoinGeckoClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewCoinGeckoClient builds the provider. baseURL is overridable for
// tests; empty selects the public endpoint.
func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	return &CoinGeckoClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(coinGeckoSpacing), 1),
	}
}

// Name implements Provider.
func (c *CoinGeckoClient) Name() string { return "coingecko" }

// Closes fetches the market chart for the mapped coin id and thins it
// to the shared series length.
func (c *CoinGeckoClient) Closes(ctx context.Context, coin string, days int) ([]float64, error) {
	id, ok := coinGeckoIDs[strings.ToUpper(coin)]
	if !ok {
		return nil, fmt.Errorf("no coingecko id for %s", coin)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d", c.baseURL, id, days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coingecko response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("coingecko rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	// prices arrive as [timestamp_ms, price] pairs.
	var body struct {
		Prices [][]float64 `json:"prices"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("coingecko decode: %w", err)
	}

	closes := make([]float64, 0, len(body.Prices))
	for _, pair := range body.Prices {
		if len(pair) == 2 && pair[1] > 0 {
			closes = append(closes, pair[1])
		}
	}
	return resample(closes), nil
}
