package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	yahooBaseURL   = "https://query1.finance.yahoo.com"
	yahooCookieURL = "https://fc.yahoo.com"

	// Spacing between requests; the equity scan walks a 50-ticker
	// universe every cycle and Yahoo throttles bursts hard.
	yahooSpacing = 300 * time.Millisecond

	// Yahoo rejects the default Go user agent outright.
	yahooUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// EquityHistory is one ticker's daily series plus the live fields the
// chart metadata carries. Closes and Volumes are aligned, oldest first,
// with halted/holiday bars dropped.
type EquityHistory struct {
	Symbol    string
	Closes    []float64
	Volumes   []float64
	Price     float64
	DayVolume float64
	High52w   float64
	Low52w    float64
}

// AvgVolume returns the mean daily volume over the most recent n bars,
// or over the whole series when it is shorter.
func (h *EquityHistory) AvgVolume(n int) float64 {
	if n <= 0 || len(h.Volumes) == 0 {
		return 0
	}
	if n > len(h.Volumes) {
		n = len(h.Volumes)
	}
	var sum float64
	for _, v := range h.Volumes[len(h.Volumes)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// EquityFundamentals carries the valuation fields the screener treats
// as optional. Nil pointers mean Yahoo had no figure for the ticker.
type EquityFundamentals struct {
	MarketCap      float64
	PERatio        *float64
	RevenueGrowth  *float64
	EarningsGrowth *float64
}

// YahooClient feeds the equity scan: daily close/volume history through
// the chart API and valuation figures through quoteSummary. The latter
// requires a session cookie plus a crumb token, fetched lazily and
// refreshed once on a 401.
type YahooClient struct {
	baseURL   string
	cookieURL string
	http      *http.Client
	limiter   *rate.Limiter

	mu    sync.Mutex
	crumb string
}

// NewYahooClient builds the client. baseURL is overridable for tests;
// empty selects the public endpoints.
func NewYahooClient(baseURL string) *YahooClient {
	cookieURL := yahooCookieURL
	if baseURL == "" {
		baseURL = yahooBaseURL
	} else {
		cookieURL = baseURL + "/cookie"
	}
	jar, _ := cookiejar.New(nil)
	return &YahooClient{
		baseURL:   baseURL,
		cookieURL: cookieURL,
		http:      &http.Client{Timeout: 15 * time.Second, Jar: jar},
		limiter:   rate.NewLimiter(rate.Every(yahooSpacing), 1),
	}
}

// DailyHistory fetches up to days of daily bars for the ticker. The
// chart metadata doubles as a live quote, so Price, DayVolume and the
// 52-week range come back alongside the series.
func (c *YahooClient) DailyHistory(ctx context.Context, symbol string, days int) (*EquityHistory, error) {
	if days <= 0 {
		days = 365
	}
	symbol = strings.ToUpper(symbol)

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%dd&interval=1d",
		c.baseURL, url.PathEscape(symbol), days)
	raw, status, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo chart status %d for %s", status, symbol)
	}

	var body struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice  float64 `json:"regularMarketPrice"`
					RegularMarketVolume float64 `json:"regularMarketVolume"`
					FiftyTwoWeekHigh    float64 `json:"fiftyTwoWeekHigh"`
					FiftyTwoWeekLow     float64 `json:"fiftyTwoWeekLow"`
				} `json:"meta"`
				Indicators struct {
					Quote []struct {
						Close  []*float64 `json:"close"`
						Volume []*float64 `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("yahoo chart decode: %w", err)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart: %s", body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo chart: no data for %s", symbol)
	}

	result := body.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	hist := &EquityHistory{
		Symbol:    symbol,
		Price:     result.Meta.RegularMarketPrice,
		DayVolume: result.Meta.RegularMarketVolume,
		High52w:   result.Meta.FiftyTwoWeekHigh,
		Low52w:    result.Meta.FiftyTwoWeekLow,
	}
	for i, close := range quote.Close {
		// Bars with a null close are market holidays or halts.
		if close == nil || *close <= 0 {
			continue
		}
		hist.Closes = append(hist.Closes, *close)
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			hist.Volumes = append(hist.Volumes, *quote.Volume[i])
		} else {
			hist.Volumes = append(hist.Volumes, 0)
		}
	}
	return hist, nil
}

// yahooValue is the {raw, fmt} envelope quoteSummary wraps numbers in.
type yahooValue struct {
	Raw *float64 `json:"raw"`
}

// Fundamentals fetches market cap, trailing P/E and growth rates for
// one ticker. A stale crumb is refreshed and the request retried once.
func (c *YahooClient) Fundamentals(ctx context.Context, symbol string) (*EquityFundamentals, error) {
	symbol = strings.ToUpper(symbol)

	for attempt := 0; attempt < 2; attempt++ {
		crumb, err := c.ensureCrumb(ctx)
		if err != nil {
			return nil, err
		}

		endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=price,summaryDetail,financialData&crumb=%s",
			c.baseURL, url.PathEscape(symbol), url.QueryEscape(crumb))
		raw, status, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			c.invalidateCrumb()
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("yahoo quoteSummary status %d for %s", status, symbol)
		}

		var body struct {
			QuoteSummary struct {
				Result []struct {
					Price struct {
						MarketCap yahooValue `json:"marketCap"`
					} `json:"price"`
					SummaryDetail struct {
						TrailingPE yahooValue `json:"trailingPE"`
					} `json:"summaryDetail"`
					FinancialData struct {
						RevenueGrowth  yahooValue `json:"revenueGrowth"`
						EarningsGrowth yahooValue `json:"earningsGrowth"`
					} `json:"financialData"`
				} `json:"result"`
				Error *struct {
					Description string `json:"description"`
				} `json:"error"`
			} `json:"quoteSummary"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("yahoo quoteSummary decode: %w", err)
		}
		if body.QuoteSummary.Error != nil {
			return nil, fmt.Errorf("yahoo quoteSummary: %s", body.QuoteSummary.Error.Description)
		}
		if len(body.QuoteSummary.Result) == 0 {
			return nil, fmt.Errorf("yahoo quoteSummary: no data for %s", symbol)
		}

		r := body.QuoteSummary.Result[0]
		fund := &EquityFundamentals{
			PERatio:        r.SummaryDetail.TrailingPE.Raw,
			RevenueGrowth:  r.FinancialData.RevenueGrowth.Raw,
			EarningsGrowth: r.FinancialData.EarningsGrowth.Raw,
		}
		if r.Price.MarketCap.Raw != nil {
			fund.MarketCap = *r.Price.MarketCap.Raw
		}
		return fund, nil
	}
	return nil, fmt.Errorf("yahoo quoteSummary: crumb rejected for %s", symbol)
}

// ensureCrumb returns the cached crumb, performing the cookie-then-crumb
// handshake on first use.
func (c *YahooClient) ensureCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != "" {
		return c.crumb, nil
	}

	// The cookie endpoint 404s; its only job is setting the session
	// cookie the crumb endpoint checks.
	if _, _, err := c.get(ctx, c.cookieURL); err != nil {
		return "", fmt.Errorf("yahoo cookie: %w", err)
	}

	raw, status, err := c.get(ctx, c.baseURL+"/v1/test/getcrumb")
	if err != nil {
		return "", fmt.Errorf("yahoo crumb: %w", err)
	}
	crumb := strings.TrimSpace(string(raw))
	if status != http.StatusOK || crumb == "" || strings.Contains(crumb, "<") {
		return "", fmt.Errorf("yahoo crumb unavailable (status %d)", status)
	}
	c.crumb = crumb
	return crumb, nil
}

func (c *YahooClient) invalidateCrumb() {
	c.mu.Lock()
	c.crumb = ""
	c.mu.Unlock()
}

func (c *YahooClient) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", yahooUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("yahoo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("yahoo response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
