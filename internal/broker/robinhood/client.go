package robinhood

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

const (
	defaultBaseURL = "https://trading.robinhood.com"
	venueName      = "robinhood"

	// Venue caps: 10 requests per second and 1000 per hour per
	// account. Both limiters must admit a request before it leaves.
	perSecondLimit = 10
	perHourLimit   = 1000
)

// Config carries the venue credentials.
type Config struct {
	APIKey     string
	PrivateKey string // base64 seed
	BaseURL    string
}

// Client is the signed HTTP transport under the adapter.
type Client struct {
	baseURL  string
	signer   *Signer
	http     *http.Client
	perSec   *rate.Limiter
	perHour  *rate.Limiter
	breakers *broker.BreakerSet
	retry    broker.RetryConfig
}

// NewClient builds the transport, or ErrNotConfigured when credentials
// are absent so callers can degrade to read-only behaviour.
func NewClient(cfg Config, breakers *broker.BreakerSet) (*Client, error) {
	if cfg.APIKey == "" || cfg.PrivateKey == "" {
		return nil, broker.ErrNotConfigured
	}
	signer, err := NewSigner(cfg.APIKey, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if breakers == nil {
		breakers = broker.NewBreakerSet()
	}

	return &Client{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: 30 * time.Second},
		perSec:  rate.NewLimiter(perSecondLimit, perSecondLimit),
		// Burst 100 keeps cycle-sized bursts fast while the refill
		// holds sustained traffic under the hourly cap.
		perHour:  rate.NewLimiter(rate.Every(time.Hour/perHourLimit), 100),
		breakers: breakers,
		retry:    broker.DefaultRetryConfig(),
	}, nil
}

// do performs one signed request. The path must include the query
// string; the signature covers it.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.perSec.Wait(ctx); err != nil {
		return err
	}
	if err := c.perHour.Wait(ctx); err != nil {
		return err
	}

	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyStr = string(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewBufferString(bodyStr))
	if err != nil {
		return err
	}
	for k, v := range c.signer.Headers(method, path, bodyStr, time.Now()) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	_, err = c.breakers.Execute(venueName, func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, broker.NewVenueError(venueName, broker.KindConnectivity, "request failed", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, broker.NewVenueError(venueName, broker.KindMalformed, "reading response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, broker.HTTPError(venueName, resp.StatusCode, string(payload))
		}
		if out != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, out); err != nil {
				return nil, broker.NewVenueError(venueName, broker.KindMalformed, "decoding response", err)
			}
		}
		return nil, nil
	})
	metrics.ObserveBrokerCall(venueName, path, time.Since(start).Seconds()*1000, err)
	return err
}

// get retries idempotent reads through the shared backoff. Mutating
// calls never auto-retry; order placement relies on the caller's
// client_order_id for dedupe instead.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return broker.WithRetry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}
