// Package ibkr implements the options venue against a local
// Interactive Brokers Client Portal gateway. The gateway owns the
// brokerage session; this client rides it over localhost HTTPS.
package ibkr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

const venueName = "ibkr"

// Config locates the gateway and scopes the session.
type Config struct {
	Host      string
	Port      int
	AccountID string
	ReadOnly  bool
	BaseURL   string // overrides host/port, used by tests
}

// Client is the JSON transport to the gateway.
type Client struct {
	baseURL   string
	http      *http.Client
	breakers  *broker.BreakerSet
	readOnly  bool
	accountMu sync.Mutex
	accountID string

	conidMu sync.RWMutex
	conids  map[string]int

	mu        sync.RWMutex
	connected bool
}

// NewClient points at the gateway. The gateway serves a self-signed
// certificate on localhost, so verification is disabled for it.
func NewClient(cfg Config, breakers *broker.BreakerSet) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Host == "" || cfg.Port == 0 {
			return nil, broker.ErrNotConfigured
		}
		baseURL = fmt.Sprintf("https://%s:%d/v1/api", cfg.Host, cfg.Port)
	}
	if breakers == nil {
		breakers = broker.NewBreakerSet()
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		breakers:  breakers,
		readOnly:  cfg.ReadOnly,
		accountID: cfg.AccountID,
		conids:    make(map[string]int),
	}, nil
}

// AuthStatus is the gateway's session report.
type AuthStatus struct {
	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
	Competing     bool `json:"competing"`
}

// Connect verifies the gateway session and resolves the account id.
func (c *Client) Connect(ctx context.Context) error {
	var status AuthStatus
	if err := c.post(ctx, "/iserver/auth/status", nil, &status); err != nil {
		return fmt.Errorf("checking gateway session: %w", err)
	}
	if !status.Authenticated {
		return fmt.Errorf("%w: gateway session not authenticated", broker.ErrNotConnected)
	}

	if _, err := c.account(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	log.Info().Str("gateway", c.baseURL).Msg("Connected to IB gateway")
	return nil
}

// Disconnect drops the local connected flag. The gateway session
// itself stays alive; it belongs to the gateway process.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	log.Info().Msg("Disconnected from IB gateway")
}

// Connected reports the local session flag.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ReadOnly reports whether order placement is blocked.
func (c *Client) ReadOnly() bool { return c.readOnly }

// account resolves the brokerage account id, asking the gateway for
// the first account when none was configured.
func (c *Client) account(ctx context.Context) (string, error) {
	c.accountMu.Lock()
	defer c.accountMu.Unlock()
	if c.accountID != "" {
		return c.accountID, nil
	}

	var accounts []struct {
		ID        string `json:"id"`
		AccountID string `json:"accountId"`
	}
	if err := c.get(ctx, "/portfolio/accounts", &accounts); err != nil {
		return "", fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", broker.NewVenueError(venueName, broker.KindMalformed, "gateway returned no accounts", nil)
	}

	id := accounts[0].ID
	if id == "" {
		id = accounts[0].AccountID
	}
	c.accountID = id
	return id, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = raw
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	_, err = c.breakers.Execute(venueName, func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, broker.NewVenueError(venueName, broker.KindConnectivity, "gateway unreachable", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, broker.NewVenueError(venueName, broker.KindMalformed, "reading response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, broker.HTTPError(venueName, resp.StatusCode, string(raw))
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return nil, broker.NewVenueError(venueName, broker.KindMalformed, "decoding response", err)
			}
		}
		return nil, nil
	})
	metrics.ObserveBrokerCall(venueName, path, time.Since(start).Seconds()*1000, err)
	return err
}
