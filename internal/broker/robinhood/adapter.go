package robinhood

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradehawk/internal/broker"
)

// quoteBatchSize caps how many single-symbol quote requests run in one
// parallel window.
const quoteBatchSize = 10

// instrumentCacheTTL bounds how long the trading-pair list is reused
// for rounding before a refresh.
const instrumentCacheTTL = time.Hour

// Adapter implements the venue-neutral broker surface for the signed
// crypto venue.
type Adapter struct {
	client *Client

	mu          sync.RWMutex
	instruments map[string]broker.Instrument
	fetchedAt   time.Time
}

// New builds the adapter, or ErrNotConfigured without credentials.
func New(cfg Config, breakers *broker.BreakerSet) (*Adapter, error) {
	client, err := NewClient(cfg, breakers)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client}, nil
}

type accountPayload struct {
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
	BuyingPower   string `json:"buying_power"`
}

type accountResponse struct {
	accountPayload
	Results []accountPayload `json:"results"`
}

// Account fetches the crypto trading account. The venue returns either
// a bare object or a results array depending on API version.
func (a *Adapter) Account(ctx context.Context) (*broker.Account, error) {
	var resp accountResponse
	if err := a.client.get(ctx, "/api/v1/crypto/trading/accounts/", &resp); err != nil {
		return nil, err
	}

	payload := resp.accountPayload
	if payload.AccountNumber == "" && len(resp.Results) > 0 {
		payload = resp.Results[0]
	}
	if payload.AccountNumber == "" {
		return nil, broker.NewVenueError(venueName, broker.KindMalformed, "account response missing account_number", nil)
	}

	return &broker.Account{
		ID:          payload.AccountNumber,
		Status:      payload.Status,
		BuyingPower: parseFloat(payload.BuyingPower),
		Active:      payload.Status == "active",
	}, nil
}

type holdingPayload struct {
	AssetCode         string `json:"asset_code"`
	TotalQuantity     string `json:"total_quantity"`
	AvailableQuantity string `json:"available_quantity"`
	HeldForOrders     string `json:"held_for_orders"`
	CostBasis         string `json:"cost_basis"`
	MarketValue       string `json:"market_value"`
}

// Holdings lists every asset balance on the account.
func (a *Adapter) Holdings(ctx context.Context) ([]broker.Holding, error) {
	var resp struct {
		Results []holdingPayload `json:"results"`
	}
	if err := a.client.get(ctx, "/api/v1/crypto/trading/holdings/", &resp); err != nil {
		return nil, err
	}

	holdings := make([]broker.Holding, 0, len(resp.Results))
	for _, h := range resp.Results {
		holdings = append(holdings, broker.Holding{
			Asset:             h.AssetCode,
			TotalQuantity:     parseFloat(h.TotalQuantity),
			AvailableQuantity: parseFloat(h.AvailableQuantity),
			HeldQuantity:      parseFloat(h.HeldForOrders),
			CostBasis:         parseOptFloat(h.CostBasis),
			MarketValue:       parseOptFloat(h.MarketValue),
		})
	}
	return holdings, nil
}

type pairPayload struct {
	Symbol         string `json:"symbol"`
	MinOrderSize   string `json:"min_order_size"`
	MaxOrderSize   string `json:"max_order_size"`
	QuoteIncrement string `json:"quote_increment"`
	AssetIncrement string `json:"asset_increment"`
	Status         string `json:"status"`
}

// Instruments lists the tradable pairs, served from a one-hour cache
// because the executor consults it on every rounding decision.
func (a *Adapter) Instruments(ctx context.Context) ([]broker.Instrument, error) {
	a.mu.RLock()
	if a.instruments != nil && time.Since(a.fetchedAt) < instrumentCacheTTL {
		out := make([]broker.Instrument, 0, len(a.instruments))
		for _, inst := range a.instruments {
			out = append(out, inst)
		}
		a.mu.RUnlock()
		return out, nil
	}
	a.mu.RUnlock()

	var resp struct {
		Results []pairPayload `json:"results"`
	}
	if err := a.client.get(ctx, "/api/v1/crypto/trading/trading_pairs/", &resp); err != nil {
		return nil, err
	}

	byName := make(map[string]broker.Instrument, len(resp.Results))
	out := make([]broker.Instrument, 0, len(resp.Results))
	for _, p := range resp.Results {
		inst := broker.Instrument{
			Symbol:            p.Symbol,
			MinOrderSize:      parseFloat(p.MinOrderSize),
			MaxOrderSize:      parseFloat(p.MaxOrderSize),
			PriceIncrement:    parseFloat(p.QuoteIncrement),
			QuantityIncrement: parseFloat(p.AssetIncrement),
			Tradable:          p.Status == "tradable",
		}
		byName[p.Symbol] = inst
		out = append(out, inst)
	}

	a.mu.Lock()
	a.instruments = byName
	a.fetchedAt = time.Now()
	a.mu.Unlock()
	return out, nil
}

// Instrument resolves one pair's rounding rules via the shared cache.
func (a *Adapter) Instrument(ctx context.Context, symbol string) (*broker.Instrument, error) {
	a.mu.RLock()
	if inst, ok := a.instruments[symbol]; ok && time.Since(a.fetchedAt) < instrumentCacheTTL {
		a.mu.RUnlock()
		return &inst, nil
	}
	a.mu.RUnlock()

	if _, err := a.Instruments(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if inst, ok := a.instruments[symbol]; ok {
		return &inst, nil
	}
	return nil, fmt.Errorf("unknown trading pair %s", symbol)
}

type quotePayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Bid    string `json:"bid_inclusive_of_sell_spread"`
	Ask    string `json:"ask_inclusive_of_buy_spread"`
}

// Quote fetches the best bid/ask snapshot for one pair. Mark is the
// venue price when present, otherwise the bid/ask midpoint.
func (a *Adapter) Quote(ctx context.Context, symbol string) (*broker.Quote, error) {
	var resp struct {
		Results []quotePayload `json:"results"`
	}
	path := "/api/v1/crypto/marketdata/best_bid_ask/?symbol=" + url.QueryEscape(symbol)
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, broker.NewVenueError(venueName, broker.KindMalformed, "empty quote response for "+symbol, nil)
	}

	q := resp.Results[0]
	price := parseFloat(q.Price)
	bid := parseFloat(q.Bid)
	ask := parseFloat(q.Ask)
	if bid == 0 {
		bid = price
	}
	if ask == 0 {
		ask = price
	}
	mark := price
	if mark <= 0 {
		mark = (bid + ask) / 2
	}

	sym := q.Symbol
	if sym == "" {
		sym = symbol
	}
	return &broker.Quote{
		Symbol:    sym,
		Bid:       bid,
		Ask:       ask,
		Mark:      mark,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Quotes fans out single-symbol requests in windows of ten. A failed
// symbol is logged and dropped so one bad pair never sinks the batch.
func (a *Adapter) Quotes(ctx context.Context, symbols []string) ([]broker.Quote, error) {
	quotes := make([]broker.Quote, 0, len(symbols))
	var mu sync.Mutex

	for start := 0; start < len(symbols); start += quoteBatchSize {
		end := start + quoteBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, symbol := range symbols[start:end] {
			g.Go(func() error {
				q, err := a.Quote(gctx, symbol)
				if err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed, skipping symbol")
					return nil
				}
				mu.Lock()
				quotes = append(quotes, *q)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return quotes, nil
}

// EstimatedPrice asks the venue what an order of this size would cost.
func (a *Adapter) EstimatedPrice(ctx context.Context, symbol string, side broker.Side, quantity float64) (float64, error) {
	body := map[string]string{
		"symbol":   symbol,
		"side":     string(side),
		"quantity": formatDecimal(quantity),
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := a.client.post(ctx, "/api/v1/crypto/trading/estimated_price/", body, &resp); err != nil {
		return 0, err
	}
	return parseFloat(resp.Price), nil
}

// HistoricalPrices is not offered by this venue; series come from the
// market data gateway instead.
func (a *Adapter) HistoricalPrices(ctx context.Context, symbol string, days int) ([]float64, error) {
	return nil, broker.ErrNotSupported
}

type orderConfigPayload struct {
	AssetQuantity string `json:"asset_quantity,omitempty"`
	QuoteAmount   string `json:"quote_amount,omitempty"`
	LimitPrice    string `json:"limit_price,omitempty"`
}

type orderPayload struct {
	ID                string              `json:"id"`
	ClientOrderID     string              `json:"client_order_id"`
	Symbol            string              `json:"symbol"`
	Side              string              `json:"side"`
	Type              string              `json:"type"`
	State             string              `json:"state"`
	FilledAssetQty    string              `json:"filled_asset_quantity"`
	AveragePrice      string              `json:"average_price"`
	UpdatedAt         time.Time           `json:"updated_at"`
	MarketOrderConfig *orderConfigPayload `json:"market_order_config"`
	LimitOrderConfig  *orderConfigPayload `json:"limit_order_config"`
}

// PlaceOrder submits an order. Quantities and prices travel as plain
// decimal strings; the venue rejects scientific notation.
func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderHandle, error) {
	if req.ClientOrderID == "" {
		return nil, fmt.Errorf("client_order_id is required")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = broker.TimeInForceGTC
	}
	body := map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"type":            string(req.Type),
		"time_in_force":   string(tif),
	}
	switch req.Type {
	case broker.OrderTypeLimit:
		if req.LimitPrice == nil {
			return nil, fmt.Errorf("limit price required for limit orders")
		}
		body["limit_order_config"] = orderConfigPayload{
			AssetQuantity: formatDecimal(req.Quantity),
			LimitPrice:    formatDecimal(*req.LimitPrice),
		}
	case broker.OrderTypeMarket:
		body["market_order_config"] = orderConfigPayload{
			AssetQuantity: formatDecimal(req.Quantity),
		}
	default:
		return nil, fmt.Errorf("unsupported order type %q", req.Type)
	}

	var resp orderPayload
	if err := a.client.post(ctx, "/api/v1/crypto/trading/orders/", body, &resp); err != nil {
		return nil, err
	}

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Str("order_id", resp.ID).
		Msg("Crypto order placed")

	return &broker.OrderHandle{
		ID:            resp.ID,
		ClientOrderID: resp.ClientOrderID,
		Status:        mapOrderState(resp.State),
	}, nil
}

// CancelOrder requests cancellation and reports whether the venue
// accepted it.
func (a *Adapter) CancelOrder(ctx context.Context, id string) (bool, error) {
	path := fmt.Sprintf("/api/v1/crypto/trading/orders/%s/cancel/", url.PathEscape(id))
	if err := a.client.post(ctx, path, nil, nil); err != nil {
		return false, err
	}
	log.Info().Str("order_id", id).Msg("Crypto order cancelled")
	return true, nil
}

// GetOrder polls one order's state.
func (a *Adapter) GetOrder(ctx context.Context, id string) (*broker.Order, error) {
	var resp orderPayload
	path := fmt.Sprintf("/api/v1/crypto/trading/orders/%s/", url.PathEscape(id))
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	order := payloadToOrder(resp)
	return &order, nil
}

// ListOrders fetches recent orders, optionally filtered by venue state.
func (a *Adapter) ListOrders(ctx context.Context, state string, limit int) ([]broker.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	path := fmt.Sprintf("/api/v1/crypto/trading/orders/?limit=%d", limit)
	if state != "" {
		path += "&state=" + url.QueryEscape(state)
	}

	var resp struct {
		Results []orderPayload `json:"results"`
	}
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	orders := make([]broker.Order, 0, len(resp.Results))
	for _, p := range resp.Results {
		orders = append(orders, payloadToOrder(p))
	}
	return orders, nil
}

func payloadToOrder(p orderPayload) broker.Order {
	var qty float64
	switch {
	case p.MarketOrderConfig != nil:
		qty = parseFloat(p.MarketOrderConfig.AssetQuantity)
	case p.LimitOrderConfig != nil:
		qty = parseFloat(p.LimitOrderConfig.AssetQuantity)
	}

	return broker.Order{
		ID:             p.ID,
		Symbol:         p.Symbol,
		Side:           broker.Side(p.Side),
		Status:         mapOrderState(p.State),
		Quantity:       qty,
		FilledQuantity: parseFloat(p.FilledAssetQty),
		FilledPrice:    parseOptFloat(p.AveragePrice),
		UpdatedAt:      p.UpdatedAt,
	}
}

func mapOrderState(state string) broker.OrderStatus {
	switch state {
	case "open":
		return broker.OrderStatusOpen
	case "filled":
		return broker.OrderStatusFilled
	case "partially_filled":
		return broker.OrderStatusPartiallyFilled
	case "canceled", "cancelled":
		return broker.OrderStatusCanceled
	case "rejected":
		return broker.OrderStatusRejected
	case "failed":
		return broker.OrderStatusFailed
	default:
		return broker.OrderStatusPending
	}
}

// formatDecimal renders a float as a plain decimal string. The 'f'
// format never emits an exponent.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseOptFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// PairSymbol maps an asset code to its USD trading pair.
func PairSymbol(asset string) string {
	return strings.ToUpper(asset) + "-USD"
}
