// Package executor wraps a broker adapter with fill semantics: venue
// precision rounding, limit/market selection, fill waiting with
// timeout, partial-fill handling and the dry-run gate. Rejections are
// results, not errors; errors are reserved for transport failures the
// caller cannot act on.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// Family selects the execution profile: crypto trades fractional
// quantities against the signed venue, equities whole shares with
// optional bracket exits.
type Family string

const (
	FamilyCrypto   Family = "crypto"
	FamilyEquities Family = "equities"
)

// Status of one execution attempt.
type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitted       Status = "submitted"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
)

// Stablecoin pairs are never traded; their quote venues reject limit
// orders and there is no edge in a pegged asset.
var excludedSymbols = map[string]struct{}{
	"USDC-USD": {},
	"USDT-USD": {},
	"DAI-USD":  {},
	"BUSD-USD": {},
	"TUSD-USD": {},
}

// Excluded reports whether a symbol is on the do-not-trade list.
func Excluded(symbol string) bool {
	_, ok := excludedSymbols[symbol]
	return ok
}

// globalDryRun is the process-wide DRY_RUN gate. When set, every
// executor simulates fills regardless of per-agent config, so a single
// environment flag can keep an entire deployment off the venues.
var globalDryRun atomic.Bool

// SetGlobalDryRun flips the process-wide simulation gate. Set once at
// startup from the DRY_RUN environment toggle.
func SetGlobalDryRun(v bool) {
	globalDryRun.Store(v)
}

// GlobalDryRun reports the process-wide simulation gate.
func GlobalDryRun() bool {
	return globalDryRun.Load()
}

// Result is the outcome envelope for one order attempt.
type Result struct {
	Symbol            string           `json:"symbol"`
	Side              broker.Side      `json:"side"`
	OrderType         broker.OrderType `json:"order_type"`
	RequestedQuantity float64          `json:"requested_quantity"`
	FilledQuantity    float64          `json:"filled_quantity"`
	FilledPrice       *float64         `json:"filled_price,omitempty"`
	Status            Status           `json:"status"`
	OrderID           *string          `json:"order_id,omitempty"`
	Message           string           `json:"message"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Config carries the per-agent execution knobs. Zero values take the
// family defaults.
type Config struct {
	Family         Family
	Venue          string // labels order metrics; defaults to the family's venue
	UseLimitOrders bool
	LimitOffsetPct float64
	OrderTimeout   time.Duration
	PollInterval   time.Duration
	MaxSlippagePct float64
	DryRun         bool
	BracketOrders  bool
}

func (c Config) withDefaults() Config {
	if c.Family == "" {
		c.Family = FamilyCrypto
	}
	if c.Venue == "" {
		if c.Family == FamilyEquities {
			c.Venue = "ibkr"
		} else {
			c.Venue = "robinhood"
		}
	}
	if c.LimitOffsetPct == 0 {
		if c.Family == FamilyEquities {
			c.LimitOffsetPct = 0.001
		} else {
			c.LimitOffsetPct = 0.002
		}
	}
	if c.OrderTimeout == 0 {
		if c.Family == FamilyEquities {
			c.OrderTimeout = 30 * time.Second
		} else {
			c.OrderTimeout = 60 * time.Second
		}
	}
	if c.PollInterval == 0 {
		if c.Family == FamilyEquities {
			c.PollInterval = 500 * time.Millisecond
		} else {
			c.PollInterval = 2 * time.Second
		}
	}
	if c.MaxSlippagePct == 0 {
		c.MaxSlippagePct = 0.01
	}
	return c
}

// EntryRequest describes a position entry. StopLoss and TakeProfit are
// consumed by the equities bracket path only.
type EntryRequest struct {
	Symbol       string
	Quantity     float64
	CurrentPrice float64
	LimitPrice   *float64
	StopLoss     float64
	TakeProfit   float64
}

// ExitRequest describes a position exit. A stop_loss reason forces a
// market order regardless of the limit-order setting.
type ExitRequest struct {
	Symbol       string
	Quantity     float64
	CurrentPrice float64
	Reason       string
}

// Executor places and monitors orders through one venue adapter.
type Executor struct {
	adapter broker.Adapter
	cfg     Config
	logger  zerolog.Logger

	mu          sync.RWMutex
	instruments map[string]broker.Instrument
	loaded      bool
}

// New builds an executor over the adapter with family defaults applied.
func New(adapter broker.Adapter, cfg Config) *Executor {
	c := cfg.withDefaults()
	return &Executor{
		adapter:     adapter,
		cfg:         c,
		logger:      log.With().Str("component", "executor").Str("family", string(c.Family)).Logger(),
		instruments: make(map[string]broker.Instrument),
	}
}

// Config returns the effective configuration after defaults.
func (e *Executor) Config() Config { return e.cfg }

// dryRun reports whether this executor simulates, honouring both the
// per-agent flag and the process-wide gate.
func (e *Executor) dryRun() bool {
	return e.cfg.DryRun || globalDryRun.Load()
}

// ensureInstruments populates the precision cache on first use.
func (e *Executor) ensureInstruments(ctx context.Context) {
	e.mu.RLock()
	loaded := e.loaded
	e.mu.RUnlock()
	if loaded {
		return
	}
	if err := e.ReloadInstruments(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Instrument cache load failed, using default precision")
	}
}

// ReloadInstruments refreshes the precision cache from the venue.
// Exposed for the admin reload endpoint.
func (e *Executor) ReloadInstruments(ctx context.Context) error {
	instruments, err := e.adapter.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	e.mu.Lock()
	e.instruments = make(map[string]broker.Instrument, len(instruments))
	for _, in := range instruments {
		e.instruments[in.Symbol] = in
	}
	e.loaded = true
	e.mu.Unlock()
	e.logger.Debug().Int("count", len(instruments)).Msg("Instrument cache loaded")
	return nil
}

// quantityIncrement returns the venue quantity step for a symbol.
func (e *Executor) quantityIncrement(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if in, ok := e.instruments[symbol]; ok && in.QuantityIncrement > 0 {
		return in.QuantityIncrement
	}
	if e.cfg.Family == FamilyEquities {
		return 1
	}
	return 0.00001
}

// priceIncrement returns the venue price step for a symbol.
func (e *Executor) priceIncrement(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if in, ok := e.instruments[symbol]; ok && in.PriceIncrement > 0 {
		return in.PriceIncrement
	}
	return 0.01
}

// QuantityStep exposes the venue quantity increment so position sizing
// rounds with the same step the order path will use.
func (e *Executor) QuantityStep(ctx context.Context, symbol string) float64 {
	e.ensureInstruments(ctx)
	return e.quantityIncrement(symbol)
}

// EnterPosition executes a buy to open a position.
func (e *Executor) EnterPosition(ctx context.Context, req EntryRequest) Result {
	res := Result{
		Symbol:            req.Symbol,
		Side:              broker.SideBuy,
		OrderType:         broker.OrderTypeMarket,
		RequestedQuantity: req.Quantity,
		Status:            StatusPending,
		Timestamp:         time.Now().UTC(),
	}

	if e.cfg.Family == FamilyCrypto && Excluded(req.Symbol) {
		res.Status = StatusRejected
		res.Message = fmt.Sprintf("Symbol %s is excluded from trading (stablecoin)", req.Symbol)
		metrics.RecordOrderRejected(e.cfg.Venue, metrics.RejectExcluded)
		return res
	}

	e.ensureInstruments(ctx)

	quantity := roundDown(req.Quantity, e.quantityIncrement(req.Symbol))
	if quantity <= 0 {
		res.Status = StatusRejected
		res.Message = fmt.Sprintf("Quantity %s rounds to zero with precision %s",
			formatFloat(req.Quantity), formatFloat(e.quantityIncrement(req.Symbol)))
		metrics.RecordOrderRejected(e.cfg.Venue, metrics.RejectBelowMinimum)
		return res
	}

	var limitPrice *float64
	if e.cfg.UseLimitOrders {
		res.OrderType = broker.OrderTypeLimit
		price := req.CurrentPrice * (1 + e.cfg.LimitOffsetPct)
		if req.LimitPrice != nil {
			price = *req.LimitPrice
		}
		price = roundDown(price, e.priceIncrement(req.Symbol))
		limitPrice = &price
	}

	e.logger.Info().
		Str("symbol", req.Symbol).
		Float64("quantity", quantity).
		Str("order_type", string(res.OrderType)).
		Msg("Executing entry")

	if e.dryRun() {
		return e.simulateFill(res, quantity, limitPrice, req.CurrentPrice)
	}

	submitted := time.Now()
	handle, err := e.adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        req.Symbol,
		Side:          broker.SideBuy,
		Type:          res.OrderType,
		Quantity:      quantity,
		LimitPrice:    limitPrice,
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return e.placementFailure(res, err, "Failed to place order")
	}
	res.Status = StatusSubmitted
	res.OrderID = &handle.ID
	metrics.RecordOrderPlaced(e.cfg.Venue, string(broker.SideBuy))

	order := e.waitForFill(ctx, handle.ID)
	switch {
	case order != nil && order.Status == broker.OrderStatusFilled:
		res.Status = StatusFilled
		res.FilledQuantity = order.FilledQuantity
		res.FilledPrice = order.FilledPrice
		res.Message = "Order filled successfully"
		metrics.RecordOrderFilled(e.cfg.Venue, time.Since(submitted).Seconds()*1000)
		e.placeBracket(ctx, req, order.FilledQuantity)
	case order != nil && order.FilledQuantity > 0:
		// Cancel the remainder so stale orders never linger.
		if _, err := e.adapter.CancelOrder(ctx, handle.ID); err != nil {
			e.logger.Warn().Err(err).Str("order_id", handle.ID).Msg("Cancel of partial remainder failed")
		}
		res.Status = StatusPartiallyFilled
		res.FilledQuantity = order.FilledQuantity
		res.FilledPrice = order.FilledPrice
		res.Message = fmt.Sprintf("Partial fill: %s/%s",
			formatFloat(order.FilledQuantity), formatFloat(quantity))
	default:
		if _, err := e.adapter.CancelOrder(ctx, handle.ID); err != nil {
			e.logger.Warn().Err(err).Str("order_id", handle.ID).Msg("Cancel of unfilled order failed")
		}
		res.Status = StatusCancelled
		res.Message = "Order timed out, cancelled"
	}
	return res
}

// ExitPosition executes a sell to close (part of) a position.
func (e *Executor) ExitPosition(ctx context.Context, req ExitRequest) Result {
	res := Result{
		Symbol:            req.Symbol,
		Side:              broker.SideSell,
		OrderType:         broker.OrderTypeMarket,
		RequestedQuantity: req.Quantity,
		Status:            StatusPending,
		Timestamp:         time.Now().UTC(),
	}

	e.ensureInstruments(ctx)

	quantity := roundDown(req.Quantity, e.quantityIncrement(req.Symbol))
	if quantity <= 0 {
		res.Status = StatusRejected
		res.Message = fmt.Sprintf("Quantity %s rounds to zero with precision %s",
			formatFloat(req.Quantity), formatFloat(e.quantityIncrement(req.Symbol)))
		metrics.RecordOrderRejected(e.cfg.Venue, metrics.RejectBelowMinimum)
		return res
	}

	// Stops must hit the market; a resting limit defeats the purpose.
	var limitPrice *float64
	if req.Reason != "stop_loss" && e.cfg.UseLimitOrders && req.CurrentPrice > 0 {
		res.OrderType = broker.OrderTypeLimit
		price := roundDown(req.CurrentPrice*(1-e.cfg.LimitOffsetPct), e.priceIncrement(req.Symbol))
		limitPrice = &price
	}

	e.logger.Info().
		Str("symbol", req.Symbol).
		Float64("quantity", quantity).
		Str("reason", req.Reason).
		Str("order_type", string(res.OrderType)).
		Msg("Executing exit")

	if e.dryRun() {
		return e.simulateFill(res, quantity, limitPrice, req.CurrentPrice)
	}

	submitted := time.Now()
	handle, err := e.adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        req.Symbol,
		Side:          broker.SideSell,
		Type:          res.OrderType,
		Quantity:      quantity,
		LimitPrice:    limitPrice,
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return e.placementFailure(res, err, "Failed to place exit order")
	}
	res.Status = StatusSubmitted
	res.OrderID = &handle.ID
	metrics.RecordOrderPlaced(e.cfg.Venue, string(broker.SideSell))

	order := e.waitForFill(ctx, handle.ID)
	if order != nil && order.Status == broker.OrderStatusFilled {
		res.Status = StatusFilled
		res.FilledQuantity = order.FilledQuantity
		res.FilledPrice = order.FilledPrice
		res.Message = fmt.Sprintf("Exit order filled (%s)", req.Reason)
		metrics.RecordOrderFilled(e.cfg.Venue, time.Since(submitted).Seconds()*1000)
		return res
	}

	// An unfilled limit exit is cancelled and retried at market: being
	// out matters more than the last few basis points.
	if res.OrderType == broker.OrderTypeLimit {
		if _, err := e.adapter.CancelOrder(ctx, handle.ID); err != nil {
			e.logger.Warn().Err(err).Str("order_id", handle.ID).Msg("Cancel of limit exit failed")
		}
		market, err := e.adapter.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:        req.Symbol,
			Side:          broker.SideSell,
			Type:          broker.OrderTypeMarket,
			Quantity:      quantity,
			TimeInForce:   broker.TimeInForceGTC,
			ClientOrderID: uuid.NewString(),
		})
		if err == nil {
			metrics.RecordOrderPlaced(e.cfg.Venue, string(broker.SideSell))
			if filled := e.waitForFill(ctx, market.ID); filled != nil && filled.Status == broker.OrderStatusFilled {
				res.OrderType = broker.OrderTypeMarket
				res.Status = StatusFilled
				res.OrderID = &market.ID
				res.FilledQuantity = filled.FilledQuantity
				res.FilledPrice = filled.FilledPrice
				res.Message = fmt.Sprintf("Exit filled at market (%s)", req.Reason)
				metrics.RecordOrderFilled(e.cfg.Venue, time.Since(submitted).Seconds()*1000)
				return res
			}
		} else {
			e.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("Market retry failed")
		}
	}

	if order != nil && order.FilledQuantity > 0 {
		res.Status = StatusPartiallyFilled
		res.FilledQuantity = order.FilledQuantity
		res.FilledPrice = order.FilledPrice
	} else {
		res.Status = StatusFailed
	}
	res.Message = "Exit order not fully filled"
	return res
}

// placeBracket attaches GTC exits after a filled equities entry. The
// venue-native bracket is preferred; venues without one get two
// resting orders.
func (e *Executor) placeBracket(ctx context.Context, req EntryRequest, filledQty float64) {
	if e.cfg.Family != FamilyEquities || !e.cfg.BracketOrders {
		return
	}
	if req.StopLoss <= 0 || req.TakeProfit <= 0 || filledQty <= 0 {
		return
	}

	stop := roundDown(req.StopLoss, e.priceIncrement(req.Symbol))
	target := roundDown(req.TakeProfit, e.priceIncrement(req.Symbol))

	if _, err := e.adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        req.Symbol,
		Side:          broker.SideSell,
		Type:          broker.OrderTypeStop,
		Quantity:      filledQty,
		StopPrice:     &stop,
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: uuid.NewString(),
	}); err != nil {
		e.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("Stop-loss leg failed")
	}
	if _, err := e.adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        req.Symbol,
		Side:          broker.SideSell,
		Type:          broker.OrderTypeLimit,
		Quantity:      filledQty,
		LimitPrice:    &target,
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: uuid.NewString(),
	}); err != nil {
		e.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("Take-profit leg failed")
	}
	e.logger.Info().
		Str("symbol", req.Symbol).
		Float64("stop_loss", stop).
		Float64("take_profit", target).
		Msg("Exit orders placed")
}

// EnterBracket places an entry with both exits attached in a single
// venue-native bracket. Falls back to EnterPosition plus resting exits
// when the adapter has no bracket support.
func (e *Executor) EnterBracket(ctx context.Context, req EntryRequest) Result {
	br, ok := e.adapter.(broker.BracketAdapter)
	if !ok || !e.cfg.BracketOrders || req.StopLoss <= 0 || req.TakeProfit <= 0 {
		return e.EnterPosition(ctx, req)
	}

	res := Result{
		Symbol:            req.Symbol,
		Side:              broker.SideBuy,
		OrderType:         broker.OrderTypeLimit,
		RequestedQuantity: req.Quantity,
		Status:            StatusPending,
		Timestamp:         time.Now().UTC(),
	}

	e.ensureInstruments(ctx)
	quantity := roundDown(req.Quantity, e.quantityIncrement(req.Symbol))
	if quantity <= 0 {
		res.Status = StatusRejected
		res.Message = fmt.Sprintf("Quantity %s rounds to zero with precision %s",
			formatFloat(req.Quantity), formatFloat(e.quantityIncrement(req.Symbol)))
		metrics.RecordOrderRejected(e.cfg.Venue, metrics.RejectBelowMinimum)
		return res
	}

	entry := req.CurrentPrice * (1 + e.cfg.LimitOffsetPct)
	if req.LimitPrice != nil {
		entry = *req.LimitPrice
	}
	entry = roundDown(entry, e.priceIncrement(req.Symbol))

	if e.dryRun() {
		return e.simulateFill(res, quantity, &entry, req.CurrentPrice)
	}

	submitted := time.Now()
	handle, err := br.PlaceBracketOrder(ctx, broker.BracketOrderRequest{
		Symbol:        req.Symbol,
		Side:          broker.SideBuy,
		Quantity:      quantity,
		EntryPrice:    entry,
		TakeProfit:    roundDown(req.TakeProfit, e.priceIncrement(req.Symbol)),
		StopLoss:      roundDown(req.StopLoss, e.priceIncrement(req.Symbol)),
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return e.placementFailure(res, err, "Failed to place bracket order")
	}
	res.Status = StatusSubmitted
	res.OrderID = &handle.ParentID
	metrics.RecordOrderPlaced(e.cfg.Venue, string(broker.SideBuy))

	order := e.waitForFill(ctx, handle.ParentID)
	switch {
	case order != nil && order.Status == broker.OrderStatusFilled:
		res.Status = StatusFilled
		res.FilledQuantity = order.FilledQuantity
		res.FilledPrice = order.FilledPrice
		res.Message = "Order filled successfully"
		metrics.RecordOrderFilled(e.cfg.Venue, time.Since(submitted).Seconds()*1000)
	case order != nil && order.FilledQuantity > 0:
		res.Status = StatusPartiallyFilled
		res.FilledQuantity = order.FilledQuantity
		res.FilledPrice = order.FilledPrice
		res.Message = fmt.Sprintf("Partial fill: %s/%s",
			formatFloat(order.FilledQuantity), formatFloat(quantity))
	default:
		res.Status = StatusSubmitted
		res.Message = "Bracket entry resting (not yet filled)"
	}
	return res
}

// CancelOrder cancels an open order by venue id.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return e.adapter.CancelOrder(ctx, orderID)
}

// OrderStatus returns the venue's view of an order.
func (e *Executor) OrderStatus(ctx context.Context, orderID string) (*broker.Order, error) {
	return e.adapter.GetOrder(ctx, orderID)
}

// waitForFill polls the order until it is terminal or the configured
// timeout elapses, then returns the last observed state.
func (e *Executor) waitForFill(ctx context.Context, orderID string) *broker.Order {
	deadline := time.Now().Add(e.cfg.OrderTimeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var last *broker.Order
	for time.Now().Before(deadline) {
		order, err := e.adapter.GetOrder(ctx, orderID)
		if err != nil {
			e.logger.Warn().Err(err).Str("order_id", orderID).Msg("Order status check failed")
		} else {
			last = order
			if order.Status.Terminal() {
				return order
			}
			if order.FilledQuantity > 0 {
				e.logger.Debug().
					Str("order_id", orderID).
					Float64("filled", order.FilledQuantity).
					Float64("total", order.Quantity).
					Msg("Partial fill")
			}
		}

		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}
	}

	if order, err := e.adapter.GetOrder(ctx, orderID); err == nil {
		return order
	}
	return last
}

// simulateFill fabricates a filled result for dry-run mode. No adapter
// call is made.
func (e *Executor) simulateFill(res Result, quantity float64, limitPrice *float64, currentPrice float64) Result {
	price := currentPrice
	if limitPrice != nil {
		price = *limitPrice
	}
	id := "dryrun-" + uuid.NewString()
	res.Status = StatusFilled
	res.OrderID = &id
	res.FilledQuantity = quantity
	res.FilledPrice = &price
	res.Message = "Dry run: simulated fill"
	metrics.RecordOrderSimulated(e.cfg.Venue)
	e.logger.Info().
		Str("symbol", res.Symbol).
		Str("side", string(res.Side)).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("Dry run fill simulated")
	return res
}

// placementFailure maps adapter errors onto the result envelope.
func (e *Executor) placementFailure(res Result, err error, msg string) Result {
	res.Status = StatusFailed
	switch {
	case errors.Is(err, broker.ErrNotConfigured):
		res.Message = "Broker not configured"
	case errors.Is(err, broker.ErrNotConnected):
		res.Message = "Broker not connected"
	default:
		res.Message = fmt.Sprintf("%s: %v", msg, err)
	}
	metrics.RecordOrderRejected(e.cfg.Venue, metrics.RejectVenue)
	e.logger.Error().Err(err).Str("symbol", res.Symbol).Msg(msg)
	return res
}

// roundDown floors v to a multiple of inc with exact decimal
// arithmetic, so 0.1234567 at 1e-6 is 0.123456 and never 0.123457.
func roundDown(v, inc float64) float64 {
	if inc <= 0 || v <= 0 {
		if v < 0 {
			return 0
		}
		return v
	}
	d := decimal.NewFromFloat(v)
	step := decimal.NewFromFloat(inc)
	out, _ := d.Div(step).Floor().Mul(step).Float64()
	return out
}

// formatFloat renders a float without scientific notation, matching
// the venue wire format for quantities.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
