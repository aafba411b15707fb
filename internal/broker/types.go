// Package broker defines the venue-neutral trading surface. Concrete
// adapters live in the robinhood and ibkr subpackages; each implements
// only the operations its venue supports.
package broker

import (
	"context"
	"time"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType supported by the platform.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce values the venues accept.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceDay TimeInForce = "day"
)

// OrderStatus is the venue-neutral order state.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusFailed          OrderStatus = "failed"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// Account is the venue account snapshot.
type Account struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	BuyingPower float64 `json:"buying_power"`
	Active      bool    `json:"active"`
}

// Holding is one asset balance. Cost basis and market value are absent
// on venues that do not report them.
type Holding struct {
	Asset             string   `json:"asset"`
	TotalQuantity     float64  `json:"total_quantity"`
	AvailableQuantity float64  `json:"available_quantity"`
	HeldQuantity      float64  `json:"held_quantity"`
	CostBasis         *float64 `json:"cost_basis,omitempty"`
	MarketValue       *float64 `json:"market_value,omitempty"`
}

// Instrument describes a tradable pair and its rounding rules. The
// executor rounds quantities and prices to these increments.
type Instrument struct {
	Symbol            string  `json:"symbol"`
	MinOrderSize      float64 `json:"min_order_size"`
	MaxOrderSize      float64 `json:"max_order_size"`
	PriceIncrement    float64 `json:"price_increment"`
	QuantityIncrement float64 `json:"quantity_increment"`
	Tradable          bool    `json:"tradable"`
}

// Quote is one symbol's current market snapshot. Mark is the venue's
// mark price or the bid/ask midpoint when the venue has none.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mark      float64   `json:"mark"`
	High      *float64  `json:"high,omitempty"`
	Low       *float64  `json:"low,omitempty"`
	Open      *float64  `json:"open,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderRequest is a venue-neutral order submission. StopPrice applies
// to stop and stop_limit orders only.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      float64     `json:"quantity"`
	LimitPrice    *float64    `json:"limit_price,omitempty"`
	StopPrice     *float64    `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	ClientOrderID string      `json:"client_order_id"`
}

// OrderHandle is the immediate acknowledgement of a placed order.
type OrderHandle struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Status        OrderStatus `json:"status"`
}

// Order is the polled state of a placed order.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Status         OrderStatus `json:"status"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filled_quantity"`
	FilledPrice    *float64    `json:"filled_price,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Adapter is the capability surface shared by every venue.
type Adapter interface {
	Account(ctx context.Context) (*Account, error)
	Holdings(ctx context.Context) ([]Holding, error)
	Instruments(ctx context.Context) ([]Instrument, error)
	Quote(ctx context.Context, symbol string) (*Quote, error)
	Quotes(ctx context.Context, symbols []string) ([]Quote, error)
	HistoricalPrices(ctx context.Context, symbol string, days int) ([]float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderHandle, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
}

// OptionRight distinguishes puts from calls.
type OptionRight string

const (
	RightPut  OptionRight = "P"
	RightCall OptionRight = "C"
)

// OptionLeg is one contract in a spread.
type OptionLeg struct {
	ConID      int         `json:"conid"`
	Symbol     string      `json:"symbol"`
	Strike     float64     `json:"strike"`
	Expiration string      `json:"expiration"` // YYYYMMDD
	Right      OptionRight `json:"right"`
	Bid        float64     `json:"bid"`
	Ask        float64     `json:"ask"`
	Delta      float64     `json:"delta"`
}

// PutSpreadCriteria constrains the short put spread search.
type PutSpreadCriteria struct {
	Underlying      string  `json:"underlying"`
	UnderlyingPrice float64 `json:"underlying_price"`
	MinCredit       float64 `json:"min_credit"`
	MaxCredit       float64 `json:"max_credit"`
	SpreadWidth     float64 `json:"spread_width"`
	MaxShortDelta   float64 `json:"max_short_delta"`
}

// PutSpread is a matched short/long put pair.
type PutSpread struct {
	Short      OptionLeg `json:"short"`
	Long       OptionLeg `json:"long"`
	Credit     float64   `json:"credit"`
	Width      float64   `json:"width"`
	MaxRisk    float64   `json:"max_risk"` // per contract, dollars
	Expiration string    `json:"expiration"`
}

// SpreadOrderRequest places a two-leg combo at a net limit price.
type SpreadOrderRequest struct {
	Short      OptionLeg   `json:"short"`
	Long       OptionLeg   `json:"long"`
	Expiration string      `json:"expiration"`
	Right      OptionRight `json:"right"`
	Quantity   int         `json:"quantity"`
	LimitPrice float64     `json:"limit_price"`
}

// OptionsAdapter is the options-capable extension implemented by the
// IBKR flavour only.
type OptionsAdapter interface {
	FindPutSpread(ctx context.Context, criteria PutSpreadCriteria) (*PutSpread, error)
	PlaceSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*OrderHandle, error)
	CancelAllOrders(ctx context.Context, symbol string) (int, error)
}

// BracketOrderRequest is an entry order with both exits attached. The
// exit legs activate only once the parent is accepted.
type BracketOrderRequest struct {
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Quantity      float64     `json:"quantity"`
	EntryPrice    float64     `json:"entry_price"`
	TakeProfit    float64     `json:"take_profit"`
	StopLoss      float64     `json:"stop_loss"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	ClientOrderID string      `json:"client_order_id"`
}

// BracketHandle identifies the three legs of a placed bracket.
type BracketHandle struct {
	ParentID     string `json:"parent_id"`
	TakeProfitID string `json:"take_profit_id"`
	StopLossID   string `json:"stop_loss_id"`
}

// BracketAdapter is implemented by venues that support attached exits.
type BracketAdapter interface {
	PlaceBracketOrder(ctx context.Context, req BracketOrderRequest) (*BracketHandle, error)
}
