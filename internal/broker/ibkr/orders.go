package ibkr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
)

// ErrReadOnly is returned for any placement attempt while the client
// is configured read-only.
var ErrReadOnly = errors.New("read-only mode, order placement blocked")

// usComboConid is the gateway's virtual contract id for US
// multi-leg spreads.
const usComboConid = 28812380

// maxConfirmations bounds the gateway's order confirmation prompts.
const maxConfirmations = 5

// orderTicket is one order in a gateway submission. A combo order
// carries ConIDEx instead of ConID.
type orderTicket struct {
	ConID     int     `json:"conid,omitempty"`
	ConIDEx   string  `json:"conidex,omitempty"`
	COID      string  `json:"cOID,omitempty"`
	ParentID  string  `json:"parentId,omitempty"`
	OrderType string  `json:"orderType"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
	AuxPrice  float64 `json:"auxPrice,omitempty"`
	TIF       string  `json:"tif"`
}

// orderAck is the gateway's reply to a submission. Either OrderID is
// set, or ID names a confirmation prompt that must be answered.
type orderAck struct {
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	LocalID     string   `json:"local_order_id"`
	ID          string   `json:"id"`
	Message     []string `json:"message"`
}

// submitOrders posts tickets and answers the gateway's confirmation
// prompts until real order ids come back.
func (c *Client) submitOrders(ctx context.Context, tickets []orderTicket) ([]orderAck, error) {
	if c.readOnly {
		return nil, ErrReadOnly
	}
	acct, err := c.account(ctx)
	if err != nil {
		return nil, err
	}

	var acks []orderAck
	if err := c.post(ctx, "/iserver/account/"+acct+"/orders", map[string]interface{}{"orders": tickets}, &acks); err != nil {
		return nil, err
	}

	for i := 0; i < maxConfirmations; i++ {
		if len(acks) == 0 || acks[0].ID == "" || acks[0].OrderID != "" {
			break
		}
		log.Debug().Strs("messages", acks[0].Message).Msg("Answering order confirmation prompt")
		var next []orderAck
		if err := c.post(ctx, "/iserver/reply/"+acks[0].ID, map[string]bool{"confirmed": true}, &next); err != nil {
			return nil, err
		}
		acks = next
	}

	if len(acks) == 0 {
		return nil, broker.NewVenueError(venueName, broker.KindMalformed, "gateway returned no order acknowledgement", nil)
	}
	if acks[0].OrderID == "" {
		return nil, broker.NewVenueError(venueName, broker.KindRejection, "order not accepted: "+strings.Join(acks[0].Message, "; "), nil)
	}
	return acks, nil
}

func mapTIF(tif broker.TimeInForce) string {
	switch tif {
	case broker.TimeInForceGTC:
		return "GTC"
	case broker.TimeInForceIOC:
		return "IOC"
	default:
		return "DAY"
	}
}

func mapGatewayStatus(status string) broker.OrderStatus {
	switch strings.ToLower(status) {
	case "submitted", "presubmitted":
		return broker.OrderStatusOpen
	case "filled":
		return broker.OrderStatusFilled
	case "cancelled", "canceled":
		return broker.OrderStatusCanceled
	case "inactive":
		return broker.OrderStatusRejected
	default:
		return broker.OrderStatusPending
	}
}

// stockTicket builds a single-contract ticket from a venue-neutral
// request.
func stockTicket(conid int, req broker.OrderRequest) (orderTicket, error) {
	ticket := orderTicket{
		ConID:    conid,
		COID:     req.ClientOrderID,
		Side:     strings.ToUpper(string(req.Side)),
		Quantity: req.Quantity,
		TIF:      mapTIF(req.TimeInForce),
	}

	switch req.Type {
	case broker.OrderTypeMarket:
		ticket.OrderType = "MKT"
	case broker.OrderTypeLimit:
		if req.LimitPrice == nil {
			return orderTicket{}, fmt.Errorf("limit order for %s requires a limit price", req.Symbol)
		}
		ticket.OrderType = "LMT"
		ticket.Price = *req.LimitPrice
	case broker.OrderTypeStop:
		if req.StopPrice == nil {
			return orderTicket{}, fmt.Errorf("stop order for %s requires a stop price", req.Symbol)
		}
		ticket.OrderType = "STP"
		ticket.AuxPrice = *req.StopPrice
	case broker.OrderTypeStopLimit:
		if req.LimitPrice == nil || req.StopPrice == nil {
			return orderTicket{}, fmt.Errorf("stop limit order for %s requires stop and limit prices", req.Symbol)
		}
		ticket.OrderType = "STOP_LIMIT"
		ticket.Price = *req.LimitPrice
		ticket.AuxPrice = *req.StopPrice
	default:
		return orderTicket{}, fmt.Errorf("unsupported order type %q", req.Type)
	}
	return ticket, nil
}

// openOrder is one row of the gateway's order list.
type openOrder struct {
	OrderID        interface{} `json:"orderId"`
	ConID          interface{} `json:"conid"`
	Ticker         string      `json:"ticker"`
	Side           string      `json:"side"`
	OrderType      string      `json:"orderType"`
	Price          interface{} `json:"price"`
	TotalSize      interface{} `json:"totalSize"`
	FilledQuantity interface{} `json:"filledQuantity"`
	Status         string      `json:"status"`
}

func (c *Client) openOrders(ctx context.Context) ([]openOrder, error) {
	var out struct {
		Orders []openOrder `json:"orders"`
	}
	if err := c.get(ctx, "/iserver/account/orders", &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// OpenOrders lists working orders, optionally filtered by symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	rows, err := c.openOrders(ctx)
	if err != nil {
		return nil, err
	}

	orders := make([]broker.Order, 0, len(rows))
	for _, row := range rows {
		if symbol != "" && !strings.EqualFold(row.Ticker, symbol) {
			continue
		}
		status := mapGatewayStatus(row.Status)
		if status.Terminal() {
			continue
		}
		id, _ := intFromAny(row.OrderID)
		qty, _ := snapshotFloat(row.TotalSize)
		filled, _ := snapshotFloat(row.FilledQuantity)
		side := broker.SideSell
		if strings.EqualFold(row.Side, "BUY") || strings.EqualFold(row.Side, "B") {
			side = broker.SideBuy
		}
		orders = append(orders, broker.Order{
			ID:             strconv.Itoa(id),
			Symbol:         strings.ToUpper(row.Ticker),
			Side:           side,
			Status:         status,
			Quantity:       qty,
			FilledQuantity: filled,
		})
	}
	return orders, nil
}

// OrderStatus polls one order.
func (c *Client) OrderStatus(ctx context.Context, id string) (*broker.Order, error) {
	var out struct {
		OrderStatus  string      `json:"order_status"`
		Symbol       string      `json:"symbol"`
		Side         string      `json:"side"`
		TotalSize    interface{} `json:"total_size"`
		CumFill      interface{} `json:"cum_fill"`
		AveragePrice interface{} `json:"average_price"`
	}
	if err := c.get(ctx, "/iserver/account/order/status/"+id, &out); err != nil {
		return nil, err
	}
	if out.OrderStatus == "" {
		return nil, broker.ErrOrderNotFound
	}

	qty, _ := snapshotFloat(out.TotalSize)
	filled, _ := snapshotFloat(out.CumFill)
	order := &broker.Order{
		ID:             id,
		Symbol:         strings.ToUpper(out.Symbol),
		Side:           broker.SideSell,
		Status:         mapGatewayStatus(out.OrderStatus),
		Quantity:       qty,
		FilledQuantity: filled,
	}
	if strings.EqualFold(out.Side, "BUY") || strings.EqualFold(out.Side, "B") {
		order.Side = broker.SideBuy
	}
	if avg, ok := snapshotFloat(out.AveragePrice); ok && avg > 0 {
		order.FilledPrice = &avg
	}
	return order, nil
}

// CancelOrder cancels one working order.
func (c *Client) CancelOrder(ctx context.Context, id string) (bool, error) {
	acct, err := c.account(ctx)
	if err != nil {
		return false, err
	}
	var out struct {
		Msg   string `json:"msg"`
		Error string `json:"error"`
	}
	if err := c.delete(ctx, "/iserver/account/"+acct+"/order/"+id, &out); err != nil {
		return false, err
	}
	if out.Error != "" {
		return false, broker.NewVenueError(venueName, broker.KindRejection, out.Error, nil)
	}
	log.Info().Str("order_id", id).Msg("Order cancel requested")
	return true, nil
}

// CancelAllOrders cancels every working order, or only those for the
// given symbol, and returns how many cancels were accepted.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	orders, err := c.OpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, order := range orders {
		ok, err := c.CancelOrder(ctx, order.ID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", order.ID).Msg("Cancel failed")
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}
