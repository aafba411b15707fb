package ibkr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradehawk/internal/broker"
)

func newTestAdapter(t *testing.T, cfg Config, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	adapter, err := New(cfg, broker.NewPassthroughBreakerSet())
	require.NoError(t, err)
	return adapter
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClientRequiresGateway(t *testing.T) {
	_, err := New(Config{}, broker.NewPassthroughBreakerSet())
	assert.ErrorIs(t, err, broker.ErrNotConfigured)
}

func TestConnectChecksGatewaySession(t *testing.T) {
	authenticated := true
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/iserver/auth/status":
			writeJSON(t, w, AuthStatus{Authenticated: authenticated, Connected: true})
		case r.URL.Path == "/portfolio/accounts":
			writeJSON(t, w, []map[string]string{{"id": "DU999"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{}, handler)

	require.NoError(t, adapter.Connect(context.Background()))
	assert.True(t, adapter.Connected())

	adapter.Disconnect()
	assert.False(t, adapter.Connected())

	authenticated = false
	err := adapter.Connect(context.Background())
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestSnapshotFloat(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want float64
		ok   bool
	}{
		{"plain number", 512.5, 512.5, true},
		{"numeric string", "512.5", 512.5, true},
		{"close prefixed", "C511.25", 511.25, true},
		{"halted prefixed", "H510.00", 510.0, true},
		{"negative delta", "-0.12", -0.12, true},
		{"thousands suffix", "1.2K", 1200, true},
		{"millions suffix", "3.4M", 3.4e6, true},
		{"empty string", "", 0, false},
		{"letters only", "N/A", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := snapshotFloat(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestStockPriceFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]interface{}
		want float64
	}{
		{"mark preferred", map[string]interface{}{"7635": 512.5, "84": "500", "86": "501", "31": "499"}, 512.5},
		{"midpoint when no mark", map[string]interface{}{"84": "512.0", "86": "513.0", "31": "499"}, 512.5},
		{"last when no quotes", map[string]interface{}{"31": "C511.25"}, 511.25},
		{"prior close as last resort", map[string]interface{}{"7741": 509.0}, 509.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch {
				case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
					writeJSON(t, w, []map[string]interface{}{{"conid": 265598, "symbol": "QQQ"}})
				case strings.HasPrefix(r.URL.Path, "/iserver/marketdata/snapshot"):
					row := map[string]interface{}{"conid": 265598}
					for k, v := range tt.row {
						row[k] = v
					}
					writeJSON(t, w, []map[string]interface{}{row})
				default:
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
			})
			adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

			price, err := adapter.StockPrice(context.Background(), "QQQ")
			require.NoError(t, err)
			assert.InDelta(t, tt.want, price, 1e-9)
		})
	}
}

func TestStockPriceRetriesSparseSnapshots(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 265598, "symbol": "QQQ"}})
		case strings.HasPrefix(r.URL.Path, "/iserver/marketdata/snapshot"):
			if calls.Add(1) == 1 {
				writeJSON(t, w, []map[string]interface{}{{"conid": 265598}})
				return
			}
			writeJSON(t, w, []map[string]interface{}{{"conid": 265598, "7635": 600.0}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	price, err := adapter.StockPrice(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.InDelta(t, 600.0, price, 1e-9)
	assert.Equal(t, int64(2), calls.Load())
}

func TestHistoricalPricesFiltersBadCloses(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		case strings.HasPrefix(r.URL.Path, "/iserver/marketdata/history"):
			assert.Equal(t, "30d", r.URL.Query().Get("period"))
			assert.Equal(t, "1d", r.URL.Query().Get("bar"))
			writeJSON(t, w, map[string]interface{}{
				"data": []map[string]float64{
					{"c": 100.0}, {"c": 0}, {"c": 101.5},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	closes, err := adapter.HistoricalPrices(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, []float64{100.0, 101.5}, closes)
}

func TestAccountSummaryMapsMarginFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/DU123/summary":
			writeJSON(t, w, map[string]map[string]float64{
				"netliquidation":  {"amount": 25000},
				"buyingpower":     {"amount": 100000},
				"availablefunds":  {"amount": 24000},
				"excessliquidity": {"amount": 23000},
				"maintmarginreq":  {"amount": 2000},
				"unrealizedpnl":   {"amount": 150.5},
				"realizedpnl":     {"amount": -75.25},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	summary, err := adapter.AccountSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DU123", summary.AccountID)
	assert.InDelta(t, 25000.0, summary.NetLiquidation, 1e-9)
	assert.InDelta(t, 100000.0, summary.BuyingPower, 1e-9)
	assert.InDelta(t, 24000.0, summary.AvailableFunds, 1e-9)
	assert.InDelta(t, 23000.0, summary.ExcessLiquidity, 1e-9)
	assert.InDelta(t, 2000.0, summary.MaintenanceMargin, 1e-9)
	assert.InDelta(t, 150.5, summary.UnrealizedPnL, 1e-9)
	assert.InDelta(t, -75.25, summary.RealizedPnL, 1e-9)
}

func TestAccountResolvesFirstGatewayAccount(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/accounts":
			writeJSON(t, w, []map[string]string{{"id": "DU999"}, {"id": "DU000"}})
		case "/portfolio/DU999/summary":
			writeJSON(t, w, map[string]map[string]float64{
				"netliquidation": {"amount": 1000},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{}, handler)

	summary, err := adapter.AccountSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DU999", summary.AccountID)
}

func TestPositionsSkipFlatLines(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/DU123/positions/0":
			writeJSON(t, w, []map[string]interface{}{
				{"conid": 1, "ticker": "qqq", "position": 10.0, "avgCost": 500.0, "mktValue": 5120.0, "unrealizedPnl": 120.0, "assetClass": "STK"},
				{"conid": 2, "ticker": "AAPL", "position": 0.0},
				{"conid": 3, "contractDesc": "QQQ JAN26 560 P", "position": -1.0, "avgCost": 65.0, "assetClass": "OPT"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	positions, err := adapter.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "QQQ", positions[0].Symbol)
	assert.InDelta(t, 10.0, positions[0].Quantity, 1e-9)
	assert.Equal(t, "QQQ JAN26 560 P", positions[1].Symbol)
	assert.InDelta(t, -1.0, positions[1].Quantity, 1e-9)
}

func TestQuotesSkipUnresolvableSymbols(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			if r.URL.Query().Get("symbol") == "BAD" {
				writeJSON(t, w, []map[string]interface{}{})
				return
			}
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		case strings.HasPrefix(r.URL.Path, "/iserver/marketdata/snapshot"):
			assert.Equal(t, "7", r.URL.Query().Get("conids"))
			writeJSON(t, w, []map[string]interface{}{
				{"conid": 7, "84": "201.5", "86": "202.5", "70": 205.0, "71": 199.0, "87": "1.2M"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	quotes, err := adapter.Quotes(context.Background(), []string{"BAD", "AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.InDelta(t, 201.5, quotes[0].Bid, 1e-9)
	assert.InDelta(t, 202.0, quotes[0].Mark, 1e-9)
	require.NotNil(t, quotes[0].Volume)
	assert.InDelta(t, 1.2e6, *quotes[0].Volume, 1e-9)
}

func TestPlaceStockOrderBuildsTicket(t *testing.T) {
	var captured map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		case r.URL.Path == "/iserver/account/DU123/orders":
			var body struct {
				Orders []map[string]interface{} `json:"orders"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Orders, 1)
			captured = body.Orders[0]
			writeJSON(t, w, []map[string]interface{}{{"order_id": "321", "order_status": "Submitted"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	limit := 199.5
	handle, err := adapter.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:        "AAPL",
		Side:          broker.SideBuy,
		Type:          broker.OrderTypeLimit,
		Quantity:      10,
		LimitPrice:    &limit,
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: "coid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "321", handle.ID)
	assert.Equal(t, broker.OrderStatusOpen, handle.Status)

	assert.Equal(t, float64(7), captured["conid"])
	assert.Equal(t, "LMT", captured["orderType"])
	assert.Equal(t, "BUY", captured["side"])
	assert.Equal(t, 199.5, captured["price"])
	assert.Equal(t, "GTC", captured["tif"])
	assert.Equal(t, "coid-1", captured["cOID"])
}

func TestPlaceStockOrderValidatesPrices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/iserver/secdef/search") {
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
			return
		}
		t.Fatalf("order endpoint should not be hit, got %s", r.URL.Path)
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	_, err := adapter.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:   "AAPL",
		Side:     broker.SideBuy,
		Type:     broker.OrderTypeLimit,
		Quantity: 10,
	})
	assert.ErrorContains(t, err, "limit price")

	_, err = adapter.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:   "AAPL",
		Side:     broker.SideSell,
		Type:     broker.OrderTypeStop,
		Quantity: 10,
	})
	assert.ErrorContains(t, err, "stop price")
}

func TestPlaceOrderAnswersConfirmationPrompt(t *testing.T) {
	var replies atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		case r.URL.Path == "/iserver/account/DU123/orders":
			writeJSON(t, w, []map[string]interface{}{{"id": "prompt-1", "message": []string{"market data warning"}}})
		case r.URL.Path == "/iserver/reply/prompt-1":
			replies.Add(1)
			var body map[string]bool
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.True(t, body["confirmed"])
			writeJSON(t, w, []map[string]interface{}{{"order_id": "555", "order_status": "PreSubmitted"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	handle, err := adapter.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:   "AAPL",
		Side:     broker.SideBuy,
		Type:     broker.OrderTypeMarket,
		Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "555", handle.ID)
	assert.Equal(t, broker.OrderStatusOpen, handle.Status)
	assert.Equal(t, int64(1), replies.Load())
}

func TestPlaceOrderRejectsUnresolvedPrompt(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		case r.URL.Path == "/iserver/account/DU123/orders", strings.HasPrefix(r.URL.Path, "/iserver/reply/"):
			writeJSON(t, w, []map[string]interface{}{{"id": "prompt-again", "message": []string{"still asking"}}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	_, err := adapter.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:   "AAPL",
		Side:     broker.SideBuy,
		Type:     broker.OrderTypeMarket,
		Quantity: 5,
	})
	var venueErr *broker.VenueError
	require.ErrorAs(t, err, &venueErr)
	assert.Equal(t, broker.KindRejection, venueErr.Kind)
}

func TestPlaceBracketOrderTickets(t *testing.T) {
	var captured []map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		case r.URL.Path == "/iserver/account/DU123/orders":
			var body struct {
				Orders []map[string]interface{} `json:"orders"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			captured = body.Orders
			writeJSON(t, w, []map[string]interface{}{
				{"order_id": "100", "order_status": "Submitted"},
				{"order_id": "101", "order_status": "PreSubmitted"},
				{"order_id": "102", "order_status": "PreSubmitted"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	handle, err := adapter.PlaceBracketOrder(context.Background(), broker.BracketOrderRequest{
		Symbol:        "AAPL",
		Side:          broker.SideBuy,
		Quantity:      10,
		EntryPrice:    200.0,
		TakeProfit:    216.0,
		StopLoss:      184.0,
		TimeInForce:   broker.TimeInForceGTC,
		ClientOrderID: "bracket-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "100", handle.ParentID)
	assert.Equal(t, "101", handle.TakeProfitID)
	assert.Equal(t, "102", handle.StopLossID)

	require.Len(t, captured, 3)
	parent, takeProfit, stopLoss := captured[0], captured[1], captured[2]

	assert.Equal(t, "bracket-1", parent["cOID"])
	assert.Equal(t, "LMT", parent["orderType"])
	assert.Equal(t, "BUY", parent["side"])
	assert.Equal(t, 200.0, parent["price"])

	assert.Equal(t, "bracket-1", takeProfit["parentId"])
	assert.Equal(t, "LMT", takeProfit["orderType"])
	assert.Equal(t, "SELL", takeProfit["side"])
	assert.Equal(t, 216.0, takeProfit["price"])

	assert.Equal(t, "bracket-1", stopLoss["parentId"])
	assert.Equal(t, "STP", stopLoss["orderType"])
	assert.Equal(t, "SELL", stopLoss["side"])
	assert.Equal(t, 184.0, stopLoss["auxPrice"])
}

func TestReadOnlyBlocksPlacement(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 7, "symbol": "AAPL"}})
		default:
			t.Fatalf("placement should be blocked before hitting %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123", ReadOnly: true}, handler)

	_, err := adapter.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = adapter.PlaceBracketOrder(context.Background(), broker.BracketOrderRequest{
		Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1, EntryPrice: 1, TakeProfit: 2, StopLoss: 0.5,
	})
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = adapter.PlaceSpreadOrder(context.Background(), broker.SpreadOrderRequest{
		Short: broker.OptionLeg{ConID: 1}, Long: broker.OptionLeg{ConID: 2}, Quantity: 1, LimitPrice: 0.6,
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestGetOrderMapsGatewayStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iserver/account/order/status/42":
			writeJSON(t, w, map[string]interface{}{
				"order_status":  "Filled",
				"symbol":        "QQQ",
				"side":          "B",
				"total_size":    "10",
				"cum_fill":      "10",
				"average_price": "512.25",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	order, err := adapter.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, broker.OrderStatusFilled, order.Status)
	assert.Equal(t, "QQQ", order.Symbol)
	assert.Equal(t, broker.SideBuy, order.Side)
	assert.InDelta(t, 10.0, order.Quantity, 1e-9)
	assert.InDelta(t, 10.0, order.FilledQuantity, 1e-9)
	require.NotNil(t, order.FilledPrice)
	assert.InDelta(t, 512.25, *order.FilledPrice, 1e-9)
}

func TestCancelAllOrdersFiltersSymbolAndTerminalStates(t *testing.T) {
	var deleted []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/iserver/account/orders":
			writeJSON(t, w, map[string]interface{}{
				"orders": []map[string]interface{}{
					{"orderId": 101, "ticker": "QQQ", "side": "BUY", "status": "Submitted", "totalSize": 1.0},
					{"orderId": 102, "ticker": "AAPL", "side": "BUY", "status": "Submitted", "totalSize": 5.0},
					{"orderId": 103, "ticker": "QQQ", "side": "SELL", "status": "Filled", "totalSize": 1.0},
				},
			})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/iserver/account/DU123/order/"):
			deleted = append(deleted, strings.TrimPrefix(r.URL.Path, "/iserver/account/DU123/order/"))
			writeJSON(t, w, map[string]string{"msg": "Request was submitted"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	count, err := adapter.CancelAllOrders(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"101"}, deleted)
}

func TestNextFridayExpiration(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"tuesday", time.Date(2026, time.January, 6, 12, 0, 0, 0, time.UTC), "20260109"},
		{"friday morning", time.Date(2026, time.January, 9, 10, 0, 0, 0, time.UTC), "20260109"},
		{"friday after close", time.Date(2026, time.January, 9, 16, 30, 0, 0, time.UTC), "20260116"},
		{"saturday", time.Date(2026, time.January, 10, 9, 0, 0, 0, time.UTC), "20260116"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextFridayExpiration(tt.now)
			assert.Equal(t, tt.want, got.Format("20060102"))
		})
	}
}

// putSpreadHandler serves a synthetic JAN26 chain where strike 590 has
// an acceptable credit but too much delta and 585 is the first clean
// short with a 560 long available.
func putSpreadHandler(t *testing.T) http.Handler {
	quotes := map[float64][3]float64{
		595: {1.45, 1.55, -0.15},
		590: {0.60, 0.70, -0.20},
		585: {0.60, 0.70, -0.10},
		560: {0.18, 0.22, -0.03},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 10001, "symbol": "QQQ"}})
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/info"):
			assert.Equal(t, "JAN26", r.URL.Query().Get("month"))
			assert.Equal(t, "P", r.URL.Query().Get("right"))
			strike, err := strconv.ParseFloat(r.URL.Query().Get("strike"), 64)
			require.NoError(t, err)
			writeJSON(t, w, []map[string]interface{}{
				{"conid": int(strike), "maturityDate": "20260109", "strike": strike, "right": "P"},
			})
		case strings.HasPrefix(r.URL.Path, "/iserver/marketdata/snapshot"):
			var rows []map[string]interface{}
			for _, raw := range strings.Split(r.URL.Query().Get("conids"), ",") {
				conid, err := strconv.Atoi(raw)
				require.NoError(t, err)
				q := quotes[float64(conid)]
				rows = append(rows, map[string]interface{}{
					"conid": conid,
					"84":    q[0],
					"86":    q[1],
					"7308":  fmt.Sprintf("%v", q[2]),
				})
			}
			writeJSON(t, w, rows)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
}

func TestFindPutSpreadWalksStrikesBelowUnderlying(t *testing.T) {
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, putSpreadHandler(t))
	adapter.now = func() time.Time {
		return time.Date(2026, time.January, 6, 17, 0, 0, 0, time.UTC)
	}

	spread, err := adapter.FindPutSpread(context.Background(), broker.PutSpreadCriteria{
		Underlying:      "QQQ",
		UnderlyingPrice: 600,
		MinCredit:       0.55,
		MaxCredit:       0.70,
		SpreadWidth:     25,
		MaxShortDelta:   0.12,
	})
	require.NoError(t, err)

	assert.InDelta(t, 585.0, spread.Short.Strike, 1e-9)
	assert.InDelta(t, 560.0, spread.Long.Strike, 1e-9)
	assert.InDelta(t, 0.45, spread.Credit, 1e-9)
	assert.InDelta(t, 2455.0, spread.MaxRisk, 1e-6)
	assert.Equal(t, "20260109", spread.Expiration)
	assert.InDelta(t, -0.10, spread.Short.Delta, 1e-9)
}

func TestFindPutSpreadNoMatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/search"):
			writeJSON(t, w, []map[string]interface{}{{"conid": 10001, "symbol": "QQQ"}})
		case strings.HasPrefix(r.URL.Path, "/iserver/secdef/info"):
			writeJSON(t, w, []map[string]interface{}{})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	_, err := adapter.FindPutSpread(context.Background(), broker.PutSpreadCriteria{
		Underlying:      "QQQ",
		UnderlyingPrice: 600,
		MinCredit:       0.55,
		MaxCredit:       0.70,
		SpreadWidth:     25,
		MaxShortDelta:   0.12,
	})
	assert.ErrorIs(t, err, ErrNoSpread)
}

func TestPlaceSpreadOrderBuildsCombo(t *testing.T) {
	var captured map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iserver/account/DU123/orders":
			var body struct {
				Orders []map[string]interface{} `json:"orders"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Orders, 1)
			captured = body.Orders[0]
			writeJSON(t, w, []map[string]interface{}{{"order_id": "987", "order_status": "Submitted"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	adapter := newTestAdapter(t, Config{AccountID: "DU123"}, handler)

	handle, err := adapter.PlaceSpreadOrder(context.Background(), broker.SpreadOrderRequest{
		Short:      broker.OptionLeg{ConID: 111, Strike: 585},
		Long:       broker.OptionLeg{ConID: 222, Strike: 560},
		Expiration: "20260109",
		Right:      broker.RightPut,
		Quantity:   2,
		LimitPrice: 0.65,
	})
	require.NoError(t, err)
	assert.Equal(t, "987", handle.ID)
	assert.Equal(t, broker.OrderStatusOpen, handle.Status)

	assert.Equal(t, "28812380;;;111/-1,222/1", captured["conidex"])
	assert.Equal(t, "LMT", captured["orderType"])
	assert.Equal(t, "BUY", captured["side"])
	assert.Equal(t, -0.65, captured["price"])
	assert.Equal(t, "DAY", captured["tif"])
	assert.Equal(t, 2.0, captured["quantity"])
}
