package ibkr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
)

// ErrNoSpread is returned when no put spread satisfies the criteria.
var ErrNoSpread = errors.New("no put spread matches criteria")

// Adapter exposes the gateway through the venue-neutral surface plus
// the options and bracket extensions.
type Adapter struct {
	client *Client
	loc    *time.Location
	now    func() time.Time
}

// New builds the adapter. Expiration math runs in the exchange
// timezone regardless of where the process is deployed.
func New(cfg Config, breakers *broker.BreakerSet) (*Adapter, error) {
	client, err := NewClient(cfg, breakers)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading exchange timezone: %w", err)
	}
	return &Adapter{client: client, loc: loc, now: time.Now}, nil
}

// Connect verifies the gateway session.
func (a *Adapter) Connect(ctx context.Context) error { return a.client.Connect(ctx) }

// Disconnect drops the local session flag.
func (a *Adapter) Disconnect() { a.client.Disconnect() }

// Connected reports the local session flag.
func (a *Adapter) Connected() bool { return a.client.Connected() }

// ReadOnly reports whether placement is blocked.
func (a *Adapter) ReadOnly() bool { return a.client.ReadOnly() }

// GatewayStatus is the session report surfaced over the API.
type GatewayStatus struct {
	Connected     bool   `json:"connected"`
	Authenticated bool   `json:"authenticated"`
	Competing     bool   `json:"competing"`
	AccountID     string `json:"account_id"`
	ReadOnly      bool   `json:"read_only"`
}

// Status asks the gateway for its session state.
func (a *Adapter) Status(ctx context.Context) (*GatewayStatus, error) {
	var auth AuthStatus
	if err := a.client.post(ctx, "/iserver/auth/status", nil, &auth); err != nil {
		return nil, err
	}
	status := &GatewayStatus{
		Connected:     auth.Connected,
		Authenticated: auth.Authenticated,
		Competing:     auth.Competing,
		ReadOnly:      a.client.ReadOnly(),
	}
	if auth.Authenticated {
		if acct, err := a.client.account(ctx); err == nil {
			status.AccountID = acct
		}
	}
	return status, nil
}

// AccountSummary holds the margin figures position sizing runs on.
type AccountSummary struct {
	AccountID         string  `json:"account_id"`
	NetLiquidation    float64 `json:"net_liquidation"`
	BuyingPower       float64 `json:"buying_power"`
	AvailableFunds    float64 `json:"available_funds"`
	ExcessLiquidity   float64 `json:"excess_liquidity"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
	RealizedPnL       float64 `json:"realized_pnl"`
}

// AccountSummary fetches the account's margin snapshot.
func (a *Adapter) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	acct, err := a.client.account(ctx)
	if err != nil {
		return nil, err
	}

	var raw map[string]struct {
		Amount float64 `json:"amount"`
	}
	if err := a.client.get(ctx, "/portfolio/"+acct+"/summary", &raw); err != nil {
		return nil, fmt.Errorf("fetching account summary: %w", err)
	}

	return &AccountSummary{
		AccountID:         acct,
		NetLiquidation:    raw["netliquidation"].Amount,
		BuyingPower:       raw["buyingpower"].Amount,
		AvailableFunds:    raw["availablefunds"].Amount,
		ExcessLiquidity:   raw["excessliquidity"].Amount,
		MaintenanceMargin: raw["maintmarginreq"].Amount,
		UnrealizedPnL:     raw["unrealizedpnl"].Amount,
		RealizedPnL:       raw["realizedpnl"].Amount,
	}, nil
}

// Position is one open portfolio line.
type Position struct {
	ConID         int     `json:"conid"`
	Symbol        string  `json:"symbol"`
	AssetClass    string  `json:"asset_class"`
	Quantity      float64 `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Positions lists non-flat portfolio lines.
func (a *Adapter) Positions(ctx context.Context) ([]Position, error) {
	acct, err := a.client.account(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ConID         interface{} `json:"conid"`
		ContractDesc  string      `json:"contractDesc"`
		Ticker        string      `json:"ticker"`
		Position      float64     `json:"position"`
		AvgCost       float64     `json:"avgCost"`
		MktValue      float64     `json:"mktValue"`
		UnrealizedPnL float64     `json:"unrealizedPnl"`
		AssetClass    string      `json:"assetClass"`
	}
	if err := a.client.get(ctx, "/portfolio/"+acct+"/positions/0", &rows); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		if row.Position == 0 {
			continue
		}
		symbol := row.Ticker
		if symbol == "" {
			symbol = row.ContractDesc
		}
		conid, _ := intFromAny(row.ConID)
		positions = append(positions, Position{
			ConID:         conid,
			Symbol:        strings.ToUpper(symbol),
			AssetClass:    row.AssetClass,
			Quantity:      row.Position,
			AvgCost:       row.AvgCost,
			MarketValue:   row.MktValue,
			UnrealizedPnL: row.UnrealizedPnL,
		})
	}
	return positions, nil
}

// Account implements broker.Adapter.
func (a *Adapter) Account(ctx context.Context) (*broker.Account, error) {
	summary, err := a.AccountSummary(ctx)
	if err != nil {
		return nil, err
	}
	account := &broker.Account{
		ID:          summary.AccountID,
		Status:      "disconnected",
		BuyingPower: summary.BuyingPower,
	}
	if a.client.Connected() {
		account.Status = "active"
		account.Active = true
	}
	return account, nil
}

// Holdings implements broker.Adapter over the portfolio lines.
func (a *Adapter) Holdings(ctx context.Context) ([]broker.Holding, error) {
	positions, err := a.Positions(ctx)
	if err != nil {
		return nil, err
	}
	holdings := make([]broker.Holding, 0, len(positions))
	for _, p := range positions {
		avgCost := p.AvgCost
		marketValue := p.MarketValue
		holdings = append(holdings, broker.Holding{
			Asset:             p.Symbol,
			TotalQuantity:     p.Quantity,
			AvailableQuantity: p.Quantity,
			CostBasis:         &avgCost,
			MarketValue:       &marketValue,
		})
	}
	return holdings, nil
}

// Instruments is not served by the gateway; listed equities trade in
// whole shares at cent increments.
func (a *Adapter) Instruments(ctx context.Context) ([]broker.Instrument, error) {
	return nil, broker.ErrNotSupported
}

// Quote implements broker.Adapter.
func (a *Adapter) Quote(ctx context.Context, symbol string) (*broker.Quote, error) {
	conid, err := a.client.ContractID(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snaps, err := a.client.snapshots(ctx, []int{conid}, quoteFields)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, broker.NewVenueError(venueName, broker.KindMalformed, fmt.Sprintf("no quote for %s", symbol), nil)
	}
	quote := quoteFromSnapshot(strings.ToUpper(symbol), snaps[0])
	return &quote, nil
}

// Quotes fetches one snapshot for every resolvable symbol. Symbols
// that fail to resolve are logged and skipped so one bad ticker does
// not sink the batch.
func (a *Adapter) Quotes(ctx context.Context, symbols []string) ([]broker.Quote, error) {
	conids := make([]int, 0, len(symbols))
	bySymbol := make(map[int]string, len(symbols))
	for _, symbol := range symbols {
		conid, err := a.client.ContractID(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Contract resolution failed, skipping symbol")
			continue
		}
		conids = append(conids, conid)
		bySymbol[conid] = strings.ToUpper(symbol)
	}
	if len(conids) == 0 {
		return nil, nil
	}

	snaps, err := a.client.snapshots(ctx, conids, quoteFields)
	if err != nil {
		return nil, err
	}

	quotes := make([]broker.Quote, 0, len(snaps))
	for _, s := range snaps {
		symbol, ok := bySymbol[s.conid()]
		if !ok {
			continue
		}
		quotes = append(quotes, quoteFromSnapshot(symbol, s))
	}
	return quotes, nil
}

func quoteFromSnapshot(symbol string, s snapshot) broker.Quote {
	bid, _ := s.float(fieldBid)
	ask, _ := s.float(fieldAsk)
	quote := broker.Quote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now().UTC(),
	}
	if px, ok := priceFromSnapshot(s); ok {
		quote.Mark = px
	}
	if high, ok := s.float(fieldHigh); ok {
		quote.High = &high
	}
	if low, ok := s.float(fieldLow); ok {
		quote.Low = &low
	}
	if open, ok := s.float(fieldOpen); ok {
		quote.Open = &open
	}
	if volume, ok := s.float(fieldVolume); ok {
		quote.Volume = &volume
	}
	return quote
}

// HistoricalPrices returns daily closes oldest first.
func (a *Adapter) HistoricalPrices(ctx context.Context, symbol string, days int) ([]float64, error) {
	conid, err := a.client.ContractID(ctx, symbol)
	if err != nil {
		return nil, err
	}
	bars, err := a.client.history(ctx, conid, fmt.Sprintf("%dd", days), "1d")
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", symbol, err)
	}
	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		if bar.Close > 0 {
			closes = append(closes, bar.Close)
		}
	}
	return closes, nil
}

// StockPrice forwards the fallback-chain price lookup.
func (a *Adapter) StockPrice(ctx context.Context, symbol string) (float64, error) {
	return a.client.StockPrice(ctx, symbol)
}

// PlaceOrder implements broker.Adapter for listed equities.
func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderHandle, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be positive, got %v", req.Quantity)
	}
	conid, err := a.client.ContractID(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	ticket, err := stockTicket(conid, req)
	if err != nil {
		return nil, err
	}

	acks, err := a.client.submitOrders(ctx, []orderTicket{ticket})
	if err != nil {
		return nil, err
	}
	ack := acks[0]
	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Float64("quantity", req.Quantity).
		Str("order_id", ack.OrderID).
		Msg("Stock order placed")
	return &broker.OrderHandle{
		ID:            ack.OrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        mapGatewayStatus(ack.OrderStatus),
	}, nil
}

// PlaceBracketOrder submits an entry limit with attached take-profit
// and stop legs. The gateway holds the children until the parent is
// accepted.
func (a *Adapter) PlaceBracketOrder(ctx context.Context, req broker.BracketOrderRequest) (*broker.BracketHandle, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("bracket quantity must be positive, got %v", req.Quantity)
	}
	conid, err := a.client.ContractID(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	coid := req.ClientOrderID
	if coid == "" {
		coid = uuid.NewString()
	}
	side := strings.ToUpper(string(req.Side))
	exitSide := "SELL"
	if req.Side == broker.SideSell {
		exitSide = "BUY"
	}
	tif := mapTIF(req.TimeInForce)

	tickets := []orderTicket{
		{ConID: conid, COID: coid, OrderType: "LMT", Side: side, Quantity: req.Quantity, Price: req.EntryPrice, TIF: tif},
		{ConID: conid, ParentID: coid, OrderType: "LMT", Side: exitSide, Quantity: req.Quantity, Price: req.TakeProfit, TIF: tif},
		{ConID: conid, ParentID: coid, OrderType: "STP", Side: exitSide, Quantity: req.Quantity, AuxPrice: req.StopLoss, TIF: tif},
	}
	acks, err := a.client.submitOrders(ctx, tickets)
	if err != nil {
		return nil, err
	}

	handle := &broker.BracketHandle{ParentID: acks[0].OrderID}
	if len(acks) > 1 {
		handle.TakeProfitID = acks[1].OrderID
	}
	if len(acks) > 2 {
		handle.StopLossID = acks[2].OrderID
	}
	log.Info().
		Str("symbol", req.Symbol).
		Float64("entry", req.EntryPrice).
		Float64("take_profit", req.TakeProfit).
		Float64("stop_loss", req.StopLoss).
		Str("parent_id", handle.ParentID).
		Msg("Bracket order placed")
	return handle, nil
}

// CancelOrder implements broker.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, id string) (bool, error) {
	return a.client.CancelOrder(ctx, id)
}

// GetOrder implements broker.Adapter.
func (a *Adapter) GetOrder(ctx context.Context, id string) (*broker.Order, error) {
	return a.client.OrderStatus(ctx, id)
}

// OpenOrders lists working orders, optionally filtered by symbol.
func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	return a.client.OpenOrders(ctx, symbol)
}

// CancelAllOrders implements broker.OptionsAdapter.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	return a.client.CancelAllOrders(ctx, symbol)
}

// OptionChain returns quoted legs around the current underlying price.
// expiration is YYYYMMDD and defaults to the nearest Friday; an empty
// right fetches both sides of the chain.
func (a *Adapter) OptionChain(ctx context.Context, underlying, expiration string, right broker.OptionRight) ([]broker.OptionLeg, error) {
	if underlying == "" {
		return nil, errors.New("option chain requires an underlying")
	}

	exp := nextFridayExpiration(a.now().In(a.loc))
	if expiration != "" {
		parsed, err := time.ParseInLocation("20060102", expiration, a.loc)
		if err != nil {
			return nil, fmt.Errorf("parsing expiration %q: %w", expiration, err)
		}
		exp = parsed
	}

	price, err := a.client.StockPrice(ctx, underlying)
	if err != nil {
		return nil, err
	}

	strikes := make([]float64, 0, 41)
	for i := -20; i <= 20; i++ {
		strike := math.Round(price) + float64(i)
		if strike <= 0 {
			continue
		}
		strikes = append(strikes, strike)
	}

	rights := []broker.OptionRight{right}
	if right == "" {
		rights = []broker.OptionRight{broker.RightCall, broker.RightPut}
	}

	var legs []broker.OptionLeg
	for _, r := range rights {
		side, err := a.client.OptionChain(ctx, underlying, exp, strikes, r)
		if err != nil {
			return nil, err
		}
		legs = append(legs, side...)
	}
	sort.Slice(legs, func(i, j int) bool {
		if legs[i].Strike != legs[j].Strike {
			return legs[i].Strike < legs[j].Strike
		}
		return legs[i].Right < legs[j].Right
	})
	return legs, nil
}

// FindPutSpread walks strikes below the underlying for the nearest
// Friday expiration and returns the first short/long pair whose short
// leg trades inside the credit band at an acceptable delta.
func (a *Adapter) FindPutSpread(ctx context.Context, criteria broker.PutSpreadCriteria) (*broker.PutSpread, error) {
	if criteria.Underlying == "" {
		return nil, errors.New("put spread search requires an underlying")
	}
	if criteria.SpreadWidth <= 0 {
		return nil, errors.New("put spread search requires a positive width")
	}

	price := criteria.UnderlyingPrice
	if price <= 0 {
		px, err := a.client.StockPrice(ctx, criteria.Underlying)
		if err != nil {
			return nil, err
		}
		price = px
	}

	expiration := nextFridayExpiration(a.now().In(a.loc))

	strikes := make([]float64, 0, 45)
	for i := 5; i < 50; i++ {
		strike := math.Round(price - float64(i))
		if strike <= 0 {
			break
		}
		strikes = append(strikes, strike)
	}

	legs, err := a.client.OptionChain(ctx, criteria.Underlying, expiration, strikes, broker.RightPut)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, ErrNoSpread
	}

	sort.Slice(legs, func(i, j int) bool { return legs[i].Strike > legs[j].Strike })
	byStrike := make(map[float64]broker.OptionLeg, len(legs))
	for _, leg := range legs {
		byStrike[leg.Strike] = leg
	}

	for _, short := range legs {
		mid := (short.Bid + short.Ask) / 2
		if mid < criteria.MinCredit || mid > criteria.MaxCredit {
			continue
		}
		if math.Abs(short.Delta) > criteria.MaxShortDelta {
			continue
		}
		long, ok := byStrike[short.Strike-criteria.SpreadWidth]
		if !ok {
			continue
		}
		longMid := (long.Bid + long.Ask) / 2
		credit := mid - longMid
		spread := &broker.PutSpread{
			Short:      short,
			Long:       long,
			Credit:     credit,
			Width:      criteria.SpreadWidth,
			MaxRisk:    (criteria.SpreadWidth - credit) * 100,
			Expiration: short.Expiration,
		}
		log.Info().
			Float64("short_strike", short.Strike).
			Float64("long_strike", long.Strike).
			Float64("credit", credit).
			Float64("max_risk", spread.MaxRisk).
			Str("expiration", spread.Expiration).
			Msg("Put spread candidate found")
		return spread, nil
	}
	return nil, ErrNoSpread
}

// QualifySpreadLegs resolves the two contracts of a stored spread back
// to live legs. Recommendations carry strikes and a YYYYMMDD
// expiration, not contract ids; ids must be re-resolved at execution
// time because the gateway invalidates them across sessions.
func (a *Adapter) QualifySpreadLegs(ctx context.Context, underlying, expiration string, shortStrike, longStrike float64, right broker.OptionRight) (short, long broker.OptionLeg, err error) {
	exp, err := time.ParseInLocation("20060102", expiration, a.loc)
	if err != nil {
		return short, long, fmt.Errorf("parsing expiration %q: %w", expiration, err)
	}
	legs, err := a.client.OptionChain(ctx, underlying, exp, []float64{shortStrike, longStrike}, right)
	if err != nil {
		return short, long, err
	}
	for _, leg := range legs {
		switch leg.Strike {
		case shortStrike:
			short = leg
		case longStrike:
			long = leg
		}
	}
	if short.ConID == 0 || long.ConID == 0 {
		return short, long, fmt.Errorf("%s %s %v/%v: %w", underlying, expiration, shortStrike, longStrike, ErrNoSpread)
	}
	return short, long, nil
}

// PlaceSpreadOrder submits the two legs as one combo priced at a net
// credit. Credit combos price below zero; the gateway reads a negative
// limit as the minimum credit to collect.
func (a *Adapter) PlaceSpreadOrder(ctx context.Context, req broker.SpreadOrderRequest) (*broker.OrderHandle, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("spread quantity must be positive, got %d", req.Quantity)
	}
	if req.Short.ConID == 0 || req.Long.ConID == 0 {
		return nil, errors.New("spread legs must carry contract ids")
	}

	conidex := fmt.Sprintf("%d;;;%d/-1,%d/1", usComboConid, req.Short.ConID, req.Long.ConID)
	ticket := orderTicket{
		ConIDEx:   conidex,
		OrderType: "LMT",
		Side:      "BUY",
		Quantity:  float64(req.Quantity),
		Price:     -req.LimitPrice,
		TIF:       "DAY",
	}

	acks, err := a.client.submitOrders(ctx, []orderTicket{ticket})
	if err != nil {
		return nil, err
	}
	ack := acks[0]
	log.Info().
		Float64("short_strike", req.Short.Strike).
		Float64("long_strike", req.Long.Strike).
		Float64("credit", req.LimitPrice).
		Int("quantity", req.Quantity).
		Str("order_id", ack.OrderID).
		Msg("Put spread order placed")
	return &broker.OrderHandle{ID: ack.OrderID, Status: mapGatewayStatus(ack.OrderStatus)}, nil
}

// nextFridayExpiration picks the coming Friday, rolling a week forward
// on Friday after the 16:00 close.
func nextFridayExpiration(now time.Time) time.Time {
	days := (int(time.Friday) - int(now.Weekday()) + 7) % 7
	if days == 0 && now.Hour() >= 16 {
		days = 7
	}
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
}
