package ibkr

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tradehawk/internal/broker"
)

// Gateway snapshot field codes.
const (
	fieldLast       = "31"
	fieldHigh       = "70"
	fieldLow        = "71"
	fieldBid        = "84"
	fieldAsk        = "86"
	fieldVolume     = "87"
	fieldOpen       = "7295"
	fieldDelta      = "7308"
	fieldMark       = "7635"
	fieldPriorClose = "7741"
)

const (
	quoteFields  = "31,70,71,84,86,87,7295,7635,7741"
	optionFields = "31,84,86,7308"

	// The gateway warms a market data subscription on first request;
	// sparse snapshots are retried briefly.
	snapshotAttempts = 3
	snapshotWait     = 500 * time.Millisecond
)

// snapshot is one row of the gateway's marketdata response. Keys are
// numeric field codes, values arrive as numbers or annotated strings.
type snapshot map[string]interface{}

func (s snapshot) float(field string) (float64, bool) {
	return snapshotFloat(s[field])
}

func (s snapshot) conid() int {
	id, _ := intFromAny(s["conid"])
	return id
}

// snapshotFloat parses a gateway numeric value. Derived prices carry a
// letter prefix (C for prior close, H for halted) and volumes carry a
// K/M/B suffix.
func snapshotFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case string:
		s := strings.TrimSpace(v)
		for len(s) > 0 && (s[0] < '0' || s[0] > '9') && s[0] != '-' && s[0] != '.' {
			s = s[1:]
		}
		if s == "" {
			return 0, false
		}
		mult := 1.0
		switch s[len(s)-1] {
		case 'K':
			mult, s = 1e3, s[:len(s)-1]
		case 'M':
			mult, s = 1e6, s[:len(s)-1]
		case 'B':
			mult, s = 1e9, s[:len(s)-1]
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f * mult, true
	}
	return 0, false
}

func intFromAny(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// ContractID resolves a symbol to the gateway's contract id, caching
// the answer for the process lifetime.
func (c *Client) ContractID(ctx context.Context, symbol string) (int, error) {
	symbol = strings.ToUpper(symbol)

	c.conidMu.RLock()
	id, ok := c.conids[symbol]
	c.conidMu.RUnlock()
	if ok {
		return id, nil
	}

	var results []struct {
		ConID  interface{} `json:"conid"`
		Symbol string      `json:"symbol"`
	}
	path := "/iserver/secdef/search?symbol=" + url.QueryEscape(symbol)
	if err := c.get(ctx, path, &results); err != nil {
		return 0, fmt.Errorf("resolving contract for %s: %w", symbol, err)
	}

	for _, r := range results {
		if !strings.EqualFold(r.Symbol, symbol) {
			continue
		}
		conid, ok := intFromAny(r.ConID)
		if !ok || conid == 0 {
			continue
		}
		c.conidMu.Lock()
		c.conids[symbol] = conid
		c.conidMu.Unlock()
		return conid, nil
	}
	return 0, broker.NewVenueError(venueName, broker.KindMalformed, fmt.Sprintf("no contract found for %s", symbol), nil)
}

func (c *Client) snapshots(ctx context.Context, conids []int, fields string) ([]snapshot, error) {
	ids := make([]string, len(conids))
	for i, id := range conids {
		ids[i] = strconv.Itoa(id)
	}
	path := fmt.Sprintf("/iserver/marketdata/snapshot?conids=%s&fields=%s", strings.Join(ids, ","), fields)

	var out []snapshot
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StockPrice returns the best available price for a listed symbol,
// preferring the mark, then the bid/ask midpoint, then the last trade,
// then the prior close.
func (c *Client) StockPrice(ctx context.Context, symbol string) (float64, error) {
	conid, err := c.ContractID(ctx, symbol)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		snaps, err := c.snapshots(ctx, []int{conid}, quoteFields)
		if err != nil {
			return 0, err
		}
		if len(snaps) > 0 {
			if px, ok := priceFromSnapshot(snaps[0]); ok {
				return px, nil
			}
		}
		if attempt == snapshotAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(snapshotWait):
		}
	}
	return 0, broker.NewVenueError(venueName, broker.KindMalformed, fmt.Sprintf("no usable price for %s", symbol), nil)
}

func priceFromSnapshot(s snapshot) (float64, bool) {
	if mark, ok := s.float(fieldMark); ok && mark > 0 {
		return mark, true
	}
	bid, bidOK := s.float(fieldBid)
	ask, askOK := s.float(fieldAsk)
	if bidOK && askOK && bid > 0 && ask > 0 {
		return (bid + ask) / 2, true
	}
	if last, ok := s.float(fieldLast); ok && last > 0 {
		return last, true
	}
	if prior, ok := s.float(fieldPriorClose); ok && prior > 0 {
		return prior, true
	}
	return 0, false
}

type historyBar struct {
	Open   float64 `json:"o"`
	Close  float64 `json:"c"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Volume float64 `json:"v"`
	Time   int64   `json:"t"`
}

// history fetches bars oldest first.
func (c *Client) history(ctx context.Context, conid int, period, bar string) ([]historyBar, error) {
	var out struct {
		Data []historyBar `json:"data"`
	}
	path := fmt.Sprintf("/iserver/marketdata/history?conid=%d&period=%s&bar=%s&outsideRth=false", conid, period, bar)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// maxChainContracts bounds one chain fetch.
const maxChainContracts = 50

// monthToken formats an expiration for the secdef endpoints, e.g. SEP25.
func monthToken(expiration time.Time) string {
	return strings.ToUpper(expiration.Format("Jan")) + expiration.Format("06")
}

// OptionChain qualifies contracts for the given strikes at one
// expiration and quotes them with greeks.
func (c *Client) OptionChain(ctx context.Context, underlying string, expiration time.Time, strikes []float64, right broker.OptionRight) ([]broker.OptionLeg, error) {
	underConid, err := c.ContractID(ctx, underlying)
	if err != nil {
		return nil, err
	}

	month := monthToken(expiration)
	wantDate := expiration.Format("20060102")

	type qualified struct {
		conid  int
		strike float64
	}
	var contracts []qualified
	for _, strike := range strikes {
		if len(contracts) >= maxChainContracts {
			break
		}
		var infos []struct {
			ConID        interface{} `json:"conid"`
			MaturityDate string      `json:"maturityDate"`
			Strike       float64     `json:"strike"`
			Right        string      `json:"right"`
		}
		path := fmt.Sprintf("/iserver/secdef/info?conid=%d&sectype=OPT&month=%s&exchange=SMART&strike=%s&right=%s",
			underConid, month, strconv.FormatFloat(strike, 'f', -1, 64), right)
		if err := c.get(ctx, path, &infos); err != nil {
			return nil, fmt.Errorf("qualifying %s %s %.0f: %w", underlying, right, strike, err)
		}
		for _, info := range infos {
			if info.MaturityDate != wantDate {
				continue
			}
			conid, ok := intFromAny(info.ConID)
			if !ok || conid == 0 {
				continue
			}
			contracts = append(contracts, qualified{conid: conid, strike: strike})
			break
		}
	}
	if len(contracts) == 0 {
		return nil, nil
	}

	conids := make([]int, len(contracts))
	byConid := make(map[int]qualified, len(contracts))
	for i, qc := range contracts {
		conids[i] = qc.conid
		byConid[qc.conid] = qc
	}

	snaps, err := c.snapshots(ctx, conids, optionFields)
	if err != nil {
		return nil, err
	}

	legs := make([]broker.OptionLeg, 0, len(contracts))
	for _, s := range snaps {
		qc, ok := byConid[s.conid()]
		if !ok {
			continue
		}
		bid, _ := s.float(fieldBid)
		ask, _ := s.float(fieldAsk)
		delta, _ := s.float(fieldDelta)
		legs = append(legs, broker.OptionLeg{
			ConID:      qc.conid,
			Symbol:     strings.ToUpper(underlying),
			Strike:     qc.strike,
			Expiration: wantDate,
			Right:      right,
			Bid:        bid,
			Ask:        ask,
			Delta:      delta,
		})
	}
	return legs, nil
}
