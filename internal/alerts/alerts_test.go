package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradehawk/internal/events"
)

// captureSink records every alert it receives.
type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *captureSink) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func (c *captureSink) all() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func busEvent(t *testing.T, eventType, source string, payload any) *events.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &events.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Date(2025, 3, 7, 20, 45, 0, 0, time.UTC),
	}
}

func TestRenderEventAlert(t *testing.T) {
	evt := busEvent(t, events.TypeAlert, "orchestrator", map[string]any{
		"message":       "emergency shutdown",
		"trades_closed": 3,
	})

	a := renderEvent(evt)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "Alert from orchestrator", a.Title)
	assert.Equal(t, "emergency shutdown", a.Message)
	assert.Equal(t, float64(3), a.Fields["trades_closed"])
	assert.NotContains(t, a.Fields, "message")
}

func TestRenderEventRegimeChange(t *testing.T) {
	evt := busEvent(t, events.TypeRegimeChange, "orchestrator", map[string]any{
		"regime_type":        "normal_bull",
		"qqq_price_at_start": 562.43,
		"recovery_strike":    nil,
		"is_active":          true,
	})

	a := renderEvent(evt)
	assert.Equal(t, SeverityWarning, a.Severity)
	assert.Equal(t, "Market regime is now normal_bull", a.Message)
	assert.Equal(t, 562.43, a.Fields["qqq_price"])
	assert.NotContains(t, a.Fields, "recovery_strike")
	assert.NotContains(t, a.Fields, "is_active")

	// Defense escalates to critical.
	evt = busEvent(t, events.TypeRegimeChange, "orchestrator", map[string]any{
		"regime_type": "defense_trigger",
	})
	assert.Equal(t, SeverityCritical, renderEvent(evt).Severity)
}

func TestRenderEventTradeUpdate(t *testing.T) {
	evt := busEvent(t, events.TypeTradeUpdate, "orchestrator", map[string]any{
		"trade_type": "put_spread",
		"status":     "closed",
		"pnl":        -2440.0,
	})

	a := renderEvent(evt)
	assert.Equal(t, SeverityInfo, a.Severity)
	assert.Equal(t, "put_spread closed (pnl $-2440.00)", a.Message)

	// An empty payload still renders something.
	evt = busEvent(t, events.TypeTradeUpdate, "crypto_hunter", map[string]any{})
	assert.Equal(t, "trade update", renderEvent(evt).Message)
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	failing := &captureSink{err: errors.New("sink down")}
	working := &captureSink{}

	err := Fanout{failing, working}.Send(context.Background(), Alert{Title: "t", Message: "m"})
	assert.Error(t, err)
	assert.Equal(t, 1, working.count())
}

func TestLogSink(t *testing.T) {
	err := LogSink{}.Send(context.Background(), Alert{
		Title:    "t",
		Message:  "m",
		Severity: SeverityCritical,
		Fields:   map[string]any{"k": "v"},
	})
	assert.NoError(t, err)
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage(Alert{
		Title:     "Regime change",
		Message:   "Market regime is now defense_trigger",
		Severity:  SeverityCritical,
		Timestamp: time.Date(2025, 3, 7, 20, 45, 0, 0, time.UTC),
		Fields:    map[string]any{"qqq_price": 555.1, "breached_strike": 560.0},
	})

	assert.Contains(t, msg, "🚨 *Regime change*")
	assert.Contains(t, msg, "Market regime is now defense_trigger")
	assert.Contains(t, msg, "breached_strike")
	// Fields print sorted.
	assert.Less(t, strings.Index(msg, "breached_strike"), strings.Index(msg, "qqq_price"))
	assert.Contains(t, msg, "_2025-03-07 20:45:00 UTC_")
}

func TestNewTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegram("", 42)
	assert.ErrorContains(t, err, "token is required")
}

func startTestNATSServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	return ns
}

func TestBridgeForwardsBusEvents(t *testing.T) {
	ns := startTestNATSServer(t)
	t.Cleanup(ns.Shutdown)

	bus, err := events.New(events.Config{URL: ns.ClientURL(), Prefix: "test."})
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	sink := &captureSink{}
	bridge := NewBridge(bus, sink, BridgeConfig{})
	require.NoError(t, bridge.Start())
	t.Cleanup(bridge.Stop)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.TypeRegimeChange, "orchestrator",
		map[string]any{"regime_type": "defense_trigger"}))
	require.NoError(t, bus.Publish(ctx, events.TypeAlert, "orchestrator",
		map[string]any{"message": "emergency shutdown"}))
	// Trades are not forwarded unless configured.
	require.NoError(t, bus.Publish(ctx, events.TypeTradeUpdate, "crypto_hunter",
		map[string]any{"symbol": "BTC-USD", "status": "filled"}))

	require.Eventually(t, func() bool { return sink.count() == 2 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, sink.count(), "trade updates must not be forwarded")

	titles := []string{}
	for _, a := range sink.all() {
		titles = append(titles, a.Title)
	}
	assert.ElementsMatch(t, []string{"Regime change", "Alert from orchestrator"}, titles)
}

func TestBridgeIncludesTradesWhenConfigured(t *testing.T) {
	ns := startTestNATSServer(t)
	t.Cleanup(ns.Shutdown)

	bus, err := events.New(events.Config{URL: ns.ClientURL(), Prefix: "test."})
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	sink := &captureSink{}
	bridge := NewBridge(bus, sink, BridgeConfig{IncludeTrades: true})
	require.NoError(t, bridge.Start())
	t.Cleanup(bridge.Stop)

	require.NoError(t, bus.Publish(context.Background(), events.TypeTradeUpdate, "gem_hunter",
		map[string]any{"symbol": "NVDA", "side": "buy", "status": "filled"}))

	require.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "NVDA buy filled", sink.all()[0].Message)
}
