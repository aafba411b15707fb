// Package alerts pushes platform events to outbound notification sinks.
// The bridge subscribes to the event bus and renders bus events into
// messages; telegram is the remote sink, and a log sink covers
// deployments with nothing configured.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
)

// Severity orders alerts for display and log level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one outbound notification.
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Fields    map[string]any
}

// Sink delivers alerts to one destination.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// Fanout sends each alert to every sink. Failures are logged and the
// remaining sinks still get the alert; the last error comes back.
type Fanout []Sink

// Send implements Sink.
func (f Fanout) Send(ctx context.Context, alert Alert) error {
	var lastErr error
	for _, s := range f {
		if err := s.Send(ctx, alert); err != nil {
			log.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// LogSink writes alerts to the process log, so alert plumbing always has
// somewhere to go.
type LogSink struct{}

// Send implements Sink.
func (LogSink) Send(_ context.Context, alert Alert) error {
	var evt *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		evt = log.Error()
	case SeverityWarning:
		evt = log.Warn()
	default:
		evt = log.Info()
	}
	for k, v := range alert.Fields {
		evt = evt.Interface(k, v)
	}
	evt.Str("alert", alert.Title).Msg(alert.Message)
	return nil
}

const sendTimeout = 10 * time.Second

// BridgeConfig tunes which bus traffic reaches the sink. Alerts and
// regime changes are always forwarded; trade updates only when asked,
// since fills can be chatty.
type BridgeConfig struct {
	IncludeTrades bool
}

// Bridge forwards bus events to a sink.
type Bridge struct {
	bus    *events.Bus
	sink   Sink
	cfg    BridgeConfig
	subs   []*events.Subscription
	logger zerolog.Logger
}

// NewBridge wires a sink to the event bus. Call Start to subscribe.
func NewBridge(bus *events.Bus, sink Sink, cfg BridgeConfig) *Bridge {
	return &Bridge{
		bus:    bus,
		sink:   sink,
		cfg:    cfg,
		logger: log.With().Str("component", "alerts").Logger(),
	}
}

// Start subscribes to the bus. Stop to unsubscribe.
func (b *Bridge) Start() error {
	types := []string{events.TypeAlert, events.TypeRegimeChange}
	if b.cfg.IncludeTrades {
		types = append(types, events.TypeTradeUpdate)
	}
	for _, eventType := range types {
		sub, err := b.bus.Subscribe(eventType, b.handle)
		if err != nil {
			b.Stop()
			return fmt.Errorf("subscribing alerts to %s: %w", eventType, err)
		}
		b.subs = append(b.subs, sub)
	}
	b.logger.Info().Strs("types", types).Msg("Alert bridge started")
	return nil
}

// Stop unsubscribes from the bus.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to unsubscribe alert bridge")
		}
	}
	b.subs = nil
}

func (b *Bridge) handle(evt *events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return b.sink.Send(ctx, renderEvent(evt))
}

// renderEvent turns a bus event into a displayable alert. Unknown
// payload shapes degrade to a generic message rather than dropping the
// event.
func renderEvent(evt *events.Event) Alert {
	payload := map[string]any{}
	_ = json.Unmarshal(evt.Data, &payload)

	a := Alert{Timestamp: evt.Timestamp}
	switch evt.Type {
	case events.TypeAlert:
		a.Severity = SeverityCritical
		a.Title = fmt.Sprintf("Alert from %s", evt.Source)
		a.Message = stringField(payload, "message", "platform alert")
		delete(payload, "message")
		a.Fields = payload

	case events.TypeRegimeChange:
		regime := stringField(payload, "regime_type", "unknown")
		a.Severity = SeverityWarning
		if regime == string(db.RegimeDefenseTrigger) {
			a.Severity = SeverityCritical
		}
		a.Title = "Regime change"
		a.Message = fmt.Sprintf("Market regime is now %s", regime)
		a.Fields = map[string]any{}
		if v, ok := payload["qqq_price_at_start"]; ok && v != nil {
			a.Fields["qqq_price"] = v
		}
		if v, ok := payload["recovery_strike"]; ok && v != nil {
			a.Fields["recovery_strike"] = v
		}

	case events.TypeTradeUpdate:
		a.Severity = SeverityInfo
		a.Title = fmt.Sprintf("Trade update from %s", evt.Source)
		a.Message = tradeMessage(payload)
		a.Fields = payload

	default:
		a.Severity = SeverityInfo
		a.Title = evt.Type
		a.Message = fmt.Sprintf("%s event from %s", evt.Type, evt.Source)
		a.Fields = payload
	}
	return a
}

func tradeMessage(payload map[string]any) string {
	var parts []string
	for _, key := range []string{"symbol", "action", "trade_type", "side", "status"} {
		if s := stringField(payload, key, ""); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "trade update"
	}
	msg := strings.Join(parts, " ")
	if pnl, ok := payload["pnl"].(float64); ok {
		msg += fmt.Sprintf(" (pnl $%.2f)", pnl)
	}
	return msg
}

func stringField(payload map[string]any, key, fallback string) string {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
