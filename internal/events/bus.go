// Package events fans platform events out over NATS. Publishers are the
// hunters, the orchestrator, and the executors; subscribers are the
// websocket bridge and the alert sinks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// Event types carried on the bus. These match the frame types the
// websocket layer pushes to dashboards.
const (
	TypeAgentUpdate  = "agent_update"
	TypeTradeUpdate  = "trade_update"
	TypeRegimeChange = "regime_change"
	TypeAlert        = "alert"
	TypeActivity     = "activity"
)

// Event is the envelope published on every subject.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"` // publishing agent or component
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is a callback invoked for each received event.
type Handler func(evt *Event) error

// Config configures the bus connection.
type Config struct {
	URL    string
	Name   string // connection name shown in NATS monitoring
	Prefix string // subject prefix, default "tradehawk."
}

// Bus is a thin publish/subscribe layer over a NATS connection.
// Subjects follow the pattern {prefix}events.{type}.
type Bus struct {
	nc     *nats.Conn
	prefix string
}

// New connects to NATS and returns a bus. The connection retries forever
// with a short backoff, so a NATS restart does not take the process down.
func New(cfg Config) (*Bus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "tradehawk."
	}
	if cfg.Name == "" {
		cfg.Name = "tradehawk"
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", cfg.Prefix).
		Msg("Event bus connected")

	return &Bus{nc: nc, prefix: cfg.Prefix}, nil
}

func (b *Bus) subject(eventType string) string {
	return fmt.Sprintf("%sevents.%s", b.prefix, eventType)
}

// Publish marshals the payload and publishes it under the event type's
// subject. Publishing while disconnected is an error; callers treat bus
// failures as non-fatal.
func (b *Bus) Publish(ctx context.Context, eventType, source string, payload any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	evt := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.nc.Publish(b.subject(eventType), raw); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.RecordEventPublished(eventType)

	log.Debug().
		Str("event_id", evt.ID.String()).
		Str("type", eventType).
		Str("source", source).
		Msg("Published event")
	return nil
}

func (b *Bus) wrap(handler Handler) nats.MsgHandler {
	return func(natsMsg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(natsMsg.Data, &evt); err != nil {
			log.Warn().Err(err).Msg("Failed to unmarshal event")
			return
		}
		metrics.RecordEventReceived(evt.Type)
		if err := handler(&evt); err != nil {
			log.Error().
				Err(err).
				Str("event_id", evt.ID.String()).
				Str("type", evt.Type).
				Msg("Event handler error")
		}
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler Handler) (*Subscription, error) {
	subject := b.subject(eventType)
	sub, err := b.nc.Subscribe(subject, b.wrap(handler))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to events")
	return &Subscription{sub: sub, subject: subject}, nil
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) (*Subscription, error) {
	subject := b.prefix + "events.>"
	sub, err := b.nc.Subscribe(subject, b.wrap(handler))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to all events")
	return &Subscription{sub: sub, subject: subject}, nil
}

// Stats reports connection counters for the health endpoint.
func (b *Bus) Stats() map[string]any {
	stats := make(map[string]any)
	if b.nc != nil {
		stats["connected"] = b.nc.IsConnected()
		stats["status"] = b.nc.Status().String()
		stats["connected_url"] = b.nc.ConnectedUrl()
		stats["in_msgs"] = b.nc.Stats().InMsgs
		stats["out_msgs"] = b.nc.Stats().OutMsgs
		stats["reconnects"] = b.nc.Stats().Reconnects
	}
	return stats
}

// Connected reports whether the underlying connection is live.
func (b *Bus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
		log.Info().Msg("Event bus closed")
	}
}

// Subscription is an active event subscription.
type Subscription struct {
	sub     *nats.Subscription
	subject string
}

// Unsubscribe removes the subscription.
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	log.Info().Str("subject", s.subject).Msg("Unsubscribed from events")
	return nil
}

// IsValid reports whether the subscription is still active.
func (s *Subscription) IsValid() bool {
	return s.sub.IsValid()
}
