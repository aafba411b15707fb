// Package metrics defines the platform's Prometheus collectors and the
// normalizers that keep label values at bounded cardinality. Collectors
// are package-level promauto singletons; callers record through the
// helper functions rather than touching the vectors directly.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Asset families used as metric labels.
const (
	FamilyCrypto  = "crypto"
	FamilyEquity  = "equity"
	FamilyOptions = "options"
)

// Cycle outcomes (bounded set).
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Order rejection reasons (bounded set).
const (
	RejectExcluded     = "excluded_symbol"
	RejectBelowMinimum = "below_minimum"
	RejectRiskVeto     = "risk_veto"
	RejectVenue        = "venue_error"
	RejectTimeout      = "timeout"
	RejectOther        = "other"
)

// Broker API error categories (bounded set).
const (
	BrokerErrorTimeout   = "timeout"
	BrokerErrorRateLimit = "rate_limit"
	BrokerErrorAuth      = "authentication"
	BrokerErrorRejected  = "rejected"
	BrokerErrorNetwork   = "network"
	BrokerErrorServer    = "server_error"
	BrokerErrorOther     = "other"
)

// NormalizeBrokerError maps arbitrary broker failures to the bounded
// category set. Matching is on the error text because venue errors
// arrive through several wrapping layers.
func NormalizeBrokerError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return BrokerErrorTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate"):
		return BrokerErrorRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "auth"):
		return BrokerErrorAuth
	case strings.Contains(msg, "reject") || strings.Contains(msg, "insufficient"):
		return BrokerErrorRejected
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "unreachable") || strings.Contains(msg, "refused"):
		return BrokerErrorNetwork
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return BrokerErrorServer
	default:
		return BrokerErrorOther
	}
}

// NormalizeEndpoint reduces a request path to a bounded label: the query
// string is dropped, identifier-looking segments are masked, and at most
// four segments are kept.
func NormalizeEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) > 4 {
		segs = segs[:4]
	}
	for i, seg := range segs {
		if looksLikeID(seg) {
			segs[i] = ":id"
		}
	}
	return "/" + strings.Join(segs, "/")
}

// looksLikeID reports whether a path segment is an identifier rather
// than a route word: all digits (conids, order ids) or a long token
// with several digits (UUIDs, account ids).
func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	digits := 0
	for _, r := range seg {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == len(seg) {
		return true
	}
	return digits >= 4 && len(seg) >= 8
}

// Agent cycle metrics.
var (
	AgentCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_agent_cycles_total",
		Help: "Agent cycles by agent kind and outcome",
	}, []string{"agent", "outcome"})

	AgentCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradehawk_agent_cycle_duration_ms",
		Help:    "Agent cycle wall time in milliseconds",
		Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 300000},
	}, []string{"agent"})

	AgentUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradehawk_agent_up",
		Help: "Agent run state (1 = running, 0 otherwise)",
	}, []string{"agent"})
)

// Order metrics.
var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_orders_placed_total",
		Help: "Orders submitted to a venue by side",
	}, []string{"venue", "side"})

	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_orders_filled_total",
		Help: "Orders that reached a full fill",
	}, []string{"venue"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_orders_rejected_total",
		Help: "Orders rejected before or at the venue, by reason",
	}, []string{"venue", "reason"})

	OrdersSimulated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_orders_simulated_total",
		Help: "Dry-run orders filled without reaching a venue",
	}, []string{"venue"})

	OrderExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradehawk_order_execution_latency_ms",
		Help:    "Time from submission to terminal order state in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 15000, 60000},
	})
)

// Portfolio metrics, refreshed from the database by the Updater except
// for the live trade-close counter.
var (
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradehawk_open_positions",
		Help: "Open positions by asset family",
	}, []string{"family"})

	RealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradehawk_realized_pnl",
		Help: "Realized profit and loss in USD by asset family",
	}, []string{"family"})

	WinRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradehawk_win_rate",
		Help: "Closed-trade win rate (0.0 to 1.0) by asset family",
	}, []string{"family"})

	WatchlistSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradehawk_watchlist_size",
		Help: "Symbols currently under watch by asset family",
	}, []string{"family"})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_trades_closed_total",
		Help: "Closed trades by asset family and result",
	}, []string{"family", "result"})
)

// Orchestrator metrics.
var (
	RegimeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_regime_transitions_total",
		Help: "Market regime transitions by destination regime",
	}, []string{"regime"})

	RecommendationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_recommendation_events_total",
		Help: "Trade recommendation lifecycle events",
	}, []string{"event"})
)

// Broker and market data metrics.
var (
	BrokerAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradehawk_broker_api_latency_ms",
		Help:    "Broker API round-trip time in milliseconds",
		Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"venue", "endpoint"})

	BrokerAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_broker_api_errors_total",
		Help: "Broker API failures by category",
	}, []string{"venue", "category"})

	MarketDataRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_market_data_requests_total",
		Help: "Market data provider requests by provider and outcome",
	}, []string{"provider", "outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_cache_lookups_total",
		Help: "Price series cache lookups by result",
	}, []string{"result"})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_redis_operations_total",
		Help: "Redis operations by type",
	}, []string{"operation"})
)

// Transport and system metrics.
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradehawk_api_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "path", "status"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradehawk_ws_clients",
		Help: "Connected websocket clients",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_events_published_total",
		Help: "Events published to the bus by type",
	}, []string{"type"})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_events_received_total",
		Help: "Events consumed from the bus by type",
	}, []string{"type"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradehawk_errors_total",
		Help: "Recorded errors by component",
	}, []string{"component"})

	DBConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradehawk_db_connections",
		Help: "Database pool connections by pool and state",
	}, []string{"pool", "state"})
)

// RecordCycle records one agent cycle with its outcome and duration.
func RecordCycle(agent, outcome string, durationMs float64) {
	AgentCycles.WithLabelValues(agent, outcome).Inc()
	AgentCycleDuration.WithLabelValues(agent).Observe(durationMs)
}

// SetAgentUp sets the run-state gauge for an agent.
func SetAgentUp(agent string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	AgentUp.WithLabelValues(agent).Set(v)
}

// RecordOrderPlaced counts an order submission.
func RecordOrderPlaced(venue, side string) {
	OrdersPlaced.WithLabelValues(venue, side).Inc()
}

// RecordOrderFilled counts a full fill and its submission-to-fill latency.
func RecordOrderFilled(venue string, latencyMs float64) {
	OrdersFilled.WithLabelValues(venue).Inc()
	OrderExecutionLatency.Observe(latencyMs)
}

// RecordOrderRejected counts a rejection under a bounded reason.
func RecordOrderRejected(venue, reason string) {
	OrdersRejected.WithLabelValues(venue, reason).Inc()
}

// RecordOrderSimulated counts a dry-run fill.
func RecordOrderSimulated(venue string) {
	OrdersSimulated.WithLabelValues(venue).Inc()
}

// RecordTradeClose counts a closed trade by result.
func RecordTradeClose(family string, pnl float64) {
	result := "flat"
	switch {
	case pnl > 0:
		result = "win"
	case pnl < 0:
		result = "loss"
	}
	TradesClosed.WithLabelValues(family, result).Inc()
}

// RecordRegimeTransition counts a regime change by destination.
func RecordRegimeTransition(regime string) {
	RegimeTransitions.WithLabelValues(regime).Inc()
}

// RecordRecommendationEvent counts a recommendation lifecycle event
// (created, approved, rejected, executed, expired).
func RecordRecommendationEvent(event string) {
	RecommendationEvents.WithLabelValues(event).Inc()
}

// ObserveBrokerCall records one broker API round trip. The path is
// normalized before use as a label.
func ObserveBrokerCall(venue, path string, durationMs float64, err error) {
	BrokerAPILatency.WithLabelValues(venue, NormalizeEndpoint(path)).Observe(durationMs)
	if err != nil {
		BrokerAPIErrors.WithLabelValues(venue, NormalizeBrokerError(err)).Inc()
	}
}

// RecordMarketDataRequest counts one provider request.
func RecordMarketDataRequest(provider, outcome string) {
	MarketDataRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordRedisOperation counts a Redis command by type.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordAPIRequest records one HTTP request against the route template.
func RecordAPIRequest(method, path, status string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path, status).Observe(durationMs)
}

// RecordEventPublished counts a bus publish by event type.
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventReceived counts a bus delivery by event type.
func RecordEventReceived(eventType string) {
	EventsReceived.WithLabelValues(eventType).Inc()
}

// RecordError counts an error attributed to a component.
func RecordError(component string) {
	Errors.WithLabelValues(component).Inc()
}

// SetDBPoolStats sets the connection gauges for a named pool.
func SetDBPoolStats(pool string, active, idle int32) {
	DBConnections.WithLabelValues(pool, "active").Set(float64(active))
	DBConnections.WithLabelValues(pool, "idle").Set(float64(idle))
}
