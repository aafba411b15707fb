package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusPaused  AgentStatus = "paused"
	AgentStatusError   AgentStatus = "error"
	AgentStatusStopped AgentStatus = "stopped"
)

// Agent kinds. The QQQ options family shares the orchestrator's regime
// machine; the hunters run their own scan cycles.
const (
	AgentKindCryptoHunter = "crypto_hunter"
	AgentKindGemHunter    = "gem_hunter"
	AgentKindOrchestrator = "orchestrator"
	AgentKindShortPut     = "short_put"
	AgentKindShortCall    = "short_call"
	AgentKindLongCall     = "long_call"
	AgentKindLongPut      = "long_put"
	AgentKindRisk         = "risk"
)

// Agent is a persistent trading agent identity plus its free-form config.
type Agent struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Status    AgentStatus     `json:"status"`
	Active    bool            `json:"active"`
	Config    json.RawMessage `json:"config"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunStatus is the outcome state of one agent cycle.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusIdle    RunStatus = "idle"
	RunStatusError   RunStatus = "error"
)

// AgentRun records one execution of an agent cycle.
type AgentRun struct {
	ID          uuid.UUID       `json:"id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// PositionStatus is the lifecycle state of a hunter position.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusStoppedOut PositionStatus = "stopped_out"
	PositionStatusTargetHit  PositionStatus = "target_hit"
	PositionStatusExpired    PositionStatus = "expired"
)

// Exit reasons recorded when a position closes.
const (
	ExitReasonStopLoss     = "stop_loss"
	ExitReasonTakeProfit   = "take_profit"
	ExitReasonMaxHoldTime  = "max_hold_time"
	ExitReasonTrailingStop = "trailing_stop"
	ExitReasonManual       = "manual"
)

// Position is an open or closed hunter position. Crypto positions carry
// fractional quantities; gem positions carry whole shares.
type Position struct {
	ID              uuid.UUID      `json:"id"`
	AgentID         uuid.UUID      `json:"agent_id"`
	Symbol          string         `json:"symbol"`
	Side            string         `json:"side"`
	Quantity        float64        `json:"quantity"`
	EntryPrice      float64        `json:"entry_price"`
	AllocatedAmount float64        `json:"allocated_amount"`
	StopLoss        *float64       `json:"stop_loss,omitempty"`
	TakeProfit      *float64       `json:"take_profit,omitempty"`
	CurrentPrice    *float64       `json:"current_price,omitempty"`
	Status          PositionStatus `json:"status"`
	RealizedPnL     *float64       `json:"realized_pnl,omitempty"`
	UnrealizedPnL   *float64       `json:"unrealized_pnl,omitempty"`
	EntryReason     *string        `json:"entry_reason,omitempty"`
	ExitReason      *string        `json:"exit_reason,omitempty"`
	ExitPrice       *float64       `json:"exit_price,omitempty"`
	EntryOrderID    *string        `json:"entry_order_id,omitempty"`
	ExitOrderID     *string        `json:"exit_order_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
}

// WatchlistStatus is the lifecycle state of a scored candidate.
type WatchlistStatus string

const (
	WatchlistStatusWatching  WatchlistStatus = "watching"
	WatchlistStatusTriggered WatchlistStatus = "triggered"
	WatchlistStatusEntered   WatchlistStatus = "entered"
	WatchlistStatusExpired   WatchlistStatus = "expired"
	WatchlistStatusRemoved   WatchlistStatus = "removed"
)

// Entry trigger labels describing when a watchlist row should become a
// live position.
const (
	EntryTriggerImmediate   = "immediate"
	EntryTriggerBreakout    = "breakout"
	EntryTriggerPullback    = "pullback"
	EntryTriggerVolumeSurge = "volume_surge"
	EntryTriggerManual      = "manual"
)

// WatchlistEntry is a scored candidate awaiting (or past) entry.
type WatchlistEntry struct {
	ID               uuid.UUID       `json:"id"`
	AgentID          uuid.UUID       `json:"agent_id"`
	Symbol           string          `json:"symbol"`
	CompositeScore   float64         `json:"composite_score"`
	TrendScore       float64         `json:"trend_score"`
	FundamentalScore float64         `json:"fundamental_score"`
	MomentumScore    float64         `json:"momentum_score"`
	EntryPrice       *float64        `json:"entry_price,omitempty"`
	TargetPrice      *float64        `json:"target_price,omitempty"`
	StopLoss         *float64        `json:"stop_loss,omitempty"`
	EntryTrigger     string          `json:"entry_trigger"`
	Status           WatchlistStatus `json:"status"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FillStatus tracks a broker order fill record.
type FillStatus string

const (
	FillStatusPending         FillStatus = "pending"
	FillStatusOpen            FillStatus = "open"
	FillStatusFilled          FillStatus = "filled"
	FillStatusPartiallyFilled FillStatus = "partially_filled"
	FillStatusCanceled        FillStatus = "canceled"
	FillStatusFailed          FillStatus = "failed"
)

// CryptoTrade is an immutable record of one crypto fill.
type CryptoTrade struct {
	ID         uuid.UUID  `json:"id"`
	AgentID    uuid.UUID  `json:"agent_id"`
	PositionID *uuid.UUID `json:"position_id,omitempty"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Quantity   float64    `json:"quantity"`
	Price      float64    `json:"price"`
	Notional   float64    `json:"notional"`
	Fees       float64    `json:"fees"`
	OrderID    *string    `json:"order_id,omitempty"`
	OrderType  string     `json:"order_type"`
	Status     FillStatus `json:"status"`
	PnL        *float64   `json:"pnl,omitempty"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// OptionsTrade is a QQQ options-family trade (spread or single leg).
type OptionsTrade struct {
	ID              uuid.UUID  `json:"id"`
	AgentID         *uuid.UUID `json:"agent_id,omitempty"`
	TradeType       string     `json:"trade_type"`
	Symbol          string     `json:"symbol"`
	ShortStrike     *float64   `json:"short_strike,omitempty"`
	LongStrike      *float64   `json:"long_strike,omitempty"`
	Expiration      *string    `json:"expiration,omitempty"` // YYYYMMDD
	Contracts       int        `json:"contracts"`
	PremiumReceived *float64   `json:"premium_received,omitempty"`
	MaxRisk         *float64   `json:"max_risk,omitempty"`
	Status          string     `json:"status"`
	PnL             *float64   `json:"pnl,omitempty"`
	OrderID         *string    `json:"order_id,omitempty"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// TradeStats summarises options-family trading results.
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	OpenTrades   int     `json:"open_trades"`
	ClosedTrades int     `json:"closed_trades"`
	TotalPnL     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	AvgPremium   float64 `json:"avg_premium"`
}

// RegimeType enumerates the market stances of the options workflow.
type RegimeType string

const (
	RegimeNormalBull       RegimeType = "normal_bull"
	RegimeDefenseTrigger   RegimeType = "defense_trigger"
	RegimeRecoveryMode     RegimeType = "recovery_mode"
	RegimeRecoveryComplete RegimeType = "recovery_complete"
)

// Regime is one span of a market stance. Exactly one row is active.
type Regime struct {
	ID              uuid.UUID  `json:"id"`
	RegimeType      RegimeType `json:"regime_type"`
	QQQPriceAtStart *float64   `json:"qqq_price_at_start,omitempty"`
	RecoveryStrike  *float64   `json:"recovery_strike,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	IsActive        bool       `json:"is_active"`
}

// RecommendationStatus is the approval-gate state machine.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationApproved RecommendationStatus = "approved"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExecuted RecommendationStatus = "executed"
	RecommendationExpired  RecommendationStatus = "expired"
)

// Recommendation actions.
const (
	ActionOpenPutSpread  = "open_put_spread"
	ActionClosePutSpread = "close_put_spread"
	ActionOpenCallSpread = "open_call_spread"
	ActionOpenLongCall   = "open_long_call"
)

// Recommendation is a proposed options trade awaiting human approval.
type Recommendation struct {
	ID              uuid.UUID            `json:"id"`
	RegimeType      RegimeType           `json:"regime_type"`
	QQQPrice        float64              `json:"qqq_price"`
	VIX             *float64             `json:"vix,omitempty"`
	Action          string               `json:"action"`
	Symbol          string               `json:"symbol"`
	ShortStrike     *float64             `json:"short_strike,omitempty"`
	LongStrike      *float64             `json:"long_strike,omitempty"`
	Expiration      *string              `json:"expiration,omitempty"`
	Contracts       int                  `json:"contracts"`
	EstimatedCredit *float64             `json:"estimated_credit,omitempty"`
	MaxRisk         *float64             `json:"max_risk,omitempty"`
	MaxProfit       *float64             `json:"max_profit,omitempty"`
	ShortDelta      *float64             `json:"short_delta,omitempty"`
	Reasoning       *string              `json:"reasoning,omitempty"`
	RiskAssessment  *string              `json:"risk_assessment,omitempty"`
	Status          RecommendationStatus `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	ExpiresAt       time.Time            `json:"expires_at"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	RejectedAt      *time.Time           `json:"rejected_at,omitempty"`
	ExecutedAt      *time.Time           `json:"executed_at,omitempty"`
	RejectionReason *string              `json:"rejection_reason,omitempty"`
	OrderID         *string              `json:"order_id,omitempty"`
	ExecutionPrice  *float64             `json:"execution_price,omitempty"`
}

// Activity is one append-only event log row.
type Activity struct {
	ID        uuid.UUID       `json:"id"`
	AgentID   *uuid.UUID      `json:"agent_id,omitempty"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Quote is the latest cached market quote for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mark      float64   `json:"mark"`
	High      *float64  `json:"high,omitempty"`
	Low       *float64  `json:"low,omitempty"`
	Open      *float64  `json:"open,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentMetric is a recorded per-agent measurement.
type AgentMetric struct {
	ID         uuid.UUID `json:"id"`
	AgentID    uuid.UUID `json:"agent_id"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"metric_value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SystemMetric is a recorded process-wide measurement.
type SystemMetric struct {
	ID         uuid.UUID       `json:"id"`
	MetricName string          `json:"metric_name"`
	Value      float64         `json:"metric_value"`
	Metadata   json.RawMessage `json:"metric_metadata,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Table names for the two hunter families. Position and watchlist stores
// are instantiated per family over these.
const (
	TableCryptoPositions = "crypto_positions"
	TableGemPositions    = "gem_positions"
	TableCryptoWatchlist = "crypto_watchlist"
	TableGemWatchlist    = "gem_watchlist"
)
