// Package storage implements the persistence repository contract: strategy
// configuration, orders, fills, positions, safety limits, strategy intraday
// state, and the one-way behavioral-data audit log. The only implementation
// is Postgres, driven directly through pgxpool rather than database/sql.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

// AutonomyLevel discriminates whether a strategy's detected setups execute
// immediately or wait for an external approve/reject decision.
type AutonomyLevel string

const (
	AutonomyAutopilot AutonomyLevel = "autopilot"
	AutonomyCopilot   AutonomyLevel = "copilot"
)

// StrategyConfig is a loaded, validated strategy as returned by
// strategies.listActive. RawRules is kept alongside the parsed
// record for audit/debugging; only Rules is ever consumed downstream.
type StrategyConfig struct {
	ID            string
	UserID        string
	AccountID     string
	Symbol        rules.Symbol
	RawRules      json.RawMessage
	Rules         *rules.CanonicalParsedRules
	Active        bool
	AutonomyLevel AutonomyLevel
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderAction is Buy or Sell.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "Buy"
	OrderActionSell OrderAction = "Sell"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket    OrderType = "Market"
	OrderTypeLimit     OrderType = "Limit"
	OrderTypeStop      OrderType = "Stop"
	OrderTypeStopLimit OrderType = "StopLimit"
)

// TimeInForce is the broker time-in-force instruction.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "Day"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the order lifecycle state → Filled | Cancelled | Rejected | Expired).
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "Pending"
	OrderStatusWorking     OrderStatus = "Working"
	OrderStatusPartialFill OrderStatus = "PartialFill"
	OrderStatusFilled      OrderStatus = "Filled"
	OrderStatusCancelled   OrderStatus = "Cancelled"
	OrderStatusRejected    OrderStatus = "Rejected"
	OrderStatusExpired     OrderStatus = "Expired"
)

// BracketType discriminates a bracket order's role.
type BracketType string

const (
	BracketEntry      BracketType = "entry"
	BracketStopLoss   BracketType = "stop_loss"
	BracketTakeProfit BracketType = "take_profit"
)

// Order is the persisted order row.
type Order struct {
	ID                  string
	UserID              string
	StrategyID          string
	TradovateAccountID  string
	SetupID             string // unique when non-empty (invariant a)
	BrokerOrderID       string

	Symbol       string
	Action       OrderAction
	OrderType    OrderType
	OrderQty     int
	Price        *float64
	StopPrice    *float64
	TimeInForce  TimeInForce

	FilledQty    int
	AvgFillPrice *float64

	Status       OrderStatus
	RejectReason string

	ParentOrderID string
	BracketType   BracketType

	CreatedAt   time.Time
	SubmittedAt *time.Time
	FilledAt    *time.Time
	UpdatedAt   time.Time
}

// Fill is a persisted fill row. BrokerFillID is the
// idempotency key (invariant b): inserting a fill whose BrokerFillID already
// exists must be a no-op, not a duplicate row.
type Fill struct {
	ID            string
	OrderID       string
	BrokerFillID  string
	Qty           int
	Price         float64
	Commission    float64
	FillTimestamp time.Time
}

// PositionDirection is long or short.
type PositionDirection string

const (
	PositionLong  PositionDirection = "long"
	PositionShort PositionDirection = "short"
)

// PositionStatus is the position lifecycle state.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// PositionCloseReason records why a closed position was closed.
type PositionCloseReason string

const (
	CloseReasonStopLoss   PositionCloseReason = "stop_loss"
	CloseReasonTakeProfit PositionCloseReason = "take_profit"
	CloseReasonManual     PositionCloseReason = "manual"
	CloseReasonEmergency  PositionCloseReason = "emergency"
	CloseReasonEOD        PositionCloseReason = "eod"
)

// Position is the persisted position row.
type Position struct {
	ID         string
	UserID     string
	StrategyID string
	Symbol     string
	Direction  PositionDirection

	NetQty       int
	AvgEntryPrice float64
	StopPrice     *float64
	TargetPrice   *float64
	StopOrderID   string
	TargetOrderID string

	UnrealizedPnL         float64
	RealizedPnL           float64
	MaxFavorableExcursion float64
	MaxAdverseExcursion   float64

	Status      PositionStatus
	CloseReason PositionCloseReason

	OpenedAt time.Time
	ClosedAt *time.Time
}

// SafetyLimits is the pre-trade guardrail configuration, keyed
// by account with an optional per-strategy override.
type SafetyLimits struct {
	AccountID              string
	StrategyID             string // empty for an account-level row
	MaxPositionSize        int
	MaxConcurrentPositions int
	MaxDailyTrades         int
	MaxDailyLoss           float64
}

// StrategyStateType discriminates the kind of intraday state held for a
// strategy.
type StrategyStateType string

const (
	StateOpeningRange StrategyStateType = "opening_range"
	StateEMAAnchor    StrategyStateType = "ema_anchor"
	StateSessionStats StrategyStateType = "session_stats"
	StateLastEntry    StrategyStateType = "last_entry"
	StateCooldown     StrategyStateType = "cooldown"
)

// StrategyState is one row of the (strategyId, stateType) composite-key
// store. A read past ExpiresAt deletes the row and returns nil.
type StrategyState struct {
	StrategyID string
	StateType  StrategyStateType
	Payload    json.RawMessage
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

// BehavioralDataRecord is a one-way audit log entry for a setup detection
//, written for every setup regardless of outcome.
type BehavioralDataRecord struct {
	SetupID      string
	StrategyID   string
	Symbol       string
	SignalType   string
	Direction    string
	Price        float64
	Status       string
	Reason       string
	ConditionsMet []string
	Indicators   map[string]*float64
	Timestamp    time.Time
}

// Store defines the complete persistence repository contract // names. Every method takes a context so callers (C6/C7/C8/C9) can bound
// query latency with the same per-request deadlines they apply to broker
// calls.
type Store interface {
	ListActiveStrategies(ctx context.Context, userID, accountID string) ([]StrategyConfig, error)

	FindOrderBySetupID(ctx context.Context, setupID string) (*Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error

	FindFillByBrokerFillID(ctx context.Context, brokerFillID string) (*Fill, error)
	InsertFill(ctx context.Context, f *Fill) error
	ListFillsByOrder(ctx context.Context, orderID string) ([]Fill, error)

	InsertPosition(ctx context.Context, p *Position) error
	UpdatePosition(ctx context.Context, p *Position) error
	ListOpenPositions(ctx context.Context, accountID string) ([]Position, error)

	// ListClosedPositions returns positions closed within [since, until), for
	// the account-report CLI's daily/period PnL summaries.
	ListClosedPositions(ctx context.Context, accountID string, since, until time.Time) ([]Position, error)

	// GetSafetyLimits resolves the effective limits for a strategy: a
	// per-strategy override row if one exists, else the account-level
	// default row.
	GetSafetyLimits(ctx context.Context, accountID, strategyID string) (*SafetyLimits, error)

	UpsertStrategyState(ctx context.Context, s *StrategyState) error
	GetActiveStrategyState(ctx context.Context, strategyID string, stateType StrategyStateType) (*StrategyState, error)
	DeleteExpiredStrategyStates(ctx context.Context) (int64, error)

	InsertBehavioralData(ctx context.Context, r *BehavioralDataRecord) error

	Ping(ctx context.Context) error
	Close()
}

// isExpired reports whether a strategy-state row has passed its expiry, the
// rule GetActiveStrategyState enforces on every read.
func isExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
