// Package broker implements the authenticated HTTPS/WebSocket client for the
// futures broker's order, position, and market-data APIs: token refresh,
// symbol resolution with contract rollover, order RPCs, and historical bar
// fetch. Every call that can fail against the live network is wrapped by a
// named circuit breaker from internal/breaker.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
)

// OrderSide is the transaction direction.
type OrderSide string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

// OrderType discriminates order execution style.
type OrderType string

const (
	TypeMarket    OrderType = "Market"
	TypeLimit     OrderType = "Limit"
	TypeStop      OrderType = "Stop"
	TypeStopLimit OrderType = "StopLimit"
)

// TimeInForce discriminates order duration.
type TimeInForce string

const (
	TIFDay TimeInForce = "Day"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus mirrors the broker's reported order lifecycle state.
type OrderStatus string

const (
	StatusPending     OrderStatus = "Pending"
	StatusWorking     OrderStatus = "Working"
	StatusPartialFill OrderStatus = "PartialFill"
	StatusFilled      OrderStatus = "Filled"
	StatusCancelled   OrderStatus = "Cancelled"
	StatusRejected    OrderStatus = "Rejected"
	StatusExpired     OrderStatus = "Expired"
)

// OrderRequest is submitted to PlaceOrder.
type OrderRequest struct {
	Symbol       string
	Action       OrderSide
	OrderType    OrderType
	Qty          int
	Price        float64
	StopPrice    float64
	TimeInForce  TimeInForce
	CustomTag50  string // carries the engine setupId for idempotency
}

// OrderResponse is returned after placing, modifying, or querying an order.
type OrderResponse struct {
	BrokerOrderID string
	Status        OrderStatus
	FilledQty     int
	AvgFillPrice  float64
	RejectReason  string
	Timestamp     time.Time
}

// BrokerPosition is a current open position as reported by the broker.
type BrokerPosition struct {
	Symbol       string
	NetQty       int
	AvgPrice     float64
	UnrealizedPL float64
}

// CashBalance is the account's available trading capital.
type CashBalance struct {
	AvailableCash float64
	TotalEquity   float64
}

// Contract describes one listed futures contract for a base instrument.
type Contract struct {
	Symbol           string // full tradable symbol, e.g. "ESZ26"
	BaseInstrument   string // root symbol, e.g. "ES"
	ExpiresAt        time.Time
	DailyVolume      int64
}

// BrokerAPIError is raised by any C5 call that fails against the live
// network. Retryable iff the HTTP status is >= 500.
type BrokerAPIError struct {
	Code       string
	HTTPStatus int
	Retryable  bool
	Message    string
}

func (e *BrokerAPIError) Error() string {
	return fmt.Sprintf("broker API error %s (http %d, retryable=%v): %s", e.Code, e.HTTPStatus, e.Retryable, e.Message)
}

// Client is the interface the execution engine consults for everything
// broker-related. Both Client (live HTTPS) and PaperClient (simulated)
// satisfy it.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	ModifyOrder(ctx context.Context, brokerOrderID string, newPrice, newStopPrice float64) (*OrderResponse, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderResponse, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error)
	GetCashBalance(ctx context.Context) (*CashBalance, error)
	GetHistoricalBars(ctx context.Context, symbol string, barCount int, timeframeMinutes int) ([]market.OHLCV, error)
	ResolveSymbol(ctx context.Context, baseInstrument string, checkPositions bool) (string, error)
	CheckRollover(ctx context.Context, symbol string) (RolloverSeverity, string, error)
}
