// Package orders implements the order manager: idempotent
// order creation behind the pre-trade safety pipeline, broker submission,
// fill recording with idempotent aggregation, and reconnect-driven
// reconciliation.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkhandelwal/futures-exec-engine/internal/broker"
	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

// OrderExecutionError is raised when broker submission fails.
type OrderExecutionError struct {
	OrderID        string
	RecoveryAction string // retry, skip, alert, emergency_stop
	Err            error
}

func (e *OrderExecutionError) Error() string {
	return fmt.Sprintf("order execution failed (order=%s, recovery=%s): %v", e.OrderID, e.RecoveryAction, e.Err)
}

func (e *OrderExecutionError) Unwrap() error { return e.Err }

// SafetyLimitError is raised when CreateOrder's pre-trade pipeline finds a
// blocked violation. The order is never submitted.
type SafetyLimitError struct {
	Violations []Violation
}

func (e *SafetyLimitError) Error() string {
	return fmt.Sprintf("safety limit: order blocked (%s)", e.Violations[0].Error())
}

// dailyCounter tracks orders submitted since midnight account-local time,
// reset lazily on day rollover. This is in-memory: the persistence contract
// names no "list orders by account since time" query, so the
// count lives alongside the manager for the life of the process.
type dailyCounter struct {
	mu      sync.Mutex
	day     time.Time
	byAcct  map[string]int
}

func newDailyCounter() *dailyCounter {
	return &dailyCounter{byAcct: make(map[string]int)}
}

func (d *dailyCounter) incrementAndGet(accountID string, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !today.Equal(d.day) {
		d.day = today
		d.byAcct = make(map[string]int)
	}
	d.byAcct[accountID]++
	return d.byAcct[accountID]
}

func (d *dailyCounter) peek(accountID string, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !today.Equal(d.day) {
		return 0
	}
	return d.byAcct[accountID]
}

// Manager is the order manager. One Manager serves every strategy under a
// single broker account.
type Manager struct {
	store  storage.Store
	broker broker.Client
	trades *dailyCounter
}

// NewManager constructs a Manager over the given persistence store and
// broker client.
func NewManager(store storage.Store, brokerClient broker.Client) *Manager {
	return &Manager{store: store, broker: brokerClient, trades: newDailyCounter()}
}

// CreateOrderInput is the caller-supplied shape for CreateOrder.
type CreateOrderInput struct {
	UserID             string
	StrategyID         string
	TradovateAccountID string
	SetupID            string
	Symbol             string
	Action             storage.OrderAction
	OrderType          storage.OrderType
	OrderQty           int
	Price              *float64
	StopPrice          *float64
	TimeInForce        storage.TimeInForce
}

// CreateOrder implements createOrder: idempotent on setupId,
// gated by the pre-trade safety pipeline.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput, limits *storage.SafetyLimits, activity DailyActivity) (*storage.Order, error) {
	if in.SetupID != "" {
		existing, err := m.store.FindOrderBySetupID(ctx, in.SetupID)
		if err != nil {
			return nil, fmt.Errorf("orders: create order: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	check := CheckSafetyLimits(limits, in.OrderQty, activity)
	if check.Blocked {
		return nil, &SafetyLimitError{Violations: check.Violations}
	}

	now := time.Now()
	o := &storage.Order{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		StrategyID:         in.StrategyID,
		TradovateAccountID: in.TradovateAccountID,
		SetupID:            in.SetupID,
		Symbol:             in.Symbol,
		Action:             in.Action,
		OrderType:          in.OrderType,
		OrderQty:           in.OrderQty,
		Price:              in.Price,
		StopPrice:          in.StopPrice,
		TimeInForce:        in.TimeInForce,
		Status:             storage.OrderStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.store.InsertOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("orders: create order: %w", err)
	}
	return o, nil
}

// SubmitOrder implements submitOrder: resolves the tradable
// contract symbol, places the order through C5, and persists the broker
// response. A tripped broker:orders circuit breaker (surfaced as an error
// from PlaceOrder) marks the order Rejected rather than retrying here.
func (m *Manager) SubmitOrder(ctx context.Context, o *storage.Order) error {
	symbol, err := m.broker.ResolveSymbol(ctx, o.Symbol, true)
	if err != nil {
		return m.rejectSubmission(ctx, o, fmt.Sprintf("resolve symbol: %v", err))
	}

	req := broker.OrderRequest{
		Symbol:      symbol,
		Action:      broker.OrderSide(o.Action),
		OrderType:   broker.OrderType(o.OrderType),
		Qty:         o.OrderQty,
		TimeInForce: broker.TimeInForce(o.TimeInForce),
		CustomTag50: o.SetupID,
	}
	if o.Price != nil {
		req.Price = *o.Price
	}
	if o.StopPrice != nil {
		req.StopPrice = *o.StopPrice
	}

	now := time.Now()
	resp, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		if rejErr := m.rejectSubmission(ctx, o, err.Error()); rejErr != nil {
			return rejErr
		}
		return &OrderExecutionError{OrderID: o.ID, RecoveryAction: "retry", Err: err}
	}

	o.BrokerOrderID = resp.BrokerOrderID
	o.Status = storage.OrderStatus(resp.Status)
	o.FilledQty = resp.FilledQty
	if resp.AvgFillPrice != 0 {
		avg := resp.AvgFillPrice
		o.AvgFillPrice = &avg
	}
	o.SubmittedAt = &now
	o.UpdatedAt = now
	if o.Status == storage.OrderStatusFilled {
		o.FilledAt = &now
	}

	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("orders: submit order %s: persist: %w", o.ID, err)
	}

	m.trades.incrementAndGet(o.TradovateAccountID, now)
	return nil
}

func (m *Manager) rejectSubmission(ctx context.Context, o *storage.Order, reason string) error {
	o.Status = storage.OrderStatusRejected
	o.RejectReason = reason
	o.UpdatedAt = time.Now()
	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("orders: reject order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderStatus implements updateOrderStatus.
func (m *Manager) UpdateOrderStatus(ctx context.Context, o *storage.Order, status storage.OrderStatus, filledQty *int, avgFillPrice *float64) error {
	o.Status = status
	if filledQty != nil {
		o.FilledQty = *filledQty
	}
	if avgFillPrice != nil {
		o.AvgFillPrice = avgFillPrice
	}
	now := time.Now()
	o.UpdatedAt = now
	if status == storage.OrderStatusFilled {
		o.FilledAt = &now
	}
	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("orders: update order status: %w", err)
	}
	return nil
}

// RecordFill implements recordFill: idempotent on
// brokerFillId, then recalculates the order's aggregate fill state.
func (m *Manager) RecordFill(ctx context.Context, o *storage.Order, brokerFillID string, qty int, price, commission float64, ts time.Time) (*storage.Fill, error) {
	if brokerFillID != "" {
		existing, err := m.store.FindFillByBrokerFillID(ctx, brokerFillID)
		if err != nil {
			return nil, fmt.Errorf("orders: record fill: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	f := &storage.Fill{
		ID:            uuid.NewString(),
		OrderID:       o.ID,
		BrokerFillID:  brokerFillID,
		Qty:           qty,
		Price:         price,
		Commission:    commission,
		FillTimestamp: ts,
	}
	if err := m.store.InsertFill(ctx, f); err != nil {
		return nil, fmt.Errorf("orders: record fill: %w", err)
	}

	if err := m.recalculateOrderFills(ctx, o); err != nil {
		return nil, err
	}
	return f, nil
}

// recalculateOrderFills aggregates every fill for o and derives the new
// order status: Filled if totalQty >= orderQty, PartialFill if totalQty > 0,
// else Working.
func (m *Manager) recalculateOrderFills(ctx context.Context, o *storage.Order) error {
	fills, err := m.store.ListFillsByOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("orders: recalculate order fills: %w", err)
	}

	var totalQty int
	var notional float64
	for _, f := range fills {
		totalQty += f.Qty
		notional += float64(f.Qty) * f.Price
	}

	o.FilledQty = totalQty
	if totalQty > 0 {
		avg := notional / float64(totalQty)
		o.AvgFillPrice = &avg
	}

	now := time.Now()
	switch {
	case totalQty >= o.OrderQty:
		o.Status = storage.OrderStatusFilled
		o.FilledAt = &now
	case totalQty > 0:
		o.Status = storage.OrderStatusPartialFill
	default:
		o.Status = storage.OrderStatusWorking
	}
	o.UpdatedAt = now

	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("orders: recalculate order fills: persist: %w", err)
	}
	return nil
}

// ReconcileOrders implements reconcileOrders: for every order
// in a non-terminal state with a broker id, fetch the broker's current
// status and apply it if it differs from the local snapshot. Invoked after
// market-data reconnection (C4's "connectionrestored" observer event).
func (m *Manager) ReconcileOrders(ctx context.Context, candidates []storage.Order) error {
	for i := range candidates {
		o := candidates[i]
		if o.BrokerOrderID == "" {
			continue
		}
		if o.Status != storage.OrderStatusPending && o.Status != storage.OrderStatusWorking && o.Status != storage.OrderStatusPartialFill {
			continue
		}

		resp, err := m.broker.GetOrderStatus(ctx, o.BrokerOrderID)
		if err != nil {
			continue // transient broker failure; next reconcile pass retries
		}

		status := storage.OrderStatus(resp.Status)
		if status == o.Status && resp.FilledQty == o.FilledQty {
			continue
		}

		filledQty := resp.FilledQty
		avgFillPrice := resp.AvgFillPrice
		if err := m.UpdateOrderStatus(ctx, &o, status, &filledQty, &avgFillPrice); err != nil {
			return fmt.Errorf("orders: reconcile order %s: %w", o.ID, err)
		}
	}
	return nil
}

// TradesSinceMidnight reports the in-memory order-submission count for
// accountID today, for safety-check callers that need it without
// incrementing.
func (m *Manager) TradesSinceMidnight(accountID string) int {
	return m.trades.peek(accountID, time.Now())
}
