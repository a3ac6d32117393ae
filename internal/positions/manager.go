// Package positions implements the position manager:
// position lifecycle from fill to close, running unrealized-PnL/excursion
// tracking, and account-level open risk aggregation.
package positions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

// Manager is the position manager. One Manager serves every strategy under a
// single broker account.
type Manager struct {
	store storage.Store
}

// NewManager constructs a Manager over the given persistence store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// OpenPositionInput is the caller-supplied shape for OpenPosition, derived
// from a just-filled order.
type OpenPositionInput struct {
	UserID        string
	StrategyID    string
	Symbol        string
	Action        storage.OrderAction
	FilledQty     int
	AvgFillPrice  float64
	StopOrderID   string
	TargetOrderID string
	StopPrice     *float64
	TargetPrice   *float64
}

// OpenPosition implements openPosition.
func (m *Manager) OpenPosition(ctx context.Context, in OpenPositionInput) (*storage.Position, error) {
	direction := storage.PositionLong
	if in.Action == storage.OrderActionSell {
		direction = storage.PositionShort
	}

	now := time.Now()
	p := &storage.Position{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		StrategyID:    in.StrategyID,
		Symbol:        in.Symbol,
		Direction:     direction,
		NetQty:        in.FilledQty,
		AvgEntryPrice: in.AvgFillPrice,
		StopPrice:     in.StopPrice,
		TargetPrice:   in.TargetPrice,
		StopOrderID:   in.StopOrderID,
		TargetOrderID: in.TargetOrderID,
		Status:        storage.PositionStatusOpen,
		OpenedAt:      now,
	}
	if err := m.store.InsertPosition(ctx, p); err != nil {
		return nil, fmt.Errorf("positions: open position: %w", err)
	}
	return p, nil
}

// UpdatePositionPnl implements updatePositionPnl. The caller
// supplies currentPrice in the instrument's native price units; the result
// is in price-difference-times-quantity units, not dollars — point-value
// multiplication is the caller's responsibility.
func (m *Manager) UpdatePositionPnl(ctx context.Context, p *storage.Position, currentPrice float64) error {
	priceDiff := currentPrice - p.AvgEntryPrice
	if p.Direction == storage.PositionShort {
		priceDiff = p.AvgEntryPrice - currentPrice
	}
	p.UnrealizedPnL = priceDiff * float64(p.NetQty)

	if p.UnrealizedPnL > p.MaxFavorableExcursion {
		p.MaxFavorableExcursion = p.UnrealizedPnL
	}
	if p.UnrealizedPnL < p.MaxAdverseExcursion {
		p.MaxAdverseExcursion = p.UnrealizedPnL
	}

	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return fmt.Errorf("positions: update position pnl: %w", err)
	}
	return nil
}

// ClosePosition implements closePosition.
func (m *Manager) ClosePosition(ctx context.Context, p *storage.Position, closePrice float64, reason storage.PositionCloseReason) error {
	priceDiff := closePrice - p.AvgEntryPrice
	if p.Direction == storage.PositionShort {
		priceDiff = p.AvgEntryPrice - closePrice
	}

	now := time.Now()
	p.RealizedPnL = priceDiff * float64(p.NetQty)
	p.UnrealizedPnL = 0
	p.CloseReason = reason
	p.Status = storage.PositionStatusClosed
	p.ClosedAt = &now

	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return fmt.Errorf("positions: close position: %w", err)
	}
	return nil
}

// AccountRisk is getAccountRisk's per-strategy open-risk breakdown.
type AccountRisk struct {
	TotalRisk  float64
	ByStrategy map[string]float64
}

// GetAccountRisk implements getAccountRisk: sums
// |entry - stop| * netQty over every open position, bucketed by strategy.
// A position with no stop price set contributes zero to the sum — it is
// counted as open exposure elsewhere (getAccountRisk measures stop-defined
// risk only).
func (m *Manager) GetAccountRisk(ctx context.Context, accountID string) (*AccountRisk, error) {
	open, err := m.store.ListOpenPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("positions: get account risk: %w", err)
	}

	risk := &AccountRisk{ByStrategy: make(map[string]float64)}
	for _, p := range open {
		if p.StopPrice == nil {
			continue
		}
		r := abs(p.AvgEntryPrice-*p.StopPrice) * float64(p.NetQty)
		risk.TotalRisk += r
		risk.ByStrategy[p.StrategyID] += r
	}
	return risk, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
