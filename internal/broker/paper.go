// paper.go simulates the futures broker for demo-mode engine wiring,
// adapted from a simplified immediate-fill-at-order-price simulator,
// rewritten from equity holdings/CNC delivery to net-quantity futures
// positions with long/short sign.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
)

// PaperClient simulates Client for demo/test wiring. Orders fill
// immediately at the requested price (market) or limit price (limit);
// no partial fills are simulated.
type PaperClient struct {
	mu        sync.Mutex
	cash      CashBalance
	positions map[string]*BrokerPosition
	orders    map[string]*OrderResponse
	nextID    int
	bars      map[string][]market.OHLCV // seeded test fixture data
}

// NewPaperClient creates a paper client with the given starting capital.
func NewPaperClient(initialCapital float64) *PaperClient {
	return &PaperClient{
		cash:      CashBalance{AvailableCash: initialCapital, TotalEquity: initialCapital},
		positions: make(map[string]*BrokerPosition),
		orders:    make(map[string]*OrderResponse),
		bars:      make(map[string][]market.OHLCV),
	}
}

// SeedHistoricalBars installs fixture bars GetHistoricalBars will return for
// a symbol, used in tests and demo backfill.
func (p *PaperClient) SeedHistoricalBars(symbol string, bars []market.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[symbol] = bars
}

func (p *PaperClient) fillPrice(req OrderRequest) float64 {
	if req.OrderType == TypeLimit && req.Price > 0 {
		return req.Price
	}
	if req.Price > 0 {
		return req.Price
	}
	return req.StopPrice
}

// PlaceOrder simulates an immediate fill and updates the simulated net
// position for req.Symbol.
func (p *PaperClient) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	orderID := fmt.Sprintf("PAPER-%d", p.nextID)
	fillPrice := p.fillPrice(req)

	delta := req.Qty
	if req.Action == SideSell {
		delta = -req.Qty
	}

	pos, ok := p.positions[req.Symbol]
	if !ok {
		pos = &BrokerPosition{Symbol: req.Symbol}
		p.positions[req.Symbol] = pos
	}

	sameDirection := pos.NetQty == 0 || (pos.NetQty > 0) == (delta > 0)
	newQty := pos.NetQty + delta
	if sameDirection {
		// Adding to (or opening) a position: roll the average entry price.
		pos.AvgPrice = (pos.AvgPrice*float64(abs(pos.NetQty)) + fillPrice*float64(abs(delta))) / float64(abs(newQty))
	} else if abs(delta) > abs(pos.NetQty) {
		// The fill flips the position to the opposite side; the residual
		// opens fresh at the fill price.
		pos.AvgPrice = fillPrice
	}
	pos.NetQty = newQty
	if pos.NetQty == 0 {
		delete(p.positions, req.Symbol)
	}

	resp := &OrderResponse{
		BrokerOrderID: orderID,
		Status:        StatusFilled,
		FilledQty:     req.Qty,
		AvgFillPrice:  fillPrice,
		Timestamp:     time.Now(),
	}
	p.orders[orderID] = resp

	out := *resp
	return &out, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// CancelOrder is a no-op for the paper client: every order fills
// synchronously in PlaceOrder, so there is nothing in flight to cancel.
func (p *PaperClient) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("paper broker: order %s not found", orderID)
	}
	return nil
}

// ModifyOrder is a no-op for the paper client for the same reason as CancelOrder.
func (p *PaperClient) ModifyOrder(_ context.Context, orderID string, _, _ float64) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper broker: order %s not found", orderID)
	}
	out := *resp
	return &out, nil
}

func (p *PaperClient) GetOrderStatus(_ context.Context, orderID string) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper broker: order %s not found", orderID)
	}
	out := *resp
	return &out, nil
}

func (p *PaperClient) GetPositions(_ context.Context) ([]BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *PaperClient) ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error) {
	p.mu.Lock()
	pos, ok := p.positions[symbol]
	var netQty int
	if ok {
		netQty = pos.NetQty
	}
	p.mu.Unlock()

	if !ok || netQty == 0 {
		return nil, fmt.Errorf("paper broker: close position %s: no open position", symbol)
	}

	side := SideSell
	qty := netQty
	if netQty < 0 {
		side = SideBuy
		qty = -netQty
	}
	return p.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Action: side, OrderType: TypeMarket, Qty: qty, TimeInForce: TIFDay})
}

func (p *PaperClient) GetCashBalance(_ context.Context) (*CashBalance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.cash
	return &out, nil
}

func (p *PaperClient) GetHistoricalBars(_ context.Context, symbol string, barCount int, _ int) ([]market.OHLCV, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bars := p.bars[symbol]
	if len(bars) > barCount {
		bars = bars[len(bars)-barCount:]
	}
	out := make([]market.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

// ResolveSymbol returns the base instrument unchanged: paper trading has no
// contract rollover concept to simulate.
func (p *PaperClient) ResolveSymbol(_ context.Context, baseInstrument string, _ bool) (string, error) {
	return baseInstrument, nil
}

func (p *PaperClient) CheckRollover(_ context.Context, _ string) (RolloverSeverity, string, error) {
	return SeverityNone, "", nil
}
