package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// wire request/response shapes for the broker's order RPCs:
// POST /order/placeorder, /cancelorder, /modifyorder, GET /order/item,
// /order/list, /position/list, /contract/find, /cashBalance/getCashBalanceSnapshot,
// /md/getchart.

type placeOrderWireReq struct {
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	OrderType   string  `json:"orderType"`
	OrderQty    int     `json:"orderQty"`
	Price       float64 `json:"price,omitempty"`
	StopPrice   float64 `json:"stopPrice,omitempty"`
	TimeInForce string  `json:"timeInForce"`
	CustomTag50 string  `json:"customTag50,omitempty"`
}

type orderWireResp struct {
	OrderID      string  `json:"orderId"`
	OrdStatus    string  `json:"ordStatus"`
	CumQty       int     `json:"cumQty"`
	AvgPx        float64 `json:"avgPx"`
	Text         string  `json:"text"`
}

func mapWireStatus(s string) OrderStatus {
	switch s {
	case "Pending", "PendingNew":
		return StatusPending
	case "Working", "New":
		return StatusWorking
	case "PartiallyFilled":
		return StatusPartialFill
	case "Filled", "Completed":
		return StatusFilled
	case "Canceled", "Cancelled":
		return StatusCancelled
	case "Rejected":
		return StatusRejected
	case "Expired":
		return StatusExpired
	default:
		return StatusPending
	}
}

func toWireResp(r orderWireResp) *OrderResponse {
	return &OrderResponse{
		BrokerOrderID: r.OrderID,
		Status:        mapWireStatus(r.OrdStatus),
		FilledQty:     r.CumQty,
		AvgFillPrice:  r.AvgPx,
		RejectReason:  r.Text,
		Timestamp:     time.Now(),
	}
}

// PlaceOrder submits a new order via POST /order/placeorder. CustomTag50
// carries the engine's setupId for broker-side idempotency.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	wireReq := placeOrderWireReq{
		Symbol:      req.Symbol,
		Action:      string(req.Action),
		OrderType:   string(req.OrderType),
		OrderQty:    req.Qty,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: string(req.TimeInForce),
		CustomTag50: req.CustomTag50,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/order/placeorder", wireReq)
	if err != nil {
		return nil, fmt.Errorf("broker: place order: %w", err)
	}

	var resp orderWireResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("broker: parse place order response: %w", err)
	}
	return toWireResp(resp), nil
}

// CancelOrder cancels a pending/working order via POST /order/cancelorder.
func (c *HTTPClient) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/order/cancelorder", map[string]string{"orderId": brokerOrderID})
	if err != nil {
		return fmt.Errorf("broker: cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

// ModifyOrder changes price/stop on a working order via POST /order/modifyorder.
func (c *HTTPClient) ModifyOrder(ctx context.Context, brokerOrderID string, newPrice, newStopPrice float64) (*OrderResponse, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/order/modifyorder", map[string]interface{}{
		"orderId":   brokerOrderID,
		"price":     newPrice,
		"stopPrice": newStopPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: modify order %s: %w", brokerOrderID, err)
	}
	var resp orderWireResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("broker: parse modify order response: %w", err)
	}
	return toWireResp(resp), nil
}

// GetOrderStatus fetches the current broker-side state via GET /order/item.
func (c *HTTPClient) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/order/item?orderId="+brokerOrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: get order status %s: %w", brokerOrderID, err)
	}
	var resp orderWireResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("broker: parse order status response: %w", err)
	}
	return toWireResp(resp), nil
}

type positionWireResp struct {
	Symbol       string  `json:"symbol"`
	NetQty       int     `json:"netPos"`
	AvgPrice     float64 `json:"avgEntryPrice"`
	UnrealizedPL float64 `json:"unrealizedPl"`
}

// GetPositions lists all open positions via GET /position/list.
func (c *HTTPClient) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/position/list", nil)
	if err != nil {
		return nil, fmt.Errorf("broker: get positions: %w", err)
	}
	var wire []positionWireResp
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("broker: parse positions response: %w", err)
	}
	out := make([]BrokerPosition, 0, len(wire))
	for _, p := range wire {
		out = append(out, BrokerPosition{Symbol: p.Symbol, NetQty: p.NetQty, AvgPrice: p.AvgPrice, UnrealizedPL: p.UnrealizedPL})
	}
	return out, nil
}

// ClosePosition submits a market order in the opposite direction for the
// current netQty of symbol.
func (c *HTTPClient) ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: close position %s: %w", symbol, err)
	}

	var netQty int
	found := false
	for _, p := range positions {
		if p.Symbol == symbol {
			netQty = p.NetQty
			found = true
			break
		}
	}
	if !found || netQty == 0 {
		return nil, fmt.Errorf("broker: close position %s: no open position found", symbol)
	}

	side := SideSell
	qty := netQty
	if netQty < 0 {
		side = SideBuy
		qty = -netQty
	}

	return c.PlaceOrder(ctx, OrderRequest{
		Symbol:      symbol,
		Action:      side,
		OrderType:   TypeMarket,
		Qty:         qty,
		TimeInForce: TIFDay,
	})
}

type cashBalanceWireResp struct {
	AvailableCash float64 `json:"availableCash"`
	TotalEquity   float64 `json:"totalEquity"`
}

// GetCashBalance fetches account capital via GET /cashBalance/getCashBalanceSnapshot.
func (c *HTTPClient) GetCashBalance(ctx context.Context) (*CashBalance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/cashBalance/getCashBalanceSnapshot", nil)
	if err != nil {
		return nil, fmt.Errorf("broker: get cash balance: %w", err)
	}
	var resp cashBalanceWireResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("broker: parse cash balance response: %w", err)
	}
	return &CashBalance{AvailableCash: resp.AvailableCash, TotalEquity: resp.TotalEquity}, nil
}

type contractWireResp struct {
	Symbol      string `json:"symbol"`
	Base        string `json:"baseSymbol"`
	ExpiresAt   string `json:"expirationDate"`
	DailyVolume int64  `json:"dailyVolume"`
}

// ContractsByBase lists live contracts for a base instrument via GET
// /contract/find, used by SymbolResolver.
func (c *HTTPClient) ContractsByBase(ctx context.Context, baseInstrument string) ([]Contract, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/contract/find?baseSymbol="+baseInstrument, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: find contracts for %s: %w", baseInstrument, err)
	}
	var wire []contractWireResp
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("broker: parse contracts response: %w", err)
	}

	out := make([]Contract, 0, len(wire))
	for _, w := range wire {
		expiry, err := time.Parse(time.RFC3339, w.ExpiresAt)
		if err != nil {
			continue
		}
		out = append(out, Contract{Symbol: w.Symbol, BaseInstrument: w.Base, ExpiresAt: expiry, DailyVolume: w.DailyVolume})
	}
	return out, nil
}

// ResolveSymbol and CheckRollover delegate to an internal SymbolResolver
// wired up by the caller (internal/engine), since resolution needs access
// to open-position state the HTTP client itself doesn't own.
func (c *HTTPClient) ResolveSymbol(ctx context.Context, baseInstrument string, checkPositions bool) (string, error) {
	if c.resolver == nil {
		return "", fmt.Errorf("broker: symbol resolver not configured")
	}
	return c.resolver.ResolveSymbol(ctx, baseInstrument, checkPositions)
}

func (c *HTTPClient) CheckRollover(ctx context.Context, symbol string) (RolloverSeverity, string, error) {
	if c.resolver == nil {
		return SeverityNone, "", fmt.Errorf("broker: symbol resolver not configured")
	}
	return c.resolver.CheckRollover(ctx, symbol)
}

// AttachResolver wires a SymbolResolver into the client after construction,
// since the resolver needs a reference back to ContractsByBase.
func (c *HTTPClient) AttachResolver(r *SymbolResolver) {
	c.resolver = r
}
