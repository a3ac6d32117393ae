package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkhandelwal/futures-exec-engine/internal/broker"
	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

// fakeStore is a minimal in-memory storage.Store for manager tests.
type fakeStore struct {
	mu            sync.Mutex
	ordersByID    map[string]*storage.Order
	ordersBySetup map[string]string
	fillsByBroker map[string]*storage.Fill
	fillsByOrder  map[string][]storage.Fill
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ordersByID:    make(map[string]*storage.Order),
		ordersBySetup: make(map[string]string),
		fillsByBroker: make(map[string]*storage.Fill),
		fillsByOrder:  make(map[string][]storage.Fill),
	}
}

func (s *fakeStore) ListActiveStrategies(context.Context, string, string) ([]storage.StrategyConfig, error) {
	return nil, nil
}

func (s *fakeStore) FindOrderBySetupID(_ context.Context, setupID string) (*storage.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ordersBySetup[setupID]
	if !ok {
		return nil, nil
	}
	cp := *s.ordersByID[id]
	return &cp, nil
}

func (s *fakeStore) InsertOrder(_ context.Context, o *storage.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.ordersByID[o.ID] = &cp
	if o.SetupID != "" {
		s.ordersBySetup[o.SetupID] = o.ID
	}
	return nil
}

func (s *fakeStore) UpdateOrder(_ context.Context, o *storage.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.ordersByID[o.ID] = &cp
	return nil
}

func (s *fakeStore) FindFillByBrokerFillID(_ context.Context, brokerFillID string) (*storage.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.fillsByBroker[brokerFillID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) InsertFill(_ context.Context, f *storage.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	if f.BrokerFillID != "" {
		s.fillsByBroker[f.BrokerFillID] = &cp
	}
	s.fillsByOrder[f.OrderID] = append(s.fillsByOrder[f.OrderID], cp)
	return nil
}

func (s *fakeStore) ListFillsByOrder(_ context.Context, orderID string) ([]storage.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Fill(nil), s.fillsByOrder[orderID]...), nil
}

func (s *fakeStore) InsertPosition(context.Context, *storage.Position) error { return nil }
func (s *fakeStore) UpdatePosition(context.Context, *storage.Position) error { return nil }
func (s *fakeStore) ListOpenPositions(context.Context, string) ([]storage.Position, error) {
	return nil, nil
}
func (s *fakeStore) ListClosedPositions(context.Context, string, time.Time, time.Time) ([]storage.Position, error) {
	return nil, nil
}
func (s *fakeStore) GetSafetyLimits(context.Context, string, string) (*storage.SafetyLimits, error) {
	return nil, nil
}
func (s *fakeStore) UpsertStrategyState(context.Context, *storage.StrategyState) error { return nil }
func (s *fakeStore) GetActiveStrategyState(context.Context, string, storage.StrategyStateType) (*storage.StrategyState, error) {
	return nil, nil
}
func (s *fakeStore) DeleteExpiredStrategyStates(context.Context) (int64, error) { return 0, nil }
func (s *fakeStore) InsertBehavioralData(context.Context, *storage.BehavioralDataRecord) error {
	return nil
}
func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close()                     {}

// fakeBroker is a scriptable broker.Client for manager tests.
type fakeBroker struct {
	placeOrderResp   *broker.OrderResponse
	placeOrderErr    error
	orderStatusResp  *broker.OrderResponse
	orderStatusErr   error
	resolveSymbolErr error
}

func (b *fakeBroker) PlaceOrder(context.Context, broker.OrderRequest) (*broker.OrderResponse, error) {
	if b.placeOrderErr != nil {
		return nil, b.placeOrderErr
	}
	return b.placeOrderResp, nil
}
func (b *fakeBroker) CancelOrder(context.Context, string) error { return nil }
func (b *fakeBroker) ModifyOrder(context.Context, string, float64, float64) (*broker.OrderResponse, error) {
	return nil, nil
}
func (b *fakeBroker) GetOrderStatus(context.Context, string) (*broker.OrderResponse, error) {
	if b.orderStatusErr != nil {
		return nil, b.orderStatusErr
	}
	return b.orderStatusResp, nil
}
func (b *fakeBroker) GetPositions(context.Context) ([]broker.BrokerPosition, error) { return nil, nil }
func (b *fakeBroker) ClosePosition(context.Context, string) (*broker.OrderResponse, error) {
	return nil, nil
}
func (b *fakeBroker) GetCashBalance(context.Context) (*broker.CashBalance, error) { return nil, nil }
func (b *fakeBroker) GetHistoricalBars(context.Context, string, int, int) ([]market.OHLCV, error) {
	return nil, nil
}
func (b *fakeBroker) ResolveSymbol(_ context.Context, base string, _ bool) (string, error) {
	if b.resolveSymbolErr != nil {
		return "", b.resolveSymbolErr
	}
	return base + "Z26", nil
}
func (b *fakeBroker) CheckRollover(context.Context, string) (broker.RolloverSeverity, string, error) {
	return broker.SeverityNone, "", nil
}

func TestCreateOrder_InsertsPendingOrderWhenSafetyChecksPass(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeBroker{})
	in := CreateOrderInput{
		UserID: "u1", StrategyID: "s1", TradovateAccountID: "acc1", SetupID: "setup-1",
		Symbol: "ES", Action: storage.OrderActionBuy, OrderType: storage.OrderTypeMarket,
		OrderQty: 1, TimeInForce: storage.TimeInForceDay,
	}
	o, err := m.CreateOrder(context.Background(), in, baseLimits(), DailyActivity{})
	require.NoError(t, err)
	assert.Equal(t, storage.OrderStatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
}

func TestCreateOrder_IsIdempotentOnSetupID(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeBroker{})
	in := CreateOrderInput{SetupID: "setup-1", OrderQty: 1, TimeInForce: storage.TimeInForceDay}

	first, err := m.CreateOrder(context.Background(), in, baseLimits(), DailyActivity{})
	require.NoError(t, err)

	second, err := m.CreateOrder(context.Background(), in, baseLimits(), DailyActivity{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateOrder_BlockedBySafetyLimitIsAnError(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeBroker{})
	in := CreateOrderInput{SetupID: "setup-2", OrderQty: 99, TimeInForce: storage.TimeInForceDay}

	_, err := m.CreateOrder(context.Background(), in, baseLimits(), DailyActivity{})
	require.Error(t, err)
	var safetyErr *SafetyLimitError
	require.ErrorAs(t, err, &safetyErr)
}

func TestSubmitOrder_UpdatesOrderFromBrokerResponse(t *testing.T) {
	store := newFakeStore()
	avg := 5001.25
	fb := &fakeBroker{placeOrderResp: &broker.OrderResponse{
		BrokerOrderID: "bo-1", Status: broker.StatusFilled, FilledQty: 1, AvgFillPrice: avg,
	}}
	m := NewManager(store, fb)

	o := &storage.Order{ID: "o1", TradovateAccountID: "acc1", Symbol: "ES", Action: storage.OrderActionBuy,
		OrderType: storage.OrderTypeMarket, OrderQty: 1, TimeInForce: storage.TimeInForceDay, Status: storage.OrderStatusPending}
	require.NoError(t, store.InsertOrder(context.Background(), o))

	err := m.SubmitOrder(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "bo-1", o.BrokerOrderID)
	assert.Equal(t, storage.OrderStatusFilled, o.Status)
	require.NotNil(t, o.FilledAt)
	assert.Equal(t, 1, m.TradesSinceMidnight("acc1"))
}

func TestSubmitOrder_BrokerFailureMarksOrderRejected(t *testing.T) {
	store := newFakeStore()
	fb := &fakeBroker{placeOrderErr: fmt.Errorf("broker unavailable")}
	m := NewManager(store, fb)

	o := &storage.Order{ID: "o2", Symbol: "ES", Status: storage.OrderStatusPending}
	require.NoError(t, store.InsertOrder(context.Background(), o))

	err := m.SubmitOrder(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, storage.OrderStatusRejected, o.Status)
}

func TestRecordFill_IdempotentOnBrokerFillID(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeBroker{})

	o := &storage.Order{ID: "o3", OrderQty: 2, Status: storage.OrderStatusWorking}
	require.NoError(t, store.InsertOrder(context.Background(), o))

	f1, err := m.RecordFill(context.Background(), o, "bf-1", 1, 100, 0.5, time.Now())
	require.NoError(t, err)
	f2, err := m.RecordFill(context.Background(), o, "bf-1", 1, 100, 0.5, time.Now())
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)

	fills, _ := store.ListFillsByOrder(context.Background(), o.ID)
	assert.Len(t, fills, 1)
}

func TestRecordFill_PartialThenFullRecalculatesStatusAndAvgPrice(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeBroker{})

	o := &storage.Order{ID: "o4", OrderQty: 3, Status: storage.OrderStatusWorking}
	require.NoError(t, store.InsertOrder(context.Background(), o))

	_, err := m.RecordFill(context.Background(), o, "bf-1", 1, 100, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.OrderStatusPartialFill, o.Status)

	_, err = m.RecordFill(context.Background(), o, "bf-2", 2, 103, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.OrderStatusFilled, o.Status)
	require.NotNil(t, o.AvgFillPrice)
	assert.InDelta(t, (100.0+2*103.0)/3.0, *o.AvgFillPrice, 0.0001)
	require.NotNil(t, o.FilledAt)
}

func TestReconcileOrders_AppliesChangedBrokerStatus(t *testing.T) {
	store := newFakeStore()
	fb := &fakeBroker{orderStatusResp: &broker.OrderResponse{Status: broker.StatusFilled, FilledQty: 2, AvgFillPrice: 101}}
	m := NewManager(store, fb)

	o := storage.Order{ID: "o5", BrokerOrderID: "bo-5", OrderQty: 2, Status: storage.OrderStatusWorking}
	require.NoError(t, store.InsertOrder(context.Background(), &o))

	err := m.ReconcileOrders(context.Background(), []storage.Order{o})
	require.NoError(t, err)

	store.mu.Lock()
	got := store.ordersByID["o5"]
	store.mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, storage.OrderStatusFilled, got.Status)
	assert.Equal(t, 2, got.FilledQty)
}

func TestReconcileOrders_SkipsOrdersWithoutBrokerID(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeBroker{})
	o := storage.Order{ID: "o6", Status: storage.OrderStatusPending}
	err := m.ReconcileOrders(context.Background(), []storage.Order{o})
	assert.NoError(t, err)
}
