// Package engine implements the execution engine: it wires
// the circuit breaker registry (C1), rule compiler (C3), market aggregator
// (C4), broker client (C5), order manager (C6), position manager (C7), and
// strategy state store (C8) together behind one periodic monitoring tick and
// a single-flight setup dispatcher.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkhandelwal/futures-exec-engine/internal/breaker"
	"github.com/rkhandelwal/futures-exec-engine/internal/broker"
	"github.com/rkhandelwal/futures-exec-engine/internal/compiler"
	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/metrics"
	"github.com/rkhandelwal/futures-exec-engine/internal/orders"
	"github.com/rkhandelwal/futures-exec-engine/internal/positions"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
	"github.com/rkhandelwal/futures-exec-engine/internal/state"
	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

// monitoringTickInterval is the periodic re-evaluation cadence.
const monitoringTickInterval = 5 * time.Second

// maxConsecutiveFailures auto-pauses a strategy after this many back-to-back
// checkStrategy failures.
const maxConsecutiveFailures = 3

// sessionLocation is the zone the fixed session windows are quoted in;
// checkStrategy converts the wall clock into it before any minute-of-day
// session or opening-range test.
var sessionLocation = loadSessionLocation()

func loadSessionLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// strategyRuntime is one active strategy's compiled form plus the engine's
// own runtime bookkeeping for it.
type strategyRuntime struct {
	mu                  sync.Mutex
	config              storage.StrategyConfig
	compiled            *compiler.CompiledStrategy
	isActive            bool
	consecutiveFailures int
}

// Engine is the execution engine. One Engine instance serves one broker
// account.
type Engine struct {
	store       storage.Store
	broker      broker.Client
	aggregator  *market.Aggregator
	orderMgr    *orders.Manager
	positionMgr *positions.Manager
	stateStore  *state.Store
	breakers    *breaker.Registry
	queue       *SetupQueue
	notifier    *Notifier
	logger      *log.Logger
	accountID   string

	mu         sync.RWMutex
	strategies map[string]*strategyRuntime

	// executionEnabled is the global kill switch: when false every dispatched
	// setup is alerted rather than submitted, regardless of autonomy level.
	executionEnabled bool

	// pendingApprovals holds copilot setups awaiting an external
	// approveSetup/rejectSetup decision, keyed by setup ID.
	pendingMu        sync.Mutex
	pendingApprovals map[string]Setup

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine. Call Start to begin the monitoring loop.
func New(
	store storage.Store,
	brokerClient broker.Client,
	aggregator *market.Aggregator,
	orderMgr *orders.Manager,
	positionMgr *positions.Manager,
	stateStore *state.Store,
	breakers *breaker.Registry,
	accountID string,
	logger *log.Logger,
) *Engine {
	return &Engine{
		store:            store,
		broker:           brokerClient,
		aggregator:       aggregator,
		orderMgr:         orderMgr,
		positionMgr:      positionMgr,
		stateStore:       stateStore,
		breakers:         breakers,
		queue:            NewSetupQueue(logger),
		logger:           logger,
		accountID:        accountID,
		strategies:       make(map[string]*strategyRuntime),
		executionEnabled: true,
		pendingApprovals: make(map[string]Setup),
	}
}

// SetExecutionEnabled toggles the global kill switch. Disabling execution
// doesn't stop strategy evaluation: setups keep being detected and queued,
// but dispatchSetup alerts instead of submitting them.
func (e *Engine) SetExecutionEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executionEnabled = enabled
}

// AttachNotifier wires an external-approval/reload Notifier into the engine.
// Optional: an engine with no notifier simply never receives out-of-band
// approve/reject/reload events.
func (e *Engine) AttachNotifier(n *Notifier) {
	e.notifier = n
	n.onApproval = e.handleExternalApproval
	n.onReload = e.handleReload
}

// Start loads every active strategy, compiles it, and begins the periodic
// monitoring tick. Returns once strategies are loaded; the tick loop runs in
// a background goroutine until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context, userID string) error {
	configs, err := e.store.ListActiveStrategies(ctx, userID, e.accountID)
	if err != nil {
		return fmt.Errorf("engine: start: load active strategies: %w", err)
	}

	for _, cfg := range configs {
		if err := e.loadStrategy(cfg); err != nil {
			e.logger.Printf("engine: start: strategy %s failed to compile, skipping: %v", cfg.ID, err)
			continue
		}
		e.mu.RLock()
		rt := e.strategies[cfg.ID]
		e.mu.RUnlock()
		e.restoreOpeningRange(ctx, rt)
	}
	metrics.SetActiveStrategies(len(e.strategies))
	e.logger.Printf("engine: loaded %d active strategies", len(e.strategies))

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.notifier != nil {
		e.notifier.Start(runCtx)
	}

	e.wg.Add(1)
	go e.tickLoop(runCtx)

	return nil
}

// Stop cancels the monitoring loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.notifier != nil {
		e.notifier.Stop()
	}
	e.wg.Wait()
}

func (e *Engine) loadStrategy(cfg storage.StrategyConfig) error {
	parsed, err := rules.ParseJSON(cfg.RawRules)
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}
	cfg.Rules = parsed
	rt := &strategyRuntime{config: cfg, compiled: compiler.Compile(parsed), isActive: true}

	e.mu.Lock()
	e.strategies[cfg.ID] = rt
	e.mu.Unlock()
	return nil
}

// restoreOpeningRange seeds the aggregator's opening-range tracker from C8's
// persisted state for rt, if it holds an opening_range_breakout pattern and
// a non-expired range was saved before the last restart.
func (e *Engine) restoreOpeningRange(ctx context.Context, rt *strategyRuntime) {
	if rt == nil || rt.config.Rules.Pattern != rules.PatternOpeningRangeBreakout {
		return
	}

	saved, err := e.stateStore.GetOpeningRange(ctx, rt.config.ID)
	if err != nil {
		e.logger.Printf("engine: strategy %s: restore opening range: %v", rt.config.ID, err)
		return
	}
	if saved == nil {
		return
	}

	window := rules.OpeningRangeWindow(rt.config.Rules.Time, rt.config.Rules.OpeningRangeBreakout.PeriodMinutes)
	startHHMM := rules.FormatHHMM(window.StartMinute)
	endHHMM := rules.FormatHHMM(window.EndMinute)
	e.aggregator.SeedOpeningRange(string(rt.config.Symbol), startHHMM, endHHMM, market.OpeningRange{
		High:     saved.High,
		Low:      saved.Low,
		Complete: saved.IsComplete,
	})
	e.logger.Printf("engine: strategy %s: restored opening range [%.4f, %.4f] complete=%v", rt.config.ID, saved.Low, saved.High, saved.IsComplete)
}

// ensureIndicators registers the streaming indicators rt's pattern needs
// with C4 before evaluation: a fixed baseline (ema 20/50/200, rsi14, atr14)
// plus whatever period an ema_pullback strategy configures beyond that.
func (e *Engine) ensureIndicators(symbol string, r *rules.CanonicalParsedRules) {
	for _, period := range [...]int{20, 50, 200} {
		e.aggregator.EnsureEMA(symbol, period)
	}
	e.aggregator.EnsureRSI(symbol, 14)
	e.aggregator.EnsureATR(symbol, 14)

	if r.Pattern == rules.PatternEMAPullback && r.EMAPullback != nil {
		e.aggregator.EnsureEMA(symbol, r.EMAPullback.EMAPeriod)
		if r.EMAPullback.RSI != nil {
			e.aggregator.EnsureRSI(symbol, r.EMAPullback.RSI.Period)
		}
	}
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(monitoringTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

// runTick implements one monitoring tick:
//  1. Concurrently run checkStrategy for every active strategy, with each
//     strategy's failure isolated from the others (a structured wait-for-all,
//     not a fail-fast errgroup).
//  2. Schedule processSetupQueue without awaiting it — single-flight guarded
//     so the next tick doesn't re-enter a still-running dispatch.
//  3. Run checkSafetyLimits for every strategy with a configured maxDailyLoss.
func (e *Engine) runTick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecordMonitoringTick(time.Since(start).Seconds()) }()

	e.mu.RLock()
	runtimes := make([]*strategyRuntime, 0, len(e.strategies))
	for _, rt := range e.strategies {
		runtimes = append(runtimes, rt)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		rt.mu.Lock()
		active := rt.isActive
		rt.mu.Unlock()
		if !active {
			continue
		}

		wg.Add(1)
		go func(rt *strategyRuntime) {
			defer wg.Done()
			e.checkStrategyGuarded(ctx, rt)
		}(rt)
	}
	wg.Wait()

	if e.queue.TryBeginProcessing() {
		go func() {
			defer e.queue.EndProcessing()
			e.processSetupQueue(ctx)
		}()
	}

	e.checkSafetyLimits(ctx)
}

// checkStrategyGuarded runs checkStrategy and applies the
// consecutiveFailures/auto-pause bookkeeping around it. A panic inside
// checkStrategy is treated the same as an error: it must never take down the
// tick loop or propagate to other strategies.
func (e *Engine) checkStrategyGuarded(ctx context.Context, rt *strategyRuntime) {
	evalStart := time.Now()
	result := "no_signal"

	defer func() {
		if r := recover(); r != nil {
			e.recordStrategyFailure(rt, fmt.Errorf("panic: %v", r))
			result = "error"
		}
		metrics.RecordEvaluation(rt.config.ID, result, time.Since(evalStart).Seconds())
	}()

	setup, err := e.checkStrategy(ctx, rt)
	if err != nil {
		e.recordStrategyFailure(rt, err)
		result = "error"
		return
	}

	rt.mu.Lock()
	rt.consecutiveFailures = 0
	rt.mu.Unlock()
	metrics.SetConsecutiveFailures(rt.config.ID, 0)

	if setup != nil {
		result = "signal"
		if e.queue.Push(*setup) {
			e.logger.Printf("engine: strategy %s queued setup %s (%s %s)", rt.config.ID, setup.ID, setup.Direction, setup.Symbol)
		}
	}
}

func (e *Engine) recordStrategyFailure(rt *strategyRuntime, err error) {
	rt.mu.Lock()
	rt.consecutiveFailures++
	n := rt.consecutiveFailures
	if n >= maxConsecutiveFailures {
		rt.isActive = false
	}
	rt.mu.Unlock()

	metrics.SetConsecutiveFailures(rt.config.ID, n)
	e.logger.Printf("engine: strategy %s check failed (%d/%d): %v", rt.config.ID, n, maxConsecutiveFailures, err)
	if n >= maxConsecutiveFailures {
		metrics.SetStrategyActive(rt.config.ID, false)
		e.logger.Printf("engine: strategy %s auto-paused after %d consecutive failures", rt.config.ID, maxConsecutiveFailures)
	}
}

// checkStrategy evaluates one strategy against the current market context
// and returns a Setup if its compiled ShouldEnter fires within its
// configured session window.
func (e *Engine) checkStrategy(ctx context.Context, rt *strategyRuntime) (*Setup, error) {
	symbol := string(rt.config.Symbol)
	now := time.Now().In(sessionLocation)

	e.ensureIndicators(symbol, rt.config.Rules)
	evalCtx := e.aggregator.Context(symbol, now)
	e.applyOpeningRange(ctx, rt, &evalCtx, now)

	if !rt.compiled.IsTimeValid(now) {
		return nil, nil
	}

	signal := rt.compiled.ShouldEnter(evalCtx)
	if signal == nil {
		return nil, nil
	}

	entry := rt.compiled.GetEntryPrice(evalCtx)
	stop := rt.compiled.GetStopPrice(signal.Direction, entry, evalCtx)
	target := rt.compiled.GetTargetPrice(signal.Direction, entry, stop, evalCtx)

	balance, err := e.broker.GetCashBalance(context.Background())
	if err != nil {
		return nil, fmt.Errorf("get cash balance: %w", err)
	}
	qty := rt.compiled.GetContractQuantity(balance.AvailableCash, entry, stop)
	if qty <= 0 {
		return nil, nil
	}

	setup := &Setup{
		ID:         buildSetupID(rt.config.ID, signal.Direction, now),
		StrategyID: rt.config.ID,
		Symbol:     symbol,
		Direction:  string(signal.Direction),
		Entry:      entry,
		Stop:       stop,
		Target:     target,
		Qty:        qty,
		Status:     SetupStatusPending,
	}

	e.recordBehavioralData(ctx, rt, setup, evalCtx, signal)

	return setup, nil
}

// applyOpeningRange populates evalCtx.OpeningRange for an
// opening_range_breakout strategy by feeding the live quote into C4's
// opening-range tracker, then persists the range to C8 once it completes so
// a restart doesn't need to rebuild it live. No-op for every other pattern.
func (e *Engine) applyOpeningRange(ctx context.Context, rt *strategyRuntime, evalCtx *market.EvaluationContext, now time.Time) {
	if rt.config.Rules.Pattern != rules.PatternOpeningRangeBreakout {
		return
	}

	window := rules.OpeningRangeWindow(rt.config.Rules.Time, rt.config.Rules.OpeningRangeBreakout.PeriodMinutes)
	startHHMM := rules.FormatHHMM(window.StartMinute)
	endHHMM := rules.FormatHHMM(window.EndMinute)
	inWindow := window.Contains(now.Hour()*60 + now.Minute())

	or := e.aggregator.ObserveOpeningRange(evalCtx.Symbol, startHHMM, endHHMM, inWindow)
	evalCtx.OpeningRange = or

	if !or.Complete {
		return
	}
	if err := e.stateStore.PutOpeningRange(ctx, rt.config.ID, state.OpeningRange{
		High:       or.High,
		Low:        or.Low,
		IsComplete: true,
		FormedAt:   now,
	}); err != nil {
		e.logger.Printf("engine: strategy %s: persist opening range: %v", rt.config.ID, err)
	}
}

// buildSetupID constructs the setup-id composite
// "{strategyId}-{iso8601Timestamp}-{direction}-{6-hex-nonce}", where the
// nonce is the first 6 hex characters of a fresh UUID.
func buildSetupID(strategyID string, direction rules.Direction, now time.Time) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%s-%s-%s", strategyID, now.UTC().Format(time.RFC3339), direction, nonce)
}

// recordBehavioralData writes the one-way setup audit log entry: every
// detected setup, its triggering reason, and the indicator snapshot it fired
// against, regardless of how dispatch eventually resolves.
func (e *Engine) recordBehavioralData(ctx context.Context, rt *strategyRuntime, setup *Setup, evalCtx market.EvaluationContext, signal *compiler.EntrySignal) {
	indicators := make(map[string]*float64, len(evalCtx.EMA)+len(evalCtx.RSI)+len(evalCtx.ATR)+1)
	for period, v := range evalCtx.EMA {
		val := v
		indicators[fmt.Sprintf("ema%d", period)] = &val
	}
	for period, v := range evalCtx.RSI {
		val := v
		indicators[fmt.Sprintf("rsi%d", period)] = &val
	}
	for period, v := range evalCtx.ATR {
		val := v
		indicators[fmt.Sprintf("atr%d", period)] = &val
	}
	vwap := evalCtx.VWAP
	indicators["vwap"] = &vwap

	rec := &storage.BehavioralDataRecord{
		SetupID:       setup.ID,
		StrategyID:    rt.config.ID,
		Symbol:        setup.Symbol,
		SignalType:    string(rt.config.Rules.Pattern),
		Direction:     setup.Direction,
		Price:         evalCtx.Quote.Last,
		Status:        string(setup.Status),
		Reason:        signal.Reason,
		ConditionsMet: []string{signal.Reason},
		Indicators:    indicators,
		Timestamp:     evalCtx.Now,
	}
	if err := e.store.InsertBehavioralData(ctx, rec); err != nil {
		e.logger.Printf("engine: strategy %s: insert behavioral data for setup %s: %v", rt.config.ID, setup.ID, err)
	}
}

// processSetupQueue drains every currently queued setup, submitting each
// through C6/C7 in turn. Runs outside the per-tick strategy barrier so a slow
// submission never blocks strategy evaluation.
func (e *Engine) processSetupQueue(ctx context.Context) {
	for {
		setup, ok := e.queue.Pop()
		if !ok {
			return
		}
		if err := e.dispatchSetup(ctx, setup); err != nil {
			e.logger.Printf("engine: dispatch setup %s failed: %v", setup.ID, err)
			metrics.RecordOrderRejected(setup.Symbol, "dispatch_error")
		}
	}
}

// dispatchSetup routes one queued setup according to the engine's global
// kill switch and the owning strategy's autonomy level: execution disabled
// globally alerts rather than submits; copilot holds the setup for an
// external approveSetup/rejectSetup decision; autopilot executes directly.
func (e *Engine) dispatchSetup(ctx context.Context, setup Setup) error {
	e.mu.RLock()
	rt, ok := e.strategies[setup.StrategyID]
	executionEnabled := e.executionEnabled
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("strategy %s no longer active", setup.StrategyID)
	}

	if !executionEnabled {
		setup.Status = SetupStatusAlerted
		e.logger.Printf("engine: execution disabled globally, alerting setup %s (%s %s) instead of dispatching", setup.ID, setup.Direction, setup.Symbol)
		return nil
	}

	rt.mu.Lock()
	autonomy := rt.config.AutonomyLevel
	rt.mu.Unlock()

	if autonomy == storage.AutonomyCopilot {
		setup.Status = SetupStatusAwaitingApproval
		e.holdForApproval(setup)
		e.logger.Printf("engine: setup %s held for copilot approval (%s %s)", setup.ID, setup.Direction, setup.Symbol)
		return nil
	}

	return e.executeSetup(ctx, rt, setup)
}

// holdForApproval parks a copilot setup in memory until an external
// approveSetup/rejectSetup decision arrives. There is no persisted
// setup-by-id store, so a process restart drops any setup still awaiting
// approval — the operator would need to re-trigger it.
func (e *Engine) holdForApproval(setup Setup) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pendingApprovals[setup.ID] = setup
}

// executeSetup runs the actual safety-gated order submission/position-open
// path, shared by autopilot dispatch and copilot approval.
func (e *Engine) executeSetup(ctx context.Context, rt *strategyRuntime, setup Setup) error {
	limits, err := e.store.GetSafetyLimits(ctx, e.accountID, setup.StrategyID)
	if err != nil {
		return fmt.Errorf("get safety limits: %w", err)
	}

	openPositions, err := e.store.ListOpenPositions(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	var unrealized float64
	for _, p := range openPositions {
		unrealized += p.UnrealizedPnL
	}
	activity := orders.DailyActivity{
		TradesSinceMidnight: e.orderMgr.TradesSinceMidnight(e.accountID),
		OpenPositionCount:   len(openPositions),
		UnrealizedPnL:       unrealized,
		// RealizedPnL is left at zero: the persistence contract has no
		// "today's realized PnL for account" query, so the
		// MAX_DAILY_LOSS check here only sees unrealized exposure. The
		// periodic checkSafetyLimits pass (which also lacks a realized-PnL
		// source) pauses a strategy on unrealized breach for the same reason.
	}

	action := storage.OrderActionBuy
	if setup.Direction == string(rules.DirectionShort) {
		action = storage.OrderActionSell
	}

	order, err := e.orderMgr.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:             rt.config.UserID,
		StrategyID:         setup.StrategyID,
		TradovateAccountID: e.accountID,
		SetupID:            setup.ID,
		Symbol:             setup.Symbol,
		Action:             action,
		OrderType:          storage.OrderTypeMarket,
		OrderQty:           setup.Qty,
		TimeInForce:        storage.TimeInForceDay,
	}, limits, activity)
	if err != nil {
		setup.Status = SetupStatusFailed
		metrics.RecordOrderRejected(setup.Symbol, "safety_limit")
		return fmt.Errorf("create order: %w", err)
	}

	if err := e.orderMgr.SubmitOrder(ctx, order); err != nil {
		setup.Status = SetupStatusFailed
		metrics.RecordOrderRejected(setup.Symbol, "broker_rejected")
		return fmt.Errorf("submit order: %w", err)
	}
	metrics.RecordOrderSubmitted(setup.Symbol, string(action))
	setup.Status = SetupStatusExecuted
	e.logger.Printf("engine: setup %s executed (order %s, status %s)", setup.ID, order.ID, order.Status)

	if order.Status != storage.OrderStatusFilled {
		return nil
	}

	stop := setup.Stop
	target := setup.Target
	if _, err := e.positionMgr.OpenPosition(ctx, positions.OpenPositionInput{
		UserID:       rt.config.UserID,
		StrategyID:   setup.StrategyID,
		Symbol:       setup.Symbol,
		Action:       action,
		FilledQty:    order.FilledQty,
		AvgFillPrice: *order.AvgFillPrice,
		StopPrice:    &stop,
		TargetPrice:  &target,
	}); err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	return nil
}

// checkSafetyLimits implements periodic loss check: for every
// loaded strategy, sum the unrealized PnL of its open positions and pause the
// strategy once that loss reaches its MaxDailyLoss. Realized PnL is not
// included (see the note below).
func (e *Engine) checkSafetyLimits(ctx context.Context) {
	e.mu.RLock()
	runtimes := make([]*strategyRuntime, 0, len(e.strategies))
	for _, rt := range e.strategies {
		runtimes = append(runtimes, rt)
	}
	e.mu.RUnlock()

	risk, err := e.positionMgr.GetAccountRisk(ctx, e.accountID)
	if err != nil {
		e.logger.Printf("engine: checkSafetyLimits: get account risk: %v", err)
		return
	}
	metrics.SetAccountOpenRisk(e.accountID, risk.TotalRisk)

	openPositions, err := e.store.ListOpenPositions(ctx, e.accountID)
	if err != nil {
		e.logger.Printf("engine: checkSafetyLimits: list open positions: %v", err)
		return
	}
	metrics.SetOpenPositions(e.accountID, len(openPositions))

	// unrealizedByStrategy is the only PnL signal available here: the
	// persistence contract has no "today's realized PnL for strategy" query
	//, so this breach check sees open-position exposure only.
	unrealizedByStrategy := map[string]float64{}
	for _, p := range openPositions {
		unrealizedByStrategy[p.StrategyID] += p.UnrealizedPnL
		metrics.SetPositionUnrealizedPnL(p.StrategyID, p.Symbol, p.UnrealizedPnL)
	}

	for _, rt := range runtimes {
		limits, err := e.store.GetSafetyLimits(ctx, e.accountID, rt.config.ID)
		if err != nil || limits == nil {
			continue
		}
		totalPnL := unrealizedByStrategy[rt.config.ID]
		if totalPnL > -limits.MaxDailyLoss {
			continue
		}

		rt.mu.Lock()
		wasActive := rt.isActive
		rt.isActive = false
		rt.mu.Unlock()
		if wasActive {
			metrics.SetStrategyActive(rt.config.ID, false)
			e.logger.Printf("engine: strategy %s paused: daily loss %.2f breached limit %.2f", rt.config.ID, -totalPnL, limits.MaxDailyLoss)
		}
	}
}

// handleExternalApproval implements the copilot external-approval call:
// a rejected setup is dropped from pendingApprovals; an approved setup
// re-enters the dispatch path immediately through executeSetup rather than
// waiting for the next tick's processSetupQueue, since processSetupQueue
// only ever sees setups dispatchSetup hasn't already held for approval.
func (e *Engine) handleExternalApproval(setupID string, approved bool) {
	e.pendingMu.Lock()
	setup, ok := e.pendingApprovals[setupID]
	if ok {
		delete(e.pendingApprovals, setupID)
	}
	e.pendingMu.Unlock()

	if !ok {
		e.logger.Printf("engine: external approval for setup %s arrived with no held setup (already resolved, or the engine restarted since it was queued)", setupID)
		return
	}

	if !approved {
		setup.Status = SetupStatusRejected
		e.logger.Printf("engine: setup %s rejected externally", setupID)
		return
	}

	setup.Status = SetupStatusApproved
	e.logger.Printf("engine: setup %s approved externally, dispatching", setupID)

	e.mu.RLock()
	rt, ok := e.strategies[setup.StrategyID]
	e.mu.RUnlock()
	if !ok {
		e.logger.Printf("engine: setup %s approved but strategy %s no longer active", setupID, setup.StrategyID)
		return
	}

	if err := e.executeSetup(context.Background(), rt, setup); err != nil {
		e.logger.Printf("engine: dispatch approved setup %s failed: %v", setupID, err)
	}
}

// handleReload logs a reload request for strategyID. It does not re-read or
// recompile the strategy: the configuration loaded at Start stays in effect.
func (e *Engine) handleReload(strategyID string) {
	e.logger.Printf("engine: reload requested for strategy %s", strategyID)
}

// ReconcileAfterReconnect catches up the broker status of every open
// position's stop and target orders through C6's ReconcileOrders. Other
// non-terminal orders are not reconciled here: storage.Store has no query
// that lists them.
func (e *Engine) ReconcileAfterReconnect(ctx context.Context) error {
	openPositions, err := e.store.ListOpenPositions(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("engine: reconcile after reconnect: list open positions: %w", err)
	}

	candidates := make([]storage.Order, 0, len(openPositions))
	for _, p := range openPositions {
		if p.StopOrderID != "" {
			candidates = append(candidates, storage.Order{ID: p.StopOrderID, BrokerOrderID: p.StopOrderID, Status: storage.OrderStatusWorking})
		}
		if p.TargetOrderID != "" {
			candidates = append(candidates, storage.Order{ID: p.TargetOrderID, BrokerOrderID: p.TargetOrderID, Status: storage.OrderStatusWorking})
		}
	}
	if err := e.orderMgr.ReconcileOrders(ctx, candidates); err != nil {
		return fmt.Errorf("engine: reconcile after reconnect: %w", err)
	}
	metrics.RecordMarketDataReconnect()
	return nil
}

// ReportBreakerStates publishes every registered breaker's current state to
// metrics. Callers invoke this periodically (cmd/engine's own ticker) since
// the registry itself has no push notification for state changes.
func (e *Engine) ReportBreakerStates() {
	for _, name := range []string{breaker.BrokerOrders, breaker.BrokerMarketData, breaker.BrokerAuth} {
		b := e.breakers.Get(name, breaker.Config{FailureThreshold: 5, SuccessThreshold: 2, BaseTimeout: 60 * time.Second})
		metrics.SetBreakerState(name, strings.ToLower(b.State().String()))
	}
}
