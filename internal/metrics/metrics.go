// Package metrics exposes prometheus instrumentation for the execution
// engine: per-strategy evaluation health, order/fill throughput, circuit
// breaker state, and broker connectivity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for the execution engine.
	Registry = prometheus.NewRegistry()

	// ============================================
	// Strategy evaluation
	// ============================================

	StrategyEvaluationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execengine",
			Subsystem: "strategy",
			Name:      "evaluations_total",
			Help:      "Total checkStrategy invocations",
		},
		[]string{"strategy_id", "result"}, // result: "signal", "no_signal", "error"
	)

	StrategyEvaluationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "execengine",
			Subsystem: "strategy",
			Name:      "evaluation_duration_seconds",
			Help:      "checkStrategy wall-clock duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"strategy_id"},
	)

	StrategyConsecutiveFailures = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "strategy",
			Name:      "consecutive_failures",
			Help:      "Current consecutive checkStrategy failure count",
		},
		[]string{"strategy_id"},
	)

	StrategyActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "strategy",
			Name:      "active",
			Help:      "Whether a strategy is active (1) or paused (0)",
		},
		[]string{"strategy_id"},
	)

	// ============================================
	// Orders and fills
	// ============================================

	OrdersSubmittedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execengine",
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Total orders submitted to the broker",
		},
		[]string{"symbol", "action"},
	)

	OrdersRejectedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execengine",
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Total orders rejected by the broker or the safety pipeline",
		},
		[]string{"symbol", "reason"},
	)

	FillsRecordedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execengine",
			Subsystem: "orders",
			Name:      "fills_recorded_total",
			Help:      "Total fills recorded",
		},
		[]string{"symbol"},
	)

	// ============================================
	// Positions
	// ============================================

	OpenPositionsCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "positions",
			Name:      "open_count",
			Help:      "Number of currently open positions",
		},
		[]string{"account_id"},
	)

	PositionUnrealizedPnL = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "positions",
			Name:      "unrealized_pnl",
			Help:      "Unrealized PnL per open position",
		},
		[]string{"strategy_id", "symbol"},
	)

	AccountOpenRisk = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "positions",
			Name:      "open_risk",
			Help:      "Sum of |entry - stop| * netQty across open positions",
		},
		[]string{"account_id"},
	)

	// ============================================
	// Circuit breakers and broker connectivity
	// ============================================

	BreakerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state: 0=closed, 1=half_open, 2=open",
		},
		[]string{"breaker"},
	)

	MarketDataReconnectsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "execengine",
			Subsystem: "market",
			Name:      "reconnects_total",
			Help:      "Total market-data WebSocket reconnect events",
		},
	)

	// ============================================
	// System
	// ============================================

	MonitoringTickDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "execengine",
			Subsystem: "system",
			Name:      "monitoring_tick_duration_seconds",
			Help:      "checkStrategy-across-all-strategies tick duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	ActiveStrategiesCount = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "execengine",
			Subsystem: "system",
			Name:      "active_strategies_count",
			Help:      "Number of currently active strategies",
		},
	)
)

// RecordEvaluation records the outcome of one checkStrategy invocation.
func RecordEvaluation(strategyID, result string, durationSeconds float64) {
	StrategyEvaluationsTotal.WithLabelValues(strategyID, result).Inc()
	StrategyEvaluationDuration.WithLabelValues(strategyID).Observe(durationSeconds)
}

// SetConsecutiveFailures reflects a strategy's auto-pause counter.
func SetConsecutiveFailures(strategyID string, n int) {
	StrategyConsecutiveFailures.WithLabelValues(strategyID).Set(float64(n))
}

// SetStrategyActive reflects a strategy's isActive flag.
func SetStrategyActive(strategyID string, active bool) {
	val := 0.0
	if active {
		val = 1.0
	}
	StrategyActive.WithLabelValues(strategyID).Set(val)
}

// RecordOrderSubmitted increments the order-submission counter.
func RecordOrderSubmitted(symbol, action string) {
	OrdersSubmittedTotal.WithLabelValues(symbol, action).Inc()
}

// RecordOrderRejected increments the order-rejection counter.
func RecordOrderRejected(symbol, reason string) {
	OrdersRejectedTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordFill increments the fill counter.
func RecordFill(symbol string) {
	FillsRecordedTotal.WithLabelValues(symbol).Inc()
}

// SetOpenPositions reflects the current open position count for an account.
func SetOpenPositions(accountID string, count int) {
	OpenPositionsCount.WithLabelValues(accountID).Set(float64(count))
}

// SetPositionUnrealizedPnL reflects one open position's running PnL.
func SetPositionUnrealizedPnL(strategyID, symbol string, pnl float64) {
	PositionUnrealizedPnL.WithLabelValues(strategyID, symbol).Set(pnl)
}

// ClearPositionMetrics removes a closed position's gauge series.
func ClearPositionMetrics(strategyID, symbol string) {
	PositionUnrealizedPnL.DeleteLabelValues(strategyID, symbol)
}

// SetAccountOpenRisk reflects getAccountRisk's total for an account.
func SetAccountOpenRisk(accountID string, risk float64) {
	AccountOpenRisk.WithLabelValues(accountID).Set(risk)
}

// breakerStateValue maps a circuit breaker's state name to the gauge's
// fixed 0/1/2 encoding.
func breakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetBreakerState reflects a named circuit breaker's current state.
func SetBreakerState(breaker, state string) {
	BreakerState.WithLabelValues(breaker).Set(breakerStateValue(state))
}

// RecordMarketDataReconnect increments the reconnect counter.
func RecordMarketDataReconnect() {
	MarketDataReconnectsTotal.Inc()
}

// RecordMonitoringTick records one full monitoring-tick duration.
func RecordMonitoringTick(durationSeconds float64) {
	MonitoringTickDuration.Observe(durationSeconds)
}

// SetActiveStrategies reflects the current active-strategy count.
func SetActiveStrategies(n int) {
	ActiveStrategiesCount.Set(float64(n))
}

// Init registers the standard go/process collectors alongside the
// domain-specific series above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
