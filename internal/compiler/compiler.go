// Package compiler turns a validated canonical rule record into a
// CompiledStrategy: a closed-over bundle of pure functions the execution
// engine calls on every tick. Compilation is total over a validated record
// — it never fails, since internal/rules.Validate has already rejected
// anything that would make dispatch ambiguous.
//
// Grounded on internal/strategy.Strategy's Evaluate(input) TradeIntent
// interface, generalized from one method per strategy instance to a struct
// of function fields so the compiler can close over the validated rules
// record directly instead of requiring a new named type per pattern.
package compiler

import (
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

// EntrySignal is returned by ShouldEnter when a pattern's entry conditions
// are met.
type EntrySignal struct {
	Direction    rules.Direction
	Reason       string
	Confidence   float64
	TriggerPrice float64
}

// CompiledStrategy is the pure-function bundle produced by Compile. Direction
// is threaded explicitly into the price functions since the "entry ∓ value"
// dispatch depends on which side the ShouldEnter signal fired on.
type CompiledStrategy struct {
	Rules *rules.CanonicalParsedRules

	ShouldEnter          func(ctx market.EvaluationContext) *EntrySignal
	GetEntryPrice        func(ctx market.EvaluationContext) float64
	GetStopPrice         func(direction rules.Direction, entry float64, ctx market.EvaluationContext) float64
	GetTargetPrice       func(direction rules.Direction, entry, stop float64, ctx market.EvaluationContext) float64
	GetContractQuantity  func(accountBalance, entry, stop float64) int
	IsTimeValid          func(now time.Time) bool
}

// Compile closes a CompiledStrategy over a validated canonical rules record.
// Callers are expected to have already run rules.Validate(r) successfully.
func Compile(r *rules.CanonicalParsedRules) *CompiledStrategy {
	cs := &CompiledStrategy{Rules: r}

	cs.ShouldEnter = shouldEnterFor(r)
	cs.GetEntryPrice = getEntryPrice
	cs.GetStopPrice = func(direction rules.Direction, entry float64, ctx market.EvaluationContext) float64 {
		return getStopPrice(r, direction, entry, ctx)
	}
	cs.GetTargetPrice = func(direction rules.Direction, entry, stop float64, ctx market.EvaluationContext) float64 {
		return getTargetPrice(r, direction, entry, stop, ctx)
	}
	cs.GetContractQuantity = func(accountBalance, entry, stop float64) int {
		return getContractQuantity(r, accountBalance, entry, stop)
	}
	cs.IsTimeValid = func(now time.Time) bool {
		return rules.IsTimeValid(r.Time, now)
	}

	return cs
}

// shouldEnterFor dispatches to the one pattern-specific entry evaluator that
// matches r.Pattern. Validate guarantees exactly one of r.OpeningRangeBreakout
// / r.EMAPullback / r.Breakout is non-nil and matches the discriminator.
func shouldEnterFor(r *rules.CanonicalParsedRules) func(ctx market.EvaluationContext) *EntrySignal {
	switch r.Pattern {
	case rules.PatternOpeningRangeBreakout:
		return func(ctx market.EvaluationContext) *EntrySignal { return shouldEnterORB(r, ctx) }
	case rules.PatternEMAPullback:
		return func(ctx market.EvaluationContext) *EntrySignal { return shouldEnterEMAPullback(r, ctx) }
	case rules.PatternBreakout:
		return func(ctx market.EvaluationContext) *EntrySignal { return shouldEnterBreakout(r, ctx) }
	default:
		return func(ctx market.EvaluationContext) *EntrySignal { return nil }
	}
}

// getEntryPrice defaults to the latest quote.
func getEntryPrice(ctx market.EvaluationContext) float64 {
	return ctx.Quote.Last
}

// prevClosed returns the most recently closed candle — the "prev" candle
// referenced throughout — or false if none have closed yet.
// ctx.Candles holds only closed bars (ascending, current in-progress bar is
// tracked separately as ctx.CurrentCandle), so prev is simply the last entry.
func prevClosed(ctx market.EvaluationContext) (market.OHLCV, bool) {
	if len(ctx.Candles) == 0 {
		return market.OHLCV{}, false
	}
	return ctx.Candles[len(ctx.Candles)-1], true
}

func directionAllows(want rules.Direction, allowed rules.Direction) bool {
	return allowed == rules.DirectionBoth || allowed == want
}
