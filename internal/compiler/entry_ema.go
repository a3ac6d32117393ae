package compiler

import (
	"fmt"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

const emaPullbackConfidence = 0.75
const pullbackLookback = 5

// shouldEnterEMAPullback implements ema_pullback entry
// semantics: trend direction from price-vs-EMA, a pullback gate requiring the
// EMA to have been touched in the last 5 candles, an optional RSI
// sub-filter, and a confirmation gate.
func shouldEnterEMAPullback(r *rules.CanonicalParsedRules, ctx market.EvaluationContext) *EntrySignal {
	entry := r.EMAPullback

	if len(ctx.Candles) < pullbackLookback {
		return nil
	}
	ema, ok := ctx.EMA[entry.EMAPeriod]
	if !ok {
		return nil
	}

	prev, ok := prevClosed(ctx)
	if !ok {
		return nil
	}

	var direction rules.Direction
	switch {
	case ctx.Quote.Last > ema && prev.Close > ema:
		direction = rules.DirectionLong
	case ctx.Quote.Last < ema && prev.Close < ema:
		direction = rules.DirectionShort
	default:
		return nil
	}
	if !directionAllows(direction, r.Direction) {
		return nil
	}

	if !pullbackTouchedEMA(ctx.Candles, ema) {
		return nil
	}

	if entry.RSI != nil {
		rsi, ok := ctx.RSI[entry.RSI.Period]
		if !ok || !rsiFilterHolds(entry.RSI, rsi) {
			return nil
		}
	}

	if !confirmationHolds(entry.PullbackConfirmation, direction, ctx, prev, ema) {
		return nil
	}

	reason := fmt.Sprintf("ema pullback %s: price %.4f vs ema(%d) %.4f, confirmation=%s",
		direction, ctx.Quote.Last, entry.EMAPeriod, ema, entry.PullbackConfirmation)
	return &EntrySignal{Direction: direction, Reason: reason, Confidence: emaPullbackConfidence, TriggerPrice: ema}
}

// pullbackTouchedEMA reports whether any of the last pullbackLookback candles
// spanned the EMA value (low <= ema <= high).
func pullbackTouchedEMA(candles []market.OHLCV, ema float64) bool {
	n := pullbackLookback
	if n > len(candles) {
		n = len(candles)
	}
	for _, c := range candles[len(candles)-n:] {
		if c.Low <= ema && ema <= c.High {
			return true
		}
	}
	return false
}

func rsiFilterHolds(f *rules.RSIFilter, rsi float64) bool {
	if f.Direction == rules.RSIAbove {
		return rsi > f.Threshold
	}
	return rsi < f.Threshold
}

// confirmationHolds dispatches on the pullback confirmation gate.
func confirmationHolds(c rules.PullbackConfirmation, direction rules.Direction, ctx market.EvaluationContext, prev market.OHLCV, ema float64) bool {
	switch c {
	case rules.ConfirmTouch:
		return true

	case rules.ConfirmCloseAbove:
		if direction == rules.DirectionLong {
			return prev.Low <= ema && ctx.CurrentCandle.Close > ema
		}
		return prev.High >= ema && ctx.CurrentCandle.Close < ema

	case rules.ConfirmBounce:
		if direction == rules.DirectionLong {
			return prev.Low <= ema && ctx.CurrentCandle.Close > ema && ctx.CurrentCandle.Close > prev.Close
		}
		return prev.High >= ema && ctx.CurrentCandle.Close < ema && ctx.CurrentCandle.Close < prev.Close

	default:
		return false
	}
}
