package compiler

import (
	"fmt"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

const breakoutConfidence = 0.70
const breakoutVolumeLookback = 20
const breakoutVolumeMultiplier = 1.5

// shouldEnterBreakout implements breakout entry semantics:
// the period high/low over the lookback window, a clearance condition on the
// live quote that the previous closed candle had not yet met, and a
// confirmation gate. The lookback window is the lookbackPeriod candles
// immediately before prev — prev itself is excluded, otherwise prev.high <
// periodHigh could never hold whenever prev set the period's own high,
// mirroring internal/strategy/breakout.go's priorCandles exclusion.
func shouldEnterBreakout(r *rules.CanonicalParsedRules, ctx market.EvaluationContext) *EntrySignal {
	entry := r.Breakout

	if len(ctx.Candles) < entry.LookbackPeriod+1 {
		return nil
	}
	prev, ok := prevClosed(ctx)
	if !ok {
		return nil
	}

	priorCandles := ctx.Candles[:len(ctx.Candles)-1]
	window := priorCandles[len(priorCandles)-entry.LookbackPeriod:]
	periodHigh, periodLow := windowHighLow(window)

	if directionAllows(rules.DirectionLong, r.Direction) &&
		(entry.LevelType == rules.LevelResistance || entry.LevelType == rules.LevelBoth) &&
		prev.High < periodHigh && ctx.Quote.Last > periodHigh &&
		breakoutConfirmationHolds(entry.Confirmation, rules.DirectionLong, ctx, periodHigh) {
		return &EntrySignal{
			Direction:    rules.DirectionLong,
			Reason:       fmt.Sprintf("breakout: price %.4f > %d-period high %.4f", ctx.Quote.Last, entry.LookbackPeriod, periodHigh),
			Confidence:   breakoutConfidence,
			TriggerPrice: periodHigh,
		}
	}

	if directionAllows(rules.DirectionShort, r.Direction) &&
		(entry.LevelType == rules.LevelSupport || entry.LevelType == rules.LevelBoth) &&
		prev.Low > periodLow && ctx.Quote.Last < periodLow &&
		breakoutConfirmationHolds(entry.Confirmation, rules.DirectionShort, ctx, periodLow) {
		return &EntrySignal{
			Direction:    rules.DirectionShort,
			Reason:       fmt.Sprintf("breakdown: price %.4f < %d-period low %.4f", ctx.Quote.Last, entry.LookbackPeriod, periodLow),
			Confidence:   breakoutConfidence,
			TriggerPrice: periodLow,
		}
	}

	return nil
}

func windowHighLow(window []market.OHLCV) (high, low float64) {
	high, low = window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func breakoutConfirmationHolds(c rules.BreakoutConfirmation, direction rules.Direction, ctx market.EvaluationContext, level float64) bool {
	switch c {
	case rules.BreakoutConfirmNone:
		return true

	case rules.BreakoutConfirmClose:
		if direction == rules.DirectionLong {
			return ctx.CurrentCandle.Close > level
		}
		return ctx.CurrentCandle.Close < level

	case rules.BreakoutConfirmVolume:
		n := breakoutVolumeLookback
		if n > len(ctx.Candles) {
			n = len(ctx.Candles)
		}
		recent := ctx.Candles[len(ctx.Candles)-n:]
		var sum int64
		for _, c := range recent {
			sum += c.Volume
		}
		mean := float64(sum) / float64(len(recent))
		return float64(ctx.CurrentCandle.Volume) > breakoutVolumeMultiplier*mean

	default:
		return false
	}
}
