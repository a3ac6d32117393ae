package compiler

import (
	"fmt"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

const orbConfidence = 0.85

// shouldEnterORB implements opening_range_breakout entry
// semantics: the opening range must be complete, enough time must have
// passed since the session start for the configured period to have elapsed,
// and the previous closed candle must not have already cleared the level
// that the live quote just broke.
func shouldEnterORB(r *rules.CanonicalParsedRules, ctx market.EvaluationContext) *EntrySignal {
	entry := r.OpeningRangeBreakout
	or := ctx.OpeningRange

	if !or.Complete {
		return nil
	}
	if !orbPeriodElapsed(r, ctx.Now) {
		return nil
	}

	prev, ok := prevClosed(ctx)
	if !ok {
		return nil
	}

	if directionAllows(rules.DirectionLong, r.Direction) &&
		(entry.EntryOn == rules.EntryOnBreakHigh || entry.EntryOn == rules.EntryOnBoth) &&
		prev.Close <= or.High && ctx.Quote.Last > or.High {
		return &EntrySignal{
			Direction:    rules.DirectionLong,
			Reason:       fmt.Sprintf("opening range breakout: price %.4f > OR high %.4f", ctx.Quote.Last, or.High),
			Confidence:   orbConfidence,
			TriggerPrice: or.High,
		}
	}

	if directionAllows(rules.DirectionShort, r.Direction) &&
		(entry.EntryOn == rules.EntryOnBreakLow || entry.EntryOn == rules.EntryOnBoth) &&
		prev.Close >= or.Low && ctx.Quote.Last < or.Low {
		return &EntrySignal{
			Direction:    rules.DirectionShort,
			Reason:       fmt.Sprintf("opening range breakdown: price %.4f < OR low %.4f", ctx.Quote.Last, or.Low),
			Confidence:   orbConfidence,
			TriggerPrice: or.Low,
		}
	}

	return nil
}

// orbPeriodElapsed checks now >= sessionStart + periodMinutes, wrap-aware for
// sessions like Asia that cross midnight.
func orbPeriodElapsed(r *rules.CanonicalParsedRules, now time.Time) bool {
	window := rules.ResolveSession(r.Time)
	nowMinute := now.Hour()*60 + now.Minute()

	elapsed := nowMinute - window.StartMinute
	if elapsed < 0 {
		if !window.Wraps {
			return false
		}
		elapsed += 24 * 60
	}
	return elapsed >= r.OpeningRangeBreakout.PeriodMinutes
}
