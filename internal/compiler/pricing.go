package compiler

import (
	"math"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

// getStopPrice dispatches on r.Exit.StopLossType.
func getStopPrice(r *rules.CanonicalParsedRules, direction rules.Direction, entry float64, ctx market.EvaluationContext) float64 {
	tickSize := r.Instrument.TickSize
	long := direction == rules.DirectionLong

	switch r.Exit.StopLossType {
	case rules.StopFixedTicks:
		offset := r.Exit.StopLossValue * tickSize
		if long {
			return entry - offset
		}
		return entry + offset

	case rules.StopATRMultiple:
		atr, ok := ctx.ATR[14]
		if !ok || atr <= 0 {
			atr = 10 * tickSize
		}
		offset := r.Exit.StopLossValue * atr
		if long {
			return entry - offset
		}
		return entry + offset

	case rules.StopStructure:
		low, high := swingLowHigh(ctx.Candles, 10)
		if long {
			return low - tickSize
		}
		return high + tickSize

	case rules.StopOppositeRange:
		or := ctx.OpeningRange
		if r.Pattern == rules.PatternOpeningRangeBreakout && or.Complete {
			if long {
				return or.Low - tickSize
			}
			return or.High + tickSize
		}
		offset := 20 * tickSize
		if long {
			return entry - offset
		}
		return entry + offset
	}

	return entry
}

// getTargetPrice dispatches on r.Exit.TakeProfitType.
func getTargetPrice(r *rules.CanonicalParsedRules, direction rules.Direction, entry, stop float64, ctx market.EvaluationContext) float64 {
	long := direction == rules.DirectionLong
	risk := math.Abs(entry - stop)

	switch r.Exit.TakeProfitType {
	case rules.TakeProfitRRRatio:
		offset := r.Exit.TakeProfitValue * risk
		if long {
			return entry + offset
		}
		return entry - offset

	case rules.TakeProfitFixedTicks:
		offset := r.Exit.TakeProfitValue * r.Instrument.TickSize
		if long {
			return entry + offset
		}
		return entry - offset

	case rules.TakeProfitOppositeRange:
		or := ctx.OpeningRange
		if or.Complete && or.High > or.Low {
			extension := or.High - or.Low
			if long {
				return or.High + extension
			}
			return or.Low - extension
		}
		if long {
			return entry + 2*risk
		}
		return entry - 2*risk

	case rules.TakeProfitStructure:
		if long {
			return entry + 2*risk
		}
		return entry - 2*risk
	}

	return entry
}

// getContractQuantity implements position-sizing formula,
// clamped to [1, maxContracts]. Fixed-contract sizing bypasses the
// risk-percent formula entirely and uses maxContracts as the fixed count.
func getContractQuantity(r *rules.CanonicalParsedRules, accountBalance, entry, stop float64) int {
	maxContracts := r.Risk.MaxContracts

	if r.Risk.PositionSizing == rules.SizingFixedContracts {
		return clampContracts(maxContracts, maxContracts)
	}

	riskPerShare := math.Abs(entry-stop) / r.Instrument.TickSize * r.Instrument.TickValue
	if riskPerShare <= 0 {
		return clampContracts(1, maxContracts)
	}

	riskAmount := accountBalance * r.Risk.RiskPercent / 100
	quantity := int(math.Floor(riskAmount / riskPerShare))
	return clampContracts(quantity, maxContracts)
}

func clampContracts(quantity, maxContracts int) int {
	if quantity < 1 {
		return 1
	}
	if quantity > maxContracts {
		return maxContracts
	}
	return quantity
}

// swingLowHigh returns the low/high extremes over the last n closed candles.
func swingLowHigh(candles []market.OHLCV, n int) (low, high float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	if n > len(candles) {
		n = len(candles)
	}
	window := candles[len(candles)-n:]
	low, high = window[0].Low, window[0].High
	for _, c := range window[1:] {
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}
	return low, high
}
