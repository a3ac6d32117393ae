package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

func emaPullbackRules(rsi *rules.RSIFilter) *rules.CanonicalParsedRules {
	return &rules.CanonicalParsedRules{
		Pattern:    rules.PatternEMAPullback,
		Direction:  rules.DirectionBoth,
		Instrument: rules.Instruments[rules.SymbolNQ],
		Exit: rules.ExitSpec{
			StopLossType:    rules.StopATRMultiple,
			StopLossValue:   1.5,
			TakeProfitType:  rules.TakeProfitRRRatio,
			TakeProfitValue: 2,
		},
		Risk: rules.RiskSpec{PositionSizing: rules.SizingRiskPercent, RiskPercent: 1, MaxContracts: 3},
		Time: rules.TimeSpec{Session: rules.SessionAll},
		EMAPullback: &rules.EMAPullbackEntry{
			EMAPeriod:            20,
			PullbackConfirmation: rules.ConfirmBounce,
			RSI:                  rsi,
		},
	}
}

func bearishPullbackContext(rsiValue float64) market.EvaluationContext {
	return market.EvaluationContext{
		Now:   time.Now(),
		Quote: market.Quote{Last: 90},
		EMA:   map[int]float64{20: 100},
		RSI:   map[int]float64{14: rsiValue},
		Candles: []market.OHLCV{
			{Close: 105, High: 106, Low: 104},
			{Close: 103, High: 104, Low: 102},
			{Close: 101, High: 102, Low: 100},
			{Close: 98, High: 99, Low: 97},
			{Close: 95, High: 101, Low: 94}, // touches ema=100, becomes prev
		},
		CurrentCandle: market.OHLCV{Close: 90, Volume: 10},
	}
}

// TestScenario2_EMAPullbackShortRejectedByRSI reproduces spec's concrete
// rejection scenario: bearish setup with bounce confirmation satisfied, but
// rsi14=65 fails the "above 70" sub-filter, so no signal fires.
func TestScenario2_EMAPullbackShortRejectedByRSI(t *testing.T) {
	r := emaPullbackRules(&rules.RSIFilter{Period: 14, Threshold: 70, Direction: rules.RSIAbove})
	cs := Compile(r)

	ctx := bearishPullbackContext(65)
	assert.Nil(t, cs.ShouldEnter(ctx))
}

func TestEMAPullback_ShortFiresWhenRSIFilterSatisfied(t *testing.T) {
	r := emaPullbackRules(&rules.RSIFilter{Period: 14, Threshold: 70, Direction: rules.RSIAbove})
	cs := Compile(r)

	ctx := bearishPullbackContext(75)
	signal := cs.ShouldEnter(ctx)
	if assert.NotNil(t, signal) {
		assert.Equal(t, rules.DirectionShort, signal.Direction)
		assert.Equal(t, 100.0, signal.TriggerPrice)
		assert.Equal(t, 0.75, signal.Confidence)
	}
}

func TestEMAPullback_NoRSIFilterConfigured(t *testing.T) {
	r := emaPullbackRules(nil)
	cs := Compile(r)

	ctx := bearishPullbackContext(0)
	signal := cs.ShouldEnter(ctx)
	assert.NotNil(t, signal)
}

func TestEMAPullback_NoPullbackTouchIsNoSignal(t *testing.T) {
	r := emaPullbackRules(nil)
	cs := Compile(r)

	ctx := bearishPullbackContext(0)
	// Replace the last 5 candles so none of them touch ema=100.
	ctx.Candles = []market.OHLCV{
		{Close: 50, High: 51, Low: 49},
		{Close: 49, High: 50, Low: 48},
		{Close: 48, High: 49, Low: 47},
		{Close: 47, High: 48, Low: 46},
		{Close: 46, High: 47, Low: 45},
	}
	assert.Nil(t, cs.ShouldEnter(ctx))
}

func TestEMAPullback_InsufficientCandleHistoryIsNoSignal(t *testing.T) {
	r := emaPullbackRules(nil)
	cs := Compile(r)

	ctx := bearishPullbackContext(0)
	ctx.Candles = ctx.Candles[:3]
	assert.Nil(t, cs.ShouldEnter(ctx))
}
