package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

func breakoutRules(confirmation rules.BreakoutConfirmation) *rules.CanonicalParsedRules {
	return &rules.CanonicalParsedRules{
		Pattern:    rules.PatternBreakout,
		Direction:  rules.DirectionBoth,
		Instrument: rules.Instruments[rules.SymbolCL],
		Exit: rules.ExitSpec{
			StopLossType:    rules.StopStructure,
			TakeProfitType:  rules.TakeProfitStructure,
			TakeProfitValue: 1,
		},
		Risk: rules.RiskSpec{PositionSizing: rules.SizingRiskPercent, RiskPercent: 1, MaxContracts: 3},
		Time: rules.TimeSpec{Session: rules.SessionAll},
		Breakout: &rules.BreakoutEntry{
			LookbackPeriod: 20,
			LevelType:      rules.LevelResistance,
			Confirmation:   confirmation,
		},
	}
}

func breakoutContext(currentVolume int64) market.EvaluationContext {
	candles := make([]market.OHLCV, 0, 21)
	for i := 0; i < 20; i++ {
		candles = append(candles, market.OHLCV{Close: 70, High: 70.5, Low: 69.5, Volume: 1000})
	}
	// prev: the closed candle right before now, still below the established period high.
	candles = append(candles, market.OHLCV{Close: 70.2, High: 70.3, Low: 69.8, Volume: 1000})

	return market.EvaluationContext{
		Now:           time.Now(),
		Quote:         market.Quote{Last: 71.0},
		Candles:       candles,
		CurrentCandle: market.OHLCV{Close: 71.0, Volume: currentVolume},
	}
}

// TestScenario3_BreakoutVolumeConfirmation reproduces spec's concrete volume
// confirmation scenario: average volume 1000 over the lookback, current
// candle volume 1400 does not clear 1.5x and produces no signal; 1600 does.
func TestScenario3_BreakoutVolumeConfirmation(t *testing.T) {
	r := breakoutRules(rules.BreakoutConfirmVolume)
	cs := Compile(r)

	noSignalCtx := breakoutContext(1400)
	assert.Nil(t, cs.ShouldEnter(noSignalCtx))

	firesCtx := breakoutContext(1600)
	signal := cs.ShouldEnter(firesCtx)
	require.NotNil(t, signal)
	assert.Equal(t, rules.DirectionLong, signal.Direction)
	assert.Equal(t, 0.70, signal.Confidence)
	assert.InDelta(t, 70.5, signal.TriggerPrice, 0.0001)
}

func TestBreakout_NoneConfirmationFiresImmediately(t *testing.T) {
	r := breakoutRules(rules.BreakoutConfirmNone)
	cs := Compile(r)

	ctx := breakoutContext(1)
	assert.NotNil(t, cs.ShouldEnter(ctx))
}

func TestBreakout_CloseConfirmationRequiresCurrentCloseBeyondLevel(t *testing.T) {
	r := breakoutRules(rules.BreakoutConfirmClose)
	cs := Compile(r)

	ctx := breakoutContext(1)
	ctx.CurrentCandle.Close = 70.5 // equals periodHigh exactly, not strictly above it
	assert.Nil(t, cs.ShouldEnter(ctx))

	ctx.CurrentCandle.Close = 71.0
	assert.NotNil(t, cs.ShouldEnter(ctx))
}

func TestBreakout_InsufficientLookbackHistoryIsNoSignal(t *testing.T) {
	r := breakoutRules(rules.BreakoutConfirmNone)
	cs := Compile(r)

	ctx := breakoutContext(1)
	ctx.Candles = ctx.Candles[:10]
	assert.Nil(t, cs.ShouldEnter(ctx))
}
