package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validORB() *CanonicalParsedRules {
	return &CanonicalParsedRules{
		Pattern:    PatternOpeningRangeBreakout,
		Direction:  DirectionBoth,
		Instrument: Instruments[SymbolES],
		Exit: ExitSpec{
			StopLossType:    StopOppositeRange,
			StopLossValue:   0,
			TakeProfitType:  TakeProfitRRRatio,
			TakeProfitValue: 2,
		},
		Risk: RiskSpec{
			PositionSizing: SizingRiskPercent,
			RiskPercent:    1,
			MaxContracts:   5,
		},
		Time: TimeSpec{Session: SessionNY},
		OpeningRangeBreakout: &ORBEntry{
			PeriodMinutes: 30,
			EntryOn:       EntryOnBoth,
		},
	}
}

func TestValidate_AcceptsValidORB(t *testing.T) {
	err := Validate(validORB())
	assert.NoError(t, err)
}

func TestValidate_RejectsUnknownPattern(t *testing.T) {
	r := validORB()
	r.Pattern = "not_a_pattern"
	err := Validate(r)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Contains(t, ve.Violations[0], "pattern")
}

func TestValidate_RejectsUnsupportedSymbol(t *testing.T) {
	r := validORB()
	r.Instrument = Instrument{Symbol: "BTC", ContractSize: 1, TickSize: 1, TickValue: 1}
	err := Validate(r)
	require.Error(t, err)
	ve := err.(*ValidationError)
	found := false
	for _, v := range ve.Violations {
		if v == `instrument.symbol: unsupported symbol "BTC"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_AggregatesMultipleViolations(t *testing.T) {
	r := validORB()
	r.Direction = "sideways"
	r.Risk.RiskPercent = 50
	r.Risk.MaxContracts = 0
	err := Validate(r)
	require.Error(t, err)
	ve := err.(*ValidationError)
	assert.GreaterOrEqual(t, len(ve.Violations), 3)
}

func TestValidate_RejectsMismatchedEntryPayload(t *testing.T) {
	r := validORB()
	r.Breakout = &BreakoutEntry{LookbackPeriod: 20, LevelType: LevelBoth, Confirmation: BreakoutConfirmNone}
	err := Validate(r)
	require.Error(t, err)
	ve := err.(*ValidationError)
	found := false
	for _, v := range ve.Violations {
		if v == "pattern=opening_range_breakout but a non-matching entry payload is also set" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_RejectsMissingEntryPayload(t *testing.T) {
	r := validORB()
	r.OpeningRangeBreakout = nil
	err := Validate(r)
	require.Error(t, err)
	ve := err.(*ValidationError)
	assert.Contains(t, ve.Violations, "opening_range_breakout entry payload is required")
}

func TestValidate_EMAPullbackRSIFilterRanges(t *testing.T) {
	r := validORB()
	r.Pattern = PatternEMAPullback
	r.OpeningRangeBreakout = nil
	r.EMAPullback = &EMAPullbackEntry{
		EMAPeriod:            20,
		PullbackConfirmation: ConfirmTouch,
		RSI: &RSIFilter{
			Period:    200,
			Threshold: 500,
			Direction: "diagonal",
		},
	}
	err := Validate(r)
	require.Error(t, err)
	ve := err.(*ValidationError)
	assert.GreaterOrEqual(t, len(ve.Violations), 3)
}

func TestValidate_BreakoutValid(t *testing.T) {
	r := validORB()
	r.Pattern = PatternBreakout
	r.OpeningRangeBreakout = nil
	r.Breakout = &BreakoutEntry{
		LookbackPeriod: 20,
		LevelType:      LevelResistance,
		Confirmation:   BreakoutConfirmClose,
	}
	assert.NoError(t, Validate(r))
}

func TestValidate_CustomSessionRequiresHHMM(t *testing.T) {
	r := validORB()
	r.Time = TimeSpec{Session: SessionCustom, CustomStart: "9:30", CustomEnd: "16:00"}
	err := Validate(r)
	require.Error(t, err)
	ve := err.(*ValidationError)
	assert.Contains(t, ve.Violations, `time.customStart: must be HH:MM, got "9:30"`)
}

func TestValidate_CustomSessionValidHHMM(t *testing.T) {
	r := validORB()
	r.Time = TimeSpec{Session: SessionCustom, CustomStart: "09:30", CustomEnd: "16:00"}
	assert.NoError(t, Validate(r))
}

func TestValidationError_SingleViolationMessage(t *testing.T) {
	err := &ValidationError{Violations: []string{"only one problem"}}
	assert.Equal(t, "validation error: only one problem", err.Error())
}

func TestValidationError_MultipleViolationsMessage(t *testing.T) {
	err := &ValidationError{Violations: []string{"first problem", "second problem"}}
	assert.Contains(t, err.Error(), "2 violations")
	assert.Contains(t, err.Error(), "first problem")
}
