// Package rules implements the canonical, versioned, pattern-discriminated
// rule schema and its runtime validation. Validation is the
// only boundary between rule authoring and execution: any record accepted by
// Validate is guaranteed, downstream, to have every required field present
// and every enumerated value in range. No "partial" or "untagged" record is
// ever propagated past this package.
package rules

import "fmt"

// Pattern discriminates the three supported strategy patterns.
type Pattern string

const (
	PatternOpeningRangeBreakout Pattern = "opening_range_breakout"
	PatternEMAPullback          Pattern = "ema_pullback"
	PatternBreakout             Pattern = "breakout"
)

// Symbol is one of the seven supported futures root symbols.
type Symbol string

const (
	SymbolES  Symbol = "ES"
	SymbolNQ  Symbol = "NQ"
	SymbolYM  Symbol = "YM"
	SymbolRTY Symbol = "RTY"
	SymbolCL  Symbol = "CL"
	SymbolGC  Symbol = "GC"
	SymbolSI  Symbol = "SI"
)

// Instrument holds the tick size/value constants for one futures root symbol.
type Instrument struct {
	Symbol       Symbol
	ContractSize float64
	TickSize     float64
	TickValue    float64
}

// Instruments is the fixed constants table for the seven supported symbols.
var Instruments = map[Symbol]Instrument{
	SymbolES:  {Symbol: SymbolES, ContractSize: 1, TickSize: 0.25, TickValue: 12.50},
	SymbolNQ:  {Symbol: SymbolNQ, ContractSize: 1, TickSize: 0.25, TickValue: 5.00},
	SymbolYM:  {Symbol: SymbolYM, ContractSize: 1, TickSize: 1.00, TickValue: 5.00},
	SymbolRTY: {Symbol: SymbolRTY, ContractSize: 1, TickSize: 0.10, TickValue: 5.00},
	SymbolCL:  {Symbol: SymbolCL, ContractSize: 1, TickSize: 0.01, TickValue: 10.00},
	SymbolGC:  {Symbol: SymbolGC, ContractSize: 1, TickSize: 0.10, TickValue: 10.00},
	SymbolSI:  {Symbol: SymbolSI, ContractSize: 1, TickSize: 0.005, TickValue: 25.00},
}

// StopLossType discriminates how the compiled strategy computes a stop price.
type StopLossType string

const (
	StopFixedTicks    StopLossType = "fixed_ticks"
	StopStructure     StopLossType = "structure"
	StopATRMultiple   StopLossType = "atr_multiple"
	StopOppositeRange StopLossType = "opposite_range"
)

// TakeProfitType discriminates how the compiled strategy computes a target price.
type TakeProfitType string

const (
	TakeProfitRRRatio        TakeProfitType = "rr_ratio"
	TakeProfitFixedTicks     TakeProfitType = "fixed_ticks"
	TakeProfitOppositeRange  TakeProfitType = "opposite_range"
	TakeProfitStructure      TakeProfitType = "structure"
)

// ExitSpec carries the stop-loss and take-profit configuration.
type ExitSpec struct {
	StopLossType    StopLossType
	StopLossValue   float64
	TakeProfitType  TakeProfitType
	TakeProfitValue float64
}

// PositionSizing discriminates contract-sizing strategy.
type PositionSizing string

const (
	SizingRiskPercent    PositionSizing = "risk_percent"
	SizingFixedContracts PositionSizing = "fixed_contracts"
)

// RiskSpec carries position sizing configuration.
type RiskSpec struct {
	PositionSizing PositionSizing
	RiskPercent    float64 // percent units, e.g. 1.0 means 1%, in [0.1, 5]
	MaxContracts   int     // in [1, 20]
}

// Session discriminates the named trading-hours window.
type Session string

const (
	SessionNY     Session = "ny"
	SessionLondon Session = "london"
	SessionAsia   Session = "asia"
	SessionAll    Session = "all"
	SessionCustom Session = "custom"
)

// TimeSpec carries session-time configuration.
type TimeSpec struct {
	Session     Session
	CustomStart string // "HH:MM", required iff Session == SessionCustom
	CustomEnd   string // "HH:MM", required iff Session == SessionCustom
	Timezone    string
}

// EntryOn discriminates which side of the opening range triggers an ORB entry.
type EntryOn string

const (
	EntryOnBreakHigh EntryOn = "break_high"
	EntryOnBreakLow  EntryOn = "break_low"
	EntryOnBoth      EntryOn = "both"
)

// ORBEntry carries opening_range_breakout-specific configuration.
type ORBEntry struct {
	PeriodMinutes int // in [5, 120]
	EntryOn       EntryOn
}

// PullbackConfirmation discriminates the ema_pullback confirmation gate.
type PullbackConfirmation string

const (
	ConfirmTouch      PullbackConfirmation = "touch"
	ConfirmCloseAbove PullbackConfirmation = "close_above"
	ConfirmBounce     PullbackConfirmation = "bounce"
)

// RSIDirection discriminates the ema_pullback optional RSI sub-filter direction.
type RSIDirection string

const (
	RSIAbove RSIDirection = "above"
	RSIBelow RSIDirection = "below"
)

// RSIFilter is the optional ema_pullback RSI sub-condition.
type RSIFilter struct {
	Period    int // in [2, 50]
	Threshold float64 // in [0, 100]
	Direction RSIDirection
}

// EMAPullbackEntry carries ema_pullback-specific configuration.
type EMAPullbackEntry struct {
	EMAPeriod            int // in [5, 200]
	PullbackConfirmation PullbackConfirmation
	RSI                  *RSIFilter // nil if not configured
}

// LevelType discriminates which side of the lookback window a breakout must clear.
type LevelType string

const (
	LevelResistance LevelType = "resistance"
	LevelSupport    LevelType = "support"
	LevelBoth       LevelType = "both"
)

// BreakoutConfirmation discriminates the breakout pattern's confirmation gate.
type BreakoutConfirmation string

const (
	BreakoutConfirmNone   BreakoutConfirmation = "none"
	BreakoutConfirmClose  BreakoutConfirmation = "close"
	BreakoutConfirmVolume BreakoutConfirmation = "volume"
)

// BreakoutEntry carries breakout-specific configuration.
type BreakoutEntry struct {
	LookbackPeriod int // in [5, 100], default 20
	LevelType      LevelType
	Confirmation   BreakoutConfirmation
}

// Direction is the side a pattern's entry may fire on.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBoth  Direction = "both"
)

// CanonicalParsedRules is the tagged sum over the three pattern kinds.
// Exactly one of OpeningRangeBreakout, EMAPullback, Breakout is
// non-nil, matching Pattern. Validate is the only path that should ever
// produce one of these from untrusted input.
type CanonicalParsedRules struct {
	Pattern    Pattern
	Direction  Direction
	Instrument Instrument
	Exit       ExitSpec
	Risk       RiskSpec
	Time       TimeSpec

	OpeningRangeBreakout *ORBEntry
	EMAPullback          *EMAPullbackEntry
	Breakout             *BreakoutEntry
}

// ValidationError is raised by Validate when a record fails schema
// validation. Violations aggregates every
// problem found, not just the first, so an operator sees the whole picture
// in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("validation error: %s", e.Violations[0])
	}
	return fmt.Sprintf("validation error: %d violations (first: %s)", len(e.Violations), e.Violations[0])
}

// Validate checks every required field and enumerated range, returning a
// *ValidationError aggregating every violation found, or nil if the record
// is valid.
func Validate(r *CanonicalParsedRules) error {
	var v []string
	add := func(format string, args ...any) { v = append(v, fmt.Sprintf(format, args...)) }

	switch r.Pattern {
	case PatternOpeningRangeBreakout, PatternEMAPullback, PatternBreakout:
	default:
		add("pattern: unknown discriminator %q", r.Pattern)
	}

	switch r.Direction {
	case DirectionLong, DirectionShort, DirectionBoth:
	default:
		add("direction: unknown value %q", r.Direction)
	}

	if _, ok := Instruments[r.Instrument.Symbol]; !ok {
		add("instrument.symbol: unsupported symbol %q", r.Instrument.Symbol)
	}
	if r.Instrument.ContractSize <= 0 {
		add("instrument.contractSize: must be > 0, got %v", r.Instrument.ContractSize)
	}
	if r.Instrument.TickSize <= 0 {
		add("instrument.tickSize: must be > 0, got %v", r.Instrument.TickSize)
	}
	if r.Instrument.TickValue <= 0 {
		add("instrument.tickValue: must be > 0, got %v", r.Instrument.TickValue)
	}

	validateExit(r.Exit, add)
	validateRisk(r.Risk, add)
	validateTime(r.Time, add)

	switch r.Pattern {
	case PatternOpeningRangeBreakout:
		validateORB(r.OpeningRangeBreakout, add)
		if r.EMAPullback != nil || r.Breakout != nil {
			add("pattern=opening_range_breakout but a non-matching entry payload is also set")
		}
	case PatternEMAPullback:
		validateEMAPullback(r.EMAPullback, add)
		if r.OpeningRangeBreakout != nil || r.Breakout != nil {
			add("pattern=ema_pullback but a non-matching entry payload is also set")
		}
	case PatternBreakout:
		validateBreakout(r.Breakout, add)
		if r.OpeningRangeBreakout != nil || r.EMAPullback != nil {
			add("pattern=breakout but a non-matching entry payload is also set")
		}
	}

	if len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

func validateExit(e ExitSpec, add func(string, ...any)) {
	switch e.StopLossType {
	case StopFixedTicks, StopStructure, StopATRMultiple, StopOppositeRange:
	default:
		add("exit.stopLoss.type: unknown value %q", e.StopLossType)
	}
	if e.StopLossValue < 0 {
		add("exit.stopLoss.value: must be >= 0, got %v", e.StopLossValue)
	}
	switch e.TakeProfitType {
	case TakeProfitRRRatio, TakeProfitFixedTicks, TakeProfitOppositeRange, TakeProfitStructure:
	default:
		add("exit.takeProfit.type: unknown value %q", e.TakeProfitType)
	}
	if e.TakeProfitValue <= 0 {
		add("exit.takeProfit.value: must be > 0, got %v", e.TakeProfitValue)
	}
}

func validateRisk(r RiskSpec, add func(string, ...any)) {
	switch r.PositionSizing {
	case SizingRiskPercent, SizingFixedContracts:
	default:
		add("risk.positionSizing: unknown value %q", r.PositionSizing)
	}
	if r.RiskPercent < 0.1 || r.RiskPercent > 5 {
		add("risk.riskPercent: must be in [0.1, 5], got %v", r.RiskPercent)
	}
	if r.MaxContracts < 1 || r.MaxContracts > 20 {
		add("risk.maxContracts: must be in [1, 20], got %v", r.MaxContracts)
	}
}

func validateTime(t TimeSpec, add func(string, ...any)) {
	switch t.Session {
	case SessionNY, SessionLondon, SessionAsia, SessionAll:
	case SessionCustom:
		if !isHHMM(t.CustomStart) {
			add("time.customStart: must be HH:MM, got %q", t.CustomStart)
		}
		if !isHHMM(t.CustomEnd) {
			add("time.customEnd: must be HH:MM, got %q", t.CustomEnd)
		}
	default:
		add("time.session: unknown value %q", t.Session)
	}
}

func isHHMM(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	for i, c := range s {
		if i == 2 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[3]-'0')*10 + int(s[4]-'0')
	return hh >= 0 && hh <= 23 && mm >= 0 && mm <= 59
}

func validateORB(e *ORBEntry, add func(string, ...any)) {
	if e == nil {
		add("opening_range_breakout entry payload is required")
		return
	}
	if e.PeriodMinutes < 5 || e.PeriodMinutes > 120 {
		add("entry.periodMinutes: must be in [5, 120], got %v", e.PeriodMinutes)
	}
	switch e.EntryOn {
	case EntryOnBreakHigh, EntryOnBreakLow, EntryOnBoth:
	default:
		add("entry.entryOn: unknown value %q", e.EntryOn)
	}
}

func validateEMAPullback(e *EMAPullbackEntry, add func(string, ...any)) {
	if e == nil {
		add("ema_pullback entry payload is required")
		return
	}
	if e.EMAPeriod < 5 || e.EMAPeriod > 200 {
		add("entry.emaPeriod: must be in [5, 200], got %v", e.EMAPeriod)
	}
	switch e.PullbackConfirmation {
	case ConfirmTouch, ConfirmCloseAbove, ConfirmBounce:
	default:
		add("entry.pullbackConfirmation: unknown value %q", e.PullbackConfirmation)
	}
	if e.RSI != nil {
		if e.RSI.Period < 2 || e.RSI.Period > 50 {
			add("entry.indicators.rsi.period: must be in [2, 50], got %v", e.RSI.Period)
		}
		if e.RSI.Threshold < 0 || e.RSI.Threshold > 100 {
			add("entry.indicators.rsi.threshold: must be in [0, 100], got %v", e.RSI.Threshold)
		}
		switch e.RSI.Direction {
		case RSIAbove, RSIBelow:
		default:
			add("entry.indicators.rsi.direction: unknown value %q", e.RSI.Direction)
		}
	}
}

func validateBreakout(e *BreakoutEntry, add func(string, ...any)) {
	if e == nil {
		add("breakout entry payload is required")
		return
	}
	if e.LookbackPeriod < 5 || e.LookbackPeriod > 100 {
		add("entry.lookbackPeriod: must be in [5, 100], got %v", e.LookbackPeriod)
	}
	switch e.LevelType {
	case LevelResistance, LevelSupport, LevelBoth:
	default:
		add("entry.levelType: unknown value %q", e.LevelType)
	}
	switch e.Confirmation {
	case BreakoutConfirmNone, BreakoutConfirmClose, BreakoutConfirmVolume:
	default:
		add("entry.confirmation: unknown value %q", e.Confirmation)
	}
}
