package rules

import (
	"encoding/json"
	"fmt"
)

// wireRules mirrors the JSON shape rule authors write. ParseJSON decodes
// into this untrusted shape first, then builds a CanonicalParsedRules and
// runs it through Validate — no wireRules field is ever read again past
// that point.
type wireRules struct {
	Pattern    Pattern `json:"pattern"`
	Direction  Direction `json:"direction"`
	Symbol     Symbol  `json:"symbol"`

	Exit struct {
		StopLoss struct {
			Type  StopLossType `json:"type"`
			Value float64      `json:"value"`
		} `json:"stopLoss"`
		TakeProfit struct {
			Type  TakeProfitType `json:"type"`
			Value float64        `json:"value"`
		} `json:"takeProfit"`
	} `json:"exit"`

	Risk struct {
		PositionSizing PositionSizing `json:"positionSizing"`
		RiskPercent    float64        `json:"riskPercent"`
		MaxContracts   int            `json:"maxContracts"`
	} `json:"risk"`

	Time struct {
		Session     Session `json:"session"`
		CustomStart string  `json:"customStart"`
		CustomEnd   string  `json:"customEnd"`
		Timezone    string  `json:"timezone"`
	} `json:"time"`

	Entry struct {
		PeriodMinutes  int     `json:"periodMinutes"`
		EntryOn        EntryOn `json:"entryOn"`
		EMAPeriod      int     `json:"emaPeriod"`
		PullbackConfirmation PullbackConfirmation `json:"pullbackConfirmation"`
		LookbackPeriod int       `json:"lookbackPeriod"`
		LevelType      LevelType `json:"levelType"`
		Confirmation   BreakoutConfirmation `json:"confirmation"`
		Indicators     struct {
			RSI *struct {
				Period    int          `json:"period"`
				Threshold float64      `json:"threshold"`
				Direction RSIDirection `json:"direction"`
			} `json:"rsi"`
		} `json:"indicators"`
	} `json:"entry"`
}

// ParseJSON decodes a strategy's rules JSON document into a
// CanonicalParsedRules and validates it. It is the only supported path from
// untrusted rule-authoring input to a record the rest of the engine may
// consume — a record returned here has already passed Validate.
func ParseJSON(raw []byte) (*CanonicalParsedRules, error) {
	var w wireRules
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("rules: parse json: %w", err)
	}

	instrument, ok := Instruments[w.Symbol]
	if !ok {
		return nil, &ValidationError{Violations: []string{fmt.Sprintf("symbol %q is not a recognized instrument", w.Symbol)}}
	}

	r := &CanonicalParsedRules{
		Pattern:    w.Pattern,
		Direction:  w.Direction,
		Instrument: instrument,
		Exit: ExitSpec{
			StopLossType:    w.Exit.StopLoss.Type,
			StopLossValue:   w.Exit.StopLoss.Value,
			TakeProfitType:  w.Exit.TakeProfit.Type,
			TakeProfitValue: w.Exit.TakeProfit.Value,
		},
		Risk: RiskSpec{
			PositionSizing: w.Risk.PositionSizing,
			RiskPercent:    w.Risk.RiskPercent,
			MaxContracts:   w.Risk.MaxContracts,
		},
		Time: TimeSpec{
			Session:     w.Time.Session,
			CustomStart: w.Time.CustomStart,
			CustomEnd:   w.Time.CustomEnd,
			Timezone:    w.Time.Timezone,
		},
	}

	switch w.Pattern {
	case PatternOpeningRangeBreakout:
		r.OpeningRangeBreakout = &ORBEntry{PeriodMinutes: w.Entry.PeriodMinutes, EntryOn: w.Entry.EntryOn}
	case PatternEMAPullback:
		entry := &EMAPullbackEntry{EMAPeriod: w.Entry.EMAPeriod, PullbackConfirmation: w.Entry.PullbackConfirmation}
		if w.Entry.Indicators.RSI != nil {
			entry.RSI = &RSIFilter{
				Period:    w.Entry.Indicators.RSI.Period,
				Threshold: w.Entry.Indicators.RSI.Threshold,
				Direction: w.Entry.Indicators.RSI.Direction,
			}
		}
		r.EMAPullback = entry
	case PatternBreakout:
		r.Breakout = &BreakoutEntry{
			LookbackPeriod: w.Entry.LookbackPeriod,
			LevelType:      w.Entry.LevelType,
			Confirmation:   w.Entry.Confirmation,
		}
	default:
		return nil, &ValidationError{Violations: []string{fmt.Sprintf("pattern %q is not one of the three recognized variants", w.Pattern)}}
	}

	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}
