package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RolloverStatus is the per-base-instrument contract rollover state
//, derived purely from days-until-expiry.
type RolloverStatus string

const (
	RolloverNormal    RolloverStatus = "normal"
	RolloverSwitching RolloverStatus = "switching"
	RolloverWarning   RolloverStatus = "warning"
	RolloverImminent  RolloverStatus = "imminent"
)

// RolloverSeverity is returned by CheckRollover.
type RolloverSeverity string

const (
	SeverityNone      RolloverSeverity = "none"
	SeverityWarning   RolloverSeverity = "warning"
	SeverityCritical  RolloverSeverity = "critical"
	SeverityEmergency RolloverSeverity = "emergency"
)

// rolloverState tracks one base instrument's current/next contract.
type rolloverState struct {
	CurrentSymbol string
	NextSymbol    string
	RolloverDate  time.Time
	Status        RolloverStatus
}

// SymbolResolver resolves a base instrument (e.g. "ES") to its currently
// tradable front-month contract and tracks rollover state per instrument.
// New logic grounded on the *style* of internal/broker/broker.go's enum+struct
// modeling (OrderStatus/OrderSide const blocks) — NSE equities have no
// contract-expiry concept to adapt from directly.
type SymbolResolver struct {
	mu     sync.Mutex
	states map[string]*rolloverState

	contractsByBase func(ctx context.Context, baseInstrument string) ([]Contract, error)
	openPositionQty func(baseInstrument string) int
}

// NewSymbolResolver creates a resolver. contractsByBase lists live contracts
// for a base instrument (via C5's /contract/find); openPositionQty reports
// whether a position is currently open for that base (non-zero means open).
func NewSymbolResolver(
	contractsByBase func(ctx context.Context, baseInstrument string) ([]Contract, error),
	openPositionQty func(baseInstrument string) int,
) *SymbolResolver {
	return &SymbolResolver{
		states:          make(map[string]*rolloverState),
		contractsByBase: contractsByBase,
		openPositionQty: openPositionQty,
	}
}

func daysUntil(t, now time.Time) float64 {
	return t.Sub(now).Hours() / 24
}

func statusForDaysUntil(days float64) RolloverStatus {
	switch {
	case days > 7:
		return RolloverNormal
	case days > 5:
		return RolloverSwitching
	case days > 2:
		return RolloverWarning
	default:
		return RolloverImminent
	}
}

// ResolveSymbol implements resolveSymbol. If a position is
// open for baseInstrument and its current symbol's days-until-expiry < 3,
// the existing symbol is returned unchanged with status forced to imminent
// (never switch contracts while a position is open). Otherwise it lists
// live contracts, keeps those with > 7 days to expiry, sorts by
// (daily volume descending, expiry ascending), and returns the top; if none
// qualify it falls back to a 2-day filter.
func (r *SymbolResolver) ResolveSymbol(ctx context.Context, baseInstrument string, checkPositions bool) (string, error) {
	now := time.Now()

	r.mu.Lock()
	state, ok := r.states[baseInstrument]
	r.mu.Unlock()

	if checkPositions && ok && r.openPositionQty != nil && r.openPositionQty(baseInstrument) != 0 {
		contracts, err := r.contractsByBase(ctx, baseInstrument)
		if err == nil {
			for _, c := range contracts {
				if c.Symbol == state.CurrentSymbol && daysUntil(c.ExpiresAt, now) < 3 {
					r.mu.Lock()
					state.Status = RolloverImminent
					r.mu.Unlock()
					return state.CurrentSymbol, nil
				}
			}
		}
	}

	contracts, err := r.contractsByBase(ctx, baseInstrument)
	if err != nil {
		return "", fmt.Errorf("broker: resolve symbol %s: %w", baseInstrument, err)
	}

	chosen, ok := pickContract(contracts, now, 7)
	if !ok {
		chosen, ok = pickContract(contracts, now, 2)
		if !ok {
			return "", fmt.Errorf("broker: no live contract for %s meets the minimum expiry filter", baseInstrument)
		}
	}

	r.mu.Lock()
	r.states[baseInstrument] = &rolloverState{
		CurrentSymbol: chosen.Symbol,
		RolloverDate:  chosen.ExpiresAt,
		Status:        statusForDaysUntil(daysUntil(chosen.ExpiresAt, now)),
	}
	r.mu.Unlock()

	return chosen.Symbol, nil
}

// pickContract filters contracts to those with more than minDays to expiry
// and returns the one with highest daily volume, breaking ties by nearest
// expiry.
func pickContract(contracts []Contract, now time.Time, minDays float64) (Contract, bool) {
	var candidates []Contract
	for _, c := range contracts {
		if daysUntil(c.ExpiresAt, now) > minDays {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Contract{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DailyVolume != candidates[j].DailyVolume {
			return candidates[i].DailyVolume > candidates[j].DailyVolume
		}
		return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
	})
	return candidates[0], true
}

// CheckRollover reports a severity for the currently resolved symbol of its
// base instrument, bucketed at 7/3/1-day thresholds, plus the best
// candidate next symbol if one is already known.
func (r *SymbolResolver) CheckRollover(ctx context.Context, symbol string) (RolloverSeverity, string, error) {
	r.mu.Lock()
	var state *rolloverState
	for _, s := range r.states {
		if s.CurrentSymbol == symbol {
			state = s
			break
		}
	}
	r.mu.Unlock()

	if state == nil {
		return SeverityNone, "", nil
	}

	days := daysUntil(state.RolloverDate, time.Now())
	switch {
	case days > 7:
		return SeverityNone, state.NextSymbol, nil
	case days > 3:
		return SeverityWarning, state.NextSymbol, nil
	case days > 1:
		return SeverityCritical, state.NextSymbol, nil
	default:
		return SeverityEmergency, state.NextSymbol, nil
	}
}

// Status returns the last-resolved rollover status for a base instrument.
func (r *SymbolResolver) Status(baseInstrument string) RolloverStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[baseInstrument]
	if !ok {
		return RolloverNormal
	}
	return s.Status
}
