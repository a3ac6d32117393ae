// Package state implements the strategy intraday state store: a composite-key (strategyId, stateType) persistence primitive with
// expiry, plus typed helpers for the four state kinds strategies hold
// between evaluations.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

var easternTime = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// The IANA database ships with every production Go toolchain; a
		// missing zoneinfo entry here means a broken deploy, not a normal
		// runtime condition. Fall back to UTC rather than panic so a
		// misconfigured container still starts in a degraded state.
		return time.UTC
	}
	return loc
}

// NextMarketClose returns the default expiresAt for intraday state: the next 16:00 ET, rolling to the following day if now is already
// past today's close.
func NextMarketClose(now time.Time) time.Time {
	et := now.In(easternTime)
	close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, easternTime)
	if !et.Before(close) {
		close = close.AddDate(0, 0, 1)
	}
	return close
}

// Store wraps the persisted (strategyId, stateType) primitive with typed
// payload helpers.
type Store struct {
	store storage.Store
}

// NewStore constructs a Store over the given persistence store.
func NewStore(store storage.Store) *Store {
	return &Store{store: store}
}

// OpeningRange is the opening_range state payload.
type OpeningRange struct {
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	IsComplete bool      `json:"isComplete"`
	FormedAt   time.Time `json:"formedAt"`
}

// SessionStats is the session_stats state payload: running counters for a
// strategy's current session.
type SessionStats struct {
	TradesEntered int     `json:"tradesEntered"`
	RealizedPnL   float64 `json:"realizedPnl"`
}

// LastEntry is the last_entry state payload: the most recent setup a
// strategy fired, used for re-entry cooldown/dedup checks.
type LastEntry struct {
	SetupID   string    `json:"setupId"`
	Direction string    `json:"direction"`
	Price     float64   `json:"price"`
	EnteredAt time.Time `json:"enteredAt"`
}

// CooldownReason enumerates why a strategy is paused.
type CooldownReason string

const (
	CooldownReasonLoss                CooldownReason = "loss"
	CooldownReasonManual              CooldownReason = "manual"
	CooldownReasonDailyLimit          CooldownReason = "daily_limit"
	CooldownReasonConsecutiveFailures CooldownReason = "consecutive_failures"
)

// Cooldown is the cooldown state payload.
type Cooldown struct {
	Reason        CooldownReason `json:"reason"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       time.Time      `json:"endTime"`
	PreviousLoss  *float64       `json:"previousLoss,omitempty"`
}

// put upserts a typed payload under (strategyID, stateType), defaulting
// expiresAt to NextMarketClose(now) when expiresAt is the zero value.
func (s *Store) put(ctx context.Context, strategyID string, stateType storage.StrategyStateType, payload any, expiresAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", stateType, err)
	}
	if expiresAt.IsZero() {
		expiresAt = NextMarketClose(time.Now())
	}
	row := &storage.StrategyState{
		StrategyID: strategyID,
		StateType:  stateType,
		Payload:    raw,
		ExpiresAt:  expiresAt,
		UpdatedAt:  time.Now(),
	}
	if err := s.store.UpsertStrategyState(ctx, row); err != nil {
		return fmt.Errorf("state: upsert %s: %w", stateType, err)
	}
	return nil
}

// get fetches the active row for (strategyID, stateType) and unmarshals its
// payload into dst. Returns false if no non-expired row exists.
func (s *Store) get(ctx context.Context, strategyID string, stateType storage.StrategyStateType, dst any) (bool, error) {
	row, err := s.store.GetActiveStrategyState(ctx, strategyID, stateType)
	if err != nil {
		return false, fmt.Errorf("state: get %s: %w", stateType, err)
	}
	if row == nil {
		return false, nil
	}
	if err := json.Unmarshal(row.Payload, dst); err != nil {
		return false, fmt.Errorf("state: unmarshal %s: %w", stateType, err)
	}
	return true, nil
}

// PutOpeningRange upserts the opening_range state for strategyID.
func (s *Store) PutOpeningRange(ctx context.Context, strategyID string, v OpeningRange) error {
	return s.put(ctx, strategyID, storage.StateOpeningRange, v, time.Time{})
}

// GetOpeningRange fetches the opening_range state for strategyID, if any.
func (s *Store) GetOpeningRange(ctx context.Context, strategyID string) (*OpeningRange, error) {
	var v OpeningRange
	ok, err := s.get(ctx, strategyID, storage.StateOpeningRange, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// PutSessionStats upserts the session_stats state for strategyID.
func (s *Store) PutSessionStats(ctx context.Context, strategyID string, v SessionStats) error {
	return s.put(ctx, strategyID, storage.StateSessionStats, v, time.Time{})
}

// GetSessionStats fetches the session_stats state for strategyID, if any.
func (s *Store) GetSessionStats(ctx context.Context, strategyID string) (*SessionStats, error) {
	var v SessionStats
	ok, err := s.get(ctx, strategyID, storage.StateSessionStats, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// PutLastEntry upserts the last_entry state for strategyID.
func (s *Store) PutLastEntry(ctx context.Context, strategyID string, v LastEntry) error {
	return s.put(ctx, strategyID, storage.StateLastEntry, v, time.Time{})
}

// GetLastEntry fetches the last_entry state for strategyID, if any.
func (s *Store) GetLastEntry(ctx context.Context, strategyID string) (*LastEntry, error) {
	var v LastEntry
	ok, err := s.get(ctx, strategyID, storage.StateLastEntry, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// PutCooldown upserts the cooldown state for strategyID, expiring at v.EndTime.
func (s *Store) PutCooldown(ctx context.Context, strategyID string, v Cooldown) error {
	return s.put(ctx, strategyID, storage.StateCooldown, v, v.EndTime)
}

// GetCooldown fetches the cooldown state for strategyID, if any (nil once
// GetActiveStrategyState observes EndTime has passed).
func (s *Store) GetCooldown(ctx context.Context, strategyID string) (*Cooldown, error) {
	var v Cooldown
	ok, err := s.get(ctx, strategyID, storage.StateCooldown, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// RestoreAllStates implements restoreAllStatesForStrategies:
// returns strategyId -> (stateType -> raw payload), filtered to non-expired
// rows, for every kind of state a strategy may hold. Used once at engine
// start to rehydrate in-flight opening ranges, cooldowns, and dedup state
// after a restart.
func (s *Store) RestoreAllStates(ctx context.Context, strategyIDs []string) (map[string]map[storage.StrategyStateType]json.RawMessage, error) {
	kinds := []storage.StrategyStateType{
		storage.StateOpeningRange,
		storage.StateEMAAnchor,
		storage.StateSessionStats,
		storage.StateLastEntry,
		storage.StateCooldown,
	}

	out := make(map[string]map[storage.StrategyStateType]json.RawMessage, len(strategyIDs))
	for _, id := range strategyIDs {
		for _, kind := range kinds {
			row, err := s.store.GetActiveStrategyState(ctx, id, kind)
			if err != nil {
				return nil, fmt.Errorf("state: restore all states: strategy %s kind %s: %w", id, kind, err)
			}
			if row == nil {
				continue
			}
			if out[id] == nil {
				out[id] = make(map[storage.StrategyStateType]json.RawMessage)
			}
			out[id][kind] = row.Payload
		}
	}
	return out, nil
}

// CleanupExpiredStates implements cleanupExpiredStates:
// batch-deletes every row past its expiresAt. Returns the number removed.
func (s *Store) CleanupExpiredStates(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredStrategyStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("state: cleanup expired states: %w", err)
	}
	return n, nil
}
