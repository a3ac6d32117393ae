package orders

import (
	"fmt"

	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

// Violation explains why a safety check rejected an order. Severity is
// always "blocked" in this domain — there is no "warning" severity at the
// order boundary.
type Violation struct {
	Rule    string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("safety limit [%s]: %s", v.Rule, v.Message)
}

// SafetyCheckResult aggregates every violation found by CheckSafetyLimits
// rather than failing fast on the first check.
type SafetyCheckResult struct {
	Blocked    bool
	Violations []Violation
}

// DailyActivity is the per-account/strategy counters CheckSafetyLimits needs
// that the caller (C9 or CreateOrder) gathers from storage/position state.
type DailyActivity struct {
	TradesSinceMidnight int
	OpenPositionCount   int
	RealizedPnL         float64
	UnrealizedPnL       float64
}

// CheckSafetyLimits evaluates the four ordered checks against the limits
// resolved for accountID/strategyID, collecting every violation rather than
// stopping at the first. An order may submit iff the result is not Blocked.
func CheckSafetyLimits(limits *storage.SafetyLimits, orderQty int, activity DailyActivity) SafetyCheckResult {
	var result SafetyCheckResult

	reject := func(rule, format string, args ...any) {
		result.Blocked = true
		result.Violations = append(result.Violations, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if orderQty > limits.MaxPositionSize {
		reject("MAX_POSITION_SIZE", "order qty %d exceeds max position size %d", orderQty, limits.MaxPositionSize)
	}
	if activity.OpenPositionCount >= limits.MaxConcurrentPositions {
		reject("MAX_CONCURRENT_POSITIONS", "at position limit: %d/%d", activity.OpenPositionCount, limits.MaxConcurrentPositions)
	}
	if activity.TradesSinceMidnight >= limits.MaxDailyTrades {
		reject("MAX_DAILY_TRADES", "at daily trade limit: %d/%d", activity.TradesSinceMidnight, limits.MaxDailyTrades)
	}
	totalPnL := activity.RealizedPnL + activity.UnrealizedPnL
	if totalPnL <= -limits.MaxDailyLoss {
		reject("MAX_DAILY_LOSS", "daily loss %.2f has reached limit %.2f", -totalPnL, limits.MaxDailyLoss)
	}

	return result
}
