package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

func baseLimits() *storage.SafetyLimits {
	return &storage.SafetyLimits{
		MaxPositionSize:        5,
		MaxConcurrentPositions: 3,
		MaxDailyTrades:         10,
		MaxDailyLoss:           1000,
	}
}

func TestCheckSafetyLimits_AllChecksPass(t *testing.T) {
	result := CheckSafetyLimits(baseLimits(), 2, DailyActivity{OpenPositionCount: 1, TradesSinceMidnight: 3})
	assert.False(t, result.Blocked)
	assert.Empty(t, result.Violations)
}

func TestCheckSafetyLimits_OrderQtyExceedsMaxPositionSize(t *testing.T) {
	result := CheckSafetyLimits(baseLimits(), 6, DailyActivity{})
	assert.True(t, result.Blocked)
	assert.Equal(t, "MAX_POSITION_SIZE", result.Violations[0].Rule)
}

func TestCheckSafetyLimits_AtConcurrentPositionLimit(t *testing.T) {
	result := CheckSafetyLimits(baseLimits(), 1, DailyActivity{OpenPositionCount: 3})
	assert.True(t, result.Blocked)
	assert.Equal(t, "MAX_CONCURRENT_POSITIONS", result.Violations[0].Rule)
}

func TestCheckSafetyLimits_AtDailyTradeLimit(t *testing.T) {
	result := CheckSafetyLimits(baseLimits(), 1, DailyActivity{TradesSinceMidnight: 10})
	assert.True(t, result.Blocked)
	assert.Equal(t, "MAX_DAILY_TRADES", result.Violations[0].Rule)
}

func TestCheckSafetyLimits_DailyLossAtLimit(t *testing.T) {
	result := CheckSafetyLimits(baseLimits(), 1, DailyActivity{RealizedPnL: -800, UnrealizedPnL: -200})
	assert.True(t, result.Blocked)
	assert.Equal(t, "MAX_DAILY_LOSS", result.Violations[0].Rule)
}

func TestCheckSafetyLimits_CollectsEveryViolationNotJustFirst(t *testing.T) {
	result := CheckSafetyLimits(baseLimits(), 99, DailyActivity{
		OpenPositionCount:   3,
		TradesSinceMidnight: 10,
		RealizedPnL:         -2000,
	})
	assert.True(t, result.Blocked)
	assert.Len(t, result.Violations, 4)
}
