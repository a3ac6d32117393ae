package market

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[market-test] ", log.LstdFlags)
}

func TestAggregator_FirstTickOpensCurrentCandle(t *testing.T) {
	a := NewAggregator(testLogger())
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	a.Tick("ES", 100, 10, now)

	ctx := a.Context("ES", now)
	assert.Equal(t, 100.0, ctx.CurrentCandle.Open)
	assert.Equal(t, 100.0, ctx.CurrentCandle.High)
	assert.Equal(t, 100.0, ctx.CurrentCandle.Low)
	assert.Equal(t, int64(10), ctx.CurrentCandle.Volume)
	assert.Empty(t, ctx.Candles)
}

func TestAggregator_TicksWithinBucketUpdateCurrentCandle(t *testing.T) {
	a := NewAggregator(testLogger())
	base := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	a.Tick("ES", 100, 10, base)
	a.Tick("ES", 105, 5, base.Add(30*time.Second))
	a.Tick("ES", 98, 7, base.Add(60*time.Second))

	ctx := a.Context("ES", base)
	assert.Equal(t, 100.0, ctx.CurrentCandle.Open)
	assert.Equal(t, 105.0, ctx.CurrentCandle.High)
	assert.Equal(t, 98.0, ctx.CurrentCandle.Low)
	assert.Equal(t, 98.0, ctx.CurrentCandle.Close)
	assert.Equal(t, int64(22), ctx.CurrentCandle.Volume)
}

func TestAggregator_BucketRolloverPromotesCandleToHistory(t *testing.T) {
	a := NewAggregator(testLogger())
	base := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	a.Tick("ES", 100, 10, base)
	a.Tick("ES", 110, 10, base.Add(candleBucketSeconds*time.Second))

	candles := a.Candles("ES")
	require.Len(t, candles, 1)
	assert.Equal(t, 100.0, candles[0].Open)

	ctx := a.Context("ES", base)
	assert.Equal(t, 110.0, ctx.CurrentCandle.Open)
}

func TestAggregator_CandleHistoryIsBoundedAt200(t *testing.T) {
	a := NewAggregator(testLogger())
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 250; i++ {
		a.Tick("ES", float64(100+i), 1, base.Add(time.Duration(i)*candleBucketSeconds*time.Second))
	}

	candles := a.Candles("ES")
	assert.LessOrEqual(t, len(candles), maxCandleHistory)
}

func TestAggregator_EnsureEMAUpdatesOnPromotion(t *testing.T) {
	a := NewAggregator(testLogger())
	a.EnsureEMA("ES", 3)
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	prices := []float64{100, 101, 102, 103}
	for i, p := range prices {
		a.Tick("ES", p, 1, base.Add(time.Duration(i)*candleBucketSeconds*time.Second))
	}

	ctx := a.Context("ES", base)
	assert.NotZero(t, ctx.EMA[3])
}

func TestAggregator_SeparateSymbolsAreIndependent(t *testing.T) {
	a := NewAggregator(testLogger())
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	a.Tick("ES", 100, 1, now)
	a.Tick("NQ", 5000, 1, now)

	esCtx := a.Context("ES", now)
	nqCtx := a.Context("NQ", now)
	assert.Equal(t, 100.0, esCtx.CurrentCandle.Open)
	assert.Equal(t, 5000.0, nqCtx.CurrentCandle.Open)
}
