// Package market ingests streaming ticks from the broker's market-data feed,
// aggregates them into fixed-width candles, and maintains the per-symbol
// technical indicator state a compiled strategy reads on every tick.
package market

import "time"

// OHLCV is one bar of aggregated tick data.
type OHLCV struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	StartTime time.Time
	EndTime   time.Time
}

// Quote is the latest best bid/ask/last-trade snapshot for a symbol.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    int64
	Timestamp time.Time
}

// OpeningRange is the high/low established during a symbol's configured
// opening window.
type OpeningRange struct {
	Symbol    string
	High      float64
	Low       float64
	StartHHMM string
	EndHHMM   string
	Complete  bool
}

// EvaluationContext is the read-only view a compiled strategy consults on
// every tick. internal/compiler imports this package for the type; market
// never imports compiler back.
type EvaluationContext struct {
	Symbol        string
	Now           time.Time
	Quote         Quote
	Candles       []OHLCV // most recent first is NOT assumed; ascending by time, bounded history
	CurrentCandle OHLCV   // the still-open, in-progress bar
	OpeningRange  OpeningRange
	EMA           map[int]float64 // keyed by period
	RSI           map[int]float64 // keyed by period
	ATR           map[int]float64 // keyed by period
	VWAP          float64
}
