package market

import (
	"log"
	"sync"
	"time"
)

const (
	candleBucketSeconds = 300
	maxCandleHistory    = 200
)

// symbolState holds one symbol's candle buffer and streaming indicator
// state, guarded by its own lock so a slow subscriber for one symbol never
// blocks ticks for another.
type symbolState struct {
	mu sync.RWMutex

	candles []OHLCV // bounded ring, oldest first, cap maxCandleHistory
	current OHLCV
	hasOpen bool

	quote Quote

	ema map[int]*EMA
	rsi map[int]*RSI
	atr map[int]*ATR

	vwap *VWAPTracker
}

func newSymbolState() *symbolState {
	return &symbolState{
		ema:  make(map[int]*EMA),
		rsi:  make(map[int]*RSI),
		atr:  make(map[int]*ATR),
		vwap: NewVWAPTracker(),
	}
}

// Aggregator buckets incoming ticks into fixed-width candles per symbol and
// maintains each symbol's indicator state, grounded on internal/market/data.go's
// DataManager/DataStore separation (generalized from daily EOD sync to live
// streaming aggregation) and SynapseStrike's VWAPCollector.
type Aggregator struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
	logger  *log.Logger

	orTracker *OpeningRangeTracker
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *log.Logger) *Aggregator {
	return &Aggregator{
		symbols:   make(map[string]*symbolState),
		logger:    logger,
		orTracker: NewOpeningRangeTracker(),
	}
}

func (a *Aggregator) stateFor(symbol string) *symbolState {
	a.mu.RLock()
	s, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.symbols[symbol]; ok {
		return s
	}
	s = newSymbolState()
	a.symbols[symbol] = s
	return s
}

// bucketStart floors t to the candle bucket boundary it belongs to.
func bucketStart(t time.Time) time.Time {
	unix := t.Unix()
	floored := unix - (unix % candleBucketSeconds)
	return time.Unix(floored, 0).UTC()
}

// Tick feeds one trade/quote update for symbol at price/volume and time t.
// It updates the current in-progress candle, promoting it to history and
// starting a new one when t crosses a bucket boundary.
func (a *Aggregator) Tick(symbol string, price float64, volume int64, t time.Time) {
	s := a.stateFor(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.quote = Quote{Symbol: symbol, Last: price, Volume: volume, Timestamp: t}

	start := bucketStart(t)
	if !s.hasOpen {
		s.current = OHLCV{Symbol: symbol, Open: price, High: price, Low: price, Close: price, Volume: volume, StartTime: start, EndTime: start.Add(candleBucketSeconds * time.Second)}
		s.hasOpen = true
		return
	}

	if start.After(s.current.StartTime) {
		a.promoteLocked(s)
		s.current = OHLCV{Symbol: symbol, Open: price, High: price, Low: price, Close: price, Volume: volume, StartTime: start, EndTime: start.Add(candleBucketSeconds * time.Second)}
		return
	}

	if price > s.current.High {
		s.current.High = price
	}
	if price < s.current.Low {
		s.current.Low = price
	}
	s.current.Close = price
	s.current.Volume += volume
}

// promoteLocked closes out the current candle into history and updates
// every streaming indicator from it. Must be called with s.mu held.
func (a *Aggregator) promoteLocked(s *symbolState) {
	bar := s.current
	s.candles = append(s.candles, bar)
	if len(s.candles) > maxCandleHistory {
		s.candles = s.candles[len(s.candles)-maxCandleHistory:]
	}

	for _, e := range s.ema {
		e.Update(bar.Close)
	}
	for _, r := range s.rsi {
		r.Update(bar.Close)
	}
	for _, atr := range s.atr {
		atr.Update(bar.High, bar.Low, bar.Close)
	}
	s.vwap.Update(bar, bar.StartTime.Format("2006-01-02"))
}

// EnsureEMA/EnsureRSI/EnsureATR register a streaming indicator for a period
// if one doesn't already exist for the symbol, so a strategy's first
// evaluation lazily seeds exactly the indicators it asks for.
func (a *Aggregator) EnsureEMA(symbol string, period int) {
	s := a.stateFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ema[period]; !ok {
		s.ema[period] = NewEMA(period)
	}
}

func (a *Aggregator) EnsureRSI(symbol string, period int) {
	s := a.stateFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rsi[period]; !ok {
		s.rsi[period] = NewRSI(period)
	}
}

func (a *Aggregator) EnsureATR(symbol string, period int) {
	s := a.stateFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.atr[period]; !ok {
		s.atr[period] = NewATR(period)
	}
}

// Context snapshots the current evaluation context for a symbol: its latest
// quote, current in-progress candle, bounded candle history, and every
// registered indicator's last value.
func (a *Aggregator) Context(symbol string, now time.Time) EvaluationContext {
	s := a.stateFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	candles := make([]OHLCV, len(s.candles))
	copy(candles, s.candles)

	ema := make(map[int]float64, len(s.ema))
	for p, e := range s.ema {
		ema[p] = e.Value()
	}
	rsi := make(map[int]float64, len(s.rsi))
	for p, r := range s.rsi {
		if r.initialized {
			rsi[p] = r.rsiValue()
		} else {
			rsi[p] = 50
		}
	}
	atr := make(map[int]float64, len(s.atr))
	for p, a := range s.atr {
		atr[p] = a.Value()
	}

	return EvaluationContext{
		Symbol:        symbol,
		Now:           now,
		Quote:         s.quote,
		Candles:       candles,
		CurrentCandle: s.current,
		EMA:           ema,
		RSI:           rsi,
		ATR:           atr,
		VWAP:          s.vwap.Value(),
	}
}

// ObserveOpeningRange feeds the latest quote for symbol into the named
// opening-range window and returns its current state. Called once per
// monitoring tick for every opening_range_breakout strategy: the window is
// keyed on a strategy's session config rather than a per-symbol constant, so
// it can't live inside the generic Context snapshot.
func (a *Aggregator) ObserveOpeningRange(symbol, startHHMM, endHHMM string, inWindow bool) OpeningRange {
	s := a.stateFor(symbol)
	s.mu.RLock()
	price := s.quote.Last
	s.mu.RUnlock()
	return a.orTracker.Observe(symbol, startHHMM, endHHMM, price, inWindow)
}

// SeedOpeningRange primes a symbol+window's opening range from a previously
// persisted range (restored from C8 at strategy load), so a restart doesn't
// lose an already-complete range before a live tick would reform it. A
// window that already has live data is left untouched.
func (a *Aggregator) SeedOpeningRange(symbol, startHHMM, endHHMM string, or OpeningRange) {
	a.orTracker.Seed(symbol, startHHMM, endHHMM, or)
}

// SeedHistory replays historical bars through every already-registered
// indicator before storing them as candle history, so a reconnect backfill
// leaves EMA/RSI/ATR/VWAP warm instead of needing 200 live bars to rebuild
// them from scratch.
func (a *Aggregator) SeedHistory(symbol string, bars []OHLCV) {
	s := a.stateFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bar := range bars {
		for _, e := range s.ema {
			e.Update(bar.Close)
		}
		for _, r := range s.rsi {
			r.Update(bar.Close)
		}
		for _, atr := range s.atr {
			atr.Update(bar.High, bar.Low, bar.Close)
		}
		s.vwap.Update(bar, bar.StartTime.Format("2006-01-02"))
	}

	s.candles = bars
	if len(s.candles) > maxCandleHistory {
		s.candles = s.candles[len(s.candles)-maxCandleHistory:]
	}
}

// Candles returns a copy of the bounded candle history for a symbol.
func (a *Aggregator) Candles(symbol string) []OHLCV {
	s := a.stateFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OHLCV, len(s.candles))
	copy(out, s.candles)
	return out
}
