package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/market"
)

const defaultHistoricalBarCount = 200

type chartBarWireResp struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// GetHistoricalBars fetches the most recent barCount bars at the given
// timeframe via GET /md/getchart, used by C4 for reconnect backfill.
// Grounded on internal/market/dhan_data.go's
// throttle()/request-spacing idiom, generalized from 90-day-chunked
// historical EOD sync to a single bounded-count intraday bar fetch. No
// request throttling is applied: the call goes through HTTPClient's
// doRequest, which wraps it in the broker:orders breaker like every other
// REST call.
func (c *HTTPClient) GetHistoricalBars(ctx context.Context, symbol string, barCount int, timeframeMinutes int) ([]market.OHLCV, error) {
	if barCount <= 0 {
		barCount = defaultHistoricalBarCount
	}

	path := fmt.Sprintf("/md/getchart?symbol=%s&barCount=%d&timeframe=%d", symbol, barCount, timeframeMinutes)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: get historical bars for %s: %w", symbol, err)
	}

	var wire []chartBarWireResp
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("broker: parse historical bars response: %w", err)
	}

	out := make([]market.OHLCV, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			continue
		}
		out = append(out, market.OHLCV{
			Symbol:    symbol,
			Open:      w.Open,
			High:      w.High,
			Low:       w.Low,
			Close:     w.Close,
			Volume:    w.Volume,
			StartTime: ts,
			EndTime:   ts.Add(time.Duration(timeframeMinutes) * time.Minute),
		})
	}
	return out, nil
}

// FetchHistoricalBars satisfies internal/market.HistoricalBarFetcher.
func (c *HTTPClient) FetchHistoricalBars(ctx context.Context, symbol string, count int) ([]market.OHLCV, error) {
	return c.GetHistoricalBars(ctx, symbol, count, 5)
}
