package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsBaseReconnectDelay = time.Second
	wsMaxReconnectDelay  = 30 * time.Second
	wsPingInterval       = 30 * time.Second
	wsHistoricalBackfill = 200
)

// HistoricalBarFetcher fetches historical bars to backfill the candle
// buffer after a reconnect, implemented by internal/broker.
type HistoricalBarFetcher interface {
	FetchHistoricalBars(ctx context.Context, symbol string, count int) ([]OHLCV, error)
}

// WSClient maintains a reconnecting WebSocket connection to the broker's
// market-data feed, feeding every tick into an Aggregator. Grounded on
// cmd/dashboard/websocket.go's writePump/readPump ping/pong and deadline
// idiom, adapted from a server-side Upgrade handler to a client Dial loop
// with exponential backoff reconnection.
type WSClient struct {
	url        string
	aggregator *Aggregator
	fetcher    HistoricalBarFetcher
	logger     *log.Logger

	subscriptions map[string]bool
}

// NewWSClient creates a client for the given market-data WebSocket endpoint.
func NewWSClient(url string, aggregator *Aggregator, fetcher HistoricalBarFetcher, logger *log.Logger) *WSClient {
	return &WSClient{
		url:           url,
		aggregator:    aggregator,
		fetcher:       fetcher,
		logger:        logger,
		subscriptions: make(map[string]bool),
	}
}

// Subscribe adds a symbol to the resubscription list used on every
// (re)connect.
func (c *WSClient) Subscribe(symbol string) {
	c.subscriptions[symbol] = true
}

type wsTickMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

type wsSubscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Run connects and reconnects indefinitely until ctx is cancelled, with
// exponential backoff between attempts (base 1s, cap 30s, doubling per
// attempt).
func (c *WSClient) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := wsBaseReconnectDelay * time.Duration(1<<uint(attempt-1))
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
		c.logger.Printf("market: websocket disconnected (%v), reconnecting in %s (attempt %d)", err, delay, attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *WSClient) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.logger.Printf("market: websocket connected to %s", c.url)

	symbols := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		symbols = append(symbols, s)
	}
	if len(symbols) > 0 {
		if err := conn.WriteJSON(wsSubscribeMessage{Action: "subscribe", Symbols: symbols}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		c.backfill(ctx, symbols)
	}

	done := make(chan error, 1)
	go c.readLoop(conn, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn, done chan<- error) {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}

		var msg wsTickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("market: malformed tick message: %v", err)
			continue
		}
		c.aggregator.Tick(msg.Symbol, msg.Price, msg.Volume, time.Now())
	}
}

// backfill fetches recent historical bars for each symbol and replays them
// through the aggregator's indicators so EMA/RSI/ATR/VWAP are warm
// immediately after a reconnect, rather than needing 200 live bars to
// accumulate.
func (c *WSClient) backfill(ctx context.Context, symbols []string) {
	if c.fetcher == nil {
		return
	}
	for _, symbol := range symbols {
		bars, err := c.fetcher.FetchHistoricalBars(ctx, symbol, wsHistoricalBackfill)
		if err != nil {
			c.logger.Printf("market: historical backfill failed for %s: %v", symbol, err)
			continue
		}
		c.aggregator.SeedHistory(symbol, bars)
	}
}
