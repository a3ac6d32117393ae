package market

import "log"

// Event is what a Broadcaster delivers to its registered observers: a closed
// candle or a new quote. The Aggregator does not publish events itself; a
// Broadcaster carries only the events its callers pass to Publish.
type Event struct {
	Type   string // "candle" or "quote"
	Symbol string
	Candle OHLCV
	Quote  Quote
}

// Observer receives aggregator events on a buffered channel. A slow observer
// never blocks the feed: a full channel drops the event for that observer.
type Observer struct {
	ID   string
	Send chan Event
}

// Broadcaster fans out aggregator events to registered observers, grounded
// on internal/dashboard/broadcaster.go's register/unregister/broadcast
// channel pattern (adapted here from dashboard WebSocket clients to internal
// engine observers; the select-with-default drop-on-full-channel behavior is
// unchanged).
type Broadcaster struct {
	observers  map[*Observer]bool
	broadcast  chan Event
	register   chan *Observer
	unregister chan *Observer
	shutdown   chan struct{}
	logger     *log.Logger
}

// NewBroadcaster creates a Broadcaster. Call Run in a goroutine to start it.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		observers:  make(map[*Observer]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Observer),
		unregister: make(chan *Observer),
		shutdown:   make(chan struct{}),
		logger:     logger,
	}
}

// Register adds an observer.
func (b *Broadcaster) Register(o *Observer) { b.register <- o }

// Unregister removes an observer.
func (b *Broadcaster) Unregister(o *Observer) { b.unregister <- o }

// Publish sends an event to every registered observer.
func (b *Broadcaster) Publish(e Event) {
	select {
	case b.broadcast <- e:
	case <-b.shutdown:
	}
}

// Run drives the broadcaster loop until Shutdown is called.
func (b *Broadcaster) Run() {
	for {
		select {
		case o := <-b.register:
			b.observers[o] = true
			b.logger.Printf("market: observer %s registered (total: %d)", o.ID, len(b.observers))

		case o := <-b.unregister:
			if _, ok := b.observers[o]; ok {
				delete(b.observers, o)
				close(o.Send)
			}

		case e := <-b.broadcast:
			for o := range b.observers {
				select {
				case o.Send <- e:
				default:
					b.logger.Printf("market: observer %s send buffer full, dropping event", o.ID)
				}
			}

		case <-b.shutdown:
			return
		}
	}
}

// Shutdown closes every observer channel and stops Run.
func (b *Broadcaster) Shutdown() {
	for o := range b.observers {
		close(o.Send)
	}
	b.observers = make(map[*Observer]bool)
	close(b.shutdown)
}
