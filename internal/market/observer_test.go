package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_DeliversEventToRegisteredObserver(t *testing.T) {
	b := NewBroadcaster(testLogger())
	go b.Run()
	defer b.Shutdown()

	obs := &Observer{ID: "test", Send: make(chan Event, 1)}
	b.Register(obs)
	time.Sleep(10 * time.Millisecond)

	b.Publish(Event{Type: "candle", Symbol: "ES"})

	select {
	case e := <-obs.Send:
		assert.Equal(t, "ES", e.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestBroadcaster_UnregisterClosesSendChannel(t *testing.T) {
	b := NewBroadcaster(testLogger())
	go b.Run()
	defer b.Shutdown()

	obs := &Observer{ID: "test", Send: make(chan Event, 1)}
	b.Register(obs)
	time.Sleep(10 * time.Millisecond)
	b.Unregister(obs)
	time.Sleep(10 * time.Millisecond)

	_, ok := <-obs.Send
	assert.False(t, ok, "Send channel should be closed after Unregister")
}

func TestBroadcaster_SlowObserverDoesNotBlockBroadcast(t *testing.T) {
	b := NewBroadcaster(testLogger())
	go b.Run()
	defer b.Shutdown()

	obs := &Observer{ID: "slow", Send: make(chan Event)} // unbuffered, nobody reads
	b.Register(obs)
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: "candle", Symbol: "ES"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish should not block on a slow observer")
	}
}
