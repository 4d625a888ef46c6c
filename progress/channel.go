package progress

import (
	"context"
	"sync/atomic"
)

// eventChannel is a bounded buffer between the broadcaster and one observer.
type eventChannel struct {
	channel chan Event
	closed  atomic.Int32
}

func newEventChannel(bufferSize int) *eventChannel {
	return &eventChannel{channel: make(chan Event, bufferSize)}
}

// TrySend delivers without blocking. Returns false when the buffer is full
// or the channel is closed; the caller decides whether dropping matters.
func (c *eventChannel) TrySend(ev Event) bool {
	if c.closed.Load() == 1 {
		return false
	}
	select {
	case c.channel <- ev:
		return true
	default:
		return false
	}
}

// Receive blocks until an event arrives, the channel closes, or ctx ends.
func (c *eventChannel) Receive(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-c.channel:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

func (c *eventChannel) Close() {
	if c.closed.CompareAndSwap(0, 1) {
		close(c.channel)
	}
}

func (c *eventChannel) QueueLength() int {
	return len(c.channel)
}
