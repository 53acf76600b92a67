package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. The trading loop
// publishes; observers (API websocket, monitor, tests) subscribe. Publish
// never blocks: a slow subscriber drops payloads rather than stalling a
// cycle.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Event][]chan any
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep the loop non-blocking
		}
	}
}

// SubscriberCount reports listeners on a topic (metrics/debugging).
func (b *Bus) SubscriberCount(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[e])
}

// Close shuts the bus down and closes every subscriber channel. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for e, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, e)
	}
}
