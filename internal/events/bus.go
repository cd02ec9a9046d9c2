package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Bus is a bounded, non-blocking fan-out of engine events to subscribers.
// Publish never blocks: when the buffer is full the event is dropped and
// counted, keeping the rebalance pipeline insulated from slow consumers.
type Bus struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
	dropped     atomic.Uint64

	buffer int
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(buffer int, log zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		log:    log.With().Str("component", "event_bus").Logger(),
		buffer: buffer,
	}
}

// Subscribe registers a new consumer and returns its channel. The channel is
// closed when the bus shuts down.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers an event to all subscribers without blocking. Implements Sink.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.log.Warn().
				Str("event_type", string(event.Type)).
				Str("asset", event.Asset).
				Msg("Event buffer full, dropping event")
		}
	}
}

// Dropped returns the number of events dropped due to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// Tee fans an event out to multiple sinks.
type Tee []Sink

// Publish implements Sink.
func (t Tee) Publish(event Event) {
	for _, s := range t {
		if s != nil {
			s.Publish(event)
		}
	}
}
