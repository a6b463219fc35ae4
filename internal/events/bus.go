// Package events carries fire-and-forget notifications about queue activity
// to registered observers, such as audit loggers. Observer failure or
// slowness never affects queue correctness: delivery is buffered and drops
// on a full or slow subscriber.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened to a message.
type Type string

const (
	// TypeSent fires when the queue manager accepts a message.
	TypeSent Type = "queue.message.sent"
	// TypeReceived fires when a message is delivered to a consumer.
	TypeReceived Type = "queue.message.received"
	// TypeProcessed fires when a consumer acknowledges a message.
	TypeProcessed Type = "queue.message.processed"
	// TypeFailed fires when a message exhausts its retries.
	TypeFailed Type = "queue.message.failed"
	// TypeExpired fires when a message is discarded past its deadline.
	TypeExpired Type = "queue.message.expired"
)

// Event describes one queue occurrence.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	MessageID   string    `json:"message_id"`
	MessageType string    `json:"message_type"`
	FromAgent   string    `json:"from_agent"`
	ToAgent     string    `json:"to_agent,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent builds an event for the given occurrence.
func NewEvent(typ Type, messageID, messageType, from, to string) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        typ,
		MessageID:   messageID,
		MessageType: messageType,
		FromAgent:   from,
		ToAgent:     to,
		Timestamp:   time.Now().UTC(),
	}
}

// subscriber owns one delivery channel.
type subscriber struct {
	ch     chan *Event
	types  map[Type]bool // nil means all types
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) wants(typ Type) bool {
	return s.types == nil || s.types[typ]
}

// trySend delivers without blocking longer than the timeout.
func (s *subscriber) trySend(e *Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- e:
		return true
	case <-timer.C:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// BusMetrics counts bus activity.
type BusMetrics struct {
	Published int64
	Delivered int64
	Dropped   int64
}

// Bus fans queue events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool

	bufferSize     int
	publishTimeout time.Duration

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		bufferSize:     bufferSize,
		publishTimeout: 10 * time.Millisecond,
	}
}

// Publish fans the event out to every interested subscriber. It never
// blocks longer than the per-subscriber timeout and never returns an error.
func (b *Bus) Publish(e *Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := b.subscribers
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range subs {
		if !sub.wants(e.Type) {
			continue
		}
		if sub.trySend(e, b.publishTimeout) {
			b.delivered.Add(1)
		} else {
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving events of the given types, or every
// event when no type is named.
func (b *Bus) Subscribe(types ...Type) <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan *Event)
		close(ch)
		return ch
	}

	sub := &subscriber{ch: make(chan *Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes the subscriber owning the channel and closes it.
func (b *Bus) Unsubscribe(ch <-chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub.ch == ch {
			sub.close()
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Metrics returns a copy of the bus counters.
func (b *Bus) Metrics() BusMetrics {
	return BusMetrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		sub.close()
	}
	b.subscribers = nil
}
