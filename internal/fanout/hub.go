// Package fanout broadcasts classified records and sequences to live
// subscribers. Publishing never blocks: a subscriber whose buffer is full
// misses the event and nobody else is affected.
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/ppiankov/toolwatch/internal/metrics"
)

// Event types.
const (
	TypeActivity = "activity"
	TypeSequence = "sequence"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Event is one message sent to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription receives events until closed.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given channel capacity
// (DefaultBuffer when not positive). Subscribing to a closed hub returns an
// already closed subscription.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{hub: h, ch: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	h.subs[s] = struct{}{}
	metrics.Subscribers.Inc()
	return s
}

// Publish delivers ev to every subscriber with room for it.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			metrics.FanoutDropped.Inc()
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later subscriptions are closed on
// arrival.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		metrics.Subscribers.Dec()
		s.once.Do(func() { close(s.ch) })
	}
}

// Events returns the receive channel. It is closed when the subscription or
// the hub is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s]; ok {
		delete(s.hub.subs, s)
		metrics.Subscribers.Dec()
	}
	s.once.Do(func() { close(s.ch) })
}
