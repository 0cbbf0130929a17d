package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscription queue length used by NewHub.
const DefaultBuffer = 16

// Hub delivers encoded envelopes to every open Subscription. Publishing never
// blocks: a subscription with a full queue misses the event and counts it.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub() *Hub { return NewHubWithBuffer(DefaultBuffer) }

func NewHubWithBuffer(n int) *Hub {
	if n < 1 {
		n = 1
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: n}
}

// Subscription is one listener, usually an SSE client. C is closed by Close.
type Subscription struct {
	C <-chan string

	ch      chan string
	hub     *Hub
	dropped atomic.Int64
	once    sync.Once
}

// Dropped reports how many events this subscription missed.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan string, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Emit wraps data in an envelope tagged with ref (a request or session id)
// and publishes it.
func (h *Hub) Emit(ref, typ string, data any) {
	h.Publish(MakeEvent(ref, typ, Version, data))
}

// Publish sends an already encoded envelope.
func (h *Hub) Publish(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
