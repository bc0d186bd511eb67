package event

import (
	"sync"
	"sync/atomic"
)

// Sink is the append-only publish point the core writes to.
// Publish must never block on subscriber behavior.
type Sink interface {
	Publish(ev Event)
}

// Hub is the in-process Sink: fan-out to buffered subscriber channels.
// A subscriber that falls behind loses events; the hub only counts the drop.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the channel plus a cancel func. Cancel closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
// Full subscriber buffers drop the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
