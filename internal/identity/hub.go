package identity

import (
	"sort"
	"sync"
)

// Event is an authentication change announced on a Hub
type Event int

const (
	EventSignedIn Event = iota + 1
	EventSignedOut
)

func (e Event) String() string {
	switch e {
	case EventSignedIn:
		return "signedIn"
	case EventSignedOut:
		return "signedOut"
	default:
		return "unknown"
	}
}

// Listener receives hub events
type Listener func(Event)

// Hub delivers auth events to listeners synchronously, in registration order.
type Hub struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewHub returns a hub with no listeners
func NewHub() *Hub {
	return &Hub{listeners: make(map[int]Listener)}
}

// Listen registers l and returns a func that removes it.
// Calling the returned func more than once is harmless.
func (h *Hub) Listen(l Listener) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish sends e to every listener registered at the time of the call.
// Listeners run outside the hub lock so they may publish or unsubscribe.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, h.listeners[id])
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}

// Len returns the number of registered listeners
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
