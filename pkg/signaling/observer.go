package signaling

import (
	"sync"

	"github.com/arzzra/meetkit/pkg/status"
)

// EventType discriminates client events.
type EventType int

const (
	// EventConnected fires once the websocket transport is open.
	EventConnected EventType = iota
	// EventFrameReceived fires for every decoded, recognized frame.
	EventFrameReceived
	// EventClosed fires when the connection closes, locally or remotely.
	// CloseCode and Status describe the remote close when applicable.
	EventClosed
	// EventFailed fires when establishing the connection fails.
	EventFailed
)

// Event is delivered to subscribed handlers in receive order.
type Event struct {
	Type      EventType
	Frame     *Frame
	CloseCode int
	Status    status.SessionStatus
	Err       error
}

// Handler consumes client events. Handlers run on the client's reader
// goroutine and must not block.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed,
// including from within the handler itself.
type Subscription struct {
	h Handler
}

// observerRegistry is a typed subscribe/unsubscribe registry. Dispatch
// re-checks membership per handler so that unsubscribing inside a handler
// is race-free: a removed handler sees no further events.
type observerRegistry struct {
	mu       sync.Mutex
	handlers map[*Subscription]struct{}
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{handlers: make(map[*Subscription]struct{})}
}

func (r *observerRegistry) subscribe(h Handler) *Subscription {
	s := &Subscription{h: h}
	r.mu.Lock()
	r.handlers[s] = struct{}{}
	r.mu.Unlock()
	return s
}

func (r *observerRegistry) unsubscribe(s *Subscription) {
	r.mu.Lock()
	delete(r.handlers, s)
	r.mu.Unlock()
}

func (r *observerRegistry) dispatch(ev Event) {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.handlers))
	for s := range r.handlers {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		r.mu.Lock()
		_, live := r.handlers[s]
		r.mu.Unlock()
		if live {
			s.h(ev)
		}
	}
}
