package session

import "sync"

// PresenceEvent reports an attendee joining or leaving the realtime
// presence channel.
type PresenceEvent struct {
	AttendeeID     string
	ExternalUserID string
	Present        bool
}

// PresenceHandler consumes presence events. It receives the subscription
// it was registered under, so unsubscribing from inside the handler is an
// explicit, race-free operation.
type PresenceHandler func(sub *PresenceSubscription, ev PresenceEvent)

// PresenceSubscription identifies a registered handler.
type PresenceSubscription struct {
	h PresenceHandler
}

// PresenceChannel is a typed subscribe/unsubscribe registry for presence
// events. A removed handler receives no further events.
type PresenceChannel struct {
	mu   sync.Mutex
	subs map[*PresenceSubscription]struct{}
}

// NewPresenceChannel creates an empty channel.
func NewPresenceChannel() *PresenceChannel {
	return &PresenceChannel{subs: make(map[*PresenceSubscription]struct{})}
}

// Subscribe registers a handler and returns its subscription.
func (p *PresenceChannel) Subscribe(h PresenceHandler) *PresenceSubscription {
	s := &PresenceSubscription{h: h}
	p.mu.Lock()
	p.subs[s] = struct{}{}
	p.mu.Unlock()
	return s
}

// Unsubscribe removes a handler, including from within the handler.
func (p *PresenceChannel) Unsubscribe(s *PresenceSubscription) {
	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()
}

// Publish delivers an event to every live handler.
func (p *PresenceChannel) Publish(ev PresenceEvent) {
	p.mu.Lock()
	subs := make([]*PresenceSubscription, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		p.mu.Lock()
		_, live := p.subs[s]
		p.mu.Unlock()
		if live {
			s.h(s, ev)
		}
	}
}
