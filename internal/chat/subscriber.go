package chat

import "sync"

// Subscriber receives room events. Deliver must not block; it returns false
// when the event could not be queued.
type Subscriber interface {
	ID() string
	Deliver(Event) bool
}

// ChannelSubscriber buffers events on a channel. Once the buffer is full
// further events are dropped and Overflowed reports true, so the owning
// connection can disconnect the slow client.
type ChannelSubscriber struct {
	id     string
	events chan Event

	mu         sync.Mutex
	closed     bool
	overflowed bool
}

// NewChannelSubscriber returns a subscriber with the given buffer size.
func NewChannelSubscriber(id string, buffer int) *ChannelSubscriber {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSubscriber{id: id, events: make(chan Event, buffer)}
}

// ID returns the subscriber identifier.
func (s *ChannelSubscriber) ID() string { return s.id }

// Events exposes the buffered event stream. It is closed by Close.
func (s *ChannelSubscriber) Events() <-chan Event { return s.events }

// Deliver queues ev without blocking.
func (s *ChannelSubscriber) Deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		s.overflowed = true
		return false
	}
}

// Overflowed reports whether an event was dropped because the buffer was full.
func (s *ChannelSubscriber) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

// Close stops delivery and closes the event channel.
func (s *ChannelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
