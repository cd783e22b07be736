package stream

import (
	"context"
	"sync"

	"salesgrid.io/internal/access"
)

const subscriberBuffer = 16

// Stream fans access workflow events out to the users they concern (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan access.Event
	next int
}

var _ access.Notifier = (*Stream)(nil)

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[string]map[int]chan access.Event)}
}

// Subscribe registers a subscriber for userID and returns a channel which will
// receive that user's events. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, userID string) <-chan access.Event {
	ch := make(chan access.Event, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]chan access.Event)
	}
	s.subs[userID][id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[userID], id)
		if len(s.subs[userID]) == 0 {
			delete(s.subs, userID)
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Notify delivers evt to every subscriber of its recipients.
func (s *Stream) Notify(_ context.Context, evt access.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, userID := range evt.Recipients() {
		for _, ch := range s.subs[userID] {
			select {
			case ch <- evt:
			default:
				// Drop when subscriber is slow to avoid blocking.
			}
		}
	}
}
