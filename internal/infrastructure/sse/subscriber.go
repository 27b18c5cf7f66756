package sse

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrQueueFull          = errors.New("subscriber queue full")
	ErrClosed             = errors.New("subscriber closed")
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	droppedOldest
	droppedNew
	evicted
	rejectedClosed
)

// Subscriber is one session's bounded delivery queue.
type Subscriber struct {
	SessionID uuid.UUID
	ActorID   string
	Category  string

	mu       sync.Mutex
	queue    []*reservation.Event
	capacity int
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

func newSubscriber(sessionID uuid.UUID, actorID, category string, capacity int) *Subscriber {
	return &Subscriber{
		SessionID: sessionID,
		ActorID:   actorID,
		Category:  category,
		queue:     make([]*reservation.Event, 0, capacity),
		capacity:  capacity,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Next blocks until an event is queued. It returns ErrClosed once the
// subscriber has been unregistered or evicted.
func (s *Subscriber) Next(ctx context.Context) (*reservation.Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Done is closed when the subscriber is torn down.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Len returns the number of pending events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscriber) wants(ev *reservation.Event) bool {
	if ev.SessionID != nil && *ev.SessionID == s.SessionID {
		return true
	}
	return ev.Category == "" || s.Category == "" || ev.Category == s.Category
}

// enqueue appends ev. When the queue is full the oldest non-critical event
// makes room; a critical event that finds no room evicts the subscriber.
func (s *Subscriber) enqueue(ev *reservation.Event) enqueueResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rejectedClosed
	}
	if len(s.queue) < s.capacity {
		s.queue = append(s.queue, ev)
		s.signal()
		return enqueued
	}
	for i, pending := range s.queue {
		if pending.Critical() {
			continue
		}
		copy(s.queue[i:], s.queue[i+1:])
		s.queue[len(s.queue)-1] = ev
		s.signal()
		return droppedOldest
	}
	if ev.Critical() {
		return evicted
	}
	return droppedNew
}

func (s *Subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}
