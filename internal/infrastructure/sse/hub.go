package sse

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
)

// DefaultQueueSize is the per-session queue capacity.
const DefaultQueueSize = 64

// Hub fans reservation events out to connected sessions.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]*Subscriber
	queueSize int
	onEvict   func(sessionID uuid.UUID)
	logger    zerolog.Logger
	m         *hubMetrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-session queue capacity.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func NewHub(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:      make(map[uuid.UUID]*Subscriber),
		queueSize: DefaultQueueSize,
		logger:    logger.With().Str("service", "sse_hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.m = newHubMetrics(h)
	return h
}

// SetEvictHandler installs the callback run when a session is torn down for
// falling behind. It runs on its own goroutine.
func (h *Hub) SetEvictHandler(fn func(sessionID uuid.UUID)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvict = fn
}

// Register adds a subscriber for sessionID, replacing any previous one.
func (h *Hub) Register(sessionID uuid.UUID, actorID, category string) *Subscriber {
	sub := newSubscriber(sessionID, actorID, category, h.queueSize)
	h.mu.Lock()
	old := h.subs[sessionID]
	h.subs[sessionID] = sub
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	return sub
}

// Unregister closes and removes the subscriber for sessionID.
func (h *Hub) Unregister(sessionID uuid.UUID) {
	h.mu.Lock()
	sub := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()
	if sub != nil {
		sub.close()
	}
}

func (h *Hub) Get(sessionID uuid.UUID) *Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subs[sessionID]
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish enqueues ev on every subscriber interested in its category. The
// originating session always receives it.
func (h *Hub) Publish(ev *reservation.Event) {
	var evict []*Subscriber
	h.mu.RLock()
	for _, sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		if h.deliver(sub, ev) == evicted {
			evict = append(evict, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range evict {
		h.evict(sub)
	}
}

// SendTo enqueues ev for one session.
func (h *Hub) SendTo(sessionID uuid.UUID, ev *reservation.Event) error {
	h.mu.RLock()
	sub := h.subs[sessionID]
	h.mu.RUnlock()
	if sub == nil {
		return ErrSubscriberNotFound
	}
	switch h.deliver(sub, ev) {
	case evicted:
		h.evict(sub)
		return ErrQueueFull
	case droppedNew:
		return ErrQueueFull
	case rejectedClosed:
		return ErrClosed
	}
	return nil
}

func (h *Hub) deliver(sub *Subscriber, ev *reservation.Event) enqueueResult {
	res := sub.enqueue(ev)
	switch res {
	case droppedOldest, droppedNew:
		h.m.recordDrop()
		h.logger.Debug().
			Str("session_id", sub.SessionID.String()).
			Str("type", string(ev.Type)).
			Msg("queue full, event dropped")
	}
	return res
}

func (h *Hub) evict(sub *Subscriber) {
	h.mu.Lock()
	if cur, ok := h.subs[sub.SessionID]; ok && cur == sub {
		delete(h.subs, sub.SessionID)
	}
	onEvict := h.onEvict
	h.mu.Unlock()
	sub.close()
	h.m.recordEvict()
	h.logger.Warn().Str("session_id", sub.SessionID.String()).Msg("session evicted, queue full of critical events")
	if onEvict != nil {
		go onEvict(sub.SessionID)
	}
}

// Stop closes every subscriber.
func (h *Hub) Stop() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uuid.UUID]*Subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
