package session

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/serial-reservation/internal/clock"
	"github.com/execution-hub/serial-reservation/internal/domain/session"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// Releaser drops every reservation held by a session.
type Releaser interface {
	ReleaseSession(ctx context.Context, sessionID uuid.UUID) ([]string, error)
}

// Tracker mints and tracks connection sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session.Session
	releaser Releaser
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewTracker creates a Tracker. releaser may be nil.
func NewTracker(releaser Releaser, c clock.Clock, logger zerolog.Logger) *Tracker {
	if c == nil {
		c = clock.Real{}
	}
	return &Tracker{
		sessions: make(map[uuid.UUID]*session.Session),
		releaser: releaser,
		clock:    c,
		logger:   logger.With().Str("service", "session").Logger(),
	}
}

// Open mints a new session for a connecting client.
func (t *Tracker) Open(actorID, actorName, category string) *session.Session {
	s := session.New(strings.TrimSpace(actorID), strings.TrimSpace(actorName), token.NormalizeCategory(category), t.clock.Now())
	t.mu.Lock()
	t.sessions[s.SessionID] = s
	t.mu.Unlock()
	t.logger.Debug().Str("session_id", s.SessionID.String()).Str("actor_id", s.ActorID).Msg("session opened")
	return copySession(s)
}

// Activate marks the session's stream as live.
func (t *Tracker) Activate(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return token.ErrSessionNotFound
	}
	return s.Activate(t.clock.Now())
}

// Get returns a copy of a live session.
func (t *Tracker) Get(id uuid.UUID) (*session.Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, token.ErrSessionNotFound
	}
	return copySession(s), nil
}

// Touch records activity on a session.
func (t *Tracker) Touch(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return token.ErrSessionNotFound
	}
	s.Touch(t.clock.Now())
	return nil
}

// Terminate ends a session and releases what it holds. Terminating an
// unknown or already terminated session is a no-op.
func (t *Tracker) Terminate(ctx context.Context, id uuid.UUID) ([]string, error) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	if ok {
		_ = s.Terminate(t.clock.Now())
		delete(t.sessions, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, nil
	}
	t.logger.Debug().Str("session_id", id.String()).Msg("session terminated")
	if t.releaser == nil {
		return nil, nil
	}
	return t.releaser.ReleaseSession(ctx, id)
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// ListByActor returns the sessions of one actor ordered by creation time.
func (t *Tracker) ListByActor(actorID string) []*session.Session {
	t.mu.RLock()
	out := make([]*session.Session, 0)
	for _, s := range t.sessions {
		if s.ActorID == actorID {
			out = append(out, copySession(s))
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copySession(s *session.Session) *session.Session {
	c := *s
	return &c
}
