package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle of one connected client.
type State string

const (
	StateCreated    State = "CREATED"
	StateActive     State = "ACTIVE"
	StateTerminated State = "TERMINATED"
)

var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is one connected client. Its id is minted per connection and is
// never derived from the actor, so two tabs of one user compete.
type Session struct {
	SessionID    uuid.UUID  `json:"sessionId"`
	ActorID      string     `json:"actorId"`
	ActorName    string     `json:"actorName,omitempty"`
	Category     string     `json:"category"`
	State        State      `json:"state"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
	TerminatedAt *time.Time `json:"terminatedAt,omitempty"`
}

// New creates a session in the Created state.
func New(actorID, actorName, category string, now time.Time) *Session {
	return &Session{
		SessionID: uuid.New(),
		ActorID:   actorID,
		ActorName: actorName,
		Category:  category,
		State:     StateCreated,
		CreatedAt: now,
	}
}

// Activate marks the session's stream as registered.
func (s *Session) Activate(now time.Time) error {
	if s.State != StateCreated {
		return ErrInvalidTransition
	}
	s.State = StateActive
	s.LastSeenAt = &now
	return nil
}

// Terminate ends the session.
func (s *Session) Terminate(now time.Time) error {
	if s.State == StateTerminated {
		return ErrInvalidTransition
	}
	s.State = StateTerminated
	s.TerminatedAt = &now
	return nil
}

// Touch records client activity.
func (s *Session) Touch(now time.Time) {
	if s.State != StateTerminated {
		s.LastSeenAt = &now
	}
}

func (s *Session) IsTerminated() bool {
	return s.State == StateTerminated
}
