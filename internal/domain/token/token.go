package token

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the live status of a serial number.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusReserved  Status = "RESERVED"
	StatusConsumed  Status = "CONSUMED"
)

// DefaultCategory is the pool used when a caller does not name one.
const DefaultCategory = "gaming"

// NormalizeCategory trims c and falls back to DefaultCategory.
func NormalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return DefaultCategory
	}
	return c
}

// Token is one serial number drawn from a shared pool.
type Token struct {
	ID                string     `json:"tokenId"`
	Category          string     `json:"category"`
	Status            Status     `json:"status"`
	ReservedBy        *string    `json:"reservedBy,omitempty"`
	ReservedByName    *string    `json:"reservedByName,omitempty"`
	ReservedBySession *uuid.UUID `json:"reservedBySession,omitempty"`
	ReservedAt        *time.Time `json:"reservedAt,omitempty"`
}

// New returns an available token in category.
func New(id, category string) *Token {
	return &Token{
		ID:       id,
		Category: NormalizeCategory(category),
		Status:   StatusAvailable,
	}
}

// CanTransitionTo validates a status transition.
func (t *Token) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusAvailable: {StatusReserved},
		StatusReserved:  {StatusAvailable, StatusConsumed},
		StatusConsumed:  {},
	}
	for _, s := range transitions[t.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// Reserve marks the token held by a session.
func (t *Token) Reserve(actorID, actorName string, sessionID uuid.UUID, at time.Time) error {
	if !t.CanTransitionTo(StatusReserved) {
		return ErrInvalidTransition
	}
	if actorID == "" {
		return errors.New("actor id is required")
	}
	t.Status = StatusReserved
	t.ReservedBy = &actorID
	if actorName != "" {
		t.ReservedByName = &actorName
	}
	t.ReservedBySession = &sessionID
	t.ReservedAt = &at
	return nil
}

// Release clears the reservation.
func (t *Token) Release() error {
	if !t.CanTransitionTo(StatusAvailable) {
		return ErrInvalidTransition
	}
	t.Status = StatusAvailable
	t.ReservedBy = nil
	t.ReservedByName = nil
	t.ReservedBySession = nil
	t.ReservedAt = nil
	return nil
}

// Consume makes the token terminal. The holder fields are kept so observers
// see who consumed it.
func (t *Token) Consume() error {
	if !t.CanTransitionTo(StatusConsumed) {
		return ErrInvalidTransition
	}
	t.Status = StatusConsumed
	return nil
}

// HeldBy reports whether sessionID holds the reservation.
func (t *Token) HeldBy(sessionID uuid.UUID) bool {
	return t.Status == StatusReserved && t.ReservedBySession != nil && *t.ReservedBySession == sessionID
}

// IdleSince reports whether the reservation is older than cutoff.
func (t *Token) IdleSince(cutoff time.Time) bool {
	return t.Status == StatusReserved && t.ReservedAt != nil && t.ReservedAt.Before(cutoff)
}

// Validate checks that the reservation fields agree with the status.
func (t *Token) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("token id is required")
	}
	switch t.Status {
	case StatusAvailable:
		if t.ReservedBy != nil || t.ReservedByName != nil || t.ReservedBySession != nil || t.ReservedAt != nil {
			return errors.New("available token carries reservation fields")
		}
	case StatusReserved, StatusConsumed:
		if t.ReservedBy == nil {
			return errors.New("held token has no holder")
		}
	default:
		return errors.New("invalid status")
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Token) Clone() Token {
	out := Token{ID: t.ID, Category: t.Category, Status: t.Status}
	if t.ReservedBy != nil {
		v := *t.ReservedBy
		out.ReservedBy = &v
	}
	if t.ReservedByName != nil {
		v := *t.ReservedByName
		out.ReservedByName = &v
	}
	if t.ReservedBySession != nil {
		v := *t.ReservedBySession
		out.ReservedBySession = &v
	}
	if t.ReservedAt != nil {
		v := *t.ReservedAt
		out.ReservedAt = &v
	}
	return out
}

// PoolStats summarizes the live state of one category.
type PoolStats struct {
	Category  string `json:"category"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Consumed  int    `json:"consumed"`
}
