package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// EventType is the kind of outbound frame.
type EventType string

const (
	EventConfirmed EventType = "CONFIRMED"
	EventReleased  EventType = "RELEASED"
	EventConsumed  EventType = "CONSUMED"
	EventRejected  EventType = "REJECTED"
	EventSnapshot  EventType = "SNAPSHOT"
	EventLowStock  EventType = "LOW_STOCK"
)

// Event is an outbound frame delivered to sessions.
//
// For transitions SessionID is the session that caused the change. For
// SNAPSHOT it is the session the snapshot was minted for.
type Event struct {
	ID             uuid.UUID     `json:"id"`
	Type           EventType     `json:"type"`
	TokenID        string        `json:"tokenId,omitempty"`
	Status         token.Status  `json:"status,omitempty"`
	ReservedBy     *string       `json:"reservedBy,omitempty"`
	ReservedByName *string       `json:"reservedByName,omitempty"`
	SessionID      *uuid.UUID    `json:"sessionId,omitempty"`
	Reason         token.Reason  `json:"reason,omitempty"`
	Category       string        `json:"category,omitempty"`
	Tokens         []token.Token `json:"tokens,omitempty"`
	Available      *int          `json:"available,omitempty"`
	Detail         string        `json:"detail,omitempty"`
	At             time.Time     `json:"at"`
}

// Critical reports whether the event must never be dropped from a queue.
// CONSUMED is terminal and SNAPSHOT is the base every later delta applies to.
func (e *Event) Critical() bool {
	return e.Type == EventConsumed || e.Type == EventSnapshot
}

// NewTransitionEvent describes a token that just changed status. A nil origin
// marks a change made by the server itself.
func NewTransitionEvent(typ EventType, t *token.Token, origin uuid.UUID, at time.Time) *Event {
	snap := t.Clone()
	ev := &Event{
		ID:             uuid.New(),
		Type:           typ,
		TokenID:        snap.ID,
		Status:         snap.Status,
		ReservedBy:     snap.ReservedBy,
		ReservedByName: snap.ReservedByName,
		Category:       snap.Category,
		At:             at,
	}
	if origin != uuid.Nil {
		ev.SessionID = &origin
	}
	return ev
}

// NewRejectedEvent tells one session its message was refused.
func NewRejectedEvent(tokenID, category string, reason token.Reason, sessionID uuid.UUID, at time.Time) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      EventRejected,
		TokenID:   tokenID,
		SessionID: &sessionID,
		Reason:    reason,
		Category:  category,
		At:        at,
	}
}

// NewSnapshotEvent carries the full pool of a category to one session.
func NewSnapshotEvent(category string, sessionID uuid.UUID, tokens []token.Token, at time.Time) *Event {
	if tokens == nil {
		tokens = []token.Token{}
	}
	return &Event{
		ID:        uuid.New(),
		Type:      EventSnapshot,
		SessionID: &sessionID,
		Category:  category,
		Tokens:    tokens,
		At:        at,
	}
}

// NewLowStockEvent warns every session of a category that the pool is running out.
func NewLowStockEvent(category string, available int, rule string, at time.Time) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      EventLowStock,
		Category:  category,
		Available: &available,
		Detail:    rule,
		At:        at,
	}
}
