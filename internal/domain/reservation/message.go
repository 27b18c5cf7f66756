package reservation

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// MessageType is the kind of inbound envelope a client sends.
type MessageType string

const (
	MessageRequest       MessageType = "REQUEST"
	MessageRelease       MessageType = "RELEASE"
	MessageCommit        MessageType = "COMMIT"
	MessageSnapshotQuery MessageType = "SNAPSHOT_QUERY"
)

// Message is the inbound envelope.
type Message struct {
	Type      MessageType `json:"type"`
	TokenID   string      `json:"tokenId,omitempty"`
	ActorID   string      `json:"actorId"`
	SessionID uuid.UUID   `json:"sessionId"`
	ActorName string      `json:"actorName,omitempty"`
	Category  string      `json:"category,omitempty"`
}

// Validate checks the envelope is well formed.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageRequest, MessageRelease, MessageCommit:
		if strings.TrimSpace(m.TokenID) == "" {
			return errors.New("tokenId is required")
		}
	case MessageSnapshotQuery:
	default:
		return errors.New("invalid message type")
	}
	if strings.TrimSpace(m.ActorID) == "" {
		return errors.New("actorId is required")
	}
	if m.SessionID == uuid.Nil {
		return errors.New("sessionId is required")
	}
	return nil
}
