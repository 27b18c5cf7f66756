package raftstore

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// Operation names a replicated write.
type Operation string

const (
	OpImport  Operation = "IMPORT"
	OpConsume Operation = "CONSUME"
)

// Command is the envelope written to the raft log.
type Command struct {
	ID        string          `json:"id"`
	Op        Operation       `json:"op"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type ConsumePayload struct {
	TokenID string `json:"tokenId"`
}

func newCommand(op Operation, payload any, at time.Time) (Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{ID: uuid.NewString(), Op: op, Timestamp: at.UTC(), Payload: raw}, nil
}

// Validate checks the envelope before it is replicated.
func (c Command) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("command id is required")
	}
	switch c.Op {
	case OpImport:
		var p token.ImportInput
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			return err
		}
	case OpConsume:
		var p ConsumePayload
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			return err
		}
		if strings.TrimSpace(p.TokenID) == "" {
			return errors.New("tokenId is required")
		}
	default:
		return errors.New("unsupported op")
	}
	return nil
}
