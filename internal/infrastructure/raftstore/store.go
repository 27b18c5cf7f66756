package raftstore

import (
	"context"
	"fmt"
	"time"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

type replicator interface {
	Apply(ctx context.Context, cmd Command) (any, error)
	Machine() *Machine
}

// Store implements token.AdminStore on a raft node. Writes go through the
// log so every node agrees on which tokens are consumed; reads are served
// from the local machine.
type Store struct {
	node replicator
	now  func() time.Time
}

var _ token.AdminStore = (*Store)(nil)

func NewStore(node *Node) *Store {
	return newStore(node)
}

func newStore(node replicator) *Store {
	return &Store{node: node, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) ListAvailable(ctx context.Context, category string) ([]token.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.node.Machine().ListAvailable(category), nil
}

func (s *Store) ConsumeIfAvailable(ctx context.Context, tokenID string) (bool, error) {
	cmd, err := newCommand(OpConsume, ConsumePayload{TokenID: tokenID}, s.now())
	if err != nil {
		return false, err
	}
	res, err := s.node.Apply(ctx, cmd)
	if err != nil {
		return false, fmt.Errorf("replicate consume %s: %w", tokenID, err)
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, fmt.Errorf("unexpected consume result %T", res)
	}
	return ok, nil
}

func (s *Store) BulkImport(ctx context.Context, in token.ImportInput) (*token.ImportResult, error) {
	cmd, err := newCommand(OpImport, in, s.now())
	if err != nil {
		return nil, err
	}
	res, err := s.node.Apply(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("replicate import: %w", err)
	}
	out, ok := res.(*token.ImportResult)
	if !ok {
		return nil, fmt.Errorf("unexpected import result %T", res)
	}
	return out, nil
}

func (s *Store) UsageStats(ctx context.Context, category string) (*token.UsageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.node.Machine().Usage(category), nil
}
