package raftstore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

func TestSingleNodeCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	node, err := NewNode(Config{
		NodeID:    "node-1",
		RaftAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = node.Shutdown() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err = node.WaitForLeader(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, node.IsLeader, 10*time.Second, 50*time.Millisecond)

	s := NewStore(node)
	res, err := s.BulkImport(ctx, token.ImportInput{SerialNumbers: []string{"SN-1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SN-1"}, res.Imported)

	ok, err := s.ConsumeIfAvailable(ctx, "SN-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeIfAvailable(ctx, "SN-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigNormalized(t *testing.T) {
	_, err := Config{RaftAddr: "x", DataDir: "d"}.normalized()
	assert.Error(t, err)
	cfg, err := Config{NodeID: " n ", RaftAddr: "x", DataDir: "d"}.normalized()
	require.NoError(t, err)
	assert.Equal(t, "n", cfg.NodeID)
	assert.Equal(t, 2, cfg.SnapshotRetain)
	assert.Equal(t, 5*time.Second, cfg.ApplyTimeout)
}
