package reservation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

func TestMessageValidate(t *testing.T) {
	sid := uuid.New()
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{name: "request", msg: Message{Type: MessageRequest, TokenID: "A", ActorID: "u1", SessionID: sid}},
		{name: "snapshot without token", msg: Message{Type: MessageSnapshotQuery, ActorID: "u1", SessionID: sid}},
		{name: "commit without token", msg: Message{Type: MessageCommit, ActorID: "u1", SessionID: sid}, wantErr: true},
		{name: "missing actor", msg: Message{Type: MessageRelease, TokenID: "A", SessionID: sid}, wantErr: true},
		{name: "missing session", msg: Message{Type: MessageRequest, TokenID: "A", ActorID: "u1"}, wantErr: true},
		{name: "bad type", msg: Message{Type: "STEAL", TokenID: "A", ActorID: "u1", SessionID: sid}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransitionEventSnapshotsToken(t *testing.T) {
	sid := uuid.New()
	now := time.Now().UTC()
	tok := token.New("SN-9", "")
	require.NoError(t, tok.Reserve("alice", "Alice", sid, now))

	ev := NewTransitionEvent(EventConfirmed, tok, sid, now)
	require.NoError(t, tok.Release())

	assert.Equal(t, token.StatusReserved, ev.Status)
	require.NotNil(t, ev.ReservedBy)
	assert.Equal(t, "alice", *ev.ReservedBy)
	assert.Equal(t, sid, *ev.SessionID)
	assert.Equal(t, token.DefaultCategory, ev.Category)
	assert.False(t, ev.Critical())
}

func TestCriticalEvents(t *testing.T) {
	tok := token.New("SN-1", "")
	assert.True(t, NewTransitionEvent(EventConsumed, tok, uuid.New(), time.Now()).Critical())
	assert.False(t, NewLowStockEvent("gaming", 3, "available <= 10", time.Now()).Critical())
	snap := NewSnapshotEvent("gaming", uuid.New(), nil, time.Now())
	assert.NotNil(t, snap.Tokens)
	assert.True(t, snap.Critical())
}
