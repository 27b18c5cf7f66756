package token

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	sid := uuid.New()

	t.Run("reserve then release restores the original token", func(t *testing.T) {
		tok := New("SN-1", "")
		before := tok.Clone()

		require.NoError(t, tok.Reserve("alice", "Alice", sid, now))
		require.NoError(t, tok.Validate())
		assert.Equal(t, StatusReserved, tok.Status)
		assert.True(t, tok.HeldBy(sid))
		assert.False(t, tok.HeldBy(uuid.New()))

		require.NoError(t, tok.Release())
		require.NoError(t, tok.Validate())
		assert.Equal(t, before, tok.Clone())
	})

	t.Run("consumed is terminal", func(t *testing.T) {
		tok := New("SN-2", "lab")
		require.NoError(t, tok.Reserve("alice", "", sid, now))
		require.NoError(t, tok.Consume())
		require.NoError(t, tok.Validate())

		assert.ErrorIs(t, tok.Release(), ErrInvalidTransition)
		assert.ErrorIs(t, tok.Reserve("bob", "", uuid.New(), now), ErrInvalidTransition)
		assert.ErrorIs(t, tok.Consume(), ErrInvalidTransition)
		assert.Equal(t, "alice", *tok.ReservedBy)
	})

	t.Run("cannot consume an available token", func(t *testing.T) {
		tok := New("SN-3", "")
		assert.ErrorIs(t, tok.Consume(), ErrInvalidTransition)
	})

	t.Run("reserve requires an actor", func(t *testing.T) {
		tok := New("SN-4", "")
		assert.Error(t, tok.Reserve("", "", sid, now))
		assert.Equal(t, StatusAvailable, tok.Status)
	})
}

func TestTokenIdleSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tok := New("SN-1", "")
	assert.False(t, tok.IdleSince(now))

	require.NoError(t, tok.Reserve("alice", "", uuid.New(), now))
	assert.False(t, tok.IdleSince(now))
	assert.True(t, tok.IdleSince(now.Add(time.Second)))
}

func TestTokenValidate(t *testing.T) {
	actor := "alice"
	tests := []struct {
		name    string
		tok     Token
		wantErr bool
	}{
		{name: "available", tok: Token{ID: "A", Status: StatusAvailable}},
		{name: "missing id", tok: Token{Status: StatusAvailable}, wantErr: true},
		{name: "available with holder", tok: Token{ID: "A", Status: StatusAvailable, ReservedBy: &actor}, wantErr: true},
		{name: "reserved without holder", tok: Token{ID: "A", Status: StatusReserved}, wantErr: true},
		{name: "consumed with holder", tok: Token{ID: "A", Status: StatusConsumed, ReservedBy: &actor}},
		{name: "bogus status", tok: Token{ID: "A", Status: "LOST"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tok.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	tok := New("SN-1", "")
	require.NoError(t, tok.Reserve("alice", "Alice", uuid.New(), time.Now()))
	c := tok.Clone()
	*c.ReservedBy = "mallory"
	assert.Equal(t, "alice", *tok.ReservedBy)
}

func TestReasonErr(t *testing.T) {
	assert.NoError(t, Reason("").Err())
	assert.True(t, errors.Is(ReasonAlreadyReserved.Err(), ErrAlreadyReserved))
	assert.True(t, errors.Is(ReasonNotHolder.Err(), ErrNotHolder))
	assert.True(t, errors.Is(ReasonUnknownToken.Err(), ErrUnknownToken))
	assert.True(t, errors.Is(ReasonStoreConflict.Err(), ErrStoreConflict))
	assert.True(t, errors.Is(ReasonConnectionLost.Err(), ErrConnectionLost))
	assert.EqualError(t, Reason("ODD").Err(), "ODD")
}

func TestCleanSerials(t *testing.T) {
	got := CleanSerials([]string{" A1 ", "", "B2", "A1", "  ", "C3"})
	assert.Equal(t, []string{"A1", "B2", "C3"}, got)
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, DefaultCategory, NormalizeCategory("  "))
	assert.Equal(t, "lab", NormalizeCategory(" lab "))
}
