package sse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

func event(typ reservation.EventType, id string) *reservation.Event {
	t := token.New(id, "")
	return reservation.NewTransitionEvent(typ, t, uuid.Nil, time.Now())
}

func drain(t *testing.T, sub *Subscriber) []string {
	t.Helper()
	var out []string
	for sub.Len() > 0 {
		ev, err := sub.Next(context.Background())
		require.NoError(t, err)
		out = append(out, string(ev.Type)+":"+ev.TokenID)
	}
	return out
}

func TestHubPublishFIFO(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := h.Register(uuid.New(), "alice", "")
	b := h.Register(uuid.New(), "bob", "")
	assert.Equal(t, 2, h.Count())

	h.Publish(event(reservation.EventConfirmed, "1"))
	h.Publish(event(reservation.EventReleased, "1"))

	want := []string{"CONFIRMED:1", "RELEASED:1"}
	assert.Equal(t, want, drain(t, a))
	assert.Equal(t, want, drain(t, b))
}

func TestHubCategoryFilter(t *testing.T) {
	h := NewHub(zerolog.Nop())
	gaming := h.Register(uuid.New(), "a", "gaming")
	lab := h.Register(uuid.New(), "b", "lab")

	h.Publish(event(reservation.EventConfirmed, "G1"))
	assert.Equal(t, 1, gaming.Len())
	assert.Zero(t, lab.Len())

	own := reservation.NewRejectedEvent("G1", "gaming", token.ReasonAlreadyReserved, lab.SessionID, time.Now())
	h.Publish(own)
	assert.Equal(t, 1, lab.Len(), "originator always receives its own event")

	h.Publish(reservation.NewLowStockEvent("", 1, "available <= 10", time.Now()))
	assert.Equal(t, 2, lab.Len())
}

func TestHubDropsOldestNonCritical(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(3))
	sub := h.Register(uuid.New(), "a", "")

	h.Publish(event(reservation.EventConfirmed, "1"))
	h.Publish(event(reservation.EventConsumed, "2"))
	h.Publish(event(reservation.EventConfirmed, "3"))
	h.Publish(event(reservation.EventReleased, "4"))

	assert.Equal(t, []string{"CONSUMED:2", "CONFIRMED:3", "RELEASED:4"}, drain(t, sub))
}

func TestHubKeepsSnapshotUnderBurst(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(4))
	id := uuid.New()
	sub := h.Register(id, "a", "")

	require.NoError(t, h.SendTo(id, reservation.NewSnapshotEvent(token.DefaultCategory, id, nil, time.Now())))
	for i := 0; i < 4; i++ {
		h.Publish(event(reservation.EventConfirmed, fmt.Sprint(i)))
	}

	assert.Equal(t, []string{"SNAPSHOT:", "CONFIRMED:1", "CONFIRMED:2", "CONFIRMED:3"}, drain(t, sub))
	assert.NotNil(t, h.Get(id))
}

func TestHubDropsNewNonCriticalWhenAllCritical(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(2))
	sub := h.Register(uuid.New(), "a", "")

	h.Publish(event(reservation.EventConsumed, "1"))
	h.Publish(event(reservation.EventConsumed, "2"))
	h.Publish(event(reservation.EventConfirmed, "3"))

	assert.Equal(t, 1, h.Count())
	assert.Equal(t, []string{"CONSUMED:1", "CONSUMED:2"}, drain(t, sub))
}

func TestHubEvictsWhenCriticalCannotFit(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(2))
	evictedCh := make(chan uuid.UUID, 1)
	h.SetEvictHandler(func(id uuid.UUID) { evictedCh <- id })

	slow := h.Register(uuid.New(), "slow", "")
	fast := h.Register(uuid.New(), "fast", "")

	for i := 0; i < 3; i++ {
		h.Publish(event(reservation.EventConsumed, fmt.Sprint(i)))
		drain(t, fast)
	}

	select {
	case id := <-evictedCh:
		assert.Equal(t, slow.SessionID, id)
	case <-time.After(time.Second):
		t.Fatal("evict handler not called")
	}
	assert.Nil(t, h.Get(slow.SessionID))
	assert.NotNil(t, h.Get(fast.SessionID))

	_, err := slow.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	select {
	case <-slow.Done():
	default:
		t.Fatal("evicted subscriber not closed")
	}
}

func TestHubSendTo(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(1))
	sid := uuid.New()

	err := h.SendTo(sid, event(reservation.EventSnapshot, ""))
	assert.ErrorIs(t, err, ErrSubscriberNotFound)

	sub := h.Register(sid, "a", "")
	require.NoError(t, h.SendTo(sid, event(reservation.EventConsumed, "1")))
	assert.ErrorIs(t, h.SendTo(sid, event(reservation.EventConfirmed, "2")), ErrQueueFull)
	assert.Equal(t, 1, sub.Len())
}

func TestSubscriberNextBlocksUntilEvent(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sub := h.Register(uuid.New(), "a", "")

	got := make(chan *reservation.Event, 1)
	go func() {
		ev, err := sub.Next(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	h.Publish(event(reservation.EventConfirmed, "1"))
	select {
	case ev := <-got:
		assert.Equal(t, "1", ev.TokenID)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHubRegisterReplacesAndUnregisterCloses(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sid := uuid.New()
	first := h.Register(sid, "a", "")
	second := h.Register(sid, "a", "")
	assert.Equal(t, 1, h.Count())

	_, err := first.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	h.Unregister(sid)
	assert.Zero(t, h.Count())
	_, err = second.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	third := h.Register(uuid.New(), "b", "")
	h.Stop()
	assert.Zero(t, h.Count())
	_, err = third.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
