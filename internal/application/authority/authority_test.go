package authority

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/serial-reservation/internal/clock"
	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
	"github.com/execution-hub/serial-reservation/internal/domain/token/mocks"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/memory"
)

type recorder struct {
	mu        sync.Mutex
	broadcast []*reservation.Event
	direct    map[uuid.UUID][]*reservation.Event
}

func newRecorder() *recorder {
	return &recorder{direct: make(map[uuid.UUID][]*reservation.Event)}
}

func (r *recorder) Publish(ev *reservation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast = append(r.broadcast, ev)
}

func (r *recorder) SendTo(id uuid.UUID, ev *reservation.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[id] = append(r.direct[id], ev)
	return nil
}

func (r *recorder) published(typ reservation.EventType) []*reservation.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*reservation.Event
	for _, ev := range r.broadcast {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) sentTo(id uuid.UUID) []*reservation.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*reservation.Event(nil), r.direct[id]...)
}

func newTestAuthority(t *testing.T, store token.Store, opts ...Option) (*Authority, *recorder) {
	t.Helper()
	rec := newRecorder()
	opts = append([]Option{WithSweepInterval(0)}, opts...)
	a := New(store, rec, zerolog.Nop(), opts...)
	a.Start(context.Background())
	t.Cleanup(a.Stop)
	return a, rec
}

func req(tokenID, actor string, sid uuid.UUID) RequestInput {
	return RequestInput{TokenID: tokenID, ActorID: actor, ActorName: actor, SessionID: sid}
}

func TestConcurrentRequestsAdmitExactlyOne(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1"))

	const n = 50
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Request(ctx, req("SN-1", "user", uuid.New()))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	won := 0
	for _, res := range results {
		if res.Accepted {
			won++
			continue
		}
		assert.Equal(t, token.ReasonAlreadyReserved, res.Reason)
	}
	assert.Equal(t, 1, won)
	assert.Len(t, rec.published(reservation.EventConfirmed), 1)
}

func TestSimultaneousRequestsResolveInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, memory.NewTokenStore().Seed("", "Z0005"))
	require.NoError(t, a.Load(ctx, ""))

	sa, sb := uuid.New(), uuid.New()
	start := make(chan struct{})
	var ra, rb Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); <-start; ra, _ = a.Request(ctx, req("Z0005", "A", sa)) }()
	go func() { defer wg.Done(); <-start; rb, _ = a.Request(ctx, req("Z0005", "B", sb)) }()
	close(start)
	wg.Wait()

	assert.True(t, ra.Accepted != rb.Accepted, "exactly one request wins")
	loser := ra
	if ra.Accepted {
		loser = rb
	}
	assert.Equal(t, token.ReasonAlreadyReserved, loser.Reason)
}

func TestScenarioReserveRejectCommit(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "Z0001", "Z0002"))
	sa, sb := uuid.New(), uuid.New()

	res, err := a.Request(ctx, req("Z0001", "A", sa))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	confirmed := rec.published(reservation.EventConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "A", *confirmed[0].ReservedBy)
	assert.Equal(t, sa, *confirmed[0].SessionID)

	res, err = a.Request(ctx, req("Z0001", "B", sb))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, token.ReasonAlreadyReserved, res.Reason)
	assert.ErrorIs(t, res.Err(), token.ErrAlreadyReserved)
	direct := rec.sentTo(sb)
	require.Len(t, direct, 1)
	assert.Equal(t, reservation.EventRejected, direct[0].Type)

	res, err = a.Commit(ctx, "Z0001", sa)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, token.StatusConsumed, res.Token.Status)

	consumed := rec.published(reservation.EventConsumed)
	require.Len(t, consumed, 1)
	assert.Equal(t, "Z0001", consumed[0].TokenID)

	snap, err := a.SnapshotFor(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "Z0002", snap[0].ID)
}

func TestConsumedIsTerminal(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1"))
	sid := uuid.New()

	res, _ := a.Request(ctx, req("SN-1", "alice", sid))
	require.True(t, res.Accepted)
	res, _ = a.Commit(ctx, "SN-1", sid)
	require.True(t, res.Accepted)

	res, _ = a.Request(ctx, req("SN-1", "alice", sid))
	assert.Equal(t, token.ReasonUnknownToken, res.Reason)
	res, _ = a.Request(ctx, req("SN-1", "bob", uuid.New()))
	assert.Equal(t, token.ReasonUnknownToken, res.Reason)
	res, _ = a.Release(ctx, "SN-1", sid)
	assert.Equal(t, token.ReasonNotHolder, res.Reason)
	res, _ = a.Commit(ctx, "SN-1", sid)
	assert.Equal(t, token.ReasonNotHolder, res.Reason)

	require.NoError(t, a.Refresh(ctx, ""))
	res, _ = a.Request(ctx, req("SN-1", "bob", uuid.New()))
	assert.Equal(t, token.ReasonUnknownToken, res.Reason)
}

func TestIdempotentRequest(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1"), WithClock(c))
	sid := uuid.New()

	first, err := a.Request(ctx, req("SN-1", "alice", sid))
	require.NoError(t, err)
	require.True(t, first.Accepted)

	c.Advance(time.Minute)
	second, err := a.Request(ctx, req("SN-1", "alice", sid))
	require.NoError(t, err)
	require.True(t, second.Accepted)
	assert.Equal(t, token.StatusReserved, second.Token.Status)
	assert.Equal(t, *first.Token.ReservedAt, *second.Token.ReservedAt, "re-request changes nothing")

	assert.Len(t, rec.published(reservation.EventConfirmed), 1, "re-request is not re-broadcast")
	echo := rec.sentTo(sid)
	require.Len(t, echo, 1)
	assert.Equal(t, reservation.EventConfirmed, echo[0].Type)

	c.Advance(15 * time.Minute)
	n, err := a.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "idle window counts from the first acceptance")
}

func TestSameActorDifferentSessionsCompete(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1"))

	res, _ := a.Request(ctx, req("SN-1", "alice", uuid.New()))
	require.True(t, res.Accepted)
	res, _ = a.Request(ctx, req("SN-1", "alice", uuid.New()))
	assert.Equal(t, token.ReasonAlreadyReserved, res.Reason)
}

func TestRequestReleaseRestoresToken(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1", "SN-2"))
	sid := uuid.New()

	before, err := a.SnapshotFor(ctx, "")
	require.NoError(t, err)

	res, _ := a.Request(ctx, req("SN-1", "alice", sid))
	require.True(t, res.Accepted)
	res, err = a.Release(ctx, "SN-1", sid)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	after, err := a.SnapshotFor(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	released := rec.published(reservation.EventReleased)
	require.Len(t, released, 1)
	assert.Equal(t, token.StatusAvailable, released[0].Status)
	assert.Nil(t, released[0].ReservedBy)
}

func TestReleaseRules(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1", "SN-2"))
	require.NoError(t, a.Load(ctx, ""))
	holder, other := uuid.New(), uuid.New()

	res, _ := a.Release(ctx, "SN-2", other)
	assert.True(t, res.Accepted, "releasing an available token is a no-op")
	assert.Empty(t, rec.published(reservation.EventReleased))

	res, _ = a.Release(ctx, "nope", other)
	assert.Equal(t, token.ReasonUnknownToken, res.Reason)

	res, _ = a.Request(ctx, req("SN-1", "alice", holder))
	require.True(t, res.Accepted)
	res, _ = a.Release(ctx, "SN-1", other)
	assert.Equal(t, token.ReasonNotHolder, res.Reason)
	assert.ErrorIs(t, res.Err(), token.ErrNotHolder)
}

func TestUnknownToken(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1"))
	sid := uuid.New()

	res, err := a.Request(ctx, req("SN-404", "alice", sid))
	require.NoError(t, err)
	assert.Equal(t, token.ReasonUnknownToken, res.Reason)
	require.Len(t, rec.sentTo(sid), 1)
	assert.Equal(t, token.ReasonUnknownToken, rec.sentTo(sid)[0].Reason)

	res, _ = a.Commit(ctx, "SN-404", sid)
	assert.Equal(t, token.ReasonUnknownToken, res.Reason)
}

func TestIdleSweepReleasesStaleReservations(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "Z0002", "Z0003"),
		WithClock(c), WithIdleTimeout(15*time.Minute))
	sa, sb := uuid.New(), uuid.New()

	res, _ := a.Request(ctx, req("Z0002", "A", sa))
	require.True(t, res.Accepted)
	c.Advance(10 * time.Minute)
	res, _ = a.Request(ctx, req("Z0003", "B", sb))
	require.True(t, res.Accepted)

	n, err := a.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.Advance(6 * time.Minute)
	n, err = a.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	released := rec.published(reservation.EventReleased)
	require.Len(t, released, 1)
	assert.Equal(t, "Z0002", released[0].TokenID)
	assert.Equal(t, sa, *released[0].SessionID)

	res, _ = a.Request(ctx, req("Z0002", "B", sb))
	assert.True(t, res.Accepted)
}

func TestIdleSweepDisabled(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(time.Now())
	a, _ := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1"), WithClock(c), WithIdleTimeout(0))

	res, _ := a.Request(ctx, req("SN-1", "A", uuid.New()))
	require.True(t, res.Accepted)
	c.Advance(24 * time.Hour)
	n, err := a.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRunsOnTicker(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(time.Now())
	rec := newRecorder()
	a := New(memory.NewTokenStore().Seed("", "SN-1"), rec, zerolog.Nop(),
		WithClock(c), WithIdleTimeout(time.Minute), WithSweepInterval(5*time.Millisecond))
	a.Start(ctx)
	defer a.Stop()

	res, _ := a.Request(ctx, req("SN-1", "A", uuid.New()))
	require.True(t, res.Accepted)
	c.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		return len(rec.published(reservation.EventReleased)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReleaseSession(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "A1", "A2", "B1"))
	sa, sb := uuid.New(), uuid.New()

	for _, id := range []string{"A2", "A1"} {
		res, _ := a.Request(ctx, req(id, "alice", sa))
		require.True(t, res.Accepted)
	}
	res, _ := a.Request(ctx, req("B1", "bob", sb))
	require.True(t, res.Accepted)

	released, err := a.ReleaseSession(ctx, sa)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, released)
	assert.Len(t, rec.published(reservation.EventReleased), 2)

	stats, err := a.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, token.PoolStats{Category: token.DefaultCategory, Available: 2, Reserved: 1}, stats)
}

func TestCommitStoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().ListAvailable(gomock.Any(), token.DefaultCategory).
		Return([]token.Token{*token.New("SN-1", "")}, nil)
	store.EXPECT().ConsumeIfAvailable(gomock.Any(), "SN-1").Return(false, errors.New("db down"))

	a, rec := newTestAuthority(t, store)
	sid := uuid.New()
	res, _ := a.Request(ctx, req("SN-1", "alice", sid))
	require.True(t, res.Accepted)

	res, err := a.Commit(ctx, "SN-1", sid)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, token.ReasonStoreConflict, res.Reason)
	assert.ErrorIs(t, res.Err(), token.ErrStoreConflict)
	assert.ErrorIs(t, res.Err(), token.ErrConnectionLost)

	released := rec.published(reservation.EventReleased)
	require.Len(t, released, 1)
	assert.Equal(t, token.StatusAvailable, released[0].Status)

	res, _ = a.Request(ctx, req("SN-1", "bob", uuid.New()))
	assert.True(t, res.Accepted, "rolled back token is available again")
}

func TestCommitLostRace(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().ListAvailable(gomock.Any(), gomock.Any()).Return([]token.Token{*token.New("SN-1", "")}, nil)
	store.EXPECT().ConsumeIfAvailable(gomock.Any(), "SN-1").Return(false, nil)

	a, _ := newTestAuthority(t, store)
	sid := uuid.New()
	res, _ := a.Request(ctx, req("SN-1", "alice", sid))
	require.True(t, res.Accepted)

	res, err := a.Commit(ctx, "SN-1", sid)
	require.NoError(t, err)
	assert.Equal(t, token.ReasonStoreConflict, res.Reason)
	assert.ErrorIs(t, res.Err(), token.ErrStoreConflict)
	assert.NotErrorIs(t, res.Err(), token.ErrConnectionLost)
}

func TestTokenMidCommitCannotBeReleased(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entered := make(chan struct{})
	proceed := make(chan struct{})
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().ListAvailable(gomock.Any(), gomock.Any()).Return([]token.Token{*token.New("SN-1", "")}, nil)
	store.EXPECT().ConsumeIfAvailable(gomock.Any(), "SN-1").DoAndReturn(func(context.Context, string) (bool, error) {
		close(entered)
		<-proceed
		return true, nil
	})

	c := clock.NewManual(time.Now())
	a, _ := newTestAuthority(t, store, WithClock(c), WithIdleTimeout(time.Minute))
	sid := uuid.New()
	res, _ := a.Request(ctx, req("SN-1", "alice", sid))
	require.True(t, res.Accepted)

	done := make(chan Result, 1)
	go func() {
		r, _ := a.Commit(ctx, "SN-1", sid)
		done <- r
	}()
	<-entered

	res, _ = a.Release(ctx, "SN-1", sid)
	assert.Equal(t, token.ReasonNotHolder, res.Reason)
	res, _ = a.Commit(ctx, "SN-1", sid)
	assert.Equal(t, token.ReasonNotHolder, res.Reason)

	c.Advance(time.Hour)
	n, _ := a.SweepIdle(ctx)
	assert.Zero(t, n)
	released, _ := a.ReleaseSession(ctx, sid)
	assert.Empty(t, released)

	snap, _ := a.SnapshotFor(ctx, "")
	require.Len(t, snap, 1)
	assert.Equal(t, token.StatusReserved, snap[0].Status)

	close(proceed)
	got := <-done
	assert.True(t, got.Accepted)
}

func TestRefreshMergesWithoutClobbering(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTokenStore().Seed("", "SN-1", "SN-2", "SN-3")
	a, rec := newTestAuthority(t, store)
	sid := uuid.New()

	res, _ := a.Request(ctx, req("SN-1", "alice", sid))
	require.True(t, res.Accepted)

	store.Remove("SN-1")
	store.Remove("SN-2")
	store.Seed("", "SN-4")
	require.NoError(t, a.Refresh(ctx, ""))

	snap, err := a.SnapshotFor(ctx, "")
	require.NoError(t, err)
	ids := make([]string, 0, len(snap))
	for _, tk := range snap {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"SN-1", "SN-3", "SN-4"}, ids)
	assert.Equal(t, token.StatusReserved, snap[0].Status)

	gone := rec.published(reservation.EventConsumed)
	require.Len(t, gone, 1)
	assert.Equal(t, "SN-2", gone[0].TokenID)
	assert.Nil(t, gone[0].SessionID)
}

func TestCategoriesArePartitioned(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTokenStore().Seed("", "G1").Seed("lab", "L1")
	a, _ := newTestAuthority(t, store)

	res, _ := a.Request(ctx, RequestInput{TokenID: "L1", ActorID: "a", SessionID: uuid.New(), Category: "lab"})
	require.True(t, res.Accepted)

	cats, err := a.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lab"}, cats)

	snap, err := a.SnapshotFor(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "G1", snap[0].ID)

	held, err := a.Reservations(ctx, "lab")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "L1", held[0].ID)
}

func TestAttachSendsSnapshot(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAuthority(t, memory.NewTokenStore().Seed("", "SN-1", "SN-2"))
	sid := uuid.New()

	registered := false
	err := a.Attach(ctx, sid, "", func() error {
		registered = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, registered)

	got := rec.sentTo(sid)
	require.Len(t, got, 1)
	assert.Equal(t, reservation.EventSnapshot, got[0].Type)
	assert.Len(t, got[0].Tokens, 2)

	boom := errors.New("boom")
	err = a.Attach(ctx, uuid.New(), "", func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLoadFailureIsConnectionLost(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().ListAvailable(gomock.Any(), gomock.Any()).Return(nil, errors.New("refused"))

	a, _ := newTestAuthority(t, store)
	res, err := a.Request(ctx, req("SN-1", "alice", uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, token.ReasonConnectionLost, res.Reason)
	assert.ErrorIs(t, res.Err(), token.ErrConnectionLost)
}

func TestSharedLoadOutlivesCancelledCaller(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gate := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().ListAvailable(gomock.Any(), token.DefaultCategory).
		DoAndReturn(func(ctx context.Context, _ string) ([]token.Token, error) {
			once.Do(func() { close(started) })
			<-gate
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return []token.Token{*token.New("SN-1", "")}, nil
		}).AnyTimes()

	a, _ := newTestAuthority(t, store)
	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.Request(firstCtx, req("SN-1", "alice", uuid.New()))
		firstErr <- err
	}()
	<-started

	second := make(chan Result, 1)
	go func() {
		res, _ := a.Request(context.Background(), req("SN-1", "bob", uuid.New()))
		second <- res
	}()
	// let the second caller join the load in flight
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate)
	select {
	case res := <-second:
		assert.True(t, res.Accepted, "reason %s", res.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("second request never finished")
	}
}

func TestStoppedAuthority(t *testing.T) {
	a := New(memory.NewTokenStore(), newRecorder(), zerolog.Nop())
	a.Start(context.Background())
	a.Stop()
	a.Stop()

	_, err := a.Release(context.Background(), "SN-1", uuid.New())
	assert.ErrorIs(t, err, token.ErrAuthorityStopped)
}

func TestRequestValidatesIdentity(t *testing.T) {
	a, _ := newTestAuthority(t, memory.NewTokenStore())
	_, err := a.Request(context.Background(), RequestInput{TokenID: "SN-1", SessionID: uuid.New()})
	assert.Error(t, err)
}
