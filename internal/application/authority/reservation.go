package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// RequestInput asks for a tentative reservation.
type RequestInput struct {
	TokenID   string
	ActorID   string
	ActorName string
	SessionID uuid.UUID
	Category  string
}

// Result is the outcome of a reservation message. Rejections are values:
// Accepted is false and Reason says why.
type Result struct {
	Accepted bool
	Reason   token.Reason
	Token    *token.Token
	// Cause carries the underlying failure for STORE_CONFLICT and CONNECTION_LOST.
	Cause error
}

// Err returns the sentinel for a rejected result, wrapping Cause when set.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	if r.Cause != nil {
		return r.Cause
	}
	return r.Reason.Err()
}

func accepted(t *token.Token) Result {
	snap := t.Clone()
	return Result{Accepted: true, Token: &snap}
}

func rejected(reason token.Reason, t *token.Token) Result {
	res := Result{Reason: reason}
	if t != nil {
		snap := t.Clone()
		res.Token = &snap
	}
	return res
}

// Request reserves in.TokenID for the calling session. The category is
// loaded on first use.
func (a *Authority) Request(ctx context.Context, in RequestInput) (Result, error) {
	if strings.TrimSpace(in.ActorID) == "" || in.SessionID == uuid.Nil {
		return Result{}, errors.New("actor id and session id are required")
	}
	in.Category = token.NormalizeCategory(in.Category)
	if err := a.Load(ctx, in.Category); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{Reason: token.ReasonConnectionLost, Cause: fmt.Errorf("%w: %w", token.ErrConnectionLost, err)}, nil
	}
	var res Result
	err := a.exec(ctx, func() {
		res = a.request(in)
	})
	return res, err
}

func (a *Authority) request(in RequestInput) Result {
	now := a.clock.Now()
	e, ok := a.tokens[in.TokenID]
	if !ok {
		a.m.recordRequest(token.ReasonUnknownToken)
		a.sendTo(in.SessionID, reservation.NewRejectedEvent(in.TokenID, in.Category, token.ReasonUnknownToken, in.SessionID, now))
		return rejected(token.ReasonUnknownToken, nil)
	}

	t := e.token
	switch {
	case t.Status == token.StatusAvailable:
		if err := t.Reserve(in.ActorID, in.ActorName, in.SessionID, now); err != nil {
			a.logger.Error().Err(err).Str("token_id", t.ID).Msg("reserve failed")
			return rejected(token.ReasonUnknownToken, t)
		}
		a.m.recordRequest("")
		a.m.addReserved(1)
		a.publish(reservation.NewTransitionEvent(reservation.EventConfirmed, t, in.SessionID, now))
		return accepted(t)
	case t.HeldBy(in.SessionID):
		// Re-requests leave the reservation untouched, so the idle window
		// still counts from the first acceptance.
		a.m.recordRequest("")
		a.sendTo(in.SessionID, reservation.NewTransitionEvent(reservation.EventConfirmed, t, in.SessionID, now))
		return accepted(t)
	default:
		a.m.recordRequest(token.ReasonAlreadyReserved)
		a.sendTo(in.SessionID, reservation.NewRejectedEvent(t.ID, t.Category, token.ReasonAlreadyReserved, in.SessionID, now))
		return rejected(token.ReasonAlreadyReserved, t)
	}
}

// Release gives tokenID back to the pool. Releasing an available token is
// accepted without an event.
func (a *Authority) Release(ctx context.Context, tokenID string, sessionID uuid.UUID) (Result, error) {
	var res Result
	err := a.exec(ctx, func() {
		res = a.release(tokenID, sessionID)
	})
	return res, err
}

func (a *Authority) release(tokenID string, sessionID uuid.UUID) Result {
	now := a.clock.Now()
	e, ok := a.tokens[tokenID]
	if !ok {
		reason := token.ReasonUnknownToken
		category := ""
		if c, gone := a.consumed[tokenID]; gone {
			reason = token.ReasonNotHolder
			category = c
		}
		a.m.recordRelease(reason)
		a.sendTo(sessionID, reservation.NewRejectedEvent(tokenID, category, reason, sessionID, now))
		return rejected(reason, nil)
	}

	t := e.token
	if t.Status == token.StatusAvailable {
		a.m.recordRelease("")
		return accepted(t)
	}
	if !t.HeldBy(sessionID) || e.committing {
		a.m.recordRelease(token.ReasonNotHolder)
		a.sendTo(sessionID, reservation.NewRejectedEvent(t.ID, t.Category, token.ReasonNotHolder, sessionID, now))
		return rejected(token.ReasonNotHolder, t)
	}
	a.releaseEntry(e, sessionID, now)
	a.m.recordRelease("")
	return accepted(t)
}

// Commit permanently consumes tokenID. The store call runs off the
// coordinator; while it is in flight the token stays RESERVED and cannot be
// released or swept.
func (a *Authority) Commit(ctx context.Context, tokenID string, sessionID uuid.UUID) (Result, error) {
	var (
		res     Result
		pending bool
	)
	err := a.exec(ctx, func() {
		res, pending = a.beginCommit(tokenID, sessionID)
	})
	if err != nil || !pending {
		return res, err
	}

	// The outcome must land even if the caller goes away.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.commitTimeout)
	start := a.clock.Now()
	ok, storeErr := a.store.ConsumeIfAvailable(storeCtx, tokenID)
	cancel()
	a.m.recordStoreCall(a.clock.Now().Sub(start), storeErr)

	err = a.exec(context.WithoutCancel(ctx), func() {
		res = a.finishCommit(tokenID, sessionID, ok, storeErr)
	})
	return res, err
}

func (a *Authority) beginCommit(tokenID string, sessionID uuid.UUID) (Result, bool) {
	now := a.clock.Now()
	e, ok := a.tokens[tokenID]
	if !ok {
		reason := token.ReasonUnknownToken
		category := ""
		if c, gone := a.consumed[tokenID]; gone {
			reason = token.ReasonNotHolder
			category = c
		}
		a.m.recordCommit(reason)
		a.sendTo(sessionID, reservation.NewRejectedEvent(tokenID, category, reason, sessionID, now))
		return rejected(reason, nil), false
	}
	if !e.token.HeldBy(sessionID) || e.committing {
		a.m.recordCommit(token.ReasonNotHolder)
		a.sendTo(sessionID, reservation.NewRejectedEvent(tokenID, e.token.Category, token.ReasonNotHolder, sessionID, now))
		return rejected(token.ReasonNotHolder, e.token), false
	}
	e.committing = true
	return Result{}, true
}

func (a *Authority) finishCommit(tokenID string, sessionID uuid.UUID, ok bool, storeErr error) Result {
	now := a.clock.Now()
	e, found := a.tokens[tokenID]
	if !found || !e.committing {
		// Only a refresh dropping the entry could get here; treat as lost.
		a.logger.Warn().Str("token_id", tokenID).Msg("commit outcome for untracked token")
		a.m.recordCommit(token.ReasonStoreConflict)
		return rejected(token.ReasonStoreConflict, nil)
	}
	e.committing = false
	t := e.token

	if ok && storeErr == nil {
		if err := t.Consume(); err != nil {
			a.logger.Error().Err(err).Str("token_id", tokenID).Msg("consume transition failed")
		}
		delete(a.tokens, tokenID)
		a.consumed[tokenID] = t.Category
		a.m.addReserved(-1)
		a.m.recordCommit("")
		a.publish(reservation.NewTransitionEvent(reservation.EventConsumed, t, sessionID, now))
		a.logger.Info().Str("token_id", tokenID).Str("session_id", sessionID.String()).Msg("token consumed")
		return accepted(t)
	}

	if storeErr != nil {
		a.logger.Error().Err(storeErr).Str("token_id", tokenID).Msg("commit store call failed")
	} else {
		a.logger.Warn().Str("token_id", tokenID).Msg("token no longer available in store")
	}
	a.releaseEntry(e, sessionID, now)
	a.m.recordCommit(token.ReasonStoreConflict)
	a.sendTo(sessionID, reservation.NewRejectedEvent(tokenID, t.Category, token.ReasonStoreConflict, sessionID, now))
	res := rejected(token.ReasonStoreConflict, t)
	res.Cause = token.ErrStoreConflict
	if storeErr != nil {
		res.Cause = fmt.Errorf("%w: %w: %w", token.ErrStoreConflict, token.ErrConnectionLost, storeErr)
	}
	return res
}

// releaseEntry moves a held token back to AVAILABLE and announces it.
func (a *Authority) releaseEntry(e *entry, origin uuid.UUID, now time.Time) {
	if err := e.token.Release(); err != nil {
		a.logger.Error().Err(err).Str("token_id", e.token.ID).Msg("release transition failed")
		return
	}
	a.m.addReserved(-1)
	a.publish(reservation.NewTransitionEvent(reservation.EventReleased, e.token, origin, now))
}

// ReleaseSession releases every token held by sessionID and returns their
// ids. Tokens mid-commit are left to the commit outcome.
func (a *Authority) ReleaseSession(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	var released []string
	err := a.exec(ctx, func() {
		now := a.clock.Now()
		for id, e := range a.tokens {
			if e.committing || !e.token.HeldBy(sessionID) {
				continue
			}
			a.releaseEntry(e, sessionID, now)
			released = append(released, id)
		}
	})
	sort.Strings(released)
	if len(released) > 0 {
		a.logger.Info().Str("session_id", sessionID.String()).Strs("token_ids", released).Msg("session reservations released")
	}
	return released, err
}

// SweepIdle releases reservations older than the idle timeout.
func (a *Authority) SweepIdle(ctx context.Context) (int, error) {
	var n int
	err := a.exec(ctx, func() {
		n = a.sweepIdle()
	})
	return n, err
}

func (a *Authority) sweepIdle() int {
	if a.idleTimeout <= 0 {
		return 0
	}
	now := a.clock.Now()
	cutoff := now.Add(-a.idleTimeout)
	n := 0
	for _, e := range a.tokens {
		if e.committing || !e.token.IdleSince(cutoff) {
			continue
		}
		holder := uuid.Nil
		if e.token.ReservedBySession != nil {
			holder = *e.token.ReservedBySession
		}
		a.releaseEntry(e, holder, now)
		n++
	}
	a.m.recordSweep(n)
	return n
}
