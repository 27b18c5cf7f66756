package authority

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// Load pulls category from the store the first time it is touched.
func (a *Authority) Load(ctx context.Context, category string) error {
	category = token.NormalizeCategory(category)
	var loaded bool
	if err := a.exec(ctx, func() { loaded = a.loaded[category] }); err != nil {
		return err
	}
	if loaded {
		return nil
	}
	return a.Refresh(ctx, category)
}

// Refresh reloads category from the store. Tokens reserved in memory are never
// overwritten; available tokens the store no longer lists are dropped and
// announced as consumed. Concurrent callers share one load, which is bounded
// by its own timeout rather than by any caller's context.
func (a *Authority) Refresh(ctx context.Context, category string) error {
	category = token.NormalizeCategory(category)
	ch := a.loads.DoChan(category, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.loadTimeout)
		defer cancel()
		list, err := a.store.ListAvailable(loadCtx, category)
		if err != nil {
			return nil, fmt.Errorf("list available %s: %w", category, err)
		}
		var added, dropped int
		if err := a.exec(loadCtx, func() {
			added, dropped = a.merge(category, list)
		}); err != nil {
			return nil, err
		}
		a.logger.Debug().
			Str("category", category).
			Int("added", added).
			Int("dropped", dropped).
			Msg("category refreshed")
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Authority) merge(category string, list []token.Token) (added, dropped int) {
	now := a.clock.Now()
	fresh := make(map[string]struct{}, len(list))
	for _, t := range list {
		fresh[t.ID] = struct{}{}
		if _, ok := a.tokens[t.ID]; ok {
			continue
		}
		if _, gone := a.consumed[t.ID]; gone {
			continue
		}
		a.tokens[t.ID] = &entry{token: token.New(t.ID, category)}
		added++
	}
	if a.loaded[category] {
		for id, e := range a.tokens {
			if e.token.Category != category || e.token.Status != token.StatusAvailable {
				continue
			}
			if _, ok := fresh[id]; ok {
				continue
			}
			delete(a.tokens, id)
			a.consumed[id] = category
			gone := e.token.Clone()
			gone.Status = token.StatusConsumed
			a.publish(reservation.NewTransitionEvent(reservation.EventConsumed, &gone, uuid.Nil, now))
			dropped++
		}
	}
	a.loaded[category] = true
	return added, dropped
}

// SnapshotFor returns every live token of category sorted by id.
func (a *Authority) SnapshotFor(ctx context.Context, category string) ([]token.Token, error) {
	category = token.NormalizeCategory(category)
	if err := a.Load(ctx, category); err != nil {
		return nil, err
	}
	var out []token.Token
	err := a.exec(ctx, func() {
		out = a.snapshot(category)
	})
	return out, err
}

func (a *Authority) snapshot(category string) []token.Token {
	out := make([]token.Token, 0, len(a.tokens))
	for _, e := range a.tokens {
		if e.token.Category == category {
			out = append(out, e.token.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Attach runs register and sends a SNAPSHOT to sessionID within one
// coordinator turn, so no transition can slip between the two and the
// snapshot is the first frame the session sees.
func (a *Authority) Attach(ctx context.Context, sessionID uuid.UUID, category string, register func() error) error {
	category = token.NormalizeCategory(category)
	if err := a.Load(ctx, category); err != nil {
		return err
	}
	var regErr error
	err := a.exec(ctx, func() {
		if register != nil {
			if regErr = register(); regErr != nil {
				return
			}
		}
		a.sendTo(sessionID, reservation.NewSnapshotEvent(category, sessionID, a.snapshot(category), a.clock.Now()))
	})
	if err != nil {
		return err
	}
	return regErr
}

// Stats counts live tokens of category by status.
func (a *Authority) Stats(ctx context.Context, category string) (token.PoolStats, error) {
	category = token.NormalizeCategory(category)
	stats := token.PoolStats{Category: category}
	err := a.exec(ctx, func() {
		for _, e := range a.tokens {
			if e.token.Category != category {
				continue
			}
			switch e.token.Status {
			case token.StatusAvailable:
				stats.Available++
			case token.StatusReserved:
				stats.Reserved++
			}
		}
		for _, c := range a.consumed {
			if c == category {
				stats.Consumed++
			}
		}
	})
	return stats, err
}

// Reservations lists the tokens of category currently held.
func (a *Authority) Reservations(ctx context.Context, category string) ([]token.Token, error) {
	category = token.NormalizeCategory(category)
	var out []token.Token
	err := a.exec(ctx, func() {
		for _, t := range a.snapshot(category) {
			if t.Status == token.StatusReserved {
				out = append(out, t)
			}
		}
	})
	return out, err
}

// Categories lists the categories loaded so far.
func (a *Authority) Categories(ctx context.Context) ([]string, error) {
	var out []string
	err := a.exec(ctx, func() {
		for c := range a.loaded {
			out = append(out, c)
		}
	})
	sort.Strings(out)
	return out, err
}
