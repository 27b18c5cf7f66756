package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const errorBuffer = 16

// Reply is the server's answer to one message.
type Reply struct {
	Accepted bool          `json:"accepted"`
	Reason   token.Reason  `json:"reason,omitempty"`
	Token    *token.Token  `json:"token,omitempty"`
	Tokens   []token.Token `json:"tokens,omitempty"`
}

// Err returns the sentinel for a rejected reply.
func (r *Reply) Err() error {
	if r == nil || r.Accepted {
		return nil
	}
	return r.Reason.Err()
}

// Transport carries one session's messages to the server.
type Transport interface {
	SessionID() uuid.UUID
	Snapshot(ctx context.Context) ([]token.Token, error)
	Request(ctx context.Context, tokenID string) (*Reply, error)
	Release(ctx context.Context, tokenID string) (*Reply, error)
	Commit(ctx context.Context, tokenID string) (*Reply, error)
}

// RejectedError reports that the server refused a local action.
type RejectedError struct {
	TokenID string
	Reason  token.Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("token %s rejected: %s", e.TokenID, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Reason.Err()
}

// Cache is one session's read model of the pool. Local selections show up
// immediately and are reconciled once the server answers. Only the server's
// events write token state; replies merely settle or revert local changes.
type Cache struct {
	transport Transport
	sessionID uuid.UUID
	actorID   string
	actorName string
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	tokens   map[string]token.Token
	pending  map[string]pendingChange
	selected string

	errs chan error
	wg   sync.WaitGroup
}

// pendingChange is the state of a token before an unconfirmed local change.
// Async changes have no caller waiting, so their rejection goes to Errors.
type pendingChange struct {
	prev  token.Token
	async bool
}

func NewCache(t Transport, actorID, actorName string, logger zerolog.Logger) *Cache {
	return &Cache{
		transport: t,
		sessionID: t.SessionID(),
		actorID:   actorID,
		actorName: actorName,
		logger:    logger.With().Str("component", "reservation-cache").Str("session_id", t.SessionID().String()).Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		tokens:    map[string]token.Token{},
		pending:   map[string]pendingChange{},
		errs:      make(chan error, errorBuffer),
	}
}

// Load replaces the cache with a fresh snapshot.
func (c *Cache) Load(ctx context.Context) error {
	list, err := c.transport.Snapshot(ctx)
	if err != nil {
		return err
	}
	c.replace(list)
	return nil
}

func (c *Cache) replace(list []token.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]token.Token, len(list))
	for _, t := range list {
		c.tokens[t.ID] = t.Clone()
	}
	c.pending = map[string]pendingChange{}
}

// Select marks tokenID reserved by this session right away and asks the
// server in the background. A rejection reverts the mark and is reported on
// Errors. The previous selection is kept.
func (c *Cache) Select(ctx context.Context, tokenID string) error {
	c.mu.Lock()
	cur, ok := c.tokens[tokenID]
	switch {
	case !ok:
		c.mu.Unlock()
		return &RejectedError{TokenID: tokenID, Reason: token.ReasonUnknownToken}
	case cur.Status == token.StatusReserved && !cur.HeldBy(c.sessionID):
		c.mu.Unlock()
		return &RejectedError{TokenID: tokenID, Reason: token.ReasonAlreadyReserved}
	}
	p, held := c.pending[tokenID]
	if !held {
		p.prev = cur.Clone()
	}
	p.async = true
	c.pending[tokenID] = p
	if cur.Status == token.StatusAvailable {
		_ = cur.Reserve(c.actorID, c.actorName, c.sessionID, c.now())
	}
	c.tokens[tokenID] = cur
	c.selected = tokenID
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		reply, err := c.transport.Request(context.WithoutCancel(ctx), tokenID)
		_ = c.settle(tokenID, reply, err)
	}()
	return nil
}

// Release gives tokenID back and waits for the server's answer.
func (c *Cache) Release(ctx context.Context, tokenID string) error {
	c.mu.Lock()
	if cur, ok := c.tokens[tokenID]; ok && cur.HeldBy(c.sessionID) {
		if _, held := c.pending[tokenID]; !held {
			c.pending[tokenID] = pendingChange{prev: cur.Clone()}
		}
		_ = cur.Release()
		c.tokens[tokenID] = cur
	}
	if c.selected == tokenID {
		c.selected = ""
	}
	c.mu.Unlock()

	reply, err := c.transport.Release(ctx, tokenID)
	return c.settle(tokenID, reply, err)
}

// Commit consumes tokenID and waits for the outcome. A failed commit leaves
// the token to the RELEASED event the server broadcasts.
func (c *Cache) Commit(ctx context.Context, tokenID string) error {
	reply, err := c.transport.Commit(ctx, tokenID)
	if err == nil && reply.Accepted {
		c.mu.Lock()
		delete(c.tokens, tokenID)
		delete(c.pending, tokenID)
		if c.selected == tokenID {
			c.selected = ""
		}
		c.mu.Unlock()
		return nil
	}
	return c.settle(tokenID, reply, err)
}

// settle reconciles a pending local change with the server's reply. The
// reply may be older than events already applied, so it never writes token
// state: success drops the pending mark and failure reverts it if no event
// has superseded it yet.
func (c *Cache) settle(tokenID string, reply *Reply, err error) error {
	if err == nil && !reply.Accepted {
		err = &RejectedError{TokenID: tokenID, Reason: reply.Reason}
	}
	c.mu.Lock()
	var (
		p        pendingChange
		reverted bool
	)
	if err != nil {
		p, reverted = c.revertLocked(tokenID)
	} else {
		delete(c.pending, tokenID)
	}
	c.mu.Unlock()
	if reverted && p.async {
		c.report(err)
	}
	return err
}

// revertLocked restores the state saved before a local change. It reports
// false when an event already settled the token.
func (c *Cache) revertLocked(tokenID string) (pendingChange, bool) {
	p, ok := c.pending[tokenID]
	if !ok {
		return p, false
	}
	delete(c.pending, tokenID)
	if _, live := c.tokens[tokenID]; live {
		c.tokens[tokenID] = p.prev
	}
	if c.selected == tokenID && !p.prev.HeldBy(c.sessionID) {
		c.selected = ""
	}
	return p, true
}

func (c *Cache) putLocked(t token.Token) {
	if t.Status == token.StatusConsumed {
		delete(c.tokens, t.ID)
		return
	}
	c.tokens[t.ID] = t.Clone()
}

// Apply folds one server event into the cache.
func (c *Cache) Apply(ev *reservation.Event) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case reservation.EventSnapshot:
		c.replace(ev.Tokens)
	case reservation.EventConfirmed, reservation.EventReleased, reservation.EventConsumed:
		c.mu.Lock()
		delete(c.pending, ev.TokenID)
		t := tokenFromEvent(ev)
		c.putLocked(t)
		if c.selected == ev.TokenID && !t.HeldBy(c.sessionID) {
			c.selected = ""
		}
		c.mu.Unlock()
	case reservation.EventRejected:
		c.mu.Lock()
		p, reverted := c.revertLocked(ev.TokenID)
		c.mu.Unlock()
		if reverted && p.async {
			c.report(&RejectedError{TokenID: ev.TokenID, Reason: ev.Reason})
		}
	default:
		c.logger.Debug().Str("type", string(ev.Type)).Str("category", ev.Category).Msg("event ignored")
	}
}

func tokenFromEvent(ev *reservation.Event) token.Token {
	t := token.Token{ID: ev.TokenID, Category: ev.Category, Status: ev.Status}
	if ev.Type == reservation.EventConfirmed {
		t.ReservedBy = ev.ReservedBy
		t.ReservedByName = ev.ReservedByName
		t.ReservedBySession = ev.SessionID
		at := ev.At
		t.ReservedAt = &at
	}
	return t
}

func (c *Cache) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn().Err(err).Msg("error dropped, nobody is reading")
	}
}

// Run applies events until the channel closes or ctx ends.
func (c *Cache) Run(ctx context.Context, events <-chan *reservation.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Apply(ev)
		}
	}
}

// IsFree reports whether tokenID can be selected by anyone.
func (c *Cache) IsFree(tokenID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[tokenID]
	return ok && t.Status == token.StatusAvailable
}

func (c *Cache) Get(tokenID string) (token.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[tokenID]
	if !ok {
		return token.Token{}, false
	}
	return t.Clone(), true
}

// List returns every known token sorted by id.
func (c *Cache) List() []token.Token {
	c.mu.RLock()
	out := make([]token.Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

func (c *Cache) Errors() <-chan error { return c.errs }

// Close releases the current selection and waits for requests in flight.
func (c *Cache) Close(ctx context.Context) error {
	c.wg.Wait()
	c.mu.RLock()
	selected := c.selected
	held := false
	if t, ok := c.tokens[selected]; ok {
		held = t.HeldBy(c.sessionID)
	}
	c.mu.RUnlock()
	if selected == "" || !held {
		return nil
	}
	if err := c.Release(ctx, selected); err != nil && !errors.Is(err, token.ErrNotHolder) {
		return err
	}
	return nil
}
