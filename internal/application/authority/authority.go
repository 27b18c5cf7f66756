package authority

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/execution-hub/serial-reservation/internal/clock"
	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const (
	DefaultIdleTimeout   = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultCommitTimeout = 10 * time.Second
	DefaultLoadTimeout   = 15 * time.Second
)

// Publisher fans events out to connected sessions. Both methods are called
// from the coordinator goroutine and must not block.
type Publisher interface {
	Publish(ev *reservation.Event)
	SendTo(sessionID uuid.UUID, ev *reservation.Event) error
}

// Authority is the single owner of live reservation state. Every mutation
// runs on one coordinator goroutine fed through cmds.
type Authority struct {
	store  token.Store
	pub    Publisher
	clock  clock.Clock
	logger zerolog.Logger
	m      *metrics

	idleTimeout   time.Duration
	sweepInterval time.Duration
	commitTimeout time.Duration
	loadTimeout   time.Duration

	cmds      chan func()
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	loads     singleflight.Group

	// owned by the coordinator
	tokens   map[string]*entry
	consumed map[string]string
	loaded   map[string]bool
}

type entry struct {
	token      *token.Token
	committing bool
}

// Option configures an Authority.
type Option func(*Authority)

// WithIdleTimeout sets how long a reservation may sit before the sweep
// releases it. Zero disables the sweep.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *Authority) { a.idleTimeout = d }
}

// WithSweepInterval sets how often idle reservations are checked.
func WithSweepInterval(d time.Duration) Option {
	return func(a *Authority) { a.sweepInterval = d }
}

// WithCommitTimeout bounds the store call made by Commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(a *Authority) {
		if d > 0 {
			a.commitTimeout = d
		}
	}
}

// WithClock overrides the time source used to stamp reservations.
func WithClock(c clock.Clock) Option {
	return func(a *Authority) {
		if c != nil {
			a.clock = c
		}
	}
}

// New creates an Authority. Start must be called before use.
func New(store token.Store, pub Publisher, logger zerolog.Logger, opts ...Option) *Authority {
	a := &Authority{
		store:         store,
		pub:           pub,
		clock:         clock.Real{},
		logger:        logger.With().Str("service", "authority").Logger(),
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		commitTimeout: DefaultCommitTimeout,
		loadTimeout:   DefaultLoadTimeout,
		cmds:          make(chan func()),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		tokens:        make(map[string]*entry),
		consumed:      make(map[string]string),
		loaded:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.m = newMetrics(a.logger)
	return a
}

// Start launches the coordinator. It returns immediately.
func (a *Authority) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go a.run(ctx)
	})
}

// Stop halts the coordinator and waits for it to exit.
func (a *Authority) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	a.startOnce.Do(func() { close(a.done) })
	<-a.done
}

func (a *Authority) run(ctx context.Context) {
	defer close(a.done)

	var tick <-chan time.Time
	if a.idleTimeout > 0 && a.sweepInterval > 0 {
		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	a.logger.Info().
		Dur("idle_timeout", a.idleTimeout).
		Dur("sweep_interval", a.sweepInterval).
		Msg("reservation authority started")

	for {
		select {
		case fn := <-a.cmds:
			fn()
		case <-tick:
			if n := a.sweepIdle(); n > 0 {
				a.logger.Info().Int("released", n).Msg("idle reservations released")
			}
		case <-a.stop:
			a.logger.Info().Msg("reservation authority stopped")
			return
		case <-ctx.Done():
			a.logger.Info().Msg("reservation authority context done")
			return
		}
	}
}

// exec runs fn on the coordinator and waits for it to finish.
func (a *Authority) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case a.cmds <- cmd:
	case <-a.done:
		return token.ErrAuthorityStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (a *Authority) publish(ev *reservation.Event) {
	if a.pub == nil {
		return
	}
	a.pub.Publish(ev)
}

func (a *Authority) sendTo(sessionID uuid.UUID, ev *reservation.Event) {
	if a.pub == nil {
		return
	}
	if err := a.pub.SendTo(sessionID, ev); err != nil {
		a.logger.Debug().Err(err).Str("session_id", sessionID.String()).Str("type", string(ev.Type)).Msg("direct send failed")
	}
}
