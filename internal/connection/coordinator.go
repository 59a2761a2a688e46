package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"table-client/internal/auth"
	"table-client/internal/cancel"
	"table-client/internal/hub"
)

const DefaultMaxAttempts = 3

type Options struct {
	URL             string
	Auth            auth.Context
	Builder         hub.Builder
	DefaultAttempts int
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	MaxLifetime     time.Duration
	Keepalive       time.Duration
}

// Coordinator owns zero or one live Session and re-exposes its signals on a
// bus that survives session churn. One Coordinator lives for the whole
// process.
type Coordinator struct {
	opts Options
	bus  Bus

	mu            sync.Mutex
	auth          auth.Context
	current       *Session
	unsubscribe   func()
	attempts      int
	lastAttempt   int
	cancelCurrent func(error)
	stopped       bool
	disconnected  bool
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.DefaultAttempts <= 0 {
		opts.DefaultAttempts = DefaultMaxAttempts
	}
	return &Coordinator{opts: opts, auth: opts.Auth, disconnected: true}
}

// Subscribe registers fn for signals of whichever session is current, plus
// new/terminated connection notices.
func (c *Coordinator) Subscribe(fn func(Event)) func() {
	return c.bus.Subscribe(fn)
}

// SetAuth replaces the credentials used for sessions built from now on.
func (c *Coordinator) SetAuth(a auth.Context) {
	c.mu.Lock()
	c.auth = a
	c.mu.Unlock()
}

func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Attempts is the number of establish calls made over the process lifetime.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Coordinator) State() hub.State {
	if s := c.Current(); s != nil {
		return s.State()
	}
	return hub.StateDisconnected
}

// Stopped reports whether the last lifecycle call was an explicit Terminate.
func (c *Coordinator) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Initialize returns the current session, building one with the current
// credentials when there is none or the previous one has terminated.
func (c *Coordinator) Initialize() *Session {
	c.mu.Lock()
	if c.current != nil {
		s := c.current
		c.mu.Unlock()
		if !s.Terminated() {
			return s
		}
		c.drop(true)
		c.mu.Lock()
		if c.current != nil {
			s = c.current
			c.mu.Unlock()
			return s
		}
	}
	s := NewSession(SessionConfig{
		URL:           c.opts.URL,
		Auth:          c.auth,
		Builder:       c.opts.Builder,
		RetryDelay:    c.opts.RetryDelay,
		MaxRetryDelay: c.opts.MaxRetryDelay,
		MaxLifetime:   c.opts.MaxLifetime,
		Keepalive:     c.opts.Keepalive,
	})
	c.current = s
	c.unsubscribe = s.Subscribe(c.forward)
	c.mu.Unlock()

	log.Info().Str("session_id", s.ID()).Bool("anonymous", s.Auth().Anonymous()).Msg("hub_session_created")
	c.bus.Publish(Event{Signal: SignalNewConnection, Session: s})
	return s
}

// Establish supersedes any in-flight establish and connects the current
// session. A superseded call returns a *cancel.CancelledError. Running out of
// attempts is published as SignalDisconnected carrying the error.
func (c *Coordinator) Establish(ctx context.Context, maxAttempts int) (*Session, error) {
	src := cancel.NewSource()
	c.mu.Lock()
	if c.cancelCurrent != nil {
		c.cancelCurrent(ErrSuperseded)
	}
	c.attempts++
	attempt := c.attempts
	c.lastAttempt = attempt
	c.cancelCurrent = src.Cancel
	c.stopped = false
	c.mu.Unlock()
	metricEstablishTotal.Add(1)

	s := c.Initialize()
	err := s.Establish(ctx, maxAttempts, src.Token())

	c.mu.Lock()
	if c.lastAttempt == attempt {
		c.cancelCurrent = nil
	}
	if err == nil {
		c.disconnected = false
	}
	c.mu.Unlock()

	if err != nil {
		switch {
		case cancel.IsCancelled(err):
			metricEstablishCancelled.Add(1)
			log.Debug().Err(err).Str("session_id", s.ID()).Int("establish", attempt).Msg("hub_establish_cancelled")
		case ctx.Err() != nil, errors.Is(err, ErrSessionTerminated):
			log.Debug().Err(err).Str("session_id", s.ID()).Int("establish", attempt).Msg("hub_establish_aborted")
		default:
			// Startup, reload and reconnect all surface exhaustion the same way.
			log.Warn().Err(err).Str("session_id", s.ID()).Int("establish", attempt).Msg("hub_establish_failed")
			c.bus.Publish(Event{Signal: SignalDisconnected, Session: s, Err: err})
		}
		return nil, err
	}
	return s, nil
}

// Cancel abandons a pending establish. It is safe to call when none is
// pending.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	fn := c.cancelCurrent
	c.cancelCurrent = nil
	c.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
}

// Terminate stops the current session and keeps the coordinator stopped
// until the next Establish.
func (c *Coordinator) Terminate(force bool) {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.Cancel()
	c.drop(force)
}

// Reconnect throws the current session away and establishes a fresh one.
// Success is announced as SignalReconnected so dependents resubscribe.
func (c *Coordinator) Reconnect(ctx context.Context) (*Session, error) {
	c.drop(true)
	s, err := c.Establish(ctx, c.opts.DefaultAttempts)
	if err != nil {
		return nil, err
	}
	c.bus.Publish(Event{Signal: SignalReconnected, Session: s})
	return s, nil
}

func (c *Coordinator) drop(force bool) {
	c.mu.Lock()
	c.disconnected = true
	s := c.current
	unsubscribe := c.unsubscribe
	c.current = nil
	c.unsubscribe = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	s.Terminate(force)
	c.bus.Publish(Event{Signal: SignalTerminatedConnection, Session: s})
}

func (c *Coordinator) forward(ev Event) {
	c.bus.Publish(ev)
	if ev.Signal == SignalRecoverableError {
		c.onRecoverable(ev)
	}
}

func (c *Coordinator) onRecoverable(ev Event) {
	c.mu.Lock()
	stale := c.current != ev.Session
	stopped := c.stopped
	c.mu.Unlock()
	if stale || stopped {
		return
	}
	log.Info().Err(ev.Err).Str("session_id", ev.Session.ID()).Msg("hub_rebuilding_session")
	go func() {
		c.mu.Lock()
		if c.current != ev.Session || c.stopped {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		_, _ = c.Reconnect(context.Background())
	}()
}
