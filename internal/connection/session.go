package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"table-client/internal/auth"
	"table-client/internal/cancel"
	"table-client/internal/hub"
)

const (
	defaultRetryDelay  = 100 * time.Millisecond
	defaultMaxLifetime = time.Hour
	drainTimeout       = 500 * time.Millisecond
)

type SessionConfig struct {
	URL           string
	Auth          auth.Context
	Builder       hub.Builder
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxLifetime   time.Duration
	Keepalive     time.Duration
}

// Handler receives one server push. Handlers run on the transport goroutine.
type Handler func(f hub.Frame)

type invokeResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method string
	ch     chan invokeResult
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Session owns one hub transport from build to termination. Once terminated
// it applies no state changes and dispatches no signals.
type Session struct {
	id  string
	cfg SessionConfig
	bus Bus

	mu             sync.Mutex
	transport      hub.Transport
	state          hub.State
	terminated     bool
	closing        bool
	attempts       int
	refresh        *time.Timer
	handlers       map[string][]handlerEntry
	nextHandler    uint64
	pending        map[string]pendingCall
	nextInvocation uint64
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Builder == nil {
		cfg.Builder = hub.WebsocketBuilder
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = defaultMaxLifetime
	}
	return &Session{
		id:       newSessionID(),
		cfg:      cfg,
		state:    hub.StateDisconnected,
		handlers: map[string][]handlerEntry{},
		pending:  map[string]pendingCall{},
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Auth() auth.Context { return s.cfg.Auth }

func (s *Session) State() hub.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Attempts is the number of transport starts this session has tried.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Subscribe registers fn for this session's lifecycle signals.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.bus.Subscribe(fn)
}

// On registers h for pushes of the given method. Handlers are dropped when
// the session terminates.
func (s *Session) On(method string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return func() {}
	}
	s.nextHandler++
	id := s.nextHandler
	s.handlers[method] = append(s.handlers[method], handlerEntry{id: id, fn: h})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.handlers[method]
		for i, e := range list {
			if e.id == id {
				s.handlers[method] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Establish tries to start a transport up to maxAttempts times. The token
// and the terminated flag are checked before every transport call and
// before any state is committed.
func (s *Session) Establish(ctx context.Context, maxAttempts int, tok cancel.Token) error {
	remaining := maxAttempts
	for n := 1; ; n++ {
		if err := s.abortReason(ctx, tok); err != nil {
			return err
		}
		if remaining <= 0 {
			metricEstablishExhausted.Add(1)
			return ErrMaxAttemptsReached
		}
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		metricConnectAttemptsTotal.Add(1)
		s.setState(hub.StateConnecting)

		err := s.attempt(ctx, tok)
		if err == nil {
			log.Info().Str("session_id", s.id).Int("attempt", n).Msg("hub_connected")
			return nil
		}
		if cancel.IsCancelled(err) || errors.Is(err, ErrSessionTerminated) || ctx.Err() != nil {
			return err
		}
		metricConnectFailuresTotal.Add(1)
		remaining--
		log.Warn().Err(err).Str("session_id", s.id).Int("attempt", n).Int("remaining", remaining).Msg("hub_connect_failed")
		if remaining <= 0 {
			metricEstablishExhausted.Add(1)
			s.setState(hub.StateDisconnected)
			return fmt.Errorf("%w: %w", ErrMaxAttemptsReached, err)
		}

		timer := time.NewTimer(s.retryDelay(n))
		select {
		case <-timer.C:
		case <-tok.Done():
			timer.Stop()
			return tok.Cause()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (s *Session) retryDelay(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := s.cfg.RetryDelay * time.Duration(1<<(attempt-1))
	if d > s.cfg.MaxRetryDelay {
		d = s.cfg.MaxRetryDelay
	}
	return d
}

func (s *Session) attempt(ctx context.Context, tok cancel.Token) error {
	l := &attemptListener{s: s}
	tr := s.cfg.Builder(hub.BuildConfig{
		URL:       s.cfg.URL,
		Auth:      s.cfg.Auth,
		Keepalive: s.cfg.Keepalive,
	}, l)
	l.tr = tr

	err := tr.Start(ctx)
	if abort := s.abortReason(ctx, tok); abort != nil {
		tr.Stop()
		return abort
	}
	if err != nil {
		tr.Stop()
		return err
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		tr.Stop()
		return ErrSessionTerminated
	}
	if tok.Requested() {
		s.mu.Unlock()
		tr.Stop()
		return tok.Cause()
	}
	old := s.transport
	s.transport = tr
	if s.refresh != nil {
		s.refresh.Stop()
	}
	s.refresh = time.AfterFunc(s.cfg.MaxLifetime, s.expire)
	s.mu.Unlock()

	if old != nil && old != tr {
		old.Stop()
	}
	s.setState(hub.StateConnected)
	return nil
}

func (s *Session) abortReason(ctx context.Context, tok cancel.Token) error {
	if err := tok.ThrowIfRequested(); err != nil {
		return err
	}
	if s.Terminated() {
		return ErrSessionTerminated
	}
	return ctx.Err()
}

// expire enforces the maximum connection lifetime: the owner is told to
// rebuild and this session goes silent.
func (s *Session) expire() {
	log.Info().Str("session_id", s.id).Dur("lifetime", s.cfg.MaxLifetime).Msg("hub_connection_lifetime_exceeded")
	s.dispatch(Event{Signal: SignalRecoverableError, Err: ErrLifetimeExceeded})
	s.Terminate(true)
}

// Terminate silences the session at once and stops the transport. Without
// force, in-flight invocations get a short window to complete first.
func (s *Session) Terminate(force bool) {
	s.mu.Lock()
	if s.terminated || s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	if !force {
		s.drainPending(drainTimeout)
	}

	s.mu.Lock()
	s.terminated = true
	tr := s.transport
	s.transport = nil
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
	pending := s.pending
	s.pending = map[string]pendingCall{}
	s.handlers = map[string][]handlerEntry{}
	s.mu.Unlock()

	for _, call := range pending {
		call.ch <- invokeResult{err: ErrSessionTerminated}
	}
	if tr != nil {
		tr.Stop()
	}
	metricSessionsTerminated.Add(1)
	log.Info().Str("session_id", s.id).Bool("force", force).Msg("hub_session_terminated")
}

func (s *Session) drainPending(limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.pending)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Invoke calls a method on the game hub and waits for its result.
func (s *Session) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	return s.InvokeHub(ctx, hub.HubGame, method, args...)
}

func (s *Session) InvokeHub(ctx context.Context, hubName, method string, args ...any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.terminated || s.closing {
		s.mu.Unlock()
		return nil, ErrSessionTerminated
	}
	tr := s.transport
	if tr == nil || s.state != hub.StateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.nextInvocation++
	id := strconv.FormatUint(s.nextInvocation, 10)
	ch := make(chan invokeResult, 1)
	s.pending[id] = pendingCall{method: method, ch: ch}
	s.mu.Unlock()
	metricInvocationsTotal.Add(1)

	f, err := hub.NewInvocation(hubName, method, id, args...)
	if err == nil {
		err = tr.Send(ctx, f)
	}
	if err != nil {
		s.forget(id)
		metricInvocationErrors.Add(1)
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			metricInvocationErrors.Add(1)
		}
		return r.result, r.err
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	}
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) resolve(f hub.Frame) {
	s.mu.Lock()
	call, ok := s.pending[f.InvocationID]
	delete(s.pending, f.InvocationID)
	s.mu.Unlock()
	if !ok {
		log.Debug().Str("session_id", s.id).Str("invocation_id", f.InvocationID).Msg("hub_result_without_invocation")
		return
	}
	if f.Error != "" {
		call.ch <- invokeResult{err: &InvocationError{Method: call.method, Message: f.Error}}
		return
	}
	call.ch <- invokeResult{result: f.Result}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = map[string]pendingCall{}
	s.mu.Unlock()
	for _, call := range pending {
		call.ch <- invokeResult{err: err}
	}
}

func (s *Session) route(f hub.Frame) {
	s.mu.Lock()
	if s.terminated || s.closing {
		s.mu.Unlock()
		return
	}
	list := s.handlers[f.Method]
	handlers := make([]handlerEntry, len(list))
	copy(handlers, list)
	s.mu.Unlock()
	if len(handlers) == 0 {
		log.Debug().Str("session_id", s.id).Str("method", f.Method).Msg("hub_event_unhandled")
		return
	}
	for _, h := range handlers {
		s.runHandler(h.fn, f)
	}
}

func (s *Session) runHandler(h Handler, f hub.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session_id", s.id).Str("method", f.Method).Msg("hub_handler_panic")
		}
	}()
	h(f)
}

func (s *Session) setState(next hub.State) {
	s.mu.Lock()
	if s.terminated || s.closing || s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.bus.Publish(Event{Signal: SignalStateChanged, Session: s, Prev: prev, State: next})
}

// silenced reports whether the session has started terminating. Pending
// results still resolve while a graceful Terminate drains them, but nothing
// else is applied.
func (s *Session) silenced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated || s.closing
}

func (s *Session) dispatch(ev Event) {
	if s.silenced() {
		return
	}
	ev.Session = s
	s.bus.Publish(ev)
}

// isCurrent reports whether tr is the committed transport of a live session.
func (s *Session) isCurrent(tr hub.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.terminated && s.transport == tr
}

// attemptListener binds transport callbacks to the attempt that built the
// transport, so callbacks from abandoned attempts never reach the session.
type attemptListener struct {
	s  *Session
	tr hub.Transport
}

func (l *attemptListener) OnSlow() {
	if !l.s.isCurrent(l.tr) {
		return
	}
	l.s.dispatch(Event{Signal: SignalSlow})
}

func (l *attemptListener) OnReconnecting() {
	if !l.s.isCurrent(l.tr) {
		return
	}
	l.s.setState(hub.StateReconnecting)
	l.s.dispatch(Event{Signal: SignalReconnecting})
}

func (l *attemptListener) OnReconnected() {
	if !l.s.isCurrent(l.tr) {
		return
	}
	l.s.setState(hub.StateConnected)
	l.s.dispatch(Event{Signal: SignalReconnected})
}

func (l *attemptListener) OnReceived(f hub.Frame) {
	if !l.s.isCurrent(l.tr) {
		return
	}
	l.s.dispatch(Event{Signal: SignalReceived, Frame: f})
	switch f.Type {
	case hub.FrameResult:
		l.s.resolve(f)
	case hub.FrameEvent:
		l.s.route(f)
	}
}

func (l *attemptListener) OnDisconnected() {
	if !l.s.isCurrent(l.tr) {
		return
	}
	l.s.setState(hub.StateDisconnected)
	l.s.failPending(ErrNotConnected)
	l.s.dispatch(Event{Signal: SignalDisconnected})
}

func (l *attemptListener) OnStateChanged(_, next hub.State) {
	if !l.s.isCurrent(l.tr) {
		return
	}
	l.s.setState(next)
}

func (l *attemptListener) OnError(err error) {
	if !l.s.isCurrent(l.tr) {
		return
	}
	if hub.IsRecoverable(err) {
		metricRecoverableErrorsTotal.Add(1)
		log.Warn().Err(err).Str("session_id", l.s.id).Msg("hub_recoverable_error")
		l.s.failPending(ErrNotConnected)
		l.s.dispatch(Event{Signal: SignalRecoverableError, Err: err})
		return
	}
	metricUnknownErrorsTotal.Add(1)
	log.Error().Err(err).Str("session_id", l.s.id).Msg("hub_transport_error")
}
