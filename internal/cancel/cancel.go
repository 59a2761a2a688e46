// Package cancel provides a single-shot cooperative cancellation signal used
// to abandon superseded connection attempts.
package cancel

import (
	"errors"
	"sync"
)

// ErrCancelled is matched by every CancelledError via errors.Is.
var ErrCancelled = errors.New("cancelled")

// CancelledError carries the reason given to the first Cancel call.
type CancelledError struct {
	Reason error
}

func (e *CancelledError) Error() string {
	if e.Reason == nil {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.Reason.Error()
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *CancelledError) Unwrap() error { return e.Reason }

// IsCancelled reports whether err is a cancellation outcome rather than a
// failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

type Source struct {
	once  sync.Once
	state *state
}

type state struct {
	mu    sync.RWMutex
	cause *CancelledError
	done  chan struct{}
}

// Token is the read side of a Source. The zero Token is never cancelled.
type Token struct {
	state *state
}

func NewSource() *Source {
	return &Source{state: &state{done: make(chan struct{})}}
}

// Cancel records reason and wakes every waiter. Only the first call has an
// effect.
func (s *Source) Cancel(reason error) {
	s.once.Do(func() {
		s.state.mu.Lock()
		s.state.cause = &CancelledError{Reason: reason}
		s.state.mu.Unlock()
		close(s.state.done)
	})
}

func (s *Source) Token() Token {
	return Token{state: s.state}
}

func (t Token) Requested() bool {
	if t.state == nil {
		return false
	}
	select {
	case <-t.state.done:
		return true
	default:
		return false
	}
}

// Done is closed once cancellation has been requested. The zero Token
// returns a nil channel, which blocks forever in a select.
func (t Token) Done() <-chan struct{} {
	if t.state == nil {
		return nil
	}
	return t.state.done
}

// Cause returns the cancellation error, or nil while not cancelled.
func (t Token) Cause() error {
	if t.state == nil {
		return nil
	}
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()
	if t.state.cause == nil {
		return nil
	}
	return t.state.cause
}

func (t Token) ThrowIfRequested() error {
	if !t.Requested() {
		return nil
	}
	return t.Cause()
}
