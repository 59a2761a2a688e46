package hub

import (
	"context"
	"time"

	"table-client/internal/auth"
)

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Listener receives transport callbacks. Calls are made from transport
// goroutines in the order the transport observed them.
type Listener interface {
	OnSlow()
	OnReconnecting()
	OnReconnected()
	OnReceived(f Frame)
	OnDisconnected()
	OnStateChanged(old, new State)
	OnError(err error)
}

type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, f Frame) error
	Stop()
}

type BuildConfig struct {
	URL         string
	Auth        auth.Context
	Keepalive   time.Duration
	Redials     int
	RedialDelay time.Duration
}

type Builder func(cfg BuildConfig, l Listener) Transport
