package connection

import (
	"sync"

	"github.com/rs/zerolog/log"

	"table-client/internal/hub"
)

type Signal int

const (
	SignalSlow Signal = iota + 1
	SignalReconnecting
	SignalReconnected
	SignalReceived
	SignalDisconnected
	SignalStateChanged
	SignalRecoverableError
	SignalNewConnection
	SignalTerminatedConnection
)

func (s Signal) String() string {
	switch s {
	case SignalSlow:
		return "slow"
	case SignalReconnecting:
		return "reconnecting"
	case SignalReconnected:
		return "reconnected"
	case SignalReceived:
		return "received"
	case SignalDisconnected:
		return "disconnected"
	case SignalStateChanged:
		return "state_changed"
	case SignalRecoverableError:
		return "recoverable_error"
	case SignalNewConnection:
		return "new_connection"
	case SignalTerminatedConnection:
		return "terminated_connection"
	default:
		return "unknown"
	}
}

type Event struct {
	Signal  Signal
	Session *Session
	Prev    hub.State
	State   hub.State
	Frame   hub.Frame
	Err     error
}

// Bus is a synchronous observer list. Subscribers run on the publisher's
// goroutine in subscription order and must not block.
type Bus struct {
	mu   sync.Mutex
	next uint64
	subs []subscriber
}

type subscriber struct {
	id uint64
	fn func(Event)
}

func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, s := range subs {
		deliver(s.fn, ev)
	}
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("signal", ev.Signal.String()).Msg("signal_subscriber_panic")
		}
	}()
	fn(ev)
}
