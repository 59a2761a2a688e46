package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultKeepalive   = 10 * time.Second
	defaultRedials     = 3
	defaultRedialDelay = time.Second
	writeTimeout       = 5 * time.Second
)

// WebsocketTransport is the production hub transport. It heals recoverable
// drops on its own (reconnecting -> reconnected). Exhausted redials surface
// as a recoverable OnError; a non-recoverable close as OnDisconnected.
type WebsocketTransport struct {
	cfg    BuildConfig
	l      Listener
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	started  bool
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once

	writeMu  sync.Mutex
	lastRecv atomic.Int64
	slow     atomic.Bool
}

func NewWebsocketTransport(cfg BuildConfig, l Listener) Transport {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = defaultKeepalive
	}
	if cfg.Redials < 0 {
		cfg.Redials = 0
	} else if cfg.Redials == 0 {
		cfg.Redials = defaultRedials
	}
	if cfg.RedialDelay <= 0 {
		cfg.RedialDelay = defaultRedialDelay
	}
	return &WebsocketTransport{
		cfg:    cfg,
		l:      l,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
}

// WebsocketBuilder adapts NewWebsocketTransport to a Builder.
func WebsocketBuilder(cfg BuildConfig, l Listener) Transport {
	return NewWebsocketTransport(cfg, l)
}

func (t *WebsocketTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.started = true
	t.mu.Unlock()

	t.setState(StateConnecting)
	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		return err
	}
	if !t.adopt(conn) {
		_ = conn.Close()
		return ErrTransportClosed
	}
	t.setState(StateConnected)
	go t.readLoop(conn)
	go t.keepaliveLoop()
	return nil
}

func (t *WebsocketTransport) Send(ctx context.Context, f Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return ErrTransportClosed
	}
	if conn == nil {
		return ErrNotStarted
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *WebsocketTransport) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		close(t.done)
		if conn != nil {
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			t.writeMu.Unlock()
			_ = conn.Close()
		}
	})
}

func (t *WebsocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	if !t.cfg.Auth.Anonymous() {
		q := target.Query()
		q.Set("access_token", t.cfg.Auth.Token)
		target.RawQuery = q.Encode()
	}
	conn, _, err := t.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})
	t.touch()
	return conn, nil
}

func (t *WebsocketTransport) adopt(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.conn = conn
	return true
}

func (t *WebsocketTransport) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *WebsocketTransport) setState(next State) {
	t.mu.Lock()
	prev := t.state
	t.state = next
	t.mu.Unlock()
	if prev != next {
		t.l.OnStateChanged(prev, next)
	}
}

func (t *WebsocketTransport) touch() {
	t.lastRecv.Store(time.Now().UnixNano())
	t.slow.Store(false)
}

func (t *WebsocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.isStopped() {
				return
			}
			_ = conn.Close()
			t.handleReadError(err)
			return
		}
		t.touch()
		f, err := ParseFrame(data)
		if err != nil {
			t.l.OnError(err)
			continue
		}
		switch f.Type {
		case FramePing:
			_ = t.Send(context.Background(), Frame{Type: FramePong})
		case FramePong:
		default:
			t.l.OnReceived(f)
		}
	}
}

// handleReadError redials a recoverable drop in place. When the redials run
// out, the original close error is reported so the owner rebuilds the whole
// session; a non-recoverable close is reported as a disconnect.
func (t *WebsocketTransport) handleReadError(closeErr error) {
	if !IsRecoverable(closeErr) {
		t.l.OnError(closeErr)
		t.setState(StateDisconnected)
		t.l.OnDisconnected()
		return
	}

	t.setState(StateReconnecting)
	t.l.OnReconnecting()
	var dialErr error
	for i := 0; i < t.cfg.Redials; i++ {
		select {
		case <-t.done:
			return
		case <-time.After(t.cfg.RedialDelay):
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Keepalive)
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			dialErr = err
			continue
		}
		if !t.adopt(conn) {
			_ = conn.Close()
			return
		}
		t.setState(StateConnected)
		t.l.OnReconnected()
		go t.readLoop(conn)
		return
	}
	if t.isStopped() {
		return
	}
	if dialErr != nil {
		closeErr = fmt.Errorf("%w (redial: %v)", closeErr, dialErr)
	}
	t.setState(StateDisconnected)
	t.l.OnError(closeErr)
}

func (t *WebsocketTransport) keepaliveLoop() {
	ticker := time.NewTicker(t.cfg.Keepalive / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			state := t.state
			t.mu.Unlock()
			if conn == nil || state != StateConnected {
				continue
			}
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.PingMessage, nil, now.Add(writeTimeout))
			t.writeMu.Unlock()

			last := time.Unix(0, t.lastRecv.Load())
			if now.Sub(last) > t.cfg.Keepalive && t.slow.CompareAndSwap(false, true) {
				t.l.OnSlow()
			}
		}
	}
}
