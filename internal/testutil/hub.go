package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"table-client/internal/hub"
)

var ErrFakeDial = errors.New("fake_dial_failed")

// Responder produces the result for an auto-acknowledged invocation.
type Responder func(f hub.Frame) (any, string)

// FakeHub is a hub.Builder that hands out in-memory transports and lets tests
// drive their listener callbacks directly.
type FakeHub struct {
	mu         sync.Mutex
	transports []*FakeTransport
	failStarts int
	alwaysFail bool
	gate       chan struct{}
	autoAck    bool
	responder  Responder
}

func NewFakeHub() *FakeHub {
	return &FakeHub{}
}

// FailStarts makes the next n transport starts fail.
func (h *FakeHub) FailStarts(n int) {
	h.mu.Lock()
	h.failStarts = n
	h.mu.Unlock()
}

func (h *FakeHub) AlwaysFail(v bool) {
	h.mu.Lock()
	h.alwaysFail = v
	h.mu.Unlock()
}

// Hold blocks every Start until Release is called.
func (h *FakeHub) Hold() {
	h.mu.Lock()
	h.gate = make(chan struct{})
	h.mu.Unlock()
}

func (h *FakeHub) Release() {
	h.mu.Lock()
	g := h.gate
	h.gate = nil
	h.mu.Unlock()
	if g != nil {
		close(g)
	}
}

// AutoAck answers every invocation with a result frame. A nil responder
// answers with a null result.
func (h *FakeHub) AutoAck(r Responder) {
	h.mu.Lock()
	h.autoAck = true
	h.responder = r
	h.mu.Unlock()
}

func (h *FakeHub) Build(cfg hub.BuildConfig, l hub.Listener) hub.Transport {
	t := &FakeTransport{hub: h, cfg: cfg, l: l}
	h.mu.Lock()
	h.transports = append(h.transports, t)
	h.mu.Unlock()
	return t
}

func (h *FakeHub) Transports() []*FakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*FakeTransport, len(h.transports))
	copy(out, h.transports)
	return out
}

func (h *FakeHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

// Last returns the most recently built transport, or nil.
func (h *FakeHub) Last() *FakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		return nil
	}
	return h.transports[len(h.transports)-1]
}

// Invocations returns every invocation sent through any transport.
func (h *FakeHub) Invocations() []hub.Frame {
	var out []hub.Frame
	for _, t := range h.Transports() {
		for _, f := range t.Sent() {
			if f.Type == hub.FrameInvoke {
				out = append(out, f)
			}
		}
	}
	return out
}

// CountInvocations counts invocations of method across all transports.
func (h *FakeHub) CountInvocations(method string) int {
	n := 0
	for _, f := range h.Invocations() {
		if f.Method == method {
			n++
		}
	}
	return n
}

type FakeTransport struct {
	hub *FakeHub
	cfg hub.BuildConfig
	l   hub.Listener

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []hub.Frame
}

func (t *FakeTransport) Config() hub.BuildConfig { return t.cfg }

func (t *FakeTransport) Start(ctx context.Context) error {
	t.hub.mu.Lock()
	gate := t.hub.gate
	t.hub.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.hub.mu.Lock()
	fail := t.hub.alwaysFail
	if !fail && t.hub.failStarts > 0 {
		t.hub.failStarts--
		fail = true
	}
	t.hub.mu.Unlock()
	if fail {
		return ErrFakeDial
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return hub.ErrTransportClosed
	}
	t.started = true
	return nil
}

func (t *FakeTransport) Send(_ context.Context, f hub.Frame) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return hub.ErrTransportClosed
	}
	if !t.started {
		t.mu.Unlock()
		return hub.ErrNotStarted
	}
	t.sent = append(t.sent, f)
	t.mu.Unlock()

	t.hub.mu.Lock()
	ack := t.hub.autoAck
	responder := t.hub.responder
	t.hub.mu.Unlock()
	if ack && f.Type == hub.FrameInvoke {
		go t.ack(f, responder)
	}
	return nil
}

func (t *FakeTransport) ack(f hub.Frame, r Responder) {
	res := hub.Frame{Type: hub.FrameResult, Hub: f.Hub, Method: f.Method, InvocationID: f.InvocationID}
	if r != nil {
		v, errMsg := r(f)
		res.Error = errMsg
		if v != nil {
			raw, err := json.Marshal(v)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Result = raw
			}
		}
	}
	t.l.OnReceived(res)
}

func (t *FakeTransport) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *FakeTransport) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *FakeTransport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *FakeTransport) Sent() []hub.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]hub.Frame, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *FakeTransport) Slow()         { t.l.OnSlow() }
func (t *FakeTransport) Reconnecting() { t.l.OnReconnecting() }
func (t *FakeTransport) Reconnected()  { t.l.OnReconnected() }
func (t *FakeTransport) Disconnected() { t.l.OnDisconnected() }
func (t *FakeTransport) Fail(err error) {
	t.l.OnError(err)
}

// Push delivers a server event frame to the listener.
func (t *FakeTransport) Push(hubName, method string, args ...any) error {
	f, err := hub.NewEvent(hubName, method, args...)
	if err != nil {
		return err
	}
	t.l.OnReceived(f)
	return nil
}

func (t *FakeTransport) Deliver(f hub.Frame) { t.l.OnReceived(f) }
