package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"table-client/internal/auth"
	"table-client/internal/cancel"
	"table-client/internal/hub"
	"table-client/internal/testutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(sig Signal) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Signal == sig {
			n++
		}
	}
	return n
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) last(sig Signal) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Signal == sig {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(fh *testutil.FakeHub) *Session {
	return NewSession(SessionConfig{
		URL:           "ws://hub.test/game",
		Auth:          auth.New("tok-1"),
		Builder:       fh.Build,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
	})
}

func TestSessionEstablishConnects(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	log := &eventLog{}
	s.Subscribe(log.add)

	if err := s.Establish(context.Background(), 3, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if s.State() != hub.StateConnected {
		t.Fatalf("state = %v, want connected", s.State())
	}
	if fh.Count() != 1 {
		t.Fatalf("transports = %d, want 1", fh.Count())
	}
	if got := fh.Last().Config().Auth.Token; got != "tok-1" {
		t.Fatalf("transport token = %q, want tok-1", got)
	}
	ev, ok := log.last(SignalStateChanged)
	if !ok || ev.State != hub.StateConnected || ev.Prev != hub.StateConnecting {
		t.Fatalf("last state change = %+v", ev)
	}
}

func TestSessionEstablishZeroAttempts(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	err := s.Establish(context.Background(), 0, cancel.Token{})
	if !errors.Is(err, ErrMaxAttemptsReached) {
		t.Fatalf("err = %v, want ErrMaxAttemptsReached", err)
	}
	if fh.Count() != 0 {
		t.Fatalf("transports = %d, want 0", fh.Count())
	}
}

func TestSessionEstablishExhaustsAttempts(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.AlwaysFail(true)
	s := newTestSession(fh)

	err := s.Establish(context.Background(), 3, cancel.Token{})
	if !errors.Is(err, ErrMaxAttemptsReached) {
		t.Fatalf("err = %v, want ErrMaxAttemptsReached", err)
	}
	if !errors.Is(err, testutil.ErrFakeDial) {
		t.Fatalf("err = %v, want wrapped dial error", err)
	}
	if s.Attempts() != 3 || fh.Count() != 3 {
		t.Fatalf("attempts = %d transports = %d, want 3/3", s.Attempts(), fh.Count())
	}
	for i, tr := range fh.Transports() {
		if !tr.Stopped() {
			t.Fatalf("transport %d not stopped", i)
		}
	}
	if s.State() != hub.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}
}

func TestSessionEstablishRecoversAfterFailures(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.FailStarts(2)
	s := newTestSession(fh)
	if err := s.Establish(context.Background(), 3, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if s.Attempts() != 3 {
		t.Fatalf("attempts = %d, want 3", s.Attempts())
	}
}

func TestSessionRetryDelayBackoff(t *testing.T) {
	s := NewSession(SessionConfig{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: 400 * time.Millisecond})
	want := []time.Duration{100, 200, 400, 400}
	for i, w := range want {
		if got := s.retryDelay(i + 1); got != w*time.Millisecond {
			t.Fatalf("retryDelay(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
	fixed := NewSession(SessionConfig{RetryDelay: 50 * time.Millisecond})
	if got := fixed.retryDelay(5); got != 50*time.Millisecond {
		t.Fatalf("fixed retryDelay = %v, want 50ms", got)
	}
}

func TestSessionCancelledDuringStartCommitsNothing(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.Hold()
	s := newTestSession(fh)
	src := cancel.NewSource()

	done := make(chan error, 1)
	go func() { done <- s.Establish(context.Background(), 3, src.Token()) }()
	waitUntil(t, "transport built", func() bool { return fh.Count() == 1 })

	src.Cancel(ErrSuperseded)
	fh.Release()

	err := <-done
	if !cancel.IsCancelled(err) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want superseded reason", err)
	}
	if !fh.Last().Stopped() {
		t.Fatal("abandoned transport must be stopped")
	}
	if s.State() == hub.StateConnected {
		t.Fatal("cancelled establish committed connected state")
	}

	// Callbacks from the abandoned transport never reach the session.
	log := &eventLog{}
	s.Subscribe(log.add)
	fh.Last().Slow()
	fh.Last().Disconnected()
	if log.len() != 0 {
		t.Fatalf("stale transport produced %d signals", log.len())
	}
}

func TestSessionTerminatedIsSilent(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	tr := fh.Last()
	log := &eventLog{}
	s.Subscribe(log.add)

	pushes := 0
	s.On(hub.EventBet, func(hub.Frame) { pushes++ })
	s.Terminate(true)

	tr.Slow()
	tr.Reconnecting()
	tr.Reconnected()
	tr.Disconnected()
	_ = tr.Push(hub.HubGame, hub.EventBet, 1, 2, 3, 10, 4, 5)

	if log.len() != 0 {
		t.Fatalf("terminated session dispatched %d signals", log.len())
	}
	if pushes != 0 {
		t.Fatalf("terminated session routed %d pushes", pushes)
	}
	if !tr.Stopped() {
		t.Fatal("transport not stopped")
	}
	if err := s.Establish(context.Background(), 3, cancel.Token{}); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("Establish after Terminate = %v, want ErrSessionTerminated", err)
	}
	if _, err := s.Invoke(context.Background(), hub.InvokeConnectToTable, 1); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("Invoke after Terminate = %v, want ErrSessionTerminated", err)
	}
}

func TestSessionGracefulTerminateSilencesWhileDraining(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	tr := fh.Last()
	log := &eventLog{}
	s.Subscribe(log.add)
	pushes := 0
	s.On(hub.EventBet, func(hub.Frame) { pushes++ })

	type result struct {
		raw json.RawMessage
		err error
	}
	invoked := make(chan result, 1)
	go func() {
		raw, err := s.Invoke(context.Background(), hub.InvokeConnectToTable, 7)
		invoked <- result{raw, err}
	}()
	waitUntil(t, "invocation sent", func() bool { return len(tr.Sent()) == 1 })

	terminated := make(chan struct{})
	go func() {
		s.Terminate(false)
		close(terminated)
	}()
	waitUntil(t, "closing", s.silenced)

	tr.Slow()
	tr.Reconnecting()
	_ = tr.Push(hub.HubGame, hub.EventBet, 1, 2, 3, 10, 4, 5)
	if log.len() != 0 || pushes != 0 {
		t.Fatalf("closing session dispatched %d signals and %d pushes", log.len(), pushes)
	}
	if s.Terminated() {
		t.Fatal("terminated before the pending call drained")
	}

	tr.Deliver(hub.Frame{Type: hub.FrameResult, InvocationID: tr.Sent()[0].InvocationID, Result: json.RawMessage(`"ok"`)})
	r := <-invoked
	if r.err != nil || string(r.raw) != `"ok"` {
		t.Fatalf("drained invoke = %s %v", r.raw, r.err)
	}
	<-terminated
	if !s.Terminated() || log.len() != 0 {
		t.Fatalf("terminated = %v signals = %d", s.Terminated(), log.len())
	}
}

func TestSessionInvokeResolvesResult(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.AutoAck(func(f hub.Frame) (any, string) {
		if f.Method == hub.InvokeDisconnectFromTable {
			return nil, "table not found"
		}
		return map[string]int{"ok": 1}, ""
	})
	s := newTestSession(fh)

	if _, err := s.Invoke(context.Background(), hub.InvokeConnectToTable, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Invoke before establish = %v, want ErrNotConnected", err)
	}
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	raw, err := s.Invoke(context.Background(), hub.InvokeConnectToTable, 7)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil || got["ok"] != 1 {
		t.Fatalf("result = %s (%v)", raw, err)
	}

	_, err = s.Invoke(context.Background(), hub.InvokeDisconnectFromTable, 7)
	var ie *InvocationError
	if !errors.As(err, &ie) || ie.Method != hub.InvokeDisconnectFromTable {
		t.Fatalf("err = %v, want InvocationError", err)
	}

	sent := fh.Last().Sent()
	if len(sent) != 2 || sent[0].Hub != hub.HubGame || sent[0].InvocationID == sent[1].InvocationID {
		t.Fatalf("sent frames = %+v", sent)
	}
}

func TestSessionInvokeFailsOnDisconnect(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), hub.InvokeSubscribeTournament, 3)
		done <- err
	}()
	waitUntil(t, "invocation sent", func() bool { return len(fh.Last().Sent()) == 1 })
	fh.Last().Disconnected()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("err = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending invocation not failed")
	}
}

func TestSessionRoutesPushesToHandlers(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	var mu sync.Mutex
	var tables []int64
	off := s.On(hub.EventGameStarted, func(f hub.Frame) {
		var tableID int64
		if err := hub.DecodeArgs(f.Args, &tableID); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		tables = append(tables, tableID)
		mu.Unlock()
	})
	s.On(hub.EventGameStarted, func(hub.Frame) { panic("boom") })

	_ = fh.Last().Push(hub.HubGame, hub.EventGameStarted, 11, 900)
	off()
	_ = fh.Last().Push(hub.HubGame, hub.EventGameStarted, 12, 901)

	mu.Lock()
	defer mu.Unlock()
	if len(tables) != 1 || tables[0] != 11 {
		t.Fatalf("tables = %v, want [11]", tables)
	}
}

func TestSessionLifetimeExpiry(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := NewSession(SessionConfig{Builder: fh.Build, MaxLifetime: 20 * time.Millisecond})
	log := &eventLog{}
	s.Subscribe(log.add)
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	waitUntil(t, "terminated", s.Terminated)

	ev, ok := log.last(SignalRecoverableError)
	if !ok || !errors.Is(ev.Err, ErrLifetimeExceeded) {
		t.Fatalf("recoverable event = %+v, want lifetime exceeded", ev)
	}
	if !fh.Last().Stopped() {
		t.Fatal("expired transport not stopped")
	}
}

func TestSessionTransportErrorClassification(t *testing.T) {
	fh := testutil.NewFakeHub()
	s := newTestSession(fh)
	log := &eventLog{}
	s.Subscribe(log.add)
	if err := s.Establish(context.Background(), 1, cancel.Token{}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	fh.Last().Fail(errors.New("boom"))
	if log.count(SignalRecoverableError) != 0 {
		t.Fatal("unknown error must not be recoverable")
	}
	fh.Last().Fail(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	if log.count(SignalRecoverableError) != 1 {
		t.Fatalf("recoverable = %d, want 1", log.count(SignalRecoverableError))
	}
}
