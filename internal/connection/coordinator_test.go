package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"table-client/internal/auth"
	"table-client/internal/cancel"
	"table-client/internal/hub"
	"table-client/internal/testutil"
)

func newTestCoordinator(fh *testutil.FakeHub) *Coordinator {
	return NewCoordinator(Options{
		URL:           "ws://hub.test/game",
		Auth:          auth.New("tok-1"),
		Builder:       fh.Build,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
	})
}

func TestCoordinatorEstablishPublishesNewConnection(t *testing.T) {
	fh := testutil.NewFakeHub()
	c := newTestCoordinator(fh)
	log := &eventLog{}
	c.Subscribe(log.add)

	s, err := c.Establish(context.Background(), 3)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if c.Current() != s || c.State() != hub.StateConnected {
		t.Fatalf("current = %v state = %v", c.Current(), c.State())
	}
	if log.count(SignalNewConnection) != 1 {
		t.Fatalf("new connection signals = %d, want 1", log.count(SignalNewConnection))
	}
	if log.count(SignalStateChanged) == 0 {
		t.Fatal("session signals not forwarded")
	}
}

func TestCoordinatorSupersedesPendingEstablish(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.Hold()
	c := newTestCoordinator(fh)

	first := make(chan error, 1)
	go func() {
		_, err := c.Establish(context.Background(), 3)
		first <- err
	}()
	waitUntil(t, "first transport", func() bool { return fh.Count() == 1 })

	second := make(chan error, 1)
	go func() {
		_, err := c.Establish(context.Background(), 3)
		second <- err
	}()
	waitUntil(t, "second transport", func() bool { return fh.Count() == 2 })
	fh.Release()

	err1 := <-first
	if !cancel.IsCancelled(err1) || !errors.Is(err1, ErrSuperseded) {
		t.Fatalf("first = %v, want superseded cancellation", err1)
	}
	if err := <-second; err != nil {
		t.Fatalf("second = %v", err)
	}
	trs := fh.Transports()
	if !trs[0].Stopped() {
		t.Fatal("superseded transport left running")
	}
	if trs[1].Stopped() {
		t.Fatal("winning transport stopped")
	}
	if c.Attempts() != 2 {
		t.Fatalf("attempts = %d, want 2", c.Attempts())
	}

	// Only the winner's callbacks reach subscribers.
	log := &eventLog{}
	c.Subscribe(log.add)
	trs[0].Slow()
	if log.count(SignalSlow) != 0 {
		t.Fatal("superseded transport produced a signal")
	}
	trs[1].Slow()
	if log.count(SignalSlow) != 1 {
		t.Fatal("live transport signal not forwarded")
	}
}

func TestCoordinatorCancelWithoutPending(t *testing.T) {
	c := newTestCoordinator(testutil.NewFakeHub())
	c.Cancel()
	c.Cancel()
	if c.State() != hub.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
}

func TestCoordinatorCancelAbandonsEstablish(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.Hold()
	c := newTestCoordinator(fh)
	done := make(chan error, 1)
	go func() {
		_, err := c.Establish(context.Background(), 3)
		done <- err
	}()
	waitUntil(t, "transport", func() bool { return fh.Count() == 1 })
	c.Cancel()
	fh.Release()
	if err := <-done; !cancel.IsCancelled(err) {
		t.Fatalf("err = %v, want cancelled", err)
	}
}

func TestCoordinatorTerminate(t *testing.T) {
	fh := testutil.NewFakeHub()
	c := newTestCoordinator(fh)
	log := &eventLog{}
	c.Subscribe(log.add)
	s, err := c.Establish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	c.Terminate(true)

	if !s.Terminated() || c.Current() != nil || !c.Stopped() {
		t.Fatal("terminate did not drop the session")
	}
	if log.count(SignalTerminatedConnection) != 1 {
		t.Fatalf("terminated signals = %d, want 1", log.count(SignalTerminatedConnection))
	}
	before := log.len()
	fh.Last().Reconnected()
	if log.len() != before {
		t.Fatal("terminated session still forwarding")
	}
}

func TestCoordinatorExhaustion(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.AlwaysFail(true)
	c := newTestCoordinator(fh)
	log := &eventLog{}
	c.Subscribe(log.add)
	_, err := c.Establish(context.Background(), 2)
	if !errors.Is(err, ErrMaxAttemptsReached) {
		t.Fatalf("err = %v, want ErrMaxAttemptsReached", err)
	}
	if fh.Count() != 2 {
		t.Fatalf("transports = %d, want 2", fh.Count())
	}
	ev, ok := log.last(SignalDisconnected)
	if !ok || !errors.Is(ev.Err, ErrMaxAttemptsReached) {
		t.Fatalf("disconnected = %+v %v, want exhaustion error", ev, ok)
	}
	if log.count(SignalDisconnected) != 1 {
		t.Fatalf("disconnected signals = %d, want 1", log.count(SignalDisconnected))
	}
}

func TestCoordinatorCancelledEstablishPublishesNothing(t *testing.T) {
	fh := testutil.NewFakeHub()
	fh.Hold()
	c := newTestCoordinator(fh)
	log := &eventLog{}
	c.Subscribe(log.add)
	done := make(chan error, 1)
	go func() {
		_, err := c.Establish(context.Background(), 3)
		done <- err
	}()
	waitUntil(t, "transport", func() bool { return fh.Count() == 1 })
	c.Terminate(true)
	fh.Release()
	if err := <-done; err == nil {
		t.Fatal("expected aborted establish")
	}
	if log.count(SignalDisconnected) != 0 {
		t.Fatalf("disconnected signals = %d, want 0", log.count(SignalDisconnected))
	}
}

func TestCoordinatorRebuildsOnRecoverableError(t *testing.T) {
	fh := testutil.NewFakeHub()
	c := newTestCoordinator(fh)
	log := &eventLog{}
	c.Subscribe(log.add)
	first, err := c.Establish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}

	fh.Last().Fail(&websocket.CloseError{Code: websocket.CloseServiceRestart})

	waitUntil(t, "reconnected", func() bool { return log.count(SignalReconnected) == 1 })
	if !first.Terminated() {
		t.Fatal("old session not terminated")
	}
	next := c.Current()
	if next == nil || next == first || next.State() != hub.StateConnected {
		t.Fatalf("current = %v, want a fresh connected session", next)
	}
	if fh.Count() != 2 {
		t.Fatalf("transports = %d, want 2", fh.Count())
	}
}

func TestCoordinatorReconnectFailurePublishesDisconnected(t *testing.T) {
	fh := testutil.NewFakeHub()
	c := newTestCoordinator(fh)
	log := &eventLog{}
	c.Subscribe(log.add)
	if _, err := c.Establish(context.Background(), 1); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	fh.AlwaysFail(true)
	if _, err := c.Reconnect(context.Background()); !errors.Is(err, ErrMaxAttemptsReached) {
		t.Fatalf("Reconnect = %v, want ErrMaxAttemptsReached", err)
	}
	if log.count(SignalDisconnected) != 1 {
		t.Fatalf("disconnected signals = %d, want 1", log.count(SignalDisconnected))
	}
	if fh.Count() != 1+DefaultMaxAttempts {
		t.Fatalf("transports = %d, want %d", fh.Count(), 1+DefaultMaxAttempts)
	}
}

func TestCoordinatorSetAuthAppliesToNextSession(t *testing.T) {
	fh := testutil.NewFakeHub()
	c := newTestCoordinator(fh)
	if _, err := c.Establish(context.Background(), 1); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	c.SetAuth(auth.New("tok-2"))
	if _, err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if got := fh.Last().Config().Auth.Token; got != "tok-2" {
		t.Fatalf("token = %q, want tok-2", got)
	}
}

func TestCoordinatorExpiredSessionIsReplaced(t *testing.T) {
	fh := testutil.NewFakeHub()
	c := NewCoordinator(Options{Builder: fh.Build, MaxLifetime: 30 * time.Millisecond})
	log := &eventLog{}
	c.Subscribe(log.add)
	first, err := c.Establish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	waitUntil(t, "replacement session", func() bool {
		cur := c.Current()
		return first.Terminated() && cur != nil && cur != first && cur.State() == hub.StateConnected
	})
	c.Terminate(true)
}

func TestBusUnsubscribeAndPanicIsolation(t *testing.T) {
	var b Bus
	got := 0
	b.Subscribe(func(Event) { panic("bad subscriber") })
	off := b.Subscribe(func(Event) { got++ })
	b.Publish(Event{Signal: SignalSlow})
	off()
	off()
	b.Publish(Event{Signal: SignalSlow})
	if got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
	if b.Len() != 1 {
		t.Fatalf("subscribers = %d, want 1", b.Len())
	}
}
