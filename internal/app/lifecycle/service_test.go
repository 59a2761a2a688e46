package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"table-client/internal/api"
	"table-client/internal/auth"
	"table-client/internal/connection"
	"table-client/internal/hub"
	"table-client/internal/netmonitor"
	"table-client/internal/tables"
	"table-client/internal/testutil"
)

type fakeAPI struct {
	mu      sync.Mutex
	sitting []api.TableSummary
	calls   map[string]int
	auth    []string
}

func newFakeAPI(sitting ...int64) *fakeAPI {
	f := &fakeAPI{calls: map[string]int{}}
	for _, id := range sitting {
		f.sitting = append(f.sitting, api.TableSummary{ID: id})
	}
	return f
}

func (f *fakeAPI) record(name string, id int64) {
	f.mu.Lock()
	f.calls[fmt.Sprintf("%s:%d", name, id)]++
	f.mu.Unlock()
}

func (f *fakeAPI) count(name string, id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fmt.Sprintf("%s:%d", name, id)]
}

func (f *fakeAPI) SetAuth(a auth.Context) {
	f.mu.Lock()
	f.auth = append(f.auth, a.Token)
	f.mu.Unlock()
}

func (f *fakeAPI) Table(_ context.Context, id int64) (api.TableDetail, error) {
	f.record("table", id)
	return api.TableDetail{ID: id, Status: "opened"}, nil
}

func (f *fakeAPI) Tournament(_ context.Context, id int64) (api.TournamentDetail, error) {
	f.record("tournament", id)
	return api.TournamentDetail{ID: id, Registered: true}, nil
}

func (f *fakeAPI) SittingTables(context.Context) ([]api.TableSummary, error) {
	f.record("sitting", 0)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sitting, nil
}

func (f *fakeAPI) MyTournaments(context.Context) ([]api.TournamentSummary, error) {
	return nil, nil
}

func (f *fakeAPI) Sit(_ context.Context, tableID int64, _ int, _ int64) error {
	f.record("sit", tableID)
	return nil
}

func (f *fakeAPI) Standup(_ context.Context, tableID int64) error {
	f.record("standup", tableID)
	return nil
}

func (f *fakeAPI) Fold(_ context.Context, tableID int64) error {
	f.record("fold", tableID)
	return nil
}

func (f *fakeAPI) CheckOrCall(_ context.Context, tableID int64) error {
	f.record("check_call", tableID)
	return nil
}

func (f *fakeAPI) BetOrRaise(_ context.Context, tableID int64, _ int64) error {
	f.record("bet_raise", tableID)
	return nil
}

func (f *fakeAPI) SetSitOut(_ context.Context, tableID int64, _ bool) error {
	f.record("sit_out", tableID)
	return nil
}

func (f *fakeAPI) Register(context.Context, int64) error           { return nil }
func (f *fakeAPI) CancelRegistration(context.Context, int64) error { return nil }
func (f *fakeAPI) Rebuy(context.Context, int64) error              { return nil }
func (f *fakeAPI) Addon(context.Context, int64) error              { return nil }

type fixture struct {
	fh  *testutil.FakeHub
	api *fakeAPI
	svc *Service
}

func newFixture(t *testing.T, a *fakeAPI) *fixture {
	t.Helper()
	f := &fixture{fh: testutil.NewFakeHub(), api: a}
	f.fh.AutoAck(nil)
	coord := connection.NewCoordinator(connection.Options{
		URL:           "ws://hub.test/game",
		Auth:          auth.New("tok-1"),
		Builder:       f.fh.Build,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
	})
	f.svc = New(Options{
		Coordinator:     coord,
		ConnectAttempts: 2,
		Tables:          tables.Options{MaxOpenTables: 4, Profile: "p1", API: a},
	})
	t.Cleanup(f.svc.Stop)
	return f
}

// connectsOn counts ConnectToTable invocations sent through tr.
func connectsOn(tr *testutil.FakeTransport) int {
	n := 0
	for _, f := range tr.Sent() {
		if f.Type == hub.FrameInvoke && f.Method == hub.InvokeConnectToTable {
			n++
		}
	}
	return n
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

func TestConnectHydratesSittingTables(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !f.svc.Tables().HasTable(7) || connectsOn(f.fh.Last()) != 1 {
		t.Fatalf("held = %v connects = %d", f.svc.Tables().HasTable(7), connectsOn(f.fh.Last()))
	}
}

func TestReloadRecoversFromDuplicateSession(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := f.fh.Last()
	_ = first.Push(hub.HubGame, hub.EventGameFinished, 7, 900)
	_ = first.Push(hub.HubGame, hub.EventGameFinished, 7, 900)

	mon := f.svc.Monitor()
	if !mon.Fatal() || mon.Snapshot().RetryAction != netmonitor.ActionReload {
		t.Fatalf("monitor = %+v, want fatal reload", mon.Snapshot())
	}
	if err := f.svc.Tables().Fold(context.Background(), 7); !errors.Is(err, tables.ErrActionDeferred) {
		t.Fatalf("Fold while fatal = %v, want ErrActionDeferred", err)
	}

	mon.Retry()

	waitUntil(t, "reloaded session", func() bool {
		last := f.fh.Last()
		return last != first && connectsOn(last) == 1 && !mon.Fatal() && f.svc.Tables().HasTable(7)
	})
	if !first.Stopped() {
		t.Fatal("duplicate session left running")
	}
	if mon.Degraded() {
		t.Fatalf("degraded after reload: %+v", mon.Snapshot())
	}
	if err := f.svc.Tables().Fold(context.Background(), 7); err != nil {
		t.Fatalf("Fold after reload: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := f.api.count("fold", 7); n != 1 {
		t.Fatalf("folds = %d, want 1 (the pre-reload action is dropped)", n)
	}
}

func TestReconnectedAfterOutageRunsQueuedActions(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mon := f.svc.Monitor()
	tr := f.fh.Last()

	mon.OnOffline()
	tr.Reconnecting()
	if err := f.svc.Tables().Fold(context.Background(), 7); !errors.Is(err, tables.ErrActionDeferred) {
		t.Fatalf("Fold offline = %v, want ErrActionDeferred", err)
	}
	mon.OnOnline()
	if mon.Snapshot().SuppressReconnected {
		t.Fatal("online must trust the next reconnect")
	}
	if f.api.count("fold", 7) != 0 {
		t.Fatal("action ran while the connection was still reconnecting")
	}

	tr.Reconnected()

	waitUntil(t, "queued fold", func() bool { return f.api.count("fold", 7) == 1 })
	snap := mon.Snapshot()
	if snap.ShowingSlow || snap.RetryPending || mon.Degraded() {
		t.Fatalf("monitor after reconnect = %+v", snap)
	}
}

func TestOnlineWithoutDropRunsQueuedActions(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mon := f.svc.Monitor()
	mon.OnOffline()
	if err := f.svc.Tables().CheckOrCall(context.Background(), 7); !errors.Is(err, tables.ErrActionDeferred) {
		t.Fatalf("CheckOrCall offline = %v, want ErrActionDeferred", err)
	}
	mon.OnOnline()
	waitUntil(t, "queued check", func() bool { return f.api.count("check_call", 7) == 1 })
	if f.fh.Count() != 1 {
		t.Fatalf("transports = %d, want 1", f.fh.Count())
	}
}

func TestConnectionLostWhileOfflineReconnectsOnline(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mon := f.svc.Monitor()
	mon.OnOffline()
	f.fh.Last().Disconnected()
	if mon.Snapshot().ReconnectFailed {
		t.Fatal("a drop while offline must not prompt")
	}
	if err := f.svc.Tables().Fold(context.Background(), 7); !errors.Is(err, tables.ErrActionDeferred) {
		t.Fatalf("Fold = %v, want ErrActionDeferred", err)
	}

	mon.OnOnline()

	waitUntil(t, "reconnect and queued fold", func() bool {
		return f.fh.Count() == 2 && connectsOn(f.fh.Last()) == 1 && f.api.count("fold", 7) == 1
	})
	if mon.Degraded() {
		t.Fatalf("degraded after reconnect: %+v", mon.Snapshot())
	}
}

func TestStartupExhaustionOffersReconnect(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	f.fh.AlwaysFail(true)
	if err := f.svc.Connect(context.Background()); !errors.Is(err, connection.ErrMaxAttemptsReached) {
		t.Fatalf("Connect = %v, want ErrMaxAttemptsReached", err)
	}
	mon := f.svc.Monitor()
	snap := mon.Snapshot()
	if !snap.ReconnectFailed || snap.RetryAction != netmonitor.ActionReconnect {
		t.Fatalf("monitor = %+v, want reconnect prompt", snap)
	}

	f.fh.AlwaysFail(false)
	mon.Retry()

	waitUntil(t, "reconnected and hydrated", func() bool {
		return f.svc.Tables().HasTable(7) && !mon.Snapshot().ReconnectFailed
	})
	if f.svc.Coordinator().State() != hub.StateConnected {
		t.Fatalf("state = %v, want connected", f.svc.Coordinator().State())
	}
}

func TestRecoverableCloseRebuildsAndRehydrates(t *testing.T) {
	f := newFixture(t, newFakeAPI(7))
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := f.fh.Last()
	first.Reconnecting()
	first.Fail(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})

	waitUntil(t, "rebuilt session", func() bool {
		last := f.fh.Last()
		return last != first && connectsOn(last) == 1
	})
	if f.svc.Monitor().Degraded() {
		t.Fatalf("degraded after rebuild: %+v", f.svc.Monitor().Snapshot())
	}
}

func TestRotateTokenReachesRESTAndNextSession(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	if err := f.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f.svc.RotateToken("tok-2")
	if got := f.fh.Last().Config().Auth.Token; got != "tok-1" {
		t.Fatalf("live session token = %q, want tok-1", got)
	}
	f.svc.Reconnect()
	waitUntil(t, "new session", func() bool { return f.fh.Count() == 2 })
	if got := f.fh.Last().Config().Auth.Token; got != "tok-2" {
		t.Fatalf("next session token = %q, want tok-2", got)
	}
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	if fmt.Sprint(f.api.auth) != "[tok-2]" {
		t.Fatalf("rest tokens = %v", f.api.auth)
	}
}
