// Package tables owns the open tables and subscribed tournaments, routes hub
// pushes into their view state and drives table admission.
package tables

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"table-client/internal/api"
	"table-client/internal/connection"
	"table-client/internal/dedup"
	"table-client/internal/hub"
	"table-client/internal/viewstate"
)

const (
	UIModeMulti  = "multi"
	UIModeSingle = "single"
)

// API is the slice of the REST client the manager depends on.
type API interface {
	Table(ctx context.Context, id int64) (api.TableDetail, error)
	Tournament(ctx context.Context, id int64) (api.TournamentDetail, error)
	SittingTables(ctx context.Context) ([]api.TableSummary, error)
	MyTournaments(ctx context.Context) ([]api.TournamentSummary, error)
	Sit(ctx context.Context, tableID int64, seat int, amount int64) error
	Standup(ctx context.Context, tableID int64) error
	Fold(ctx context.Context, tableID int64) error
	CheckOrCall(ctx context.Context, tableID int64) error
	BetOrRaise(ctx context.Context, tableID int64, amount int64) error
	SetSitOut(ctx context.Context, tableID int64, sitOut bool) error
	Register(ctx context.Context, tournamentID int64) error
	CancelRegistration(ctx context.Context, tournamentID int64) error
	Rebuy(ctx context.Context, tournamentID int64) error
	Addon(ctx context.Context, tournamentID int64) error
}

// Hub is the connection facade: signals of whichever session is current.
type Hub interface {
	Subscribe(fn func(connection.Event)) func()
	Current() *connection.Session
}

// SelectionStore persists the last table the user picked per profile.
type SelectionStore interface {
	LastSelectedTable(ctx context.Context, profile string) (int64, bool, error)
	SaveSelectedTable(ctx context.Context, profile string, tableID int64) error
}

type DuplicateAlarm interface {
	ShowDuplicatedConnectionPopup()
}

// Connectivity tells the manager when gameplay has to wait for the hub.
type Connectivity interface {
	Degraded() bool
	SetRetryHandler(fn func())
}

// CapacityResolver is asked what to evict when admission hits the cap. It
// returns the table to close, or false to refuse the new table.
type CapacityResolver func(ctx context.Context, held []int64, requested int64) (int64, bool)

type Options struct {
	MaxOpenTables           int
	ReserveTournamentTables bool
	UIMode                  string
	Profile                 string

	API          API
	Hub          Hub
	Store        SelectionStore
	Alarm        DuplicateAlarm
	Connectivity Connectivity
	Resolver     CapacityResolver
}

type Manager struct {
	opts Options

	mu          sync.Mutex
	tables      map[int64]*viewstate.Table
	order       []int64
	trackers    map[int64]*dedup.Tracker
	tournaments map[int64]*viewstate.Tournament
	session     *connection.Session
	unbind      []func()
	deferred    []deferredAction
	hydrated    bool
	unsubscribe func()
	bg          sync.WaitGroup
}

func New(opts Options) *Manager {
	if opts.MaxOpenTables <= 0 {
		opts.MaxOpenTables = 4
	}
	if opts.UIMode == "" {
		opts.UIMode = UIModeMulti
	}
	if opts.UIMode == UIModeSingle {
		opts.MaxOpenTables = 1
		if opts.Resolver == nil {
			opts.Resolver = EvictOldest
		}
	}
	return &Manager{
		opts:        opts,
		tables:      map[int64]*viewstate.Table{},
		trackers:    map[int64]*dedup.Tracker{},
		tournaments: map[int64]*viewstate.Tournament{},
	}
}

// EvictOldest resolves capacity pressure by closing the longest held table.
func EvictOldest(_ context.Context, held []int64, _ int64) (int64, bool) {
	if len(held) == 0 {
		return 0, false
	}
	return held[0], true
}

// Start follows the hub facade: handlers are bound to every new session and
// held state is re-pulled after each reconnect.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	unsubscribe := m.opts.Hub.Subscribe(m.onSignal)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	if s := m.opts.Hub.Current(); s != nil && !s.Terminated() {
		m.bind(s)
	}
}

// Stop detaches from the hub and waits for background refreshes.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	unbind := m.unbind
	m.unbind = nil
	m.session = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	for _, fn := range unbind {
		fn()
	}
	m.bg.Wait()
}

// Reset forgets every held table, tournament and queued action so the next
// Hydrate starts from scratch. Streams of the old session are not left; the
// caller replaces that session.
func (m *Manager) Reset() {
	m.mu.Lock()
	tables, tournaments, dropped := len(m.tables), len(m.tournaments), len(m.deferred)
	m.tables = map[int64]*viewstate.Table{}
	m.order = nil
	m.trackers = map[int64]*dedup.Tracker{}
	m.tournaments = map[int64]*viewstate.Tournament{}
	m.deferred = nil
	m.hydrated = false
	m.mu.Unlock()

	ev := log.Info()
	if dropped > 0 {
		ev = log.Warn()
	}
	ev.Int("tables", tables).Int("tournaments", tournaments).Int("dropped_actions", dropped).Msg("tables_reset")
}

func (m *Manager) onSignal(ev connection.Event) {
	switch ev.Signal {
	case connection.SignalNewConnection:
		if ev.Session != nil {
			m.bind(ev.Session)
		}
	case connection.SignalTerminatedConnection:
		m.mu.Lock()
		if m.session == ev.Session {
			m.session = nil
			m.unbind = nil
		}
		m.mu.Unlock()
	case connection.SignalReconnected:
		// Signals arrive on the transport goroutine; hub calls from here
		// would wait on their own read loop.
		m.background(func(ctx context.Context) {
			if !m.Hydrated() {
				// The first connect never got through; discover from scratch.
				if err := m.Hydrate(ctx); err != nil {
					log.Warn().Err(err).Msg("tables_hydrate_partial")
				}
				return
			}
			if err := m.Rehydrate(ctx); err != nil {
				log.Warn().Err(err).Msg("tables_rehydrate_partial")
			}
		})
	}
}

// Hydrated reports whether startup discovery has run since the last Reset.
func (m *Manager) Hydrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hydrated
}

func (m *Manager) background(fn func(ctx context.Context)) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Manager) invoke(ctx context.Context, method string, args ...any) error {
	s := m.opts.Hub.Current()
	if s == nil {
		return connection.ErrNoSession
	}
	_, err := s.Invoke(ctx, method, args...)
	return err
}

// OpenTable admits a table, fetches its state and connects to its stream.
// Opening a held table is a no-op.
func (m *Manager) OpenTable(ctx context.Context, tableID int64) error {
	return m.openTable(ctx, tableID, true)
}

func (m *Manager) openTable(ctx context.Context, tableID int64, persist bool) error {
	if err := m.admit(ctx, tableID); err != nil {
		if errors.Is(err, errAlreadyHeld) {
			return nil
		}
		return err
	}
	metricTablesOpened.Add(1)
	log.Info().Int64("table_id", tableID).Msg("table_opened")

	if err := m.refreshTable(ctx, tableID); err != nil {
		m.drop(tableID)
		return err
	}
	if persist && m.opts.Store != nil {
		if err := m.opts.Store.SaveSelectedTable(ctx, m.opts.Profile, tableID); err != nil {
			log.Warn().Err(err).Int64("table_id", tableID).Msg("table_selection_save_failed")
		}
	}
	return nil
}

var errAlreadyHeld = errors.New("table_already_held")

// admit reserves a slot for tableID, evicting a closed table first and then
// asking the resolver.
func (m *Manager) admit(ctx context.Context, tableID int64) error {
	m.mu.Lock()
	if _, ok := m.tables[tableID]; ok {
		m.mu.Unlock()
		return errAlreadyHeld
	}
	if m.reservedSlotsLocked(tableID) >= m.opts.MaxOpenTables {
		if evicted, ok := m.evictClosedLocked(); ok {
			log.Info().Int64("table_id", evicted).Int64("for_table_id", tableID).Msg("table_evicted_closed")
		}
	}
	if m.reservedSlotsLocked(tableID) < m.opts.MaxOpenTables {
		m.addLocked(tableID)
		m.mu.Unlock()
		return nil
	}
	held := m.heldLocked()
	m.mu.Unlock()

	if m.opts.Resolver == nil {
		metricCapacityRejections.Add(1)
		return ErrMaxTablesReached
	}
	victim, ok := m.opts.Resolver(ctx, held, tableID)
	if !ok {
		metricCapacityRejections.Add(1)
		log.Info().Int64("table_id", tableID).Msg("table_admission_refused")
		return ErrMaxTablesReached
	}
	if err := m.CloseTable(ctx, victim); err != nil && !errors.Is(err, ErrTableNotFound) {
		return err
	}
	metricTablesEvicted.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[tableID]; ok {
		return errAlreadyHeld
	}
	if m.reservedSlotsLocked(tableID) >= m.opts.MaxOpenTables {
		metricCapacityRejections.Add(1)
		return ErrMaxTablesReached
	}
	m.addLocked(tableID)
	return nil
}

func (m *Manager) addLocked(tableID int64) {
	m.tables[tableID] = viewstate.NewTable(tableID)
	m.trackers[tableID] = dedup.NewTracker(dedup.DefaultCapacity)
	m.order = append(m.order, tableID)
}

func (m *Manager) evictClosedLocked() (int64, bool) {
	for _, id := range m.order {
		if !m.tables[id].Opened() {
			m.removeLocked(id)
			metricTablesEvicted.Add(1)
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) removeLocked(tableID int64) bool {
	if _, ok := m.tables[tableID]; !ok {
		return false
	}
	delete(m.tables, tableID)
	delete(m.trackers, tableID)
	for i, id := range m.order {
		if id == tableID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Manager) drop(tableID int64) {
	m.mu.Lock()
	m.removeLocked(tableID)
	m.mu.Unlock()
}

func (m *Manager) heldLocked() []int64 {
	return append([]int64(nil), m.order...)
}

// CloseTable leaves the table's stream and forgets its state.
func (m *Manager) CloseTable(ctx context.Context, tableID int64) error {
	m.mu.Lock()
	removed := m.removeLocked(tableID)
	m.mu.Unlock()
	if !removed {
		return ErrTableNotFound
	}
	metricTablesClosed.Add(1)
	log.Info().Int64("table_id", tableID).Msg("table_closed")
	if err := m.invoke(ctx, hub.InvokeDisconnectFromTable, tableID); err != nil {
		log.Warn().Err(err).Int64("table_id", tableID).Msg("table_disconnect_failed")
	}
	return nil
}

// ReservedSlots is the number of table slots counted against the cap.
func (m *Manager) ReservedSlots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservedSlotsLocked(0)
}

// reservedSlotsLocked ignores the reservation of a tournament whose table is
// forTable, since opening that table consumes the reservation.
func (m *Manager) reservedSlotsLocked(forTable int64) int {
	held := len(m.tables)
	if !m.opts.ReserveTournamentTables {
		return held
	}
	casual := 0
	for _, t := range m.tables {
		if t.TournamentID == 0 {
			casual++
		}
	}
	pending := 0
	for _, tr := range m.tournaments {
		if !tr.Active() {
			continue
		}
		if tr.TableID != 0 {
			if tr.TableID == forTable {
				continue
			}
			if _, ok := m.tables[tr.TableID]; ok {
				continue
			}
		}
		pending++
	}
	return max(casual, held+pending)
}

func (m *Manager) HasTable(tableID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[tableID]
	return ok
}

func (m *Manager) Table(tableID int64) (viewstate.TableSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableID]
	if !ok {
		return viewstate.TableSnapshot{}, false
	}
	return t.Snapshot(), true
}

// Tables returns snapshots in the order the tables were opened.
func (m *Manager) Tables() []viewstate.TableSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]viewstate.TableSnapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tables[id].Snapshot())
	}
	return out
}

func (m *Manager) Tournament(id int64) (viewstate.TournamentSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return viewstate.TournamentSnapshot{}, false
	}
	return t.Snapshot(), true
}

func (m *Manager) Tournaments() []viewstate.TournamentSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]viewstate.TournamentSnapshot, 0, len(m.tournaments))
	for _, t := range m.tournaments {
		out = append(out, t.Snapshot())
	}
	sortTournaments(out)
	return out
}

// TableTournament resolves the tournament a table belongs to.
func (m *Manager) TableTournament(tableID int64) (viewstate.TournamentSnapshot, bool) {
	m.mu.Lock()
	t, ok := m.tables[tableID]
	var tid int64
	if ok {
		tid = t.TournamentID
	}
	m.mu.Unlock()
	if tid == 0 {
		return viewstate.TournamentSnapshot{}, false
	}
	return m.Tournament(tid)
}

type Snapshot struct {
	MaxOpenTables int                            `json:"max_open_tables"`
	ReservedSlots int                            `json:"reserved_slots"`
	UIMode        string                         `json:"ui_mode"`
	Tables        []viewstate.TableSnapshot      `json:"tables"`
	Tournaments   []viewstate.TournamentSnapshot `json:"tournaments"`
	Deferred      int                            `json:"deferred_actions"`
}

func (m *Manager) Snapshot() Snapshot {
	tables := m.Tables()
	tournaments := m.Tournaments()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		MaxOpenTables: m.opts.MaxOpenTables,
		ReservedSlots: m.reservedSlotsLocked(0),
		UIMode:        m.opts.UIMode,
		Tables:        tables,
		Tournaments:   tournaments,
		Deferred:      len(m.deferred),
	}
}
