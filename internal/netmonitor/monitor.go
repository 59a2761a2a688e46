package netmonitor

import (
	"sync"

	"github.com/rs/zerolog/log"

	"table-client/internal/connection"
)

// Overlay is the user-facing connectivity surface.
type Overlay interface {
	ShowSlowConnection()
	HideSlowConnection()
	ShowReconnectFailed(retry func())
	HideReconnectFailed()
	ShowNoConnection()
	HideNoConnection()
	ShowDuplicatedConnection(reload func())
}

const (
	ActionNone      = ""
	ActionReconnect = "reconnect"
	ActionReload    = "reload"
)

type Snapshot struct {
	Offline             bool   `json:"offline"`
	ManualDisconnect    bool   `json:"manual_disconnect"`
	SuppressReconnected bool   `json:"suppress_reconnected"`
	FatalError          bool   `json:"fatal_error"`
	ShowingSlow         bool   `json:"showing_slow"`
	ReconnectFailed     bool   `json:"reconnect_failed"`
	RetryAction         string `json:"retry_action"`
	RetryPending        bool   `json:"retry_pending"`
}

// Monitor turns connection signals into overlay state and retry policy.
type Monitor struct {
	overlay   Overlay
	reconnect func()
	reload    func()

	mu                  sync.Mutex
	offline             bool
	manualDisconnect    bool
	suppressReconnected bool
	fatalError          bool
	showingSlow         bool
	reconnectFailed     bool
	lostWhileOffline    bool
	retryAction         string
	retryHandler        func()
}

func New(overlay Overlay, reconnect, reload func()) *Monitor {
	if overlay == nil {
		overlay = LogOverlay{}
	}
	if reconnect == nil {
		reconnect = func() {}
	}
	if reload == nil {
		reload = func() {}
	}
	return &Monitor{overlay: overlay, reconnect: reconnect, reload: reload}
}

// Attach feeds the monitor from a coordinator-style signal facade.
func (m *Monitor) Attach(subscribe func(func(connection.Event)) func()) func() {
	return subscribe(m.handle)
}

func (m *Monitor) handle(ev connection.Event) {
	switch ev.Signal {
	case connection.SignalSlow, connection.SignalReconnecting:
		m.OnReconnecting()
	case connection.SignalReceived:
		m.OnReceived()
	case connection.SignalReconnected:
		m.OnReconnected()
	case connection.SignalDisconnected:
		m.OnDisconnected()
	case connection.SignalNewConnection:
		m.mu.Lock()
		m.suppressReconnected = m.offline
		m.mu.Unlock()
	}
}

func (m *Monitor) OnReconnecting() {
	m.mu.Lock()
	if m.showingSlow || m.fatalError {
		m.mu.Unlock()
		return
	}
	m.showingSlow = true
	m.mu.Unlock()
	log.Info().Msg("connection_slow")
	m.overlay.ShowSlowConnection()
}

func (m *Monitor) OnReceived() {
	m.mu.Lock()
	if !m.showingSlow {
		m.mu.Unlock()
		return
	}
	m.showingSlow = false
	m.mu.Unlock()
	m.overlay.HideSlowConnection()
}

func (m *Monitor) OnReconnected() {
	m.mu.Lock()
	if m.fatalError || m.suppressReconnected {
		m.mu.Unlock()
		log.Debug().Msg("connection_reconnected_ignored")
		return
	}
	hideSlow := m.showingSlow
	hideFailed := m.reconnectFailed
	m.showingSlow = false
	m.reconnectFailed = false
	m.lostWhileOffline = false
	m.retryAction = ActionNone
	retry := m.retryHandler
	m.retryHandler = nil
	m.mu.Unlock()

	log.Info().Bool("retry_pending", retry != nil).Msg("connection_restored")
	if hideSlow {
		m.overlay.HideSlowConnection()
	}
	if hideFailed {
		m.overlay.HideReconnectFailed()
	}
	if retry != nil {
		retry()
	}
}

func (m *Monitor) OnDisconnected() {
	m.mu.Lock()
	if m.offline && !m.manualDisconnect && !m.fatalError {
		// Expected while offline; picked up again by OnOnline.
		m.lostWhileOffline = true
	}
	if m.offline || m.manualDisconnect || m.fatalError {
		m.mu.Unlock()
		return
	}
	hideSlow := m.showingSlow
	m.showingSlow = false
	m.reconnectFailed = true
	m.suppressReconnected = true
	m.retryAction = ActionReconnect
	m.mu.Unlock()

	log.Warn().Msg("connection_reconnect_failed")
	if hideSlow {
		m.overlay.HideSlowConnection()
	}
	m.overlay.ShowReconnectFailed(m.Retry)
}

// ShowDuplicatedConnectionPopup latches the fatal duplicate-session state.
// Only a full reload is offered from here on.
func (m *Monitor) ShowDuplicatedConnectionPopup() {
	m.mu.Lock()
	already := m.fatalError
	m.fatalError = true
	m.retryAction = ActionReload
	m.retryHandler = nil
	m.mu.Unlock()
	if already {
		return
	}
	metricDuplicateSessions.Add(1)
	log.Error().Msg("connection_duplicated")
	m.overlay.ShowDuplicatedConnection(m.reload)
}

func (m *Monitor) OnOffline() {
	m.mu.Lock()
	if m.offline {
		m.mu.Unlock()
		return
	}
	m.offline = true
	m.suppressReconnected = true
	m.mu.Unlock()
	log.Warn().Msg("network_offline")
	m.overlay.ShowNoConnection()
}

// OnOnline trusts reconnects again. A connection that gave up while offline
// is re-established; otherwise actions queued during the outage run now.
func (m *Monitor) OnOnline() {
	m.mu.Lock()
	if !m.offline {
		m.mu.Unlock()
		return
	}
	m.offline = false
	m.suppressReconnected = false
	lost := m.lostWhileOffline && !m.manualDisconnect && !m.fatalError
	m.lostWhileOffline = false
	var retry func()
	if !lost && !m.fatalError && !m.showingSlow && !m.reconnectFailed && !m.manualDisconnect {
		retry = m.retryHandler
		m.retryHandler = nil
	}
	m.mu.Unlock()

	log.Info().Bool("reconnect", lost).Bool("retry_pending", retry != nil).Msg("network_online")
	m.overlay.HideNoConnection()
	if lost {
		m.reconnect()
		return
	}
	if retry != nil {
		retry()
	}
}

// Retry runs the currently offered recovery action.
func (m *Monitor) Retry() {
	m.mu.Lock()
	action := m.retryAction
	if action == ActionReconnect {
		m.suppressReconnected = false
		m.reconnectFailed = false
	}
	m.mu.Unlock()

	switch action {
	case ActionReload:
		log.Info().Msg("connection_reload_requested")
		m.reload()
	case ActionReconnect:
		log.Info().Msg("connection_retry_requested")
		m.overlay.HideReconnectFailed()
		m.reconnect()
	}
}

// Reset returns the monitor to its startup state, keeping only what the
// network check reported. A full reload is the one way out of a fatal
// duplicate-session state.
func (m *Monitor) Reset() {
	m.mu.Lock()
	wasFatal := m.fatalError
	hideSlow := m.showingSlow
	hideFailed := m.reconnectFailed
	m.manualDisconnect = false
	m.suppressReconnected = m.offline
	m.fatalError = false
	m.showingSlow = false
	m.reconnectFailed = false
	m.lostWhileOffline = false
	m.retryAction = ActionNone
	m.retryHandler = nil
	m.mu.Unlock()

	log.Info().Bool("was_fatal", wasFatal).Msg("connection_monitor_reset")
	if hideSlow {
		m.overlay.HideSlowConnection()
	}
	if hideFailed {
		m.overlay.HideReconnectFailed()
	}
}

// SetRetryHandler queues fn to run once on the next accepted reconnect.
func (m *Monitor) SetRetryHandler(fn func()) {
	m.mu.Lock()
	m.retryHandler = fn
	m.mu.Unlock()
}

func (m *Monitor) SetManualDisconnect(v bool) {
	m.mu.Lock()
	m.manualDisconnect = v
	if !v {
		m.suppressReconnected = m.offline
	}
	m.mu.Unlock()
}

// Degraded reports whether gameplay should wait for the connection.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline || m.fatalError || m.showingSlow || m.reconnectFailed || m.manualDisconnect
}

func (m *Monitor) Fatal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatalError
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Offline:             m.offline,
		ManualDisconnect:    m.manualDisconnect,
		SuppressReconnected: m.suppressReconnected,
		FatalError:          m.fatalError,
		ShowingSlow:         m.showingSlow,
		ReconnectFailed:     m.reconnectFailed,
		RetryAction:         m.retryAction,
		RetryPending:        m.retryHandler != nil,
	}
}

// LogOverlay reports overlay changes through the logger. It backs the
// headless daemon.
type LogOverlay struct{}

func (LogOverlay) ShowSlowConnection() { log.Info().Str("overlay", "slow_connection").Msg("overlay_show") }
func (LogOverlay) HideSlowConnection() { log.Info().Str("overlay", "slow_connection").Msg("overlay_hide") }
func (LogOverlay) ShowReconnectFailed(func()) {
	log.Warn().Str("overlay", "reconnect_failed").Msg("overlay_show")
}
func (LogOverlay) HideReconnectFailed() {
	log.Info().Str("overlay", "reconnect_failed").Msg("overlay_hide")
}
func (LogOverlay) ShowNoConnection() { log.Warn().Str("overlay", "no_connection").Msg("overlay_show") }
func (LogOverlay) HideNoConnection() { log.Info().Str("overlay", "no_connection").Msg("overlay_hide") }
func (LogOverlay) ShowDuplicatedConnection(func()) {
	log.Error().Str("overlay", "duplicated_connection").Msg("overlay_show")
}
