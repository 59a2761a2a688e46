package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"table-client/internal/netmonitor"
	"table-client/internal/tables"

	"github.com/rs/zerolog/log"
)

type StatusHandlers struct {
	conn    Connection
	monitor Monitor
	tables  Tables
	auth    TokenRotator
}

func NewStatusHandlers(conn Connection, monitor Monitor, t Tables) *StatusHandlers {
	return &StatusHandlers{conn: conn, monitor: monitor, tables: t}
}

type connectionStatus struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
}

type statusResponse struct {
	Connection connectionStatus    `json:"connection"`
	Network    netmonitor.Snapshot `json:"network"`
	Tables     tables.Snapshot     `json:"tables"`
}

func (h *StatusHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *StatusHandlers) connection() connectionStatus {
	return connectionStatus{State: h.conn.State().String(), Attempts: h.conn.Attempts()}
}

func (h *StatusHandlers) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Connection: h.connection(),
			Network:    h.monitor.Snapshot(),
			Tables:     h.tables.Snapshot(),
		})
	}
}

// Reconnect runs the recovery action the overlay currently offers, or a
// plain reconnect when none is pending.
func (h *StatusHandlers) Reconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricReconnectRequests.Add(1)
		if action := h.monitor.Snapshot().RetryAction; action != netmonitor.ActionNone {
			h.monitor.Retry()
			writeJSON(w, http.StatusAccepted, map[string]any{"action": action})
			return
		}
		h.monitor.SetManualDisconnect(false)
		if _, err := h.conn.Reconnect(r.Context()); err != nil {
			log.Warn().Err(err).Msg("status_reconnect_failed")
			WriteHTTPError(w, http.StatusBadGateway, "reconnect_failed")
			return
		}
		writeJSON(w, http.StatusOK, h.connection())
	}
}

func (h *StatusHandlers) Disconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		metricDisconnectRequests.Add(1)
		h.monitor.SetManualDisconnect(true)
		h.conn.Terminate(true)
		writeJSON(w, http.StatusOK, h.connection())
	}
}

type rotateTokenRequest struct {
	Token string `json:"token"`
}

// RotateToken applies to REST calls at once and to the hub from the next
// session on.
func (h *StatusHandlers) RotateToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rotateTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			WriteHTTPError(w, http.StatusBadRequest, "missing_token")
			return
		}
		metricTokenRotations.Add(1)
		h.auth.RotateToken(req.Token)
		w.WriteHeader(http.StatusNoContent)
	}
}
