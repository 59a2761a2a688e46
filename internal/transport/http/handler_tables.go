package httptransport

import (
	"errors"
	"net/http"

	"table-client/internal/api"
	"table-client/internal/tables"
)

type TableHandlers struct {
	tables Tables
}

func NewTableHandlers(t Tables) *TableHandlers {
	return &TableHandlers{tables: t}
}

func (h *TableHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": h.tables.Tables()})
	}
}

func (h *TableHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "table_id")
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_table_id")
			return
		}
		t, ok := h.tables.Table(id)
		if !ok {
			WriteHTTPError(w, http.StatusNotFound, "table_not_found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func (h *TableHandlers) Open() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "table_id")
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_table_id")
			return
		}
		metricTableOpenTotal.Add(1)
		if err := h.tables.OpenTable(r.Context(), id); err != nil {
			metricTableOpenErrors.Add(1)
			writeManagerError(w, err)
			return
		}
		t, _ := h.tables.Table(id)
		writeJSON(w, http.StatusOK, t)
	}
}

func (h *TableHandlers) Close() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "table_id")
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_table_id")
			return
		}
		if err := h.tables.CloseTable(r.Context(), id); err != nil {
			writeManagerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *TableHandlers) Tournaments() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": h.tables.Tournaments()})
	}
}

func (h *TableHandlers) DismissTournament() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "tournament_id")
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_tournament_id")
			return
		}
		if err := h.tables.DismissTournament(r.Context(), id); err != nil {
			writeManagerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tables.ErrMaxTablesReached):
		WriteHTTPError(w, http.StatusConflict, "max_tables_reached")
	case errors.Is(err, tables.ErrTableNotFound):
		WriteHTTPError(w, http.StatusNotFound, "table_not_found")
	case errors.Is(err, tables.ErrTournamentNotFound):
		WriteHTTPError(w, http.StatusNotFound, "tournament_not_found")
	case errors.Is(err, tables.ErrActionDeferred):
		WriteHTTPError(w, http.StatusAccepted, "action_deferred")
	case api.IsNotFound(err):
		WriteHTTPError(w, http.StatusNotFound, "upstream_not_found")
	default:
		WriteHTTPError(w, http.StatusBadGateway, "upstream_error")
	}
}
