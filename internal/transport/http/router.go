package httptransport

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"table-client/internal/connection"
	"table-client/internal/hub"
	"table-client/internal/netmonitor"
	"table-client/internal/tables"
	"table-client/internal/viewstate"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Connection is the hub facade as seen by the status surface.
type Connection interface {
	State() hub.State
	Attempts() int
	Reconnect(ctx context.Context) (*connection.Session, error)
	Terminate(force bool)
}

type Monitor interface {
	Snapshot() netmonitor.Snapshot
	Retry()
	SetManualDisconnect(v bool)
}

type Tables interface {
	Snapshot() tables.Snapshot
	Tables() []viewstate.TableSnapshot
	Table(tableID int64) (viewstate.TableSnapshot, bool)
	Tournaments() []viewstate.TournamentSnapshot
	OpenTable(ctx context.Context, tableID int64) error
	CloseTable(ctx context.Context, tableID int64) error
	DismissTournament(ctx context.Context, tournamentID int64) error
}

// TokenRotator swaps the credential used for REST calls and later hub
// sessions.
type TokenRotator interface {
	RotateToken(token string)
}

type Deps struct {
	Conn    Connection
	Monitor Monitor
	Tables  Tables
	Auth    TokenRotator
}

func NewRouter(d Deps) *chi.Mux {
	status := NewStatusHandlers(d.Conn, d.Monitor, d.Tables)
	status.auth = d.Auth
	tableHandlers := NewTableHandlers(d.Tables)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", status.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/status", status.Status())

		r.Get("/tables", tableHandlers.List())
		r.Get("/tables/{table_id}", tableHandlers.Get())
		r.Post("/tables/{table_id}/open", tableHandlers.Open())
		r.Delete("/tables/{table_id}", tableHandlers.Close())

		r.Get("/tournaments", tableHandlers.Tournaments())
		r.Delete("/tournaments/{tournament_id}", tableHandlers.DismissTournament())

		r.Post("/connection/reconnect", status.Reconnect())
		r.Post("/connection/disconnect", status.Disconnect())
		if d.Auth != nil {
			r.Put("/connection/token", status.RotateToken())
		}

		r.Get("/debug/vars", expvar.Handler().ServeHTTP)
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 16)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
