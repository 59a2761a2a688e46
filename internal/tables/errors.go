package tables

import "errors"

var (
	ErrMaxTablesReached   = errors.New("max_tables_reached")
	ErrActionDeferred     = errors.New("action_deferred_until_reconnect")
	ErrTableNotFound      = errors.New("table_not_found")
	ErrTournamentNotFound = errors.New("tournament_not_found")
)
