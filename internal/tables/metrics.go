package tables

import "expvar"

var (
	metricTablesOpened       = expvar.NewInt("tables_opened_total")
	metricTablesClosed       = expvar.NewInt("tables_closed_total")
	metricTablesEvicted      = expvar.NewInt("tables_evicted_total")
	metricCapacityRejections = expvar.NewInt("tables_capacity_rejections_total")
	metricEventsRouted       = expvar.NewInt("tables_events_routed_total")
	metricEventsDropped      = expvar.NewInt("tables_events_dropped_total")
	metricStaleEvents        = expvar.NewInt("tables_stale_session_events_total")
	metricDuplicates         = expvar.NewInt("tables_duplicate_events_total")
	metricRehydrations       = expvar.NewInt("tables_rehydrations_total")
	metricHydrationFailures  = expvar.NewInt("tables_hydration_failures_total")
	metricActionsDeferred    = expvar.NewInt("tables_actions_deferred_total")
)
