package netmonitor

import "expvar"

var (
	metricDuplicateSessions = expvar.NewInt("netmonitor_duplicate_sessions_total")
	metricCheckFailures     = expvar.NewInt("netmonitor_check_failures_total")
)
