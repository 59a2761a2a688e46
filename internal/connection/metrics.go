package connection

import "expvar"

var (
	metricConnectAttemptsTotal   = expvar.NewInt("hub_connect_attempts_total")
	metricConnectFailuresTotal   = expvar.NewInt("hub_connect_failures_total")
	metricEstablishTotal         = expvar.NewInt("hub_establish_total")
	metricEstablishCancelled     = expvar.NewInt("hub_establish_cancelled_total")
	metricEstablishExhausted     = expvar.NewInt("hub_establish_exhausted_total")
	metricSessionsTerminated     = expvar.NewInt("hub_sessions_terminated_total")
	metricRecoverableErrorsTotal = expvar.NewInt("hub_recoverable_errors_total")
	metricUnknownErrorsTotal     = expvar.NewInt("hub_unknown_errors_total")
	metricInvocationsTotal       = expvar.NewInt("hub_invocations_total")
	metricInvocationErrors       = expvar.NewInt("hub_invocation_errors_total")
)
