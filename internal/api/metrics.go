package api

import "expvar"

var (
	metricRequestsTotal = expvar.NewInt("api_requests_total")
	metricRequestErrors = expvar.NewInt("api_request_errors_total")
	metricStatusErrors  = expvar.NewInt("api_status_errors_total")
)
