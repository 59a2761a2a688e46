package httptransport

import "expvar"

var (
	metricTableOpenTotal  = expvar.NewInt("status_table_open_total")
	metricTableOpenErrors = expvar.NewInt("status_table_open_errors_total")

	metricReconnectRequests  = expvar.NewInt("status_reconnect_requests_total")
	metricDisconnectRequests = expvar.NewInt("status_disconnect_requests_total")
	metricTokenRotations     = expvar.NewInt("status_token_rotations_total")
)
