package hub

import (
	"errors"

	"github.com/gorilla/websocket"
)

var (
	ErrNotStarted      = errors.New("transport_not_started")
	ErrTransportClosed = errors.New("transport_closed")
)

var recoverableCloseCodes = map[int]struct{}{
	websocket.CloseGoingAway:         {},
	websocket.CloseAbnormalClosure:   {},
	websocket.CloseInternalServerErr: {},
	websocket.CloseServiceRestart:    {},
	websocket.CloseTryAgainLater:     {},
}

// IsRecoverable reports whether err carries a websocket close code that is
// safe to answer with a fresh connection. Unknown errors are not.
func IsRecoverable(err error) bool {
	code, ok := CloseCode(err)
	if !ok {
		return false
	}
	_, recoverable := recoverableCloseCodes[code]
	return recoverable
}

func CloseCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
