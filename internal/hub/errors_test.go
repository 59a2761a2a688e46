package hub

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unknown", errors.New("boom"), false},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"restart", &websocket.CloseError{Code: websocket.CloseServiceRestart}, true},
		{"wrapped", fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseTryAgainLater}), true},
		{"normal", &websocket.CloseError{Code: websocket.CloseNormalClosure}, false},
		{"policy", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
	}
	for _, tc := range cases {
		if got := IsRecoverable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRecoverable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
