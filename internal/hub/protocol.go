package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FrameEvent  = "event"
	FrameInvoke = "invoke"
	FrameResult = "result"
	FramePing   = "ping"
	FramePong   = "pong"
)

var ErrInvalidFrame = errors.New("invalid_frame")

// Frame is the single JSON envelope exchanged over the hub socket.
type Frame struct {
	Type         string            `json:"type"`
	Hub          string            `json:"hub,omitempty"`
	Method       string            `json:"method,omitempty"`
	Args         []json.RawMessage `json:"args,omitempty"`
	InvocationID string            `json:"invocation_id,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func NewInvocation(hubName, method, invocationID string, args ...any) (Frame, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameInvoke, Hub: hubName, Method: method, Args: raw, InvocationID: invocationID}, nil
}

func NewEvent(hubName, method string, args ...any) (Frame, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameEvent, Hub: hubName, Method: method, Args: raw}, nil
}

func marshalArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal arg %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	switch f.Type {
	case FrameEvent, FrameInvoke:
		if f.Method == "" {
			return Frame{}, fmt.Errorf("%w: %s frame without method", ErrInvalidFrame, f.Type)
		}
	case FrameResult:
		if f.InvocationID == "" {
			return Frame{}, fmt.Errorf("%w: result without invocation_id", ErrInvalidFrame)
		}
	case FramePing, FramePong:
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, f.Type)
	}
	return f, nil
}

// DecodeArgs unmarshals positional args into dst pointers. Missing trailing
// args leave their destinations untouched.
func DecodeArgs(args []json.RawMessage, dst ...any) error {
	for i, d := range dst {
		if i >= len(args) {
			return nil
		}
		if d == nil {
			continue
		}
		if err := json.Unmarshal(args[i], d); err != nil {
			return fmt.Errorf("decode arg %d: %w", i, err)
		}
	}
	return nil
}
