package dialog

import "fmt"

// ProtocolError wraps a failure talking to the realtime model — a bad
// websocket frame, an unexpected event type, or a server-reported error
// event — so callers can distinguish it from a session-layer failure.
type ProtocolError struct {
	Op string
	Message string
	Wrapped error
}

func (e *ProtocolError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("dialog: %s: %s: %v", e.Op, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("dialog: %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Wrapped }
