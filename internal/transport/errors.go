package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionRefused = errors.New("transport: connection refused")
	ErrTimeout           = errors.New("transport: timeout")
	ErrHandshakeFailed   = errors.New("transport: handshake failed")
	ErrClosed            = errors.New("transport: connection closed")
	ErrPeerDisconnected  = errors.New("transport: peer disconnected")
)

// ConnectError is returned by Dial. Kind is one of ErrConnectionRefused,
// ErrTimeout or ErrHandshakeFailed.
type ConnectError struct {
	Endpoint string
	Kind     error
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// AcceptError is returned by Upgrade. The HTTP error response has already
// been written.
type AcceptError struct {
	Remote string
	Err    error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("transport: accept %s: %v", e.Remote, e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// DecodeError reports one inbound frame that was dropped. The connection
// remains usable.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("transport: dropped frame (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsTerminal reports whether err ends the connection.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrPeerDisconnected)
}
