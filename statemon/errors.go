package statemon

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	ErrNilDialer       = errors.New(`statemon: nil dialer`)
	ErrClosed          = errors.New(`statemon: monitor closed`)
	ErrRunning         = errors.New(`statemon: monitor is running`)
	ErrNotConnected    = errors.New(`statemon: not connected`)
	ErrInvalidInterval = errors.New(`statemon: invalid interval`)
)

// ProtocolError indicates a published frame that could not be decoded.
type ProtocolError struct {
	// Err is the underlying cause, if any, e.g. from parsing the body.
	Err    error
	Frame  string
	Type   string
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := `statemon: ` + e.Reason + `: ` + fmt.Sprintf(`%q`, e.Frame)
	if e.Err != nil {
		msg += `: ` + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError indicates a connect, send or receive failure on either
// channel.
type TransportError struct {
	Err error
	// Op is one of "dial", "subscribe", "unsubscribe", "request" or "receive".
	Op   string
	Addr string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Addr == `` {
		return fmt.Sprintf(`statemon: %s: %v`, e.Op, e.Err)
	}
	return fmt.Sprintf(`statemon: %s %s: %v`, e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TransportError) Unwrap() error {
	return e.Err
}
