package status

import "errors"

// ErrStopped is returned once polling has been stopped by a failure.
var ErrStopped = errors.New("status polling stopped")

// TransportError reports a failed request or lost connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response that could not be parsed or carried an
// unusable program.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerError carries an error message returned by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server: " + e.Message }
