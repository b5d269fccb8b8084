package rpc

import (
	"errors"
	"fmt"
	"net"

	"peer-rpc/transport"
)

// ErrDisposed is returned when using a disposed connection or server.
var ErrDisposed = errors.New("rpc: disposed")

// CallError is a call the peer answered with a failed Return.
type CallError struct {
	Method string
	Detail string
}

func (e *CallError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = "no details"
	}
	return fmt.Sprintf("rpc: remote call %s failed: %s", e.Method, detail)
}

// TransportError is a call that never produced a Return: it timed out, the
// connection went away or the request could not be sent.
type TransportError struct {
	Method string
	Status transport.RequestStatus
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: remote call %s failed: %s: %v", e.Method, e.Status, e.Cause)
	}
	return fmt.Sprintf("rpc: remote call %s failed: %s", e.Method, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ConnectionAttemptFailedError reports a connection to or from Host:Port that could not
// be established.
type ConnectionAttemptFailedError struct {
	Host string
	Port string
	Err  error
}

func (e *ConnectionAttemptFailedError) Error() string {
	return fmt.Sprintf("rpc: connection attempt with %s failed: %v", net.JoinHostPort(e.Host, e.Port), e.Err)
}

func (e *ConnectionAttemptFailedError) Unwrap() error {
	return e.Err
}
