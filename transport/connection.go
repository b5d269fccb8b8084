// Package transport implements the connection abstraction the RPC layer runs on.
//
// A Connection is a bidirectional channel between two peers carrying typed messages.
// Either side may send a request at any time; each request receives at most one
// response, correlated by the channel. Requests can be answered asynchronously through
// deferrals, and a request nobody answered gets an empty (nil) response automatically.
//
//	peer A ──SendMessage(call)──┐                 ┌──► OnRequest handlers ─► SendResponse
//	                            ├──► channel ────►┤
//	peer A ◄──── RequestResult ─┘                 └──► (auto nil response if unanswered)
//
// Lifecycle: Connected → Disconnected → Disposed, or Connected → Disposed when the
// remote side or the channel goes away. The disconnect event fires exactly once.
package transport

import (
	"context"
	"fmt"
	"time"
)

// DefaultRequestTimeout bounds how long SendMessage waits for a response.
const DefaultRequestTimeout = 30 * time.Second

// Connection is a message channel to one remote peer.
type Connection interface {
	ID() string
	Status() ConnectionStatus

	// SendMessage sends msg as a request. With a nil opts the request waits up to
	// DefaultRequestTimeout for its response.
	SendMessage(ctx context.Context, msg any, opts *RequestOptions) RequestResult

	// OnRequest registers a handler for requests received from the peer.
	OnRequest(func(*Request)) Subscription

	// OnDisconnect registers a handler for the disconnect event. Handlers registered
	// after the connection was disposed are called immediately with the final event.
	OnDisconnect(func(DisconnectEvent)) Subscription

	// Close gracefully closes a connected connection. It is a no-op otherwise.
	Close() error
}

type RequestOptions struct {
	ResponseRequired bool
	Timeout          time.Duration
}

func DefaultRequestOptions() *RequestOptions {
	return &RequestOptions{ResponseRequired: true, Timeout: DefaultRequestTimeout}
}

func (o *RequestOptions) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return DefaultRequestTimeout
	}
	return o.Timeout
}

func (o *RequestOptions) responseRequired() bool {
	return o == nil || o.ResponseRequired
}

type ConnectionStatus int

const (
	StatusConnected ConnectionStatus = iota
	StatusDisconnected
	StatusDisposed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	case StatusDisposed:
		return "Disposed"
	}
	return fmt.Sprintf("ConnectionStatus(%d)", int(s))
}

type RequestStatus int

const (
	RequestSuccess RequestStatus = iota
	RequestFailure
	RequestDisconnected
	RequestResponseTimeout
)

func (s RequestStatus) String() string {
	switch s {
	case RequestSuccess:
		return "Success"
	case RequestFailure:
		return "Failure"
	case RequestDisconnected:
		return "Disconnected"
	case RequestResponseTimeout:
		return "ResponseTimeout"
	}
	return fmt.Sprintf("RequestStatus(%d)", int(s))
}

// RequestResult is the outcome of SendMessage. Response is only meaningful with
// RequestSuccess; Cause carries the underlying error of a RequestFailure.
type RequestResult struct {
	Status   RequestStatus
	Response any
	Cause    error
}

type ResponseStatus int

const (
	ResponseSuccess ResponseStatus = iota
	ResponseFailure
	ResponseDisconnected
	ResponseAlreadyRespondedTo
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseSuccess:
		return "Success"
	case ResponseFailure:
		return "Failure"
	case ResponseDisconnected:
		return "Disconnected"
	case ResponseAlreadyRespondedTo:
		return "RequestAlreadyRespondedTo"
	}
	return fmt.Sprintf("ResponseStatus(%d)", int(s))
}

type ResponseResult struct {
	Status ResponseStatus
	Cause  error
}

type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	DisconnectUnexpected
	DisconnectLocalPeer
	DisconnectRemotePeer
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectUnknown:
		return "Unknown"
	case DisconnectUnexpected:
		return "UnexpectedDisconnect"
	case DisconnectLocalPeer:
		return "LocalPeerDisconnected"
	case DisconnectRemotePeer:
		return "RemotePeerDisconnected"
	}
	return fmt.Sprintf("DisconnectReason(%d)", int(r))
}

// DisconnectEvent describes why a connection went away. Details holds the error of an
// unexpected disconnect, if any.
type DisconnectEvent struct {
	Connection Connection
	Reason     DisconnectReason
	Details    any
}
