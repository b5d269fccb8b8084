package rpc

import "peer-rpc/transport"

// Hooks are the lifecycle callbacks of a call target. Any of them may be nil.
type Hooks struct {
	// OnConnected runs once the connection is ready to dispatch, before any
	// OnDisconnected.
	OnConnected func(c *Connection)
	// OnDisconnected runs once when the underlying connection goes away.
	OnDisconnected func(c *Connection, ev transport.DisconnectEvent)
	// OnConnectionAttemptFailed reports a connection that could not be established.
	OnConnectionAttemptFailed func(err *ConnectionAttemptFailedError)
}

type ConnectedHandler interface {
	OnConnected(c *Connection)
}

type DisconnectedHandler interface {
	OnDisconnected(c *Connection, ev transport.DisconnectEvent)
}

type ConnectionAttemptFailedHandler interface {
	OnConnectionAttemptFailed(err *ConnectionAttemptFailedError)
}

// HooksFor derives the hooks from the optional handler interfaces target implements.
func HooksFor(target any) Hooks {
	var h Hooks
	if t, ok := target.(ConnectedHandler); ok {
		h.OnConnected = t.OnConnected
	}
	if t, ok := target.(DisconnectedHandler); ok {
		h.OnDisconnected = t.OnDisconnected
	}
	if t, ok := target.(ConnectionAttemptFailedHandler); ok {
		h.OnConnectionAttemptFailed = t.OnConnectionAttemptFailed
	}
	return h
}
