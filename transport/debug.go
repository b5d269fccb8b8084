package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DebugConnection is one end of an in-process connection pair. Messages are handed to
// the other end by reference, without serialization.
type DebugConnection struct {
	connCore

	peer    *DebugConnection
	nextID  atomic.Uint64
	pending sync.Map // map[uint64]chan RequestResult
}

// NewDebugPair creates two connected ends sharing one id.
func NewDebugPair(opts ...Option) (*DebugConnection, *DebugConnection) {
	o := newOptions(opts)
	id := "DEBUG_" + uuid.NewString()

	a, b := &DebugConnection{}, &DebugConnection{}
	a.peer, b.peer = b, a
	a.init(id, o.logger.With(zap.String("side", "client")), a, a)
	b.init(id, o.logger.With(zap.String("side", "server")), b, b)
	return a, b
}

func (c *DebugConnection) post(msg any, wait bool) (<-chan RequestResult, func(), error) {
	// A disposed peer drops the request; its close notification disposes this end
	// and fails the pending entry.
	if !wait {
		go c.peer.receive(msg, func(any) error { return nil })
		return nil, func() {}, nil
	}

	id := c.nextID.Add(1)
	ch := make(chan RequestResult, 1)
	c.pending.Store(id, ch)
	go c.peer.receive(msg, func(resp any) error {
		if pending, ok := c.pending.LoadAndDelete(id); ok {
			pending.(chan RequestResult) <- RequestResult{Status: RequestSuccess, Response: resp}
		}
		return nil
	})
	return ch, func() { c.pending.Delete(id) }, nil
}

// closeCore tells the other end asynchronously, like a close frame would.
func (c *DebugConnection) closeCore() error {
	go c.peer.dispose(DisconnectRemotePeer, nil)
	return nil
}

func (c *DebugConnection) disposeCore() {
	c.pending.Range(func(key, _ any) bool {
		if ch, ok := c.pending.LoadAndDelete(key); ok {
			ch.(chan RequestResult) <- RequestResult{Status: RequestDisconnected}
		}
		return true
	})
}

// DebugListener produces DebugConnections on demand. Connect returns the client end
// and emits the server end to the listener's subscribers.
type DebugListener struct {
	listenerCore
	opts []Option
}

func NewDebugListener(opts ...Option) *DebugListener {
	l := &DebugListener{opts: opts}
	o := newOptions(opts)
	l.init(o.logger.With(zap.String("listener", "debug")), l)
	return l
}

func (l *DebugListener) startCore(context.Context) error { return nil }

func (l *DebugListener) stopCore() error { return nil }

// Connect creates a connection pair. The server end has been delivered to the
// listener's subscribers when Connect returns.
func (l *DebugListener) Connect() (*DebugConnection, error) {
	if l.Status() != ListenerActive {
		return nil, ErrListenerInactive
	}
	client, server := NewDebugPair(l.opts...)
	l.deliver(server)
	return client, nil
}
