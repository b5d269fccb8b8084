// Package rpc implements symmetric remote procedure calls over a transport.Connection.
//
// Both ends of a Connection are equal: each side may expose a call target whose
// methods the other side invokes by name through its Proxy.
//
//	peer A                                         peer B
//	Proxy.Call("Add", 1, 2) ──message.Call──────►  dispatch → target.Add(1, 2)
//	                         ◄──message.Return───  Success(3)
//
// Dispatch looks methods up by exact name, checks argument count and types, fills in
// the caller for *Connection parameters and turns every failure into a faulted Return.
package rpc

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"peer-rpc/message"
	"peer-rpc/middleware"
	"peer-rpc/transport"
)

// Connection binds a transport connection to a call target.
type Connection struct {
	conn   transport.Connection
	target any
	svc    *service
	hooks  Hooks
	log    *zap.Logger

	handler middleware.HandlerFunc
	proxy   *Proxy

	connected chan struct{} // closed after OnConnected returned; gates dispatch and OnDisconnected

	mu          sync.Mutex
	subs        []transport.Subscription
	disposed    bool
	disconnects sync.Once
}

// NewConnection wraps conn. Calls from the peer are dispatched to target; a nil target
// rejects them all. OnConnected runs before NewConnection returns, and no incoming call
// is dispatched before it has returned.
func NewConnection(conn transport.Connection, target any, opts ...Option) *Connection {
	o := newOptions(opts)
	c := &Connection{
		conn:      conn,
		target:    target,
		log:       o.logger.With(zap.String("conn", conn.ID())),
		connected: make(chan struct{}),
	}

	svc, err := newService(target)
	if err != nil {
		c.log.Error("call target rejected, remote calls disabled", zap.Error(err))
	}
	c.svc = svc

	if o.hooks != nil {
		c.hooks = *o.hooks
	} else {
		c.hooks = HooksFor(target)
	}

	c.handler = middleware.Chain(o.middlewares...)(c.dispatch)
	c.proxy = newProxy(c, o.callTimeout, o.callMiddlewares)

	c.subs = append(c.subs,
		conn.OnRequest(c.onRequest),
		conn.OnDisconnect(c.onDisconnect),
	)

	if c.hooks.OnConnected != nil {
		c.hooks.OnConnected(c)
	}
	close(c.connected)
	return c
}

func (c *Connection) ID() string {
	return c.conn.ID()
}

// Transport returns the underlying connection.
func (c *Connection) Transport() transport.Connection {
	return c.conn
}

func (c *Connection) Target() any {
	return c.target
}

// Proxy calls methods on the peer's call target.
func (c *Connection) Proxy() *Proxy {
	return c.proxy
}

// Dispose closes the underlying connection and releases the subscriptions.
// Only the first call has any effect.
func (c *Connection) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	err := c.conn.Close()

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return err
}

func (c *Connection) onRequest(req *transport.Request) {
	call, ok := req.Message.(*message.Call)
	if !ok {
		return
	}

	d := req.Defer()
	defer d.Complete()
	<-c.connected

	ret := c.handler(context.Background(), call)
	if ret == nil {
		ret = message.Faulted("Unknown error")
	}
	if res := req.SendResponse(ret); res.Status != transport.ResponseSuccess {
		c.log.Warn("failed to send rpc return",
			zap.String("method", call.Method),
			zap.Stringer("status", res.Status),
			zap.Error(res.Cause))
	}
}

func (c *Connection) dispatch(ctx context.Context, call *message.Call) *message.Return {
	return c.svc.dispatch(ctx, call, c)
}

// onDisconnect defers the hook until OnConnected returned, so the two never run out
// of order even when the transport is already gone at construction.
func (c *Connection) onDisconnect(ev transport.DisconnectEvent) {
	select {
	case <-c.connected:
		c.disconnected(ev)
	default:
		go func() {
			<-c.connected
			c.disconnected(ev)
		}()
	}
}

func (c *Connection) disconnected(ev transport.DisconnectEvent) {
	c.disconnects.Do(func() {
		c.log.Debug("rpc connection closed", zap.Stringer("reason", ev.Reason))
		if c.hooks.OnDisconnected != nil {
			c.hooks.OnDisconnected(c, ev)
		}
	})
}
