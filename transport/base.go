package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// channel is implemented by the concrete connection types. connCore calls post,
// reply and closeCore with its status lock held and status Connected, so they are
// never called concurrently with each other or after disposal.
type channel interface {
	// post hands msg to the peer. When wait is true it returns a channel that
	// receives the result and a cancel func that abandons it.
	post(msg any, wait bool) (<-chan RequestResult, func(), error)
	// closeCore runs the close handshake of the channel.
	closeCore() error
	// disposeCore releases resources and fails every pending request with
	// RequestDisconnected. Called exactly once, without the status lock.
	disposeCore()
}

// connCore carries the state machine shared by all connection types.
type connCore struct {
	id   string
	log  *zap.Logger
	impl channel
	self Connection

	mu     sync.Mutex // guards status and serializes writes
	status ConnectionStatus
	final  *DisconnectEvent

	requests    handlers[*Request]
	disconnects handlers[DisconnectEvent]
}

func (c *connCore) init(id string, log *zap.Logger, impl channel, self Connection) {
	c.id = id
	c.log = log.With(zap.String("conn", id))
	c.impl = impl
	c.self = self
	c.status = StatusConnected
}

func (c *connCore) ID() string {
	return c.id
}

func (c *connCore) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *connCore) OnRequest(fn func(*Request)) Subscription {
	return c.requests.add(fn)
}

func (c *connCore) OnDisconnect(fn func(DisconnectEvent)) Subscription {
	c.mu.Lock()
	final := c.final
	if final == nil {
		sub := c.disconnects.add(fn)
		c.mu.Unlock()
		return sub
	}
	c.mu.Unlock()

	callSafely(c.log, fn, *final)
	return &subscription{fn: func() {}}
}

func (c *connCore) SendMessage(ctx context.Context, msg any, opts *RequestOptions) (result RequestResult) {
	wait := opts.responseRequired()

	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return RequestResult{Status: RequestDisconnected}
	}
	ch, cancel, err := c.safePost(msg, wait)
	c.mu.Unlock()
	if err != nil {
		return RequestResult{Status: RequestFailure, Cause: err}
	}
	if !wait {
		return RequestResult{Status: RequestSuccess}
	}

	timer := time.NewTimer(opts.timeout())
	defer timer.Stop()

	select {
	case res := <-ch:
		return res
	case <-timer.C:
		cancel()
		return RequestResult{Status: RequestResponseTimeout}
	case <-ctx.Done():
		cancel()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RequestResult{Status: RequestResponseTimeout, Cause: ctx.Err()}
		}
		return RequestResult{Status: RequestFailure, Cause: ctx.Err()}
	}
}

func (c *connCore) safePost(msg any, wait bool) (ch <-chan RequestResult, cancel func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return c.impl.post(msg, wait)
}

// receive runs the handlers for one incoming request, waits for its deferrals and
// sends the empty response if nobody answered.
func (c *connCore) receive(msg any, reply func(any) error) {
	req := newRequest(c, msg, reply)
	d := req.Defer()
	c.requests.emit(c.log, req)
	d.Complete()

	req.deferrals.wait()
	if !req.HasResponded() {
		if res := req.SendResponse(nil); res.Status != ResponseSuccess && res.Status != ResponseDisconnected {
			c.log.Warn("failed to send empty response", zap.Stringer("status", res.Status), zap.Error(res.Cause))
		}
	}
}

func (c *connCore) respond(req *Request, msg any) (result ResponseResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return ResponseResult{Status: ResponseDisconnected}
	}

	defer func() {
		if r := recover(); r != nil {
			result = ResponseResult{Status: ResponseFailure, Cause: fmt.Errorf("send panicked: %v", r)}
		}
	}()
	if err := req.reply(msg); err != nil {
		return ResponseResult{Status: ResponseFailure, Cause: err}
	}
	return ResponseResult{Status: ResponseSuccess}
}

func (c *connCore) Close() error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return nil
	}
	err := c.impl.closeCore()
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.dispose(DisconnectLocalPeer, nil)
	return err
}

// dispose moves the connection to Disposed and fires the disconnect event once.
func (c *connCore) dispose(reason DisconnectReason, details any) {
	c.mu.Lock()
	if c.status == StatusDisposed {
		c.mu.Unlock()
		return
	}
	c.status = StatusDisposed
	ev := DisconnectEvent{Connection: c.self, Reason: reason, Details: details}
	c.final = &ev
	c.mu.Unlock()

	c.impl.disposeCore()
	c.log.Debug("connection disposed", zap.Stringer("reason", reason), zap.Any("details", details))

	c.disconnects.emit(c.log, ev)
	c.disconnects.clear()
	c.requests.clear()
}
