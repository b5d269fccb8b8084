package rpc

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"peer-rpc/message"
	"peer-rpc/middleware"
	"peer-rpc/transport"
)

// Caller invokes remote methods by name.
type Caller interface {
	Call(ctx context.Context, method string, args ...any) (any, error)
}

// Proxy calls methods on the call target of the peer of one Connection.
type Proxy struct {
	conn    *Connection
	timeout time.Duration
	invoke  middleware.HandlerFunc
}

func newProxy(conn *Connection, timeout time.Duration, mws []middleware.Middleware) *Proxy {
	p := &Proxy{conn: conn, timeout: timeout}
	p.invoke = middleware.Chain(mws...)(p.send)
	return p
}

// Connection returns the connection the proxy calls through.
func (p *Proxy) Connection() *Connection {
	return p.conn
}

// attempt records the transport outcome of the last send of one call.
type attempt struct {
	result transport.RequestResult
}

type attemptKey struct{}

// Call invokes method on the peer and returns its result. A failed Return yields a
// *CallError, a call that never got a Return a *TransportError.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	a := &attempt{}
	ret := p.invoke(context.WithValue(ctx, attemptKey{}, a), &message.Call{Method: method, Args: args})

	switch {
	case ret == nil:
		return nil, &CallError{Method: method}
	case ret.Transport != "":
		return nil, &TransportError{Method: method, Status: a.result.Status, Cause: a.result.Cause}
	case !ret.IsSuccessful:
		return nil, &CallError{Method: method, Detail: ret.Error}
	}
	return ret.Value, nil
}

// send is the innermost outgoing handler.
func (p *Proxy) send(ctx context.Context, call *message.Call) *message.Return {
	res := p.conn.conn.SendMessage(ctx, call, &transport.RequestOptions{ResponseRequired: true, Timeout: p.timeout})
	if a, ok := ctx.Value(attemptKey{}).(*attempt); ok {
		a.result = res
	}

	if res.Status != transport.RequestSuccess {
		detail := res.Status.String()
		if res.Cause != nil {
			detail += ": " + res.Cause.Error()
		}
		return &message.Return{Error: detail, Transport: res.Status.String()}
	}

	ret, ok := res.Response.(*message.Return)
	if !ok {
		return message.Faulted(fmt.Sprintf("unexpected response of type %T", res.Response))
	}
	return ret
}

// Invoke calls method through c and converts the result to T. A nil result yields the
// zero T.
func Invoke[T any](ctx context.Context, c Caller, method string, args ...any) (T, error) {
	var zero T
	v, err := c.Call(ctx, method, args...)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("rpc: %s returned %T, want %s", method, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// MultiProxy calls the same method on several peers concurrently.
type MultiProxy struct {
	proxies []*Proxy
}

func NewMultiProxy(proxies ...*Proxy) *MultiProxy {
	return &MultiProxy{proxies: proxies}
}

func (m *MultiProxy) Len() int {
	return len(m.proxies)
}

func (m *MultiProxy) Proxies() []*Proxy {
	return append([]*Proxy(nil), m.proxies...)
}

// Call invokes method on every peer and waits for all of them. Results are in proxy
// order; the error combines the failures of individual peers, whose result slot is nil.
func (m *MultiProxy) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	results := make([]any, len(m.proxies))
	errs := make([]error, len(m.proxies))

	var g errgroup.Group
	for i, p := range m.proxies {
		g.Go(func() error {
			results[i], errs[i] = p.Call(ctx, method, args...)
			return nil
		})
	}
	g.Wait()
	return results, multierr.Combine(errs...)
}

// InvokeAll is the typed form of MultiProxy.Call.
func InvokeAll[T any](ctx context.Context, m *MultiProxy, method string, args ...any) ([]T, error) {
	raw, err := m.Call(ctx, method, args...)
	out := make([]T, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		t, ok := v.(T)
		if !ok {
			err = multierr.Append(err, fmt.Errorf("rpc: %s returned %T, want %s", method, v, reflect.TypeFor[T]()))
			continue
		}
		out[i] = t
	}
	return out, err
}
