// Package client establishes outgoing RPC connections, either to a known address or
// to an endpoint discovered through a registry.
package client

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"peer-rpc/loadbalance"
	"peer-rpc/registry"
	"peer-rpc/rpc"
	"peer-rpc/transport"
)

type options struct {
	logger    *zap.Logger
	hooks     *rpc.Hooks
	transport []transport.Option
	connOpts  []rpc.Option
}

type Option func(*options)

func newOptions(opts []Option) options {
	o := options{logger: zap.L()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHooks replaces the hooks otherwise derived from the call target.
func WithHooks(h rpc.Hooks) Option {
	return func(o *options) { o.hooks = &h }
}

// WithTransportOptions configures the dialed stream connection.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
}

// WithConnectionOptions configures the resulting rpc.Connection.
func WithConnectionOptions(opts ...rpc.Option) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

// Dial connects to addr and binds the connection to target. A failed attempt is
// returned as *rpc.ConnectionAttemptFailedError and reported to the target's
// OnConnectionAttemptFailed hook.
func Dial(ctx context.Context, addr string, target any, opts ...Option) (*rpc.Connection, error) {
	return dial(ctx, addr, target, newOptions(opts))
}

func dial(ctx context.Context, addr string, target any, o options) (*rpc.Connection, error) {
	hooks := rpc.HooksFor(target)
	if o.hooks != nil {
		hooks = *o.hooks
	}

	tOpts := append([]transport.Option{transport.WithLogger(o.logger)}, o.transport...)
	conn, err := transport.DialStream(ctx, addr, tOpts...)
	if err != nil {
		host, port, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		failure := &rpc.ConnectionAttemptFailedError{Host: host, Port: port, Err: err}
		o.logger.Warn("connection attempt failed", zap.String("addr", addr), zap.Error(err))
		if hooks.OnConnectionAttemptFailed != nil {
			hooks.OnConnectionAttemptFailed(failure)
		}
		return nil, failure
	}

	cOpts := append([]rpc.Option{rpc.WithLogger(o.logger)}, o.connOpts...)
	cOpts = append(cOpts, rpc.WithHooks(hooks))
	return rpc.NewConnection(conn, target, cOpts...), nil
}

// Client dials services by name: endpoints come from a registry and a balancer picks
// the one to dial.
type Client struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	opts     options
}

func New(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	return &Client{
		registry: reg,
		balancer: bal,
		opts:     newOptions(opts),
	}
}

// Connect discovers the endpoints of service, picks one and dials it.
func (c *Client) Connect(ctx context.Context, service string, target any) (*rpc.Connection, error) {
	endpoints, err := c.registry.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", service, err)
	}

	ep, err := c.balancer.Pick(endpoints)
	if err != nil {
		return nil, fmt.Errorf("client: pick endpoint of %s: %w", service, err)
	}

	c.opts.logger.Debug("dialing endpoint",
		zap.String("service", service),
		zap.String("addr", ep.Addr),
		zap.String("balancer", c.balancer.Name()))
	return dial(ctx, ep.Addr, target, c.opts)
}
