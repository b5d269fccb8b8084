package server

import (
	"go.uber.org/zap"

	"peer-rpc/registry"
	"peer-rpc/rpc"
)

type options struct {
	logger   *zap.Logger
	hooks    *rpc.Hooks
	connOpts []rpc.Option

	registry registry.Registry
	service  string
	endpoint registry.Endpoint
	ttl      int64
}

type Option func(*options)

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

// WithConnectionOptions applies opts to every accepted rpc.Connection.
func WithConnectionOptions(opts ...rpc.Option) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

// WithRegistry advertises ep under service while the server is started.
// ep.Addr must be routable by clients, which a wildcard listen address is not.
func WithRegistry(reg registry.Registry, service string, ep registry.Endpoint) Option {
	return func(o *options) {
		o.registry = reg
		o.service = service
		o.endpoint = ep
	}
}

// WithTTL sets the registry lease lifetime in seconds.
func WithTTL(ttl int64) Option {
	return func(o *options) { o.ttl = ttl }
}
