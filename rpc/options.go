package rpc

import (
	"time"

	"go.uber.org/zap"

	"peer-rpc/middleware"
	"peer-rpc/transport"
)

type options struct {
	logger          *zap.Logger
	hooks           *Hooks
	middlewares     []middleware.Middleware
	callMiddlewares []middleware.Middleware
	callTimeout     time.Duration
}

type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:      zap.L(),
		callTimeout: transport.DefaultRequestTimeout,
	}
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

// WithHooks sets the lifecycle callbacks explicitly instead of deriving them from the
// call target.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = &h }
}

// WithMiddleware wraps the dispatch of incoming calls.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// WithCallMiddleware wraps outgoing calls made through the connection's proxy.
func WithCallMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.callMiddlewares = append(o.callMiddlewares, mw...) }
}

// WithCallTimeout bounds how long an outgoing call waits for its Return.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}
