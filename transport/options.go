package transport

import (
	"time"

	"go.uber.org/zap"

	"peer-rpc/codec"
)

// Defaults for stream connections.
const (
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCloseGrace        = 200 * time.Millisecond
)

type options struct {
	logger            *zap.Logger
	codecType         codec.CodecType
	types             *codec.TypeRegistry
	handshakeTimeout  time.Duration
	heartbeatInterval time.Duration
	closeGrace        time.Duration
}

// Option configures connections and listeners.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:            zap.L(),
		codecType:         codec.CodecTypeJSON,
		types:             codec.DefaultTypes,
		handshakeTimeout:  DefaultHandshakeTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		closeGrace:        DefaultCloseGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) codec() codec.Codec {
	return codec.GetCodec(o.codecType, o.types)
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCodec selects the serialization format of outgoing frames. Incoming frames are
// decoded with whatever codec their header names.
func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codecType = t }
}

// WithTypes sets the registry used to resolve type names of incoming messages.
func WithTypes(types *codec.TypeRegistry) Option {
	return func(o *options) {
		if types != nil {
			o.types = types
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithCloseGrace sets how long Close waits after announcing the close to the peer.
func WithCloseGrace(d time.Duration) Option {
	return func(o *options) { o.closeGrace = d }
}
