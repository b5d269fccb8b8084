// Package server accepts connections from a transport.Listener, binds each of them to
// a call target and keeps a registry of the live ones.
//
//	listener ──Connection──► rpc.NewConnection(conn, target)
//	                            ├─ registered under conn.ID() before OnConnected
//	                            └─ removed once on disconnect
//
// Every registered peer can be called back through Client, ClientsExcept and
// AllClients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"peer-rpc/registry"
	"peer-rpc/rpc"
	"peer-rpc/transport"
)

// ErrUnknownConnection is returned by Client for an id that is not registered.
var ErrUnknownConnection = errors.New("server: unknown connection")

// Server is an RPC server over one listener. Every accepted connection shares target.
type Server struct {
	listener transport.Listener
	target   any
	hooks    rpc.Hooks
	opts     options
	log      *zap.Logger

	mu          sync.Mutex
	connections map[string]*rpc.Connection
	registered  bool
	disposed    bool

	subs []transport.Subscription
}

// New creates a server accepting from listener. The listener is owned by the server
// from now on and is closed by Dispose.
func New(listener transport.Listener, target any, opts ...Option) *Server {
	o := options{
		logger: zap.L(),
		ttl:    registry.DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		listener:    listener,
		target:      target,
		opts:        o,
		log:         o.logger.Named("server"),
		connections: make(map[string]*rpc.Connection),
	}
	if o.hooks != nil {
		s.hooks = *o.hooks
	} else {
		s.hooks = rpc.HooksFor(target)
	}

	s.subs = append(s.subs,
		listener.OnConnection(s.accept),
		listener.OnAttemptFailed(s.attemptFailed),
	)
	return s
}

// Start starts the listener and, if configured, advertises the server in the endpoint
// registry.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return rpc.ErrDisposed
	}
	s.mu.Unlock()

	if err := s.listener.Start(ctx); err != nil {
		return fmt.Errorf("server: start listener: %w", err)
	}

	if s.opts.registry == nil {
		return nil
	}
	if err := s.opts.registry.Register(ctx, s.opts.service, s.opts.endpoint, s.opts.ttl); err != nil {
		return fmt.Errorf("server: register endpoint: %w", err)
	}
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()
	return nil
}

func (s *Server) accept(conn transport.Connection) {
	var rejected bool

	hooks := rpc.Hooks{
		OnConnected: func(c *rpc.Connection) {
			// Dispose sets the disposed flag under s.mu before it releases the lock to
			// dispose connections, so a late accept is rejected here instead of registered.
			if !s.register(c) {
				rejected = true
				return
			}
			if s.hooks.OnConnected != nil {
				s.hooks.OnConnected(c)
			}
		},
		OnDisconnected: func(c *rpc.Connection, ev transport.DisconnectEvent) {
			if !s.remove(c) {
				return
			}
			if s.hooks.OnDisconnected != nil {
				s.hooks.OnDisconnected(c, ev)
			}
		},
	}

	opts := append([]rpc.Option{rpc.WithLogger(s.opts.logger)}, s.opts.connOpts...)
	opts = append(opts, rpc.WithHooks(hooks))
	c := rpc.NewConnection(conn, s.target, opts...)

	if rejected {
		s.log.Debug("connection accepted after dispose", zap.String("conn", c.ID()))
		c.Dispose()
	}
}

// register adds c to the registry unless the server is disposed.
func (s *Server) register(c *rpc.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	s.connections[c.ID()] = c
	s.log.Debug("connection registered", zap.String("conn", c.ID()), zap.Int("connections", len(s.connections)))
	return true
}

// remove drops c from the registry and reports whether it was there.
func (s *Server) remove(c *rpc.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connections[c.ID()] != c {
		return false
	}
	delete(s.connections, c.ID())
	s.log.Debug("connection removed", zap.String("conn", c.ID()), zap.Int("connections", len(s.connections)))
	return true
}

func (s *Server) attemptFailed(err *transport.AttemptError) {
	if s.hooks.OnConnectionAttemptFailed == nil {
		return
	}
	s.hooks.OnConnectionAttemptFailed(&rpc.ConnectionAttemptFailedError{
		Host: err.Host,
		Port: err.Port,
		Err:  err.Err,
	})
}

// Client returns a proxy to the peer of the connection with the given id.
func (s *Server) Client(id string) (*rpc.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, rpc.ErrDisposed
	}
	c, ok := s.connections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return c.Proxy(), nil
}

// ClientsExcept returns a multi proxy to every registered peer but the one with the
// given id. An unknown id excludes nothing.
func (s *Server) ClientsExcept(id string) *rpc.MultiProxy {
	return rpc.NewMultiProxy(s.proxies(id)...)
}

// AllClients returns a multi proxy to every registered peer.
func (s *Server) AllClients() *rpc.MultiProxy {
	return rpc.NewMultiProxy(s.proxies("")...)
}

func (s *Server) proxies(except string) []*rpc.Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	proxies := make([]*rpc.Proxy, 0, len(s.connections))
	for id, c := range s.connections {
		if id != except {
			proxies = append(proxies, c.Proxy())
		}
	}
	return proxies
}

// Connections returns a snapshot of the registered connections.
func (s *Server) Connections() []*rpc.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*rpc.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	return conns
}

// Addr returns the listen address for stream listeners and nil otherwise.
func (s *Server) Addr() net.Addr {
	if l, ok := s.listener.(interface{ Addr() net.Addr }); ok {
		return l.Addr()
	}
	return nil
}

// Dispose withdraws the endpoint registration, closes the listener, disposes every
// registered connection concurrently and clears the registry. Calls after the first do
// nothing.
//
// The server lock is released while connections are disposed: their disconnect hooks
// remove them from the registry under the same lock.
func (s *Server) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	registered := s.registered
	conns := make([]*rpc.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var err error
	// Deregister first so discovering clients stop dialing this server.
	if registered {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = multierr.Append(err, s.opts.registry.Deregister(ctx, s.opts.service, s.opts.endpoint.Addr))
		cancel()
	}

	err = multierr.Append(err, s.listener.Close())
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			if err := c.Dispose(); err != nil {
				s.log.Debug("dispose connection", zap.String("conn", c.ID()), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	s.mu.Lock()
	clear(s.connections)
	s.mu.Unlock()

	s.log.Info("server disposed", zap.Int("connections", len(conns)))
	return err
}
