package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrListenerDisposed is returned by Start after Close.
	ErrListenerDisposed = errors.New("transport: listener disposed")
	// ErrListenerInactive is returned when connecting to a listener that is not started.
	ErrListenerInactive = errors.New("transport: listener not active")
)

// Listener produces connections initiated by remote peers.
type Listener interface {
	// Start begins accepting. Starting an active listener is a no-op.
	Start(ctx context.Context) error
	// Close stops accepting and disposes the listener. Calling it again is a no-op.
	Close() error
	Status() ListenerStatus
	OnConnection(func(Connection)) Subscription
	OnAttemptFailed(func(*AttemptError)) Subscription
}

type ListenerStatus int

const (
	ListenerInactive ListenerStatus = iota
	ListenerActive
	ListenerDisposed
)

func (s ListenerStatus) String() string {
	switch s {
	case ListenerInactive:
		return "Inactive"
	case ListenerActive:
		return "Active"
	case ListenerDisposed:
		return "Disposed"
	}
	return fmt.Sprintf("ListenerStatus(%d)", int(s))
}

// AttemptError reports an incoming connection that failed before it was established.
type AttemptError struct {
	Host string
	Port string
	Err  error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("connection attempt from %s failed: %v", net.JoinHostPort(e.Host, e.Port), e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

func newAttemptError(addr net.Addr, err error) *AttemptError {
	host, port := "", ""
	if addr != nil {
		var splitErr error
		host, port, splitErr = net.SplitHostPort(addr.String())
		if splitErr != nil {
			host = addr.String()
		}
	}
	return &AttemptError{Host: host, Port: port, Err: err}
}

type listenerImpl interface {
	startCore(ctx context.Context) error
	stopCore() error
}

// listenerCore carries the Inactive → Active → Disposed state machine.
type listenerCore struct {
	log  *zap.Logger
	impl listenerImpl

	mu     sync.Mutex
	status ListenerStatus

	connections handlers[Connection]
	failures    handlers[*AttemptError]
}

func (l *listenerCore) init(log *zap.Logger, impl listenerImpl) {
	l.log = log
	l.impl = impl
}

func (l *listenerCore) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.status {
	case ListenerDisposed:
		return ErrListenerDisposed
	case ListenerActive:
		return nil
	}
	if err := l.impl.startCore(ctx); err != nil {
		return err
	}
	l.status = ListenerActive
	return nil
}

func (l *listenerCore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == ListenerDisposed {
		return nil
	}
	var err error
	if l.status == ListenerActive {
		err = l.impl.stopCore()
	}
	l.status = ListenerDisposed
	l.connections.clear()
	l.failures.clear()
	return err
}

func (l *listenerCore) Status() ListenerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *listenerCore) OnConnection(fn func(Connection)) Subscription {
	return l.connections.add(fn)
}

func (l *listenerCore) OnAttemptFailed(fn func(*AttemptError)) Subscription {
	return l.failures.add(fn)
}

// deliver emits conn if the listener is still active and closes it otherwise.
func (l *listenerCore) deliver(conn Connection) {
	if l.Status() != ListenerActive {
		conn.Close()
		return
	}
	l.connections.emit(l.log, conn)
}

func (l *listenerCore) fail(err *AttemptError) {
	l.log.Warn("connection attempt failed", zap.Error(err))
	l.failures.emit(l.log, err)
}
