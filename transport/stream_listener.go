package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StreamListener accepts TCP connections and runs the handshake for each of them.
type StreamListener struct {
	listenerCore

	addr string
	opts options
	ln   net.Listener
	wg   sync.WaitGroup
}

func NewStreamListener(addr string, opts ...Option) *StreamListener {
	l := &StreamListener{addr: addr, opts: newOptions(opts)}
	l.init(l.opts.logger.With(zap.String("listener", addr)), l)
	return l
}

// Addr returns the bound address of an active listener, nil otherwise.
func (l *StreamListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *StreamListener) startCore(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

func (l *StreamListener) stopCore() error {
	err := l.ln.Close()
	l.wg.Wait()
	l.ln = nil
	return err
}

// acceptLoop hands every accepted socket to its own handshake goroutine so a slow
// or silent peer cannot stall the listener.
func (l *StreamListener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			l.log.Error("accept failed", zap.Error(err))
			return
		}
		go l.handshake(conn)
	}
}

func (l *StreamListener) handshake(conn net.Conn) {
	id, err := serverHandshake(conn, &l.opts)
	if err != nil {
		conn.Close()
		l.fail(newAttemptError(conn.RemoteAddr(), err))
		return
	}
	l.log.Debug("connection established", zap.String("conn", id), zap.Stringer("remote", conn.RemoteAddr()))
	l.deliver(newStreamConnection(conn, id, l.opts))
}
