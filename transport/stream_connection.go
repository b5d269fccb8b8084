package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peer-rpc/codec"
	"peer-rpc/message"
	"peer-rpc/protocol"
)

// ErrHandshake is wrapped by every handshake failure.
var ErrHandshake = errors.New("transport: handshake failed")

// StreamConnection is a Connection over a TCP socket.
//
// Both peers multiplex over the one socket. Each outgoing request gets a unique id and
// waits on its own pending channel; a single goroutine (recvLoop) reads frames, routes
// responses to the waiting caller and dispatches every request from the peer on its own
// goroutine, so a slow handler never blocks the socket.
//
//	goroutine-1 ──SendMessage(id=1)──┐
//	goroutine-2 ──SendMessage(id=2)──┼──→ socket ──→ peer
//	recvLoop:  ←── response(id=2) → pending[2] → goroutine-2 wakes up
//	           ←── request(id=7)  → go receive → handlers → response(id=7)
type StreamConnection struct {
	connCore

	conn     net.Conn
	opts     options
	codec    codec.Codec
	nextID   atomic.Uint32
	pending  sync.Map // map[uint32]chan RequestResult
	closing  atomic.Bool
	stop     chan struct{}
	recvDone chan struct{}
}

func newStreamConnection(conn net.Conn, id string, opts options) *StreamConnection {
	c := &StreamConnection{
		conn:     conn,
		opts:     opts,
		codec:    opts.codec(),
		stop:     make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	c.init(id, opts.logger.With(zap.Stringer("remote", conn.RemoteAddr())), c, c)
	go c.recvLoop()
	if opts.heartbeatInterval > 0 {
		go c.heartbeatLoop(opts.heartbeatInterval)
	}
	return c
}

// DialStream connects to a StreamListener at addr and performs the handshake.
func DialStream(ctx context.Context, addr string, opts ...Option) (*StreamConnection, error) {
	o := newOptions(opts)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	id, err := clientHandshake(ctx, conn, &o)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w with %s: %v", ErrHandshake, addr, err)
	}
	return newStreamConnection(conn, id, o), nil
}

func (c *StreamConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *StreamConnection) newID() uint32 {
	id := c.nextID.Add(1)
	if id == 0 {
		// 0 marks requests without response
		id = c.nextID.Add(1)
	}
	return id
}

func (c *StreamConnection) writeFrame(ct codec.CodecType, mt protocol.MsgType, id uint32, body []byte) error {
	return protocol.Encode(c.conn, &protocol.Header{CodecType: byte(ct), MsgType: mt, ID: id}, body)
}

func (c *StreamConnection) post(msg any, wait bool) (<-chan RequestResult, func(), error) {
	body, err := c.codec.Encode(msg)
	if err != nil {
		return nil, nil, err
	}

	var (
		id uint32
		ch chan RequestResult
	)
	if wait {
		// Register the pending channel BEFORE writing, the response may beat us back.
		id = c.newID()
		ch = make(chan RequestResult, 1)
		c.pending.Store(id, ch)
	}

	if err := c.writeFrame(c.codec.Type(), protocol.MsgTypeRequest, id, body); err != nil {
		if wait {
			c.pending.Delete(id)
		}
		return nil, nil, err
	}
	return ch, func() { c.pending.Delete(id) }, nil
}

func (c *StreamConnection) replyTo(id uint32, cdc codec.Codec) func(any) error {
	if id == 0 {
		return func(any) error { return nil }
	}
	return func(msg any) error {
		body, err := cdc.Encode(msg)
		if err != nil {
			return err
		}
		return c.writeFrame(cdc.Type(), protocol.MsgTypeResponse, id, body)
	}
}

// recvLoop is the only reader of the socket. It exits on the first read error or
// close frame; unless the connection is already closing locally it then disposes the
// connection from another goroutine, since Close waits for this loop to return.
func (c *StreamConnection) recvLoop() {
	defer close(c.recvDone)
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			if !c.closing.Load() {
				go c.dispose(DisconnectUnexpected, err)
			}
			return
		}

		cdc := codec.GetCodec(codec.CodecType(header.CodecType), c.opts.types)
		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue

		case protocol.MsgTypeClose:
			c.log.Debug("peer closed the connection")
			c.closing.Store(true)
			go c.dispose(DisconnectRemotePeer, nil)
			return

		case protocol.MsgTypeRequest:
			reply := c.replyTo(header.ID, cdc)
			msg, err := cdc.Decode(body)
			if err != nil {
				c.log.Warn("dropping malformed request", zap.Uint32("id", header.ID), zap.Error(err))
				go c.rejectMalformed(reply, err)
				continue
			}
			go c.receive(msg, reply)

		case protocol.MsgTypeResponse:
			ch, ok := c.pending.LoadAndDelete(header.ID)
			if !ok {
				continue // timed out or abandoned
			}
			msg, err := cdc.Decode(body)
			if err != nil {
				ch.(chan RequestResult) <- RequestResult{Status: RequestFailure, Cause: err}
				continue
			}
			ch.(chan RequestResult) <- RequestResult{Status: RequestSuccess, Response: msg}

		default:
			c.log.Debug("ignoring frame", zap.Stringer("type", header.MsgType))
		}
	}
}

// rejectMalformed answers a request that could not be decoded so the sender does not
// wait for its timeout.
func (c *StreamConnection) rejectMalformed(reply func(any) error, cause error) {
	req := newRequest(&c.connCore, nil, reply)
	req.SendResponse(message.Faulted(fmt.Sprintf("Malformed request: %v", cause)))
}

// heartbeatLoop keeps idle connections alive.
func (c *StreamConnection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		var err error
		if c.status == StatusConnected {
			err = c.writeFrame(c.codec.Type(), protocol.MsgTypeHeartbeat, 0, nil)
		}
		c.mu.Unlock()
		if err != nil {
			return // recvLoop notices the broken socket
		}
	}
}

func (c *StreamConnection) closeCore() error {
	c.closing.Store(true)
	err := c.writeFrame(c.codec.Type(), protocol.MsgTypeClose, 0, nil)
	if err == nil && c.opts.closeGrace > 0 {
		time.Sleep(c.opts.closeGrace)
	}
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	<-c.recvDone
	return err
}

func (c *StreamConnection) disposeCore() {
	c.closing.Store(true)
	close(c.stop)
	c.conn.Close()

	c.pending.Range(func(key, _ any) bool {
		if ch, ok := c.pending.LoadAndDelete(key); ok {
			ch.(chan RequestResult) <- RequestResult{Status: RequestDisconnected}
		}
		return true
	})
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func clientHandshake(ctx context.Context, conn net.Conn, o *options) (string, error) {
	conn.SetDeadline(handshakeDeadline(ctx, o.handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	cdc := o.codec()
	body, err := cdc.Encode(&message.ConnectRequest{})
	if err != nil {
		return "", err
	}
	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(cdc.Type()), MsgType: protocol.MsgTypeHandshake}, body); err != nil {
		return "", err
	}

	header, body, err := protocol.Decode(conn)
	if err != nil {
		return "", err
	}
	if header.MsgType != protocol.MsgTypeHandshakeAck {
		return "", fmt.Errorf("unexpected %s frame", header.MsgType)
	}
	msg, err := codec.GetCodec(codec.CodecType(header.CodecType), o.types).Decode(body)
	if err != nil {
		return "", err
	}
	resp, ok := msg.(*message.ConnectResponse)
	if !ok || resp.ConnectionID == "" {
		return "", errors.New("connection rejected by peer")
	}
	return resp.ConnectionID, nil
}

func serverHandshake(conn net.Conn, o *options) (string, error) {
	conn.SetDeadline(time.Now().Add(o.handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	header, body, err := protocol.Decode(conn)
	if err != nil {
		return "", err
	}
	if header.MsgType != protocol.MsgTypeHandshake {
		return "", fmt.Errorf("unexpected %s frame", header.MsgType)
	}
	cdc := codec.GetCodec(codec.CodecType(header.CodecType), o.types)
	msg, err := cdc.Decode(body)
	if err != nil {
		return "", err
	}
	if _, ok := msg.(*message.ConnectRequest); !ok {
		return "", fmt.Errorf("unexpected handshake message %T", msg)
	}

	id := "SSC_" + uuid.NewString()
	body, err = cdc.Encode(&message.ConnectResponse{ConnectionID: id})
	if err != nil {
		return "", err
	}
	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(cdc.Type()), MsgType: protocol.MsgTypeHandshakeAck}, body); err != nil {
		return "", err
	}
	return id, nil
}
