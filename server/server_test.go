package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"peer-rpc/registry"
	"peer-rpc/rpc"
	"peer-rpc/transport"
)

type Strings struct{}

func (s *Strings) StringLength(v string) int {
	return len(v)
}

func (s *Strings) Upper(caller *rpc.Connection, v string) string {
	return caller.ID() + ":" + v
}

var nop = zap.NewNop()

func startDebugServer(t *testing.T, target any, opts ...Option) (*Server, *transport.DebugListener) {
	t.Helper()
	ln := transport.NewDebugListener(transport.WithLogger(nop))
	s := New(ln, target, append([]Option{WithLogger(nop)}, opts...)...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Dispose() })
	return s, ln
}

func connect(t *testing.T, ln *transport.DebugListener, target any) *rpc.Connection {
	t.Helper()
	conn, err := ln.Connect()
	if err != nil {
		t.Fatal(err)
	}
	c := rpc.NewConnection(conn, target, rpc.WithLogger(nop))
	t.Cleanup(func() { c.Dispose() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientToServer(t *testing.T) {
	_, ln := startDebugServer(t, &Strings{})
	c := connect(t, ln, nil)

	n, err := rpc.Invoke[int](context.Background(), c.Proxy(), "StringLength", "Test")
	if err != nil || n != 4 {
		t.Fatalf("StringLength: %d, %v", n, err)
	}
}

func TestServerToClient(t *testing.T) {
	s, ln := startDebugServer(t, nil)
	c := connect(t, ln, &Strings{})

	p, err := s.Client(c.ID())
	if err != nil {
		t.Fatal(err)
	}
	n, err := rpc.Invoke[int](context.Background(), p, "StringLength", "Test")
	if err != nil || n != 4 {
		t.Fatalf("StringLength: %d, %v", n, err)
	}

	got, err := rpc.Invoke[string](context.Background(), p, "Upper", nil, "x")
	if err != nil || got != c.ID()+":x" {
		t.Fatalf("Upper: %q, %v", got, err)
	}

	if _, err := s.Client("missing"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expect ErrUnknownConnection, got %v", err)
	}
}

// Counter counts the calls it receives.
type Counter struct {
	calls atomic.Int32
}

func (c *Counter) Hit() int {
	return int(c.calls.Add(1))
}

func TestAllClients(t *testing.T) {
	s, ln := startDebugServer(t, nil)
	connect(t, ln, &Strings{})
	connect(t, ln, &Strings{})

	lengths, err := rpc.InvokeAll[int](context.Background(), s.AllClients(), "StringLength", "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(lengths) != 2 || lengths[0] != 5 || lengths[1] != 5 {
		t.Fatalf("expect [5 5], got %v", lengths)
	}
}

func TestClientsExcept(t *testing.T) {
	s, ln := startDebugServer(t, nil)
	first, second := &Counter{}, &Counter{}
	c1 := connect(t, ln, first)
	connect(t, ln, second)

	hits, err := rpc.InvokeAll[int](context.Background(), s.ClientsExcept(c1.ID()), "Hit")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0] != 1 {
		t.Fatalf("expect one call answered with 1, got %v", hits)
	}
	if n := first.calls.Load(); n != 0 {
		t.Fatalf("excluded client called %d times", n)
	}
	if n := second.calls.Load(); n != 1 {
		t.Fatalf("expect the other client called once, got %d", n)
	}

	if s.ClientsExcept("missing").Len() != 2 {
		t.Fatal("unknown id excluded a client")
	}
}

func TestRegisteredBeforeOnConnected(t *testing.T) {
	var s *Server
	seen := make(chan error, 1)
	s, ln := startDebugServer(t, nil, WithHooks(rpc.Hooks{
		OnConnected: func(c *rpc.Connection) {
			_, err := s.Client(c.ID())
			seen <- err
		},
	}))
	connect(t, ln, nil)

	if err := <-seen; err != nil {
		t.Fatalf("connection not registered in OnConnected: %v", err)
	}
}

func TestRemovedOnDisconnect(t *testing.T) {
	var mu sync.Mutex
	var disconnected []string
	s, ln := startDebugServer(t, nil, WithHooks(rpc.Hooks{
		OnDisconnected: func(c *rpc.Connection, ev transport.DisconnectEvent) {
			mu.Lock()
			disconnected = append(disconnected, c.ID())
			mu.Unlock()
		},
	}))
	c1 := connect(t, ln, nil)
	c2 := connect(t, ln, nil)
	if n := len(s.Connections()); n != 2 {
		t.Fatalf("expect 2 connections, got %d", n)
	}

	c1.Dispose()
	waitFor(t, "removal", func() bool { return len(s.Connections()) == 1 })
	if s.Connections()[0].ID() != c2.ID() {
		t.Fatal("wrong connection removed")
	}
	if _, err := s.Client(c1.ID()); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("disposed client still reachable: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(disconnected) != 1 || disconnected[0] != c1.ID() {
		t.Fatalf("unexpected disconnect hooks %v", disconnected)
	}
}

func TestDispose(t *testing.T) {
	gone := make(chan transport.DisconnectReason, 2)
	s, ln := startDebugServer(t, nil)
	for i := 0; i < 2; i++ {
		connect(t, ln, nil).Transport().OnDisconnect(func(ev transport.DisconnectEvent) {
			gone <- ev.Reason
		})
	}

	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := s.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case reason := <-gone:
			if reason != transport.DisconnectRemotePeer {
				t.Fatalf("expect RemotePeerDisconnected, got %s", reason)
			}
		case <-time.After(time.Second):
			t.Fatal("client not disconnected by Dispose")
		}
	}

	if len(s.Connections()) != 0 {
		t.Fatal("registry not cleared")
	}
	if _, err := s.Client("any"); !errors.Is(err, rpc.ErrDisposed) {
		t.Fatalf("expect ErrDisposed, got %v", err)
	}
	if ln.Status() != transport.ListenerDisposed {
		t.Fatalf("listener %s after Dispose", ln.Status())
	}
	if _, err := ln.Connect(); err == nil {
		t.Fatal("connect succeeded after Dispose")
	}
	if err := s.Start(context.Background()); !errors.Is(err, rpc.ErrDisposed) {
		t.Fatalf("expect ErrDisposed on restart, got %v", err)
	}
}

func TestConcurrentConnectAndDispose(t *testing.T) {
	s, ln := startDebugServer(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if conn, err := ln.Connect(); err == nil {
				rpc.NewConnection(conn, nil, rpc.WithLogger(nop))
			}
		}()
	}
	time.Sleep(time.Millisecond)
	s.Dispose()
	wg.Wait()

	if len(s.Connections()) != 0 {
		t.Fatal("connections registered after Dispose")
	}
}

func TestConnectionAttemptFailed(t *testing.T) {
	failures := make(chan *rpc.ConnectionAttemptFailedError, 1)
	ln := transport.NewStreamListener("127.0.0.1:0",
		transport.WithLogger(nop),
		transport.WithHandshakeTimeout(time.Second))
	s := New(ln, nil, WithLogger(nop), WithHooks(rpc.Hooks{
		OnConnectionAttemptFailed: func(err *rpc.ConnectionAttemptFailedError) { failures <- err },
	}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Dispose()

	raw, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	raw.Write([]byte("GET / HTTP/1.1\r\n\r\n"))

	select {
	case fe := <-failures:
		if fe.Host != "127.0.0.1" || fe.Port == "" || fe.Err == nil {
			t.Fatalf("unexpected attempt failure %+v", fe)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("attempt failure not reported")
	}
	if len(s.Connections()) != 0 {
		t.Fatal("failed attempt registered")
	}
}

func TestEndpointRegistration(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ep := registry.Endpoint{Addr: "127.0.0.1:7000", Weight: 3}
	s, _ := startDebugServer(t, nil, WithRegistry(reg, "Strings", ep))

	endpoints, _ := reg.Discover(context.Background(), "Strings")
	if len(endpoints) != 1 || endpoints[0] != ep {
		t.Fatalf("endpoint not registered: %v", endpoints)
	}

	s.Dispose()
	endpoints, _ = reg.Discover(context.Background(), "Strings")
	if len(endpoints) != 0 {
		t.Fatalf("endpoint not withdrawn: %v", endpoints)
	}
}
