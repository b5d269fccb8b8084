package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestListenerStateMachine(t *testing.T) {
	l := NewDebugListener(WithLogger(testLogger()))
	if l.Status() != ListenerInactive {
		t.Fatalf("expect Inactive, got %s", l.Status())
	}
	if _, err := l.Connect(); !errors.Is(err, ErrListenerInactive) {
		t.Fatalf("expect ErrListenerInactive, got %v", err)
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	if l.Status() != ListenerActive {
		t.Fatalf("expect Active, got %s", l.Status())
	}

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if l.Status() != ListenerDisposed {
		t.Fatalf("expect Disposed, got %s", l.Status())
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrListenerDisposed) {
		t.Fatalf("expect ErrListenerDisposed, got %v", err)
	}
}

func TestDebugListenerConnect(t *testing.T) {
	l := NewDebugListener(WithLogger(testLogger()))
	var server Connection
	l.OnConnection(func(c Connection) {
		server = c
		c.OnRequest(func(req *Request) { req.SendResponse("welcome") })
	})
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	client, err := l.Connect()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if server == nil || server.ID() != client.ID() {
		t.Fatalf("server end not delivered before Connect returned")
	}
	res := client.SendMessage(context.Background(), "hello", nil)
	if res.Response != "welcome" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestMultiListener(t *testing.T) {
	first := NewDebugListener(WithLogger(testLogger()))
	second := NewDebugListener(WithLogger(testLogger()))
	multi := NewMultiListener(testLogger(), first, second)

	accepted := make(chan Connection, 2)
	multi.OnConnection(func(c Connection) { accepted <- c })

	if err := multi.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if first.Status() != ListenerActive || second.Status() != ListenerActive {
		t.Fatal("children not started")
	}

	for _, child := range []*DebugListener{first, second} {
		client, err := child.Connect()
		if err != nil {
			t.Fatal(err)
		}
		defer client.Close()
		select {
		case c := <-accepted:
			if c.ID() != client.ID() {
				t.Fatalf("unexpected connection %s", c.ID())
			}
		case <-time.After(time.Second):
			t.Fatal("connection not forwarded")
		}
	}

	if err := multi.Close(); err != nil {
		t.Fatal(err)
	}
	if first.Status() != ListenerDisposed || second.Status() != ListenerDisposed {
		t.Fatal("children not closed")
	}
}

func TestMultiListenerStartFailure(t *testing.T) {
	ok := NewDebugListener(WithLogger(testLogger()))
	broken := NewDebugListener(WithLogger(testLogger()))
	broken.Close()

	multi := NewMultiListener(testLogger(), ok, broken)
	if err := multi.Start(context.Background()); !errors.Is(err, ErrListenerDisposed) {
		t.Fatalf("expect ErrListenerDisposed, got %v", err)
	}
	if ok.Status() != ListenerDisposed {
		t.Fatalf("started child should be closed again, got %s", ok.Status())
	}
	if multi.Status() != ListenerInactive {
		t.Fatalf("expect Inactive, got %s", multi.Status())
	}
}

func TestStreamListenerRestartAfterClose(t *testing.T) {
	l := NewStreamListener("127.0.0.1:0", WithLogger(testLogger()))
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.Addr() == nil {
		t.Fatal("expect bound address")
	}
	l.Close()
	if l.Addr() != nil {
		t.Fatal("expect no address after close")
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrListenerDisposed) {
		t.Fatalf("expect ErrListenerDisposed, got %v", err)
	}
}
