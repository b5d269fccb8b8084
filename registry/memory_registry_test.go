package registry

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "Calculator", Endpoint{Addr: "b:2", Weight: 1}, DefaultTTL)
	reg.Register(ctx, "Calculator", Endpoint{Addr: "a:1", Weight: 1}, DefaultTTL)
	reg.Register(ctx, "Calculator", Endpoint{Addr: "a:1", Weight: 7}, DefaultTTL)

	endpoints, _ := reg.Discover(ctx, "Calculator")
	if len(endpoints) != 2 {
		t.Fatalf("expect 2 endpoints, got %v", endpoints)
	}
	if endpoints[0].Addr != "a:1" || endpoints[0].Weight != 7 {
		t.Fatalf("re-registration not applied: %v", endpoints[0])
	}

	reg.Deregister(ctx, "Calculator", "a:1")
	reg.Deregister(ctx, "Calculator", "missing:0")
	endpoints, _ = reg.Discover(ctx, "Calculator")
	if len(endpoints) != 1 || endpoints[0].Addr != "b:2" {
		t.Fatalf("unexpected endpoints %v", endpoints)
	}

	if endpoints, _ := reg.Discover(ctx, "Unknown"); len(endpoints) != 0 {
		t.Fatalf("unknown service has endpoints %v", endpoints)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "Calculator")

	reg.Register(ctx, "Calculator", Endpoint{Addr: "a:1"}, DefaultTTL)
	reg.Register(ctx, "Calculator", Endpoint{Addr: "b:2"}, DefaultTTL)

	// unread updates collapse into the latest list
	select {
	case endpoints := <-updates:
		if len(endpoints) != 2 {
			t.Fatalf("expect latest list of 2, got %v", endpoints)
		}
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("unexpected update after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
