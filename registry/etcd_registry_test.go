package registry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newEtcd connects to a local etcd and skips the test when none is reachable.
func newEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"},
		WithLogger(zap.NewNop()),
		WithPrefix("/peer-rpc-test/"),
		WithDialTimeout(time.Second))
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.Discover(ctx, "probe"); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newEtcd(t)
	ctx := context.Background()

	ep1 := Endpoint{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	ep2 := Endpoint{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "Calculator", ep1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "Calculator", ep2, 10); err != nil {
		t.Fatal(err)
	}

	endpoints, err := reg.Discover(ctx, "Calculator")
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expect 2 endpoints, got %d", len(endpoints))
	}

	if err := reg.Deregister(ctx, "Calculator", ep1.Addr); err != nil {
		t.Fatal(err)
	}

	endpoints, err = reg.Discover(ctx, "Calculator")
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 1 || endpoints[0] != ep2 {
		t.Fatalf("expect only %v after deregister, got %v", ep2, endpoints)
	}

	reg.Deregister(ctx, "Calculator", ep2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx, "Watched")
	// give the watch time to be established
	time.Sleep(100 * time.Millisecond)

	ep := Endpoint{Addr: "127.0.0.1:8003", Weight: 1}
	if err := reg.Register(ctx, "Watched", ep, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "Watched", ep.Addr)

	select {
	case endpoints := <-updates:
		if len(endpoints) != 1 || endpoints[0].Addr != ep.Addr {
			t.Fatalf("unexpected update %v", endpoints)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}
