package rpc

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"peer-rpc/codec"
	"peer-rpc/transport"
)

func streamPair(b *testing.B, ct codec.CodecType) *Connection {
	b.Helper()
	topts := []transport.Option{
		transport.WithLogger(zap.NewNop()),
		transport.WithCodec(ct),
		transport.WithCloseGrace(time.Millisecond),
	}
	ln := transport.NewStreamListener("127.0.0.1:0", topts...)
	ln.OnConnection(func(c transport.Connection) {
		NewConnection(c, &Calculator{}, WithLogger(zap.NewNop()))
	})
	if err := ln.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { ln.Close() })

	conn, err := transport.DialStream(context.Background(), ln.Addr().String(), topts...)
	if err != nil {
		b.Fatal(err)
	}
	c := NewConnection(conn, nil, WithLogger(zap.NewNop()))
	b.Cleanup(func() { c.Dispose() })
	return c
}

// one goroutine, one call in flight
func BenchmarkSerialCall(b *testing.B) {
	c := streamPair(b, codec.CodecTypeJSON)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.Proxy().Call(ctx, "Add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// many goroutines multiplexed over one connection
func BenchmarkConcurrentCall(b *testing.B) {
	c := streamPair(b, codec.CodecTypeBinary)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.Proxy().Call(ctx, "Add", 1, 2); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// dispatch only, no transport
func BenchmarkDispatch(b *testing.B) {
	target := &Calculator{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dispatch(target, "Add", 1, 2)
	}
}
