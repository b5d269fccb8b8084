package middleware

import (
	"context"
	"time"

	"peer-rpc/message"
)

// TimeOutMiddleware answers with a failure once timeout elapses. The wrapped handler
// keeps running; it observes the cancellation through ctx.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Return {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Return, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case ret := <-done:
				return ret
			case <-ctx.Done():
				return message.Faulted("request timed out")
			}
		}
	}
}
