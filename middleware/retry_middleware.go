package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"peer-rpc/message"
)

// RetryMiddleware resends outgoing calls that never reached a remote Return because
// of a timeout or send failure, with exponential backoff. Faulted Returns from the
// peer and disconnects are final. Only install it for idempotent calls.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Return {
			ret := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if !retryable(ret) {
					return ret
				}
				log.Info("retrying call",
					zap.Int("attempt", i+1),
					zap.String("method", call.Method),
					zap.String("transport", ret.Transport))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return ret
				}
				ret = next(ctx, call)
			}
			return ret
		}
	}
}

func retryable(ret *message.Return) bool {
	return ret != nil && (ret.Transport == "ResponseTimeout" || ret.Transport == "Failure")
}
