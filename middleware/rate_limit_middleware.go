package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"peer-rpc/message"
)

// RateLimitMiddleware rejects calls beyond a token bucket of r calls per second and
// the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Return {
			if !limiter.Allow() {
				return message.Faulted("rate limit exceeded")
			}
			return next(ctx, call)
		}
	}
}
