// Package middleware wraps RPC handlers in an onion of cross-cutting behaviour.
//
// The same HandlerFunc shape serves both directions: inbound, the innermost handler
// dispatches a Call to the local call target; outbound, it sends the Call to the peer.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"peer-rpc/message"
)

type HandlerFunc func(ctx context.Context, call *message.Call) *message.Return

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
