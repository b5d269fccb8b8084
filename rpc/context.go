package rpc

import "context"

// CallContext describes the call being dispatched. Methods whose first parameter is a
// context.Context receive it through CurrentCall.
type CallContext struct {
	Method     string
	Args       []any
	Connection *Connection
}

type callContextKey struct{}

func withCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CurrentCall returns the call a method was invoked for.
func CurrentCall(ctx context.Context) (*CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*CallContext)
	return cc, ok
}
