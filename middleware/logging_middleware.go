package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"peer-rpc/message"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Return {
			start := time.Now()
			ret := next(ctx, call)
			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.Int("args", len(call.Args)),
				zap.Duration("duration", time.Since(start)),
			}
			if ret == nil || ret.IsSuccessful {
				log.Debug("rpc call", fields...)
				return ret
			}
			fields = append(fields, zap.String("error", ret.Error))
			if ret.Transport != "" {
				fields = append(fields, zap.String("transport", ret.Transport))
			}
			log.Warn("rpc call failed", fields...)
			return ret
		}
	}
}
