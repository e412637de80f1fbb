package middleware

import (
	"context"
	"time"

	"ackrpc/message"

	"github.com/rs/zerolog"
)

// LoggingMiddleware logs every request at debug level through the logger stored
// in ctx (the connection handler puts one there carrying conn_id and peer).
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)

			ev := zerolog.Ctx(ctx).Debug()
			if !resp.Success {
				ev = zerolog.Ctx(ctx).Warn()
			}
			ev.Uint64("id", req.ID).
				Bool("success", resp.Success).
				Dur("duration", time.Since(start)).
				Msg("request handled")
			return resp
		}
	}
}
