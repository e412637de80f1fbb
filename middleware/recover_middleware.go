package middleware

import (
	"context"
	"fmt"

	"ackrpc/message"

	"github.com/rs/zerolog"
)

// RecoverMiddleware converts a panic in the wrapped handler into a failed
// Response for the same ID, so the peer still gets one reply per request and
// the panic does not take the process down.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					zerolog.Ctx(ctx).Error().Uint64("id", req.ID).Interface("panic", r).Msg("handler panicked")
					resp = &message.Response{
						ID:      req.ID,
						Message: fmt.Sprintf("internal error: %v", r),
						Success: false,
					}
				}
			}()
			return next(ctx, req)
		}
	}
}
