package middleware

import (
	"context"
	"time"

	"ackrpc/message"
	"ackrpc/metrics"
)

func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			m.Requests.Inc()
			m.RequestDuration.Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
