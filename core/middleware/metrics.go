package middleware

import (
	"context"
	"time"

	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/observability"
)

// Metrics records request counts, latency and in-flight requests.
func Metrics(m *observability.Monitor, classes []http.ErrorClass) Middleware {
	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		m.RequestStarted()
		defer m.RequestFinished()

		start := time.Now()
		resp, err := next(ctx, req)
		m.RecordRequest(string(req.Method), req.Route, statusOf(resp, err, classes), time.Since(start))
		return resp, err
	}
}
