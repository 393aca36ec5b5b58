package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/cyclone/core/http"
)

// Logger writes one access log line per request.
func Logger(log zerolog.Logger, classes []http.ErrorClass) Middleware {
	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		status := statusOf(resp, err, classes)

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error().Err(err)
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev = ev.Str("method", string(req.Method)).
			Str("path", req.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("remote", req.RemoteAddr)
		if req.Route != "" {
			ev = ev.Str("route", req.Route)
		}
		if id := RequestIDFrom(ctx); id != "" {
			ev = ev.Str("request_id", id)
		}
		ev.Msg("request")
		return resp, err
	}
}
