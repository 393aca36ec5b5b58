package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/searchktools/cyclone/core/http"
)

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom returns the identifier assigned by RequestID, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID reuses a client supplied X-Request-ID or generates one, exposes
// it through the context and echoes it on the response.
func RequestID() Middleware {
	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		id := req.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, id)
		resp, err := next(ctx, req)
		return decorate(resp, err, func(h http.Header) {
			h.Set(HeaderRequestID, id)
		})
	}
}
