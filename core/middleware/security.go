package middleware

import (
	"context"

	"github.com/searchktools/cyclone/core/http"
)

// Security adds conservative browser hardening headers unless the handler
// already set them. HSTS is only sent when a proxy reports https.
func Security() Middleware {
	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		https := req.Header.Get("X-Forwarded-Proto") == "https"
		resp, err := next(ctx, req)
		return decorate(resp, err, func(h http.Header) {
			setDefault(h, "X-Content-Type-Options", "nosniff")
			setDefault(h, "X-Frame-Options", "DENY")
			setDefault(h, "Referrer-Policy", "strict-origin-when-cross-origin")
			setDefault(h, "X-XSS-Protection", "0")
			if https {
				setDefault(h, "Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
		})
	}
}
