package middleware

import (
	"context"
	"strings"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/http"
)

// CORS answers preflight requests from allowed origins and adds the
// access-control headers to every other response, including 404 and 405.
func CORS(cfg config.CORSConfig) Middleware {
	wildcard := false
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
		}
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := seconds(int(cfg.MaxAge.Seconds()))

	allowed := func(origin string) bool {
		if wildcard {
			return true
		}
		for _, o := range cfg.AllowOrigins {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
	// A wildcard without credentials can be answered with "*"; otherwise
	// the origin is reflected.
	originValue := func(origin string) string {
		if wildcard && !cfg.AllowCredentials {
			return "*"
		}
		return origin
	}

	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		origin := req.Header.Get("Origin")
		if origin == "" || !allowed(origin) {
			return next(ctx, req)
		}

		if req.Method == http.MethodOptions && req.Header.Has("Access-Control-Request-Method") {
			resp := http.NoContent()
			h := resp.Header
			h.Set("Access-Control-Allow-Origin", originValue(origin))
			h.Set("Access-Control-Allow-Methods", methods)
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			} else if reqHeaders := req.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			addVary(h, "Origin")
			return resp, nil
		}

		resp, err := next(ctx, req)
		return decorate(resp, err, func(h http.Header) {
			h.Set("Access-Control-Allow-Origin", originValue(origin))
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if expose != "" {
				h.Set("Access-Control-Expose-Headers", expose)
			}
			addVary(h, "Origin")
		})
	}
}
