package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/http"
)

type tokenKey struct{}

// TokenFrom returns the bearer token accepted by Auth.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// Auth requires a known bearer token on every path outside ExcludePaths.
func Auth(cfg config.AuthConfig) Middleware {
	realm := cfg.Realm
	if realm == "" {
		realm = "cyclone"
	}
	tokens := make([][]byte, len(cfg.Tokens))
	for i, t := range cfg.Tokens {
		tokens[i] = []byte(t)
	}

	challenge := func(msg, detail string) error {
		v := fmt.Sprintf("Bearer realm=%q", realm)
		if detail != "" {
			v += fmt.Sprintf(", error=%q", detail)
		}
		return http.NewError(http.StatusUnauthorized, msg).WithHeader("WWW-Authenticate", v)
	}

	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		for _, p := range cfg.ExcludePaths {
			if req.Path == p || strings.HasPrefix(req.Path, strings.TrimSuffix(p, "/")+"/") {
				return next(ctx, req)
			}
		}

		scheme, tok, ok := strings.Cut(req.Header.Get("Authorization"), " ")
		tok = strings.TrimSpace(tok)
		if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
			return nil, challenge("authentication required", "")
		}
		for _, want := range tokens {
			if subtle.ConstantTimeCompare([]byte(tok), want) == 1 {
				return next(context.WithValue(ctx, tokenKey{}, tok), req)
			}
		}
		return nil, challenge("invalid token", "invalid_token")
	}
}
