package middleware

import (
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/observability"
)

// Deps are the collaborators built-in middleware may need.
type Deps struct {
	Log     zerolog.Logger
	Monitor *observability.Monitor
	Classes []http.ErrorClass
}

// FromConfig builds the built-in middleware named in cfg.Middleware, in
// order.
func FromConfig(cfg *config.Config, deps Deps) ([]Middleware, error) {
	mws := make([]Middleware, 0, len(cfg.Middleware))
	for _, name := range cfg.Middleware {
		switch name {
		case "request_id":
			mws = append(mws, RequestID())
		case "logger":
			mws = append(mws, Logger(deps.Log, deps.Classes))
		case "cors":
			mws = append(mws, CORS(cfg.CORS))
		case "security":
			mws = append(mws, Security())
		case "rate_limit":
			mws = append(mws, NewRateLimiter(cfg.RateLimit).Middleware())
		case "compression":
			mw, err := Compression(cfg.Compression)
			if err != nil {
				return nil, errors.Wrap(err, "compression middleware")
			}
			mws = append(mws, mw)
		case "auth":
			mws = append(mws, Auth(cfg.Auth))
		case "metrics":
			if deps.Monitor == nil {
				return nil, errors.New("metrics middleware requires metrics.enabled")
			}
			mws = append(mws, Metrics(deps.Monitor, deps.Classes))
		default:
			return nil, errors.Newf("unknown middleware %q", name)
		}
	}
	return mws, nil
}
